// Package source reads raw lines from the device side of the bridge.
package source

import (
	"bufio"
	"errors"
	"io"
)

// LineSource yields one raw line per call, terminator included. ReadLine
// blocks until a line is available. Closing the source unblocks a pending
// ReadLine, which then returns an error.
type LineSource interface {
	ReadLine() ([]byte, error)
	Close() error
}

// Opener opens a fresh LineSource. The Reader calls it again after a failed
// read when reconnects are enabled.
type Opener func() (LineSource, error)

// lineReader splits a byte stream on '\n'.
type lineReader struct {
	r *bufio.Reader
	c io.Closer
}

func newLineReader(rc io.ReadCloser) *lineReader {
	return &lineReader{r: bufio.NewReader(rc), c: rc}
}

// ReadLine returns the next line with its terminator. A trailing partial line
// is returned on its own; the following call reports io.EOF.
func (l *lineReader) ReadLine() ([]byte, error) {
	line, err := l.r.ReadBytes('\n')
	if len(line) > 0 && (err == nil || errors.Is(err, io.EOF)) {
		return line, nil
	}
	return nil, err
}

func (l *lineReader) Close() error {
	if l.c == nil {
		return nil
	}
	return l.c.Close()
}

// NewLineSource adapts any stream, such as a pipe or socket.
func NewLineSource(rc io.ReadCloser) LineSource {
	return newLineReader(rc)
}
