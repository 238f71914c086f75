package source

import (
	"fmt"
	"io"
	"os"
)

// Stdin is the file path that reads standard input.
const Stdin = "-"

// OpenFile opens a regular file or FIFO as a line source. Reading stops at
// end of file.
func OpenFile(path string) (LineSource, error) {
	if path == Stdin {
		return newLineReader(io.NopCloser(os.Stdin)), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open line file %s: %w", path, err)
	}
	return newLineReader(f), nil
}

// FileOpener returns an Opener for path.
func FileOpener(path string) Opener {
	return func() (LineSource, error) { return OpenFile(path) }
}
