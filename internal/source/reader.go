package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/jpillora/backoff"

	errspkg "github.com/drblury/serialbridge/internal/runtime/errors"
	"github.com/drblury/serialbridge/internal/runtime/logging"
)

// Reconnect bounds how often a failed source is reopened in a row. MaxAttempts
// of zero disables reopening, so the first read error is fatal. The count
// restarts once a reopened source delivers a line.
type Reconnect struct {
	MaxAttempts int
	Min         time.Duration
	Max         time.Duration
	Factor      float64
}

func (r Reconnect) backoff() *backoff.Backoff {
	return &backoff.Backoff{
		Min:    r.Min,
		Max:    r.Max,
		Factor: r.Factor,
		Jitter: true,
	}
}

// Line is one delivery from a Reader. ReadAt is when ReadLine returned it.
// Err is set on the final delivery when the source failed.
type Line struct {
	Data   []byte
	ReadAt time.Time
	Err    error
}

// Reader runs the blocking reads of a LineSource in its own goroutine so
// callers can select on the line channel and ctx.Done together.
type Reader struct {
	open      Opener
	reconnect Reconnect
	logger    logging.ServiceLogger
}

func NewReader(open Opener, reconnect Reconnect, log logging.ServiceLogger) *Reader {
	if log == nil {
		log = logging.NewNop()
	}
	return &Reader{open: open, reconnect: reconnect, logger: log}
}

// Lines starts reading and returns the delivery channel. The channel is
// closed after end of input, after a delivery carrying a *SourceError, or
// once ctx is done. Cancelling ctx closes the open source, which unblocks
// the pending read.
func (r *Reader) Lines(ctx context.Context) <-chan Line {
	out := make(chan Line)
	go func() {
		defer close(out)
		if err := r.run(ctx, out); err != nil && ctx.Err() == nil {
			select {
			case out <- Line{Err: &errspkg.SourceError{Err: err}}:
			case <-ctx.Done():
			}
		}
	}()
	return out
}

func (r *Reader) run(ctx context.Context, out chan<- Line) error {
	if r.open == nil {
		return errspkg.ErrSourceRequired
	}

	b := r.reconnect.backoff()
	attempts := 0
	for {
		src, err := r.open()
		if err == nil {
			if attempts > 0 {
				r.logger.Info("Line source reopened", logging.LogFields{"attempt": attempts})
			}
			var delivered bool
			delivered, err = r.drain(ctx, src, out)
			if err == nil {
				return nil
			}
			if delivered {
				attempts = 0
				b.Reset()
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		attempts++
		if attempts > r.reconnect.MaxAttempts {
			if r.reconnect.MaxAttempts > 0 {
				return fmt.Errorf("giving up after %d reconnect attempts: %w", r.reconnect.MaxAttempts, err)
			}
			return err
		}

		wait := b.Duration()
		r.logger.Warn("Line source failed, reconnecting", logging.LogFields{
			"attempt": attempts,
			"max":     r.reconnect.MaxAttempts,
			"backoff": wait.String(),
			"error":   err.Error(),
		})
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// drain reads src until it fails or ends. End of input returns nil.
// delivered reports whether at least one line was read.
func (r *Reader) drain(ctx context.Context, src LineSource, out chan<- Line) (delivered bool, err error) {
	stop := context.AfterFunc(ctx, func() { _ = src.Close() })
	defer func() {
		if stop() {
			_ = src.Close()
		}
	}()

	for {
		line, err := src.ReadLine()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return delivered, nil
			}
			return delivered, err
		}
		select {
		case out <- Line{Data: line, ReadAt: time.Now()}:
			delivered = true
		case <-ctx.Done():
			return delivered, ctx.Err()
		}
	}
}
