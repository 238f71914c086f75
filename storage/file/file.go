// Package file provides a JSON-lines document store on the local filesystem.
// Each destination is written to <dir>/<store>/<collection>.jsonl.
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/drblury/serialbridge/internal/coerce"
	"github.com/drblury/serialbridge/internal/routing"
	"github.com/drblury/serialbridge/internal/runtime/logging"
	"github.com/drblury/serialbridge/storage"
)

// BackendName is the name used to register this store.
const BackendName = "file"

// DefaultDir is used when no store path is configured.
const DefaultDir = "data"

var ErrClosed = errors.New("file store closed")

func init() {
	storage.Register(BackendName, Build)
}

// Build creates a store rooted at the configured store path.
func Build(_ context.Context, cfg storage.Config, log logging.ServiceLogger) (storage.Store, error) {
	return New(cfg.GetStorePath(), log)
}

// Store appends one JSON object per line. Files stay open until Close.
type Store struct {
	dir    string
	logger logging.ServiceLogger

	mu     sync.Mutex
	files  map[routing.Destination]*os.File
	closed bool
}

// New creates the root directory if needed.
func New(dir string, log logging.ServiceLogger) (*Store, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if log == nil {
		log = logging.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}
	return &Store{
		dir:    dir,
		logger: log,
		files:  make(map[routing.Destination]*os.File),
	}, nil
}

// Path returns the file that documents for dst are appended to.
func (s *Store) Path(dst routing.Destination) string {
	return filepath.Join(s.dir, dst.Store, dst.Collection+".jsonl")
}

func (s *Store) Write(ctx context.Context, dst routing.Destination, doc coerce.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validName(dst.Store); err != nil {
		return err
	}
	if err := validName(dst.Collection); err != nil {
		return err
	}

	line, err := doc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	f, err := s.open(dst)
	if err != nil {
		return err
	}
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("failed to append to %s: %w", f.Name(), err)
	}
	return nil
}

func (s *Store) open(dst routing.Destination) (*os.File, error) {
	if f, ok := s.files[dst]; ok {
		return f, nil
	}
	path := s.Path(dst)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	s.logger.Debug("Opened collection file", logging.LogFields{"path": path})
	s.files[dst] = f
	return f, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for _, f := range s.files {
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.files = nil
	return errors.Join(errs...)
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("invalid path component %q", name)
	}
	return nil
}
