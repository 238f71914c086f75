// Package memory provides an in-process document store.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/drblury/serialbridge/internal/coerce"
	"github.com/drblury/serialbridge/internal/routing"
	"github.com/drblury/serialbridge/internal/runtime/logging"
	"github.com/drblury/serialbridge/storage"
)

// BackendName is the name used to register this store.
const BackendName = "memory"

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("memory store closed")

func init() {
	storage.Register(BackendName, Build)
}

// Build creates an empty store. The config is ignored.
func Build(_ context.Context, _ storage.Config, _ logging.ServiceLogger) (storage.Store, error) {
	return New(), nil
}

// Store keeps every written document in insertion order per destination.
type Store struct {
	mu       sync.RWMutex
	docs     map[routing.Destination][]coerce.Document
	order    []routing.Destination
	failWith error
	closed   bool
}

func New() *Store {
	return &Store{docs: make(map[routing.Destination][]coerce.Document)}
}

func (s *Store) Write(ctx context.Context, dst routing.Destination, doc coerce.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.failWith != nil {
		return s.failWith
	}
	if _, ok := s.docs[dst]; !ok {
		s.order = append(s.order, dst)
	}
	s.docs[dst] = append(s.docs[dst], append(coerce.Document(nil), doc...))
	return nil
}

// FailWith makes every following write return err. A nil err restores writes.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// Documents returns the documents written to dst.
func (s *Store) Documents(dst routing.Destination) []coerce.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]coerce.Document(nil), s.docs[dst]...)
}

// Destinations returns every destination written to, in first-write order.
func (s *Store) Destinations() []routing.Destination {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]routing.Destination(nil), s.order...)
}

// Count returns the total number of stored documents.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, docs := range s.docs {
		n += len(docs)
	}
	return n
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
