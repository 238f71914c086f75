// Package pebble provides an embedded document store on cockroachdb/pebble.
// Documents are msgpack maps keyed by store/collection/<ulid>, so a prefix
// scan returns a collection in write order.
package pebble

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/drblury/serialbridge/internal/coerce"
	"github.com/drblury/serialbridge/internal/routing"
	"github.com/drblury/serialbridge/internal/runtime/ids"
	"github.com/drblury/serialbridge/internal/runtime/logging"
	"github.com/drblury/serialbridge/storage"
)

// BackendName is the name used to register this store.
const BackendName = "pebble"

// DefaultPath is used when no store path is configured.
const DefaultPath = "serialbridge.pebble"

var ErrClosed = errors.New("pebble store closed")

func init() {
	storage.Register(BackendName, Build)
}

// Build opens the database at the configured store path.
func Build(_ context.Context, cfg storage.Config, log logging.ServiceLogger) (storage.Store, error) {
	return Open(cfg.GetStorePath(), log)
}

// Store is a pebble-backed document store.
type Store struct {
	db     *pebble.DB
	path   string
	logger logging.ServiceLogger
	closed atomic.Bool
}

// Open creates or opens the database at path.
func Open(path string, log logging.ServiceLogger) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if log == nil {
		log = logging.NewNop()
	}

	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble store at %s: %w", path, err)
	}
	log.Debug("Opened pebble store", logging.LogFields{"path": path})
	return &Store{db: db, path: path, logger: log}, nil
}

func collectionPrefix(dst routing.Destination) []byte {
	return []byte(dst.Store + "/" + dst.Collection + "/")
}

// prefixUpperBound returns the smallest key greater than every key with prefix.
func prefixUpperBound(prefix []byte) []byte {
	end := bytes.Clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// encode writes doc as a msgpack map in entry order.
func encode(doc coerce.Document) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.EncodeMapLen(len(doc)); err != nil {
		return nil, err
	}
	for _, e := range doc {
		if err := enc.EncodeString(e.Key); err != nil {
			return nil, err
		}
		if err := enc.Encode(e.Value.Interface()); err != nil {
			return nil, fmt.Errorf("field %q: %w", e.Key, err)
		}
	}
	return buf.Bytes(), nil
}

func (s *Store) Write(ctx context.Context, dst routing.Destination, doc coerce.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrClosed
	}

	val, err := encode(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	key := append(collectionPrefix(dst), ids.CreateULID()...)
	if err := s.db.Set(key, val, pebble.Sync); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// Documents decodes every document written to dst, oldest first.
func (s *Store) Documents(dst routing.Destination) ([]map[string]any, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	prefix := collectionPrefix(dst)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var docs []map[string]any
	for iter.SeekGE(prefix); iter.Valid(); iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}
		var doc map[string]any
		if err := msgpack.Unmarshal(val, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", iter.Key(), err)
		}
		docs = append(docs, doc)
	}
	return docs, iter.Error()
}

func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}
