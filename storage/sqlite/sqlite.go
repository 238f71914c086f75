// Package sqlite provides a SQLite document store. Each store is its own
// database file under the store directory and each collection is a table.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/drblury/serialbridge/internal/coerce"
	"github.com/drblury/serialbridge/internal/routing"
	"github.com/drblury/serialbridge/internal/runtime/ids"
	"github.com/drblury/serialbridge/internal/runtime/logging"
	"github.com/drblury/serialbridge/storage"
)

// BackendName is the name used to register this store.
const BackendName = "sqlite"

// DefaultDir is used when no store path is configured.
const DefaultDir = "serialbridge-sqlite"

var ErrClosed = errors.New("sqlite store closed")

func init() {
	storage.Register(BackendName, Build)
}

// Build creates a store rooted at the configured store path.
func Build(_ context.Context, cfg storage.Config, log logging.ServiceLogger) (storage.Store, error) {
	return New(cfg.GetStorePath(), log)
}

// Store opens one database per store name on first use.
type Store struct {
	dir    string
	logger logging.ServiceLogger

	mu     sync.Mutex
	dbs    map[string]*sql.DB
	tables map[routing.Destination]struct{}
	closed bool
}

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
		dbs:    make(map[string]*sql.DB),
		tables: make(map[routing.Destination]struct{}),
	}, nil
}

// DatabasePath returns the file backing store.
func (s *Store) DatabasePath(store string) string {
	return filepath.Join(s.dir, store+".db")
}

func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (s *Store) database(store string) (*sql.DB, error) {
	if db, ok := s.dbs[store]; ok {
		return db, nil
	}
	if store == "" || store == "." || store == ".." || strings.ContainsAny(store, `/\`) {
		return nil, fmt.Errorf("invalid store name %q", store)
	}

	db, err := sql.Open("sqlite3", s.DatabasePath(store)+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s.dbs[store] = db
	return db, nil
}

func (s *Store) ensure(ctx context.Context, db *sql.DB, dst routing.Destination) error {
	if _, ok := s.tables[dst]; ok {
		return nil
	}
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	doc_id TEXT NOT NULL UNIQUE,
	document TEXT NOT NULL,
	created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`, quoteIdentifier(dst.Collection))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create table for %s: %w", dst, err)
	}
	s.tables[dst] = struct{}{}
	s.logger.Debug("Prepared collection table", logging.LogFields{"database": s.DatabasePath(dst.Store), "table": dst.Collection})
	return nil
}

func (s *Store) Write(ctx context.Context, dst routing.Destination, doc coerce.Document) error {
	payload, err := doc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	db, err := s.database(dst.Store)
	if err != nil {
		return err
	}
	if err := s.ensure(ctx, db, dst); err != nil {
		return err
	}

	stmt := fmt.Sprintf(`INSERT INTO %s (doc_id, document) VALUES (?, ?)`, quoteIdentifier(dst.Collection))
	if _, err := db.ExecContext(ctx, stmt, ids.CreateULID(), string(payload)); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", dst, err)
	}
	return nil
}

// Documents returns the raw JSON documents of dst, oldest first.
func (s *Store) Documents(ctx context.Context, dst routing.Destination) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	db, err := s.database(dst.Store)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`SELECT document FROM %s ORDER BY id`, quoteIdentifier(dst.Collection)))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []string
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for _, db := range s.dbs {
		if err := db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
