// Package postgres provides a PostgreSQL document store. Each store maps to a
// schema and each collection to a table holding one JSONB document per row.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/drblury/serialbridge/internal/coerce"
	"github.com/drblury/serialbridge/internal/routing"
	"github.com/drblury/serialbridge/internal/runtime/ids"
	"github.com/drblury/serialbridge/internal/runtime/logging"
	"github.com/drblury/serialbridge/storage"
)

// BackendName is the name used to register this store.
const BackendName = "postgres"

var ErrClosed = errors.New("postgres store closed")

func init() {
	storage.Register(BackendName, Build)
	storage.Register("postgresql", Build)
}

// Build opens the database named by the store URL.
func Build(ctx context.Context, cfg storage.Config, log logging.ServiceLogger) (storage.Store, error) {
	return New(ctx, Config{ConnectionString: cfg.GetStoreURL()}, log)
}

// Config holds PostgreSQL-specific configuration.
type Config struct {
	// ConnectionString is the PostgreSQL connection string.
	ConnectionString string
	// MaxOpenConns sets the maximum number of open connections to the database.
	MaxOpenConns int
	// MaxIdleConns sets the maximum number of idle connections.
	MaxIdleConns int
}

func (c Config) withDefaults() Config {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 4
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 2
	}
	return c
}

// Opener opens the database handle. Tests replace it.
var Opener = func(connStr string) (*sql.DB, error) {
	return sql.Open("postgres", connStr)
}

// Store writes documents with INSERT statements, creating schemas and tables
// on first use.
type Store struct {
	db     *sql.DB
	logger logging.ServiceLogger

	mu     sync.Mutex
	ready  map[routing.Destination]struct{}
	closed bool
}

// New opens and pings the database.
func New(ctx context.Context, cfg Config, log logging.ServiceLogger) (*Store, error) {
	if cfg.ConnectionString == "" {
		return nil, fmt.Errorf("PostgreSQL connection string is required")
	}
	if log == nil {
		log = logging.NewNop()
	}
	cfg = cfg.withDefaults()

	db, err := Opener(cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	return &Store{
		db:     db,
		logger: log,
		ready:  make(map[routing.Destination]struct{}),
	}, nil
}

// tableName returns the quoted schema-qualified table for dst.
func tableName(dst routing.Destination) string {
	return pq.QuoteIdentifier(dst.Store) + "." + pq.QuoteIdentifier(dst.Collection)
}

func createStatements(dst routing.Destination) []string {
	return []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, pq.QuoteIdentifier(dst.Store)),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	doc_id TEXT NOT NULL UNIQUE,
	document JSONB NOT NULL,
	created_at TIMESTAMPTZ DEFAULT NOW()
)`, tableName(dst)),
	}
}

func insertStatement(dst routing.Destination) string {
	return fmt.Sprintf(`INSERT INTO %s (doc_id, document) VALUES ($1, $2)`, tableName(dst))
}

func (s *Store) ensure(ctx context.Context, dst routing.Destination) error {
	if _, ok := s.ready[dst]; ok {
		return nil
	}
	for _, stmt := range createStatements(dst) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create %s: %w", dst, err)
		}
	}
	s.ready[dst] = struct{}{}
	s.logger.Debug("Prepared collection table", logging.LogFields{"table": tableName(dst)})
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
	if err := s.ensure(ctx, dst); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, insertStatement(dst), ids.CreateULID(), string(payload)); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", dst, err)
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
