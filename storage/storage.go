// Package storage defines the document store abstraction of the egress side.
// Each backend lives in its own sub-package and registers a Builder with the
// storage registry under its backend name.
package storage

import (
	"context"

	"github.com/drblury/serialbridge/internal/coerce"
	"github.com/drblury/serialbridge/internal/routing"
	"github.com/drblury/serialbridge/internal/runtime/logging"
)

// Store writes coerced documents to a destination. A write either persists
// the whole document or returns an error.
type Store interface {
	Write(ctx context.Context, dst routing.Destination, doc coerce.Document) error
	Close() error
}

// Builder is the function signature for creating a store from config.
type Builder func(ctx context.Context, cfg Config, log logging.ServiceLogger) (Store, error)

// Config provides the configuration values needed by stores.
type Config interface {
	// GetStoreBackend returns the registered backend name.
	GetStoreBackend() string
	// GetStoreURL returns the connection URL for networked backends.
	GetStoreURL() string
	// GetStorePath returns the directory or file for local backends.
	GetStorePath() string
}
