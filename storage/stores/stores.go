// Package stores registers every built-in document store with the storage
// registry.
package stores

import (
	_ "github.com/drblury/serialbridge/storage/file"
	_ "github.com/drblury/serialbridge/storage/memory"
	_ "github.com/drblury/serialbridge/storage/mongo"
	_ "github.com/drblury/serialbridge/storage/pebble"
	_ "github.com/drblury/serialbridge/storage/postgres"
	_ "github.com/drblury/serialbridge/storage/sqlite"
)
