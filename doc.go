// Package serialbridge moves line-oriented readings from a serial device onto a
// Watermill transport and from there into a document store.
//
// The bridge runs as two independent commands that share one configuration
// file. The publish side reads lines from the device (or a file for replay),
// optionally keeps an hourly raw log of everything it reads, drops lines that
// match an exclusion pattern, and extracts named fields with a regular
// expression rule. Each extracted record is published to a single topic as a
// JSON object whose keys keep the rule's field order.
//
// The subscribe side listens on every topic listed in a bindings file. A
// binding maps a topic to a destination written as "store.collection". Each
// payload is decoded, its string values are coerced to integers or floats
// where they parse cleanly, and the resulting document is written to the
// bound destination.
//
// # Transports
//
// The transport is chosen with pubsub.system. STOMP is the default; Kafka,
// RabbitMQ, NATS, AWS SNS/SQS, HTTP, JSON-lines files, and in-process Go
// channels are available by importing transport/transports.
//
// # Stores
//
// Documents are written through the storage registry. MongoDB is the default
// backend; PostgreSQL, SQLite, Pebble, JSON-lines files, and an in-memory store
// are available by importing storage/stores.
//
// # Errors
//
// Configuration, transport, store, and source failures are returned as
// ConfigError, TransportError, StoreError, and SourceError and end the
// command. Per-line and per-message outcomes such as ErrUnmatchedLine or
// ErrUnknownTopic are logged and skipped; IsRecoverable reports them.
package serialbridge
