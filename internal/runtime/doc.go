/*
Package runtime wires the two halves of the bridge around a single Watermill
transport.

# Service

NewService validates the configuration and builds the transport named by
pubsub.system from the transport registry. The resulting Service runs one of
two loops:

  - Publish reads lines from the serial device (or a file), writes them to the
    hourly raw log when enabled, drops excluded lines, applies the extraction
    rule and publishes each record as an ordered JSON object.
  - Subscribe loads the topic bindings, opens the configured document store,
    and writes every received message to the store and collection bound to
    its topic after decoding and coercing the payload.

Both loops stop when the context is cancelled. Configuration, transport,
store, and source failures are returned as typed errors from the errors
sub-package; per-message outcomes such as an unmatched line or an unbound
topic are logged and skipped.

# Monitoring

When metrics.port is positive the Service serves Prometheus metrics on
/metrics and a JSON summary of its current mode, rule, and bindings on
/api/status.

# Sub-packages

  - config: settings, defaults, and INI/YAML/TOML loading through viper
  - errors: sentinel errors and the typed fatal error kinds
  - ids: ULID generation for message and document identifiers
  - jsoncodec: JSON encoding shared by records, documents, and rule files
  - logging: the ServiceLogger interface and its slog and Watermill adapters
  - metadata: message metadata keys set by the publisher
  - metrics: Prometheus collectors for both loops
*/
package runtime
