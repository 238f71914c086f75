package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrPublisherRequired  = sterrors.New("serialbridge: publisher is required")
	ErrSubscriberRequired = sterrors.New("serialbridge: subscriber is required")
	ErrStoreRequired      = sterrors.New("serialbridge: document store is required")
	ErrTopicRequired      = sterrors.New("serialbridge: topic is required")
	ErrConfigRequired     = sterrors.New("serialbridge: configuration is required")
	ErrLoggerRequired     = sterrors.New("serialbridge: logger is required")
	ErrSourceRequired     = sterrors.New("serialbridge: line source is required")

	// Recoverable pipeline outcomes. They are counted and logged, never returned from a loop.
	ErrExcludedLine  = sterrors.New("serialbridge: line matched an exclusion pattern")
	ErrUnmatchedLine = sterrors.New("serialbridge: line did not match the extraction rule")
	ErrUnknownTopic  = sterrors.New("serialbridge: no binding for topic")
	ErrPayloadDecode = sterrors.New("serialbridge: payload is not a JSON object")

	// Load-time rule and binding failures. Always wrapped in a ConfigError.
	ErrRuleNotFound       = sterrors.New("serialbridge: extraction rule not found")
	ErrDuplicateRule      = sterrors.New("serialbridge: duplicate extraction rule")
	ErrGroupCountMismatch = sterrors.New("serialbridge: capture group count does not match field count")
	ErrDuplicateBinding   = sterrors.New("serialbridge: duplicate topic binding")
	ErrInvalidDestination = sterrors.New("serialbridge: destination must be store.collection")
)

// ConfigError reports a missing or invalid configuration value. It is fatal at startup.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("serialbridge: invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("serialbridge: invalid configuration %q: %v", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError wraps err as a ConfigError for key.
func NewConfigError(key string, err error) error {
	return &ConfigError{Key: key, Err: err}
}

// TransportError reports a lost or unreachable broker.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("serialbridge: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StoreError reports a failed write to the document store.
type StoreError struct {
	Destination string
	Err         error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("serialbridge: store %s: %v", e.Destination, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// SourceError reports a failure reading from the line source.
type SourceError struct {
	Err error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("serialbridge: line source: %v", e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err must terminate the process.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var (
		cfgErr   *ConfigError
		trErr    *TransportError
		storeErr *StoreError
		srcErr   *SourceError
	)
	switch {
	case sterrors.As(err, &cfgErr), sterrors.As(err, &trErr), sterrors.As(err, &storeErr), sterrors.As(err, &srcErr):
		return true
	}
	return false
}

// IsRecoverable reports whether err is one of the pipeline outcomes that only drop a unit of work.
func IsRecoverable(err error) bool {
	return sterrors.Is(err, ErrExcludedLine) ||
		sterrors.Is(err, ErrUnmatchedLine) ||
		sterrors.Is(err, ErrUnknownTopic) ||
		sterrors.Is(err, ErrPayloadDecode)
}
