// Package transport defines the broker abstraction used by both sides of the
// bridge. Each broker implementation lives in its own sub-package and registers
// a Builder with the transport registry under its pubsub system name.
package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Transport combines a publisher and subscriber pair produced by a builder.
// The ingest side only publishes and the egress side only subscribes, but every
// builder returns both so either side can be started from the same config.
type Transport struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Close closes the publisher and subscriber, returning the first error.
func (t Transport) Close() error {
	var firstErr error
	if t.Subscriber != nil {
		if err := t.Subscriber.Close(); err != nil {
			firstErr = err
		}
	}
	// Some builders return one value for both roles.
	if t.Publisher != nil && any(t.Publisher) != any(t.Subscriber) {
		if err := t.Publisher.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Builder is the function signature for creating a transport from config.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// Config provides the configuration values needed by transports.
// Transports read only the keys they need, so they never depend on the
// full config package.
type Config interface {
	// GetPubSubSystem returns the transport name.
	GetPubSubSystem() string

	// Generic broker endpoint and credentials (legacy [stomp] section).
	GetBrokerHost() string
	GetBrokerPort() int
	GetBrokerUser() string
	GetBrokerPassword() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// HTTP
	GetHTTPServerAddress() string
	GetHTTPPublisherURL() string

	// IO
	GetIOFile() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
