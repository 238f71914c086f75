package transport

// Capabilities describes what a broker guarantees to the bridge. The bridge is
// fire-and-forget at every stage, so these are informational: they are logged at
// startup and used to warn about configurations that cannot work.
type Capabilities struct {
	// Name is the registered transport name.
	Name string

	// SupportsAck indicates the broker observes the subscriber's acknowledgment.
	SupportsAck bool

	// SupportsNack indicates a negative acknowledgment triggers redelivery.
	SupportsNack bool

	// SupportsOrdering indicates messages on one topic arrive in publish order.
	SupportsOrdering bool

	// SupportsTracing indicates headers (and so trace context) survive the hop.
	SupportsTracing bool

	// SupportsReconnect indicates the client library reconnects on its own.
	SupportsReconnect bool

	// Durable indicates published messages survive a broker or subscriber restart.
	Durable bool

	// InProcess indicates publisher and subscriber must share one process.
	InProcess bool

	// MaxMessageSize is the maximum payload size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// CrossesProcesses reports whether the ingest and egress sides may run as
// separate processes on this transport.
func (c Capabilities) CrossesProcesses() bool {
	return !c.InProcess
}

// Predefined capability sets for the built-in transports.
var (
	// StompCapabilities for STOMP brokers (ActiveMQ, RabbitMQ STOMP plugin, Apollo).
	StompCapabilities = Capabilities{
		Name:             "stomp",
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: true,
		SupportsTracing:  true,
	}

	// ChannelCapabilities for the in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: true,
		InProcess:        true,
	}

	// KafkaCapabilities for Apache Kafka.
	KafkaCapabilities = Capabilities{
		Name:              "kafka",
		SupportsAck:       true,
		SupportsOrdering:  true,
		SupportsTracing:   true,
		SupportsReconnect: true,
		Durable:           true,
		MaxMessageSize:    1048576, // Default 1MB
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP.
	RabbitMQCapabilities = Capabilities{
		Name:              "rabbitmq",
		SupportsAck:       true,
		SupportsNack:      true,
		SupportsOrdering:  true,
		SupportsTracing:   true,
		SupportsReconnect: true,
		Durable:           true,
	}

	// NATSCapabilities for NATS Core.
	NATSCapabilities = Capabilities{
		Name:              "nats",
		SupportsTracing:   true,
		SupportsReconnect: true,
		MaxMessageSize:    1048576, // Default 1MB
	}

	// AWSCapabilities for AWS SNS/SQS.
	AWSCapabilities = Capabilities{
		Name:             "aws",
		SupportsAck:      true,
		SupportsNack:     true,
		SupportsOrdering: true,
		SupportsTracing:  true,
		Durable:          true,
		MaxMessageSize:   262144, // 256KB
	}

	// HTTPCapabilities for the HTTP push transport.
	HTTPCapabilities = Capabilities{
		Name:            "http",
		SupportsTracing: true,
	}

	// IOCapabilities for the JSON-lines file transport.
	IOCapabilities = Capabilities{
		Name:             "io",
		SupportsAck:      true,
		SupportsOrdering: true,
		SupportsTracing:  true,
		Durable:          true,
	}
)

// GetCapabilities returns the capabilities registered for a transport name.
// Returns a Capabilities value carrying only the name if the transport is unknown.
func GetCapabilities(transportName string) Capabilities {
	return DefaultRegistry.GetCapabilities(transportName)
}
