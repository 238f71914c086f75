// Package rabbitmq provides a RabbitMQ/AMQP transport. Each topic becomes a
// fanout exchange with a durable queue of the same name.
package rabbitmq

import (
	"context"
	"net"
	"net/url"
	"strconv"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/serialbridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// DefaultPort is the standard AMQP port.
const DefaultPort = 5672

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// Build creates a new RabbitMQ transport sharing one connection.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	uri := URI(cfg)

	amqpConfig := amqp.NewDurablePubSubConfig(
		uri,
		amqp.GenerateQueueNameTopicName,
	)

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI:   uri,
		TLSConfig: nil,
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(amqpConfig, logger, conn)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(amqpConfig, logger, conn)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}

// URI returns the configured AMQP URL, or one assembled from the broker
// host, port, and credentials when no URL is set.
func URI(cfg transport.Config) string {
	if u := cfg.GetRabbitMQURL(); u != "" {
		return u
	}

	host := cfg.GetBrokerHost()
	if host == "" {
		host = "localhost"
	}
	port := cfg.GetBrokerPort()
	if port == 0 {
		port = DefaultPort
	}

	u := url.URL{
		Scheme: "amqp",
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   "/",
	}
	if user := cfg.GetBrokerUser(); user != "" {
		u.User = url.UserPassword(user, cfg.GetBrokerPassword())
	}
	return u.String()
}
