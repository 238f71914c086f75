// Package nats provides a NATS Core transport. Bridge topics become dotted
// subjects ("/topic/ccost" is published on "topic.ccost"); JetStream
// persistence is not used.
package nats

import (
	"context"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/serialbridge/transport"
)

const TransportName = "nats"

// ReconnectWait is the pause between reconnect attempts. The client retries
// forever so a broker restart does not end either side of the bridge.
var ReconnectWait = 2 * time.Second

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build connects a publisher and a subscriber to the same NATS server.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := cfg.GetNATSURL()
	if url == "" {
		url = nc.DefaultURL
	}
	marshaler := &nats.NATSMarshaler{}
	options := natsOptions(cfg)
	jsConfig := nats.JetStreamConfig{Disabled: true}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: options,
			Marshaler:   marshaler,
			JetStream:   jsConfig,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:         url,
			NatsOptions: options,
			Unmarshaler: marshaler,
			JetStream:   jsConfig,
		},
		logger,
	)
	if err != nil {
		_ = publisher.Close()
		return transport.Transport{}, err
	}

	return transport.WithTopicMapper(transport.Transport{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, Subject), nil
}

func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}

func natsOptions(cfg transport.Config) []nc.Option {
	opts := []nc.Option{
		nc.Name("serialbridge"),
		nc.MaxReconnects(-1),
		nc.ReconnectWait(ReconnectWait),
	}
	if user := cfg.GetBrokerUser(); user != "" {
		opts = append(opts, nc.UserInfo(user, cfg.GetBrokerPassword()))
	}
	return opts
}

// Subject maps a bridge topic to a NATS subject: slashes become dots and empty
// tokens are dropped.
func Subject(topic string) string {
	tokens := strings.FieldsFunc(topic, func(r rune) bool { return r == '/' || r == '.' || r == ' ' })
	return strings.Join(tokens, ".")
}
