// Package kafka provides a Kafka transport. Bridge topics are mapped onto
// legal Kafka topic names before they reach the broker.
package kafka

import (
	"context"
	"regexp"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/serialbridge/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

const (
	// DefaultBroker is used when no brokers are configured.
	DefaultBroker = "localhost:9092"
	// DefaultConsumerGroup is used when no consumer group is configured.
	DefaultConsumerGroup = "serialbridge"
)

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates a new Kafka transport.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := cfg.GetKafkaBrokers()
	if len(brokers) == 0 {
		brokers = []string{DefaultBroker}
	}
	consumerGroup := cfg.GetKafkaConsumerGroup()
	if consumerGroup == "" {
		consumerGroup = DefaultConsumerGroup
	}

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:   brokers,
			Marshaler: kafka.DefaultMarshaler{},
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscriber, err := SubscriberFactory(
		kafka.SubscriberConfig{
			Brokers:       brokers,
			Unmarshaler:   kafka.DefaultMarshaler{},
			ConsumerGroup: consumerGroup,
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
	}, TopicName), nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}

var invalidTopicChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// TopicName maps a bridge topic to a legal Kafka topic: "/topic/ccost"
// becomes "topic.ccost".
func TopicName(topic string) string {
	return strings.Trim(invalidTopicChars.ReplaceAllString(topic, "."), ".")
}
