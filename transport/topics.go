package transport

import (
	"context"

	"github.com/ThreeDotsLabs/watermill/message"
)

// TopicMapper rewrites a bridge topic into a name the broker accepts.
type TopicMapper func(topic string) string

// WithTopicMapper wraps both sides of t so every Publish and Subscribe call
// goes through mapper. Publishing to "a" and subscribing to "a" still meet.
func WithTopicMapper(t Transport, mapper TopicMapper) Transport {
	if mapper == nil {
		return t
	}
	return Transport{
		Publisher:  &mappedPublisher{Publisher: t.Publisher, mapper: mapper},
		Subscriber: &mappedSubscriber{Subscriber: t.Subscriber, mapper: mapper},
	}
}

type mappedPublisher struct {
	message.Publisher
	mapper TopicMapper
}

func (p *mappedPublisher) Publish(topic string, messages ...*message.Message) error {
	return p.Publisher.Publish(p.mapper(topic), messages...)
}

type mappedSubscriber struct {
	message.Subscriber
	mapper TopicMapper
}

func (s *mappedSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.Subscriber.Subscribe(ctx, s.mapper(topic))
}

// MapperOf returns the mapper s was wrapped with by WithTopicMapper, or nil.
func MapperOf(s message.Subscriber) TopicMapper {
	if m, ok := s.(*mappedSubscriber); ok {
		return m.mapper
	}
	return nil
}
