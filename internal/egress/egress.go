// Package egress runs the subscribing side of the bridge: every message on a
// bound topic is decoded, coerced, and written to the topic's destination.
package egress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/serialbridge/internal/coerce"
	"github.com/drblury/serialbridge/internal/routing"
	errspkg "github.com/drblury/serialbridge/internal/runtime/errors"
	"github.com/drblury/serialbridge/internal/runtime/ids"
	"github.com/drblury/serialbridge/internal/runtime/logging"
	"github.com/drblury/serialbridge/internal/runtime/metadata"
	"github.com/drblury/serialbridge/internal/runtime/metrics"
	"github.com/drblury/serialbridge/storage"
	"github.com/drblury/serialbridge/transport"
)

const tracerName = "github.com/drblury/serialbridge/internal/egress"

// Verbosity levels of the legacy -v flag.
const (
	VerbosePayloads     = 1
	VerboseDestinations = 2
)

// Options wires a Loop. Subscriber, Table and Store are required.
type Options struct {
	Subscriber message.Subscriber
	Table      *routing.Table
	Store      storage.Store
	Metrics    *metrics.Egress
	Logger     logging.ServiceLogger
	Tracer     trace.Tracer
	// TopicMapper is how the broker renames bound topics. It defaults to
	// the mapper Subscriber was wrapped with.
	TopicMapper transport.TopicMapper
	// Verbosity 1 logs every payload at info level, 2 also logs where each
	// document is written.
	Verbosity int
}

// Loop fans every subscription into one sequential worker.
type Loop struct {
	subscriber message.Subscriber
	table      *routing.Table
	topics     []string
	store      storage.Store
	metrics    *metrics.Egress
	logger     logging.ServiceLogger
	tracer     trace.Tracer
	verbosity  int
}

type delivery struct {
	topic string
	msg   *message.Message
}

func New(opts Options) (*Loop, error) {
	switch {
	case opts.Subscriber == nil:
		return nil, errspkg.ErrSubscriberRequired
	case opts.Table == nil || opts.Table.Len() == 0:
		return nil, errspkg.NewConfigError("subscribe.list", errspkg.ErrTopicRequired)
	case opts.Store == nil:
		return nil, errspkg.ErrStoreRequired
	}

	l := &Loop{
		subscriber: opts.Subscriber,
		table:      opts.Table,
		store:      opts.Store,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		tracer:     opts.Tracer,
		verbosity:  opts.Verbosity,
	}
	if l.metrics == nil {
		l.metrics = metrics.NewEgress(nil)
	}
	if l.logger == nil {
		l.logger = logging.NewNop()
	}
	if l.tracer == nil {
		l.tracer = otel.Tracer(tracerName)
	}

	mapper := opts.TopicMapper
	if mapper == nil {
		mapper = transport.MapperOf(opts.Subscriber)
	}
	topics, err := opts.Table.Subscriptions(mapper, l.logger)
	if err != nil {
		return nil, err
	}
	l.topics = topics
	return l, nil
}

// Run subscribes to every bound topic and handles messages until ctx is
// cancelled or a fatal error occurs. A subscription closing while ctx is
// still live is a *TransportError; a failed write is a *StoreError.
func (l *Loop) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	in := make(chan delivery)
	for _, topic := range l.topics {
		msgs, err := l.subscriber.Subscribe(ctx, topic)
		if err != nil {
			return &errspkg.TransportError{Op: "subscribe", Err: fmt.Errorf("%s: %w", topic, err)}
		}
		l.logger.Info("Subscribed", logging.LogFields{"topic": topic})

		wg.Add(1)
		go func(topic string, msgs <-chan *message.Message) {
			defer wg.Done()
			forward(ctx, topic, msgs, in)
		}(topic, msgs)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-in:
			if d.msg == nil {
				return &errspkg.TransportError{Op: "receive", Err: fmt.Errorf("subscription to %q closed", d.topic)}
			}
			err := l.Handle(ctx, originTopic(d.topic, d.msg), d.msg)
			switch {
			case err == nil, errspkg.IsRecoverable(err):
			case errspkg.IsFatal(err):
				return err
			default:
				l.logger.Error("Failed to handle message", err, logging.LogFields{"topic": d.topic})
			}
		}
	}
}

// originTopic returns the topic the transport reports msg was published to,
// or subscribed when it reports none.
func originTopic(subscribed string, msg *message.Message) string {
	if topic := msg.Metadata.Get(metadata.KeyTopic); topic != "" {
		return topic
	}
	return subscribed
}

// forward copies one subscription into the shared channel. A nil message
// reports that the subscription closed before ctx was done.
func forward(ctx context.Context, topic string, msgs <-chan *message.Message, in chan<- delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() == nil {
					select {
					case in <- delivery{topic: topic}:
					case <-ctx.Done():
					}
				}
				return
			}
			select {
			case in <- delivery{topic: topic, msg: msg}:
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}
}

// Handle routes, decodes, coerces and stores one message received on topic,
// then acknowledges it. Messages on unbound topics are acknowledged and
// dropped with ErrUnknownTopic. A failed write nacks the message and returns
// a *StoreError.
func (l *Loop) Handle(ctx context.Context, topic string, msg *message.Message) error {
	l.metrics.MessagesReceived.WithLabelValues(topic).Inc()
	if l.verbosity >= VerbosePayloads {
		fields := logging.LogFields{"topic": topic, "payload": string(msg.Payload)}
		if readAt, err := ids.Time(msg.UUID); err == nil {
			fields["age"] = time.Since(readAt).String()
		}
		if rule := metadata.FromWatermill(msg.Metadata).Rule(); rule != "" {
			fields["rule"] = rule
		}
		l.logger.Info("Message received", fields)
	}

	dst, ok := l.table.Resolve(topic)
	if !ok {
		l.metrics.UnknownTopic.WithLabelValues(topic).Inc()
		l.logger.Warn("No binding for topic, message dropped", logging.LogFields{"topic": topic, "message_uuid": msg.UUID})
		msg.Ack()
		return errspkg.ErrUnknownTopic
	}

	doc, ok := coerce.Decode(msg.Payload)
	if !ok {
		l.metrics.DecodeFallbacks.WithLabelValues(topic).Inc()
		l.logger.Warn("Payload stored under raw key", logging.LogFields{
			"topic": topic,
			"error": errspkg.ErrPayloadDecode.Error(),
		})
	}

	if l.verbosity >= VerboseDestinations {
		l.logger.Info("Writing document", logging.LogFields{"destination": dst.String()})
	}
	if err := l.write(ctx, dst, doc); err != nil {
		msg.Nack()
		return &errspkg.StoreError{Destination: dst.String(), Err: err}
	}
	msg.Ack()
	return nil
}

func (l *Loop) write(ctx context.Context, dst routing.Destination, doc coerce.Document) error {
	ctx, span := l.tracer.Start(ctx, "StoreWrite", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("db.namespace", dst.Store),
		attribute.String("db.collection.name", dst.Collection),
		attribute.Int("serialbridge.fields", len(doc)),
	)

	label := dst.String()
	start := time.Now()
	err := l.store.Write(ctx, dst, doc)
	l.metrics.StoreLatency.WithLabelValues(label).Observe(time.Since(start).Seconds())
	if err != nil {
		l.metrics.StoreFailures.WithLabelValues(label).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "store write failed")
		return err
	}
	l.metrics.DocumentsStored.WithLabelValues(label).Inc()
	return nil
}
