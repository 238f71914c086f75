// Package ingest runs the publishing side of the bridge: it reads raw lines,
// drops excluded ones, extracts a record from the rest, and publishes the
// record as compact JSON.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drblury/serialbridge/internal/pipeline"
	errspkg "github.com/drblury/serialbridge/internal/runtime/errors"
	"github.com/drblury/serialbridge/internal/runtime/ids"
	"github.com/drblury/serialbridge/internal/runtime/logging"
	"github.com/drblury/serialbridge/internal/runtime/metadata"
	"github.com/drblury/serialbridge/internal/runtime/metrics"
	"github.com/drblury/serialbridge/internal/source"
)

const tracerName = "github.com/drblury/serialbridge/internal/ingest"

// Options wires a Loop. Lines, Chain, Publisher and Topic are required.
type Options struct {
	Lines     *source.Reader
	RawLog    *source.RawLog
	Filter    *pipeline.ExclusionFilter
	Chain     *pipeline.Chain
	RuleName  string
	Publisher message.Publisher
	Topic     string
	Metrics   *metrics.Ingest
	Logger    logging.ServiceLogger
	Tracer    trace.Tracer
}

// Loop is the single sequential ingest worker.
type Loop struct {
	lines     *source.Reader
	rawLog    *source.RawLog
	filter    *pipeline.ExclusionFilter
	chain     *pipeline.Chain
	rule      string
	publisher message.Publisher
	topic     string
	metrics   *metrics.Ingest
	logger    logging.ServiceLogger
	tracer    trace.Tracer
}

func New(opts Options) (*Loop, error) {
	switch {
	case opts.Lines == nil:
		return nil, errspkg.ErrSourceRequired
	case opts.Chain == nil:
		return nil, errspkg.NewConfigError("rule", errspkg.ErrRuleNotFound)
	case opts.Publisher == nil:
		return nil, errspkg.ErrPublisherRequired
	case opts.Topic == "":
		return nil, errspkg.ErrTopicRequired
	}

	l := &Loop{
		lines:     opts.Lines,
		rawLog:    opts.RawLog,
		filter:    opts.Filter,
		chain:     opts.Chain,
		rule:      opts.RuleName,
		publisher: opts.Publisher,
		topic:     opts.Topic,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		tracer:    opts.Tracer,
	}
	if l.metrics == nil {
		l.metrics = metrics.NewIngest(nil)
	}
	if l.logger == nil {
		l.logger = logging.NewNop()
	}
	if l.tracer == nil {
		l.tracer = otel.Tracer(tracerName)
	}
	l.logger = l.logger.With(logging.LogFields{"topic": l.topic, "rule": l.rule})
	return l, nil
}

// Run processes lines until the source ends, ctx is cancelled, or a fatal
// error occurs. Excluded and unmatched lines never stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("Ingest loop started", nil)
	defer l.logger.Info("Ingest loop stopped", nil)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := l.lines.Lines(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if line.Err != nil {
				return line.Err
			}
			err := l.ProcessAt(ctx, string(line.Data), line.ReadAt)
			switch {
			case err == nil, errspkg.IsRecoverable(err):
			case errspkg.IsFatal(err):
				return err
			default:
				l.logger.Error("Failed to process line", err, nil)
			}
		}
	}
}

// Process handles one raw line read now. It returns ErrExcludedLine or
// ErrUnmatchedLine for dropped lines and a *TransportError when the publish
// fails.
func (l *Loop) Process(ctx context.Context, line string) error {
	return l.ProcessAt(ctx, line, time.Now())
}

// ProcessAt is Process for a line read at readAt, the time the published
// message id carries.
func (l *Loop) ProcessAt(ctx context.Context, line string, readAt time.Time) error {
	l.metrics.LinesRead.Inc()

	if l.rawLog != nil {
		if err := l.rawLog.Write([]byte(line)); err != nil {
			l.metrics.RawLogFailures.Inc()
			l.logger.Error("Failed to write raw log", err, nil)
		}
	}

	if l.filter != nil && l.filter.Matches(line) {
		l.metrics.LinesExcluded.Inc()
		return errspkg.ErrExcludedLine
	}

	rec, ok := l.chain.Apply(line)
	if !ok {
		l.metrics.LinesUnmatched.Inc()
		l.logger.Debug("Line did not match", logging.LogFields{"line": line})
		return errspkg.ErrUnmatchedLine
	}

	payload, err := rec.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	return l.publish(ctx, payload, readAt)
}

// publish sends one record. The message id is a ULID stamped with readAt.
func (l *Loop) publish(ctx context.Context, payload []byte, readAt time.Time) error {
	msg := message.NewMessage(ids.At(readAt), payload)

	ctx, span := l.tracer.Start(ctx, "Publish", trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()
	span.SetAttributes(
		attribute.String("messaging.destination.name", l.topic),
		attribute.String("message.uuid", msg.UUID),
		attribute.String("serialbridge.rule", l.rule),
	)

	msg.Metadata = metadata.ForRecord(l.rule, l.topic, readAt).Watermill()
	msg.SetContext(ctx)

	if err := l.publisher.Publish(l.topic, msg); err != nil {
		l.metrics.PublishFailures.Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return &errspkg.TransportError{Op: "publish", Err: err}
	}

	l.metrics.RecordsSent.WithLabelValues(l.rule).Inc()
	l.logger.Debug("Record published", logging.LogFields{"message_uuid": msg.UUID, "payload": string(payload)})
	return nil
}
