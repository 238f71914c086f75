// Package metrics holds the Prometheus collectors of both sides of the bridge.
package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every collector name.
const Namespace = "serialbridge"

func newCounter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

func newCounterVec(subsystem, name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

// collectorSet registers its collectors once.
type collectorSet struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	registered bool
	collectors []prometheus.Collector
}

// Register registers the collectors. Safe to call multiple times.
func (s *collectorSet) Register() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registered {
		return nil
	}
	for _, c := range s.collectors {
		if err := s.registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	s.registered = true
	return nil
}

// Ingest counts line outcomes of the publishing side.
type Ingest struct {
	collectorSet

	LinesRead       prometheus.Counter
	LinesExcluded   prometheus.Counter
	LinesUnmatched  prometheus.Counter
	RecordsSent     *prometheus.CounterVec
	PublishFailures prometheus.Counter
	RawLogFailures  prometheus.Counter
}

// NewIngest creates the ingest collectors. A nil registerer selects the
// Prometheus default registerer.
func NewIngest(registerer prometheus.Registerer) *Ingest {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	const sub = "ingest"
	m := &Ingest{
		LinesRead:       newCounter(sub, "lines_total", "Raw lines read from the line source"),
		LinesExcluded:   newCounter(sub, "lines_excluded_total", "Lines dropped by an exclusion pattern"),
		LinesUnmatched:  newCounter(sub, "lines_unmatched_total", "Lines the extraction rule did not match"),
		RecordsSent:     newCounterVec(sub, "records_published_total", "Records published to the transport", []string{"rule"}),
		PublishFailures: newCounter(sub, "publish_errors_total", "Publish attempts the transport rejected"),
		RawLogFailures:  newCounter(sub, "raw_log_errors_total", "Raw lines that could not be appended to the raw log"),
	}
	m.registerer = registerer
	m.collectors = []prometheus.Collector{
		m.LinesRead, m.LinesExcluded, m.LinesUnmatched, m.RecordsSent, m.PublishFailures, m.RawLogFailures,
	}
	return m
}

// Egress counts message outcomes of the subscribing side.
type Egress struct {
	collectorSet

	MessagesReceived *prometheus.CounterVec
	UnknownTopic     *prometheus.CounterVec
	DecodeFallbacks  *prometheus.CounterVec
	DocumentsStored  *prometheus.CounterVec
	StoreFailures    *prometheus.CounterVec
	StoreLatency     *prometheus.HistogramVec
}

// NewEgress creates the egress collectors. A nil registerer selects the
// Prometheus default registerer.
func NewEgress(registerer prometheus.Registerer) *Egress {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	const sub = "egress"
	m := &Egress{
		MessagesReceived: newCounterVec(sub, "messages_total", "Messages received from the transport", []string{"topic"}),
		UnknownTopic:     newCounterVec(sub, "unknown_topic_total", "Messages dropped because their topic has no binding", []string{"topic"}),
		DecodeFallbacks:  newCounterVec(sub, "decode_fallback_total", "Payloads stored under the raw key because they were not JSON objects", []string{"topic"}),
		DocumentsStored:  newCounterVec(sub, "documents_stored_total", "Documents written to the store", []string{"destination"}),
		StoreFailures:    newCounterVec(sub, "store_errors_total", "Document writes the store rejected", []string{"destination"}),
		StoreLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: sub,
			Name:      "store_write_seconds",
			Help:      "Duration of document writes",
			Buckets:   prometheus.DefBuckets,
		}, []string{"destination"}),
	}
	m.registerer = registerer
	m.collectors = []prometheus.Collector{
		m.MessagesReceived, m.UnknownTopic, m.DecodeFallbacks, m.DocumentsStored, m.StoreFailures, m.StoreLatency,
	}
	return m
}
