package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/serialbridge/internal/egress"
	"github.com/drblury/serialbridge/internal/ingest"
	"github.com/drblury/serialbridge/internal/pipeline"
	"github.com/drblury/serialbridge/internal/routing"
	configpkg "github.com/drblury/serialbridge/internal/runtime/config"
	errspkg "github.com/drblury/serialbridge/internal/runtime/errors"
	loggingpkg "github.com/drblury/serialbridge/internal/runtime/logging"
	"github.com/drblury/serialbridge/internal/runtime/metrics"
	"github.com/drblury/serialbridge/internal/source"
	"github.com/drblury/serialbridge/storage"
	"github.com/drblury/serialbridge/transport"
)

// ShutdownTimeout bounds how long Close waits for the HTTP servers.
var ShutdownTimeout = 5 * time.Second

// ServiceDependencies holds the optional collaborators of a Service. Leave
// fields nil to use the defaults.
type ServiceDependencies struct {
	Transports *transport.Registry
	Stores     *storage.Registry
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	// LineOpener replaces the configured device as the ingest line source.
	LineOpener source.Opener
}

// Service owns the transport of one bridge process and runs either the
// ingest or the egress side on it.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	deps      ServiceDependencies
	transport transport.Transport

	httpServers   map[int]*http.ServeMux
	servers       []*http.Server
	httpServersMu sync.Mutex

	status   Status
	statusMu sync.RWMutex

	closeOnce sync.Once
	closeErr  error
}

// NewService validates conf and connects the configured transport.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if err := configpkg.ValidateConfig(conf); err != nil {
		return nil, err
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if deps.Transports == nil {
		deps.Transports = transport.DefaultRegistry
	}
	if deps.Stores == nil {
		deps.Stores = storage.DefaultRegistry
	}
	if deps.Registerer == nil {
		deps.Registerer = prometheus.DefaultRegisterer
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	log.Info("Creating bridge service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"config":        conf.String(),
	})

	tr, err := deps.Transports.Build(ctx, conf, loggingpkg.NewWatermillAdapter(log))
	if err != nil {
		return nil, &errspkg.TransportError{Op: "connect", Err: err}
	}

	caps := deps.Transports.GetCapabilities(conf.PubSubSystem)
	if caps.InProcess {
		log.Warn("Transport only reaches subscribers in this process", loggingpkg.LogFields{"pubsub_system": conf.PubSubSystem})
	}
	if !caps.SupportsReliableDelivery() {
		log.Debug("Transport does not redeliver rejected messages", loggingpkg.LogFields{"pubsub_system": conf.PubSubSystem})
	}

	return &Service{
		Conf:      conf,
		Logger:    log,
		deps:      deps,
		transport: tr,
		status: Status{
			PubSubSystem: conf.PubSubSystem,
			Capabilities: caps,
		},
	}, nil
}

// Publish runs the ingest loop until the line source ends, ctx is
// cancelled, or a fatal error occurs.
func (s *Service) Publish(ctx context.Context) error {
	if err := s.Conf.ValidateIngest(); err != nil {
		return err
	}
	if s.transport.Publisher == nil {
		return errspkg.ErrPublisherRequired
	}

	rule, exclusions, err := s.loadRule()
	if err != nil {
		return err
	}
	filter, err := pipeline.NewExclusionFilter(exclusions, s.Logger)
	if err != nil {
		return err
	}

	var rawLog *source.RawLog
	if s.Conf.RawLog {
		rawLog = source.NewRawLog(s.Conf.RawLogDir, s.Logger)
		defer rawLog.Close()
	}

	m := metrics.NewIngest(s.deps.Registerer)
	if err := m.Register(); err != nil {
		return fmt.Errorf("failed to register ingest metrics: %w", err)
	}

	loop, err := ingest.New(ingest.Options{
		Lines:     source.NewReader(s.lineOpener(), s.reconnect(), s.Logger),
		RawLog:    rawLog,
		Filter:    filter,
		Chain:     pipeline.ChainForRule(rule),
		RuleName:  rule.Name,
		Publisher: s.transport.Publisher,
		Topic:     s.Conf.PublishTopic,
		Metrics:   m,
		Logger:    s.Logger,
	})
	if err != nil {
		return err
	}

	s.setStatus(func(st *Status) {
		st.Mode = "publish"
		st.Topic = s.Conf.PublishTopic
		st.Rule = rule.Name
		st.Fields = rule.Fields
		st.Exclusions = filter.Patterns()
	})
	s.startMonitoring()
	return loop.Run(ctx)
}

// Subscribe runs the egress loop until ctx is cancelled or a fatal error
// occurs.
func (s *Service) Subscribe(ctx context.Context) error {
	if err := s.Conf.ValidateEgress(); err != nil {
		return err
	}
	if s.transport.Subscriber == nil {
		return errspkg.ErrSubscriberRequired
	}

	table, err := routing.LoadFile(s.Conf.BindingsFile, routing.DuplicatePolicy(s.Conf.DuplicateBindings), s.Logger)
	if err != nil {
		return err
	}

	store, err := s.deps.Stores.Build(ctx, s.Conf, s.Logger)
	if err != nil {
		return &errspkg.StoreError{Destination: s.Conf.StoreBackend, Err: err}
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			s.Logger.Error("Failed to close store", cerr, nil)
		}
	}()

	m := metrics.NewEgress(s.deps.Registerer)
	if err := m.Register(); err != nil {
		return fmt.Errorf("failed to register egress metrics: %w", err)
	}

	loop, err := egress.New(egress.Options{
		Subscriber: s.transport.Subscriber,
		Table:      table,
		Store:      store,
		Metrics:    m,
		Logger:     s.Logger,
		Verbosity:  s.Conf.Verbosity,
	})
	if err != nil {
		return err
	}

	bindings := make(map[string]string, table.Len())
	for _, topic := range table.Topics() {
		dst, _ := table.Resolve(topic)
		bindings[topic] = dst.String()
	}
	s.setStatus(func(st *Status) {
		st.Mode = "subscribe"
		st.Bindings = bindings
		st.StoreBackend = s.Conf.StoreBackend
	})
	s.startMonitoring()
	return loop.Run(ctx)
}

// loadRule returns the configured extraction rule and the exclusion patterns
// to use with it. Without a rule file the built-in rule and its exclusions
// apply; configured patterns always take precedence.
func (s *Service) loadRule() (*pipeline.ExtractionRule, []string, error) {
	var (
		rule       *pipeline.ExtractionRule
		exclusions []string
		err        error
	)
	if s.Conf.RulesFile == "" {
		rule, err = pipeline.SelectRule(pipeline.BuiltinRules(), s.Conf.RuleName)
		exclusions = pipeline.BuiltinExclusions()
	} else {
		rule, err = pipeline.LoadRuleFile(s.Conf.RulesFile, s.Conf.RuleName)
	}
	if err != nil {
		return nil, nil, err
	}
	if len(s.Conf.ExcludePatterns) > 0 {
		exclusions = s.Conf.ExcludePatterns
	}
	return rule, exclusions, nil
}

func (s *Service) lineOpener() source.Opener {
	if s.deps.LineOpener != nil {
		return s.deps.LineOpener
	}
	if s.Conf.SourceKind == configpkg.SourceFile {
		return source.FileOpener(s.Conf.DevicePath)
	}
	return source.SerialOpener(source.SerialConfig{Path: s.Conf.DevicePath, BaudRate: s.Conf.DeviceBaud})
}

func (s *Service) reconnect() source.Reconnect {
	return source.Reconnect{
		MaxAttempts: s.Conf.ReconnectAttempts,
		Min:         s.Conf.ReconnectMin,
		Max:         s.Conf.ReconnectMax,
		Factor:      s.Conf.ReconnectFactor,
	}
}

// startMonitoring exposes /metrics and /api/status when a metrics port is set.
func (s *Service) startMonitoring() {
	port := s.Conf.MetricsPort
	if port <= 0 {
		return
	}
	s.RegisterHTTPHandler(port, "/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	s.RegisterHTTPHandler(port, "/api/status", http.HandlerFunc(s.handleGetStatus))
	s.startHTTPServers()
}

func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers() {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		addr := fmt.Sprintf(":%d", port)
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		s.servers = append(s.servers, srv)
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": addr})
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": addr})
			}
		}()
	}
	s.httpServers = nil
}

// Close stops the HTTP servers and closes the transport. It is safe to call
// more than once.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		s.httpServersMu.Lock()
		servers := s.servers
		s.servers = nil
		s.httpServersMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if err := s.transport.Close(); err != nil {
			errs = append(errs, &errspkg.TransportError{Op: "close", Err: err})
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
