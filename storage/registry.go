package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/drblury/serialbridge/internal/runtime/logging"
)

// Registry maps backend names to builders.
type Registry struct {
	mu       sync.RWMutex
	builders map[string]Builder
}

// DefaultRegistry is the global store registry.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{builders: make(map[string]Builder)}
}

// Register adds a builder. The name must match the store.backend config value.
func (r *Registry) Register(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
}

// Build creates the store registered for the config's backend.
func (r *Registry) Build(ctx context.Context, cfg Config, log logging.ServiceLogger) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if log == nil {
		log = logging.NewNop()
	}

	name := cfg.GetStoreBackend()

	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown store backend: %q (registered: %v)", name, r.Names())
	}
	return builder(ctx, cfg, log.With(logging.LogFields{"store_backend": name}))
}

// Names returns the registered backend names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

// Register adds a builder to the default registry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// Build creates a store using the default registry.
func Build(ctx context.Context, cfg Config, log logging.ServiceLogger) (Store, error) {
	return DefaultRegistry.Build(ctx, cfg, log)
}
