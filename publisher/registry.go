package publisher

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/livefeed/cfg"
	"github.com/maxpert/livefeed/notify"
	"github.com/maxpert/livefeed/record"
	"github.com/rs/zerolog/log"
)

// RegistryConfig configures the export registry
type RegistryConfig struct {
	Hub         *notify.Hub[record.Record] // Source of records
	NodeID      uint64                     // Stamped on every event
	SinkConfigs []cfg.SinkConfiguration    // From config
}

// Registry manages the lifecycle of all export workers
type Registry struct {
	hub     *notify.Hub[record.Record]
	nodeID  uint64
	workers []*Worker
	sinks   []Sink
	running atomic.Bool
	mu      sync.Mutex
}

// NewRegistry creates a new export registry
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.Hub == nil {
		return nil, fmt.Errorf("hub is required")
	}

	registry := &Registry{
		hub:     config.Hub,
		nodeID:  config.NodeID,
		workers: make([]*Worker, 0, len(config.SinkConfigs)),
	}

	for _, sinkCfg := range config.SinkConfigs {
		if err := registry.AddSink(sinkCfg); err != nil {
			registry.closeSinks()
			return nil, fmt.Errorf("failed to add sink %q: %w", sinkCfg.Name, err)
		}
	}

	log.Info().
		Int("workers", len(registry.workers)).
		Msg("Export registry initialized")

	return registry, nil
}

// AddSink creates and adds a new worker for the given sink configuration.
// A sink added to a running registry starts immediately.
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, w := range r.workers {
		if w.config.Name == config.Name {
			return fmt.Errorf("sink %q already registered", config.Name)
		}
	}

	trans, err := createTransformer(config.Format, config.Compression)
	if err != nil {
		return fmt.Errorf("failed to create transformer: %w", err)
	}

	filter, err := NewGlobFilter(config.FilterContent)
	if err != nil {
		return fmt.Errorf("failed to create filter: %w", err)
	}

	snk, err := createSink(config)
	if err != nil {
		return fmt.Errorf("failed to create sink: %w", err)
	}

	worker, err := NewWorker(WorkerConfig{
		Name:            config.Name,
		Type:            config.Type,
		Hub:             r.hub,
		NodeID:          r.nodeID,
		Sink:            snk,
		Transformer:     trans,
		Filter:          filter,
		TopicPrefix:     config.TopicPrefix,
		SinkTopic:       config.Topic,
		BufferSize:      config.BufferSize,
		RetryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: config.RetryMultiplier,
		MaxRetries:      config.MaxRetries,
	})
	if err != nil {
		snk.Close()
		return fmt.Errorf("failed to create worker: %w", err)
	}

	r.workers = append(r.workers, worker)
	r.sinks = append(r.sinks, snk)
	if r.running.Load() {
		worker.Start()
	}

	log.Info().
		Str("sink", config.Name).
		Str("type", config.Type).
		Str("sink_topic", worker.buildTopic()).
		Str("content_type", trans.ContentType()).
		Msg("Added export sink")

	return nil
}

// Start starts all workers
func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("registry already running")
	}

	log.Info().Int("workers", len(r.workers)).Msg("Starting export registry")

	for _, worker := range r.workers {
		worker.Start()
	}

	r.running.Store(true)
	return nil
}

// Stop stops all workers and closes their sinks
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Swap(false) {
		return // Already stopped
	}

	log.Info().Msg("Stopping export registry")

	for _, worker := range r.workers {
		worker.Stop()
	}
	r.closeSinks()

	log.Info().Msg("Export registry stopped")
}

// Stats returns counters for every worker, in registration order
func (r *Registry) Stats() []SinkStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SinkStats, 0, len(r.workers))
	for _, w := range r.workers {
		out = append(out, w.Stats())
	}
	return out
}

// Len returns the number of registered sinks
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

func (r *Registry) closeSinks() {
	for _, snk := range r.sinks {
		if err := snk.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close sink")
		}
	}
	r.sinks = nil
}

// createSink creates a sink based on the configuration
func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}

	return factory(config)
}

// SinkFactory is a function that creates a Sink from a configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

// TransformerFactory is a function that creates a Transformer
type TransformerFactory func() Transformer

var (
	sinkFactories        = make(map[string]SinkFactory)
	transformerFactories = make(map[string]TransformerFactory)
	factoryMu            sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// RegisterTransformer registers a transformer factory for a format
func RegisterTransformer(format string, factory TransformerFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	transformerFactories[format] = factory
}

// createTransformer creates a transformer for the format, compressed when
// compression is "zstd". An empty format selects "json".
func createTransformer(format, compression string) (Transformer, error) {
	if format == "" {
		format = "json"
	}

	factoryMu.RLock()
	factory, exists := transformerFactories[format]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown format: %s", format)
	}

	t := factory()
	switch compression {
	case "", "none":
		return t, nil
	case "zstd":
		return WithZstd(t), nil
	default:
		return nil, fmt.Errorf("unknown compression: %s", compression)
	}
}
