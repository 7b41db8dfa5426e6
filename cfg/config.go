package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// ServerConfiguration controls the HTTP endpoint that carries both transports
type ServerConfiguration struct {
	BindAddress         string   `toml:"bind_address"`
	Port                int      `toml:"port"`
	Path                string   `toml:"path"` // GraphQL endpoint path, shared by both transports
	ReadTimeoutMS       int      `toml:"read_timeout_ms"`
	WriteTimeoutMS      int      `toml:"write_timeout_ms"`
	ShutdownTimeoutMS   int      `toml:"shutdown_timeout_ms"`
	EnableCORS          bool     `toml:"enable_cors"`
	CORSOrigins         []string `toml:"cors_origins"`
	KeepAliveIntervalMS int      `toml:"keepalive_interval_ms"` // 0 disables "ka" messages
	InitTimeoutMS       int      `toml:"init_timeout_ms"`       // Deadline for connection_init, 0 disables
	MaxMessageBytes     int64    `toml:"max_message_bytes"`     // Inbound websocket frame limit
	OutboundQueueSize   int      `toml:"outbound_queue_size"`   // Per-connection write queue
}

// HubConfiguration controls the broadcast hub
type HubConfiguration struct {
	ListenerBufferSize int `toml:"listener_buffer_size"` // Queue length before a listener is dropped
}

// StoreConfiguration controls the record store
type StoreConfiguration struct {
	MaxContentLength int `toml:"max_content_length"`
}

// QueryConfiguration controls GraphQL document handling
type QueryConfiguration struct {
	CacheSize int `toml:"cache_size"` // Parsed document LRU size
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled           bool   `toml:"enabled"`
	Path              string `toml:"path"`
	CollectIntervalMS int    `toml:"collect_interval_ms"`
}

// AdminConfiguration controls the /admin inspection endpoints
type AdminConfiguration struct {
	Enabled bool   `toml:"enabled"`
	Secret  string `toml:"secret"` // Empty disables authentication
}

// SinkConfiguration describes one record export destination
type SinkConfiguration struct {
	Name            string   `toml:"name"`
	Type            string   `toml:"type"`        // "nats" or "kafka"
	Format          string   `toml:"format"`      // "json" or "msgpack"
	Compression     string   `toml:"compression"` // "none" or "zstd"
	TopicPrefix     string   `toml:"topic_prefix"`
	Topic           string   `toml:"topic"`          // Fixed sink topic, overrides topic_prefix
	FilterContent   []string `toml:"filter_content"` // Glob patterns, empty = all
	NatsURL         string   `toml:"nats_url"`
	Brokers         []string `toml:"brokers"`
	BatchSize       int      `toml:"batch_size"`
	RequiredAcks    string   `toml:"required_acks"` // Kafka: "all" (default), "one" or "none"
	BufferSize      int      `toml:"buffer_size"` // Hub queue length for this sink
	RetryInitialMS  int      `toml:"retry_initial_ms"`
	RetryMaxMS      int      `toml:"retry_max_ms"`
	RetryMultiplier float64  `toml:"retry_multiplier"`
	MaxRetries      int      `toml:"max_retries"`
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID uint64 `toml:"node_id"`

	Server     ServerConfiguration     `toml:"server"`
	Hub        HubConfiguration        `toml:"hub"`
	Store      StoreConfiguration      `toml:"store"`
	Query      QueryConfiguration      `toml:"query"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Admin      AdminConfiguration      `toml:"admin"`
	Sinks      []SinkConfiguration     `toml:"sinks"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	NodeIDFlag     = flag.Uint64("node-id", 0, "Node ID (overrides config, 0=auto)")
	PortFlag       = flag.Int("port", 0, "HTTP port (overrides config)")
	VerboseFlag    = flag.Bool("verbose", false, "Enable debug logging (overrides config)")
)

// Default returns a configuration populated with defaults.
func Default() *Configuration {
	return &Configuration{
		NodeID: 0, // Auto-generate

		Server: ServerConfiguration{
			BindAddress:         "0.0.0.0",
			Port:                4000,
			Path:                "/graphql",
			ReadTimeoutMS:       15000,
			WriteTimeoutMS:      15000,
			ShutdownTimeoutMS:   10000,
			EnableCORS:          false,
			CORSOrigins:         []string{"*"},
			KeepAliveIntervalMS: 10000,
			InitTimeoutMS:       10000,
			MaxMessageBytes:     64 << 10,
			OutboundQueueSize:   64,
		},

		Hub: HubConfiguration{
			ListenerBufferSize: 64,
		},

		Store: StoreConfiguration{
			MaxContentLength: 4096,
		},

		Query: QueryConfiguration{
			CacheSize: 256,
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled:           true,
			Path:              "/metrics",
			CollectIntervalMS: 10000,
		},

		Admin: AdminConfiguration{
			Enabled: false,
		},
	}
}

// Config is the process-wide configuration
var Config = Default()

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}
	if *PortFlag != 0 {
		Config.Server.Port = *PortFlag
	}
	if *VerboseFlag {
		Config.Logging.Verbose = true
	}

	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	return nil
}

// generateNodeID creates a stable node ID based on machine ID
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("livefeed")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	s := Config.Server
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", s.Port)
	}
	if !strings.HasPrefix(s.Path, "/") {
		return fmt.Errorf("server path must start with '/': %q", s.Path)
	}
	if s.ReadTimeoutMS < 0 || s.WriteTimeoutMS < 0 || s.ShutdownTimeoutMS < 0 {
		return fmt.Errorf("server timeouts must be >= 0")
	}
	if s.KeepAliveIntervalMS < 0 {
		return fmt.Errorf("keepalive interval must be >= 0")
	}
	if s.InitTimeoutMS < 0 {
		return fmt.Errorf("init timeout must be >= 0")
	}
	if s.MaxMessageBytes < 1 {
		return fmt.Errorf("max message bytes must be >= 1")
	}
	if s.OutboundQueueSize < 1 {
		return fmt.Errorf("outbound queue size must be >= 1")
	}

	if Config.Hub.ListenerBufferSize < 1 {
		return fmt.Errorf("hub listener buffer size must be >= 1")
	}
	if Config.Store.MaxContentLength < 1 {
		return fmt.Errorf("store max content length must be >= 1")
	}
	if Config.Query.CacheSize < 1 {
		return fmt.Errorf("query cache size must be >= 1")
	}

	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	if Config.Prometheus.Enabled {
		if !strings.HasPrefix(Config.Prometheus.Path, "/") {
			return fmt.Errorf("prometheus path must start with '/': %q", Config.Prometheus.Path)
		}
		if Config.Prometheus.Path == s.Path {
			return fmt.Errorf("prometheus path collides with server path %q", s.Path)
		}
	}

	if Config.Admin.Enabled && Config.Admin.Secret == "" {
		log.Warn().Msg("Admin endpoints enabled without a secret, authentication disabled")
	}

	names := make(map[string]bool, len(Config.Sinks))
	for i, sink := range Config.Sinks {
		if err := validateSink(sink); err != nil {
			return fmt.Errorf("sink %d: %w", i, err)
		}
		if names[sink.Name] {
			return fmt.Errorf("duplicate sink name: %s", sink.Name)
		}
		names[sink.Name] = true
	}

	return nil
}

func validateSink(s SinkConfiguration) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch s.Type {
	case "nats":
		if s.NatsURL == "" {
			return fmt.Errorf("nats sink requires nats_url")
		}
	case "kafka":
		if len(s.Brokers) == 0 {
			return fmt.Errorf("kafka sink requires brokers")
		}
		switch s.RequiredAcks {
		case "", "all", "one", "none":
		default:
			return fmt.Errorf("unknown required_acks: %q", s.RequiredAcks)
		}
	default:
		return fmt.Errorf("unknown sink type: %q", s.Type)
	}
	switch s.Format {
	case "", "json", "msgpack":
	default:
		return fmt.Errorf("unknown format: %q", s.Format)
	}
	switch s.Compression {
	case "", "none", "zstd":
	default:
		return fmt.Errorf("unknown compression: %q", s.Compression)
	}
	if s.RetryMultiplier < 0 || s.MaxRetries < 0 || s.BufferSize < 0 {
		return fmt.Errorf("retry and buffer settings must be >= 0")
	}
	return nil
}
