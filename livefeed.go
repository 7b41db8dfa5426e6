package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maxpert/livefeed/cfg"
	"github.com/maxpert/livefeed/executor"
	"github.com/maxpert/livefeed/graphql"
	"github.com/maxpert/livefeed/notify"
	"github.com/maxpert/livefeed/publisher"
	_ "github.com/maxpert/livefeed/publisher/sink"
	_ "github.com/maxpert/livefeed/publisher/transformer"
	"github.com/maxpert/livefeed/record"
	"github.com/maxpert/livefeed/server"
	"github.com/maxpert/livefeed/subscription"
	"github.com/maxpert/livefeed/telemetry"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("livefeed - live record feed over GraphQL")
	if cfg.Config.Prometheus.Enabled {
		log.Debug().Msg("Initializing telemetry")
		telemetry.InitializeTelemetry()
	}

	// Core: store, hub and the executor that ties them together
	store := record.NewStore(cfg.Config.Store.MaxContentLength)
	hub := notify.NewHub[record.Record](cfg.Config.Hub.ListenerBufferSize)
	defer hub.Close()
	ex := executor.New(store, hub)

	schema, err := graphql.NewSchema(cfg.Config.Query.CacheSize)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load GraphQL schema")
		return
	}

	streams := subscription.NewManager(ex, schema, subscription.ConfigFrom(cfg.Config.Server))

	// Record export
	registry, err := publisher.NewRegistry(publisher.RegistryConfig{
		Hub:         hub,
		NodeID:      cfg.Config.NodeID,
		SinkConfigs: cfg.Config.Sinks,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize export sinks")
		return
	}
	if err := registry.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start export sinks")
		return
	}
	defer registry.Stop()

	srv, err := server.New(server.Options{
		Server:     cfg.Config.Server,
		Prometheus: cfg.Config.Prometheus,
		Admin:      cfg.Config.Admin,
		Sinks:      registry,
	}, ex, schema, streams)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
		return
	}

	if cfg.Config.Prometheus.Enabled {
		collector := telemetry.NewMetricsCollector(
			statsProvider{store: store, streams: streams},
			time.Duration(cfg.Config.Prometheus.CollectIntervalMS)*time.Millisecond,
		)
		collector.Start()
		defer collector.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		select {
		case <-srv.Ready():
			log.Info().
				Str("address", srv.Addr()).
				Str("path", cfg.Config.Server.Path).
				Int("sinks", registry.Len()).
				Msg("Node is operational")
		case <-ctx.Done():
		}
	}()

	if err := srv.Start(ctx); err != nil {
		log.Error().Err(err).Msg("Server exited with error")
		return
	}
	log.Info().Msg("Shutdown complete")
}

// statsProvider feeds the metrics collector
type statsProvider struct {
	store   *record.Store
	streams *subscription.Manager
}

func (p statsProvider) RecordCount() int       { return p.store.Len() }
func (p statsProvider) ConnectionCount() int   { return p.streams.ConnectionCount() }
func (p statsProvider) SubscriptionCount() int { return p.streams.SubscriptionCount() }
