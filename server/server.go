// Package server exposes the GraphQL endpoint. One path carries both
// transports: plain HTTP requests are answered once, websocket upgrades are
// handed to the subscription manager.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/maxpert/livefeed/admin"
	"github.com/maxpert/livefeed/cfg"
	"github.com/maxpert/livefeed/executor"
	"github.com/maxpert/livefeed/graphql"
	"github.com/maxpert/livefeed/subscription"
	"github.com/maxpert/livefeed/telemetry"
	"github.com/rs/zerolog/log"
)

// ErrAlreadyStarted is returned by Start on a running server.
var ErrAlreadyStarted = errors.New("server already running")

// Options selects the optional surfaces of the endpoint.
type Options struct {
	Server     cfg.ServerConfiguration
	Prometheus cfg.PrometheusConfiguration
	Admin      cfg.AdminConfiguration
	Sinks      admin.SinkStats // optional, reported under /admin/sinks
}

// Server manages the HTTP listener for both transports
type Server struct {
	opts    Options
	ex      *executor.Executor
	schema  *graphql.Schema
	streams *subscription.Manager
	handler http.Handler

	mu         sync.RWMutex
	running    bool
	httpServer *http.Server
	listener   net.Listener
	ready      chan struct{}
	readyOnce  sync.Once
	stopChan   chan struct{}
	stopOnce   sync.Once
}

func New(opts Options, ex *executor.Executor, schema *graphql.Schema, streams *subscription.Manager) (*Server, error) {
	if ex == nil || schema == nil || streams == nil {
		return nil, fmt.Errorf("executor, schema and subscription manager are required")
	}
	if opts.Server.Path == "" {
		opts.Server.Path = "/graphql"
	}

	s := &Server{
		opts:     opts,
		ex:       ex,
		schema:   schema,
		streams:  streams,
		ready:    make(chan struct{}),
		stopChan: make(chan struct{}),
	}
	s.handler = s.routes()
	return s, nil
}

// Handler returns the root handler, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if s.opts.Server.EnableCORS {
		r.Use(corsMiddleware(s.opts.Server.CORSOrigins))
	}

	gql := &graphqlHandler{
		ex:       s.ex,
		schema:   s.schema,
		streams:  s.streams,
		maxBytes: s.opts.Server.MaxMessageBytes,
	}
	r.Get(s.opts.Server.Path, gql.ServeHTTP)
	r.Post(s.opts.Server.Path, gql.ServeHTTP)

	r.Get("/health", s.handleHealth)

	if s.opts.Prometheus.Enabled {
		if h := telemetry.GetMetricsHandler(); h != nil {
			r.Handle(s.opts.Prometheus.Path, h)
		}
	}

	if s.opts.Admin.Enabled {
		handlers := admin.NewAdminHandlers(s.ex, s.schema, s.streams, s.opts.Sinks)
		admin.RegisterRoutes(r, handlers, s.opts.Admin.Secret)
	}

	return r
}

// Start listens and serves until ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}

	addr := net.JoinHostPort(s.opts.Server.BindAddress, strconv.Itoa(s.opts.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.httpServer = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  time.Duration(s.opts.Server.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout: time.Duration(s.opts.Server.WriteTimeoutMS) * time.Millisecond,
		IdleTimeout:  60 * time.Second,
	}
	s.listener = ln
	s.running = true
	server := s.httpServer
	s.readyOnce.Do(func() { close(s.ready) })
	s.mu.Unlock()

	log.Info().
		Str("address", ln.Addr().String()).
		Str("path", s.opts.Server.Path).
		Msg("Server listening")

	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Server context cancelled, shutting down")
		return s.Stop(s.shutdownTimeout())

	case <-s.stopChan:
		return nil

	case err, ok := <-errChan:
		if !ok {
			return nil
		}
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("http server failed: %w", err)
	}
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop closes every streaming connection and shuts the listener down.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	server := s.httpServer
	s.mu.Unlock()

	log.Info().Msg("Server stopping")
	s.stopOnce.Do(func() { close(s.stopChan) })

	// Hijacked connections are invisible to Shutdown.
	s.streams.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to shutdown server gracefully")
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	log.Info().Msg("Server stopped")
	return nil
}

// IsRunning returns whether the server is currently running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.opts.Server.ShutdownTimeoutMS > 0 {
		return time.Duration(s.opts.Server.ShutdownTimeoutMS) * time.Millisecond
	}
	return 10 * time.Second
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	select {
	case <-s.stopChan:
		status, code = "stopping", http.StatusServiceUnavailable
	default:
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":        status,
		"records":       s.ex.Store().Len(),
		"connections":   s.streams.ConnectionCount(),
		"subscriptions": s.streams.SubscriptionCount(),
	})
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			allowed := false
			for _, o := range origins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed {
				if origin != "" {
					w.Header().Set("Access-Control-Allow-Origin", origin)
				} else {
					w.Header().Set("Access-Control-Allow-Origin", "*")
				}
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
