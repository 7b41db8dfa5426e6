// Package subscription serves live operations over persistent websocket
// connections speaking the graphql-ws message protocol. Each connection
// multiplexes any number of operations; live ones hold a hub listener for as
// long as they run.
package subscription

import (
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/maxpert/livefeed/cfg"
	"github.com/maxpert/livefeed/executor"
	"github.com/maxpert/livefeed/graphql"
	"github.com/maxpert/livefeed/wire"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// ErrManagerClosed is returned for upgrades attempted after Close.
var ErrManagerClosed = errors.New("subscription manager closed")

// Config bounds a single streaming connection.
type Config struct {
	KeepAlive       time.Duration // 0 disables "ka" messages
	InitTimeout     time.Duration // 0 waits for connection_init forever
	MaxMessageBytes int64
	OutboundQueue   int
	WriteTimeout    time.Duration
	CheckOrigin     func(r *http.Request) bool
}

func DefaultConfig() Config {
	return Config{
		KeepAlive:       10 * time.Second,
		InitTimeout:     10 * time.Second,
		MaxMessageBytes: 64 * 1024,
		OutboundQueue:   64,
		WriteTimeout:    10 * time.Second,
	}
}

// ConfigFrom derives connection limits from the server section.
func ConfigFrom(s cfg.ServerConfiguration) Config {
	c := DefaultConfig()
	c.KeepAlive = time.Duration(s.KeepAliveIntervalMS) * time.Millisecond
	c.InitTimeout = time.Duration(s.InitTimeoutMS) * time.Millisecond
	if s.MaxMessageBytes > 0 {
		c.MaxMessageBytes = s.MaxMessageBytes
	}
	if s.OutboundQueueSize > 0 {
		c.OutboundQueue = s.OutboundQueueSize
	}
	if s.WriteTimeoutMS > 0 {
		c.WriteTimeout = time.Duration(s.WriteTimeoutMS) * time.Millisecond
	}
	if s.EnableCORS {
		c.CheckOrigin = originChecker(s.CORSOrigins)
	}
	return c
}

// Manager accepts streaming connections and tracks every live operation
// they run.
type Manager struct {
	ex       *executor.Executor
	schema   *graphql.Schema
	config   Config
	upgrader websocket.Upgrader

	conns  *xsync.MapOf[string, *conn]
	subs   atomic.Int64
	closed atomic.Bool
	wg     sync.WaitGroup
}

func NewManager(ex *executor.Executor, schema *graphql.Schema, config Config) *Manager {
	if config.OutboundQueue <= 0 {
		config.OutboundQueue = DefaultConfig().OutboundQueue
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}

	m := &Manager{
		ex:     ex,
		schema: schema,
		config: config,
		conns:  xsync.NewMapOf[string, *conn](),
	}
	m.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		Subprotocols:    []string{wire.Subprotocol},
		CheckOrigin:     config.CheckOrigin,
	}
	if m.upgrader.CheckOrigin == nil {
		m.upgrader.CheckOrigin = func(*http.Request) bool { return true }
	}
	return m
}

// IsUpgrade reports whether r asks for a websocket connection.
func IsUpgrade(r *http.Request) bool {
	return websocket.IsWebSocketUpgrade(r)
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if m.closed.Load() {
		http.Error(w, ErrManagerClosed.Error(), http.StatusServiceUnavailable)
		return
	}

	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("Websocket upgrade failed")
		return
	}
	if ws.Subprotocol() != wire.Subprotocol {
		log.Debug().Str("remote", r.RemoteAddr).Msg("Client did not negotiate graphql-ws, assuming it")
	}

	c := newConn(m, uuid.NewString(), ws)
	m.conns.Store(c.id, c)
	m.wg.Add(1)

	log.Debug().Str("conn_id", c.id).Str("remote", r.RemoteAddr).Msg("Streaming connection opened")

	go func() {
		defer m.wg.Done()
		c.run()
		m.conns.Delete(c.id)
		log.Debug().Str("conn_id", c.id).Msg("Streaming connection closed")
	}()

	// Shutdown may have started between the check above and Store.
	if m.closed.Load() {
		c.shutdown(nil)
	}
}

// Close terminates every connection and waits for them to finish.
func (m *Manager) Close() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	m.conns.Range(func(_ string, c *conn) bool {
		c.shutdown(nil)
		return true
	})
	m.wg.Wait()
}

// ConnectionCount returns the number of open connections.
func (m *Manager) ConnectionCount() int {
	return m.conns.Size()
}

// SubscriptionCount returns the number of live operations across all
// connections.
func (m *Manager) SubscriptionCount() int {
	return int(m.subs.Load())
}

func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}
