package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/maxpert/livefeed/errs"
	"github.com/maxpert/livefeed/wire"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// ErrTransportClosed is the terminal error of subscriptions still open when
// their transport is closed.
var ErrTransportClosed = fmt.Errorf("transport closed: %w", ErrSubscriptionClosed)

// WSConfig tunes the streaming transport
type WSConfig struct {
	Header             http.Header
	Dialer             *websocket.Dialer
	ReconnectInitial   time.Duration // First reconnect delay
	ReconnectMax       time.Duration // Backoff cap
	ReconnectFactor    float64       // Backoff multiplier
	KeepAliveTimeout   time.Duration // Silence after which the connection is considered dead
	WriteTimeout       time.Duration
	SubscriptionBuffer int // Payloads buffered per subscription
}

// DefaultWSConfig returns the streaming defaults.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectInitial:   100 * time.Millisecond,
		ReconnectMax:       10 * time.Second,
		ReconnectFactor:    2.0,
		KeepAliveTimeout:   30 * time.Second,
		WriteTimeout:       10 * time.Second,
		SubscriptionBuffer: 256,
	}
}

// WSTransport multiplexes live operations over one websocket connection.
// The connection is dialed on first use and redialed with exponential
// backoff whenever it drops; open subscriptions are started again on every
// new connection. Records created while disconnected are not replayed.
type WSTransport struct {
	url    string
	config WSConfig

	subs   *xsync.MapOf[string, *Subscription]
	nextID atomic.Uint64

	// mu guards ws and ready and serializes every write to ws
	mu    sync.Mutex
	ws    *websocket.Conn
	ready chan struct{} // closed while a connection is acknowledged

	connects  atomic.Uint64
	startOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewWSTransport creates a transport for a ws:// or wss:// url. Nothing is
// dialed until the first Subscribe.
func NewWSTransport(url string, config WSConfig) *WSTransport {
	def := DefaultWSConfig()
	if config.ReconnectInitial <= 0 {
		config.ReconnectInitial = def.ReconnectInitial
	}
	if config.ReconnectMax <= 0 {
		config.ReconnectMax = def.ReconnectMax
	}
	if config.ReconnectFactor <= 1 {
		config.ReconnectFactor = def.ReconnectFactor
	}
	if config.KeepAliveTimeout <= 0 {
		config.KeepAliveTimeout = def.KeepAliveTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = def.WriteTimeout
	}
	if config.SubscriptionBuffer <= 0 {
		config.SubscriptionBuffer = def.SubscriptionBuffer
	}
	if config.Dialer == nil {
		d := *websocket.DefaultDialer
		config.Dialer = &d
	}
	config.Dialer.Subprotocols = []string{wire.Subprotocol}

	ctx, cancel := context.WithCancel(context.Background())
	return &WSTransport{
		url:    url,
		config: config,
		subs:   xsync.NewMapOf[string, *Subscription](),
		ready:  make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Subscribe waits for a connection, then starts req on it. The returned
// subscription survives reconnects until it is closed or the server ends
// it.
func (t *WSTransport) Subscribe(ctx context.Context, req wire.Request) (*Subscription, error) {
	if t.ctx.Err() != nil {
		return nil, errs.Transport(req.OperationName, ErrTransportClosed)
	}
	t.startOnce.Do(func() { go t.run() })

	t.mu.Lock()
	ready := t.ready
	t.mu.Unlock()

	select {
	case <-ready:
	case <-ctx.Done():
		return nil, errs.Transport(req.OperationName, fmt.Errorf("waiting for connection: %w", ctx.Err()))
	case <-t.ctx.Done():
		return nil, errs.Transport(req.OperationName, ErrTransportClosed)
	}

	id := strconv.FormatUint(t.nextID.Add(1), 10)
	sub := newSubscription(id, req, t.config.SubscriptionBuffer, t.stop)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctx.Err() != nil {
		return nil, errs.Transport(req.OperationName, ErrTransportClosed)
	}
	t.subs.Store(id, sub)
	// Without a connection the start goes out on the next one.
	if t.ws != nil {
		if err := t.writeLocked(wire.GQLStart, id, req); err != nil {
			log.Debug().Err(err).Str("sub_id", id).Msg("Start deferred to next connection")
		}
	}

	log.Debug().Str("sub_id", id).Str("operation", req.OperationName).Msg("Subscription started")
	return sub, nil
}

// Connects returns how many connections have been acknowledged so far.
func (t *WSTransport) Connects() uint64 {
	return t.connects.Load()
}

// Close terminates the connection, stops reconnecting and ends every open
// subscription with ErrTransportClosed.
func (t *WSTransport) Close() error {
	if t.ctx.Err() != nil {
		return nil
	}
	t.cancel()

	t.mu.Lock()
	if t.ws != nil {
		_ = t.writeLocked(wire.GQLConnectionTerminate, "", nil)
		_ = t.ws.Close()
	}
	t.mu.Unlock()

	// done is closed by run, or here when run never started.
	t.startOnce.Do(func() { close(t.done) })
	<-t.done

	t.subs.Range(func(id string, sub *Subscription) bool {
		t.subs.Delete(id)
		sub.finish(ErrTransportClosed)
		return true
	})
	return nil
}

// stop removes a subscription closed by its owner and tells the server.
func (t *WSTransport) stop(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.subs.LoadAndDelete(id); !ok {
		return
	}
	if t.ws != nil {
		if err := t.writeLocked(wire.GQLStop, id, nil); err != nil {
			log.Debug().Err(err).Str("sub_id", id).Msg("Failed to send stop")
		}
	}
}

// run owns the connection lifecycle until the transport is closed.
func (t *WSTransport) run() {
	defer close(t.done)

	delay := t.config.ReconnectInitial
	for {
		ws, err := t.connect()
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("url", t.url).Dur("retry_delay", delay).Msg("Stream connection failed")
			if !t.sleep(delay) {
				return
			}
			delay = time.Duration(float64(delay) * t.config.ReconnectFactor)
			if delay > t.config.ReconnectMax {
				delay = t.config.ReconnectMax
			}
			continue
		}
		delay = t.config.ReconnectInitial

		n := t.connects.Add(1)
		if !t.attach(ws) {
			_ = ws.Close()
			return
		}
		log.Info().Str("url", t.url).Uint64("connects", n).Int("subscriptions", t.subs.Size()).Msg("Stream connected")

		err = t.readLoop(ws)
		t.detach(ws)
		if t.ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("url", t.url).Msg("Stream disconnected, reconnecting")
	}
}

// connect dials and completes the connection_init handshake.
func (t *WSTransport) connect() (*websocket.Conn, error) {
	ws, _, err := t.config.Dialer.DialContext(t.ctx, t.url, t.config.Header)
	if err != nil {
		return nil, err
	}

	_ = ws.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	if err := ws.WriteJSON(wire.Message{Type: wire.GQLConnectionInit}); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("send connection_init: %w", err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(t.config.KeepAliveTimeout))
	for {
		var msg wire.Message
		if err := ws.ReadJSON(&msg); err != nil {
			_ = ws.Close()
			return nil, fmt.Errorf("await connection_ack: %w", err)
		}
		switch msg.Type {
		case wire.GQLConnectionAck:
			return ws, nil
		case wire.GQLConnectionError:
			_ = ws.Close()
			return nil, connectionError(msg)
		}
	}
}

// attach publishes ws and starts every open subscription on it.
func (t *WSTransport) attach(ws *websocket.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ctx.Err() != nil {
		return false
	}

	t.ws = ws
	t.subs.Range(func(id string, sub *Subscription) bool {
		if err := t.writeLocked(wire.GQLStart, id, sub.request); err != nil {
			log.Debug().Err(err).Str("sub_id", id).Msg("Failed to restart subscription")
			return false
		}
		return true
	})
	close(t.ready)
	return true
}

func (t *WSTransport) detach(ws *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	_ = ws.Close()
	if t.ws == ws {
		t.ws = nil
		t.ready = make(chan struct{})
	}
}

// readLoop dispatches server messages until the connection fails.
func (t *WSTransport) readLoop(ws *websocket.Conn) error {
	for {
		_ = ws.SetReadDeadline(time.Now().Add(t.config.KeepAliveTimeout))

		var msg wire.Message
		if err := ws.ReadJSON(&msg); err != nil {
			return err
		}

		switch msg.Type {
		case wire.GQLConnectionKeepAlive, wire.GQLConnectionAck:
			// only resets the read deadline

		case wire.GQLData:
			sub, ok := t.subs.Load(msg.ID)
			if !ok {
				continue
			}
			var payload wire.Payload
			if err := msg.DecodePayload(&payload); err != nil {
				log.Warn().Err(err).Str("sub_id", msg.ID).Msg("Malformed data message")
				continue
			}
			if !sub.deliver(payload) {
				log.Warn().Str("sub_id", msg.ID).Msg("Subscription consumer fell behind, closing it")
				sub.finish(overflowError(msg.ID))
				t.stop(msg.ID)
			}

		case wire.GQLError:
			sub, ok := t.subs.LoadAndDelete(msg.ID)
			if !ok {
				continue
			}
			var list gqlerror.List
			if err := msg.DecodePayload(&list); err != nil || len(list) == 0 {
				sub.finish(errs.Internal(msg.ID, fmt.Errorf("malformed error message")))
				continue
			}
			sub.finish(wire.FromGQLErrors(list))

		case wire.GQLComplete:
			if sub, ok := t.subs.LoadAndDelete(msg.ID); ok {
				sub.finish(ErrSubscriptionClosed)
			}

		case wire.GQLConnectionError:
			return connectionError(msg)

		default:
			log.Debug().Str("type", msg.Type).Msg("Ignoring unknown stream message")
		}
	}
}

// writeLocked sends one message. The caller holds t.mu.
func (t *WSTransport) writeLocked(typ, id string, payload any) error {
	msg, err := wire.NewMessage(id, typ, payload)
	if err != nil {
		return err
	}
	_ = t.ws.SetWriteDeadline(time.Now().Add(t.config.WriteTimeout))
	return t.ws.WriteJSON(msg)
}

func (t *WSTransport) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-t.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func connectionError(msg wire.Message) error {
	var gqlErr gqlerror.Error
	if err := msg.DecodePayload(&gqlErr); err != nil || gqlErr.Message == "" {
		return errs.Transport("connect", errors.New("connection rejected by server"))
	}
	return errs.Transport("connect", errors.New(gqlErr.Message))
}
