package subscription

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/maxpert/livefeed/errs"
	"github.com/maxpert/livefeed/graphql"
	"github.com/maxpert/livefeed/notify"
	"github.com/maxpert/livefeed/record"
	"github.com/maxpert/livefeed/telemetry"
	"github.com/maxpert/livefeed/wire"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// State is the lifecycle stage of a streaming connection.
type State int32

const (
	StateConnecting State = iota // upgraded, waiting for connection_init
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// liveOp is one running subscription. done is closed when its relay exits.
type liveOp struct {
	id       string
	prepared *graphql.Prepared
	listener *notify.Listener[record.Record]
	stopped  atomic.Bool
	done     chan struct{}
}

// conn is one physical streaming connection. The read loop handles inbound
// messages, a single writer owns the socket for output, and every live
// operation has a relay moving hub values into the outbound queue.
type conn struct {
	id string
	m  *Manager
	ws *websocket.Conn

	ctx    context.Context
	cancel context.CancelFunc

	state  atomic.Int32
	ops    *xsync.MapOf[string, *liveOp]
	relays sync.WaitGroup

	out       chan wire.Message
	done      chan struct{}
	closeOnce sync.Once
	final     *wire.Message // written last, after done is closed
}

func newConn(m *Manager, id string, ws *websocket.Conn) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		id:     id,
		m:      m,
		ws:     ws,
		ctx:    ctx,
		cancel: cancel,
		ops:    xsync.NewMapOf[string, *liveOp](),
		out:    make(chan wire.Message, m.config.OutboundQueue),
		done:   make(chan struct{}),
	}
}

func (c *conn) State() State {
	return State(c.state.Load())
}

func (c *conn) run() {
	if c.m.config.MaxMessageBytes > 0 {
		c.ws.SetReadLimit(c.m.config.MaxMessageBytes)
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop()
	}()

	if d := c.m.config.InitTimeout; d > 0 {
		timer := time.AfterFunc(d, c.initExpired)
		defer timer.Stop()
	}

	c.readLoop()
	c.shutdown(nil)
	c.relays.Wait()
	<-writerDone
	c.state.Store(int32(StateClosed))
}

func (c *conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("Streaming read failed")
			}
			return
		}

		var msg wire.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			telemetry.StreamMessagesTotal.With("in", "invalid").Inc()
			c.send(connectionError(fmt.Sprintf("message must be a JSON object: %v", err)))
			continue
		}
		telemetry.StreamMessagesTotal.With("in", msg.Type).Inc()

		if !c.handle(msg) {
			return
		}
	}
}

// handle processes one inbound message and reports whether reading should
// continue.
func (c *conn) handle(msg wire.Message) bool {
	if msg.Type == wire.GQLConnectionTerminate {
		return false
	}

	if c.State() == StateConnecting {
		if msg.Type != wire.GQLConnectionInit {
			final := connectionError(fmt.Sprintf("expected %s, got %q", wire.GQLConnectionInit, msg.Type))
			c.shutdown(&final)
			return false
		}
		// Loses to initExpired when the deadline already passed.
		if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateActive)) {
			return false
		}
		c.send(wire.Message{Type: wire.GQLConnectionAck})
		if c.m.config.KeepAlive > 0 {
			c.send(wire.Message{Type: wire.GQLConnectionKeepAlive})
		}
		return true
	}

	switch msg.Type {
	case wire.GQLConnectionInit:
		// Repeated init on an active connection is harmless.
	case wire.GQLStart:
		c.start(msg)
	case wire.GQLStop:
		c.stop(msg.ID)
	default:
		c.sendError(msg.ID, errs.New(errs.CodeBadRequest, "", fmt.Errorf("unknown message type %q", msg.Type)))
	}
	return true
}

// initExpired closes a connection that never sent connection_init.
func (c *conn) initExpired() {
	if !c.state.CompareAndSwap(int32(StateConnecting), int32(StateClosing)) {
		return
	}
	log.Debug().Str("conn_id", c.id).Dur("timeout", c.m.config.InitTimeout).Msg("Streaming connection never initialised")
	final := connectionError(fmt.Sprintf("%s not received within %s", wire.GQLConnectionInit, c.m.config.InitTimeout))
	c.shutdown(&final)
}

func (c *conn) start(msg wire.Message) {
	if msg.ID == "" {
		c.sendError("", errs.New(errs.CodeBadRequest, wire.GQLStart, errors.New("operation id is required")))
		return
	}
	if _, running := c.ops.Load(msg.ID); running {
		c.sendError(msg.ID, errs.New(errs.CodeBadRequest, wire.GQLStart, fmt.Errorf("operation id %q is already in use", msg.ID)))
		return
	}

	var req wire.Request
	if err := msg.DecodePayload(&req); err != nil {
		c.sendError(msg.ID, errs.New(errs.CodeBadRequest, wire.GQLStart, err))
		return
	}

	p, err := c.m.schema.Prepare(req)
	if err != nil {
		c.sendError(msg.ID, err)
		return
	}

	if p.Kind != wire.KindLive {
		c.send(message(msg.ID, wire.GQLData, p.Execute(c.ctx, c.m.ex)))
		c.send(wire.Message{ID: msg.ID, Type: wire.GQLComplete})
		return
	}

	op := &liveOp{
		id:       msg.ID,
		prepared: p,
		listener: c.m.ex.Hub().Subscribe(p.Topic()),
		done:     make(chan struct{}),
	}
	c.ops.Store(op.id, op)
	c.m.subs.Add(1)
	c.relays.Add(1)
	go c.relay(op)

	// shutdown may have walked ops before the Store above
	if c.State() >= StateClosing {
		c.removeOp(op.id)
	}

	log.Debug().
		Str("conn_id", c.id).
		Str("sub_id", op.id).
		Str("topic", p.Topic()).
		Msg("Subscription started")
}

func (c *conn) stop(id string) {
	op := c.removeOp(id)
	if op == nil {
		log.Debug().Str("conn_id", c.id).Str("sub_id", id).Msg("Stop for unknown operation")
		return
	}
	<-op.done
	c.send(wire.Message{ID: id, Type: wire.GQLComplete})

	log.Debug().Str("conn_id", c.id).Str("sub_id", id).Msg("Subscription stopped")
}

// relay forwards hub values for one live operation until its listener closes.
func (c *conn) relay(op *liveOp) {
	defer c.relays.Done()
	defer close(op.done)

	l := op.listener
	for rec := range l.C() {
		// Values still buffered after a stop must not follow its complete.
		if op.stopped.Load() {
			return
		}
		if !c.send(message(op.id, wire.GQLData, op.prepared.Project(rec))) {
			return
		}
	}

	switch err := l.Err(); {
	case errors.Is(err, notify.ErrSlowListener):
		c.removeOp(op.id)
		log.Warn().
			Str("conn_id", c.id).
			Str("sub_id", op.id).
			Int("queue", l.Capacity()).
			Msg("Subscriber fell behind, closing connection")
		final := connectionError(fmt.Sprintf("subscription %q fell behind and was dropped", op.id))
		c.shutdown(&final)
	case errors.Is(err, notify.ErrHubClosed):
		c.removeOp(op.id)
		c.send(wire.Message{ID: op.id, Type: wire.GQLComplete})
	}
}

// removeOp unregisters a live operation. It returns nil when the operation
// was already removed.
func (c *conn) removeOp(id string) *liveOp {
	op, ok := c.ops.LoadAndDelete(id)
	if !ok {
		return nil
	}
	op.stopped.Store(true)
	c.m.ex.Hub().Unsubscribe(op.listener)
	c.m.subs.Add(-1)
	return op
}

// shutdown starts closing the connection. Every listener is removed from the
// hub before it returns. final, when set, is the last message written.
func (c *conn) shutdown(final *wire.Message) {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosing))
		c.final = final
		c.ops.Range(func(id string, _ *liveOp) bool {
			c.removeOp(id)
			return true
		})
		c.cancel()
		close(c.done)
	})
}

// send queues msg for the writer. It blocks while the queue is full and
// returns false once the connection is closing.
func (c *conn) send(msg wire.Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- msg:
		return true
	case <-c.done:
		return false
	}
}

func (c *conn) sendError(id string, err error) {
	c.send(message(id, wire.GQLError, graphql.ErrorList(err)))
}

func (c *conn) writeLoop() {
	defer c.ws.Close()

	var tick <-chan time.Time
	if c.m.config.KeepAlive > 0 {
		ticker := time.NewTicker(c.m.config.KeepAlive)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case msg := <-c.out:
			if err := c.write(msg); err != nil {
				log.Debug().Err(err).Str("conn_id", c.id).Msg("Streaming write failed")
				c.shutdown(nil)
				return
			}
		case <-tick:
			if c.State() != StateActive {
				continue
			}
			// Queued behind pending output so ka never overtakes the ack.
			select {
			case c.out <- wire.Message{Type: wire.GQLConnectionKeepAlive}:
			default:
			}
		case <-c.done:
			c.flush()
			return
		}
	}
}

// flush writes whatever is still queued, the final message, and a close
// frame. Errors are ignored: the socket is going away either way.
func (c *conn) flush() {
	for drained := false; !drained; {
		select {
		case msg := <-c.out:
			if err := c.write(msg); err != nil {
				return
			}
		default:
			drained = true
		}
	}
	if c.final != nil {
		if err := c.write(*c.final); err != nil {
			return
		}
	}
	deadline := time.Now().Add(c.m.config.WriteTimeout)
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

func (c *conn) write(msg wire.Message) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.m.config.WriteTimeout))
	if err := c.ws.WriteJSON(msg); err != nil {
		return err
	}
	telemetry.StreamMessagesTotal.With("out", msg.Type).Inc()
	return nil
}

func message(id, typ string, payload any) wire.Message {
	msg, err := wire.NewMessage(id, typ, payload)
	if err != nil {
		log.Error().Err(err).Str("type", typ).Msg("Failed to encode streaming message")
		return wire.Message{ID: id, Type: wire.GQLError}
	}
	return msg
}

func connectionError(reason string) wire.Message {
	return message("", wire.GQLConnectionError, wire.ToGQLError(errs.New(errs.CodeTransport, "", errors.New(reason))))
}
