// Package notify implements the broadcast hub that fans out published values
// to every listener registered on a topic.
package notify

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/maxpert/livefeed/telemetry"
	"github.com/rs/zerolog/log"
)

// DefaultBufferSize is the per-listener queue length used by Subscribe.
// A listener that falls this far behind is dropped by Publish.
const DefaultBufferSize = 64

var (
	// ErrSlowListener is the terminal error of a listener whose queue overflowed.
	ErrSlowListener = errors.New("listener dropped: delivery queue full")
	// ErrHubClosed is the terminal error of listeners still registered when the hub closed.
	ErrHubClosed = errors.New("hub closed")
)

// Listener is one live subscriber on a topic. Values arrive on C in publish
// order. C is closed when the listener is unsubscribed, dropped or the hub
// closes; Err reports why.
type Listener[T any] struct {
	id    uint64
	topic string
	ch    chan T
	hub   *Hub[T]

	closed atomic.Bool
	mu     sync.Mutex
	err    error
}

func (l *Listener[T]) ID() uint64    { return l.id }
func (l *Listener[T]) Topic() string { return l.topic }
func (l *Listener[T]) C() <-chan T   { return l.ch }
func (l *Listener[T]) Closed() bool  { return l.closed.Load() }
func (l *Listener[T]) Capacity() int { return cap(l.ch) }

// Err returns the reason the listener was closed. It is nil while the
// listener is active and after a regular Unsubscribe.
func (l *Listener[T]) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

// close must be called with the hub lock held so no Publish can race the
// channel close.
func (l *Listener[T]) close(cause error) {
	if !l.closed.CompareAndSwap(false, true) {
		return
	}
	l.mu.Lock()
	l.err = cause
	l.mu.Unlock()
	close(l.ch)
}

// Hub fans out values to listeners grouped by topic. Publishing never blocks:
// each listener has a bounded queue and is dropped when that queue is full.
// Publishes are serialized so every listener sees values in publish order.
type Hub[T any] struct {
	mu         sync.Mutex
	topics     map[string]map[uint64]*Listener[T]
	closed     bool
	nextID     atomic.Uint64
	bufferSize int
}

// NewHub creates a hub. bufferSize <= 0 selects DefaultBufferSize.
func NewHub[T any](bufferSize int) *Hub[T] {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub[T]{
		topics:     make(map[string]map[uint64]*Listener[T]),
		bufferSize: bufferSize,
	}
}

// Subscribe registers a listener on topic with the hub's default queue size.
// Only values published after this call are delivered.
func (h *Hub[T]) Subscribe(topic string) *Listener[T] {
	return h.SubscribeBuffered(topic, h.bufferSize)
}

// SubscribeBuffered is Subscribe with an explicit queue size.
func (h *Hub[T]) SubscribeBuffered(topic string, size int) *Listener[T] {
	if size <= 0 {
		size = h.bufferSize
	}
	l := &Listener[T]{
		id:    h.nextID.Add(1),
		topic: topic,
		ch:    make(chan T, size),
		hub:   h,
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		l.close(ErrHubClosed)
		return l
	}

	set, ok := h.topics[topic]
	if !ok {
		set = make(map[uint64]*Listener[T])
		h.topics[topic] = set
	}
	set[l.id] = l
	telemetry.HubListeners.With(topic).Set(float64(len(set)))

	log.Debug().Str("topic", topic).Uint64("listener_id", l.id).Msg("Listener subscribed")
	return l
}

// Unsubscribe removes l from its topic and closes its channel.
// Calling it more than once, on a dropped listener, or with a listener
// created by another hub is a no-op.
func (h *Hub[T]) Unsubscribe(l *Listener[T]) {
	if l == nil {
		return
	}
	if l.hub != h {
		log.Debug().Str("topic", l.topic).Uint64("listener_id", l.id).Msg("Ignoring unsubscribe for foreign listener")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if set, ok := h.topics[l.topic]; ok {
		if _, registered := set[l.id]; registered {
			delete(set, l.id)
			h.gcTopic(l.topic, set)
			log.Debug().Str("topic", l.topic).Uint64("listener_id", l.id).Msg("Listener unsubscribed")
		}
	}
	l.close(nil)
}

// Publish delivers v to every listener on topic and returns how many
// listeners accepted it. Listeners with a full queue are removed and closed
// with ErrSlowListener. Publishing to a topic without listeners is a no-op.
func (h *Hub[T]) Publish(topic string, v T) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	telemetry.HubPublishedTotal.With(topic).Inc()
	if h.closed {
		return 0
	}

	set := h.topics[topic]
	delivered := 0
	for id, l := range set {
		select {
		case l.ch <- v:
			delivered++
		default:
			delete(set, id)
			l.close(ErrSlowListener)
			telemetry.HubDroppedListenersTotal.With(topic).Inc()
			log.Warn().
				Str("topic", topic).
				Uint64("listener_id", id).
				Int("queue", cap(l.ch)).
				Msg("Dropping slow listener")
		}
	}
	if set != nil {
		h.gcTopic(topic, set)
	}
	telemetry.HubDeliveriesTotal.With(topic).Add(float64(delivered))
	return delivered
}

// Listeners returns the number of listeners registered on topic.
func (h *Hub[T]) Listeners(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

// Topics returns the topics that currently have listeners, sorted.
func (h *Hub[T]) Topics() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]string, 0, len(h.topics))
	for topic := range h.topics {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

// Close closes every registered listener with ErrHubClosed. Later
// subscriptions are closed immediately and publishes are dropped.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for topic, set := range h.topics {
		for _, l := range set {
			l.close(ErrHubClosed)
		}
		telemetry.HubListeners.With(topic).Set(0)
	}
	h.topics = make(map[string]map[uint64]*Listener[T])
}

// gcTopic must be called with h.mu held.
func (h *Hub[T]) gcTopic(topic string, set map[uint64]*Listener[T]) {
	telemetry.HubListeners.With(topic).Set(float64(len(set)))
	if len(set) == 0 {
		delete(h.topics, topic)
	}
}
