package publisher

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/livefeed/notify"
	"github.com/maxpert/livefeed/record"
	"github.com/maxpert/livefeed/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	// Default hub queue length for an export worker
	DefaultBufferSize = 1024
	// Default initial retry delay for failed publish operations
	DefaultRetryInitial = 100 * time.Millisecond
	// Default maximum retry delay (exponential backoff cap)
	DefaultRetryMax = 30 * time.Second
	// Default exponential backoff multiplier
	DefaultRetryMultiplier = 2.0
	// Maximum number of attempts before an event is dropped
	DefaultMaxRetries = 10
)

// WorkerConfig configures one export worker
type WorkerConfig struct {
	Name            string                     // Sink name
	Type            string                     // Sink type, reported in stats
	Hub             *notify.Hub[record.Record] // Source of records
	Topic           string                     // Hub topic (default record.TopicCreated)
	NodeID          uint64                     // Stamped on every event
	Sink            Sink                       // Destination sink
	Transformer     Transformer                // Event transformer
	Filter          Filter                     // Content filter
	TopicPrefix     string                     // Sink topic prefix (e.g., "livefeed")
	SinkTopic       string                     // Fixed sink topic, overrides TopicPrefix
	BufferSize      int                        // Hub queue length
	RetryInitial    time.Duration              // Initial retry delay
	RetryMax        time.Duration              // Max retry delay
	RetryMultiplier float64                    // Backoff multiplier
	MaxRetries      int                        // Attempts per event before dropping it
}

// Worker listens on the hub and publishes every matching record to a sink.
// Delivery is at-most-once: a worker that falls behind is dropped by the hub,
// re-subscribes, and the records published meanwhile are lost.
type Worker struct {
	config      WorkerConfig
	stopCh      chan struct{} // Stop signal
	doneCh      chan struct{} // Done signal
	ctx         context.Context
	cancel      context.CancelFunc // Aborts an in-flight sink publish on Stop
	running     atomic.Bool
	lifecycleMu sync.Mutex // Protects Start/Stop lifecycle operations

	lastID       atomic.Uint64
	published    atomic.Uint64
	filtered     atomic.Uint64
	failed       atomic.Uint64
	resubscribes atomic.Uint64
}

// NewWorker creates a new export worker
func NewWorker(config WorkerConfig) (*Worker, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("worker name is required")
	}
	if config.Hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	if config.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if config.Transformer == nil {
		return nil, fmt.Errorf("transformer is required")
	}
	if config.Filter == nil {
		return nil, fmt.Errorf("filter is required")
	}

	if config.Topic == "" {
		config.Topic = record.TopicCreated
	}
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 0 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		config: config,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

// Start subscribes to the hub and starts the worker goroutine. Records
// published after Start returns are seen by the worker.
func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return // Already running
	}

	w.running.Store(true)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.ctx, w.cancel = context.WithCancel(context.Background())

	l := w.subscribe()

	log.Info().
		Str("sink", w.config.Name).
		Str("topic", w.config.Topic).
		Str("sink_topic", w.buildTopic()).
		Int("buffer", w.config.BufferSize).
		Msg("Starting export worker")

	go w.run(l)
}

// Stop stops the worker gracefully
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Load() {
		return // Not running
	}

	log.Info().Str("sink", w.config.Name).Msg("Stopping export worker")

	w.cancel()
	close(w.stopCh)
	<-w.doneCh // Wait for goroutine to finish
	w.running.Store(false)

	log.Info().Str("sink", w.config.Name).Msg("Export worker stopped")
}

// Stats returns the worker's counters
func (w *Worker) Stats() SinkStats {
	return SinkStats{
		Name:         w.config.Name,
		Type:         w.config.Type,
		ContentType:  w.config.Transformer.ContentType(),
		Running:      w.running.Load(),
		LastRecordID: w.lastID.Load(),
		Published:    w.published.Load(),
		Filtered:     w.filtered.Load(),
		Failed:       w.failed.Load(),
		Resubscribes: w.resubscribes.Load(),
	}
}

func (w *Worker) subscribe() *notify.Listener[record.Record] {
	return w.config.Hub.SubscribeBuffered(w.config.Topic, w.config.BufferSize)
}

// run is the main worker loop. It owns the current listener.
func (w *Worker) run(l *notify.Listener[record.Record]) {
	defer close(w.doneCh)

	gap := false
	for {
		select {
		case <-w.stopCh:
			w.config.Hub.Unsubscribe(l)
			return

		case rec, ok := <-l.C():
			if !ok {
				if !errors.Is(l.Err(), notify.ErrSlowListener) {
					log.Info().Err(l.Err()).Str("sink", w.config.Name).Msg("Export worker listener closed")
					return
				}

				w.resubscribes.Add(1)
				telemetry.SinkResubscribesTotal.With(w.config.Name).Inc()
				log.Warn().
					Str("sink", w.config.Name).
					Uint64("last_record_id", w.lastID.Load()).
					Msg("Export worker fell behind, re-subscribing")

				l = w.subscribe()
				gap = true
				continue
			}

			if gap {
				if last := w.lastID.Load(); rec.ID > last+1 {
					log.Warn().
						Str("sink", w.config.Name).
						Uint64("from", last+1).
						Uint64("to", rec.ID-1).
						Msg("Records skipped by export worker")
				}
				gap = false
			}

			w.process(rec)
			w.lastID.Store(rec.ID)
		}
	}
}

// process exports a single record. Failures are logged and counted; the
// record is not retried once MaxRetries is exhausted.
func (w *Worker) process(rec record.Record) {
	if !w.config.Filter.Match(rec.Content) {
		w.filtered.Add(1)
		return
	}

	now := time.Now()
	event := NewRecordEvent(rec, w.config.Topic, w.config.NodeID, now)
	data, err := w.config.Transformer.Transform(event)
	if err != nil {
		w.failed.Add(1)
		telemetry.SinkPublishTotal.With(w.config.Name, "transform_error").Inc()
		log.Error().Err(err).Str("sink", w.config.Name).Uint64("record_id", rec.ID).Msg("Failed to transform record")
		return
	}

	msg := Message{
		Topic:       w.buildTopic(),
		Key:         strconv.FormatUint(rec.ID, 10),
		Value:       data,
		ContentType: w.config.Transformer.ContentType(),
		RecordID:    rec.ID,
		NodeID:      w.config.NodeID,
		Time:        now,
	}

	start := time.Now()
	err = w.publishWithRetry(msg)
	telemetry.SinkPublishSeconds.With(w.config.Name).Observe(time.Since(start).Seconds())

	if err != nil {
		w.failed.Add(1)
		telemetry.SinkPublishTotal.With(w.config.Name, "error").Inc()
		log.Error().Err(err).Str("sink", w.config.Name).Uint64("record_id", rec.ID).Msg("Dropping record after failed export")
		return
	}
	w.published.Add(1)
	telemetry.SinkPublishTotal.With(w.config.Name, "success").Inc()
}

// buildTopic builds the sink topic name
func (w *Worker) buildTopic() string {
	if w.config.SinkTopic != "" {
		return w.config.SinkTopic
	}
	if w.config.TopicPrefix == "" {
		return w.config.Topic
	}
	return w.config.TopicPrefix + "." + w.config.Topic
}

// publishWithRetry publishes data with exponential backoff retry
// Returns error if max retries exhausted or worker stopped
func (w *Worker) publishWithRetry(msg Message) error {
	delay := w.config.RetryInitial
	attempts := 0

	for {
		err := w.config.Sink.Publish(w.ctx, msg)
		if err == nil {
			return nil
		}

		attempts++
		if attempts >= w.config.MaxRetries {
			return fmt.Errorf("exhausted max retries (%d) for topic %s: %w", w.config.MaxRetries, msg.Topic, err)
		}

		log.Warn().
			Err(err).
			Str("sink", w.config.Name).
			Str("topic", msg.Topic).
			Int("attempt", attempts).
			Dur("retry_delay", delay).
			Msg("Failed to publish record, retrying")

		if !w.sleep(delay) {
			return fmt.Errorf("worker stopped during retry")
		}

		delay = time.Duration(float64(delay) * w.config.RetryMultiplier)
		if delay > w.config.RetryMax {
			delay = w.config.RetryMax
		}
	}
}

// sleep sleeps for the given duration, checking stopCh
// Returns true if sleep completed, false if stopped
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
