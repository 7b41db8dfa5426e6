package sink

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/maxpert/livefeed/cfg"
	"github.com/maxpert/livefeed/encoding"
	"github.com/maxpert/livefeed/notify"
	"github.com/maxpert/livefeed/publisher"
	"github.com/maxpert/livefeed/publisher/transformer"
	"github.com/maxpert/livefeed/record"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureWriter stands in for a broker connection and keeps what was produced
type captureWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *captureWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *captureWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *captureWriter) produced() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]kafka.Message, len(w.msgs))
	copy(out, w.msgs)
	return out
}

func (w *captureWriter) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// stallWriter blocks every produce until its context ends
type stallWriter struct {
	calls chan struct{}
}

func (w *stallWriter) WriteMessages(ctx context.Context, _ ...kafka.Message) error {
	select {
	case w.calls <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}

func (w *stallWriter) Close() error { return nil }

// captureWriters holds the writer behind every "kafka-capture" sink, by name
var captureWriters sync.Map

func init() {
	publisher.RegisterSink("kafka-capture", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		kc, err := kafkaConfigFrom(config)
		if err != nil {
			return nil, err
		}
		w := &captureWriter{}
		captureWriters.Store(config.Name, w)
		return newKafkaSink(w, kc.WriteTimeout), nil
	})
}

func captureWriterNamed(t *testing.T, name string) *captureWriter {
	t.Helper()
	v, ok := captureWriters.Load(name)
	require.True(t, ok, "sink %q was not created", name)
	return v.(*captureWriter)
}

func headerMap(m kafka.Message) map[string]string {
	out := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		out[h.Key] = string(h.Value)
	}
	return out
}

func TestParseRequiredAcks(t *testing.T) {
	tests := []struct {
		in   string
		want kafka.RequiredAcks
	}{
		{"", kafka.RequireAll},
		{"all", kafka.RequireAll},
		{"one", kafka.RequireOne},
		{"none", kafka.RequireNone},
	}
	for _, tt := range tests {
		got, err := ParseRequiredAcks(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseRequiredAcks("quorum")
	assert.Error(t, err)
}

func TestKafkaConfigFrom(t *testing.T) {
	kc, err := kafkaConfigFrom(cfg.SinkConfiguration{Brokers: []string{"b1:9092", "b2:9092"}})
	require.NoError(t, err)
	assert.Equal(t, DefaultKafkaConfig([]string{"b1:9092", "b2:9092"}), kc)

	kc, err = kafkaConfigFrom(cfg.SinkConfiguration{Brokers: []string{"b1:9092"}, BatchSize: 5, RequiredAcks: "one"})
	require.NoError(t, err)
	assert.Equal(t, 5, kc.BatchSize)
	assert.Equal(t, kafka.RequireOne, kc.RequiredAcks)

	_, err = kafkaConfigFrom(cfg.SinkConfiguration{})
	assert.ErrorContains(t, err, "broker")

	_, err = kafkaConfigFrom(cfg.SinkConfiguration{Brokers: []string{"b1:9092"}, RequiredAcks: "most"})
	assert.ErrorContains(t, err, "required_acks")
}

func TestNewKafkaSink_WriterSettings(t *testing.T) {
	_, err := NewKafkaSink(KafkaConfig{})
	require.Error(t, err)

	k, err := NewKafkaSink(KafkaConfig{Brokers: []string{"localhost:9092"}, RequiredAcks: kafka.RequireOne})
	require.NoError(t, err)
	defer k.Close()

	w, ok := k.writer.(*kafka.Writer)
	require.True(t, ok)
	assert.Equal(t, 1, w.MaxAttempts, "retries belong to the export worker")
	assert.Equal(t, kafka.RequireOne, w.RequiredAcks)
	assert.Equal(t, DefaultKafkaBatchSize, w.BatchSize)
	assert.Equal(t, DefaultKafkaBatchTimeout, w.BatchTimeout)
	assert.IsType(t, &kafka.Hash{}, w.Balancer)
	assert.False(t, w.Async)
	assert.Equal(t, DefaultKafkaWriteTimeout, k.timeout)
}

func TestKafkaMessage_CarriesRecordMetadata(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	m := kafkaMessage(publisher.Message{
		Topic:       "livefeed.record.created",
		Key:         "42",
		Value:       []byte(`{}`),
		ContentType: "application/msgpack+zstd",
		RecordID:    42,
		NodeID:      9,
		Time:        at,
	})

	assert.Equal(t, "livefeed.record.created", m.Topic)
	assert.Equal(t, []byte("42"), m.Key)
	assert.Equal(t, []byte(`{}`), m.Value)
	assert.True(t, at.Equal(m.Time))
	assert.Equal(t, map[string]string{
		publisher.HeaderContentType: "application/msgpack+zstd",
		publisher.HeaderNodeID:      "9",
		publisher.HeaderRecordID:    "42",
	}, headerMap(m))
}

func TestKafkaSink_PublishWrapsWriterError(t *testing.T) {
	w := &captureWriter{err: errors.New("broker down")}
	k := newKafkaSink(w, time.Second)

	err := k.Publish(context.Background(), publisher.Message{Topic: "t", Key: "5"})
	require.ErrorIs(t, err, w.err)
	assert.Contains(t, err.Error(), "record 5")
	assert.Empty(t, w.produced())
}

func TestKafkaSink_ExportsRecordEventsThroughRegistry(t *testing.T) {
	hub := notify.NewHub[record.Record](16)
	r, err := publisher.NewRegistry(publisher.RegistryConfig{
		Hub:    hub,
		NodeID: 7,
		SinkConfigs: []cfg.SinkConfiguration{
			{Name: "kafka-json", Type: "kafka-capture", Brokers: []string{"b:9092"}, Topic: "archive", RequiredAcks: "one"},
			{Name: "kafka-packed", Type: "kafka-capture", Brokers: []string{"b:9092"}, TopicPrefix: "feed",
				Format: "msgpack", Compression: "zstd", FilterContent: []string{"hello*"}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, r.Start())

	hub.Publish(record.TopicCreated, record.Record{ID: 1, Content: "hello"})
	hub.Publish(record.TopicCreated, record.Record{ID: 2, Content: "world"})

	plain := captureWriterNamed(t, "kafka-json")
	packed := captureWriterNamed(t, "kafka-packed")
	require.Eventually(t, func() bool {
		return len(plain.produced()) == 2 && len(packed.produced()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	msgs := plain.produced()
	contents := []string{"hello", "world"}
	for i, m := range msgs {
		id := strconv.Itoa(i + 1)
		assert.Equal(t, "archive", m.Topic, "fixed topic wins over the hub topic")
		assert.Equal(t, []byte(id), m.Key)

		var event publisher.RecordEvent
		require.NoError(t, json.Unmarshal(m.Value, &event))
		assert.Equal(t, uint64(i+1), event.RecordID)
		assert.Equal(t, contents[i], event.Content)
		assert.Equal(t, uint64(7), event.NodeID)
		assert.Equal(t, record.TopicCreated, event.Topic)

		assert.Equal(t, map[string]string{
			publisher.HeaderContentType: "application/json",
			publisher.HeaderNodeID:      "7",
			publisher.HeaderRecordID:    id,
		}, headerMap(m))
	}

	m := packed.produced()[0]
	assert.Equal(t, "feed."+record.TopicCreated, m.Topic)
	assert.Equal(t, "application/msgpack+zstd", headerMap(m)[publisher.HeaderContentType])
	raw, err := encoding.Decompress(m.Value)
	require.NoError(t, err)
	var event publisher.RecordEvent
	require.NoError(t, encoding.Unmarshal(raw, &event))
	assert.Equal(t, "hello", event.Content)

	require.Eventually(t, func() bool {
		stats := r.Stats()
		return stats[0].Published == 2 && stats[1].Published == 1 && stats[1].Filtered == 1
	}, 2*time.Second, 5*time.Millisecond)

	r.Stop()
	assert.True(t, plain.isClosed())
	assert.True(t, packed.isClosed())
}

func TestKafkaSink_StopAbortsStalledProduce(t *testing.T) {
	hub := notify.NewHub[record.Record](16)
	filter, err := publisher.NewGlobFilter(nil)
	require.NoError(t, err)

	w := &stallWriter{calls: make(chan struct{}, 1)}
	worker, err := publisher.NewWorker(publisher.WorkerConfig{
		Name:         "stalled",
		Hub:          hub,
		Sink:         newKafkaSink(w, time.Hour),
		Transformer:  transformer.JSONTransformer{},
		Filter:       filter,
		RetryInitial: time.Hour,
	})
	require.NoError(t, err)
	worker.Start()

	hub.Publish(record.TopicCreated, record.Record{ID: 1, Content: "stuck"})
	select {
	case <-w.calls:
	case <-time.After(2 * time.Second):
		t.Fatal("produce was never attempted")
	}

	stopped := make(chan struct{})
	go func() {
		worker.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel the in-flight produce")
	}
	assert.Equal(t, uint64(0), worker.Stats().Published)
}
