package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/maxpert/livefeed/cfg"
	"github.com/maxpert/livefeed/publisher"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultKafkaBatchSize    = 100
	DefaultKafkaBatchBytes   = 1 << 20 // 1MB
	DefaultKafkaBatchTimeout = 10 * time.Millisecond
	DefaultKafkaWriteTimeout = 10 * time.Second
)

func init() {
	publisher.RegisterSink("kafka", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		kafkaConfig, err := kafkaConfigFrom(config)
		if err != nil {
			return nil, err
		}
		return NewKafkaSink(kafkaConfig)
	})
}

// KafkaConfig holds configuration for KafkaSink
type KafkaConfig struct {
	Brokers      []string           // Kafka broker addresses
	BatchSize    int                // Max records per produce request
	BatchTimeout time.Duration      // Max wait for a batch to fill; records arrive one at a time
	WriteTimeout time.Duration      // Deadline for one Publish
	RequiredAcks kafka.RequiredAcks // Ack requirement (default: RequireAll)
}

// DefaultKafkaConfig returns a KafkaConfig with sensible defaults
func DefaultKafkaConfig(brokers []string) KafkaConfig {
	return KafkaConfig{
		Brokers:      brokers,
		BatchSize:    DefaultKafkaBatchSize,
		BatchTimeout: DefaultKafkaBatchTimeout,
		WriteTimeout: DefaultKafkaWriteTimeout,
		RequiredAcks: kafka.RequireAll,
	}
}

// ParseRequiredAcks maps the required_acks setting to kafka acks.
// An empty value selects "all".
func ParseRequiredAcks(s string) (kafka.RequiredAcks, error) {
	switch s {
	case "", "all":
		return kafka.RequireAll, nil
	case "one":
		return kafka.RequireOne, nil
	case "none":
		return kafka.RequireNone, nil
	default:
		return 0, fmt.Errorf("unknown required_acks %q", s)
	}
}

func kafkaConfigFrom(config cfg.SinkConfiguration) (KafkaConfig, error) {
	if len(config.Brokers) == 0 {
		return KafkaConfig{}, fmt.Errorf("kafka sink requires at least one broker address")
	}
	acks, err := ParseRequiredAcks(config.RequiredAcks)
	if err != nil {
		return KafkaConfig{}, err
	}

	kc := DefaultKafkaConfig(config.Brokers)
	kc.RequiredAcks = acks
	if config.BatchSize > 0 {
		kc.BatchSize = config.BatchSize
	}
	return kc, nil
}

// kafkaWriter is the part of *kafka.Writer the sink depends on
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink produces record events to Kafka. The record id is the message
// key, so every record of a node lands on one partition in id order.
type KafkaSink struct {
	writer  kafkaWriter
	timeout time.Duration
}

// NewKafkaSink creates a new KafkaSink with the given configuration
func NewKafkaSink(config KafkaConfig) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka sink requires at least one broker address")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultKafkaBatchSize
	}
	if config.BatchTimeout <= 0 {
		config.BatchTimeout = DefaultKafkaBatchTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultKafkaWriteTimeout
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchSize:    config.BatchSize,
		BatchBytes:   DefaultKafkaBatchBytes,
		BatchTimeout: config.BatchTimeout,
		WriteTimeout: config.WriteTimeout,
		RequiredAcks: config.RequiredAcks,
		// The export worker owns retries and backoff.
		MaxAttempts:            1,
		AllowAutoTopicCreation: true,
	}

	return newKafkaSink(writer, config.WriteTimeout), nil
}

func newKafkaSink(w kafkaWriter, timeout time.Duration) *KafkaSink {
	return &KafkaSink{writer: w, timeout: timeout}
}

// Publish produces one record event and waits for the configured acks
func (k *KafkaSink) Publish(ctx context.Context, msg publisher.Message) error {
	if k.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, k.timeout)
		defer cancel()
	}

	if err := k.writer.WriteMessages(ctx, kafkaMessage(msg)); err != nil {
		return fmt.Errorf("failed to produce record %s to %s: %w", msg.Key, msg.Topic, err)
	}
	return nil
}

// Close flushes pending batches and closes broker connections
func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

func kafkaMessage(msg publisher.Message) kafka.Message {
	headers := msg.Headers()
	out := kafka.Message{
		Topic:   msg.Topic,
		Key:     []byte(msg.Key),
		Value:   msg.Value,
		Time:    msg.Time,
		Headers: make([]kafka.Header, 0, len(headers)),
	}
	for _, h := range headers {
		out.Headers = append(out.Headers, kafka.Header{Key: h.Key, Value: []byte(h.Value)})
	}
	return out
}
