package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/maxpert/livefeed/cfg"
	"github.com/maxpert/livefeed/publisher"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/puzpuzpuz/xsync/v3"
)

func init() {
	publisher.RegisterSink("nats", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		return newNatsFromConfig(config.NatsURL)
	})
}

func newNatsFromConfig(url string) (publisher.Sink, error) {
	if url == "" {
		return nil, fmt.Errorf("nats sink requires nats_url")
	}
	return NewNatsSink(url)
}

// NatsSink implements the Sink interface for NATS JetStream publishing
type NatsSink struct {
	nc      *nats.Conn
	js      jetstream.JetStream
	streams *xsync.MapOf[string, struct{}] // streams already ensured
}

// NewNatsSink creates a new NATS JetStream sink
func NewNatsSink(url string) (*NatsSink, error) {
	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	return &NatsSink{nc: nc, js: js, streams: xsync.NewMapOf[string, struct{}]()}, nil
}

// Publish sends a record event to the JetStream subject msg.Topic
func (n *NatsSink) Publish(ctx context.Context, msg publisher.Message) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := n.ensureStream(ctx, msg.Topic); err != nil {
		return err
	}

	if _, err := n.js.PublishMsg(ctx, natsMessage(msg)); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", msg.Topic, err)
	}
	return nil
}

func natsMessage(msg publisher.Message) *nats.Msg {
	out := nats.NewMsg(msg.Topic)
	out.Data = msg.Value
	for _, h := range msg.Headers() {
		out.Header.Set(h.Key, h.Value)
	}
	// Record ids are unique per node, so JetStream can drop retried duplicates.
	out.Header.Set(jetstream.MsgIDHeader, fmt.Sprintf("%s:%d:%s", msg.Topic, msg.NodeID, msg.Key))
	return out
}

// ensureStream creates the stream for topic once per sink
func (n *NatsSink) ensureStream(ctx context.Context, topic string) error {
	streamName := sanitizeStreamName(topic)
	if _, ok := n.streams.Load(streamName); ok {
		return nil
	}

	_, err := n.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{topic},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     24 * time.Hour,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		return fmt.Errorf("failed to ensure stream %s: %w", streamName, err)
	}
	n.streams.Store(streamName, struct{}{})
	return nil
}

// Close releases resources held by the NatsSink
func (n *NatsSink) Close() error {
	if n.nc != nil {
		n.nc.Close()
	}
	return nil
}

// sanitizeStreamName converts a topic to a valid JetStream stream name
// JetStream stream names can't contain "." so we replace with "_"
func sanitizeStreamName(topic string) string {
	result := make([]byte, len(topic))
	for i, c := range topic {
		if c == '.' {
			result[i] = '_'
		} else {
			result[i] = byte(c)
		}
	}
	return string(result)
}
