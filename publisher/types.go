package publisher

import (
	"context"
	"strconv"
	"time"

	"github.com/maxpert/livefeed/record"
)

// RecordEvent is the exported form of one created record
type RecordEvent struct {
	RecordID    uint64 `json:"record_id" msgpack:"id"`
	Content     string `json:"content" msgpack:"content"`
	Topic       string `json:"topic" msgpack:"topic"`      // Hub topic the record was announced on
	NodeID      uint64 `json:"node_id" msgpack:"node"`     // Originating node
	PublishedAt int64  `json:"published_at" msgpack:"ts"` // Unix ms when the worker saw it
}

// NewRecordEvent wraps a record for export
func NewRecordEvent(rec record.Record, topic string, nodeID uint64, at time.Time) RecordEvent {
	return RecordEvent{
		RecordID:    rec.ID,
		Content:     rec.Content,
		Topic:       topic,
		NodeID:      nodeID,
		PublishedAt: at.UnixMilli(),
	}
}

// Metadata header names attached to every exported message
const (
	HeaderContentType = "content-type"
	HeaderNodeID      = "livefeed-node-id"
	HeaderRecordID    = "livefeed-record-id"
)

// Message is one encoded record event addressed to a sink topic
type Message struct {
	Topic       string    // Sink topic or subject
	Key         string    // Record id in decimal, used for partitioning and dedup
	Value       []byte    // Transformer output
	ContentType string    // Transformer content type
	RecordID    uint64
	NodeID      uint64
	Time        time.Time // When the worker picked the record up
}

// Header is a single message header
type Header struct {
	Key   string
	Value string
}

// Headers returns the metadata carried next to the value. The order is fixed.
func (m Message) Headers() []Header {
	return []Header{
		{Key: HeaderContentType, Value: m.ContentType},
		{Key: HeaderNodeID, Value: strconv.FormatUint(m.NodeID, 10)},
		{Key: HeaderRecordID, Value: strconv.FormatUint(m.RecordID, 10)},
	}
}

// Sink represents a destination for record events (e.g., Kafka, NATS)
type Sink interface {
	// Publish delivers one message. ctx is cancelled when the worker stops.
	Publish(ctx context.Context, msg Message) error
	// Close releases any resources held by the sink
	Close() error
}

// Transformer converts record events to sink-specific bytes
type Transformer interface {
	Transform(event RecordEvent) ([]byte, error)
	// ContentType describes the produced bytes, e.g. "application/json"
	ContentType() string
}

// Filter determines whether a record should be exported
type Filter interface {
	Match(content string) bool
}

// SinkStats is a point-in-time view of one export worker
type SinkStats struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	ContentType  string `json:"content_type"`
	Running      bool   `json:"running"`
	LastRecordID uint64 `json:"last_record_id"`
	Published    uint64 `json:"published"`
	Filtered     uint64 `json:"filtered"`
	Failed       uint64 `json:"failed"`
	Resubscribes uint64 `json:"resubscribes"`
}
