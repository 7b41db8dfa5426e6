package transformer

import (
	"encoding/json"
	"testing"

	"github.com/maxpert/livefeed/encoding"
	"github.com/maxpert/livefeed/publisher"
)

var (
	_ publisher.Transformer = JSONTransformer{}
	_ publisher.Transformer = MsgpackTransformer{}
)

var event = publisher.RecordEvent{
	RecordID:    42,
	Content:     "hello",
	Topic:       "record.created",
	NodeID:      7,
	PublishedAt: 1700000000000,
}

func TestJSONTransformer(t *testing.T) {
	data, err := JSONTransformer{}.Transform(event)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if got["record_id"] != float64(42) || got["content"] != "hello" || got["node_id"] != float64(7) {
		t.Errorf("unexpected JSON: %s", data)
	}
}

func TestMsgpackTransformer(t *testing.T) {
	data, err := MsgpackTransformer{}.Transform(event)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}

	var got map[string]interface{}
	if err := encoding.Unmarshal(data, &got); err != nil {
		t.Fatalf("output is not msgpack: %v", err)
	}
	if got["content"] != "hello" || got["topic"] != "record.created" {
		t.Errorf("unexpected msgpack map: %v", got)
	}
	if _, ok := got["id"]; !ok {
		t.Errorf("expected msgpack tag names, got %v", got)
	}
}

func TestZstdWrapsTransformer(t *testing.T) {
	z := publisher.WithZstd(MsgpackTransformer{})
	if z.ContentType() != "application/msgpack+zstd" {
		t.Errorf("unexpected content type %q", z.ContentType())
	}

	data, err := z.Transform(event)
	if err != nil {
		t.Fatalf("Transform failed: %v", err)
	}
	raw, err := encoding.Decompress(data)
	if err != nil {
		t.Fatalf("Decompress failed: %v", err)
	}

	var back publisher.RecordEvent
	if err := encoding.Unmarshal(raw, &back); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if back != event {
		t.Errorf("round trip mismatch: %+v", back)
	}
}
