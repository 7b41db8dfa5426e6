// Package transformer provides implementations of the publisher.Transformer
// interface. Importing it registers the "json" and "msgpack" formats.
package transformer

import (
	"encoding/json"

	"github.com/maxpert/livefeed/encoding"
	"github.com/maxpert/livefeed/publisher"
)

func init() {
	publisher.RegisterTransformer("json", func() publisher.Transformer {
		return JSONTransformer{}
	})
	publisher.RegisterTransformer("msgpack", func() publisher.Transformer {
		return MsgpackTransformer{}
	})
}

// JSONTransformer renders events as JSON objects
type JSONTransformer struct{}

func (JSONTransformer) Transform(event publisher.RecordEvent) ([]byte, error) {
	return json.Marshal(event)
}

func (JSONTransformer) ContentType() string {
	return "application/json"
}

// MsgpackTransformer renders events as msgpack maps
type MsgpackTransformer struct{}

func (MsgpackTransformer) Transform(event publisher.RecordEvent) ([]byte, error) {
	return encoding.Marshal(event)
}

func (MsgpackTransformer) ContentType() string {
	return "application/msgpack"
}
