package wire

import (
	"encoding/json"
	"fmt"

	"github.com/maxpert/livefeed/record"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

// Kind is the declared transport class of an operation.
type Kind int

const (
	KindRead Kind = iota + 1
	KindWrite
	KindLive
)

func (k Kind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindLive:
		return "live"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	return k >= KindRead && k <= KindLive
}

// Streaming reports whether operations of this kind need the persistent
// transport.
func (k Kind) Streaming() bool {
	return k == KindLive
}

// Operation is an outgoing GraphQL operation with its kind declared by the
// caller. Routers classify on Kind only, never on the document text.
type Operation struct {
	Kind      Kind
	Name      string
	Query     string
	Variables map[string]any
}

// Request converts the operation to its wire envelope.
func (o Operation) Request() Request {
	return Request{
		Query:         o.Query,
		OperationName: o.Name,
		Variables:     o.Variables,
	}
}

// Request is the GraphQL request envelope shared by both transports.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
}

// Payload is a GraphQL response: one per request-response call, one per
// event on a live operation.
type Payload struct {
	Data   json.RawMessage `json:"data,omitempty"`
	Errors gqlerror.List   `json:"errors,omitempty"`
}

// Decode unmarshals Data into v. A payload carrying errors is reported as an
// error even when partial data is present.
func (p Payload) Decode(v any) error {
	if len(p.Errors) > 0 {
		return FromGQLErrors(p.Errors)
	}
	if len(p.Data) == 0 || string(p.Data) == "null" {
		return fmt.Errorf("payload has no data")
	}
	return json.Unmarshal(p.Data, v)
}

const (
	ListRecordsQuery = `query ListRecords {
  records { id content }
}`

	CreateRecordMutation = `mutation CreateRecord($content: String!) {
  createRecord(content: $content) { id content }
}`

	RecordCreatedSubscription = `subscription OnRecordCreated {
  recordCreated { id content }
}`
)

func ListRecords() Operation {
	return Operation{Kind: KindRead, Name: "ListRecords", Query: ListRecordsQuery}
}

func CreateRecord(content string) Operation {
	return Operation{
		Kind:      KindWrite,
		Name:      "CreateRecord",
		Query:     CreateRecordMutation,
		Variables: map[string]any{"content": content},
	}
}

func RecordCreated() Operation {
	return Operation{Kind: KindLive, Name: "OnRecordCreated", Query: RecordCreatedSubscription}
}

// Data shapes of the canned operations.
type (
	ListRecordsData struct {
		Records []record.Record `json:"records"`
	}
	CreateRecordData struct {
		CreateRecord record.Record `json:"createRecord"`
	}
	RecordCreatedData struct {
		RecordCreated record.Record `json:"recordCreated"`
	}
)
