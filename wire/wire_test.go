package wire

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/maxpert/livefeed/errs"
	"github.com/maxpert/livefeed/record"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vektah/gqlparser/v2/gqlerror"
)

func TestKind(t *testing.T) {
	assert.Equal(t, "read", KindRead.String())
	assert.Equal(t, "write", KindWrite.String())
	assert.Equal(t, "live", KindLive.String())
	assert.Equal(t, "kind(9)", Kind(9).String())

	assert.True(t, KindLive.Streaming())
	assert.False(t, KindRead.Streaming())
	assert.False(t, KindWrite.Streaming())

	assert.True(t, KindWrite.Valid())
	assert.False(t, Kind(0).Valid())
}

func TestCannedOperations(t *testing.T) {
	assert.Equal(t, KindRead, ListRecords().Kind)
	assert.Equal(t, KindLive, RecordCreated().Kind)

	create := CreateRecord("hello")
	assert.Equal(t, KindWrite, create.Kind)

	req := create.Request()
	assert.Equal(t, "CreateRecord", req.OperationName)
	assert.Equal(t, "hello", req.Variables["content"])
	assert.Equal(t, CreateRecordMutation, req.Query)
}

func TestPayload_Decode(t *testing.T) {
	p := Payload{Data: json.RawMessage(`{"createRecord":{"id":"1","content":"hello"}}`)}

	var out CreateRecordData
	require.NoError(t, p.Decode(&out))
	assert.Equal(t, record.Record{ID: 1, Content: "hello"}, out.CreateRecord)

	withErr := Payload{Errors: gqlerror.List{{
		Message:    "content must not be empty",
		Extensions: map[string]interface{}{"code": "INVALID_INPUT"},
	}}}
	err := withErr.Decode(&out)
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err))

	assert.Error(t, Payload{Data: json.RawMessage("null")}.Decode(&out))
}

func TestMessage_RoundTripPayload(t *testing.T) {
	msg, err := NewMessage("1", GQLStart, RecordCreated().Request())
	require.NoError(t, err)

	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, GQLStart, decoded.Type)

	var req Request
	require.NoError(t, decoded.DecodePayload(&req))
	assert.Equal(t, "OnRecordCreated", req.OperationName)

	ack, err := NewMessage("", GQLConnectionAck, nil)
	require.NoError(t, err)
	assert.Empty(t, ack.Payload)
	assert.Error(t, ack.DecodePayload(&req))
}

func TestErrorConversion(t *testing.T) {
	invalid := errs.InvalidInput("createRecord", record.ErrEmptyContent)
	gql := ToGQLError(invalid)
	assert.Equal(t, "content must not be empty", gql.Message)
	assert.Equal(t, "INVALID_INPUT", gql.Extensions["code"])

	internal := ToGQLError(errors.New("store exploded"))
	assert.Equal(t, "internal server error", internal.Message)
	assert.Equal(t, "INTERNAL_ERROR", internal.Extensions["code"])

	back := FromGQLErrors(gqlerror.List{gql, internal})
	assert.True(t, errs.IsInvalidInput(back))
	assert.Contains(t, back.Error(), "and 1 more errors")

	noCode := FromGQLErrors(gqlerror.List{{Message: "syntax"}})
	assert.True(t, errs.IsInternal(noCode))
	assert.NoError(t, FromGQLErrors(nil))
}
