package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/maxpert/livefeed/cfg"
	"github.com/maxpert/livefeed/errs"
	"github.com/maxpert/livefeed/executor"
	"github.com/maxpert/livefeed/graphql"
	"github.com/maxpert/livefeed/notify"
	"github.com/maxpert/livefeed/record"
	"github.com/maxpert/livefeed/server"
	"github.com/maxpert/livefeed/subscription"
	"github.com/maxpert/livefeed/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnv runs a real server behind a swappable handler so a test can drop
// every streaming connection and come back on a fresh manager.
type testEnv struct {
	t       *testing.T
	ex      *executor.Executor
	schema  *graphql.Schema
	streams *subscription.Manager
	handler atomic.Pointer[http.Handler]
	ts      *httptest.Server
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	schema, err := graphql.NewSchema(16)
	require.NoError(t, err)

	env := &testEnv{
		t:      t,
		ex:     executor.New(record.NewStore(0), notify.NewHub[record.Record](16)),
		schema: schema,
	}
	env.mount()
	env.ts = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		(*env.handler.Load()).ServeHTTP(w, r)
	}))
	t.Cleanup(func() {
		env.streams.Close()
		env.ts.Close()
	})
	return env
}

func (e *testEnv) mount() {
	e.streams = subscription.NewManager(e.ex, e.schema, subscription.DefaultConfig())
	s, err := server.New(server.Options{Server: cfg.Default().Server}, e.ex, e.schema, e.streams)
	require.NoError(e.t, err)
	h := s.Handler()
	e.handler.Store(&h)
}

// restartStreams closes every streaming connection and serves new ones from
// a fresh subscription manager.
func (e *testEnv) restartStreams() {
	old := e.streams
	e.mount()
	old.Close()
}

func (e *testEnv) client() *Client {
	e.t.Helper()
	c, err := New(Config{
		Endpoint: e.ts.URL + "/graphql",
		Stream: WSConfig{
			ReconnectInitial: 10 * time.Millisecond,
			ReconnectMax:     50 * time.Millisecond,
		},
	})
	require.NoError(e.t, err)
	e.t.Cleanup(func() { c.Close() })
	return c
}

func (e *testEnv) waitSubscriptions(n int) {
	e.t.Helper()
	require.Eventually(e.t, func() bool {
		return e.streams.SubscriptionCount() == n
	}, 5*time.Second, 5*time.Millisecond, "waiting for %d server subscriptions", n)
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNew_RejectsBadEndpoint(t *testing.T) {
	_, err := New(Config{Endpoint: "ftp://example.com/graphql"})
	assert.Error(t, err)
	_, err = New(Config{Endpoint: "://nope"})
	assert.Error(t, err)
}

func TestClient_CreateAndList(t *testing.T) {
	env := newEnv(t)
	c := env.client()
	ctx := testCtx(t)

	rec, err := c.Create(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, record.Record{ID: 1, Content: "hello"}, rec)

	records, err := c.Records(ctx)
	require.NoError(t, err)
	assert.Equal(t, []record.Record{{ID: 1, Content: "hello"}}, records)

	for i := 2; i <= 5; i++ {
		rec, err := c.Create(ctx, "more")
		require.NoError(t, err)
		assert.Equal(t, uint64(i), rec.ID)
	}
	records, err = c.Records(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 5)
}

func TestClient_InvalidContent(t *testing.T) {
	env := newEnv(t)
	c := env.client()
	ctx := testCtx(t)

	_, err := c.Create(ctx, "")
	require.Error(t, err)
	assert.True(t, errs.IsInvalidInput(err), "got %v", err)

	records, err := c.Records(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestClient_WatchSeesOnlyLaterRecords(t *testing.T) {
	env := newEnv(t)
	c := env.client()
	ctx := testCtx(t)

	_, err := c.Create(ctx, "before")
	require.NoError(t, err)

	s1, err := c.WatchRecords(ctx)
	require.NoError(t, err)
	env.waitSubscriptions(1)

	_, err = c.Create(ctx, "a")
	require.NoError(t, err)

	s2, err := c.WatchRecords(ctx)
	require.NoError(t, err)
	env.waitSubscriptions(2)

	_, err = c.Create(ctx, "b")
	require.NoError(t, err)

	rec, err := s1.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, record.Record{ID: 2, Content: "a"}, rec)
	rec, err = s1.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, record.Record{ID: 3, Content: "b"}, rec)

	rec, err = s2.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, record.Record{ID: 3, Content: "b"}, rec)
}

func TestClient_DisconnectIsolation(t *testing.T) {
	env := newEnv(t)
	c1, c2 := env.client(), env.client()
	ctx := testCtx(t)

	w1, err := c1.WatchRecords(ctx)
	require.NoError(t, err)
	w2, err := c2.WatchRecords(ctx)
	require.NoError(t, err)
	env.waitSubscriptions(2)

	require.NoError(t, c1.Close())
	env.waitSubscriptions(1)

	_, err = c2.Create(ctx, "c")
	require.NoError(t, err)

	rec, err := w2.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", rec.Content)

	_, err = w1.Next(ctx)
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestClient_WatchCloseStopsServerSide(t *testing.T) {
	env := newEnv(t)
	c := env.client()
	ctx := testCtx(t)

	w, err := c.WatchRecords(ctx)
	require.NoError(t, err)
	env.waitSubscriptions(1)

	require.NoError(t, w.Close())
	env.waitSubscriptions(0)

	_, err = w.Next(ctx)
	assert.ErrorIs(t, err, ErrSubscriptionClosed)
}

func TestClient_ReconnectRestartsSubscriptions(t *testing.T) {
	env := newEnv(t)
	c := env.client()
	ctx := testCtx(t)

	w, err := c.WatchRecords(ctx)
	require.NoError(t, err)
	env.waitSubscriptions(1)
	assert.Equal(t, uint64(1), c.ws.Connects())

	env.restartStreams()
	require.Eventually(t, func() bool { return c.ws.Connects() == 2 }, 5*time.Second, 5*time.Millisecond)
	env.waitSubscriptions(1)

	_, err = c.Create(ctx, "after reconnect")
	require.NoError(t, err)

	rec, err := w.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "after reconnect", rec.Content)
}

func TestStream_ServerErrorEndsSubscription(t *testing.T) {
	env := newEnv(t)
	c := env.client()
	ctx := testCtx(t)

	res, err := c.Router().Do(ctx, wire.Operation{
		Kind:  wire.KindLive,
		Name:  "Broken",
		Query: "subscription Broken { recordDeleted { id } }",
	})
	require.NoError(t, err)

	_, err = res.Subscription.Next(ctx)
	require.Error(t, err)
	assert.Equal(t, errs.CodeBadRequest, errs.CodeOf(err))
}

func TestHTTPTransport_Errors(t *testing.T) {
	env := newEnv(t)
	ctx := testCtx(t)
	h := NewHTTPTransport(env.ts.URL+"/graphql", nil, nil)

	// Live operations are refused over request-response.
	_, err := h.Execute(ctx, wire.RecordCreated().Request())
	require.Error(t, err)
	assert.Equal(t, errs.CodeBadRequest, errs.CodeOf(err))

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer broken.Close()
	_, err = NewHTTPTransport(broken.URL, nil, nil).Execute(ctx, wire.ListRecords().Request())
	assert.True(t, errs.IsTransport(err), "got %v", err)

	_, err = NewHTTPTransport("http://127.0.0.1:1/graphql", nil, nil).Execute(ctx, wire.ListRecords().Request())
	assert.True(t, errs.IsTransport(err), "got %v", err)
}

func TestWSTransport_SubscribeAfterClose(t *testing.T) {
	ws := NewWSTransport("ws://127.0.0.1:1/graphql", WSConfig{})
	require.NoError(t, ws.Close())
	require.NoError(t, ws.Close())

	_, err := ws.Subscribe(context.Background(), wire.RecordCreated().Request())
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestWSTransport_SubscribeWaitsForConnection(t *testing.T) {
	ws := NewWSTransport("ws://127.0.0.1:1/graphql", WSConfig{ReconnectInitial: 5 * time.Millisecond})
	defer ws.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := ws.Subscribe(ctx, wire.RecordCreated().Request())
	require.Error(t, err)
	assert.True(t, errs.IsTransport(err))
}
