package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/maxpert/livefeed/cfg"
	"github.com/maxpert/livefeed/executor"
	"github.com/maxpert/livefeed/graphql"
	"github.com/maxpert/livefeed/notify"
	"github.com/maxpert/livefeed/record"
	"github.com/maxpert/livefeed/server"
	"github.com/maxpert/livefeed/subscription"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBenchConfig_Validate(t *testing.T) {
	valid := BenchConfig{Endpoint: "http://x/graphql", Writers: 1, Records: 1}

	tests := []struct {
		name   string
		mutate func(*BenchConfig)
	}{
		{"empty url", func(c *BenchConfig) { c.Endpoint = "" }},
		{"no writers", func(c *BenchConfig) { c.Writers = 0 }},
		{"negative watchers", func(c *BenchConfig) { c.Watchers = -1 }},
		{"no records or duration", func(c *BenchConfig) { c.Records = 0 }},
		{"negative rate", func(c *BenchConfig) { c.Rate = -5 }},
		{"negative inflight", func(c *BenchConfig) { c.InFlight = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	c := valid
	c.Records = 0
	c.Duration = time.Second
	require.NoError(t, c.Validate())
	assert.Equal(t, 5*time.Second, c.Drain)
	assert.Equal(t, 1, c.InFlight)
}

func TestBenchContentRoundTrip(t *testing.T) {
	at := time.Unix(1700000000, 123456789)
	sent, ok := benchSentAt(benchContent(at))
	require.True(t, ok)
	assert.True(t, at.Equal(sent))

	_, ok = benchSentAt("hello")
	assert.False(t, ok)
	_, ok = benchSentAt("bench:soon")
	assert.False(t, ok)
}

func TestWatcherStats_ObserveAndMissing(t *testing.T) {
	stats := NewStats(2)
	for id := uint64(1); id <= 10; id++ {
		stats.RecordCreate(id, time.Millisecond)
	}
	assert.Equal(t, uint64(10), stats.MaxID())

	// Joined at 4 and saw everything after it.
	for id := uint64(4); id <= 10; id++ {
		stats.Watcher(0).observe(id)
	}
	// Lost 6 and 7, then saw 5 again.
	for _, id := range []uint64{1, 2, 3, 4, 5, 8, 9, 10, 5} {
		stats.Watcher(1).observe(id)
	}

	assert.Equal(t, uint64(4), stats.Watcher(0).First)
	assert.Equal(t, uint64(7), stats.Watcher(0).Received)
	assert.Equal(t, uint64(2), stats.Missing())
	assert.Equal(t, uint64(1), stats.OutOfOrder())
}

func TestLatencies(t *testing.T) {
	var l Latencies
	min, max, avg := l.Summary()
	assert.Zero(t, min+max+avg)

	for i := 1; i <= 100; i++ {
		l.Add(time.Duration(i) * time.Microsecond)
	}
	min, max, avg = l.Summary()
	assert.Equal(t, int64(1), min)
	assert.Equal(t, int64(100), max)
	assert.Equal(t, int64(50), avg)

	p50, p90, p95, p99 := l.Percentiles()
	assert.Equal(t, int64(51), p50)
	assert.Equal(t, int64(91), p90)
	assert.Equal(t, int64(96), p95)
	assert.Equal(t, int64(100), p99)
}

func TestExecuteBench(t *testing.T) {
	schema, err := graphql.NewSchema(16)
	require.NoError(t, err)
	ex := executor.New(record.NewStore(0), notify.NewHub[record.Record](1024))
	streams := subscription.NewManager(ex, schema, subscription.DefaultConfig())
	srv, err := server.New(server.Options{Server: cfg.Default().Server}, ex, schema, streams)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer streams.Close()

	config := &BenchConfig{
		Endpoint: ts.URL + "/graphql",
		Writers:  3,
		InFlight: 4,
		Watchers: 2,
		Records:  60,
		Drain:    5 * time.Second,
	}
	require.NoError(t, config.Validate())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var out bytes.Buffer
	stats, err := executeBench(ctx, config, &out)
	require.NoError(t, err)

	assert.Equal(t, uint64(60), stats.Creates())
	assert.Zero(t, stats.CreateErrors())
	assert.Equal(t, uint64(60), stats.MaxID())
	assert.Zero(t, stats.Missing())
	assert.Zero(t, stats.OutOfOrder())
	assert.Equal(t, 60, ex.Store().Len())
	assert.Contains(t, out.String(), "CREATE:     60")
}
