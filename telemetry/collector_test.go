package telemetry

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type countingProvider struct {
	calls atomic.Int32
}

func (p *countingProvider) RecordCount() int {
	p.calls.Add(1)
	return 3
}

func (p *countingProvider) ConnectionCount() int   { return 1 }
func (p *countingProvider) SubscriptionCount() int { return 2 }

func TestMetricsCollector_SamplesUntilStopped(t *testing.T) {
	p := &countingProvider{}
	mc := NewMetricsCollector(p, 5*time.Millisecond)
	mc.Start()

	assert.Eventually(t, func() bool { return p.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	mc.Stop()
	mc.Stop()

	after := p.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, p.calls.Load())
}

func TestNoopMetricsAreSafe(t *testing.T) {
	// Without InitializeTelemetry every metric is a no-op.
	OperationsTotal.With("read", "success").Inc()
	HubListeners.With("t").Set(3)
	OperationDurationSeconds.With("write").Observe(0.1)
	RecordsCreatedTotal.Add(2)
	assert.Nil(t, GetMetricsHandler())
}
