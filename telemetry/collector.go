package telemetry

import (
	"sync"
	"time"
)

// StatsProvider reports point-in-time sizes that are cheaper to sample than
// to track on every change.
type StatsProvider interface {
	RecordCount() int
	ConnectionCount() int
	SubscriptionCount() int
}

// MetricsCollector periodically samples a StatsProvider into gauges.
type MetricsCollector struct {
	provider StatsProvider
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewMetricsCollector(provider StatsProvider, interval time.Duration) *MetricsCollector {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &MetricsCollector{
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop is safe to call more than once.
func (mc *MetricsCollector) Stop() {
	mc.stopOnce.Do(func() { close(mc.stopCh) })
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.provider == nil {
		return
	}
	StoredRecords.Set(float64(mc.provider.RecordCount()))
	StreamConnections.Set(float64(mc.provider.ConnectionCount()))
	StreamSubscriptions.Set(float64(mc.provider.SubscriptionCount()))
}
