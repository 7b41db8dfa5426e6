package main

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Latencies collects samples in microseconds.
type Latencies struct {
	mu      sync.Mutex
	samples []int64
}

func (l *Latencies) Add(d time.Duration) {
	l.mu.Lock()
	l.samples = append(l.samples, d.Microseconds())
	l.mu.Unlock()
}

func (l *Latencies) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.samples)
}

// Percentiles returns p50, p90, p95, p99 in microseconds.
func (l *Latencies) Percentiles() (p50, p90, p95, p99 int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.samples) == 0 {
		return 0, 0, 0, 0
	}

	sorted := make([]int64, len(l.samples))
	copy(sorted, l.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	return sorted[n*50/100], sorted[n*90/100], sorted[n*95/100], sorted[n*99/100]
}

// Summary returns min, max, avg in microseconds.
func (l *Latencies) Summary() (min, max, avg int64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.samples) == 0 {
		return 0, 0, 0
	}

	min, max = l.samples[0], l.samples[0]
	var sum int64
	for _, s := range l.samples {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
		sum += s
	}
	return min, max, sum / int64(len(l.samples))
}

// WatcherStats is owned by one watcher goroutine until it exits.
type WatcherStats struct {
	First      uint64 // First record id seen
	Last       uint64 // Highest record id seen
	Received   uint64
	OutOfOrder uint64
	Err        error
}

// observe accounts for one delivered record id.
func (w *WatcherStats) observe(id uint64) {
	if w.First == 0 {
		w.First = id
	}
	if id <= w.Last {
		w.OutOfOrder++
		return
	}
	w.Received++
	w.Last = id
}

// Stats tracks benchmark statistics.
type Stats struct {
	creates      atomic.Uint64
	createErrors atomic.Uint64
	deliveries   atomic.Uint64
	maxID        atomic.Uint64

	CreateLatency   Latencies
	DeliveryLatency Latencies

	watchers []*WatcherStats
}

func NewStats(watchers int) *Stats {
	s := &Stats{watchers: make([]*WatcherStats, watchers)}
	for i := range s.watchers {
		s.watchers[i] = &WatcherStats{}
	}
	return s
}

// RecordCreate records a successful create of id.
func (s *Stats) RecordCreate(id uint64, latency time.Duration) {
	s.creates.Add(1)
	s.CreateLatency.Add(latency)
	for {
		cur := s.maxID.Load()
		if id <= cur || s.maxID.CompareAndSwap(cur, id) {
			return
		}
	}
}

func (s *Stats) RecordCreateError() {
	s.createErrors.Add(1)
}

func (s *Stats) RecordDelivery(latency time.Duration) {
	s.deliveries.Add(1)
	s.DeliveryLatency.Add(latency)
}

func (s *Stats) Creates() uint64      { return s.creates.Load() }
func (s *Stats) CreateErrors() uint64 { return s.createErrors.Load() }
func (s *Stats) Deliveries() uint64   { return s.deliveries.Load() }
func (s *Stats) MaxID() uint64        { return s.maxID.Load() }

// Watcher returns the stats slot of watcher i.
func (s *Stats) Watcher(i int) *WatcherStats {
	return s.watchers[i]
}

// Missing counts records each watcher should have seen, from its first
// delivery up to the last created id, but did not. Only valid once every
// watcher has exited.
func (s *Stats) Missing() uint64 {
	var missing uint64
	maxID := s.MaxID()
	for _, w := range s.watchers {
		if w.First == 0 || maxID < w.First {
			continue
		}
		if want := maxID - w.First + 1; want > w.Received {
			missing += want - w.Received
		}
	}
	return missing
}

func (s *Stats) OutOfOrder() uint64 {
	var n uint64
	for _, w := range s.watchers {
		n += w.OutOfOrder
	}
	return n
}

// PrintFinal prints final statistics.
func (s *Stats) PrintFinal(out io.Writer, elapsed time.Duration) {
	creates := s.Creates()
	throughput := float64(creates) / elapsed.Seconds()

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Total time:    %.2fs\n", elapsed.Seconds())
	fmt.Fprintf(out, "Throughput:    %.2f creates/sec\n", throughput)
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Operations:")
	fmt.Fprintf(out, "  CREATE:     %d\n", creates)
	fmt.Fprintf(out, "  DELIVERED:  %d\n", s.Deliveries())
	if errs := s.CreateErrors(); errs > 0 {
		fmt.Fprintf(out, "  ERRORS:     %d\n", errs)
	}
	fmt.Fprintln(out)

	if len(s.watchers) > 0 {
		fmt.Fprintln(out, "Watchers:")
		for i, w := range s.watchers {
			line := fmt.Sprintf("  #%-3d received: %8d | first: %8d | last: %8d", i, w.Received, w.First, w.Last)
			if w.OutOfOrder > 0 {
				line += fmt.Sprintf(" | out of order: %d", w.OutOfOrder)
			}
			if w.Err != nil {
				line += fmt.Sprintf(" | ended: %v", w.Err)
			}
			fmt.Fprintln(out, line)
		}
		fmt.Fprintf(out, "  Missing:     %d\n", s.Missing())
		fmt.Fprintf(out, "  Out of order: %d\n", s.OutOfOrder())
		fmt.Fprintln(out)
	}

	printLatency(out, "Create latency (microseconds):", &s.CreateLatency)
	if s.DeliveryLatency.Len() > 0 {
		fmt.Fprintln(out)
		printLatency(out, "Delivery latency (microseconds):", &s.DeliveryLatency)
	}
}

func printLatency(out io.Writer, title string, l *Latencies) {
	min, max, avg := l.Summary()
	p50, p90, p95, p99 := l.Percentiles()

	fmt.Fprintln(out, title)
	fmt.Fprintf(out, "  Min:   %d\n", min)
	fmt.Fprintf(out, "  Avg:   %d\n", avg)
	fmt.Fprintf(out, "  Max:   %d\n", max)
	fmt.Fprintf(out, "  P50:   %d\n", p50)
	fmt.Fprintf(out, "  P90:   %d\n", p90)
	fmt.Fprintf(out, "  P95:   %d\n", p95)
	fmt.Fprintf(out, "  P99:   %d\n", p99)
}
