package main

import (
	"context"
	"fmt"
	"io"
	"time"
)

// reportProgress prints real-time progress every second.
func reportProgress(ctx context.Context, out io.Writer, stats *Stats) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	var lastCreates, lastDeliveries uint64
	startTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(startTime)
			creates, deliveries := stats.Creates(), stats.Deliveries()

			fmt.Fprintf(out, "[%5.0fs] creates/sec: %6d | deliveries/sec: %7d | total: %8d | errors: %4d | throughput: %.1f creates/sec\n",
				elapsed.Seconds(),
				creates-lastCreates,
				deliveries-lastDeliveries,
				creates,
				stats.CreateErrors(),
				float64(creates)/elapsed.Seconds(),
			)

			lastCreates, lastDeliveries = creates, deliveries
		}
	}
}
