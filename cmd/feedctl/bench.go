package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/livefeed/client"
	"github.com/maxpert/livefeed/wire"
)

// benchPrefix marks benchmark records; the rest of the content is the
// creation time in unix nanoseconds.
const benchPrefix = "bench:"

func benchContent(at time.Time) string {
	return benchPrefix + strconv.FormatInt(at.UnixNano(), 10)
}

// benchSentAt recovers the creation time from benchmark content.
func benchSentAt(content string) (time.Time, bool) {
	raw, ok := strings.CutPrefix(content, benchPrefix)
	if !ok {
		return time.Time{}, false
	}
	ns, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, ns), true
}

// executeBench creates records from cfg.Writers goroutines while
// cfg.Watchers subscriptions, each on its own connection, measure delivery.
func executeBench(ctx context.Context, cfg *BenchConfig, out io.Writer) (*Stats, error) {
	fmt.Fprintf(out, "Endpoint:    %s\n", cfg.Endpoint)
	fmt.Fprintf(out, "Writers:     %d (in flight %d)\n", cfg.Writers, cfg.InFlight)
	fmt.Fprintf(out, "Watchers:    %d\n", cfg.Watchers)
	if cfg.Duration > 0 {
		fmt.Fprintf(out, "Duration:    %s\n", cfg.Duration)
	} else {
		fmt.Fprintf(out, "Records:     %d\n", cfg.Records)
	}
	if cfg.Rate > 0 {
		fmt.Fprintf(out, "Rate:        %d/s\n", cfg.Rate)
	}
	fmt.Fprintln(out)

	writer, err := client.New(client.Config{Endpoint: cfg.Endpoint})
	if err != nil {
		return nil, err
	}
	defer writer.Close()

	stats := NewStats(cfg.Watchers)

	// Watchers stop once they have seen the last created id, or when the
	// drain window closes.
	watchCtx, stopWatchers := context.WithCancel(ctx)
	defer stopWatchers()
	done := make(chan struct{})

	var watchWG sync.WaitGroup
	for i := 0; i < cfg.Watchers; i++ {
		c, err := client.New(client.Config{Endpoint: cfg.Endpoint})
		if err != nil {
			return nil, err
		}
		defer c.Close()

		w, err := c.WatchRecords(ctx)
		if err != nil {
			return nil, fmt.Errorf("watcher %d: %w", i, err)
		}

		watchWG.Add(1)
		go runWatcher(watchCtx, w, stats, stats.Watcher(i), done, &watchWG)
	}

	opsChan := make(chan struct{}, cfg.Writers*10)
	var writeWG sync.WaitGroup
	start := time.Now()

	for i := 0; i < cfg.Writers; i++ {
		writeWG.Add(1)
		go runWriter(ctx, writer.Router(), cfg.InFlight, stats, opsChan, &writeWG)
	}

	reporterCtx, stopReporter := context.WithCancel(ctx)
	go reportProgress(reporterCtx, out, stats)

	feed(ctx, cfg, opsChan)
	close(opsChan)
	writeWG.Wait()
	elapsed := time.Since(start)

	// Drain deliveries
	close(done)
	drained := make(chan struct{})
	go func() {
		watchWG.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(cfg.Drain):
		stopWatchers()
		<-drained
	case <-ctx.Done():
		<-drained
	}
	stopReporter()

	stats.PrintFinal(out, elapsed)
	return stats, nil
}

// feed hands out one token per create, honoring the record count,
// duration and rate limits.
func feed(ctx context.Context, cfg *BenchConfig, opsChan chan<- struct{}) {
	var deadline <-chan time.Time
	if cfg.Duration > 0 {
		timer := time.NewTimer(cfg.Duration)
		defer timer.Stop()
		deadline = timer.C
	}

	var tick <-chan time.Time
	if cfg.Rate > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(cfg.Rate))
		defer ticker.Stop()
		tick = ticker.C
	}

	for i := 0; cfg.Duration > 0 || i < cfg.Records; i++ {
		if tick != nil {
			select {
			case <-ctx.Done():
				return
			case <-deadline:
				return
			case <-tick:
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-deadline:
			return
		case opsChan <- struct{}{}:
		}
	}
}

type pendingCreate struct {
	start time.Time
	fut   *future.Future[*client.Result]
}

// runWriter keeps up to inFlight creates outstanding on the router and
// settles them in issue order.
func runWriter(ctx context.Context, r *client.Router, inFlight int, stats *Stats, opsChan <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	pending := make([]pendingCreate, 0, inFlight)
	settle := func() {
		p := pending[0]
		pending = pending[1:]

		res, err := p.fut.Get()
		var data wire.CreateRecordData
		if err == nil {
			err = res.Decode(&data)
		}
		if err != nil {
			stats.RecordCreateError()
			return
		}
		stats.RecordCreate(data.CreateRecord.ID, time.Since(p.start))
	}

	for range opsChan {
		if len(pending) == inFlight {
			settle()
		}
		start := time.Now()
		pending = append(pending, pendingCreate{
			start: start,
			fut:   r.Go(ctx, wire.CreateRecord(benchContent(start))),
		})
	}
	for len(pending) > 0 {
		settle()
	}
}

// runWatcher consumes one subscription. After done is closed it exits as
// soon as it has caught up with the last created id.
func runWatcher(ctx context.Context, w *client.RecordWatch, stats *Stats, ws *WatcherStats, done <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	defer w.Close()

	for {
		select {
		case <-done:
			if last := stats.MaxID(); last == 0 || ws.Last >= last {
				return
			}
		default:
		}

		next, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		rec, err := w.Next(next)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			ws.Err = err
			return
		}

		ws.observe(rec.ID)
		if sent, ok := benchSentAt(rec.Content); ok {
			stats.RecordDelivery(time.Since(sent))
		}
	}
}
