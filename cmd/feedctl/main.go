// Command feedctl lists, creates and watches records on a livefeed server,
// and benchmarks write-to-delivery latency.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/maxpert/livefeed/client"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	log.Logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger().Level(zerolog.WarnLevel)

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "list":
		runList(args)
	case "create":
		runCreate(args)
	case "watch":
		runWatch(args)
	case "bench":
		runBench(args)
	case "version":
		fmt.Printf("feedctl version %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`feedctl - livefeed client

Usage:
  feedctl <command> [options]

Commands:
  list      Print every record
  create    Create a record from the remaining arguments
  watch     Print records as they are created
  bench     Run a write and fan-out benchmark
  version   Print version
  help      Show this help

Common Options:
  --url           GraphQL endpoint (default: http://127.0.0.1:4000/graphql)
  --timeout       Request timeout (default: 10s)

Bench Options:
  --writers       Concurrent writers (default: 4)
  --watchers      Concurrent subscriptions (default: 4)
  --records       Records to create (default: 10000)
  --duration      Duration to run (e.g., 30s), overrides --records
  --rate          Max creates per second across writers, 0 = unlimited (default: 0)
  --drain         Time to wait for deliveries after the last write (default: 5s)

Examples:
  feedctl create hello world
  feedctl watch --url=http://127.0.0.1:4000/graphql
  feedctl bench --writers=8 --watchers=16 --duration=30s`)
}

func commonFlags(fs *flag.FlagSet) (endpoint *string, timeout *time.Duration) {
	endpoint = fs.String("url", "http://127.0.0.1:4000/graphql", "GraphQL endpoint")
	timeout = fs.Duration("timeout", 10*time.Second, "Request timeout")
	return endpoint, timeout
}

func parse(fs *flag.FlagSet, args []string) {
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}
}

func newClient(endpoint string) *client.Client {
	c, err := client.New(client.Config{Endpoint: endpoint})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	return c
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()
	return ctx, cancel
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	endpoint, timeout := commonFlags(fs)
	parse(fs, args)

	c := newClient(*endpoint)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	records, err := c.Records(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		os.Exit(1)
	}
	for _, r := range records {
		fmt.Printf("%d\t%s\n", r.ID, r.Content)
	}
}

func runCreate(args []string) {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	endpoint, timeout := commonFlags(fs)
	parse(fs, args)

	content := strings.Join(fs.Args(), " ")
	c := newClient(*endpoint)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rec, err := c.Create(ctx, content)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Create failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%d\t%s\n", rec.ID, rec.Content)
}

func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	endpoint, timeout := commonFlags(fs)
	parse(fs, args)

	c := newClient(*endpoint)
	defer c.Close()

	ctx, cancel := signalContext()
	defer cancel()

	subCtx, subCancel := context.WithTimeout(ctx, *timeout)
	w, err := c.WatchRecords(subCtx)
	subCancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Watch failed: %v\n", err)
		os.Exit(1)
	}
	defer w.Close()

	for {
		rec, err := w.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fmt.Fprintf(os.Stderr, "Watch ended: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%d\t%s\n", rec.ID, rec.Content)
	}
}

func runBench(args []string) {
	cfg := &BenchConfig{}
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	endpoint, _ := commonFlags(fs)
	fs.IntVar(&cfg.Writers, "writers", 4, "Concurrent writers")
	fs.IntVar(&cfg.InFlight, "inflight", 1, "Outstanding creates per writer")
	fs.IntVar(&cfg.Watchers, "watchers", 4, "Concurrent subscriptions")
	fs.IntVar(&cfg.Records, "records", 10000, "Records to create")
	fs.DurationVar(&cfg.Duration, "duration", 0, "Duration to run (overrides --records)")
	fs.IntVar(&cfg.Rate, "rate", 0, "Max creates per second, 0 = unlimited")
	fs.DurationVar(&cfg.Drain, "drain", 5*time.Second, "Wait for deliveries after the last write")
	parse(fs, args)
	cfg.Endpoint = *endpoint

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	stats, err := executeBench(ctx, cfg, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Benchmark failed: %v\n", err)
		os.Exit(1)
	}
	if stats.Missing() > 0 || stats.OutOfOrder() > 0 {
		os.Exit(2)
	}
}
