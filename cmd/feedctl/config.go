package main

import (
	"fmt"
	"time"
)

type BenchConfig struct {
	// Connection
	Endpoint string

	// Workload
	Writers  int
	InFlight int // Outstanding creates per writer
	Watchers int
	Records  int           // Records to create when Duration is 0
	Duration time.Duration // Run time, overrides Records
	Rate     int           // Max creates per second across writers, 0 = unlimited

	// Time allowed for deliveries after the last write
	Drain time.Duration
}

func (c *BenchConfig) Validate() error {
	if c.Endpoint == "" {
		return fmt.Errorf("url cannot be empty")
	}

	if c.Writers < 1 {
		return fmt.Errorf("writers must be at least 1")
	}

	if c.InFlight < 0 {
		return fmt.Errorf("inflight must be non-negative")
	}
	if c.InFlight == 0 {
		c.InFlight = 1
	}

	if c.Watchers < 0 {
		return fmt.Errorf("watchers must be non-negative")
	}

	if c.Duration < 0 {
		return fmt.Errorf("duration must be non-negative")
	}

	if c.Duration == 0 && c.Records < 1 {
		return fmt.Errorf("records must be at least 1 when no duration is set")
	}

	if c.Rate < 0 {
		return fmt.Errorf("rate must be non-negative")
	}

	if c.Drain <= 0 {
		c.Drain = 5 * time.Second
	}

	return nil
}
