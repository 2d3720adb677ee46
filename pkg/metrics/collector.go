package metrics

import (
	"time"
)

// Source reports point-in-time counts for the gauge metrics
type Source interface {
	BlockCounts() map[string]int
	TaskCounts() map[string]int
}

// Collector periodically copies counts from a Source into gauges
type Collector struct {
	source   Source
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source Source, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.Collect()

		for {
			select {
			case <-ticker.C:
				c.Collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

// Collect performs a single collection
func (c *Collector) Collect() {
	BlocksTotal.Reset()
	for status, n := range c.source.BlockCounts() {
		BlocksTotal.WithLabelValues(status).Set(float64(n))
	}

	TasksTotal.Reset()
	for state, n := range c.source.TaskCounts() {
		TasksTotal.WithLabelValues(state).Set(float64(n))
	}
}
