package metrics

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"
)

// RecordCounter returns the number of records in the dispatch ledger
type RecordCounter func(ctx context.Context) int

// Collector periodically refreshes the system gauges
type Collector struct {
	metrics     *Metrics
	records     RecordCounter
	storagePath string
	interval    time.Duration
	startTime   time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewCollector creates a new collector. records and storagePath are optional.
func NewCollector(m *Metrics, records RecordCounter, storagePath string, interval time.Duration) *Collector {
	if interval == 0 {
		interval = 15 * time.Second
	}
	return &Collector{
		metrics:     m,
		records:     records,
		storagePath: storagePath,
		interval:    interval,
		startTime:   time.Now(),
		stopCh:      make(chan struct{}),
	}
}

// Start begins refreshing gauges in the background
func (c *Collector) Start(ctx context.Context) {
	c.collect(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				c.collect(ctx)
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Collector) collect(ctx context.Context) {
	c.metrics.UptimeSeconds.Set(time.Since(c.startTime).Seconds())
	c.metrics.Goroutines.Set(float64(runtime.NumGoroutine()))

	if c.storagePath != "" {
		if info, err := os.Stat(c.storagePath); err == nil {
			c.metrics.StorageUsedBytes.Set(float64(info.Size()))
		}
	}

	if c.records != nil {
		c.metrics.LedgerRecords.Set(float64(c.records(ctx)))
	}
}
