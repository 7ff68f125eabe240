package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/umrum/umrum/pkg/kafka"
	"github.com/umrum/umrum/pkg/metrics"
)

// Publisher is the part of kafka.Producer the collector uses.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
}

// CollectorOptions tunes batching. Zero values take defaults.
type CollectorOptions struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	Metrics       *metrics.Metrics
}

// Collector buffers beacon events in memory and publishes them in batches
// keyed by host. Track never blocks: a full buffer drops the event.
type Collector struct {
	publisher Publisher
	opts      CollectorOptions
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu     sync.RWMutex
	closed bool
	ch     chan BeaconEvent
	done   chan struct{}
}

// NewCollector creates a Collector and starts its publishing loop.
func NewCollector(publisher Publisher, opts CollectorOptions) *Collector {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 10000
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	c := &Collector{
		publisher: publisher,
		opts:      opts,
		metrics:   opts.Metrics,
		logger:    slog.Default().With("component", "event-collector"),
		ch:        make(chan BeaconEvent, opts.BufferSize),
		done:      make(chan struct{}),
	}
	go c.run()
	c.logger.Info("event collector started",
		"buffer_size", opts.BufferSize,
		"batch_size", opts.BatchSize,
		"flush_interval", opts.FlushInterval,
	)
	return c
}

// Track queues ev for publishing.
func (c *Collector) Track(ev BeaconEvent) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		c.metrics.EventPublished("dropped")
		return
	}
	select {
	case c.ch <- ev:
	default:
		c.metrics.EventPublished("dropped")
		c.logger.Warn("beacon event dropped (buffer full)", "host", ev.Host)
	}
}

// Close stops intake and publishes whatever is still buffered.
func (c *Collector) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.ch)
	c.mu.Unlock()
	<-c.done
}

func (c *Collector) run() {
	defer close(c.done)
	ticker := time.NewTicker(c.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]kafka.Event, 0, c.opts.BatchSize)
	for {
		select {
		case ev, ok := <-c.ch:
			if !ok {
				c.flush(batch)
				return
			}
			batch = append(batch, kafka.Event{Key: ev.Host, Value: ev})
			if len(batch) >= c.opts.BatchSize {
				c.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			c.flush(batch)
			batch = batch[:0]
		}
	}
}

// flush publishes batch once. Failed batches are not retried: the archive
// is approximate, like the live counters.
func (c *Collector) flush(batch []kafka.Event) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.publisher.PublishBatch(ctx, batch); err != nil {
		c.metrics.EventsPublished("error", len(batch))
		c.logger.Error("beacon event batch dropped",
			"batch_size", len(batch),
			"error", err,
		)
		return
	}
	c.metrics.EventsPublished("ok", len(batch))
}
