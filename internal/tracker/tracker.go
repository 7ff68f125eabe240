// Package tracker maintains real-time presence data for tracked hosts: the
// number of open page views per host and the most-viewed paths per host.
//
// Writes are incremental (HINCRBY / ZINCRBY by ±1) and fire-and-forget: the
// beacon path never waits on the store and a failed write is dropped. Reads
// compose the host counter and the top-pages ranking into a HostInfo,
// reporting partial results alongside the first error.
package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/umrum/umrum/pkg/metrics"
	pkgredis "github.com/umrum/umrum/pkg/redis"
	"github.com/umrum/umrum/pkg/resilience"
)

// DefaultTopPagesLimit is the size of the top-pages window.
const DefaultTopPagesLimit = 10

// Store is the subset of the tracking store the tracker needs. Every method
// must be a single-key atomic operation safe for concurrent use.
type Store interface {
	SetHash(ctx context.Context, key string, fields map[string]any) error
	DeleteKey(ctx context.Context, key string) error
	IncrementHashField(ctx context.Context, key, field string, delta int64) error
	IncrementSortedSetMember(ctx context.Context, key string, delta float64, member string) error
	ReadHashField(ctx context.Context, key, field string) (string, bool, error)
	ReadSortedSetTopN(ctx context.Context, key string, n int) ([]pkgredis.ScoredMember, error)
}

// Options tunes the asynchronous write path. Zero values take defaults.
type Options struct {
	Workers       int
	QueueSize     int
	WriteTimeout  time.Duration
	TopPagesLimit int
	Breaker       *resilience.CircuitBreaker
	Metrics       *metrics.Metrics
}

func (o *Options) setDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 500 * time.Millisecond
	}
	if o.TopPagesLimit <= 0 {
		o.TopPagesLimit = DefaultTopPagesLimit
	}
}

// Tracker registers and removes page views and reads host info.
type Tracker struct {
	store   Store
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	// queues holds one channel per worker. Operations for a view id always
	// land on the same queue, so its writes apply in call order.
	queues []chan operation
	wg     sync.WaitGroup
}

// New creates a Tracker and starts its write workers. Call Close to drain
// pending writes and stop the workers.
func New(store Store, opts Options) *Tracker {
	opts.setDefaults()
	t := &Tracker{
		store:   store,
		opts:    opts,
		logger:  slog.Default().With("component", "visit-tracker"),
		metrics: opts.Metrics,
		queues:  make([]chan operation, opts.Workers),
	}
	perWorker := (opts.QueueSize + opts.Workers - 1) / opts.Workers
	for i := range t.queues {
		t.queues[i] = make(chan operation, perWorker)
		t.wg.Add(1)
		go t.worker(t.queues[i])
	}
	t.logger.Info("visit tracker started",
		"workers", opts.Workers,
		"queue_size", opts.QueueSize,
		"write_timeout", opts.WriteTimeout,
	)
	return t
}

// RegisterPageView records an open view: it stores the view record keyed by
// view.ID and increments the host counter and the path score by one. It
// returns immediately; store failures are never reported to the caller.
func (t *Tracker) RegisterPageView(view ActiveView) {
	t.enqueue(operation{kind: opRegister, view: view})
}

// RemovePageView mirrors RegisterPageView: it deletes the view record and
// decrements the host counter and the path score by one.
func (t *Tracker) RemovePageView(view ActiveView) {
	t.enqueue(operation{kind: opRemove, view: view})
}

// Close stops accepting page views and waits for queued ones to be written.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	for _, q := range t.queues {
		close(q)
	}
	t.mu.Unlock()

	t.wg.Wait()
	t.metrics.QueueDepth(0)
	t.logger.Info("visit tracker stopped")
}
