package tracker

import (
	"context"
	"errors"
	"hash/fnv"

	"github.com/umrum/umrum/pkg/resilience"
)

type opKind int

const (
	opRegister opKind = iota
	opRemove
)

func (k opKind) String() string {
	if k == opRemove {
		return "remove"
	}
	return "register"
}

type operation struct {
	kind opKind
	view ActiveView
}

// shard picks the worker queue for a view id.
func (t *Tracker) shard(id string) chan operation {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return t.queues[h.Sum32()%uint32(len(t.queues))]
}

func (t *Tracker) queued() int {
	n := 0
	for _, q := range t.queues {
		n += len(q)
	}
	return n
}

// enqueue hands op to the worker owning its view id without blocking. A
// full queue or a closed tracker drops the operation.
func (t *Tracker) enqueue(op operation) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		t.metrics.TrackerWrite(op.kind.String(), "dropped")
		return
	}
	select {
	case t.shard(op.view.ID) <- op:
		t.metrics.QueueDepth(t.queued())
	default:
		t.metrics.TrackerWrite(op.kind.String(), "dropped")
		t.logger.Warn("page view dropped (queue full)",
			"op", op.kind.String(),
			"host", op.view.Host,
		)
	}
}

func (t *Tracker) worker(queue <-chan operation) {
	defer t.wg.Done()
	for op := range queue {
		t.metrics.QueueDepth(t.queued())
		t.apply(op)
	}
}

// apply issues the three writes of op independently; a failure of one does
// not prevent the others.
func (t *Tracker) apply(op operation) {
	v := op.view
	switch op.kind {
	case opRegister:
		t.write("hset", v, func(ctx context.Context) error {
			return t.store.SetHash(ctx, viewKey(v.ID), map[string]any{
				"id":   v.ID,
				"host": v.Host,
				"path": v.Path,
			})
		})
		t.write("hincrby", v, func(ctx context.Context) error {
			return t.store.IncrementHashField(ctx, hostKey(v.Host), currentVisitsField, 1)
		})
		t.write("zincrby", v, func(ctx context.Context) error {
			return t.store.IncrementSortedSetMember(ctx, topPagesKey(v.Host), 1, v.Path)
		})
	case opRemove:
		t.write("del", v, func(ctx context.Context) error {
			return t.store.DeleteKey(ctx, viewKey(v.ID))
		})
		t.write("hincrby", v, func(ctx context.Context) error {
			return t.store.IncrementHashField(ctx, hostKey(v.Host), currentVisitsField, -1)
		})
		t.write("zincrby", v, func(ctx context.Context) error {
			return t.store.IncrementSortedSetMember(ctx, topPagesKey(v.Host), -1, v.Path)
		})
	}
}

// write runs one store write under the per-write deadline and the circuit
// breaker. Errors are logged and counted, then dropped.
func (t *Tracker) write(verb string, v ActiveView, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.opts.WriteTimeout)
	defer cancel()

	var err error
	if t.opts.Breaker != nil {
		err = t.opts.Breaker.Execute(ctx, fn)
	} else {
		err = fn(ctx)
	}

	switch {
	case err == nil:
		t.metrics.TrackerWrite(verb, "ok")
	case errors.Is(err, resilience.ErrCircuitOpen):
		t.metrics.TrackerWrite(verb, "dropped")
	default:
		t.metrics.TrackerWrite(verb, "error")
		t.logger.Debug("tracking write dropped",
			"verb", verb,
			"host", v.Host,
			"path", v.Path,
			"error", err,
		)
	}
}
