package tracker

import (
	"context"
	"errors"
	"sync"

	pkgredis "github.com/umrum/umrum/pkg/redis"
)

// call is one recorded store invocation.
type call struct {
	verb  string
	key   string
	field string
	delta float64
	arg   any
}

// fakeStore records every call and serves canned read results. When gate is
// non-nil, writes block until it is closed.
type fakeStore struct {
	mu    sync.Mutex
	calls []call

	counter    string
	hasCounter bool
	counterErr error

	top    []pkgredis.ScoredMember
	topErr error

	writeErr error
	gate     chan struct{}
}

func (f *fakeStore) record(c call) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeStore) waitGate(ctx context.Context) {
	if f.gate == nil {
		return
	}
	select {
	case <-f.gate:
	case <-ctx.Done():
	}
}

func (f *fakeStore) SetHash(ctx context.Context, key string, fields map[string]any) error {
	f.waitGate(ctx)
	f.record(call{verb: "hset", key: key, arg: fields})
	return f.writeErr
}

func (f *fakeStore) DeleteKey(ctx context.Context, key string) error {
	f.waitGate(ctx)
	f.record(call{verb: "del", key: key})
	return f.writeErr
}

func (f *fakeStore) IncrementHashField(ctx context.Context, key, field string, delta int64) error {
	f.waitGate(ctx)
	f.record(call{verb: "hincrby", key: key, field: field, delta: float64(delta)})
	return f.writeErr
}

func (f *fakeStore) IncrementSortedSetMember(ctx context.Context, key string, delta float64, member string) error {
	f.waitGate(ctx)
	f.record(call{verb: "zincrby", key: key, delta: delta, arg: member})
	return f.writeErr
}

func (f *fakeStore) ReadHashField(_ context.Context, key, field string) (string, bool, error) {
	f.record(call{verb: "hget", key: key, field: field})
	return f.counter, f.hasCounter, f.counterErr
}

func (f *fakeStore) ReadSortedSetTopN(_ context.Context, key string, n int) ([]pkgredis.ScoredMember, error) {
	f.record(call{verb: "zrevrange", key: key, arg: n})
	return f.top, f.topErr
}

func (f *fakeStore) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]call, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeStore) verbs() []string {
	var out []string
	for _, c := range f.Calls() {
		out = append(out, c.verb)
	}
	return out
}

func (f *fakeStore) count(verb string) int {
	n := 0
	for _, c := range f.Calls() {
		if c.verb == verb {
			n++
		}
	}
	return n
}

var errStore = errors.New("connection refused")
