package hosts

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/umrum/umrum/pkg/errors"
)

const knownID = "0123456789abcdef0123456789abcdef"

type fakeLookup struct {
	calls   atomic.Int32
	hosts   map[string]string
	err     error
	release chan struct{}
}

func (f *fakeLookup) HostByTrackingID(ctx context.Context, id string) (Host, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return Host{}, ctx.Err()
		}
	}
	if f.err != nil {
		return Host{}, f.err
	}
	name, ok := f.hosts[id]
	if !ok {
		return Host{}, apperrors.ErrNotFound
	}
	return Host{Hostname: name, TrackingID: id}, nil
}

func TestResolver_CachesHits(t *testing.T) {
	lookup := &fakeLookup{hosts: map[string]string{knownID: "a.com"}}
	r := NewResolver(lookup, ResolverOptions{})

	for i := 0; i < 3; i++ {
		host, err := r.Resolve(context.Background(), knownID)
		require.NoError(t, err)
		assert.Equal(t, "a.com", host)
	}
	assert.Equal(t, int32(1), lookup.calls.Load())

	r.Forget(knownID)
	_, err := r.Resolve(context.Background(), knownID)
	require.NoError(t, err)
	assert.Equal(t, int32(2), lookup.calls.Load())
}

func TestResolver_CachesMisses(t *testing.T) {
	lookup := &fakeLookup{hosts: map[string]string{}}
	r := NewResolver(lookup, ResolverOptions{NegativeTTL: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := r.Resolve(context.Background(), knownID)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	}
	assert.Equal(t, int32(1), lookup.calls.Load())
}

func TestResolver_MalformedIDSkipsLookup(t *testing.T) {
	lookup := &fakeLookup{}
	r := NewResolver(lookup, ResolverOptions{})

	for _, id := range []string{"", "HOST_ID_3233", knownID + "00", "0123456789ABCDEF0123456789ABCDEF"} {
		_, err := r.Resolve(context.Background(), id)
		assert.ErrorIs(t, err, apperrors.ErrNotFound, id)
	}
	assert.Zero(t, lookup.calls.Load())
}

func TestResolver_StoreErrorIsNotCached(t *testing.T) {
	boom := errors.New("connection refused")
	lookup := &fakeLookup{err: boom}
	r := NewResolver(lookup, ResolverOptions{})

	_, err := r.Resolve(context.Background(), knownID)
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	assert.ErrorIs(t, err, boom)

	lookup.err = nil
	lookup.hosts = map[string]string{knownID: "a.com"}
	host, err := r.Resolve(context.Background(), knownID)
	require.NoError(t, err)
	assert.Equal(t, "a.com", host)
}

func TestResolver_CollapsesConcurrentMisses(t *testing.T) {
	lookup := &fakeLookup{hosts: map[string]string{knownID: "a.com"}, release: make(chan struct{})}
	r := NewResolver(lookup, ResolverOptions{})

	var wg sync.WaitGroup
	results := make([]string, 10)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = r.Resolve(context.Background(), knownID)
		}()
	}
	require.Eventually(t, func() bool { return lookup.calls.Load() >= 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(lookup.release)
	wg.Wait()

	for _, got := range results {
		assert.Equal(t, "a.com", got)
	}
	assert.Equal(t, int32(1), lookup.calls.Load())
}

func TestResolver_CancelledCallerDoesNotFailOthers(t *testing.T) {
	lookup := &fakeLookup{hosts: map[string]string{knownID: "a.com"}, release: make(chan struct{})}
	r := NewResolver(lookup, ResolverOptions{LookupTimeout: 5 * time.Second})

	leaving, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Resolve(leaving, knownID)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return lookup.calls.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan string, 1)
	go func() {
		host, err := r.Resolve(context.Background(), knownID)
		assert.NoError(t, err)
		second <- host
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(lookup.release)
	assert.Equal(t, "a.com", <-second)
	assert.Equal(t, int32(1), lookup.calls.Load())
}

func TestResolver_SharedLookupIsBounded(t *testing.T) {
	lookup := &fakeLookup{release: make(chan struct{})}
	r := NewResolver(lookup, ResolverOptions{LookupTimeout: 20 * time.Millisecond})

	_, err := r.Resolve(context.Background(), knownID)
	assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
