package tracker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umrum/umrum/pkg/config"
	pkgredis "github.com/umrum/umrum/pkg/redis"
)

// countingStore counts top-pages queries against a real client.
type countingStore struct {
	*pkgredis.Client
	topQueries atomic.Int64
}

func (c *countingStore) ReadSortedSetTopN(ctx context.Context, key string, n int) ([]pkgredis.ScoredMember, error) {
	c.topQueries.Add(1)
	return c.Client.ReadSortedSetTopN(ctx, key, n)
}

func newRedisStore(t *testing.T) (*miniredis.Miniredis, *countingStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := pkgredis.NewClient(config.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return mr, &countingStore{Client: client}
}

// settle runs fn against a fresh tracker and drains its writes.
func settle(store Store, fn func(tr *Tracker)) {
	tr := New(store, Options{Workers: 4})
	fn(tr)
	tr.Close()
}

func TestRedis_RegisterThenRead(t *testing.T) {
	mr, store := newRedisStore(t)
	settle(store, func(tr *Tracker) {
		tr.RegisterPageView(ActiveView{ID: "U1", Host: "h.com", Path: "/"})
	})

	tr := New(store, Options{})
	defer tr.Close()
	info, err := tr.GetHostInfo(context.Background(), "h.com")
	require.NoError(t, err)
	assert.Equal(t, Measured(1), info.CurrentVisits)
	assert.Equal(t, []PageScore{{Path: "/", Score: 1}}, info.TopPages)

	assert.Equal(t, "h.com", mr.HGet("view:U1", "host"))
	assert.Equal(t, "/", mr.HGet("view:U1", "path"))
}

func TestRedis_TwoPathsSameHost(t *testing.T) {
	_, store := newRedisStore(t)
	settle(store, func(tr *Tracker) {
		tr.RegisterPageView(ActiveView{ID: "U1", Host: "h.com", Path: "/"})
		tr.RegisterPageView(ActiveView{ID: "U2", Host: "h.com", Path: "/a"})
	})

	tr := New(store, Options{})
	defer tr.Close()
	info, err := tr.GetHostInfo(context.Background(), "h.com")
	require.NoError(t, err)
	assert.Equal(t, Measured(2), info.CurrentVisits)
	assert.ElementsMatch(t, []PageScore{{Path: "/", Score: 1}, {Path: "/a", Score: 1}}, info.TopPages)
}

func TestRedis_NeverSeenHost(t *testing.T) {
	_, store := newRedisStore(t)
	tr := New(store, Options{})
	defer tr.Close()

	info, err := tr.GetHostInfo(context.Background(), "never-seen.com")
	require.NoError(t, err)
	assert.False(t, info.CurrentVisits.IsMeasured())
	assert.Nil(t, info.TopPages)
	assert.Zero(t, store.topQueries.Load())
}

func TestRedis_RegisterThenRemove(t *testing.T) {
	mr, store := newRedisStore(t)
	view := ActiveView{ID: "U1", Host: "h.com", Path: "/"}
	settle(store, func(tr *Tracker) { tr.RegisterPageView(view) })
	settle(store, func(tr *Tracker) { tr.RemovePageView(view) })

	tr := New(store, Options{})
	defer tr.Close()
	info, err := tr.GetHostInfo(context.Background(), "h.com")
	require.NoError(t, err)
	assert.Equal(t, Measured(0), info.CurrentVisits)
	assert.NotNil(t, info.TopPages)
	assert.False(t, mr.Exists("view:U1"))
}

// slowHashStore delays SetHash so a later delete for the same key would
// overtake it if the two ran on different workers.
type slowHashStore struct {
	*pkgredis.Client
	delay time.Duration
}

func (s *slowHashStore) SetHash(ctx context.Context, key string, fields map[string]any) error {
	time.Sleep(s.delay)
	return s.Client.SetHash(ctx, key, fields)
}

func TestRedis_RemoveAfterSlowRegisterLeavesNoView(t *testing.T) {
	mr, store := newRedisStore(t)
	slow := &slowHashStore{Client: store.Client, delay: 50 * time.Millisecond}

	tr := New(slow, Options{Workers: 4, WriteTimeout: time.Second})
	for i := 0; i < 8; i++ {
		view := ActiveView{ID: fmt.Sprintf("U%d", i), Host: "h.com", Path: "/"}
		tr.RegisterPageView(view)
		tr.RemovePageView(view)
	}
	tr.Close()

	for i := 0; i < 8; i++ {
		assert.False(t, mr.Exists(fmt.Sprintf("view:U%d", i)), "view:U%d outlived its disconnect", i)
	}
	assert.Equal(t, "0", mr.HGet("host:h.com", "curr_visits"))
}

func TestRedis_CounterSymmetry(t *testing.T) {
	mr, store := newRedisStore(t)
	settle(store, func(tr *Tracker) {
		tr.RegisterPageView(ActiveView{ID: "seed", Host: "h.com", Path: "/seed"})
	})

	paths := []string{"/", "/a", "/b/c"}
	views := make([]ActiveView, 0, 30)
	for i := 0; i < 30; i++ {
		views = append(views, ActiveView{
			ID:   fmt.Sprintf("U%d", i),
			Host: "h.com",
			Path: paths[i%len(paths)],
		})
	}

	settle(store, func(tr *Tracker) {
		var wg sync.WaitGroup
		for _, v := range views {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tr.RegisterPageView(v)
			}()
		}
		wg.Wait()
	})
	settle(store, func(tr *Tracker) {
		for _, v := range views {
			tr.RemovePageView(v)
		}
	})

	assert.Equal(t, "1", mr.HGet("host:h.com", "curr_visits"))
	members, err := mr.ZMembers("toppages:h.com")
	require.NoError(t, err)
	var sum float64
	for _, m := range members {
		score, err := mr.ZScore("toppages:h.com", m)
		require.NoError(t, err)
		sum += score
	}
	assert.Equal(t, float64(1), sum)
}

func TestRedis_ReadErrorCarriesPartialResult(t *testing.T) {
	mr, store := newRedisStore(t)
	settle(store, func(tr *Tracker) {
		tr.RegisterPageView(ActiveView{ID: "U1", Host: "h.com", Path: "/"})
	})
	// Replace the ranking with a plain string so the ZSET read fails.
	mr.Del("toppages:h.com")
	require.NoError(t, mr.Set("toppages:h.com", "not a sorted set"))

	tr := New(store, Options{})
	defer tr.Close()
	info, err := tr.GetHostInfo(context.Background(), "h.com")
	require.Error(t, err)
	assert.Equal(t, Measured(1), info.CurrentVisits)
	assert.Nil(t, info.TopPages)
}

func TestRedis_GetVisitCountsSkipsTopPages(t *testing.T) {
	mr, store := newRedisStore(t)
	settle(store, func(tr *Tracker) {
		tr.RegisterPageView(ActiveView{ID: "U1", Host: "a.com", Path: "/"})
		tr.RegisterPageView(ActiveView{ID: "U2", Host: "a.com", Path: "/x"})
	})
	mr.HSet("host:bad.com", "curr_visits", "many")

	tr := New(store, Options{})
	defer tr.Close()
	counts, err := tr.GetVisitCounts(context.Background(), []string{"a.com", "new.com", "bad.com"})
	assert.ErrorContains(t, err, "parsing visit counter for bad.com")

	require.Len(t, counts, 3)
	assert.Equal(t, HostCount{Host: "a.com", CurrentVisits: Measured(2)}, counts[0])
	assert.Equal(t, HostCount{Host: "new.com", CurrentVisits: NeverMeasured()}, counts[1])
	assert.Error(t, counts[2].Err)
	assert.False(t, counts[2].CurrentVisits.IsMeasured())
	assert.Zero(t, store.topQueries.Load())
}
