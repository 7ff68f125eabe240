package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/umrum/umrum/pkg/config"
)

func setupClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(config.RedisConfig{Addr: mr.Addr(), PoolSize: 4})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestNewClient_ConnectionFailure(t *testing.T) {
	_, err := NewClient(config.RedisConfig{Addr: "127.0.0.1:1", DialTimeout: 200 * time.Millisecond})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}

func TestHashVerbs(t *testing.T) {
	client, mr := setupClient(t)
	ctx := context.Background()

	require.NoError(t, client.SetHash(ctx, "view:U1", map[string]any{"host": "h.com", "path": "/"}))
	assert.Equal(t, "h.com", mr.HGet("view:U1", "host"))

	require.NoError(t, client.IncrementHashField(ctx, "host:h.com", "curr_visits", 1))
	require.NoError(t, client.IncrementHashField(ctx, "host:h.com", "curr_visits", 1))
	require.NoError(t, client.IncrementHashField(ctx, "host:h.com", "curr_visits", -1))

	v, ok, err := client.ReadHashField(ctx, "host:h.com", "curr_visits")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	require.NoError(t, client.DeleteKey(ctx, "view:U1"))
	assert.False(t, mr.Exists("view:U1"))
}

func TestReadHashField_Missing(t *testing.T) {
	client, _ := setupClient(t)

	v, ok, err := client.ReadHashField(context.Background(), "host:never-seen.com", "curr_visits")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, v)
}

func TestReadSortedSetTopN(t *testing.T) {
	client, _ := setupClient(t)
	ctx := context.Background()

	for path, hits := range map[string]int{"/": 5, "/a": 2, "/b": 9} {
		for i := 0; i < hits; i++ {
			require.NoError(t, client.IncrementSortedSetMember(ctx, "toppages:h.com", 1, path))
		}
	}

	top, err := client.ReadSortedSetTopN(ctx, "toppages:h.com", 2)
	require.NoError(t, err)
	assert.Equal(t, []ScoredMember{{Member: "/b", Score: 9}, {Member: "/", Score: 5}}, top)

	empty, err := client.ReadSortedSetTopN(ctx, "toppages:none.com", 10)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestReadErrorsSurface(t *testing.T) {
	client, mr := setupClient(t)
	mr.SetError("ERR injected failure")

	_, _, err := client.ReadHashField(context.Background(), "host:h.com", "curr_visits")
	assert.Error(t, err)
	_, err = client.ReadSortedSetTopN(context.Background(), "toppages:h.com", 10)
	assert.Error(t, err)
}

func TestStringVerbs(t *testing.T) {
	client, mr := setupClient(t)
	ctx := context.Background()

	require.NoError(t, client.Set(ctx, "session:abc", `{"user_id":1}`, time.Minute))
	got, err := client.Get(ctx, "session:abc")
	require.NoError(t, err)
	assert.Equal(t, `{"user_id":1}`, got)
	assert.Equal(t, time.Minute, mr.TTL("session:abc"))

	require.NoError(t, client.Del(ctx, "session:abc"))
	_, err = client.Get(ctx, "session:abc")
	assert.True(t, IsNilError(err))
}
