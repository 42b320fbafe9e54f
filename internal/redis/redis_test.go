package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexevent/nexevent/internal/config"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.RedisHost = mr.Host()
	cfg.RedisPort = mr.Port()

	c := NewClient(cfg)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestSessionLifecycle(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))

	id, err := c.CreateSession(ctx, 42, time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	userID, err := c.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, uint(42), userID)

	mr.FastForward(2 * time.Hour)
	_, err = c.GetSession(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestDeleteSession(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	id, err := c.CreateSession(ctx, 7, time.Hour)
	require.NoError(t, err)

	require.NoError(t, c.DeleteSession(ctx, id))
	require.NoError(t, c.DeleteSession(ctx, id))

	_, err = c.GetSession(ctx, id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCache(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	type entry struct {
		Name string `json:"name"`
	}

	var got entry
	assert.ErrorIs(t, c.CacheGet(ctx, "k", &got), ErrCacheMiss)

	require.NoError(t, c.CacheSet(ctx, "k", entry{Name: "alice"}, time.Minute))
	require.NoError(t, c.CacheGet(ctx, "k", &got))
	assert.Equal(t, "alice", got.Name)

	mr.FastForward(2 * time.Minute)
	assert.ErrorIs(t, c.CacheGet(ctx, "k", &got), ErrCacheMiss)

	require.NoError(t, c.CacheSet(ctx, "k", entry{Name: "bob"}, time.Minute))
	require.NoError(t, c.CacheDelete(ctx, "k"))
	assert.ErrorIs(t, c.CacheGet(ctx, "k", &got), ErrCacheMiss)
}
