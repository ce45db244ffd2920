package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewFromUniversalClient(rdb)
}

func TestClient_IncrExpire_FixedWindowShape(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	n, err := c.Incr(ctx, "ratelimit:shared:tok_1:1000")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
	require.NoError(t, c.Expire(ctx, "ratelimit:shared:tok_1:1000", 60*time.Second))

	n, err = c.Incr(ctx, "ratelimit:shared:tok_1:1000")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestClient_SetGet_TTL(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	require.NoError(t, c.Set(ctx, "latency:OPENAI", "120", 60*time.Second))
	v, err := c.Get(ctx, "latency:OPENAI")
	require.NoError(t, err)
	require.Equal(t, "120", v)

	_, err = c.Get(ctx, "latency:MISSING")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClient_ListOps_SuspiciousQueue(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	require.NoError(t, c.LPush(ctx, "suspicious:tok_1:INVALID_SIGNATURE", "e1", "e2"))
	n, err := c.LLen(ctx, "suspicious:tok_1:INVALID_SIGNATURE")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	v, ok, err := c.RPop(ctx, "suspicious:tok_1:INVALID_SIGNATURE")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "e1", v)
}

func TestClient_SetOps_NonceDedup(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)

	ok, err := c.SetNX(ctx, "nonce:tok_1:abc", "1", 600*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.SetNX(ctx, "nonce:tok_1:abc", "1", 600*time.Second)
	require.NoError(t, err)
	require.False(t, ok, "replayed nonce must not be re-set")
}
