package redisx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCache(rdb), mr, rdb
}

func TestCache_GetMiss(t *testing.T) {
	c, _, _ := newTestCache(t)

	_, err := c.Get(context.Background(), CartViewKey(1))
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCache_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	c, mr, _ := newTestCache(t)

	require.NoError(t, c.Set(ctx, PaymentKey(7), []byte("abc"), TTLPayment))
	got, err := c.Get(ctx, PaymentKey(7))
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
	assert.Equal(t, TTLPayment, mr.TTL("payment_7"))

	require.NoError(t, c.Delete(ctx, PaymentKey(7)))
	_, err = c.Get(ctx, PaymentKey(7))
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestCache_FillWithCurrentGeneration(t *testing.T) {
	ctx := context.Background()
	c, mr, _ := newTestCache(t)
	key, genKey := CartViewKey(3), CartGenerationKey(3)

	gen, err := c.Generation(ctx, genKey)
	require.NoError(t, err)
	assert.Equal(t, int64(0), gen)

	require.NoError(t, c.Fill(ctx, key, genKey, gen, []byte(`{"count":1}`), TTLCartView))

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":1}`, string(got))
	assert.Equal(t, 15*time.Minute, mr.TTL("cart_3"))
}

func TestCache_FillRejectedAfterInvalidate(t *testing.T) {
	ctx := context.Background()
	c, mr, _ := newTestCache(t)
	key, genKey := CartViewKey(4), CartGenerationKey(4)

	gen, err := c.Generation(ctx, genKey)
	require.NoError(t, err)

	// a mutation lands while the reader is still building its value
	require.NoError(t, c.Invalidate(ctx, key, genKey))

	err = c.Fill(ctx, key, genKey, gen, []byte("stale"), TTLCartView)
	assert.ErrorIs(t, err, ErrStale)
	assert.False(t, mr.Exists(key))

	gen, err = c.Generation(ctx, genKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), gen)
	assert.Equal(t, TTLCartGeneration, mr.TTL(genKey))
}

func TestCache_InvalidateDropsValue(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newTestCache(t)
	key, genKey := CartViewKey(5), CartGenerationKey(5)

	require.NoError(t, c.Fill(ctx, key, genKey, 0, []byte("v1"), TTLCartView))
	require.NoError(t, c.Invalidate(ctx, key, genKey))

	_, err := c.Get(ctx, key)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestClaim(t *testing.T) {
	ctx := context.Background()
	_, _, rdb := newTestCache(t)
	key := DedupKey("inventory", "evt-1")

	ok, err := Claim(ctx, rdb, key, TTLDedup)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Claim(ctx, rdb, key, TTLDedup)
	require.NoError(t, err)
	assert.False(t, ok)
}
