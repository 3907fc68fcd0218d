package dao

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCache(rdb, ttl), mr
}

func TestCacheRoyalty(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t, time.Minute)
	id := big.NewInt(7)

	_, _, ok, err := cache.GetRoyalty(ctx, coll, id)
	require.NoError(t, err)
	assert.False(t, ok)

	recipients := []common.Address{alice, bob}
	require.NoError(t, cache.SetRoyalty(ctx, coll, id, recipients, []uint16{500, 250}))

	got, bps, ok, err := cache.GetRoyalty(ctx, coll, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, recipients, got)
	assert.Equal(t, []uint16{500, 250}, bps)

	mr.FastForward(2 * time.Minute)
	_, _, ok, err = cache.GetRoyalty(ctx, coll, id)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCachePrice(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t, time.Minute)

	price, _ := new(big.Int).SetString("2500000000000000000000", 10)
	require.NoError(t, cache.SetPrice(ctx, weth, price, 8))

	got, decimals, ok, err := cache.GetPrice(ctx, weth)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, price.Cmp(got))
	assert.Equal(t, uint8(8), decimals)
}

func TestCacheDisabled(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t, 0)

	require.NoError(t, cache.SetPrice(ctx, weth, big.NewInt(1), 0))
	assert.False(t, mr.Exists(PriceKey(weth)))

	_, _, ok, err := cache.GetPrice(ctx, weth)
	require.NoError(t, err)
	assert.False(t, ok)
}
