package evoasync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeClientConstructor() func(ctx context.Context) (*MemcachedClient, error) {
	return func(ctx context.Context) (*MemcachedClient, error) {
		return NewMemcachedClient(ClientConfig{}), nil
	}
}

func TestPuddlePool_AcquireReleaseStats(t *testing.T) {
	pool, err := NewPuddlePool(fakeClientConstructor(), 5)
	require.NoError(t, err)
	defer pool.Close()

	ctx := context.Background()

	res, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.NotNil(t, res.Value())

	stats := pool.Stats()
	assert.EqualValues(t, 1, stats.TotalConns)
	assert.EqualValues(t, 1, stats.ActiveConns)

	res.Release()

	stats = pool.Stats()
	assert.EqualValues(t, 1, stats.TotalConns)
	assert.EqualValues(t, 1, stats.IdleConns)
}

func TestPuddlePool_Destroy(t *testing.T) {
	pool, err := NewPuddlePool(fakeClientConstructor(), 5)
	require.NoError(t, err)
	defer pool.Close()

	ctx := context.Background()
	res, err := pool.Acquire(ctx)
	require.NoError(t, err)

	res.Destroy()

	stats := pool.Stats()
	assert.EqualValues(t, 0, stats.TotalConns)
	assert.EqualValues(t, 1, stats.DestroyedConns)
}

func TestChannelPool_AcquireReuse(t *testing.T) {
	pool, err := NewChannelPool(fakeClientConstructor(), 2)
	require.NoError(t, err)
	defer pool.Close()

	ctx := context.Background()

	res, err := pool.Acquire(ctx)
	require.NoError(t, err)
	first := res.Value()
	res.Release()

	stats := pool.Stats()
	assert.EqualValues(t, 1, stats.TotalConns)
	assert.EqualValues(t, 1, stats.IdleConns)

	res2, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, first, res2.Value())

	stats = pool.Stats()
	assert.EqualValues(t, 1, stats.CreatedConns, "second acquire should reuse, not create")
}

func TestChannelPool_GrowsUpToMaxSize(t *testing.T) {
	pool, err := NewChannelPool(fakeClientConstructor(), 2)
	require.NoError(t, err)
	defer pool.Close()

	ctx := context.Background()

	res1, err := pool.Acquire(ctx)
	require.NoError(t, err)
	res2, err := pool.Acquire(ctx)
	require.NoError(t, err)
	assert.NotSame(t, res1.Value(), res2.Value())

	stats := pool.Stats()
	assert.EqualValues(t, 2, stats.TotalConns)
}

func TestChannelPool_Destroy(t *testing.T) {
	pool, err := NewChannelPool(fakeClientConstructor(), 2)
	require.NoError(t, err)
	defer pool.Close()

	ctx := context.Background()
	res, err := pool.Acquire(ctx)
	require.NoError(t, err)

	res.Destroy()

	stats := pool.Stats()
	assert.EqualValues(t, 0, stats.TotalConns)
	assert.EqualValues(t, 1, stats.DestroyedConns)
}
