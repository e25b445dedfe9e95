package evoasync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeDial(dialed *int) func(ctx context.Context, addr string) (*MemcachedClient, error) {
	return func(ctx context.Context, addr string) (*MemcachedClient, error) {
		if dialed != nil {
			*dialed++
		}
		return NewMemcachedClient(ClientConfig{}), nil
	}
}

func TestBackendPool_ExecuteRoutesToSelectedBackend(t *testing.T) {
	pool, err := NewBackendPool[string](BackendPoolConfig[string]{
		Addrs:    []string{"a:1", "b:1", "c:1"},
		Dial:     fakeDial(nil),
		Selector: staticSelector(1),
	})
	require.NoError(t, err)
	defer pool.Close()

	result, err := pool.Execute(context.Background(), "any-key", func(c *MemcachedClient) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, []string{"a:1", "b:1", "c:1"}, pool.List())
}

func TestBackendPool_NoBackends(t *testing.T) {
	_, err := NewBackendPool[string](BackendPoolConfig[string]{})
	assert.ErrorIs(t, err, ErrNoBackendsAvailable)
}

func TestBackendPool_DestroysClientOnError(t *testing.T) {
	pool, err := NewBackendPool[string](BackendPoolConfig[string]{
		Addrs: []string{"a:1"},
		Dial:  fakeDial(nil),
	})
	require.NoError(t, err)
	defer pool.Close()

	boom := errors.New("boom")
	_, err = pool.Execute(context.Background(), "key", func(c *MemcachedClient) (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)

	stats := pool.Stats()
	require.Len(t, stats, 1)
	assert.EqualValues(t, 1, stats[0].PoolStats.DestroyedConns)
}

func TestBackendPool_CircuitBreakerTrips(t *testing.T) {
	pool, err := NewBackendPool[string](BackendPoolConfig[string]{
		Addrs: []string{"a:1"},
		Dial:  fakeDial(nil),
		NewCircuitBreaker: func(addr string) CircuitBreaker[string] {
			return NewGobreakerConfig[string](1, 0, 0)(addr)
		},
	})
	require.NoError(t, err)
	defer pool.Close()

	boom := errors.New("boom")
	for range 3 {
		_, _ = pool.Execute(context.Background(), "key", func(c *MemcachedClient) (string, error) {
			return "", boom
		})
	}

	stats := pool.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, CircuitStateOpen, stats[0].CircuitBreakerState)
}

func TestBackendPool_ReusesConnectionAcrossCalls(t *testing.T) {
	var dialed int
	pool, err := NewBackendPool[string](BackendPoolConfig[string]{
		Addrs: []string{"a:1"},
		Dial:  fakeDial(&dialed),
	})
	require.NoError(t, err)
	defer pool.Close()

	for range 3 {
		_, err := pool.Execute(context.Background(), "key", func(c *MemcachedClient) (string, error) {
			return "ok", nil
		})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, dialed)
}
