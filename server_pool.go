package evoasync

import "context"

// BackendEntryStats summarizes one BackendPool backend's pool and circuit
// breaker state.
type BackendEntryStats struct {
	Addr                string
	PoolStats           PoolStats
	CircuitBreakerState CircuitBreakerState
}

// backendEntry wraps a Pool and an optional circuit breaker for a single
// backend address (teacher's server_pool.go ServerPool, generalized from a
// hardcoded *meta.Response result to BackendPool's generic result type T,
// and from a blocking *Connection/meta.Request call to running an arbitrary
// fn against a pooled *MemcachedClient).
type backendEntry[T any] struct {
	addr    string
	pool    Pool
	breaker CircuitBreaker[T]
}

func newBackendEntry[T any](addr string, pool Pool, breaker CircuitBreaker[T]) *backendEntry[T] {
	return &backendEntry[T]{addr: addr, pool: pool, breaker: breaker}
}

func (e *backendEntry[T]) Address() string { return e.addr }

func (e *backendEntry[T]) Stats() BackendEntryStats {
	stats := BackendEntryStats{Addr: e.addr, PoolStats: e.pool.Stats()}
	if e.breaker != nil {
		stats.CircuitBreakerState = e.breaker.State()
	}
	return stats
}

// Execute acquires a client from this backend's pool, runs fn against it,
// and releases or destroys the client depending on whether fn returned an
// error. When a circuit breaker is configured the whole acquire+run is
// wrapped by it.
func (e *backendEntry[T]) Execute(ctx context.Context, fn func(*MemcachedClient) (T, error)) (T, error) {
	if e.breaker == nil {
		return e.execDirect(ctx, fn)
	}
	return e.breaker.Execute(func() (T, error) {
		return e.execDirect(ctx, fn)
	})
}

func (e *backendEntry[T]) execDirect(ctx context.Context, fn func(*MemcachedClient) (T, error)) (T, error) {
	var zero T
	resource, err := e.pool.Acquire(ctx)
	if err != nil {
		return zero, err
	}

	client := resource.Value()
	result, err := fn(client)
	if err != nil {
		resource.Destroy()
		return zero, err
	}
	resource.Release()
	return result, nil
}
