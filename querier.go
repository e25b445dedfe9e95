package evoasync

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCacheMiss is returned by Querier operations when the key does not
// exist.
var ErrCacheMiss = errors.New("evoasync: cache miss")

// Querier provides a blocking, context-aware convenience API over a
// BackendPool, bridging MemcachedClient's async callback-based requests
// into single synchronous calls (adapted from the teacher's querier.go,
// retargeted from the old blocking pooled Client to the proxy-facing
// BackendPool).
type Querier interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Increment(ctx context.Context, key string, delta uint64) (uint64, error)
	Decrement(ctx context.Context, key string, delta uint64) (uint64, error)
}

// NewQuerier wraps pool in the blocking Querier convenience API.
func NewQuerier(pool *BackendPool[any]) Querier {
	return &querier{pool: pool}
}

type querier struct {
	pool *BackendPool[any]
}

// Get retrieves a value for a key. Returns ErrCacheMiss if not found.
func (q *querier) Get(ctx context.Context, key string) ([]byte, error) {
	type outcome struct {
		value []byte
		found bool
	}

	v, err := q.pool.Execute(ctx, key, func(c *MemcachedClient) (any, error) {
		done := make(chan outcome, 1)
		writeErr := c.Get([]string{key}, true,
			func(_ string, value []byte, _ uint32, _ uint64) {
				done <- outcome{value: append([]byte(nil), value...), found: true}
			},
			func(notFound []string) {
				if len(notFound) > 0 {
					select {
					case done <- outcome{}:
					default:
					}
				}
			},
		)
		if writeErr != nil {
			return nil, writeErr
		}
		select {
		case o := <-done:
			if !o.found {
				return nil, ErrCacheMiss
			}
			return o.value, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.([]byte), nil
}

// Set stores a value for a key with an optional TTL (0 means no expiry).
func (q *querier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := q.pool.Execute(ctx, key, func(c *MemcachedClient) (any, error) {
		done := make(chan StoreResult, 1)
		writeErr := c.Set(key, 0, int64(ttl/time.Second), value, func(_ string, result StoreResult) {
			done <- result
		})
		if writeErr != nil {
			return nil, writeErr
		}
		select {
		case result := <-done:
			if result != StoreStored {
				return nil, fmt.Errorf("evoasync: set %q: %s", key, result)
			}
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	return err
}

// Delete removes a key. Returns ErrCacheMiss if not found.
func (q *querier) Delete(ctx context.Context, key string) error {
	_, err := q.pool.Execute(ctx, key, func(c *MemcachedClient) (any, error) {
		done := make(chan bool, 1)
		writeErr := c.Remove(key, func(_ string, found bool) { done <- found })
		if writeErr != nil {
			return nil, writeErr
		}
		select {
		case found := <-done:
			if !found {
				return nil, ErrCacheMiss
			}
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	return err
}

// Increment increases a numeric value by delta. Returns ErrCacheMiss if not
// found.
func (q *querier) Increment(ctx context.Context, key string, delta uint64) (uint64, error) {
	return q.arith(ctx, key, delta, true)
}

// Decrement decreases a numeric value by delta. Returns ErrCacheMiss if not
// found.
func (q *querier) Decrement(ctx context.Context, key string, delta uint64) (uint64, error) {
	return q.arith(ctx, key, delta, false)
}

func (q *querier) arith(ctx context.Context, key string, delta uint64, incr bool) (uint64, error) {
	type outcome struct {
		value uint64
		found bool
	}

	v, err := q.pool.Execute(ctx, key, func(c *MemcachedClient) (any, error) {
		done := make(chan outcome, 1)
		cb := func(_ string, value uint64, found bool) { done <- outcome{value: value, found: found} }

		var writeErr error
		if incr {
			writeErr = c.Incr(key, delta, cb)
		} else {
			writeErr = c.Decr(key, delta, cb)
		}
		if writeErr != nil {
			return uint64(0), writeErr
		}
		select {
		case o := <-done:
			if !o.found {
				return uint64(0), ErrCacheMiss
			}
			return o.value, nil
		case <-ctx.Done():
			return uint64(0), ctx.Err()
		}
	})
	if err != nil {
		return 0, err
	}
	return v.(uint64), nil
}
