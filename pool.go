package evoasync

import (
	"context"
	"time"
)

// Resource is one pooled *MemcachedClient connection to a single backend
// address (spec's BackendPool, generalizing the teacher's pool.go Resource
// from a blocking *Connection to the async MemcachedClient).
type Resource interface {
	// Value returns the underlying client. The client is already attached
	// and CONNECTED; callers must not call AttachTo/ConnectIP on it.
	Value() *MemcachedClient

	// Release returns the client to the pool for reuse.
	Release()

	// ReleaseUnused returns the client to the pool without marking it as
	// used, for health checks that never issued a request on it.
	ReleaseUnused()

	// Destroy closes the client's connection and removes it from the pool.
	Destroy()

	// CreationTime returns when the client was created.
	CreationTime() time.Time

	// IdleDuration returns how long the client has been idle.
	IdleDuration() time.Duration
}

// Pool manages a set of connected MemcachedClient connections to one
// backend address. Acquire hands back an idle client when one exists;
// otherwise it calls the constructor, which dials, so Acquire can block on
// connection setup.
type Pool interface {
	// Acquire gets a client from the pool, creating one if necessary.
	// Blocks until a client is available or ctx is canceled.
	Acquire(ctx context.Context) (Resource, error)

	// AcquireAllIdle acquires all idle clients, for health checks.
	AcquireAllIdle() []Resource

	// Close closes the pool and all clients.
	Close()

	// Stats returns a snapshot of pool statistics.
	Stats() PoolStats
}
