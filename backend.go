package evoasync

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
)

// ErrNoBackendsAvailable is returned when a BackendPool has no configured
// backends.
var ErrNoBackendsAvailable = errors.New("evoasync: no backends available")

// BackendPoolConfig configures a BackendPool. This is the proxy-facing
// component spec section 1 lists in scope ("attaching clients to a server
// loop for back-end use"): a small fixed set of named backend addresses,
// each with its own pooled, circuit-broken set of MemcachedClient
// connections, selected per key by jump hash.
type BackendPoolConfig[T any] struct {
	// Addrs is the fixed backend address list ("host:port" each). Not a
	// consistent-hashing cache cluster: jump-hash selection over this small
	// explicit list is for the demo proxy only (spec's Non-goals).
	Addrs []string

	// Dial connects and returns a ready MemcachedClient for addr. Use
	// DialMemcachedClient for the common case.
	Dial func(ctx context.Context, addr string) (*MemcachedClient, error)

	// PoolSize bounds connections per backend address; defaults to 4.
	PoolSize int32

	// NewPool constructs the per-backend Pool; defaults to NewPuddlePool.
	NewPool func(constructor func(context.Context) (*MemcachedClient, error), maxSize int32) (Pool, error)

	// NewCircuitBreaker builds one breaker per backend address; nil
	// disables circuit breaking entirely.
	NewCircuitBreaker func(addr string) CircuitBreaker[T]

	// Selector picks a backend index for a key; defaults to
	// DefaultServerSelector (xxh3 + Jump Hash).
	Selector BackendSelector

	Logger *slog.Logger
}

// BackendPool selects among a small set of backend Memcached servers by key
// and executes requests against pooled, circuit-broken connections to the
// selected one.
type BackendPool[T any] struct {
	backends []*backendEntry[T]
	selector BackendSelector
	log      *slog.Logger
}

// NewBackendPool builds the per-backend pools and circuit breakers eagerly;
// connections themselves are established lazily by each Pool's constructor.
func NewBackendPool[T any](cfg BackendPoolConfig[T]) (*BackendPool[T], error) {
	if len(cfg.Addrs) == 0 {
		return nil, ErrNoBackendsAvailable
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	newPool := cfg.NewPool
	if newPool == nil {
		newPool = NewPuddlePool
	}
	selector := cfg.Selector
	if selector == nil {
		selector = DefaultServerSelector
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	backends := make([]*backendEntry[T], 0, len(cfg.Addrs))
	for _, addr := range cfg.Addrs {
		addr := addr
		constructor := func(ctx context.Context) (*MemcachedClient, error) {
			return cfg.Dial(ctx, addr)
		}
		pool, err := newPool(constructor, poolSize)
		if err != nil {
			for _, b := range backends {
				b.pool.Close()
			}
			return nil, err
		}

		var breaker CircuitBreaker[T]
		if cfg.NewCircuitBreaker != nil {
			breaker = cfg.NewCircuitBreaker(addr)
		}
		backends = append(backends, newBackendEntry[T](addr, pool, breaker))
	}

	return &BackendPool[T]{backends: backends, selector: selector, log: log}, nil
}

// List returns the backend addresses in selection order.
func (p *BackendPool[T]) List() []string {
	addrs := make([]string, len(p.backends))
	for i, b := range p.backends {
		addrs[i] = b.addr
	}
	return addrs
}

// Execute selects a backend for key and runs fn against a pooled connection
// to it, through that backend's circuit breaker if configured.
func (p *BackendPool[T]) Execute(ctx context.Context, key string, fn func(*MemcachedClient) (T, error)) (T, error) {
	var zero T
	if len(p.backends) == 0 {
		return zero, ErrNoBackendsAvailable
	}
	idx := p.selector(key, len(p.backends))
	return p.backends[idx].Execute(ctx, fn)
}

// Stats returns a snapshot of every backend's pool and circuit breaker
// state.
func (p *BackendPool[T]) Stats() []BackendEntryStats {
	stats := make([]BackendEntryStats, len(p.backends))
	for i, b := range p.backends {
		stats[i] = b.Stats()
	}
	return stats
}

// Close closes every backend's pool and its pooled connections.
func (p *BackendPool[T]) Close() {
	for _, b := range p.backends {
		b.pool.Close()
	}
}

// DialMemcachedClient synchronously dials addr ("host:port"), bridging
// MemcachedClient's async ConnectIP/SetOnConnect/SetOnError callbacks into a
// single blocking call suitable for use as a BackendPool constructor.
func DialMemcachedClient(ctx context.Context, addr string, cfg ClientConfig) (*MemcachedClient, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, err
	}

	client := NewMemcachedClient(cfg)
	done := make(chan error, 1)
	client.SetOnConnect(func() {
		select {
		case done <- nil:
		default:
		}
	})
	client.SetOnError(func(_ AsyncError, cause error) {
		select {
		case done <- cause:
		default:
		}
	})
	if !client.ConnectIP(host, port) {
		return nil, ErrNotConnected
	}

	select {
	case err := <-done:
		if err != nil {
			return nil, err
		}
		return client, nil
	case <-ctx.Done():
		_ = client.Close()
		return nil, ctx.Err()
	}
}
