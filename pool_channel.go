package evoasync

import (
	"context"
	"sync"
	"time"

	"github.com/pior/evoasync/internal/coarsetime"
)

// NewChannelPool creates an alternative, channel-based BackendPool
// connection pool (adapted from the teacher's pool_channel.go, retargeted
// from *Connection to *MemcachedClient). Kept alongside the puddle-backed
// pool as a second Pool implementation behind the same interface.
func NewChannelPool(constructor func(ctx context.Context) (*MemcachedClient, error), maxSize int32) (Pool, error) {
	return &channelPool{
		constructor: constructor,
		maxSize:     maxSize,
		resources:   make(chan *channelResource, maxSize),
		stats:       *newPoolStatsCollector(),
	}, nil
}

// channelResource implements Resource for channelPool.
type channelResource struct {
	client       *MemcachedClient
	pool         *channelPool
	creationTime time.Time
	lastUsedTime time.Time
}

func (r *channelResource) Value() *MemcachedClient { return r.client }

func (r *channelResource) Release() {
	r.lastUsedTime = coarsetime.Now()
	r.pool.put(r)
}

func (r *channelResource) ReleaseUnused() {
	r.pool.put(r)
}

func (r *channelResource) Destroy() {
	_ = r.client.Close()
	r.pool.removeResource()
}

func (r *channelResource) CreationTime() time.Time { return r.creationTime }

func (r *channelResource) IdleDuration() time.Duration { return time.Since(r.lastUsedTime) }

// channelPool is a simple, allocation-optimized connection pool using Go
// channels.
type channelPool struct {
	constructor func(ctx context.Context) (*MemcachedClient, error)
	maxSize     int32

	mu        sync.Mutex
	resources chan *channelResource
	size      int32
	closed    bool

	stats poolStatsCollector
}

func (p *channelPool) Acquire(ctx context.Context) (Resource, error) {
	p.stats.recordAcquire()

	select {
	case res := <-p.resources:
		p.stats.recordAcquireFromIdle()
		return res, nil
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.stats.recordAcquireError()
		return nil, context.Canceled
	}

	if p.size < p.maxSize {
		p.size++
		p.mu.Unlock()

		client, err := p.constructor(ctx)
		if err != nil {
			p.mu.Lock()
			p.size--
			p.mu.Unlock()
			p.stats.recordAcquireError()
			return nil, err
		}

		p.stats.recordCreate()
		p.stats.recordActivate()

		now := coarsetime.Now()
		return &channelResource{
			client:       client,
			pool:         p,
			creationTime: now,
			lastUsedTime: now,
		}, nil
	}
	p.mu.Unlock()

	waitStart := coarsetime.Now()
	select {
	case res := <-p.resources:
		p.stats.recordAcquireWait(time.Since(waitStart))
		p.stats.recordAcquireFromIdle()
		return res, nil
	case <-ctx.Done():
		p.stats.recordAcquireError()
		return nil, ctx.Err()
	}
}

func (p *channelPool) put(res *channelResource) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = res.client.Close()
		return
	}
	p.mu.Unlock()

	select {
	case p.resources <- res:
		p.stats.recordRelease()
	default:
		_ = res.client.Close()
		p.removeResource()
	}
}

func (p *channelPool) removeResource() {
	p.mu.Lock()
	p.size--
	p.mu.Unlock()
	p.stats.recordDestroy()
}

func (p *channelPool) AcquireAllIdle() []Resource {
	var idle []Resource
	for {
		select {
		case res := <-p.resources:
			idle = append(idle, res)
		default:
			return idle
		}
	}
}

func (p *channelPool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	close(p.resources)
	for res := range p.resources {
		_ = res.client.Close()
	}
}

func (p *channelPool) Stats() PoolStats {
	return p.stats.snapshot()
}
