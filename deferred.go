package evoasync

import (
	"log/slog"
	"sync"
)

// DeferredContext is the direct generalization of the original's
// DeferredContextT: a reference-counted handle linking a server connection
// to the DeferredReply objects handlers construct against it. It survives
// connection close while deferred replies are still outstanding; once the
// connection detaches, all further deferred sends become silent no-ops
// (spec section 4.5).
//
// A DeferredReply's terminal methods run on whatever goroutine completes the
// handler's async work, concurrently with the owning connection's own
// goroutine still dispatching later requests. mu is the connection's single
// write-side lock (shared with serverConn), serializing every access to
// reorder and the underlying wire buffer regardless of which goroutine
// reaches it; flush pushes newly queued bytes to the socket under the same
// lock.
type DeferredContext struct {
	reorder *ReplyReorderer
	log     *slog.Logger
	mu      *sync.Mutex
	flush   func()

	refcount int
	attached bool // false once Detach has cleared the connection link
}

// newDeferredContext creates a context for a freshly accepted connection.
// refcount starts at 1, held by the connection itself.
func newDeferredContext(reorder *ReplyReorderer, log *slog.Logger, mu *sync.Mutex, flush func()) *DeferredContext {
	return &DeferredContext{reorder: reorder, log: log, mu: mu, flush: flush, refcount: 1, attached: true}
}

// DeferredStart increments the refcount; called when a handler constructs
// a DeferredReply.
func (c *DeferredContext) DeferredStart() {
	c.mu.Lock()
	c.refcount++
	c.mu.Unlock()
}

// DeferredEnd decrements the refcount and drains any newly-completed head-
// of-queue entries via SendEnd. Called when a DeferredReply finishes.
func (c *DeferredContext) DeferredEnd() {
	c.mu.Lock()
	c.refcount--
	if c.attached {
		c.reorder.SendEnd()
		c.flush()
	}
	c.mu.Unlock()
}

// Detach clears the connection link and decrements the refcount, called
// once when the owning connection closes. After Detach, Send/DeferredSend
// calls routed through this context no-op.
func (c *DeferredContext) Detach() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.attached {
		return
	}
	c.attached = false
	c.refcount--
}

// Attached reports whether the owning connection is still live.
func (c *DeferredContext) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attached
}

// DeferredReply is a handle a server handler constructs exactly once per
// rtDeferred response (spec section 3, "DeferredReply"). Exactly one
// terminal method must be called. A second terminal call is ignored. A
// reply that never reaches a terminal call is not detected: nothing is sent
// for its request, and replies to later requests on the same connection
// stay queued behind it. Once the connection has detached, terminal calls
// are safe no-ops.
type DeferredReply struct {
	ctx      *DeferredContext
	id       int64
	finished bool
}

// newDeferredReply constructs a DeferredReply for request id against ctx,
// incrementing ctx's refcount.
func newDeferredReply(ctx *DeferredContext, id int64) *DeferredReply {
	ctx.DeferredStart()
	return &DeferredReply{ctx: ctx, id: id}
}

// Finished reports whether a terminal method has already been called.
func (d *DeferredReply) Finished() bool { return d.finished }

func (d *DeferredReply) send(data []byte) {
	if d.finished {
		return
	}
	d.finished = true
	d.ctx.mu.Lock()
	if d.ctx.attached {
		d.ctx.reorder.DeferredSend(d.id, data, true)
	}
	d.ctx.refcount--
	if d.ctx.attached {
		d.ctx.reorder.SendEnd()
		d.ctx.flush()
	}
	d.ctx.mu.Unlock()
}

// Store completes the deferred reply for a storage command with result.
func (d *DeferredReply) Store(result StoreResult) {
	d.send([]byte(result.String() + "\r\n"))
}

// Increment completes the deferred reply for incr/decr: found=false emits
// NOT_FOUND, otherwise the new value.
func (d *DeferredReply) Increment(value uint64, found bool) {
	if !found {
		d.send([]byte("NOT_FOUND\r\n"))
		return
	}
	d.send([]byte(formatUint(value) + "\r\n"))
}

// Delete completes the deferred reply for delete.
func (d *DeferredReply) Delete(found bool) {
	if found {
		d.send([]byte("DELETED\r\n"))
	} else {
		d.send([]byte("NOT_FOUND\r\n"))
	}
}

// Touch completes the deferred reply for touch.
func (d *DeferredReply) Touch(found bool) {
	if found {
		d.send([]byte("TOUCHED\r\n"))
	} else {
		d.send([]byte("NOT_FOUND\r\n"))
	}
}

// Get appends a VALUE line plus body for one key within a deferred Get
// response; it does not finish the reply -- GetEnd does. Safe to call
// multiple times for a multi-key deferred Get.
func (d *DeferredReply) Get(key string, value []byte, flags uint32, cas uint64, withCAS bool) {
	if d.finished {
		return
	}
	data := formatValueLine(key, value, flags, cas, withCAS)
	d.ctx.mu.Lock()
	if d.ctx.attached {
		d.ctx.reorder.DeferredSend(d.id, data, false)
		d.ctx.flush()
	}
	d.ctx.mu.Unlock()
}

// GetEnd finishes a deferred Get response by sending END. Not-found keys
// are not listed (track-notfound is a client-side concept).
func (d *DeferredReply) GetEnd() {
	d.send([]byte("END\r\n"))
}

// Error finishes the deferred reply with a raw error line (e.g.
// "SERVER_ERROR out of memory\r\n", already CRLF-terminated).
func (d *DeferredReply) Error(line string) {
	d.send([]byte(line))
}

// unfinishedErrorLine is the SERVER_ERROR line for a DeferredReply that is
// abandoned (never reaches a terminal call) while its connection is still
// attached. No code path in this package sends it: there is no finalizer
// and no check for unfinished deferred replies.
const unfinishedErrorLine = "SERVER_ERROR deferred reply unfinished\r\n"
