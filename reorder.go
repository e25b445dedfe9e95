package evoasync

import "sort"

// replyItem is a buffered out-of-order reply awaiting its turn on the wire
// (spec section 3, "ReplyItem").
type replyItem struct {
	id   int64
	data []byte
}

// ReplyReorderer is the direct generalization of the original's
// AsyncServerReplyT: it assigns monotonically increasing request IDs to a
// connection's incoming commands and guarantees that, no matter what order
// their handlers complete in, bytes reach the wire buffer in strict request
// order (spec section 4.4).
type ReplyReorderer struct {
	genID  int64
	nextID int64
	queue  []replyItem // sorted ascending by id

	prevID  int64
	prevSet bool
	prevIdx int // queue index recorded by the most recent Send, -1 if it wrote straight to the wire; later inserts and SendEnd shift indices, so the fast path looks the item up by id

	out *AsyncBuffers
}

// NewReplyReorderer creates a reorderer that writes completed, in-order
// replies to buf.
func NewReplyReorderer(buf *AsyncBuffers) *ReplyReorderer {
	return &ReplyReorderer{out: buf, prevIdx: -1}
}

// GenID returns and advances the next request id.
func (r *ReplyReorderer) GenID() int64 {
	id := r.genID
	r.genID++
	return id
}

func (r *ReplyReorderer) find(id int64) int {
	return sort.Search(len(r.queue), func(i int) bool { return r.queue[i].id >= id })
}

// Send appends data as (part of) the reply for id. If id equals the id of
// the most recent Send/DeferredSend call, it appends to that same
// destination (the prev_id/prev_ptr fast path). Otherwise any already-
// complete head of the queue is flushed, then data is either written
// straight to the wire (id == nextID) or buffered in sorted position.
func (r *ReplyReorderer) Send(id int64, data []byte) {
	if r.prevSet && id == r.prevID {
		if idx := r.find(id); idx < len(r.queue) && r.queue[idx].id == id {
			r.queue[idx].data = append(r.queue[idx].data, data...)
		} else {
			r.out.WriteBytes(data)
		}
		return
	}
	r.SendEnd()

	if id == r.nextID {
		r.out.WriteBytes(data)
		r.nextID++
		r.prevID, r.prevSet, r.prevIdx = id, true, -1
		r.SendEnd()
		return
	}

	idx := r.find(id)
	if idx < len(r.queue) && r.queue[idx].id == id {
		r.queue[idx].data = append(r.queue[idx].data, data...)
	} else {
		r.queue = append(r.queue, replyItem{})
		copy(r.queue[idx+1:], r.queue[idx:])
		r.queue[idx] = replyItem{id: id, data: append([]byte(nil), data...)}
	}
	r.prevID, r.prevSet, r.prevIdx = id, true, idx
}

// SendEnd drains completed entries from the head of the queue (those whose
// id equals nextID), writing each to the wire buffer in order.
func (r *ReplyReorderer) SendEnd() {
	for len(r.queue) > 0 && r.queue[0].id == r.nextID {
		r.out.WriteBytes(r.queue[0].data)
		r.queue = r.queue[1:]
		r.nextID++
		r.prevIdx = -1
	}
}

// DeferredSend is Send's counterpart for asynchronously-completed replies:
// it uses the same routing but never touches the prev_id fast path (each
// deferred reply accumulates independently across possibly-interleaved
// calls), and only advances nextID when last is true.
func (r *ReplyReorderer) DeferredSend(id int64, data []byte, last bool) {
	if id == r.nextID && len(r.queue) == 0 {
		r.out.WriteBytes(data)
		if last {
			r.nextID++
			r.SendEnd()
		}
		return
	}

	idx := r.find(id)
	if idx < len(r.queue) && r.queue[idx].id == id {
		r.queue[idx].data = append(r.queue[idx].data, data...)
	} else {
		r.queue = append(r.queue, replyItem{})
		copy(r.queue[idx+1:], r.queue[idx:])
		r.queue[idx] = replyItem{id: id, data: append([]byte(nil), data...)}
	}
	if last {
		r.SendEnd()
	}
}

// NoSend cancels a reserved id that will never receive a reply (the
// noreply optimization, spec section 4.3). If id is the most recently
// generated one, genID is rolled back; otherwise the hole it leaves is
// resolved only when that id's reply eventually arrives via Send/
// DeferredSend, or the connection (and this reorderer) is discarded (spec
// section 9, supplemented feature 5).
func (r *ReplyReorderer) NoSend(id int64) {
	if id+1 == r.genID {
		r.genID--
	}
	// else: the hole at id is left open; it is only resolved by a later
	// Send/DeferredSend(id, ...) call or by the connection (and this
	// reorderer) being discarded.
}
