package evoasync

import (
	"bytes"
	"fmt"
)

// defaultReadBufferSize is the initial allocation for a connection's read
// buffer, grown as needed by Append.
const defaultReadBufferSize = 4096

// AsyncBuffers is the per-connection read/write substrate described in spec
// section 4.1. It hides the event loop's native buffer interface behind
// line extraction, fixed-size block extraction, and exact-size bulk writes.
//
// A single AsyncBuffers is owned exclusively by one connection; it must not
// be shared across goroutines without external synchronization (the event
// loop in eventloop.go serializes access for its attached connections).
type AsyncBuffers struct {
	rbuf  []byte
	start int // first unconsumed byte; advanced only by Flush
	end   int // end of valid buffered data

	pendingConsumed int // set by ReadLine/ReadFixed, applied by Flush
	fixedPending    int // bytes still wanted for a declared fixed read, 0 if none

	minInitial int
	maxSize    int // 0 = unlimited

	wbuf bytes.Buffer
}

// NewAsyncBuffers creates buffers armed with the given initial read
// watermarks (spec section 4.1, ReadReset).
func NewAsyncBuffers(minInitial, maxSize int) *AsyncBuffers {
	return &AsyncBuffers{
		rbuf:       make([]byte, 0, defaultReadBufferSize),
		minInitial: minInitial,
		maxSize:    maxSize,
	}
}

// Append adds freshly read socket bytes to the read buffer. Called by the
// event loop after a successful Read.
func (b *AsyncBuffers) Append(data []byte) {
	if b.start > 0 && b.start == b.end {
		// Buffer fully drained and flushed -- reset to avoid unbounded growth.
		b.rbuf = b.rbuf[:0]
		b.start, b.end = 0, 0
	}
	b.rbuf = append(b.rbuf, data...)
	b.end = len(b.rbuf)
}

// ReadSize returns the number of unconsumed buffered bytes.
func (b *AsyncBuffers) ReadSize() int {
	return b.end - b.start
}

// ReadLine returns the next CRLF- or LF-terminated line (terminator
// stripped) without consuming it; call Flush to release it. Returns false
// if no complete line is yet buffered. The returned slice is only valid
// until the next Flush or Append.
func (b *AsyncBuffers) ReadLine() (line []byte, ok bool) {
	data := b.rbuf[b.start:b.end]
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		return nil, false
	}
	end := idx
	if end > 0 && data[end-1] == '\r' {
		end--
	}
	b.pendingConsumed = b.start + idx + 1
	return data[:end], true
}

// ReadFixed returns a slice of exactly n bytes from the front of the read
// buffer, or false if fewer than n bytes are buffered. Must not be called
// while a ReadFixedHelper read is still pending (FixedPending() > 0) for a
// different size than n.
func (b *AsyncBuffers) ReadFixed(n int) (slice []byte, ok bool) {
	if b.ReadSize() < n {
		return nil, false
	}
	b.pendingConsumed = b.start + n
	return b.rbuf[b.start : b.start+n], true
}

// ReadFixedHelper declares intent to consume the next n bytes via fn. If the
// buffer already holds at least n bytes, fn is invoked immediately (with the
// bytes still unflushed -- the caller must Flush) and its result is
// returned. Otherwise FixedPending is armed to n and (true, nil) is
// returned, telling the event loop to wait until n bytes are available
// before calling back.
func (b *AsyncBuffers) ReadFixedHelper(n int, fn func(data []byte) (bool, error)) (bool, error) {
	if data, ok := b.ReadFixed(n); ok {
		b.fixedPending = 0
		return fn(data)
	}
	b.fixedPending = n
	return true, nil
}

// FixedPending returns the number of bytes still wanted for an in-progress
// ReadFixedHelper read, 0 if none is pending. A non-zero value means the
// connection is in body-reading state (spec data model: read-fixed-
// remaining).
func (b *AsyncBuffers) FixedPending() int {
	return b.fixedPending
}

// Flush releases buffered bytes up to the current read cursor (the end of
// the most recent ReadLine/ReadFixed result).
func (b *AsyncBuffers) Flush() {
	if b.pendingConsumed > b.start {
		b.start = b.pendingConsumed
	}
}

// ReadReset re-arms the read watermarks for the next request and clears any
// fixed-read state left over from a prior request.
func (b *AsyncBuffers) ReadReset(minInitial, maxSize int) {
	b.minInitial = minInitial
	b.maxSize = maxSize
	b.fixedPending = 0
}

// Watermarks returns the minimum bytes needed before the next read event and
// the maximum the read buffer is allowed to grow to (0 = unlimited).
func (b *AsyncBuffers) Watermarks() (minInitial, maxSize int) {
	if b.fixedPending > 0 {
		return b.fixedPending, b.maxSize
	}
	return b.minInitial, b.maxSize
}

// WriteBytes appends data directly to the write buffer outside of a
// BulkWrite reservation (used for small, one-shot replies).
func (b *AsyncBuffers) WriteBytes(data []byte) {
	b.wbuf.Write(data)
}

// WriteString appends a string directly to the write buffer.
func (b *AsyncBuffers) WriteString(s string) {
	b.wbuf.WriteString(s)
}

// WriteSize returns the number of bytes queued to be written to the socket.
func (b *AsyncBuffers) WriteSize() int {
	return b.wbuf.Len()
}

// drainWrite is called by the event loop to pull queued bytes for a socket
// write; it does not reset the buffer (compactWrite does, after a successful
// write of n bytes).
func (b *AsyncBuffers) drainWrite() []byte {
	return b.wbuf.Bytes()
}

// compactWrite discards the first n bytes of the write buffer after they've
// been written to the socket.
func (b *AsyncBuffers) compactWrite(n int) {
	remaining := b.wbuf.Bytes()[n:]
	b.wbuf.Next(n)
	_ = remaining
}

// BulkWrite reserves exactly exactSize bytes in the write buffer. The
// caller must write exactly exactSize bytes via Add/AddByte/AddString
// before calling Commit -- a short or long write panics, matching the
// teacher's exact-size contract (spec section 4.1).
type BulkWrite struct {
	buf       *AsyncBuffers
	exactSize int
	written   int
	committed bool
}

// NewBulkWrite opens a bulk write reservation for exactSize bytes.
func NewBulkWrite(buf *AsyncBuffers, exactSize int) *BulkWrite {
	return &BulkWrite{buf: buf, exactSize: exactSize}
}

// Add appends p to the reservation.
func (w *BulkWrite) Add(p []byte) {
	w.written += len(p)
	w.buf.wbuf.Write(p)
}

// AddByte appends a single byte to the reservation.
func (w *BulkWrite) AddByte(c byte) {
	w.written++
	w.buf.wbuf.WriteByte(c)
}

// AddString appends a string to the reservation.
func (w *BulkWrite) AddString(s string) {
	w.written += len(s)
	w.buf.wbuf.WriteString(s)
}

// Commit finalizes the reservation. It is a programming error to commit
// with written bytes != the declared exact size.
func (w *BulkWrite) Commit() {
	if w.committed {
		return
	}
	w.committed = true
	if w.written != w.exactSize {
		panic(fmt.Sprintf("evoasync: BulkWrite commit size mismatch: declared %d, wrote %d", w.exactSize, w.written))
	}
}
