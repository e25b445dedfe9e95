package evoasync

import (
	"strconv"

	"github.com/pior/evoasync/internal"
)

// formatUint renders an unsigned decimal the way incr/decr and VALUE sizes
// are written on the wire.
func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// valueLinePool recycles the scratch buffer formatValueLine builds each
// VALUE line in, since it runs on every Get/GetCAS hit a server sends.
var valueLinePool = internal.NewBufferPool(128)

// formatValueLine renders a complete "VALUE <key> <flags> <bytes>[ <cas>]\r\n
// <data>\r\n" block for a Get/GetCAS response, shared by the immediate and
// deferred Get reply paths (spec section 4.3, send_value). Building it in a
// pooled scratch buffer avoids repeated backing-array growth on the
// server's hot path; the returned slice is an independent copy the caller
// owns.
func formatValueLine(key string, value []byte, flags uint32, cas uint64, withCAS bool) []byte {
	buf := valueLinePool.Get()
	defer valueLinePool.Put(buf)

	buf.WriteString("VALUE ")
	buf.WriteString(key)
	buf.WriteByte(' ')
	buf.WriteString(strconv.FormatUint(uint64(flags), 10))
	buf.WriteByte(' ')
	buf.WriteString(strconv.FormatInt(int64(len(value)), 10))
	if withCAS {
		buf.WriteByte(' ')
		buf.WriteString(strconv.FormatUint(cas, 10))
	}
	buf.WriteString("\r\n")
	buf.Write(value)
	buf.WriteString("\r\n")

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out
}
