package evoasync

import (
	"strconv"
	"strings"

	"github.com/pior/evoasync/protocol"
)

// expireThreshold is the 2,592,000-second boundary (30 days) above which an
// expire value is interpreted as a Unix timestamp rather than a relative
// second count (spec section 4.2).
const expireThreshold = 2592000

// CalcExpireTime is bit-exact with the threshold rule above: values at or
// below the threshold pass through unchanged; values above it are treated
// as already-relative-to-epoch and have base added (spec section 6,
// testable property 4).
func CalcExpireTime(seconds int64, base int64) int64 {
	if seconds <= expireThreshold {
		return seconds
	}
	return base + seconds
}

func appendNoReply(buf []byte, noreply bool) []byte {
	if noreply {
		buf = append(buf, ' ')
		buf = append(buf, protocol.NoReply...)
	}
	buf = append(buf, '\r', '\n')
	return buf
}

func buildStoreCommand(verb string, key string, flags uint32, expire int64, value []byte, cas uint64, withCAS, noreply bool) []byte {
	buf := make([]byte, 0, len(verb)+len(key)+len(value)+64)
	buf = append(buf, verb...)
	buf = append(buf, ' ')
	buf = append(buf, key...)
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, uint64(flags), 10)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, expire, 10)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, int64(len(value)), 10)
	if withCAS {
		buf = append(buf, ' ')
		buf = strconv.AppendUint(buf, cas, 10)
	}
	buf = appendNoReply(buf, noreply)
	buf = append(buf, value...)
	buf = append(buf, '\r', '\n')
	return buf
}

func buildConcatCommand(verb string, key string, value []byte, noreply bool) []byte {
	buf := make([]byte, 0, len(verb)+len(key)+len(value)+32)
	buf = append(buf, verb...)
	buf = append(buf, ' ')
	buf = append(buf, key...)
	buf = append(buf, " 0 0 "...)
	buf = strconv.AppendInt(buf, int64(len(value)), 10)
	buf = appendNoReply(buf, noreply)
	buf = append(buf, value...)
	buf = append(buf, '\r', '\n')
	return buf
}

func buildArithCommand(verb, key string, delta uint64, noreply bool) []byte {
	buf := make([]byte, 0, len(verb)+len(key)+32)
	buf = append(buf, verb...)
	buf = append(buf, ' ')
	buf = append(buf, key...)
	buf = append(buf, ' ')
	buf = strconv.AppendUint(buf, delta, 10)
	buf = appendNoReply(buf, noreply)
	return buf
}

func buildKeyOnlyCommand(verb, key string, noreply bool) []byte {
	buf := make([]byte, 0, len(verb)+len(key)+16)
	buf = append(buf, verb...)
	buf = append(buf, ' ')
	buf = append(buf, key...)
	buf = appendNoReply(buf, noreply)
	return buf
}

func buildTouchCommand(key string, expire int64, noreply bool) []byte {
	buf := make([]byte, 0, len(key)+32)
	buf = append(buf, "touch "...)
	buf = append(buf, key...)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, expire, 10)
	buf = appendNoReply(buf, noreply)
	return buf
}

func buildGetCommand(verb string, keys []string) []byte {
	buf := make([]byte, 0, len(verb)+16*len(keys))
	buf = append(buf, verb...)
	for _, k := range keys {
		buf = append(buf, ' ')
		buf = append(buf, k...)
	}
	buf = append(buf, '\r', '\n')
	return buf
}

func buildGatCommand(verb string, expire int64, keys []string) []byte {
	buf := make([]byte, 0, len(verb)+32+16*len(keys))
	buf = append(buf, verb...)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, expire, 10)
	for _, k := range keys {
		buf = append(buf, ' ')
		buf = append(buf, k...)
	}
	buf = append(buf, '\r', '\n')
	return buf
}

// Set issues a "set" command. onStore is nil for a fire-and-forget
// (noreply) request.
func (c *MemcachedClient) Set(key string, flags uint32, expire int64, value []byte, onStore func(key string, result StoreResult)) error {
	return c.store("set", key, flags, expire, value, 0, false, onStore)
}

// SetAdd issues an "add" command: succeeds only if the key does not exist.
func (c *MemcachedClient) SetAdd(key string, flags uint32, expire int64, value []byte, onStore func(key string, result StoreResult)) error {
	return c.store("add", key, flags, expire, value, 0, false, onStore)
}

// SetReplace issues a "replace" command: succeeds only if the key exists.
func (c *MemcachedClient) SetReplace(key string, flags uint32, expire int64, value []byte, onStore func(key string, result StoreResult)) error {
	return c.store("replace", key, flags, expire, value, 0, false, onStore)
}

// SetCAS issues a "cas" command, succeeding only if the stored item's CAS
// id still matches cas.
func (c *MemcachedClient) SetCAS(key string, flags uint32, expire int64, value []byte, cas uint64, onStore func(key string, result StoreResult)) error {
	return c.store("cas", key, flags, expire, value, cas, true, onStore)
}

func (c *MemcachedClient) store(verb, key string, flags uint32, expire int64, value []byte, cas uint64, withCAS bool, onStore func(string, StoreResult)) error {
	noreply := onStore == nil
	cmd := buildStoreCommand(verb, key, flags, expire, value, cas, withCAS, noreply)
	return c.writeCommand(cmd, !noreply, responseDescriptor{
		kind:    cmdStore,
		keys:    []string{key},
		onStore: onStore,
	})
}

// SetAppend issues an "append" command.
func (c *MemcachedClient) SetAppend(key string, value []byte, onStore func(key string, result StoreResult)) error {
	return c.concat("append", key, value, onStore)
}

// SetPrepend issues a "prepend" command.
func (c *MemcachedClient) SetPrepend(key string, value []byte, onStore func(key string, result StoreResult)) error {
	return c.concat("prepend", key, value, onStore)
}

func (c *MemcachedClient) concat(verb, key string, value []byte, onStore func(string, StoreResult)) error {
	noreply := onStore == nil
	cmd := buildConcatCommand(verb, key, value, noreply)
	return c.writeCommand(cmd, !noreply, responseDescriptor{
		kind:    cmdStore,
		keys:    []string{key},
		onStore: onStore,
	})
}

// Incr issues an "incr" command. onResult receives found=false if the key
// does not exist. An error reply (such as CLIENT_ERROR for a non-numeric
// value) does not reach onResult: it is a protocol error that closes the
// connection.
func (c *MemcachedClient) Incr(key string, delta uint64, onResult func(key string, value uint64, found bool)) error {
	return c.arith("incr", cmdIncr, key, delta, onResult)
}

// Decr issues a "decr" command.
func (c *MemcachedClient) Decr(key string, delta uint64, onResult func(key string, value uint64, found bool)) error {
	return c.arith("decr", cmdDecr, key, delta, onResult)
}

func (c *MemcachedClient) arith(verb string, kind cmdKind, key string, delta uint64, onResult func(string, uint64, bool)) error {
	noreply := onResult == nil
	cmd := buildArithCommand(verb, key, delta, noreply)
	return c.writeCommand(cmd, !noreply, responseDescriptor{
		kind:       kind,
		keys:       []string{key},
		onIncrDecr: onResult,
	})
}

// Remove issues a "delete" command.
func (c *MemcachedClient) Remove(key string, onResult func(key string, found bool)) error {
	noreply := onResult == nil
	cmd := buildKeyOnlyCommand("delete", key, noreply)
	return c.writeCommand(cmd, !noreply, responseDescriptor{
		kind:     cmdDelete,
		keys:     []string{key},
		onRemove: onResult,
	})
}

// Touch issues a "touch" command.
func (c *MemcachedClient) Touch(key string, expire int64, onResult func(key string, found bool)) error {
	noreply := onResult == nil
	cmd := buildTouchCommand(key, expire, noreply)
	return c.writeCommand(cmd, !noreply, responseDescriptor{
		kind:    cmdTouch,
		keys:    []string{key},
		onTouch: onResult,
	})
}

// Get issues a "get" command for one or more keys. onGet is invoked once
// per returned VALUE; onGetEnd is invoked once all values for this request
// have been delivered.
func (c *MemcachedClient) Get(keys []string, trackNotFound bool, onGet func(key string, value []byte, flags uint32, cas uint64), onGetEnd func(notFound []string)) error {
	return c.get("get", cmdGet, keys, 0, false, trackNotFound, onGet, onGetEnd)
}

// GetCAS issues a "gets" command, reporting each value's CAS id.
func (c *MemcachedClient) GetCAS(keys []string, trackNotFound bool, onGet func(key string, value []byte, flags uint32, cas uint64), onGetEnd func(notFound []string)) error {
	return c.get("gets", cmdGetCAS, keys, 0, false, trackNotFound, onGet, onGetEnd)
}

// GetTouch issues a "gat" command.
func (c *MemcachedClient) GetTouch(keys []string, expire int64, trackNotFound bool, onGet func(key string, value []byte, flags uint32, cas uint64), onGetEnd func(notFound []string)) error {
	return c.get("gat", cmdGet, keys, expire, true, trackNotFound, onGet, onGetEnd)
}

// GetTouchCAS issues a "gats" command.
func (c *MemcachedClient) GetTouchCAS(keys []string, expire int64, trackNotFound bool, onGet func(key string, value []byte, flags uint32, cas uint64), onGetEnd func(notFound []string)) error {
	return c.get("gats", cmdGetCAS, keys, expire, true, trackNotFound, onGet, onGetEnd)
}

func (c *MemcachedClient) get(verb string, kind cmdKind, keys []string, expire int64, withExpire, trackNotFound bool, onGet func(string, []byte, uint32, uint64), onGetEnd func([]string)) error {
	var cmd []byte
	if withExpire {
		cmd = buildGatCommand(verb, expire, keys)
	} else {
		cmd = buildGetCommand(verb, keys)
	}
	return c.writeCommand(cmd, true, responseDescriptor{
		kind:          kind,
		keys:          append([]string(nil), keys...),
		trackNotFound: trackNotFound,
		onGet:         onGet,
		onGetEnd:      onGetEnd,
	})
}

// joinKeys renders a list of keys space-joined, used to format
// track-notfound's reconstructed not-found list (spec section 4.2).
func joinKeys(keys []string) string {
	return strings.Join(keys, " ")
}
