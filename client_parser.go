package evoasync

import (
	"strconv"
	"strings"

	"github.com/pior/evoasync/protocol"
)

// pendingValueRead holds the header already parsed from a "VALUE ..." line
// while the parser waits for the fixed-size body (spec section 4.2,
// reading-value-body state).
type pendingValueRead struct {
	descriptor responseDescriptor
	key        string
	flags      uint32
	size       int
	cas        uint64
	withCAS    bool
}

// notFoundTracker reconstructs the requested-but-missing key list for a Get
// response with track-notfound set (spec section 4.2).
type notFoundTracker struct {
	found map[string]bool
	order []string
}

func newNotFoundTracker(keys []string) *notFoundTracker {
	t := &notFoundTracker{found: make(map[string]bool, len(keys)), order: keys}
	return t
}

func (t *notFoundTracker) mark(key string) {
	t.found[key] = true
}

func (t *notFoundTracker) missing() []string {
	var out []string
	for _, k := range t.order {
		if !t.found[k] {
			out = append(out, k)
		}
	}
	return out
}

func (c *MemcachedClient) minInitialRead() int { return 0 }

func (c *MemcachedClient) onError(kind AsyncError, err error) {
	c.mu.Lock()
	c.state = stateNone
	inFlight, haveInFlight := c.queue.Pop()
	c.queue.Drain() // remaining queued descriptors are dropped without firing
	globalOnError := c.onErrorFn
	c.mu.Unlock()

	if haveInFlight && inFlight.onError != nil {
		inFlight.onError(err)
	}
	if globalOnError != nil {
		globalOnError(kind, err)
	}
}

// onReadable drives the client's two-state response parser: expecting a
// reply line, or consuming a VALUE body of a known size (spec section
// 4.2).
func (c *MemcachedClient) onReadable(buf *AsyncBuffers) (bool, error) {
	for {
		switch c.parserState {
		case parserReadingValueBody:
			ok, err := c.readValueBody(buf)
			if err != nil {
				return false, err
			}
			if !ok {
				return true, nil
			}
		default:
			ok, err := c.readReplyLine(buf)
			if err != nil {
				return false, err
			}
			if !ok {
				return true, nil
			}
		}
	}
}

func (c *MemcachedClient) readValueBody(buf *AsyncBuffers) (bool, error) {
	n := c.pendingValue.size + 2
	data, ok := buf.ReadFixed(n)
	if !ok {
		return false, nil
	}
	body := data[:c.pendingValue.size]
	pv := c.pendingValue
	buf.Flush()
	c.parserState = parserExpectingReply

	if c.notFoundState != nil {
		c.notFoundState.mark(pv.key)
	}
	if pv.descriptor.onGet != nil {
		pv.descriptor.onGet(pv.key, body, pv.flags, pv.cas)
	}
	return true, nil
}

func (c *MemcachedClient) readReplyLine(buf *AsyncBuffers) (bool, error) {
	line, ok := buf.ReadLine()
	if !ok {
		return false, nil
	}
	text := string(line)
	buf.Flush()

	c.mu.Lock()
	d, have := c.queue.Peek()
	c.mu.Unlock()
	if !have {
		return false, newProtocolError("response with no outstanding request: %q", text)
	}

	switch d.kind {
	case cmdGet, cmdGetCAS:
		return c.handleGetLine(text, d)
	default:
		return c.handleSimpleLine(text, d)
	}
}

func (c *MemcachedClient) popDescriptor() responseDescriptor {
	c.mu.Lock()
	d, _ := c.queue.Pop()
	c.mu.Unlock()
	return d
}

func (c *MemcachedClient) handleSimpleLine(text string, d responseDescriptor) (bool, error) {
	word, rest := splitWord(text)
	switch word {
	case string(protocol.RespError), string(protocol.RespClientError), string(protocol.RespServerError):
		c.popDescriptor()
		if d.onError != nil {
			d.onError(newProtocolError("%s", text))
		}
		return false, newProtocolError("%s", text)
	}

	switch d.kind {
	case cmdStore:
		c.popDescriptor()
		var result StoreResult
		switch word {
		case string(protocol.RespStored):
			result = StoreStored
		case string(protocol.RespNotStored):
			result = StoreNotStored
		case string(protocol.RespExists):
			result = StoreExists
		case string(protocol.RespNotFound):
			result = StoreNotFound
		default:
			return false, newProtocolError("unexpected store reply: %q", text)
		}
		if d.onStore != nil {
			d.onStore(d.keys[0], result)
		}
		return true, nil

	case cmdIncr, cmdDecr:
		c.popDescriptor()
		if word == string(protocol.RespNotFound) {
			if d.onIncrDecr != nil {
				d.onIncrDecr(d.keys[0], 0, false)
			}
			return true, nil
		}
		v, err := strconv.ParseUint(word, 10, 64)
		if err != nil {
			return false, newProtocolError("unparsable incr/decr value: %q", text)
		}
		if d.onIncrDecr != nil {
			d.onIncrDecr(d.keys[0], v, true)
		}
		return true, nil

	case cmdDelete:
		c.popDescriptor()
		found := word == string(protocol.RespDeleted)
		if !found && word != string(protocol.RespNotFound) {
			return false, newProtocolError("unexpected delete reply: %q", text)
		}
		if d.onRemove != nil {
			d.onRemove(d.keys[0], found)
		}
		return true, nil

	case cmdTouch:
		c.popDescriptor()
		found := word == string(protocol.RespTouched)
		if !found && word != string(protocol.RespNotFound) {
			return false, newProtocolError("unexpected touch reply: %q", text)
		}
		if d.onTouch != nil {
			d.onTouch(d.keys[0], found)
		}
		return true, nil

	default:
		_ = rest
		return false, newProtocolError("unexpected descriptor kind for line: %q", text)
	}
}

func (c *MemcachedClient) handleGetLine(text string, d responseDescriptor) (bool, error) {
	if c.notFoundState == nil && d.trackNotFound {
		c.notFoundState = newNotFoundTracker(d.keys)
	}

	word, rest := splitWord(text)
	switch word {
	case string(protocol.RespEnd):
		c.popDescriptor()
		var notFound []string
		if c.notFoundState != nil {
			notFound = c.notFoundState.missing()
		}
		c.notFoundState = nil
		if d.onGetEnd != nil {
			d.onGetEnd(notFound)
		}
		return true, nil

	case string(protocol.RespValue):
		fields := protocol.SplitTokens(rest)
		withCAS := d.kind == cmdGetCAS
		minFields := 3
		if withCAS {
			minFields = 4
		}
		if len(fields) < minFields {
			return false, newProtocolError("malformed VALUE header: %q", text)
		}
		flags64, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return false, newProtocolError("malformed VALUE flags: %q", text)
		}
		size, err := strconv.Atoi(fields[2])
		if err != nil || size < 0 {
			return false, newProtocolError("malformed VALUE size: %q", text)
		}
		var cas uint64
		if withCAS {
			cas, err = strconv.ParseUint(fields[3], 10, 64)
			if err != nil {
				return false, newProtocolError("malformed VALUE cas: %q", text)
			}
		}
		c.pendingValue = pendingValueRead{
			descriptor: d,
			key:        fields[0],
			flags:      uint32(flags64),
			size:       size,
			cas:        cas,
			withCAS:    withCAS,
		}
		c.parserState = parserReadingValueBody
		return true, nil

	default:
		return false, newProtocolError("unexpected get reply: %q", text)
	}
}

func splitWord(s string) (word, rest string) {
	i := strings.IndexByte(s, ' ')
	if i < 0 {
		return s, ""
	}
	return s[:i], s[i+1:]
}
