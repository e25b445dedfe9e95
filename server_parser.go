package evoasync

import (
	"log/slog"
	"strconv"
	"sync"

	"github.com/pior/evoasync/protocol"
)

// serverParserState is the server connection's two-state parser, the
// dispatcher-side counterpart of client_parser.go's clientParserState (spec
// section 4.3: "enter reading-value-body using read_fixed_helper").
type serverParserState int

const (
	serverParserExpectingLine serverParserState = iota
	serverParserReadingValueBody
)

// pendingStoreRead holds a storage command's header while the parser waits
// for its fixed-size value body.
type pendingStoreRead struct {
	reqID   int64
	cmd     protocol.CmdType
	key     string
	flags   uint32
	expire  int64
	size    int
	cas     uint64
	withCAS bool
	noreply bool
}

// serverConn is one accepted connection's connHandler implementation. It
// owns the request/ID assignment (via reorder) and the deferred-reply
// bookkeeping (via defCtx); wmu is the single lock serializing every write
// to reorder/the wire buffer between this connection's own dispatch
// goroutine and any goroutine completing a DeferredReply asynchronously.
type serverConn struct {
	id      int64
	srv     *MemcachedServer
	log     *slog.Logger
	handler Handler

	lc *LoopConn

	wmu     sync.Mutex
	reorder *ReplyReorderer
	defCtx  *DeferredContext

	parserState    serverParserState
	pendingStore   pendingStoreRead
	closeRequested bool
}

func newServerConn(srv *MemcachedServer) *serverConn {
	return &serverConn{
		id:      nextConnID(),
		srv:     srv,
		log:     srv.log,
		handler: srv.handler,
	}
}

func (sc *serverConn) minInitialRead() int { return sc.srv.cfg.MinInitialRead }

func (sc *serverConn) onError(kind AsyncError, err error) {
	sc.srv.stats.recordDisconnect()
	if kind != ErrIOClosed {
		sc.srv.stats.recordEventErr()
	}
	if sc.defCtx != nil {
		sc.defCtx.Detach()
	}
}

// send writes data as the (immediate, non-deferred) reply for id and
// flushes it to the socket, both under wmu so a concurrently-completing
// DeferredReply can never interleave a write with this one.
func (sc *serverConn) send(id int64, data []byte) {
	sc.wmu.Lock()
	sc.reorder.Send(id, data)
	_ = sc.lc.Flush()
	sc.wmu.Unlock()
}

func (sc *serverConn) sendOrNoSend(id int64, noreply bool, line string) {
	if noreply {
		sc.noSend(id)
		return
	}
	sc.send(id, []byte(line))
}

func (sc *serverConn) noSend(id int64) {
	sc.wmu.Lock()
	sc.reorder.NoSend(id)
	sc.wmu.Unlock()
}

func (sc *serverConn) genID() int64 {
	sc.wmu.Lock()
	id := sc.reorder.GenID()
	sc.wmu.Unlock()
	return id
}

// onReadable drives the server's line/value-body parser (spec section 4.3).
// It consumes as many complete commands as are buffered, dispatching each
// to the Handler, and returns (true, nil) once no complete command remains.
func (sc *serverConn) onReadable(buf *AsyncBuffers) (bool, error) {
	if sc.reorder == nil {
		sc.reorder = NewReplyReorderer(buf)
		sc.defCtx = newDeferredContext(sc.reorder, sc.log, &sc.wmu, func() { _ = sc.lc.Flush() })
	}
	sc.srv.stats.recordRead()

	for {
		switch sc.parserState {
		case serverParserReadingValueBody:
			ready, err := sc.readStoreBody(buf)
			if err != nil {
				return false, err
			}
			if !ready {
				return true, nil
			}
		default:
			line, ok := buf.ReadLine()
			if !ok {
				return true, nil
			}
			text := string(line)
			buf.Flush()
			if err := sc.dispatchLine(text); err != nil {
				return false, err
			}
		}
		if sc.closeRequested {
			return false, nil
		}
	}
}

func (sc *serverConn) readStoreBody(buf *AsyncBuffers) (bool, error) {
	ps := sc.pendingStore
	n := ps.size + 2
	data, ok := buf.ReadFixed(n)
	if !ok {
		return false, nil
	}
	body := append([]byte(nil), data[:ps.size]...)
	trailer := string(data[ps.size:n])
	buf.Flush()
	sc.parserState = serverParserExpectingLine

	if trailer != "\r\n" {
		return true, newProtocolError("bad data chunk, expected CRLF after %d bytes for key %q", ps.size, ps.key)
	}
	return true, sc.finishStore(ps, body)
}

// dispatchLine parses one complete request line and dispatches it,
// returning an error only for protocol-level/contract violations that must
// close the connection; a clean "quit" or handler-requested close instead
// sets sc.closeRequested.
func (sc *serverConn) dispatchLine(text string) error {
	word, rest := splitWord(text)
	cmd, ok := protocol.LookupCommand(word)
	if !ok {
		return sc.dispatchUnknown(word, rest)
	}

	switch cmd {
	case protocol.CmdSet, protocol.CmdAdd, protocol.CmdReplace, protocol.CmdAppend, protocol.CmdPrepend, protocol.CmdCas:
		return sc.beginStore(cmd, rest)
	case protocol.CmdIncr, protocol.CmdDecr:
		return sc.dispatchArith(cmd, rest)
	case protocol.CmdDelete:
		return sc.dispatchDelete(rest)
	case protocol.CmdTouch:
		return sc.dispatchTouch(rest)
	case protocol.CmdGet, protocol.CmdGets, protocol.CmdGat, protocol.CmdGats:
		return sc.dispatchGet(cmd, rest)
	case protocol.CmdStats:
		return sc.dispatchStats(rest)
	case protocol.CmdQuit:
		sc.closeRequested = true
		return nil
	case protocol.CmdVersion:
		return sc.dispatchVersion()
	default:
		return sc.dispatchUnknown(word, rest)
	}
}

func (sc *serverConn) beginStore(cmd protocol.CmdType, rest string) error {
	id := sc.genID()
	withCAS := cmd == protocol.CmdCas

	if withCAS && !sc.srv.cfg.EnableCAS {
		sc.send(id, []byte("SERVER_ERROR Not implemented\r\n"))
		return nil
	}

	tokens, noreply := protocol.StripNoReply(protocol.SplitTokens(rest))
	wantFields := 4
	if withCAS {
		wantFields = 5
	}
	if len(tokens) != wantFields {
		sc.sendOrNoSend(id, noreply, "ERROR\r\n")
		return nil
	}

	key := tokens[0]
	if !protocol.IsValidKey(key) {
		sc.sendOrNoSend(id, noreply, "CLIENT_ERROR bad command line format\r\n")
		return nil
	}
	flags64, errFlags := strconv.ParseUint(tokens[1], 10, 32)
	expire, errExpire := strconv.ParseInt(tokens[2], 10, 64)
	size, errSize := strconv.Atoi(tokens[3])
	var cas uint64
	var errCAS error
	if withCAS {
		cas, errCAS = strconv.ParseUint(tokens[4], 10, 64)
	}
	if errFlags != nil || errExpire != nil || errSize != nil || errCAS != nil || size < 0 {
		sc.sendOrNoSend(id, noreply, "CLIENT_ERROR bad command line format\r\n")
		return nil
	}
	if size > sc.srv.cfg.maxValueSize() {
		sc.sendOrNoSend(id, noreply, "SERVER_ERROR object too large for cache\r\n")
		return nil
	}

	if noreply {
		sc.noSend(id)
	}
	sc.pendingStore = pendingStoreRead{
		reqID: id, cmd: cmd, key: key, flags: uint32(flags64), expire: expire,
		size: size, cas: cas, withCAS: withCAS, noreply: noreply,
	}
	sc.parserState = serverParserReadingValueBody
	return nil
}

func (sc *serverConn) finishStore(ps pendingStoreRead, body []byte) error {
	hc := &HandlerConn{sc: sc, reqID: ps.reqID}
	result := sc.handler.OnStore(hc, ps.key, ps.flags, ps.expire, body, ps.cmd, ps.cas)
	send, closeConn, err := finishContract(hc, result, ps.noreply)
	if err != nil {
		return err
	}
	if send {
		sc.send(ps.reqID, []byte(result.value.String()+"\r\n"))
	}
	if closeConn {
		sc.closeRequested = true
	}
	return nil
}

func (sc *serverConn) dispatchArith(cmd protocol.CmdType, rest string) error {
	id := sc.genID()
	tokens, noreply := protocol.StripNoReply(protocol.SplitTokens(rest))
	if len(tokens) != 2 {
		sc.sendOrNoSend(id, noreply, "ERROR\r\n")
		return nil
	}
	key := tokens[0]
	delta, err := strconv.ParseUint(tokens[1], 10, 64)
	if !protocol.IsValidKey(key) || err != nil {
		sc.sendOrNoSend(id, noreply, "CLIENT_ERROR invalid numeric delta argument\r\n")
		return nil
	}
	if noreply {
		sc.noSend(id)
	}

	hc := &HandlerConn{sc: sc, reqID: id}
	result := sc.handler.OnIncrement(hc, key, delta, cmd == protocol.CmdIncr)
	send, closeConn, err := finishContract(hc, result, noreply)
	if err != nil {
		return err
	}
	if send {
		line := "NOT_FOUND\r\n"
		if result.value.Found {
			line = formatUint(result.value.Value) + "\r\n"
		}
		sc.send(id, []byte(line))
	}
	if closeConn {
		sc.closeRequested = true
	}
	return nil
}

func (sc *serverConn) dispatchDelete(rest string) error {
	id := sc.genID()
	tokens, noreply := protocol.StripNoReply(protocol.SplitTokens(rest))
	if len(tokens) != 1 || !protocol.IsValidKey(tokens[0]) {
		sc.sendOrNoSend(id, noreply, "CLIENT_ERROR bad command line format\r\n")
		return nil
	}
	key := tokens[0]
	if noreply {
		sc.noSend(id)
	}

	hc := &HandlerConn{sc: sc, reqID: id}
	result := sc.handler.OnDelete(hc, key)
	send, closeConn, err := finishContract(hc, result, noreply)
	if err != nil {
		return err
	}
	if send {
		line := "NOT_FOUND\r\n"
		if result.value {
			line = "DELETED\r\n"
		}
		sc.send(id, []byte(line))
	}
	if closeConn {
		sc.closeRequested = true
	}
	return nil
}

func (sc *serverConn) dispatchTouch(rest string) error {
	id := sc.genID()
	tokens, noreply := protocol.StripNoReply(protocol.SplitTokens(rest))
	if len(tokens) != 2 {
		sc.sendOrNoSend(id, noreply, "ERROR\r\n")
		return nil
	}
	key := tokens[0]
	expire, err := strconv.ParseInt(tokens[1], 10, 64)
	if !protocol.IsValidKey(key) || err != nil {
		sc.sendOrNoSend(id, noreply, "CLIENT_ERROR invalid exptime argument\r\n")
		return nil
	}
	if noreply {
		sc.noSend(id)
	}

	hc := &HandlerConn{sc: sc, reqID: id}
	result := sc.handler.OnTouch(hc, key, expire)
	send, closeConn, err := finishContract(hc, result, noreply)
	if err != nil {
		return err
	}
	if send {
		line := "NOT_FOUND\r\n"
		if result.value {
			line = "TOUCHED\r\n"
		}
		sc.send(id, []byte(line))
	}
	if closeConn {
		sc.closeRequested = true
	}
	return nil
}

// dispatchGet drives the get/gets/gat/gats sequence: on_get_start, then one
// on_get per key, then on_get_end, with at most one DeferredReply shared
// across the whole sequence (spec section 4.3).
func (sc *serverConn) dispatchGet(cmd protocol.CmdType, rest string) error {
	id := sc.genID()
	withCAS := cmd == protocol.CmdGets || cmd == protocol.CmdGats
	withExpire := cmd == protocol.CmdGat || cmd == protocol.CmdGats

	if withCAS && !sc.srv.cfg.EnableCAS {
		sc.send(id, []byte("SERVER_ERROR Not implemented\r\n"))
		return nil
	}
	if withExpire && !sc.srv.cfg.EnableGAT {
		sc.send(id, []byte("SERVER_ERROR Not implemented\r\n"))
		return nil
	}

	tokens := protocol.SplitTokens(rest)
	if withExpire {
		if len(tokens) < 2 {
			sc.send(id, []byte("ERROR\r\n"))
			return nil
		}
		if _, err := strconv.ParseInt(tokens[0], 10, 64); err != nil {
			sc.send(id, []byte("CLIENT_ERROR invalid exptime argument\r\n"))
			return nil
		}
		tokens = tokens[1:]
	}
	if len(tokens) == 0 {
		sc.send(id, []byte("ERROR\r\n"))
		return nil
	}
	keys := tokens

	hc := &HandlerConn{sc: sc, reqID: id, withCAS: withCAS}
	anyDeferred := false

	startResult := sc.handler.OnGetStart(hc, keys, withCAS)
	switch startResult.kind {
	case rtDeferred:
		anyDeferred = true
	case rtHandled:
		hc.handled = true
	case rtClose:
		sc.closeRequested = true
		return nil
	}

	if startResult.kind == rtNormal && startResult.value {
		for _, key := range keys {
			itemResult := sc.handler.OnGet(hc, key, withCAS)
			switch itemResult.kind {
			case rtNormal:
				if itemResult.value != nil {
					sc.send(id, formatValueLine(key, itemResult.value.Value, itemResult.value.Flags, itemResult.value.CAS, withCAS))
				}
			case rtDeferred:
				anyDeferred = true
			case rtHandled:
				hc.handled = true
			case rtClose:
				sc.closeRequested = true
				return nil
			}
		}
	}

	sc.handler.OnGetEnd(hc)

	if anyDeferred != (hc.deferred != nil) {
		return newHandlerContractError("get response deferred-reply contract violated for request %d", id)
	}
	if !anyDeferred && !hc.handled {
		sc.send(id, []byte("END\r\n"))
	}
	return nil
}

func (sc *serverConn) dispatchStats(rest string) error {
	id := sc.genID()
	hc := &HandlerConn{sc: sc, reqID: id}
	sc.handler.OnStats(hc, protocol.SplitTokens(rest))
	sc.send(id, []byte("END\r\n"))
	return nil
}

func (sc *serverConn) dispatchVersion() error {
	id := sc.genID()
	v := sc.handler.OnVersion()
	sc.send(id, []byte("VERSION "+v+"\r\n"))
	return nil
}

func (sc *serverConn) dispatchUnknown(cmdName, rest string) error {
	id := sc.genID()
	hc := &HandlerConn{sc: sc, reqID: id}
	result := sc.handler.OnUnknown(hc, cmdName, protocol.SplitTokens(rest))
	send, closeConn, err := finishContract(hc, result, false)
	if err != nil {
		return err
	}
	if send {
		sc.send(id, []byte("ERROR\r\n"))
	}
	if closeConn {
		sc.closeRequested = true
	}
	return nil
}

// finishContract applies the handler-result contract shared by every
// single-event command (spec section 4.3): a DeferredReply must exist if
// and only if the event returned rtDeferred, and rtDeferred under noreply
// is always a violation. send reports whether the framework should emit
// result's canonical text itself (the rtNormal, non-noreply case).
func finishContract[T any](hc *HandlerConn, result ResponseResult[T], noreply bool) (send, closeConn bool, err error) {
	switch result.kind {
	case rtDeferred:
		if noreply {
			return false, true, newHandlerContractError("deferred response combined with noreply for request %d", hc.reqID)
		}
		if hc.deferred == nil {
			return false, true, newHandlerContractError("rtDeferred returned without constructing a DeferredReply for request %d", hc.reqID)
		}
		return false, false, nil
	case rtHandled:
		if hc.deferred != nil {
			return false, true, newHandlerContractError("DeferredReply constructed without returning rtDeferred for request %d", hc.reqID)
		}
		return false, false, nil
	case rtClose:
		return false, true, nil
	default: // rtNormal
		if hc.deferred != nil {
			return false, true, newHandlerContractError("DeferredReply constructed without returning rtDeferred for request %d", hc.reqID)
		}
		return !noreply, false, nil
	}
}

// HandlerConn is the per-request handle passed to every Handler event. Its
// send_reply/send_client_error/send_error/send_stat/send_value family (spec
// section 4.3) lets a handler emit a response directly under rtHandled, and
// Defer constructs the connection's one DeferredReply for an rtDeferred
// response.
type HandlerConn struct {
	sc      *serverConn
	reqID   int64
	withCAS bool

	deferred *DeferredReply
	handled  bool
}

// Defer returns this dispatch's DeferredReply, constructing it on first
// call. Safe to call more than once per dispatch (a multi-key Get shares
// one DeferredReply across its on_get_start/on_get calls).
func (hc *HandlerConn) Defer() *DeferredReply {
	if hc.deferred == nil {
		hc.deferred = newDeferredReply(hc.sc.defCtx, hc.reqID)
	}
	return hc.deferred
}

func (hc *HandlerConn) send(data []byte) {
	hc.sc.send(hc.reqID, data)
}

// SendReply emits a raw, already-formatted response code line, e.g.
// protocol.RespStored.
func (hc *HandlerConn) SendReply(code protocol.RespCode) {
	hc.send([]byte(string(code) + "\r\n"))
}

// SendClientError emits "CLIENT_ERROR <msg>\r\n".
func (hc *HandlerConn) SendClientError(msg string) {
	hc.send([]byte("CLIENT_ERROR " + msg + "\r\n"))
}

// SendError emits "SERVER_ERROR <msg>\r\n", or plain "ERROR\r\n" if msg is
// empty (the catch-all unknown-command reply).
func (hc *HandlerConn) SendError(msg string) {
	if msg == "" {
		hc.send([]byte("ERROR\r\n"))
		return
	}
	hc.send([]byte("SERVER_ERROR " + msg + "\r\n"))
}

// SendStat emits one "STAT <key> <value>\r\n" line; the framework sends the
// terminating END once OnStats returns.
func (hc *HandlerConn) SendStat(key, value string) {
	hc.send([]byte("STAT " + key + " " + value + "\r\n"))
}

// SendValue emits a VALUE line plus body for key, honoring the CAS-
// reporting mode of the Get command this dispatch belongs to.
func (hc *HandlerConn) SendValue(key string, value []byte, flags uint32, cas uint64) {
	hc.send(formatValueLine(key, value, flags, cas, hc.withCAS))
}
