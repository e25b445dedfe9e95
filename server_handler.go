package evoasync

import "github.com/pior/evoasync/protocol"

// responseKind is the rtNORMAL/rtDEFERRED/rtHANDLED/rtCLOSE sum described
// in spec section 4.3.
type responseKind int

const (
	rtNormal responseKind = iota
	rtDeferred
	rtHandled
	rtClose
)

// ResponseResult is a handler event's return value: either a normal result
// (the framework formats and sends the canonical response text), a
// deferred marker (the handler must have constructed exactly one
// DeferredReply via HandlerConn.Defer), a handled marker (the handler
// already wrote its own response), or a close marker (tear down the
// connection).
type ResponseResult[T any] struct {
	kind  responseKind
	value T
}

// Normal wraps v as an immediate response value.
func Normal[T any](v T) ResponseResult[T] { return ResponseResult[T]{kind: rtNormal, value: v} }

// Deferred declares that exactly one DeferredReply was constructed this
// call via HandlerConn.Defer.
func Deferred[T any]() ResponseResult[T] { return ResponseResult[T]{kind: rtDeferred} }

// Handled declares that the handler already emitted its own response.
func Handled[T any]() ResponseResult[T] { return ResponseResult[T]{kind: rtHandled} }

// CloseConn declares that the connection must be torn down.
func CloseConn[T any]() ResponseResult[T] { return ResponseResult[T]{kind: rtClose} }

// IncrResult is OnIncrement's normal-path result value.
type IncrResult struct {
	Value uint64
	Found bool
}

// GetItem is OnGet's normal-path result value; nil means the key was not
// found (no VALUE line is emitted for it).
type GetItem struct {
	Value []byte
	Flags uint32
	CAS   uint64
}

// Handler is the aggregate event interface a MemcachedServer dispatches
// parsed commands to (spec section 4.3). Embed NopHandler to get defaults
// for events you don't care about.
type Handler interface {
	OnStore(hc *HandlerConn, key string, flags uint32, expire int64, value []byte, cmd protocol.CmdType, cas uint64) ResponseResult[StoreResult]
	OnIncrement(hc *HandlerConn, key string, delta uint64, incr bool) ResponseResult[IncrResult]
	OnDelete(hc *HandlerConn, key string) ResponseResult[bool]
	OnTouch(hc *HandlerConn, key string, expire int64) ResponseResult[bool]
	OnGetStart(hc *HandlerConn, keys []string, withCAS bool) ResponseResult[bool]
	OnGet(hc *HandlerConn, key string, withCAS bool) ResponseResult[*GetItem]
	OnGetEnd(hc *HandlerConn)
	OnStats(hc *HandlerConn, params []string)
	OnVersion() string
	OnUnknown(hc *HandlerConn, cmd string, params []string) ResponseResult[struct{}]
}

// NopHandler implements Handler with defaults for every event: store,
// incr/decr, delete and touch reply SERVER_ERROR Not implemented; the get
// family reports every key as a miss; stats sends no STAT lines; version
// reports "evoasync"; unknown commands get ERROR. Embed it and override only
// the events a concrete handler cares about.
type NopHandler struct{}

func (NopHandler) OnStore(hc *HandlerConn, key string, flags uint32, expire int64, value []byte, cmd protocol.CmdType, cas uint64) ResponseResult[StoreResult] {
	hc.SendError("Not implemented")
	return Handled[StoreResult]()
}

func (NopHandler) OnIncrement(hc *HandlerConn, key string, delta uint64, incr bool) ResponseResult[IncrResult] {
	hc.SendError("Not implemented")
	return Handled[IncrResult]()
}

func (NopHandler) OnDelete(hc *HandlerConn, key string) ResponseResult[bool] {
	hc.SendError("Not implemented")
	return Handled[bool]()
}

func (NopHandler) OnTouch(hc *HandlerConn, key string, expire int64) ResponseResult[bool] {
	hc.SendError("Not implemented")
	return Handled[bool]()
}

func (NopHandler) OnGetStart(hc *HandlerConn, keys []string, withCAS bool) ResponseResult[bool] {
	return Normal(true)
}

func (NopHandler) OnGet(hc *HandlerConn, key string, withCAS bool) ResponseResult[*GetItem] {
	return Normal[*GetItem](nil)
}

func (NopHandler) OnGetEnd(hc *HandlerConn) {}

func (NopHandler) OnStats(hc *HandlerConn, params []string) {}

func (NopHandler) OnVersion() string { return "evoasync" }

func (NopHandler) OnUnknown(hc *HandlerConn, cmd string, params []string) ResponseResult[struct{}] {
	hc.SendError("")
	return Handled[struct{}]()
}
