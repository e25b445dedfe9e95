package evoasync

import (
	"bufio"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pior/evoasync/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeServer attaches srv to one half of a net.Pipe and returns the other
// half, wrapped for line-oriented reads, for a test to drive as a raw
// client speaking the text protocol directly.
func pipeServer(t *testing.T, srv *MemcachedServer) (net.Conn, *bufio.Reader) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	srv.attach(serverSide)
	t.Cleanup(func() { _ = clientSide.Close() })
	return clientSide, bufio.NewReader(clientSide)
}

func readLine(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	return line
}

// storeHandler backs OnStore/OnGetStart/OnGet with an in-memory map, enough
// to exercise the full request/response cycle end to end.
type storeHandler struct {
	NopHandler
	items map[string][]byte
}

func newStoreHandler() *storeHandler {
	return &storeHandler{items: make(map[string][]byte)}
}

func (h *storeHandler) OnStore(hc *HandlerConn, key string, flags uint32, expire int64, value []byte, cmd protocol.CmdType, cas uint64) ResponseResult[StoreResult] {
	h.items[key] = value
	return Normal(StoreStored)
}

func (h *storeHandler) OnGetStart(hc *HandlerConn, keys []string, withCAS bool) ResponseResult[bool] {
	return Normal(true)
}

func (h *storeHandler) OnGet(hc *HandlerConn, key string, withCAS bool) ResponseResult[*GetItem] {
	v, ok := h.items[key]
	if !ok {
		return Normal[*GetItem](nil)
	}
	return Normal(&GetItem{Value: v})
}

func TestMemcachedServer_SetThenGet(t *testing.T) {
	srv := NewMemcachedServer(ServerConfig{Handler: newStoreHandler()})
	t.Cleanup(func() { _ = srv.Close() })
	conn, r := pipeServer(t, srv)

	_, err := conn.Write([]byte("set foo 0 0 3\r\nbar\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "STORED\r\n", readLine(t, r))

	_, err = conn.Write([]byte("get foo\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "VALUE foo 0 3\r\n", readLine(t, r))
	assert.Equal(t, "bar\r\n", readLine(t, r))
	assert.Equal(t, "END\r\n", readLine(t, r))
}

func TestMemcachedServer_GetMiss(t *testing.T) {
	srv := NewMemcachedServer(ServerConfig{Handler: newStoreHandler()})
	t.Cleanup(func() { _ = srv.Close() })
	conn, r := pipeServer(t, srv)

	_, err := conn.Write([]byte("get missing\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "END\r\n", readLine(t, r))
}

func TestMemcachedServer_NoReplySuppressesResponse(t *testing.T) {
	srv := NewMemcachedServer(ServerConfig{Handler: newStoreHandler()})
	t.Cleanup(func() { _ = srv.Close() })
	conn, r := pipeServer(t, srv)

	_, err := conn.Write([]byte("set foo 0 0 3 noreply\r\nbar\r\nget foo\r\n"))
	require.NoError(t, err)

	assert.Equal(t, "VALUE foo 0 3\r\n", readLine(t, r))
	assert.Equal(t, "bar\r\n", readLine(t, r))
	assert.Equal(t, "END\r\n", readLine(t, r))
}

func TestMemcachedServer_UnknownCommand(t *testing.T) {
	srv := NewMemcachedServer(ServerConfig{Handler: newStoreHandler()})
	t.Cleanup(func() { _ = srv.Close() })
	conn, r := pipeServer(t, srv)

	_, err := conn.Write([]byte("bogus\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "ERROR\r\n", readLine(t, r))
}

func TestMemcachedServer_CASDisabledByDefault(t *testing.T) {
	srv := NewMemcachedServer(ServerConfig{Handler: newStoreHandler()})
	t.Cleanup(func() { _ = srv.Close() })
	conn, r := pipeServer(t, srv)

	_, err := conn.Write([]byte("cas foo 0 0 3 1\r\nbar\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "SERVER_ERROR Not implemented\r\n", readLine(t, r))
}

func TestMemcachedServer_Version(t *testing.T) {
	srv := NewMemcachedServer(ServerConfig{Handler: newStoreHandler()})
	t.Cleanup(func() { _ = srv.Close() })
	conn, r := pipeServer(t, srv)

	_, err := conn.Write([]byte("version\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "VERSION evoasync\r\n", readLine(t, r))
}

// deferringHandler completes every store on a background goroutine,
// exercising the DeferredReply/DeferredContext concurrency path.
type deferringHandler struct {
	NopHandler
}

func (deferringHandler) OnStore(hc *HandlerConn, key string, flags uint32, expire int64, value []byte, cmd protocol.CmdType, cas uint64) ResponseResult[StoreResult] {
	d := hc.Defer()
	go func() {
		time.Sleep(5 * time.Millisecond)
		d.Store(StoreStored)
	}()
	return Deferred[StoreResult]()
}

func TestMemcachedServer_DeferredStore(t *testing.T) {
	srv := NewMemcachedServer(ServerConfig{Handler: deferringHandler{}})
	t.Cleanup(func() { _ = srv.Close() })
	conn, r := pipeServer(t, srv)

	_, err := conn.Write([]byte("set foo 0 0 3\r\nbar\r\n"))
	require.NoError(t, err)
	assert.Equal(t, "STORED\r\n", readLine(t, r))
}

func TestMemcachedServer_DeferredStoreOrderingAcrossCommands(t *testing.T) {
	// The first set defers (completing after a short delay on another
	// goroutine); the second set replies immediately. The reorderer must
	// still deliver replies in request order.
	h := &orderedDeferHandler{}
	srv := NewMemcachedServer(ServerConfig{Handler: h})
	t.Cleanup(func() { _ = srv.Close() })
	conn, r := pipeServer(t, srv)

	_, err := conn.Write([]byte("set slow 0 0 4\r\nslow\r\nset fast 0 0 4\r\nfast\r\n"))
	require.NoError(t, err)

	assert.Equal(t, "STORED\r\n", readLine(t, r))
	assert.Equal(t, "STORED\r\n", readLine(t, r))
	assert.Equal(t, []string{"fast", "slow"}, h.order())
}

type orderedDeferHandler struct {
	NopHandler
	mu  sync.Mutex
	seq []string
}

func (h *orderedDeferHandler) order() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.seq...)
}

func (h *orderedDeferHandler) append(key string) {
	h.mu.Lock()
	h.seq = append(h.seq, key)
	h.mu.Unlock()
}

func (h *orderedDeferHandler) OnStore(hc *HandlerConn, key string, flags uint32, expire int64, value []byte, cmd protocol.CmdType, cas uint64) ResponseResult[StoreResult] {
	if key == "slow" {
		d := hc.Defer()
		go func() {
			time.Sleep(10 * time.Millisecond)
			h.append(key)
			d.Store(StoreStored)
		}()
		return Deferred[StoreResult]()
	}
	h.append(key)
	return Normal(StoreStored)
}
