package evoasync

import (
	"testing"
	"time"

	"github.com/pior/evoasync/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// attachToMock wires a MemcachedClient directly to a scripted connection,
// bypassing ConnectIP/dialAndAttach so tests don't need a real socket.
func attachToMock(t *testing.T, c *MemcachedClient, mock *testutils.ConnectionMock) *LocalEventLoop {
	t.Helper()
	loop := NewLocalEventLoop(nil)
	c.mu.Lock()
	c.loop = loop
	c.ownsLoop = true
	c.state = stateConnected
	lc := loop.Attach(mock, c)
	c.conn = lc
	c.mu.Unlock()
	t.Cleanup(loop.Stop)
	return loop
}

func TestMemcachedClient_Get_Hit(t *testing.T) {
	mock := testutils.NewConnectionMock("VALUE foo 0 3\r\nbar\r\nEND\r\n")
	c := NewMemcachedClient(ClientConfig{})
	attachToMock(t, c, mock)

	type got struct {
		key   string
		value []byte
	}
	values := make(chan got, 1)
	ended := make(chan []string, 1)

	err := c.Get([]string{"foo"}, true,
		func(key string, value []byte, flags uint32, cas uint64) {
			values <- got{key: key, value: append([]byte(nil), value...)}
		},
		func(notFound []string) { ended <- notFound },
	)
	require.NoError(t, err)

	select {
	case v := <-values:
		assert.Equal(t, "foo", v.key)
		assert.Equal(t, "bar", string(v.value))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for value")
	}

	select {
	case notFound := <-ended:
		assert.Empty(t, notFound)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for get-end")
	}

	assert.Equal(t, "get foo\r\n", mock.GetWrittenRequest())
}

func TestMemcachedClient_Get_Miss_TracksNotFound(t *testing.T) {
	mock := testutils.NewConnectionMock("END\r\n")
	c := NewMemcachedClient(ClientConfig{})
	attachToMock(t, c, mock)

	ended := make(chan []string, 1)
	err := c.Get([]string{"missing"}, true,
		func(string, []byte, uint32, uint64) { t.Fatal("unexpected value") },
		func(notFound []string) { ended <- notFound },
	)
	require.NoError(t, err)

	select {
	case notFound := <-ended:
		assert.Equal(t, []string{"missing"}, notFound)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for get-end")
	}
}

func TestMemcachedClient_Set_Stored(t *testing.T) {
	mock := testutils.NewConnectionMock("STORED\r\n")
	c := NewMemcachedClient(ClientConfig{})
	attachToMock(t, c, mock)

	results := make(chan StoreResult, 1)
	err := c.Set("foo", 0, 0, []byte("bar"), func(key string, result StoreResult) {
		results <- result
	})
	require.NoError(t, err)

	select {
	case r := <-results:
		assert.Equal(t, StoreStored, r)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for store result")
	}

	assert.Equal(t, "set foo 0 0 3\r\nbar\r\n", mock.GetWrittenRequest())
}

func TestMemcachedClient_Incr(t *testing.T) {
	mock := testutils.NewConnectionMock("5\r\n")
	c := NewMemcachedClient(ClientConfig{})
	attachToMock(t, c, mock)

	type outcome struct {
		value uint64
		found bool
	}
	results := make(chan outcome, 1)
	err := c.Incr("counter", 1, func(key string, value uint64, found bool) {
		results <- outcome{value: value, found: found}
	})
	require.NoError(t, err)

	select {
	case o := <-results:
		assert.True(t, o.found)
		assert.EqualValues(t, 5, o.value)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for incr result")
	}
}

func TestMemcachedClient_NoReply_SkipsDescriptor(t *testing.T) {
	mock := testutils.NewConnectionMock("")
	c := NewMemcachedClient(ClientConfig{})
	attachToMock(t, c, mock)

	err := c.Set("foo", 0, 0, []byte("bar"), nil)
	require.NoError(t, err)

	assert.Equal(t, "set foo 0 0 3 noreply\r\nbar\r\n", mock.GetWrittenRequest())
	assert.Equal(t, 0, c.queue.Len())
}

func TestMemcachedClient_WriteCommand_NotConnected(t *testing.T) {
	c := NewMemcachedClient(ClientConfig{})
	err := c.Set("foo", 0, 0, []byte("bar"), func(string, StoreResult) {})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestMemcachedClient_Backpressure(t *testing.T) {
	// A bare LoopConn with no reader goroutine: this test only exercises the
	// write path, and a live mock would race an immediate EOF close against
	// the assertions below.
	mock := testutils.NewConnectionMock("")
	c := NewMemcachedClient(ClientConfig{QueueCapacity: 1})
	c.mu.Lock()
	c.state = stateConnected
	c.conn = &LoopConn{id: nextConnID(), conn: mock, buf: NewAsyncBuffers(0, 0)}
	c.mu.Unlock()

	require.NoError(t, c.Set("foo", 0, 0, []byte("x"), func(string, StoreResult) {}))
	err := c.Set("bar", 0, 0, []byte("y"), func(string, StoreResult) {})
	assert.ErrorIs(t, err, ErrBackpressure)
}
