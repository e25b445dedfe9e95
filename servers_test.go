package evoasync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStaticServers_List(t *testing.T) {
	servers := NewStaticServers("server1:11211", "server2:11211", "server3:11211")

	list := servers.List()

	assert.Len(t, list, 3)
	assert.Equal(t, "server1:11211", list[0])
	assert.Equal(t, "server2:11211", list[1])
	assert.Equal(t, "server3:11211", list[2])
}

func TestStaticServers_EmptyList(t *testing.T) {
	servers := NewStaticServers()

	list := servers.List()

	assert.Len(t, list, 0)
}

func TestStaticServers_SingleServer(t *testing.T) {
	servers := NewStaticServers("localhost:11211")

	list := servers.List()

	assert.Len(t, list, 1)
	assert.Equal(t, "localhost:11211", list[0])
}

func TestStaticServers_ConcurrentAccess(t *testing.T) {
	servers := NewStaticServers("server1:11211", "server2:11211", "server3:11211")

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			list := servers.List()
			assert.Len(t, list, 3)
		}()
	}

	wg.Wait()
}
