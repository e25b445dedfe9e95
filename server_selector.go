package evoasync

import (
	"github.com/pior/evoasync/internal"
	"github.com/zeebo/xxh3"
)

// BackendSelector picks which backend index serves a given key, out of
// serverCount available backends.
type BackendSelector func(key string, serverCount int) int

// DefaultServerSelector uses Jump Hash for consistent backend selection.
// Jump Hash gives good distribution and minimal key movement when backends
// are added or removed; for a single backend it always returns 0 (teacher's
// server_selector.go, unchanged algorithm, retargeted to BackendPool slots
// per SPEC_FULL's domain-stack wiring).
func DefaultServerSelector(key string, serverCount int) int {
	return internal.JumpHash(xxh3.HashString(key), serverCount)
}

// staticSelector always selects a fixed backend index; used in tests.
func staticSelector(index int) BackendSelector {
	return func(key string, serverCount int) int {
		return index % serverCount
	}
}
