// Package hub implements the §4.E server hub: listener binding (via
// transport/tcp), per-connection task spawning, a lock-sharded connection
// registry tolerant of concurrent insert/remove during broadcast
// enumeration, and graceful shutdown.
//
// The registry is grounded on internal/session/store.go's sharded,
// fnv32-hashed design, keyed on a connection's uint64 identity instead of
// a string session id.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package hub

import (
	"sync"

	"github.com/hioload/wsgate/wsconn"
)

const defaultShardCount = 16

type registry struct {
	shards []*registryShard
	mask   uint64
}

type registryShard struct {
	mu    sync.RWMutex
	conns map[uint64]*wsconn.Connection
}

func newRegistry(shardCount int) *registry {
	if shardCount <= 0 {
		shardCount = defaultShardCount
	}
	n := nextPowerOfTwo(uint64(shardCount))
	shards := make([]*registryShard, n)
	for i := range shards {
		shards[i] = &registryShard{conns: make(map[uint64]*wsconn.Connection)}
	}
	return &registry{shards: shards, mask: n - 1}
}

func (r *registry) shard(id uint64) *registryShard {
	return r.shards[id&r.mask]
}

func (r *registry) insert(c *wsconn.Connection) {
	sh := r.shard(c.ID)
	sh.mu.Lock()
	sh.conns[c.ID] = c
	sh.mu.Unlock()
}

func (r *registry) remove(id uint64) {
	sh := r.shard(id)
	sh.mu.Lock()
	delete(sh.conns, id)
	sh.mu.Unlock()
}

// snapshot copies every live connection into a slice, so callers (e.g.
// broadcast) can enumerate without holding any shard lock across sends.
func (r *registry) snapshot() []*wsconn.Connection {
	out := make([]*wsconn.Connection, 0, 64)
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, c := range sh.conns {
			out = append(out, c)
		}
		sh.mu.RUnlock()
	}
	return out
}

func (r *registry) shardCount() int {
	return len(r.shards)
}

func (r *registry) count() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.conns)
		sh.mu.RUnlock()
	}
	return n
}

func nextPowerOfTwo(v uint64) uint64 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	v++
	return v
}
