/*
File: flightgroup.go
Version: 1.3.0
Description: A sharded wrapper around singleflight.Group so concurrent
             requests for the same URL share one inference instead of
             contending on a single group mutex.
*/

package main

import (
	"hash/maphash"
	"sync"

	"golang.org/x/sync/singleflight"
)

const flightShardCount = 64

type ShardedGroup struct {
	shards []*singleflight.Group
	seed   maphash.Seed
}

var flightHashPool = sync.Pool{
	New: func() any {
		return new(maphash.Hash)
	},
}

func NewShardedGroup() *ShardedGroup {
	sg := &ShardedGroup{
		shards: make([]*singleflight.Group, flightShardCount),
		seed:   maphash.MakeSeed(),
	}
	for i := 0; i < flightShardCount; i++ {
		sg.shards[i] = &singleflight.Group{}
	}
	return sg
}

func (g *ShardedGroup) getShard(key string) *singleflight.Group {
	h := flightHashPool.Get().(*maphash.Hash)

	// Reset before SetSeed: a pooled hasher with prior state panics otherwise.
	h.Reset()
	h.SetSeed(g.seed)
	h.WriteString(key)

	idx := h.Sum64() & (flightShardCount - 1)
	flightHashPool.Put(h)

	return g.shards[idx]
}

func (g *ShardedGroup) Do(key string, fn func() (interface{}, error)) (v interface{}, err error, shared bool) {
	return g.getShard(key).Do(key, fn)
}

func (g *ShardedGroup) Forget(key string) {
	g.getShard(key).Forget(key)
}
