// Package pool provides typed object pooling for the encode hot path.
//
// Pooled objects never escape the call that borrowed them: an encoder takes a
// scratch buffer and a native record map, serializes, copies the result into
// a fresh slice and returns both to the pool.
//
//	buf := pool.GetScratch()
//	defer pool.PutScratch(buf)
//	*buf, err = codec.TextualFromNative((*buf)[:0], native)
package pool

import (
	"sync"
	"sync/atomic"
)

// Pool represents a generic object pool with type safety.
// It wraps sync.Pool with statistics tracking and an optional reset
// function. The pool is safe for concurrent use.
type Pool[T any] struct {
	pool  sync.Pool
	new   func() T
	reset func(T)
	stats struct {
		allocated int64
		inUse     int64
		hits      int64
	}
}

// New creates a new typed pool with custom allocation and reset functions.
// The reset function, if not nil, runs before an object goes back to the pool.
func New[T any](new func() T, reset func(T)) *Pool[T] {
	p := &Pool[T]{
		new:   new,
		reset: reset,
	}
	p.pool.New = func() interface{} {
		atomic.AddInt64(&p.stats.allocated, 1)
		return new()
	}
	return p
}

// Get retrieves an object from the pool, allocating one if the pool is empty.
func (p *Pool[T]) Get() T {
	atomic.AddInt64(&p.stats.inUse, 1)
	obj := p.pool.Get().(T)
	atomic.AddInt64(&p.stats.hits, 1)
	return obj
}

// Put returns an object to the pool for reuse.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil {
		p.reset(obj)
	}
	atomic.AddInt64(&p.stats.inUse, -1)
	p.pool.Put(obj)
}

// Stats returns the number of objects allocated by the pool, currently
// checked out, and served by Get.
func (p *Pool[T]) Stats() (allocated, inUse, gets int64) {
	return atomic.LoadInt64(&p.stats.allocated),
		atomic.LoadInt64(&p.stats.inUse),
		atomic.LoadInt64(&p.stats.hits)
}

// maxPooledScratch caps the capacity of scratch buffers kept for reuse so a
// single oversized row does not pin memory for the life of the process.
const maxPooledScratch = 1 << 20

var scratchPool = New(
	func() *[]byte {
		b := make([]byte, 0, 4096)
		return &b
	},
	func(b *[]byte) {
		*b = (*b)[:0]
	},
)

// GetScratch returns an empty byte slice with spare capacity.
func GetScratch() *[]byte {
	return scratchPool.Get()
}

// PutScratch returns a scratch buffer to the pool.
func PutScratch(b *[]byte) {
	if b == nil || cap(*b) > maxPooledScratch {
		return
	}
	scratchPool.Put(b)
}

// ScratchStats exposes the scratch pool statistics.
func ScratchStats() (allocated, inUse, gets int64) {
	return scratchPool.Stats()
}

var mapPool = New(
	func() map[string]interface{} {
		return make(map[string]interface{}, 16)
	},
	func(m map[string]interface{}) {
		for k := range m {
			delete(m, k)
		}
	},
)

// GetMap returns an empty map for building a native record.
func GetMap() map[string]interface{} {
	return mapPool.Get()
}

// PutMap clears m and returns it to the pool.
func PutMap(m map[string]interface{}) {
	if m == nil {
		return
	}
	mapPool.Put(m)
}
