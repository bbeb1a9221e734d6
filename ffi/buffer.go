package ffi

import (
	"slices"
	"sync"
)

// scratchTier is a pool of buffers that all have the same capacity.
type scratchTier struct {
	size int
	pool sync.Pool
}

// BufferPool hands out scratch buffers for staging values before they are
// copied into linear memory. Requests are rounded up to the smallest tier
// that fits; larger requests are allocated directly.
type BufferPool struct {
	tiers []*scratchTier
}

// NewBufferPool creates a buffer pool with tiers from a header up to 2 MiB.
func NewBufferPool() *BufferPool {
	sizes := []int{64, 1 << 10, 8 << 10, 64 << 10, 512 << 10, 2 << 20}
	bp := &BufferPool{tiers: make([]*scratchTier, len(sizes))}
	for i, size := range sizes {
		bp.tiers[i] = &scratchTier{
			size: size,
			pool: sync.Pool{New: func() any { return make([]byte, size) }},
		}
	}
	return bp
}

func (bp *BufferPool) tier(fits func(size int) bool) *scratchTier {
	i := slices.IndexFunc(bp.tiers, func(t *scratchTier) bool { return fits(t.size) })
	if i < 0 {
		return nil
	}
	return bp.tiers[i]
}

// Get returns a buffer of length size. Its contents are unspecified.
func (bp *BufferPool) Get(size int) []byte {
	t := bp.tier(func(n int) bool { return n >= size })
	if t == nil {
		return make([]byte, size)
	}
	return t.pool.Get().([]byte)[:size]
}

// Put returns a buffer obtained from Get. Buffers that did not come from a
// tier are left to the garbage collector.
func (bp *BufferPool) Put(buf []byte) {
	if t := bp.tier(func(n int) bool { return n == cap(buf) }); t != nil {
		t.pool.Put(buf[:cap(buf)])
	}
}

var scratch = NewBufferPool()

// GetBuffer takes a buffer from the shared pool.
func GetBuffer(size int) []byte {
	return scratch.Get(size)
}

// PutBuffer returns a buffer to the shared pool.
func PutBuffer(buf []byte) {
	scratch.Put(buf)
}
