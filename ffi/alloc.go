package ffi

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// MemLayout is the size and alignment of a block of linear memory.
type MemLayout struct {
	Size  uint32
	Align uint32
}

// Block is the result of an allocator call. A zero Ptr means the call failed.
type Block struct {
	Ptr uint32
	Len uint32
}

// Failed reports whether b is the failure sentinel.
func (b Block) Failed() bool {
	return b.Ptr == 0
}

// Allocator is the fixed set of entry points through which container memory
// is obtained and returned. Memory must be released through the Allocator
// that produced it. Failure is reported by returning a zero Block, never by
// panicking; a slot that panics anyway is caught by the Space that calls it.
type Allocator struct {
	Allocate       func(ctx context.Context, l MemLayout) Block
	Deallocate     func(ctx context.Context, ptr uint32, l MemLayout)
	AllocateZeroed func(ctx context.Context, l MemLayout) Block
	Grow           func(ctx context.Context, ptr uint32, from, to MemLayout) Block
	GrowZeroed     func(ctx context.Context, ptr uint32, from, to MemLayout) Block
	Shrink         func(ctx context.Context, ptr uint32, from, to MemLayout) Block
}

func (a *Allocator) validate() error {
	switch {
	case a == nil:
		return fmt.Errorf("allocator is nil")
	case a.Allocate == nil, a.Deallocate == nil, a.AllocateZeroed == nil,
		a.Grow == nil, a.GrowZeroed == nil, a.Shrink == nil:
		return fmt.Errorf("allocator has an empty slot")
	}
	return nil
}

// Counter records the calls made through a counted Allocator.
type Counter struct {
	allocs  atomic.Int64
	frees   atomic.Int64
	grows   atomic.Int64
	shrinks atomic.Int64
}

func (c *Counter) Allocs() int64  { return c.allocs.Load() }
func (c *Counter) Frees() int64   { return c.frees.Load() }
func (c *Counter) Grows() int64   { return c.grows.Load() }
func (c *Counter) Shrinks() int64 { return c.shrinks.Load() }

// Live returns the number of successful allocations not yet released.
func (c *Counter) Live() int64 {
	return c.allocs.Load() - c.frees.Load()
}

// Counted wraps a so that every successful call is recorded in the returned Counter.
func Counted(a *Allocator) (*Allocator, *Counter) {
	c := &Counter{}
	count := func(b Block, n *atomic.Int64) Block {
		if !b.Failed() {
			n.Add(1)
		}
		return b
	}
	return &Allocator{
		Allocate: func(ctx context.Context, l MemLayout) Block {
			return count(a.Allocate(ctx, l), &c.allocs)
		},
		Deallocate: func(ctx context.Context, ptr uint32, l MemLayout) {
			a.Deallocate(ctx, ptr, l)
			c.frees.Add(1)
		},
		AllocateZeroed: func(ctx context.Context, l MemLayout) Block {
			return count(a.AllocateZeroed(ctx, l), &c.allocs)
		},
		Grow: func(ctx context.Context, ptr uint32, from, to MemLayout) Block {
			return count(a.Grow(ctx, ptr, from, to), &c.grows)
		},
		GrowZeroed: func(ctx context.Context, ptr uint32, from, to MemLayout) Block {
			return count(a.GrowZeroed(ctx, ptr, from, to), &c.grows)
		},
		Shrink: func(ctx context.Context, ptr uint32, from, to MemLayout) Block {
			return count(a.Shrink(ctx, ptr, from, to), &c.shrinks)
		},
	}, c
}

// guestAllocator manages memory allocation within the Wasm guest.
// It requires the guest to export `cabi_realloc`.
type guestAllocator struct {
	realloc api.Function
	mem     api.Memory
}

// NewGuestAllocator builds an Allocator over the guest's `cabi_realloc`
// export. mem is the memory the guest allocates in; when nil the module's
// own memory is used.
func NewGuestAllocator(module api.Module, mem api.Memory) (*Allocator, error) {
	reallocFunc := module.ExportedFunction("cabi_realloc")
	if reallocFunc == nil {
		return nil, fmt.Errorf("guest module must export `cabi_realloc` function")
	}
	if mem == nil {
		mem = module.Memory()
	}
	if mem == nil {
		return nil, fmt.Errorf("guest module %q has no memory", module.Name())
	}

	g := &guestAllocator{realloc: reallocFunc, mem: mem}
	return &Allocator{
		Allocate: func(ctx context.Context, l MemLayout) Block {
			// cabi_realloc(0, 0, alignment, size) is the call for a new allocation.
			return g.call(ctx, 0, 0, l.Align, l.Size)
		},
		Deallocate: func(ctx context.Context, ptr uint32, l MemLayout) {
			// cabi_realloc(ptr, size, alignment, 0) is the call for freeing memory.
			g.call(ctx, ptr, l.Size, l.Align, 0)
		},
		AllocateZeroed: func(ctx context.Context, l MemLayout) Block {
			b := g.call(ctx, 0, 0, l.Align, l.Size)
			return g.zero(b, 0)
		},
		Grow: func(ctx context.Context, ptr uint32, from, to MemLayout) Block {
			return g.call(ctx, ptr, from.Size, to.Align, to.Size)
		},
		GrowZeroed: func(ctx context.Context, ptr uint32, from, to MemLayout) Block {
			b := g.call(ctx, ptr, from.Size, to.Align, to.Size)
			return g.zero(b, from.Size)
		},
		Shrink: func(ctx context.Context, ptr uint32, from, to MemLayout) Block {
			return g.call(ctx, ptr, from.Size, to.Align, to.Size)
		},
	}, nil
}

func (g *guestAllocator) call(ctx context.Context, ptr, oldSize, align, newSize uint32) Block {
	results, err := g.realloc.Call(ctx, uint64(ptr), uint64(oldSize), uint64(align), uint64(newSize))
	if err != nil {
		Logger().Warn("cabi_realloc failed",
			zap.Uint32("ptr", ptr),
			zap.Uint32("old_size", oldSize),
			zap.Uint32("new_size", newSize),
			zap.Error(err),
		)
		return Block{}
	}
	if newSize == 0 || len(results) == 0 {
		return Block{}
	}
	return Block{Ptr: uint32(results[0]), Len: newSize}
}

// zero clears the block from offset from to its end.
func (g *guestAllocator) zero(b Block, from uint32) Block {
	if b.Failed() || b.Len <= from {
		return b
	}
	if !g.mem.Write(b.Ptr+from, make([]byte, b.Len-from)) {
		return Block{}
	}
	return b
}
