package ffi

import (
	"context"
	"slices"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
)

// PageSize is the size of a WebAssembly memory page.
const PageSize = 65536

const defaultArenaBase = 16

// AllocStats is a snapshot of an Arena's bookkeeping.
type AllocStats struct {
	Allocs    uint64 // successful allocations
	Frees     uint64 // successful deallocations
	Reallocs  uint64 // grow and shrink calls that succeeded
	Invalid   uint64 // frees or reallocs of blocks the arena does not own
	Live      uint64 // blocks currently allocated
	LiveBytes uint64 // bytes currently allocated
}

type span struct {
	off  uint32
	size uint32
}

// Arena is a host-side first-fit allocator that manages a linear memory
// from its base offset upwards, growing the memory page by page as needed.
type Arena struct {
	mu       sync.Mutex
	mem      api.Memory
	base     uint32
	top      uint32
	maxPages uint32
	free     []span // sorted by offset, never adjacent
	live     map[uint32]uint32
	stats    AllocStats
}

// ArenaOption configures an Arena.
type ArenaOption func(*Arena)

// WithArenaBase sets the first offset the arena may hand out. Everything
// below it is left to its owner. The base is never zero.
func WithArenaBase(base uint32) ArenaOption {
	return func(a *Arena) {
		if base > 0 {
			a.base = base
		}
	}
}

// WithArenaMaxPages caps the number of pages the memory may grow to. Zero
// means no cap beyond the memory's own maximum.
func WithArenaMaxPages(pages uint32) ArenaOption {
	return func(a *Arena) {
		a.maxPages = pages
	}
}

// NewArena creates an arena over mem.
func NewArena(mem api.Memory, opts ...ArenaOption) *Arena {
	a := &Arena{
		mem:  mem,
		base: defaultArenaBase,
		live: make(map[uint32]uint32),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.top = a.base
	return a
}

// Stats returns a snapshot of the arena's counters.
func (a *Arena) Stats() AllocStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

// Allocator returns the allocator vtable backed by this arena.
func (a *Arena) Allocator() *Allocator {
	return &Allocator{
		Allocate: func(_ context.Context, l MemLayout) Block {
			return a.allocate(l, false)
		},
		Deallocate: func(_ context.Context, ptr uint32, l MemLayout) {
			a.deallocate(ptr, l)
		},
		AllocateZeroed: func(_ context.Context, l MemLayout) Block {
			return a.allocate(l, true)
		},
		Grow: func(_ context.Context, ptr uint32, from, to MemLayout) Block {
			return a.realloc(ptr, from, to, false)
		},
		GrowZeroed: func(_ context.Context, ptr uint32, from, to MemLayout) Block {
			return a.realloc(ptr, from, to, true)
		},
		Shrink: func(_ context.Context, ptr uint32, from, to MemLayout) Block {
			return a.realloc(ptr, from, to, false)
		},
	}
}

// Realloc serves the cabi_realloc calling convention, for guests that
// forward their allocations to the host: (0, 0, align, n) allocates,
// (ptr, n, align, 0) frees and anything else resizes. It returns 0 when the
// request cannot be met.
func (a *Arena) Realloc(ptr, oldSize, align, newSize uint32) uint32 {
	switch {
	case newSize == 0:
		a.deallocate(ptr, MemLayout{Size: oldSize, Align: align})
		return 0
	case ptr == 0:
		return a.allocate(MemLayout{Size: newSize, Align: align}, false).Ptr
	default:
		from := MemLayout{Size: oldSize, Align: align}
		return a.realloc(ptr, from, MemLayout{Size: newSize, Align: align}, false).Ptr
	}
}

func alignUp(ptr, alignment uint32) uint32 {
	if alignment <= 1 {
		return ptr
	}
	return (ptr + alignment - 1) &^ (alignment - 1)
}

func (a *Arena) allocate(l MemLayout, zeroed bool) Block {
	a.mu.Lock()
	defer a.mu.Unlock()

	ptr, ok := a.take(max(l.Size, 1), l.Align)
	if !ok {
		Logger().Debug("arena allocation failed", zap.Uint32("size", l.Size), zap.Uint32("align", l.Align))
		return Block{}
	}
	if zeroed && !a.zero(ptr, l.Size) {
		a.release(ptr)
		return Block{}
	}
	a.stats.Allocs++
	return Block{Ptr: ptr, Len: l.Size}
}

func (a *Arena) deallocate(ptr uint32, l MemLayout) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.live[ptr]; !ok {
		a.stats.Invalid++
		Logger().Warn("free of a block the arena does not own", zap.Uint32("ptr", ptr), zap.Uint32("size", l.Size))
		return
	}
	a.release(ptr)
	a.stats.Frees++
}

func (a *Arena) realloc(ptr uint32, from, to MemLayout, zeroed bool) Block {
	if ptr == 0 {
		return a.allocate(to, zeroed)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	size, ok := a.live[ptr]
	if !ok {
		a.stats.Invalid++
		Logger().Warn("realloc of a block the arena does not own", zap.Uint32("ptr", ptr))
		return Block{}
	}
	want := max(to.Size, 1)

	switch {
	case ptr%max(to.Align, 1) != 0:
		// Misaligned for the new layout, fall through to a move.
	case want <= size:
		a.shrinkInPlace(ptr, size, want)
		a.stats.Reallocs++
		return Block{Ptr: ptr, Len: to.Size}
	case a.growInPlace(ptr, size, want):
		if zeroed && !a.zero(ptr+size, want-size) {
			return Block{}
		}
		a.stats.Reallocs++
		return Block{Ptr: ptr, Len: to.Size}
	}

	next, ok := a.take(want, to.Align)
	if !ok {
		return Block{}
	}
	n := min(size, want)
	data, ok := a.mem.Read(ptr, n)
	if !ok || !a.mem.Write(next, data) {
		a.release(next)
		return Block{}
	}
	if zeroed && want > size && !a.zero(next+size, want-size) {
		a.release(next)
		return Block{}
	}
	a.release(ptr)
	a.stats.Reallocs++
	return Block{Ptr: next, Len: to.Size}
}

// take reserves size bytes aligned to align, first from the free list and
// then from the top of the arena.
func (a *Arena) take(size, align uint32) (uint32, bool) {
	align = max(align, 1)
	for i, s := range a.free {
		start := alignUp(s.off, align)
		end := uint64(start) + uint64(size)
		if end > uint64(s.off)+uint64(s.size) {
			continue
		}
		a.free = slices.Delete(a.free, i, i+1)
		if start > s.off {
			a.insertFree(span{off: s.off, size: start - s.off})
		}
		if rest := s.off + s.size - uint32(end); rest > 0 {
			a.insertFree(span{off: uint32(end), size: rest})
		}
		a.markLive(start, size)
		return start, true
	}

	start := alignUp(a.top, align)
	end := uint64(start) + uint64(size)
	if end >= 1<<32 || !a.ensure(uint32(end)) {
		return 0, false
	}
	if start > a.top {
		a.insertFree(span{off: a.top, size: start - a.top})
	}
	a.top = uint32(end)
	a.markLive(start, size)
	return start, true
}

func (a *Arena) markLive(ptr, size uint32) {
	a.live[ptr] = size
	a.stats.Live++
	a.stats.LiveBytes += uint64(size)
}

// release returns a live block to the free list.
func (a *Arena) release(ptr uint32) {
	size := a.live[ptr]
	delete(a.live, ptr)
	a.stats.Live--
	a.stats.LiveBytes -= uint64(size)
	a.insertFree(span{off: ptr, size: size})
}

func (a *Arena) shrinkInPlace(ptr, size, want uint32) {
	if want == size {
		return
	}
	a.live[ptr] = want
	a.stats.LiveBytes -= uint64(size - want)
	a.insertFree(span{off: ptr + want, size: size - want})
}

func (a *Arena) growInPlace(ptr, size, want uint32) bool {
	end := ptr + size
	extra := want - size

	if end == a.top {
		if uint64(a.top)+uint64(extra) >= 1<<32 || !a.ensure(a.top+extra) {
			return false
		}
		a.top += extra
	} else {
		i, found := slices.BinarySearchFunc(a.free, end, func(s span, off uint32) int {
			return int(int64(s.off) - int64(off))
		})
		if !found || a.free[i].size < extra {
			return false
		}
		if a.free[i].size == extra {
			a.free = slices.Delete(a.free, i, i+1)
		} else {
			a.free[i].off += extra
			a.free[i].size -= extra
		}
	}
	a.live[ptr] = want
	a.stats.LiveBytes += uint64(extra)
	return true
}

// insertFree adds s to the free list, merging it with its neighbours and
// with the top of the arena.
func (a *Arena) insertFree(s span) {
	if s.size == 0 {
		return
	}
	i, _ := slices.BinarySearchFunc(a.free, s.off, func(f span, off uint32) int {
		return int(int64(f.off) - int64(off))
	})
	if i < len(a.free) && s.off+s.size == a.free[i].off {
		s.size += a.free[i].size
		a.free = slices.Delete(a.free, i, i+1)
	}
	if i > 0 && a.free[i-1].off+a.free[i-1].size == s.off {
		i--
		s.off = a.free[i].off
		s.size += a.free[i].size
		a.free = slices.Delete(a.free, i, i+1)
	}
	if s.off+s.size == a.top {
		a.top = s.off
		return
	}
	a.free = slices.Insert(a.free, i, s)
}

// ensure grows the memory so that offsets below end are addressable.
func (a *Arena) ensure(end uint32) bool {
	size := a.mem.Size()
	if end <= size {
		return true
	}
	pages := uint32((uint64(end) - uint64(size) + PageSize - 1) / PageSize)
	if a.maxPages > 0 && size/PageSize+pages > a.maxPages {
		return false
	}
	if _, ok := a.mem.Grow(pages); !ok {
		return false
	}
	Logger().Debug("arena grew memory", zap.Uint32("pages", pages), zap.Uint32("size", a.mem.Size()))
	return true
}

func (a *Arena) zero(ptr, size uint32) bool {
	if size == 0 {
		return true
	}
	return a.mem.Write(ptr, make([]byte, size))
}
