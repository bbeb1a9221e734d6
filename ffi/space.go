package ffi

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/OpenListTeam/wazero-typeinfo/errors"
)

// SpaceID names a registered Space inside container headers.
type SpaceID uint32

// Space is a linear memory together with the allocator that manages it.
// Container headers refer to their Space by ID, so a header read back from
// memory can be resolved to the memory and allocator it belongs to.
type Space struct {
	id    SpaceID
	mem   api.Memory
	alloc *Allocator
}

var spaces = newTable[*Space]()

// NewSpace registers a memory and its allocator.
func NewSpace(mem api.Memory, alloc *Allocator) (*Space, error) {
	if mem == nil {
		return nil, fmt.Errorf("space memory is nil")
	}
	if err := alloc.validate(); err != nil {
		return nil, err
	}
	s := &Space{mem: mem, alloc: alloc}
	s.id = SpaceID(spaces.add(s))
	return s, nil
}

// NewArenaSpace registers mem with a fresh Arena managing it.
func NewArenaSpace(mem api.Memory, opts ...ArenaOption) (*Space, *Arena, error) {
	arena := NewArena(mem, opts...)
	s, err := NewSpace(mem, arena.Allocator())
	if err != nil {
		return nil, nil, err
	}
	return s, arena, nil
}

// LookupSpace resolves a SpaceID.
func LookupSpace(id SpaceID) (*Space, error) {
	s, ok := spaces.get(uint32(id))
	if !ok {
		return nil, errors.NotFound(errors.PhaseDecode, fmt.Sprintf("space %d is not registered", id))
	}
	return s, nil
}

func (s *Space) ID() SpaceID           { return s.id }
func (s *Space) Memory() api.Memory    { return s.mem }
func (s *Space) Allocator() *Allocator { return s.alloc }

// Close unregisters the space. Containers that still refer to it can no
// longer be read or released.
func (s *Space) Close() {
	spaces.remove(uint32(s.id))
}

// Alloc obtains a block through the space's allocator.
func (s *Space) Alloc(ctx context.Context, l MemLayout) (uint32, error) {
	return s.call(l, func() Block { return s.alloc.Allocate(ctx, l) })
}

// AllocZeroed obtains a zero-filled block through the space's allocator.
func (s *Space) AllocZeroed(ctx context.Context, l MemLayout) (uint32, error) {
	return s.call(l, func() Block { return s.alloc.AllocateZeroed(ctx, l) })
}

// Grow enlarges a block, possibly moving it. When zeroed the new tail is cleared.
func (s *Space) Grow(ctx context.Context, ptr uint32, from, to MemLayout, zeroed bool) (uint32, error) {
	if zeroed {
		return s.call(to, func() Block { return s.alloc.GrowZeroed(ctx, ptr, from, to) })
	}
	return s.call(to, func() Block { return s.alloc.Grow(ctx, ptr, from, to) })
}

// Shrink reduces a block, possibly moving it.
func (s *Space) Shrink(ctx context.Context, ptr uint32, from, to MemLayout) (uint32, error) {
	return s.call(to, func() Block { return s.alloc.Shrink(ctx, ptr, from, to) })
}

// Free returns a block to the space's allocator.
func (s *Space) Free(ctx context.Context, ptr uint32, l MemLayout) error {
	res := Catch(func() Block {
		s.alloc.Deallocate(ctx, ptr, l)
		return Block{Ptr: ptr}
	})
	if res.Panicked {
		Logger().Warn("deallocate panicked", zap.Uint32("ptr", ptr), zap.Any("panic", res.Payload()))
		return res.Err()
	}
	return nil
}

func (s *Space) call(l MemLayout, fn func() Block) (uint32, error) {
	res := Catch(fn)
	if res.Panicked {
		Logger().Warn("allocator panicked", zap.Uint32("size", l.Size), zap.Any("panic", res.Payload()))
		return 0, errors.New(errors.PhaseAlloc, errors.KindAllocation).
			Detail("allocator panicked for %d bytes", l.Size).
			Cause(res.Err()).Build()
	}
	if res.Value.Failed() {
		return 0, errors.AllocationFailed(errors.PhaseAlloc, l.Size, l.Align)
	}
	return res.Value.Ptr, nil
}

// read returns a view of size bytes at ptr. The view is only valid until
// the memory next grows.
func (s *Space) read(ptr, size uint32) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	data, ok := s.mem.Read(ptr, size)
	if !ok {
		return nil, errors.MemoryOutOfRange(errors.PhaseDecode, ptr, size)
	}
	return data, nil
}

func (s *Space) write(ptr uint32, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	if !s.mem.Write(ptr, data) {
		return errors.MemoryOutOfRange(errors.PhaseEncode, ptr, uint32(len(data)))
	}
	return nil
}

// blockLayout is the layout actually requested for n bytes. Zero-sized
// values still get a one-byte block so that every owner holds a real pointer.
func blockLayout(size, align uint32) MemLayout {
	return MemLayout{Size: max(size, 1), Align: max(align, 1)}
}
