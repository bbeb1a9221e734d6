package ffi

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/OpenListTeam/wazero-typeinfo/errors"
	"github.com/OpenListTeam/wazero-typeinfo/layout"
)

// ConstPtr is a raw read-only offset of a T in some linear memory. It does
// not know its Space; readers supply it.
type ConstPtr[T any] uint32

// MutPtr is a raw writable offset of a T.
type MutPtr[T any] uint32

// NonNull is a raw offset of a T that is never zero.
type NonNull[T any] uint32

func (p ConstPtr[T]) IsNull() bool { return p == 0 }
func (p MutPtr[T]) IsNull() bool   { return p == 0 }

// Load reads the pointee from s.
func (p ConstPtr[T]) Load(s *Space) (T, error) { return load[T](s, uint32(p)) }
func (p MutPtr[T]) Load(s *Space) (T, error)   { return load[T](s, uint32(p)) }
func (p NonNull[T]) Load(s *Space) (T, error)  { return load[T](s, uint32(p)) }

// Store writes v over the pointee in s.
func (p MutPtr[T]) Store(s *Space, v T) error  { return store(s, uint32(p), v) }
func (p NonNull[T]) Store(s *Space, v T) error { return store(s, uint32(p), v) }

// NewNonNull checks that ptr is not zero.
func NewNonNull[T any](ptr uint32) (NonNull[T], error) {
	if ptr == 0 {
		return 0, errors.New(errors.PhaseDecode, errors.KindNilPointer).
			Detail("NonNull pointer is zero").Build()
	}
	return NonNull[T](ptr), nil
}

func (ConstPtr[T]) ReflectLayout(defined layout.DefinedTypes) (layout.FullLayout, error) {
	return pointerReflect[T](defined, layout.Const)
}

func (MutPtr[T]) ReflectLayout(defined layout.DefinedTypes) (layout.FullLayout, error) {
	return pointerReflect[T](defined, layout.Mut)
}

func (NonNull[T]) ReflectLayout(defined layout.DefinedTypes) (layout.FullLayout, error) {
	return pointerReflect[T](defined, layout.NonNull)
}

func load[T any](s *Space, ptr uint32) (T, error) {
	var zero T
	if ptr == 0 {
		return zero, errors.New(errors.PhaseDecode, errors.KindNilPointer).
			GoType(fmt.Sprintf("%T", zero)).Detail("load through a null pointer").Build()
	}
	c, err := CodecFor[T]()
	if err != nil {
		return zero, err
	}
	return c.Load(s.mem, ptr)
}

func store[T any](s *Space, ptr uint32, v T) error {
	if ptr == 0 {
		return errors.New(errors.PhaseEncode, errors.KindNilPointer).
			GoType(fmt.Sprintf("%T", v)).Detail("store through a null pointer").Build()
	}
	c, err := CodecFor[T]()
	if err != nil {
		return err
	}
	return c.Store(s.mem, ptr, v)
}

// Ref borrows a T in a Space. It never releases what it points to.
type Ref[T any] struct {
	ptr   uint32
	space SpaceID
}

// RefMut borrows a T in a Space exclusively.
type RefMut[T any] struct {
	ptr   uint32
	space SpaceID
}

// RefTo borrows the T at ptr in s.
func RefTo[T any](s *Space, ptr uint32) Ref[T] {
	return Ref[T]{ptr: ptr, space: s.id}
}

// RefMutTo borrows the T at ptr in s exclusively.
func RefMutTo[T any](s *Space, ptr uint32) RefMut[T] {
	return RefMut[T]{ptr: ptr, space: s.id}
}

func (r Ref[T]) Ptr() uint32    { return r.ptr }
func (r RefMut[T]) Ptr() uint32 { return r.ptr }

// Get reads the referenced value.
func (r Ref[T]) Get() (T, error) {
	s, err := LookupSpace(r.space)
	if err != nil {
		var zero T
		return zero, err
	}
	return load[T](s, r.ptr)
}

// Get reads the referenced value.
func (r RefMut[T]) Get() (T, error) {
	return Ref[T](r).Get()
}

// Set overwrites the referenced value. Containers owned by the old value are
// released first.
func (r RefMut[T]) Set(ctx context.Context, v T) error {
	s, err := LookupSpace(r.space)
	if err != nil {
		return err
	}
	old, err := load[T](s, r.ptr)
	if err != nil {
		return err
	}
	if err := ReleaseValue(ctx, &old); err != nil {
		return err
	}
	return store(s, r.ptr, v)
}

// Shared downgrades to a shared borrow.
func (r RefMut[T]) Shared() Ref[T] {
	return Ref[T](r)
}

func (r *Ref[T]) ReflectLayout(defined layout.DefinedTypes) (layout.FullLayout, error) {
	return pointerReflect[T](defined, func(l layout.Layout) layout.Layout {
		return layout.SharedRef(l, 0)
	})
}

func (r *RefMut[T]) ReflectLayout(defined layout.DefinedTypes) (layout.FullLayout, error) {
	return pointerReflect[T](defined, func(l layout.Layout) layout.Layout {
		return layout.ExclusiveRef(l, 0)
	})
}

var refLayout = MemLayout{Size: 8, Align: 4}

func (r *Ref[T]) memLayout() (MemLayout, error)    { return refLayout, nil }
func (r *RefMut[T]) memLayout() (MemLayout, error) { return refLayout, nil }

func (r *Ref[T]) encode(buf []byte) error {
	putHeader(buf, r.ptr, uint32(r.space))
	return nil
}

func (r *Ref[T]) decode(buf []byte) error {
	r.ptr, r.space = getU32(buf, 0), SpaceID(getU32(buf, 4))
	return nil
}

func (r *RefMut[T]) encode(buf []byte) error { return (*Ref[T])(r).encode(buf) }
func (r *RefMut[T]) decode(buf []byte) error { return (*Ref[T])(r).decode(buf) }

// putHeader writes consecutive u32 header words.
func putHeader(buf []byte, words ...uint32) {
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
}

func getU32(buf []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(buf[off:])
}
