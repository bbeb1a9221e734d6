package ffi

import (
	"cmp"
	"context"
	"fmt"
	"hash/maphash"
	"reflect"

	"go.uber.org/zap"

	"github.com/OpenListTeam/wazero-typeinfo/layout"
)

// Box owns a single T allocated in a Space. Its memory representation is
// {ptr u32, space u32}.
//
// A Box is moved by copying its header; after a move only one copy may be
// released. IntoNative and Release clear the header they are called on.
type Box[T any] struct {
	ptr   uint32
	space SpaceID
}

// NewBox moves v into a new allocation in s. Containers held by v become
// owned by the box.
func NewBox[T any](ctx context.Context, s *Space, v T) (*Box[T], error) {
	c, err := CodecFor[T]()
	if err != nil {
		return nil, err
	}
	l := c.Layout()
	ptr, err := s.Alloc(ctx, blockLayout(l.Size, l.Align))
	if err != nil {
		return nil, err
	}
	if err := c.Store(s.mem, ptr, v); err != nil {
		_ = s.Free(ctx, ptr, blockLayout(l.Size, l.Align))
		return nil, err
	}
	Logger().Debug("boxed value", zap.Uint32("ptr", ptr), zap.Uint32("size", l.Size))
	return &Box[T]{ptr: ptr, space: s.id}, nil
}

// BoxFrom adopts the allocation at p, which must hold a T allocated in s
// with the size and alignment of T. The returned box owns it.
func BoxFrom[T any](s *Space, p NonNull[T]) Box[T] {
	return Box[T]{ptr: uint32(p), space: s.id}
}

// Ptr returns the offset of the boxed value, or zero once moved out.
func (b *Box[T]) Ptr() uint32 { return b.ptr }

// Space resolves the space the box lives in.
func (b *Box[T]) Space() (*Space, error) { return LookupSpace(b.space) }

// Get reads the boxed value. Containers in the result are borrowed from the box.
func (b *Box[T]) Get() (T, error) {
	s, err := b.Space()
	if err != nil {
		var zero T
		return zero, err
	}
	return load[T](s, b.ptr)
}

// Set replaces the boxed value, releasing containers owned by the old one.
func (b *Box[T]) Set(ctx context.Context, v T) error {
	return RefMut[T]{ptr: b.ptr, space: b.space}.Set(ctx, v)
}

// IntoNative moves the value out and frees the allocation. The box is
// empty afterwards and releasing it does nothing.
func (b *Box[T]) IntoNative(ctx context.Context) (T, error) {
	v, err := b.Get()
	if err != nil {
		return v, err
	}
	if err := b.free(ctx); err != nil {
		return v, err
	}
	return v, nil
}

// Release drops the boxed value, including the containers it owns.
func (b *Box[T]) Release(ctx context.Context) error {
	if b.ptr == 0 {
		return nil
	}
	v, err := b.Get()
	if err != nil {
		return err
	}
	if err := ReleaseValue(ctx, &v); err != nil {
		return err
	}
	return b.free(ctx)
}

func (b *Box[T]) free(ctx context.Context) error {
	s, err := b.Space()
	if err != nil {
		return err
	}
	c, err := CodecFor[T]()
	if err != nil {
		return err
	}
	l := c.Layout()
	ptr := b.ptr
	b.ptr = 0
	return s.Free(ctx, ptr, blockLayout(l.Size, l.Align))
}

// Clone deep-copies the box through the same allocator.
func (b *Box[T]) Clone(ctx context.Context) (*Box[T], error) {
	s, err := b.Space()
	if err != nil {
		return nil, err
	}
	v, err := b.Get()
	if err != nil {
		return nil, err
	}
	if err := CloneValue(ctx, &v); err != nil {
		return nil, err
	}
	out, err := NewBox(ctx, s, v)
	if err != nil {
		_ = ReleaseValue(ctx, &v)
		return nil, err
	}
	return out, nil
}

func (b *Box[T]) cloneInPlace(ctx context.Context) error {
	if b.ptr == 0 {
		return nil
	}
	c, err := b.Clone(ctx)
	if err != nil {
		return err
	}
	*b = *c
	return nil
}

func (b *Box[T]) checkOwner(c *ownership) error {
	if b.ptr == 0 {
		return nil
	}
	if err := c.enter("box", b.space, b.ptr); err != nil {
		return err
	}
	defer c.leave()
	if !owns(reflect.TypeFor[T]()) {
		return nil
	}
	v, err := b.Get()
	if err != nil {
		return err
	}
	return c.check(reflect.ValueOf(&v).Elem())
}

func (b Box[T]) String() string {
	v, err := b.Get()
	if err != nil {
		return fmt.Sprintf("Box(<%v>)", err)
	}
	return fmt.Sprintf("Box(%v)", v)
}

var boxLayout = MemLayout{Size: 8, Align: 4}

func (b *Box[T]) memLayout() (MemLayout, error) { return boxLayout, nil }

func (b *Box[T]) encode(buf []byte) error {
	putHeader(buf, b.ptr, uint32(b.space))
	return nil
}

func (b *Box[T]) decode(buf []byte) error {
	b.ptr, b.space = getU32(buf, 0), SpaceID(getU32(buf, 4))
	return nil
}

func (b *Box[T]) ReflectLayout(defined layout.DefinedTypes) (layout.FullLayout, error) {
	return headerReflect[Box[T]](defined, reflect.TypeFor[T](), func(elem layout.Layout) []layout.NamedField {
		return []layout.NamedField{
			layout.Field("ptr", layout.NonNull(elem)),
			layout.Field("space", u32),
		}
	})
}

// BoxEqual compares the boxed values.
func BoxEqual[T comparable](a, b *Box[T]) (bool, error) {
	x, y, err := boxPair(a, b)
	return err == nil && x == y, err
}

// BoxCompare orders the boxed values.
func BoxCompare[T cmp.Ordered](a, b *Box[T]) (int, error) {
	x, y, err := boxPair(a, b)
	if err != nil {
		return 0, err
	}
	return cmp.Compare(x, y), nil
}

// BoxHash hashes the boxed value as maphash.Comparable would hash it natively.
func BoxHash[T comparable](seed maphash.Seed, b *Box[T]) (uint64, error) {
	v, err := b.Get()
	if err != nil {
		return 0, err
	}
	return maphash.Comparable(seed, v), nil
}

func boxPair[T any](a, b *Box[T]) (T, T, error) {
	x, err := a.Get()
	if err != nil {
		return x, x, err
	}
	y, err := b.Get()
	return x, y, err
}
