package ffi

import (
	"cmp"
	"context"
	"fmt"
	"hash/maphash"
	"iter"
	"reflect"
	"slices"
	"strconv"

	"go.uber.org/zap"

	"github.com/OpenListTeam/wazero-typeinfo/errors"
	"github.com/OpenListTeam/wazero-typeinfo/layout"
)

const minVecCap = 4

// Vec owns a growable sequence of T allocated in a Space. Its memory
// representation is {ptr u32, len u32, cap u32, space u32}. An empty Vec
// may have a zero ptr.
type Vec[T any] struct {
	ptr   uint32
	len   uint32
	cap   uint32
	space SpaceID
}

// NewVec moves items into a new allocation in s.
func NewVec[T any](ctx context.Context, s *Space, items []T) (*Vec[T], error) {
	v, err := VecWithCapacity[T](ctx, s, len(items))
	if err != nil {
		return nil, err
	}
	e, err := elemsOf[T]()
	if err != nil {
		return nil, err
	}
	if err := e.write(s, v.ptr, items); err != nil {
		_ = v.free(ctx)
		return nil, err
	}
	v.len = uint32(len(items))
	return v, nil
}

// VecWithCapacity returns an empty Vec with room for n elements.
func VecWithCapacity[T any](ctx context.Context, s *Space, n int) (*Vec[T], error) {
	v := &Vec[T]{space: s.id}
	if err := v.setCap(ctx, uint32(n), false); err != nil {
		return nil, err
	}
	return v, nil
}

func (v *Vec[T]) Ptr() uint32 { return v.ptr }
func (v *Vec[T]) Len() int    { return int(v.len) }
func (v *Vec[T]) Cap() int    { return int(v.cap) }

// Space resolves the space the Vec lives in.
func (v *Vec[T]) Space() (*Space, error) { return LookupSpace(v.space) }

// setCap moves the allocation to hold exactly n elements. When zeroed, bytes
// beyond the old capacity are cleared.
func (v *Vec[T]) setCap(ctx context.Context, n uint32, zeroed bool) error {
	if n == v.cap && (n > 0 || v.ptr == 0) {
		return nil
	}
	s, err := v.Space()
	if err != nil {
		return err
	}
	e, err := elemsOf[T]()
	if err != nil {
		return err
	}
	to, err := e.block(n)
	if err != nil {
		return err
	}
	from, _ := e.block(v.cap)

	var ptr uint32
	switch {
	case n == 0:
		return v.free(ctx)
	case v.ptr == 0 && zeroed:
		ptr, err = s.AllocZeroed(ctx, to)
	case v.ptr == 0:
		ptr, err = s.Alloc(ctx, to)
	case n > v.cap:
		ptr, err = s.Grow(ctx, v.ptr, from, to, zeroed)
	default:
		ptr, err = s.Shrink(ctx, v.ptr, from, to)
	}
	if err != nil {
		return err
	}
	Logger().Debug("vec resized",
		zap.Uint32("ptr", ptr),
		zap.Uint32("from", v.cap),
		zap.Uint32("to", n),
	)
	v.ptr, v.cap = ptr, n
	return nil
}

// Reserve ensures room for at least additional more elements, growing the
// capacity geometrically.
func (v *Vec[T]) Reserve(ctx context.Context, additional int) error {
	need := v.len + uint32(additional)
	if need <= v.cap {
		return nil
	}
	return v.setCap(ctx, max(need, v.cap*2, minVecCap), false)
}

// Get reads element i. Containers in the result are borrowed from the Vec.
func (v *Vec[T]) Get(i int) (T, error) {
	return v.AsSlice().Get(i)
}

// Set replaces element i, releasing containers owned by the old element.
func (v *Vec[T]) Set(ctx context.Context, i int, x T) error {
	if err := checkIndex(i, int(v.len)); err != nil {
		return err
	}
	s, err := v.Space()
	if err != nil {
		return err
	}
	e, err := elemsOf[T]()
	if err != nil {
		return err
	}
	return RefMutTo[T](s, v.ptr+uint32(i)*e.stride).Set(ctx, x)
}

// Push appends x, moving it into the Vec.
func (v *Vec[T]) Push(ctx context.Context, x T) error {
	if err := v.Reserve(ctx, 1); err != nil {
		return err
	}
	s, err := v.Space()
	if err != nil {
		return err
	}
	e, err := elemsOf[T]()
	if err != nil {
		return err
	}
	if err := e.setAt(s, v.ptr, v.len, x); err != nil {
		return err
	}
	v.len++
	return nil
}

// Pop removes the last element and moves it out.
func (v *Vec[T]) Pop() (T, bool, error) {
	var zero T
	if v.len == 0 {
		return zero, false, nil
	}
	x, err := v.Get(int(v.len) - 1)
	if err != nil {
		return zero, false, err
	}
	v.len--
	return x, true, nil
}

// Truncate drops the elements from n on, releasing what they own.
func (v *Vec[T]) Truncate(ctx context.Context, n int) error {
	if n >= int(v.len) {
		return nil
	}
	if n < 0 {
		return checkIndex(n, int(v.len))
	}
	if owns(reflect.TypeFor[T]()) {
		tail, err := v.AsSlice().Sub(n, int(v.len))
		if err != nil {
			return err
		}
		items, err := tail.View()
		if err != nil {
			return err
		}
		for i := range items {
			if err := ReleaseValue(ctx, &items[i]); err != nil {
				return err
			}
		}
	}
	v.len = uint32(n)
	return nil
}

// Clear drops every element.
func (v *Vec[T]) Clear(ctx context.Context) error {
	return v.Truncate(ctx, 0)
}

// Resize sets the length to n. New elements are zero values.
func (v *Vec[T]) Resize(ctx context.Context, n int) error {
	if n <= int(v.len) {
		return v.Truncate(ctx, n)
	}
	if uint32(n) > v.cap {
		if err := v.setCap(ctx, uint32(n), true); err != nil {
			return err
		}
	}
	s, err := v.Space()
	if err != nil {
		return err
	}
	e, err := elemsOf[T]()
	if err != nil {
		return err
	}
	// Slots between the old length and the old capacity may hold stale bytes.
	if err := s.write(v.ptr+v.len*e.stride, make([]byte, (uint32(n)-v.len)*e.stride)); err != nil {
		return err
	}
	v.len = uint32(n)
	return nil
}

// ShrinkToFit releases unused capacity.
func (v *Vec[T]) ShrinkToFit(ctx context.Context) error {
	return v.setCap(ctx, v.len, false)
}

// AsSlice borrows the elements.
func (v *Vec[T]) AsSlice() Slice[T] {
	return Slice[T]{ptr: v.ptr, len: v.len, space: v.space}
}

// AsMutSlice borrows the elements for writing.
func (v *Vec[T]) AsMutSlice() MutSlice[T] {
	return MutSlice[T](v.AsSlice())
}

// Slice borrows elements [i, j).
func (v *Vec[T]) Slice(i, j int) (Slice[T], error) {
	return v.AsSlice().Sub(i, j)
}

// View reads every element into a native slice. Containers in the result
// are borrowed from the Vec.
func (v *Vec[T]) View() ([]T, error) {
	return v.AsSlice().View()
}

// All iterates over the elements.
func (v *Vec[T]) All() iter.Seq2[int, T] {
	return v.AsSlice().All()
}

// IntoNative moves the elements out and frees the allocation. The Vec is
// empty afterwards and releasing it does nothing.
func (v *Vec[T]) IntoNative(ctx context.Context) ([]T, error) {
	items, err := v.View()
	if err != nil {
		return nil, err
	}
	return items, v.free(ctx)
}

// Release drops the elements, including the containers they own, and frees
// the allocation.
func (v *Vec[T]) Release(ctx context.Context) error {
	if v.ptr == 0 {
		return nil
	}
	if err := v.Clear(ctx); err != nil {
		return err
	}
	return v.free(ctx)
}

func (v *Vec[T]) free(ctx context.Context) error {
	if v.ptr == 0 {
		v.len, v.cap = 0, 0
		return nil
	}
	s, err := v.Space()
	if err != nil {
		return err
	}
	e, err := elemsOf[T]()
	if err != nil {
		return err
	}
	l, err := e.block(v.cap)
	if err != nil {
		return err
	}
	ptr := v.ptr
	v.ptr, v.len, v.cap = 0, 0, 0
	return s.Free(ctx, ptr, l)
}

// Clone deep-copies the Vec through the same allocator. The copy's capacity
// equals its length.
func (v *Vec[T]) Clone(ctx context.Context) (*Vec[T], error) {
	s, err := v.Space()
	if err != nil {
		return nil, err
	}
	items, err := v.View()
	if err != nil {
		return nil, err
	}
	for i := range items {
		if err := CloneValue(ctx, &items[i]); err != nil {
			for j := range i {
				_ = ReleaseValue(ctx, &items[j])
			}
			return nil, err
		}
	}
	out, err := NewVec(ctx, s, items)
	if err != nil {
		for i := range items {
			_ = ReleaseValue(ctx, &items[i])
		}
		return nil, err
	}
	return out, nil
}

func (v *Vec[T]) cloneInPlace(ctx context.Context) error {
	if v.ptr == 0 {
		return nil
	}
	c, err := v.Clone(ctx)
	if err != nil {
		return err
	}
	*v = *c
	return nil
}

func (v *Vec[T]) checkOwner(c *ownership) error {
	if v.ptr == 0 {
		return nil
	}
	if err := c.enter("vec", v.space, v.ptr); err != nil {
		return err
	}
	defer c.leave()
	if !owns(reflect.TypeFor[T]()) {
		return nil
	}
	items, err := v.View()
	if err != nil {
		return err
	}
	for i := range items {
		if err := c.check(reflect.ValueOf(&items[i]).Elem()); err != nil {
			return errors.Prefix(err, "["+strconv.Itoa(i)+"]")
		}
	}
	return nil
}

func (v Vec[T]) String() string {
	return v.AsSlice().String()
}

var vecLayout = MemLayout{Size: 16, Align: 4}

func (v *Vec[T]) memLayout() (MemLayout, error) { return vecLayout, nil }

func (v *Vec[T]) encode(buf []byte) error {
	putHeader(buf, v.ptr, v.len, v.cap, uint32(v.space))
	return nil
}

func (v *Vec[T]) decode(buf []byte) error {
	v.ptr, v.len, v.cap = getU32(buf, 0), getU32(buf, 4), getU32(buf, 8)
	v.space = SpaceID(getU32(buf, 12))
	if v.len > v.cap {
		return invalidHeader("Vec", fmt.Sprintf("len %d exceeds cap %d", v.len, v.cap))
	}
	if v.ptr == 0 && v.cap != 0 {
		return invalidHeader("Vec", "null pointer with non-zero capacity")
	}
	return nil
}

func (v *Vec[T]) ReflectLayout(defined layout.DefinedTypes) (layout.FullLayout, error) {
	return headerReflect[Vec[T]](defined, reflect.TypeFor[T](), func(elem layout.Layout) []layout.NamedField {
		return []layout.NamedField{
			layout.Field("ptr", layout.Mut(elem)),
			layout.Field("len", u32),
			layout.Field("cap", u32),
			layout.Field("space", u32),
		}
	})
}

// VecEqual compares two Vecs element by element.
func VecEqual[T comparable](a, b *Vec[T]) (bool, error) {
	x, y, err := viewPair(a.View, b.View)
	return err == nil && slices.Equal(x, y), err
}

// VecCompare orders two Vecs lexicographically.
func VecCompare[T cmp.Ordered](a, b *Vec[T]) (int, error) {
	x, y, err := viewPair(a.View, b.View)
	if err != nil {
		return 0, err
	}
	return slices.Compare(x, y), nil
}

// VecHash hashes the elements in order.
func VecHash[T comparable](seed maphash.Seed, v *Vec[T]) (uint64, error) {
	items, err := v.View()
	if err != nil {
		return 0, err
	}
	var h maphash.Hash
	h.SetSeed(seed)
	for _, x := range items {
		maphash.WriteComparable(&h, x)
	}
	return h.Sum64(), nil
}
