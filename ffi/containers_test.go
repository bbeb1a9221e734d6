package ffi

import (
	"context"
	"hash/maphash"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenListTeam/wazero-typeinfo/errors"
	"github.com/OpenListTeam/wazero-typeinfo/internal/testwasm"
)

type point struct {
	X, Y int32
}

// listNode is a singly linked list living entirely in linear memory.
type listNode struct {
	Value uint32
	Label Str
	Next  Option[Box[listNode]]
}

type record struct {
	Name  Str
	Tags  Vec[Str]
	Score Option[Box[float64]]
}

func TestBoxRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, a := newSpace(t)

	b, err := NewBox(ctx, s, point{X: 1, Y: -2})
	require.NoError(t, err)
	assert.NotZero(t, b.Ptr())

	got, err := b.Get()
	require.NoError(t, err)
	assert.Equal(t, point{X: 1, Y: -2}, got)

	require.NoError(t, b.Set(ctx, point{X: 3, Y: 4}))
	assert.Equal(t, "Box({3 4})", b.String())

	v, err := b.IntoNative(ctx)
	require.NoError(t, err)
	assert.Equal(t, point{X: 3, Y: 4}, v)
	assert.Zero(t, b.Ptr())

	// Moved out: releasing again must not free twice.
	require.NoError(t, b.Release(ctx))
	requireNoLeaks(t, a)

	_, err = b.Get()
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindNilPointer})
}

func TestBoxZeroSized(t *testing.T) {
	ctx := context.Background()
	s, a := newSpace(t)

	b, err := NewBox(ctx, s, Void{})
	require.NoError(t, err)
	assert.NotZero(t, b.Ptr(), "zero-sized values still own a real block")
	require.NoError(t, b.Release(ctx))
	requireNoLeaks(t, a)
}

func TestBoxCompare(t *testing.T) {
	ctx := context.Background()
	s, a := newSpace(t)

	x, err := NewBox(ctx, s, uint64(5))
	require.NoError(t, err)
	y, err := x.Clone(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, x.Ptr(), y.Ptr())

	eq, err := BoxEqual(x, y)
	require.NoError(t, err)
	assert.True(t, eq)

	seed := maphash.MakeSeed()
	hx, err := BoxHash(seed, x)
	require.NoError(t, err)
	assert.Equal(t, maphash.Comparable(seed, uint64(5)), hx)

	require.NoError(t, y.Set(ctx, 9))
	c, err := BoxCompare(x, y)
	require.NoError(t, err)
	assert.Equal(t, -1, c)

	require.NoError(t, x.Release(ctx))
	require.NoError(t, y.Release(ctx))
	requireNoLeaks(t, a)
}

func TestVecRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, a := newSpace(t)

	in := []point{{1, 2}, {3, 4}, {5, 6}}
	v, err := NewVec(ctx, s, in)
	require.NoError(t, err)
	assert.Equal(t, 3, v.Len())
	assert.Equal(t, 3, v.Cap())

	got, err := v.Get(1)
	require.NoError(t, err)
	assert.Equal(t, point{3, 4}, got)

	_, err = v.Get(3)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindOutOfBounds})

	out, err := v.IntoNative(ctx)
	require.NoError(t, err)
	assert.Equal(t, in, out)
	assert.Zero(t, v.Len())
	require.NoError(t, v.Release(ctx))
	requireNoLeaks(t, a)
}

func TestVecGrowAndShrink(t *testing.T) {
	ctx := context.Background()
	s, a := newSpace(t)
	counted, c := Counted(a.Allocator())
	cs, err := NewSpace(s.Memory(), counted)
	require.NoError(t, err)
	t.Cleanup(cs.Close)

	v, err := NewVec[uint32](ctx, cs, nil)
	require.NoError(t, err)
	assert.Zero(t, v.Ptr())

	for i := range 10 {
		require.NoError(t, v.Push(ctx, uint32(i)))
	}
	assert.Equal(t, 10, v.Len())
	assert.GreaterOrEqual(t, v.Cap(), 10)
	assert.Positive(t, c.Grows())

	x, ok, err := v.Pop()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, uint32(9), x)

	require.NoError(t, v.ShrinkToFit(ctx))
	assert.Equal(t, 9, v.Cap())
	assert.Equal(t, int64(1), c.Shrinks())

	// Stale slots past the length must read back as zero after a resize.
	require.NoError(t, v.Truncate(ctx, 2))
	require.NoError(t, v.Resize(ctx, 12))
	items, err := v.View()
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, items)

	var seen []uint32
	for i, x := range v.All() {
		if i == 3 {
			break
		}
		seen = append(seen, x)
	}
	assert.Equal(t, []uint32{0, 1, 0}, seen)

	require.NoError(t, v.Release(ctx))
	assert.Zero(t, c.Live())
	requireNoLeaks(t, a)
}

func TestVecSlices(t *testing.T) {
	ctx := context.Background()
	s, a := newSpace(t)

	v, err := NewVec(ctx, s, []int16{10, 20, 30, 40})
	require.NoError(t, err)

	sub, err := v.Slice(1, 3)
	require.NoError(t, err)
	items, err := sub.View()
	require.NoError(t, err)
	assert.Equal(t, []int16{20, 30}, items)
	assert.Equal(t, "[20 30]", sub.String())

	_, err = v.Slice(3, 5)
	assert.Error(t, err)

	m := v.AsMutSlice()
	require.NoError(t, m.Set(0, -1))
	require.NoError(t, m.CopyFrom([]int16{7, 8}))
	assert.Error(t, m.Set(4, 0))

	items, err = v.View()
	require.NoError(t, err)
	assert.Equal(t, []int16{7, 8, 30, 40}, items)

	w, err := NewVec(ctx, s, []int16{7, 8, 30, 40})
	require.NoError(t, err)
	eq, err := VecEqual(v, w)
	require.NoError(t, err)
	assert.True(t, eq)

	seed := maphash.MakeSeed()
	h1, err := VecHash(seed, v)
	require.NoError(t, err)
	h2, err := VecHash(seed, w)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	require.NoError(t, w.Push(ctx, 1))
	cmp, err := VecCompare(v, w)
	require.NoError(t, err)
	assert.Equal(t, -1, cmp)

	require.NoError(t, v.Release(ctx))
	require.NoError(t, w.Release(ctx))
	requireNoLeaks(t, a)
}

func TestStrRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, a := newSpace(t)

	str, err := NewStr(ctx, s, "héllo, 世界")
	require.NoError(t, err)
	assert.Equal(t, len("héllo, 世界"), str.Len())
	assert.Equal(t, "héllo, 世界", str.String())

	var runes []rune
	for _, r := range str.All() {
		runes = append(runes, r)
	}
	assert.Equal(t, []rune("héllo, 世界"), runes)

	other, err := str.Clone(ctx)
	require.NoError(t, err)
	eq, err := StrEqual(str, other)
	require.NoError(t, err)
	assert.True(t, eq)

	seed := maphash.MakeSeed()
	h, err := StrHash(seed, other)
	require.NoError(t, err)
	assert.Equal(t, maphash.String(seed, "héllo, 世界"), h)

	text, err := str.IntoNative(ctx)
	require.NoError(t, err)
	assert.Equal(t, "héllo, 世界", text)
	require.NoError(t, str.Release(ctx))
	require.NoError(t, other.Release(ctx))
	requireNoLeaks(t, a)

	empty, err := NewStr(ctx, s, "")
	require.NoError(t, err)
	assert.Zero(t, empty.Ptr())
	c, err := StrCompare(empty, empty)
	require.NoError(t, err)
	assert.Zero(t, c)
}

func TestStrInvalidUTF8(t *testing.T) {
	ctx := context.Background()
	s, a := newSpace(t)

	str, err := NewStr(ctx, s, "ab")
	require.NoError(t, err)
	require.True(t, s.Memory().Write(str.Ptr(), []byte{0xff, 0xfe}))

	_, err = str.View()
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindInvalidData})
	require.NoError(t, str.Release(ctx))
	requireNoLeaks(t, a)
}

func TestByteSliceReaderWriter(t *testing.T) {
	ctx := context.Background()
	s, a := newSpace(t)

	v, err := VecWithCapacity[byte](ctx, s, 8)
	require.NoError(t, err)
	require.NoError(t, v.Resize(ctx, 8))

	w := NewSliceWriter(v.AsMutSlice())
	n, err := w.Write([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	n, err = w.Write([]byte(" world"))
	assert.ErrorIs(t, err, io.ErrShortWrite)
	assert.Equal(t, 3, n)
	assert.Equal(t, 8, w.Written())

	r := NewSliceReader(v.AsSlice())
	c, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte('h'), c)
	rest, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "ello wo", string(rest))

	require.NoError(t, v.Release(ctx))
	requireNoLeaks(t, a)
}

func TestNestedRelease(t *testing.T) {
	ctx := context.Background()
	s, a := newSpace(t)

	var next Option[Box[listNode]]
	for i := range 5 {
		label, err := NewStr(ctx, s, "node")
		require.NoError(t, err)
		b, err := NewBox(ctx, s, listNode{Value: uint32(i), Label: *label, Next: next})
		require.NoError(t, err)
		next = Some(*b)
	}
	head := next.Value
	assert.Equal(t, uint64(10), a.Stats().Live)

	var values []uint32
	cur := Some(head)
	for cur.HasValue {
		n, err := cur.Value.Get()
		require.NoError(t, err)
		values = append(values, n.Value)
		cur = n.Next
	}
	assert.Equal(t, []uint32{4, 3, 2, 1, 0}, values)

	require.NoError(t, head.Release(ctx))
	requireNoLeaks(t, a)
}

func TestDeepClone(t *testing.T) {
	ctx := context.Background()
	s, a := newSpace(t)

	name, err := NewStr(ctx, s, "alpha")
	require.NoError(t, err)
	t1, err := NewStr(ctx, s, "x")
	require.NoError(t, err)
	t2, err := NewStr(ctx, s, "y")
	require.NoError(t, err)
	tags, err := NewVec(ctx, s, []Str{*t1, *t2})
	require.NoError(t, err)
	score, err := NewBox(ctx, s, 0.5)
	require.NoError(t, err)

	orig, err := NewBox(ctx, s, record{Name: *name, Tags: *tags, Score: Some(*score)})
	require.NoError(t, err)
	live := a.Stats().Live

	copied, err := orig.Clone(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2*live, a.Stats().Live, "every nested allocation is copied")

	// Releasing the original leaves the copy intact.
	require.NoError(t, orig.Release(ctx))
	rec, err := copied.Get()
	require.NoError(t, err)
	assert.Equal(t, "alpha", rec.Name.String())
	assert.Equal(t, "[x y]", rec.Tags.String())
	f, err := rec.Score.Value.Get()
	require.NoError(t, err)
	assert.Equal(t, 0.5, f)

	require.NoError(t, copied.Release(ctx))
	requireNoLeaks(t, a)
}

func TestVecOfOwners(t *testing.T) {
	ctx := context.Background()
	s, a := newSpace(t)

	v, err := NewVec[Str](ctx, s, nil)
	require.NoError(t, err)
	for _, w := range []string{"a", "bb", "ccc"} {
		str, err := NewStr(ctx, s, w)
		require.NoError(t, err)
		require.NoError(t, v.Push(ctx, *str))
	}

	repl, err := NewStr(ctx, s, "B")
	require.NoError(t, err)
	require.NoError(t, v.Set(ctx, 1, *repl), "the old element is released")
	assert.Equal(t, "[a B ccc]", v.String())

	require.NoError(t, v.Truncate(ctx, 1))
	assert.Equal(t, uint64(2), a.Stats().Live, "the vec block and one string")

	require.NoError(t, v.Release(ctx))
	requireNoLeaks(t, a)
}

func TestClosedSpace(t *testing.T) {
	ctx := context.Background()
	s, _ := newSpace(t)

	b, err := NewBox(ctx, s, uint8(1))
	require.NoError(t, err)
	s.Close()

	_, err = b.Get()
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindNotFound})
	_, err = LookupSpace(s.ID())
	assert.Error(t, err)
}

func TestPointers(t *testing.T) {
	ctx := context.Background()
	s, a := newSpace(t)

	b, err := NewBox(ctx, s, point{1, 2})
	require.NoError(t, err)

	p := MutPtr[point](b.Ptr())
	require.NoError(t, p.Store(s, point{5, 6}))
	got, err := ConstPtr[point](b.Ptr()).Load(s)
	require.NoError(t, err)
	assert.Equal(t, point{5, 6}, got)

	_, err = ConstPtr[point](0).Load(s)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindNilPointer})
	_, err = NewNonNull[point](0)
	assert.Error(t, err)
	nn, err := NewNonNull[point](b.Ptr())
	require.NoError(t, err)

	r := RefMutTo[point](s, uint32(nn))
	require.NoError(t, r.Set(ctx, point{7, 8}))
	got, err = r.Shared().Get()
	require.NoError(t, err)
	assert.Equal(t, point{7, 8}, got)

	require.NoError(t, b.Release(ctx))
	requireNoLeaks(t, a)
}

func TestValueContainers(t *testing.T) {
	assert.Nil(t, None[int]().Ptr())
	x := 3
	o := OptionFrom(&x)
	assert.Equal(t, 3, *o.Ptr())
	assert.Equal(t, "Some(3)", o.String())
	assert.Equal(t, 7, OptionFrom[int](nil).Or(7))

	r := ResultFrom(1, "bad", true)
	v, e, failed := r.Get()
	assert.Zero(t, v)
	assert.Equal(t, "bad", e)
	assert.True(t, failed)
	assert.Equal(t, "Err(bad)", r.String())
	assert.Equal(t, "Ok(1)", ResultFrom(1, "", false).String())

	a, b := Pair("k", 2).Get()
	assert.Equal(t, "k", a)
	assert.Equal(t, 2, b)
	assert.Equal(t, "é", Char('é').String())
}

func TestAllocatorPanicIsCaught(t *testing.T) {
	ctx := context.Background()
	_, a := newSpace(t)
	alloc := a.Allocator()
	alloc.Allocate = func(context.Context, MemLayout) Block { panic("out of luck") }

	s, err := NewSpace(testwasm.Memory(t), alloc)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	_, err = NewBox(ctx, s, uint32(1))
	var fe *errors.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, errors.KindAllocation, fe.Kind)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseBoundary, Kind: errors.KindPanicked})
}

func TestNewSpaceValidates(t *testing.T) {
	_, err := NewSpace(nil, &Allocator{})
	assert.Error(t, err)
	_, err = NewSpace(testwasm.Memory(t), &Allocator{})
	assert.ErrorContains(t, err, "empty slot")
}
