package ffi

import (
	"cmp"
	"fmt"
	"io"
	"iter"
	"reflect"
	"slices"

	"github.com/OpenListTeam/wazero-typeinfo/errors"
	"github.com/OpenListTeam/wazero-typeinfo/layout"
)

// elems is the codec and stride of an element type.
type elems[T any] struct {
	codec  Codec[T]
	stride uint32
}

func elemsOf[T any]() (elems[T], error) {
	c, err := CodecFor[T]()
	if err != nil {
		return elems[T]{}, err
	}
	return elems[T]{codec: c, stride: c.Layout().Size}, nil
}

// block is the allocation that holds n elements.
func (e elems[T]) block(n uint32) (MemLayout, error) {
	size := uint64(n) * uint64(e.stride)
	if size > 1<<32-1 {
		return MemLayout{}, errors.AllocationFailed(errors.PhaseAlloc, ^uint32(0), e.codec.Layout().Align)
	}
	return blockLayout(uint32(size), e.codec.Layout().Align), nil
}

func (e elems[T]) read(s *Space, ptr, n uint32) ([]T, error) {
	size := uint64(n) * uint64(e.stride)
	if size > 1<<32-1 {
		return nil, errors.MemoryOutOfRange(errors.PhaseDecode, ptr, ^uint32(0))
	}
	data, err := s.read(ptr, uint32(size))
	if err != nil {
		return nil, err
	}
	out := make([]T, n)
	for i := range out {
		if out[i], err = e.codec.Decode(data[uint32(i)*e.stride:]); err != nil {
			return nil, errors.Prefix(err, fmt.Sprintf("[%d]", i))
		}
	}
	return out, nil
}

func (e elems[T]) write(s *Space, ptr uint32, items []T) error {
	size := uint32(len(items)) * e.stride
	if size == 0 {
		return nil
	}
	buf := GetBuffer(int(size))
	defer PutBuffer(buf)
	for i, item := range items {
		if err := e.codec.Encode(buf[uint32(i)*e.stride:], item); err != nil {
			return errors.Prefix(err, fmt.Sprintf("[%d]", i))
		}
	}
	return s.write(ptr, buf)
}

func (e elems[T]) at(s *Space, ptr, i uint32) (T, error) {
	return e.codec.Load(s.mem, ptr+i*e.stride)
}

func (e elems[T]) setAt(s *Space, ptr, i uint32, v T) error {
	return e.codec.Store(s.mem, ptr+i*e.stride, v)
}

func checkIndex(i, n int) error {
	if i < 0 || i >= n {
		return errors.OutOfBounds(errors.PhaseDecode, nil, i, n)
	}
	return nil
}

func checkRange(i, j, n int) error {
	if i < 0 || j < i || j > n {
		return errors.New(errors.PhaseDecode, errors.KindOutOfBounds).
			Detail("range [%d:%d] out of bounds for length %d", i, j, n).Build()
	}
	return nil
}

// Slice borrows len consecutive T values in a Space. Its memory
// representation is {ptr u32, len u32, space u32}.
type Slice[T any] struct {
	ptr   uint32
	len   uint32
	space SpaceID
}

// MutSlice borrows len consecutive T values in a Space for writing.
type MutSlice[T any] struct {
	ptr   uint32
	len   uint32
	space SpaceID
}

// SliceOf borrows n values of T starting at ptr in s.
func SliceOf[T any](s *Space, ptr uint32, n int) Slice[T] {
	return Slice[T]{ptr: ptr, len: uint32(n), space: s.id}
}

// MutSliceOf borrows n values of T starting at ptr in s for writing.
func MutSliceOf[T any](s *Space, ptr uint32, n int) MutSlice[T] {
	return MutSlice[T]{ptr: ptr, len: uint32(n), space: s.id}
}

func (s Slice[T]) Ptr() uint32 { return s.ptr }
func (s Slice[T]) Len() int    { return int(s.len) }

// Get reads element i.
func (s Slice[T]) Get(i int) (T, error) {
	var zero T
	if err := checkIndex(i, int(s.len)); err != nil {
		return zero, err
	}
	sp, e, err := s.resolve()
	if err != nil {
		return zero, err
	}
	return e.at(sp, s.ptr, uint32(i))
}

// View reads every element into a native slice.
func (s Slice[T]) View() ([]T, error) {
	if s.len == 0 {
		return []T{}, nil
	}
	sp, e, err := s.resolve()
	if err != nil {
		return nil, err
	}
	return e.read(sp, s.ptr, s.len)
}

// Sub borrows elements [i, j).
func (s Slice[T]) Sub(i, j int) (Slice[T], error) {
	if err := checkRange(i, j, int(s.len)); err != nil {
		return Slice[T]{}, err
	}
	e, err := elemsOf[T]()
	if err != nil {
		return Slice[T]{}, err
	}
	return Slice[T]{ptr: s.ptr + uint32(i)*e.stride, len: uint32(j - i), space: s.space}, nil
}

// All iterates over the elements. Iteration stops at the first element that
// cannot be read.
func (s Slice[T]) All() iter.Seq2[int, T] {
	return func(yield func(int, T) bool) {
		for i := range int(s.len) {
			v, err := s.Get(i)
			if err != nil || !yield(i, v) {
				return
			}
		}
	}
}

func (s Slice[T]) String() string {
	items, err := s.View()
	if err != nil {
		return fmt.Sprintf("Slice(<%v>)", err)
	}
	return fmt.Sprint(items)
}

func (s Slice[T]) resolve() (*Space, elems[T], error) {
	sp, err := LookupSpace(s.space)
	if err != nil {
		return nil, elems[T]{}, err
	}
	e, err := elemsOf[T]()
	return sp, e, err
}

func (s MutSlice[T]) Ptr() uint32 { return s.ptr }
func (s MutSlice[T]) Len() int    { return int(s.len) }

// Shared downgrades to a read-only borrow.
func (s MutSlice[T]) Shared() Slice[T] { return Slice[T](s) }

func (s MutSlice[T]) Get(i int) (T, error)   { return Slice[T](s).Get(i) }
func (s MutSlice[T]) View() ([]T, error)     { return Slice[T](s).View() }
func (s MutSlice[T]) All() iter.Seq2[int, T] { return Slice[T](s).All() }
func (s MutSlice[T]) String() string         { return Slice[T](s).String() }

// Set overwrites element i. The old element is not released.
func (s MutSlice[T]) Set(i int, v T) error {
	if err := checkIndex(i, int(s.len)); err != nil {
		return err
	}
	sp, e, err := Slice[T](s).resolve()
	if err != nil {
		return err
	}
	return e.setAt(sp, s.ptr, uint32(i), v)
}

// CopyFrom overwrites the first len(items) elements.
func (s MutSlice[T]) CopyFrom(items []T) error {
	if len(items) > int(s.len) {
		return errors.OutOfBounds(errors.PhaseEncode, nil, len(items), int(s.len))
	}
	sp, e, err := Slice[T](s).resolve()
	if err != nil {
		return err
	}
	return e.write(sp, s.ptr, items)
}

// Sub borrows elements [i, j) for writing.
func (s MutSlice[T]) Sub(i, j int) (MutSlice[T], error) {
	sub, err := Slice[T](s).Sub(i, j)
	return MutSlice[T](sub), err
}

var sliceLayout = MemLayout{Size: 12, Align: 4}

func (s *Slice[T]) memLayout() (MemLayout, error)    { return sliceLayout, nil }
func (s *MutSlice[T]) memLayout() (MemLayout, error) { return sliceLayout, nil }

func (s *Slice[T]) encode(buf []byte) error {
	putHeader(buf, s.ptr, s.len, uint32(s.space))
	return nil
}

func (s *Slice[T]) decode(buf []byte) error {
	s.ptr, s.len, s.space = getU32(buf, 0), getU32(buf, 4), SpaceID(getU32(buf, 8))
	return nil
}

func (s *MutSlice[T]) encode(buf []byte) error { return (*Slice[T])(s).encode(buf) }
func (s *MutSlice[T]) decode(buf []byte) error { return (*Slice[T])(s).decode(buf) }

func sliceFields(ptr func(layout.Layout) layout.Layout) func(layout.Layout) []layout.NamedField {
	return func(elem layout.Layout) []layout.NamedField {
		return []layout.NamedField{
			layout.Field("ptr", ptr(elem)),
			layout.Field("len", u32),
			layout.Field("space", u32),
		}
	}
}

func (s *Slice[T]) ReflectLayout(defined layout.DefinedTypes) (layout.FullLayout, error) {
	return headerReflect[Slice[T]](defined, reflect.TypeFor[T](), sliceFields(layout.Const))
}

func (s *MutSlice[T]) ReflectLayout(defined layout.DefinedTypes) (layout.FullLayout, error) {
	return headerReflect[MutSlice[T]](defined, reflect.TypeFor[T](), sliceFields(layout.Mut))
}

// SliceEqual compares two borrowed slices element by element.
func SliceEqual[T comparable](a, b Slice[T]) (bool, error) {
	x, y, err := viewPair(a.View, b.View)
	return err == nil && slices.Equal(x, y), err
}

// SliceCompare orders two borrowed slices lexicographically.
func SliceCompare[T cmp.Ordered](a, b Slice[T]) (int, error) {
	x, y, err := viewPair(a.View, b.View)
	if err != nil {
		return 0, err
	}
	return slices.Compare(x, y), nil
}

func viewPair[T any](a, b func() ([]T, error)) ([]T, []T, error) {
	x, err := a()
	if err != nil {
		return nil, nil, err
	}
	y, err := b()
	return x, y, err
}

// SliceReader reads a borrowed byte slice.
type SliceReader struct {
	s   Slice[byte]
	off int
}

// NewSliceReader returns a reader over s.
func NewSliceReader(s Slice[byte]) *SliceReader {
	return &SliceReader{s: s}
}

func (r *SliceReader) Read(p []byte) (int, error) {
	if r.off >= r.s.Len() {
		return 0, io.EOF
	}
	sp, err := LookupSpace(r.s.space)
	if err != nil {
		return 0, err
	}
	n := min(len(p), r.s.Len()-r.off)
	data, err := sp.read(r.s.ptr+uint32(r.off), uint32(n))
	if err != nil {
		return 0, err
	}
	copy(p, data)
	r.off += n
	return n, nil
}

func (r *SliceReader) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := r.Read(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// SliceWriter writes into a borrowed byte slice from its start. Writes past
// the end are short and report io.ErrShortWrite.
type SliceWriter struct {
	s   MutSlice[byte]
	off int
}

// NewSliceWriter returns a writer over s.
func NewSliceWriter(s MutSlice[byte]) *SliceWriter {
	return &SliceWriter{s: s}
}

func (w *SliceWriter) Write(p []byte) (int, error) {
	sp, err := LookupSpace(w.s.space)
	if err != nil {
		return 0, err
	}
	n := min(len(p), w.s.Len()-w.off)
	if err := sp.write(w.s.ptr+uint32(w.off), p[:n]); err != nil {
		return 0, err
	}
	w.off += n
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}

// Written returns the number of bytes written so far.
func (w *SliceWriter) Written() int { return w.off }
