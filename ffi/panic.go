package ffi

import (
	"fmt"
	"reflect"

	"github.com/OpenListTeam/wazero-typeinfo/errors"
	"github.com/OpenListTeam/wazero-typeinfo/layout"
)

// MaybePanicked is the result of a call made behind a panic barrier: either
// the value the call returned, or the Panicked tag. The panic payload stays
// with the Go value and is not part of the memory representation, so a
// result read back from memory can still be resumed, only without its
// original payload.
type MaybePanicked[T any] struct {
	Value    T
	Panicked bool
	payload  any
}

// Catch runs f and converts a panic into the Panicked tag.
func Catch[T any](f func() T) (res MaybePanicked[T]) {
	defer func() {
		if r := recover(); r != nil {
			res = MaybePanicked[T]{Panicked: true, payload: r}
		}
	}()
	return MaybePanicked[T]{Value: f()}
}

// Completed wraps a value returned without panicking.
func Completed[T any](v T) MaybePanicked[T] {
	return MaybePanicked[T]{Value: v}
}

// Payload returns the recovered panic value, if any.
func (m MaybePanicked[T]) Payload() any {
	return m.payload
}

// Unwrap returns the value, or resumes the original panic.
func (m MaybePanicked[T]) Unwrap() T {
	if m.Panicked {
		if m.payload != nil {
			panic(m.payload)
		}
		panic(errors.Panicked(errors.PhaseBoundary, "payload lost crossing the boundary"))
	}
	return m.Value
}

// Err returns a KindPanicked error when the call panicked.
func (m MaybePanicked[T]) Err() error {
	if !m.Panicked {
		return nil
	}
	return errors.Panicked(errors.PhaseBoundary, m.payload)
}

func (m MaybePanicked[T]) String() string {
	if m.Panicked {
		return fmt.Sprintf("Panicked(%v)", m.payload)
	}
	return fmt.Sprintf("Ok(%v)", m.Value)
}

func (m *MaybePanicked[T]) memLayout() (MemLayout, error) {
	s, err := sumOf(reflect.TypeFor[T]())
	if err != nil {
		return MemLayout{}, err
	}
	return s.layout, nil
}

func (m *MaybePanicked[T]) encode(buf []byte) error {
	s, err := sumOf(reflect.TypeFor[T]())
	if err != nil {
		return err
	}
	if m.Panicked {
		return s.encode(buf, 1, -1, reflect.Value{})
	}
	return s.encode(buf, 0, 0, reflect.ValueOf(&m.Value).Elem())
}

func (m *MaybePanicked[T]) decode(buf []byte) error {
	s, err := sumOf(reflect.TypeFor[T]())
	if err != nil {
		return err
	}
	switch buf[0] {
	case 0:
		*m = MaybePanicked[T]{}
		return s.decode(buf, 0, reflect.ValueOf(&m.Value).Elem())
	case 1:
		*m = MaybePanicked[T]{Panicked: true}
		return nil
	}
	return invalidTag("MaybePanicked", buf[0])
}

// ReflectLayout describes MaybePanicked as a C-represented enum.
func (m *MaybePanicked[T]) ReflectLayout(defined layout.DefinedTypes) (layout.FullLayout, error) {
	return sumReflect[MaybePanicked[T]](defined, "C",
		variant{name: "Ok", payload: reflect.TypeFor[T]()},
		variant{name: "Panicked"},
	)
}
