package ffi

import (
	"fmt"
	"reflect"

	"github.com/OpenListTeam/wazero-typeinfo/layout"
)

// Option is an optional value with a fixed memory representation: a u8 tag
// (0 for None, 1 for Some) followed by the payload.
type Option[T any] struct {
	HasValue bool
	Value    T
}

func Some[T any](v T) Option[T] { return Option[T]{HasValue: true, Value: v} }
func None[T any]() Option[T]    { return Option[T]{} }

// OptionFrom converts a native optional pointer.
func OptionFrom[T any](p *T) Option[T] {
	if p == nil {
		return None[T]()
	}
	return Some(*p)
}

// Ptr converts back to a native optional pointer.
func (o Option[T]) Ptr() *T {
	if !o.HasValue {
		return nil
	}
	v := o.Value
	return &v
}

// Get returns the value and whether it is present.
func (o Option[T]) Get() (T, bool) {
	return o.Value, o.HasValue
}

// Or returns the value, or d when absent.
func (o Option[T]) Or(d T) T {
	if !o.HasValue {
		return d
	}
	return o.Value
}

func (o Option[T]) String() string {
	if !o.HasValue {
		return "None"
	}
	return fmt.Sprintf("Some(%v)", o.Value)
}

func (o *Option[T]) memLayout() (MemLayout, error) {
	s, err := sumOf(reflect.TypeFor[T]())
	if err != nil {
		return MemLayout{}, err
	}
	return s.layout, nil
}

func (o *Option[T]) encode(buf []byte) error {
	s, err := sumOf(reflect.TypeFor[T]())
	if err != nil {
		return err
	}
	if !o.HasValue {
		return s.encode(buf, 0, -1, reflect.Value{})
	}
	return s.encode(buf, 1, 0, reflect.ValueOf(&o.Value).Elem())
}

func (o *Option[T]) decode(buf []byte) error {
	s, err := sumOf(reflect.TypeFor[T]())
	if err != nil {
		return err
	}
	*o = Option[T]{}
	switch buf[0] {
	case 0:
		return nil
	case 1:
		o.HasValue = true
		return s.decode(buf, 0, reflect.ValueOf(&o.Value).Elem())
	}
	return invalidTag("Option", buf[0])
}

func (o *Option[T]) ReflectLayout(defined layout.DefinedTypes) (layout.FullLayout, error) {
	return sumReflect[Option[T]](defined, "u8",
		variant{name: "None"},
		variant{name: "Some", payload: reflect.TypeFor[T]()},
	)
}

// Result holds either an Ok value or an Err value, tagged by a u8
// (0 for Ok, 1 for Err). Only the field selected by IsErr is meaningful.
type Result[T, E any] struct {
	IsErr bool
	Ok    T
	Err   E
}

// Success returns an Ok result.
func Success[T, E any](v T) Result[T, E] {
	return Result[T, E]{Ok: v}
}

// Failure returns an Err result.
func Failure[T, E any](e E) Result[T, E] {
	return Result[T, E]{IsErr: true, Err: e}
}

// ResultFrom converts a native (value, error value, failed) triple.
func ResultFrom[T, E any](v T, e E, failed bool) Result[T, E] {
	if failed {
		return Failure[T](e)
	}
	return Success[T, E](v)
}

// Get converts back to the native triple. The inactive side is its zero value.
func (r Result[T, E]) Get() (T, E, bool) {
	var v T
	var e E
	if r.IsErr {
		e = r.Err
	} else {
		v = r.Ok
	}
	return v, e, r.IsErr
}

func (r Result[T, E]) String() string {
	if r.IsErr {
		return fmt.Sprintf("Err(%v)", r.Err)
	}
	return fmt.Sprintf("Ok(%v)", r.Ok)
}

func resultSum[T, E any]() (*sum, error) {
	return sumOf(reflect.TypeFor[T](), reflect.TypeFor[E]())
}

func (r *Result[T, E]) memLayout() (MemLayout, error) {
	s, err := resultSum[T, E]()
	if err != nil {
		return MemLayout{}, err
	}
	return s.layout, nil
}

func (r *Result[T, E]) encode(buf []byte) error {
	s, err := resultSum[T, E]()
	if err != nil {
		return err
	}
	if r.IsErr {
		return s.encode(buf, 1, 1, reflect.ValueOf(&r.Err).Elem())
	}
	return s.encode(buf, 0, 0, reflect.ValueOf(&r.Ok).Elem())
}

func (r *Result[T, E]) decode(buf []byte) error {
	s, err := resultSum[T, E]()
	if err != nil {
		return err
	}
	*r = Result[T, E]{}
	switch buf[0] {
	case 0:
		return s.decode(buf, 0, reflect.ValueOf(&r.Ok).Elem())
	case 1:
		r.IsErr = true
		return s.decode(buf, 1, reflect.ValueOf(&r.Err).Elem())
	}
	return invalidTag("Result", buf[0])
}

func (r *Result[T, E]) ReflectLayout(defined layout.DefinedTypes) (layout.FullLayout, error) {
	return sumReflect[Result[T, E]](defined, "u8",
		variant{name: "Ok", payload: reflect.TypeFor[T]()},
		variant{name: "Err", payload: reflect.TypeFor[E]()},
	)
}

// Tuple2 is a pair laid out as a tuple struct.
type Tuple2[A, B any] struct {
	F0 A
	F1 B
}

// Pair builds a Tuple2.
func Pair[A, B any](a A, b B) Tuple2[A, B] {
	return Tuple2[A, B]{F0: a, F1: b}
}

func (Tuple2[A, B]) IsTuple() {}

// Get converts back to the native pair.
func (t Tuple2[A, B]) Get() (A, B) {
	return t.F0, t.F1
}

func (t Tuple2[A, B]) String() string {
	return fmt.Sprintf("(%v, %v)", t.F0, t.F1)
}

// Char is a Unicode scalar value stored as four bytes.
type Char rune

func (Char) ReflectLayout(defined layout.DefinedTypes) (layout.FullLayout, error) {
	return layout.FullLayout{Layout: layout.Prim(layout.Char), DefinedTypes: defined}, nil
}

func (c Char) String() string {
	return string(rune(c))
}

// Void is the zero-sized unit value.
type Void struct{}

func (Void) ReflectLayout(defined layout.DefinedTypes) (layout.FullLayout, error) {
	return layout.FullLayout{Layout: layout.Prim(layout.Void), DefinedTypes: defined}, nil
}
