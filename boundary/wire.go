// Package boundary moves TypeLayouts across a wazero module boundary.
//
// A TypeLayout is written into a Space as a graph of ffi containers, so the
// guest can read it with nothing but the documented container layouts. The
// host keeps a Registry of the layouts it expects and exports host functions
// that hand them out or check a guest-submitted layout against them.
package boundary

import (
	"context"
	"strconv"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/OpenListTeam/wazero-typeinfo/errors"
	"github.com/OpenListTeam/wazero-typeinfo/ffi"
	"github.com/OpenListTeam/wazero-typeinfo/layout"
	"github.com/OpenListTeam/wazero-typeinfo/typeinfo"
)

// Wire is the memory form of a TypeLayout.
type Wire struct {
	Types ffi.Vec[WireType]
	Root  WireLayout
}

// WireLayout is one Layout node. Tag is the layout.Kind. Elem is set for
// pointers, references and arrays, Func for function pointers, and ID
// indexes Wire.Types for defined types.
type WireLayout struct {
	Tag      uint8
	Lifetime uint32
	Len      uint64
	ID       uint32
	Elem     ffi.Option[ffi.Box[WireLayout]]
	Func     ffi.Option[ffi.Box[WireFunc]]
}

type WireFunc struct {
	Unsafe bool
	ABI    ffi.Str
	Params ffi.Vec[WireLayout]
	Return WireLayout
}

// WireType is one catalog entry. Kind is the layout.TypeKind.
type WireType struct {
	Name     ffi.Str
	Kind     uint8
	Fields   ffi.Vec[WireField]
	Elems    ffi.Vec[WireLayout]
	Variants ffi.Vec[WireVariant]
	Repr     ffi.Option[ffi.Str]
}

type WireField struct {
	Name   ffi.Str
	Layout WireLayout
}

type WireVariant struct {
	Name         ffi.Str
	Shape        uint8
	Discriminant int64
	Elems        ffi.Vec[WireLayout]
	Fields       ffi.Vec[WireField]
}

// Encode writes tl into s. The returned box owns the whole graph.
func Encode(ctx context.Context, s *ffi.Space, tl typeinfo.TypeLayout) (*ffi.Box[Wire], error) {
	if err := tl.Validate(); err != nil {
		return nil, err
	}
	e := &encoder{ctx: ctx, space: s}
	b, err := boxed(e, func(w *Wire) (err error) {
		w.Types, err = vec(e, len(tl.DefinedTypes), func(i int, t *WireType) error {
			return errors.Prefix(e.definedType(t, tl.DefinedTypes[i]), "defined_types["+strconv.Itoa(i)+"]")
		})
		if err != nil {
			return err
		}
		return errors.Prefix(e.layout(&w.Root, tl.Layout), "layout")
	})
	if err != nil {
		return nil, err
	}
	Logger().Debug("encoded layout",
		zap.Uint32("ptr", b.Ptr()),
		zap.Int("types", len(tl.DefinedTypes)),
	)
	return &b, nil
}

type encoder struct {
	ctx   context.Context
	space *ffi.Space
}

// boxed fills a T and moves it into a new Box. Whatever fill allocated is
// released if it or the box allocation fails.
func boxed[T any](e *encoder, fill func(*T) error) (ffi.Box[T], error) {
	var v T
	err := fill(&v)
	if err == nil {
		var b *ffi.Box[T]
		if b, err = ffi.NewBox(e.ctx, e.space, v); err == nil {
			return *b, nil
		}
	}
	return ffi.Box[T]{}, multierr.Append(err, ffi.ReleaseValue(e.ctx, &v))
}

// vec fills n items and moves them into a new Vec, releasing them on failure.
func vec[T any](e *encoder, n int, fill func(int, *T) error) (ffi.Vec[T], error) {
	items := make([]T, n)
	var err error
	for i := range items {
		if err = fill(i, &items[i]); err != nil {
			break
		}
	}
	if err == nil {
		var v *ffi.Vec[T]
		if v, err = ffi.NewVec(e.ctx, e.space, items); err == nil {
			return *v, nil
		}
	}
	for i := range items {
		err = multierr.Append(err, ffi.ReleaseValue(e.ctx, &items[i]))
	}
	return ffi.Vec[T]{}, err
}

func (e *encoder) str(text string) (ffi.Str, error) {
	s, err := ffi.NewStr(e.ctx, e.space, text)
	if err != nil {
		return ffi.Str{}, err
	}
	return *s, nil
}

func (e *encoder) layout(out *WireLayout, l layout.Layout) error {
	*out = WireLayout{Tag: uint8(l.Kind), Lifetime: l.Lifetime, Len: l.Len, ID: uint32(l.ID)}
	if l.Elem != nil {
		b, err := boxed(e, func(w *WireLayout) error { return e.layout(w, *l.Elem) })
		if err != nil {
			return errors.Prefix(err, "elem")
		}
		out.Elem = ffi.Some(b)
	}
	if l.Func != nil {
		b, err := boxed(e, func(w *WireFunc) error { return e.fn(w, l.Func) })
		if err != nil {
			return errors.Prefix(err, "func")
		}
		out.Func = ffi.Some(b)
	}
	return nil
}

func (e *encoder) layouts(ls []layout.Layout) (ffi.Vec[WireLayout], error) {
	return vec(e, len(ls), func(i int, w *WireLayout) error {
		return errors.Prefix(e.layout(w, ls[i]), "["+strconv.Itoa(i)+"]")
	})
}

func (e *encoder) fn(out *WireFunc, f *layout.Func) (err error) {
	out.Unsafe = f.Unsafe
	if out.ABI, err = e.str(f.ABI); err != nil {
		return err
	}
	if out.Params, err = e.layouts(f.Params); err != nil {
		return errors.Prefix(err, "params")
	}
	return errors.Prefix(e.layout(&out.Return, f.Return), "return")
}

func (e *encoder) fields(fs []layout.NamedField) (ffi.Vec[WireField], error) {
	return vec(e, len(fs), func(i int, w *WireField) (err error) {
		if w.Name, err = e.str(fs[i].Name); err != nil {
			return err
		}
		return errors.Prefix(e.layout(&w.Layout, fs[i].Layout), fs[i].Name)
	})
}

func (e *encoder) definedType(out *WireType, d layout.DefinedType) (err error) {
	out.Kind = uint8(d.Type.Kind)
	if out.Name, err = e.str(d.Name); err != nil {
		return err
	}
	if out.Fields, err = e.fields(d.Type.Fields); err != nil {
		return errors.Prefix(err, "fields")
	}
	if out.Elems, err = e.layouts(d.Type.Elems); err != nil {
		return errors.Prefix(err, "elems")
	}
	out.Variants, err = vec(e, len(d.Type.Variants), func(i int, w *WireVariant) error {
		return errors.Prefix(e.variant(w, d.Type.Variants[i]), "variants", d.Type.Variants[i].Name)
	})
	if err != nil {
		return err
	}
	if d.Type.Repr != "" {
		repr, err := e.str(d.Type.Repr)
		if err != nil {
			return err
		}
		out.Repr = ffi.Some(repr)
	}
	return nil
}

func (e *encoder) variant(out *WireVariant, v layout.EnumVariant) (err error) {
	out.Shape, out.Discriminant = uint8(v.Shape), v.Discriminant
	if out.Name, err = e.str(v.Name); err != nil {
		return err
	}
	if out.Elems, err = e.layouts(v.Elems); err != nil {
		return err
	}
	out.Fields, err = e.fields(v.Fields)
	return err
}
