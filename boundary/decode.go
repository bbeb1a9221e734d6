package boundary

import (
	"context"
	"strconv"

	"go.uber.org/multierr"

	"github.com/OpenListTeam/wazero-typeinfo/errors"
	"github.com/OpenListTeam/wazero-typeinfo/ffi"
	"github.com/OpenListTeam/wazero-typeinfo/layout"
	"github.com/OpenListTeam/wazero-typeinfo/typeinfo"
)

// MaxDepth bounds how deeply boxed layout nodes may nest in a decoded graph.
const MaxDepth = 256

// Decode reads the Wire at ptr in s. The graph is borrowed and stays owned
// by whoever allocated it. Every container in it must belong to s.
func Decode(s *ffi.Space, ptr uint32) (typeinfo.TypeLayout, error) {
	w, err := ffi.ConstPtr[Wire](ptr).Load(s)
	if err != nil {
		return typeinfo.TypeLayout{}, err
	}
	return decodeWire(s, &w)
}

// Take decodes the graph owned by b and releases it. b is empty afterwards,
// unless the graph holds containers that b's space does not own, in which
// case nothing is released.
func Take(ctx context.Context, b *ffi.Box[Wire]) (typeinfo.TypeLayout, error) {
	s, err := b.Space()
	if err != nil {
		return typeinfo.TypeLayout{}, err
	}
	w, err := b.Get()
	if err != nil {
		return typeinfo.TypeLayout{}, err
	}
	tl, err := decodeWire(s, &w)
	if rerr := ffi.ReleaseOwned(ctx, s, b); rerr != nil {
		return typeinfo.TypeLayout{}, multierr.Append(err, rerr)
	}
	return tl, err
}

func decodeWire(s *ffi.Space, w *Wire) (typeinfo.TypeLayout, error) {
	d := &decoder{space: s}
	types, err := each(d, &w.Types, func(i int, t WireType) (layout.DefinedType, error) {
		dt, err := d.definedType(t)
		return dt, errors.Prefix(err, "defined_types["+strconv.Itoa(i)+"]")
	})
	if err != nil {
		return typeinfo.TypeLayout{}, err
	}
	root, err := d.layout(w.Root)
	if err != nil {
		return typeinfo.TypeLayout{}, errors.Prefix(err, "layout")
	}
	tl := typeinfo.TypeLayout{DefinedTypes: types, Layout: root}
	if err := tl.Validate(); err != nil {
		return typeinfo.TypeLayout{}, errors.Wrap(errors.PhaseDecode, errors.KindInvalidData, err, "decoded layout is inconsistent")
	}
	return tl, nil
}

type decoder struct {
	space *ffi.Space
	depth int
}

// own checks that a non-empty container lives in the decoder's space.
func (d *decoder) own(ptr uint32, space func() (*ffi.Space, error)) error {
	if ptr == 0 {
		return nil
	}
	s, err := space()
	if err != nil {
		return err
	}
	if s != d.space {
		return errors.InvalidData(errors.PhaseDecode, nil, "container belongs to space "+strconv.Itoa(int(s.ID())))
	}
	return nil
}

func (d *decoder) str(s ffi.Str) (string, error) {
	if err := d.own(s.Ptr(), s.Space); err != nil {
		return "", err
	}
	return s.View()
}

func each[T, U any](d *decoder, v *ffi.Vec[T], fn func(int, T) (U, error)) ([]U, error) {
	if v.Len() == 0 {
		return nil, nil
	}
	if err := d.own(v.Ptr(), v.Space); err != nil {
		return nil, err
	}
	items, err := v.View()
	if err != nil {
		return nil, err
	}
	out := make([]U, len(items))
	for i, item := range items {
		if out[i], err = fn(i, item); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func unbox[T any](d *decoder, b ffi.Box[T]) (T, error) {
	if err := d.own(b.Ptr(), b.Space); err != nil {
		var zero T
		return zero, err
	}
	return b.Get()
}

func (d *decoder) layout(w WireLayout) (layout.Layout, error) {
	if d.depth >= MaxDepth {
		return layout.Layout{}, errors.InvalidData(errors.PhaseDecode, nil, "layout nests deeper than "+strconv.Itoa(MaxDepth))
	}
	d.depth++
	defer func() { d.depth-- }()

	l := layout.Layout{Kind: layout.Kind(w.Tag)}
	if !l.Kind.Valid() {
		return l, errors.New(errors.PhaseDecode, errors.KindInvalidTag).
			Value(w.Tag).
			Detail("unknown layout kind %d", w.Tag).
			Build()
	}
	switch l.Kind {
	case layout.Ref, layout.MutRef:
		l.Lifetime = w.Lifetime
	case layout.Array:
		l.Len = w.Len
	case layout.DefinedRef:
		l.ID = int(w.ID)
	}
	if b, ok := w.Elem.Get(); ok {
		node, err := unbox(d, b)
		if err != nil {
			return l, errors.Prefix(err, "elem")
		}
		elem, err := d.layout(node)
		if err != nil {
			return l, errors.Prefix(err, "elem")
		}
		l.Elem = &elem
	}
	if b, ok := w.Func.Get(); ok {
		wf, err := unbox(d, b)
		if err == nil {
			l.Func, err = d.fn(wf)
		}
		if err != nil {
			return l, errors.Prefix(err, "func")
		}
	}
	return l, nil
}

func (d *decoder) layouts(v ffi.Vec[WireLayout]) ([]layout.Layout, error) {
	return each(d, &v, func(i int, w WireLayout) (layout.Layout, error) {
		l, err := d.layout(w)
		return l, errors.Prefix(err, "["+strconv.Itoa(i)+"]")
	})
}

func (d *decoder) fn(w WireFunc) (*layout.Func, error) {
	abi, err := d.str(w.ABI)
	if err != nil {
		return nil, err
	}
	params, err := d.layouts(w.Params)
	if err != nil {
		return nil, errors.Prefix(err, "params")
	}
	ret, err := d.layout(w.Return)
	if err != nil {
		return nil, errors.Prefix(err, "return")
	}
	return &layout.Func{Unsafe: w.Unsafe, ABI: abi, Params: params, Return: ret}, nil
}

func (d *decoder) fields(v ffi.Vec[WireField]) ([]layout.NamedField, error) {
	return each(d, &v, func(i int, w WireField) (layout.NamedField, error) {
		name, err := d.str(w.Name)
		if err != nil {
			return layout.NamedField{}, errors.Prefix(err, "["+strconv.Itoa(i)+"]")
		}
		l, err := d.layout(w.Layout)
		return layout.Field(name, l), errors.Prefix(err, name)
	})
}

func (d *decoder) definedType(w WireType) (layout.DefinedType, error) {
	var out layout.DefinedType
	var err error
	if out.Name, err = d.str(w.Name); err != nil {
		return out, err
	}
	out.Type.Kind = layout.TypeKind(w.Kind)
	if out.Type.Kind > layout.Union {
		return out, errors.New(errors.PhaseDecode, errors.KindInvalidTag).
			Value(w.Kind).
			Detail("unknown type kind %d", w.Kind).
			Build()
	}
	if out.Type.Fields, err = d.fields(w.Fields); err != nil {
		return out, errors.Prefix(err, "fields")
	}
	if out.Type.Elems, err = d.layouts(w.Elems); err != nil {
		return out, errors.Prefix(err, "elems")
	}
	out.Type.Variants, err = each(d, &w.Variants, func(i int, v WireVariant) (layout.EnumVariant, error) {
		ev, err := d.variant(v)
		return ev, errors.Prefix(err, "variants["+strconv.Itoa(i)+"]")
	})
	if err != nil {
		return out, err
	}
	if repr, ok := w.Repr.Get(); ok {
		if out.Type.Repr, err = d.str(repr); err != nil {
			return out, errors.Prefix(err, "repr")
		}
	}
	return out, nil
}

func (d *decoder) variant(w WireVariant) (layout.EnumVariant, error) {
	out := layout.EnumVariant{Shape: layout.Shape(w.Shape), Discriminant: w.Discriminant}
	if out.Shape > layout.ShapeStruct {
		return out, errors.New(errors.PhaseDecode, errors.KindInvalidTag).
			Value(w.Shape).
			Detail("unknown variant shape %d", w.Shape).
			Build()
	}
	var err error
	if out.Name, err = d.str(w.Name); err != nil {
		return out, err
	}
	if out.Elems, err = d.layouts(w.Elems); err != nil {
		return out, errors.Prefix(err, "elems")
	}
	if out.Fields, err = d.fields(w.Fields); err != nil {
		return out, errors.Prefix(err, "fields")
	}
	return out, nil
}
