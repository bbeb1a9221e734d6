package ffi

import (
	"reflect"

	"github.com/OpenListTeam/wazero-typeinfo/errors"
	"github.com/OpenListTeam/wazero-typeinfo/layout"
	"github.com/OpenListTeam/wazero-typeinfo/typeinfo"
)

// variant is one case of a tagged container. A nil payload is a unit case.
type variant struct {
	name    string
	payload reflect.Type
}

// sumReflect describes the tagged container S as an enum whose discriminants
// follow the order of variants.
func sumReflect[S any](defined layout.DefinedTypes, repr string, variants ...variant) (layout.FullLayout, error) {
	uid := typeinfo.UIDOf(reflect.TypeFor[S]())
	return typeinfo.Nominal(defined, uid, uid.Path, func(defined layout.DefinedTypes) (layout.TypeType, layout.DefinedTypes, error) {
		out := make([]layout.EnumVariant, len(variants))
		for i, v := range variants {
			out[i] = layout.EnumVariant{Name: v.name, Shape: layout.ShapeUnit, Discriminant: int64(i)}
			if v.payload == nil {
				continue
			}
			full, err := typeinfo.Derive(v.payload, defined)
			if err != nil {
				return layout.TypeType{}, nil, errors.Prefix(err, v.name)
			}
			out[i].Shape = layout.ShapeTuple
			out[i].Elems = []layout.Layout{full.Layout}
			defined = full.DefinedTypes
		}
		return layout.EnumOf(repr, out...), defined, nil
	})
}

// headerReflect describes the header of container S as a named struct built
// by fields from the layout of the element type. A nil elem stands for bytes.
func headerReflect[S any](defined layout.DefinedTypes, elem reflect.Type, fields func(elem layout.Layout) []layout.NamedField) (layout.FullLayout, error) {
	uid := typeinfo.UIDOf(reflect.TypeFor[S]())
	return typeinfo.Nominal(defined, uid, uid.Path, func(defined layout.DefinedTypes) (layout.TypeType, layout.DefinedTypes, error) {
		el := layout.Prim(layout.U8)
		if elem != nil {
			full, err := typeinfo.Derive(elem, defined)
			if err != nil {
				return layout.TypeType{}, nil, errors.Prefix(err, "ptr")
			}
			el, defined = full.Layout, full.DefinedTypes
		}
		return layout.NamedStruct(fields(el)...), defined, nil
	})
}

// pointerReflect describes a pointer-like wrapper of T.
func pointerReflect[T any](defined layout.DefinedTypes, wrap func(layout.Layout) layout.Layout) (layout.FullLayout, error) {
	full, err := typeinfo.DeriveOf[T](defined)
	if err != nil {
		return layout.FullLayout{}, err
	}
	full.Layout = wrap(full.Layout)
	return full, nil
}

var u32 = layout.Prim(layout.U32)
