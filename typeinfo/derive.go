package typeinfo

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/OpenListTeam/wazero-typeinfo/errors"
	"github.com/OpenListTeam/wazero-typeinfo/layout"
)

// GoABI is the calling-convention tag recorded for Go function types.
const GoABI = "Go"

const tagKey = "ffi"

var primKinds = map[reflect.Kind]layout.Kind{
	reflect.Bool:    layout.Bool,
	reflect.Int8:    layout.I8,
	reflect.Int16:   layout.I16,
	reflect.Int32:   layout.I32,
	reflect.Int64:   layout.I64,
	reflect.Int:     layout.ISize,
	reflect.Uint8:   layout.U8,
	reflect.Uint16:  layout.U16,
	reflect.Uint32:  layout.U32,
	reflect.Uint64:  layout.U64,
	reflect.Uint:    layout.USize,
	reflect.Uintptr: layout.USize,
	reflect.Float32: layout.F32,
	reflect.Float64: layout.F64,
}

var rejected = map[reflect.Kind]string{
	reflect.String:     "Go strings cannot cross the boundary, use ffi.Str",
	reflect.Slice:      "Go slices cannot cross the boundary, use ffi.Vec or ffi.Slice",
	reflect.Map:        "maps have no fixed layout",
	reflect.Chan:       "channels have no fixed layout",
	reflect.Interface:  "interfaces have no fixed layout",
	reflect.Complex64:  "complex numbers have no layout kind",
	reflect.Complex128: "complex numbers have no layout kind",
}

// DeriveOf derives the layout of T against the given catalog.
func DeriveOf[T any](defined layout.DefinedTypes) (layout.FullLayout, error) {
	return Derive(reflect.TypeFor[T](), defined)
}

// Derive derives the layout of t against the given catalog and returns the
// layout with the grown catalog. Types implementing Reflector describe
// themselves; everything else is derived from its reflected structure.
func Derive(t reflect.Type, defined layout.DefinedTypes) (layout.FullLayout, error) {
	if t == nil {
		return layout.FullLayout{}, errors.New(errors.PhaseDerive, errors.KindNilPointer).
			Detail("nil reflect.Type").Build()
	}

	if r, ok := hookOf[Reflector](t, reflectorType); ok {
		return r.ReflectLayout(defined)
	}
	if e, ok := hookOf[Enumer](t, enumerType); ok && isInteger(t.Kind()) {
		return deriveEnum(t, e, defined)
	}

	if k, ok := primKinds[t.Kind()]; ok {
		return layout.FullLayout{Layout: layout.Prim(k), DefinedTypes: defined}, nil
	}

	switch t.Kind() {
	case reflect.Pointer:
		elem, err := Derive(t.Elem(), defined)
		if err != nil {
			return layout.FullLayout{}, err
		}
		return layout.FullLayout{Layout: layout.Mut(elem.Layout), DefinedTypes: elem.DefinedTypes}, nil

	case reflect.UnsafePointer:
		return layout.FullLayout{Layout: layout.Mut(layout.Prim(layout.Void)), DefinedTypes: defined}, nil

	case reflect.Array:
		elem, err := Derive(t.Elem(), defined)
		if err != nil {
			return layout.FullLayout{}, errors.Prefix(err, "["+strconv.Itoa(t.Len())+"]")
		}
		return layout.FullLayout{Layout: layout.ArrayOf(uint64(t.Len()), elem.Layout), DefinedTypes: elem.DefinedTypes}, nil

	case reflect.Func:
		return deriveFunc(t, defined)

	case reflect.Struct:
		if t.Name() == "" && t.NumField() == 0 {
			return layout.FullLayout{Layout: layout.Prim(layout.Void), DefinedTypes: defined}, nil
		}
		return deriveStruct(t, defined)
	}

	detail, ok := rejected[t.Kind()]
	if !ok {
		detail = "kind " + t.Kind().String() + " is not supported"
	}
	return layout.FullLayout{}, errors.Unsupported(errors.PhaseDerive, t.String(), detail)
}

func isInteger(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Uintptr
}

// UIDOf returns the identity used to deduplicate t in the catalog.
func UIDOf(t reflect.Type) layout.TypeUid {
	if id, ok := hookOf[Identifier](t, identifierType); ok {
		uid := id.TypeUID()
		if uid.Path == "" {
			uid.Path = QualifiedName(t)
		}
		return uid
	}
	return layout.TypeUid{Path: QualifiedName(t)}
}

// QualifiedName returns the import path qualified name of t, including type
// arguments for instantiated generic types.
func QualifiedName(t reflect.Type) string {
	if t.Name() == "" {
		return t.String()
	}
	if t.PkgPath() == "" {
		return t.Name()
	}
	return t.PkgPath() + "." + t.Name()
}

func deriveFunc(t reflect.Type, defined layout.DefinedTypes) (layout.FullLayout, error) {
	if t.IsVariadic() {
		return layout.FullLayout{}, errors.Unsupported(errors.PhaseDerive, t.String(), "variadic functions have no fixed signature")
	}
	if t.NumOut() > 1 {
		return layout.FullLayout{}, errors.Unsupported(errors.PhaseDerive, t.String(), "functions with more than one result, return an ffi.Tuple2")
	}

	params := make([]layout.Layout, 0, t.NumIn())
	for i := 0; i < t.NumIn(); i++ {
		p, err := Derive(t.In(i), defined)
		if err != nil {
			return layout.FullLayout{}, errors.Prefix(err, "param"+strconv.Itoa(i))
		}
		params = append(params, p.Layout)
		defined = p.DefinedTypes
	}

	ret := layout.Prim(layout.Void)
	if t.NumOut() == 1 {
		r, err := Derive(t.Out(0), defined)
		if err != nil {
			return layout.FullLayout{}, errors.Prefix(err, "result")
		}
		ret = r.Layout
		defined = r.DefinedTypes
	}

	return layout.FullLayout{Layout: layout.FuncOf(false, GoABI, params, ret), DefinedTypes: defined}, nil
}

func deriveStruct(t reflect.Type, defined layout.DefinedTypes) (layout.FullLayout, error) {
	uid := UIDOf(t)
	return Nominal(defined, uid, uid.Path, func(defined layout.DefinedTypes) (layout.TypeType, layout.DefinedTypes, error) {
		switch {
		case t.NumField() == 0:
			return layout.UnitStruct(), defined, nil
		case implements(t, unionType):
			fields, defined, err := deriveFields(t, defined)
			return layout.UnionOf(fields...), defined, err
		case implements(t, tupleType):
			elems, defined, err := deriveElems(t, defined)
			return layout.TupleStruct(elems...), defined, err
		}

		variant, err := isVariant(t)
		if err != nil {
			return layout.TypeType{}, defined, err
		}
		if variant {
			return deriveVariants(t, defined)
		}

		fields, defined, err := deriveFields(t, defined)
		return layout.NamedStruct(fields...), defined, err
	})
}

func deriveFields(t reflect.Type, defined layout.DefinedTypes) ([]layout.NamedField, layout.DefinedTypes, error) {
	fields := make([]layout.NamedField, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		fl, err := Derive(f.Type, defined)
		if err != nil {
			return nil, defined, errors.Prefix(err, f.Name)
		}
		fields = append(fields, layout.Field(f.Name, fl.Layout))
		defined = fl.DefinedTypes
	}
	return fields, defined, nil
}

func deriveElems(t reflect.Type, defined layout.DefinedTypes) ([]layout.Layout, layout.DefinedTypes, error) {
	elems := make([]layout.Layout, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		fl, err := Derive(f.Type, defined)
		if err != nil {
			return nil, defined, errors.Prefix(err, f.Name)
		}
		elems = append(elems, fl.Layout)
		defined = fl.DefinedTypes
	}
	return elems, defined, nil
}

func deriveEnum(t reflect.Type, e Enumer, defined layout.DefinedTypes) (layout.FullLayout, error) {
	uid := UIDOf(t)
	return Nominal(defined, uid, uid.Path, func(defined layout.DefinedTypes) (layout.TypeType, layout.DefinedTypes, error) {
		cases := e.EnumCases()
		discs, err := Discriminants(cases)
		if err != nil {
			return layout.TypeType{}, defined, err
		}
		variants := make([]layout.EnumVariant, len(cases))
		for i, c := range cases {
			variants[i] = layout.EnumVariant{Name: c.Name, Shape: layout.ShapeUnit, Discriminant: discs[i]}
		}
		repr := t.Kind().String()
		if r, ok := hookOf[Reprer](t, reprerType); ok {
			repr = r.EnumRepr()
		}
		return layout.EnumOf(repr, variants...), defined, nil
	})
}

// parseCase parses an `ffi:"case"` or `ffi:"case(N)"` tag.
func parseCase(tag string) (explicit bool, value int64, ok bool, err error) {
	if tag == "case" {
		return false, 0, true, nil
	}
	rest, found := strings.CutPrefix(tag, "case(")
	if !found {
		return false, 0, false, nil
	}
	num, found := strings.CutSuffix(rest, ")")
	if !found {
		return false, 0, false, errors.New(errors.PhaseDerive, errors.KindInvalidTag).
			Detail("malformed tag %q", tag).Build()
	}
	v, perr := strconv.ParseInt(strings.TrimSpace(num), 0, 64)
	if perr != nil {
		return false, 0, false, errors.New(errors.PhaseDerive, errors.KindInvalidTag).
			Detail("malformed discriminant in %q", tag).Cause(perr).Build()
	}
	return true, v, true, nil
}

// isVariant reports whether t is a tagged variant struct. Every field except
// blank ones must then carry a case tag.
func isVariant(t reflect.Type) (bool, error) {
	tagged, plain := 0, ""
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Name == "_" {
			continue
		}
		_, _, ok, err := parseCase(f.Tag.Get(tagKey))
		if err != nil {
			return false, errors.Prefix(err, f.Name)
		}
		if ok {
			tagged++
		} else if plain == "" {
			plain = f.Name
		}
	}
	if tagged > 0 && plain != "" {
		return false, errors.New(errors.PhaseDerive, errors.KindInvalidTag).
			Path(plain).GoType(t.String()).
			Detail("variant structs must tag every field with ffi:\"case\"").Build()
	}
	return tagged > 0, nil
}

func deriveVariants(t reflect.Type, defined layout.DefinedTypes) (layout.TypeType, layout.DefinedTypes, error) {
	var cases []EnumCase
	var variants []layout.EnumVariant
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Name == "_" {
			continue
		}
		explicit, value, _, _ := parseCase(f.Tag.Get(tagKey))
		cases = append(cases, EnumCase{Name: f.Name, Value: value, Explicit: explicit})

		v, next, err := deriveVariant(f, defined)
		if err != nil {
			return layout.TypeType{}, defined, errors.Prefix(err, f.Name)
		}
		variants = append(variants, v)
		defined = next
	}

	discs, err := Discriminants(cases)
	if err != nil {
		return layout.TypeType{}, defined, err
	}
	for i, d := range discs {
		variants[i].Discriminant = d
	}

	var repr string
	if r, ok := hookOf[Reprer](t, reprerType); ok {
		repr = r.EnumRepr()
	}
	return layout.EnumOf(repr, variants...), defined, nil
}

func deriveVariant(f reflect.StructField, defined layout.DefinedTypes) (layout.EnumVariant, layout.DefinedTypes, error) {
	v := layout.EnumVariant{Name: f.Name}
	payload := f.Type
	if payload.Kind() == reflect.Pointer && payload.Name() == "" {
		payload = payload.Elem()
	}

	switch {
	case payload.Kind() == reflect.Struct && payload.Name() == "" && payload.NumField() == 0:
		v.Shape = layout.ShapeUnit
	case payload.Kind() == reflect.Struct && payload.Name() == "":
		fields, next, err := deriveFields(payload, defined)
		if err != nil {
			return v, defined, err
		}
		v.Shape, v.Fields, defined = layout.ShapeStruct, fields, next
	case payload.Kind() == reflect.Struct && implements(payload, tupleType):
		elems, next, err := deriveElems(payload, defined)
		if err != nil {
			return v, defined, err
		}
		v.Shape, v.Elems, defined = layout.ShapeTuple, elems, next
	default:
		fl, err := Derive(payload, defined)
		if err != nil {
			return v, defined, err
		}
		v.Shape, v.Elems, defined = layout.ShapeTuple, []layout.Layout{fl.Layout}, fl.DefinedTypes
	}
	return v, defined, nil
}
