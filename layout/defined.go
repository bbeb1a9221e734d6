package layout

import (
	"slices"
	"strconv"
)

// TypeKind identifies the body of a nominal type.
type TypeKind uint8

const (
	StructNamed TypeKind = iota
	StructUnnamed
	StructUnit
	Enum
	Union
)

func (k TypeKind) String() string {
	switch k {
	case StructNamed:
		return "struct"
	case StructUnnamed:
		return "tuple_struct"
	case StructUnit:
		return "unit_struct"
	case Enum:
		return "enum"
	case Union:
		return "union"
	default:
		return "type_kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Shape identifies the payload form of an enum variant.
type Shape uint8

const (
	ShapeUnit Shape = iota
	ShapeTuple
	ShapeStruct
)

func (s Shape) String() string {
	switch s {
	case ShapeUnit:
		return "unit"
	case ShapeTuple:
		return "tuple"
	case ShapeStruct:
		return "struct"
	default:
		return "shape(" + strconv.Itoa(int(s)) + ")"
	}
}

// NamedField is a field of a struct, union or struct-shaped variant.
type NamedField struct {
	Name   string
	Layout Layout
}

// EnumVariant is one variant of an enum, in declaration order.
type EnumVariant struct {
	Name         string
	Shape        Shape
	Elems        []Layout     // ShapeTuple
	Fields       []NamedField // ShapeStruct
	Discriminant int64
}

// TypeType is the body of a nominal type.
//
// Fields is used by StructNamed and Union, Elems by StructUnnamed, and
// Variants and Repr by Enum. An empty Repr means no representation was
// declared.
type TypeType struct {
	Kind     TypeKind
	Fields   []NamedField
	Elems    []Layout
	Variants []EnumVariant
	Repr     string
}

// DefinedType is one entry of the nominal type catalog.
type DefinedType struct {
	Name string
	Type TypeType
}

// NamedStruct returns a struct body with named fields.
func NamedStruct(fields ...NamedField) TypeType {
	return TypeType{Kind: StructNamed, Fields: fields}
}

// TupleStruct returns a struct body with positional fields.
func TupleStruct(elems ...Layout) TypeType {
	return TypeType{Kind: StructUnnamed, Elems: elems}
}

// UnitStruct returns a struct body without fields.
func UnitStruct() TypeType {
	return TypeType{Kind: StructUnit}
}

// EnumOf returns an enum body.
func EnumOf(repr string, variants ...EnumVariant) TypeType {
	return TypeType{Kind: Enum, Variants: variants, Repr: repr}
}

// UnionOf returns a union body.
func UnionOf(fields ...NamedField) TypeType {
	return TypeType{Kind: Union, Fields: fields}
}

// Field is shorthand for a NamedField.
func Field(name string, l Layout) NamedField {
	return NamedField{Name: name, Layout: l}
}

func (f NamedField) Equal(o NamedField) bool {
	return f.Name == o.Name && f.Layout.Equal(o.Layout)
}

func (v EnumVariant) Equal(o EnumVariant) bool {
	return v.Name == o.Name &&
		v.Shape == o.Shape &&
		v.Discriminant == o.Discriminant &&
		slices.EqualFunc(v.Elems, o.Elems, Layout.Equal) &&
		slices.EqualFunc(v.Fields, o.Fields, NamedField.Equal)
}

func (t TypeType) Equal(o TypeType) bool {
	return t.Kind == o.Kind &&
		t.Repr == o.Repr &&
		slices.EqualFunc(t.Fields, o.Fields, NamedField.Equal) &&
		slices.EqualFunc(t.Elems, o.Elems, Layout.Equal) &&
		slices.EqualFunc(t.Variants, o.Variants, EnumVariant.Equal)
}

func (d DefinedType) Equal(o DefinedType) bool {
	return d.Name == o.Name && d.Type.Equal(o.Type)
}

func cloneFields(fs []NamedField) []NamedField {
	if fs == nil {
		return nil
	}
	out := make([]NamedField, len(fs))
	for i, f := range fs {
		out[i] = NamedField{Name: f.Name, Layout: f.Layout.Clone()}
	}
	return out
}

// Clone returns a deep copy of t.
func (t TypeType) Clone() TypeType {
	cp := t
	cp.Fields = cloneFields(t.Fields)
	cp.Elems = cloneLayouts(t.Elems)
	if t.Variants != nil {
		cp.Variants = make([]EnumVariant, len(t.Variants))
		for i, v := range t.Variants {
			v.Elems = cloneLayouts(v.Elems)
			v.Fields = cloneFields(v.Fields)
			cp.Variants[i] = v
		}
	}
	return cp
}

// Clone returns a deep copy of d.
func (d DefinedType) Clone() DefinedType {
	return DefinedType{Name: d.Name, Type: d.Type.Clone()}
}

// Layouts calls fn for every layout directly held by the body.
func (t TypeType) Layouts(fn func(Layout)) {
	for _, f := range t.Fields {
		fn(f.Layout)
	}
	for _, e := range t.Elems {
		fn(e)
	}
	for _, v := range t.Variants {
		for _, e := range v.Elems {
			fn(e)
		}
		for _, f := range v.Fields {
			fn(f.Layout)
		}
	}
}
