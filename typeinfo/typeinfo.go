// Package typeinfo derives declared type layouts for Go types.
//
// A layout is derived by walking the type's structure. Nominal types (named
// structs, enums and unions) are collected into a catalog and referred to by
// index, which keeps recursive types finite. The result, a TypeLayout, is a
// plain comparable value: computing it for the same type on both sides of a
// module boundary and comparing the two is how callers check that both sides
// agree before passing values of that type across.
package typeinfo

import (
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/OpenListTeam/wazero-typeinfo/layout"
)

// TypeLayout is the flattened layout of a type: the catalog of every nominal
// type it reaches, in first-discovery order, and the root layout.
type TypeLayout struct {
	DefinedTypes []layout.DefinedType
	Layout       layout.Layout
}

// NewTypeLayout strips the identity keys from a finished derivation.
func NewTypeLayout(full layout.FullLayout) TypeLayout {
	return TypeLayout{DefinedTypes: full.DefinedTypes.Strip(), Layout: full.Layout}
}

// Equal reports whether t and o are the same layout. Catalog order matters.
func (t TypeLayout) Equal(o TypeLayout) bool {
	return t.Layout.Equal(o.Layout) &&
		slices.EqualFunc(t.DefinedTypes, o.DefinedTypes, layout.DefinedType.Equal)
}

// Clone returns a deep copy of t.
func (t TypeLayout) Clone() TypeLayout {
	var defined []layout.DefinedType
	if t.DefinedTypes != nil {
		defined = make([]layout.DefinedType, len(t.DefinedTypes))
		for i, d := range t.DefinedTypes {
			defined[i] = d.Clone()
		}
	}
	return TypeLayout{DefinedTypes: defined, Layout: t.Layout.Clone()}
}

// Validate checks that every catalog index is in range and every entry is reachable.
func (t TypeLayout) Validate() error {
	return layout.Validate(t.DefinedTypes, t.Layout)
}

func (t TypeLayout) String() string {
	var b strings.Builder
	b.WriteString(t.Layout.String())
	for i, d := range t.DefinedTypes {
		b.WriteString("\n#")
		b.WriteString(strconv.Itoa(i))
		b.WriteString(" = ")
		b.WriteString(d.String())
	}
	return b.String()
}

var defaultEngine = MustNewEngine()

// Of returns the layout of t using the shared engine.
func Of(t reflect.Type) (TypeLayout, error) {
	return defaultEngine.Of(t)
}

// LayoutOf returns the layout of T using the shared engine.
func LayoutOf[T any]() (TypeLayout, error) {
	return defaultEngine.Of(reflect.TypeFor[T]())
}

// MustLayoutOf is like LayoutOf but panics if T has no layout.
func MustLayoutOf[T any]() TypeLayout {
	tl, err := LayoutOf[T]()
	if err != nil {
		panic(err)
	}
	return tl
}

// Compute derives the layout of t with a fresh catalog, bypassing any cache.
func Compute(t reflect.Type) (TypeLayout, error) {
	full, err := Derive(t, nil)
	if err != nil {
		return TypeLayout{}, err
	}
	return NewTypeLayout(full), nil
}
