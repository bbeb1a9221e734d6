package boundary

import (
	"fmt"
	"strings"

	"github.com/OpenListTeam/wazero-typeinfo/errors"
	"github.com/OpenListTeam/wazero-typeinfo/layout"
	"github.com/OpenListTeam/wazero-typeinfo/typeinfo"
)

// Diff returns the dotted path of the first place got differs from want, or
// "" when the two are equal. The root layout is compared before the catalog.
func Diff(want, got typeinfo.TypeLayout) string {
	m := diff(want, got)
	if m == nil {
		return ""
	}
	return strings.Join(m.path, ".")
}

// Verify returns a layout_mismatch error carrying the path of the first
// difference, or nil when got equals want.
func Verify(want, got typeinfo.TypeLayout) error {
	m := diff(want, got)
	if m == nil {
		return nil
	}
	return errors.New(errors.PhaseVerify, errors.KindLayoutMismatch).
		Path(m.path...).
		Detail("want %v, got %v", m.want, m.got).
		Build()
}

type mismatch struct {
	path      []string
	want, got any
}

func differ(name string, want, got any) *mismatch {
	return &mismatch{path: []string{name}, want: want, got: got}
}

func (m *mismatch) at(seg string) *mismatch {
	if m != nil {
		m.path = append([]string{seg}, m.path...)
	}
	return m
}

func diff(want, got typeinfo.TypeLayout) *mismatch {
	if m := diffLayout(want.Layout, got.Layout); m != nil {
		return m.at("layout")
	}
	return diffSeq("defined_types", want.DefinedTypes, got.DefinedTypes, diffDefined)
}

func diffSeq[T any](name string, want, got []T, fn func(a, b T) *mismatch) *mismatch {
	for i := range min(len(want), len(got)) {
		if m := fn(want[i], got[i]); m != nil {
			return m.at(fmt.Sprintf("%s[%d]", name, i))
		}
	}
	if len(want) != len(got) {
		return differ(name, fmt.Sprintf("%d entries", len(want)), fmt.Sprintf("%d entries", len(got)))
	}
	return nil
}

func diffLayout(a, b layout.Layout) *mismatch {
	if a.Kind != b.Kind {
		return differ("kind", a.Kind, b.Kind)
	}
	switch a.Kind {
	case layout.Ref, layout.MutRef:
		if a.Lifetime != b.Lifetime {
			return differ("lifetime", a.Lifetime, b.Lifetime)
		}
	case layout.Array:
		if a.Len != b.Len {
			return differ("len", a.Len, b.Len)
		}
	case layout.DefinedRef:
		if a.ID != b.ID {
			return differ("id", a.ID, b.ID)
		}
	case layout.FuncPtr:
		return diffFunc(a.Func, b.Func).at("func")
	}
	if a.Kind >= layout.ConstPtr && a.Kind <= layout.Array {
		if a.Elem == nil || b.Elem == nil {
			if a.Elem != b.Elem {
				return differ("elem", a.Elem != nil, b.Elem != nil)
			}
			return nil
		}
		return diffLayout(*a.Elem, *b.Elem).at("elem")
	}
	return nil
}

func diffFunc(a, b *layout.Func) *mismatch {
	switch {
	case a == nil || b == nil:
		if a != b {
			return differ("signature", a != nil, b != nil)
		}
		return nil
	case a.Unsafe != b.Unsafe:
		return differ("unsafe", a.Unsafe, b.Unsafe)
	case a.ABI != b.ABI:
		return differ("abi", a.ABI, b.ABI)
	}
	if m := diffSeq("params", a.Params, b.Params, diffLayout); m != nil {
		return m
	}
	return diffLayout(a.Return, b.Return).at("return")
}

func diffField(a, b layout.NamedField) *mismatch {
	if a.Name != b.Name {
		return differ("name", a.Name, b.Name)
	}
	return diffLayout(a.Layout, b.Layout).at(a.Name)
}

func diffDefined(a, b layout.DefinedType) *mismatch {
	switch {
	case a.Name != b.Name:
		return differ("name", a.Name, b.Name)
	case a.Type.Kind != b.Type.Kind:
		return differ("kind", a.Type.Kind, b.Type.Kind)
	case a.Type.Repr != b.Type.Repr:
		return differ("repr", a.Type.Repr, b.Type.Repr)
	}
	if m := diffSeq("fields", a.Type.Fields, b.Type.Fields, diffField); m != nil {
		return m
	}
	if m := diffSeq("elems", a.Type.Elems, b.Type.Elems, diffLayout); m != nil {
		return m
	}
	return diffSeq("variants", a.Type.Variants, b.Type.Variants, diffVariant)
}

func diffVariant(a, b layout.EnumVariant) *mismatch {
	switch {
	case a.Name != b.Name:
		return differ("name", a.Name, b.Name)
	case a.Shape != b.Shape:
		return differ("shape", a.Shape, b.Shape)
	case a.Discriminant != b.Discriminant:
		return differ("discriminant", a.Discriminant, b.Discriminant)
	}
	if m := diffSeq("elems", a.Elems, b.Elems, diffLayout); m != nil {
		return m
	}
	return diffSeq("fields", a.Fields, b.Fields, diffField)
}
