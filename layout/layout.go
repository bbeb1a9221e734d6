// Package layout is the data model for declared type layouts: the shape of a
// single type (Layout) and the catalog of nominal types it refers to.
//
// A Layout never contains a cycle. Recursive and mutually recursive types are
// expressed by a DefinedRef layout that holds an index into the catalog.
package layout

import (
	"slices"
	"strconv"
)

// Kind identifies the variant of a Layout.
type Kind uint8

const (
	Void Kind = iota
	U8
	U16
	U32
	U64
	I8
	I16
	I32
	I64
	USize
	ISize
	Bool
	F32
	F64
	Char
	ConstPtr
	MutPtr
	NonNullPtr
	Ref
	MutRef
	Array
	FuncPtr
	DefinedRef
)

var kindNames = [...]string{
	Void:        "void",
	U8:          "u8",
	U16:         "u16",
	U32:         "u32",
	U64:         "u64",
	I8:          "i8",
	I16:         "i16",
	I32:         "i32",
	I64:         "i64",
	USize:       "usize",
	ISize:       "isize",
	Bool:        "bool",
	F32:         "f32",
	F64:         "f64",
	Char:        "char",
	ConstPtr:    "const_ptr",
	MutPtr:      "mut_ptr",
	NonNullPtr:  "non_null_ptr",
	Ref:         "ref",
	MutRef:      "mut_ref",
	Array:       "array",
	FuncPtr:     "func_ptr",
	DefinedRef:  "defined_type",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// IsPrimitive reports whether k carries no payload.
func (k Kind) IsPrimitive() bool {
	return k <= Char
}

// Valid reports whether k is a known variant.
func (k Kind) Valid() bool {
	return k <= DefinedRef
}

// Layout describes the shape of one type.
//
// Which payload fields are meaningful depends on Kind:
//   - ConstPtr, MutPtr, NonNullPtr: Elem
//   - Ref, MutRef: Elem and Lifetime
//   - Array: Elem and Len
//   - FuncPtr: Func
//   - DefinedRef: ID
type Layout struct {
	Kind     Kind
	Elem     *Layout
	Len      uint64
	Lifetime uint32
	Func     *Func
	ID       int
}

// Func is the payload of a function-pointer layout.
type Func struct {
	Unsafe bool
	ABI    string
	Params []Layout
	Return Layout
}

// Prim returns the layout of a primitive kind.
func Prim(k Kind) Layout {
	return Layout{Kind: k}
}

// Const returns a const pointer to elem.
func Const(elem Layout) Layout {
	return Layout{Kind: ConstPtr, Elem: &elem}
}

// Mut returns a mutable pointer to elem.
func Mut(elem Layout) Layout {
	return Layout{Kind: MutPtr, Elem: &elem}
}

// NonNull returns a non-null pointer to elem.
func NonNull(elem Layout) Layout {
	return Layout{Kind: NonNullPtr, Elem: &elem}
}

// SharedRef returns a shared reference to elem bound to the given lifetime index.
func SharedRef(elem Layout, lifetime uint32) Layout {
	return Layout{Kind: Ref, Elem: &elem, Lifetime: lifetime}
}

// ExclusiveRef returns a mutable reference to elem bound to the given lifetime index.
func ExclusiveRef(elem Layout, lifetime uint32) Layout {
	return Layout{Kind: MutRef, Elem: &elem, Lifetime: lifetime}
}

// ArrayOf returns a fixed-size array of n elements.
func ArrayOf(n uint64, elem Layout) Layout {
	return Layout{Kind: Array, Elem: &elem, Len: n}
}

// FuncOf returns a function-pointer layout.
func FuncOf(unsafe bool, abi string, params []Layout, ret Layout) Layout {
	return Layout{Kind: FuncPtr, Func: &Func{Unsafe: unsafe, ABI: abi, Params: params, Return: ret}}
}

// Defined returns a reference to the catalog entry at id.
func Defined(id int) Layout {
	return Layout{Kind: DefinedRef, ID: id}
}

// Equal reports whether l and o describe the same shape.
func (l Layout) Equal(o Layout) bool {
	if l.Kind != o.Kind {
		return false
	}
	switch l.Kind {
	case ConstPtr, MutPtr, NonNullPtr:
		return elemEqual(l.Elem, o.Elem)
	case Ref, MutRef:
		return l.Lifetime == o.Lifetime && elemEqual(l.Elem, o.Elem)
	case Array:
		return l.Len == o.Len && elemEqual(l.Elem, o.Elem)
	case FuncPtr:
		return l.Func.Equal(o.Func)
	case DefinedRef:
		return l.ID == o.ID
	default:
		return true
	}
}

func elemEqual(a, b *Layout) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Equal reports whether two function payloads match.
func (f *Func) Equal(o *Func) bool {
	if f == nil || o == nil {
		return f == o
	}
	return f.Unsafe == o.Unsafe &&
		f.ABI == o.ABI &&
		slices.EqualFunc(f.Params, o.Params, Layout.Equal) &&
		f.Return.Equal(o.Return)
}

// Clone returns a deep copy of l that shares no memory with it.
func (l Layout) Clone() Layout {
	cp := l
	if l.Elem != nil {
		e := l.Elem.Clone()
		cp.Elem = &e
	}
	if l.Func != nil {
		f := *l.Func
		f.Params = cloneLayouts(l.Func.Params)
		f.Return = l.Func.Return.Clone()
		cp.Func = &f
	}
	return cp
}

func cloneLayouts(ls []Layout) []Layout {
	if ls == nil {
		return nil
	}
	out := make([]Layout, len(ls))
	for i, l := range ls {
		out[i] = l.Clone()
	}
	return out
}

// Walk calls fn for l and every layout nested inside it, parents first.
func (l Layout) Walk(fn func(Layout)) {
	fn(l)
	if l.Elem != nil {
		l.Elem.Walk(fn)
	}
	if l.Func != nil {
		for _, p := range l.Func.Params {
			p.Walk(fn)
		}
		l.Func.Return.Walk(fn)
	}
}
