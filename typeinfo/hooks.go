package typeinfo

import (
	"reflect"

	"github.com/OpenListTeam/wazero-typeinfo/layout"
)

// Reflector is implemented by types that describe their own layout instead
// of being derived by reflection. ReflectLayout receives the catalog built so
// far and returns the type's layout together with the grown catalog.
//
// Nominal implementations should go through Nominal so that self-referential
// types terminate.
type Reflector interface {
	ReflectLayout(defined layout.DefinedTypes) (layout.FullLayout, error)
}

// Identifier supplies the declared identity of a nominal type. Generated
// implementations include the source position of the declaration, which
// makes two types with the same name at different positions distinct.
type Identifier interface {
	TypeUID() layout.TypeUid
}

// Tuple marks a struct whose fields are positional.
type Tuple interface {
	IsTuple()
}

// Union marks a struct whose fields share storage.
type Union interface {
	IsUnion()
}

// Enumer is implemented by named integer types that stand for an enum.
// Cases are reported in declaration order.
type Enumer interface {
	EnumCases() []EnumCase
}

// Reprer declares the representation of an enum.
type Reprer interface {
	EnumRepr() string
}

// EnumCase is one declared case of an Enumer.
type EnumCase struct {
	Name     string
	Value    int64
	Explicit bool
}

// Case declares a case whose discriminant follows the previous one.
func Case(name string) EnumCase {
	return EnumCase{Name: name}
}

// CaseValue declares a case with an explicit discriminant.
func CaseValue(name string, v int64) EnumCase {
	return EnumCase{Name: name, Value: v, Explicit: true}
}

var (
	reflectorType  = reflect.TypeFor[Reflector]()
	identifierType = reflect.TypeFor[Identifier]()
	tupleType      = reflect.TypeFor[Tuple]()
	unionType      = reflect.TypeFor[Union]()
	enumerType     = reflect.TypeFor[Enumer]()
	reprerType     = reflect.TypeFor[Reprer]()
)

// hookOf returns an I implemented by t or *t. Only named, non-interface
// types can carry hooks; an unnamed *T inherits T's method set and must
// still be treated as a pointer.
func hookOf[I any](t reflect.Type, it reflect.Type) (I, bool) {
	var zero I
	if t.Name() == "" || t.Kind() == reflect.Interface {
		return zero, false
	}
	if t.Implements(it) {
		return reflect.Zero(t).Interface().(I), true
	}
	if t.Kind() != reflect.Pointer && reflect.PointerTo(t).Implements(it) {
		return reflect.New(t).Interface().(I), true
	}
	return zero, false
}

func implements(t, it reflect.Type) bool {
	_, ok := hookOf[any](t, it)
	return ok
}
