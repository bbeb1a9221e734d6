package layout

import "fmt"

// TypeUid identifies a nominal type during derivation. Two uids are the same
// type only when all four fields match.
type TypeUid struct {
	Path   string
	File   string
	Line   uint32
	Column uint32
}

// HasPosition reports whether the uid carries a declared source position.
func (u TypeUid) HasPosition() bool {
	return u.File != "" || u.Line != 0 || u.Column != 0
}

func (u TypeUid) String() string {
	if !u.HasPosition() {
		return u.Path
	}
	return fmt.Sprintf("%s@%s:%d:%d", u.Path, u.File, u.Line, u.Column)
}

// Entry is a catalog slot keyed by the identity of the type it describes.
type Entry struct {
	UID  TypeUid
	Type DefinedType
}

// DefinedTypes is the catalog threaded through one derivation. Entries are
// only ever appended, except that a reserved placeholder gets its body
// written once by Backfill.
type DefinedTypes []Entry

// Lookup returns the index of the entry with the given uid.
func (d DefinedTypes) Lookup(uid TypeUid) (int, bool) {
	for i := range d {
		if d[i].UID == uid {
			return i, true
		}
	}
	return 0, false
}

// Reserve appends a placeholder entry for uid and returns the grown catalog
// together with the index of the new entry. The placeholder body is a unit
// struct until Backfill replaces it.
func (d DefinedTypes) Reserve(uid TypeUid, name string) (DefinedTypes, int) {
	id := len(d)
	return append(d, Entry{UID: uid, Type: DefinedType{Name: name, Type: UnitStruct()}}), id
}

// Backfill writes the final body of the entry at id.
func (d DefinedTypes) Backfill(id int, body TypeType) {
	d[id].Type.Type = body
}

// Strip drops the identity keys, leaving the positional catalog.
func (d DefinedTypes) Strip() []DefinedType {
	out := make([]DefinedType, len(d))
	for i, e := range d {
		out[i] = e.Type
	}
	return out
}

// FullLayout is the result of one derivation step: the layout of a type and
// the catalog as it stands after deriving it.
type FullLayout struct {
	Layout       Layout
	DefinedTypes DefinedTypes
}
