package layout

import (
	"strconv"
	"strings"
)

func (l Layout) String() string {
	var b strings.Builder
	l.write(&b)
	return b.String()
}

func (l Layout) write(b *strings.Builder) {
	switch l.Kind {
	case ConstPtr:
		b.WriteString("*const ")
		writeElem(b, l.Elem)
	case MutPtr:
		b.WriteString("*mut ")
		writeElem(b, l.Elem)
	case NonNullPtr:
		b.WriteString("nonnull ")
		writeElem(b, l.Elem)
	case Ref, MutRef:
		b.WriteString("&'")
		b.WriteString(strconv.FormatUint(uint64(l.Lifetime), 10))
		b.WriteByte(' ')
		if l.Kind == MutRef {
			b.WriteString("mut ")
		}
		writeElem(b, l.Elem)
	case Array:
		b.WriteByte('[')
		b.WriteString(strconv.FormatUint(l.Len, 10))
		b.WriteByte(']')
		writeElem(b, l.Elem)
	case FuncPtr:
		if l.Func == nil {
			b.WriteString("func?")
			return
		}
		if l.Func.Unsafe {
			b.WriteString("unsafe ")
		}
		b.WriteString("func ")
		b.WriteString(strconv.Quote(l.Func.ABI))
		b.WriteByte('(')
		for i, p := range l.Func.Params {
			if i > 0 {
				b.WriteString(", ")
			}
			p.write(b)
		}
		b.WriteByte(')')
		if l.Func.Return.Kind != Void {
			b.WriteByte(' ')
			l.Func.Return.write(b)
		}
	case DefinedRef:
		b.WriteByte('#')
		b.WriteString(strconv.Itoa(l.ID))
	default:
		b.WriteString(l.Kind.String())
	}
}

func writeElem(b *strings.Builder, e *Layout) {
	if e == nil {
		b.WriteByte('?')
		return
	}
	e.write(b)
}

func (d DefinedType) String() string {
	var b strings.Builder
	b.WriteString(d.Type.Kind.String())
	b.WriteByte(' ')
	b.WriteString(d.Name)
	if d.Type.Repr != "" {
		b.WriteString(" repr(")
		b.WriteString(d.Type.Repr)
		b.WriteByte(')')
	}
	switch d.Type.Kind {
	case StructNamed, Union:
		writeFields(&b, d.Type.Fields)
	case StructUnnamed:
		writeElems(&b, d.Type.Elems)
	case Enum:
		b.WriteString(" {")
		for i, v := range d.Type.Variants {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteByte(' ')
			b.WriteString(v.Name)
			switch v.Shape {
			case ShapeTuple:
				writeElems(&b, v.Elems)
			case ShapeStruct:
				writeFields(&b, v.Fields)
			}
			b.WriteString(" = ")
			b.WriteString(strconv.FormatInt(v.Discriminant, 10))
		}
		b.WriteString(" }")
	}
	return b.String()
}

func writeFields(b *strings.Builder, fs []NamedField) {
	b.WriteString(" {")
	for i, f := range fs {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte(' ')
		b.WriteString(f.Name)
		b.WriteString(": ")
		f.Layout.write(b)
	}
	b.WriteString(" }")
}

func writeElems(b *strings.Builder, es []Layout) {
	b.WriteByte('(')
	for i, e := range es {
		if i > 0 {
			b.WriteString(", ")
		}
		e.write(b)
	}
	b.WriteByte(')')
}
