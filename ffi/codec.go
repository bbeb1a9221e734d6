package ffi

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"sync"

	"github.com/tetratelabs/wazero/api"

	"github.com/OpenListTeam/wazero-typeinfo/errors"
)

// memValue is implemented by the container types, which encode their own
// fixed-size representation.
type memValue interface {
	memLayout() (MemLayout, error)
	encode(buf []byte) error
	decode(buf []byte) error
}

var memValueType = reflect.TypeFor[memValue]()

type codecKind uint8

const (
	codecBool codecKind = iota
	codecInt
	codecUint
	codecFloat
	codecArray
	codecStruct
	codecCustom
)

// codec is the memory representation of one Go type. Struct fields are laid
// out in declaration order at their natural alignment, and a value whose
// bytes are all zero decodes to the Go zero value.
type codec struct {
	typ    reflect.Type
	kind   codecKind
	layout MemLayout
	elem   *codec
	fields []fieldCodec
}

type fieldCodec struct {
	name   string
	index  int
	offset uint32
	codec  *codec
	blank  bool
}

var codecCache = sync.Map{}

func codecFor(t reflect.Type) (*codec, error) {
	if c, ok := codecCache.Load(t); ok {
		return c.(*codec), nil
	}
	c, err := buildCodec(t)
	if err != nil {
		return nil, err
	}
	actual, _ := codecCache.LoadOrStore(t, c)
	return actual.(*codec), nil
}

func scalar(t reflect.Type, kind codecKind, size uint32) *codec {
	return &codec{typ: t, kind: kind, layout: MemLayout{Size: size, Align: size}}
}

func buildCodec(t reflect.Type) (*codec, error) {
	if reflect.PointerTo(t).Implements(memValueType) {
		l, err := reflect.New(t).Interface().(memValue).memLayout()
		if err != nil {
			return nil, err
		}
		return &codec{typ: t, kind: codecCustom, layout: l}, nil
	}

	switch t.Kind() {
	case reflect.Bool:
		return scalar(t, codecBool, 1), nil
	case reflect.Int8:
		return scalar(t, codecInt, 1), nil
	case reflect.Int16:
		return scalar(t, codecInt, 2), nil
	case reflect.Int32:
		return scalar(t, codecInt, 4), nil
	case reflect.Int64:
		return scalar(t, codecInt, 8), nil
	case reflect.Uint8:
		return scalar(t, codecUint, 1), nil
	case reflect.Uint16:
		return scalar(t, codecUint, 2), nil
	case reflect.Uint32:
		return scalar(t, codecUint, 4), nil
	case reflect.Uint64:
		return scalar(t, codecUint, 8), nil
	case reflect.Int, reflect.Uint, reflect.Uintptr:
		// isize and usize are 4 bytes in a wasm32 guest and 8 on the host.
		return nil, errors.Unsupported(errors.PhaseEncode, t.String(),
			"platform-sized integer; use a fixed-width type such as int32 or uint64")
	case reflect.Float32:
		return scalar(t, codecFloat, 4), nil
	case reflect.Float64:
		return scalar(t, codecFloat, 8), nil
	case reflect.Array:
		return buildArrayCodec(t)
	case reflect.Struct:
		return buildStructCodec(t)
	}
	return nil, errors.Unsupported(errors.PhaseEncode, t.String(), "type has no fixed memory representation")
}

func buildArrayCodec(t reflect.Type) (*codec, error) {
	elem, err := codecFor(t.Elem())
	if err != nil {
		return nil, err
	}
	return &codec{
		typ:    t,
		kind:   codecArray,
		elem:   elem,
		layout: MemLayout{Size: elem.layout.Size * uint32(t.Len()), Align: elem.layout.Align},
	}, nil
}

func buildStructCodec(t reflect.Type) (*codec, error) {
	var fields []fieldCodec
	var currentOffset uint32 = 0
	var maxAlignment uint32 = 1

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		blank := field.Name == "_"
		if !field.IsExported() && !blank {
			return nil, errors.Unsupported(errors.PhaseEncode, t.String(), "unexported field "+field.Name)
		}
		fc, err := codecFor(field.Type)
		if err != nil {
			return nil, errors.Prefix(err, field.Name)
		}

		currentOffset = alignUp(currentOffset, fc.layout.Align)
		fields = append(fields, fieldCodec{
			name:   field.Name,
			index:  i,
			offset: currentOffset,
			codec:  fc,
			blank:  blank,
		})
		currentOffset += fc.layout.Size
		maxAlignment = max(maxAlignment, fc.layout.Align)
	}

	return &codec{
		typ:    t,
		kind:   codecStruct,
		fields: fields,
		layout: MemLayout{Size: alignUp(currentOffset, maxAlignment), Align: maxAlignment},
	}, nil
}

func putUint(buf []byte, size uint32, v uint64) {
	switch size {
	case 1:
		buf[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(v))
	default:
		binary.LittleEndian.PutUint64(buf, v)
	}
}

func getUint(buf []byte, size uint32) uint64 {
	switch size {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf))
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf))
	default:
		return binary.LittleEndian.Uint64(buf)
	}
}

func getInt(buf []byte, size uint32) int64 {
	switch size {
	case 1:
		return int64(int8(buf[0]))
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(buf)))
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(buf)))
	default:
		return int64(binary.LittleEndian.Uint64(buf))
	}
}

// encode writes v into buf, which must hold at least c.layout.Size bytes and
// be zeroed beforehand.
func (c *codec) encode(buf []byte, v reflect.Value) error {
	switch c.kind {
	case codecBool:
		if v.Bool() {
			buf[0] = 1
		}
	case codecInt:
		putUint(buf, c.layout.Size, uint64(v.Int()))
	case codecUint:
		putUint(buf, c.layout.Size, v.Uint())
	case codecFloat:
		if c.layout.Size == 4 {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v.Float())))
		} else {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(v.Float()))
		}
	case codecArray:
		stride := c.elem.layout.Size
		for i := 0; i < v.Len(); i++ {
			if err := c.elem.encode(buf[uint32(i)*stride:], v.Index(i)); err != nil {
				return errors.Prefix(err, "["+strconv.Itoa(i)+"]")
			}
		}
	case codecStruct:
		for _, f := range c.fields {
			if f.blank {
				continue
			}
			if err := f.codec.encode(buf[f.offset:], v.Field(f.index)); err != nil {
				return errors.Prefix(err, f.name)
			}
		}
	case codecCustom:
		return addressable(v).Interface().(memValue).encode(buf)
	}
	return nil
}

// decode reads buf into v, which must be settable.
func (c *codec) decode(buf []byte, v reflect.Value) error {
	switch c.kind {
	case codecBool:
		switch buf[0] {
		case 0:
			v.SetBool(false)
		case 1:
			v.SetBool(true)
		default:
			return errors.InvalidData(errors.PhaseDecode, nil, fmt.Sprintf("invalid bool byte %d", buf[0]))
		}
	case codecInt:
		v.SetInt(getInt(buf, c.layout.Size))
	case codecUint:
		v.SetUint(getUint(buf, c.layout.Size))
	case codecFloat:
		if c.layout.Size == 4 {
			v.SetFloat(float64(math.Float32frombits(binary.LittleEndian.Uint32(buf))))
		} else {
			v.SetFloat(math.Float64frombits(binary.LittleEndian.Uint64(buf)))
		}
	case codecArray:
		stride := c.elem.layout.Size
		for i := 0; i < v.Len(); i++ {
			if err := c.elem.decode(buf[uint32(i)*stride:], v.Index(i)); err != nil {
				return errors.Prefix(err, "["+strconv.Itoa(i)+"]")
			}
		}
	case codecStruct:
		for _, f := range c.fields {
			if f.blank {
				continue
			}
			if err := f.codec.decode(buf[f.offset:], v.Field(f.index)); err != nil {
				return errors.Prefix(err, f.name)
			}
		}
	case codecCustom:
		if v.CanAddr() {
			return v.Addr().Interface().(memValue).decode(buf)
		}
		p := reflect.New(c.typ)
		if err := p.Interface().(memValue).decode(buf); err != nil {
			return err
		}
		v.Set(p.Elem())
	}
	return nil
}

func addressable(v reflect.Value) reflect.Value {
	if v.CanAddr() {
		return v.Addr()
	}
	p := reflect.New(v.Type())
	p.Elem().Set(v)
	return p
}

// Codec reads and writes values of T in linear memory.
type Codec[T any] struct {
	c *codec
}

// CodecFor returns the codec of T. It fails for types without a fixed
// memory representation, such as Go strings, slices, maps and pointers.
func CodecFor[T any]() (Codec[T], error) {
	c, err := codecFor(reflect.TypeFor[T]())
	if err != nil {
		return Codec[T]{}, err
	}
	return Codec[T]{c: c}, nil
}

// Layout returns the size and alignment of T in memory.
func (c Codec[T]) Layout() MemLayout {
	return c.c.layout
}

// Encode writes v into the first Layout().Size bytes of buf.
func (c Codec[T]) Encode(buf []byte, v T) error {
	buf = buf[:c.c.layout.Size]
	clear(buf)
	return c.c.encode(buf, reflect.ValueOf(&v).Elem())
}

// Decode reads a value from the first Layout().Size bytes of buf.
func (c Codec[T]) Decode(buf []byte) (T, error) {
	var v T
	if uint32(len(buf)) < c.c.layout.Size {
		return v, errors.InvalidData(errors.PhaseDecode, nil,
			fmt.Sprintf("%d bytes is too short for %s", len(buf), c.c.typ))
	}
	err := c.c.decode(buf, reflect.ValueOf(&v).Elem())
	return v, err
}

// Store writes v at ptr.
func (c Codec[T]) Store(mem api.Memory, ptr uint32, v T) error {
	size := c.c.layout.Size
	if size == 0 {
		return nil
	}
	buf := GetBuffer(int(size))
	defer PutBuffer(buf)
	if err := c.Encode(buf, v); err != nil {
		return err
	}
	if !mem.Write(ptr, buf) {
		return errors.MemoryOutOfRange(errors.PhaseEncode, ptr, size)
	}
	return nil
}

// Load reads a value at ptr.
func (c Codec[T]) Load(mem api.Memory, ptr uint32) (T, error) {
	size := c.c.layout.Size
	if size == 0 {
		return c.Decode(nil)
	}
	data, ok := mem.Read(ptr, size)
	if !ok {
		var zero T
		return zero, errors.MemoryOutOfRange(errors.PhaseDecode, ptr, size)
	}
	return c.Decode(data)
}

// sum is the memory shape shared by the tagged containers: a one-byte tag
// followed by the largest payload at the payloads' common alignment.
type sum struct {
	off    uint32
	layout MemLayout
	cases  []*codec
}

func sumOf(types ...reflect.Type) (*sum, error) {
	s := &sum{}
	var maxSize, maxAlign uint32 = 0, 1
	for _, t := range types {
		c, err := codecFor(t)
		if err != nil {
			return nil, err
		}
		maxSize = max(maxSize, c.layout.Size)
		maxAlign = max(maxAlign, c.layout.Align)
		s.cases = append(s.cases, c)
	}
	s.off = alignUp(1, maxAlign)
	s.layout = MemLayout{Size: alignUp(s.off+maxSize, maxAlign), Align: maxAlign}
	return s, nil
}

// encode writes tag and, when i is not negative, payload case i.
func (s *sum) encode(buf []byte, tag uint8, i int, v reflect.Value) error {
	buf[0] = tag
	clear(buf[1:s.layout.Size])
	if i < 0 {
		return nil
	}
	return s.cases[i].encode(buf[s.off:], v)
}

func (s *sum) decode(buf []byte, i int, v reflect.Value) error {
	return s.cases[i].decode(buf[s.off:], v)
}

func invalidTag(name string, tag byte) error {
	return errors.InvalidData(errors.PhaseDecode, nil, fmt.Sprintf("invalid %s tag %d", name, tag))
}

func invalidHeader(name, detail string) error {
	return errors.InvalidData(errors.PhaseDecode, nil, name+" header: "+detail)
}
