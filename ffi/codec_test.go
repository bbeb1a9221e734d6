package ffi

import (
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenListTeam/wazero-typeinfo/errors"
)

type padded struct {
	A uint8
	B uint32
	C uint16
}

type nested struct {
	P     padded
	Flags [3]bool
	F     float32
	D     float64
	I     int64
	N     int8
	Opt   Option[int16]
	Pair  Tuple2[uint8, uint64]
	Ch    Char
	Unit  Void
	_     [2]byte
	Tail  uint8
	Arr   [2]Tuple2[int32, bool]
	Empty struct{}
}

type withString struct {
	Name string
}

type withHidden struct {
	visible uint32
}

func TestCodecLayouts(t *testing.T) {
	tests := []struct {
		name string
		got  func() (MemLayout, error)
		want MemLayout
	}{
		{"u8", layoutOf[uint8], MemLayout{Size: 1, Align: 1}},
		{"int64", layoutOf[int64], MemLayout{Size: 8, Align: 8}},
		{"float32", layoutOf[float32], MemLayout{Size: 4, Align: 4}},
		{"padded", layoutOf[padded], MemLayout{Size: 12, Align: 4}},
		{"array", layoutOf[[3]padded], MemLayout{Size: 36, Align: 4}},
		{"void", layoutOf[Void], MemLayout{Size: 0, Align: 1}},
		{"char", layoutOf[Char], MemLayout{Size: 4, Align: 4}},
		{"option u8", layoutOf[Option[uint8]], MemLayout{Size: 2, Align: 1}},
		{"option u32", layoutOf[Option[uint32]], MemLayout{Size: 8, Align: 4}},
		{"option void", layoutOf[Option[Void]], MemLayout{Size: 1, Align: 1}},
		{"result", layoutOf[Result[uint16, uint64]], MemLayout{Size: 16, Align: 8}},
		{"tuple", layoutOf[Tuple2[uint8, uint32]], MemLayout{Size: 8, Align: 4}},
		{"box", layoutOf[Box[padded]], MemLayout{Size: 8, Align: 4}},
		{"vec", layoutOf[Vec[padded]], MemLayout{Size: 16, Align: 4}},
		{"str", layoutOf[Str], MemLayout{Size: 12, Align: 4}},
		{"slice", layoutOf[Slice[uint8]], MemLayout{Size: 12, Align: 4}},
		{"ref", layoutOf[Ref[uint8]], MemLayout{Size: 8, Align: 4}},
		{"ptr", layoutOf[ConstPtr[uint64]], MemLayout{Size: 4, Align: 4}},
		{"maybe panicked", layoutOf[MaybePanicked[uint32]], MemLayout{Size: 8, Align: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.got()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func layoutOf[T any]() (MemLayout, error) {
	c, err := CodecFor[T]()
	if err != nil {
		return MemLayout{}, err
	}
	return c.Layout(), nil
}

func TestCodecPaddedEncoding(t *testing.T) {
	c, err := CodecFor[padded]()
	require.NoError(t, err)

	buf := make([]byte, 12)
	for i := range buf {
		buf[i] = 0xff
	}
	require.NoError(t, c.Encode(buf, padded{A: 1, B: 0x04030201, C: 0x0605}))
	assert.Equal(t, []byte{1, 0, 0, 0, 1, 2, 3, 4, 5, 6, 0, 0}, buf)
}

func TestCodecRoundTrip(t *testing.T) {
	c, err := CodecFor[nested]()
	require.NoError(t, err)

	in := nested{
		P:     padded{A: 7, B: 1 << 30, C: 65535},
		Flags: [3]bool{true, false, true},
		F:     1.5,
		D:     -2.25,
		I:     -1 << 40,
		N:     -5,
		Opt:   Some[int16](-300),
		Pair:  Pair[uint8, uint64](3, 1<<63),
		Ch:    'é',
		Tail:  9,
		Arr:   [2]Tuple2[int32, bool]{Pair(int32(-1), true), Pair(int32(2), false)},
	}
	buf := make([]byte, c.Layout().Size)
	require.NoError(t, c.Encode(buf, in))
	out, err := c.Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCodecZeroBytesDecodeToZeroValue(t *testing.T) {
	c, err := CodecFor[nested]()
	require.NoError(t, err)

	out, err := c.Decode(make([]byte, c.Layout().Size))
	require.NoError(t, err)
	assert.Equal(t, nested{}, out)
}

func TestCodecRejects(t *testing.T) {
	_, err := CodecFor[withString]()
	require.Error(t, err)
	var e *errors.Error
	require.True(t, stderrors.As(err, &e))
	assert.Equal(t, errors.KindUnsupported, e.Kind)
	assert.Equal(t, []string{"Name"}, e.Path)

	_, err = CodecFor[withHidden]()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexported field visible")

	_, err = CodecFor[*uint32]()
	require.Error(t, err)

	_, err = CodecFor[Option[[]byte]]()
	require.Error(t, err)

	for _, get := range []func() (MemLayout, error){layoutOf[int], layoutOf[uint], layoutOf[uintptr], layoutOf[Tuple2[uint8, int]]} {
		_, err = get()
		assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseEncode, Kind: errors.KindUnsupported})
		assert.ErrorContains(t, err, "fixed-width")
	}
}

func TestCodecInvalidData(t *testing.T) {
	b, err := CodecFor[bool]()
	require.NoError(t, err)
	_, err = b.Decode([]byte{2})
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindInvalidData})

	o, err := CodecFor[Option[uint32]]()
	require.NoError(t, err)
	_, err = o.Decode([]byte{7, 0, 0, 0, 0, 0, 0, 0})
	assert.ErrorContains(t, err, "invalid Option tag 7")

	_, err = o.Decode([]byte{1})
	assert.ErrorContains(t, err, "too short")
}

func TestCodecSumPayloadIsCleared(t *testing.T) {
	c, err := CodecFor[Result[uint32, uint32]]()
	require.NoError(t, err)

	buf := make([]byte, 8)
	require.NoError(t, c.Encode(buf, Success[uint32, uint32](0xdeadbeef)))
	assert.Equal(t, []byte{0, 0, 0, 0, 0xef, 0xbe, 0xad, 0xde}, buf)

	require.NoError(t, c.Encode(buf, Failure[uint32](uint32(1))))
	assert.Equal(t, []byte{1, 0, 0, 0, 1, 0, 0, 0}, buf)

	r, err := c.Decode(buf)
	require.NoError(t, err)
	v, e, failed := r.Get()
	assert.True(t, failed)
	assert.Zero(t, v)
	assert.Equal(t, uint32(1), e)
}

func TestCodecStoreLoad(t *testing.T) {
	s, _ := newSpace(t)
	c, err := CodecFor[padded]()
	require.NoError(t, err)

	require.NoError(t, c.Store(s.Memory(), 64, padded{A: 1, B: 2, C: 3}))
	got, err := c.Load(s.Memory(), 64)
	require.NoError(t, err)
	assert.Equal(t, padded{A: 1, B: 2, C: 3}, got)

	_, err = c.Load(s.Memory(), s.Memory().Size()-4)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindOutOfBounds})
	err = c.Store(s.Memory(), s.Memory().Size(), padded{})
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseEncode, Kind: errors.KindOutOfBounds})
}

func TestBufferPool(t *testing.T) {
	p := NewBufferPool()
	buf := p.Get(100)
	assert.Len(t, buf, 100)
	assert.Equal(t, 1024, cap(buf))
	p.Put(buf)

	big := p.Get(4 << 20)
	assert.Len(t, big, 4<<20)
	p.Put(big)
}
