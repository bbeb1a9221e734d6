package ffi

import (
	"reflect"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenListTeam/wazero-typeinfo/layout"
	"github.com/OpenListTeam/wazero-typeinfo/typeinfo"
)

const pkg = "github.com/OpenListTeam/wazero-typeinfo/ffi."

var (
	u8  = layout.Prim(layout.U8)
	f64 = layout.Prim(layout.F64)
)

func TestContainerLayouts(t *testing.T) {
	tests := []struct {
		name  string
		got   func() (typeinfo.TypeLayout, error)
		entry string
		body  layout.TypeType
	}{
		{
			name:  "box",
			got:   typeinfo.LayoutOf[Box[uint32]],
			entry: pkg + "Box[uint32]",
			body: layout.NamedStruct(
				layout.Field("ptr", layout.NonNull(u32)),
				layout.Field("space", u32),
			),
		},
		{
			name:  "vec",
			got:   typeinfo.LayoutOf[Vec[float64]],
			entry: pkg + "Vec[float64]",
			body: layout.NamedStruct(
				layout.Field("ptr", layout.Mut(f64)),
				layout.Field("len", u32),
				layout.Field("cap", u32),
				layout.Field("space", u32),
			),
		},
		{
			name:  "str",
			got:   typeinfo.LayoutOf[Str],
			entry: pkg + "Str",
			body: layout.NamedStruct(
				layout.Field("ptr", layout.Const(u8)),
				layout.Field("len", u32),
				layout.Field("space", u32),
			),
		},
		{
			name:  "mut slice",
			got:   typeinfo.LayoutOf[MutSlice[uint8]],
			entry: pkg + "MutSlice[uint8]",
			body: layout.NamedStruct(
				layout.Field("ptr", layout.Mut(u8)),
				layout.Field("len", u32),
				layout.Field("space", u32),
			),
		},
		{
			name:  "option",
			got:   typeinfo.LayoutOf[Option[uint8]],
			entry: pkg + "Option[uint8]",
			body: layout.EnumOf("u8",
				layout.EnumVariant{Name: "None", Shape: layout.ShapeUnit, Discriminant: 0},
				layout.EnumVariant{Name: "Some", Shape: layout.ShapeTuple, Elems: []layout.Layout{u8}, Discriminant: 1},
			),
		},
		{
			name:  "result",
			got:   typeinfo.LayoutOf[Result[uint8, float64]],
			entry: pkg + "Result[uint8,float64]",
			body: layout.EnumOf("u8",
				layout.EnumVariant{Name: "Ok", Shape: layout.ShapeTuple, Elems: []layout.Layout{u8}, Discriminant: 0},
				layout.EnumVariant{Name: "Err", Shape: layout.ShapeTuple, Elems: []layout.Layout{f64}, Discriminant: 1},
			),
		},
		{
			name:  "maybe panicked",
			got:   typeinfo.LayoutOf[MaybePanicked[uint32]],
			entry: pkg + "MaybePanicked[uint32]",
			body: layout.EnumOf("C",
				layout.EnumVariant{Name: "Ok", Shape: layout.ShapeTuple, Elems: []layout.Layout{u32}, Discriminant: 0},
				layout.EnumVariant{Name: "Panicked", Shape: layout.ShapeUnit, Discriminant: 1},
			),
		},
		{
			name:  "tuple",
			got:   typeinfo.LayoutOf[Tuple2[uint8, float64]],
			entry: pkg + "Tuple2[uint8,float64]",
			body:  layout.TupleStruct(u8, f64),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl, err := tt.got()
			require.NoError(t, err)
			require.Len(t, tl.DefinedTypes, 1)
			assert.True(t, tl.Layout.Equal(layout.Defined(0)))
			assert.Equal(t, tt.entry, tl.DefinedTypes[0].Name)
			assert.True(t, tl.DefinedTypes[0].Type.Equal(tt.body), "got %s", tl.DefinedTypes[0])
			require.NoError(t, tl.Validate())
		})
	}
}

func TestPointerLayouts(t *testing.T) {
	tests := []struct {
		name string
		got  func() (typeinfo.TypeLayout, error)
		want layout.Layout
	}{
		{"const", typeinfo.LayoutOf[ConstPtr[uint8]], layout.Const(u8)},
		{"mut", typeinfo.LayoutOf[MutPtr[uint8]], layout.Mut(u8)},
		{"nonnull", typeinfo.LayoutOf[NonNull[uint8]], layout.NonNull(u8)},
		{"ref", typeinfo.LayoutOf[Ref[uint8]], layout.SharedRef(u8, 0)},
		{"ref mut", typeinfo.LayoutOf[RefMut[uint8]], layout.ExclusiveRef(u8, 0)},
		{"char", typeinfo.LayoutOf[Char], layout.Prim(layout.Char)},
		{"void", typeinfo.LayoutOf[Void], layout.Prim(layout.Void)},
		{"nested", typeinfo.LayoutOf[ConstPtr[Ref[Char]]], layout.Const(layout.SharedRef(layout.Prim(layout.Char), 0))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl, err := tt.got()
			require.NoError(t, err)
			assert.Empty(t, tl.DefinedTypes)
			assert.True(t, tl.Layout.Equal(tt.want), "got %s", tl.Layout)
		})
	}
}

func TestRecursiveContainerLayout(t *testing.T) {
	tl, err := typeinfo.LayoutOf[listNode]()
	require.NoError(t, err)
	require.NoError(t, tl.Validate())

	names := make([]string, len(tl.DefinedTypes))
	for i, d := range tl.DefinedTypes {
		names[i] = d.Name
	}
	require.Len(t, names, 4, "%v", names)
	assert.Equal(t, pkg+"listNode", names[0])
	assert.Equal(t, pkg+"Str", names[1])
	assert.True(t, strings.HasPrefix(names[2], pkg+"Option["))
	assert.True(t, strings.HasPrefix(names[3], pkg+"Box["))

	// The box points back at the node through the catalog.
	box := tl.DefinedTypes[3].Type
	assert.True(t, box.Fields[0].Layout.Equal(layout.NonNull(layout.Defined(0))))

	again, err := typeinfo.Compute(reflect.TypeFor[listNode]())
	require.NoError(t, err)
	assert.True(t, tl.Equal(again))
}

func TestRecordLayoutRendering(t *testing.T) {
	tl, err := typeinfo.LayoutOf[record]()
	require.NoError(t, err)
	out := tl.String()
	assert.Contains(t, out, "Name: #1")
	assert.Contains(t, out, "enum "+pkg+"Option[")
}
