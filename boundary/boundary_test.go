package boundary

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenListTeam/wazero-typeinfo/errors"
	"github.com/OpenListTeam/wazero-typeinfo/ffi"
	"github.com/OpenListTeam/wazero-typeinfo/internal/testwasm"
	"github.com/OpenListTeam/wazero-typeinfo/layout"
	"github.com/OpenListTeam/wazero-typeinfo/typeinfo"
)

type point struct {
	X, Y float32
}

type shape struct {
	Kind   uint8
	Points [4]point
	Label  ffi.Str
	Status ffi.Result[uint32, ffi.Str]
	Next   ffi.Option[ffi.Box[shape]]
}

type handler struct {
	OnShape  func(*shape, uint32) ffi.Option[ffi.Char]
	Fallback ffi.Ref[handler]
}

func newSpace(t *testing.T) (*ffi.Space, *ffi.Arena) {
	t.Helper()
	s, a, err := ffi.NewArenaSpace(testwasm.Memory(t))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, a
}

func requireNoLeaks(t *testing.T, a *ffi.Arena) {
	t.Helper()
	st := a.Stats()
	assert.Zero(t, st.Live, "live blocks")
	assert.Zero(t, st.Invalid, "invalid frees")
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		tl   typeinfo.TypeLayout
	}{
		{"primitive", typeinfo.MustLayoutOf[uint64]()},
		{"array", typeinfo.MustLayoutOf[[3]ffi.ConstPtr[ffi.Char]]()},
		{"recursive struct", typeinfo.MustLayoutOf[shape]()},
		{"function pointers", typeinfo.MustLayoutOf[handler]()},
		{"wire format", typeinfo.MustLayoutOf[Wire]()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s, a := newSpace(t)

			b, err := Encode(ctx, s, tt.tl)
			require.NoError(t, err)

			borrowed, err := Decode(s, b.Ptr())
			require.NoError(t, err)
			assert.True(t, tt.tl.Equal(borrowed), "got %s", borrowed)
			assert.Empty(t, Diff(tt.tl, borrowed))

			taken, err := Take(ctx, b)
			require.NoError(t, err)
			assert.True(t, tt.tl.Equal(taken))
			assert.Zero(t, b.Ptr())
			requireNoLeaks(t, a)
		})
	}
}

func TestEncodeRejectsInvalidLayout(t *testing.T) {
	s, a := newSpace(t)
	_, err := Encode(context.Background(), s, typeinfo.TypeLayout{Layout: layout.Defined(2)})
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseVerify, Kind: errors.KindOutOfBounds})
	requireNoLeaks(t, a)
}

func TestEncodeReleasesOnAllocationFailure(t *testing.T) {
	ctx := context.Background()
	mem := testwasm.Memory(t)
	arena := ffi.NewArena(mem, ffi.WithArenaMaxPages(1))
	alloc, counter := ffi.Counted(arena.Allocator())
	s, err := ffi.NewSpace(mem, alloc)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	// Nest pointers until the graph no longer fits in one page.
	l := layout.Prim(layout.U8)
	for range 2000 {
		l = layout.Const(l)
	}
	_, err = Encode(ctx, s, typeinfo.TypeLayout{Layout: l})
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseAlloc, Kind: errors.KindAllocation})
	assert.Zero(t, counter.Live())
	assert.Zero(t, arena.Stats().Live)
}

func TestDecodeRejectsDeepNesting(t *testing.T) {
	ctx := context.Background()
	s, _ := newSpace(t)
	l := layout.Prim(layout.Bool)
	for range MaxDepth + 1 {
		l = layout.Mut(l)
	}
	b, err := Encode(ctx, s, typeinfo.TypeLayout{Layout: l})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Release(ctx) })

	_, err = Decode(s, b.Ptr())
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindInvalidData})
	assert.ErrorContains(t, err, "deeper than")
}

func TestDecodeRejectsForeignSpace(t *testing.T) {
	ctx := context.Background()
	mem := testwasm.Memory(t)
	home, _, err := ffi.NewArenaSpace(mem)
	require.NoError(t, err)
	t.Cleanup(home.Close)
	other, err := ffi.NewSpace(mem, home.Allocator())
	require.NoError(t, err)
	t.Cleanup(other.Close)

	b, err := Encode(ctx, home, typeinfo.MustLayoutOf[point]())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Release(ctx) })

	_, err = Decode(other, b.Ptr())
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindInvalidData})
	assert.ErrorContains(t, err, "belongs to space")
}

func TestDecodeRejectsBadTag(t *testing.T) {
	ctx := context.Background()
	s, _ := newSpace(t)
	b, err := ffi.NewBox(ctx, s, Wire{Root: WireLayout{Tag: 200}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Release(ctx) })

	_, err = Decode(s, b.Ptr())
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindInvalidTag})

	_, err = Decode(s, 0)
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindNilPointer})
}

func TestDecodeRejectsDanglingID(t *testing.T) {
	ctx := context.Background()
	s, _ := newSpace(t)
	b, err := ffi.NewBox(ctx, s, Wire{Root: WireLayout{Tag: uint8(layout.DefinedRef), ID: 3}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Release(ctx) })

	_, err = Decode(s, b.Ptr())
	assert.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseDecode, Kind: errors.KindInvalidData})
	assert.ErrorContains(t, err, "inconsistent")
}

func TestTakeRefusesForeignContainers(t *testing.T) {
	ctx := context.Background()
	home, homeArena := newSpace(t)
	victim, victimArena := newSpace(t)

	stolen, err := ffi.NewBox(ctx, victim, WireLayout{Tag: uint8(layout.U8)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = stolen.Release(ctx) })

	b, err := ffi.NewBox(ctx, home, Wire{Root: WireLayout{
		Tag:  uint8(layout.ConstPtr),
		Elem: ffi.Some(*stolen),
	}})
	require.NoError(t, err)

	_, err = Take(ctx, b)
	assert.ErrorContains(t, err, "belongs to space")
	assert.NotZero(t, b.Ptr())
	assert.Equal(t, uint64(1), victimArena.Stats().Live)
	assert.Zero(t, victimArena.Stats().Frees)

	_, err = b.IntoNative(ctx)
	require.NoError(t, err)
	requireNoLeaks(t, homeArena)
}

func TestReleaseOwnedRejectsAliasing(t *testing.T) {
	ctx := context.Background()
	s, a := newSpace(t)

	name, err := ffi.NewStr(ctx, s, "twice")
	require.NoError(t, err)
	types, err := ffi.NewVec(ctx, s, []WireType{{Name: *name}, {Name: *name}})
	require.NoError(t, err)
	b, err := ffi.NewBox(ctx, s, Wire{Types: *types})
	require.NoError(t, err)

	err = ffi.ReleaseOwned(ctx, s, b)
	assert.ErrorContains(t, err, "owned twice")
	assert.NotZero(t, b.Ptr())
	assert.Equal(t, uint64(3), a.Stats().Live)

	w, err := b.IntoNative(ctx)
	require.NoError(t, err)
	_, err = w.Types.IntoNative(ctx)
	require.NoError(t, err)
	require.NoError(t, name.Release(ctx))
	requireNoLeaks(t, a)
}
