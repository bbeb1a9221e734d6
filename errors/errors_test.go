package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "full error",
			err: &Error{
				Phase:  PhaseDerive,
				Kind:   KindUnsupported,
				Path:   []string{"Outer", "Inner", "Names"},
				GoType: "[]string",
				Detail: "use ffi.Vec",
			},
			contains: []string{"[derive]", "unsupported", "Outer.Inner.Names", "[]string", "use ffi.Vec"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseDecode,
				Kind:  KindOutOfBounds,
			},
			contains: []string{"[decode]", "out_of_bounds"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseAlloc,
				Kind:   KindAllocation,
				Detail: "memory full",
				Cause:  errors.New("underlying error"),
			},
			contains: []string{"[alloc]", "allocation", "memory full", "caused by", "underlying error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				assert.Contains(t, msg, s)
			}
		})
	}
}

func TestError_UnwrapAndIs(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(PhaseEncode, KindInvalidData, cause, "bad header")

	assert.ErrorIs(t, err, cause)
	assert.True(t, errors.Is(err, &Error{Phase: PhaseEncode, Kind: KindInvalidData}))
	assert.False(t, errors.Is(err, &Error{Phase: PhaseDecode, Kind: KindInvalidData}))

	var target *Error
	require.True(t, errors.As(err, &target))
	assert.Equal(t, "bad header", target.Detail)
}

func TestBuilder(t *testing.T) {
	err := New(PhaseVerify, KindLayoutMismatch).
		Path("defined_types[0]", "fields[1]").
		GoType("pkg.Node").
		Value(3).
		Detail("expected %s, got %s", "u32", "u64").
		Build()

	assert.Equal(t, PhaseVerify, err.Phase)
	assert.Equal(t, KindLayoutMismatch, err.Kind)
	assert.Equal(t, 3, err.Value)
	assert.Equal(t, "expected u32, got u64", err.Detail)
	assert.Contains(t, err.Error(), "defined_types[0].fields[1]")
}

func TestPrefix(t *testing.T) {
	inner := Unsupported(PhaseDerive, "map[string]int", "maps cannot cross the boundary")
	inner.Path = []string{"Table"}

	wrapped := Prefix(inner, "Outer")
	var e *Error
	require.True(t, errors.As(wrapped, &e))
	assert.Equal(t, []string{"Outer", "Table"}, e.Path)
	assert.Equal(t, []string{"Table"}, inner.Path, "original must not be mutated")

	plain := errors.New("plain")
	assert.Same(t, plain, Prefix(plain, "x"))
}

func TestConstructors(t *testing.T) {
	assert.Equal(t, KindAllocation, AllocationFailed(PhaseAlloc, 16, 8).Kind)
	assert.Contains(t, AllocationFailed(PhaseAlloc, 16, 8).Error(), "16 bytes (align 8)")
	assert.Equal(t, KindOutOfBounds, OutOfBounds(PhaseDecode, nil, 5, 2).Kind)
	assert.Equal(t, KindOutOfBounds, MemoryOutOfRange(PhaseDecode, 10, 4).Kind)
	assert.Equal(t, KindPanicked, Panicked(PhaseBoundary, "boom").Kind)
	assert.Equal(t, "boom", Panicked(PhaseBoundary, "boom").Value)
	assert.Equal(t, KindNotFound, NotFound(PhaseBoundary, "layout").Kind)
	assert.Equal(t, KindInvalidData, InvalidData(PhaseDecode, []string{"a"}, "x").Kind)
}
