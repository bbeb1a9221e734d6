// Package testwasm provides wazero fixtures for tests.
package testwasm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// MemoryModule is a module with no code that exports one page of growable
// memory as "memory".
var MemoryModule = []byte{
	0x00, 0x61, 0x73, 0x6d, // magic
	0x01, 0x00, 0x00, 0x00, // version
	// memory section: one memory, min 1 page, no max
	0x05, 0x03, 0x01, 0x00, 0x01,
	// export section: "memory" -> memory 0
	0x07, 0x0a, 0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
}

// Runtime returns a fresh runtime that is closed when the test ends.
func Runtime(t testing.TB) (context.Context, wazero.Runtime) {
	t.Helper()
	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	t.Cleanup(func() { _ = r.Close(ctx) })
	return ctx, r
}

// Instantiate instantiates MemoryModule under name in r.
func Instantiate(t testing.TB, ctx context.Context, r wazero.Runtime, name string) api.Module {
	t.Helper()
	mod, err := r.InstantiateWithConfig(ctx, MemoryModule, wazero.NewModuleConfig().WithName(name))
	require.NoError(t, err)
	return mod
}

// Memory returns the memory of a freshly instantiated MemoryModule.
func Memory(t testing.TB) api.Memory {
	t.Helper()
	ctx, r := Runtime(t)
	mem := Instantiate(t, ctx, r, "memory").Memory()
	require.NotNil(t, mem)
	return mem
}

// Forward is a host function a guest imports and re-exports. All parameters
// and results are i32.
type Forward struct {
	Module  string // import module
	Name    string // import name
	Export  string // name the guest exports the wrapper under
	Params  int
	Results int // 0 or 1
}

// Realloc forwards the guest's cabi_realloc to the "realloc" function of
// host module "host".
var Realloc = Forward{Module: "host", Name: "realloc", Export: "cabi_realloc", Params: 4, Results: 1}

// Guest assembles a module that exports one page of growable memory as
// "memory" and, for each forward, a function that passes its arguments
// straight to the import and returns its result.
func Guest(forwards ...Forward) []byte {
	n := len(forwards)
	var types, imports, funcs, exports, code []byte
	for i, f := range forwards {
		types = append(types, 0x60)
		types = i32s(types, f.Params)
		types = i32s(types, f.Results)

		imports = putName(imports, f.Module)
		imports = putName(imports, f.Name)
		imports = append(imports, 0x00) // func
		imports = uleb(imports, uint32(i))

		funcs = uleb(funcs, uint32(i))

		exports = putName(exports, f.Export)
		exports = append(exports, 0x00)
		exports = uleb(exports, uint32(n+i))

		body := []byte{0x00} // no locals
		for p := range f.Params {
			body = append(body, 0x20) // local.get
			body = uleb(body, uint32(p))
		}
		body = append(body, 0x10) // call
		body = uleb(body, uint32(i))
		body = append(body, 0x0b) // end
		code = uleb(code, uint32(len(body)))
		code = append(code, body...)
	}
	exports = putName(exports, "memory")
	exports = append(exports, 0x02, 0x00)

	mod := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	mod = section(mod, 1, n, types)
	mod = section(mod, 2, n, imports)
	mod = section(mod, 3, n, funcs)
	mod = section(mod, 5, 1, []byte{0x00, 0x01})
	mod = section(mod, 7, n+1, exports)
	return section(mod, 10, n, code)
}

// InstantiateGuest instantiates Guest(forwards...) under name. The modules
// it imports from must already be instantiated in r.
func InstantiateGuest(t testing.TB, ctx context.Context, r wazero.Runtime, name string, forwards ...Forward) api.Module {
	t.Helper()
	mod, err := r.InstantiateWithConfig(ctx, Guest(forwards...), wazero.NewModuleConfig().WithName(name))
	require.NoError(t, err)
	return mod
}

// ReallocFunc serves cabi_realloc for the calling module.
type ReallocFunc func(caller api.Module, ptr, oldSize, align, newSize uint32) uint32

// HostRealloc instantiates host module "host" exporting realloc, the import
// behind Realloc.
func HostRealloc(t testing.TB, ctx context.Context, r wazero.Runtime, fn ReallocFunc) {
	t.Helper()
	_, err := r.NewHostModuleBuilder(Realloc.Module).
		NewFunctionBuilder().
		WithFunc(func(_ context.Context, m api.Module, ptr, oldSize, align, newSize uint32) uint32 {
			return fn(m, ptr, oldSize, align, newSize)
		}).
		Export(Realloc.Name).
		Instantiate(ctx)
	require.NoError(t, err)
}

func section(mod []byte, id byte, count int, body []byte) []byte {
	content := append(uleb(nil, uint32(count)), body...)
	mod = append(mod, id)
	mod = uleb(mod, uint32(len(content)))
	return append(mod, content...)
}

func putName(b []byte, s string) []byte {
	b = uleb(b, uint32(len(s)))
	return append(b, s...)
}

func i32s(b []byte, n int) []byte {
	b = uleb(b, uint32(n))
	for range n {
		b = append(b, 0x7f)
	}
	return b
}

func uleb(b []byte, v uint32) []byte {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(b, c)
		}
		b = append(b, c|0x80)
	}
}
