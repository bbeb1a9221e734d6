package boundary

import (
	"context"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/OpenListTeam/wazero-typeinfo/errors"
	"github.com/OpenListTeam/wazero-typeinfo/ffi"
)

// DefaultModuleName is the import module the host functions are exported under.
const DefaultModuleName = "typeinfo"

// Exporter exports the registry to guests as host functions:
//
//	layout_of(name_ptr, name_len i32) i32
//	verify(name_ptr, name_len, layout_ptr i32) i32
//	release_layout(layout_ptr i32)
//
// layout_of encodes a registered layout into the guest's space and returns
// the Wire pointer, which the guest then owns. verify decodes a Wire the
// guest built and returns 1 when it matches the registered layout. Both
// return 0 on any failure, including a panic, instead of trapping.
type Exporter struct {
	registry   *Registry
	moduleName string
	space      *ffi.Space

	mu     sync.Mutex
	spaces map[api.Module]*ffi.Space
}

// ExporterOption configures an Exporter.
type ExporterOption func(*Exporter)

// WithModuleName sets the import module name.
func WithModuleName(name string) ExporterOption {
	return func(e *Exporter) {
		e.moduleName = name
	}
}

// WithSpace makes every call use s. Without it, each calling module gets a
// space over its own memory, allocating through its cabi_realloc export.
// Spaces of closed modules are dropped when the next new module calls in.
func WithSpace(s *ffi.Space) ExporterOption {
	return func(e *Exporter) {
		e.space = s
	}
}

// NewExporter creates an Exporter serving r.
func NewExporter(r *Registry, opts ...ExporterOption) *Exporter {
	e := &Exporter{
		registry:   r,
		moduleName: DefaultModuleName,
		spaces:     make(map[api.Module]*ffi.Space),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ModuleName returns the import module name.
func (e *Exporter) ModuleName() string { return e.moduleName }

// Export adds the host functions to builder.
func (e *Exporter) Export(builder wazero.HostModuleBuilder) wazero.HostModuleBuilder {
	return builder.
		NewFunctionBuilder().WithFunc(e.layoutOf).Export("layout_of").
		NewFunctionBuilder().WithFunc(e.verify).Export("verify").
		NewFunctionBuilder().WithFunc(e.releaseLayout).Export("release_layout")
}

// Instantiate builds and instantiates the host module in r.
func (e *Exporter) Instantiate(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	return e.Export(r.NewHostModuleBuilder(e.moduleName)).Instantiate(ctx)
}

// Close unregisters the spaces created for calling modules.
func (e *Exporter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for m, s := range e.spaces {
		s.Close()
		delete(e.spaces, m)
	}
}

func (e *Exporter) spaceFor(m api.Module) (*ffi.Space, error) {
	if e.space != nil {
		return e.space, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.spaces[m]; ok {
		return s, nil
	}
	e.dropClosed()
	alloc, err := ffi.NewGuestAllocator(m, m.Memory())
	if err != nil {
		return nil, err
	}
	s, err := ffi.NewSpace(m.Memory(), alloc)
	if err != nil {
		return nil, err
	}
	e.spaces[m] = s
	return s, nil
}

// dropClosed closes the spaces of modules that have been closed since they
// last called in. e.mu must be held.
func (e *Exporter) dropClosed() {
	for m, s := range e.spaces {
		if m.IsClosed() {
			Logger().Debug("dropping space of closed module", zap.String("module", m.Name()))
			s.Close()
			delete(e.spaces, m)
		}
	}
}

func (e *Exporter) readName(s *ffi.Space, ptr, n uint32) (string, error) {
	data, ok := s.Memory().Read(ptr, n)
	if !ok {
		return "", errors.MemoryOutOfRange(errors.PhaseBoundary, ptr, n)
	}
	return string(data), nil
}

// guard runs fn behind the panic barrier and maps every failure to 0.
func (e *Exporter) guard(fn string, call func() (uint32, error)) uint32 {
	res := ffi.Catch(func() ffi.Result[uint32, error] {
		v, err := call()
		return ffi.ResultFrom(v, err, err != nil)
	})
	if res.Panicked {
		Logger().Warn("host function panicked", zap.String("func", fn), zap.Any("panic", res.Payload()))
		return 0
	}
	v, err, failed := res.Value.Get()
	if failed {
		Logger().Debug("host function failed", zap.String("func", fn), zap.Error(err))
		return 0
	}
	return v
}

func (e *Exporter) layoutOf(ctx context.Context, m api.Module, namePtr, nameLen uint32) uint32 {
	return e.guard("layout_of", func() (uint32, error) {
		s, err := e.spaceFor(m)
		if err != nil {
			return 0, err
		}
		name, err := e.readName(s, namePtr, nameLen)
		if err != nil {
			return 0, err
		}
		tl, ok := e.registry.Lookup(name)
		if !ok {
			return 0, errors.NotFound(errors.PhaseBoundary, "no layout registered as "+name)
		}
		b, err := Encode(ctx, s, tl)
		if err != nil {
			return 0, err
		}
		return b.Ptr(), nil
	})
}

func (e *Exporter) verify(ctx context.Context, m api.Module, namePtr, nameLen, layoutPtr uint32) uint32 {
	return e.guard("verify", func() (uint32, error) {
		s, err := e.spaceFor(m)
		if err != nil {
			return 0, err
		}
		name, err := e.readName(s, namePtr, nameLen)
		if err != nil {
			return 0, err
		}
		got, err := Decode(s, layoutPtr)
		if err != nil {
			return 0, err
		}
		if err := e.registry.Verify(name, got); err != nil {
			Logger().Info("layout rejected", zap.String("name", name), zap.Error(err))
			return 0, err
		}
		return 1, nil
	})
}

func (e *Exporter) releaseLayout(ctx context.Context, m api.Module, layoutPtr uint32) {
	e.guard("release_layout", func() (uint32, error) {
		s, err := e.spaceFor(m)
		if err != nil {
			return 0, err
		}
		p, err := ffi.NewNonNull[Wire](layoutPtr)
		if err != nil {
			return 0, err
		}
		b := ffi.BoxFrom(s, p)
		return 0, ffi.ReleaseOwned(ctx, s, &b)
	})
}
