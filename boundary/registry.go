package boundary

import (
	"maps"
	"reflect"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/OpenListTeam/wazero-typeinfo/errors"
	"github.com/OpenListTeam/wazero-typeinfo/typeinfo"
)

// Registry holds the layouts the host expects, by name. It is safe for
// concurrent use.
type Registry struct {
	mu      sync.RWMutex
	layouts map[string]typeinfo.TypeLayout
	engine  *typeinfo.Engine
}

// NewRegistry creates a Registry that derives layouts with engine, or with
// the shared engine when engine is nil.
func NewRegistry(engine *typeinfo.Engine) *Registry {
	return &Registry{
		layouts: make(map[string]typeinfo.TypeLayout),
		engine:  engine,
	}
}

// Register derives the layout of T and adds it under name. An empty name
// means the qualified Go name of T.
func Register[T any](r *Registry, name string) error {
	t := reflect.TypeFor[T]()
	if name == "" {
		name = typeinfo.QualifiedName(t)
	}
	var tl typeinfo.TypeLayout
	var err error
	if r.engine != nil {
		tl, err = r.engine.Of(t)
	} else {
		tl, err = typeinfo.Of(t)
	}
	if err != nil {
		return err
	}
	return r.Add(name, tl)
}

// Add stores tl under name. Adding the same layout twice is allowed;
// adding a different one under a taken name is a layout_mismatch.
func (r *Registry) Add(name string, tl typeinfo.TypeLayout) error {
	if err := tl.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.layouts[name]; ok {
		return errors.Prefix(Verify(old, tl), name)
	}
	r.layouts[name] = tl.Clone()
	Logger().Debug("registered layout", zap.String("name", name), zap.Int("types", len(tl.DefinedTypes)))
	return nil
}

// Lookup returns a copy of the layout registered under name.
func (r *Registry) Lookup(name string) (typeinfo.TypeLayout, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tl, ok := r.layouts[name]
	if !ok {
		return typeinfo.TypeLayout{}, false
	}
	return tl.Clone(), true
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.layouts))
}

// Verify checks got against the layout registered under name.
func (r *Registry) Verify(name string, got typeinfo.TypeLayout) error {
	r.mu.RLock()
	want, ok := r.layouts[name]
	r.mu.RUnlock()
	if !ok {
		return errors.NotFound(errors.PhaseVerify, "no layout registered as "+name)
	}
	return errors.Prefix(Verify(want, got), name)
}
