package ffi

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/multierr"

	"github.com/OpenListTeam/wazero-typeinfo/errors"
)

// MaxOwnedDepth bounds how deeply owning containers may nest in a graph
// released with ReleaseOwned.
const MaxOwnedDepth = 1024

// releaser is implemented by the owning containers.
type releaser interface {
	Release(ctx context.Context) error
}

// cloner replaces an owning container's handle with a handle to a deep copy.
type cloner interface {
	cloneInPlace(ctx context.Context) error
}

// ownerChecker is implemented by the owning containers. checkOwner records
// the container and everything it owns in c.
type ownerChecker interface {
	checkOwner(c *ownership) error
}

var (
	releaserType = reflect.TypeFor[releaser]()
	clonerType   = reflect.TypeFor[cloner]()
	checkerType  = reflect.TypeFor[ownerChecker]()
	ownerCache   sync.Map // reflect.Type -> bool
)

// owns reports whether values of t hold owning containers, directly or in
// exported fields and array elements.
func owns(t reflect.Type) bool {
	if v, ok := ownerCache.Load(t); ok {
		return v.(bool)
	}
	result := false
	switch {
	case reflect.PointerTo(t).Implements(releaserType):
		result = true
	case t.Kind() == reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if f := t.Field(i); f.IsExported() && owns(f.Type) {
				result = true
				break
			}
		}
	case t.Kind() == reflect.Array:
		result = t.Len() > 0 && owns(t.Elem())
	}
	ownerCache.Store(t, result)
	return result
}

// ReleaseValue releases every owning container reachable from *v.
func ReleaseValue[T any](ctx context.Context, v *T) error {
	if !owns(reflect.TypeFor[T]()) {
		return nil
	}
	return walkOwners(reflect.ValueOf(v).Elem(), releaserType, func(o any) error {
		return o.(releaser).Release(ctx)
	})
}

// ReleaseOwned releases every owning container reachable from *v, like
// ReleaseValue, after checking the whole graph first: every container must
// belong to s, no block may be owned twice and nesting must stay within
// MaxOwnedDepth. Nothing is released when the check fails. Use it for graphs
// built by a guest, whose headers cannot be trusted.
func ReleaseOwned[T any](ctx context.Context, s *Space, v *T) error {
	if !owns(reflect.TypeFor[T]()) {
		return nil
	}
	c := &ownership{home: s.id, seen: make(map[uint32]struct{})}
	if err := c.check(reflect.ValueOf(v).Elem()); err != nil {
		return err
	}
	return ReleaseValue(ctx, v)
}

type ownership struct {
	home  SpaceID
	seen  map[uint32]struct{}
	depth int
}

func (c *ownership) check(v reflect.Value) error {
	return walkOwners(v, checkerType, func(o any) error {
		return o.(ownerChecker).checkOwner(c)
	})
}

// enter records one owned block. Each successful enter is paired with leave.
func (c *ownership) enter(kind string, space SpaceID, ptr uint32) error {
	if space != c.home {
		return errors.InvalidData(errors.PhaseDecode, nil,
			fmt.Sprintf("%s at %#x belongs to space %d, not %d", kind, ptr, space, c.home))
	}
	if _, dup := c.seen[ptr]; dup {
		return errors.InvalidData(errors.PhaseDecode, nil,
			fmt.Sprintf("%s at %#x is owned twice", kind, ptr))
	}
	if c.depth >= MaxOwnedDepth {
		return errors.InvalidData(errors.PhaseDecode, nil,
			fmt.Sprintf("owning containers nest deeper than %d", MaxOwnedDepth))
	}
	c.seen[ptr] = struct{}{}
	c.depth++
	return nil
}

func (c *ownership) leave() { c.depth-- }

// CloneValue replaces every owning container reachable from *v with a deep
// copy. On failure the copies made so far are released again.
func CloneValue[T any](ctx context.Context, v *T) error {
	if !owns(reflect.TypeFor[T]()) {
		return nil
	}
	var done []cloner
	err := walkOwners(reflect.ValueOf(v).Elem(), clonerType, func(o any) error {
		c := o.(cloner)
		if err := c.cloneInPlace(ctx); err != nil {
			return err
		}
		done = append(done, c)
		return nil
	})
	if err != nil {
		for _, c := range done {
			err = multierr.Append(err, c.(releaser).Release(ctx))
		}
	}
	return err
}

// walkOwners calls fn with a pointer to every value implementing it, which
// is not descended into. Cloning stops at the first error. Releasing keeps
// going and combines the errors.
func walkOwners(v reflect.Value, it reflect.Type, fn func(any) error) error {
	t := v.Type()
	if !owns(t) {
		return nil
	}
	if reflect.PointerTo(t).Implements(it) {
		return fn(v.Addr().Interface())
	}

	var err error
	visit := func(child reflect.Value) bool {
		err = multierr.Append(err, walkOwners(child, it, fn))
		return err == nil || it == releaserType
	}
	switch t.Kind() {
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if !visit(v.Field(i)) {
				break
			}
		}
	case reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if !visit(v.Index(i)) {
				break
			}
		}
	}
	return err
}
