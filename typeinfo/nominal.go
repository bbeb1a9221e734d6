package typeinfo

import (
	"math"

	"go.uber.org/zap"

	"github.com/OpenListTeam/wazero-typeinfo/errors"
	"github.com/OpenListTeam/wazero-typeinfo/layout"
)

// BodyFunc derives the body of a nominal type. It receives the catalog with
// the type's own placeholder already reserved.
type BodyFunc func(defined layout.DefinedTypes) (layout.TypeType, layout.DefinedTypes, error)

// Nominal resolves a nominal type against the catalog. A type already in the
// catalog resolves to its index without being derived again. Otherwise a
// placeholder is reserved before body runs, so that any reference back to
// the type found while deriving its fields resolves to the placeholder, and
// the placeholder is backfilled with the derived body afterwards.
func Nominal(defined layout.DefinedTypes, uid layout.TypeUid, name string, body BodyFunc) (layout.FullLayout, error) {
	if id, ok := defined.Lookup(uid); ok {
		return layout.FullLayout{Layout: layout.Defined(id), DefinedTypes: defined}, nil
	}

	defined, id := defined.Reserve(uid, name)
	Logger().Debug("reserved catalog entry", zap.Stringer("uid", uid), zap.Int("id", id))

	ty, defined, err := body(defined)
	if err != nil {
		return layout.FullLayout{}, err
	}
	defined.Backfill(id, ty)
	Logger().Debug("backfilled catalog entry",
		zap.Stringer("uid", uid),
		zap.Int("id", id),
		zap.Stringer("kind", ty.Kind),
	)

	return layout.FullLayout{Layout: layout.Defined(id), DefinedTypes: defined}, nil
}

// Discriminants assigns a discriminant to every case: its explicit value when
// declared, otherwise one more than the previous case, starting at zero. An
// implicit discriminant following math.MaxInt64 is an error.
func Discriminants(cases []EnumCase) ([]int64, error) {
	out := make([]int64, len(cases))
	next, exhausted := int64(0), false
	for i, c := range cases {
		switch {
		case c.Explicit:
			next = c.Value
		case exhausted:
			return nil, errors.New(errors.PhaseDerive, errors.KindInvalidTag).
				Path(c.Name).
				Detail("implicit discriminant after %d overflows int64", int64(math.MaxInt64)).Build()
		}
		out[i] = next
		exhausted = next == math.MaxInt64
		next++
	}
	return out, nil
}
