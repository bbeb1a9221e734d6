package layout

import (
	"fmt"
	"strconv"

	"github.com/OpenListTeam/wazero-typeinfo/errors"
)

// Validate checks the referential integrity of a catalog and its root layout:
// every DefinedRef index must be in range, every entry must be reachable
// from root, and every nested layout must carry the payload its kind needs.
func Validate(types []DefinedType, root Layout) error {
	seen := make([]bool, len(types))
	queue := []int{}

	visit := func(path string, l Layout) error {
		var err error
		l.Walk(func(n Layout) {
			if err != nil {
				return
			}
			if e := checkNode(n, len(types)); e != nil {
				err = errors.Prefix(e, path)
				return
			}
			if n.Kind == DefinedRef && !seen[n.ID] {
				seen[n.ID] = true
				queue = append(queue, n.ID)
			}
		})
		return err
	}

	if err := visit("layout", root); err != nil {
		return err
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		var err error
		types[id].Type.Layouts(func(l Layout) {
			if err == nil {
				err = visit("defined_types["+strconv.Itoa(id)+"]", l)
			}
		})
		if err != nil {
			return err
		}
	}

	for id, ok := range seen {
		if !ok {
			return errors.New(errors.PhaseVerify, errors.KindInvalidData).
				Path("defined_types[" + strconv.Itoa(id) + "]").
				Detail("entry %q is not referenced", types[id].Name).
				Build()
		}
	}
	return nil
}

func checkNode(n Layout, count int) error {
	switch {
	case !n.Kind.Valid():
		return errors.InvalidData(errors.PhaseVerify, nil, fmt.Sprintf("unknown layout kind %d", n.Kind))
	case n.Kind == DefinedRef && (n.ID < 0 || n.ID >= count):
		return errors.OutOfBounds(errors.PhaseVerify, nil, n.ID, count)
	case n.Kind == FuncPtr && n.Func == nil:
		return errors.InvalidData(errors.PhaseVerify, nil, "function pointer without signature")
	case n.Kind >= ConstPtr && n.Kind <= Array && n.Elem == nil:
		return errors.InvalidData(errors.PhaseVerify, nil, n.Kind.String()+" without element")
	}
	return nil
}
