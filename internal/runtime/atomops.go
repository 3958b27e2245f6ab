package runtime

import (
	"fmt"

	"github.com/lumen-run/lumen/internal/value"
)

// Swap implements `swap!` (spec.md §4.8): evaluate f(a.value, args...),
// run the validator if present (must return truthy or the update is
// rejected), assign, then fire watchers with (key, atom, old, new) in
// registration order.
func Swap(ap value.Applier, a *value.Atom, f value.Value, args []value.Value) (value.Value, error) {
	old := a.Deref()
	callArgs := append([]value.Value{old}, args...)
	newVal, err := ap.Apply(f, callArgs)
	if err != nil {
		return nil, err
	}
	if err := validate(ap, a, newVal); err != nil {
		return nil, err
	}
	a.Swap(newVal)
	fireWatches(ap, a, old, newVal)
	return newVal, nil
}

// Reset implements `reset!`: validator-protected direct set.
func Reset(ap value.Applier, a *value.Atom, newVal value.Value) (value.Value, error) {
	old := a.Deref()
	if err := validate(ap, a, newVal); err != nil {
		return nil, err
	}
	a.Swap(newVal)
	fireWatches(ap, a, old, newVal)
	return newVal, nil
}

func validate(ap value.Applier, a *value.Atom, newVal value.Value) error {
	validator := a.Validator()
	if validator == nil || validator == value.Nil {
		return nil
	}
	ok, err := ap.Apply(validator, []value.Value{newVal})
	if err != nil {
		return err
	}
	if !value.Truthy(ok) {
		return fmt.Errorf("invalid atom state: %s", value.Inspect(newVal))
	}
	return nil
}

func fireWatches(ap value.Applier, a *value.Atom, old, newVal value.Value) {
	for _, w := range a.Watches() {
		_, _ = ap.Apply(w.Fn, []value.Value{w.Key, a, old, newVal})
	}
}
