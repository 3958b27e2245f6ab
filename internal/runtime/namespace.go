package runtime

import (
	"golang.org/x/exp/slices"

	"github.com/lumen-run/lumen/internal/value"
)

// Namespace is spec.md §3.2's (name, mappings, refers, aliases) triple.
type Namespace struct {
	Name     string
	mappings map[string]*Var // interned here
	refers   map[string]*Var // visible without qualification, owned elsewhere
	aliases  map[string]*Namespace
}

func NewNamespace(name string) *Namespace {
	return &Namespace{
		Name:     name,
		mappings: map[string]*Var{},
		refers:   map[string]*Var{},
		aliases:  map[string]*Namespace{},
	}
}

// Intern returns the existing Var for name, or creates one owned by
// this namespace with an unbound (Nil) root.
func (ns *Namespace) Intern(name string) *Var {
	if v, ok := ns.mappings[name]; ok {
		return v
	}
	v := NewVar(ns.Name, name, value.Nil)
	ns.mappings[name] = v
	return v
}

func (ns *Namespace) Unmap(name string) {
	delete(ns.mappings, name)
	delete(ns.refers, name)
}

func (ns *Namespace) Refer(name string, v *Var) {
	ns.refers[name] = v
}

func (ns *Namespace) Unrefer(name string) {
	delete(ns.refers, name)
}

func (ns *Namespace) AddAlias(alias string, target *Namespace) {
	ns.aliases[alias] = target
}

func (ns *Namespace) RemoveAlias(alias string) {
	delete(ns.aliases, alias)
}

// Resolve implements spec.md §3.2's lookup rule: own mappings, then
// refers, for an unqualified name.
func (ns *Namespace) Resolve(name string) (*Var, bool) {
	if v, ok := ns.mappings[name]; ok {
		return v, true
	}
	if v, ok := ns.refers[name]; ok {
		return v, true
	}
	return nil, false
}

// ResolveAlias implements qualified `alias/name` resolution against this
// namespace's alias table.
func (ns *Namespace) ResolveAlias(alias, name string) (*Var, bool) {
	target, ok := ns.aliases[alias]
	if !ok {
		return nil, false
	}
	v, ok := target.mappings[name]
	return v, ok
}

// Publics returns the namespace's own (non-private) mapping names,
// sorted, for ns-publics-style introspection. golang.org/x/exp/slices
// backs the sort, mirroring mna/nenuphar's use of the same
// pre-generics helper package for this kind of bookkeeping.
func (ns *Namespace) Publics() []string {
	names := make([]string, 0, len(ns.mappings))
	for name, v := range ns.mappings {
		if !v.IsPrivate {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}
