// Package runtime implements the Var/Namespace/Environment model and the
// per-session error context from spec.md §3.2-§3.3 and §4.2.
package runtime

import (
	"github.com/dolthub/swiss"

	"github.com/lumen-run/lumen/internal/value"
)

// Interner is the Environment's global symbol/keyword table (spec.md
// §3.3: "global interner for symbols/keywords"). Unlike value.HashMap,
// this table is genuinely mutable, single-threaded, and never needs
// structural sharing, so a swiss table — the same hash-table engine
// mna/nenuphar depends on for its interpreter's global table — is the
// right fit rather than another persistent HAMT.
type Interner struct {
	symbols  *swiss.Map[string, *value.Symbol]
	keywords *swiss.Map[string, *value.Keyword]
}

func NewInterner() *Interner {
	return &Interner{
		symbols:  swiss.NewMap[string, *value.Symbol](256),
		keywords: swiss.NewMap[string, *value.Keyword](256),
	}
}

func symKey(ns, name string) string {
	if ns == "" {
		return name
	}
	return ns + "/" + name
}

// Symbol returns the canonical *value.Symbol for (ns, name), interning
// it on first use so repeated occurrences of the same symbol in source
// compare equal by pointer identity.
func (in *Interner) Symbol(ns, name string) *value.Symbol {
	key := symKey(ns, name)
	if s, ok := in.symbols.Get(key); ok {
		return s
	}
	s := value.NewSymbol(ns, name)
	in.symbols.Put(key, s)
	return s
}

func (in *Interner) Keyword(ns, name string) *value.Keyword {
	key := symKey(ns, name)
	if k, ok := in.keywords.Get(key); ok {
		return k
	}
	k := value.NewKeyword(ns, name)
	in.keywords.Put(key, k)
	return k
}
