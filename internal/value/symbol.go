package value

// Symbol and Keyword are interned identifiers: two Symbols with the same
// namespace/name are the same pointer, so equality and map keys can use
// pointer identity once interned. Interning itself lives in
// internal/runtime (Interner, backed by a swiss table) since it is a
// mutable, session-scoped table; this package only defines the shapes.

type Symbol struct {
	Namespace string // empty for unqualified symbols
	Name      string
	Meta      Value // nil or a Map; symbols carry metadata (^:private etc.)
}

func (s *Symbol) Kind() Type { return TSymbol }

func (s *Symbol) Inspect() string {
	if s.Namespace == "" {
		return s.Name
	}
	return s.Namespace + "/" + s.Name
}

func (s *Symbol) Hash() uint32 {
	return fnv32(s.Namespace) ^ (fnv32(s.Name) * 31)
}

type Keyword struct {
	Namespace string
	Name      string
}

func (k *Keyword) Kind() Type { return TKeyword }

func (k *Keyword) Inspect() string {
	if k.Namespace == "" {
		return ":" + k.Name
	}
	return ":" + k.Namespace + "/" + k.Name
}

func (k *Keyword) Hash() uint32 {
	return 0x6b657977 ^ fnv32(k.Namespace) ^ (fnv32(k.Name) * 31)
}

// NewSymbol and NewKeyword build uninterned instances; callers that need
// interned, identity-comparable symbols/keywords go through
// runtime.Interner.Symbol / .Keyword instead.
func NewSymbol(ns, name string) *Symbol   { return &Symbol{Namespace: ns, Name: name} }
func NewKeyword(ns, name string) *Keyword { return &Keyword{Namespace: ns, Name: name} }
