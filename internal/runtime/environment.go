package runtime

import (
	"sync"

	"github.com/google/uuid"

	"github.com/lumen-run/lumen/internal/value"
)

// CoreNamespace is the canonical namespace the bundled core library
// loads into (spec.md §4.9); UserNamespace is where a session starts.
const (
	CoreNamespace = "lumen.core"
	UserNamespace = "user"
)

// Environment is spec.md §3.3: namespace registry, current-namespace
// pointer, shared hierarchy map, and global interner, all created once
// per evaluation session and torn down with its arena.
type Environment struct {
	mu         sync.Mutex
	namespaces map[string]*Namespace
	current    *Namespace

	hierarchy   map[string]map[string]bool // child typeKey -> set of ancestor typeKeys
	preferTable map[string]map[string]string // multimethod name -> (a -> b) meaning a preferred over b

	multimethods map[string]*Multimethod
	protocols    map[string]*Protocol

	Interner *Interner
	Errors   *ErrorContext

	// Applier is whichever backend is driving this evaluation session
	// (the VM or the tree-walk evaluator); builtins, multimethod/protocol
	// dispatch, and lazy-seq realization call back into user code through
	// it without this package depending on either backend.
	Applier value.Applier

	// SessionID stamps this Environment for debug/trace output only; it
	// is never load-bearing for evaluation semantics, matching
	// github.com/google/uuid's ambient role in funxy's own tests.
	SessionID uuid.UUID

	// Dispatcher is the cross-backend bridge (§4.9); stored as
	// interface{} here to avoid runtime depending on internal/backend
	// (backend depends on runtime). internal/backend sets this at
	// bootstrap and type-asserts it back to its own Dispatcher type.
	Dispatcher interface{}

	PrintLength int // backing store for *print-length*, -1 = unbounded
	PrintLevel  int // backing store for *print-level*, -1 = unbounded

	retained []*value.Fn // session-long retention list, spec.md §4.9/§3.6
}

func NewEnvironment() *Environment {
	env := &Environment{
		namespaces:  map[string]*Namespace{},
		hierarchy:   map[string]map[string]bool{},
		preferTable: map[string]map[string]string{},
		Interner:    NewInterner(),
		Errors:      NewErrorContext(),
		SessionID:   uuid.New(),
		PrintLength: -1,
		PrintLevel:  -1,
	}
	core := NewNamespace(CoreNamespace)
	user := NewNamespace(UserNamespace)
	env.namespaces[CoreNamespace] = core
	env.namespaces[UserNamespace] = user
	env.current = user
	return env
}

func (e *Environment) CurrentNamespace() *Namespace {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *Environment) SetCurrentNamespace(ns *Namespace) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.current = ns
}

// FindOrCreateNamespace returns the namespace named name, creating it on
// first reference (matching Clojure's `in-ns` / `ns` behavior).
func (e *Environment) FindOrCreateNamespace(name string) *Namespace {
	e.mu.Lock()
	defer e.mu.Unlock()
	if ns, ok := e.namespaces[name]; ok {
		return ns
	}
	ns := NewNamespace(name)
	e.namespaces[name] = ns
	return ns
}

func (e *Environment) FindNamespace(name string) (*Namespace, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ns, ok := e.namespaces[name]
	return ns, ok
}

// ReferAll copies every public mapping of src into dst without
// qualification, the bootstrap's `(refer all core mappings into user)`
// step (spec.md §4.9).
func (e *Environment) ReferAll(dst, src *Namespace) {
	for name, v := range src.mappings {
		if !v.IsPrivate {
			dst.Refer(name, v)
		}
	}
}

// Resolve implements the full §3.2 resolution rule across qualified and
// unqualified symbols against ns.
func (e *Environment) Resolve(ns *Namespace, qualifier, name string) (*Var, bool) {
	if qualifier == "" {
		return ns.Resolve(name)
	}
	if qualifier == ns.Name {
		v, ok := ns.mappings[name]
		return v, ok
	}
	if v, ok := ns.ResolveAlias(qualifier, name); ok {
		return v, true
	}
	if target, ok := e.FindNamespace(qualifier); ok {
		v, ok := target.mappings[name]
		return v, ok
	}
	return nil, false
}

// DeriveHierarchy records child <: parent for isa?-based multimethod
// dispatch (spec.md §4.8); transitively closes over existing ancestors
// of parent so isa? walks are a flat set lookup.
func (e *Environment) DeriveHierarchy(child, parent string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hierarchy[child] == nil {
		e.hierarchy[child] = map[string]bool{}
	}
	e.hierarchy[child][parent] = true
	for anc := range e.hierarchy[parent] {
		e.hierarchy[child][anc] = true
	}
}

func (e *Environment) Isa(child, parent string) bool {
	if child == parent {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hierarchy[child][parent]
}

func (e *Environment) Ancestors(typeKey string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.hierarchy[typeKey]))
	for a := range e.hierarchy[typeKey] {
		out = append(out, a)
	}
	return out
}

func (e *Environment) Prefer(multiName, over, under string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.preferTable[multiName] == nil {
		e.preferTable[multiName] = map[string]string{}
	}
	e.preferTable[multiName][over] = under
}

// Prefers reports whether `over` is preferred over `under` for multiName.
func (e *Environment) Prefers(multiName, over, under string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.preferTable[multiName][over] == under
}

// Retain appends fn to the session-long retention list so closures
// created during evaluation outlive the compile frame that produced
// their FnProto (spec.md §3.6, §4.9).
func (e *Environment) Retain(fn *value.Fn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retained = append(e.retained, fn)
}

// PrintLimits resolves the current *print-length*/*print-level* values
// into a value.PrintLimits for the pr/print builtins.
func (e *Environment) PrintLimits() value.PrintLimits {
	return value.PrintLimits{Length: e.PrintLength, Level: e.PrintLevel}
}
