package runtime

import (
	"github.com/lumen-run/lumen/internal/ast"
	"github.com/lumen-run/lumen/internal/value"
)

// Multimethod is spec.md §4.8's defmulti/defmethod construct: a dispatch
// function plus a table of per-dispatch-value method implementations. A
// single dispatch-value -> method slot is cached on the Multimethod
// itself (lastKey/lastFn) since re-dispatching on the exact same value in
// a tight loop is the common case, matching the teacher's one-slot
// inline-cache approach to its own method-lookup tables.
type Multimethod struct {
	Name     string
	Dispatch value.Value
	Default  *value.Fn
	methods  map[string]*value.Fn
	lastKey  string
	lastFn   *value.Fn
	lastOK   bool
}

func NewMultimethod(name string, dispatch value.Value) *Multimethod {
	return &Multimethod{Name: name, Dispatch: dispatch, methods: map[string]*value.Fn{}}
}

func (m *Multimethod) AddMethod(key string, fn *value.Fn) {
	m.methods[key] = fn
	m.lastOK = false
}

// Lookup resolves a dispatch key to its method, first straight, then by
// walking the hierarchy's ancestors (isa?-based dispatch), falling back
// to :default.
func (m *Multimethod) Lookup(env *Environment, key string) (*value.Fn, bool) {
	if m.lastOK && m.lastKey == key {
		return m.lastFn, true
	}
	if fn, ok := m.methods[key]; ok {
		m.lastKey, m.lastFn, m.lastOK = key, fn, true
		return fn, true
	}
	for _, anc := range env.Ancestors(key) {
		if fn, ok := m.methods[anc]; ok {
			m.lastKey, m.lastFn, m.lastOK = key, fn, true
			return fn, true
		}
	}
	if fn, ok := m.methods[DispatchKeyOf(value.NewKeyword("", "default"))]; ok {
		return fn, true
	}
	if m.Default != nil {
		return m.Default, true
	}
	return nil, false
}

// Protocol is spec.md §4.8's defprotocol/extend-type construct: a named
// set of method signatures plus, per implementing type, the concrete
// fns supplied by extend-type. Protocol method dispatch keys on a
// value's Kind().String(), the same simplification Multimethod dispatch
// keys land on when no custom dispatch fn narrows further.
type Protocol struct {
	Name    string
	Methods []string
	impls   map[string]map[string]*value.Fn // typeKey -> methodName -> fn
}

func NewProtocol(name string, methods []string) *Protocol {
	return &Protocol{Name: name, Methods: methods, impls: map[string]map[string]*value.Fn{}}
}

func (p *Protocol) Extend(typeKey string, methodName string, fn *value.Fn) {
	if p.impls[typeKey] == nil {
		p.impls[typeKey] = map[string]*value.Fn{}
	}
	p.impls[typeKey][methodName] = fn
}

func (p *Protocol) Lookup(typeKey, methodName string) (*value.Fn, bool) {
	methods, ok := p.impls[typeKey]
	if !ok {
		return nil, false
	}
	fn, ok := methods[methodName]
	return fn, ok
}

// DefMultimethod interns name in ns as a Var bound to a BuiltinFn that
// performs dispatch-and-apply, so ordinary call syntax `(name args...)`
// works from either backend; the actual dispatch table lives on the
// returned *Multimethod, registered in env's global table.
func (e *Environment) DefMultimethod(ns *Namespace, name string, dispatch value.Value) *Multimethod {
	e.mu.Lock()
	if e.multimethods == nil {
		e.multimethods = map[string]*Multimethod{}
	}
	mm := NewMultimethod(name, dispatch)
	e.multimethods[name] = mm
	e.mu.Unlock()

	v := ns.Intern(name)
	v.SetRoot(value.NewBuiltin(name, func(envIface interface{}, args []value.Value) (value.Value, error) {
		env := envIface.(*Environment)
		key, err := env.dispatchKey(ns, mm, args)
		if err != nil {
			return nil, err
		}
		fn, ok := mm.Lookup(env, key)
		if !ok {
			return nil, NewError(ValueError, PhaseEval, "no method for dispatch value "+key, ast.Pos{})
		}
		return env.Applier.Apply(fn, args)
	}))
	return mm
}

func (e *Environment) dispatchKey(ns *Namespace, mm *Multimethod, args []value.Value) (string, error) {
	if e.Applier == nil {
		return "", NewError(InternalError, PhaseEval, "multimethod dispatch requires an Applier", ast.Pos{})
	}
	result, err := e.Applier.Apply(mm.Dispatch, args)
	if err != nil {
		return "", err
	}
	return DispatchKeyOf(result), nil
}

func DispatchKeyOf(v value.Value) string {
	switch t := v.(type) {
	case *value.Keyword:
		if t.Namespace != "" {
			return t.Namespace + "/" + t.Name
		}
		return t.Name
	case *value.String:
		return t.V
	default:
		return v.Kind().String()
	}
}

func (e *Environment) Multimethod(name string) (*Multimethod, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	mm, ok := e.multimethods[name]
	return mm, ok
}

// DefProtocol registers a named protocol and interns a dispatcher Var per
// method: calling the method applies whichever extend-type registered an
// implementation for the first argument's runtime type.
func (e *Environment) DefProtocol(ns *Namespace, name string, methods []string) *Protocol {
	e.mu.Lock()
	if e.protocols == nil {
		e.protocols = map[string]*Protocol{}
	}
	p := NewProtocol(name, methods)
	e.protocols[name] = p
	e.mu.Unlock()

	for _, m := range methods {
		method := m
		v := ns.Intern(method)
		v.SetRoot(value.NewBuiltin(method, func(envIface interface{}, args []value.Value) (value.Value, error) {
			env := envIface.(*Environment)
			if len(args) == 0 {
				return nil, NewError(ArityError, PhaseEval, method+" requires at least a receiver argument", ast.Pos{})
			}
			typeKey := args[0].Kind().String()
			fn, ok := p.Lookup(typeKey, method)
			if !ok {
				return nil, NewError(ValueError, PhaseEval, "no "+name+" implementation of "+method+" for "+typeKey, ast.Pos{})
			}
			if env.Applier == nil {
				return nil, NewError(InternalError, PhaseEval, "protocol dispatch requires an Applier", ast.Pos{})
			}
			return env.Applier.Apply(fn, args)
		}))
	}
	return p
}

func (e *Environment) Protocol(name string) (*Protocol, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.protocols[name]
	return p, ok
}

func (e *Environment) ExtendType(typeName, protocolName string, methods map[string]*value.Fn) error {
	e.mu.Lock()
	p, ok := e.protocols[protocolName]
	e.mu.Unlock()
	if !ok {
		return NewError(ValueError, PhaseEval, "unknown protocol "+protocolName, ast.Pos{})
	}
	for name, fn := range methods {
		p.Extend(typeName, name, fn)
	}
	return nil
}
