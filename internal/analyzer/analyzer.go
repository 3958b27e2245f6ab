// Package analyzer lowers surface forms produced by internal/reader into
// the typed internal/ast tree the compiler and tree-walk evaluator both
// consume (spec.md §4.3), expanding macros and resolving locals along
// the way.
package analyzer

import (
	"fmt"

	"github.com/lumen-run/lumen/internal/ast"
	"github.com/lumen-run/lumen/internal/runtime"
	"github.com/lumen-run/lumen/internal/value"
)

// MacroExpander is the "macro evaluation bridge" from spec.md §4.9: a
// caller-supplied callback the analyzer invokes with the macro's Fn and
// the form's unevaluated arguments, getting back the expansion.
// internal/backend wires this to the tree-walk evaluator at bootstrap.
type MacroExpander interface {
	ExpandMacro(fn value.Value, args []value.Value) (value.Value, error)
}

var specialForms = map[string]bool{
	"if": true, "do": true, "let": true, "letfn": true, "loop": true,
	"recur": true, "fn": true, "quote": true, "var": true, "def": true,
	"set!": true, "throw": true, "try": true, "defmacro": true,
	"defmulti": true, "defmethod": true, "defprotocol": true,
	"extend-type": true, "lazy-seq": true, "quasiquote": true,
	"unquote": true, "unquote-splicing": true,
}

// Analyzer holds the analysis-time state for one compilation unit: the
// current lexical scope stack and a reference to the environment for
// Var/macro resolution.
type Analyzer struct {
	env    *runtime.Environment
	ns     *runtime.Namespace
	scope  *scope
	macros MacroExpander
}

func New(env *runtime.Environment, ns *runtime.Namespace, macros MacroExpander) *Analyzer {
	return &Analyzer{env: env, ns: ns, macros: macros, scope: newScope(nil, true)}
}

func (a *Analyzer) errf(pos ast.Pos, kind runtime.ErrorKind, format string, args ...interface{}) error {
	return runtime.NewError(kind, runtime.PhaseAnalysis, fmt.Sprintf(format, args...), pos)
}

// AnalyzeProgram analyzes a sequence of top-level forms, in order; a
// `def` made by form i is visible to analysis of form j > i because
// Vars are interned into the namespace eagerly by analyzeDef.
func (a *Analyzer) AnalyzeProgram(forms []value.Value, pos ast.Pos) (*ast.Program, error) {
	nodes := make([]ast.Node, 0, len(forms))
	for _, f := range forms {
		n, err := a.Analyze(f)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return ast.NewProgram(pos, nodes), nil
}

// Analyze lowers one surface form to a Node.
func (a *Analyzer) Analyze(form value.Value) (ast.Node, error) {
	pos := ast.Pos{}
	switch f := form.(type) {
	case *value.Symbol:
		return a.analyzeSymbol(f, pos)
	case *value.List:
		return a.analyzeList(f, pos)
	case *value.Vector:
		return a.analyzeVectorLiteral(f, pos)
	case *value.ArrayMap:
		return a.analyzeMapLiteral(f, pos)
	case *value.HashMap:
		return a.analyzeMapLiteral(f, pos)
	case *value.Set:
		return a.analyzeSetLiteral(f, pos)
	default:
		return ast.NewConstant(pos, form), nil
	}
}

func (a *Analyzer) analyzeSymbol(sym *value.Symbol, pos ast.Pos) (ast.Node, error) {
	if owner, idx, depth, ok := a.scope.resolve(sym.Name); ok && sym.Namespace == "" {
		_ = owner
		ref := ast.NewLocalRef(pos, sym.Name, idx)
		ref.Depth = depth
		return ref, nil
	}
	return ast.NewVarRef(pos, sym.Namespace, sym.Name), nil
}

// analyzeVectorLiteral analyzes each element of a vector literal appearing
// as data (not a binding form), producing a Call to the `vector`
// constructor intrinsic so the compiler/tree-walk can build the runtime
// value from analyzed sub-expressions (supports e.g. `[x (+ 1 2)]`).
func (a *Analyzer) analyzeVectorLiteral(vec *value.Vector, pos ast.Pos) (ast.Node, error) {
	args := make([]ast.Node, 0, vec.Count())
	for i := 0; i < vec.Count(); i++ {
		el, _ := vec.Nth(i)
		n, err := a.Analyze(el)
		if err != nil {
			return nil, err
		}
		args = append(args, n)
	}
	return ast.NewCall(pos, ast.NewVarRef(pos, "", "vector"), args), nil
}

// analyzeMapLiteral lowers a literal `{...}` map to a `hash-map` intrinsic
// call over its analyzed key/value forms, same reasoning as
// analyzeVectorLiteral: a map literal can contain arbitrary sub-expressions,
// e.g. `{:x (+ 1 2)}`, so each entry must go through analysis too.
func (a *Analyzer) analyzeMapLiteral(m value.Associative, pos ast.Pos) (ast.Node, error) {
	args := make([]ast.Node, 0, m.Count()*2)
	var err error
	m.Each(func(k, v value.Value) bool {
		var kn, vn ast.Node
		if kn, err = a.Analyze(k); err != nil {
			return false
		}
		if vn, err = a.Analyze(v); err != nil {
			return false
		}
		args = append(args, kn, vn)
		return true
	})
	if err != nil {
		return nil, err
	}
	return ast.NewCall(pos, ast.NewVarRef(pos, "", "hash-map"), args), nil
}

// analyzeSetLiteral lowers a literal `#{...}` set to a `hash-set` intrinsic
// call over its analyzed members.
func (a *Analyzer) analyzeSetLiteral(s *value.Set, pos ast.Pos) (ast.Node, error) {
	args := make([]ast.Node, 0, s.Count())
	var err error
	s.Each(func(v value.Value) bool {
		var n ast.Node
		if n, err = a.Analyze(v); err != nil {
			return false
		}
		args = append(args, n)
		return true
	})
	if err != nil {
		return nil, err
	}
	return ast.NewCall(pos, ast.NewVarRef(pos, "", "hash-set"), args), nil
}

func (a *Analyzer) analyzeList(l *value.List, pos ast.Pos) (ast.Node, error) {
	if l.Count() == 0 {
		return ast.NewConstant(pos, l), nil
	}
	head := l.First()
	elems := l.ToSlice()

	if sym, ok := head.(*value.Symbol); ok && sym.Namespace == "" {
		if specialForms[sym.Name] {
			return a.analyzeSpecial(sym.Name, elems, pos)
		}
		if v, ok := a.env.Resolve(a.ns, "", sym.Name); ok && v.IsMacro() {
			if a.macros == nil {
				return nil, a.errf(pos, runtime.InternalError, "macro %s used with no expander configured", sym.Name)
			}
			expanded, err := a.macros.ExpandMacro(v.Deref(), elems[1:])
			if err != nil {
				return nil, err
			}
			return a.Analyze(expanded)
		}
	}

	callee, err := a.Analyze(head)
	if err != nil {
		return nil, err
	}
	args := make([]ast.Node, 0, len(elems)-1)
	for _, e := range elems[1:] {
		n, err := a.Analyze(e)
		if err != nil {
			return nil, err
		}
		args = append(args, n)
	}
	return ast.NewCall(pos, callee, args), nil
}

func sym(v value.Value) (*value.Symbol, bool) {
	s, ok := v.(*value.Symbol)
	return s, ok
}
