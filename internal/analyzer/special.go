package analyzer

import (
	"fmt"

	"github.com/lumen-run/lumen/internal/ast"
	"github.com/lumen-run/lumen/internal/runtime"
	"github.com/lumen-run/lumen/internal/value"
)

// analyzeSpecial dispatches on a special-form head symbol. elems is the
// whole form as a slice (elems[0] is the head symbol itself).
func (a *Analyzer) analyzeSpecial(name string, elems []value.Value, pos ast.Pos) (ast.Node, error) {
	args := elems[1:]
	switch name {
	case "if":
		return a.analyzeIf(args, pos)
	case "do":
		return a.analyzeDo(args, pos)
	case "let":
		return a.analyzeLet(args, pos, false)
	case "letfn":
		return a.analyzeLet(args, pos, true)
	case "loop":
		return a.analyzeLoop(args, pos)
	case "recur":
		return a.analyzeRecur(args, pos)
	case "fn":
		return a.analyzeFn("", args, pos)
	case "quote":
		if len(args) != 1 {
			return nil, a.errf(pos, runtime.ValueError, "quote takes exactly one form")
		}
		return ast.NewQuote(pos, args[0]), nil
	case "var":
		if len(args) != 1 {
			return nil, a.errf(pos, runtime.ValueError, "var takes exactly one symbol")
		}
		s, ok := sym(args[0])
		if !ok {
			return nil, a.errf(pos, runtime.ValueError, "var requires a symbol")
		}
		return ast.NewVarRef(pos, s.Namespace, s.Name), nil
	case "def":
		return a.analyzeDef(args, pos, false)
	case "defmacro":
		return a.analyzeDef(args, pos, true)
	case "set!":
		return a.analyzeSetBang(args, pos)
	case "throw":
		if len(args) != 1 {
			return nil, a.errf(pos, runtime.ValueError, "throw takes exactly one form")
		}
		expr, err := a.Analyze(args[0])
		if err != nil {
			return nil, err
		}
		return ast.NewThrow(pos, expr), nil
	case "try":
		return a.analyzeTry(args, pos)
	case "defmulti":
		return a.analyzeDefMulti(args, pos)
	case "defmethod":
		return a.analyzeDefMethod(args, pos)
	case "defprotocol":
		return a.analyzeDefProtocol(args, pos)
	case "extend-type":
		return a.analyzeExtendType(args, pos)
	case "lazy-seq":
		body, err := a.analyzeBody(args)
		if err != nil {
			return nil, err
		}
		return ast.NewLazySeqNode(pos, body), nil
	case "quasiquote":
		return a.analyzeQuasiquote(args, pos)
	}
	return nil, a.errf(pos, runtime.InternalError, "unimplemented special form %s", name)
}

func (a *Analyzer) analyzeBody(forms []value.Value) ([]ast.Node, error) {
	out := make([]ast.Node, 0, len(forms))
	for _, f := range forms {
		n, err := a.Analyze(f)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

func (a *Analyzer) analyzeIf(args []value.Value, pos ast.Pos) (ast.Node, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, a.errf(pos, runtime.ValueError, "if takes 2 or 3 forms, got %d", len(args))
	}
	test, err := a.Analyze(args[0])
	if err != nil {
		return nil, err
	}
	then, err := a.Analyze(args[1])
	if err != nil {
		return nil, err
	}
	var els ast.Node = ast.NewConstant(pos, value.Nil)
	if len(args) == 3 {
		els, err = a.Analyze(args[2])
		if err != nil {
			return nil, err
		}
	}
	return ast.NewIf(pos, test, then, els), nil
}

func (a *Analyzer) analyzeDo(args []value.Value, pos ast.Pos) (ast.Node, error) {
	body, err := a.analyzeBody(args)
	if err != nil {
		return nil, err
	}
	return ast.NewDo(pos, body), nil
}

// bindingPairs expects a leading vector of [pattern init pattern init ...].
func bindingPairs(args []value.Value, pos ast.Pos) (*value.Vector, []value.Value, error) {
	if len(args) < 1 {
		return nil, nil, fmt.Errorf("binding form requires a vector of bindings")
	}
	vec, ok := args[0].(*value.Vector)
	if !ok {
		return nil, nil, fmt.Errorf("binding form requires a vector, got %T", args[0])
	}
	return vec, args[1:], nil
}

func (a *Analyzer) analyzeLet(args []value.Value, pos ast.Pos, isLetfn bool) (ast.Node, error) {
	vec, body, err := bindingPairs(args, pos)
	if err != nil {
		return nil, a.errf(pos, runtime.ValueError, "%s", err.Error())
	}
	a.scope = newScope(a.scope, false)
	defer func() { a.scope = a.scope.parent }()

	// letfn pre-binds every simple-symbol name before analyzing any init,
	// so sibling fns can resolve each other (forward and backward) as
	// locals instead of falling through to an unresolved VarRef. This
	// still doesn't make them truly co-recursive at runtime — each
	// closure captures its siblings' slots at OpMakeFn time, before a
	// later sibling's slot has been stored into, so a fn that calls a
	// sibling defined after it in the vector sees that sibling's
	// zero-value until the whole letfn has finished initializing once
	// (documented limitation, see DESIGN.md).
	preBound := map[int]int{} // binding-pair index -> slot
	if isLetfn {
		for i := 0; i+1 < vec.Count(); i += 2 {
			pat, _ := vec.Nth(i)
			if s, ok := sym(pat); ok {
				preBound[i] = a.scope.bind(s.Name)
			}
		}
	}

	var bindings []ast.Binding
	for i := 0; i+1 < vec.Count(); i += 2 {
		pat, _ := vec.Nth(i)
		initForm, _ := vec.Nth(i + 1)
		initNode, err := a.Analyze(initForm)
		if err != nil {
			return nil, err
		}
		if slot, ok := preBound[i]; ok {
			s, _ := sym(pat)
			bindings = append(bindings, ast.Binding{Name: s.Name, Idx: slot, Init: initNode})
			continue
		}
		bindings = append(bindings, a.destructure(pat, initNode, pos)...)
	}
	bodyNodes, err := a.analyzeBody(body)
	if err != nil {
		return nil, err
	}
	if isLetfn {
		return ast.NewLetfn(pos, bindings, bodyNodes), nil
	}
	return ast.NewLet(pos, bindings, bodyNodes), nil
}

func (a *Analyzer) analyzeLoop(args []value.Value, pos ast.Pos) (ast.Node, error) {
	vec, body, err := bindingPairs(args, pos)
	if err != nil {
		return nil, a.errf(pos, runtime.ValueError, "%s", err.Error())
	}
	a.scope = newScope(a.scope, false)
	defer func() { a.scope = a.scope.parent }()

	var bindings []ast.Binding
	for i := 0; i+1 < vec.Count(); i += 2 {
		pat, _ := vec.Nth(i)
		initForm, _ := vec.Nth(i + 1)
		initNode, err := a.Analyze(initForm)
		if err != nil {
			return nil, err
		}
		bindings = append(bindings, a.destructure(pat, initNode, pos)...)
	}
	bodyNodes, err := a.analyzeBody(body)
	if err != nil {
		return nil, err
	}
	return ast.NewLoop(pos, bindings, bodyNodes), nil
}

func (a *Analyzer) analyzeRecur(args []value.Value, pos ast.Pos) (ast.Node, error) {
	nodes, err := a.analyzeBody(args)
	if err != nil {
		return nil, err
	}
	return ast.NewRecur(pos, nodes), nil
}

func (a *Analyzer) analyzeFn(name string, args []value.Value, pos ast.Pos) (ast.Node, error) {
	if len(args) > 0 {
		if s, ok := sym(args[0]); ok {
			name = s.Name
			args = args[1:]
		}
	}

	var arityForms [][]value.Value
	if len(args) > 0 {
		if _, ok := args[0].(*value.Vector); ok {
			arityForms = [][]value.Value{args}
		} else {
			for _, f := range args {
				if l, ok := f.(*value.List); ok {
					arityForms = append(arityForms, l.ToSlice())
				}
			}
		}
	}

	var arities []ast.Arity
	for _, af := range arityForms {
		ar, err := a.analyzeArity(name, af, pos)
		if err != nil {
			return nil, err
		}
		arities = append(arities, ar)
	}
	return ast.NewFn(pos, name, arities), nil
}

func (a *Analyzer) analyzeArity(selfName string, form []value.Value, pos ast.Pos) (ast.Arity, error) {
	if len(form) < 1 {
		return ast.Arity{}, a.errf(pos, runtime.ValueError, "fn arity requires a parameter vector")
	}
	params, ok := form[0].(*value.Vector)
	if !ok {
		return ast.Arity{}, a.errf(pos, runtime.ValueError, "fn arity requires a parameter vector")
	}

	a.scope = newScope(a.scope, true)
	defer func() { a.scope = a.scope.parent }()

	selfIdx := -1
	if selfName != "" {
		selfIdx = a.scope.bind(selfName)
	}

	var names []string
	var idxs []int
	variadic := false
	restIdx := -1
	var extraBindings []ast.Binding

	n := params.Count()
	for i := 0; i < n; i++ {
		p, _ := params.Nth(i)
		if s, ok := sym(p); ok && s.Name == "&" {
			variadic = true
			i++
			if i < n {
				restPat, _ := params.Nth(i)
				if s2, ok := sym(restPat); ok {
					restIdx = a.scope.bind(s2.Name)
				} else {
					restIdx = a.scope.bind(tempName())
					extraBindings = a.destructure(restPat, ast.NewLocalRef(pos, "", restIdx), pos)
				}
			}
			continue
		}
		if s, ok := sym(p); ok {
			idx := a.scope.bind(s.Name)
			names = append(names, s.Name)
			idxs = append(idxs, idx)
		} else {
			// destructured positional parameter: bind a temp and expand.
			tempIdx := a.scope.bind(tempName())
			names = append(names, "")
			idxs = append(idxs, tempIdx)
			extraBindings = append(extraBindings, a.destructure(p, ast.NewLocalRef(pos, "", tempIdx), pos)...)
		}
	}

	bodyNodes, err := a.analyzeBody(form[1:])
	if err != nil {
		return ast.Arity{}, err
	}
	if len(extraBindings) > 0 {
		bodyNodes = []ast.Node{ast.NewLet(pos, extraBindings, bodyNodes)}
	}

	return ast.Arity{
		Params:   names,
		ParamIdx: idxs,
		Variadic: variadic,
		RestIdx:  restIdx,
		Body:     bodyNodes,
		SelfIdx:  selfIdx,
	}, nil
}

func (a *Analyzer) analyzeDef(args []value.Value, pos ast.Pos, isMacro bool) (ast.Node, error) {
	if len(args) < 1 {
		return nil, a.errf(pos, runtime.ValueError, "def requires a symbol")
	}
	s, ok := sym(args[0])
	if !ok {
		return nil, a.errf(pos, runtime.ValueError, "def requires a symbol")
	}

	// Intern the Var before analyzing init so self-recursive/forward
	// references within the same top-level form resolve.
	a.ns.Intern(s.Name)

	var init ast.Node
	var doc string
	rest := args[1:]
	if len(rest) > 0 {
		if str, ok := rest[0].(*value.String); ok && len(rest) > 1 {
			doc = str.V
			rest = rest[1:]
		}
	}
	if len(rest) > 0 {
		n, err := a.Analyze(rest[0])
		if err != nil {
			return nil, err
		}
		init = n
	}
	return ast.NewDef(pos, s.Name, init, isMacro, false, false, doc, ""), nil
}

func (a *Analyzer) analyzeSetBang(args []value.Value, pos ast.Pos) (ast.Node, error) {
	if len(args) != 2 {
		return nil, a.errf(pos, runtime.ValueError, "set! takes exactly 2 forms")
	}
	s, ok := sym(args[0])
	if !ok {
		return nil, a.errf(pos, runtime.ValueError, "set! target must be a symbol")
	}
	expr, err := a.Analyze(args[1])
	if err != nil {
		return nil, err
	}
	return ast.NewSetBang(pos, s.Namespace, s.Name, expr), nil
}

func (a *Analyzer) analyzeTry(args []value.Value, pos ast.Pos) (ast.Node, error) {
	var body []value.Value
	var catches []ast.CatchClause
	var finally []value.Value

	for _, f := range args {
		if l, ok := f.(*value.List); ok && l.Count() > 0 {
			if s, ok := sym(l.First()); ok {
				if s.Name == "catch" {
					elems := l.ToSlice()
					if len(elems) < 3 {
						return nil, a.errf(pos, runtime.ValueError, "catch requires a class and a binding")
					}
					className := ""
					if cs, ok := sym(elems[1]); ok {
						className = cs.Name
					}
					a.scope = newScope(a.scope, false)
					bindSym, _ := sym(elems[2])
					bindIdx := a.scope.bind(bindSym.Name)
					catchBody, err := a.analyzeBody(elems[3:])
					a.scope = a.scope.parent
					if err != nil {
						return nil, err
					}
					catches = append(catches, ast.CatchClause{ClassName: className, BindIdx: bindIdx, Body: catchBody})
					continue
				}
				if s.Name == "finally" {
					finally = append(finally, l.ToSlice()[1:]...)
					continue
				}
			}
		}
		body = append(body, f)
	}

	bodyNodes, err := a.analyzeBody(body)
	if err != nil {
		return nil, err
	}
	finallyNodes, err := a.analyzeBody(finally)
	if err != nil {
		return nil, err
	}
	return ast.NewTry(pos, bodyNodes, catches, finallyNodes), nil
}

func (a *Analyzer) analyzeDefMulti(args []value.Value, pos ast.Pos) (ast.Node, error) {
	if len(args) < 2 {
		return nil, a.errf(pos, runtime.ValueError, "defmulti requires a name and a dispatch function")
	}
	s, ok := sym(args[0])
	if !ok {
		return nil, a.errf(pos, runtime.ValueError, "defmulti requires a symbol name")
	}
	a.ns.Intern(s.Name)
	dispatchFn, err := a.Analyze(args[1])
	if err != nil {
		return nil, err
	}
	return ast.NewDefMulti(pos, s.Name, dispatchFn), nil
}

func (a *Analyzer) analyzeDefMethod(args []value.Value, pos ast.Pos) (ast.Node, error) {
	if len(args) < 3 {
		return nil, a.errf(pos, runtime.ValueError, "defmethod requires a name, dispatch value, and fn tail")
	}
	s, ok := sym(args[0])
	if !ok {
		return nil, a.errf(pos, runtime.ValueError, "defmethod requires a symbol name")
	}
	dispatchVal, err := a.Analyze(args[1])
	if err != nil {
		return nil, err
	}
	fnNode, err := a.analyzeFn("", args[2:], pos)
	if err != nil {
		return nil, err
	}
	return ast.NewDefMethod(pos, s.Name, dispatchVal, fnNode), nil
}

func (a *Analyzer) analyzeDefProtocol(args []value.Value, pos ast.Pos) (ast.Node, error) {
	if len(args) < 1 {
		return nil, a.errf(pos, runtime.ValueError, "defprotocol requires a name")
	}
	s, ok := sym(args[0])
	if !ok {
		return nil, a.errf(pos, runtime.ValueError, "defprotocol requires a symbol name")
	}
	var methods []ast.ProtocolMethodSig
	for _, f := range args[1:] {
		l, ok := f.(*value.List)
		if !ok || l.Count() < 2 {
			continue
		}
		elems := l.ToSlice()
		ms, ok := sym(elems[0])
		if !ok {
			continue
		}
		sigVec, ok := elems[1].(*value.Vector)
		arity := 0
		if ok {
			arity = sigVec.Count()
		}
		methods = append(methods, ast.ProtocolMethodSig{Name: ms.Name, Arity: arity})
	}
	a.ns.Intern(s.Name)
	return ast.NewDefProtocol(pos, s.Name, methods), nil
}

func (a *Analyzer) analyzeExtendType(args []value.Value, pos ast.Pos) (ast.Node, error) {
	if len(args) < 2 {
		return nil, a.errf(pos, runtime.ValueError, "extend-type requires a type and a protocol spec")
	}
	typeSym, ok := sym(args[0])
	if !ok {
		return nil, a.errf(pos, runtime.ValueError, "extend-type requires a symbol type name")
	}
	protoSym, ok := sym(args[1])
	if !ok {
		return nil, a.errf(pos, runtime.ValueError, "extend-type requires a protocol name")
	}
	var methods []ast.ExtendMethod
	for _, f := range args[2:] {
		l, ok := f.(*value.List)
		if !ok || l.Count() < 2 {
			continue
		}
		elems := l.ToSlice()
		ms, ok := sym(elems[0])
		if !ok {
			continue
		}
		fnNode, err := a.analyzeFn("", elems[1:], pos)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ast.ExtendMethod{Name: ms.Name, Fn: fnNode})
	}
	return ast.NewExtendType(pos, typeSym.Name, protoSym.Name, methods), nil
}

func (a *Analyzer) analyzeQuasiquote(args []value.Value, pos ast.Pos) (ast.Node, error) {
	if len(args) != 1 {
		return nil, a.errf(pos, runtime.ValueError, "quasiquote takes exactly one form")
	}
	// Quasiquote lowers to a plain quote of the template. No ~/~@
	// substitution is done here or anywhere else (core.lmn defines no
	// such macro), so unquote forms inside the template stay literal.
	return ast.NewQuote(pos, args[0]), nil
}
