package analyzer

import (
	"github.com/lumen-run/lumen/internal/ast"
	"github.com/lumen-run/lumen/internal/value"
)

// destructure lowers a binding pattern (a plain symbol, a sequential
// vector pattern with optional `& rest`/`:as all`, or a map pattern with
// `:keys`/`:or`/`:as`) against initNode into a flat list of scalar
// bindings plus accessor calls (spec.md §4.3). Nested patterns recurse.
//
// Accessor calls are lowered to ordinary unqualified var_refs (`nth`,
// `nthrest`, `get`, `get-or`) resolved at eval time against whatever
// defines them (`nth` and `get` are native builtins, `nthrest` and
// `get-or` are defined in core.lmn), the same indirection spec.md's design
// notes prescribe for resolving cross-references through Vars rather
// than direct pointers.
func (a *Analyzer) destructure(pattern value.Value, initNode ast.Node, pos ast.Pos) []ast.Binding {
	switch p := pattern.(type) {
	case *value.Symbol:
		idx := a.scope.bind(p.Name)
		return []ast.Binding{{Name: p.Name, Idx: idx, Init: initNode}}
	case *value.Vector:
		return a.destructureSeq(p, initNode, pos)
	case *value.ArrayMap:
		return a.destructureMap(mapEntries(p), initNode, pos)
	case *value.HashMap:
		return a.destructureMap(hashMapEntries(p), initNode, pos)
	}
	return nil
}

func mapEntries(m *value.ArrayMap) []struct{ K, V value.Value } {
	var out []struct{ K, V value.Value }
	m.Each(func(k, v value.Value) bool {
		out = append(out, struct{ K, V value.Value }{k, v})
		return true
	})
	return out
}

func hashMapEntries(m *value.HashMap) []struct{ K, V value.Value } {
	var out []struct{ K, V value.Value }
	m.Each(func(k, v value.Value) bool {
		out = append(out, struct{ K, V value.Value }{k, v})
		return true
	})
	return out
}

func (a *Analyzer) destructureSeq(pat *value.Vector, initNode ast.Node, pos ast.Pos) []ast.Binding {
	// Bind the init once to a hidden temp so repeated nth/rest calls
	// don't re-evaluate a side-effecting init expression.
	tempIdx := a.scope.bind(tempName())
	bindings := []ast.Binding{{Name: "", Idx: tempIdx, Init: initNode}}
	tempRef := ast.NewLocalRef(pos, "", tempIdx)

	n := pat.Count()
	i := 0
	for i < n {
		el, _ := pat.Nth(i)
		if sym, ok := el.(*value.Symbol); ok && sym.Name == "&" {
			consumed := i
			i++
			if i >= n {
				break
			}
			restPat, _ := pat.Nth(i)
			restInit := intrinsicCall("nthrest", []ast.Node{tempRef, intConst(consumed, pos)}, pos)
			bindings = append(bindings, a.destructure(restPat, restInit, pos)...)
			i++
			continue
		}
		if sym, ok := el.(*value.Symbol); ok && sym.Name == ":as" {
			i++
			if i >= n {
				break
			}
			asPat, _ := pat.Nth(i)
			bindings = append(bindings, a.destructure(asPat, tempRef, pos)...)
			i++
			continue
		}
		elemInit := intrinsicCall("nth", []ast.Node{tempRef, intConst(i, pos)}, pos)
		bindings = append(bindings, a.destructure(el, elemInit, pos)...)
		i++
	}
	return bindings
}

func (a *Analyzer) destructureMap(entries []struct{ K, V value.Value }, initNode ast.Node, pos ast.Pos) []ast.Binding {
	tempIdx := a.scope.bind(tempName())
	bindings := []ast.Binding{{Name: "", Idx: tempIdx, Init: initNode}}
	tempRef := ast.NewLocalRef(pos, "", tempIdx)

	var keysPat *value.Vector
	var orDefaults []struct{ K, V value.Value }
	var asPat value.Value

	for _, e := range entries {
		if kw, ok := e.K.(*value.Keyword); ok {
			switch kw.Name {
			case "keys":
				if v, ok := e.V.(*value.Vector); ok {
					keysPat = v
				}
				continue
			case "or":
				if m, ok := e.V.(*value.ArrayMap); ok {
					orDefaults = mapEntries(m)
				}
				continue
			case "as":
				asPat = e.V
				continue
			}
		}
		// `sym :key` pair
		getInit := intrinsicCall("get", []ast.Node{tempRef, constNode(e.V, pos)}, pos)
		bindings = append(bindings, a.destructure(e.K, getInit, pos)...)
	}

	if keysPat != nil {
		for i := 0; i < keysPat.Count(); i++ {
			sym, _ := keysPat.Nth(i)
			s, ok := sym.(*value.Symbol)
			if !ok {
				continue
			}
			kw := value.NewKeyword("", s.Name)
			var getInit ast.Node = intrinsicCall("get", []ast.Node{tempRef, constNode(kw, pos)}, pos)
			for _, d := range orDefaults {
				if dsym, ok := d.K.(*value.Symbol); ok && dsym.Name == s.Name {
					getInit = intrinsicCall("get-or", []ast.Node{tempRef, constNode(kw, pos), constNode(d.V, pos)}, pos)
				}
			}
			idx := a.scope.bind(s.Name)
			bindings = append(bindings, ast.Binding{Name: s.Name, Idx: idx, Init: getInit})
		}
	}

	if asPat != nil {
		bindings = append(bindings, a.destructure(asPat, tempRef, pos)...)
	}

	return bindings
}

var tempCounter int

func tempName() string {
	tempCounter++
	return "%destructure-temp%"
}

func intConst(n int, pos ast.Pos) ast.Node {
	return ast.NewConstant(pos, value.NewInt(int64(n)))
}

func constNode(v value.Value, pos ast.Pos) ast.Node {
	return ast.NewConstant(pos, v)
}

func intrinsicCall(name string, args []ast.Node, pos ast.Pos) ast.Node {
	return ast.NewCall(pos, ast.NewVarRef(pos, "", name), args)
}
