// Package corelib bundles the native and Lumen-source parts of the
// standard environment every session bootstraps with: a set of
// Go-native builtins for the operations that need host machinery
// (arithmetic, printing, atoms, collection primitives) plus core.lmn,
// a small Lumen-source library of macros and derived sequence
// functions layered on top of them.
package corelib

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/lumen-run/lumen/internal/ast"
	"github.com/lumen-run/lumen/internal/runtime"
	"github.com/lumen-run/lumen/internal/value"
)

// Install interns every native builtin into ns, the namespace the
// bootstrap sequence loads the standard library into.
func Install(ns *runtime.Namespace) {
	for name, impl := range builtinTable() {
		v := ns.Intern(name)
		v.SetRoot(value.NewBuiltin(name, impl))
	}
}

func builtinTable() map[string]value.BuiltinImpl {
	return map[string]value.BuiltinImpl{
		"+":   arithFold("+", 0, addOp),
		"*":   arithFold("*", 1, mulOp),
		"-":   arithSub,
		"/":   arithDiv,
		"mod": arith2("mod", modOp),
		"rem": arith2("rem", remOp),

		"<":  cmpChain("<", func(c int) bool { return c < 0 }),
		"<=": cmpChain("<=", func(c int) bool { return c <= 0 }),
		">":  cmpChain(">", func(c int) bool { return c > 0 }),
		">=": cmpChain(">=", func(c int) bool { return c >= 0 }),
		"=":  biEquals,
		"==": biEquals,

		"not":    biNot,
		"nil?":   typePred(func(v value.Value) bool { return v == nil || v == value.Nil }),
		"true?":  typePred(func(v value.Value) bool { b, ok := v.(*value.Bool); return ok && b.V }),
		"false?": typePred(func(v value.Value) bool { b, ok := v.(*value.Bool); return ok && !b.V }),
		"zero?":  numPred(func(f float64) bool { return f == 0 }),
		"pos?":   numPred(func(f float64) bool { return f > 0 }),
		"neg?":   numPred(func(f float64) bool { return f < 0 }),
		"even?":  intPred(func(i int64) bool { return i%2 == 0 }),
		"odd?":   intPred(func(i int64) bool { return i%2 != 0 }),

		"string?":  typePred(func(v value.Value) bool { _, ok := v.(*value.String); return ok }),
		"symbol?":  typePred(func(v value.Value) bool { _, ok := v.(*value.Symbol); return ok }),
		"keyword?": typePred(func(v value.Value) bool { _, ok := v.(*value.Keyword); return ok }),
		"vector?":  typePred(func(v value.Value) bool { _, ok := v.(*value.Vector); return ok }),
		"list?":    typePred(func(v value.Value) bool { _, ok := v.(*value.List); return ok }),
		"map?":     typePred(func(v value.Value) bool { _, ok := v.(value.Associative); return ok }),
		"set?":     typePred(func(v value.Value) bool { _, ok := v.(*value.Set); return ok }),
		"fn?": typePred(func(v value.Value) bool {
			switch v.(type) {
			case *value.Fn, *value.BuiltinFn:
				return true
			}
			return false
		}),
		"number?": typePred(func(v value.Value) bool {
			switch v.(type) {
			case *value.Int, *value.Float:
				return true
			}
			return false
		}),

		"vector":   biVector,
		"list":     biList,
		"hash-map": biHashMap,
		"hash-set": biHashSet,

		"count":     biCount,
		"empty?":    biEmpty,
		"conj":      biConj,
		"cons":      biCons,
		"first":     biFirst,
		"rest":      biRest,
		"next":      biNext,
		"seq":       biSeq,
		"get":       biGet,
		"assoc":     biAssoc,
		"dissoc":    biDissoc,
		"contains?": biContains,
		"keys":      biKeys,
		"vals":      biVals,
		"nth":       biNth,
		"into":      biInto,
		"reverse":   biReverse,
		"sort":      biSort,
		"concat":    biConcat,

		"transient":  biTransient,
		"persistent!": biPersistentBang,
		"conj!":      biConjBang,
		"assoc!":     biAssocBang,
		"dissoc!":    biDissocBang,
		"disj!":      biDisjBang,

		"map":     biMap,
		"filter":  biFilter,
		"take":    biTake,
		"range":   biRange,
		"iterate": biIterate,
		"reduce":  biReduce,
		"reduced":  biReduced,
		"reduced?": biIsReduced,

		"str":      biStr,
		"pr-str":   biPrStr,
		"print":    biPrint,
		"println":  biPrintln,
		"prn":      biPrn,

		"apply":    biApply,
		"identity": biIdentity,

		"atom":             biAtom,
		"deref":            biDeref,
		"swap!":            biSwap,
		"reset!":           biReset,
		"compare-and-set!": biCompareAndSet,

		"ex-info":    biExInfo,
		"ex-message": biExMessage,
		"ex-data":    biExData,
	}
}

func argErr(name, msg string) error {
	return runtime.NewError(runtime.ArityError, runtime.PhaseEval, name+": "+msg, ast.Pos{})
}

func asNum(name string, v value.Value) (float64, bool, error) {
	switch t := v.(type) {
	case *value.Int:
		return float64(t.V), true, nil
	case *value.Float:
		return t.V, false, nil
	}
	return 0, false, runtime.NewError(runtime.TypeError, runtime.PhaseEval,
		fmt.Sprintf("%s: %s is not a number", name, value.Inspect(v)), ast.Pos{})
}

func addOp(a, b float64) float64 { return a + b }
func mulOp(a, b float64) float64 { return a * b }

func arithFold(name string, identity float64, op func(a, b float64) float64) value.BuiltinImpl {
	return func(_ interface{}, args []value.Value) (value.Value, error) {
		allInt := true
		acc := identity
		for _, a := range args {
			f, isInt, err := asNum(name, a)
			if err != nil {
				return nil, err
			}
			if !isInt {
				allInt = false
			}
			acc = op(acc, f)
		}
		if allInt {
			return value.NewInt(int64(acc)), nil
		}
		return value.NewFloat(acc), nil
	}
}

func arithSub(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) == 0 {
		return nil, argErr("-", "requires at least 1 argument")
	}
	first, isInt, err := asNum("-", args[0])
	if err != nil {
		return nil, err
	}
	if len(args) == 1 {
		if isInt {
			return value.NewInt(int64(-first)), nil
		}
		return value.NewFloat(-first), nil
	}
	allInt := isInt
	acc := first
	for _, a := range args[1:] {
		f, i, err := asNum("-", a)
		if err != nil {
			return nil, err
		}
		allInt = allInt && i
		acc -= f
	}
	if allInt {
		return value.NewInt(int64(acc)), nil
	}
	return value.NewFloat(acc), nil
}

func arithDiv(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) == 0 {
		return nil, argErr("/", "requires at least 1 argument")
	}
	first, isInt, err := asNum("/", args[0])
	if err != nil {
		return nil, err
	}
	if len(args) == 1 {
		return divAll(1, isInt, []value.Value{args[0]})
	}
	return divAll(first, isInt, args[1:])
}

func divAll(numer float64, numerIsInt bool, rest []value.Value) (value.Value, error) {
	allInt := numerIsInt
	acc := numer
	for _, a := range rest {
		f, i, err := asNum("/", a)
		if err != nil {
			return nil, err
		}
		if f == 0 {
			return nil, runtime.NewError(runtime.ArithmeticError, runtime.PhaseEval, "divide by zero", ast.Pos{})
		}
		allInt = allInt && i
		acc /= f
	}
	if allInt && math.Trunc(acc) == acc {
		return value.NewInt(int64(acc)), nil
	}
	return value.NewFloat(acc), nil
}

func modOp(a, b int64) int64 {
	m := a % b
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}
	return m
}
func remOp(a, b int64) int64 { return a % b }

func arith2(name string, op func(a, b int64) int64) value.BuiltinImpl {
	return func(_ interface{}, args []value.Value) (value.Value, error) {
		if len(args) != 2 {
			return nil, argErr(name, "requires exactly 2 arguments")
		}
		a, ok1 := args[0].(*value.Int)
		b, ok2 := args[1].(*value.Int)
		if !ok1 || !ok2 {
			return nil, runtime.NewError(runtime.TypeError, runtime.PhaseEval, name+" requires integer arguments", ast.Pos{})
		}
		if b.V == 0 {
			return nil, runtime.NewError(runtime.ArithmeticError, runtime.PhaseEval, "divide by zero", ast.Pos{})
		}
		return value.NewInt(op(a.V, b.V)), nil
	}
}

func cmpChain(name string, ok func(c int) bool) value.BuiltinImpl {
	return func(_ interface{}, args []value.Value) (value.Value, error) {
		for i := 0; i+1 < len(args); i++ {
			af, _, err := asNum(name, args[i])
			if err != nil {
				return nil, err
			}
			bf, _, err := asNum(name, args[i+1])
			if err != nil {
				return nil, err
			}
			c := 0
			switch {
			case af < bf:
				c = -1
			case af > bf:
				c = 1
			}
			if !ok(c) {
				return value.False, nil
			}
		}
		return value.True, nil
	}
}

func biEquals(_ interface{}, args []value.Value) (value.Value, error) {
	for i := 0; i+1 < len(args); i++ {
		if !value.Equals(args[i], args[i+1]) {
			return value.False, nil
		}
	}
	return value.True, nil
}

func biNot(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("not", "requires exactly 1 argument")
	}
	return value.Bool_(!value.Truthy(args[0])), nil
}

func typePred(pred func(v value.Value) bool) value.BuiltinImpl {
	return func(_ interface{}, args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return nil, argErr("predicate", "requires exactly 1 argument")
		}
		return value.Bool_(pred(args[0])), nil
	}
}

func numPred(pred func(f float64) bool) value.BuiltinImpl {
	return func(_ interface{}, args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return nil, argErr("predicate", "requires exactly 1 argument")
		}
		f, _, err := asNum("predicate", args[0])
		if err != nil {
			return nil, err
		}
		return value.Bool_(pred(f)), nil
	}
}

func intPred(pred func(i int64) bool) value.BuiltinImpl {
	return func(_ interface{}, args []value.Value) (value.Value, error) {
		if len(args) != 1 {
			return nil, argErr("predicate", "requires exactly 1 argument")
		}
		i, ok := args[0].(*value.Int)
		if !ok {
			return nil, runtime.NewError(runtime.TypeError, runtime.PhaseEval, "predicate requires an int", ast.Pos{})
		}
		return value.Bool_(pred(i.V)), nil
	}
}

func biVector(_ interface{}, args []value.Value) (value.Value, error) { return value.VectorFrom(args), nil }
func biList(_ interface{}, args []value.Value) (value.Value, error)   { return value.ListFrom(args), nil }
func biHashMap(_ interface{}, args []value.Value) (value.Value, error) {
	return value.ArrayMapFrom(args), nil
}
func biHashSet(_ interface{}, args []value.Value) (value.Value, error) { return value.SetFrom(args), nil }

func biCount(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("count", "requires exactly 1 argument")
	}
	return value.NewInt(int64(value.Count(args[0]))), nil
}

func biEmpty(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("empty?", "requires exactly 1 argument")
	}
	return value.Bool_(value.IsEmpty(args[0])), nil
}

func biConj(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) == 0 {
		return value.EmptyList, nil
	}
	coll := args[0]
	for _, item := range args[1:] {
		switch c := coll.(type) {
		case *value.Vector:
			coll = c.Conj(item)
		case *value.List:
			coll = c.Conj(item)
		case *value.Set:
			coll = c.Conj(item)
		case value.Associative:
			entry, ok := item.(*value.Vector)
			if !ok || entry.Count() != 2 {
				return nil, runtime.NewError(runtime.TypeError, runtime.PhaseEval, "conj: map entries must be [k v] pairs", ast.Pos{})
			}
			k, _ := entry.Nth(0)
			v, _ := entry.Nth(1)
			coll = value.Put(c, k, v)
		case nil:
			coll = value.ListFrom([]value.Value{item})
		default:
			if c == value.Nil {
				coll = value.ListFrom([]value.Value{item})
				continue
			}
			return nil, runtime.NewError(runtime.TypeError, runtime.PhaseEval, "conj: unsupported collection "+value.Inspect(coll), ast.Pos{})
		}
	}
	return coll, nil
}

func biCons(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return nil, argErr("cons", "requires exactly 2 arguments")
	}
	return value.NewCons(args[0], value.Seq(args[1])), nil
}

func biFirst(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("first", "requires exactly 1 argument")
	}
	return value.First(args[0]), nil
}

func biRest(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("rest", "requires exactly 1 argument")
	}
	return value.Rest(args[0]), nil
}

func biNext(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("next", "requires exactly 1 argument")
	}
	r := value.Rest(args[0])
	if value.IsEmpty(r) {
		return value.Nil, nil
	}
	return r, nil
}

func biSeq(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("seq", "requires exactly 1 argument")
	}
	return value.Seq(args[0]), nil
}

func biGet(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, argErr("get", "requires 2 or 3 arguments")
	}
	var notFound value.Value = value.Nil
	if len(args) == 3 {
		notFound = args[2]
	}
	return value.Get(args[0], args[1], notFound), nil
}

func biAssoc(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) < 3 || len(args)%2 == 0 {
		return nil, argErr("assoc", "requires an odd number of arguments >= 3")
	}
	coll := args[0]
	for i := 1; i+1 < len(args); i += 2 {
		switch c := coll.(type) {
		case *value.Vector:
			idx, ok := args[i].(*value.Int)
			if !ok {
				return nil, runtime.NewError(runtime.TypeError, runtime.PhaseEval, "assoc: vector index must be an int", ast.Pos{})
			}
			coll = c.Assoc(int(idx.V), args[i+1])
		default:
			coll = value.Put(coll, args[i], args[i+1])
		}
	}
	return coll, nil
}

func biDissoc(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) < 1 {
		return nil, argErr("dissoc", "requires at least 1 argument")
	}
	coll := args[0]
	for _, k := range args[1:] {
		coll = value.Dissoc(coll, k)
	}
	return coll, nil
}

func biContains(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return nil, argErr("contains?", "requires exactly 2 arguments")
	}
	switch c := args[0].(type) {
	case value.Associative:
		_, ok := c.Get(args[1])
		return value.Bool_(ok), nil
	case *value.Set:
		return value.Bool_(c.Contains(args[1])), nil
	case *value.Vector:
		idx, ok := args[1].(*value.Int)
		if !ok {
			return value.False, nil
		}
		return value.Bool_(idx.V >= 0 && int(idx.V) < c.Count()), nil
	}
	return value.False, nil
}

func biKeys(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("keys", "requires exactly 1 argument")
	}
	m, ok := args[0].(value.Associative)
	if !ok {
		return nil, runtime.NewError(runtime.TypeError, runtime.PhaseEval, "keys: not a map", ast.Pos{})
	}
	var out []value.Value
	m.Each(func(k, _ value.Value) bool { out = append(out, k); return true })
	return value.ListFrom(out), nil
}

func biVals(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("vals", "requires exactly 1 argument")
	}
	m, ok := args[0].(value.Associative)
	if !ok {
		return nil, runtime.NewError(runtime.TypeError, runtime.PhaseEval, "vals: not a map", ast.Pos{})
	}
	var out []value.Value
	m.Each(func(_, v value.Value) bool { out = append(out, v); return true })
	return value.ListFrom(out), nil
}

func biNth(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, argErr("nth", "requires 2 or 3 arguments")
	}
	idx, ok := args[1].(*value.Int)
	if !ok {
		return nil, runtime.NewError(runtime.TypeError, runtime.PhaseEval, "nth: index must be an int", ast.Pos{})
	}
	if v, ok := args[0].(*value.Vector); ok {
		if el, ok := v.Nth(int(idx.V)); ok {
			return el, nil
		}
	} else {
		s := value.Seq(args[0])
		i := idx.V
		for s != value.Nil && i > 0 {
			_, s = value.Uncons(s)
			i--
		}
		if s != value.Nil {
			el, _ := value.Uncons(s)
			return el, nil
		}
	}
	if len(args) == 3 {
		return args[2], nil
	}
	return nil, runtime.NewError(runtime.ValueError, runtime.PhaseEval, "nth: index out of bounds", ast.Pos{})
}

func biInto(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return nil, argErr("into", "requires exactly 2 arguments")
	}
	coll := args[0]
	s := value.Seq(args[1])
	for s != value.Nil {
		var item value.Value
		item, s = value.Uncons(s)
		var err error
		coll, err = biConj(nil, []value.Value{coll, item})
		if err != nil {
			return nil, err
		}
	}
	return coll, nil
}

func biReverse(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("reverse", "requires exactly 1 argument")
	}
	var out []value.Value
	s := value.Seq(args[0])
	for s != value.Nil {
		var item value.Value
		item, s = value.Uncons(s)
		out = append([]value.Value{item}, out...)
	}
	return value.ListFrom(out), nil
}

func biSort(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("sort", "requires exactly 1 argument")
	}
	var out []value.Value
	s := value.Seq(args[0])
	for s != value.Nil {
		var item value.Value
		item, s = value.Uncons(s)
		out = append(out, item)
	}
	sort.SliceStable(out, func(i, j int) bool {
		fi, _, _ := asNum("sort", out[i])
		fj, _, _ := asNum("sort", out[j])
		return fi < fj
	})
	return value.ListFrom(out), nil
}

func biConcat(_ interface{}, args []value.Value) (value.Value, error) {
	var out []value.Value
	for _, a := range args {
		s := value.Seq(a)
		for s != value.Nil {
			var item value.Value
			item, s = value.Uncons(s)
			out = append(out, item)
		}
	}
	return value.ListFrom(out), nil
}

// biTransient wraps a persistent Vector/ArrayMap/HashMap/Set in its
// mutable single-owner builder counterpart (spec.md §4.1's
// transient/persistent discipline: a distinct variant, not a flag).
func biTransient(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("transient", "requires exactly 1 argument")
	}
	switch c := args[0].(type) {
	case *value.Vector:
		return value.NewTransientVector(c), nil
	case *value.ArrayMap:
		return value.NewTransientMap(c), nil
	case *value.HashMap:
		return value.NewTransientMap(c), nil
	case *value.Set:
		return value.NewTransientSet(c), nil
	}
	return nil, runtime.NewError(runtime.TypeError, runtime.PhaseEval, "transient: unsupported collection "+value.Inspect(args[0]), ast.Pos{})
}

func biPersistentBang(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("persistent!", "requires exactly 1 argument")
	}
	switch t := args[0].(type) {
	case *value.TransientVector:
		return frozenOrErr(t.Persistent())
	case *value.TransientMap:
		return frozenOrErr(t.Persistent())
	case *value.TransientSet:
		return frozenOrErr(t.Persistent())
	}
	return nil, runtime.NewError(runtime.TypeError, runtime.PhaseEval, "persistent!: not a transient", ast.Pos{})
}

func frozenOrErr(v value.Value, err error) (value.Value, error) {
	if err != nil {
		return nil, runtime.NewError(runtime.TypeError, runtime.PhaseEval, err.Error(), ast.Pos{})
	}
	return v, nil
}

// biConjBang mutates a transient in place and returns it (Clojure's
// `conj!`/`assoc!` contract: callers must use the returned transient,
// since a resize may have produced a new underlying node).
func biConjBang(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return nil, argErr("conj!", "requires exactly 2 arguments")
	}
	switch t := args[0].(type) {
	case *value.TransientVector:
		if err := t.ConjBang(args[1]); err != nil {
			return nil, transientErr("conj!", err)
		}
		return t, nil
	case *value.TransientSet:
		if err := t.ConjBang(args[1]); err != nil {
			return nil, transientErr("conj!", err)
		}
		return t, nil
	}
	return nil, runtime.NewError(runtime.TypeError, runtime.PhaseEval, "conj!: not a transient vector or set", ast.Pos{})
}

func biAssocBang(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 3 {
		return nil, argErr("assoc!", "requires exactly 3 arguments")
	}
	switch t := args[0].(type) {
	case *value.TransientVector:
		idx, ok := args[1].(*value.Int)
		if !ok {
			return nil, runtime.NewError(runtime.TypeError, runtime.PhaseEval, "assoc!: vector index must be an int", ast.Pos{})
		}
		if err := t.AssocBang(int(idx.V), args[2]); err != nil {
			return nil, transientErr("assoc!", err)
		}
		return t, nil
	case *value.TransientMap:
		if err := t.AssocBang(args[1], args[2]); err != nil {
			return nil, transientErr("assoc!", err)
		}
		return t, nil
	}
	return nil, runtime.NewError(runtime.TypeError, runtime.PhaseEval, "assoc!: not a transient vector or map", ast.Pos{})
}

func biDissocBang(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return nil, argErr("dissoc!", "requires exactly 2 arguments")
	}
	t, ok := args[0].(*value.TransientMap)
	if !ok {
		return nil, runtime.NewError(runtime.TypeError, runtime.PhaseEval, "dissoc!: not a transient map", ast.Pos{})
	}
	if err := t.DissocBang(args[1]); err != nil {
		return nil, transientErr("dissoc!", err)
	}
	return t, nil
}

func biDisjBang(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return nil, argErr("disj!", "requires exactly 2 arguments")
	}
	t, ok := args[0].(*value.TransientSet)
	if !ok {
		return nil, runtime.NewError(runtime.TypeError, runtime.PhaseEval, "disj!: not a transient set", ast.Pos{})
	}
	if err := t.DisjBang(args[1]); err != nil {
		return nil, transientErr("disj!", err)
	}
	return t, nil
}

func transientErr(name string, err error) error {
	return runtime.NewError(runtime.TypeError, runtime.PhaseEval, name+": "+err.Error(), ast.Pos{})
}

// biMap builds the `lazy_map` structural variant for its common
// single-collection arity, the shape FusedReduce (spec.md §4.8) walks
// without realizing intermediate cons cells; the n-ary lockstep form
// falls back to an opaque thunk since fusion only targets chains built
// from a single source.
func biMap(raw interface{}, args []value.Value) (value.Value, error) {
	if len(args) < 2 {
		return nil, argErr("map", "requires at least 2 arguments")
	}
	env, err := builtinEnv(raw, "map")
	if err != nil {
		return nil, err
	}
	fn := args[0]
	if len(args) == 2 {
		return value.NewLazyMap(args[1], fn, env.Applier), nil
	}
	return mapMulti(env.Applier, fn, append([]value.Value{}, args[1:]...)), nil
}

func mapMulti(ap value.Applier, fn value.Value, colls []value.Value) *value.LazySeq {
	return value.NewLazy(func() (value.Value, error) {
		heads := make([]value.Value, len(colls))
		rests := make([]value.Value, len(colls))
		for i, c := range colls {
			if value.IsEmpty(c) {
				return value.Nil, nil
			}
			heads[i], rests[i] = value.Uncons(value.Seq(c))
		}
		v, err := ap.Apply(fn, heads)
		if err != nil {
			return nil, err
		}
		return value.NewCons(v, mapMulti(ap, fn, rests)), nil
	})
}

func biFilter(raw interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return nil, argErr("filter", "requires exactly 2 arguments")
	}
	env, err := builtinEnv(raw, "filter")
	if err != nil {
		return nil, err
	}
	return value.NewFilter(args[1], args[0], env.Applier), nil
}

func biTake(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return nil, argErr("take", "requires exactly 2 arguments")
	}
	n, ok := args[0].(*value.Int)
	if !ok {
		return nil, argErr("take", "first argument must be an int")
	}
	return value.NewLazyTake(args[1], n.V), nil
}

func rangeInt(name string, v value.Value) (int64, error) {
	i, ok := v.(*value.Int)
	if !ok {
		return 0, argErr(name, "arguments must be ints")
	}
	return i.V, nil
}

func biRange(_ interface{}, args []value.Value) (value.Value, error) {
	switch len(args) {
	case 0:
		return value.NewRange(0, 1, 0, false), nil
	case 1:
		end, err := rangeInt("range", args[0])
		if err != nil {
			return nil, err
		}
		return value.NewRange(0, 1, end, true), nil
	case 2:
		start, err := rangeInt("range", args[0])
		if err != nil {
			return nil, err
		}
		end, err := rangeInt("range", args[1])
		if err != nil {
			return nil, err
		}
		return value.NewRange(start, 1, end, true), nil
	case 3:
		start, err := rangeInt("range", args[0])
		if err != nil {
			return nil, err
		}
		end, err := rangeInt("range", args[1])
		if err != nil {
			return nil, err
		}
		step, err := rangeInt("range", args[2])
		if err != nil {
			return nil, err
		}
		return value.NewRange(start, step, end, true), nil
	}
	return nil, argErr("range", "requires 0 to 3 arguments")
}

func biIterate(raw interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return nil, argErr("iterate", "requires exactly 2 arguments")
	}
	env, err := builtinEnv(raw, "iterate")
	if err != nil {
		return nil, err
	}
	return value.NewIterate(args[0], args[1], env.Applier), nil
}

// biReduce drives FusedReduce (spec.md §4.8) so reducing over a
// map/filter/take chain walks the chain's ultimate base source once,
// applying every queued transform per element inline; FusedReduce
// falls back to a plain Seq/Uncons walk for any non-lazy collection.
func biReduce(raw interface{}, args []value.Value) (value.Value, error) {
	env, err := builtinEnv(raw, "reduce")
	if err != nil {
		return nil, err
	}
	if env.Applier == nil {
		return nil, runtime.NewError(runtime.InternalError, runtime.PhaseEval, "reduce requires an Applier", ast.Pos{})
	}
	var f, acc, coll value.Value
	switch len(args) {
	case 2:
		f, coll = args[0], args[1]
		if value.IsEmpty(coll) {
			return env.Applier.Apply(f, nil)
		}
		acc = value.First(coll)
		coll = value.Rest(coll)
	case 3:
		f, acc, coll = args[0], args[1], args[2]
	default:
		return nil, argErr("reduce", "requires 2 or 3 arguments")
	}
	err = value.FusedReduce(coll, env.Applier, func(el value.Value) (bool, error) {
		r, applyErr := env.Applier.Apply(f, []value.Value{acc, el})
		if applyErr != nil {
			return false, applyErr
		}
		if red, ok := r.(*value.Reduced); ok {
			acc = red.Value
			return false, nil
		}
		acc = r
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if red, ok := acc.(*value.Reduced); ok {
		acc = red.Value
	}
	return acc, nil
}

// biReduced wraps a value in the `reduced` early-termination marker
// (spec.md §3.1/glossary) so a reducing function can signal `reduce`
// to stop without walking the rest of the collection.
func biReduced(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("reduced", "requires exactly 1 argument")
	}
	return value.NewReduced(args[0]), nil
}

func biIsReduced(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("reduced?", "requires exactly 1 argument")
	}
	_, ok := args[0].(*value.Reduced)
	return value.Bool_(ok), nil
}

func biStr(_ interface{}, args []value.Value) (value.Value, error) {
	var sb strings.Builder
	for _, a := range args {
		if a == nil || a == value.Nil {
			continue
		}
		sb.WriteString(value.PrintStr(a, value.Unbounded))
	}
	return value.NewString(sb.String()), nil
}

func biPrStr(_ interface{}, args []value.Value) (value.Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = value.PrStr(a, value.Unbounded)
	}
	return value.NewString(strings.Join(parts, " ")), nil
}

func biPrint(_ interface{}, args []value.Value) (value.Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = value.PrintStr(a, value.Unbounded)
	}
	fmt.Fprint(os.Stdout, strings.Join(parts, " "))
	return value.Nil, nil
}

func biPrintln(_ interface{}, args []value.Value) (value.Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = value.PrintStr(a, value.Unbounded)
	}
	fmt.Fprintln(os.Stdout, strings.Join(parts, " "))
	return value.Nil, nil
}

func biPrn(_ interface{}, args []value.Value) (value.Value, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = value.PrStr(a, value.Unbounded)
	}
	fmt.Fprintln(os.Stdout, strings.Join(parts, " "))
	return value.Nil, nil
}

func biIdentity(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("identity", "requires exactly 1 argument")
	}
	return args[0], nil
}

// builtinEnv recovers the *runtime.Environment a backend passes as the
// first argument to every BuiltinImpl call (vm.call and
// treewalk.applyValue both pass their own env through unchanged).
func builtinEnv(raw interface{}, name string) (*runtime.Environment, error) {
	env, ok := raw.(*runtime.Environment)
	if !ok {
		return nil, runtime.NewError(runtime.InternalError, runtime.PhaseEval, name+": no environment in scope", ast.Pos{})
	}
	return env, nil
}

func biApply(raw interface{}, args []value.Value) (value.Value, error) {
	if len(args) < 2 {
		return nil, argErr("apply", "requires at least 2 arguments")
	}
	env, err := builtinEnv(raw, "apply")
	if err != nil {
		return nil, err
	}
	fn := args[0]
	fixed := args[1 : len(args)-1]
	rest := value.Seq(args[len(args)-1])
	callArgs := append([]value.Value{}, fixed...)
	for rest != value.Nil {
		var item value.Value
		item, rest = value.Uncons(rest)
		callArgs = append(callArgs, item)
	}
	if env.Applier == nil {
		return nil, runtime.NewError(runtime.InternalError, runtime.PhaseEval, "apply requires an Applier", ast.Pos{})
	}
	return env.Applier.Apply(fn, callArgs)
}

func biAtom(_ interface{}, args []value.Value) (value.Value, error) {
	var v value.Value = value.Nil
	if len(args) > 0 {
		v = args[0]
	}
	return value.NewAtom(v), nil
}

func biDeref(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("deref", "requires exactly 1 argument")
	}
	switch t := args[0].(type) {
	case *value.Atom:
		return t.Deref(), nil
	case *value.VarRef:
		return t.Deref(), nil
	}
	return nil, runtime.NewError(runtime.TypeError, runtime.PhaseEval, "deref: not derefable", ast.Pos{})
}

func biSwap(raw interface{}, args []value.Value) (value.Value, error) {
	if len(args) < 2 {
		return nil, argErr("swap!", "requires at least 2 arguments")
	}
	env, err := builtinEnv(raw, "swap!")
	if err != nil {
		return nil, err
	}
	a, ok := args[0].(*value.Atom)
	if !ok {
		return nil, runtime.NewError(runtime.TypeError, runtime.PhaseEval, "swap!: not an atom", ast.Pos{})
	}
	return runtime.Swap(env.Applier, a, args[1], args[2:])
}

func biReset(raw interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 2 {
		return nil, argErr("reset!", "requires exactly 2 arguments")
	}
	env, err := builtinEnv(raw, "reset!")
	if err != nil {
		return nil, err
	}
	a, ok := args[0].(*value.Atom)
	if !ok {
		return nil, runtime.NewError(runtime.TypeError, runtime.PhaseEval, "reset!: not an atom", ast.Pos{})
	}
	return runtime.Reset(env.Applier, a, args[1])
}

func biCompareAndSet(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 3 {
		return nil, argErr("compare-and-set!", "requires exactly 3 arguments")
	}
	a, ok := args[0].(*value.Atom)
	if !ok {
		return nil, runtime.NewError(runtime.TypeError, runtime.PhaseEval, "compare-and-set!: not an atom", ast.Pos{})
	}
	return value.Bool_(a.CompareAndSet(args[1], args[2])), nil
}

func biExInfo(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) < 2 {
		return nil, argErr("ex-info", "requires at least 2 arguments")
	}
	msg, ok := args[0].(*value.String)
	if !ok {
		return nil, runtime.NewError(runtime.TypeError, runtime.PhaseEval, "ex-info: message must be a string", ast.Pos{})
	}
	data := args[1]
	return value.ArrayMapFrom([]value.Value{
		value.NewKeyword("", "type"), value.NewKeyword("", "ex-info"),
		value.NewKeyword("", "message"), msg,
		value.NewKeyword("", "data"), data,
	}), nil
}

func biExMessage(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("ex-message", "requires exactly 1 argument")
	}
	m, ok := args[0].(value.Associative)
	if !ok {
		return value.Nil, nil
	}
	if v, ok := m.Get(value.NewKeyword("", "message")); ok {
		return v, nil
	}
	return value.Nil, nil
}

func biExData(_ interface{}, args []value.Value) (value.Value, error) {
	if len(args) != 1 {
		return nil, argErr("ex-data", "requires exactly 1 argument")
	}
	m, ok := args[0].(value.Associative)
	if !ok {
		return value.Nil, nil
	}
	if v, ok := m.Get(value.NewKeyword("", "data")); ok {
		return v, nil
	}
	return value.Nil, nil
}
