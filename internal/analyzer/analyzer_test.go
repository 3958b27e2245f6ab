package analyzer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lumen-run/lumen/internal/ast"
	"github.com/lumen-run/lumen/internal/reader"
	"github.com/lumen-run/lumen/internal/runtime"
	"github.com/lumen-run/lumen/internal/value"
)

func newTestAnalyzer(t *testing.T) (*Analyzer, *runtime.Environment) {
	t.Helper()
	env := runtime.NewEnvironment()
	return New(env, env.CurrentNamespace(), nil), env
}

func readOne(t *testing.T, env *runtime.Environment, src string) value.Value {
	t.Helper()
	r := reader.New(src, "test", env.Interner)
	forms, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, forms, 1)
	return forms[0].Value
}

func analyzeSrc(t *testing.T, a *Analyzer, env *runtime.Environment, src string) ast.Node {
	t.Helper()
	form := readOne(t, env, src)
	n, err := a.Analyze(form)
	require.NoError(t, err)
	return n
}

func TestAnalyzeSymbolUnresolvedLocalBecomesVarRef(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, "foo")
	vr, ok := n.(*ast.VarRef)
	require.True(t, ok)
	require.Equal(t, "foo", vr.Name)
	require.Equal(t, "", vr.Namespace)
}

func TestAnalyzeVectorLiteralLowersToVectorIntrinsicCall(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, "[1 (+ 1 2)]")
	call, ok := n.(*ast.Call)
	require.True(t, ok)
	callee := call.Callee.(*ast.VarRef)
	require.Equal(t, "vector", callee.Name)
	require.Len(t, call.Args, 2)
}

func TestAnalyzeMapLiteralLowersToHashMapIntrinsicCall(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, "{:a 1 :b 2}")
	call, ok := n.(*ast.Call)
	require.True(t, ok)
	require.Equal(t, "hash-map", call.Callee.(*ast.VarRef).Name)
	require.Len(t, call.Args, 4)
}

func TestAnalyzeSetLiteralLowersToHashSetIntrinsicCall(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, "#{1 2 3}")
	call, ok := n.(*ast.Call)
	require.True(t, ok)
	require.Equal(t, "hash-set", call.Callee.(*ast.VarRef).Name)
	require.Len(t, call.Args, 3)
}

func TestAnalyzeIfRequiresTwoOrThreeForms(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, "(if true 1 2)")
	ifNode, ok := n.(*ast.If)
	require.True(t, ok)
	require.NotNil(t, ifNode.Test)
	require.NotNil(t, ifNode.Then)
	require.NotNil(t, ifNode.Else)

	n2 := analyzeSrc(t, a, env, "(if true 1)")
	ifNode2 := n2.(*ast.If)
	elseConst, ok := ifNode2.Else.(*ast.Constant)
	require.True(t, ok)
	require.Equal(t, value.Nil, elseConst.Value)

	form := readOne(t, env, "(if true)")
	_, err := a.Analyze(form)
	require.Error(t, err)
}

func TestAnalyzeLetBindsLocalsWithDistinctSlots(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, "(let [x 1 y 2] (+ x y))")
	let, ok := n.(*ast.Let)
	require.True(t, ok)
	require.Len(t, let.Bindings, 2)
	require.Equal(t, "x", let.Bindings[0].Name)
	require.Equal(t, "y", let.Bindings[1].Name)
	require.NotEqual(t, let.Bindings[0].Idx, let.Bindings[1].Idx)

	// Scope was popped back to the enclosing one after analyzing the let.
	require.Nil(t, a.scope.parent)
}

func TestAnalyzeLetBodyResolvesBoundNamesAsLocalRefs(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, "(let [x 1] x)")
	let := n.(*ast.Let)
	require.Len(t, let.Body, 1)
	ref, ok := let.Body[0].(*ast.LocalRef)
	require.True(t, ok)
	require.Equal(t, "x", ref.Name)
	require.Equal(t, let.Bindings[0].Idx, ref.Idx)
	require.Equal(t, 0, ref.Depth)
}

func TestAnalyzeFnBodyCrossesFunctionBoundaryForUpvalueDepth(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, "(let [x 1] (fn [] x))")
	let := n.(*ast.Let)
	fn := let.Body[0].(*ast.Fn)
	require.Len(t, fn.Arities, 1)
	ref := fn.Arities[0].Body[0].(*ast.LocalRef)
	require.Equal(t, "x", ref.Name)
	require.Equal(t, 1, ref.Depth, "one fn boundary crossed to reach the let-bound local")
}

func TestAnalyzeFnParamShadowsOuterLocalAtDepthZero(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, "(let [x 1] (fn [x] x))")
	let := n.(*ast.Let)
	fn := let.Body[0].(*ast.Fn)
	ref := fn.Arities[0].Body[0].(*ast.LocalRef)
	require.Equal(t, 0, ref.Depth)
	require.Equal(t, fn.Arities[0].ParamIdx[0], ref.Idx)
}

func TestAnalyzeFnMultiArityProducesOneArityPerForm(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, "(fn ([x] x) ([x y] (+ x y)))")
	fn := n.(*ast.Fn)
	require.Len(t, fn.Arities, 2)
	require.Len(t, fn.Arities[0].Params, 1)
	require.Len(t, fn.Arities[1].Params, 2)
}

func TestAnalyzeFnVariadicBindsRestIdx(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, "(fn [x & more] more)")
	fn := n.(*ast.Fn)
	ar := fn.Arities[0]
	require.True(t, ar.Variadic)
	require.NotEqual(t, -1, ar.RestIdx)
}

func TestAnalyzeNamedFnBindsSelfIdxForRecursion(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, "(fn count-down [n] (count-down n))")
	fn := n.(*ast.Fn)
	ar := fn.Arities[0]
	require.NotEqual(t, -1, ar.SelfIdx)
	call := ar.Body[0].(*ast.Call)
	ref, ok := call.Callee.(*ast.LocalRef)
	require.True(t, ok, "self-reference should resolve as a local, not fall through to a VarRef")
	require.Equal(t, ar.SelfIdx, ref.Idx)
}

func TestDestructureVectorPatternBindsPositionalNth(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, "(let [[a b] [1 2]] (+ a b))")
	let := n.(*ast.Let)
	// temp + a + b
	require.Len(t, let.Bindings, 3)
	require.Equal(t, "a", let.Bindings[1].Name)
	require.Equal(t, "b", let.Bindings[2].Name)

	nthCall, ok := let.Bindings[1].Init.(*ast.Call)
	require.True(t, ok)
	require.Equal(t, "nth", nthCall.Callee.(*ast.VarRef).Name)
}

func TestDestructureVectorPatternWithRestUsesNthRest(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, "(let [[a & rest] [1 2 3]] rest)")
	let := n.(*ast.Let)
	require.Len(t, let.Bindings, 3)
	require.Equal(t, "rest", let.Bindings[2].Name)
	call, ok := let.Bindings[2].Init.(*ast.Call)
	require.True(t, ok)
	require.Equal(t, "nthrest", call.Callee.(*ast.VarRef).Name)
}

func TestDestructureVectorPatternWithAsBindsWholeCollection(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, "(let [[a :as all] [1 2]] all)")
	let := n.(*ast.Let)
	names := make([]string, 0, len(let.Bindings))
	for _, b := range let.Bindings {
		names = append(names, b.Name)
	}
	require.Contains(t, names, "all")
	require.Contains(t, names, "a")
}

func TestDestructureMapPatternKeysAndOrDefaults(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, "(let [{:keys [a b] :or {b 2}} {:a 1}] (+ a b))")
	let := n.(*ast.Let)
	var aBinding, bBinding *ast.Binding
	for i := range let.Bindings {
		switch let.Bindings[i].Name {
		case "a":
			aBinding = &let.Bindings[i]
		case "b":
			bBinding = &let.Bindings[i]
		}
	}
	require.NotNil(t, aBinding)
	require.NotNil(t, bBinding)

	aCall := aBinding.Init.(*ast.Call)
	require.Equal(t, "get", aCall.Callee.(*ast.VarRef).Name)

	bCall := bBinding.Init.(*ast.Call)
	require.Equal(t, "get-or", bCall.Callee.(*ast.VarRef).Name)
}

func TestAnalyzeLoopProducesLoopNodeWithBindings(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, "(loop [i 0] (if (< i 3) (recur (+ i 1)) i))")
	loop, ok := n.(*ast.Loop)
	require.True(t, ok)
	require.Len(t, loop.Bindings, 1)
	require.Equal(t, "i", loop.Bindings[0].Name)
}

func TestAnalyzeRecurLowersArgsInOrder(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, "(loop [i 0 j 1] (recur j i))")
	loop := n.(*ast.Loop)
	recur, ok := loop.Body[0].(*ast.Recur)
	require.True(t, ok)
	require.Len(t, recur.Args, 2)
}

func TestAnalyzeDefInternsVarBeforeAnalyzingInitForSelfReference(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, "(def x (fn [] x))")
	def, ok := n.(*ast.Def)
	require.True(t, ok)
	require.Equal(t, "x", def.Name)
	_, ok = env.CurrentNamespace().Resolve("x")
	require.True(t, ok)
}

func TestAnalyzeDefWithDocstring(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, `(def x "docs" 1)`)
	def := n.(*ast.Def)
	require.Equal(t, "docs", def.Doc)
	require.NotNil(t, def.Init)
}

func TestAnalyzeSetBangRequiresSymbolTarget(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, "(set! x 5)")
	sb, ok := n.(*ast.SetBang)
	require.True(t, ok)
	require.Equal(t, "x", sb.VarName)

	form := readOne(t, env, "(set! 1 5)")
	_, err := a.Analyze(form)
	require.Error(t, err)
}

func TestAnalyzeTrySeparatesBodyCatchesAndFinally(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, `(try (throw 1) (catch Exception e e) (finally 2))`)
	try, ok := n.(*ast.Try)
	require.True(t, ok)
	require.Len(t, try.Body, 1)
	require.Len(t, try.Catches, 1)
	require.Equal(t, "Exception", try.Catches[0].ClassName)
	require.Len(t, try.Finally, 1)
}

func TestAnalyzeTryCatchRequiresClassAndBinding(t *testing.T) {
	a, env := newTestAnalyzer(t)
	form := readOne(t, env, "(try (catch Exception e))")
	_, err := a.Analyze(form)
	require.NoError(t, err) // catch body may be empty; class+binding present

	form2 := readOne(t, env, "(try (catch Exception))")
	_, err = a.Analyze(form2)
	require.Error(t, err)
}

func TestAnalyzeDefMultiAndDefMethod(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, "(defmulti area :shape)")
	dm, ok := n.(*ast.DefMulti)
	require.True(t, ok)
	require.Equal(t, "area", dm.Name)
	_, ok = env.CurrentNamespace().Resolve("area")
	require.True(t, ok)

	n2 := analyzeSrc(t, a, env, `(defmethod area :circle [c] (:r c))`)
	dmeth, ok := n2.(*ast.DefMethod)
	require.True(t, ok)
	require.Equal(t, "area", dmeth.Name)
}

func TestAnalyzeDefProtocolCollectsMethodSignatures(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, "(defprotocol Shape (area [this]) (perimeter [this]))")
	dp, ok := n.(*ast.DefProtocol)
	require.True(t, ok)
	require.Equal(t, "Shape", dp.Name)
	require.Len(t, dp.Methods, 2)
	require.Equal(t, "area", dp.Methods[0].Name)
	require.Equal(t, 1, dp.Methods[0].Arity)
}

func TestAnalyzeExtendTypeCollectsMethods(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, "(extend-type Circle Shape (area [this] 1))")
	et, ok := n.(*ast.ExtendType)
	require.True(t, ok)
	require.Equal(t, "Circle", et.TypeName)
	require.Equal(t, "Shape", et.Protocol)
	require.Len(t, et.Methods, 1)
	require.Equal(t, "area", et.Methods[0].Name)
}

func TestAnalyzeMacroExpansionRequiresExpanderConfigured(t *testing.T) {
	env := runtime.NewEnvironment()
	ns := env.CurrentNamespace()
	v := ns.Intern("my-macro")
	v.SetMacro(true)
	v.SetRoot(value.Nil)
	a := New(env, ns, nil)

	form := readOne(t, env, "(my-macro 1)")
	_, err := a.Analyze(form)
	require.Error(t, err)
}

func TestAnalyzeQuasiquoteWithoutUnquoteReducesToQuote(t *testing.T) {
	a, env := newTestAnalyzer(t)
	n := analyzeSrc(t, a, env, "`(1 2 3)")
	_, ok := n.(*ast.Quote)
	require.True(t, ok)
}
