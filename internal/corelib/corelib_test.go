package corelib

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lumen-run/lumen/internal/runtime"
	"github.com/lumen-run/lumen/internal/value"
)

// dispatcherApplier routes Apply straight to a *value.BuiltinFn's Impl,
// passing env through as the BuiltinImpl's env argument, the same
// contract vm.call/treewalk.applyValue honor for real backends.
type dispatcherApplier struct{ env *runtime.Environment }

func (d dispatcherApplier) Apply(fn value.Value, args []value.Value) (value.Value, error) {
	b := fn.(*value.BuiltinFn)
	return b.Impl(d.env, args)
}

func newTestEnv() *runtime.Environment {
	env := runtime.NewEnvironment()
	env.Applier = dispatcherApplier{env: env}
	return env
}

func call(t *testing.T, env *runtime.Environment, name string, args ...value.Value) (value.Value, error) {
	t.Helper()
	impl, ok := builtinTable()[name]
	require.True(t, ok, "no builtin named %s", name)
	return impl(env, args)
}

func i(n int64) *value.Int { return value.NewInt(n) }
func fl(f float64) *value.Float { return value.NewFloat(f) }

func TestArithFoldStaysIntegerWhenAllArgsAreInt(t *testing.T) {
	env := newTestEnv()
	v, err := call(t, env, "+", i(1), i(2), i(3))
	require.NoError(t, err)
	require.IsType(t, &value.Int{}, v)
	require.Equal(t, int64(6), v.(*value.Int).V)
}

func TestArithFoldPromotesToFloatWithAnyFloatArg(t *testing.T) {
	env := newTestEnv()
	v, err := call(t, env, "+", i(1), fl(2.5))
	require.NoError(t, err)
	require.IsType(t, &value.Float{}, v)
	require.Equal(t, 3.5, v.(*value.Float).V)
}

func TestArithSubUnaryNegates(t *testing.T) {
	env := newTestEnv()
	v, err := call(t, env, "-", i(5))
	require.NoError(t, err)
	require.Equal(t, int64(-5), v.(*value.Int).V)
}

func TestArithSubRequiresAtLeastOneArgument(t *testing.T) {
	env := newTestEnv()
	_, err := call(t, env, "-")
	require.Error(t, err)
}

func TestArithDivByZeroIsArithmeticError(t *testing.T) {
	env := newTestEnv()
	_, err := call(t, env, "/", i(1), i(0))
	require.Error(t, err)
	lerr, ok := err.(*runtime.LumenError)
	require.True(t, ok)
	require.Equal(t, runtime.ArithmeticError, lerr.Kind)
}

func TestArithDivExactIntegerDivisionStaysInt(t *testing.T) {
	env := newTestEnv()
	v, err := call(t, env, "/", i(6), i(3))
	require.NoError(t, err)
	require.IsType(t, &value.Int{}, v)
	require.Equal(t, int64(2), v.(*value.Int).V)
}

func TestArithDivInexactIntegerDivisionYieldsFloat(t *testing.T) {
	env := newTestEnv()
	v, err := call(t, env, "/", i(7), i(2))
	require.NoError(t, err)
	require.IsType(t, &value.Float{}, v)
	require.Equal(t, 3.5, v.(*value.Float).V)
}

func TestModFollowsDivisorSignClojureStyle(t *testing.T) {
	env := newTestEnv()
	v, err := call(t, env, "mod", i(-7), i(3))
	require.NoError(t, err)
	require.Equal(t, int64(2), v.(*value.Int).V)
}

func TestRemFollowsDividendSignTruncatedStyle(t *testing.T) {
	env := newTestEnv()
	v, err := call(t, env, "rem", i(-7), i(3))
	require.NoError(t, err)
	require.Equal(t, int64(-1), v.(*value.Int).V)
}

func TestModRemDivideByZeroIsArithmeticError(t *testing.T) {
	env := newTestEnv()
	_, err := call(t, env, "mod", i(1), i(0))
	require.Error(t, err)
	_, err = call(t, env, "rem", i(1), i(0))
	require.Error(t, err)
}

func TestCmpChainRequiresEveryAdjacentPairToHold(t *testing.T) {
	env := newTestEnv()
	v, err := call(t, env, "<", i(1), i(2), i(3))
	require.NoError(t, err)
	require.True(t, value.Truthy(v))

	v, err = call(t, env, "<", i(1), i(3), i(2))
	require.NoError(t, err)
	require.False(t, value.Truthy(v))
}

func TestConjOnVectorAppendsAtEnd(t *testing.T) {
	env := newTestEnv()
	vec := value.VectorFrom([]value.Value{i(1), i(2)})
	v, err := call(t, env, "conj", vec, i(3))
	require.NoError(t, err)
	got := v.(*value.Vector)
	el, _ := got.Nth(2)
	require.Equal(t, int64(3), el.(*value.Int).V)
}

func TestConjOnNilStartsAList(t *testing.T) {
	env := newTestEnv()
	v, err := call(t, env, "conj", value.Nil, i(1))
	require.NoError(t, err)
	require.IsType(t, &value.List{}, v)
	require.Equal(t, int64(1), value.First(v).(*value.Int).V)
}

func TestConjOnMapRequiresPairEntry(t *testing.T) {
	env := newTestEnv()
	m := value.ArrayMapFrom(nil)
	_, err := call(t, env, "conj", m, i(1))
	require.Error(t, err)

	entry := value.VectorFrom([]value.Value{value.NewKeyword("", "a"), i(1)})
	v, err := call(t, env, "conj", m, entry)
	require.NoError(t, err)
	got, ok := v.(value.Associative).Get(value.NewKeyword("", "a"))
	require.True(t, ok)
	require.Equal(t, int64(1), got.(*value.Int).V)
}

func TestGetReturnsNotFoundDefaultWhenKeyMissing(t *testing.T) {
	env := newTestEnv()
	m := value.ArrayMapFrom([]value.Value{value.NewKeyword("", "a"), i(1)})
	v, err := call(t, env, "get", m, value.NewKeyword("", "missing"), value.NewString("default"))
	require.NoError(t, err)
	require.Equal(t, "default", v.(*value.String).V)
}

func TestGetWithoutDefaultReturnsNilWhenMissing(t *testing.T) {
	env := newTestEnv()
	m := value.ArrayMapFrom([]value.Value{value.NewKeyword("", "a"), i(1)})
	v, err := call(t, env, "get", m, value.NewKeyword("", "missing"))
	require.NoError(t, err)
	require.Equal(t, value.Nil, v)
}

func TestAssocVectorRequiresIntIndex(t *testing.T) {
	env := newTestEnv()
	vec := value.VectorFrom([]value.Value{i(1), i(2)})
	_, err := call(t, env, "assoc", vec, value.NewString("x"), i(9))
	require.Error(t, err)

	v, err := call(t, env, "assoc", vec, i(0), i(9))
	require.NoError(t, err)
	el, _ := v.(*value.Vector).Nth(0)
	require.Equal(t, int64(9), el.(*value.Int).V)
}

func TestDissocRemovesKeys(t *testing.T) {
	env := newTestEnv()
	m := value.ArrayMapFrom([]value.Value{value.NewKeyword("", "a"), i(1), value.NewKeyword("", "b"), i(2)})
	v, err := call(t, env, "dissoc", m, value.NewKeyword("", "a"))
	require.NoError(t, err)
	_, ok := v.(value.Associative).Get(value.NewKeyword("", "a"))
	require.False(t, ok)
}

func TestContainsOnVectorChecksIndexBounds(t *testing.T) {
	env := newTestEnv()
	vec := value.VectorFrom([]value.Value{i(1), i(2)})
	v, err := call(t, env, "contains?", vec, i(1))
	require.NoError(t, err)
	require.True(t, value.Truthy(v))

	v, err = call(t, env, "contains?", vec, i(5))
	require.NoError(t, err)
	require.False(t, value.Truthy(v))
}

func TestNthOutOfBoundsErrorsWithoutDefault(t *testing.T) {
	env := newTestEnv()
	vec := value.VectorFrom([]value.Value{i(1)})
	_, err := call(t, env, "nth", vec, i(5))
	require.Error(t, err)
}

func TestNthOutOfBoundsReturnsDefaultWhenProvided(t *testing.T) {
	env := newTestEnv()
	vec := value.VectorFrom([]value.Value{i(1)})
	v, err := call(t, env, "nth", vec, i(5), value.NewString("fallback"))
	require.NoError(t, err)
	require.Equal(t, "fallback", v.(*value.String).V)
}

func TestIntoAccumulatesSourceIntoDestCollection(t *testing.T) {
	env := newTestEnv()
	dest := value.VectorFrom(nil)
	src := value.ListFrom([]value.Value{i(1), i(2), i(3)})
	v, err := call(t, env, "into", dest, src)
	require.NoError(t, err)
	got := v.(*value.Vector)
	require.Equal(t, 3, got.Count())
}

func TestReverseAndSort(t *testing.T) {
	env := newTestEnv()
	v, err := call(t, env, "reverse", value.ListFrom([]value.Value{i(1), i(2), i(3)}))
	require.NoError(t, err)
	require.Equal(t, int64(3), value.First(v).(*value.Int).V)

	v, err = call(t, env, "sort", value.ListFrom([]value.Value{i(3), i(1), i(2)}))
	require.NoError(t, err)
	require.Equal(t, int64(1), value.First(v).(*value.Int).V)
}

func TestConcatFlattensMultipleSources(t *testing.T) {
	env := newTestEnv()
	v, err := call(t, env, "concat", value.ListFrom([]value.Value{i(1)}), value.ListFrom([]value.Value{i(2), i(3)}))
	require.NoError(t, err)
	require.Equal(t, 3, value.Count(v))
}

func TestExInfoRequiresStringMessage(t *testing.T) {
	env := newTestEnv()
	_, err := call(t, env, "ex-info", i(1), value.ArrayMapFrom(nil))
	require.Error(t, err)
}

func TestExMessageAndExDataRoundTrip(t *testing.T) {
	env := newTestEnv()
	data := value.ArrayMapFrom([]value.Value{value.NewKeyword("", "code"), i(42)})
	ex, err := call(t, env, "ex-info", value.NewString("boom"), data)
	require.NoError(t, err)

	msg, err := call(t, env, "ex-message", ex)
	require.NoError(t, err)
	require.Equal(t, "boom", msg.(*value.String).V)

	got, err := call(t, env, "ex-data", ex)
	require.NoError(t, err)
	code, ok := got.(value.Associative).Get(value.NewKeyword("", "code"))
	require.True(t, ok)
	require.Equal(t, int64(42), code.(*value.Int).V)
}

func TestExMessageOnNonMapReturnsNil(t *testing.T) {
	env := newTestEnv()
	v, err := call(t, env, "ex-message", i(1))
	require.NoError(t, err)
	require.Equal(t, value.Nil, v)
}

func TestTransientVectorConjBangThenPersistentBang(t *testing.T) {
	env := newTestEnv()
	vec := value.VectorFrom([]value.Value{i(1)})
	tr, err := call(t, env, "transient", vec)
	require.NoError(t, err)
	require.IsType(t, &value.TransientVector{}, tr)

	tr, err = call(t, env, "conj!", tr, i(2))
	require.NoError(t, err)

	frozen, err := call(t, env, "persistent!", tr)
	require.NoError(t, err)
	got := frozen.(*value.Vector)
	require.Equal(t, 2, got.Count())
	el, _ := got.Nth(1)
	require.Equal(t, int64(2), el.(*value.Int).V)
}

func TestTransientMutationAfterPersistentBangIsTypeError(t *testing.T) {
	env := newTestEnv()
	vec := value.VectorFrom([]value.Value{i(1)})
	tr, err := call(t, env, "transient", vec)
	require.NoError(t, err)
	_, err = call(t, env, "persistent!", tr)
	require.NoError(t, err)

	_, err = call(t, env, "conj!", tr, i(2))
	require.Error(t, err)
	lerr, ok := err.(*runtime.LumenError)
	require.True(t, ok)
	require.Equal(t, runtime.TypeError, lerr.Kind)

	_, err = call(t, env, "persistent!", tr)
	require.Error(t, err)
}

func TestTransientMapAssocBangAndDissocBang(t *testing.T) {
	env := newTestEnv()
	m := value.ArrayMapFrom([]value.Value{value.NewKeyword("", "a"), i(1)})
	tr, err := call(t, env, "transient", m)
	require.NoError(t, err)

	tr, err = call(t, env, "assoc!", tr, value.NewKeyword("", "b"), i(2))
	require.NoError(t, err)
	tr, err = call(t, env, "dissoc!", tr, value.NewKeyword("", "a"))
	require.NoError(t, err)

	frozen, err := call(t, env, "persistent!", tr)
	require.NoError(t, err)
	m2 := frozen.(value.Associative)
	_, ok := m2.Get(value.NewKeyword("", "a"))
	require.False(t, ok)
	bv, ok := m2.Get(value.NewKeyword("", "b"))
	require.True(t, ok)
	require.Equal(t, int64(2), bv.(*value.Int).V)
}

func TestTransientSetConjBangAndDisjBang(t *testing.T) {
	env := newTestEnv()
	s := value.SetFrom([]value.Value{i(1), i(2)})
	tr, err := call(t, env, "transient", s)
	require.NoError(t, err)

	tr, err = call(t, env, "disj!", tr, i(1))
	require.NoError(t, err)
	tr, err = call(t, env, "conj!", tr, i(3))
	require.NoError(t, err)

	frozen, err := call(t, env, "persistent!", tr)
	require.NoError(t, err)
	got := frozen.(*value.Set)
	require.False(t, got.Contains(i(1)))
	require.True(t, got.Contains(i(2)))
	require.True(t, got.Contains(i(3)))
}

func TestTransientOnUnsupportedCollectionIsTypeError(t *testing.T) {
	env := newTestEnv()
	_, err := call(t, env, "transient", value.NewString("nope"))
	require.Error(t, err)
}

func TestSwapBangAndResetBangThroughAtomBuiltin(t *testing.T) {
	env := newTestEnv()
	a, err := call(t, env, "atom", i(1))
	require.NoError(t, err)

	inc := value.NewBuiltin("inc", func(_ interface{}, args []value.Value) (value.Value, error) {
		return i(args[0].(*value.Int).V + 1), nil
	})
	v, err := call(t, env, "swap!", a, inc)
	require.NoError(t, err)
	require.Equal(t, int64(2), v.(*value.Int).V)

	d, err := call(t, env, "deref", a)
	require.NoError(t, err)
	require.Equal(t, int64(2), d.(*value.Int).V)

	v, err = call(t, env, "reset!", a, i(10))
	require.NoError(t, err)
	require.Equal(t, int64(10), v.(*value.Int).V)
}
