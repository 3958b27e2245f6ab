package lumen

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lumen-run/lumen/internal/value"
)

func evalBoth(t *testing.T, src string) (tw, vm value.Value) {
	t.Helper()
	e1, err := New()
	require.NoError(t, err)
	tw, err = e1.EvalString(src)
	require.NoError(t, err)

	e2, err := New()
	require.NoError(t, err)
	vm, err = e2.EvalStringVM(src)
	require.NoError(t, err)
	return tw, vm
}

func TestArithmeticBothBackends(t *testing.T) {
	tw, vm := evalBoth(t, "(+ 1 2)")
	require.Equal(t, int64(3), tw.(*value.Int).V)
	require.Equal(t, int64(3), vm.(*value.Int).V)
}

func TestDefAndVarBinding(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	v, err := e.EvalString("(def x 10) (+ x 5)")
	require.NoError(t, err)
	require.Equal(t, int64(15), v.(*value.Int).V)
}

func TestLoopRecur(t *testing.T) {
	tw, vm := evalBoth(t, "(loop [i 0 s 0] (if (= i 10) s (recur (+ i 1) (+ s i))))")
	require.Equal(t, int64(45), tw.(*value.Int).V)
	require.Equal(t, int64(45), vm.(*value.Int).V)
}

func TestDefnAndMap(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	v, err := e.EvalString("(defn add1 [x] (+ x 1)) (map add1 (list 1 2 3))")
	require.NoError(t, err)
	require.True(t, value.Equals(value.ListFrom([]value.Value{
		value.NewInt(2), value.NewInt(3), value.NewInt(4),
	}), v))
}

func TestTryThrowExInfo(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	v, err := e.EvalString(`(try (throw (ex-info "boom" {:code 42})) (catch Exception e (:code (ex-data e))))`)
	require.NoError(t, err)
	require.Equal(t, int64(42), v.(*value.Int).V)
}

func TestTryThrowInsideCallArgsPreservesOuterOperandStack(t *testing.T) {
	tw, vm := evalBoth(t, `(list 1 (try (throw (ex-info "x" {})) (catch Exception e 2)))`)
	want := value.ListFrom([]value.Value{value.NewInt(1), value.NewInt(2)})
	require.True(t, value.Equals(want, tw))
	require.True(t, value.Equals(want, vm))
}

func TestAtomSwap(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	v, err := e.EvalString(`(let [a (atom 10)] (swap! a (fn [x] (+ x 5))) @a)`)
	require.NoError(t, err)
	require.Equal(t, int64(15), v.(*value.Int).V)
}

func TestReducedStopsReduceEarlyAndUnwraps(t *testing.T) {
	src := `(reduce (fn [acc x] (if (= x 3) (reduced (* acc 100)) (+ acc x))) 0 (range 1000000))`
	tw, vm := evalBoth(t, src)
	require.Equal(t, int64(300), tw.(*value.Int).V)
	require.Equal(t, int64(300), vm.(*value.Int).V)
}

func TestReducedPredicate(t *testing.T) {
	tw, vm := evalBoth(t, `[(reduced? (reduced 1)) (reduced? 1)]`)
	require.True(t, value.Equals(value.VectorFrom([]value.Value{value.True, value.False}), tw))
	require.True(t, value.Equals(value.VectorFrom([]value.Value{value.True, value.False}), vm))
}

func TestMultiArityFn(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	v1, err := e.EvalString(`((fn ([x] x) ([x y] (+ x y))) 3 4)`)
	require.NoError(t, err)
	require.Equal(t, int64(7), v1.(*value.Int).V)

	v2, err := e.EvalString(`((fn ([x] x) ([x y] (+ x y))) 5)`)
	require.NoError(t, err)
	require.Equal(t, int64(5), v2.(*value.Int).V)
}

func TestMapDestructuringWithDefaults(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	v, err := e.EvalString(`(let [{:keys [a] :or {a 99}} {}] a)`)
	require.NoError(t, err)
	require.Equal(t, int64(99), v.(*value.Int).V)
}

func TestVectorDestructuringWithRest(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	v, err := e.EvalString(`(let [[a & r] [1 2 3]] (count r))`)
	require.NoError(t, err)
	require.Equal(t, int64(2), v.(*value.Int).V)
}

func TestDefmultiDispatch(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	src := `
(defmulti area :shape)
(defmethod area :rect [m] (* (:width m) (:height m)))
(area {:shape :rect :width 3 :height 4})
`
	v, err := e.EvalString(src)
	require.NoError(t, err)
	require.Equal(t, int64(12), v.(*value.Int).V)
}

func TestDefprotocolExtendType(t *testing.T) {
	e, err := New()
	require.NoError(t, err)
	src := `
(defprotocol Greetable (greet [x]))
(extend-type string Greetable (greet [s] (str "Hello, " s "!")))
(greet "World")
`
	v, err := e.EvalString(src)
	require.NoError(t, err)
	require.Equal(t, "Hello, World!", v.(*value.String).V)
}

func TestEvalCompareAgreesAcrossSampleCorpus(t *testing.T) {
	samples := []string{
		"(+ 1 2 3)",
		"(def x 10) (* x 2)",
		"(loop [i 0 s 0] (if (= i 5) s (recur (+ i 1) (+ s i))))",
		"(defn sq [x] (* x x)) (map sq (list 1 2 3 4))",
		"(filter even? (range 10))",
		"(reduce + 0 (range 100))",
	}
	for _, s := range samples {
		e, err := New()
		require.NoError(t, err)
		res, err := e.EvalCompare(s)
		require.NoError(t, err)
		require.True(t, res.Match, "mismatch evaluating %q: tw=%v (err=%v) vm=%v (err=%v)", s, res.TreeWalk, res.TWErr, res.VMVal, res.VMErr)
	}
}
