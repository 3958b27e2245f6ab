package value

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// countingApplier dispatches to a *BuiltinFn's Impl directly (value
// package tests have no backend to route through) and counts every
// Apply call, so tests can assert a fused walk invokes transforms
// exactly once per surviving element rather than once per chain layer.
type countingApplier struct{ calls int }

func (c *countingApplier) Apply(fn Value, args []Value) (Value, error) {
	c.calls++
	b := fn.(*BuiltinFn)
	return b.Impl(nil, args)
}

func builtinFn(f func(Value) Value) *BuiltinFn {
	return NewBuiltin("test-fn", func(_ interface{}, args []Value) (Value, error) {
		return f(args[0]), nil
	})
}

func seqToSlice(v Value) []Value {
	var out []Value
	s := Seq(v)
	for s != Nil {
		var first Value
		first, s = Uncons(s)
		out = append(out, first)
	}
	return out
}

func TestRangeRealizesExpectedValues(t *testing.T) {
	r := NewRange(0, 1, 5, true)
	got := seqToSlice(r)
	require.Len(t, got, 5)
	for i, v := range got {
		require.Equal(t, int64(i), v.(*Int).V)
	}
}

func TestLazyChainRealizesFilteredMappedValues(t *testing.T) {
	ap := &countingApplier{}
	isEven := builtinFn(func(v Value) Value { return Bool_(v.(*Int).V%2 == 0) })
	double := builtinFn(func(v Value) Value { return NewInt(v.(*Int).V * 2) })

	src := NewRange(0, 1, 10, true)
	filtered := NewFilter(src, isEven, ap)
	mapped := NewLazyMap(filtered, double, ap)
	taken := NewLazyTake(mapped, 3)

	got := seqToSlice(taken)
	want := []int64{0, 4, 8}
	require.Len(t, got, len(want))
	for i, v := range got {
		require.Equal(t, want[i], v.(*Int).V)
	}
}

func TestFusedReduceBoundsApplyCallsIndependentOfChainDepth(t *testing.T) {
	ap := &countingApplier{}
	isEven := builtinFn(func(v Value) Value { return Bool_(v.(*Int).V%2 == 0) })
	double := builtinFn(func(v Value) Value { return NewInt(v.(*Int).V * 2) })

	// Unbounded range: only correct if take's limit short-circuits the
	// walk, since a plain thunk chain would never terminate.
	src := NewRange(0, 1, 0, false)
	filtered := NewFilter(src, isEven, ap)
	mapped := NewLazyMap(filtered, double, ap)
	taken := NewLazyTake(mapped, 3)

	var out []int64
	err := FusedReduce(taken, ap, func(el Value) (bool, error) {
		out = append(out, el.(*Int).V)
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, []int64{0, 4, 8}, out)

	// One Apply call per surviving/transformed element: 5 base elements
	// examined (0,1,2,3,4 -> evens 0,2,4 pass the filter before take(3)
	// is satisfied), each checked once (isEven) and mapped elements
	// doubled once (double) — never once per chain layer per element.
	require.Equal(t, 5+3, ap.calls)
}

func TestVectorSeqIsChunkedAcrossChunkWidthBoundary(t *testing.T) {
	elems := make([]Value, chunkWidth+5)
	for i := range elems {
		elems[i] = NewInt(int64(i))
	}
	v := VectorFrom(elems)

	s := v.Seq()
	first, ok := s.(*ChunkedCons)
	require.True(t, ok, "a vector's Seq() should realize as a chunked seq")
	require.Equal(t, chunkWidth, first.Chunk.Count())

	rest, ok := Seq(first.Rest).(*ChunkedCons)
	require.True(t, ok, "the remainder past one full chunk should still be a chunked seq")
	require.Equal(t, 5, rest.Chunk.Count())

	require.Equal(t, v.ToSlice(), seqToSlice(v))
}

func TestFusedReduceWalksVectorChunksWithoutPerElementApplyOverhead(t *testing.T) {
	elems := make([]Value, chunkWidth+3)
	for i := range elems {
		elems[i] = NewInt(int64(i))
	}
	v := VectorFrom(elems)

	ap := &countingApplier{}
	isEven := builtinFn(func(val Value) Value { return Bool_(val.(*Int).V%2 == 0) })
	filtered := NewFilter(v, isEven, ap)

	var out []int64
	err := FusedReduce(filtered, ap, func(el Value) (bool, error) {
		out = append(out, el.(*Int).V)
		return true, nil
	})
	require.NoError(t, err)
	require.Len(t, out, (chunkWidth+3)/2+1)
	// Every element crosses the chunk fast path exactly once: one Apply
	// call per source element, regardless of the chunk boundary.
	require.Equal(t, chunkWidth+3, ap.calls)
}

func TestNewFilterCollapsesChainedPredicatesIntoOneFlatArray(t *testing.T) {
	ap := &countingApplier{}
	isEven := builtinFn(func(v Value) Value { return Bool_(v.(*Int).V%2 == 0) })
	under8 := builtinFn(func(v Value) Value { return Bool_(v.(*Int).V < 8) })

	src := NewRange(0, 1, 20, true)
	once := NewFilter(src, isEven, ap)
	var twice Value = NewFilter(once, under8, ap)

	fc, ok := twice.(*LazySeq)
	require.True(t, ok)
	require.Equal(t, lazyFilterChain, fc.kind)
	require.Same(t, src, fc.source)
	require.Len(t, fc.preds, 2)

	got := seqToSlice(twice)
	want := []int64{0, 2, 4, 6}
	require.Len(t, got, len(want))
	for i, v := range got {
		require.Equal(t, want[i], v.(*Int).V)
	}
}

func TestIterateProducesRepeatedApplication(t *testing.T) {
	ap := &countingApplier{}
	inc := builtinFn(func(v Value) Value { return NewInt(v.(*Int).V + 1) })
	it := NewIterate(inc, NewInt(0), ap)
	taken := NewLazyTake(it, 4)

	got := seqToSlice(taken)
	want := []int64{0, 1, 2, 3}
	require.Len(t, got, len(want))
	for i, v := range got {
		require.Equal(t, want[i], v.(*Int).V)
	}
}
