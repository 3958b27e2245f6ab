package value

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashMapPutGetLarge(t *testing.T) {
	const n = 2000
	m := EmptyHashMap
	for i := 0; i < n; i++ {
		m = m.Put(NewString(fmt.Sprintf("k%d", i)), NewInt(int64(i)))
	}
	require.Equal(t, n, m.Count())
	for i := 0; i < n; i += 13 {
		v, ok := m.Get(NewString(fmt.Sprintf("k%d", i)))
		require.True(t, ok)
		require.Equal(t, int64(i), v.(*Int).V)
	}
	_, ok := m.Get(NewString("missing"))
	require.False(t, ok)
}

func TestHashMapPutOverwritesKeepsCount(t *testing.T) {
	m := EmptyHashMap
	m = m.Put(NewString("a"), NewInt(1))
	m = m.Put(NewString("a"), NewInt(2))
	require.Equal(t, 1, m.Count())
	v, _ := m.Get(NewString("a"))
	require.Equal(t, int64(2), v.(*Int).V)
}

func TestHashMapRemove(t *testing.T) {
	m := EmptyHashMap
	m = m.Put(NewString("a"), NewInt(1))
	m = m.Put(NewString("b"), NewInt(2))
	m2 := m.Remove(NewString("a"))
	require.Equal(t, 1, m2.Count())
	_, ok := m2.Get(NewString("a"))
	require.False(t, ok)
	// original is untouched (persistent)
	require.Equal(t, 2, m.Count())
}

func TestHashMapEachVisitsAllEntries(t *testing.T) {
	m := EmptyHashMap
	want := map[string]int64{}
	for i := 0; i < 50; i++ {
		k := fmt.Sprintf("k%d", i)
		m = m.Put(NewString(k), NewInt(int64(i)))
		want[k] = int64(i)
	}
	got := map[string]int64{}
	m.Each(func(k, v Value) bool {
		got[k.(*String).V] = v.(*Int).V
		return true
	})
	require.Equal(t, want, got)
}

func TestArrayMapPromotesToHashMapPastMaxSize(t *testing.T) {
	var m Value = EmptyArrayMap
	for i := 0; i < 10; i++ {
		m = Put(m, NewInt(int64(i)), NewInt(int64(i*i)))
	}
	_, isHashMap := m.(*HashMap)
	require.True(t, isHashMap, "array-map should promote to hash-map past arrayMapMaxSize")
	require.Equal(t, 10, AsAssociative(m).Count())
}

func TestArrayMapSeqYieldsEntryVectors(t *testing.T) {
	m := ArrayMapFrom([]Value{NewKeyword("", "a"), NewInt(1), NewKeyword("", "b"), NewInt(2)})
	seen := map[string]int64{}
	s := Seq(m)
	for s != Nil {
		var entry Value
		entry, s = Uncons(s)
		v, ok := entry.(*Vector)
		require.True(t, ok, "each map seq entry should be a 2-vector")
		require.Equal(t, 2, v.Count())
		k, _ := v.Nth(0)
		val, _ := v.Nth(1)
		seen[k.(*Keyword).Name] = val.(*Int).V
	}
	require.Equal(t, map[string]int64{"a": 1, "b": 2}, seen)
}

func TestHashMapSeqYieldsEntryVectors(t *testing.T) {
	m := EmptyHashMap
	for i := 0; i < 40; i++ {
		m = m.Put(NewInt(int64(i)), NewInt(int64(i*i)))
	}
	count := 0
	s := m.Seq()
	for s != Nil {
		var entry Value
		entry, s = Uncons(s)
		v := entry.(*Vector)
		k, _ := v.Nth(0)
		val, _ := v.Nth(1)
		require.Equal(t, k.(*Int).V*k.(*Int).V, val.(*Int).V)
		count++
	}
	require.Equal(t, 40, count)
}

func TestEmptyMapSeqIsNil(t *testing.T) {
	require.Equal(t, Nil, EmptyArrayMap.Seq())
	require.Equal(t, Nil, EmptyHashMap.Seq())
}
