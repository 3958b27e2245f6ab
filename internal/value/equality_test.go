package value

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEqualsCrossTypeNumeric(t *testing.T) {
	require.True(t, Equals(NewInt(1), NewFloat(1.0)))
	require.True(t, Equals(NewFloat(1.0), NewInt(1)))
	require.False(t, Equals(NewInt(1), NewFloat(1.5)))
}

func TestEqualsPrimitives(t *testing.T) {
	require.True(t, Equals(Nil, Nil))
	require.True(t, Equals(True, True))
	require.False(t, Equals(True, False))
	require.True(t, Equals(NewString("a"), NewString("a")))
	require.False(t, Equals(NewString("a"), NewString("b")))
	require.True(t, Equals(NewChar('a'), NewChar('a')))
}

func TestEqualsSequentialAcrossShapes(t *testing.T) {
	lst := ListFrom([]Value{NewInt(1), NewInt(2), NewInt(3)})
	vec := VectorFrom([]Value{NewInt(1), NewInt(2), NewInt(3)})
	cons := NewCons(NewInt(1), ListFrom([]Value{NewInt(2), NewInt(3)}))

	require.True(t, Equals(lst, vec))
	require.True(t, Equals(vec, cons))
	require.True(t, Equals(lst, cons))

	other := VectorFrom([]Value{NewInt(1), NewInt(2)})
	require.False(t, Equals(vec, other))
}

func TestEqualsMapAcrossShapes(t *testing.T) {
	var am Value = EmptyArrayMap
	am = Put(am, NewKeyword("", "a"), NewInt(1))
	am = Put(am, NewKeyword("", "b"), NewInt(2))

	hm := EmptyHashMap.Put(NewKeyword("", "b"), NewInt(2))
	hm = hm.Put(NewKeyword("", "a"), NewInt(1))

	require.True(t, Equals(am, hm))
}

func TestEqualsIdentityForFns(t *testing.T) {
	f1 := &Fn{Name: "f"}
	f2 := &Fn{Name: "f"}
	require.True(t, Equals(f1, f1))
	require.False(t, Equals(f1, f2))
}

func TestTruthy(t *testing.T) {
	require.False(t, Truthy(Nil))
	require.False(t, Truthy(False))
	require.True(t, Truthy(True))
	require.True(t, Truthy(NewInt(0)))
	require.True(t, Truthy(NewString("")))
}
