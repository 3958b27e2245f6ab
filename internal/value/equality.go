package value

import "math"

// Equals implements the value-equality law from spec.md §3.1: structural
// for primitives/strings/identifiers/collections, identity for fn_val,
// builtin_fn, atom, volatile_ref, multimethod, protocol, protocol_fn,
// var_ref, delay, and transients. Cross-type numeric equality holds
// between integer and float when the double-precision values match.
func Equals(a, b Value) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}

	switch av := a.(type) {
	case *nilVal:
		_, ok := b.(*nilVal)
		return ok
	case *Bool:
		bv, ok := b.(*Bool)
		return ok && av.V == bv.V
	case *Int:
		switch bv := b.(type) {
		case *Int:
			return av.V == bv.V
		case *Float:
			return float64(av.V) == bv.V
		}
		return false
	case *Float:
		switch bv := b.(type) {
		case *Float:
			return av.V == bv.V
		case *Int:
			return av.V == float64(bv.V)
		}
		return false
	case *Char:
		bv, ok := b.(*Char)
		return ok && av.V == bv.V
	case *String:
		bv, ok := b.(*String)
		return ok && av.V == bv.V
	case *Symbol:
		bv, ok := b.(*Symbol)
		return ok && av.Namespace == bv.Namespace && av.Name == bv.Name
	case *Keyword:
		bv, ok := b.(*Keyword)
		return ok && av.Namespace == bv.Namespace && av.Name == bv.Name
	case *Reduced:
		bv, ok := b.(*Reduced)
		return ok && Equals(av.Value, bv.Value)
	}

	if isSeqable(a) && isSeqable(b) {
		return sequentialEquals(a, b)
	}
	if isMapLike(a) && isMapLike(b) {
		return mapEquals(a, b)
	}
	if as, ok := a.(*Set); ok {
		if bs, ok := b.(*Set); ok {
			return setEquals(as, bs)
		}
	}
	return false
}

func isSeqable(v Value) bool {
	switch v.(type) {
	case *List, *Cons, *Vector, *LazySeq, *ChunkedCons:
		return true
	}
	return false
}

func isMapLike(v Value) bool {
	switch v.(type) {
	case *ArrayMap, *HashMap:
		return true
	}
	return false
}

// sequentialEquals compares two seqable values element by element,
// realizing lazy parts on demand, per spec.md §3.1.
func sequentialEquals(a, b Value) bool {
	sa, sb := Seq(a), Seq(b)
	for {
		if sa == Nil && sb == Nil {
			return true
		}
		if sa == Nil || sb == Nil {
			return false
		}
		fa, ra := Uncons(sa)
		fb, rb := Uncons(sb)
		if !Equals(fa, fb) {
			return false
		}
		sa, sb = ra, rb
	}
}

func mapEquals(a, b Value) bool {
	ma, mb := AsAssociative(a), AsAssociative(b)
	if ma.Count() != mb.Count() {
		return false
	}
	eq := true
	ma.Each(func(k, v Value) bool {
		bv, ok := mb.Get(k)
		if !ok || !Equals(v, bv) {
			eq = false
			return false
		}
		return true
	})
	return eq
}

func setEquals(a, b *Set) bool {
	if a.Count() != b.Count() {
		return false
	}
	ok := true
	a.Each(func(v Value) bool {
		if !b.Contains(v) {
			ok = false
			return false
		}
		return true
	})
	return ok
}

// HashValue mixes structural hashes for seqable/map-like composite
// values so equal values hash equal, as required for map/set keys.
func HashValue(v Value) uint32 {
	if v == nil {
		return 0
	}
	if isSeqable(v) {
		h := uint32(1)
		s := Seq(v)
		for s != Nil {
			var first Value
			first, s = Uncons(s)
			h = 31*h + HashValue(first)
		}
		return h
	}
	if isMapLike(v) {
		h := uint32(0)
		AsAssociative(v).Each(func(k, val Value) bool {
			h ^= HashValue(k)*31 + HashValue(val)
			return true
		})
		return h
	}
	return v.Hash()
}

func nanSafeEq(x, y float64) bool {
	if math.IsNaN(x) || math.IsNaN(y) {
		return false
	}
	return x == y
}
