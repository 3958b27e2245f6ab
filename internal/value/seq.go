package value

// Seqer is implemented by every variant that can produce a sequence
// view: List, Cons, Vector, ChunkedCons, LazySeq (after realization),
// and the associative/set collections (ArrayMap/HashMap as a seq of
// [k v] entry vectors, Set as a seq of its members). Seq() returns
// value.Nil when the sequence is empty, mirroring `(seq [])` => nil
// from spec.md §8.
type Seqer interface {
	Value
	Seq() Value
}

// Seq normalizes v to either Nil or a non-empty seq-shaped value
// (Cons, ChunkedCons, or a non-empty List) ready for Uncons.
func Seq(v Value) Value {
	if v == nil || v == Nil {
		return Nil
	}
	if s, ok := v.(Seqer); ok {
		return s.Seq()
	}
	return Nil
}

// Uncons splits a non-nil seq value (as returned by Seq) into its first
// element and the seq of the rest, realizing lazily where needed.
func Uncons(v Value) (Value, Value) {
	switch s := v.(type) {
	case *Cons:
		return s.First, Seq(s.Rest)
	case *ChunkedCons:
		first, _ := s.Chunk.Nth(0)
		if s.Chunk.Count() == 1 {
			return first, Seq(s.Rest)
		}
		return first, &ChunkedCons{Chunk: s.Chunk.Drop(1), Rest: s.Rest}
	case *List:
		return s.First(), Seq(s.RestList())
	}
	return Nil, Nil
}

// First and Rest implement the collection-level `first`/`rest` builtins
// directly against any Value, for callers outside the seq walk above.
func First(v Value) Value {
	s := Seq(v)
	if s == Nil {
		return Nil
	}
	f, _ := Uncons(s)
	return f
}

func Rest(v Value) Value {
	s := Seq(v)
	if s == Nil {
		return EmptyList
	}
	_, r := Uncons(s)
	if r == Nil {
		return EmptyList
	}
	return r
}

func IsEmpty(v Value) bool {
	return Seq(v) == Nil
}

// Get looks key up in coll, returning notFound if coll doesn't have it
// or isn't an associative/indexed/set shape. Shared by the `get`
// builtin and keyword-as-function call dispatch (`(:k coll)` desugars
// to `(get coll :k)`, spec.md §4.8/§9's "keywords are callable").
func Get(coll, key, notFound Value) Value {
	switch c := coll.(type) {
	case Associative:
		if v, ok := c.Get(key); ok {
			return v
		}
	case *Vector:
		if idx, ok := key.(*Int); ok {
			if v, ok := c.Nth(int(idx.V)); ok {
				return v
			}
		}
	case *Set:
		if c.Contains(key) {
			return key
		}
	}
	return notFound
}

// Count returns the number of elements; for lazy sequences this forces
// full realization, matching the Clojure-dialect `count` contract.
func Count(v Value) int {
	switch c := v.(type) {
	case interface{ Count() int }:
		return c.Count()
	}
	n := 0
	s := Seq(v)
	for s != Nil {
		_, s = Uncons(s)
		n++
	}
	return n
}
