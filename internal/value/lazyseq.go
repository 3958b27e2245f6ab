package value

import "sync"

// Applier lets a LazySeq call back into user code (the map/filter
// function, a reduce's step function, ...) without this package
// depending on either backend; runtime/corelib construct LazySeqs with
// an Applier that ultimately calls internal/backend's bridge.
type Applier interface {
	Apply(fn Value, args []Value) (Value, error)
}

// lazyKind tags which structural-metadata shape a LazySeq carries, so
// FusedReduce can walk a whole chain without realizing intermediate
// cons cells (spec.md §4.8).
type lazyKind uint8

const (
	lazyPlain lazyKind = iota // opaque thunk, no fusable structure
	lazyMap
	lazyFilterChain
	lazyTake
	lazyRange
	lazyIterate
)

// LazySeq is the `lazy_seq` variant: either an opaque zero-arg thunk or
// one of the structural-metadata shapes that FusedReduce recognizes.
type LazySeq struct {
	mu       sync.Mutex
	realized bool
	result   Value // cached Nil or seq-head (*Cons/*ChunkedCons) after realization
	err      error
	thunk    func() (Value, error)

	kind    lazyKind
	source  Value   // base seq for map/filter/take
	fn      Value   // transform fn for map
	preds   []Value // predicate chain for filterChain
	n       int64   // remaining count for take; step for range/iterate
	cur     int64   // current value for range
	hasEnd  bool
	end     int64
	ap      Applier
	iterFn  Value // fn for iterate
	iterVal Value // current value for iterate
}

func (l *LazySeq) Kind() Type { return TLazySeq }

func (l *LazySeq) Inspect() string { return Inspect(l.Seq()) }

func (l *LazySeq) Hash() uint32 { return HashValue(l) }

// NewLazy wraps a plain zero-arg thunk that must return Nil or a
// (first, rest) cons-shaped Value.
func NewLazy(thunk func() (Value, error)) *LazySeq {
	return &LazySeq{kind: lazyPlain, thunk: thunk}
}

// NewLazyMap builds the `lazy_map` structural variant.
func NewLazyMap(source Value, fn Value, ap Applier) *LazySeq {
	return &LazySeq{kind: lazyMap, source: source, fn: fn, ap: ap}
}

// NewLazyFilterChain builds `lazy_filter_chain`; stacking filters
// should append to an existing chain's preds rather than nesting
// LazySeqs, which is the caller's (corelib `filter`) responsibility.
func NewLazyFilterChain(source Value, preds []Value, ap Applier) *LazySeq {
	return &LazySeq{kind: lazyFilterChain, source: source, preds: preds, ap: ap}
}

// NewLazyTake builds `lazy_take`.
func NewLazyTake(source Value, n int64) *LazySeq {
	return &LazySeq{kind: lazyTake, source: source, n: n}
}

// NewFilter builds a `lazy_filter_chain`, collapsing onto an existing
// chain's predicate array rather than nesting LazySeqs when source is
// itself already a filter chain (spec.md §4.8: "stacking filters
// collapses into lazy_filter_chain with a flat predicate array to
// avoid deep recursion").
func NewFilter(source Value, pred Value, ap Applier) *LazySeq {
	if fc, ok := source.(*LazySeq); ok && fc.kind == lazyFilterChain {
		preds := append(append([]Value{}, fc.preds...), pred)
		return NewLazyFilterChain(fc.source, preds, ap)
	}
	return NewLazyFilterChain(source, []Value{pred}, ap)
}

// NewRange builds the `range` structural lazy-seq; hasEnd false means unbounded.
func NewRange(start, step int64, end int64, hasEnd bool) *LazySeq {
	return &LazySeq{kind: lazyRange, cur: start, n: step, end: end, hasEnd: hasEnd}
}

// NewIterate builds the `iterate` structural lazy-seq: f applied
// repeatedly starting from seed.
func NewIterate(fn Value, seed Value, ap Applier) *LazySeq {
	return &LazySeq{kind: lazyIterate, iterFn: fn, iterVal: seed, ap: ap}
}

// Seq realizes this LazySeq to Nil or a cons-shaped head, caching the
// result (and any error, surfaced as Nil to Seq callers — use Realize
// for the fallible form).
func (l *LazySeq) Seq() Value {
	v, err := l.Realize()
	if err != nil {
		return Nil
	}
	return v
}

// Realize forces this LazySeq exactly once; subsequent calls replay the
// cached result or error, matching `delay`'s cache-on-first-force rule
// reused here for lazy-seqs.
func (l *LazySeq) Realize() (Value, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.realized {
		return l.result, l.err
	}
	l.result, l.err = l.step()
	l.realized = true
	return l.result, l.err
}

// step computes one realization step: either the plain thunk, or one
// element pulled through this node's structural transform from its
// source, producing a (first, rest-lazy-seq) pair lazily.
func (l *LazySeq) step() (Value, error) {
	switch l.kind {
	case lazyPlain:
		return l.thunk()
	case lazyRange:
		if l.hasEnd && ((l.n > 0 && l.cur >= l.end) || (l.n < 0 && l.cur <= l.end)) {
			return Nil, nil
		}
		first := NewInt(l.cur)
		rest := &LazySeq{kind: lazyRange, cur: l.cur + l.n, n: l.n, end: l.end, hasEnd: l.hasEnd}
		return NewCons(first, rest), nil
	case lazyIterate:
		rest := &LazySeq{kind: lazyIterate, iterFn: l.iterFn, ap: l.ap}
		next, err := l.ap.Apply(l.iterFn, []Value{l.iterVal})
		if err != nil {
			return Nil, err
		}
		rest.iterVal = next
		return NewCons(l.iterVal, rest), nil
	case lazyTake:
		if l.n <= 0 {
			return Nil, nil
		}
		s := Seq(l.source)
		if s == Nil {
			return Nil, nil
		}
		first, restSrc := Uncons(s)
		if l.n == 1 {
			return NewCons(first, Nil), nil
		}
		rest := &LazySeq{kind: lazyTake, source: restSrc, n: l.n - 1}
		return NewCons(first, rest), nil
	case lazyMap:
		s := Seq(l.source)
		if s == Nil {
			return Nil, nil
		}
		first, restSrc := Uncons(s)
		mapped, err := l.ap.Apply(l.fn, []Value{first})
		if err != nil {
			return Nil, err
		}
		rest := &LazySeq{kind: lazyMap, source: restSrc, fn: l.fn, ap: l.ap}
		return NewCons(mapped, rest), nil
	case lazyFilterChain:
		s := Seq(l.source)
		for s != Nil {
			var first Value
			first, s = Uncons(s)
			ok, err := l.passesAll(first)
			if err != nil {
				return Nil, err
			}
			if ok {
				rest := &LazySeq{kind: lazyFilterChain, source: s, preds: l.preds, ap: l.ap}
				return NewCons(first, rest), nil
			}
		}
		return Nil, nil
	}
	return Nil, nil
}

func (l *LazySeq) passesAll(v Value) (bool, error) {
	for _, p := range l.preds {
		r, err := l.ap.Apply(p, []Value{v})
		if err != nil {
			return false, err
		}
		if !Truthy(r) {
			return false, nil
		}
	}
	return true, nil
}

// FusedReduce walks a chain of map/filter/take structural-metadata
// LazySeqs over their ultimate base source, applying every transform
// inline per element instead of materializing each intermediate
// lazy-seq layer — spec.md §4.8's fused reduce, e.g. for
// `(take n (map f (filter p (range m))))`. Fusion runs all filters
// before all maps, so a chain with a map or take nested inside a
// filter (such as `(filter p (map f ...))`) is not fused: it is walked
// element by element through its own lazy realization.
//
// step receives each surviving, transformed element and returns false
// to stop early (mirroring `reduced`); FusedReduce returns the error
// from the first failing transform or step call, if any.
func FusedReduce(v Value, ap Applier, step func(Value) (bool, error)) error {
	ls, ok := v.(*LazySeq)
	if !ok {
		s := Seq(v)
		for s != Nil {
			var first Value
			first, s = Uncons(s)
			cont, err := step(first)
			if err != nil || !cont {
				return err
			}
		}
		return nil
	}

	var takeLimit int64 = -1
	var maps []Value
	var filters []Value

	cur := ls
	for {
		switch cur.kind {
		case lazyMap:
			if len(filters) > 0 {
				return fusedWalk(ls, ap, nil, nil, -1, step)
			}
			maps = append([]Value{cur.fn}, maps...)
			if src, ok := cur.source.(*LazySeq); ok {
				cur = src
				continue
			}
			return fusedWalk(cur.source, ap, maps, filters, takeLimit, step)
		case lazyFilterChain:
			filters = append(append([]Value{}, cur.preds...), filters...)
			if src, ok := cur.source.(*LazySeq); ok {
				cur = src
				continue
			}
			return fusedWalk(cur.source, ap, maps, filters, takeLimit, step)
		case lazyTake:
			if len(filters) > 0 {
				return fusedWalk(ls, ap, nil, nil, -1, step)
			}
			if takeLimit < 0 || cur.n < takeLimit {
				takeLimit = cur.n
			}
			if src, ok := cur.source.(*LazySeq); ok {
				cur = src
				continue
			}
			return fusedWalk(cur.source, ap, maps, filters, takeLimit, step)
		default:
			return fusedWalk(cur, ap, maps, filters, takeLimit, step)
		}
	}
}

func fusedWalk(base Value, ap Applier, maps, filters []Value, takeLimit int64, step func(Value) (bool, error)) error {
	s := Seq(base)
	var n int64
	for s != Nil {
		if takeLimit >= 0 && n >= takeLimit {
			return nil
		}
		// Chunked source (e.g. a Vector's Seq): walk the whole ArrayChunk
		// in place so filters/maps amortize over chunkWidth elements per
		// Rest-allocation instead of one Uncons call per element.
		if cc, ok := s.(*ChunkedCons); ok {
			cont, consumed, err := fusedWalkChunk(cc.Chunk, ap, maps, filters, takeLimit, n, step)
			n += consumed
			if err != nil || !cont {
				return err
			}
			s = Seq(cc.Rest)
			continue
		}
		var el Value
		el, s = Uncons(s)
		keep := true
		for _, p := range filters {
			r, err := ap.Apply(p, []Value{el})
			if err != nil {
				return err
			}
			if !Truthy(r) {
				keep = false
				break
			}
		}
		if !keep {
			continue
		}
		for _, f := range maps {
			r, err := ap.Apply(f, []Value{el})
			if err != nil {
				return err
			}
			el = r
		}
		n++
		cont, err := step(el)
		if err != nil || !cont {
			return err
		}
	}
	return nil
}

// fusedWalkChunk runs filters/maps/step over every element of one
// ArrayChunk without allocating an intermediate cons per element,
// returning whether to continue and how many elements it emitted to step.
func fusedWalkChunk(chunk *ArrayChunk, ap Applier, maps, filters []Value, takeLimit, already int64, step func(Value) (bool, error)) (bool, int64, error) {
	var emitted int64
	for i := 0; i < chunk.Count(); i++ {
		if takeLimit >= 0 && already+emitted >= takeLimit {
			return false, emitted, nil
		}
		el, _ := chunk.Nth(i)
		keep := true
		for _, p := range filters {
			r, err := ap.Apply(p, []Value{el})
			if err != nil {
				return false, emitted, err
			}
			if !Truthy(r) {
				keep = false
				break
			}
		}
		if !keep {
			continue
		}
		for _, f := range maps {
			r, err := ap.Apply(f, []Value{el})
			if err != nil {
				return false, emitted, err
			}
			el = r
		}
		emitted++
		cont, err := step(el)
		if err != nil || !cont {
			return false, emitted, err
		}
	}
	return true, emitted, nil
}
