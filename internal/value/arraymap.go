package value

// ArrayMap is the `map` variant: a small, insertion-ordered parallel-
// array map used for small literal maps (spec.md §4.1). Lookup is O(n),
// which is fine at the sizes literal maps actually have; beyond
// arrayMapMaxSize a Put upgrades the result to a HashMap transparently,
// matching Clojure's own array-map-to-hash-map promotion.
const arrayMapMaxSize = 8

type arrayMapEntry struct {
	key, val Value
}

type ArrayMap struct {
	entries []arrayMapEntry
}

var EmptyArrayMap = &ArrayMap{}

func (m *ArrayMap) Kind() Type      { return TMap }
func (m *ArrayMap) Inspect() string { return inspectAssociative(m) }
func (m *ArrayMap) Hash() uint32    { return HashValue(m) }
func (m *ArrayMap) Count() int      { return len(m.entries) }

func (m *ArrayMap) Get(key Value) (Value, bool) {
	for _, e := range m.entries {
		if Equals(e.key, key) {
			return e.val, true
		}
	}
	return Nil, false
}

func (m *ArrayMap) Each(fn func(k, v Value) bool) {
	for _, e := range m.entries {
		if !fn(e.key, e.val) {
			return
		}
	}
}

// Seq realizes the map as a seq of [k v] entry vectors.
func (m *ArrayMap) Seq() Value { return associativeSeq(m) }

// Put returns a new map with key/val set, upgrading to a HashMap once
// the array-map size threshold is crossed.
func Put(m Value, key, val Value) Value {
	switch t := m.(type) {
	case *ArrayMap:
		for i, e := range t.entries {
			if Equals(e.key, key) {
				entries := make([]arrayMapEntry, len(t.entries))
				copy(entries, t.entries)
				entries[i] = arrayMapEntry{key, val}
				return &ArrayMap{entries: entries}
			}
		}
		if len(t.entries) >= arrayMapMaxSize {
			hm := EmptyHashMap
			t.Each(func(k, v Value) bool {
				hm = hm.Put(k, v)
				return true
			})
			return hm.Put(key, val)
		}
		entries := make([]arrayMapEntry, len(t.entries)+1)
		copy(entries, t.entries)
		entries[len(t.entries)] = arrayMapEntry{key, val}
		return &ArrayMap{entries: entries}
	case *HashMap:
		return t.Put(key, val)
	}
	return EmptyArrayMap
}

func Dissoc(m Value, key Value) Value {
	switch t := m.(type) {
	case *ArrayMap:
		entries := make([]arrayMapEntry, 0, len(t.entries))
		for _, e := range t.entries {
			if !Equals(e.key, key) {
				entries = append(entries, e)
			}
		}
		return &ArrayMap{entries: entries}
	case *HashMap:
		return t.Remove(key)
	}
	return m
}

// ArrayMapFrom builds a map from a flat key/value pair slice, promoting
// to a HashMap transparently (via Put) once the array-map size
// threshold is crossed partway through construction.
func ArrayMapFrom(pairs []Value) Value {
	var m Value = EmptyArrayMap
	for i := 0; i+1 < len(pairs); i += 2 {
		m = Put(m, pairs[i], pairs[i+1])
	}
	return m
}

func inspectAssociative(m Associative) string {
	var sb []byte
	sb = append(sb, '{')
	first := true
	m.Each(func(k, v Value) bool {
		if !first {
			sb = append(sb, ',', ' ')
		}
		first = false
		sb = append(sb, Inspect(k)...)
		sb = append(sb, ' ')
		sb = append(sb, Inspect(v)...)
		return true
	})
	sb = append(sb, '}')
	return string(sb)
}
