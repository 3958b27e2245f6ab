package value

import "regexp"

// Regex is the `regex` variant: a compiled pattern. Compilation itself
// is out of scope (spec.md §1 Out-of-scope: "a regex compiler"); this
// wraps the standard library's regexp.Regexp, the only reasonable
// choice since no pack example ships a non-stdlib regex engine
// (documented in DESIGN.md).
type Regex struct {
	Source  string
	Pattern *regexp.Regexp
}

func (r *Regex) Kind() Type      { return TRegex }
func (r *Regex) Inspect() string { return "#\"" + r.Source + "\"" }
func (r *Regex) Hash() uint32    { return fnv32(r.Source) }

func CompileRegex(src string) (*Regex, error) {
	p, err := regexp.Compile(src)
	if err != nil {
		return nil, err
	}
	return &Regex{Source: src, Pattern: p}, nil
}
