package value

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Inspect is the unconditional readable-ish form used internally (error
// messages, Go-level debugging) and by collection Inspect() methods to
// print their elements; it never applies print-length/print-level
// limits. For the session-visible `pr`/`print` builtins use PrStr/PrintStr.
func Inspect(v Value) string {
	if v == nil {
		return "nil"
	}
	return v.Inspect()
}

// PrintLimits carries the *print-length*/*print-level* dynamic var
// values (spec.md §6.3); runtime.Environment resolves these from its
// dynamic var bindings and passes them in. Non-positive means unbounded.
type PrintLimits struct {
	Length int
	Level  int
}

var Unbounded = PrintLimits{Length: -1, Level: -1}

// PrStr renders v in readable form (`pr`): strings quoted and escaped,
// chars as \A / \newline / \space / \tab, floats always with a decimal
// point, special floats as ##NaN/##Inf/##-Inf, namespaced identifiers as
// ns/name, collections bracketed, vars as #'ns/name.
func PrStr(v Value, lim PrintLimits) string {
	var sb strings.Builder
	writeValue(&sb, v, lim, true, 0)
	return sb.String()
}

// PrintStr renders v in non-readable form (`print`): nil prints empty,
// strings unquoted, chars as their literal code point.
func PrintStr(v Value, lim PrintLimits) string {
	var sb strings.Builder
	writeValue(&sb, v, lim, false, 0)
	return sb.String()
}

func writeValue(sb *strings.Builder, v Value, lim PrintLimits, readable bool, depth int) {
	if v == nil || v == Nil {
		if readable {
			sb.WriteString("nil")
		}
		return
	}
	if lim.Level >= 0 && depth > lim.Level {
		sb.WriteByte('#')
		return
	}
	switch t := v.(type) {
	case *Bool:
		sb.WriteString(t.Inspect())
	case *Int:
		sb.WriteString(strconv.FormatInt(t.V, 10))
	case *Float:
		sb.WriteString(formatFloat(t.V))
	case *Char:
		if readable {
			sb.WriteString(escapeChar(t.V))
		} else {
			sb.WriteRune(t.V)
		}
	case *String:
		if readable {
			sb.WriteString(escapeString(t.V))
		} else {
			sb.WriteString(t.V)
		}
	case *Symbol:
		sb.WriteString(t.Inspect())
	case *Keyword:
		sb.WriteString(t.Inspect())
	case *VarRef:
		sb.WriteString("#'")
		sb.WriteString(t.Namespace)
		sb.WriteByte('/')
		sb.WriteString(t.Name)
	case *List:
		writeSeq(sb, "(", ")", Seq(t), lim, readable, depth)
	case *Cons:
		writeSeq(sb, "(", ")", t, lim, readable, depth)
	case *ChunkedCons:
		writeSeq(sb, "(", ")", t, lim, readable, depth)
	case *LazySeq:
		writeSeq(sb, "(", ")", Seq(t), lim, readable, depth)
	case *Vector:
		writeIndexed(sb, "[", "]", t, lim, readable, depth)
	case *ArrayMap:
		writeMap(sb, t, lim, readable, depth)
	case *HashMap:
		writeMap(sb, t, lim, readable, depth)
	case *Set:
		writeSet(sb, t, lim, readable, depth)
	default:
		sb.WriteString(v.Inspect())
	}
}

func writeSeq(sb *strings.Builder, open, close string, seq Value, lim PrintLimits, readable bool, depth int) {
	sb.WriteString(open)
	n := 0
	s := seq
	first := true
	for s != Nil && s != nil {
		if lim.Length >= 0 && n >= lim.Length {
			if !first {
				sb.WriteByte(' ')
			}
			sb.WriteString("...")
			break
		}
		var v Value
		v, s = Uncons(s)
		if !first {
			sb.WriteByte(' ')
		}
		first = false
		writeValue(sb, v, lim, readable, depth+1)
		n++
	}
	sb.WriteString(close)
}

func writeIndexed(sb *strings.Builder, open, close string, vec *Vector, lim PrintLimits, readable bool, depth int) {
	sb.WriteString(open)
	n := vec.Count()
	limitN := n
	truncated := false
	if lim.Length >= 0 && lim.Length < n {
		limitN = lim.Length
		truncated = true
	}
	for i := 0; i < limitN; i++ {
		if i > 0 {
			sb.WriteByte(' ')
		}
		el, _ := vec.Nth(i)
		writeValue(sb, el, lim, readable, depth+1)
	}
	if truncated {
		if limitN > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString("...")
	}
	sb.WriteString(close)
}

func writeMap(sb *strings.Builder, m Associative, lim PrintLimits, readable bool, depth int) {
	sb.WriteByte('{')
	n := 0
	first := true
	m.Each(func(k, v Value) bool {
		if lim.Length >= 0 && n >= lim.Length {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString("...")
			return false
		}
		if !first {
			sb.WriteString(", ")
		}
		first = false
		writeValue(sb, k, lim, readable, depth+1)
		sb.WriteByte(' ')
		writeValue(sb, v, lim, readable, depth+1)
		n++
		return true
	})
	sb.WriteByte('}')
}

func writeSet(sb *strings.Builder, s *Set, lim PrintLimits, readable bool, depth int) {
	sb.WriteString("#{")
	n := 0
	first := true
	s.Each(func(v Value) bool {
		if lim.Length >= 0 && n >= lim.Length {
			if !first {
				sb.WriteByte(' ')
			}
			sb.WriteString("...")
			return false
		}
		if !first {
			sb.WriteByte(' ')
		}
		first = false
		writeValue(sb, v, lim, readable, depth+1)
		n++
		return true
	})
	sb.WriteString("}")
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "##NaN"
	case math.IsInf(f, 1):
		return "##Inf"
	case math.IsInf(f, -1):
		return "##-Inf"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func escapeString(s string) string {
	var sb strings.Builder
	sb.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			sb.WriteString(`\"`)
		case '\\':
			sb.WriteString(`\\`)
		case '\n':
			sb.WriteString(`\n`)
		case '\t':
			sb.WriteString(`\t`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

func escapeChar(r rune) string {
	switch r {
	case '\n':
		return `\newline`
	case ' ':
		return `\space`
	case '\t':
		return `\tab`
	default:
		return fmt.Sprintf(`\%c`, r)
	}
}
