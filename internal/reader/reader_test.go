package reader

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lumen-run/lumen/internal/runtime"
	"github.com/lumen-run/lumen/internal/value"
)

func readOneForm(t *testing.T, src string) Form {
	t.Helper()
	r := New(src, "test", runtime.NewInterner())
	forms, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, forms, 1)
	return forms[0]
}

func TestReadAtomsAndLiterals(t *testing.T) {
	require.Equal(t, int64(42), readOneForm(t, "42").Value.(*value.Int).V)
	require.Equal(t, int64(-7), readOneForm(t, "-7").Value.(*value.Int).V)
	require.Equal(t, 1.5, readOneForm(t, "1.5").Value.(*value.Float).V)
	require.Same(t, value.Nil, readOneForm(t, "nil").Value)
	require.Same(t, value.True, readOneForm(t, "true").Value)
	require.Same(t, value.False, readOneForm(t, "false").Value)
	require.Equal(t, "hi", readOneForm(t, `"hi"`).Value.(*value.String).V)
}

func TestReadSymbolAndNamespacedKeyword(t *testing.T) {
	sym := readOneForm(t, "foo/bar").Value.(*value.Symbol)
	require.Equal(t, "foo", sym.Namespace)
	require.Equal(t, "bar", sym.Name)

	kw := readOneForm(t, ":ns/kw").Value.(*value.Keyword)
	require.Equal(t, "ns", kw.Namespace)
	require.Equal(t, "kw", kw.Name)

	plainKw := readOneForm(t, ":shape").Value.(*value.Keyword)
	require.Equal(t, "", plainKw.Namespace)
	require.Equal(t, "shape", plainKw.Name)
}

func TestReadDivisionSymbolIsNotMisreadAsNamespaced(t *testing.T) {
	sym := readOneForm(t, "/").Value.(*value.Symbol)
	require.Equal(t, "", sym.Namespace)
	require.Equal(t, "/", sym.Name)
}

func TestReadCollections(t *testing.T) {
	list := readOneForm(t, "(1 2 3)").Value.(*value.List)
	require.Equal(t, 3, list.Count())

	vec := readOneForm(t, "[1 2 3]").Value.(*value.Vector)
	require.Equal(t, 3, vec.Count())

	m := readOneForm(t, "{:a 1 :b 2}").Value.(*value.ArrayMap)
	require.Equal(t, 2, m.Count())

	set := readOneForm(t, "#{1 2 3}").Value.(*value.Set)
	require.Equal(t, 3, set.Count())
}

func TestReadMapLiteralWithOddFormsErrors(t *testing.T) {
	r := New("{:a}", "test", runtime.NewInterner())
	_, err := r.ReadAll()
	require.Error(t, err)
}

func TestReadQuoteQuasiquoteUnquoteMacros(t *testing.T) {
	q := readOneForm(t, "'x").Value.(*value.List)
	require.Equal(t, "quote", q.First().(*value.Symbol).Name)

	qq := readOneForm(t, "`x").Value.(*value.List)
	require.Equal(t, "quasiquote", qq.First().(*value.Symbol).Name)

	u := readOneForm(t, "~x").Value.(*value.List)
	require.Equal(t, "unquote", u.First().(*value.Symbol).Name)

	us := readOneForm(t, "~@x").Value.(*value.List)
	require.Equal(t, "unquote-splicing", us.First().(*value.Symbol).Name)
}

func TestReadCharLiteralsNamedAndLiteral(t *testing.T) {
	require.Equal(t, '\n', readOneForm(t, `\newline`).Value.(*value.Char).V)
	require.Equal(t, ' ', readOneForm(t, `\space`).Value.(*value.Char).V)
	require.Equal(t, 'a', readOneForm(t, `\a`).Value.(*value.Char).V)
}

func TestReadStringEscapes(t *testing.T) {
	got := readOneForm(t, `"a\nb\tc\"d"`).Value.(*value.String).V
	require.Equal(t, "a\nb\tc\"d", got)
}

func TestReadRegexLiteralPreservesBackslashEscapes(t *testing.T) {
	re := readOneForm(t, `#"\d+"`).Value.(*value.Regex)
	require.Equal(t, `\d+`, re.Source)
	require.True(t, re.Pattern.MatchString("123"))
	require.False(t, re.Pattern.MatchString("abc"))
}

func TestReadRegexLiteralWithEscapedQuote(t *testing.T) {
	re := readOneForm(t, `#"a\"b"`).Value.(*value.Regex)
	require.Equal(t, `a"b`, re.Source)
}

func TestReadVarQuoteDispatch(t *testing.T) {
	v := readOneForm(t, "#'foo/bar").Value.(*value.List)
	require.Equal(t, "var", v.First().(*value.Symbol).Name)
}

func TestCommasAreWhitespaceAndSemicolonsAreComments(t *testing.T) {
	vec := readOneForm(t, "[1, 2, 3] ; trailing comment").Value.(*value.Vector)
	require.Equal(t, 3, vec.Count())
}

func TestInternerReturnsSameSymbolAcrossReads(t *testing.T) {
	in := runtime.NewInterner()
	r1 := New("foo/bar", "test", in)
	f1, err := r1.ReadAll()
	require.NoError(t, err)
	r2 := New("foo/bar", "test", in)
	f2, err := r2.ReadAll()
	require.NoError(t, err)
	require.Same(t, f1[0].Value, f2[0].Value)
}
