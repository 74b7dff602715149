package analysis

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/codeindex/internal/graph"
	"github.com/jward/codeindex/internal/parser"
)

func outlineOf(t *testing.T, lang parser.Language, src string) *Outline {
	t.Helper()
	a, ok := parser.ForLanguage(lang)
	require.True(t, ok)
	tree, err := a.Parse(context.Background(), "f", []byte(src))
	require.NoError(t, err)
	return NewOutline(tree)
}

func declNamed(t *testing.T, o *Outline, name string) int {
	t.Helper()
	for i, n := range o.Tree.Nodes {
		if n.Role.Declaration() && n.Name == name {
			return i
		}
	}
	t.Fatalf("declaration %q not found", name)
	return -1
}

// =============================================================================
// Cyclomatic
// =============================================================================

func TestCyclomatic_NoBranches(t *testing.T) {
	t.Parallel()
	o := outlineOf(t, parser.Go, "package p\n\nfunc plain(a, b int) int {\n\tc := a + b\n\treturn c\n}\n")
	assert.Equal(t, 1, o.Cyclomatic(declNamed(t, o, "plain")))
}

func TestCyclomatic_IfAndFor(t *testing.T) {
	t.Parallel()
	o := outlineOf(t, parser.Go, `package p

func walk(xs []int) int {
	n := 0
	if len(xs) == 0 {
		return 0
	}
	for _, x := range xs {
		n += x
	}
	return n
}
`)
	assert.Equal(t, 3, o.Cyclomatic(declNamed(t, o, "walk")))
}

func TestCyclomatic_AcrossLanguages(t *testing.T) {
	t.Parallel()
	tests := []struct {
		lang parser.Language
		name string
		src  string
		want int
	}{
		{parser.Python, "f", "def f(x):\n    if x:\n        return 1\n    for i in x:\n        pass\n    return 0\n", 3},
		{parser.TypeScript, "f", "function f(x: number) {\n  if (x > 0 && x < 10) { return 1; }\n  try { g(); } catch (e) { return 2; }\n  return x ? 3 : 4;\n}\n", 5},
		{parser.Java, "f", "class A {\n  int f(int x) {\n    switch (x) {\n      case 1: return 1;\n      case 2: return 2;\n      default: return 0;\n    }\n  }\n}\n", 3},
		{parser.Rust, "f", "fn f(x: i32) -> i32 {\n    while x > 0 { break; }\n    if x == 1 || x == 2 { 1 } else { 0 }\n}\n", 4},
	}
	for _, tt := range tests {
		t.Run(string(tt.lang), func(t *testing.T) {
			o := outlineOf(t, tt.lang, tt.src)
			assert.Equal(t, tt.want, o.Cyclomatic(declNamed(t, o, tt.name)))
		})
	}
}

func TestCyclomatic_NestedDeclarationsMeasuredSeparately(t *testing.T) {
	t.Parallel()
	o := outlineOf(t, parser.Python, "def outer(x):\n    def inner(y):\n        if y:\n            return 1\n    return inner(x)\n")
	assert.Equal(t, 1, o.Cyclomatic(declNamed(t, o, "outer")))
	assert.Equal(t, 2, o.Cyclomatic(declNamed(t, o, "inner")))
}

// =============================================================================
// Cognitive
// =============================================================================

func TestCognitive_Nesting(t *testing.T) {
	t.Parallel()
	o := outlineOf(t, parser.Go, `package p

func deep(xs []int) int {
	total := 0
	if len(xs) > 0 {
		if xs[0] > 1 {
			for _, x := range xs {
				total += x
			}
		} else {
			total = -1
		}
	}
	return total
}
`)
	root := declNamed(t, o, "deep")
	// if(1) + nested if(2) + loop nested in two ifs(3) + else(1)
	assert.Equal(t, 7, o.Cognitive(root))
	assert.Equal(t, 4, o.Cyclomatic(root))
}

func TestCognitive_Recursion(t *testing.T) {
	t.Parallel()
	o := outlineOf(t, parser.Go, `package p

func fact(n int) int {
	if n <= 1 {
		return 1
	}
	return n * fact(n-1)
}
`)
	root := declNamed(t, o, "fact")
	assert.Equal(t, 2, o.Cognitive(root))
	assert.Equal(t, 2, o.Cyclomatic(root))
}

func TestCognitive_LogicalRuns(t *testing.T) {
	t.Parallel()
	o := outlineOf(t, parser.Go, `package p

func check(a, b, c, d bool) bool {
	if a && b && c || d {
		return true
	}
	return false
}
`)
	root := declNamed(t, o, "check")
	// if(1) + "||" run(1) + "&&" run(1)
	assert.Equal(t, 3, o.Cognitive(root))
	assert.Equal(t, 5, o.Cyclomatic(root))
}

func TestCognitive_LambdaIncreasesNesting(t *testing.T) {
	t.Parallel()
	o := outlineOf(t, parser.JavaScript, "function run(xs) {\n  xs.forEach((x) => {\n    if (x) { log(x); }\n  });\n}\n")
	assert.Equal(t, 2, o.Cognitive(declNamed(t, o, "run")))
}

// =============================================================================
// Lines & maintainability
// =============================================================================

func TestLines(t *testing.T) {
	t.Parallel()
	o := outlineOf(t, parser.Go, "package p\n\nfunc f() {\n\t// note\n\tx := 1\n\n\t_ = x\n}\n")
	code, comments := o.Lines(declNamed(t, o, "f"))
	assert.Equal(t, 4, code)
	assert.Equal(t, 1, comments)

	m := o.Measure(declNamed(t, o, "f"))
	assert.Equal(t, graph.Metrics{Cyclomatic: 1, Cognitive: 0, LinesOfCode: 4, CommentLines: 1}, m)
}

func TestMaintainability(t *testing.T) {
	t.Parallel()
	trivial := Maintainability(graph.Metrics{Cyclomatic: 1, LinesOfCode: 1})
	assert.InDelta(t, 80.0, trivial, 1e-9)

	documented := Maintainability(graph.Metrics{Cyclomatic: 1, LinesOfCode: 1, CommentLines: 1})
	assert.InDelta(t, 100.0, documented, 1e-9)

	worst := Maintainability(graph.Metrics{Cyclomatic: 500, LinesOfCode: 100000})
	assert.Equal(t, 0.0, worst)

	prev := 101.0
	for cc := 1; cc <= 60; cc += 5 {
		s := Maintainability(graph.Metrics{Cyclomatic: cc, LinesOfCode: 40})
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 100.0)
		assert.LessOrEqual(t, s, prev)
		prev = s
	}
}

// =============================================================================
// Duplicates
// =============================================================================

const dupBody = `func load(id string) (*User, error) {
	row := db.QueryRow("select * from users where id = ?", id)
	var u User
	if err := row.Scan(&u.ID, &u.Name); err != nil {
		return nil, err
	}
	return &u, nil
}`

func frag(id, path, src string) Fragment {
	return Fragment{ID: id, Path: path, StartLine: 1, EndLine: strings.Count(src, "\n") + 1, Source: src}
}

func TestFindDuplicates_ExactIsByteIdentical(t *testing.T) {
	t.Parallel()
	spaced := strings.ReplaceAll(dupBody, "\t", "    ")
	frags := []Fragment{
		frag("a", "a.go", dupBody),
		frag("b", "b.go", dupBody),
		frag("c", "c.go", spaced),
		frag("d", "d.go", "func other() {\n\treturn\n}\n\n\n"),
	}
	groups := FindDuplicates(frags, DuplicateOptions{Threshold: 1, MinLines: 3})
	require.Len(t, groups, 1)
	assert.Equal(t, []int{0, 1}, groups[0].Members)
	assert.Equal(t, 1.0, groups[0].Similarity)
}

func TestFindDuplicates_IgnoreWhitespace(t *testing.T) {
	t.Parallel()
	spaced := strings.ReplaceAll(dupBody, "\t", "    ")
	frags := []Fragment{frag("a", "a.go", dupBody), frag("c", "c.go", spaced)}
	groups := FindDuplicates(frags, DuplicateOptions{Threshold: 1, MinLines: 3, IgnoreWhitespace: true})
	require.Len(t, groups, 1)
	assert.Equal(t, []int{0, 1}, groups[0].Members)
}

func TestFindDuplicates_SimilarAndMonotonic(t *testing.T) {
	t.Parallel()
	variant := strings.Replace(dupBody, `return nil, err`, `return nil, fmt.Errorf("scan: %w", err)`, 1)
	frags := []Fragment{
		frag("a", "a.go", dupBody),
		frag("b", "b.go", dupBody),
		frag("v", "v.go", variant),
	}

	exact := FindDuplicates(frags, DuplicateOptions{Threshold: 1, MinLines: 3})
	similar := FindDuplicates(frags, DuplicateOptions{Threshold: 0.8, MinLines: 3})
	require.Len(t, exact, 1)
	require.Len(t, similar, 1)
	assert.Equal(t, []int{0, 1, 2}, similar[0].Members)
	assert.InDelta(t, 7.0/8.0, similar[0].Similarity, 1e-9)

	for _, g := range exact {
		found := false
		for _, s := range similar {
			if isSubset(g.Members, s.Members) {
				found = true
			}
		}
		assert.True(t, found, "exact group %v missing at lower threshold", g.Members)
	}
}

func TestFindDuplicates_MinLinesAndSameID(t *testing.T) {
	t.Parallel()
	short := "x := 1\ny := 2"
	frags := []Fragment{
		frag("a", "a.go", short),
		frag("b", "b.go", short),
		frag("c", "c.go", dupBody),
		frag("c", "c.go", dupBody),
	}
	assert.Empty(t, FindDuplicates(frags, DuplicateOptions{Threshold: 1, MinLines: 3}))
}

func TestFindDuplicates_TransitiveMerge(t *testing.T) {
	t.Parallel()
	var lines []string
	for i := 0; i < 10; i++ {
		lines = append(lines, fmt.Sprintf("step%d()", i))
	}
	base := strings.Join(lines, "\n")
	one := strings.Replace(base, "step0()", "first()", 1)
	two := strings.Replace(one, "step9()", "last()", 1)
	frags := []Fragment{frag("a", "a.go", base), frag("b", "b.go", one), frag("c", "c.go", two)}

	groups := FindDuplicates(frags, DuplicateOptions{Threshold: 0.9, MinLines: 3})
	require.Len(t, groups, 1)
	assert.Equal(t, []int{0, 1, 2}, groups[0].Members)
	assert.InDelta(t, 0.9, groups[0].Similarity, 1e-9)
}

func isSubset(a, b []int) bool {
	set := make(map[int]bool, len(b))
	for _, x := range b {
		set[x] = true
	}
	for _, x := range a {
		if !set[x] {
			return false
		}
	}
	return true
}

func TestLineSimilarity(t *testing.T) {
	t.Parallel()
	assert.Equal(t, 1.0, LineSimilarity([]string{"a", "b"}, []string{"a", "b"}))
	assert.Equal(t, 0.0, LineSimilarity([]string{"a"}, []string{"b"}))
	assert.Equal(t, 0.5, LineSimilarity([]string{"a", "b"}, []string{"b", "a"}))
	assert.InDelta(t, 2.0/3.0, LineSimilarity([]string{"a", "b", "c"}, []string{"a", "c"}), 1e-9)
}

func TestLineSimilarity_FrequentLinesStillMatch(t *testing.T) {
	t.Parallel()
	a := make([]string, 300)
	for i := range a {
		a[i] = "}"
		if i%2 == 0 {
			a[i] = fmt.Sprintf("x%d", i)
		}
	}
	b := append([]string(nil), a...)
	b[100] = "changed"
	assert.InDelta(t, 299.0/300.0, LineSimilarity(a, b), 1e-9)
}

func TestMulMod_MatchesBigInt(t *testing.T) {
	t.Parallel()
	mod := new(big.Int).SetUint64(rkMod)
	pairs := [][2]uint64{{0, 5}, {rkMod - 1, rkMod - 1}, {1 << 60, rkBase}, {123456789012345, 987654321098765}}
	for _, p := range pairs {
		want := new(big.Int).Mul(new(big.Int).SetUint64(p[0]), new(big.Int).SetUint64(p[1]))
		want.Mod(want, mod)
		assert.Equal(t, want.Uint64(), mulMod(p[0], p[1]), "%d*%d", p[0], p[1])
	}
}

func TestShingles(t *testing.T) {
	t.Parallel()
	toks := Tokens([]string{"a := f(b, c)"})
	assert.Equal(t, []string{"a", ":", "=", "f", "(", "b", ",", "c", ")"}, toks)

	sh := Shingles(toks, 5)
	assert.Len(t, sh, len(toks)-4)
	assert.Equal(t, sh, Shingles(toks, 5))
	assert.Len(t, Shingles([]string{"x", "y"}, 5), 1)
	assert.Nil(t, Shingles(nil, 5))

	// A window's hash does not depend on the tokens before it.
	shifted := Shingles(append([]string{"z"}, toks...), 5)
	assert.Equal(t, sh, shifted[1:])
}

func TestNormalizeLines(t *testing.T) {
	t.Parallel()
	src := "a  =  1 // set a\n\n# note\n/* block */ b = 2\n"
	assert.Equal(t, []string{"a = 1 // set a", "# note", "/* block */ b = 2"},
		NormalizeLines(src, true, false))
	assert.Equal(t, []string{"a = 1", "b = 2"}, NormalizeLines(src, true, true))
	assert.Equal(t, []string{"x := \"http://a\""}, NormalizeLines(`x := "http://a"`, true, true))
}
