package analysis

import (
	"hash/fnv"
	"math/bits"
	"regexp"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Fragment is one candidate span for duplicate detection.
type Fragment struct {
	ID        string
	Path      string
	StartLine int
	EndLine   int
	Source    string
}

// DuplicateOptions tunes FindDuplicates.
type DuplicateOptions struct {
	// Threshold is the minimum line similarity in [0, 1]. At 1.0 without
	// normalization only byte-identical fragments match.
	Threshold        float64
	MinLines         int
	IgnoreWhitespace bool
	IgnoreComments   bool
}

// Group is a set of mutually similar fragments, merged transitively.
type Group struct {
	Members []int // indexes into the input fragments
	// Similarity is the lowest confirmed pairwise similarity in the group.
	Similarity float64
}

const (
	shingleSize = 5
	// maxBucket bounds candidate pairs for shingles shared by very many
	// fragments. Whole-fragment hashes are never bounded.
	maxBucket = 64
	// maxMatchCells caps the size of one line comparison.
	maxMatchCells = 4_000_000
)

type prepared struct {
	lines  []string
	whole  uint64
	shards []uint64
}

// FindDuplicates groups fragments whose similarity meets opts.Threshold.
// Candidates come from rolling-hash shingles over normalized token streams
// and whole-fragment hashes; each candidate pair is confirmed by line
// similarity. Groups hold at least two distinct fragments and are sorted by
// size, then by first member.
func FindDuplicates(frags []Fragment, opts DuplicateOptions) []Group {
	exact := opts.Threshold >= 1 && !opts.IgnoreWhitespace && !opts.IgnoreComments
	prep := make([]*prepared, len(frags))
	for i := range frags {
		f := &frags[i]
		if f.EndLine-f.StartLine+1 < opts.MinLines {
			continue
		}
		lines := NormalizeLines(f.Source, opts.IgnoreWhitespace, opts.IgnoreComments)
		if len(lines) == 0 {
			continue
		}
		p := &prepared{lines: lines}
		if exact {
			p.whole = hashString(f.Source)
		} else {
			p.whole = hashString(strings.Join(lines, "\n"))
		}
		p.shards = Shingles(Tokens(lines), shingleSize)
		prep[i] = p
	}

	type pair struct{ a, b int }
	candidates := make(map[pair]bool)
	addBucket := func(members []int, bounded bool) {
		if len(members) < 2 || (bounded && len(members) > maxBucket) {
			return
		}
		for x := 0; x < len(members); x++ {
			for y := x + 1; y < len(members); y++ {
				a, b := members[x], members[y]
				if frags[a].ID == frags[b].ID {
					continue
				}
				candidates[pair{a, b}] = true
			}
		}
	}

	wholeIdx := make(map[uint64][]int)
	shardIdx := make(map[uint64][]int)
	for i, p := range prep {
		if p == nil {
			continue
		}
		wholeIdx[p.whole] = append(wholeIdx[p.whole], i)
		if exact {
			continue
		}
		seen := make(map[uint64]bool, len(p.shards))
		for _, s := range p.shards {
			if !seen[s] {
				seen[s] = true
				shardIdx[s] = append(shardIdx[s], i)
			}
		}
	}
	for _, members := range wholeIdx {
		addBucket(members, false)
	}
	for _, members := range shardIdx {
		addBucket(members, true)
	}

	uf := newUnionFind(len(frags))
	minSim := make(map[int]float64)
	for c := range candidates {
		var sim float64
		switch {
		case exact:
			if frags[c.a].Source != frags[c.b].Source {
				continue
			}
			sim = 1
		default:
			sim = LineSimilarity(prep[c.a].lines, prep[c.b].lines)
		}
		if sim < opts.Threshold {
			continue
		}
		uf.union(c.a, c.b)
		for _, m := range []int{c.a, c.b} {
			if cur, ok := minSim[m]; !ok || sim < cur {
				minSim[m] = sim
			}
		}
	}

	byRoot := make(map[int][]int)
	for i := range frags {
		if _, ok := minSim[i]; ok {
			r := uf.find(i)
			byRoot[r] = append(byRoot[r], i)
		}
	}
	var groups []Group
	for _, members := range byRoot {
		if len(members) < 2 {
			continue
		}
		sort.Ints(members)
		g := Group{Members: members, Similarity: 1}
		for _, m := range members {
			if minSim[m] < g.Similarity {
				g.Similarity = minSim[m]
			}
		}
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if len(groups[i].Members) != len(groups[j].Members) {
			return len(groups[i].Members) > len(groups[j].Members)
		}
		return groups[i].Members[0] < groups[j].Members[0]
	})
	return groups
}

var (
	spaceRun     = regexp.MustCompile(`\s+`)
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	tokenRe      = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_]*|[0-9]+(?:\.[0-9]+)?|"[^"]*"|'[^']*'|\S`)
)

// NormalizeLines splits src into lines, optionally collapsing whitespace and
// removing comments. Blank lines are dropped when whitespace is ignored.
func NormalizeLines(src string, ignoreWhitespace, ignoreComments bool) []string {
	if ignoreComments {
		src = blockComment.ReplaceAllString(src, "")
	}
	var out []string
	for _, line := range strings.Split(src, "\n") {
		if ignoreComments {
			if commentOnly(line) {
				continue
			}
			line = stripTrailingComment(line)
		}
		if ignoreWhitespace {
			line = strings.TrimSpace(spaceRun.ReplaceAllString(line, " "))
			if line == "" {
				continue
			}
		}
		out = append(out, line)
	}
	return out
}

// stripTrailingComment removes a // comment that is not inside a string.
func stripTrailingComment(line string) string {
	inStr := byte(0)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inStr != 0:
			if c == '\\' {
				i++
			} else if c == inStr {
				inStr = 0
			}
		case c == '"' || c == '\'' || c == '`':
			inStr = c
		case c == '/' && i+1 < len(line) && line[i+1] == '/':
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}

// Tokens splits normalized lines into lexical tokens.
func Tokens(lines []string) []string {
	var out []string
	for _, l := range lines {
		out = append(out, tokenRe.FindAllString(l, -1)...)
	}
	return out
}

const (
	rkBase = 1_000_003
	rkMod  = (1 << 61) - 1
)

// Shingles returns the Rabin-Karp rolling hashes of every window of k
// tokens. Streams shorter than k yield a single hash of the whole stream.
func Shingles(tokens []string, k int) []uint64 {
	if len(tokens) == 0 {
		return nil
	}
	ids := make([]uint64, len(tokens))
	for i, t := range tokens {
		ids[i] = hashString(t) % rkMod
	}
	if len(ids) < k {
		k = len(ids)
	}
	pow := uint64(1)
	for i := 0; i < k-1; i++ {
		pow = mulMod(pow, rkBase)
	}
	var h uint64
	for i := 0; i < k; i++ {
		h = (mulMod(h, rkBase) + ids[i]) % rkMod
	}
	out := []uint64{h}
	for i := k; i < len(ids); i++ {
		h = (h + rkMod - mulMod(ids[i-k], pow)) % rkMod
		h = (mulMod(h, rkBase) + ids[i]) % rkMod
		out = append(out, h)
	}
	return out
}

func mulMod(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	return bits.Rem64(hi, lo, rkMod)
}

// LineSimilarity returns matching lines over max(len(a), len(b)). Matching
// lines are the matching blocks of a difflib sequence match with automatic
// junk detection off, so frequent lines such as "}" still count.
func LineSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	longest := max(len(a), len(b))
	// The multiset intersection bounds the matching lines from above.
	counts := make(map[string]int, len(a))
	for _, l := range a {
		counts[l]++
	}
	upper := 0
	for _, l := range b {
		if counts[l] > 0 {
			counts[l]--
			upper++
		}
	}
	if upper == 0 {
		return 0
	}
	if len(a)*len(b) > maxMatchCells {
		return float64(upper) / float64(longest)
	}
	return float64(matchingLines(a, b)) / float64(longest)
}

func matchingLines(a, b []string) int {
	m := difflib.NewMatcherWithJunk(a, b, false, nil)
	n := 0
	for _, blk := range m.GetMatchingBlocks() {
		n += blk.Size
	}
	return n
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

type unionFind struct{ parent []int }

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[rb] = ra
	}
}
