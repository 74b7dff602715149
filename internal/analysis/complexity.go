// Package analysis computes code metrics over parsed syntax trees and
// detects duplicated code fragments.
package analysis

import (
	"math"
	"strings"

	"github.com/jward/codeindex/internal/graph"
	"github.com/jward/codeindex/internal/parser"
)

// Outline indexes the emitted nodes of a SyntaxTree by parent.
type Outline struct {
	Tree *parser.SyntaxTree
	Kids [][]int
	Top  []int
}

// NewOutline builds the parent-to-children index of tree.
func NewOutline(tree *parser.SyntaxTree) *Outline {
	o := &Outline{Tree: tree, Kids: make([][]int, len(tree.Nodes))}
	for i, n := range tree.Nodes {
		if n.Parent < 0 {
			o.Top = append(o.Top, i)
			continue
		}
		o.Kids[n.Parent] = append(o.Kids[n.Parent], i)
	}
	return o
}

// Measure computes the metrics of the declaration at root.
func (o *Outline) Measure(root int) graph.Metrics {
	loc, comments := o.Lines(root)
	return graph.Metrics{
		Cyclomatic:   o.Cyclomatic(root),
		Cognitive:    o.Cognitive(root),
		LinesOfCode:  loc,
		CommentLines: comments,
	}
}

// counted lists the decisions that add a path through the code.
var counted = map[parser.Decision]bool{
	parser.DecisionBranch:  true,
	parser.DecisionElseIf:  true,
	parser.DecisionLoop:    true,
	parser.DecisionCase:    true,
	parser.DecisionLogical: true,
	parser.DecisionCatch:   true,
	parser.DecisionTernary: true,
}

// Cyclomatic returns 1 plus the decision points inside root. Nested
// declarations are measured on their own.
func (o *Outline) Cyclomatic(root int) int {
	total := 1
	o.visit(root, func(i int) bool {
		n := &o.Tree.Nodes[i]
		if n.Role.Declaration() {
			return false
		}
		if n.Role == parser.RoleDecision && counted[n.Decision] {
			total++
		}
		return true
	})
	return total
}

// visit calls fn for every descendant of root in document order. Returning
// false skips the node's subtree.
func (o *Outline) visit(root int, fn func(int) bool) {
	for _, c := range o.Kids[root] {
		if fn(c) {
			o.visit(c, fn)
		}
	}
}

// Cognitive returns the cognitive complexity of root: each control structure
// adds one plus its nesting, else branches add one, each run of a logical
// operator adds one and direct recursion adds one.
func (o *Outline) Cognitive(root int) int {
	name := o.Tree.Nodes[root].Name
	total := 0
	var walk func(i, nesting int)
	walk = func(i, nesting int) {
		for _, c := range o.Kids[i] {
			n := &o.Tree.Nodes[c]
			if n.Role.Declaration() {
				continue
			}
			switch {
			case n.Role == parser.RoleLambda:
				walk(c, nesting+1)
				continue
			case n.Role == parser.RoleCall && name != "" && n.Target == name:
				total++
			case n.Role == parser.RoleDecision:
				switch n.Decision {
				case parser.DecisionBranch, parser.DecisionLoop, parser.DecisionSwitch,
					parser.DecisionCatch, parser.DecisionTernary:
					total += 1 + nesting
					walk(c, nesting+1)
					continue
				case parser.DecisionElseIf, parser.DecisionElse:
					total++
				case parser.DecisionLogical:
					p := o.Tree.Nodes[i]
					if p.Role != parser.RoleDecision || p.Decision != parser.DecisionLogical || p.Operator != n.Operator {
						total++
					}
				}
			}
			walk(c, nesting)
		}
	}
	walk(root, 0)
	return total
}

// Lines returns the non-blank, non-comment lines and the comment lines of
// root's span.
func (o *Outline) Lines(root int) (code, comments int) {
	n := &o.Tree.Nodes[root]
	commentLines := make(map[int]bool)
	o.visit(root, func(i int) bool {
		c := &o.Tree.Nodes[i]
		if c.Role == parser.RoleComment {
			for l := c.StartLine; l <= c.EndLine; l++ {
				commentLines[l] = true
			}
			return false
		}
		return true
	})
	lines := strings.Split(o.Tree.Text(n), "\n")
	for k, text := range lines {
		if strings.TrimSpace(text) == "" {
			continue
		}
		if commentLines[n.StartLine+k] && commentOnly(text) {
			continue
		}
		code++
	}
	return code, len(commentLines)
}

var commentPrefixes = []string{"//", "#", "/*", "*", "--", `"""`, "'''"}

func commentOnly(line string) bool {
	t := strings.TrimSpace(line)
	for _, p := range commentPrefixes {
		if strings.HasPrefix(t, p) {
			return true
		}
	}
	return false
}

// Maintainability combines complexity, size and comment density into a
// score in [0, 100]:
//
//	100 * (0.5*(1-c) + 0.3*(1-l) + 0.2*d)
//
// where c = min(1, (cyclomatic-1)/50), l = min(1, ln(loc)/ln(1000)) and
// d = min(1, density/0.25).
func Maintainability(m graph.Metrics) float64 {
	c := math.Min(1, math.Max(0, float64(m.Cyclomatic-1)/50))
	loc := math.Max(1, float64(m.LinesOfCode))
	l := math.Min(1, math.Log(loc)/math.Log(1000))
	total := m.LinesOfCode + m.CommentLines
	d := 0.0
	if total > 0 {
		d = math.Min(1, (float64(m.CommentLines)/float64(total))/0.25)
	}
	score := 100 * (0.5*(1-c) + 0.3*(1-l) + 0.2*d)
	return math.Max(0, math.Min(100, score))
}
