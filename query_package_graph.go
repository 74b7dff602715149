package codeindex

import (
	"context"
	"path"
	"sort"

	"github.com/jward/codeindex/internal/graph"
)

// DependencyGraph is the directory-to-directory dependency graph of a
// codebase, aggregated from resolved import relationships between files.
type DependencyGraph struct {
	Packages []PackageNode    `json:"packages"`
	Edges    []DependencyEdge `json:"edges"`
}

// PackageNode is one directory of source files. The codebase root is ".".
type PackageNode struct {
	Name        string `json:"name"`
	FileCount   int    `json:"file_count"`
	EntityCount int    `json:"entity_count"`
}

// DependencyEdge is a dependency between two packages with the number of
// import relationships behind it.
type DependencyEdge struct {
	FromPackage string `json:"from_package"`
	ToPackage   string `json:"to_package"`
	ImportCount int    `json:"import_count"`
}

// PackageDependencyGraph returns the package graph of a codebase. Imports
// between files of the same directory are not edges.
func (e *Engine) PackageDependencyGraph(ctx context.Context, codebaseID string) (*DependencyGraph, error) {
	if _, err := e.codebase(codebaseID); err != nil {
		return nil, err
	}
	sn := e.index.Snapshot()
	defer sn.Release()
	return packageGraph(ctx, sn, codebaseID)
}

func packageGraph(ctx context.Context, sn *graph.Snapshot, codebaseID string) (*DependencyGraph, error) {
	nodes := make(map[string]*PackageNode)
	for _, f := range sn.Files(codebaseID) {
		pkg := path.Dir(f.Path)
		n := nodes[pkg]
		if n == nil {
			n = &PackageNode{Name: pkg}
			nodes[pkg] = n
		}
		n.FileCount++
	}

	type pair struct{ from, to string }
	counts := make(map[pair]int)
	for _, ent := range sn.Entities(codebaseID) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		from := path.Dir(ent.FilePath)
		if n := nodes[from]; n != nil && ent.Kind != graph.KindImport {
			n.EntityCount++
		}
		for _, r := range sn.Outgoing(ent.ID) {
			if r.Kind != graph.RelImport || !r.Resolved() {
				continue
			}
			target, ok := sn.Entity(r.TargetEntityID)
			if !ok {
				continue
			}
			to := path.Dir(target.FilePath)
			if to != from {
				counts[pair{from, to}]++
			}
		}
	}

	g := &DependencyGraph{Packages: []PackageNode{}, Edges: []DependencyEdge{}}
	for _, n := range nodes {
		g.Packages = append(g.Packages, *n)
	}
	sort.Slice(g.Packages, func(i, j int) bool { return g.Packages[i].Name < g.Packages[j].Name })
	for p, c := range counts {
		g.Edges = append(g.Edges, DependencyEdge{FromPackage: p.from, ToPackage: p.to, ImportCount: c})
	}
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].FromPackage != g.Edges[j].FromPackage {
			return g.Edges[i].FromPackage < g.Edges[j].FromPackage
		}
		return g.Edges[i].ToPackage < g.Edges[j].ToPackage
	})
	return g, nil
}

// CircularDependencies detects cycles in the package graph using Tarjan's
// strongly connected components algorithm. Each cycle lists its packages
// with the first repeated at the end. Acyclic graphs give an empty list.
func (e *Engine) CircularDependencies(ctx context.Context, codebaseID string) ([][]string, error) {
	g, err := e.PackageDependencyGraph(ctx, codebaseID)
	if err != nil {
		return nil, err
	}
	return cycles(g), nil
}

func cycles(g *DependencyGraph) [][]string {
	adj := map[string][]string{}
	for _, edge := range g.Edges {
		adj[edge.FromPackage] = append(adj[edge.FromPackage], edge.ToPackage)
	}

	type nodeInfo struct {
		index   int
		lowlink int
		onStack bool
	}
	info := map[string]*nodeInfo{}
	index := 0
	var stack []string
	result := [][]string{}

	var strongconnect func(v string)
	strongconnect = func(v string) {
		ni := &nodeInfo{index: index, lowlink: index, onStack: true}
		info[v] = ni
		index++
		stack = append(stack, v)

		for _, w := range adj[v] {
			wInfo, visited := info[w]
			if !visited {
				strongconnect(w)
				ni.lowlink = min(ni.lowlink, info[w].lowlink)
			} else if wInfo.onStack {
				ni.lowlink = min(ni.lowlink, wInfo.index)
			}
		}

		if ni.lowlink != ni.index {
			return
		}
		var scc []string
		for {
			w := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			info[w].onStack = false
			scc = append(scc, w)
			if w == v {
				break
			}
		}
		// Edges never join a package to itself, so singletons are acyclic.
		if len(scc) > 1 {
			for i, j := 0, len(scc)-1; i < j; i, j = i+1, j-1 {
				scc[i], scc[j] = scc[j], scc[i]
			}
			result = append(result, append(scc, scc[0]))
		}
	}

	for _, pkg := range g.Packages {
		if _, visited := info[pkg.Name]; !visited {
			strongconnect(pkg.Name)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i][0] < result[j][0] })
	return result
}
