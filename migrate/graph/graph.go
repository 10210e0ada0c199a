// Package graph holds all known migrations in a directed acyclic graph keyed
// by (app, name). Nodes live in an arena indexed by integer handle with a key
// map on the side, so edges are plain ints and there is no pointer-cycle
// ownership to manage.
package graph

import (
	"fmt"
	"sort"

	"github.com/dgsalas/django/migrate/migration"
)

type node struct {
	mig      *migration.Migration
	parents  []int // dependencies: must apply before this node
	children []int // dependents
}

// Graph is a DAG of migrations. The zero value is not usable; call New.
type Graph struct {
	nodes []node
	index map[migration.Key]int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{index: make(map[migration.Key]int)}
}

// Len reports the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// AddNode registers a migration. Two migrations sharing a key is a fatal
// configuration error.
func (g *Graph) AddNode(m *migration.Migration) error {
	key := m.Key()
	if _, ok := g.index[key]; ok {
		return fmt.Errorf("graph: duplicate migration %s", key)
	}
	g.index[key] = len(g.nodes)
	g.nodes = append(g.nodes, node{mig: m})
	return nil
}

// Node looks up a migration by key.
func (g *Graph) Node(key migration.Key) (*migration.Migration, bool) {
	i, ok := g.index[key]
	if !ok {
		return nil, false
	}
	return g.nodes[i].mig, true
}

// Keys returns every node key in lexicographic order.
func (g *Graph) Keys() []migration.Key {
	out := make([]migration.Key, 0, len(g.nodes))
	for k := range g.index {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// AddDependency records that child depends on parent. An edge that would
// close a cycle is rejected before insertion, with the would-be cycle's
// nodes in the error.
func (g *Graph) AddDependency(child, parent migration.Key) error {
	ci, ok := g.index[child]
	if !ok {
		return &NodeNotFoundError{Key: child}
	}
	pi, ok := g.index[parent]
	if !ok {
		return &NodeNotFoundError{Key: parent, Origin: &child}
	}
	if ci == pi {
		return &CycleError{Nodes: []migration.Key{child}}
	}
	// parent must not (transitively) depend on child. The path already ends
	// at the child, so it is the full cycle.
	if path := g.pathThroughParents(pi, ci); path != nil {
		cycle := make([]migration.Key, 0, len(path))
		for _, idx := range path {
			cycle = append(cycle, g.nodes[idx].mig.Key())
		}
		return &CycleError{Nodes: cycle}
	}
	for _, existing := range g.nodes[ci].parents {
		if existing == pi {
			return nil
		}
	}
	g.nodes[ci].parents = append(g.nodes[ci].parents, pi)
	g.nodes[pi].children = append(g.nodes[pi].children, ci)
	return nil
}

// pathThroughParents returns the node path from start to goal following
// dependency edges, or nil when unreachable.
func (g *Graph) pathThroughParents(start, goal int) []int {
	seen := make(map[int]bool)
	var walk func(i int, trail []int) []int
	walk = func(i int, trail []int) []int {
		trail = append(trail, i)
		if i == goal {
			return append([]int(nil), trail...)
		}
		seen[i] = true
		for _, p := range g.nodes[i].parents {
			if seen[p] {
				continue
			}
			if found := walk(p, trail); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(start, nil)
}

// Validate runs full cycle detection with DFS coloring, reporting the
// participating node set. Graphs built only through AddDependency cannot
// contain cycles, but loaded graphs are validated anyway.
func (g *Graph) Validate() error {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := make([]int, len(g.nodes))
	stack := make([]int, 0, len(g.nodes))

	var visit func(i int) *CycleError
	visit = func(i int) *CycleError {
		color[i] = grey
		stack = append(stack, i)
		for _, p := range g.nodes[i].parents {
			switch color[p] {
			case grey:
				// Back edge: everything from p on the stack is the cycle.
				var cycle []migration.Key
				for j := len(stack) - 1; j >= 0; j-- {
					cycle = append(cycle, g.nodes[stack[j]].mig.Key())
					if stack[j] == p {
						break
					}
				}
				return &CycleError{Nodes: cycle}
			case white:
				if err := visit(p); err != nil {
					return err
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[i] = black
		return nil
	}

	for i := range g.nodes {
		if color[i] == white {
			if err := visit(i); err != nil {
				return err
			}
		}
	}
	return nil
}

// Roots returns nodes with no dependencies, sorted.
func (g *Graph) Roots() []migration.Key {
	var out []migration.Key
	for i := range g.nodes {
		if len(g.nodes[i].parents) == 0 {
			out = append(out, g.nodes[i].mig.Key())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// LeavesForApp returns the app's migrations with no dependents inside the
// same app, sorted. One leaf is the app's tip; more than one is a conflict.
func (g *Graph) LeavesForApp(app string) []migration.Key {
	var out []migration.Key
	for i := range g.nodes {
		if g.nodes[i].mig.App != app {
			continue
		}
		isLeaf := true
		for _, c := range g.nodes[i].children {
			if g.nodes[c].mig.App == app {
				isLeaf = false
				break
			}
		}
		if isLeaf {
			out = append(out, g.nodes[i].mig.Key())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Leaves returns every app's leaves, sorted.
func (g *Graph) Leaves() []migration.Key {
	var out []migration.Key
	for _, app := range g.apps() {
		out = append(out, g.LeavesForApp(app)...)
	}
	return out
}

// Conflicts maps each app with two or more independent leaves to those
// leaves. Distinct from a cycle: conflicts have a resolution path.
func (g *Graph) Conflicts() map[string][]migration.Key {
	out := make(map[string][]migration.Key)
	for _, app := range g.apps() {
		leaves := g.LeavesForApp(app)
		if len(leaves) > 1 {
			out[app] = leaves
		}
	}
	return out
}

// CheckConflicts returns a *ConflictError for the first conflicted app, if
// any.
func (g *Graph) CheckConflicts() error {
	conflicts := g.Conflicts()
	if len(conflicts) == 0 {
		return nil
	}
	apps := make([]string, 0, len(conflicts))
	for app := range conflicts {
		apps = append(apps, app)
	}
	sort.Strings(apps)
	return &ConflictError{App: apps[0], Leaves: conflicts[apps[0]]}
}

func (g *Graph) apps() []string {
	seen := map[string]bool{}
	var out []string
	for i := range g.nodes {
		app := g.nodes[i].mig.App
		if !seen[app] {
			seen[app] = true
			out = append(out, app)
		}
	}
	sort.Strings(out)
	return out
}
