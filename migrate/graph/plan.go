package graph

import (
	"github.com/dgsalas/django/migrate/migration"
	"github.com/dgsalas/django/migrate/state"
)

// orderedTopo emits the included nodes in dependency order with the
// determinism tie-break: when several nodes are eligible, a node in the same
// app as the previously emitted one wins, then the lexicographically smallest
// key. Two runs over the same graph always produce the identical sequence.
func (g *Graph) orderedTopo(include func(i int) bool) []int {
	indegree := make(map[int]int)
	for i := range g.nodes {
		if !include(i) {
			continue
		}
		deg := 0
		for _, p := range g.nodes[i].parents {
			if include(p) {
				deg++
			}
		}
		indegree[i] = deg
	}

	ready := make([]int, 0, len(indegree))
	for i, deg := range indegree {
		if deg == 0 {
			ready = append(ready, i)
		}
	}

	out := make([]int, 0, len(indegree))
	lastApp := ""
	for len(ready) > 0 {
		best := -1
		for _, cand := range ready {
			if best < 0 {
				best = cand
				continue
			}
			bk, ck := g.nodes[best].mig.Key(), g.nodes[cand].mig.Key()
			bSame, cSame := bk.App == lastApp, ck.App == lastApp
			if cSame != bSame {
				if cSame {
					best = cand
				}
				continue
			}
			if ck.Less(bk) {
				best = cand
			}
		}
		for i, cand := range ready {
			if cand == best {
				ready = append(ready[:i], ready[i+1:]...)
				break
			}
		}
		out = append(out, best)
		lastApp = g.nodes[best].mig.App
		for _, c := range g.nodes[best].children {
			if _, ok := indegree[c]; !ok {
				continue
			}
			indegree[c]--
			if indegree[c] == 0 {
				ready = append(ready, c)
			}
		}
	}
	return out
}

// ancestors returns target plus everything it transitively depends on.
func (g *Graph) ancestors(i int) map[int]bool {
	out := map[int]bool{}
	var walk func(int)
	walk = func(j int) {
		if out[j] {
			return
		}
		out[j] = true
		for _, p := range g.nodes[j].parents {
			walk(p)
		}
	}
	walk(i)
	return out
}

// descendants returns everything that transitively depends on target,
// excluding target itself.
func (g *Graph) descendants(i int) map[int]bool {
	out := map[int]bool{}
	var walk func(int)
	walk = func(j int) {
		for _, c := range g.nodes[j].children {
			if !out[c] {
				out[c] = true
				walk(c)
			}
		}
	}
	walk(i)
	return out
}

// ForwardsPlan returns the migrations to apply, in order, to reach target
// from an empty database: target's ancestors including target.
func (g *Graph) ForwardsPlan(target migration.Key) ([]*migration.Migration, error) {
	i, ok := g.index[target]
	if !ok {
		return nil, &NodeNotFoundError{Key: target}
	}
	set := g.ancestors(i)
	order := g.orderedTopo(func(j int) bool { return set[j] })
	plan := make([]*migration.Migration, len(order))
	for n, j := range order {
		plan[n] = g.nodes[j].mig
	}
	return plan, nil
}

// BackwardsPlan returns the migrations to unapply, in order, to roll back to
// (but not including) target: target's descendants, dependents first.
func (g *Graph) BackwardsPlan(target migration.Key) ([]*migration.Migration, error) {
	i, ok := g.index[target]
	if !ok {
		return nil, &NodeNotFoundError{Key: target}
	}
	set := g.descendants(i)
	order := g.orderedTopo(func(j int) bool { return set[j] })
	plan := make([]*migration.Migration, 0, len(order))
	for n := len(order) - 1; n >= 0; n-- {
		plan = append(plan, g.nodes[order[n]].mig)
	}
	return plan, nil
}

// FullPlan returns every migration in apply order.
func (g *Graph) FullPlan() []*migration.Migration {
	order := g.orderedTopo(func(int) bool { return true })
	plan := make([]*migration.Migration, len(order))
	for n, j := range order {
		plan[n] = g.nodes[j].mig
	}
	return plan
}

// MakeState replays every migration up to and including target over an empty
// state, answering "what did the schema look like as of this revision". A
// nil target replays the whole graph.
func (g *Graph) MakeState(target *migration.Key) (*state.ProjectState, error) {
	var plan []*migration.Migration
	if target == nil {
		plan = g.FullPlan()
	} else {
		var err error
		plan, err = g.ForwardsPlan(*target)
		if err != nil {
			return nil, err
		}
	}
	st := state.NewProjectState()
	for _, m := range plan {
		var err error
		st, err = m.Mutate(st)
		if err != nil {
			return nil, err
		}
	}
	return st, nil
}
