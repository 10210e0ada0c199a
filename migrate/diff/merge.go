package diff

import (
	"fmt"
	"sort"

	"github.com/dgsalas/django/migrate/graph"
	"github.com/dgsalas/django/migrate/migration"
	"github.com/dgsalas/django/migrate/state"
)

// MergeConflicts resolves every conflicted app in the graph by generating an
// empty merge migration depending on all of its leaves. Branches are merged
// automatically when the models they touch are provably disjoint; otherwise
// the questioner decides.
func MergeConflicts(g *graph.Graph, q Questioner) ([]*migration.Migration, error) {
	if q == nil {
		q = AutoQuestioner{}
	}
	conflicts := g.Conflicts()
	if len(conflicts) == 0 {
		return nil, nil
	}

	var apps []string
	for app := range conflicts {
		apps = append(apps, app)
	}
	sort.Strings(apps)

	var out []*migration.Migration
	for _, app := range apps {
		leaves := conflicts[app]
		safe, err := branchesDisjoint(g, leaves)
		if err != nil {
			return nil, err
		}
		if !safe && !q.ConfirmMerge(app, leaves) {
			return nil, fmt.Errorf("merging leaves of app %q was declined: %w", app, &graph.ConflictError{App: app, Leaves: leaves})
		}
		out = append(out, &migration.Migration{
			App:          app,
			Name:         fmt.Sprintf("%04d_merge", nextNumber(g, app)),
			Dependencies: append([]migration.Key(nil), leaves...),
		})
	}
	return out, nil
}

// branchesDisjoint reports whether the branch-exclusive migrations behind
// each leaf touch provably disjoint model sets. A migration with
// indeterminate references (raw SQL, registered callbacks) makes the answer
// false.
func branchesDisjoint(g *graph.Graph, leaves []migration.Key) (bool, error) {
	branches := make([]map[migration.Key]bool, len(leaves))
	for i, leaf := range leaves {
		plan, err := g.ForwardsPlan(leaf)
		if err != nil {
			return false, err
		}
		branches[i] = map[migration.Key]bool{}
		for _, m := range plan {
			branches[i][m.Key()] = true
		}
	}

	common := map[migration.Key]bool{}
	for k := range branches[0] {
		shared := true
		for _, b := range branches[1:] {
			if !b[k] {
				shared = false
				break
			}
		}
		if shared {
			common[k] = true
		}
	}

	refs := make([]map[state.ModelKey]bool, len(leaves))
	for i, b := range branches {
		refs[i] = map[state.ModelKey]bool{}
		for k := range b {
			if common[k] {
				continue
			}
			m, ok := g.Node(k)
			if !ok {
				continue
			}
			keys, known := m.References()
			if !known {
				return false, nil
			}
			for _, mk := range keys {
				refs[i][mk] = true
			}
		}
	}

	for i := range refs {
		for j := i + 1; j < len(refs); j++ {
			for mk := range refs[i] {
				if refs[j][mk] {
					return false, nil
				}
			}
		}
	}
	return true, nil
}
