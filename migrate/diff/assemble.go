package diff

import (
	"fmt"
	"sort"

	"github.com/dgsalas/django/migrate/graph"
	"github.com/dgsalas/django/migrate/migration"
	"github.com/dgsalas/django/migrate/operations"
	"github.com/dgsalas/django/migrate/state"
)

// assemble bundles each app's changes into one migration, wires the
// dependencies between them and against the existing graph, then breaks
// two-app create cycles by splitting one side.
func (a *Autodetector) assemble(g *graph.Graph, changes map[string]*appChanges) ([]*migration.Migration, error) {
	var apps []string
	for app, ch := range changes {
		if !ch.empty() {
			apps = append(apps, app)
		}
	}
	sort.Strings(apps)
	if len(apps) == 0 {
		return nil, nil
	}

	migs := map[string]*migration.Migration{}
	for _, app := range apps {
		ch := changes[app]
		number := nextNumber(g, app)
		ops := ch.ops()
		m := &migration.Migration{
			App:        app,
			Name:       migrationName(number, ops),
			Operations: ops,
			Initial:    number == 1,
		}
		for _, leaf := range g.LeavesForApp(app) {
			m.Dependencies = append(m.Dependencies, leaf)
		}
		migs[app] = m
	}

	link := func(m *migration.Migration, dep migration.Key) {
		for _, d := range m.Dependencies {
			if d == dep {
				return
			}
		}
		m.Dependencies = append(m.Dependencies, dep)
	}

	// creatorOf resolves which new migration (if any) creates a model.
	creatorOf := func(key state.ModelKey) (string, bool) {
		ch, ok := changes[key.App]
		if !ok {
			return "", false
		}
		return key.App, ch.creates[key]
	}

	for _, app := range apps {
		ch := changes[app]
		m := migs[app]
		for _, t := range sortedKeySet(union(ch.createRequires, ch.fieldRequires)) {
			if creator, ok := creatorOf(t); ok && creator != app {
				link(m, migs[creator].Key())
				continue
			}
			if t.App == app {
				continue
			}
			for _, leaf := range g.LeavesForApp(t.App) {
				link(m, leaf)
			}
		}
		// Model deletion waits for every app that drops its references.
		for _, d := range sortedKeySet(ch.deletes) {
			for _, other := range apps {
				if other == app || !changes[other].clearsRefsTo[d] {
					continue
				}
				link(m, migs[other].Key())
			}
		}
	}

	out, err := resolveCycles(g, changes, migs, apps)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func union(a, b map[state.ModelKey]bool) map[state.ModelKey]bool {
	out := map[state.ModelKey]bool{}
	for k := range a {
		out[k] = true
	}
	for k := range b {
		out[k] = true
	}
	return out
}

// resolveCycles orders the generated migrations. A dependency cycle between
// exactly two new migrations is broken by splitting the one whose creations
// the other needs into a create-only migration plus a follow-up; anything
// deeper is reported for manual resolution.
func resolveCycles(g *graph.Graph, changes map[string]*appChanges, migs map[string]*migration.Migration, apps []string) ([]*migration.Migration, error) {
	ordered, cycle := orderNew(migs, apps)
	if cycle == nil {
		return ordered, nil
	}
	if len(cycle) != 2 {
		return nil, fmt.Errorf("circular dependency between generated migrations %s: resolve by hand", keysString(cycle, migs))
	}

	split := pickSplit(changes, cycle)
	if split == "" {
		return nil, fmt.Errorf("circular dependency between generated migrations %s: resolve by hand", keysString(cycle, migs))
	}
	other := cycle[0]
	if other == split {
		other = cycle[1]
	}

	ch := changes[split]
	orig := migs[split]
	number := numberPrefix(orig.Name)

	first := &migration.Migration{
		App:        split,
		Name:       migrationName(number, ch.createOps),
		Operations: append(append([]operations.Operation(nil), ch.renameOps...), ch.createOps...),
		Initial:    orig.Initial,
	}
	for _, leaf := range g.LeavesForApp(split) {
		first.Dependencies = append(first.Dependencies, leaf)
	}

	var rest []operations.Operation
	rest = append(rest, ch.fieldOps...)
	rest = append(rest, ch.metaOps...)
	rest = append(rest, ch.deleteOps...)
	second := &migration.Migration{
		App:          split,
		Name:         migrationName(number+1, rest),
		Operations:   rest,
		Dependencies: []migration.Key{first.Key()},
	}
	// The follow-up inherits the original cross-app dependencies; the
	// create-only half must not, or the cycle survives.
	for _, d := range orig.Dependencies {
		if d.App != split && d != first.Key() {
			second.Dependencies = append(second.Dependencies, d)
		}
	}

	// Repoint the other migration at whichever half it actually needs.
	otherM := migs[other]
	needsCreates := false
	for t := range union(changes[other].createRequires, changes[other].fieldRequires) {
		if t.App == split && ch.creates[t] {
			needsCreates = true
		}
	}
	for i, d := range otherM.Dependencies {
		if d == orig.Key() {
			if needsCreates {
				otherM.Dependencies[i] = first.Key()
			} else {
				otherM.Dependencies[i] = second.Key()
			}
		}
	}

	split2 := map[string]*migration.Migration{other: otherM, split: first, split + "+": second}
	ordered, cycle = orderNew(split2, []string{other, split, split + "+"})
	if cycle != nil {
		return nil, fmt.Errorf("circular dependency between generated migrations %s: resolve by hand", keysString(cycle, migs))
	}
	// Re-merge with any untouched apps.
	final := []*migration.Migration{}
	rem := map[string]*migration.Migration{}
	for app, m := range migs {
		if app != split && app != other {
			rem[app] = m
		}
	}
	for _, m := range ordered {
		final = append(final, m)
	}
	for _, app := range sortedStrings(rem) {
		final = append(final, rem[app])
	}
	return final, nil
}

// pickSplit chooses the cycle member that both creates models and carries
// later-phase operations, so a create-only prefix can stand alone.
func pickSplit(changes map[string]*appChanges, cycle []string) string {
	cands := append([]string(nil), cycle...)
	sort.Strings(cands)
	for _, app := range cands {
		ch := changes[app]
		if ch == nil || len(ch.createOps) == 0 {
			continue
		}
		if len(ch.fieldOps)+len(ch.metaOps)+len(ch.deleteOps) > 0 {
			return app
		}
	}
	return ""
}

// orderNew topologically sorts the generated migrations by their mutual
// dependencies, apps in lexicographic order on ties. On a cycle it returns
// the apps involved instead.
func orderNew(migs map[string]*migration.Migration, apps []string) ([]*migration.Migration, []string) {
	byKey := map[migration.Key]string{}
	for app, m := range migs {
		byKey[m.Key()] = app
	}
	sorted := append([]string(nil), apps...)
	sort.Strings(sorted)

	var out []*migration.Migration
	done := map[string]bool{}
	visiting := map[string]bool{}
	var cycle []string
	var visit func(app string) bool
	visit = func(app string) bool {
		if done[app] {
			return true
		}
		if visiting[app] {
			return false
		}
		visiting[app] = true
		for _, d := range migs[app].Dependencies {
			dep, ok := byKey[d]
			if !ok || dep == app {
				continue
			}
			if !visit(dep) {
				return false
			}
		}
		visiting[app] = false
		done[app] = true
		out = append(out, migs[app])
		return true
	}
	for _, app := range sorted {
		if !visit(app) {
			for v := range visiting {
				cycle = append(cycle, v)
			}
			sort.Strings(cycle)
			return nil, cycle
		}
	}
	return out, nil
}

func keysString(apps []string, migs map[string]*migration.Migration) string {
	var parts []string
	for _, app := range apps {
		if m, ok := migs[app]; ok {
			parts = append(parts, m.Key().String())
		} else {
			parts = append(parts, app)
		}
	}
	return fmt.Sprintf("%v", parts)
}

func sortedStrings(m map[string]*migration.Migration) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
