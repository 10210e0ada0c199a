package diff

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dgsalas/django/migrate/graph"
	"github.com/dgsalas/django/migrate/migration"
	"github.com/dgsalas/django/migrate/operations"
	"github.com/dgsalas/django/migrate/state"
)

// Autodetector diffs an old project state (replayed from the migration
// graph) against the desired state and emits new migrations. Two runs over
// the same inputs produce identical operation sequences and dependencies.
type Autodetector struct {
	from *state.ProjectState
	to   *state.ProjectState
	q    Questioner
}

// New builds an autodetector. A nil questioner falls back to AutoQuestioner.
func New(from, to *state.ProjectState, q Questioner) *Autodetector {
	if q == nil {
		q = AutoQuestioner{}
	}
	return &Autodetector{from: from, to: to, q: q}
}

// appChanges accumulates one app's operations, phase by phase, plus the
// bookkeeping needed to link dependencies between generated migrations.
type appChanges struct {
	app string

	renameOps []operations.Operation
	createOps []operations.Operation
	fieldOps  []operations.Operation
	metaOps   []operations.Operation
	deleteOps []operations.Operation

	creates        map[state.ModelKey]bool
	deletes        map[state.ModelKey]bool
	createRequires map[state.ModelKey]bool
	fieldRequires  map[state.ModelKey]bool
	clearsRefsTo   map[state.ModelKey]bool
}

func newAppChanges(app string) *appChanges {
	return &appChanges{
		app:            app,
		creates:        map[state.ModelKey]bool{},
		deletes:        map[state.ModelKey]bool{},
		createRequires: map[state.ModelKey]bool{},
		fieldRequires:  map[state.ModelKey]bool{},
		clearsRefsTo:   map[state.ModelKey]bool{},
	}
}

func (ch *appChanges) ops() []operations.Operation {
	var out []operations.Operation
	out = append(out, ch.renameOps...)
	out = append(out, ch.createOps...)
	out = append(out, ch.fieldOps...)
	out = append(out, ch.metaOps...)
	out = append(out, ch.deleteOps...)
	return out
}

func (ch *appChanges) empty() bool {
	return len(ch.ops()) == 0
}

// Changes computes the new migrations for every app with differences. The
// graph supplies current leaves for numbering and dependency targets; a
// conflicted graph is refused up front.
func (a *Autodetector) Changes(g *graph.Graph) ([]*migration.Migration, error) {
	if err := g.CheckConflicts(); err != nil {
		return nil, err
	}

	oldKeys := stateKeys(a.from)
	newKeys := stateKeys(a.to)
	oldSet := keySet(oldKeys)
	newSet := keySet(newKeys)

	var removed, added, kept []state.ModelKey
	for _, k := range oldKeys {
		if newSet[k] {
			kept = append(kept, k)
		} else {
			removed = append(removed, k)
		}
	}
	for _, k := range newKeys {
		if !oldSet[k] {
			added = append(added, k)
		}
	}

	renamed := a.detectModelRenames(removed, added)
	removed = filterKeys(removed, func(k state.ModelKey) bool { _, ok := renamed[k]; return !ok })
	renamedTargets := map[state.ModelKey]bool{}
	for _, nk := range renamed {
		renamedTargets[nk] = true
	}
	added = filterKeys(added, func(k state.ModelKey) bool { return !renamedTargets[k] })

	changes := map[string]*appChanges{}
	ensure := func(app string) *appChanges {
		if changes[app] == nil {
			changes[app] = newAppChanges(app)
		}
		return changes[app]
	}

	for _, ok := range sortedKeys(renamed) {
		nk := renamed[ok]
		oldMs := a.from.MustModel(ok.App, ok.Model)
		newMs := a.to.MustModel(nk.App, nk.Model)
		ensure(ok.App).renameOps = append(ensure(ok.App).renameOps, &operations.RenameModel{
			OldName: oldMs.Name,
			NewName: newMs.Name,
		})
	}

	deletedSet := keySet(removed)

	// Creations, referenced models first.
	for _, key := range topoByRelations(a.to, added, false) {
		ms := a.to.MustModel(key.App, key.Model)
		ch := ensure(key.App)
		ch.createOps = append(ch.createOps, createModelOp(ms))
		ch.creates[key] = true
		for _, t := range ms.RelatedKeys() {
			if t != key && t.App != key.App {
				ch.createRequires[t] = true
			}
		}
	}

	// Deletions, referencing models first.
	for _, key := range topoByRelations(a.from, removed, true) {
		ms := a.from.MustModel(key.App, key.Model)
		ch := ensure(key.App)
		ch.deleteOps = append(ch.deleteOps, &operations.DeleteModel{Name: ms.Name})
		ch.deletes[key] = true
		for _, t := range ms.RelatedKeys() {
			if t != key && deletedSet[t] {
				ch.clearsRefsTo[t] = true
			}
		}
	}

	// Field, index and option changes on surviving models.
	type pair struct{ old, new *state.ModelState }
	var pairs []pair
	for _, k := range kept {
		pairs = append(pairs, pair{a.from.MustModel(k.App, k.Model), a.to.MustModel(k.App, k.Model)})
	}
	for _, ok := range sortedKeys(renamed) {
		nk := renamed[ok]
		pairs = append(pairs, pair{a.from.MustModel(ok.App, ok.Model), a.to.MustModel(nk.App, nk.Model)})
	}
	sort.Slice(pairs, func(i, j int) bool {
		ki, kj := pairs[i].new.Key(), pairs[j].new.Key()
		if ki.App != kj.App {
			return ki.App < kj.App
		}
		return ki.Model < kj.Model
	})
	for _, p := range pairs {
		a.diffModel(p.old, p.new, ensure(p.new.App), deletedSet)
	}

	return a.assemble(g, changes)
}

// detectModelRenames pairs removed models with same-shaped added models in
// the same app, subject to questioner confirmation.
func (a *Autodetector) detectModelRenames(removed, added []state.ModelKey) map[state.ModelKey]state.ModelKey {
	out := map[state.ModelKey]state.ModelKey{}
	used := map[state.ModelKey]bool{}
	for _, ok := range removed {
		oldMs := a.from.MustModel(ok.App, ok.Model)
		for _, nk := range added {
			if used[nk] || nk.App != ok.App {
				continue
			}
			newMs := a.to.MustModel(nk.App, nk.Model)
			if !oldMs.SameShape(newMs) {
				continue
			}
			if a.q.ConfirmModelRename(oldMs, newMs) {
				out[ok] = nk
				used[nk] = true
				break
			}
		}
	}
	return out
}

func (a *Autodetector) diffModel(old, new *state.ModelState, ch *appChanges, deletedSet map[state.ModelKey]bool) {
	model := new.Name
	selfKey := new.Key()

	oldByName := map[string]state.Field{}
	for _, f := range old.Fields {
		oldByName[f.Name] = f
	}
	newByName := map[string]state.Field{}
	for _, f := range new.Fields {
		newByName[f.Name] = f
	}

	var removedFields []state.Field
	for _, f := range old.Fields {
		if _, ok := newByName[f.Name]; !ok {
			removedFields = append(removedFields, f)
		}
	}
	var addedFields []state.Field
	for _, f := range new.Fields {
		if _, ok := oldByName[f.Name]; !ok {
			addedFields = append(addedFields, f)
		}
	}

	// Rename heuristic: pair a removed field with a same-shaped added one.
	consumedOld := map[string]bool{}
	consumedNew := map[string]bool{}
	for _, rf := range removedFields {
		for _, af := range addedFields {
			if consumedNew[af.Name] || !rf.SameShape(af) {
				continue
			}
			if a.q.ConfirmFieldRename(selfKey.String(), rf, af) {
				ch.fieldOps = append(ch.fieldOps, &operations.RenameField{
					ModelName: model,
					OldName:   rf.Name,
					NewName:   af.Name,
				})
				consumedOld[rf.Name] = true
				consumedNew[af.Name] = true
				break
			}
		}
	}

	for _, f := range removedFields {
		if consumedOld[f.Name] {
			continue
		}
		ch.fieldOps = append(ch.fieldOps, &operations.RemoveField{ModelName: model, FieldName: f.Name})
		if f.Rel != nil {
			if t, err := state.ParseKey(f.Rel.To); err == nil && deletedSet[t] {
				ch.clearsRefsTo[t] = true
			}
		}
	}
	for _, f := range addedFields {
		if consumedNew[f.Name] {
			continue
		}
		ch.fieldOps = append(ch.fieldOps, &operations.AddField{ModelName: model, Field: f.Clone()})
		if f.Rel != nil {
			if t, err := state.ParseKey(f.Rel.To); err == nil && t != selfKey && t.App != selfKey.App {
				ch.fieldRequires[t] = true
			}
		}
	}
	for _, f := range new.Fields {
		prev, ok := oldByName[f.Name]
		if !ok || prev.Equal(f) {
			continue
		}
		ch.fieldOps = append(ch.fieldOps, &operations.AlterField{ModelName: model, Field: f.Clone()})
		if f.Rel != nil {
			if t, err := state.ParseKey(f.Rel.To); err == nil && t != selfKey && t.App != selfKey.App {
				ch.fieldRequires[t] = true
			}
		}
	}

	// Indexes by name; a changed index drops and re-adds.
	oldIdx := map[string]state.Index{}
	for _, idx := range old.Indexes {
		oldIdx[idx.Name] = idx
	}
	newIdx := map[string]state.Index{}
	for _, idx := range new.Indexes {
		newIdx[idx.Name] = idx
	}
	for _, idx := range old.Indexes {
		if next, ok := newIdx[idx.Name]; !ok || !idx.Equal(next) {
			ch.metaOps = append(ch.metaOps, &operations.RemoveIndex{ModelName: model, IndexName: idx.Name})
		}
	}
	for _, idx := range new.Indexes {
		if prev, ok := oldIdx[idx.Name]; !ok || !prev.Equal(idx) {
			ch.metaOps = append(ch.metaOps, &operations.AddIndex{ModelName: model, Index: idx})
		}
	}

	if !uniqueTogetherEqual(old.Options.UniqueTogether, new.Options.UniqueTogether) {
		ch.metaOps = append(ch.metaOps, &operations.AlterUniqueTogether{
			Name:           model,
			UniqueTogether: new.Options.UniqueTogether,
		})
	}

	oldOpts, newOpts := old.Options, new.Options
	oldOpts.UniqueTogether, newOpts.UniqueTogether = nil, nil
	if !oldOpts.Equal(newOpts) {
		ch.metaOps = append(ch.metaOps, &operations.AlterModelOptions{
			Name:    model,
			Options: newOpts.Clone(),
		})
	}
}

func createModelOp(ms *state.ModelState) *operations.CreateModel {
	fields := make([]state.Field, len(ms.Fields))
	for i, f := range ms.Fields {
		fields[i] = f.Clone()
	}
	return &operations.CreateModel{
		Name:         ms.Name,
		Fields:       fields,
		Indexes:      append([]state.Index(nil), ms.Indexes...),
		Options:      ms.Options.Clone(),
		Bases:        append([]string(nil), ms.Bases...),
		Capabilities: append([]string(nil), ms.Capabilities...),
	}
}

// topoByRelations orders keys so relation targets come first (reverse=false)
// or referencing models come first (reverse=true). Ordering is deterministic:
// ties resolve lexicographically.
func topoByRelations(st *state.ProjectState, keys []state.ModelKey, reverse bool) []state.ModelKey {
	inSet := keySet(keys)
	deps := map[state.ModelKey][]state.ModelKey{}
	for _, k := range keys {
		ms := st.MustModel(k.App, k.Model)
		for _, t := range ms.RelatedKeys() {
			if t == k || !inSet[t] {
				continue
			}
			if reverse {
				// Deletion: t waits for its referencing model k.
				deps[t] = append(deps[t], k)
			} else {
				deps[k] = append(deps[k], t)
			}
		}
	}

	sorted := append([]state.ModelKey(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return keyLess(sorted[i], sorted[j]) })

	var out []state.ModelKey
	emitted := map[state.ModelKey]bool{}
	visiting := map[state.ModelKey]bool{}
	var visit func(k state.ModelKey)
	visit = func(k state.ModelKey) {
		if emitted[k] || visiting[k] {
			// A relation cycle among the set; break it deterministically.
			return
		}
		visiting[k] = true
		for _, d := range sortKeys(deps[k]) {
			visit(d)
		}
		visiting[k] = false
		emitted[k] = true
		out = append(out, k)
	}
	for _, k := range sorted {
		visit(k)
	}
	return out
}

func uniqueTogetherEqual(a, b [][]string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if len(a[i]) != len(b[i]) {
			return false
		}
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				return false
			}
		}
	}
	return true
}

func stateKeys(st *state.ProjectState) []state.ModelKey {
	models := st.Models()
	out := make([]state.ModelKey, len(models))
	for i, ms := range models {
		out[i] = ms.Key()
	}
	sort.Slice(out, func(i, j int) bool { return keyLess(out[i], out[j]) })
	return out
}

func keySet(keys []state.ModelKey) map[state.ModelKey]bool {
	out := make(map[state.ModelKey]bool, len(keys))
	for _, k := range keys {
		out[k] = true
	}
	return out
}

func filterKeys(keys []state.ModelKey, keep func(state.ModelKey) bool) []state.ModelKey {
	var out []state.ModelKey
	for _, k := range keys {
		if keep(k) {
			out = append(out, k)
		}
	}
	return out
}

func keyLess(a, b state.ModelKey) bool {
	if a.App != b.App {
		return a.App < b.App
	}
	return a.Model < b.Model
}

func sortKeys(keys []state.ModelKey) []state.ModelKey {
	out := append([]state.ModelKey(nil), keys...)
	sort.Slice(out, func(i, j int) bool { return keyLess(out[i], out[j]) })
	return out
}

func sortedKeys(m map[state.ModelKey]state.ModelKey) []state.ModelKey {
	out := make([]state.ModelKey, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return keyLess(out[i], out[j]) })
	return out
}

func sortedKeySet(m map[state.ModelKey]bool) []state.ModelKey {
	out := make([]state.ModelKey, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return keyLess(out[i], out[j]) })
	return out
}

// nextNumber derives the next cosmetic number prefix for an app from the
// graph's existing names.
func nextNumber(g *graph.Graph, app string) int {
	max := 0
	for _, k := range g.Keys() {
		if k.App != app {
			continue
		}
		if n := numberPrefix(k.Name); n > max {
			max = n
		}
	}
	return max + 1
}

func numberPrefix(name string) int {
	head, _, _ := strings.Cut(name, "_")
	n, err := strconv.Atoi(head)
	if err != nil {
		return 0
	}
	return n
}

func migrationName(number int, ops []operations.Operation) string {
	if number == 1 {
		return "0001_initial"
	}
	suffix := "auto"
	if len(ops) == 1 {
		suffix = opSlug(ops[0])
	}
	return fmt.Sprintf("%04d_%s", number, suffix)
}

func opSlug(op operations.Operation) string {
	switch v := op.(type) {
	case *operations.CreateModel:
		return strings.ToLower(v.Name)
	case *operations.DeleteModel:
		return "delete_" + strings.ToLower(v.Name)
	case *operations.RenameModel:
		return "rename_" + strings.ToLower(v.OldName) + "_" + strings.ToLower(v.NewName)
	case *operations.AddField:
		return strings.ToLower(v.ModelName) + "_" + strings.ToLower(v.Field.Name)
	case *operations.RemoveField:
		return "remove_" + strings.ToLower(v.ModelName) + "_" + strings.ToLower(v.FieldName)
	case *operations.AlterField:
		return "alter_" + strings.ToLower(v.ModelName) + "_" + strings.ToLower(v.Field.Name)
	case *operations.RenameField:
		return "rename_" + strings.ToLower(v.OldName) + "_" + strings.ToLower(v.NewName)
	default:
		return "auto"
	}
}
