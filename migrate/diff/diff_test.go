package diff_test

import (
	"strings"
	"testing"

	"github.com/dgsalas/django/migrate/diff"
	"github.com/dgsalas/django/migrate/graph"
	"github.com/dgsalas/django/migrate/migration"
	"github.com/dgsalas/django/migrate/operations"
	"github.com/dgsalas/django/migrate/state"
)

// Every questioner flavor must satisfy the interface.
var (
	_ diff.Questioner = diff.AutoQuestioner{}
	_ diff.Questioner = diff.StaticQuestioner{}
	_ diff.Questioner = diff.InteractiveQuestioner{}
)

func newModel(app, name string, fields ...state.Field) *state.ModelState {
	if len(fields) == 0 {
		fields = []state.Field{{Name: "id", Type: state.AutoField, PrimaryKey: true}}
	}
	return &state.ModelState{App: app, Name: name, Fields: fields}
}

func mustAdd(t *testing.T, ps *state.ProjectState, models ...*state.ModelState) {
	t.Helper()
	for _, ms := range models {
		if err := ps.AddModel(ms); err != nil {
			t.Fatalf("AddModel(%s.%s): %v", ms.App, ms.Name, err)
		}
	}
}

// applyAll adds the generated migrations and their edges to g, proving the
// output is self-consistent, then replays the full graph.
func applyAll(t *testing.T, g *graph.Graph, migs []*migration.Migration) *state.ProjectState {
	t.Helper()
	for _, m := range migs {
		if err := g.AddNode(m); err != nil {
			t.Fatalf("AddNode(%s): %v", m, err)
		}
	}
	for _, m := range migs {
		for _, dep := range m.Dependencies {
			if err := g.AddDependency(m.Key(), dep); err != nil {
				t.Fatalf("AddDependency(%s -> %s): %v", m, dep, err)
			}
		}
	}
	st, err := g.MakeState(nil)
	if err != nil {
		t.Fatalf("MakeState: %v", err)
	}
	return st
}

func TestInitialMigration(t *testing.T) {
	target := state.NewProjectState()
	mustAdd(t, target,
		newModel("blog", "Post",
			state.Field{Name: "id", Type: state.AutoField, PrimaryKey: true},
			state.Field{Name: "title", Type: state.CharField, MaxLength: 200},
			state.Field{Name: "author", Type: state.ForeignKey, Rel: &state.Relation{To: "blog.Author", OnDelete: state.Cascade}},
		),
		newModel("blog", "Author"),
	)

	g := graph.New()
	migs, err := diff.New(state.NewProjectState(), target, nil).Changes(g)
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	if len(migs) != 1 {
		t.Fatalf("got %d migrations, want 1", len(migs))
	}
	m := migs[0]
	if m.Name != "0001_initial" || !m.Initial {
		t.Errorf("first migration = %q initial=%v", m.Name, m.Initial)
	}
	if len(m.Operations) != 2 {
		t.Fatalf("ops = %d, want 2 CreateModel", len(m.Operations))
	}
	// The relation target must be created before the model pointing at it.
	first, ok := m.Operations[0].(*operations.CreateModel)
	if !ok || first.Name != "Author" {
		t.Errorf("first op = %s, want Create model Author", m.Operations[0].Describe())
	}

	final := applyAll(t, g, migs)
	if !final.Equal(target) {
		t.Error("replayed state does not match the target state")
	}
}

func TestNoChangesNoMigrations(t *testing.T) {
	st := state.NewProjectState()
	mustAdd(t, st, newModel("blog", "Post"))
	migs, err := diff.New(st, st.Clone(), nil).Changes(graph.New())
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	if len(migs) != 0 {
		t.Errorf("got %d migrations for identical states", len(migs))
	}
}

func TestFieldChangesAndNumbering(t *testing.T) {
	from := state.NewProjectState()
	mustAdd(t, from, newModel("blog", "Post",
		state.Field{Name: "id", Type: state.AutoField, PrimaryKey: true},
		state.Field{Name: "title", Type: state.CharField, MaxLength: 100},
	))
	to := state.NewProjectState()
	mustAdd(t, to, newModel("blog", "Post",
		state.Field{Name: "id", Type: state.AutoField, PrimaryKey: true},
		state.Field{Name: "title", Type: state.CharField, MaxLength: 200},
		state.Field{Name: "body", Type: state.TextField},
	))

	g := graph.New()
	prior := &migration.Migration{App: "blog", Name: "0001_initial", Initial: true}
	if err := g.AddNode(prior); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	migs, err := diff.New(from, to, nil).Changes(g)
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	if len(migs) != 1 {
		t.Fatalf("got %d migrations, want 1", len(migs))
	}
	m := migs[0]
	if !strings.HasPrefix(m.Name, "0002_") {
		t.Errorf("name = %q, want 0002_ prefix", m.Name)
	}
	if m.Initial {
		t.Error("follow-up migration marked initial")
	}
	if len(m.Dependencies) != 1 || m.Dependencies[0] != prior.Key() {
		t.Errorf("deps = %v, want the app leaf", m.Dependencies)
	}
	var adds, alters int
	for _, op := range m.Operations {
		switch op.(type) {
		case *operations.AddField:
			adds++
		case *operations.AlterField:
			alters++
		default:
			t.Errorf("unexpected op %s", op.Describe())
		}
	}
	if adds != 1 || alters != 1 {
		t.Errorf("adds=%d alters=%d, want 1 and 1", adds, alters)
	}
}

func TestModelRenameConfirmed(t *testing.T) {
	from := state.NewProjectState()
	mustAdd(t, from, newModel("blog", "Entry",
		state.Field{Name: "id", Type: state.AutoField, PrimaryKey: true},
		state.Field{Name: "title", Type: state.CharField, MaxLength: 200},
	))
	to := state.NewProjectState()
	mustAdd(t, to, newModel("blog", "Post",
		state.Field{Name: "id", Type: state.AutoField, PrimaryKey: true},
		state.Field{Name: "title", Type: state.CharField, MaxLength: 200},
	))

	migs, err := diff.New(from, to, diff.StaticQuestioner{RenameModels: true}).Changes(graph.New())
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	if len(migs) != 1 || len(migs[0].Operations) != 1 {
		t.Fatalf("migs = %v", migs)
	}
	rn, ok := migs[0].Operations[0].(*operations.RenameModel)
	if !ok {
		t.Fatalf("op = %s, want RenameModel", migs[0].Operations[0].Describe())
	}
	if rn.OldName != "Entry" || rn.NewName != "Post" {
		t.Errorf("rename %s -> %s", rn.OldName, rn.NewName)
	}
}

func TestModelRenameDeclinedBecomesDropAndCreate(t *testing.T) {
	from := state.NewProjectState()
	mustAdd(t, from, newModel("blog", "Entry"))
	to := state.NewProjectState()
	mustAdd(t, to, newModel("blog", "Post"))

	migs, err := diff.New(from, to, nil).Changes(graph.New())
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	if len(migs) != 1 {
		t.Fatalf("got %d migrations", len(migs))
	}
	var sawCreate, sawDelete bool
	for _, op := range migs[0].Operations {
		switch v := op.(type) {
		case *operations.CreateModel:
			sawCreate = v.Name == "Post"
		case *operations.DeleteModel:
			sawDelete = v.Name == "Entry"
		}
	}
	if !sawCreate || !sawDelete {
		t.Errorf("want CreateModel Post and DeleteModel Entry, got %v", migs[0].Operations)
	}
}

func TestFieldRenameConfirmed(t *testing.T) {
	from := state.NewProjectState()
	mustAdd(t, from, newModel("blog", "Post",
		state.Field{Name: "id", Type: state.AutoField, PrimaryKey: true},
		state.Field{Name: "headline", Type: state.CharField, MaxLength: 200},
	))
	to := state.NewProjectState()
	mustAdd(t, to, newModel("blog", "Post",
		state.Field{Name: "id", Type: state.AutoField, PrimaryKey: true},
		state.Field{Name: "title", Type: state.CharField, MaxLength: 200},
	))

	migs, err := diff.New(from, to, diff.StaticQuestioner{RenameFields: true}).Changes(graph.New())
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	if len(migs) != 1 || len(migs[0].Operations) != 1 {
		t.Fatalf("migs = %v", migs)
	}
	rn, ok := migs[0].Operations[0].(*operations.RenameField)
	if !ok {
		t.Fatalf("op = %s, want RenameField", migs[0].Operations[0].Describe())
	}
	if rn.OldName != "headline" || rn.NewName != "title" {
		t.Errorf("rename %s -> %s", rn.OldName, rn.NewName)
	}
}

func TestCrossAppDependency(t *testing.T) {
	from := state.NewProjectState()
	mustAdd(t, from, newModel("accounts", "User"))
	to := state.NewProjectState()
	mustAdd(t, to,
		newModel("accounts", "User"),
		newModel("blog", "Post",
			state.Field{Name: "id", Type: state.AutoField, PrimaryKey: true},
			state.Field{Name: "author", Type: state.ForeignKey, Rel: &state.Relation{To: "accounts.User", OnDelete: state.Cascade}},
		),
	)

	g := graph.New()
	accountsInitial := &migration.Migration{App: "accounts", Name: "0001_initial", Initial: true}
	if err := g.AddNode(accountsInitial); err != nil {
		t.Fatalf("AddNode: %v", err)
	}

	migs, err := diff.New(from, to, nil).Changes(g)
	if err != nil {
		t.Fatalf("Changes: %v", err)
	}
	if len(migs) != 1 || migs[0].App != "blog" {
		t.Fatalf("migs = %v, want one blog migration", migs)
	}
	found := false
	for _, dep := range migs[0].Dependencies {
		if dep == accountsInitial.Key() {
			found = true
		}
	}
	if !found {
		t.Errorf("deps = %v, want accounts.0001_initial", migs[0].Dependencies)
	}
}

func TestChangesDeterministic(t *testing.T) {
	build := func() []*migration.Migration {
		from := state.NewProjectState()
		to := state.NewProjectState()
		mustAdd(t, to,
			newModel("shop", "Order"),
			newModel("shop", "Item",
				state.Field{Name: "id", Type: state.AutoField, PrimaryKey: true},
				state.Field{Name: "order", Type: state.ForeignKey, Rel: &state.Relation{To: "shop.Order", OnDelete: state.Cascade}},
			),
			newModel("crm", "Lead"),
		)
		migs, err := diff.New(from, to, nil).Changes(graph.New())
		if err != nil {
			t.Fatalf("Changes: %v", err)
		}
		return migs
	}
	first := build()
	for run := 0; run < 10; run++ {
		again := build()
		if len(again) != len(first) {
			t.Fatalf("run %d: %d migrations vs %d", run, len(again), len(first))
		}
		for i := range first {
			if first[i].Key() != again[i].Key() {
				t.Fatalf("run %d: key %s vs %s", run, again[i], first[i])
			}
			if len(first[i].Operations) != len(again[i].Operations) {
				t.Fatalf("run %d: op count differs for %s", run, first[i])
			}
			for j := range first[i].Operations {
				if first[i].Operations[j].Describe() != again[i].Operations[j].Describe() {
					t.Fatalf("run %d: op %d differs: %s vs %s", run, j,
						again[i].Operations[j].Describe(), first[i].Operations[j].Describe())
				}
			}
		}
	}
}

func TestConflictSurfacesBeforeDiffing(t *testing.T) {
	g := graph.New()
	for _, m := range []*migration.Migration{
		{App: "blog", Name: "0001_initial"},
		{App: "blog", Name: "0002_slug", Dependencies: []migration.Key{{App: "blog", Name: "0001_initial"}}},
		{App: "blog", Name: "0002_author", Dependencies: []migration.Key{{App: "blog", Name: "0001_initial"}}},
	} {
		if err := g.AddNode(m); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
		for _, dep := range m.Dependencies {
			if err := g.AddDependency(m.Key(), dep); err != nil {
				t.Fatalf("AddDependency: %v", err)
			}
		}
	}
	_, err := diff.New(state.NewProjectState(), state.NewProjectState(), nil).Changes(g)
	if err == nil {
		t.Fatal("expected a conflict error")
	}
}

func TestMergeConflicts(t *testing.T) {
	g := graph.New()
	initial := &migration.Migration{
		App: "blog", Name: "0001_initial",
		Operations: []operations.Operation{
			&operations.CreateModel{Name: "Post", Fields: []state.Field{{Name: "id", Type: state.AutoField, PrimaryKey: true}}},
			&operations.CreateModel{Name: "Tag", Fields: []state.Field{{Name: "id", Type: state.AutoField, PrimaryKey: true}}},
		},
	}
	left := &migration.Migration{
		App: "blog", Name: "0002_post_body",
		Dependencies: []migration.Key{initial.Key()},
		Operations: []operations.Operation{
			&operations.AddField{ModelName: "Post", Field: state.Field{Name: "body", Type: state.TextField}},
		},
	}
	right := &migration.Migration{
		App: "blog", Name: "0002_tag_slug",
		Dependencies: []migration.Key{initial.Key()},
		Operations: []operations.Operation{
			&operations.AddField{ModelName: "Tag", Field: state.Field{Name: "slug", Type: state.CharField, MaxLength: 50}},
		},
	}
	for _, m := range []*migration.Migration{initial, left, right} {
		if err := g.AddNode(m); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
		for _, dep := range m.Dependencies {
			if err := g.AddDependency(m.Key(), dep); err != nil {
				t.Fatalf("AddDependency: %v", err)
			}
		}
	}

	// Branches touch disjoint models, so no questioner interaction is needed.
	migs, err := diff.MergeConflicts(g, diff.AutoQuestioner{})
	if err != nil {
		t.Fatalf("MergeConflicts: %v", err)
	}
	if len(migs) != 1 {
		t.Fatalf("got %d merge migrations, want 1", len(migs))
	}
	m := migs[0]
	if m.Name != "0003_merge" || len(m.Operations) != 0 {
		t.Errorf("merge = %q with %d ops, want empty 0003_merge", m.Name, len(m.Operations))
	}
	if len(m.Dependencies) != 2 {
		t.Errorf("merge deps = %v, want both leaves", m.Dependencies)
	}
}

func TestMergeDeclinedOnOverlap(t *testing.T) {
	g := graph.New()
	initial := &migration.Migration{
		App: "blog", Name: "0001_initial",
		Operations: []operations.Operation{
			&operations.CreateModel{Name: "Post", Fields: []state.Field{{Name: "id", Type: state.AutoField, PrimaryKey: true}}},
		},
	}
	left := &migration.Migration{
		App: "blog", Name: "0002_post_body",
		Dependencies: []migration.Key{initial.Key()},
		Operations: []operations.Operation{
			&operations.AddField{ModelName: "Post", Field: state.Field{Name: "body", Type: state.TextField}},
		},
	}
	right := &migration.Migration{
		App: "blog", Name: "0002_post_slug",
		Dependencies: []migration.Key{initial.Key()},
		Operations: []operations.Operation{
			&operations.AddField{ModelName: "Post", Field: state.Field{Name: "slug", Type: state.CharField, MaxLength: 50}},
		},
	}
	for _, m := range []*migration.Migration{initial, left, right} {
		if err := g.AddNode(m); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
		for _, dep := range m.Dependencies {
			if err := g.AddDependency(m.Key(), dep); err != nil {
				t.Fatalf("AddDependency: %v", err)
			}
		}
	}

	// Both branches touch blog.Post; the auto questioner declines.
	_, err := diff.MergeConflicts(g, diff.AutoQuestioner{})
	if err == nil {
		t.Fatal("expected merge to be declined for overlapping branches")
	}

	migs, err := diff.MergeConflicts(g, diff.StaticQuestioner{Merges: true})
	if err != nil {
		t.Fatalf("MergeConflicts with confirmation: %v", err)
	}
	if len(migs) != 1 {
		t.Errorf("got %d merge migrations, want 1", len(migs))
	}
}
