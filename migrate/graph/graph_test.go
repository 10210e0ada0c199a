package graph_test

import (
	"errors"
	"testing"

	"github.com/dgsalas/django/migrate/graph"
	"github.com/dgsalas/django/migrate/migration"
	"github.com/dgsalas/django/migrate/operations"
	"github.com/dgsalas/django/migrate/state"
)

func key(app, name string) migration.Key {
	return migration.Key{App: app, Name: name}
}

func mig(app, name string, deps ...migration.Key) *migration.Migration {
	return &migration.Migration{App: app, Name: name, Dependencies: deps}
}

// build adds each migration and its declared dependency edges, failing the
// test on any error.
func build(t *testing.T, migs ...*migration.Migration) *graph.Graph {
	t.Helper()
	g := graph.New()
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
	return g
}

func planKeys(plan []*migration.Migration) []migration.Key {
	out := make([]migration.Key, len(plan))
	for i, m := range plan {
		out[i] = m.Key()
	}
	return out
}

func sameKeys(a, b []migration.Key) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestAddNodeDuplicateKey(t *testing.T) {
	g := graph.New()
	if err := g.AddNode(mig("blog", "0001_initial")); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := g.AddNode(mig("blog", "0001_initial")); err == nil {
		t.Error("expected error adding a duplicate key")
	}
}

func TestAddDependencyUnknownNode(t *testing.T) {
	g := graph.New()
	if err := g.AddNode(mig("blog", "0001_initial")); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	err := g.AddDependency(key("blog", "0001_initial"), key("accounts", "0001_initial"))
	var nf *graph.NodeNotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NodeNotFoundError, got %v", err)
	}
	if nf.Key != key("accounts", "0001_initial") {
		t.Errorf("missing key = %s", nf.Key)
	}
}

func TestAddDependencyRejectsCycle(t *testing.T) {
	g := build(t,
		mig("blog", "0001_initial"),
		mig("blog", "0002_slug", key("blog", "0001_initial")),
		mig("blog", "0003_tags", key("blog", "0002_slug")),
	)
	err := g.AddDependency(key("blog", "0001_initial"), key("blog", "0003_tags"))
	var ce *graph.CycleError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CycleError, got %v", err)
	}
	if len(ce.Nodes) != 3 {
		t.Errorf("cycle names %d nodes, want all 3: %v", len(ce.Nodes), ce.Nodes)
	}
	// The rejected edge must not have been inserted.
	if err := g.Validate(); err != nil {
		t.Errorf("graph left invalid after rejected edge: %v", err)
	}
}

func TestForwardsPlanCrossApp(t *testing.T) {
	// blog.0002 pulls in the accounts chain it depends on, and nothing else.
	g := build(t,
		mig("accounts", "0001_initial"),
		mig("accounts", "0002_email", key("accounts", "0001_initial")),
		mig("blog", "0001_initial"),
		mig("blog", "0002_author", key("blog", "0001_initial"), key("accounts", "0002_email")),
		mig("shop", "0001_initial"),
	)
	plan, err := g.ForwardsPlan(key("blog", "0002_author"))
	if err != nil {
		t.Fatalf("ForwardsPlan: %v", err)
	}
	got := planKeys(plan)
	if len(got) != 4 {
		t.Fatalf("plan = %v, want 4 entries", got)
	}
	if got[len(got)-1] != key("blog", "0002_author") {
		t.Errorf("plan must end at the target, got %v", got)
	}
	pos := map[migration.Key]int{}
	for i, k := range got {
		pos[k] = i
		if k.App == "shop" {
			t.Errorf("unrelated migration %s in plan", k)
		}
	}
	if pos[key("accounts", "0001_initial")] > pos[key("accounts", "0002_email")] {
		t.Error("dependency applied after dependent")
	}
}

func TestBackwardsPlanExcludesTarget(t *testing.T) {
	g := build(t,
		mig("blog", "0001_initial"),
		mig("blog", "0002_slug", key("blog", "0001_initial")),
		mig("feed", "0001_initial", key("blog", "0002_slug")),
	)
	plan, err := g.BackwardsPlan(key("blog", "0002_slug"))
	if err != nil {
		t.Fatalf("BackwardsPlan: %v", err)
	}
	got := planKeys(plan)
	want := []migration.Key{key("feed", "0001_initial")}
	if !sameKeys(got, want) {
		t.Errorf("plan = %v, want %v", got, want)
	}
}

func TestPlanDeterminism(t *testing.T) {
	migs := []*migration.Migration{
		mig("a", "0001_initial"),
		mig("b", "0001_initial"),
		mig("b", "0002_more", key("b", "0001_initial")),
		mig("c", "0001_initial", key("a", "0001_initial")),
	}
	first := planKeys(build(t, migs...).FullPlan())
	for run := 0; run < 20; run++ {
		again := planKeys(build(t, migs...).FullPlan())
		if !sameKeys(first, again) {
			t.Fatalf("run %d produced %v, first run produced %v", run, again, first)
		}
	}
	// Same-app affinity: b.0002 follows b.0001 immediately even though a and
	// c are also eligible.
	for i, k := range first {
		if k == key("b", "0001_initial") {
			if first[i+1] != key("b", "0002_more") {
				t.Errorf("expected b.0002_more right after b.0001_initial: %v", first)
			}
		}
	}
}

func TestLeavesAndConflicts(t *testing.T) {
	g := build(t,
		mig("blog", "0001_initial"),
		mig("blog", "0002_slug", key("blog", "0001_initial")),
		mig("blog", "0002_author", key("blog", "0001_initial")),
		mig("shop", "0001_initial"),
	)
	leaves := g.LeavesForApp("blog")
	if len(leaves) != 2 {
		t.Fatalf("LeavesForApp = %v, want both divergent leaves", leaves)
	}
	conflicts := g.Conflicts()
	if _, ok := conflicts["blog"]; !ok {
		t.Error("blog should be conflicted")
	}
	if _, ok := conflicts["shop"]; ok {
		t.Error("shop has a single leaf and is not conflicted")
	}
	var ce *graph.ConflictError
	if !errors.As(g.CheckConflicts(), &ce) {
		t.Fatal("CheckConflicts should return a ConflictError")
	}
	if ce.App != "blog" || len(ce.Leaves) != 2 {
		t.Errorf("ConflictError = %+v", ce)
	}
}

func TestConflictResolvedByMerge(t *testing.T) {
	g := build(t,
		mig("blog", "0001_initial"),
		mig("blog", "0002_slug", key("blog", "0001_initial")),
		mig("blog", "0002_author", key("blog", "0001_initial")),
		mig("blog", "0003_merge", key("blog", "0002_slug"), key("blog", "0002_author")),
	)
	if err := g.CheckConflicts(); err != nil {
		t.Errorf("merge node should clear the conflict, got %v", err)
	}
	leaves := g.LeavesForApp("blog")
	if len(leaves) != 1 || leaves[0] != key("blog", "0003_merge") {
		t.Errorf("leaves = %v, want just the merge", leaves)
	}
}

func TestRoots(t *testing.T) {
	g := build(t,
		mig("blog", "0001_initial"),
		mig("blog", "0002_slug", key("blog", "0001_initial")),
		mig("shop", "0001_initial"),
	)
	roots := g.Roots()
	want := []migration.Key{key("blog", "0001_initial"), key("shop", "0001_initial")}
	if !sameKeys(roots, want) {
		t.Errorf("Roots = %v, want %v", roots, want)
	}
}

func TestMakeStateReplay(t *testing.T) {
	first := &migration.Migration{
		App:  "blog",
		Name: "0001_initial",
		Operations: []operations.Operation{
			&operations.CreateModel{Name: "Post", Fields: []state.Field{
				{Name: "id", Type: state.AutoField, PrimaryKey: true},
				{Name: "title", Type: state.CharField, MaxLength: 200},
			}},
		},
	}
	second := &migration.Migration{
		App:          "blog",
		Name:         "0002_body",
		Dependencies: []migration.Key{first.Key()},
		Operations: []operations.Operation{
			&operations.AddField{ModelName: "Post", Field: state.Field{Name: "body", Type: state.TextField}},
		},
	}
	g := build(t, first, second)

	at := first.Key()
	st, err := g.MakeState(&at)
	if err != nil {
		t.Fatalf("MakeState: %v", err)
	}
	ms, ok := st.Model("blog", "post")
	if !ok {
		t.Fatal("blog.post missing")
	}
	if _, ok := ms.Field("body"); ok {
		t.Error("body should not exist as of 0001_initial")
	}

	st, err = g.MakeState(nil)
	if err != nil {
		t.Fatalf("MakeState(nil): %v", err)
	}
	if _, ok := st.MustModel("blog", "post").Field("body"); !ok {
		t.Error("body missing after full replay")
	}
}
