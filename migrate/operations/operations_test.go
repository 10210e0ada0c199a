package operations

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/dgsalas/django/migrate/schema"
	"github.com/dgsalas/django/migrate/state"
)

func baseState(t *testing.T) *state.ProjectState {
	t.Helper()
	ps := state.NewProjectState()
	ops := []Operation{
		&CreateModel{Name: "User", Fields: []state.Field{
			{Name: "id", Type: state.AutoField, PrimaryKey: true},
			{Name: "email", Type: state.CharField, MaxLength: 254, Unique: true},
		}},
		&CreateModel{Name: "Post", Fields: []state.Field{
			{Name: "id", Type: state.AutoField, PrimaryKey: true},
			{Name: "title", Type: state.CharField, MaxLength: 200},
			{Name: "author", Type: state.ForeignKey, Rel: &state.Relation{To: "app.User", OnDelete: state.Cascade}},
		}},
	}
	for _, op := range ops {
		if err := op.StateForwards("app", ps); err != nil {
			t.Fatalf("building base state: %v", err)
		}
	}
	return ps
}

func TestCreateModelTwiceFails(t *testing.T) {
	ps := baseState(t)
	op := &CreateModel{Name: "User"}
	var serr *state.Error
	if err := op.StateForwards("app", ps); !errors.As(err, &serr) {
		t.Fatalf("expected *state.Error, got %v", err)
	}
}

func TestRenameModelRewritesRelations(t *testing.T) {
	ps := baseState(t)
	op := &RenameModel{OldName: "User", NewName: "Account"}
	if err := op.StateForwards("app", ps); err != nil {
		t.Fatalf("StateForwards: %v", err)
	}
	if _, ok := ps.Model("app", "User"); ok {
		t.Fatal("old model still present")
	}
	post := ps.MustModel("app", "Post")
	author, _ := post.Field("author")
	if author.Rel.To != "app.account" {
		t.Fatalf("relation not rewritten: %q", author.Rel.To)
	}
}

func TestDeleteModel(t *testing.T) {
	ps := baseState(t)
	if err := (&DeleteModel{Name: "Post"}).StateForwards("app", ps); err != nil {
		t.Fatalf("StateForwards: %v", err)
	}
	if err := (&DeleteModel{Name: "Post"}).StateForwards("app", ps); err == nil {
		t.Fatal("expected error when deleting a missing model")
	}
}

func TestAddRemoveAlterField(t *testing.T) {
	ps := baseState(t)
	add := &AddField{ModelName: "Post", Field: state.Field{Name: "body", Type: state.TextField, Null: true}}
	if err := add.StateForwards("app", ps); err != nil {
		t.Fatalf("AddField: %v", err)
	}
	if err := add.StateForwards("app", ps); err == nil {
		t.Fatal("adding the same field twice should fail")
	}

	alter := &AlterField{ModelName: "Post", Field: state.Field{Name: "body", Type: state.TextField}}
	if err := alter.StateForwards("app", ps); err != nil {
		t.Fatalf("AlterField: %v", err)
	}
	body, _ := ps.MustModel("app", "Post").Field("body")
	if body.Null {
		t.Fatal("alter did not replace the descriptor")
	}

	if err := (&RemoveField{ModelName: "Post", FieldName: "body"}).StateForwards("app", ps); err != nil {
		t.Fatalf("RemoveField: %v", err)
	}
	if _, ok := ps.MustModel("app", "Post").Field("body"); ok {
		t.Fatal("field still present after removal")
	}
}

func TestRenameFieldUpdatesIndexesAndUniqueTogether(t *testing.T) {
	ps := baseState(t)
	post := ps.MustModel("app", "Post")
	post.Indexes = []state.Index{{Name: "app_post_title_idx", Fields: []string{"title"}}}
	post.Options.UniqueTogether = [][]string{{"title", "author"}}

	op := &RenameField{ModelName: "Post", OldName: "title", NewName: "headline"}
	if err := op.StateForwards("app", ps); err != nil {
		t.Fatalf("StateForwards: %v", err)
	}
	post = ps.MustModel("app", "Post")
	if post.Indexes[0].Fields[0] != "headline" {
		t.Fatalf("index fields not rewritten: %v", post.Indexes[0].Fields)
	}
	if post.Options.UniqueTogether[0][0] != "headline" {
		t.Fatalf("unique_together not rewritten: %v", post.Options.UniqueTogether)
	}
}

func TestAlterModelOptionsKeepsUniqueTogether(t *testing.T) {
	ps := baseState(t)
	post := ps.MustModel("app", "Post")
	post.Options.UniqueTogether = [][]string{{"title", "author"}}

	op := &AlterModelOptions{Name: "Post", Options: state.Options{Ordering: []string{"-title"}}}
	if err := op.StateForwards("app", ps); err != nil {
		t.Fatalf("StateForwards: %v", err)
	}
	post = ps.MustModel("app", "Post")
	if len(post.Options.UniqueTogether) != 1 {
		t.Fatal("unique_together lost")
	}
	if len(post.Options.Ordering) != 1 || post.Options.Ordering[0] != "-title" {
		t.Fatalf("ordering not applied: %v", post.Options.Ordering)
	}
}

func TestAlterUniqueTogetherValidatesFields(t *testing.T) {
	ps := baseState(t)
	op := &AlterUniqueTogether{Name: "Post", UniqueTogether: [][]string{{"title", "bogus"}}}
	if err := op.StateForwards("app", ps); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestAddRemoveIndex(t *testing.T) {
	ps := baseState(t)
	add := &AddIndex{ModelName: "Post", Index: state.Index{Name: "app_post_title_idx", Fields: []string{"title"}}}
	if err := add.StateForwards("app", ps); err != nil {
		t.Fatalf("AddIndex: %v", err)
	}
	if err := add.StateForwards("app", ps); err == nil {
		t.Fatal("duplicate index should fail")
	}
	if err := (&RemoveIndex{ModelName: "Post", IndexName: "app_post_title_idx"}).StateForwards("app", ps); err != nil {
		t.Fatalf("RemoveIndex: %v", err)
	}
}

func TestRunSQLReferencesUnknown(t *testing.T) {
	op := &RunSQL{SQL: "UPDATE app_post SET title = ''"}
	if _, known := op.References("app"); known {
		t.Fatal("raw SQL references must be indeterminate")
	}
	if op.Reversible() {
		t.Fatal("RunSQL without reverse SQL must be irreversible")
	}
	rev := &RunSQL{SQL: "A", ReverseSQL: "B"}
	if !rev.Reversible() {
		t.Fatal("RunSQL with reverse SQL should be reversible")
	}
}

func TestRunGoRegistry(t *testing.T) {
	called := false
	forward := func(ctx context.Context, ed schema.Editor, from, to *state.ProjectState) error {
		called = true
		return nil
	}
	RegisterCallback("seed_defaults", forward, nil)

	op := &RunGo{Name: "seed_defaults"}
	if op.Reversible() {
		t.Fatal("callback without backward function should be irreversible")
	}
	if err := op.DatabaseForwards(context.Background(), nil, "app", nil, nil); err != nil {
		t.Fatalf("DatabaseForwards: %v", err)
	}
	if !called {
		t.Fatal("forward callback did not run")
	}
	if err := op.DatabaseBackwards(context.Background(), nil, "app", nil, nil); err == nil {
		t.Fatal("expected backward without callback to fail")
	}

	missing := &RunGo{Name: "never_registered"}
	if err := missing.DatabaseForwards(context.Background(), nil, "app", nil, nil); err == nil {
		t.Fatal("expected unregistered callback to fail")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	ops := []Operation{
		&CreateModel{Name: "User", Fields: []state.Field{
			{Name: "id", Type: state.AutoField, PrimaryKey: true},
		}},
		&AddField{ModelName: "User", Field: state.Field{Name: "email", Type: state.CharField, MaxLength: 254}},
		&RenameModel{OldName: "User", NewName: "Account"},
		&AlterUniqueTogether{Name: "Account", UniqueTogether: [][]string{{"email"}}},
		&RunSQL{SQL: "SELECT 1", ReverseSQL: "SELECT 2"},
	}
	raws, err := MarshalList(ops)
	if err != nil {
		t.Fatalf("MarshalList: %v", err)
	}
	back, err := UnmarshalList(raws)
	if err != nil {
		t.Fatalf("UnmarshalList: %v", err)
	}
	if len(back) != len(ops) {
		t.Fatalf("got %d ops, want %d", len(back), len(ops))
	}
	for i := range ops {
		if back[i].Kind() != ops[i].Kind() {
			t.Fatalf("op %d kind = %q, want %q", i, back[i].Kind(), ops[i].Kind())
		}
	}
}

func TestUnmarshalUnknownKind(t *testing.T) {
	if _, err := Unmarshal(json.RawMessage(`{"op":"explode"}`)); err == nil {
		t.Fatal("expected error for unknown operation kind")
	}
}
