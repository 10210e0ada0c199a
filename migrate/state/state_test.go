package state

import (
	"errors"
	"testing"
)

func userModel() *ModelState {
	return &ModelState{
		App:  "accounts",
		Name: "User",
		Fields: []Field{
			{Name: "id", Type: AutoField, PrimaryKey: true},
			{Name: "email", Type: CharField, MaxLength: 254, Unique: true},
		},
	}
}

func postModel() *ModelState {
	return &ModelState{
		App:  "blog",
		Name: "Post",
		Fields: []Field{
			{Name: "id", Type: AutoField, PrimaryKey: true},
			{Name: "title", Type: CharField, MaxLength: 200},
			{Name: "author", Type: ForeignKey, Rel: &Relation{To: "accounts.User", OnDelete: Cascade}},
		},
	}
}

func TestParseKey(t *testing.T) {
	key, err := ParseKey("blog.Post")
	if err != nil {
		t.Fatalf("ParseKey: %v", err)
	}
	if key.App != "blog" || key.Model != "post" {
		t.Fatalf("got %+v", key)
	}
	if _, err := ParseKey("noseparator"); err == nil {
		t.Fatal("expected error for malformed key")
	}
}

func TestAddAndRemoveModel(t *testing.T) {
	ps := NewProjectState()
	if err := ps.AddModel(userModel()); err != nil {
		t.Fatalf("AddModel: %v", err)
	}
	if err := ps.AddModel(userModel()); err == nil {
		t.Fatal("expected duplicate model error")
	}
	var serr *Error
	if err := ps.RemoveModel("accounts", "Nope"); !errors.As(err, &serr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if err := ps.RemoveModel("accounts", "User"); err != nil {
		t.Fatalf("RemoveModel: %v", err)
	}
	if ps.Len() != 0 {
		t.Fatalf("expected empty state, got %d models", ps.Len())
	}
}

func TestModelLookupIsCaseInsensitive(t *testing.T) {
	ps := NewProjectState()
	if err := ps.AddModel(userModel()); err != nil {
		t.Fatal(err)
	}
	if _, ok := ps.Model("accounts", "user"); !ok {
		t.Fatal("lowercase lookup failed")
	}
	if _, ok := ps.Model("accounts", "User"); !ok {
		t.Fatal("original-case lookup failed")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	ps := NewProjectState()
	if err := ps.AddModel(userModel()); err != nil {
		t.Fatal(err)
	}
	clone := ps.Clone()
	ms := clone.MustModel("accounts", "User")
	ms.Fields[1].MaxLength = 10

	orig := ps.MustModel("accounts", "User")
	if orig.Fields[1].MaxLength != 254 {
		t.Fatal("clone mutation leaked into the original state")
	}
	if !ps.Equal(ps.Clone()) {
		t.Fatal("fresh clone should equal its source")
	}
}

func TestValidateDanglingRelation(t *testing.T) {
	ps := NewProjectState()
	if err := ps.AddModel(postModel()); err != nil {
		t.Fatal(err)
	}
	if err := ps.Validate(); err == nil {
		t.Fatal("expected dangling relation to fail validation")
	}
	if err := ps.AddModel(userModel()); err != nil {
		t.Fatal(err)
	}
	if err := ps.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateIndexFields(t *testing.T) {
	ms := userModel()
	ms.Indexes = []Index{{Name: "accounts_user_bogus_idx", Fields: []string{"bogus"}}}
	ps := NewProjectState()
	if err := ps.AddModel(ms); err != nil {
		t.Fatal(err)
	}
	if err := ps.Validate(); err == nil {
		t.Fatal("expected unknown index field to fail validation")
	}
}

func TestFieldColumnName(t *testing.T) {
	f := Field{Name: "author", Type: ForeignKey, Rel: &Relation{To: "accounts.User"}}
	if got := f.ColumnName(); got != "author_id" {
		t.Fatalf("fk column = %q", got)
	}
	f.Column = "writer"
	if got := f.ColumnName(); got != "writer" {
		t.Fatalf("explicit column = %q", got)
	}
}

func TestSameShape(t *testing.T) {
	a := Field{Name: "title", Type: CharField, MaxLength: 200}
	b := Field{Name: "headline", Type: CharField, MaxLength: 200}
	if !a.SameShape(b) {
		t.Fatal("fields differing only by name should be same-shaped")
	}
	b.MaxLength = 100
	if a.SameShape(b) {
		t.Fatal("different max_length should not be same-shaped")
	}

	m1 := userModel()
	m2 := userModel()
	m2.Name = "Account"
	if !m1.SameShape(m2) {
		t.Fatal("models differing only by name should be same-shaped")
	}
}

func TestTableName(t *testing.T) {
	ms := userModel()
	if got := ms.TableName(); got != "accounts_user" {
		t.Fatalf("default table = %q", got)
	}
	ms.Options.TableName = "members"
	if got := ms.TableName(); got != "members" {
		t.Fatalf("explicit table = %q", got)
	}
}
