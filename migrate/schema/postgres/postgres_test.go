package postgres

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dgsalas/django/migrate/schema"
	"github.com/dgsalas/django/migrate/state"
)

func collectEditor() *Editor {
	return &Editor{Base: schema.Base{BackendName: "postgres", Collect: true}}
}

func userModel() *state.ModelState {
	return &state.ModelState{
		App:  "accounts",
		Name: "User",
		Fields: []state.Field{
			{Name: "id", Type: state.AutoField, PrimaryKey: true},
			{Name: "email", Type: state.CharField, MaxLength: 254, Unique: true},
		},
	}
}

func TestCreateModel(t *testing.T) {
	ed := collectEditor()
	if err := ed.CreateModel(context.Background(), userModel()); err != nil {
		t.Fatalf("CreateModel: %v", err)
	}
	got := ed.CollectedSQL()
	if len(got) != 1 {
		t.Fatalf("statements = %v", got)
	}
	want := "CREATE TABLE \"accounts_user\" (\n\t\"id\" BIGSERIAL PRIMARY KEY,\n\t\"email\" VARCHAR(254) NOT NULL UNIQUE\n)"
	if got[0] != want {
		t.Errorf("got:\n%s\nwant:\n%s", got[0], want)
	}
}

func TestAlterFieldTypeChangeCarriesUsingCast(t *testing.T) {
	ed := collectEditor()
	old := state.Field{Name: "age", Type: state.IntegerField, Null: true}
	new := state.Field{Name: "age", Type: state.BigIntField, Null: true}
	if err := ed.AlterField(context.Background(), userModel(), old, new); err != nil {
		t.Fatalf("AlterField: %v", err)
	}
	got := ed.CollectedSQL()
	if len(got) != 1 {
		t.Fatalf("statements = %v", got)
	}
	want := `ALTER TABLE "accounts_user" ALTER COLUMN "age" TYPE BIGINT USING "age"::BIGINT`
	if got[0] != want {
		t.Errorf("got %q, want %q", got[0], want)
	}
}

func TestAlterFieldNullability(t *testing.T) {
	ed := collectEditor()
	old := state.Field{Name: "bio", Type: state.TextField, Null: true}
	new := state.Field{Name: "bio", Type: state.TextField}
	if err := ed.AlterField(context.Background(), userModel(), old, new); err != nil {
		t.Fatalf("AlterField: %v", err)
	}
	got := ed.CollectedSQL()
	if len(got) != 1 || got[0] != `ALTER TABLE "accounts_user" ALTER COLUMN "bio" SET NOT NULL` {
		t.Errorf("statements = %v", got)
	}
}

func TestAlterFieldUniqueToggle(t *testing.T) {
	ed := collectEditor()
	old := state.Field{Name: "email", Type: state.CharField, MaxLength: 254}
	new := state.Field{Name: "email", Type: state.CharField, MaxLength: 254, Unique: true}
	if err := ed.AlterField(context.Background(), userModel(), old, new); err != nil {
		t.Fatalf("AlterField: %v", err)
	}
	got := ed.CollectedSQL()
	want := `ALTER TABLE "accounts_user" ADD CONSTRAINT "accounts_user_email_key" UNIQUE ("email")`
	if len(got) != 1 || got[0] != want {
		t.Errorf("statements = %v", got)
	}
}

func TestAlterFieldPrimaryKeyChangeIsLimitation(t *testing.T) {
	ed := collectEditor()
	old := state.Field{Name: "id", Type: state.AutoField, PrimaryKey: true}
	new := state.Field{Name: "id", Type: state.UUIDField}
	err := ed.AlterField(context.Background(), userModel(), old, new)
	var le *schema.LimitationError
	if !errors.As(err, &le) {
		t.Fatalf("expected LimitationError, got %v", err)
	}
	if le.Backend != "postgres" || le.Op != "alter_field" {
		t.Errorf("error = %+v", le)
	}
}

func TestAlterFieldRelationSwap(t *testing.T) {
	ed := collectEditor()
	old := state.Field{Name: "team", Type: state.ForeignKey, Null: true,
		Rel: &state.Relation{To: "org.Team", OnDelete: state.Cascade}}
	new := state.Field{Name: "team", Type: state.ForeignKey, Null: true,
		Rel: &state.Relation{To: "org.Team", OnDelete: state.Protect}}
	if err := ed.AlterField(context.Background(), userModel(), old, new); err != nil {
		t.Fatalf("AlterField: %v", err)
	}
	got := ed.CollectedSQL()
	if len(got) != 2 {
		t.Fatalf("statements = %v", got)
	}
	if !strings.HasPrefix(got[0], `ALTER TABLE "accounts_user" DROP CONSTRAINT IF EXISTS "accounts_user_team_id_fkey"`) {
		t.Errorf("statement 0 = %q", got[0])
	}
	if !strings.Contains(got[1], `ADD CONSTRAINT "accounts_user_team_id_fkey" FOREIGN KEY ("team_id") REFERENCES "org_team" ("id") ON DELETE RESTRICT`) {
		t.Errorf("statement 1 = %q", got[1])
	}
}

func TestDeleteModelCascades(t *testing.T) {
	ed := collectEditor()
	if err := ed.DeleteModel(context.Background(), userModel()); err != nil {
		t.Fatalf("DeleteModel: %v", err)
	}
	got := ed.CollectedSQL()
	if len(got) != 1 || got[0] != `DROP TABLE "accounts_user" CASCADE` {
		t.Errorf("statements = %v", got)
	}
}
