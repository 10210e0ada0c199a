package modelfile_test

import (
	"strings"
	"testing"

	"github.com/spf13/afero"

	"github.com/dgsalas/django/migrate/state"
	"github.com/dgsalas/django/modelfile"
)

const blogFile = `
// A blog with authored posts.
app blog {
	model Author {
		id auto @pk
		email char @max_length(254) @unique
	}

	model Post {
		id auto @pk
		title char @max_length(200)
		body text @null
		author fk(blog.Author) @on_delete(protect)
		created datetime @column("created_at")

		@@index(title)
		@@unique_together(title, author)
		@@ordering("-created")
	}
}
`

func loadString(t *testing.T, src string) (*state.ProjectState, error) {
	t.Helper()
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "models.mf", []byte(src), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return modelfile.Load(fs, "models.mf")
}

func TestLoadBlogFile(t *testing.T) {
	ps, err := loadString(t, blogFile)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ps.Len() != 2 {
		t.Fatalf("loaded %d models, want 2", ps.Len())
	}

	post, ok := ps.Model("blog", "post")
	if !ok {
		t.Fatal("blog.post missing")
	}
	title, ok := post.Field("title")
	if !ok || title.Type != state.CharField || title.MaxLength != 200 {
		t.Errorf("title = %+v", title)
	}
	body, _ := post.Field("body")
	if !body.Null {
		t.Error("body should be nullable")
	}
	author, _ := post.Field("author")
	if author.Rel == nil || author.Rel.To != "blog.Author" || author.Rel.OnDelete != state.Protect {
		t.Errorf("author rel = %+v", author.Rel)
	}
	created, _ := post.Field("created")
	if created.ColumnName() != "created_at" {
		t.Errorf("created column = %q", created.ColumnName())
	}

	if len(post.Indexes) != 1 || post.Indexes[0].Name != "blog_post_title_idx" {
		t.Errorf("indexes = %+v", post.Indexes)
	}
	if len(post.Options.UniqueTogether) != 1 {
		t.Fatalf("unique_together = %v", post.Options.UniqueTogether)
	}
	if got := post.Options.UniqueTogether[0]; got[0] != "title" || got[1] != "author" {
		t.Errorf("unique_together = %v", got)
	}
	if len(post.Options.Ordering) != 1 || post.Options.Ordering[0] != "-created" {
		t.Errorf("ordering = %v", post.Options.Ordering)
	}
}

func TestDBTableRenamesIndexes(t *testing.T) {
	src := `
app blog {
	model Post {
		id auto @pk
		title char @max_length(200)

		@@index(title)
		@@db_table("legacy_posts")
	}
}
`
	ps, err := loadString(t, src)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	post := ps.MustModel("blog", "post")
	if post.TableName() != "legacy_posts" {
		t.Errorf("table = %q", post.TableName())
	}
	// db_table comes after the index line but still names the index.
	if post.Indexes[0].Name != "legacy_posts_title_idx" {
		t.Errorf("index name = %q", post.Indexes[0].Name)
	}
}

func TestDefaultLiterals(t *testing.T) {
	src := `
app shop {
	model Item {
		id auto @pk
		price decimal @default(0)
		status char @max_length(20) @default("'new'")
	}
}
`
	ps, err := loadString(t, src)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	item := ps.MustModel("shop", "item")
	price, _ := item.Field("price")
	if price.Default == nil || *price.Default != "0" {
		t.Errorf("price default = %v", price.Default)
	}
	status, _ := item.Field("status")
	if status.Default == nil || *status.Default != "'new'" {
		t.Errorf("status default = %v", status.Default)
	}
}

func TestUnknownFieldType(t *testing.T) {
	src := `
app blog {
	model Post {
		id auto @pk
		title varchar
	}
}
`
	_, err := loadString(t, src)
	if err == nil || !strings.Contains(err.Error(), `unknown field type "varchar"`) {
		t.Errorf("err = %v", err)
	}
}

func TestForeignKeyNeedsTarget(t *testing.T) {
	src := `
app blog {
	model Post {
		id auto @pk
		author fk
	}
}
`
	_, err := loadString(t, src)
	if err == nil || !strings.Contains(err.Error(), "needs a target") {
		t.Errorf("err = %v", err)
	}
}

func TestOnDeleteRequiresRelation(t *testing.T) {
	src := `
app blog {
	model Post {
		id auto @pk
		title char @on_delete(cascade)
	}
}
`
	_, err := loadString(t, src)
	if err == nil || !strings.Contains(err.Error(), "on_delete only applies") {
		t.Errorf("err = %v", err)
	}
}

func TestUniqueTogetherNeedsTwoFields(t *testing.T) {
	src := `
app blog {
	model Post {
		id auto @pk
		title char

		@@unique_together(title)
	}
}
`
	_, err := loadString(t, src)
	if err == nil || !strings.Contains(err.Error(), "at least two fields") {
		t.Errorf("err = %v", err)
	}
}

func TestDanglingRelationFailsValidation(t *testing.T) {
	src := `
app blog {
	model Post {
		id auto @pk
		author fk(accounts.User)
	}
}
`
	_, err := loadString(t, src)
	if err == nil {
		t.Error("expected validation error for unknown relation target")
	}
}

func TestParseErrorCarriesPosition(t *testing.T) {
	src := `
app blog {
	model Post {
		id auto @pk
	missing-brace
`
	_, err := loadString(t, src)
	if err == nil {
		t.Error("expected a parse error")
	}
}
