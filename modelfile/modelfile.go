// Package modelfile parses the declarative model-definition language into a
// project state. A model file holds app blocks, each with models, fields,
// field attributes and block-level options:
//
//	app blog {
//	  model Post {
//	    id      auto     @pk
//	    title   char     @max_length(200)
//	    author  fk(accounts.User) @on_delete(cascade)
//	    created datetime @default("now()")
//
//	    @@index(title)
//	    @@unique_together(title, author)
//	    @@ordering("-created")
//	  }
//	}
package modelfile

import (
	"io"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var modelLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "BlockAttr", Pattern: `@@`},
	{Name: "FieldAttr", Pattern: `@`},

	{Name: "LBrace", Pattern: `\{`},
	{Name: "RBrace", Pattern: `\}`},
	{Name: "LParen", Pattern: `\(`},
	{Name: "RParen", Pattern: `\)`},
	{Name: "Comma", Pattern: `,`},
	{Name: "Dot", Pattern: `\.`},

	{Name: "String", Pattern: `"(?:\\.|[^"\\])*"`},
	{Name: "Number", Pattern: `-?\d+(?:\.\d+)?`},
	{Name: "Ident", Pattern: `[\p{L}_][\p{L}\p{N}_]*`},

	{Name: "Comment", Pattern: `//[^\n]*`},
	{Name: "Newline", Pattern: `[\r\n]+`},
	{Name: "Whitespace", Pattern: `[ \t]+`},
})

// File is the raw parse tree of one model file.
type File struct {
	Pos  lexer.Position
	Apps []*AppBlock `parser:"@@*"`
}

// AppBlock groups models under an app label.
type AppBlock struct {
	Pos    lexer.Position
	Name   string        `parser:"\"app\" @Ident \"{\""`
	Models []*ModelBlock `parser:"@@* \"}\""`
}

// ModelBlock is one model declaration.
type ModelBlock struct {
	Pos   lexer.Position
	Name  string  `parser:"\"model\" @Ident \"{\""`
	Lines []*Line `parser:"@@* \"}\""`
}

// Line is either a field declaration or a block attribute.
type Line struct {
	Attr  *BlockAttribute `parser:"  BlockAttr @@"`
	Field *FieldDecl      `parser:"| @@"`
}

// FieldDecl is one field: name, type, optional relation target, attributes.
type FieldDecl struct {
	Pos   lexer.Position
	Name  string            `parser:"@Ident"`
	Type  string            `parser:"@Ident"`
	Rel   *RelTarget        `parser:"(\"(\" @@ \")\")?"`
	Attrs []*FieldAttribute `parser:"@@*"`
}

// RelTarget is the "app.Model" a relation points at.
type RelTarget struct {
	App   string `parser:"@Ident"`
	Model string `parser:"\".\" @Ident"`
}

func (r *RelTarget) String() string {
	return r.App + "." + r.Model
}

// FieldAttribute is an @attr, optionally with arguments.
type FieldAttribute struct {
	Pos  lexer.Position
	Name string `parser:"FieldAttr @Ident"`
	Args []*Arg `parser:"(\"(\" (@@ (\",\" @@)*)? \")\")?"`
}

// BlockAttribute is an @@attr applying to the whole model.
type BlockAttribute struct {
	Pos  lexer.Position
	Name string `parser:"@Ident"`
	Args []*Arg `parser:"(\"(\" (@@ (\",\" @@)*)? \")\")?"`
}

// Arg is a string, number or bare identifier argument.
type Arg struct {
	Str   *string  `parser:"  @String"`
	Num   *float64 `parser:"| @Number"`
	Ident *string  `parser:"| @Ident"`
}

var parser = participle.MustBuild[File](
	participle.Lexer(modelLexer),
	participle.Elide("Whitespace", "Newline", "Comment"),
	participle.Unquote("String"),
	participle.UseLookahead(2),
)

// Parse reads a model file.
func Parse(filename string, r io.Reader) (*File, error) {
	return parser.Parse(filename, r)
}

// ParseString parses a model file held in a string.
func ParseString(filename, input string) (*File, error) {
	return Parse(filename, strings.NewReader(input))
}
