// Package query composes SQL commands from a small typed AST.
//
// Statements are plain structs; a Renderer turns any of them into a Command
// for one dialect. In safe mode every value becomes a '?' placeholder and is
// recorded in Command.Values at its 1-based position. In unsafe mode values
// are inlined as quoted literals.
package query

// Statement is implemented by every renderable command.
type Statement interface {
	statement()
}

// ColumnDef describes a column inside CREATE TABLE or ALTER TABLE ... ADD.
type ColumnDef struct {
	Name          string
	Type          string
	NotNull       bool
	Default       *string
	AutoIncrement bool
}

type CreateTable struct {
	Table       string
	Columns     []ColumnDef
	PrimaryKey  []string
	Unique      []string
	UniqueName  string
	IfNotExists bool
}

type InsertMode int

const (
	// Insert is a plain INSERT INTO.
	Insert InsertMode = iota
	// Replace overwrites an existing row with the same key. Rendered as
	// REPLACE INTO, INSERT ... ON CONFLICT or MERGE depending on dialect.
	Replace
	// Merge is H2's MERGE INTO ... KEY. Other dialects render it as Replace.
	Merge
)

type InsertInto struct {
	Mode    InsertMode
	Table   string
	Columns []string
	Values  []any
	// Key names the conflict columns for Replace and Merge.
	Key []string
}

type Assignment struct {
	Column string
	Value  any
}

type Update struct {
	Table string
	Set   []Assignment
	Where Condition
}

type Select struct {
	Table   string
	Columns []string
	Where   Condition
	OrderBy []string
	Limit   int
	// NoRows renders LIMIT 0, used to read a table's column metadata.
	NoRows bool
}

type Delete struct {
	Table string
	Where Condition
}

type DropTable struct {
	Table    string
	IfExists bool
}

// InsertSelect copies rows between two tables with the same column names.
type InsertSelect struct {
	Table   string
	Columns []string
	From    string
}

type AlterTable struct {
	Table   string
	Actions []AlterAction
}

// AlterAction is one clause of an ALTER TABLE statement.
type AlterAction interface {
	alterAction()
}

type AddColumns struct {
	Columns []ColumnDef
}

// DropPrimaryKey drops the table's primary key. Name is only used by
// PostgreSQL, where it defaults to <table>_pkey.
type DropPrimaryKey struct {
	Name string
}

type AddPrimaryKey struct {
	Columns []string
}

type AddUnique struct {
	Name    string
	Columns []string
}

type RenameTo struct {
	Name string
}

func (CreateTable) statement()  {}
func (InsertInto) statement()   {}
func (Update) statement()       {}
func (Select) statement()       {}
func (Delete) statement()       {}
func (DropTable) statement()    {}
func (InsertSelect) statement() {}
func (AlterTable) statement()   {}

func (AddColumns) alterAction()     {}
func (DropPrimaryKey) alterAction() {}
func (AddPrimaryKey) alterAction()  {}
func (AddUnique) alterAction()      {}
func (RenameTo) alterAction()       {}
