package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/melkeydev/arrowdb/dialect"
)

var (
	ErrNoPrimaryKey  = errors.New("table has no primary key column")
	ErrMissingWhere  = errors.New("refusing to build statement without a where clause")
	ErrEmptyTable    = errors.New("table name must not be empty")
	ErrNoColumns     = errors.New("at least one column is required")
	ErrValueCount    = errors.New("column and value counts differ")
	ErrMissingKey    = errors.New("replace needs the key columns")
	ErrUnsupported   = errors.New("statement not supported by dialect")
	ErrUnknownClause = errors.New("unknown statement")
)

// Command is a rendered statement ready for execution. Safe commands use
// '?' placeholders, or $1, $2, ... on PostgreSQL.
type Command struct {
	SQL    string
	Values map[int]any
	Safe   bool
}

// Args returns the bound values ordered by placeholder position.
func (c Command) Args() []any {
	args := make([]any, len(c.Values))
	for pos, v := range c.Values {
		if pos >= 1 && pos <= len(args) {
			args[pos-1] = v
		}
	}
	return args
}

func (c Command) String() string { return c.SQL }

// Renderer turns statements into commands for one dialect.
type Renderer struct {
	Dialect dialect.Dialect
	// Quote wraps every identifier. Blank means identifiers are left bare.
	Quote string
	// Charset is appended to CREATE TABLE when the dialect supports it.
	Charset string
	Safe    bool
}

// NewRenderer returns a renderer using the dialect's default quote and charset.
func NewRenderer(d dialect.Dialect, safe bool) Renderer {
	return Renderer{
		Dialect: d,
		Quote:   d.DefaultQuote(),
		Charset: d.DefaultCharset(),
		Safe:    safe,
	}
}

// QuoteIdent quotes a single identifier the way rendered statements do.
func (r Renderer) QuoteIdent(name string) string {
	q := strings.TrimSpace(r.Quote)
	if q == "" {
		return name
	}
	return q + strings.ReplaceAll(name, q, q+q) + q
}

func (r Renderer) Render(s Statement) (Command, error) {
	b := &builder{r: r, values: make(map[int]any)}
	var err error
	switch st := s.(type) {
	case CreateTable:
		err = b.createTable(st)
	case InsertInto:
		err = b.insert(st)
	case Update:
		err = b.update(st)
	case Select:
		err = b.selectRows(st)
	case Delete:
		err = b.delete(st)
	case DropTable:
		err = b.dropTable(st)
	case InsertSelect:
		err = b.insertSelect(st)
	case AlterTable:
		err = b.alterTable(st)
	default:
		err = fmt.Errorf("%w: %T", ErrUnknownClause, s)
	}
	if err != nil {
		return Command{}, err
	}
	return Command{SQL: b.sb.String(), Values: b.values, Safe: r.Safe}, nil
}

// MustRender panics on error; meant for statements built from constants.
func (r Renderer) MustRender(s Statement) Command {
	cmd, err := r.Render(s)
	if err != nil {
		panic(err)
	}
	return cmd
}

type builder struct {
	r      Renderer
	sb     strings.Builder
	values map[int]any
}

func (b *builder) write(s string) { b.sb.WriteString(s) }

func (b *builder) ident(name string) { b.sb.WriteString(b.r.QuoteIdent(name)) }

func (b *builder) idents(names []string) {
	for i, n := range names {
		if i > 0 {
			b.write(", ")
		}
		b.ident(n)
	}
}

func (b *builder) value(v any) {
	if !b.r.Safe {
		b.write(Literal(v))
		return
	}
	pos := len(b.values) + 1
	b.values[pos] = v
	if b.r.Dialect.BindType() == sqlx.DOLLAR {
		b.write("$" + strconv.Itoa(pos))
		return
	}
	b.write("?")
}

func (b *builder) columnDef(c ColumnDef) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: column with empty name", ErrNoColumns)
	}
	b.ident(c.Name)
	if typ := strings.TrimSpace(c.Type); typ != "" {
		b.write(" " + typ)
	}
	if c.NotNull {
		b.write(" NOT NULL")
	}
	if c.Default != nil {
		b.write(" DEFAULT " + quoteString(*c.Default))
	}
	if c.AutoIncrement {
		switch b.r.Dialect {
		case dialect.MySQL, dialect.H2:
			b.write(" AUTO_INCREMENT")
		case dialect.PostgreSQL:
			b.write(" GENERATED BY DEFAULT AS IDENTITY")
		}
	}
	return nil
}

func (b *builder) createTable(s CreateTable) error {
	if strings.TrimSpace(s.Table) == "" {
		return ErrEmptyTable
	}
	if len(s.Columns) == 0 {
		return ErrNoColumns
	}
	if len(s.PrimaryKey) == 0 {
		return fmt.Errorf("%w: %s", ErrNoPrimaryKey, s.Table)
	}

	b.write("CREATE TABLE ")
	if s.IfNotExists {
		b.write("IF NOT EXISTS ")
	}
	b.ident(s.Table)
	b.write(" (")
	for i, c := range primaryFirst(s.Columns, s.PrimaryKey) {
		if i > 0 {
			b.write(", ")
		}
		if err := b.columnDef(c); err != nil {
			return err
		}
	}
	b.write(", PRIMARY KEY (")
	b.idents(s.PrimaryKey)
	b.write(")")
	if len(s.Unique) > 0 {
		b.write(", ")
		if s.UniqueName != "" {
			b.write("CONSTRAINT ")
			b.ident(s.UniqueName)
			b.write(" ")
		}
		b.write("UNIQUE (")
		b.idents(s.Unique)
		b.write(")")
	}
	b.write(")")
	if b.r.Dialect.SupportsCharset() && strings.TrimSpace(b.r.Charset) != "" {
		b.write(" " + strings.TrimSpace(b.r.Charset))
	}
	return nil
}

// primaryFirst keeps insertion order but moves primary columns to the front.
func primaryFirst(cols []ColumnDef, primary []string) []ColumnDef {
	isPrimary := make(map[string]bool, len(primary))
	for _, p := range primary {
		isPrimary[p] = true
	}
	out := make([]ColumnDef, 0, len(cols))
	for _, c := range cols {
		if isPrimary[c.Name] {
			out = append(out, c)
		}
	}
	for _, c := range cols {
		if !isPrimary[c.Name] {
			out = append(out, c)
		}
	}
	return out
}

func (b *builder) insert(s InsertInto) error {
	if strings.TrimSpace(s.Table) == "" {
		return ErrEmptyTable
	}
	if len(s.Columns) == 0 {
		return ErrNoColumns
	}
	if len(s.Columns) != len(s.Values) {
		return fmt.Errorf("%w: %d columns, %d values", ErrValueCount, len(s.Columns), len(s.Values))
	}

	mode := s.Mode
	if mode == Merge && b.r.Dialect != dialect.H2 {
		mode = Replace
	}
	if mode != Insert && len(s.Key) == 0 && (b.r.Dialect == dialect.PostgreSQL || b.r.Dialect == dialect.H2) {
		return fmt.Errorf("%w: %s", ErrMissingKey, s.Table)
	}

	switch {
	case mode == Insert:
		b.write("INSERT INTO ")
	case b.r.Dialect == dialect.H2:
		b.write("MERGE INTO ")
	case b.r.Dialect == dialect.PostgreSQL:
		b.write("INSERT INTO ")
	default:
		b.write("REPLACE INTO ")
	}
	b.ident(s.Table)
	b.write(" (")
	b.idents(s.Columns)
	b.write(")")
	if mode != Insert && b.r.Dialect == dialect.H2 {
		b.write(" KEY (")
		b.idents(s.Key)
		b.write(")")
	}
	b.write(" VALUES (")
	for i, v := range s.Values {
		if i > 0 {
			b.write(", ")
		}
		b.value(v)
	}
	b.write(")")

	if mode != Insert && b.r.Dialect == dialect.PostgreSQL {
		b.write(" ON CONFLICT (")
		b.idents(s.Key)
		b.write(")")
		isKey := make(map[string]bool, len(s.Key))
		for _, k := range s.Key {
			isKey[k] = true
		}
		var rest []string
		for _, c := range s.Columns {
			if !isKey[c] {
				rest = append(rest, c)
			}
		}
		if len(rest) == 0 {
			b.write(" DO NOTHING")
			return nil
		}
		b.write(" DO UPDATE SET ")
		for i, c := range rest {
			if i > 0 {
				b.write(", ")
			}
			b.ident(c)
			b.write(" = EXCLUDED.")
			b.ident(c)
		}
	}
	return nil
}

func (b *builder) update(s Update) error {
	if strings.TrimSpace(s.Table) == "" {
		return ErrEmptyTable
	}
	if s.Where == nil {
		return fmt.Errorf("%w: update %s", ErrMissingWhere, s.Table)
	}
	if len(s.Set) == 0 {
		return ErrNoColumns
	}
	b.write("UPDATE ")
	b.ident(s.Table)
	b.write(" SET ")
	for i, a := range s.Set {
		if i > 0 {
			b.write(", ")
		}
		b.ident(a.Column)
		b.write(" = ")
		b.value(a.Value)
	}
	b.where(s.Where)
	return nil
}

func (b *builder) where(c Condition) {
	if c == nil {
		return
	}
	b.write(" WHERE ")
	c.render(b, false)
}

func (b *builder) selectRows(s Select) error {
	if strings.TrimSpace(s.Table) == "" {
		return ErrEmptyTable
	}
	b.write("SELECT ")
	if len(s.Columns) == 0 {
		b.write("*")
	} else {
		b.idents(s.Columns)
	}
	b.write(" FROM ")
	b.ident(s.Table)
	b.where(s.Where)
	if len(s.OrderBy) > 0 {
		b.write(" ORDER BY ")
		b.idents(s.OrderBy)
	}
	switch {
	case s.NoRows:
		b.write(" LIMIT 0")
	case s.Limit > 0:
		b.write(" LIMIT " + strconv.Itoa(s.Limit))
	}
	return nil
}

func (b *builder) delete(s Delete) error {
	if strings.TrimSpace(s.Table) == "" {
		return ErrEmptyTable
	}
	if s.Where == nil {
		return fmt.Errorf("%w: delete from %s", ErrMissingWhere, s.Table)
	}
	b.write("DELETE FROM ")
	b.ident(s.Table)
	b.where(s.Where)
	return nil
}

func (b *builder) dropTable(s DropTable) error {
	if strings.TrimSpace(s.Table) == "" {
		return ErrEmptyTable
	}
	b.write("DROP TABLE ")
	if s.IfExists {
		b.write("IF EXISTS ")
	}
	b.ident(s.Table)
	return nil
}

func (b *builder) insertSelect(s InsertSelect) error {
	if strings.TrimSpace(s.Table) == "" || strings.TrimSpace(s.From) == "" {
		return ErrEmptyTable
	}
	if len(s.Columns) == 0 {
		return ErrNoColumns
	}
	b.write("INSERT INTO ")
	b.ident(s.Table)
	b.write(" (")
	b.idents(s.Columns)
	b.write(") SELECT ")
	b.idents(s.Columns)
	b.write(" FROM ")
	b.ident(s.From)
	return nil
}

func (b *builder) alterTable(s AlterTable) error {
	if strings.TrimSpace(s.Table) == "" {
		return ErrEmptyTable
	}
	if len(s.Actions) == 0 {
		return fmt.Errorf("%w: alter %s without actions", ErrNoColumns, s.Table)
	}
	if b.r.Dialect == dialect.SQLite && len(s.Actions) > 1 {
		return fmt.Errorf("%w: sqlite takes one alter action per statement", ErrUnsupported)
	}
	b.write("ALTER TABLE ")
	b.ident(s.Table)
	b.write(" ")
	for i, a := range s.Actions {
		if i > 0 {
			b.write(", ")
		}
		if err := b.alterAction(s.Table, a); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) alterAction(table string, a AlterAction) error {
	d := b.r.Dialect
	switch act := a.(type) {
	case AddColumns:
		if len(act.Columns) == 0 {
			return ErrNoColumns
		}
		if d == dialect.SQLite && len(act.Columns) > 1 {
			return fmt.Errorf("%w: sqlite adds one column per statement", ErrUnsupported)
		}
		if d == dialect.H2 && len(act.Columns) > 1 {
			b.write("ADD (")
			for i, c := range act.Columns {
				if i > 0 {
					b.write(", ")
				}
				if err := b.columnDef(c); err != nil {
					return err
				}
			}
			b.write(")")
			return nil
		}
		for i, c := range act.Columns {
			if i > 0 {
				b.write(", ")
			}
			b.write("ADD COLUMN ")
			if err := b.columnDef(c); err != nil {
				return err
			}
		}
	case DropPrimaryKey:
		switch d {
		case dialect.SQLite:
			return fmt.Errorf("%w: drop primary key on %s", ErrUnsupported, d)
		case dialect.PostgreSQL:
			name := act.Name
			if name == "" {
				name = table + "_pkey"
			}
			b.write("DROP CONSTRAINT IF EXISTS ")
			b.ident(name)
		default:
			b.write("DROP PRIMARY KEY")
		}
	case AddPrimaryKey:
		if d == dialect.SQLite {
			return fmt.Errorf("%w: add primary key on %s", ErrUnsupported, d)
		}
		if len(act.Columns) == 0 {
			return fmt.Errorf("%w: %s", ErrNoPrimaryKey, table)
		}
		b.write("ADD PRIMARY KEY (")
		b.idents(act.Columns)
		b.write(")")
	case AddUnique:
		if d == dialect.SQLite {
			return fmt.Errorf("%w: add unique on %s", ErrUnsupported, d)
		}
		if len(act.Columns) == 0 {
			return ErrNoColumns
		}
		b.write("ADD ")
		if act.Name != "" {
			b.write("CONSTRAINT ")
			b.ident(act.Name)
			b.write(" ")
		}
		b.write("UNIQUE (")
		b.idents(act.Columns)
		b.write(")")
	case RenameTo:
		if strings.TrimSpace(act.Name) == "" {
			return ErrEmptyTable
		}
		b.write("RENAME TO ")
		b.ident(act.Name)
	default:
		return fmt.Errorf("%w: alter action %T", ErrUnknownClause, a)
	}
	return nil
}
