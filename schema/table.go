package schema

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/melkeydev/arrowdb/query"
)

var (
	ErrDuplicateColumn = errors.New("duplicate column")
	ErrUnknownTable    = errors.New("unknown table")
	ErrKeyCount        = errors.New("primary key value count mismatch")
)

// TableSchema is a registered table. Columns keep their declaration order.
type TableSchema struct {
	name    string
	columns []Column
	index   map[string]int
}

func (t *TableSchema) Name() string { return t.name }

// Columns returns the columns in declaration order.
func (t *TableSchema) Columns() []Column {
	out := make([]Column, len(t.columns))
	copy(out, t.columns)
	return out
}

func (t *TableSchema) Column(name string) (Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return Column{}, false
	}
	return t.columns[i], true
}

// PrimaryColumns returns the primary columns in declaration order.
func (t *TableSchema) PrimaryColumns() []Column {
	var out []Column
	for _, c := range t.columns {
		if c.primary {
			out = append(out, c)
		}
	}
	return out
}

func (t *TableSchema) PrimaryNames() []string {
	var out []string
	for _, c := range t.columns {
		if c.primary {
			out = append(out, c.name)
		}
	}
	return out
}

func (t *TableSchema) HasPrimaryKey() bool { return len(t.PrimaryNames()) > 0 }

// OrderedColumns returns primary columns first, then the rest in
// declaration order.
func (t *TableSchema) OrderedColumns() []Column {
	out := t.PrimaryColumns()
	for _, c := range t.columns {
		if !c.primary {
			out = append(out, c)
		}
	}
	return out
}

func (t *TableSchema) OrderedNames() []string {
	cols := t.OrderedColumns()
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.name
	}
	return names
}

// CanonicalName maps a driver-reported column name back to its declared
// casing. Unknown names are returned unchanged.
func (t *TableSchema) CanonicalName(name string) string {
	if _, ok := t.index[name]; ok {
		return name
	}
	for _, c := range t.columns {
		if strings.EqualFold(c.name, name) {
			return c.name
		}
	}
	return name
}

// CreateStatement builds the CREATE TABLE IF NOT EXISTS statement.
func (t *TableSchema) CreateStatement() query.CreateTable {
	defs := make([]query.ColumnDef, len(t.columns))
	for i, c := range t.columns {
		defs[i] = c.Definition()
	}
	return query.CreateTable{
		Table:       t.name,
		Columns:     defs,
		PrimaryKey:  t.PrimaryNames(),
		IfNotExists: true,
	}
}

// WhereFromPrimary matches each primary column against the value at the
// same position.
func (t *TableSchema) WhereFromPrimary(values ...any) (query.Condition, error) {
	names := t.PrimaryNames()
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %s", query.ErrNoPrimaryKey, t.name)
	}
	if len(values) != len(names) {
		return nil, fmt.Errorf("%w: %s has %d primary columns, got %d values", ErrKeyCount, t.name, len(names), len(values))
	}
	conds := make([]query.Condition, len(names))
	for i, n := range names {
		conds[i] = query.Eq(n, values[i])
	}
	return query.And(conds...), nil
}

// Builder collects one table declaration for Registry.Add.
type Builder struct {
	name    string
	columns []Column
}

// Table sets the table name.
func (b *Builder) Table(name string) *Builder {
	b.name = name
	return b
}

// Column declares a column; see NewColumn for the options.
func (b *Builder) Column(name, dataType string, opts ...ColumnOption) *Builder {
	b.columns = append(b.columns, NewColumn(name, dataType, opts...))
	return b
}

func (b *Builder) build() (*TableSchema, error) {
	if strings.TrimSpace(b.name) == "" {
		return nil, query.ErrEmptyTable
	}
	if len(b.columns) == 0 {
		return nil, fmt.Errorf("%w: %s", query.ErrNoColumns, b.name)
	}
	t := &TableSchema{name: b.name, index: make(map[string]int, len(b.columns))}
	for _, c := range b.columns {
		if _, dup := t.index[c.name]; dup {
			return nil, fmt.Errorf("%w: %s.%s", ErrDuplicateColumn, b.name, c.name)
		}
		t.index[c.name] = len(t.columns)
		t.columns = append(t.columns, c)
	}
	return t, nil
}

// Registry is the catalog of declared tables. Lookups are case-sensitive.
type Registry struct {
	mu     sync.RWMutex
	tables map[string]*TableSchema
	order  []string
}

func NewRegistry() *Registry {
	return &Registry{tables: make(map[string]*TableSchema)}
}

// Add builds a table from define and stores it, replacing any previous
// declaration with the same name.
func (r *Registry) Add(define func(*Builder)) (*TableSchema, error) {
	b := &Builder{}
	define(b)
	t, err := b.build()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tables[t.name]; !exists {
		r.order = append(r.order, t.name)
	}
	r.tables[t.name] = t
	return t, nil
}

func (r *Registry) Get(name string) (*TableSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tables[name]
	return t, ok
}

// Lookup returns the table or an ErrUnknownTable error.
func (r *Registry) Lookup(name string) (*TableSchema, error) {
	if t, ok := r.Get(name); ok {
		return t, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
}

// Tables returns the registered tables in registration order.
func (r *Registry) Tables() []*TableSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*TableSchema, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tables[name])
	}
	return out
}
