// Package schema holds the caller-declared model of each table: its ordered
// columns and the subset that forms the primary key.
package schema

import "github.com/melkeydev/arrowdb/query"

// Column is an immutable column declaration. Build one with NewColumn.
type Column struct {
	name          string
	dataType      string
	nullable      bool
	defaultValue  *string
	primary       bool
	autoIncrement bool
}

type ColumnOption func(*Column)

// Primary marks the column as part of the primary key.
func Primary() ColumnOption { return func(c *Column) { c.primary = true } }

func NotNull() ColumnOption { return func(c *Column) { c.nullable = false } }

func Default(value string) ColumnOption {
	return func(c *Column) { c.defaultValue = &value }
}

func AutoIncrement() ColumnOption { return func(c *Column) { c.autoIncrement = true } }

// NewColumn declares a nullable column of the given SQL type.
func NewColumn(name, dataType string, opts ...ColumnOption) Column {
	c := Column{name: name, dataType: dataType, nullable: true}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c Column) Name() string        { return c.name }
func (c Column) Type() string        { return c.dataType }
func (c Column) Nullable() bool      { return c.nullable }
func (c Column) Primary() bool       { return c.primary }
func (c Column) AutoIncrement() bool { return c.autoIncrement }

// Default returns the declared default and whether one was set.
func (c Column) Default() (string, bool) {
	if c.defaultValue == nil {
		return "", false
	}
	return *c.defaultValue, true
}

// Definition converts the column to its DDL form.
func (c Column) Definition() query.ColumnDef {
	def := query.ColumnDef{
		Name:          c.name,
		Type:          c.dataType,
		NotNull:       !c.nullable,
		AutoIncrement: c.autoIncrement,
	}
	if c.defaultValue != nil {
		v := *c.defaultValue
		def.Default = &v
	}
	return def
}
