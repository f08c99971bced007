package database

import (
	"context"

	"github.com/melkeydev/arrowdb/migrate"
	"github.com/melkeydev/arrowdb/query"
)

// Record is a storable value. Serialize returns its columns by name,
// including the primary key columns.
type Record interface {
	Serialize() map[string]any
}

// Deserializer rebuilds a value from a loaded row.
type Deserializer interface {
	Deserialize(row map[string]any) error
}

// Loaded is one decoded row together with the primary key values it was
// stored under.
type Loaded[T any] struct {
	Keys  map[string]any
	Value T
}

func decode[T any, P interface {
	*T
	Deserializer
}](row map[string]any, primary []string) (Loaded[T], error) {
	var v T
	if err := P(&v).Deserialize(row); err != nil {
		return Loaded[T]{}, err
	}
	keys := make(map[string]any, len(primary))
	for _, k := range primary {
		keys[k] = row[k]
	}
	return Loaded[T]{Keys: keys, Value: v}, nil
}

// Load reads the row with the given primary key. It returns nil when no row
// matches or the query fails.
func Load[T any, P interface {
	*T
	Deserializer
}](ctx context.Context, d *Database, table string, key ...any) (*Loaded[T], error) {
	t, err := d.table(table)
	if err != nil {
		return nil, err
	}
	where, err := t.WhereFromPrimary(key...)
	if err != nil {
		return nil, err
	}
	rows, err := d.find(ctx, t, where)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	l, err := decode[T, P](rows[0], t.PrimaryNames())
	if err != nil {
		d.log.Warn("failed to decode row", "table", table, "error", err)
		return nil, nil
	}
	return &l, nil
}

// LoadAll reads every row matching where, or the whole table when where is
// nil. Rows that fail to decode are logged and skipped.
func LoadAll[T any, P interface {
	*T
	Deserializer
}](ctx context.Context, d *Database, table string, where query.Condition) ([]Loaded[T], error) {
	t, err := d.table(table)
	if err != nil {
		return nil, err
	}
	rows, err := d.find(ctx, t, where)
	if err != nil || rows == nil {
		return nil, err
	}
	out := make([]Loaded[T], 0, len(rows))
	for _, row := range rows {
		l, err := decode[T, P](row, t.PrimaryNames())
		if err != nil {
			d.log.Warn("failed to decode row", "table", table, "error", err)
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

// ForEachLoaded registers fn on w so that every existing row is decoded into
// a T before fn picks its new primary key values. Keys holds the row's
// current values of the target primary columns.
func ForEachLoaded[T any, P interface {
	*T
	Deserializer
}](d *Database, w *migrate.ConstraintWrapper, fn func(Loaded[T]) *migrate.Candidate) {
	primary := w.PrimaryColumns()
	w.ForEachRow(func(row map[string]any) *migrate.Candidate {
		l, err := decode[T, P](row, primary)
		if err != nil {
			d.log.Warn("failed to decode row for migration", "table", w.Table(), "error", err)
			return nil
		}
		return fn(l)
	})
}
