package batch

import (
	"context"

	"github.com/spf13/cast"

	"github.com/melkeydev/arrowdb/dialect"
	"github.com/melkeydev/arrowdb/query"
)

var primaryKeyQueries = map[dialect.Dialect]string{
	dialect.SQLite: `
		SELECT name AS column_name
		FROM pragma_table_info(?)
		WHERE pk > 0
		ORDER BY pk`,
	dialect.MySQL: `
		SELECT column_name AS column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = DATABASE()
		AND table_name = ?
		AND constraint_name = 'PRIMARY'
		ORDER BY ordinal_position`,
	dialect.PostgreSQL: `
		SELECT kcu.column_name AS column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
			AND tc.table_name = kcu.table_name
		WHERE tc.constraint_type = 'PRIMARY KEY'
		AND tc.table_schema = current_schema()
		AND tc.table_name = $1
		ORDER BY kcu.ordinal_position`,
}

var uniqueKeyQueries = map[dialect.Dialect]string{
	dialect.SQLite: `
		SELECT il.name AS index_name, ii.name AS column_name
		FROM pragma_index_list(?) AS il
		JOIN pragma_index_info(il.name) AS ii
		WHERE il."unique" = 1 AND il.origin != 'pk'
		ORDER BY il.name, ii.seqno`,
	dialect.MySQL: `
		SELECT index_name AS index_name, column_name AS column_name
		FROM information_schema.statistics
		WHERE table_schema = DATABASE()
		AND table_name = ?
		AND non_unique = 0
		AND index_name != 'PRIMARY'
		ORDER BY index_name, seq_in_index`,
	dialect.PostgreSQL: `
		SELECT i.relname AS index_name, a.attname AS column_name
		FROM pg_class t
		JOIN pg_index ix ON t.oid = ix.indrelid
		JOIN pg_class i ON i.oid = ix.indexrelid
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
		WHERE t.relname = $1
		AND t.relnamespace = current_schema()::regnamespace
		AND ix.indisunique
		AND NOT ix.indisprimary
		ORDER BY i.relname, array_position(ix.indkey::int2[], a.attnum)`,
}

func (e *Executor) keyRows(ctx context.Context, queries map[dialect.Dialect]string, table string) ([]map[string]any, bool) {
	text, ok := queries[e.renderer.Dialect]
	if !ok {
		return nil, false
	}
	rows := e.Query(ctx, query.Command{SQL: text, Values: map[int]any{1: table}, Safe: true})
	return rows, rows != nil
}

// PrimaryKey returns the live primary key columns of table in key order.
// ok is false when the dialect has no catalog query or the query failed.
func (e *Executor) PrimaryKey(ctx context.Context, table string) (columns []string, ok bool) {
	rows, ok := e.keyRows(ctx, primaryKeyQueries, table)
	if !ok {
		return nil, false
	}
	columns = make([]string, 0, len(rows))
	for _, row := range rows {
		columns = append(columns, cast.ToString(row["column_name"]))
	}
	return columns, true
}

// UniqueKeys returns the column lists of the live UNIQUE indexes and
// constraints of table, primary key excluded.
func (e *Executor) UniqueKeys(ctx context.Context, table string) ([][]string, bool) {
	rows, ok := e.keyRows(ctx, uniqueKeyQueries, table)
	if !ok {
		return nil, false
	}
	var (
		keys  [][]string
		index = make(map[string]int)
	)
	for _, row := range rows {
		name := cast.ToString(row["index_name"])
		i, seen := index[name]
		if !seen {
			i = len(keys)
			index[name] = i
			keys = append(keys, nil)
		}
		keys[i] = append(keys[i], cast.ToString(row["column_name"]))
	}
	return keys, true
}
