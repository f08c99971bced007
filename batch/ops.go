package batch

import (
	"context"

	"github.com/melkeydev/arrowdb/query"
	"github.com/melkeydev/arrowdb/schema"
)

// WhereFunc builds the condition locating a row from its primary key values.
type WhereFunc func(pk ...any) (query.Condition, error)

// Entry is one record to save: its primary key values, in primary column
// order, and the remaining column values by name.
type Entry struct {
	Key  []any
	Data map[string]any
}

type SaveOptions struct {
	// Update writes existing rows with UPDATE instead of replacing them.
	Update bool
	// Columns limits an update of an existing row to these columns.
	// Setting it implies Update.
	Columns []string
	Where   WhereFunc
}

func whereFor(t *schema.TableSchema, fn WhereFunc) WhereFunc {
	if fn != nil {
		return fn
	}
	return t.WhereFromPrimary
}

// SaveAll writes every entry. Entries whose row exists are updated when
// opts asks for it; all others are replaced.
func (e *Executor) SaveAll(ctx context.Context, t *schema.TableSchema, entries []Entry, opts SaveOptions) Result {
	where := whereFor(t, opts.Where)
	update := opts.Update || len(opts.Columns) > 0
	filter := make(map[string]bool, len(opts.Columns))
	for _, c := range opts.Columns {
		filter[c] = true
	}

	var (
		cmds    []query.Command
		invalid int
	)
	for _, entry := range entries {
		cond, err := where(entry.Key...)
		if err != nil {
			e.log.Warn("failed to build where clause", "table", t.Name(), "error", err)
			invalid++
			continue
		}

		var stmt query.Statement
		if update && e.exists(ctx, t.Name(), cond) {
			stmt = e.updateStatement(t, entry, cond, filter)
			if stmt == nil {
				continue
			}
		} else {
			stmt = e.replaceStatement(t, entry)
		}

		cmd, err := e.renderer.Render(stmt)
		if err != nil {
			e.log.Warn("failed to build save statement", "table", t.Name(), "error", err)
			invalid++
			continue
		}
		cmds = append(cmds, cmd)
	}

	res := e.Execute(ctx, cmds...)
	res.Failed += invalid
	return res
}

func (e *Executor) Save(ctx context.Context, t *schema.TableSchema, entry Entry, opts SaveOptions) bool {
	return e.SaveAll(ctx, t, []Entry{entry}, opts).OK()
}

func (e *Executor) replaceStatement(t *schema.TableSchema, entry Entry) query.InsertInto {
	pk := t.PrimaryNames()
	values := make(map[string]any, len(entry.Data)+len(pk))
	for k, v := range entry.Data {
		values[k] = v
	}
	for i, name := range pk {
		if i < len(entry.Key) {
			values[name] = entry.Key[i]
		}
	}

	ins := query.InsertInto{Mode: query.Replace, Table: t.Name(), Key: pk}
	for _, name := range t.OrderedNames() {
		if v, ok := values[name]; ok {
			ins.Columns = append(ins.Columns, name)
			ins.Values = append(ins.Values, v)
			delete(values, name)
		}
	}
	for name := range values {
		e.log.Warn("ignoring undeclared column", "table", t.Name(), "column", name)
	}
	return ins
}

func (e *Executor) updateStatement(t *schema.TableSchema, entry Entry, cond query.Condition, filter map[string]bool) query.Statement {
	upd := query.Update{Table: t.Name(), Where: cond}
	for _, c := range t.Columns() {
		if c.Primary() {
			continue
		}
		if len(filter) > 0 && !filter[c.Name()] {
			continue
		}
		if v, ok := entry.Data[c.Name()]; ok {
			upd.Set = append(upd.Set, query.Assignment{Column: c.Name(), Value: v})
		}
	}
	if len(upd.Set) == 0 {
		return nil
	}
	return upd
}

func (e *Executor) exists(ctx context.Context, table string, cond query.Condition) bool {
	cmd, err := e.renderer.Render(query.Select{Table: table, Where: cond, Limit: 1})
	if err != nil {
		e.log.Warn("failed to build exists query", "table", table, "error", err)
		return false
	}
	return len(e.Query(ctx, cmd)) > 0
}

// RemoveAll deletes the rows matching each primary key.
func (e *Executor) RemoveAll(ctx context.Context, t *schema.TableSchema, keys [][]any, fn WhereFunc) Result {
	where := whereFor(t, fn)
	var (
		cmds    []query.Command
		invalid int
	)
	for _, key := range keys {
		cond, err := where(key...)
		if err == nil {
			var cmd query.Command
			cmd, err = e.renderer.Render(query.Delete{Table: t.Name(), Where: cond})
			if err == nil {
				cmds = append(cmds, cmd)
				continue
			}
		}
		e.log.Warn("failed to build delete statement", "table", t.Name(), "error", err)
		invalid++
	}
	res := e.Execute(ctx, cmds...)
	res.Failed += invalid
	return res
}

func (e *Executor) Remove(ctx context.Context, t *schema.TableSchema, key []any, fn WhereFunc) bool {
	return e.RemoveAll(ctx, t, [][]any{key}, fn).OK()
}

func (e *Executor) DropTable(ctx context.Context, table string) bool {
	cmd, err := e.renderer.Render(query.DropTable{Table: table, IfExists: true})
	if err != nil {
		e.log.Warn("failed to build drop statement", "table", table, "error", err)
		return false
	}
	return e.Execute(ctx, cmd).OK()
}

// RowExists reports whether a row with the given primary key exists.
func (e *Executor) RowExists(ctx context.Context, t *schema.TableSchema, key []any, fn WhereFunc) bool {
	cond, err := whereFor(t, fn)(key...)
	if err != nil {
		e.log.Warn("failed to build where clause", "table", t.Name(), "error", err)
		return false
	}
	return e.exists(ctx, t.Name(), cond)
}

// RunSQLCommand executes caller-composed commands.
func (e *Executor) RunSQLCommand(ctx context.Context, cmds ...query.Command) bool {
	return e.Execute(ctx, cmds...).OK()
}

// Find selects the rows of t matching where, with column names mapped back
// to their declared casing. A nil where selects every row.
func (e *Executor) Find(ctx context.Context, t *schema.TableSchema, where query.Condition) []map[string]any {
	cmd, err := e.renderer.Render(query.Select{Table: t.Name(), Where: where})
	if err != nil {
		e.log.Warn("failed to build select", "table", t.Name(), "error", err)
		return nil
	}
	rows := e.Query(ctx, cmd)
	for i, row := range rows {
		fixed := make(map[string]any, len(row))
		for k, v := range row {
			fixed[t.CanonicalName(k)] = v
		}
		rows[i] = fixed
	}
	return rows
}
