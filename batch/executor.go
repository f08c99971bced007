// Package batch executes composed commands against a single connection.
//
// Commands sharing the same SQL text and bind count form a group. Each group
// runs inside its own transaction through one prepared statement, so a
// failing group is rolled back without affecting the others. SQL-level
// failures are logged with the offending statement and reported through
// Result, never returned as errors.
package batch

import (
	"context"
	"database/sql"
	"log/slog"
	"strconv"

	"github.com/jmoiron/sqlx"

	"github.com/melkeydev/arrowdb/dialect"
	"github.com/melkeydev/arrowdb/query"
)

// LargeBatch is the size above which Execute warns that the run will take a while.
const LargeBatch = 10000

// Conn is the part of *sqlx.Conn (and *sqlx.DB) the executor needs.
type Conn interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
	QueryxContext(ctx context.Context, query string, args ...any) (*sqlx.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Mode int

const (
	// Safe binds every value through a '?' placeholder.
	Safe Mode = iota
	// Unsafe executes statements whose values were inlined as literals.
	Unsafe
)

func (m Mode) String() string {
	if m == Unsafe {
		return "unsafe"
	}
	return "safe"
}

// Result summarises one Execute call.
type Result struct {
	Groups     int
	Statements int
	Rows       int64
	Failed     int
}

func (r Result) OK() bool { return r.Failed == 0 }

func (r *Result) add(o Result) {
	r.Groups += o.Groups
	r.Statements += o.Statements
	r.Rows += o.Rows
	r.Failed += o.Failed
}

type Executor struct {
	conn     Conn
	renderer query.Renderer
	log      *slog.Logger
}

// New returns an executor over conn. The renderer decides the mode: a safe
// renderer produces bound commands, an unsafe one inlined commands.
func New(conn Conn, r query.Renderer, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{conn: conn, renderer: r, log: log}
}

func (e *Executor) Mode() Mode {
	if e.renderer.Safe {
		return Safe
	}
	return Unsafe
}

func (e *Executor) Renderer() query.Renderer { return e.renderer }

func (e *Executor) Dialect() dialect.Dialect { return e.renderer.Dialect }

// Conn exposes the underlying connection for work that needs its own
// transaction.
func (e *Executor) Conn() Conn { return e.conn }

type group struct {
	sql  string
	safe bool
	cmds []query.Command
}

func groupKey(c query.Command) string {
	return strconv.Itoa(len(c.Values)) + "|" + strconv.FormatBool(c.Safe) + "|" + c.SQL
}

// Execute runs cmds grouped by identical SQL text and bind count. Groups run
// in the order their first command appears.
func (e *Executor) Execute(ctx context.Context, cmds ...query.Command) Result {
	if len(cmds) > LargeBatch {
		e.log.Warn("large batch, please be patient", "statements", len(cmds))
	}

	index := make(map[string]int)
	var groups []*group
	for _, c := range cmds {
		key := groupKey(c)
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, &group{sql: c.SQL, safe: c.Safe})
		}
		groups[i].cmds = append(groups[i].cmds, c)
	}

	var res Result
	for _, g := range groups {
		res.add(e.runGroup(ctx, g))
	}
	return res
}

func (e *Executor) runGroup(ctx context.Context, g *group) Result {
	res := Result{Groups: 1, Statements: len(g.cmds)}
	tx, err := e.conn.BeginTxx(ctx, nil)
	if err != nil {
		e.log.Warn("failed to begin transaction", "sql", g.sql, "error", err)
		res.Failed = 1
		return res
	}

	stmt, err := tx.PreparexContext(ctx, g.sql)
	if err != nil {
		_ = tx.Rollback()
		e.log.Warn("failed to prepare statement", "sql", g.sql, "error", err)
		res.Failed = 1
		return res
	}
	defer stmt.Close()

	for _, c := range g.cmds {
		var args []any
		if g.safe {
			args = c.Args()
		}
		r, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			_ = tx.Rollback()
			e.log.Warn("failed to execute batch", "sql", g.sql, "statements", len(g.cmds), "error", err)
			return Result{Groups: 1, Statements: len(g.cmds), Failed: 1}
		}
		if n, err := r.RowsAffected(); err == nil {
			res.Rows += n
		}
	}

	if err := tx.Commit(); err != nil {
		e.log.Warn("failed to commit batch", "sql", g.sql, "error", err)
		return Result{Groups: 1, Statements: len(g.cmds), Failed: 1}
	}
	return res
}

// Query runs a single read command and returns its rows. Driver []byte
// values are converted to string. It returns nil if the query fails.
func (e *Executor) Query(ctx context.Context, c query.Command) []map[string]any {
	var args []any
	if c.Safe {
		args = c.Args()
	}

	rows, err := e.conn.QueryxContext(ctx, c.SQL, args...)
	if err != nil {
		e.log.Warn("failed to execute query", "sql", c.SQL, "error", err)
		return nil
	}
	defer rows.Close()

	results := []map[string]any{}
	for rows.Next() {
		row := make(map[string]any)
		if err := rows.MapScan(row); err != nil {
			e.log.Warn("failed to scan row", "sql", c.SQL, "error", err)
			return nil
		}
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		e.log.Warn("failed to read rows", "sql", c.SQL, "error", err)
		return nil
	}
	return results
}

// Columns returns the live column names of table, read from the metadata of
// a zero-row select. It returns nil if the table cannot be read.
func (e *Executor) Columns(ctx context.Context, table string) []string {
	c, err := e.renderer.Render(query.Select{Table: table, NoRows: true})
	if err != nil {
		e.log.Warn("failed to build column query", "table", table, "error", err)
		return nil
	}
	rows, err := e.conn.QueryxContext(ctx, c.SQL)
	if err != nil {
		e.log.Debug("failed to read columns", "sql", c.SQL, "error", err)
		return nil
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		e.log.Warn("failed to read column metadata", "sql", c.SQL, "error", err)
		return nil
	}
	return cols
}
