package batch

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/melkeydev/arrowdb/dialect"
	"github.com/melkeydev/arrowdb/query"
	"github.com/melkeydev/arrowdb/schema"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := sqlx.Open("sqlite", filepath.Join(t.TempDir(), "batch.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func playersSchema(t *testing.T) *schema.TableSchema {
	t.Helper()

	tbl, err := schema.NewRegistry().Add(func(b *schema.Builder) {
		b.Table("players").
			Column("uuid", "TEXT", schema.Primary()).
			Column("name", "TEXT").
			Column("coins", "INT", schema.Default("0"))
	})
	if err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	return tbl
}

func newPlayersExecutor(t *testing.T, safe bool) (*Executor, *schema.TableSchema, *sqlx.DB) {
	t.Helper()

	db := openTestDB(t)
	tbl := playersSchema(t)
	exec := New(db, query.NewRenderer(dialect.SQLite, safe), quietLogger())
	cmd, err := exec.Renderer().Render(tbl.CreateStatement())
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !exec.RunSQLCommand(context.Background(), cmd) {
		t.Fatalf("create table failed")
	}
	return exec, tbl, db
}

func countRows(t *testing.T, db *sqlx.DB, table string) int {
	t.Helper()

	var n int
	if err := db.Get(&n, "SELECT COUNT(*) FROM "+table); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	return n
}

func TestExecuteGroupsAndIsolatesFailures(t *testing.T) {
	t.Parallel()

	exec, _, db := newPlayersExecutor(t, true)
	r := exec.Renderer()
	ins := func(table, id string) query.Command {
		return r.MustRender(query.InsertInto{Table: table, Columns: []string{"uuid", "name"}, Values: []any{id, "n-" + id}})
	}

	res := exec.Execute(context.Background(),
		ins("players", "a"),
		ins("missing", "x"),
		ins("players", "b"),
		ins("players", "c"),
	)
	if res.Groups != 2 || res.Statements != 4 {
		t.Fatalf("Execute() = %+v, want 2 groups of 4 statements", res)
	}
	if res.Failed != 1 || res.OK() {
		t.Fatalf("Execute() failed = %d, want 1", res.Failed)
	}
	if res.Rows != 3 {
		t.Fatalf("Execute() rows = %d, want 3", res.Rows)
	}
	if got := countRows(t, db, "players"); got != 3 {
		t.Fatalf("players has %d rows, want 3", got)
	}
}

func TestFailingGroupRollsBack(t *testing.T) {
	t.Parallel()

	exec, _, db := newPlayersExecutor(t, true)
	r := exec.Renderer()
	ins := func(id string) query.Command {
		return r.MustRender(query.InsertInto{Table: "players", Columns: []string{"uuid"}, Values: []any{id}})
	}

	res := exec.Execute(context.Background(), ins("a"), ins("b"), ins("a"))
	if res.OK() {
		t.Fatalf("duplicate key must fail the group")
	}
	if got := countRows(t, db, "players"); got != 0 {
		t.Fatalf("players has %d rows after rollback, want 0", got)
	}
}

func TestSaveReplaceThenFilteredUpdate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	exec, tbl, _ := newPlayersExecutor(t, true)

	entries := []Entry{
		{Key: []any{"u1"}, Data: map[string]any{"name": "steve", "coins": 5}},
		{Key: []any{"u2"}, Data: map[string]any{"name": "alex", "coins": 7}},
	}
	if res := exec.SaveAll(ctx, tbl, entries, SaveOptions{}); !res.OK() || res.Groups != 1 {
		t.Fatalf("SaveAll() = %+v", res)
	}

	ok := exec.Save(ctx, tbl, Entry{Key: []any{"u1"}, Data: map[string]any{"name": "ignored", "coins": 50}},
		SaveOptions{Columns: []string{"coins"}})
	if !ok {
		t.Fatalf("Save() with column filter failed")
	}

	where, _ := tbl.WhereFromPrimary("u1")
	rows := exec.Find(ctx, tbl, where)
	if len(rows) != 1 {
		t.Fatalf("Find() returned %d rows", len(rows))
	}
	if rows[0]["name"] != "steve" {
		t.Fatalf("name = %v, want unchanged steve", rows[0]["name"])
	}
	if rows[0]["coins"] != int64(50) {
		t.Fatalf("coins = %#v, want 50", rows[0]["coins"])
	}

	// Update of a missing row falls back to replace.
	if !exec.Save(ctx, tbl, Entry{Key: []any{"u3"}, Data: map[string]any{"name": "new"}}, SaveOptions{Update: true}) {
		t.Fatalf("Save() of missing row failed")
	}
	if !exec.RowExists(ctx, tbl, []any{"u3"}, nil) {
		t.Fatalf("RowExists(u3) = false after save")
	}
}

func TestRemoveAndExists(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	exec, tbl, db := newPlayersExecutor(t, true)

	for _, id := range []string{"a", "b", "c"} {
		if !exec.Save(ctx, tbl, Entry{Key: []any{id}, Data: map[string]any{"name": id}}, SaveOptions{}) {
			t.Fatalf("Save(%s) failed", id)
		}
	}

	if !exec.Remove(ctx, tbl, []any{"a"}, nil) {
		t.Fatalf("Remove() failed")
	}
	if exec.RowExists(ctx, tbl, []any{"a"}, nil) {
		t.Fatalf("RowExists(a) = true after remove")
	}

	byName := func(pk ...any) (query.Condition, error) { return query.Eq("name", pk[0]), nil }
	if res := exec.RemoveAll(ctx, tbl, [][]any{{"b"}, {"c"}}, byName); !res.OK() || res.Rows != 2 {
		t.Fatalf("RemoveAll() = %+v", res)
	}
	if got := countRows(t, db, "players"); got != 0 {
		t.Fatalf("players has %d rows, want 0", got)
	}

	if res := exec.RemoveAll(ctx, tbl, [][]any{{"a", "extra"}}, nil); res.OK() {
		t.Fatalf("RemoveAll() with a bad key must report a failure")
	}
}

func TestUnsafeModeInlinesValues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	exec, tbl, _ := newPlayersExecutor(t, false)
	if exec.Mode() != Unsafe {
		t.Fatalf("Mode() = %v, want unsafe", exec.Mode())
	}

	if !exec.Save(ctx, tbl, Entry{Key: []any{"o'brien"}, Data: map[string]any{"name": "it's", "coins": 1}}, SaveOptions{}) {
		t.Fatalf("Save() failed")
	}
	rows := exec.Find(ctx, tbl, query.Eq("uuid", "o'brien"))
	if len(rows) != 1 || rows[0]["name"] != "it's" {
		t.Fatalf("Find() = %v", rows)
	}
}

func TestDropTable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	exec, tbl, _ := newPlayersExecutor(t, true)
	if !exec.DropTable(ctx, tbl.Name()) {
		t.Fatalf("DropTable() failed")
	}
	cmd := exec.Renderer().MustRender(query.Select{Table: tbl.Name(), NoRows: true})
	if rows := exec.Query(ctx, cmd); rows != nil {
		t.Fatalf("Query() on dropped table = %v, want nil", rows)
	}
	if !exec.DropTable(ctx, tbl.Name()) {
		t.Fatalf("DropTable() of missing table must be a no-op")
	}
}
