package database

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/spf13/cast"

	"github.com/melkeydev/arrowdb/batch"
	"github.com/melkeydev/arrowdb/databases"
	"github.com/melkeydev/arrowdb/databases/sqlite"
	"github.com/melkeydev/arrowdb/dialect"
	"github.com/melkeydev/arrowdb/migrate"
	"github.com/melkeydev/arrowdb/query"
	"github.com/melkeydev/arrowdb/schema"
	"github.com/melkeydev/arrowdb/types"
)

type player struct {
	UUID   string
	Name   string
	Coins  int
	Server string
}

func (p player) Serialize() map[string]any {
	m := map[string]any{"uuid": p.UUID, "name": p.Name, "coins": p.Coins}
	if p.Server != "" {
		m["server"] = p.Server
	}
	return m
}

func (p *player) Deserialize(row map[string]any) error {
	var err error
	if p.UUID, err = cast.ToStringE(row["uuid"]); err != nil {
		return err
	}
	p.Name = cast.ToString(row["name"])
	p.Coins = cast.ToInt(row["coins"])
	p.Server = cast.ToString(row["server"])
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDatabase(t *testing.T) *Database {
	t.Helper()

	db, err := Open(context.Background(), dialect.SQLite, databases.Settings{
		File:   filepath.Join(t.TempDir(), "arrow.db"),
		Driver: sqlite.DriverPure,
	}, Options{Logger: quietLogger()})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func declarePlayers(b *schema.Builder) {
	b.Table("players").
		Column("uuid", "TEXT", schema.Primary()).
		Column("name", "TEXT").
		Column("coins", "INT", schema.Default("0"))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDatabase(t)
	if _, err := db.AddTable(declarePlayers); err != nil {
		t.Fatalf("AddTable() error = %v", err)
	}
	reports, err := db.CreateTables(ctx, nil)
	if err != nil {
		t.Fatalf("CreateTables() error = %v", err)
	}
	if len(reports) != 1 || reports[0].Outcome != migrate.NoMigrationNeeded.String() {
		t.Fatalf("CreateTables() = %+v", reports)
	}

	want := player{UUID: "u1", Name: "steve", Coins: 12}
	if ok, err := db.Save(ctx, "players", want, batch.SaveOptions{}); err != nil || !ok {
		t.Fatalf("Save() = %v, %v", ok, err)
	}

	got, err := Load[player](ctx, db, "players", "u1")
	if err != nil || got == nil {
		t.Fatalf("Load() = %v, %v", got, err)
	}
	if got.Value != want {
		t.Fatalf("Load() = %+v, want %+v", got.Value, want)
	}
	if got.Keys["uuid"] != "u1" {
		t.Fatalf("Load() keys = %v", got.Keys)
	}

	missing, err := Load[player](ctx, db, "players", "nobody")
	if err != nil || missing != nil {
		t.Fatalf("Load(nobody) = %v, %v; want nil, nil", missing, err)
	}
}

func TestSaveAllFilteredUpdateAndLoadAll(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDatabase(t)
	if _, err := db.AddTable(declarePlayers); err != nil {
		t.Fatalf("AddTable() error = %v", err)
	}
	if _, err := db.CreateTables(ctx, nil); err != nil {
		t.Fatalf("CreateTables() error = %v", err)
	}

	records := []Record{
		player{UUID: "a", Name: "alex", Coins: 1},
		player{UUID: "b", Name: "bob", Coins: 9},
		player{UUID: "c", Name: "cat", Coins: 20},
	}
	if res, err := db.SaveAll(ctx, "players", records, batch.SaveOptions{}); err != nil || !res.OK() {
		t.Fatalf("SaveAll() = %+v, %v", res, err)
	}

	renamed := player{UUID: "a", Name: "renamed", Coins: 100}
	if ok, err := db.Save(ctx, "players", renamed, batch.SaveOptions{Columns: []string{"coins"}}); err != nil || !ok {
		t.Fatalf("Save() filtered = %v, %v", ok, err)
	}

	rich, err := LoadAll[player](ctx, db, "players", query.Ge("coins", 10))
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(rich) != 2 {
		t.Fatalf("LoadAll() returned %d rows, want 2", len(rich))
	}
	for _, l := range rich {
		if l.Value.UUID == "a" && l.Value.Name != "alex" {
			t.Fatalf("filtered update changed name to %q", l.Value.Name)
		}
	}

	all, err := LoadAll[player](ctx, db, "players", nil)
	if err != nil || len(all) != 3 {
		t.Fatalf("LoadAll(nil) = %d rows, %v", len(all), err)
	}
}

func TestRemoveExistsAndDrop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDatabase(t)
	if _, err := db.AddTable(declarePlayers); err != nil {
		t.Fatalf("AddTable() error = %v", err)
	}
	if _, err := db.CreateTables(ctx, nil); err != nil {
		t.Fatalf("CreateTables() error = %v", err)
	}
	if _, err := db.Save(ctx, "players", player{UUID: "u1", Name: "x"}, batch.SaveOptions{}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if ok, err := db.RowExists(ctx, "players", "u1"); err != nil || !ok {
		t.Fatalf("RowExists() = %v, %v", ok, err)
	}
	if ok, err := db.Remove(ctx, "players", "u1"); err != nil || !ok {
		t.Fatalf("Remove() = %v, %v", ok, err)
	}
	if ok, _ := db.RowExists(ctx, "players", "u1"); ok {
		t.Fatalf("RowExists() = true after Remove()")
	}

	if _, err := db.RowExists(ctx, "Players", "u1"); !errors.Is(err, schema.ErrUnknownTable) {
		t.Fatalf("RowExists(Players) error = %v, want ErrUnknownTable", err)
	}

	if ok, err := db.DropTable(ctx, "players"); err != nil || !ok {
		t.Fatalf("DropTable() = %v, %v", ok, err)
	}
	tables, err := db.Provider().ListTables(ctx)
	if err != nil || len(tables) != 0 {
		t.Fatalf("ListTables() = %v, %v; want none", tables, err)
	}
}

func TestCreateTablesContinuesPastBadTable(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDatabase(t)
	if _, err := db.AddTable(func(b *schema.Builder) { b.Table("logs").Column("line", "TEXT") }); err != nil {
		t.Fatalf("AddTable() error = %v", err)
	}
	if _, err := db.AddTable(declarePlayers); err != nil {
		t.Fatalf("AddTable() error = %v", err)
	}

	reports, err := db.CreateTables(ctx, nil)
	if !errors.Is(err, query.ErrNoPrimaryKey) {
		t.Fatalf("CreateTables() error = %v, want ErrNoPrimaryKey", err)
	}
	if len(reports) != 2 || reports[0].Error == "" || reports[1].Error != "" {
		t.Fatalf("CreateTables() reports = %+v", reports)
	}
	tables, _ := db.Provider().ListTables(ctx)
	if len(tables) != 1 || tables[0] != "players" {
		t.Fatalf("ListTables() = %v, want players only", tables)
	}
}

func TestCreateTablesMigratesWithLoadedRecords(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDatabase(t)
	if _, err := db.AddTable(declarePlayers); err != nil {
		t.Fatalf("AddTable() error = %v", err)
	}
	if _, err := db.CreateTables(ctx, nil); err != nil {
		t.Fatalf("CreateTables() error = %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if _, err := db.Save(ctx, "players", player{UUID: id, Name: id}, batch.SaveOptions{}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	if _, err := db.AddTable(func(b *schema.Builder) {
		declarePlayers(b)
		b.Column("server", "TEXT", schema.Primary())
	}); err != nil {
		t.Fatalf("AddTable() v2 error = %v", err)
	}

	var handled string
	reports, err := db.CreateTables(ctx, func(table string, w *migrate.ConstraintWrapper) {
		handled = table
		ForEachLoaded[player](db, w, func(l Loaded[player]) *migrate.Candidate {
			return &migrate.Candidate{Values: map[string]any{"server": "lobby-" + l.Value.UUID}}
		})
	})
	if err != nil {
		t.Fatalf("CreateTables() error = %v", err)
	}
	if handled != "players" {
		t.Fatalf("handler called for %q", handled)
	}
	want := types.SyncReport{Table: "players", NewPrimary: []string{"server"}, Outcome: migrate.ConstraintApplied.String()}
	if len(reports) != 1 || reports[0].Outcome != want.Outcome || len(reports[0].NewPrimary) != 1 {
		t.Fatalf("CreateTables() = %+v, want %+v", reports, want)
	}

	got, err := Load[player](ctx, db, "players", "b", "lobby-b")
	if err != nil || got == nil || got.Value.Name != "b" {
		t.Fatalf("Load() after migration = %v, %v", got, err)
	}
	desc, err := db.Provider().DescribeTable(ctx, "players")
	if err != nil {
		t.Fatalf("DescribeTable() error = %v", err)
	}
	if len(desc.PrimaryKeys) != 2 {
		t.Fatalf("PrimaryKeys = %v, want uuid and server", desc.PrimaryKeys)
	}
}

func TestCreateTablesUniqueFallbackPerCall(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := newTestDatabase(t)
	if _, err := db.AddTable(declarePlayers); err != nil {
		t.Fatalf("AddTable() error = %v", err)
	}
	if _, err := db.CreateTables(ctx, nil); err != nil {
		t.Fatalf("CreateTables() error = %v", err)
	}
	for _, id := range []string{"a", "b"} {
		if _, err := db.Save(ctx, "players", player{UUID: id, Name: id}, batch.SaveOptions{}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}
	if _, err := db.AddTable(func(b *schema.Builder) {
		declarePlayers(b)
		b.Column("server", "TEXT", schema.Primary())
	}); err != nil {
		t.Fatalf("AddTable() v2 error = %v", err)
	}

	// Only a gets a server, so the key cannot be completed.
	handler := func(_ string, w *migrate.ConstraintWrapper) {
		w.ForEachRow(func(row map[string]any) *migrate.Candidate {
			if cast.ToString(row["uuid"]) != "a" {
				return nil
			}
			return &migrate.Candidate{Values: map[string]any{"server": "lobby"}}
		})
	}
	reports, err := db.CreateTables(ctx, handler, WithUniqueFallback(true))
	if err != nil {
		t.Fatalf("CreateTables() error = %v", err)
	}
	if len(reports) != 1 || reports[0].Outcome != migrate.UniqueFallbackApplied.String() {
		t.Fatalf("CreateTables() = %+v, want unique fallback", reports)
	}
	if db.UniqueFallback() {
		t.Fatalf("UniqueFallback() = true, the option must not outlive the call")
	}

	reports, err = db.CreateTables(ctx, nil)
	if err != nil {
		t.Fatalf("second CreateTables() error = %v", err)
	}
	if len(reports) != 1 || reports[0].Outcome != migrate.NoMigrationNeeded.String() || len(reports[0].NewPrimary) != 0 {
		t.Fatalf("second CreateTables() = %+v, want nothing pending", reports)
	}

	db.SetUniqueFallback(true)
	if !db.UniqueFallback() {
		t.Fatalf("UniqueFallback() = false after SetUniqueFallback(true)")
	}
}

type failingProvider struct {
	calls int
}

func (p *failingProvider) Connect(context.Context) (*sqlx.Conn, error) {
	p.calls++
	return nil, errors.New("connection refused")
}
func (p *failingProvider) Dialect() dialect.Dialect   { return dialect.MySQL }
func (p *failingProvider) Ping(context.Context) error { return nil }
func (p *failingProvider) Close() error               { return nil }

func (p *failingProvider) ListTables(context.Context) ([]string, error) { return nil, nil }

func (p *failingProvider) DescribeTable(context.Context, string) (*types.TableDescription, error) {
	return nil, nil
}

func TestConnectionRetriedOnce(t *testing.T) {
	t.Parallel()

	p := &failingProvider{}
	db := New(p, Options{Logger: quietLogger()})
	if _, err := db.AddTable(declarePlayers); err != nil {
		t.Fatalf("AddTable() error = %v", err)
	}

	ok, err := db.RowExists(context.Background(), "players", "u1")
	if !errors.Is(err, ErrConnectionFailure) || ok {
		t.Fatalf("RowExists() = %v, %v; want ErrConnectionFailure", ok, err)
	}
	if p.calls != 2 {
		t.Fatalf("Connect() called %d times, want 2", p.calls)
	}
	if db.Renderer().Charset != "DEFAULT CHARSET=utf8mb4" || db.Renderer().Quote != "`" {
		t.Fatalf("Renderer() = %+v, want mysql defaults", db.Renderer())
	}
}
