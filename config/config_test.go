package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/melkeydev/arrowdb/database"
	"github.com/melkeydev/arrowdb/databases/sqlite"
	"github.com/melkeydev/arrowdb/dialect"
)

const sample = `
database:
  type: sqlite
  driver: sqlite
  remove_columns: [legacy]
  unique_fallback: true
sync_on_start: true
tables:
  - name: players
    columns:
      - {name: uuid, type: TEXT, primary: true}
      - {name: name, type: TEXT, nullable: false}
      - {name: coins, type: INT, default: "0"}
`

func TestParse(t *testing.T) {
	t.Parallel()

	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Database.DBType != "sqlite" || !cfg.SyncOnStart || !cfg.Database.UniqueFallback {
		t.Fatalf("Parse() = %+v", cfg)
	}
	if len(cfg.Tables) != 1 || len(cfg.Tables[0].Columns) != 3 {
		t.Fatalf("Tables = %+v", cfg.Tables)
	}
	if !reflect.DeepEqual(cfg.Database.RemoveColumns, []string{"legacy"}) {
		t.Fatalf("RemoveColumns = %v", cfg.Database.RemoveColumns)
	}

	if _, err := Parse([]byte("database: [")); err == nil {
		t.Fatalf("Parse() accepted invalid YAML")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("ARROWDB_DB_TYPE", "postgres")
	t.Setenv("ARROWDB_DB_HOST", "pg.internal")
	t.Setenv("ARROWDB_DB_PORT", "6543")
	t.Setenv("ARROWDB_REMOVE_COLUMNS", "a,b")

	cfg, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	db := cfg.Database
	if db.DBType != "postgres" || db.Host != "pg.internal" || db.Port != 6543 {
		t.Fatalf("Database = %+v", db)
	}
	if !reflect.DeepEqual(db.RemoveColumns, []string{"a", "b"}) {
		t.Fatalf("RemoveColumns = %v", db.RemoveColumns)
	}
	if db.Driver != "sqlite" {
		t.Fatalf("Driver = %q, want the file value kept", db.Driver)
	}
}

func TestSettings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      DatabaseConfig
		want    dialect.Dialect
		wantErr bool
	}{
		{name: "sqlite default file", in: DatabaseConfig{DBType: "sqlite"}, want: dialect.SQLite},
		{name: "mysql by name", in: DatabaseConfig{DBType: "mysql", Name: "game"}, want: dialect.MySQL},
		{name: "postgres by url", in: DatabaseConfig{DBType: "postgresql", ConnectionString: "postgres://x/y"}, want: dialect.PostgreSQL},
		{name: "mysql without target", in: DatabaseConfig{DBType: "mysql"}, wantErr: true},
		{name: "missing type", in: DatabaseConfig{}, wantErr: true},
		{name: "composer only", in: DatabaseConfig{DBType: "h2"}, wantErr: true},
		{name: "unknown", in: DatabaseConfig{DBType: "oracle"}, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, s, err := tt.in.Settings()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Settings() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Fatalf("Settings() dialect = %v, want %v", got, tt.want)
			}
			if got == dialect.SQLite && s.File != "database.db" {
				t.Fatalf("Settings() file = %q", s.File)
			}
		})
	}
}

func TestRegisterTablesAndSync(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	cfg.Database.File = filepath.Join(dir, "arrow.db")
	cfg.Database.Driver = sqlite.DriverPure

	d, s, err := cfg.Database.Settings()
	if err != nil {
		t.Fatalf("Settings() error = %v", err)
	}
	opts := cfg.Database.Options()
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx := context.Background()
	db, err := database.Open(ctx, d, s, opts)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := cfg.RegisterTables(db); err != nil {
		t.Fatalf("RegisterTables() error = %v", err)
	}
	players, err := db.Registry().Lookup("players")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !reflect.DeepEqual(players.PrimaryNames(), []string{"uuid"}) {
		t.Fatalf("PrimaryNames() = %v", players.PrimaryNames())
	}
	name, _ := players.Column("name")
	coins, _ := players.Column("coins")
	if name.Nullable() {
		t.Fatalf("name must be NOT NULL")
	}
	if def, ok := coins.Default(); !ok || def != "0" {
		t.Fatalf("coins default = %q, %v", def, ok)
	}

	if _, err := db.CreateTables(ctx, nil); err != nil {
		t.Fatalf("CreateTables() error = %v", err)
	}
	desc, err := db.Provider().DescribeTable(ctx, "players")
	if err != nil || len(desc.Columns) != 3 {
		t.Fatalf("DescribeTable() = %+v, %v", desc, err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("LoadConfig() accepted a missing file")
	}
}
