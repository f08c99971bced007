package databases

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"

	"github.com/melkeydev/arrowdb/databases/sqlite"
	"github.com/melkeydev/arrowdb/dialect"
)

func TestMySQLDSN(t *testing.T) {
	t.Parallel()

	dsn, err := MySQLDSN(Settings{
		Host:     "db.local",
		User:     "arrow",
		Password: "secret",
		Database: "game",
		Query:    "?charset=utf8mb4",
	})
	if err != nil {
		t.Fatalf("MySQLDSN() error = %v", err)
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("ParseDSN(%q) error = %v", dsn, err)
	}
	if cfg.Addr != "db.local:3306" || cfg.DBName != "game" || cfg.User != "arrow" || cfg.Passwd != "secret" {
		t.Fatalf("ParseDSN() = %+v", cfg)
	}
	if cfg.Params["charset"] != "utf8mb4" {
		t.Fatalf("charset param = %q", cfg.Params["charset"])
	}

	if _, err := MySQLDSN(Settings{ConnectionString: "not a dsn"}); err == nil {
		t.Fatalf("MySQLDSN() accepted an invalid connection string")
	}
}

func TestPostgresURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Settings
		want string
	}{
		{
			name: "fields",
			in:   Settings{Host: "pg", Port: 6543, User: "arrow", Password: "p@ss", Database: "game", Query: "sslmode=disable"},
			want: "postgres://arrow:p%40ss@pg:6543/game?sslmode=disable",
		},
		{
			name: "defaults",
			in:   Settings{Database: "game"},
			want: "postgres://localhost:5432/game",
		},
		{
			name: "connection string wins",
			in:   Settings{ConnectionString: "postgres://x/y", Host: "ignored"},
			want: "postgres://x/y",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := PostgresURL(tt.in); got != tt.want {
				t.Fatalf("PostgresURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSQLiteConnectorDescribe(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p, err := NewConnector(ctx, dialect.SQLite, Settings{
		File:   filepath.Join(t.TempDir(), "describe.db"),
		Driver: sqlite.DriverPure,
	})
	if err != nil {
		t.Fatalf("NewConnector() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })

	if p.Dialect() != dialect.SQLite {
		t.Fatalf("Dialect() = %v", p.Dialect())
	}

	conn, err := p.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	for _, stmt := range []string{
		"CREATE TABLE homes (owner TEXT NOT NULL, label TEXT, x INT DEFAULT 0, PRIMARY KEY (owner, label))",
		"CREATE UNIQUE INDEX homes_x ON homes (x)",
		"INSERT INTO homes (owner, label, x) VALUES ('a', 'base', 1), ('b', 'base', 2)",
	} {
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
	_ = conn.Close()

	tables, err := p.ListTables(ctx)
	if err != nil || !reflect.DeepEqual(tables, []string{"homes"}) {
		t.Fatalf("ListTables() = %v, %v", tables, err)
	}

	desc, err := p.DescribeTable(ctx, "homes")
	if err != nil {
		t.Fatalf("DescribeTable() error = %v", err)
	}
	if desc.RowCount != 2 {
		t.Fatalf("RowCount = %d, want 2", desc.RowCount)
	}
	if !reflect.DeepEqual(desc.PrimaryKeys, []string{"owner", "label"}) {
		t.Fatalf("PrimaryKeys = %v", desc.PrimaryKeys)
	}
	if len(desc.Columns) != 3 || desc.Columns[0].Nullable || desc.Columns[2].Default == nil {
		t.Fatalf("Columns = %+v", desc.Columns)
	}
	if len(desc.Indexes) != 1 || desc.Indexes[0].Name != "homes_x" || !desc.Indexes[0].Unique {
		t.Fatalf("Indexes = %+v", desc.Indexes)
	}

	if _, err := p.DescribeTable(ctx, "missing"); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("DescribeTable(missing) error = %v", err)
	}
}

func TestNewConnectorRejectsUnknown(t *testing.T) {
	t.Parallel()

	if _, err := NewConnector(context.Background(), dialect.H2, Settings{}); err == nil {
		t.Fatalf("NewConnector(h2) must fail")
	}
	if _, err := NewConnector(context.Background(), dialect.SQLite, Settings{Driver: "bogus"}); err == nil {
		t.Fatalf("NewConnector() accepted an unknown sqlite driver")
	}
}
