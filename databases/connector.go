package databases

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	mysqlconn "github.com/melkeydev/arrowdb/databases/mysql"
	"github.com/melkeydev/arrowdb/databases/postgres"
	"github.com/melkeydev/arrowdb/databases/sqlite"
	"github.com/melkeydev/arrowdb/dialect"
	"github.com/melkeydev/arrowdb/types"
)

// Provider hands out connections to one database and describes its tables.
type Provider interface {
	Connect(ctx context.Context) (*sqlx.Conn, error)
	Dialect() dialect.Dialect
	Ping(ctx context.Context) error
	ListTables(ctx context.Context) ([]string, error)
	DescribeTable(ctx context.Context, table string) (*types.TableDescription, error)
	Close() error
}

// Settings addresses one database. ConnectionString, when set, is used as is
// instead of the individual fields.
type Settings struct {
	Host             string
	Port             int
	Database         string
	User             string
	Password         string
	Query            string
	File             string
	Driver           string
	ConnectionString string
	CreateDatabase   bool
	// Quote and Charset override the dialect defaults when not empty.
	Quote   string
	Charset string
}

// NewConnector opens a provider for the given dialect.
func NewConnector(ctx context.Context, d dialect.Dialect, s Settings) (Provider, error) {
	switch d {
	case dialect.MySQL:
		dsn, err := MySQLDSN(s)
		if err != nil {
			return nil, err
		}
		return mysqlconn.NewMySQLConnector(ctx, dsn, s.CreateDatabase)
	case dialect.PostgreSQL:
		return postgres.NewPostgresConnector(ctx, PostgresURL(s))
	case dialect.SQLite:
		file := s.File
		if file == "" {
			file = s.ConnectionString
		}
		return sqlite.NewSQLiteConnector(ctx, file, s.Driver)
	default:
		return nil, fmt.Errorf("no connector for database type: %s", d)
	}
}

// MySQLDSN builds a go-sql-driver DSN from s.
func MySQLDSN(s Settings) (string, error) {
	if s.ConnectionString != "" {
		if _, err := mysql.ParseDSN(s.ConnectionString); err != nil {
			return "", fmt.Errorf("failed to parse connection string: %w", err)
		}
		return s.ConnectionString, nil
	}

	cfg := mysql.NewConfig()
	cfg.User = s.User
	cfg.Passwd = s.Password
	cfg.Net = "tcp"
	cfg.Addr = hostPort(s.Host, s.Port, 3306)
	cfg.DBName = s.Database
	cfg.ParseTime = true
	if s.Query != "" {
		values, err := url.ParseQuery(strings.TrimPrefix(s.Query, "?"))
		if err != nil {
			return "", fmt.Errorf("failed to parse query parameters: %w", err)
		}
		cfg.Params = make(map[string]string, len(values))
		for k := range values {
			cfg.Params[k] = values.Get(k)
		}
	}
	return cfg.FormatDSN(), nil
}

// PostgresURL builds a postgres:// connection URL from s.
func PostgresURL(s Settings) string {
	if s.ConnectionString != "" {
		return s.ConnectionString
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     hostPort(s.Host, s.Port, 5432),
		Path:     "/" + s.Database,
		RawQuery: strings.TrimPrefix(s.Query, "?"),
	}
	if s.User != "" {
		if s.Password != "" {
			u.User = url.UserPassword(s.User, s.Password)
		} else {
			u.User = url.User(s.User)
		}
	}
	return u.String()
}

func hostPort(host string, port, fallback int) string {
	if host == "" {
		host = "localhost"
	}
	if port == 0 {
		port = fallback
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
