// Package dialect names the SQL engines arrowdb can talk to and the
// capabilities that change how statements are composed for each of them.
package dialect

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

type Dialect int

const (
	Unknown Dialect = iota
	MySQL
	PostgreSQL
	SQLite
	H2
)

func (d Dialect) String() string {
	switch d {
	case MySQL:
		return "mysql"
	case PostgreSQL:
		return "postgres"
	case SQLite:
		return "sqlite"
	case H2:
		return "h2"
	default:
		return "unknown"
	}
}

// Parse maps a configuration value such as "mysql" or "postgresql" to a Dialect.
func Parse(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "mysql", "mariadb":
		return MySQL, nil
	case "postgres", "postgresql", "pgx":
		return PostgreSQL, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "h2":
		return H2, nil
	default:
		return Unknown, fmt.Errorf("unsupported database type: %s", name)
	}
}

// DefaultQuote is the identifier quote used when the settings don't override it.
// PostgreSQL gets a blank quote, which leaves identifiers unquoted.
func (d Dialect) DefaultQuote() string {
	if d == PostgreSQL {
		return " "
	}
	return "`"
}

// DefaultCharset is appended to CREATE TABLE when no charset is configured.
func (d Dialect) DefaultCharset() string {
	if d == MySQL {
		return "DEFAULT CHARSET=utf8mb4"
	}
	return ""
}

// SupportsCharset reports whether a table-level character set clause is valid.
func (d Dialect) SupportsCharset() bool {
	return d == MySQL
}

// SupportsAlterConstraint reports whether constraints can be added to or
// dropped from an existing table. SQLite has to rebuild the table instead.
func (d Dialect) SupportsAlterConstraint() bool {
	return d != SQLite
}

// BatchesAddColumn reports whether several ADD COLUMN actions may share one
// ALTER TABLE statement.
func (d Dialect) BatchesAddColumn() bool {
	return d != SQLite
}

// BindType is the sqlx bind style the renderer writes placeholders in.
func (d Dialect) BindType() int {
	if d == PostgreSQL {
		return sqlx.DOLLAR
	}
	return sqlx.QUESTION
}
