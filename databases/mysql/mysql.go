package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"github.com/melkeydev/arrowdb/dialect"
	"github.com/melkeydev/arrowdb/types"
)

type MySQLConnector struct {
	db *sqlx.DB
}

// NewMySQLConnector opens dsn. With createDatabase set, the schema named in
// the DSN is created first if it does not exist.
func NewMySQLConnector(ctx context.Context, dsn string, createDatabase bool) (*MySQLConnector, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if createDatabase && cfg.DBName != "" {
		if err := ensureDatabase(ctx, cfg); err != nil {
			return nil, err
		}
	}

	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	connector := &MySQLConnector{db: db}
	if err := connector.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return connector, nil
}

func ensureDatabase(ctx context.Context, cfg *mysql.Config) error {
	admin := cfg.Clone()
	admin.DBName = ""

	db, err := sqlx.Open("mysql", admin.FormatDSN())
	if err != nil {
		return fmt.Errorf("failed to open server connection: %w", err)
	}
	defer db.Close()

	name := "`" + strings.ReplaceAll(cfg.DBName, "`", "``") + "`"
	if _, err := db.ExecContext(ctx, "CREATE DATABASE IF NOT EXISTS "+name); err != nil {
		return fmt.Errorf("failed to create database %s: %w", cfg.DBName, err)
	}
	return nil
}

func (c *MySQLConnector) Dialect() dialect.Dialect { return dialect.MySQL }

func (c *MySQLConnector) Connect(ctx context.Context) (*sqlx.Conn, error) {
	return c.db.Connx(ctx)
}

func (c *MySQLConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *MySQLConnector) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *MySQLConnector) ListTables(ctx context.Context) ([]string, error) {
	var tables []string
	err := c.db.SelectContext(ctx, &tables, `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		AND table_schema = DATABASE()
		ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	return tables, nil
}

func (c *MySQLConnector) loadColumns(ctx context.Context, tx *sqlx.Tx, table string) ([]types.Column, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT column_name, column_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_name = ? AND table_schema = DATABASE()
		ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	var columns []types.Column
	for rows.Next() {
		var (
			name, dataType, isNullable string
			defaultValue               sql.NullString
		)
		if err := rows.Scan(&name, &dataType, &isNullable, &defaultValue); err != nil {
			return nil, fmt.Errorf("failed to scan column: %w", err)
		}
		col := types.Column{Name: name, Type: dataType, Nullable: isNullable == "YES"}
		if defaultValue.Valid {
			v := defaultValue.String
			col.Default = &v
		}
		columns = append(columns, col)
	}
	return columns, rows.Err()
}

// DescribeTable returns the columns, keys, indexes and row count of table.
func (c *MySQLConnector) DescribeTable(ctx context.Context, table string) (*types.TableDescription, error) {
	tx, err := c.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = DATABASE() AND table_name = ?
		)`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to check table existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("table %s not found", table)
	}

	columns, err := c.loadColumns(ctx, tx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to load columns: %w", err)
	}

	var rowCount int64
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM `%s`", strings.ReplaceAll(table, "`", "``"))
	if err := tx.GetContext(ctx, &rowCount, countQuery); err != nil {
		return nil, fmt.Errorf("failed to get row count: %w", err)
	}

	var primaryKeys []string
	err = tx.SelectContext(ctx, &primaryKeys, `
		SELECT column_name
		FROM information_schema.key_column_usage
		WHERE table_schema = DATABASE()
		AND table_name = ?
		AND constraint_name = 'PRIMARY'
		ORDER BY ordinal_position`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get primary keys: %w", err)
	}

	indexRows, err := tx.QueryContext(ctx, `
		SELECT
			index_name,
			GROUP_CONCAT(column_name ORDER BY seq_in_index) AS columns,
			NOT non_unique AS is_unique
		FROM information_schema.statistics
		WHERE table_schema = DATABASE()
		AND table_name = ?
		AND index_name != 'PRIMARY'
		GROUP BY index_name, non_unique`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get indexes: %w", err)
	}
	defer indexRows.Close()

	var indexes []types.Index
	for indexRows.Next() {
		var (
			indexName, columnNames string
			isUnique               bool
		)
		if err := indexRows.Scan(&indexName, &columnNames, &isUnique); err != nil {
			return nil, fmt.Errorf("failed to scan index: %w", err)
		}
		indexes = append(indexes, types.Index{
			Name:    indexName,
			Columns: strings.Split(columnNames, ","),
			Unique:  isUnique,
		})
	}

	return &types.TableDescription{
		Name:        table,
		Columns:     columns,
		RowCount:    rowCount,
		PrimaryKeys: primaryKeys,
		Indexes:     indexes,
	}, nil
}
