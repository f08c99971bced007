package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/melkeydev/arrowdb/dialect"
	"github.com/melkeydev/arrowdb/types"
)

const (
	// DriverCgo is mattn/go-sqlite3.
	DriverCgo = "sqlite3"
	// DriverPure is the cgo-free modernc.org/sqlite.
	DriverPure = "sqlite"
)

func init() {
	sqlx.BindDriver(DriverPure, sqlx.QUESTION)
}

type SQLiteConnector struct {
	db *sqlx.DB
}

// NewSQLiteConnector opens file with driver, which defaults to DriverCgo.
// SQLite allows one writer, so the pool is capped at a single connection.
func NewSQLiteConnector(ctx context.Context, file, driver string) (*SQLiteConnector, error) {
	if file == "" {
		file = "database.db"
	}
	switch driver {
	case "":
		driver = DriverCgo
	case DriverCgo, DriverPure:
	default:
		return nil, fmt.Errorf("unsupported sqlite driver: %s", driver)
	}

	db, err := sqlx.Open(driver, file)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	connector := &SQLiteConnector{db: db}
	if err := connector.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return connector, nil
}

func (c *SQLiteConnector) Dialect() dialect.Dialect { return dialect.SQLite }

func (c *SQLiteConnector) Connect(ctx context.Context) (*sqlx.Conn, error) {
	return c.db.Connx(ctx)
}

func (c *SQLiteConnector) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *SQLiteConnector) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *SQLiteConnector) ListTables(ctx context.Context) ([]string, error) {
	var tables []string
	err := c.db.SelectContext(ctx, &tables, `
		SELECT name
		FROM sqlite_master
		WHERE type = 'table'
		AND name NOT LIKE 'sqlite_%'
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tables: %w", err)
	}
	return tables, nil
}

func (c *SQLiteConnector) loadColumns(ctx context.Context, tx *sqlx.Tx, table string) ([]types.Column, []string, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT name, type, "notnull", dflt_value, pk
		FROM pragma_table_info(?)
		ORDER BY cid`, table)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query columns: %w", err)
	}
	defer rows.Close()

	var (
		columns []types.Column
		keyed   = map[int]string{}
	)
	for rows.Next() {
		var (
			name, dataType string
			notNull, pk    int
			defaultValue   sql.NullString
		)
		if err := rows.Scan(&name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return nil, nil, fmt.Errorf("failed to scan column: %w", err)
		}
		col := types.Column{Name: name, Type: dataType, Nullable: notNull == 0}
		if defaultValue.Valid {
			v := defaultValue.String
			col.Default = &v
		}
		columns = append(columns, col)
		if pk > 0 {
			keyed[pk] = name
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read columns: %w", err)
	}

	primaryKeys := make([]string, 0, len(keyed))
	for i := 1; i <= len(keyed); i++ {
		primaryKeys = append(primaryKeys, keyed[i])
	}
	return columns, primaryKeys, nil
}

func (c *SQLiteConnector) DescribeTable(ctx context.Context, table string) (*types.TableDescription, error) {
	tx, err := c.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	err = tx.GetContext(ctx, &exists, `
		SELECT EXISTS (
			SELECT 1 FROM sqlite_master
			WHERE type = 'table' AND name = ?
		)`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to check table existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("table %s not found", table)
	}

	columns, primaryKeys, err := c.loadColumns(ctx, tx, table)
	if err != nil {
		return nil, fmt.Errorf("failed to load columns: %w", err)
	}

	var rowCount int64
	if err := tx.GetContext(ctx, &rowCount, fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, table)); err != nil {
		return nil, fmt.Errorf("failed to get row count: %w", err)
	}

	type indexRow struct {
		Name   string `db:"name"`
		Unique bool   `db:"unique"`
	}
	var indexRows []indexRow
	err = tx.SelectContext(ctx, &indexRows, `
		SELECT name, "unique"
		FROM pragma_index_list(?)
		WHERE origin != 'pk'`, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get indexes: %w", err)
	}

	var indexes []types.Index
	for _, ix := range indexRows {
		var indexColumns []string
		err := tx.SelectContext(ctx, &indexColumns, `
			SELECT name
			FROM pragma_index_info(?)
			ORDER BY seqno`, ix.Name)
		if err != nil || len(indexColumns) == 0 {
			continue
		}
		indexes = append(indexes, types.Index{Name: ix.Name, Columns: indexColumns, Unique: ix.Unique})
	}

	return &types.TableDescription{
		Name:        table,
		Columns:     columns,
		RowCount:    rowCount,
		PrimaryKeys: primaryKeys,
		Indexes:     indexes,
	}, nil
}
