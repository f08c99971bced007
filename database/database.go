// Package database is the entry point for callers: it owns the table
// registry, checks out one connection per operation and runs the composer,
// batch executor and schema migration on it.
package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmoiron/sqlx"

	"github.com/melkeydev/arrowdb/batch"
	"github.com/melkeydev/arrowdb/databases"
	"github.com/melkeydev/arrowdb/dialect"
	"github.com/melkeydev/arrowdb/migrate"
	"github.com/melkeydev/arrowdb/query"
	"github.com/melkeydev/arrowdb/schema"
	"github.com/melkeydev/arrowdb/types"
)

var ErrConnectionFailure = errors.New("failed to connect to database")

type Options struct {
	// Unsafe inlines values into statements instead of binding them.
	Unsafe bool
	// Quote and Charset override the dialect defaults when not empty.
	Quote   string
	Charset string
	// RemoveColumns are ignored when reconciling tables.
	RemoveColumns []string
	// UniqueFallback is the initial UNIQUE fallback setting for migrations.
	UniqueFallback bool
	Logger         *slog.Logger
}

type Database struct {
	provider databases.Provider
	registry *schema.Registry
	renderer query.Renderer
	log      *slog.Logger

	mu             sync.RWMutex
	remove         []string
	uniqueFallback bool
}

func New(p databases.Provider, opts Options) *Database {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	r := query.NewRenderer(p.Dialect(), !opts.Unsafe)
	if opts.Quote != "" {
		r.Quote = opts.Quote
	}
	if opts.Charset != "" {
		r.Charset = opts.Charset
	}
	return &Database{
		provider:       p,
		registry:       schema.NewRegistry(),
		renderer:       r,
		log:            log,
		remove:         append([]string(nil), opts.RemoveColumns...),
		uniqueFallback: opts.UniqueFallback,
	}
}

// Open connects to the database described by s and wraps it.
func Open(ctx context.Context, d dialect.Dialect, s databases.Settings, opts Options) (*Database, error) {
	p, err := databases.NewConnector(ctx, d, s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailure, err)
	}
	if opts.Quote == "" {
		opts.Quote = s.Quote
	}
	if opts.Charset == "" {
		opts.Charset = s.Charset
	}
	return New(p, opts), nil
}

func (d *Database) Provider() databases.Provider { return d.provider }
func (d *Database) Registry() *schema.Registry   { return d.registry }
func (d *Database) Renderer() query.Renderer     { return d.renderer }
func (d *Database) Dialect() dialect.Dialect     { return d.renderer.Dialect }

func (d *Database) Close() error { return d.provider.Close() }

// AddTable declares a table. See schema.Builder.
func (d *Database) AddTable(define func(*schema.Builder)) (*schema.TableSchema, error) {
	return d.registry.Add(define)
}

// SetRemoveColumns sets the columns CreateTables must not add back.
func (d *Database) SetRemoveColumns(columns ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remove = append([]string(nil), columns...)
}

// SetUniqueFallback sets the default UNIQUE fallback of later CreateTables
// calls. WithUniqueFallback overrides it for one call.
func (d *Database) SetUniqueFallback(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.uniqueFallback = enabled
}

func (d *Database) UniqueFallback() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.uniqueFallback
}

type syncSettings struct {
	uniqueFallback bool
}

// SyncOption adjusts a single CreateTables call.
type SyncOption func(*syncSettings)

// WithUniqueFallback sets the initial UNIQUE fallback for this call only.
func WithUniqueFallback(enabled bool) SyncOption {
	return func(s *syncSettings) { s.uniqueFallback = enabled }
}

// attemptToConnect checks out a connection, retrying once. It returns nil
// if both attempts fail.
func (d *Database) attemptToConnect(ctx context.Context) *sqlx.Conn {
	conn, err := d.provider.Connect(ctx)
	if err == nil {
		return conn
	}
	d.log.Warn("connection attempt failed, retrying", "error", err)

	conn, err = d.provider.Connect(ctx)
	if err != nil {
		d.log.Error("could not connect to database", "error", err)
		return nil
	}
	return conn
}

// withExecutor runs fn on a freshly checked-out connection and releases it.
func (d *Database) withExecutor(ctx context.Context, fn func(*batch.Executor)) error {
	conn := d.attemptToConnect(ctx)
	if conn == nil {
		return ErrConnectionFailure
	}
	defer conn.Close()

	fn(batch.New(conn, d.renderer, d.log))
	return nil
}

// CreateTables creates every registered table, adds missing columns and
// migrates new primary key columns. handler is only needed when a table gains
// primary columns. Errors of individual tables are joined; the remaining
// tables are still processed.
func (d *Database) CreateTables(ctx context.Context, handler migrate.Handler, opts ...SyncOption) ([]types.SyncReport, error) {
	d.mu.RLock()
	remove := append([]string(nil), d.remove...)
	settings := syncSettings{uniqueFallback: d.uniqueFallback}
	d.mu.RUnlock()
	for _, opt := range opts {
		opt(&settings)
	}

	var (
		reports []types.SyncReport
		errs    []error
	)
	err := d.withExecutor(ctx, func(exec *batch.Executor) {
		reconciler := migrate.NewReconciler(exec, remove, d.log)
		migrator := migrate.NewMigrator(exec, remove, settings.uniqueFallback, d.log)

		for _, t := range d.registry.Tables() {
			report := types.SyncReport{Table: t.Name(), Outcome: migrate.NoMigrationNeeded.String()}

			plan, err := reconciler.Reconcile(ctx, t)
			for _, c := range plan.Add {
				report.Added = append(report.Added, c.Name())
			}
			for _, c := range plan.Pending() {
				report.NewPrimary = append(report.NewPrimary, c.Name())
			}
			report.Failed = plan.Failed
			if err != nil {
				d.log.Error("failed to reconcile table", "table", t.Name(), "error", err)
				report.Outcome = migrate.Aborted.String()
				report.Error = err.Error()
				reports = append(reports, report)
				errs = append(errs, err)
				continue
			}

			outcome, err := migrator.Migrate(ctx, t, plan, handler)
			report.Outcome = outcome.String()
			if err != nil {
				report.Error = err.Error()
				errs = append(errs, err)
			}
			reports = append(reports, report)
		}
	})
	if err != nil {
		return nil, err
	}
	return reports, errors.Join(errs...)
}

func (d *Database) table(name string) (*schema.TableSchema, error) {
	t, err := d.registry.Lookup(name)
	if err != nil {
		return nil, err
	}
	if !t.HasPrimaryKey() {
		return nil, fmt.Errorf("%w: %s", query.ErrNoPrimaryKey, name)
	}
	return t, nil
}

func (d *Database) entry(t *schema.TableSchema, r Record) batch.Entry {
	data := r.Serialize()
	pk := t.PrimaryNames()
	key := make([]any, len(pk))
	for i, name := range pk {
		key[i] = data[name]
	}
	return batch.Entry{Key: key, Data: data}
}

// SaveAll replaces every record, or updates existing rows when opts asks
// for it. Primary key values are read from each record's serialized form.
func (d *Database) SaveAll(ctx context.Context, table string, records []Record, opts batch.SaveOptions) (batch.Result, error) {
	t, err := d.table(table)
	if err != nil {
		return batch.Result{}, err
	}
	entries := make([]batch.Entry, len(records))
	for i, r := range records {
		entries[i] = d.entry(t, r)
	}

	var res batch.Result
	err = d.withExecutor(ctx, func(exec *batch.Executor) {
		res = exec.SaveAll(ctx, t, entries, opts)
	})
	return res, err
}

func (d *Database) Save(ctx context.Context, table string, record Record, opts batch.SaveOptions) (bool, error) {
	res, err := d.SaveAll(ctx, table, []Record{record}, opts)
	if err != nil {
		return false, err
	}
	return res.OK(), nil
}

// RemoveAll deletes the rows with the given primary keys.
func (d *Database) RemoveAll(ctx context.Context, table string, keys [][]any) (batch.Result, error) {
	t, err := d.table(table)
	if err != nil {
		return batch.Result{}, err
	}
	var res batch.Result
	err = d.withExecutor(ctx, func(exec *batch.Executor) {
		res = exec.RemoveAll(ctx, t, keys, nil)
	})
	return res, err
}

func (d *Database) Remove(ctx context.Context, table string, key ...any) (bool, error) {
	res, err := d.RemoveAll(ctx, table, [][]any{key})
	if err != nil {
		return false, err
	}
	return res.OK(), nil
}

// RowExists reports whether table holds a row with the given primary key.
func (d *Database) RowExists(ctx context.Context, table string, key ...any) (bool, error) {
	t, err := d.table(table)
	if err != nil {
		return false, err
	}
	var ok bool
	err = d.withExecutor(ctx, func(exec *batch.Executor) {
		ok = exec.RowExists(ctx, t, key, nil)
	})
	return ok, err
}

// DropTable drops the table if it exists. The declaration stays registered.
func (d *Database) DropTable(ctx context.Context, table string) (bool, error) {
	var ok bool
	err := d.withExecutor(ctx, func(exec *batch.Executor) {
		ok = exec.DropTable(ctx, table)
	})
	return ok, err
}

// RunSQLCommand executes commands composed by the caller with Renderer.
func (d *Database) RunSQLCommand(ctx context.Context, cmds ...query.Command) (bool, error) {
	var ok bool
	err := d.withExecutor(ctx, func(exec *batch.Executor) {
		ok = exec.RunSQLCommand(ctx, cmds...)
	})
	return ok, err
}

// Sample returns up to limit rows of any table, registered or not.
func (d *Database) Sample(ctx context.Context, table string, limit int) ([]map[string]any, error) {
	if limit <= 0 {
		limit = 10
	}
	cmd, err := d.renderer.Render(query.Select{Table: table, Limit: limit})
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	err = d.withExecutor(ctx, func(exec *batch.Executor) {
		rows = exec.Query(ctx, cmd)
	})
	return rows, err
}

// find loads the rows of t matching where on a fresh connection.
func (d *Database) find(ctx context.Context, t *schema.TableSchema, where query.Condition) ([]map[string]any, error) {
	var rows []map[string]any
	err := d.withExecutor(ctx, func(exec *batch.Executor) {
		rows = exec.Find(ctx, t, where)
	})
	return rows, err
}
