package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"

	"github.com/melkeydev/arrowdb/batch"
	"github.com/melkeydev/arrowdb/dialect"
	"github.com/melkeydev/arrowdb/query"
	"github.com/melkeydev/arrowdb/schema"
)

type Outcome int

const (
	NoMigrationNeeded Outcome = iota
	ConstraintApplied
	UniqueFallbackApplied
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case NoMigrationNeeded:
		return "no migration needed"
	case ConstraintApplied:
		return "primary key applied"
	case UniqueFallbackApplied:
		return "unique fallback applied"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Migrator turns newly declared primary columns into a real constraint.
type Migrator struct {
	exec           *batch.Executor
	remove         map[string]bool
	uniqueFallback bool
	log            *slog.Logger
}

// NewMigrator returns a migrator. uniqueFallback is the initial UNIQUE
// fallback setting handed to every handler, which may change it.
func NewMigrator(exec *batch.Executor, remove []string, uniqueFallback bool, log *slog.Logger) *Migrator {
	if log == nil {
		log = slog.Default()
	}
	m := &Migrator{exec: exec, remove: make(map[string]bool, len(remove)), uniqueFallback: uniqueFallback, log: log}
	for _, c := range remove {
		m.remove[strings.ToLower(c)] = true
	}
	return m
}

// Migrate runs the primary key migration described by plan. Columns in
// plan.Rekey already exist and only need values and the new key.
func (m *Migrator) Migrate(ctx context.Context, t *schema.TableSchema, plan Plan, handler Handler) (Outcome, error) {
	pending := plan.Pending()
	if len(pending) == 0 {
		return NoMigrationNeeded, nil
	}
	if plan.Aborted {
		return Aborted, fmt.Errorf("%w: %s: constraint migration skipped", ErrColumnAddition, t.Name())
	}
	if handler == nil {
		m.log.Error("new primary columns found but no constraint handler given", "table", t.Name())
		return Aborted, fmt.Errorf("%w: %s", ErrHandlerMissing, t.Name())
	}

	newNames := make([]string, len(pending))
	isNew := make(map[string]bool, len(pending))
	for i, c := range pending {
		newNames[i] = c.Name()
		isNew[c.Name()] = true
	}
	defs := make([]query.ColumnDef, len(plan.NewPrimary))
	for i, c := range plan.NewPrimary {
		def := c.Definition()
		def.NotNull = false
		def.AutoIncrement = false
		defs[i] = def
	}
	primary := t.PrimaryNames()
	oldPrimary := plan.LivePrimary

	if len(defs) > 0 {
		var added Plan
		if err := addColumns(ctx, m.exec, m.log, t.Name(), defs, &added); err != nil {
			return Aborted, err
		}
		if len(added.Failed) > 0 {
			return Aborted, fmt.Errorf("%w: %s: %s", ErrColumnAddition, t.Name(), strings.Join(added.Failed, ", "))
		}
	}

	w := newConstraintWrapper(t.Name(), newNames, primary, m.uniqueFallback)
	handler(t.Name(), w)

	rows := m.exec.Find(ctx, t, nil)
	if rows == nil {
		return Aborted, fmt.Errorf("failed to read rows of %s", t.Name())
	}
	skipped := 0
	for _, row := range rows {
		if !w.loadRow(row) {
			skipped++
		}
	}

	incomplete := m.backfill(ctx, t, w, oldPrimary)
	complete := m.keysComplete(ctx, t.Name(), newNames)
	m.log.Info("primary key backfill finished",
		"table", t.Name(),
		"rows", len(rows),
		"candidates", len(w.candidates),
		"skipped", skipped,
		"incomplete", incomplete,
		"complete", complete,
	)

	var outcome Outcome
	switch {
	case complete:
		outcome = ConstraintApplied
	case w.Unique():
		outcome = UniqueFallbackApplied
	default:
		m.log.Error("primary key migration aborted, rows lack key values", "table", t.Name(), "columns", newNames)
		return Aborted, fmt.Errorf("%w: %s", ErrBackfillIncomplete, t.Name())
	}

	if err := m.apply(ctx, t, outcome, oldPrimary, isNew); err != nil {
		return Aborted, err
	}
	m.log.Info("constraint migrated", "table", t.Name(), "outcome", outcome.String())
	return outcome, nil
}

// backfill writes the complete candidates and returns how many were skipped.
func (m *Migrator) backfill(ctx context.Context, t *schema.TableSchema, w *ConstraintWrapper, oldPrimary []string) int {
	r := m.exec.Renderer()
	incomplete := 0
	var cmds []query.Command
	for _, c := range w.candidates {
		if !c.Complete(w.newPrimary) {
			m.log.Warn("incomplete primary key values", "table", t.Name(), "values", c.Values)
			incomplete++
			continue
		}
		where := c.Where
		if where == nil {
			where = rowWhere(c.row, oldPrimary, w.newPrimary)
		}
		if where == nil {
			m.log.Warn("cannot locate row for candidate", "table", t.Name(), "values", c.Values)
			incomplete++
			continue
		}
		upd := query.Update{Table: t.Name(), Where: where}
		for _, n := range w.newPrimary {
			upd.Set = append(upd.Set, query.Assignment{Column: n, Value: c.Values[n]})
		}
		cmd, err := r.Render(upd)
		if err != nil {
			m.log.Warn("failed to build backfill", "table", t.Name(), "error", err)
			incomplete++
			continue
		}
		cmds = append(cmds, cmd)
	}
	if res := m.exec.Execute(ctx, cmds...); !res.OK() {
		m.log.Warn("backfill partially failed", "table", t.Name(), "failed_groups", res.Failed)
	}
	return incomplete
}

// rowWhere matches a loaded row by its existing primary key, or by all of its
// columns when there is none.
func rowWhere(row map[string]any, oldPrimary, newPrimary []string) query.Condition {
	if row == nil {
		return nil
	}
	var conds []query.Condition
	if len(oldPrimary) > 0 {
		for _, k := range oldPrimary {
			v, ok := row[k]
			if !ok {
				conds = nil
				break
			}
			conds = append(conds, query.Eq(k, v))
		}
		if conds != nil {
			return query.And(conds...)
		}
	}

	skip := make(map[string]bool, len(newPrimary))
	for _, n := range newPrimary {
		skip[n] = true
	}
	keys := make([]string, 0, len(row))
	for k := range row {
		if !skip[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		conds = append(conds, query.Eq(k, row[k]))
	}
	return query.And(conds...)
}

// keysComplete reports whether no row has a NULL in any of keys.
func (m *Migrator) keysComplete(ctx context.Context, table string, keys []string) bool {
	nulls := make([]query.Condition, len(keys))
	for i, k := range keys {
		nulls[i] = query.IsNull(k)
	}
	cmd, err := m.exec.Renderer().Render(query.Select{Table: table, Columns: keys, Where: query.Or(nulls...), Limit: 1})
	if err != nil {
		return false
	}
	rows := m.exec.Query(ctx, cmd)
	return rows != nil && len(rows) == 0
}

// UniqueName returns a stable constraint name for a UNIQUE over columns.
func UniqueName(table string, columns []string) string {
	sum := xxh3.HashString(table + "\x00" + strings.Join(columns, "\x00"))
	prefix := table
	if len(prefix) > 40 {
		prefix = prefix[:40]
	}
	return fmt.Sprintf("uq_%s_%016x", prefix, sum)
}

// apply installs the target key. livePrimary is the key the table has now;
// it is dropped before a new one is added and kept when falling back to UNIQUE.
func (m *Migrator) apply(ctx context.Context, t *schema.TableSchema, outcome Outcome, livePrimary []string, isNew map[string]bool) error {
	primary := t.PrimaryNames()
	r := m.exec.Renderer()

	if !r.Dialect.SupportsAlterConstraint() {
		if outcome == ConstraintApplied {
			return m.rebuild(ctx, t, primary, nil, isNew)
		}
		return m.rebuild(ctx, t, livePrimary, primary, isNew)
	}

	actions := constraintActions(r.Dialect, outcome, t.Name(), livePrimary, primary)
	cmd, err := r.Render(query.AlterTable{Table: t.Name(), Actions: actions})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConstraint, t.Name(), err)
	}
	if !m.exec.Execute(ctx, cmd).OK() {
		m.log.Error("failed to apply constraint", "table", t.Name(), "sql", cmd.SQL)
		return fmt.Errorf("%w: %s", ErrConstraint, t.Name())
	}
	return nil
}

// constraintActions lists the ALTER TABLE actions that move table from
// livePrimary to primary. PostgreSQL drops <table>_pkey IF EXISTS, so it can
// always emit the drop.
func constraintActions(d dialect.Dialect, outcome Outcome, table string, livePrimary, primary []string) []query.AlterAction {
	if outcome != ConstraintApplied {
		return []query.AlterAction{query.AddUnique{Name: UniqueName(table, primary), Columns: primary}}
	}
	var actions []query.AlterAction
	if len(livePrimary) > 0 || d == dialect.PostgreSQL {
		actions = append(actions, query.DropPrimaryKey{})
	}
	return append(actions, query.AddPrimaryKey{Columns: primary})
}

// rebuild recreates t with the target constraints for engines that cannot
// alter them in place. All steps share one transaction.
func (m *Migrator) rebuild(ctx context.Context, t *schema.TableSchema, pk, unique []string, isNew map[string]bool) error {
	if len(pk) == 0 {
		return fmt.Errorf("%w: %s: no primary key to keep", ErrRebuildFailed, t.Name())
	}
	live := m.exec.Columns(ctx, t.Name())
	if live == nil {
		return fmt.Errorf("%w: %s: cannot read columns", ErrRebuildFailed, t.Name())
	}
	present := make(map[string]string, len(live))
	for _, c := range live {
		present[strings.ToLower(c)] = c
	}

	var (
		defs  []query.ColumnDef
		names []string
	)
	declared := make(map[string]bool)
	for _, c := range t.Columns() {
		lower := strings.ToLower(c.Name())
		declared[lower] = true
		liveName, ok := present[lower]
		if !ok {
			continue
		}
		def := c.Definition()
		def.Name = liveName
		if unique != nil && isNew[c.Name()] {
			def.NotNull = false
		}
		defs = append(defs, def)
		names = append(names, liveName)
	}
	for _, c := range live {
		lower := strings.ToLower(c)
		if declared[lower] || m.remove[lower] {
			continue
		}
		defs = append(defs, query.ColumnDef{Name: c})
		names = append(names, c)
	}

	tmp := t.Name() + "_new"
	ct := query.CreateTable{Table: tmp, Columns: defs, PrimaryKey: pk}
	if len(unique) > 0 {
		ct.Unique = unique
		ct.UniqueName = UniqueName(t.Name(), unique)
	}
	steps := []query.Statement{
		query.DropTable{Table: tmp, IfExists: true},
		ct,
		query.InsertSelect{Table: tmp, Columns: names, From: t.Name()},
		query.DropTable{Table: t.Name()},
		query.AlterTable{Table: tmp, Actions: []query.AlterAction{query.RenameTo{Name: t.Name()}}},
	}

	r := m.exec.Renderer()
	cmds := make([]query.Command, len(steps))
	for i, s := range steps {
		cmd, err := r.Render(s)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrRebuildFailed, t.Name(), err)
		}
		cmds[i] = cmd
	}

	tx, err := m.exec.Conn().BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRebuildFailed, t.Name(), err)
	}
	for _, cmd := range cmds {
		if _, err := tx.ExecContext(ctx, cmd.SQL); err != nil {
			_ = tx.Rollback()
			m.log.Error("table rebuild rolled back", "table", t.Name(), "sql", cmd.SQL, "error", err)
			return fmt.Errorf("%w: %s: %w", ErrRebuildFailed, t.Name(), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrRebuildFailed, t.Name(), err)
	}
	return nil
}
