// Package migrate brings live tables in line with their declared schema.
//
// A Reconciler creates missing tables and adds missing plain columns. Missing
// primary columns are left for the Migrator, which backfills them, then
// promotes them to a PRIMARY KEY or falls back to a UNIQUE constraint.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/melkeydev/arrowdb/batch"
	"github.com/melkeydev/arrowdb/query"
	"github.com/melkeydev/arrowdb/schema"
)

var (
	ErrCreateTable        = errors.New("failed to create table")
	ErrColumnAddition     = errors.New("failed to add columns")
	ErrHandlerMissing     = errors.New("primary key migration needs a constraint handler")
	ErrBackfillIncomplete = errors.New("primary key values missing for existing rows")
	ErrConstraint         = errors.New("failed to apply constraint")
	ErrRebuildFailed      = errors.New("table rebuild failed")
)

// Plan is the outcome of comparing one declared table with its live copy.
type Plan struct {
	Table string
	// Add holds the missing non-primary columns.
	Add []schema.Column
	// NewPrimary holds the missing primary columns.
	NewPrimary []schema.Column
	// Rekey holds declared primary columns that exist but sit outside the
	// live primary key, e.g. after an aborted migration.
	Rekey []schema.Column
	// LivePrimary is the primary key the table has now.
	LivePrimary []string
	// Failed lists columns whose independent ADD COLUMN failed.
	Failed []string
	// Altered counts the ALTER statements that ran.
	Altered int
	// Aborted means column addition failed and constraint work must be skipped.
	Aborted bool
}

// Pending returns the primary columns the migration has to bring into the key.
func (p Plan) Pending() []schema.Column {
	if len(p.Rekey) == 0 {
		return p.NewPrimary
	}
	return append(append([]schema.Column(nil), p.NewPrimary...), p.Rekey...)
}

// NeedsMigration reports whether primary columns are pending.
func (p Plan) NeedsMigration() bool { return len(p.Pending()) > 0 && !p.Aborted }

type Reconciler struct {
	exec   *batch.Executor
	remove map[string]bool
	log    *slog.Logger
}

// NewReconciler returns a reconciler that ignores the columns in remove.
func NewReconciler(exec *batch.Executor, remove []string, log *slog.Logger) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	r := &Reconciler{exec: exec, remove: make(map[string]bool, len(remove)), log: log}
	for _, c := range remove {
		r.remove[strings.ToLower(c)] = true
	}
	return r
}

// Reconcile creates t if needed and adds its missing plain columns.
func (r *Reconciler) Reconcile(ctx context.Context, t *schema.TableSchema) (Plan, error) {
	plan := Plan{Table: t.Name()}

	create, err := r.exec.Renderer().Render(t.CreateStatement())
	if err != nil {
		return plan, fmt.Errorf("failed to build table %s: %w", t.Name(), err)
	}
	if !r.exec.Execute(ctx, create).OK() {
		return plan, fmt.Errorf("%w: %s", ErrCreateTable, t.Name())
	}

	live := r.exec.Columns(ctx, t.Name())
	if live == nil {
		return plan, fmt.Errorf("%w: cannot read columns of %s", ErrCreateTable, t.Name())
	}
	present := make(map[string]bool, len(live))
	for _, c := range live {
		present[strings.ToLower(c)] = true
	}

	for _, c := range t.Columns() {
		name := strings.ToLower(c.Name())
		if present[name] || r.remove[name] {
			continue
		}
		if c.Primary() {
			plan.NewPrimary = append(plan.NewPrimary, c)
		} else {
			plan.Add = append(plan.Add, c)
		}
	}

	r.liveKey(ctx, t, present, &plan)

	if len(plan.Add) == 0 {
		return plan, nil
	}
	defs := make([]query.ColumnDef, len(plan.Add))
	for i, c := range plan.Add {
		defs[i] = c.Definition()
	}
	if err := addColumns(ctx, r.exec, r.log, t.Name(), defs, &plan); err != nil {
		return plan, err
	}
	return plan, nil
}

// liveKey fills plan.LivePrimary and plan.Rekey. A declared primary set that
// is already covered by a live UNIQUE key counts as settled. When the live
// key cannot be read the declared key is trusted.
func (r *Reconciler) liveKey(ctx context.Context, t *schema.TableSchema, present map[string]bool, plan *Plan) {
	isNew := make(map[string]bool, len(plan.NewPrimary))
	for _, c := range plan.NewPrimary {
		isNew[c.Name()] = true
	}

	pk, ok := r.exec.PrimaryKey(ctx, t.Name())
	if !ok {
		for _, p := range t.PrimaryNames() {
			if !isNew[p] {
				plan.LivePrimary = append(plan.LivePrimary, p)
			}
		}
		return
	}
	inKey := make(map[string]bool, len(pk))
	for _, p := range pk {
		plan.LivePrimary = append(plan.LivePrimary, t.CanonicalName(p))
		inKey[strings.ToLower(p)] = true
	}

	var rekey []schema.Column
	for _, c := range t.PrimaryColumns() {
		name := strings.ToLower(c.Name())
		if present[name] && !inKey[name] && !r.remove[name] {
			rekey = append(rekey, c)
		}
	}
	if len(rekey) == 0 {
		return
	}
	if keys, ok := r.exec.UniqueKeys(ctx, t.Name()); ok {
		for _, k := range keys {
			if sameColumns(k, t.PrimaryNames()) {
				return
			}
		}
	}
	plan.Rekey = rekey
}

// sameColumns compares two column sets ignoring order and case.
func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, c := range a {
		set[strings.ToLower(c)] = true
	}
	for _, c := range b {
		if !set[strings.ToLower(c)] {
			return false
		}
	}
	return true
}

// addColumns runs ALTER TABLE ADD COLUMN for defs, batched where the dialect
// allows. A batched failure aborts the plan; per-column failures are recorded
// in plan.Failed.
func addColumns(ctx context.Context, exec *batch.Executor, log *slog.Logger, table string, defs []query.ColumnDef, plan *Plan) error {
	r := exec.Renderer()

	if r.Dialect.BatchesAddColumn() {
		cmd, err := r.Render(query.AlterTable{Table: table, Actions: []query.AlterAction{query.AddColumns{Columns: defs}}})
		if err != nil {
			plan.Aborted = true
			return fmt.Errorf("%w: %s: %w", ErrColumnAddition, table, err)
		}
		plan.Altered++
		if !exec.Execute(ctx, cmd).OK() {
			plan.Aborted = true
			log.Error("column addition aborted, skipping constraint migration", "table", table, "sql", cmd.SQL)
			return fmt.Errorf("%w: %s", ErrColumnAddition, table)
		}
		return nil
	}

	for _, def := range defs {
		cmd, err := r.Render(query.AlterTable{Table: table, Actions: []query.AlterAction{query.AddColumns{Columns: []query.ColumnDef{def}}}})
		if err == nil {
			plan.Altered++
			if exec.Execute(ctx, cmd).OK() {
				continue
			}
		}
		log.Warn("failed to add column", "table", table, "column", def.Name)
		plan.Failed = append(plan.Failed, def.Name)
	}
	return nil
}
