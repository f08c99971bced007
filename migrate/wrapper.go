package migrate

import "github.com/melkeydev/arrowdb/query"

// Handler is called once per table whose primary key gains columns. It
// registers how existing rows get their new key values.
type Handler func(table string, w *ConstraintWrapper)

// Candidate carries the new primary key values for one existing row.
type Candidate struct {
	Values map[string]any
	// Where locates the row. When nil the row is matched by its current
	// primary key, or by every column if the table had none.
	Where query.Condition

	row map[string]any
}

// Complete reports whether every column in keys has a non-nil value.
func (c Candidate) Complete(keys []string) bool {
	for _, k := range keys {
		if v, ok := c.Values[k]; !ok || v == nil {
			return false
		}
	}
	return true
}

// ConstraintWrapper collects candidates for one table migration.
type ConstraintWrapper struct {
	table      string
	newPrimary []string
	primary    []string
	rowFn      func(row map[string]any) *Candidate
	candidates []Candidate
	unique     bool
}

func newConstraintWrapper(table string, newPrimary, primary []string, unique bool) *ConstraintWrapper {
	return &ConstraintWrapper{table: table, newPrimary: newPrimary, primary: primary, unique: unique}
}

func (w *ConstraintWrapper) Table() string { return w.table }

// NewPrimaryColumns names the primary columns being added.
func (w *ConstraintWrapper) NewPrimaryColumns() []string { return append([]string(nil), w.newPrimary...) }

// PrimaryColumns names every primary column of the target key.
func (w *ConstraintWrapper) PrimaryColumns() []string { return append([]string(nil), w.primary...) }

// ForEachRow registers fn to run on every existing row. A nil result leaves
// the row without new key values.
func (w *ConstraintWrapper) ForEachRow(fn func(row map[string]any) *Candidate) {
	w.rowFn = fn
}

// AddQueryData adds a candidate directly. Such candidates need a Where.
func (w *ConstraintWrapper) AddQueryData(c Candidate) {
	w.candidates = append(w.candidates, c)
}

// SetUnique allows a UNIQUE constraint when some rows stay incomplete.
func (w *ConstraintWrapper) SetUnique(unique bool) { w.unique = unique }

func (w *ConstraintWrapper) Unique() bool { return w.unique }

func (w *ConstraintWrapper) Candidates() []Candidate { return append([]Candidate(nil), w.candidates...) }

// AllPrimaryValuesPresent reports whether every collected candidate is
// complete.
func (w *ConstraintWrapper) AllPrimaryValuesPresent() bool {
	for _, c := range w.candidates {
		if !c.Complete(w.newPrimary) {
			return false
		}
	}
	return true
}

func (w *ConstraintWrapper) loadRow(row map[string]any) bool {
	if w.rowFn == nil {
		return false
	}
	c := w.rowFn(row)
	if c == nil {
		return false
	}
	c.row = row
	w.candidates = append(w.candidates, *c)
	return true
}
