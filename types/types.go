package types

type Column struct {
	Name     string  `json:"name"`
	Type     string  `json:"type"`
	Nullable bool    `json:"nullable"`
	Default  *string `json:"default,omitempty"`
}

type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// TableDescription is the live shape of one table as the database reports it.
type TableDescription struct {
	Name        string           `json:"name"`
	Columns     []Column         `json:"columns"`
	RowCount    int64            `json:"row_count"`
	SampleData  []map[string]any `json:"sample_data,omitempty"`
	Indexes     []Index          `json:"indexes,omitempty"`
	PrimaryKeys []string         `json:"primary_keys,omitempty"`
}

// SyncReport summarises one table after schema reconciliation.
type SyncReport struct {
	Table      string   `json:"table"`
	Added      []string `json:"added,omitempty"`
	NewPrimary []string `json:"new_primary,omitempty"`
	Failed     []string `json:"failed,omitempty"`
	Outcome    string   `json:"outcome"`
	Error      string   `json:"error,omitempty"`
}
