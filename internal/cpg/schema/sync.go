package schema

import (
	"fmt"
	"sort"
)

// Row is one table row keyed by raw column name.
type Row map[string]any

// Entry is a batch of rows for one table.
type Entry struct {
	Table string `json:"table"`
	Rows  []Row  `json:"rows"`
}

// Validate checks that the entry names a synced table and that every row
// carries its primary key and only known columns.
func (e Entry) Validate() error {
	t, err := LookupTable(e.Table)
	if err != nil {
		return err
	}
	for i, row := range e.Rows {
		if _, ok := row[t.PK]; !ok {
			return fmt.Errorf("%s row %d: missing primary key %s", e.Table, i, t.PK)
		}
		for col := range row {
			if col == ColSyncLayer {
				continue
			}
			if !t.HasColumn(col) {
				return fmt.Errorf("%s row %d: unknown column %s", e.Table, i, col)
			}
		}
	}
	return nil
}

// CountRows sums the rows across entries.
func CountRows(entries []Entry) int {
	n := 0
	for _, e := range entries {
		n += len(e.Rows)
	}
	return n
}

// PullResponse is the body of GET /sync/from-server.
type PullResponse struct {
	LastSync string  `json:"lastSync"`
	Entries  []Entry `json:"entries"`
}

// Snapshot is the full-database document exchanged by the snapshot path.
type Snapshot struct {
	LastSync string           `json:"lastSync"`
	DB       map[string][]Row `json:"db"`
}

// NewSnapshot returns a snapshot with an empty row list for every table.
func NewSnapshot(lastSync string) *Snapshot {
	db := make(map[string][]Row, len(Tables))
	for _, t := range Tables {
		db[t.Name] = []Row{}
	}
	return &Snapshot{LastSync: lastSync, DB: db}
}

// Entries converts the snapshot into per-table batches in sync order.
// Tables the document does not know are reported as an error.
func (s *Snapshot) Entries() ([]Entry, error) {
	known := make(map[string]bool, len(Tables))
	entries := make([]Entry, 0, len(s.DB))
	for _, t := range Tables {
		known[t.Name] = true
		if rows, ok := s.DB[t.Name]; ok {
			entries = append(entries, Entry{Table: t.Name, Rows: rows})
		}
	}
	var unknown []string
	for name := range s.DB {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("unknown table %s", unknown[0])
	}
	return entries, nil
}
