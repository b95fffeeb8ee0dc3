package db

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/etenlab/core/internal/cpg/cpgerr"
	"github.com/etenlab/core/internal/cpg/schema"
)

// ExportLayerRange returns, per table in sync order, the rows whose
// sync_layer lies in [from, to]. Tables without matches are omitted and
// sync_layer is not included in the rows.
func (s *Store) ExportLayerRange(ctx context.Context, from, to int64) ([]schema.Entry, error) {
	var entries []schema.Entry
	for _, t := range schema.Tables {
		rows, err := s.selectRows(ctx, t, `WHERE sync_layer >= ? AND sync_layer <= ?`, from, to)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			entries = append(entries, schema.Entry{Table: t.Name, Rows: rows})
		}
	}
	return entries, nil
}

// ExportUpdatedBetween returns the rows with since < updated_at <= until,
// grouped like ExportLayerRange. An empty since has no lower bound.
func (s *Store) ExportUpdatedBetween(ctx context.Context, since, until string) ([]schema.Entry, error) {
	var entries []schema.Entry
	for _, t := range schema.Tables {
		where := `WHERE updated_at <= ?`
		args := []any{until}
		if since != "" {
			where += ` AND updated_at > ?`
			args = append(args, since)
		}
		rows, err := s.selectRows(ctx, t, where, args...)
		if err != nil {
			return nil, err
		}
		if len(rows) > 0 {
			entries = append(entries, schema.Entry{Table: t.Name, Rows: rows})
		}
	}
	return entries, nil
}

// ExportSnapshot returns every row of every synced table.
func (s *Store) ExportSnapshot(ctx context.Context, lastSync string) (*schema.Snapshot, error) {
	snap := schema.NewSnapshot(lastSync)
	for _, t := range schema.Tables {
		rows, err := s.selectRows(ctx, t, "")
		if err != nil {
			return nil, err
		}
		if rows != nil {
			snap.DB[t.Name] = rows
		}
	}
	return snap, nil
}

func (s *Store) selectRows(ctx context.Context, t schema.Table, where string, args ...any) ([]schema.Row, error) {
	query := `SELECT ` + strings.Join(t.Columns, ", ") + ` FROM ` + t.Name + ` ` + where + ` ORDER BY ` + t.PK

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to export %s: %w", t.Name, err)
	}
	defer rows.Close()

	var out []schema.Row
	for rows.Next() {
		values := make([]any, len(t.Columns))
		ptrs := make([]any, len(t.Columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", t.Name, err)
		}
		row := make(schema.Row, len(t.Columns))
		for i, col := range t.Columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s rows: %w", t.Name, err)
	}
	return out, nil
}

// ReplayOptions controls ReplayEntries.
type ReplayOptions struct {
	// Restamp overwrites updated_at with the local clock, so the rows show
	// up in this store's time-based deltas.
	Restamp bool
	// Stamp replaces the local clock for Restamp when set.
	Stamp string
	// Layer is stamped on local rows rewritten to follow a replayed row, so
	// the rewrite reaches the peer in the next out-delta.
	Layer int64
}

// ReplayEntries applies inbound rows with insert-or-update by primary key,
// all batches in one transaction. Rows are stamped with ReplayedLayer.
// Applying the same entries twice leaves the same state as applying them
// once. Rows colliding with a local row on a secondary unique key are
// resolved per table, see secondaryKeys. It returns the number of rows
// written; dropped rows are not counted.
func (s *Store) ReplayEntries(ctx context.Context, entries []schema.Entry, opts ReplayOptions) (int, error) {
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return 0, cpgerr.Wrap(err, cpgerr.CodeValidation, "invalid sync entry").WithContext(cpgerr.CtxTable, e.Table)
		}
	}

	applied := 0
	err := s.InTx(ctx, func(tx *Store) error {
		for _, e := range entries {
			t, _ := schema.LookupTable(e.Table)
			for _, row := range e.Rows {
				written, err := tx.upsertRow(ctx, t, row, opts)
				if err != nil {
					return err
				}
				if written {
					applied++
				}
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

func (s *Store) upsertRow(ctx context.Context, t schema.Table, row schema.Row, opts ReplayOptions) (bool, error) {
	row, err := normalizeRow(t, row)
	if err != nil {
		return false, err
	}

	stamp := s.now()
	if opts.Stamp != "" {
		stamp = opts.Stamp
	}

	keep, err := s.resolveConflict(ctx, t, row, stamp, opts.Layer)
	if err != nil || !keep {
		return false, err
	}

	cols := make([]string, 0, len(t.Columns)+1)
	args := make([]any, 0, len(t.Columns)+1)
	for _, col := range t.Columns {
		if col == schema.ColUpdatedAt {
			continue
		}
		if v, ok := row[col]; ok {
			cols = append(cols, col)
			args = append(args, v)
		}
	}

	updatedAt, _ := row[schema.ColUpdatedAt].(string)
	if opts.Restamp || updatedAt == "" {
		updatedAt = stamp
	}
	cols = append(cols, schema.ColUpdatedAt, schema.ColSyncLayer)
	args = append(args, updatedAt, ReplayedLayer)

	var sets []string
	for _, col := range cols {
		if col != t.PK {
			sets = append(sets, col+" = excluded."+col)
		}
	}

	query := `INSERT INTO ` + t.Name + ` (` + strings.Join(cols, ", ") + `)
	VALUES (` + placeholders(len(cols)) + `)
	ON CONFLICT(` + t.PK + `) DO UPDATE SET ` + strings.Join(sets, ", ")

	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return false, fmt.Errorf("failed to replay %s row %v: %w", t.Name, row[t.PK], err)
	}
	return true, nil
}

// normalizeRow returns a copy of row holding driver values for the wire
// columns of t. Property values are re-encoded in canonical form so that
// equality lookups match them.
func normalizeRow(t schema.Table, row schema.Row) (schema.Row, error) {
	out := make(schema.Row, len(row))
	for _, col := range t.Columns {
		v, ok := row[col]
		if !ok {
			continue
		}
		nv, err := normalizeColumnValue(v)
		if err != nil {
			return nil, cpgerr.Validation(fmt.Sprintf("%s.%s: %v", t.Name, col, err)).WithContext(cpgerr.CtxTable, t.Name)
		}
		if col == colPropertyValue {
			if nv, err = canonicalPropertyValue(nv); err != nil {
				return nil, cpgerr.Validation(fmt.Sprintf("%s row %v: %v", t.Name, row[t.PK], err)).WithContext(cpgerr.CtxTable, t.Name)
			}
		}
		out[col] = nv
	}
	return out, nil
}

const colPropertyValue = "property_value"

func canonicalPropertyValue(v any) (string, error) {
	text, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("property_value must be a string, got %T", v)
	}
	value, err := schema.DecodeProperty(text)
	if err != nil {
		return "", err
	}
	return schema.EncodeProperty(value)
}

// normalizeColumnValue converts a decoded JSON scalar into a driver value.
func normalizeColumnValue(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, int64:
		return x, nil
	case int:
		return int64(x), nil
	case bool:
		return int64(boolToInt(x)), nil
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return int64(x), nil
		}
		return x, nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", x)
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported column value of type %T", v)
	}
}
