package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/etenlab/core/internal/cpg/schema"
)

// conflictPolicy says what happens to a replayed row that collides with a
// different local row on a secondary unique key.
type conflictPolicy int

const (
	// nextGeneration moves the incoming property key past the local
	// generations of that property, so its value becomes the latest.
	nextGeneration conflictPolicy = iota
	// keepLocal drops the incoming row.
	keepLocal
	// adoptIncoming renames the local row to the incoming id, rewriting the
	// rows that reference it. The incoming columns then overwrite it.
	adoptIncoming
)

type childRef struct {
	table string
	col   string
}

// secondaryKey mirrors one unique index of the schema other than a
// primary key.
type secondaryKey struct {
	cols     []string
	policy   conflictPolicy
	children []childRef
}

var secondaryKeys = map[string]secondaryKey{
	schema.TableNodePropertyKeys: {
		cols:   []string{"node_id", "property_key", "generation"},
		policy: nextGeneration,
	},
	schema.TableRelationshipPropertyKeys: {
		cols:   []string{"relationship_id", "property_key", "generation"},
		policy: nextGeneration,
	},
	// Keys are shared by id, so a second value for one key can only come
	// from a misbehaving peer. Values are immutable: the first one stays.
	schema.TableNodePropertyValues: {
		cols:   []string{"node_property_key_id"},
		policy: keepLocal,
	},
	schema.TableRelationshipPropertyValues: {
		cols:   []string{"relationship_property_key_id"},
		policy: keepLocal,
	},
	schema.TableElections: {
		cols:     []string{"election_type", "election_ref", "ref_table_name"},
		policy:   adoptIncoming,
		children: []childRef{{table: schema.TableCandidates, col: "election_id"}},
	},
	schema.TableCandidates: {
		cols:     []string{"election_id", "candidate_ref"},
		policy:   adoptIncoming,
		children: []childRef{{table: schema.TableVotes, col: "candidate_id"}},
	},
	schema.TableVotes: {
		cols:   []string{"candidate_id", "user_id"},
		policy: adoptIncoming,
	},
}

// resolveConflict looks for a local row other than row's own that holds
// the same secondary key, and applies the table policy. It may rewrite
// row. It reports whether row should still be written.
func (s *Store) resolveConflict(ctx context.Context, t schema.Table, row schema.Row, stamp string, layer int64) (bool, error) {
	sk, ok := secondaryKeys[t.Name]
	if !ok {
		return true, nil
	}

	conds := make([]string, 0, len(sk.cols))
	args := make([]any, 0, len(sk.cols)+1)
	for _, col := range sk.cols {
		v, ok := row[col]
		if !ok {
			// Partial rows only update by primary key.
			return true, nil
		}
		conds = append(conds, col+" = ?")
		args = append(args, v)
	}
	id := row[t.PK]
	args = append(args, id)

	var localID string
	err := s.q.QueryRowContext(ctx,
		`SELECT `+t.PK+` FROM `+t.Name+` WHERE `+strings.Join(conds, " AND ")+` AND `+t.PK+` <> ?`,
		args...).Scan(&localID)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check %s conflicts: %w", t.Name, err)
	}

	switch sk.policy {
	case keepLocal:
		return false, nil
	case nextGeneration:
		gen, err := s.replayGeneration(ctx, t, sk, row)
		if err != nil {
			return false, err
		}
		row["generation"] = gen
		return true, nil
	case adoptIncoming:
		return true, s.rekey(ctx, t, sk, localID, id, stamp, layer)
	default:
		return false, fmt.Errorf("unknown conflict policy %d for %s", sk.policy, t.Name)
	}
}

// replayGeneration picks the generation for an incoming property key whose
// own generation is taken locally. A key replayed before keeps the
// generation it was given then, so replay stays idempotent.
func (s *Store) replayGeneration(ctx context.Context, t schema.Table, sk secondaryKey, row schema.Row) (int64, error) {
	owner, name := sk.cols[0], sk.cols[1]

	var gen int64
	err := s.q.QueryRowContext(ctx,
		`SELECT generation FROM `+t.Name+` WHERE `+t.PK+` = ? AND `+owner+` = ? AND `+name+` = ?`,
		row[t.PK], row[owner], row[name]).Scan(&gen)
	switch {
	case err == nil:
		return gen, nil
	case !errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("failed to read %s generation: %w", t.Name, err)
	}

	err = s.q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(generation), -1) + 1 FROM `+t.Name+` WHERE `+owner+` = ? AND `+name+` = ?`,
		row[owner], row[name]).Scan(&gen)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s generation: %w", t.Name, err)
	}
	return gen, nil
}

// rekey renames the local row localID to id and points its children at
// the new id.
func (s *Store) rekey(ctx context.Context, t schema.Table, sk secondaryKey, localID string, id any, stamp string, layer int64) error {
	_, err := s.q.ExecContext(ctx,
		`UPDATE `+t.Name+` SET `+t.PK+` = ?, updated_at = ? WHERE `+t.PK+` = ?`,
		id, stamp, localID)
	if err != nil {
		return fmt.Errorf("failed to rekey %s %s: %w", t.Name, localID, err)
	}

	for _, c := range sk.children {
		_, err := s.q.ExecContext(ctx,
			`UPDATE `+c.table+` SET `+c.col+` = ?, updated_at = ?, sync_layer = ? WHERE `+c.col+` = ?`,
			id, stamp, layer, localID)
		if err != nil {
			return fmt.Errorf("failed to repoint %s.%s: %w", c.table, c.col, err)
		}
	}
	return nil
}
