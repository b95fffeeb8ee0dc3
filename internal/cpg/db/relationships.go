package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/etenlab/core/internal/cpg/cpgerr"
	"github.com/etenlab/core/internal/cpg/schema"
)

const relationshipColumns = `relationship_id, relationship_type, from_node_id, to_node_id, sync_layer`

// CreateRelationship inserts a directed edge after checking both endpoints.
// It is not idempotent: repeated calls create parallel edges.
func (s *Store) CreateRelationship(ctx context.Context, fromID, toID, relType string, layer int64) (*schema.Relationship, error) {
	var rel *schema.Relationship
	err := s.InTx(ctx, func(tx *Store) error {
		if err := tx.requireNodes(ctx, fromID, toID); err != nil {
			return err
		}
		if _, err := tx.CreateRelationshipType(ctx, relType, layer); err != nil {
			return err
		}
		id, err := tx.insertRelationship(ctx, fromID, toID, relType, layer)
		if err != nil {
			return err
		}
		rel = &schema.Relationship{ID: id, Type: relType, FromNodeID: fromID, ToNodeID: toID, SyncLayer: layer}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rel, nil
}

// CreateFromManyRelsNoChecks inserts one edge from each of fromIDs to toID
// without checking that the endpoints exist. Import pipelines that already
// guarantee existence use it for throughput.
func (s *Store) CreateFromManyRelsNoChecks(ctx context.Context, fromIDs []string, toID, relType string, layer int64) ([]string, error) {
	ids := make([]string, 0, len(fromIDs))
	err := s.InTx(ctx, func(tx *Store) error {
		if _, err := tx.CreateRelationshipType(ctx, relType, layer); err != nil {
			return err
		}
		for _, fromID := range fromIDs {
			id, err := tx.insertRelationship(ctx, fromID, toID, relType, layer)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *Store) insertRelationship(ctx context.Context, fromID, toID, relType string, layer int64) (string, error) {
	id := newID()
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO relationships (relationship_id, relationship_type, from_node_id, to_node_id, sync_layer, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, relType, fromID, toID, layer, s.now())
	if err != nil {
		return "", fmt.Errorf("failed to create relationship %s--%s--%s: %w", fromID, relType, toID, err)
	}
	return id, nil
}

// requireNodes fails with NotFound naming the first missing node.
func (s *Store) requireNodes(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		ok, err := s.NodeExists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return cpgerr.NotFound("node", id)
		}
	}
	return nil
}

// FindRelationship returns an edge of relType from fromID to toID, or nil.
// The lookup is direction-sensitive. Both nodes must exist.
func (s *Store) FindRelationship(ctx context.Context, fromID, toID, relType string) (*schema.Relationship, error) {
	if err := s.requireNodes(ctx, fromID, toID); err != nil {
		return nil, err
	}

	rows, err := s.q.QueryContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationships
		WHERE from_node_id = ? AND to_node_id = ? AND relationship_type = ?
		ORDER BY updated_at, relationship_id LIMIT 1`,
		fromID, toID, relType)
	if err != nil {
		return nil, fmt.Errorf("failed to find relationship: %w", err)
	}
	rels, err := scanRelationships(rows)
	if err != nil {
		return nil, err
	}
	if len(rels) == 0 {
		return nil, nil
	}
	return rels[0], nil
}

// ReadRelationship loads one relationship with its properties and, when
// withNodes is set, both endpoint nodes. It fails with NotFound if missing.
func (s *Store) ReadRelationship(ctx context.Context, id string, withNodes bool) (*schema.Relationship, error) {
	var rel schema.Relationship
	err := s.q.QueryRowContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationships WHERE relationship_id = ?`, id).
		Scan(&rel.ID, &rel.Type, &rel.FromNodeID, &rel.ToNodeID, &rel.SyncLayer)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cpgerr.NotFound("relationship", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read relationship %s: %w", id, err)
	}

	if err := s.attachRelationshipProperties(ctx, []*schema.Relationship{&rel}); err != nil {
		return nil, err
	}

	if withNodes {
		// Endpoints may be absent on a replica that has not received them yet.
		if n, err := s.ReadNode(ctx, rel.FromNodeID, schema.Relations{Properties: true}); err == nil {
			rel.FromNode = n
		} else if !cpgerr.IsNotFound(err) {
			return nil, err
		}
		if n, err := s.ReadNode(ctx, rel.ToNodeID, schema.Relations{Properties: true}); err == nil {
			rel.ToNode = n
		} else if !cpgerr.IsNotFound(err) {
			return nil, err
		}
	}
	return &rel, nil
}

// ListRelationshipsByType returns every relationship of a type, optionally
// with properties.
func (s *Store) ListRelationshipsByType(ctx context.Context, relType string, withProperties bool) ([]*schema.Relationship, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationships WHERE relationship_type = ? ORDER BY relationship_id`, relType)
	if err != nil {
		return nil, fmt.Errorf("failed to list relationships of type %s: %w", relType, err)
	}
	rels, err := scanRelationships(rows)
	if err != nil {
		return nil, err
	}
	if withProperties {
		if err := s.attachRelationshipProperties(ctx, rels); err != nil {
			return nil, err
		}
	}
	return rels, nil
}

// relationshipsByEndpoint groups the relationships whose column (from_node_id
// or to_node_id) is one of ids.
func (s *Store) relationshipsByEndpoint(ctx context.Context, column string, ids []string) (map[string][]*schema.Relationship, error) {
	out := make(map[string][]*schema.Relationship)
	for start := 0; start < len(ids); start += maxInArgs {
		end := start + maxInArgs
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		rows, err := s.q.QueryContext(ctx,
			`SELECT `+relationshipColumns+` FROM relationships
			WHERE `+column+` IN (`+placeholders(len(chunk))+`)
			ORDER BY relationship_type, relationship_id`,
			stringArgs(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("failed to load relationships: %w", err)
		}
		rels, err := scanRelationships(rows)
		if err != nil {
			return nil, err
		}
		for _, r := range rels {
			key := r.FromNodeID
			if column == "to_node_id" {
				key = r.ToNodeID
			}
			out[key] = append(out[key], r)
		}
	}
	return out, nil
}

func (s *Store) attachRelationshipProperties(ctx context.Context, rels []*schema.Relationship) error {
	if len(rels) == 0 {
		return nil
	}
	ids := make([]string, len(rels))
	for i, r := range rels {
		ids[i] = r.ID
	}
	props, err := s.loadProperties(ctx, relProps, ids)
	if err != nil {
		return err
	}
	for _, r := range rels {
		r.Properties = props[r.ID]
		if r.Properties == nil {
			r.Properties = map[string]schema.Value{}
		}
	}
	return nil
}

func scanRelationships(rows *sql.Rows) ([]*schema.Relationship, error) {
	defer rows.Close()
	var rels []*schema.Relationship
	for rows.Next() {
		var r schema.Relationship
		if err := rows.Scan(&r.ID, &r.Type, &r.FromNodeID, &r.ToNodeID, &r.SyncLayer); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		rels = append(rels, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating relationships: %w", err)
	}
	return rels, nil
}
