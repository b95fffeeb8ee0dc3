package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/etenlab/core/internal/cpg/cpgerr"
	"github.com/etenlab/core/internal/cpg/schema"
)

// CreateNodeType finds or creates a node type and returns its name.
// An existing entry is left unchanged.
func (s *Store) CreateNodeType(ctx context.Context, name string, layer int64) (string, error) {
	return s.createTypeName(ctx, schema.TableNodeTypes, name, layer)
}

// ListNodeTypes returns every node type name in sorted order.
func (s *Store) ListNodeTypes(ctx context.Context) ([]string, error) {
	return s.listTypeNames(ctx, schema.TableNodeTypes)
}

// CreateRelationshipType finds or creates a relationship type and returns its name.
func (s *Store) CreateRelationshipType(ctx context.Context, name string, layer int64) (string, error) {
	return s.createTypeName(ctx, schema.TableRelationshipTypes, name, layer)
}

// ListRelationshipTypes returns every relationship type name in sorted order.
func (s *Store) ListRelationshipTypes(ctx context.Context) ([]string, error) {
	return s.listTypeNames(ctx, schema.TableRelationshipTypes)
}

// CreateElectionType finds or creates an election type and returns its name.
func (s *Store) CreateElectionType(ctx context.Context, name string, layer int64) (string, error) {
	return s.createTypeName(ctx, schema.TableElectionTypes, name, layer)
}

// ListElectionTypes returns every election type name in sorted order.
func (s *Store) ListElectionTypes(ctx context.Context) ([]string, error) {
	return s.listTypeNames(ctx, schema.TableElectionTypes)
}

// createTypeName inserts name into a catalog table. The primary key makes the
// insert race-free; a conflict means the entry already exists.
func (s *Store) createTypeName(ctx context.Context, table, name string, layer int64) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", cpgerr.Validation("type name is required").WithContext(cpgerr.CtxTable, table)
	}

	query := `INSERT INTO ` + table + ` (type_name, sync_layer, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(type_name) DO NOTHING`

	if _, err := s.q.ExecContext(ctx, query, name, layer, s.now()); err != nil {
		return "", fmt.Errorf("failed to create %s entry %s: %w", table, name, err)
	}
	return name, nil
}

func (s *Store) listTypeNames(ctx context.Context, table string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT type_name FROM `+table+` ORDER BY type_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", table, err)
	}
	return scanStrings(rows)
}
