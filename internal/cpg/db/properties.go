package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/etenlab/core/internal/cpg/cpgerr"
	"github.com/etenlab/core/internal/cpg/schema"
)

// propertyTables names the owner, key and value tables of one property family.
type propertyTables struct {
	entity     string
	ownerTable string
	ownerCol   string
	keyTable   string
	keyPK      string
	valueTable string
	valuePK    string
}

var (
	nodeProps = propertyTables{
		entity:     "node",
		ownerTable: schema.TableNodes,
		ownerCol:   "node_id",
		keyTable:   schema.TableNodePropertyKeys,
		keyPK:      "node_property_key_id",
		valueTable: schema.TableNodePropertyValues,
		valuePK:    "node_property_value_id",
	}
	relProps = propertyTables{
		entity:     "relationship",
		ownerTable: schema.TableRelationships,
		ownerCol:   "relationship_id",
		keyTable:   schema.TableRelationshipPropertyKeys,
		keyPK:      "relationship_property_key_id",
		valueTable: schema.TableRelationshipPropertyValues,
		valuePK:    "relationship_property_value_id",
	}
)

// latestKeyCond restricts key alias k to the highest generation of its name
// that has a value.
func (p propertyTables) latestKeyCond(k string) string {
	return fmt.Sprintf(`%[1]s.generation = (
		SELECT MAX(k2.generation) FROM %[2]s k2
		JOIN %[3]s v2 ON v2.%[4]s = k2.%[4]s
		WHERE k2.%[5]s = %[1]s.%[5]s AND k2.property_key = %[1]s.property_key
	)`, k, p.keyTable, p.valueTable, p.keyPK, p.ownerCol)
}

// CreateNodePropertyKey binds name to a node. It fails with NotFound if the
// node is missing and AlreadyExists if the node already has that key.
func (s *Store) CreateNodePropertyKey(ctx context.Context, nodeID, name string, layer int64) (string, error) {
	return s.createPropertyKey(ctx, nodeProps, nodeID, name, layer)
}

// CreateNodePropertyKeyNoChecks binds name to a node without probing. The
// unique index still rejects a duplicate.
func (s *Store) CreateNodePropertyKeyNoChecks(ctx context.Context, nodeID, name string, layer int64) (string, error) {
	return s.insertPropertyKey(ctx, nodeProps, nodeID, name, 0, layer)
}

// FindNodePropertyKey returns the id of the latest generation of name on a
// node. The boolean is false when the node has no such key.
func (s *Store) FindNodePropertyKey(ctx context.Context, nodeID, name string) (string, bool, error) {
	return s.findPropertyKey(ctx, nodeProps, nodeID, name)
}

// CreateNodePropertyValue stores value under a key. It fails with NotFound if
// the key is missing and AlreadyExists if the key already holds a value.
func (s *Store) CreateNodePropertyValue(ctx context.Context, keyID string, value schema.Value, layer int64) (string, error) {
	return s.createPropertyValue(ctx, nodeProps, keyID, value, layer)
}

// GetNodePropertyValue returns the latest value of name on a node.
func (s *Store) GetNodePropertyValue(ctx context.Context, nodeID, name string) (schema.Value, bool, error) {
	return s.getPropertyValue(ctx, nodeProps, nodeID, name)
}

// AppendNodeProperty writes value as the next generation of name on a node,
// key and value in one transaction.
func (s *Store) AppendNodeProperty(ctx context.Context, nodeID, name string, value schema.Value, layer int64) (*schema.PropertyKey, error) {
	return s.appendProperty(ctx, nodeProps, nodeID, name, value, layer)
}

// CreateRelationshipPropertyKey binds name to a relationship.
func (s *Store) CreateRelationshipPropertyKey(ctx context.Context, relID, name string, layer int64) (string, error) {
	return s.createPropertyKey(ctx, relProps, relID, name, layer)
}

// CreateRelationshipPropertyKeyNoChecks binds name to a relationship without probing.
func (s *Store) CreateRelationshipPropertyKeyNoChecks(ctx context.Context, relID, name string, layer int64) (string, error) {
	return s.insertPropertyKey(ctx, relProps, relID, name, 0, layer)
}

// FindRelationshipPropertyKey returns the id of the latest generation of name
// on a relationship.
func (s *Store) FindRelationshipPropertyKey(ctx context.Context, relID, name string) (string, bool, error) {
	return s.findPropertyKey(ctx, relProps, relID, name)
}

// CreateRelationshipPropertyValue stores value under a relationship key.
func (s *Store) CreateRelationshipPropertyValue(ctx context.Context, keyID string, value schema.Value, layer int64) (string, error) {
	return s.createPropertyValue(ctx, relProps, keyID, value, layer)
}

// GetRelationshipPropertyValue returns the latest value of name on a relationship.
func (s *Store) GetRelationshipPropertyValue(ctx context.Context, relID, name string) (schema.Value, bool, error) {
	return s.getPropertyValue(ctx, relProps, relID, name)
}

// AppendRelationshipProperty writes value as the next generation of name on
// a relationship.
func (s *Store) AppendRelationshipProperty(ctx context.Context, relID, name string, value schema.Value, layer int64) (*schema.PropertyKey, error) {
	return s.appendProperty(ctx, relProps, relID, name, value, layer)
}

func (s *Store) ownerExists(ctx context.Context, p propertyTables, ownerID string) (bool, error) {
	var one int
	err := s.q.QueryRowContext(ctx,
		`SELECT 1 FROM `+p.ownerTable+` WHERE `+p.ownerCol+` = ?`, ownerID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up %s %s: %w", p.entity, ownerID, err)
	}
	return true, nil
}

func (s *Store) createPropertyKey(ctx context.Context, p propertyTables, ownerID, name string, layer int64) (string, error) {
	if err := (schema.Prop{Key: name}).Validate(); err != nil {
		return "", cpgerr.Validation(err.Error())
	}

	exists, err := s.ownerExists(ctx, p, ownerID)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", cpgerr.NotFound(p.entity, ownerID)
	}

	var count int
	err = s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+p.keyTable+` WHERE `+p.ownerCol+` = ? AND property_key = ?`,
		ownerID, name).Scan(&count)
	if err != nil {
		return "", fmt.Errorf("failed to probe %s property key %s: %w", p.entity, name, err)
	}
	if count > 0 {
		return "", cpgerr.AlreadyExists(p.entity+" property key", name).WithContext(cpgerr.CtxID, ownerID)
	}

	return s.insertPropertyKey(ctx, p, ownerID, name, 0, layer)
}

func (s *Store) insertPropertyKey(ctx context.Context, p propertyTables, ownerID, name string, generation, layer int64) (string, error) {
	id := newID()
	query := `INSERT INTO ` + p.keyTable + ` (` + p.keyPK + `, ` + p.ownerCol + `, property_key, generation, sync_layer, updated_at)
	VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.q.ExecContext(ctx, query, id, ownerID, name, generation, layer, s.now()); err != nil {
		return "", fmt.Errorf("failed to create %s property key %s: %w", p.entity, name, err)
	}
	return id, nil
}

func (s *Store) findPropertyKey(ctx context.Context, p propertyTables, ownerID, name string) (string, bool, error) {
	var id string
	err := s.q.QueryRowContext(ctx,
		`SELECT `+p.keyPK+` FROM `+p.keyTable+`
		WHERE `+p.ownerCol+` = ? AND property_key = ?
		ORDER BY generation DESC LIMIT 1`, ownerID, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to find %s property key %s: %w", p.entity, name, err)
	}
	return id, true, nil
}

func (s *Store) createPropertyValue(ctx context.Context, p propertyTables, keyID string, value schema.Value, layer int64) (string, error) {
	var one int
	err := s.q.QueryRowContext(ctx, `SELECT 1 FROM `+p.keyTable+` WHERE `+p.keyPK+` = ?`, keyID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return "", cpgerr.NotFound(p.entity+" property key", keyID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up %s property key %s: %w", p.entity, keyID, err)
	}

	var existing string
	err = s.q.QueryRowContext(ctx,
		`SELECT `+p.valuePK+` FROM `+p.valueTable+` WHERE `+p.keyPK+` = ?`, keyID).Scan(&existing)
	switch {
	case err == nil:
		return "", cpgerr.AlreadyExists(p.entity+" property value", keyID)
	case !errors.Is(err, sql.ErrNoRows):
		return "", fmt.Errorf("failed to probe %s property value: %w", p.entity, err)
	}

	return s.insertPropertyValue(ctx, p, keyID, value, layer)
}

func (s *Store) insertPropertyValue(ctx context.Context, p propertyTables, keyID string, value schema.Value, layer int64) (string, error) {
	encoded, err := schema.EncodeProperty(value)
	if err != nil {
		return "", cpgerr.Wrap(err, cpgerr.CodeValidation, "invalid property value")
	}

	id := newID()
	query := `INSERT INTO ` + p.valueTable + ` (` + p.valuePK + `, ` + p.keyPK + `, property_value, sync_layer, updated_at)
	VALUES (?, ?, ?, ?, ?)`
	if _, err := s.q.ExecContext(ctx, query, id, keyID, encoded, layer, s.now()); err != nil {
		return "", fmt.Errorf("failed to create %s property value: %w", p.entity, err)
	}
	return id, nil
}

func (s *Store) getPropertyValue(ctx context.Context, p propertyTables, ownerID, name string) (schema.Value, bool, error) {
	var raw string
	err := s.q.QueryRowContext(ctx,
		`SELECT v.property_value FROM `+p.keyTable+` k
		JOIN `+p.valueTable+` v ON v.`+p.keyPK+` = k.`+p.keyPK+`
		WHERE k.`+p.ownerCol+` = ? AND k.property_key = ?
		ORDER BY k.generation DESC LIMIT 1`, ownerID, name).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s property %s: %w", p.entity, name, err)
	}

	v, err := schema.DecodeProperty(raw)
	if err != nil {
		return nil, false, fmt.Errorf("corrupt %s property %s on %s: %w", p.entity, name, ownerID, err)
	}
	return v, true, nil
}

func (s *Store) appendProperty(ctx context.Context, p propertyTables, ownerID, name string, value schema.Value, layer int64) (*schema.PropertyKey, error) {
	if err := (schema.Prop{Key: name}).Validate(); err != nil {
		return nil, cpgerr.Validation(err.Error())
	}

	var key *schema.PropertyKey
	err := s.InTx(ctx, func(tx *Store) error {
		exists, err := tx.ownerExists(ctx, p, ownerID)
		if err != nil {
			return err
		}
		if !exists {
			return cpgerr.NotFound(p.entity, ownerID)
		}

		var next int64
		err = tx.q.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(generation) + 1, 0) FROM `+p.keyTable+`
			WHERE `+p.ownerCol+` = ? AND property_key = ?`, ownerID, name).Scan(&next)
		if err != nil {
			return fmt.Errorf("failed to read %s property generation: %w", p.entity, err)
		}

		keyID, err := tx.insertPropertyKey(ctx, p, ownerID, name, next, layer)
		if err != nil {
			return err
		}
		if _, err := tx.insertPropertyValue(ctx, p, keyID, value, layer); err != nil {
			return err
		}

		key = &schema.PropertyKey{ID: keyID, OwnerID: ownerID, Name: name, Generation: next, SyncLayer: layer}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return key, nil
}

// loadProperties returns the latest value of every property of the given
// owners, keyed by owner id then property name.
func (s *Store) loadProperties(ctx context.Context, p propertyTables, ownerIDs []string) (map[string]map[string]schema.Value, error) {
	out := make(map[string]map[string]schema.Value, len(ownerIDs))
	for start := 0; start < len(ownerIDs); start += maxInArgs {
		end := start + maxInArgs
		if end > len(ownerIDs) {
			end = len(ownerIDs)
		}
		chunk := ownerIDs[start:end]

		query := `SELECT k.` + p.ownerCol + `, k.property_key, v.property_value
		FROM ` + p.keyTable + ` k
		JOIN ` + p.valueTable + ` v ON v.` + p.keyPK + ` = k.` + p.keyPK + `
		WHERE k.` + p.ownerCol + ` IN (` + placeholders(len(chunk)) + `)
		ORDER BY k.` + p.ownerCol + `, k.property_key, k.generation`

		rows, err := s.q.QueryContext(ctx, query, stringArgs(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s properties: %w", p.entity, err)
		}
		for rows.Next() {
			var owner, name, raw string
			if err := rows.Scan(&owner, &name, &raw); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan %s property: %w", p.entity, err)
			}
			v, err := schema.DecodeProperty(raw)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("corrupt %s property %s on %s: %w", p.entity, name, owner, err)
			}
			if out[owner] == nil {
				out[owner] = make(map[string]schema.Value)
			}
			// Rows arrive in generation order; the last one wins.
			out[owner][name] = v
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("error iterating %s properties: %w", p.entity, err)
		}
	}
	return out, nil
}

// maxInArgs bounds the number of bound parameters in one IN list.
const maxInArgs = 500
