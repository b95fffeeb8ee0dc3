package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/etenlab/core/internal/cpg/cpgerr"
	"github.com/etenlab/core/internal/cpg/schema"
)

// CreateNode finds or creates the node type and inserts a new node of it.
// It always inserts; callers needing one node per key look it up first.
func (s *Store) CreateNode(ctx context.Context, nodeType string, layer int64) (*schema.Node, error) {
	var node *schema.Node
	err := s.InTx(ctx, func(tx *Store) error {
		if _, err := tx.CreateNodeType(ctx, nodeType, layer); err != nil {
			return err
		}
		id, err := tx.insertNode(ctx, nodeType, layer)
		if err != nil {
			return err
		}
		node = &schema.Node{ID: id, Type: nodeType, SyncLayer: layer}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// CreateNodes inserts n nodes of one type in a single transaction and
// returns their ids in insertion order.
func (s *Store) CreateNodes(ctx context.Context, nodeType string, n int, layer int64) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	ids := make([]string, 0, n)
	err := s.InTx(ctx, func(tx *Store) error {
		if _, err := tx.CreateNodeType(ctx, nodeType, layer); err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			id, err := tx.insertNode(ctx, nodeType, layer)
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

func (s *Store) insertNode(ctx context.Context, nodeType string, layer int64) (string, error) {
	id := newID()
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO nodes (node_id, node_type, sync_layer, updated_at) VALUES (?, ?, ?, ?)`,
		id, nodeType, layer, s.now())
	if err != nil {
		return "", fmt.Errorf("failed to create node of type %s: %w", nodeType, err)
	}
	return id, nil
}

// NodeExists reports whether a node with id exists.
func (s *Store) NodeExists(ctx context.Context, id string) (bool, error) {
	return s.ownerExists(ctx, nodeProps, id)
}

// ReadNode loads one node and the relations selected by rel. It fails with
// NotFound if the node is missing.
func (s *Store) ReadNode(ctx context.Context, id string, rel schema.Relations) (*schema.Node, error) {
	var node schema.Node
	err := s.q.QueryRowContext(ctx,
		`SELECT node_id, node_type, sync_layer FROM nodes WHERE node_id = ?`, id).
		Scan(&node.ID, &node.Type, &node.SyncLayer)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cpgerr.NotFound("node", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read node %s: %w", id, err)
	}

	nodes := []*schema.Node{&node}
	if err := s.attachNodeRelations(ctx, nodes, rel); err != nil {
		return nil, err
	}
	return &node, nil
}

// GetNodesByIDs loads the nodes with the given ids, skipping missing ones,
// in the order requested.
func (s *Store) GetNodesByIDs(ctx context.Context, ids []string, rel schema.Relations) ([]*schema.Node, error) {
	byID := make(map[string]*schema.Node, len(ids))
	for start := 0; start < len(ids); start += maxInArgs {
		end := start + maxInArgs
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]

		rows, err := s.q.QueryContext(ctx,
			`SELECT node_id, node_type, sync_layer FROM nodes WHERE node_id IN (`+placeholders(len(chunk))+`)`,
			stringArgs(chunk)...)
		if err != nil {
			return nil, fmt.Errorf("failed to query nodes: %w", err)
		}
		found, err := scanNodes(rows)
		if err != nil {
			return nil, err
		}
		for _, n := range found {
			byID[n.ID] = n
		}
	}

	nodes := make([]*schema.Node, 0, len(byID))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if n, ok := byID[id]; ok && !seen[id] {
			seen[id] = true
			nodes = append(nodes, n)
		}
	}

	if err := s.attachNodeRelations(ctx, nodes, rel); err != nil {
		return nil, err
	}
	return nodes, nil
}

// ListNodesByType returns every node of a type, optionally with properties.
func (s *Store) ListNodesByType(ctx context.Context, nodeType string, withProperties bool) ([]*schema.Node, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT node_id, node_type, sync_layer FROM nodes WHERE node_type = ? ORDER BY node_id`, nodeType)
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes of type %s: %w", nodeType, err)
	}
	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachNodeRelations(ctx, nodes, schema.Relations{Properties: withProperties}); err != nil {
		return nil, err
	}
	return nodes, nil
}

// GetNodeByProp returns a node of nodeType whose latest value of prop.Key
// equals prop.Value and that satisfies the optional adjacency filter. It
// returns nil when nothing matches.
func (s *Store) GetNodeByProp(ctx context.Context, nodeType string, prop schema.Prop, filter schema.RelationFilter) (*schema.Node, error) {
	if err := prop.Validate(); err != nil {
		return nil, cpgerr.Validation(err.Error())
	}
	encoded, err := schema.EncodeProperty(prop.Value)
	if err != nil {
		return nil, cpgerr.Wrap(err, cpgerr.CodeValidation, "invalid property value")
	}

	query := `SELECT n.node_id FROM nodes n
	JOIN node_property_keys k ON k.node_id = n.node_id
	JOIN node_property_values v ON v.node_property_key_id = k.node_property_key_id
	WHERE n.node_type = ? AND k.property_key = ? AND v.property_value = ?
	  AND ` + nodeProps.latestKeyCond("k")
	args := []any{nodeType, prop.Key, encoded}

	relSQL, relArgs := relationFilterSQL("n", filter)
	query += relSQL + ` ORDER BY n.node_id LIMIT 1`
	args = append(args, relArgs...)

	var id string
	err = s.q.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find %s node by %s: %w", nodeType, prop.Key, err)
	}
	return s.ReadNode(ctx, id, schema.Relations{Properties: true})
}

// GetNodeIDsByProps returns the ids of nodes of nodeType whose latest
// properties match every pair in props.
func (s *Store) GetNodeIDsByProps(ctx context.Context, nodeType string, props []schema.Prop) ([]string, error) {
	if len(props) == 0 {
		return nil, cpgerr.Validation("at least one property is required")
	}

	// Identical pairs would inflate the required match count.
	seen := make(map[string]bool, len(props))
	var conds []string
	var args []any
	for _, p := range props {
		if err := p.Validate(); err != nil {
			return nil, cpgerr.Validation(err.Error())
		}
		encoded, err := schema.EncodeProperty(p.Value)
		if err != nil {
			return nil, cpgerr.Wrap(err, cpgerr.CodeValidation, "invalid property value")
		}
		sig := p.Key + "\x00" + encoded
		if seen[sig] {
			continue
		}
		seen[sig] = true
		conds = append(conds, `(k.property_key = ? AND v.property_value = ?)`)
		args = append(args, p.Key, encoded)
	}

	query := `SELECT n.node_id FROM nodes n
	JOIN (
		SELECT k.node_id, COUNT(*) AS matched
		FROM node_property_keys k
		JOIN node_property_values v ON v.node_property_key_id = k.node_property_key_id
		WHERE (` + strings.Join(conds, " OR ") + `)
		  AND ` + nodeProps.latestKeyCond("k") + `
		GROUP BY k.node_id
		HAVING COUNT(*) = ?
	) m ON m.node_id = n.node_id
	WHERE n.node_type = ?
	ORDER BY n.node_id`
	args = append(args, len(conds), nodeType)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s nodes by properties: %w", nodeType, err)
	}
	return scanStrings(rows)
}

// GetNodesByProps is GetNodeIDsByProps followed by a property-loading read.
func (s *Store) GetNodesByProps(ctx context.Context, nodeType string, props []schema.Prop) ([]*schema.Node, error) {
	ids, err := s.GetNodeIDsByProps(ctx, nodeType, props)
	if err != nil {
		return nil, err
	}
	return s.GetNodesByIDs(ctx, ids, schema.Relations{Properties: true})
}

// GetNodesByTypeAndRelatedNodes returns nodes of nodeType that satisfy the
// adjacency filter, with their properties.
func (s *Store) GetNodesByTypeAndRelatedNodes(ctx context.Context, nodeType string, filter schema.RelationFilter) ([]*schema.Node, error) {
	query := `SELECT n.node_id, n.node_type, n.sync_layer FROM nodes n WHERE n.node_type = ?`
	args := []any{nodeType}
	relSQL, relArgs := relationFilterSQL("n", filter)
	query += relSQL + ` ORDER BY n.node_id`
	args = append(args, relArgs...)

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query related %s nodes: %w", nodeType, err)
	}
	nodes, err := scanNodes(rows)
	if err != nil {
		return nil, err
	}
	if err := s.attachNodeRelations(ctx, nodes, schema.Relations{Properties: true}); err != nil {
		return nil, err
	}
	return nodes, nil
}

// FindNodeIDsOfTypeWithProperty returns ids of nodes of nodeType that have
// key. A non-empty include keeps only nodes whose latest value is in it; a
// non-empty exclude drops nodes whose latest value is in it.
func (s *Store) FindNodeIDsOfTypeWithProperty(ctx context.Context, nodeType, key string, include, exclude []schema.Value) ([]string, error) {
	query := `SELECT DISTINCT n.node_id FROM nodes n
	JOIN node_property_keys k ON k.node_id = n.node_id
	JOIN node_property_values v ON v.node_property_key_id = k.node_property_key_id
	WHERE n.node_type = ? AND k.property_key = ? AND ` + nodeProps.latestKeyCond("k")
	args := []any{nodeType, key}

	for _, set := range []struct {
		op     string
		values []schema.Value
	}{{"IN", include}, {"NOT IN", exclude}} {
		if len(set.values) == 0 {
			continue
		}
		for _, v := range set.values {
			encoded, err := schema.EncodeProperty(v)
			if err != nil {
				return nil, cpgerr.Wrap(err, cpgerr.CodeValidation, "invalid property value")
			}
			args = append(args, encoded)
		}
		query += ` AND v.property_value ` + set.op + ` (` + placeholders(len(set.values)) + `)`
	}
	query += ` ORDER BY n.node_id`

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find %s nodes with %s: %w", nodeType, key, err)
	}
	return scanStrings(rows)
}

// NodeIDsByPropertyValues maps each of values that is the latest key value
// of some node of nodeType (satisfying filter) to one such node id. The map
// is keyed by the encoded value. One query serves the whole batch.
func (s *Store) NodeIDsByPropertyValues(ctx context.Context, nodeType, key string, values []schema.Value, filter schema.RelationFilter) (map[string]string, error) {
	out := make(map[string]string, len(values))
	for start := 0; start < len(values); start += maxInArgs {
		end := start + maxInArgs
		if end > len(values) {
			end = len(values)
		}
		chunk := values[start:end]

		args := []any{nodeType, key}
		for _, v := range chunk {
			encoded, err := schema.EncodeProperty(v)
			if err != nil {
				return nil, cpgerr.Wrap(err, cpgerr.CodeValidation, "invalid property value")
			}
			args = append(args, encoded)
		}

		query := `SELECT v.property_value, MIN(n.node_id) FROM nodes n
		JOIN node_property_keys k ON k.node_id = n.node_id
		JOIN node_property_values v ON v.node_property_key_id = k.node_property_key_id
		WHERE n.node_type = ? AND k.property_key = ?
		  AND v.property_value IN (` + placeholders(len(chunk)) + `)
		  AND ` + nodeProps.latestKeyCond("k")
		relSQL, relArgs := relationFilterSQL("n", filter)
		query += relSQL + ` GROUP BY v.property_value`
		args = append(args, relArgs...)

		rows, err := s.q.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to match %s values: %w", key, err)
		}
		for rows.Next() {
			var encoded, id string
			if err := rows.Scan(&encoded, &id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan match: %w", err)
			}
			out[encoded] = id
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("error iterating matches: %w", err)
		}
	}
	return out, nil
}

// relationFilterSQL renders f as AND EXISTS clauses over node alias n.
func relationFilterSQL(n string, f schema.RelationFilter) (string, []any) {
	if f.IsZero() {
		return "", nil
	}

	var b strings.Builder
	var args []any
	typeCond := func() {
		if f.Type != "" {
			b.WriteString(` AND r.relationship_type = ?`)
			args = append(args, f.Type)
		}
	}

	if f.FromNodeID != "" {
		b.WriteString(` AND EXISTS (SELECT 1 FROM relationships r WHERE r.to_node_id = ` + n + `.node_id AND r.from_node_id = ?`)
		args = append(args, f.FromNodeID)
		typeCond()
		b.WriteString(`)`)
	}
	if f.ToNodeID != "" {
		b.WriteString(` AND EXISTS (SELECT 1 FROM relationships r WHERE r.from_node_id = ` + n + `.node_id AND r.to_node_id = ?`)
		args = append(args, f.ToNodeID)
		typeCond()
		b.WriteString(`)`)
	}
	if f.FromNodeID == "" && f.ToNodeID == "" {
		b.WriteString(` AND EXISTS (SELECT 1 FROM relationships r WHERE (r.from_node_id = ` + n + `.node_id OR r.to_node_id = ` + n + `.node_id)`)
		typeCond()
		b.WriteString(`)`)
	}
	return b.String(), args
}

func scanNodes(rows *sql.Rows) ([]*schema.Node, error) {
	defer rows.Close()
	var nodes []*schema.Node
	for rows.Next() {
		var n schema.Node
		if err := rows.Scan(&n.ID, &n.Type, &n.SyncLayer); err != nil {
			return nil, fmt.Errorf("failed to scan node: %w", err)
		}
		nodes = append(nodes, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating nodes: %w", err)
	}
	return nodes, nil
}

// attachNodeRelations fills the parts of nodes selected by rel.
func (s *Store) attachNodeRelations(ctx context.Context, nodes []*schema.Node, rel schema.Relations) error {
	if len(nodes) == 0 {
		return nil
	}
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}

	if rel.Properties {
		props, err := s.loadProperties(ctx, nodeProps, ids)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			n.Properties = props[n.ID]
			if n.Properties == nil {
				n.Properties = map[string]schema.Value{}
			}
		}
	}

	if rel.Outgoing {
		byNode, err := s.relationshipsByEndpoint(ctx, "from_node_id", ids)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			n.Outgoing = byNode[n.ID]
		}
	}
	if rel.Incoming {
		byNode, err := s.relationshipsByEndpoint(ctx, "to_node_id", ids)
		if err != nil {
			return err
		}
		for _, n := range nodes {
			n.Incoming = byNode[n.ID]
		}
	}
	return nil
}
