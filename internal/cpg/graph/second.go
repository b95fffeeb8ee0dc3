package graph

import (
	"context"
	"fmt"

	"github.com/etenlab/core/internal/cpg/cpgerr"
	"github.com/etenlab/core/internal/cpg/db"
	"github.com/etenlab/core/internal/cpg/schema"
)

// SecondLayer composes first-layer calls into whole entities. Every
// operation is one transaction: either all of its rows are written or none.
type SecondLayer struct {
	first *FirstLayer
}

// NewSecondLayer creates a SecondLayer on top of first.
func NewSecondLayer(first *FirstLayer) *SecondLayer {
	return &SecondLayer{first: first}
}

// First returns the layer this one is built on.
func (s *SecondLayer) First() *FirstLayer { return s.first }

// inTx runs fn in one transaction with the layer held until it commits, so
// every row of the entity carries the same layer.
func (s *SecondLayer) inTx(ctx context.Context, fn func(tx *FirstLayer) error) error {
	layer, release := s.first.hold()
	defer release()
	return s.first.store.InTx(ctx, func(tx *db.Store) error {
		return fn(s.first.withStore(tx, layer))
	})
}

// CreateNodeFromObject creates a node of nodeType with one property per
// object key. Keys are written in sorted order.
func (s *SecondLayer) CreateNodeFromObject(ctx context.Context, nodeType string, obj schema.Object) (*schema.Node, error) {
	var node *schema.Node
	err := s.inTx(ctx, func(tx *FirstLayer) error {
		var err error
		node, err = createNodeWithProps(ctx, tx, nodeType, obj)
		return err
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// CreateRelationshipFromObject creates an edge with one property per object key.
func (s *SecondLayer) CreateRelationshipFromObject(ctx context.Context, relType string, obj schema.Object, fromID, toID string) (*schema.Relationship, error) {
	var rel *schema.Relationship
	err := s.inTx(ctx, func(tx *FirstLayer) error {
		var err error
		rel, err = createRelationshipWithProps(ctx, tx, relType, obj, fromID, toID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rel, nil
}

// CreateRelatedFromNodeFromObject creates a node and an edge from it to
// toNodeID.
func (s *SecondLayer) CreateRelatedFromNodeFromObject(ctx context.Context, relType string, relObj schema.Object, nodeType string, nodeObj schema.Object, toNodeID string) (*schema.Node, *schema.Relationship, error) {
	var (
		node *schema.Node
		rel  *schema.Relationship
	)
	err := s.inTx(ctx, func(tx *FirstLayer) error {
		var err error
		if node, err = createNodeWithProps(ctx, tx, nodeType, nodeObj); err != nil {
			return err
		}
		rel, err = createRelationshipWithProps(ctx, tx, relType, relObj, node.ID, toNodeID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return node, rel, nil
}

// CreateRelatedToNodeFromObject creates a node and an edge from fromNodeID
// to it.
func (s *SecondLayer) CreateRelatedToNodeFromObject(ctx context.Context, relType string, relObj schema.Object, nodeType string, nodeObj schema.Object, fromNodeID string) (*schema.Node, *schema.Relationship, error) {
	var (
		node *schema.Node
		rel  *schema.Relationship
	)
	err := s.inTx(ctx, func(tx *FirstLayer) error {
		var err error
		if node, err = createNodeWithProps(ctx, tx, nodeType, nodeObj); err != nil {
			return err
		}
		rel, err = createRelationshipWithProps(ctx, tx, relType, relObj, fromNodeID, node.ID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return node, rel, nil
}

// UpdateNodeObject appends a new generation for every key in obj and returns
// the node with its latest properties.
func (s *SecondLayer) UpdateNodeObject(ctx context.Context, nodeID string, obj schema.Object) (*schema.Node, error) {
	var node *schema.Node
	err := s.inTx(ctx, func(tx *FirstLayer) error {
		for _, key := range obj.Keys() {
			if _, err := tx.AppendNodeProperty(ctx, nodeID, key, obj[key]); err != nil {
				return err
			}
		}
		var err error
		node, err = tx.ReadNode(ctx, nodeID, schema.Relations{Properties: true})
		return err
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// UpdateRelationshipObject appends a new generation for every key in obj.
func (s *SecondLayer) UpdateRelationshipObject(ctx context.Context, relID string, obj schema.Object) (*schema.Relationship, error) {
	var rel *schema.Relationship
	err := s.inTx(ctx, func(tx *FirstLayer) error {
		for _, key := range obj.Keys() {
			if _, err := tx.AppendRelationshipProperty(ctx, relID, key, obj[key]); err != nil {
				return err
			}
		}
		var err error
		rel, err = tx.ReadRelationship(ctx, relID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rel, nil
}

// AddNewNodeProperties adds properties the node does not have yet. If any
// key already exists nothing is written and an AlreadyExists error is
// returned.
func (s *SecondLayer) AddNewNodeProperties(ctx context.Context, nodeID string, obj schema.Object) (*schema.Node, error) {
	var node *schema.Node
	err := s.inTx(ctx, func(tx *FirstLayer) error {
		for _, key := range obj.Keys() {
			keyID, err := tx.CreateNodePropertyKey(ctx, nodeID, key)
			if err != nil {
				return err
			}
			if _, err := tx.CreateNodePropertyValue(ctx, keyID, obj[key]); err != nil {
				return err
			}
		}
		var err error
		node, err = tx.ReadNode(ctx, nodeID, schema.Relations{Properties: true})
		return err
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// AddNewRelationshipProperties is AddNewNodeProperties for an edge.
func (s *SecondLayer) AddNewRelationshipProperties(ctx context.Context, relID string, obj schema.Object) (*schema.Relationship, error) {
	var rel *schema.Relationship
	err := s.inTx(ctx, func(tx *FirstLayer) error {
		for _, key := range obj.Keys() {
			keyID, err := tx.CreateRelationshipPropertyKey(ctx, relID, key)
			if err != nil {
				return err
			}
			if _, err := tx.CreateRelationshipPropertyValue(ctx, keyID, obj[key]); err != nil {
				return err
			}
		}
		var err error
		rel, err = tx.ReadRelationship(ctx, relID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rel, nil
}

func createNodeWithProps(ctx context.Context, tx *FirstLayer, nodeType string, obj schema.Object) (*schema.Node, error) {
	node, err := tx.CreateNode(ctx, nodeType)
	if err != nil {
		return nil, err
	}
	node.Properties = make(map[string]schema.Value, len(obj))
	for _, key := range obj.Keys() {
		// The node is new, so existence checks are redundant.
		keyID, err := tx.CreateNodePropertyKeyNoChecks(ctx, node.ID, key)
		if err != nil {
			return nil, err
		}
		if _, err := tx.CreateNodePropertyValue(ctx, keyID, obj[key]); err != nil {
			return nil, err
		}
		node.Properties[key] = obj[key]
	}
	return node, nil
}

func createRelationshipWithProps(ctx context.Context, tx *FirstLayer, relType string, obj schema.Object, fromID, toID string) (*schema.Relationship, error) {
	if fromID == "" || toID == "" {
		return nil, cpgerr.Validation(fmt.Sprintf("relationship %q needs both endpoints", relType))
	}
	rel, err := tx.CreateRelationship(ctx, fromID, toID, relType)
	if err != nil {
		return nil, err
	}
	rel.Properties = make(map[string]schema.Value, len(obj))
	for _, key := range obj.Keys() {
		keyID, err := tx.CreateRelationshipPropertyKeyNoChecks(ctx, rel.ID, key)
		if err != nil {
			return nil, err
		}
		if _, err := tx.CreateRelationshipPropertyValue(ctx, keyID, obj[key]); err != nil {
			return nil, err
		}
		rel.Properties[key] = obj[key]
	}
	return rel, nil
}
