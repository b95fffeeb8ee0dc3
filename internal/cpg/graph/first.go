package graph

import (
	"context"

	"github.com/etenlab/core/internal/cpg/db"
	"github.com/etenlab/core/internal/cpg/schema"
)

// FirstLayer delegates to the store, stamping writes with the current layer.
type FirstLayer struct {
	store  *db.Store
	layers LayerSource
}

// NewFirstLayer creates a FirstLayer over store. A nil layers stamps layer 0.
func NewFirstLayer(store *db.Store, layers LayerSource) *FirstLayer {
	if layers == nil {
		layers = FixedLayer(0)
	}
	return &FirstLayer{store: store, layers: layers}
}

// Store returns the underlying store.
func (f *FirstLayer) Store() *db.Store { return f.store }

// Layer returns the layer the next write is stamped with.
func (f *FirstLayer) Layer() int64 { return f.layers.CurrentLayer() }

// hold pins the layer for one write; release once it is committed.
func (f *FirstLayer) hold() (int64, func()) { return HoldLayer(f.layers) }

// withStore returns a FirstLayer bound to a transactional store whose
// writes are all stamped with layer.
func (f *FirstLayer) withStore(s *db.Store, layer int64) *FirstLayer {
	return &FirstLayer{store: s, layers: FixedLayer(layer)}
}

func (f *FirstLayer) CreateNodeType(ctx context.Context, name string) (string, error) {
	layer, release := f.hold()
	defer release()
	return f.store.CreateNodeType(ctx, name, layer)
}

func (f *FirstLayer) ListNodeTypes(ctx context.Context) ([]string, error) {
	return f.store.ListNodeTypes(ctx)
}

func (f *FirstLayer) ListAllNodesByType(ctx context.Context, nodeType string) ([]*schema.Node, error) {
	return f.store.ListNodesByType(ctx, nodeType, true)
}

func (f *FirstLayer) CreateNode(ctx context.Context, nodeType string) (*schema.Node, error) {
	layer, release := f.hold()
	defer release()
	return f.store.CreateNode(ctx, nodeType, layer)
}

func (f *FirstLayer) CreateNodes(ctx context.Context, nodeType string, n int) ([]string, error) {
	layer, release := f.hold()
	defer release()
	return f.store.CreateNodes(ctx, nodeType, n, layer)
}

func (f *FirstLayer) ReadNode(ctx context.Context, id string, rel schema.Relations) (*schema.Node, error) {
	return f.store.ReadNode(ctx, id, rel)
}

func (f *FirstLayer) GetNodeByProp(ctx context.Context, nodeType string, prop schema.Prop, filter schema.RelationFilter) (*schema.Node, error) {
	return f.store.GetNodeByProp(ctx, nodeType, prop, filter)
}

func (f *FirstLayer) GetNodeIDsByProps(ctx context.Context, nodeType string, props []schema.Prop) ([]string, error) {
	return f.store.GetNodeIDsByProps(ctx, nodeType, props)
}

func (f *FirstLayer) GetNodesByIDs(ctx context.Context, ids []string) ([]*schema.Node, error) {
	return f.store.GetNodesByIDs(ctx, ids, schema.Relations{Properties: true})
}

func (f *FirstLayer) GetNodesWithRelationshipsByIDs(ctx context.Context, ids []string) ([]*schema.Node, error) {
	return f.store.GetNodesByIDs(ctx, ids, schema.AllRelations)
}

func (f *FirstLayer) GetNodesByProps(ctx context.Context, nodeType string, props []schema.Prop) ([]*schema.Node, error) {
	return f.store.GetNodesByProps(ctx, nodeType, props)
}

func (f *FirstLayer) GetNodesByTypeAndRelatedNodes(ctx context.Context, nodeType string, filter schema.RelationFilter) ([]*schema.Node, error) {
	return f.store.GetNodesByTypeAndRelatedNodes(ctx, nodeType, filter)
}

func (f *FirstLayer) CreateNodePropertyKey(ctx context.Context, nodeID, name string) (string, error) {
	layer, release := f.hold()
	defer release()
	return f.store.CreateNodePropertyKey(ctx, nodeID, name, layer)
}

func (f *FirstLayer) CreateNodePropertyKeyNoChecks(ctx context.Context, nodeID, name string) (string, error) {
	layer, release := f.hold()
	defer release()
	return f.store.CreateNodePropertyKeyNoChecks(ctx, nodeID, name, layer)
}

func (f *FirstLayer) FindNodePropertyKey(ctx context.Context, nodeID, name string) (string, bool, error) {
	return f.store.FindNodePropertyKey(ctx, nodeID, name)
}

func (f *FirstLayer) CreateNodePropertyValue(ctx context.Context, keyID string, value schema.Value) (string, error) {
	layer, release := f.hold()
	defer release()
	return f.store.CreateNodePropertyValue(ctx, keyID, value, layer)
}

func (f *FirstLayer) GetNodePropertyValue(ctx context.Context, nodeID, name string) (schema.Value, bool, error) {
	return f.store.GetNodePropertyValue(ctx, nodeID, name)
}

// AppendNodeProperty records a new generation of a node property.
func (f *FirstLayer) AppendNodeProperty(ctx context.Context, nodeID, name string, value schema.Value) (*schema.PropertyKey, error) {
	layer, release := f.hold()
	defer release()
	return f.store.AppendNodeProperty(ctx, nodeID, name, value, layer)
}

func (f *FirstLayer) CreateRelationshipType(ctx context.Context, name string) (string, error) {
	layer, release := f.hold()
	defer release()
	return f.store.CreateRelationshipType(ctx, name, layer)
}

func (f *FirstLayer) ListRelationshipTypes(ctx context.Context) ([]string, error) {
	return f.store.ListRelationshipTypes(ctx)
}

func (f *FirstLayer) CreateRelationship(ctx context.Context, fromID, toID, relType string) (*schema.Relationship, error) {
	layer, release := f.hold()
	defer release()
	return f.store.CreateRelationship(ctx, fromID, toID, relType, layer)
}

func (f *FirstLayer) CreateFromManyRelsNoChecks(ctx context.Context, fromIDs []string, toID, relType string) ([]string, error) {
	layer, release := f.hold()
	defer release()
	return f.store.CreateFromManyRelsNoChecks(ctx, fromIDs, toID, relType, layer)
}

func (f *FirstLayer) FindRelationship(ctx context.Context, fromID, toID, relType string) (*schema.Relationship, error) {
	return f.store.FindRelationship(ctx, fromID, toID, relType)
}

func (f *FirstLayer) ListAllRelationshipsByType(ctx context.Context, relType string) ([]*schema.Relationship, error) {
	return f.store.ListRelationshipsByType(ctx, relType, true)
}

func (f *FirstLayer) ReadRelationship(ctx context.Context, id string) (*schema.Relationship, error) {
	return f.store.ReadRelationship(ctx, id, true)
}

func (f *FirstLayer) CreateRelationshipPropertyKey(ctx context.Context, relID, name string) (string, error) {
	layer, release := f.hold()
	defer release()
	return f.store.CreateRelationshipPropertyKey(ctx, relID, name, layer)
}

func (f *FirstLayer) FindRelationshipPropertyKey(ctx context.Context, relID, name string) (string, bool, error) {
	return f.store.FindRelationshipPropertyKey(ctx, relID, name)
}

func (f *FirstLayer) CreateRelationshipPropertyValue(ctx context.Context, keyID string, value schema.Value) (string, error) {
	layer, release := f.hold()
	defer release()
	return f.store.CreateRelationshipPropertyValue(ctx, keyID, value, layer)
}

func (f *FirstLayer) GetRelationshipPropertyValue(ctx context.Context, relID, name string) (schema.Value, bool, error) {
	return f.store.GetRelationshipPropertyValue(ctx, relID, name)
}

// AppendRelationshipProperty records a new generation of a relationship property.
func (f *FirstLayer) AppendRelationshipProperty(ctx context.Context, relID, name string, value schema.Value) (*schema.PropertyKey, error) {
	layer, release := f.hold()
	defer release()
	return f.store.AppendRelationshipProperty(ctx, relID, name, value, layer)
}

func (f *FirstLayer) FindNodeIDsOfTypeWithProperty(ctx context.Context, nodeType, key string, include, exclude []schema.Value) ([]string, error) {
	return f.store.FindNodeIDsOfTypeWithProperty(ctx, nodeType, key, include, exclude)
}

// NodeIDsByPropertyValues is the bulk membership test: which of values are
// already the key value of a nodeType node satisfying filter.
func (f *FirstLayer) NodeIDsByPropertyValues(ctx context.Context, nodeType, key string, values []schema.Value, filter schema.RelationFilter) (map[string]string, error) {
	return f.store.NodeIDsByPropertyValues(ctx, nodeType, key, values, filter)
}

func (f *FirstLayer) CreateRelationshipPropertyKeyNoChecks(ctx context.Context, relID, name string) (string, error) {
	layer, release := f.hold()
	defer release()
	return f.store.CreateRelationshipPropertyKeyNoChecks(ctx, relID, name, layer)
}
