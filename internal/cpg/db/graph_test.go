package db

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etenlab/core/internal/cpg/cpgerr"
	"github.com/etenlab/core/internal/cpg/schema"
)

// setProp creates a key and a value on a node.
func setProp(t *testing.T, db *DB, nodeID, key string, v schema.Value) {
	t.Helper()
	ctx := context.Background()
	keyID, err := db.CreateNodePropertyKey(ctx, nodeID, key, 0)
	require.NoError(t, err)
	_, err = db.CreateNodePropertyValue(ctx, keyID, v, 0)
	require.NoError(t, err)
}

func TestCreateNodeType_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	first, err := db.CreateNodeType(ctx, "word", 0)
	require.NoError(t, err)
	second, err := db.CreateNodeType(ctx, "word", 5)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	types, err := db.ListNodeTypes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"word"}, types)

	// The existing entry keeps its original layer.
	var layer int64
	require.NoError(t, db.conn.QueryRow(`SELECT sync_layer FROM node_types WHERE type_name = 'word'`).Scan(&layer))
	assert.Equal(t, int64(0), layer)
}

func TestCreateNodeType_Empty(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.CreateNodeType(context.Background(), " ", 0)
	assert.True(t, cpgerr.IsValidation(err))
}

func TestCreateNode_AlwaysInserts(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a, err := db.CreateNode(ctx, "word", 3)
	require.NoError(t, err)
	b, err := db.CreateNode(ctx, "word", 3)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, int64(3), a.SyncLayer)

	nodes, err := db.ListNodesByType(ctx, "word", false)
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
}

func TestReadNode_NotFound(t *testing.T) {
	db := setupTestDB(t)
	_, err := db.ReadNode(context.Background(), "missing", schema.Relations{})
	require.Error(t, err)
	assert.True(t, cpgerr.IsNotFound(err))
	assert.Contains(t, err.Error(), "'missing'")
}

// Scenario: a property lookup returns only the node that carries the value.
func TestGetNodeByProp_OnlyMatchingNode(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.CreateNodeType(ctx, "word", 0)
	require.NoError(t, err)
	n1, err := db.CreateNode(ctx, "word", 0)
	require.NoError(t, err)
	_, err = db.CreateNode(ctx, "word", 0)
	require.NoError(t, err)
	setProp(t, db, n1.ID, "name", schema.String("cat"))

	found, err := db.GetNodeByProp(ctx, "word", schema.Prop{Key: "name", Value: schema.String("cat")}, schema.RelationFilter{})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, n1.ID, found.ID)
	assert.Equal(t, schema.String("cat"), found.Properties["name"])

	none, err := db.GetNodeByProp(ctx, "word", schema.Prop{Key: "name", Value: schema.String("dog")}, schema.RelationFilter{})
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestGetNodeByProp_RelationFilter(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	en, err := db.CreateNode(ctx, "language", 0)
	require.NoError(t, err)
	fr, err := db.CreateNode(ctx, "language", 0)
	require.NoError(t, err)

	catEn, err := db.CreateNode(ctx, "word", 0)
	require.NoError(t, err)
	catFr, err := db.CreateNode(ctx, "word", 0)
	require.NoError(t, err)
	setProp(t, db, catEn.ID, "name", schema.String("chat"))
	setProp(t, db, catFr.ID, "name", schema.String("chat"))
	_, err = db.CreateRelationship(ctx, catEn.ID, en.ID, "word-to-language-entry", 0)
	require.NoError(t, err)
	_, err = db.CreateRelationship(ctx, catFr.ID, fr.ID, "word-to-language-entry", 0)
	require.NoError(t, err)

	found, err := db.GetNodeByProp(ctx, "word",
		schema.Prop{Key: "name", Value: schema.String("chat")},
		schema.RelationFilter{Type: "word-to-language-entry", ToNodeID: fr.ID})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, catFr.ID, found.ID)

	// Incoming direction: the language node has an edge from catEn.
	lang, err := db.GetNodesByTypeAndRelatedNodes(ctx, "language",
		schema.RelationFilter{Type: "word-to-language-entry", FromNodeID: catEn.ID})
	require.NoError(t, err)
	require.Len(t, lang, 1)
	assert.Equal(t, en.ID, lang[0].ID)
}

// Scenario: relationship lookup is direction-sensitive.
func TestFindRelationship_DirectionSensitive(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	n1, err := db.CreateNode(ctx, "word", 0)
	require.NoError(t, err)
	n2, err := db.CreateNode(ctx, "language", 0)
	require.NoError(t, err)

	rel, err := db.CreateRelationship(ctx, n1.ID, n2.ID, "word-to-language-entry", 0)
	require.NoError(t, err)

	found, err := db.FindRelationship(ctx, n1.ID, n2.ID, "word-to-language-entry")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, rel.ID, found.ID)

	reverse, err := db.FindRelationship(ctx, n2.ID, n1.ID, "word-to-language-entry")
	require.NoError(t, err)
	assert.Nil(t, reverse)
}

func TestCreateRelationship_NotIdempotent(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	n1, err := db.CreateNode(ctx, "word", 0)
	require.NoError(t, err)
	n2, err := db.CreateNode(ctx, "word", 0)
	require.NoError(t, err)

	a, err := db.CreateRelationship(ctx, n1.ID, n2.ID, "word-map", 0)
	require.NoError(t, err)
	b, err := db.CreateRelationship(ctx, n1.ID, n2.ID, "word-map", 0)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	rels, err := db.ListRelationshipsByType(ctx, "word-map", false)
	require.NoError(t, err)
	assert.Len(t, rels, 2)
}

func TestCreateRelationship_MissingNode(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	n1, err := db.CreateNode(ctx, "word", 0)
	require.NoError(t, err)

	_, err = db.CreateRelationship(ctx, n1.ID, "ghost", "word-map", 0)
	require.Error(t, err)
	assert.True(t, cpgerr.IsNotFound(err))
	assert.Contains(t, err.Error(), "node not found 'ghost'")

	types, err := db.ListRelationshipTypes(ctx)
	require.NoError(t, err)
	assert.Empty(t, types, "failed create must roll back the type")
}

func TestCreateFromManyRelsNoChecks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	ids, err := db.CreateNodes(ctx, "word", 3, 0)
	require.NoError(t, err)
	doc, err := db.CreateNode(ctx, "document", 0)
	require.NoError(t, err)

	relIDs, err := db.CreateFromManyRelsNoChecks(ctx, ids, doc.ID, "word-sequence-to-document", 0)
	require.NoError(t, err)
	assert.Len(t, relIDs, 3)

	read, err := db.ReadNode(ctx, doc.ID, schema.AllRelations)
	require.NoError(t, err)
	assert.Len(t, read.Incoming, 3)
	assert.Empty(t, read.Outgoing)
}

func TestPropertyCardinality(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	n, err := db.CreateNode(ctx, "word", 0)
	require.NoError(t, err)

	keyID, err := db.CreateNodePropertyKey(ctx, n.ID, "k", 0)
	require.NoError(t, err)
	_, err = db.CreateNodePropertyValue(ctx, keyID, schema.Number(1), 0)
	require.NoError(t, err)

	_, err = db.CreateNodePropertyValue(ctx, keyID, schema.Number(2), 0)
	assert.True(t, cpgerr.IsAlreadyExists(err), "second value on one key: %v", err)

	_, err = db.CreateNodePropertyKey(ctx, n.ID, "k", 0)
	assert.True(t, cpgerr.IsAlreadyExists(err), "second key with one name: %v", err)

	var count int
	require.NoError(t, db.conn.QueryRow(
		`SELECT COUNT(*) FROM node_property_values WHERE node_property_key_id = ?`, keyID).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestCreatePropertyKey_NotFound(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	_, err := db.CreateNodePropertyKey(ctx, "ghost", "name", 0)
	assert.True(t, cpgerr.IsNotFound(err))

	_, err = db.CreateNodePropertyValue(ctx, "ghost-key", schema.String("x"), 0)
	assert.True(t, cpgerr.IsNotFound(err))
}

func TestAppendNodeProperty_LatestGenerationWins(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	n, err := db.CreateNode(ctx, "word", 0)
	require.NoError(t, err)
	setProp(t, db, n.ID, "name", schema.String("colour"))

	key, err := db.AppendNodeProperty(ctx, n.ID, "name", schema.String("color"), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), key.Generation)

	v, ok, err := db.GetNodePropertyValue(ctx, n.ID, "name")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, schema.String("color"), v)

	// The old generation is kept but no longer matches lookups.
	old, err := db.GetNodeByProp(ctx, "word", schema.Prop{Key: "name", Value: schema.String("colour")}, schema.RelationFilter{})
	require.NoError(t, err)
	assert.Nil(t, old)

	read, err := db.ReadNode(ctx, n.ID, schema.Relations{Properties: true})
	require.NoError(t, err)
	assert.Equal(t, schema.String("color"), read.Properties["name"])

	keyID, ok, err := db.FindNodePropertyKey(ctx, n.ID, "name")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, key.ID, keyID)
}

func TestGetNodeIDsByProps(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	a, err := db.CreateNode(ctx, "user", 0)
	require.NoError(t, err)
	b, err := db.CreateNode(ctx, "user", 0)
	require.NoError(t, err)
	setProp(t, db, a.ID, "name", schema.String("ann"))
	setProp(t, db, a.ID, "email", schema.String("ann@example.org"))
	setProp(t, db, b.ID, "name", schema.String("ann"))
	setProp(t, db, b.ID, "email", schema.String("other@example.org"))

	ids, err := db.GetNodeIDsByProps(ctx, "user", []schema.Prop{
		{Key: "name", Value: schema.String("ann")},
		{Key: "email", Value: schema.String("ann@example.org")},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{a.ID}, ids)

	// Conflicting values for one key match nothing.
	ids, err = db.GetNodeIDsByProps(ctx, "user", []schema.Prop{
		{Key: "email", Value: schema.String("ann@example.org")},
		{Key: "email", Value: schema.String("other@example.org")},
	})
	require.NoError(t, err)
	assert.Empty(t, ids)

	// Quotes in values are bound, not spliced.
	ids, err = db.GetNodeIDsByProps(ctx, "user", []schema.Prop{{Key: "name", Value: schema.String("x' OR '1'='1")}})
	require.NoError(t, err)
	assert.Empty(t, ids)

	nodes, err := db.GetNodesByProps(ctx, "user", []schema.Prop{{Key: "name", Value: schema.String("ann")}})
	require.NoError(t, err)
	assert.Len(t, nodes, 2)
}

func TestFindNodeIDsOfTypeWithProperty(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	var ids []string
	for _, name := range []string{"a", "b", "c"} {
		n, err := db.CreateNode(ctx, "word", 0)
		require.NoError(t, err)
		setProp(t, db, n.ID, "name", schema.String(name))
		ids = append(ids, n.ID)
	}
	_, err := db.CreateNode(ctx, "word", 0)
	require.NoError(t, err)

	all, err := db.FindNodeIDsOfTypeWithProperty(ctx, "word", "name", nil, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	some, err := db.FindNodeIDsOfTypeWithProperty(ctx, "word", "name",
		[]schema.Value{schema.String("a"), schema.String("b")},
		[]schema.Value{schema.String("b")})
	require.NoError(t, err)
	assert.Equal(t, []string{ids[0]}, some)
}

func TestNodeIDsByPropertyValues(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	lang, err := db.CreateNode(ctx, "language", 0)
	require.NoError(t, err)
	other, err := db.CreateNode(ctx, "language", 0)
	require.NoError(t, err)

	cat, err := db.CreateNode(ctx, "word", 0)
	require.NoError(t, err)
	setProp(t, db, cat.ID, "name", schema.String("cat"))
	_, err = db.CreateRelationship(ctx, cat.ID, lang.ID, "word-to-language-entry", 0)
	require.NoError(t, err)

	dog, err := db.CreateNode(ctx, "word", 0)
	require.NoError(t, err)
	setProp(t, db, dog.ID, "name", schema.String("dog"))
	_, err = db.CreateRelationship(ctx, dog.ID, other.ID, "word-to-language-entry", 0)
	require.NoError(t, err)

	got, err := db.NodeIDsByPropertyValues(ctx, "word", "name",
		[]schema.Value{schema.String("cat"), schema.String("dog"), schema.String("eel")},
		schema.RelationFilter{Type: "word-to-language-entry", ToNodeID: lang.ID})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{`{"value":"cat"}`: cat.ID}, got)
}

func TestRelationshipProperties(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	n1, err := db.CreateNode(ctx, "word", 0)
	require.NoError(t, err)
	n2, err := db.CreateNode(ctx, "word", 0)
	require.NoError(t, err)
	rel, err := db.CreateRelationship(ctx, n1.ID, n2.ID, "word-to-translation", 0)
	require.NoError(t, err)

	keyID, err := db.CreateRelationshipPropertyKey(ctx, rel.ID, "weight", 0)
	require.NoError(t, err)
	_, err = db.CreateRelationshipPropertyValue(ctx, keyID, schema.Number(0.5), 0)
	require.NoError(t, err)

	_, err = db.CreateRelationshipPropertyKey(ctx, rel.ID, "weight", 0)
	assert.True(t, cpgerr.IsAlreadyExists(err))

	v, ok, err := db.GetRelationshipPropertyValue(ctx, rel.ID, "weight")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, schema.Number(0.5), v)

	read, err := db.ReadRelationship(ctx, rel.ID, true)
	require.NoError(t, err)
	assert.Equal(t, schema.Number(0.5), read.Properties["weight"])
	require.NotNil(t, read.FromNode)
	assert.Equal(t, n1.ID, read.FromNode.ID)

	_, err = db.ReadRelationship(ctx, "ghost", false)
	assert.True(t, cpgerr.IsNotFound(err))
}

func TestInTx_RollsBack(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	err := db.InTx(ctx, func(tx *Store) error {
		if _, err := tx.CreateNode(ctx, "word", 0); err != nil {
			return err
		}
		return cpgerr.InvalidState("abort")
	})
	require.Error(t, err)

	nodes, err := db.ListNodesByType(ctx, "word", false)
	require.NoError(t, err)
	assert.Empty(t, nodes)
}
