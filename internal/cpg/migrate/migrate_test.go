package migrate

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/etenlab/core/internal/cpg/db"
	"github.com/etenlab/core/internal/cpg/graph"
	"github.com/etenlab/core/internal/cpg/schema"
)

// setupTestDB creates a temporary database and a second layer over it.
func setupTestDB(t *testing.T) (*db.DB, *graph.SecondLayer) {
	t.Helper()

	database, err := db.OpenWithOptions(filepath.Join(t.TempDir(), "test.db"), db.Options{MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, database.InitSchema())

	return database, graph.NewSecondLayer(graph.NewFirstLayer(database.Store, nil))
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const seedJSONL = `{"type":"language","ref":"eng","properties":{"name":"English"}}
{"type":"word","ref":"hello","properties":{"name":"hello","frequency":12}}
{"type":"word-to-language-entry","from":"hello","to":"eng"}
`

const seedYAML = `nodes:
  - type: language
    ref: eng
    properties:
      name: English
  - type: word
    ref: hello
    properties:
      name: hello
      tags: [greeting, common]
relationships:
  - type: word-to-language-entry
    from: hello
    to: eng
    properties:
      confidence: 0.9
`

func TestFromJSONL(t *testing.T) {
	records, err := FromJSONL(strings.NewReader(seedJSONL))
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "eng", records[0].Ref)
	assert.False(t, records[0].IsRelationship())
	assert.Equal(t, json.Number("12"), records[1].Properties["frequency"])
	assert.True(t, records[2].IsRelationship())
}

func TestFromJSONL_Invalid(t *testing.T) {
	_, err := FromJSONL(strings.NewReader("{\"type\":\"word\"}\n{not json}\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 2")
}

func TestReadJSONLFile_Missing(t *testing.T) {
	_, err := ReadJSONLFile("/nonexistent/path.jsonl")
	assert.Error(t, err)
}

func TestImportJSONL(t *testing.T) {
	ctx := context.Background()
	database, second := setupTestDB(t)
	path := writeFile(t, "seed.jsonl", seedJSONL)

	result, err := NewImporter(second, Options{Logger: zaptest.NewLogger(t)}).ImportJSONL(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, result.NodesCreated)
	assert.Equal(t, 1, result.RelationshipsCreated)
	assert.Empty(t, result.Errors)

	lex := graph.NewLexicon(second)
	engID, ok, err := lex.GetLanguage(ctx, "English")
	require.NoError(t, err)
	require.True(t, ok)

	wordID, ok, err := lex.GetWord(ctx, "hello", engID)
	require.NoError(t, err)
	require.True(t, ok)

	word, err := database.ReadNode(ctx, wordID, schema.Relations{Properties: true})
	require.NoError(t, err)
	assert.Equal(t, schema.Number(12), word.Properties["frequency"])
	assert.Equal(t, schema.String("hello"), word.Properties[schema.PropImportUID])
}

func TestImportJSONL_SecondRunSkips(t *testing.T) {
	ctx := context.Background()
	database, second := setupTestDB(t)
	path := writeFile(t, "seed.jsonl", seedJSONL)

	_, err := NewImporter(second, Options{}).ImportJSONL(ctx, path)
	require.NoError(t, err)

	result, err := NewImporter(second, Options{}).ImportJSONL(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 0, result.NodesCreated)
	assert.Equal(t, 2, result.NodesSkipped)
	assert.Equal(t, 1, result.RelationshipsSkipped)

	counts, err := database.TableCountsContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[schema.TableNodes])
	assert.Equal(t, 1, counts[schema.TableRelationships])
}

func TestImport_RecordErrors(t *testing.T) {
	ctx := context.Background()
	_, second := setupTestDB(t)

	records := []Record{
		{Type: "word", Ref: "a", Properties: map[string]any{"name": "a"}},
		{Ref: "untyped"},
		{Type: "word", Ref: "a"},
		{Type: "word-map", From: "a", To: "missing"},
		{Type: "word-map", From: "a"},
	}

	result, err := NewImporter(second, Options{}).Import(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 1, result.NodesCreated)
	assert.Equal(t, 0, result.RelationshipsCreated)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "record 2")
	assert.Contains(t, result.Errors[1], "duplicate ref")
}

func TestImport_DryRun(t *testing.T) {
	ctx := context.Background()
	database, second := setupTestDB(t)
	records, err := FromJSONL(strings.NewReader(seedJSONL))
	require.NoError(t, err)

	result, err := NewImporter(second, Options{DryRun: true}).Import(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 2, result.NodesCreated)
	assert.Equal(t, 1, result.RelationshipsCreated)

	counts, err := database.TableCountsContext(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts[schema.TableNodes])
}

func TestImportYAML(t *testing.T) {
	ctx := context.Background()
	_, second := setupTestDB(t)
	path := writeFile(t, "seed.yaml", seedYAML)

	result, err := NewImporter(second, Options{}).ImportYAML(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, result.NodesCreated)
	assert.Equal(t, 1, result.RelationshipsCreated)

	lex := graph.NewLexicon(second)
	engID, ok, err := lex.GetLanguage(ctx, "English")
	require.NoError(t, err)
	require.True(t, ok)

	wordID, ok, err := lex.GetWord(ctx, "hello", engID)
	require.NoError(t, err)
	require.True(t, ok)

	rel, err := second.First().FindRelationship(ctx, wordID, engID, schema.RelWordToLanguage)
	require.NoError(t, err)
	require.NotNil(t, rel)

	got, ok, err := second.First().GetRelationshipPropertyValue(ctx, rel.ID, "confidence")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, schema.Number(0.9), got)
}

func TestFromYAML_UnknownField(t *testing.T) {
	_, err := FromYAML(strings.NewReader("nodes:\n  - type: word\n    colour: red\n"))
	assert.Error(t, err)
}

func TestSeedRecords_Validation(t *testing.T) {
	seed := &Seed{Nodes: []Record{{Type: "word", From: "x", To: "y"}}}
	_, err := seed.Records()
	assert.Error(t, err)

	seed = &Seed{Relationships: []Record{{Type: "word-map", From: "x"}}}
	_, err = seed.Records()
	assert.Error(t, err)
}

func TestFromYAML_Empty(t *testing.T) {
	seed, err := FromYAML(strings.NewReader(""))
	require.NoError(t, err)
	records, err := seed.Records()
	require.NoError(t, err)
	assert.Empty(t, records)
}
