package graph

import (
	"context"
	"strings"

	"github.com/etenlab/core/internal/cpg/cpgerr"
	"github.com/etenlab/core/internal/cpg/schema"
)

// Lexicon holds the domain helpers for words, languages, users and
// documents. Every create is find-or-create, so calling it twice returns the
// same node.
type Lexicon struct {
	first  *FirstLayer
	second *SecondLayer
}

// NewLexicon creates a Lexicon on top of second.
func NewLexicon(second *SecondLayer) *Lexicon {
	return &Lexicon{first: second.First(), second: second}
}

// CreateLanguage returns the language node named name, creating it if needed.
func (l *Lexicon) CreateLanguage(ctx context.Context, name string) (string, error) {
	return l.findOrCreateNamed(ctx, schema.NodeTypeLanguage, schema.PropName, name)
}

// GetLanguage returns the id of the language named name.
func (l *Lexicon) GetLanguage(ctx context.Context, name string) (string, bool, error) {
	return l.findNamed(ctx, schema.NodeTypeLanguage, schema.PropName, name, schema.RelationFilter{})
}

// CreateWord returns the word node for word in language langID, creating the
// word and its word-to-language edge if needed.
func (l *Lexicon) CreateWord(ctx context.Context, word, langID string) (string, error) {
	if strings.TrimSpace(word) == "" {
		return "", cpgerr.Validation("word is required")
	}
	id, ok, err := l.GetWord(ctx, word, langID)
	if err != nil || ok {
		return id, err
	}
	node, _, err := l.second.CreateRelatedFromNodeFromObject(ctx,
		schema.RelWordToLanguage, nil,
		schema.NodeTypeWord, schema.Object{schema.PropName: schema.String(word)},
		langID)
	if err != nil {
		return "", err
	}
	return node.ID, nil
}

// GetWord returns the id of word in language langID.
func (l *Lexicon) GetWord(ctx context.Context, word, langID string) (string, bool, error) {
	return l.findNamed(ctx, schema.NodeTypeWord, schema.PropName, word, wordFilter(langID))
}

// WordsExist reports which of words already exist in langID. The result maps
// each existing word to its node id.
func (l *Lexicon) WordsExist(ctx context.Context, words []string, langID string) (map[string]string, error) {
	values := make([]schema.Value, 0, len(words))
	byEncoded := make(map[string]string, len(words))
	for _, w := range words {
		v := schema.String(w)
		enc, err := schema.EncodeProperty(v)
		if err != nil {
			return nil, err
		}
		if _, dup := byEncoded[enc]; dup {
			continue
		}
		byEncoded[enc] = w
		values = append(values, v)
	}

	found, err := l.first.NodeIDsByPropertyValues(ctx, schema.NodeTypeWord, schema.PropName, values, wordFilter(langID))
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(found))
	for enc, id := range found {
		out[byEncoded[enc]] = id
	}
	return out, nil
}

// CreateWords creates the missing words of words in langID and returns every
// word's node id. Existing words are looked up in one query.
func (l *Lexicon) CreateWords(ctx context.Context, words []string, langID string) (map[string]string, error) {
	ids, err := l.WordsExist(ctx, words, langID)
	if err != nil {
		return nil, err
	}
	for _, w := range words {
		if _, ok := ids[w]; ok {
			continue
		}
		id, err := l.CreateWord(ctx, w, langID)
		if err != nil {
			return nil, err
		}
		ids[w] = id
	}
	return ids, nil
}

// CreateWordTranslationRelationship links fromWordID to its translation
// toWordID, reusing an existing link.
func (l *Lexicon) CreateWordTranslationRelationship(ctx context.Context, fromWordID, toWordID string) (string, error) {
	existing, err := l.first.FindRelationship(ctx, fromWordID, toWordID, schema.RelWordToTranslation)
	if err != nil {
		return "", err
	}
	if existing != nil {
		return existing.ID, nil
	}
	rel, err := l.first.CreateRelationship(ctx, fromWordID, toWordID, schema.RelWordToTranslation)
	if err != nil {
		return "", err
	}
	return rel.ID, nil
}

// CreateUser returns the user node with email, creating it if needed.
func (l *Lexicon) CreateUser(ctx context.Context, email string) (string, error) {
	return l.findOrCreateNamed(ctx, schema.NodeTypeUser, schema.PropEmail, email)
}

// GetUser returns the id of the user with email.
func (l *Lexicon) GetUser(ctx context.Context, email string) (string, bool, error) {
	return l.findNamed(ctx, schema.NodeTypeUser, schema.PropEmail, email, schema.RelationFilter{})
}

// CreateDocument returns the document node named name, creating it if needed.
func (l *Lexicon) CreateDocument(ctx context.Context, name string) (string, error) {
	return l.findOrCreateNamed(ctx, schema.NodeTypeDocument, schema.PropName, name)
}

// GetDocument returns the id of the document named name.
func (l *Lexicon) GetDocument(ctx context.Context, name string) (string, bool, error) {
	return l.findNamed(ctx, schema.NodeTypeDocument, schema.PropName, name, schema.RelationFilter{})
}

func (l *Lexicon) findNamed(ctx context.Context, nodeType, key, value string, filter schema.RelationFilter) (string, bool, error) {
	node, err := l.first.GetNodeByProp(ctx, nodeType, schema.Prop{Key: key, Value: schema.String(value)}, filter)
	if err != nil {
		return "", false, err
	}
	if node == nil {
		return "", false, nil
	}
	return node.ID, true, nil
}

func (l *Lexicon) findOrCreateNamed(ctx context.Context, nodeType, key, value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", cpgerr.Validation(nodeType + " " + key + " is required")
	}
	id, ok, err := l.findNamed(ctx, nodeType, key, value, schema.RelationFilter{})
	if err != nil || ok {
		return id, err
	}
	node, err := l.second.CreateNodeFromObject(ctx, nodeType, schema.Object{key: schema.String(value)})
	if err != nil {
		return "", err
	}
	return node.ID, nil
}

func wordFilter(langID string) schema.RelationFilter {
	return schema.RelationFilter{Type: schema.RelWordToLanguage, ToNodeID: langID}
}
