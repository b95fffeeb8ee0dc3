// Package migrate loads seed data into the graph through the second layer.
//
// Two input formats are accepted: JSONL with one Record per line, and YAML
// seed documents listing nodes and relationships. Nodes that carry a ref are
// stored with an import-uid property, so importing the same file twice
// skips what the first run created.
package migrate

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/etenlab/core/internal/cpg/cpgerr"
	"github.com/etenlab/core/internal/cpg/graph"
	"github.com/etenlab/core/internal/cpg/schema"
)

// Record is one node or relationship to import. A record with From and To
// set is a relationship; From and To name refs from the same import or
// existing node ids.
type Record struct {
	Type       string         `json:"type" yaml:"type"`
	Ref        string         `json:"ref,omitempty" yaml:"ref,omitempty"`
	From       string         `json:"from,omitempty" yaml:"from,omitempty"`
	To         string         `json:"to,omitempty" yaml:"to,omitempty"`
	Properties map[string]any `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// IsRelationship reports whether r describes an edge.
func (r Record) IsRelationship() bool {
	return r.From != "" || r.To != ""
}

// Options configures an import.
type Options struct {
	DryRun bool // Validate without writing
	Logger *zap.Logger
}

// Result contains statistics about the import
type Result struct {
	NodesCreated         int
	NodesSkipped         int
	RelationshipsCreated int
	RelationshipsSkipped int
	Errors               []string
}

// Importer writes records into the graph. It remembers the node id of every
// ref it sees, so relationships may refer to nodes imported earlier.
type Importer struct {
	second *graph.SecondLayer
	opts   Options
	logger *zap.Logger
	refs   map[string]string
}

// NewImporter creates an Importer writing through second.
func NewImporter(second *graph.SecondLayer, opts Options) *Importer {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{
		second: second,
		opts:   opts,
		logger: logger.Named("migrate"),
		refs:   make(map[string]string),
	}
}

// Import applies records in order. Invalid records are reported in
// Result.Errors and do not stop the import; only context cancellation and
// storage failures do.
func (im *Importer) Import(ctx context.Context, records []Record) (*Result, error) {
	result := &Result{}
	for i, rec := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		var err error
		if rec.IsRelationship() {
			err = im.importRelationship(ctx, rec, result)
		} else {
			err = im.importNode(ctx, rec, result)
		}
		if err == nil {
			continue
		}
		if !cpgerr.IsValidation(err) && !cpgerr.IsNotFound(err) {
			return result, fmt.Errorf("record %d: %w", i+1, err)
		}
		result.Errors = append(result.Errors, fmt.Sprintf("record %d: %v", i+1, err))
	}

	im.logger.Info("import finished",
		zap.Bool("dry_run", im.opts.DryRun),
		zap.Int("nodes_created", result.NodesCreated),
		zap.Int("nodes_skipped", result.NodesSkipped),
		zap.Int("relationships_created", result.RelationshipsCreated),
		zap.Int("relationships_skipped", result.RelationshipsSkipped),
		zap.Int("errors", len(result.Errors)))
	return result, nil
}

func (im *Importer) importNode(ctx context.Context, rec Record, result *Result) error {
	if rec.Type == "" {
		return cpgerr.Validation("node type is required")
	}
	obj, err := toObject(rec.Properties)
	if err != nil {
		return err
	}

	if rec.Ref != "" {
		if _, seen := im.refs[rec.Ref]; seen {
			return cpgerr.Validation(fmt.Sprintf("duplicate ref '%s'", rec.Ref))
		}
		if !im.opts.DryRun {
			existing, err := im.second.First().GetNodeByProp(ctx, rec.Type,
				schema.Prop{Key: schema.PropImportUID, Value: schema.String(rec.Ref)}, schema.RelationFilter{})
			if err != nil {
				return err
			}
			if existing != nil {
				im.refs[rec.Ref] = existing.ID
				result.NodesSkipped++
				return nil
			}
		}
		obj[schema.PropImportUID] = schema.String(rec.Ref)
	}

	if im.opts.DryRun {
		if rec.Ref != "" {
			im.refs[rec.Ref] = ""
		}
		result.NodesCreated++
		return nil
	}

	node, err := im.second.CreateNodeFromObject(ctx, rec.Type, obj)
	if err != nil {
		return err
	}
	if rec.Ref != "" {
		im.refs[rec.Ref] = node.ID
	}
	result.NodesCreated++
	return nil
}

func (im *Importer) importRelationship(ctx context.Context, rec Record, result *Result) error {
	if rec.Type == "" {
		return cpgerr.Validation("relationship type is required")
	}
	if rec.From == "" || rec.To == "" {
		return cpgerr.Validation("relationship needs both from and to")
	}
	obj, err := toObject(rec.Properties)
	if err != nil {
		return err
	}

	if im.opts.DryRun {
		for _, end := range []string{rec.From, rec.To} {
			if _, ok := im.refs[end]; !ok {
				if _, err := im.second.First().ReadNode(ctx, end, schema.Relations{}); err != nil {
					return err
				}
			}
		}
		result.RelationshipsCreated++
		return nil
	}

	fromID, toID := im.resolve(rec.From), im.resolve(rec.To)
	existing, err := im.second.First().FindRelationship(ctx, fromID, toID, rec.Type)
	if err != nil {
		return err
	}
	if existing != nil {
		result.RelationshipsSkipped++
		return nil
	}

	if _, err := im.second.CreateRelationshipFromObject(ctx, rec.Type, obj, fromID, toID); err != nil {
		return err
	}
	result.RelationshipsCreated++
	return nil
}

func (im *Importer) resolve(ref string) string {
	if id, ok := im.refs[ref]; ok && id != "" {
		return id
	}
	return ref
}

func toObject(props map[string]any) (schema.Object, error) {
	obj := make(schema.Object, len(props))
	for k, v := range props {
		val, err := schema.FromAny(v)
		if err != nil {
			return nil, cpgerr.Validation(fmt.Sprintf("property %s: %v", k, err))
		}
		obj[k] = val
	}
	return obj, nil
}
