package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/etenlab/core/internal/cpg/cpgerr"
	"github.com/etenlab/core/internal/cpg/schema"
)

// parseProps turns key=value flags into an object. Values that parse as JSON
// keep their JSON type; anything else is a string.
func parseProps(pairs []string) (schema.Object, error) {
	obj := make(schema.Object, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, cpgerr.Validation(fmt.Sprintf("invalid property %q, expected key=value", pair))
		}
		obj[key] = parseValue(raw)
	}
	return obj, nil
}

func parseValue(raw string) schema.Value {
	if v, err := schema.DecodeValue([]byte(raw)); err == nil {
		return v
	}
	return schema.String(raw)
}

func propsList(obj schema.Object) []schema.Prop {
	props := make([]schema.Prop, 0, len(obj))
	for _, k := range obj.Keys() {
		props = append(props, schema.Prop{Key: k, Value: obj[k]})
	}
	return props
}

func formatValue(v schema.Value) string {
	if s, ok := v.(schema.String); ok {
		return string(s)
	}
	data, err := json.Marshal(schema.ToAny(v))
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func formatProps(props map[string]schema.Value) map[string]string {
	out := make(map[string]string, len(props))
	for k, v := range props {
		out[k] = formatValue(v)
	}
	return out
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	out.Plain("%s", data)
	return nil
}

func printNode(n *schema.Node) error {
	if jsonOutput {
		return printJSON(n)
	}
	out.Title("%s %s", n.Type, n.ID)
	out.KV(map[string]string{"sync_layer": fmt.Sprint(n.SyncLayer)})
	if len(n.Properties) > 0 {
		out.Muted("properties")
		out.KV(formatProps(n.Properties))
	}
	if len(n.Outgoing) > 0 || len(n.Incoming) > 0 {
		rows := make([][]string, 0, len(n.Outgoing)+len(n.Incoming))
		for _, r := range n.Outgoing {
			rows = append(rows, []string{"out", r.Type, r.ToNodeID, r.ID})
		}
		for _, r := range n.Incoming {
			rows = append(rows, []string{"in", r.Type, r.FromNodeID, r.ID})
		}
		out.Muted("relationships")
		out.Table([]string{"DIR", "TYPE", "NODE", "ID"}, rows)
	}
	return nil
}

func printNodes(nodes []*schema.Node) error {
	if jsonOutput {
		return printJSON(nodes)
	}
	rows := make([][]string, 0, len(nodes))
	for _, n := range nodes {
		rows = append(rows, []string{n.ID, n.Type, fmt.Sprint(n.SyncLayer), propsSummary(n.Properties)})
	}
	out.Table([]string{"ID", "TYPE", "LAYER", "PROPERTIES"}, rows)
	return nil
}

func printRelationships(rels []*schema.Relationship) error {
	if jsonOutput {
		return printJSON(rels)
	}
	rows := make([][]string, 0, len(rels))
	for _, r := range rels {
		rows = append(rows, []string{r.ID, r.Type, r.FromNodeID, r.ToNodeID, propsSummary(r.Properties)})
	}
	out.Table([]string{"ID", "TYPE", "FROM", "TO", "PROPERTIES"}, rows)
	return nil
}

func propsSummary(props map[string]schema.Value) string {
	if len(props) == 0 {
		return ""
	}
	keys := schema.Object(props).Keys()
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+formatValue(props[k]))
	}
	return strings.Join(parts, " ")
}
