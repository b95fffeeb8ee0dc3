package schema

import (
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the fixed-width UTC layout of updated_at columns. Values in
// this layout sort lexically in time order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses TimeLayout, falling back to RFC 3339.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// Node is a typed vertex. Properties holds the latest generation of each
// property and is filled only by reads that load properties.
type Node struct {
	ID         string           `json:"node_id"`
	Type       string           `json:"node_type"`
	SyncLayer  int64            `json:"sync_layer"`
	Properties map[string]Value `json:"properties,omitempty"`
	Outgoing   []*Relationship  `json:"outgoing,omitempty"`
	Incoming   []*Relationship  `json:"incoming,omitempty"`
}

// Relationship is a typed, directed edge.
type Relationship struct {
	ID         string           `json:"relationship_id"`
	Type       string           `json:"relationship_type"`
	FromNodeID string           `json:"from_node_id"`
	ToNodeID   string           `json:"to_node_id"`
	SyncLayer  int64            `json:"sync_layer"`
	Properties map[string]Value `json:"properties,omitempty"`
	FromNode   *Node            `json:"from_node,omitempty"`
	ToNode     *Node            `json:"to_node,omitempty"`
}

// PropertyKey binds a name to one node or relationship.
type PropertyKey struct {
	ID         string `json:"id"`
	OwnerID    string `json:"owner_id"`
	Name       string `json:"property_key"`
	Generation int64  `json:"generation"`
	SyncLayer  int64  `json:"sync_layer"`
}

// PropertyValue binds one value to one key.
type PropertyValue struct {
	ID        string `json:"id"`
	KeyID     string `json:"key_id"`
	Value     Value  `json:"value"`
	SyncLayer int64  `json:"sync_layer"`
}

// Prop is a key/value pair used in lookups.
type Prop struct {
	Key   string
	Value Value
}

// Validate checks that the property names a key.
func (p Prop) Validate() error {
	if strings.TrimSpace(p.Key) == "" {
		return fmt.Errorf("property key is required")
	}
	return nil
}

// RelationFilter restricts node lookups by an adjacent edge. FromNodeID
// requires an edge from that node into the candidate; ToNodeID requires an
// edge from the candidate to that node. Type restricts the edge type.
type RelationFilter struct {
	Type       string
	FromNodeID string
	ToNodeID   string
}

// IsZero reports whether the filter constrains nothing.
func (f RelationFilter) IsZero() bool {
	return f.Type == "" && f.FromNodeID == "" && f.ToNodeID == ""
}

// Relations selects which adjacent data a point read loads.
type Relations struct {
	Properties bool
	Outgoing   bool
	Incoming   bool
}

// AllRelations loads everything.
var AllRelations = Relations{Properties: true, Outgoing: true, Incoming: true}

// SyncSession records one attempted out-sync.
type SyncSession struct {
	ID        int64     `json:"id"`
	SyncFrom  int64     `json:"sync_from"`
	SyncTo    int64     `json:"sync_to"`
	CreatedAt time.Time `json:"created_at"`
	Completed bool      `json:"completed"`
	Error     string    `json:"error,omitempty"`
}
