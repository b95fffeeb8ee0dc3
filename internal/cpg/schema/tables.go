package schema

import "fmt"

// Table names.
const (
	TableNodeTypes                  = "node_types"
	TableNodes                      = "nodes"
	TableNodePropertyKeys           = "node_property_keys"
	TableNodePropertyValues         = "node_property_values"
	TableRelationshipTypes          = "relationship_types"
	TableRelationships              = "relationships"
	TableRelationshipPropertyKeys   = "relationship_property_keys"
	TableRelationshipPropertyValues = "relationship_property_values"
	TableElectionTypes              = "election_types"
	TableElections                  = "elections"
	TableCandidates                 = "candidates"
	TableVotes                      = "votes"
)

// Internal columns present on every synced table.
const (
	ColSyncLayer = "sync_layer"
	ColUpdatedAt = "updated_at"
)

// Table describes one synced table. PK is the raw primary key column name;
// Columns lists every wire column (sync_layer excluded).
type Table struct {
	Name    string
	PK      string
	Columns []string
}

// HasColumn reports whether col is a wire column of t.
func (t Table) HasColumn(col string) bool {
	for _, c := range t.Columns {
		if c == col {
			return true
		}
	}
	return false
}

// Tables lists the synced tables, parents before children.
var Tables = []Table{
	{Name: TableNodeTypes, PK: "type_name", Columns: []string{"type_name", ColUpdatedAt}},
	{Name: TableNodes, PK: "node_id", Columns: []string{"node_id", "node_type", ColUpdatedAt}},
	{Name: TableNodePropertyKeys, PK: "node_property_key_id", Columns: []string{"node_property_key_id", "node_id", "property_key", "generation", ColUpdatedAt}},
	{Name: TableNodePropertyValues, PK: "node_property_value_id", Columns: []string{"node_property_value_id", "node_property_key_id", "property_value", ColUpdatedAt}},
	{Name: TableRelationshipTypes, PK: "type_name", Columns: []string{"type_name", ColUpdatedAt}},
	{Name: TableRelationships, PK: "relationship_id", Columns: []string{"relationship_id", "relationship_type", "from_node_id", "to_node_id", ColUpdatedAt}},
	{Name: TableRelationshipPropertyKeys, PK: "relationship_property_key_id", Columns: []string{"relationship_property_key_id", "relationship_id", "property_key", "generation", ColUpdatedAt}},
	{Name: TableRelationshipPropertyValues, PK: "relationship_property_value_id", Columns: []string{"relationship_property_value_id", "relationship_property_key_id", "property_value", ColUpdatedAt}},
	{Name: TableElectionTypes, PK: "type_name", Columns: []string{"type_name", ColUpdatedAt}},
	{Name: TableElections, PK: "election_id", Columns: []string{"election_id", "election_type", "election_ref", "ref_table_name", "candidate_ref_table_name", ColUpdatedAt}},
	{Name: TableCandidates, PK: "candidate_id", Columns: []string{"candidate_id", "election_id", "candidate_ref", ColUpdatedAt}},
	{Name: TableVotes, PK: "vote_id", Columns: []string{"vote_id", "candidate_id", "user_id", "vote", ColUpdatedAt}},
}

// LookupTable returns the descriptor for name.
func LookupTable(name string) (Table, error) {
	for _, t := range Tables {
		if t.Name == name {
			return t, nil
		}
	}
	return Table{}, fmt.Errorf("unknown table %s", name)
}

// TableNames returns the synced table names in sync order.
func TableNames() []string {
	names := make([]string, len(Tables))
	for i, t := range Tables {
		names[i] = t.Name
	}
	return names
}
