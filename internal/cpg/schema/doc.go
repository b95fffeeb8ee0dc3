// Package schema defines the entities of the property graph, the property
// value union, and the descriptors of every table that takes part in sync.
//
// # Graph encoding
//
// The graph is stored in eight tables:
//
//	node_types                    type_name
//	nodes                         node_id, node_type
//	node_property_keys            node_property_key_id, node_id, property_key, generation
//	node_property_values          node_property_value_id, node_property_key_id, property_value
//	relationship_types            type_name
//	relationships                 relationship_id, relationship_type, from_node_id, to_node_id
//	relationship_property_keys    relationship_property_key_id, relationship_id, property_key, generation
//	relationship_property_values  relationship_property_value_id, relationship_property_key_id, property_value
//
// plus four voting tables (election_types, elections, candidates, votes).
// Every row carries sync_layer and updated_at.
//
// # Properties
//
// A property is a key row bound to one entity and a value row bound to one
// key. Values are stored as the JSON text {"value": v}:
//
//	v, _ := schema.EncodeProperty(schema.String("cat"))
//	// v == `{"value":"cat"}`
//
// Properties are append-only. Changing a property adds a key with the next
// generation; readers resolve a name to its highest generation.
//
// # Sync documents
//
// Deltas travel as []Entry, each a table name with raw rows keyed by column
// name. Snapshots travel as a Snapshot document.
package schema
