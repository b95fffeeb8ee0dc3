// Package graph is the public API over the property graph store.
//
// FirstLayer is a typed pass-through to the store that stamps every write
// with the current sync layer. SecondLayer builds whole entities from
// key/value objects in one transaction. Lexicon holds the word, language,
// user and document helpers the rest of the application relies on.
//
// Example:
//
//	first := graph.NewFirstLayer(database.Store, syncer)
//	second := graph.NewSecondLayer(first)
//	node, err := second.CreateNodeFromObject(ctx, schema.NodeTypeWord, schema.Object{
//	    schema.PropName: schema.String("cat"),
//	})
package graph

// LayerSource reports the sync layer new rows are stamped with.
type LayerSource interface {
	CurrentLayer() int64
}

// FixedLayer is a LayerSource that never changes. The peer server and tests
// use it.
type FixedLayer int64

// CurrentLayer implements LayerSource.
func (l FixedLayer) CurrentLayer() int64 {
	return int64(l)
}

// LayerHolder is a LayerSource that can keep its layer from advancing
// while a write is in flight.
type LayerHolder interface {
	LayerSource
	HoldLayer() (layer int64, release func())
}

// HoldLayer returns the layer to stamp a write with and a release func to
// call once the write is committed. Sources that are not LayerHolders are
// read once and need no release.
func HoldLayer(src LayerSource) (int64, func()) {
	if h, ok := src.(LayerHolder); ok {
		return h.HoldLayer()
	}
	return src.CurrentLayer(), func() {}
}
