package sync

import (
	"context"

	"github.com/etenlab/core/internal/cpg/schema"
)

// Syncer exchanges graph deltas with one peer.
type Syncer interface {
	// CurrentLayer returns the layer local writes are stamped with. It
	// makes a Syncer usable as a graph.LayerSource.
	CurrentLayer() int64

	// HoldLayer returns the current layer and keeps it from being frozen
	// by an out-sync until release is called. Writers hold it for the whole
	// write so that no row lands in a range already sent. It makes a Syncer
	// usable as a graph.LayerHolder.
	HoldLayer() (layer int64, release func())

	// State returns a copy of the current sync bookkeeping.
	State() State

	// SyncOut pushes every row written since the last acknowledged layer.
	//
	// It returns nil and creates no session when there is nothing to send.
	// On delivery failure the session records the error, the acknowledged
	// layer stays put and the error is returned.
	SyncOut(ctx context.Context) ([]schema.Entry, error)

	// SyncIn pulls and replays the peer rows changed since the last peer
	// timestamp, then advances that timestamp. It returns the number of
	// rows applied. An empty pull changes nothing.
	SyncIn(ctx context.Context) (int, error)

	// SyncOutViaSnapshot pushes the whole database as one compressed
	// document and applies the peer's snapshot from the response.
	SyncOutViaSnapshot(ctx context.Context) error

	// SyncInViaSnapshot downloads and applies the peer's snapshot.
	SyncInViaSnapshot(ctx context.Context) (int, error)

	// SyncInFromFile applies a compressed snapshot stored at path.
	SyncInFromFile(ctx context.Context, path string) (int, error)

	// ExportSnapshot writes the local compressed snapshot to path.
	ExportSnapshot(ctx context.Context, path string) error

	// ClearAllSyncInfo resets the bookkeeping to its defaults.
	ClearAllSyncInfo(ctx context.Context) error

	// Sessions lists the most recent sync sessions, newest first.
	Sessions(ctx context.Context, limit int) ([]*schema.SyncSession, error)
}

// StateStore persists State between runs.
type StateStore interface {
	// Load returns the stored state, or DefaultState if nothing is stored.
	Load(ctx context.Context) (State, error)
	Save(ctx context.Context, st State) error
	// Clear removes the stored state.
	Clear(ctx context.Context) error
}
