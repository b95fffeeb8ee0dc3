// Package sync implements the layered, offline-first sync protocol between a
// local graph store and one peer.
//
// Overview
//
// Every local write is stamped with the current sync layer. An out-sync
// freezes the current layer, moves the counter on so new writes land in the
// next layer, and ships every row whose layer lies between the last
// acknowledged layer and the frozen one. An in-sync asks the peer for rows
// newer than the last peer timestamp and replays them with
// insert-or-update.
//
//	local writes (layer N)
//	     │
//	     ▼
//	SyncOut ──► POST /sync/to-server           (rows in layers lastSync+1..N)
//	SyncIn  ◄── GET  /sync/from-server         (rows newer than lastSyncFromServer)
//
//	SyncOutViaSnapshot ──► POST /sync/to-server-via-json  (whole database, zlib)
//	SyncInViaSnapshot  ◄── GET  /sync/from-server-via-json
//
// State
//
// The bookkeeping needed to resume is the State value: the current layer,
// the last layer the peer acknowledged and the last peer timestamp. It is
// loaded from a StateStore when the syncer is created and saved after every
// change. MemoryStateStore suits tests; BadgerStateStore persists across
// restarts.
//
// Usage
//
//	database, err := db.Open(".cpg/cpg.db")
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
//
//	client, err := transport.NewClient("https://cpg.example.org")
//	if err != nil {
//	    return err
//	}
//
//	syncer, err := sync.New(ctx, database.Store, sync.Options{Client: client, State: states})
//	if err != nil {
//	    return err
//	}
//
//	// Stamp graph writes with the syncer's layer
//	first := graph.NewFirstLayer(database.Store, syncer)
//
//	entries, err := syncer.SyncOut(ctx)
//
// Error Handling
//
// A failed delivery is recorded in the sync session row and returned. The
// acknowledged layer is not advanced, so the next SyncOut resends the same
// range; replay is idempotent. Snapshots that do not inflate or parse are
// TransportFailure errors and nothing is applied. Network operations on a
// syncer without a client fail with InvalidState.
//
// Concurrency
//
// A Syncer is safe for concurrent use. Sync operations run one at a time;
// CurrentLayer may be read at any moment by writers.
package sync
