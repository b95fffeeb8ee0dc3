package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/etenlab/core/internal/cpg/cpgerr"
	"github.com/etenlab/core/internal/cpg/db"
	"github.com/etenlab/core/internal/cpg/graph"
	"github.com/etenlab/core/internal/cpg/schema"
	"github.com/etenlab/core/internal/cpg/snapshot"
	"github.com/etenlab/core/internal/cpg/transport"
)

// setupTestDB creates a temporary database for testing.
func setupTestDB(t *testing.T) *db.DB {
	t.Helper()

	database, err := db.OpenWithOptions(filepath.Join(t.TempDir(), "test.db"), db.Options{MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	if err := database.InitSchema(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}
	return database
}

// fakePeer records pushes and serves canned pulls.
type fakePeer struct {
	mu       stdsync.Mutex
	fail     atomic.Bool
	pushes   [][]schema.Entry
	queries  []string
	pull     schema.PullResponse
	snapshot []byte
}

func (p *fakePeer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.fail.Load() {
		http.Error(w, "peer unavailable", http.StatusServiceUnavailable)
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	switch r.URL.Path {
	case transport.PathToServer:
		var entries []schema.Entry
		if err := json.NewDecoder(r.Body).Decode(&entries); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.pushes = append(p.pushes, entries)
	case transport.PathFromServer:
		p.queries = append(p.queries, r.URL.Query().Get(transport.LastSyncParam))
		_ = json.NewEncoder(w).Encode(p.pull)
	case transport.PathToServerViaJSON, transport.PathFromServerViaJSON:
		_, _ = w.Write(p.snapshot)
	default:
		http.NotFound(w, r)
	}
}

func newTestSyncer(t *testing.T, database *db.DB, peer http.Handler, observer Observer) Syncer {
	t.Helper()

	var client *transport.Client
	if peer != nil {
		srv := httptest.NewServer(peer)
		t.Cleanup(srv.Close)
		var err error
		client, err = transport.NewClient(srv.URL)
		require.NoError(t, err)
	}

	s, err := New(context.Background(), database.Store, Options{Client: client, Observer: observer})
	require.NoError(t, err)
	return s
}

func TestSyncOut_NothingToSend(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	peer := &fakePeer{}
	s := newTestSyncer(t, database, peer, nil)

	entries, err := s.SyncOut(ctx)
	require.NoError(t, err)
	assert.Nil(t, entries)

	sessions, err := s.Sessions(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, sessions, "no session for an empty delta")
	assert.Empty(t, peer.pushes)
	assert.Equal(t, int64(-1), s.State().LastSyncLayer)
}

func TestSyncOut_LayerRanges(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	peer := &fakePeer{}
	s := newTestSyncer(t, database, peer, nil)
	first := graph.NewFirstLayer(database.Store, s)

	n1, err := first.CreateNode(ctx, schema.NodeTypeWord)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n1.SyncLayer)

	entries, err := s.SyncOut(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, schema.CountRows(entries), "node type and node")
	assert.Equal(t, State{SyncLayer: 1, LastSyncLayer: 0}, s.State())

	n2, err := first.CreateNode(ctx, schema.NodeTypeWord)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n2.SyncLayer)

	entries, err = s.SyncOut(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Len(t, entries[0].Rows, 1)
	assert.Equal(t, n2.ID, entries[0].Rows[0]["node_id"])
	_, hasLayer := entries[0].Rows[0][schema.ColSyncLayer]
	assert.False(t, hasLayer, "sync_layer is stripped")

	sessions, err := s.Sessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, int64(1), sessions[0].SyncFrom)
	assert.Equal(t, int64(1), sessions[0].SyncTo)
	assert.Len(t, peer.pushes, 2)
}

func TestSyncOut_Monotonic(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	s := newTestSyncer(t, database, &fakePeer{}, nil)

	for i := int64(0); i < 5; i++ {
		assert.Equal(t, i, s.CurrentLayer())
		_, err := s.SyncOut(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(5), s.CurrentLayer())
}

func TestSyncOut_TransportFailure(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	peer := &fakePeer{}
	peer.fail.Store(true)

	var events []Event
	s := newTestSyncer(t, database, peer, ObserverFunc(func(e Event) { events = append(events, e) }))
	first := graph.NewFirstLayer(database.Store, s)

	_, err := first.CreateNode(ctx, schema.NodeTypeWord)
	require.NoError(t, err)

	_, err = s.SyncOut(ctx)
	require.Error(t, err)
	assert.True(t, cpgerr.IsTransportFailure(err))

	sessions, err := s.Sessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].Completed)
	assert.Contains(t, sessions[0].Error, "peer unavailable")
	assert.Equal(t, int64(-1), s.State().LastSyncLayer, "acknowledged layer unchanged")

	require.Len(t, events, 2)
	assert.Equal(t, EventSessionOpened, events[0].Kind)
	assert.Equal(t, EventSessionFailed, events[1].Kind)

	// The retry resends the failed range along with anything newer.
	peer.fail.Store(false)
	entries, err := s.SyncOut(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, schema.CountRows(entries))

	sessions, err = s.Sessions(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sessions[0].SyncFrom)
	assert.Equal(t, int64(1), sessions[0].SyncTo)
	assert.Empty(t, sessions[0].Error)
	assert.Equal(t, int64(1), s.State().LastSyncLayer)
}

func TestSyncIn(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	peer := &fakePeer{pull: schema.PullResponse{
		LastSync: "2024-05-01T12:00:00.000000000Z",
		Entries: []schema.Entry{
			{Table: schema.TableNodeTypes, Rows: []schema.Row{{"type_name": "word", "updated_at": "2024-05-01T11:00:00.000000000Z"}}},
			{Table: schema.TableNodes, Rows: []schema.Row{{"node_id": "remote-1", "node_type": "word", "updated_at": "2024-05-01T11:00:00.000000000Z"}}},
		},
	}}
	s := newTestSyncer(t, database, peer, nil)

	n, err := s.SyncIn(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "2024-05-01T12:00:00.000000000Z", s.State().LastSyncFromServer)

	node, err := database.ReadNode(ctx, "remote-1", schema.Relations{})
	require.NoError(t, err)
	assert.Equal(t, db.ReplayedLayer, node.SyncLayer)

	// Replayed rows never travel back out.
	entries, err := s.SyncOut(ctx)
	require.NoError(t, err)
	assert.Nil(t, entries)

	// Second pull sends the bookmark; an empty pull keeps it.
	peer.pull = schema.PullResponse{LastSync: "2024-05-02T00:00:00.000000000Z", Entries: []schema.Entry{}}
	n, err = s.SyncIn(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []string{"", "2024-05-01T12:00:00.000000000Z"}, peer.queries)
	assert.Equal(t, "2024-05-01T12:00:00.000000000Z", s.State().LastSyncFromServer)
}

func TestSyncIn_Idempotent(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	peer := &fakePeer{pull: schema.PullResponse{
		LastSync: "T1",
		Entries: []schema.Entry{
			{Table: schema.TableNodes, Rows: []schema.Row{{"node_id": "remote-1", "node_type": "word", "updated_at": "T0"}}},
		},
	}}
	s := newTestSyncer(t, database, peer, nil)

	_, err := s.SyncIn(ctx)
	require.NoError(t, err)
	once, err := database.ExportSnapshot(ctx, "")
	require.NoError(t, err)

	_, err = s.SyncIn(ctx)
	require.NoError(t, err)
	twice, err := database.ExportSnapshot(ctx, "")
	require.NoError(t, err)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("replaying twice changed the store (-once +twice):\n%s", diff)
	}
}

func TestSyncIn_EmptyLastSyncKeepsBookmark(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	peer := &fakePeer{pull: schema.PullResponse{
		LastSync: "2024-05-01T12:00:00.000000000Z",
		Entries: []schema.Entry{
			{Table: schema.TableNodes, Rows: []schema.Row{{"node_id": "remote-1", "node_type": "word"}}},
		},
	}}
	s := newTestSyncer(t, database, peer, nil)

	_, err := s.SyncIn(ctx)
	require.NoError(t, err)

	peer.pull = schema.PullResponse{Entries: []schema.Entry{
		{Table: schema.TableNodes, Rows: []schema.Row{{"node_id": "remote-2", "node_type": "word"}}},
	}}
	n, err := s.SyncIn(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "2024-05-01T12:00:00.000000000Z", s.State().LastSyncFromServer)
}

func TestSyncOut_WaitsForHeldLayer(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	peer := &fakePeer{}
	s := newTestSyncer(t, database, peer, nil)

	layer, release := s.HoldLayer()
	assert.Equal(t, int64(0), layer)

	done := make(chan error, 1)
	go func() {
		_, err := s.SyncOut(ctx)
		done <- err
	}()

	select {
	case err := <-done:
		release()
		t.Fatalf("sync out froze the layer while a write held it: %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	// A write stamped with the held layer commits before the range is cut.
	_, err := database.CreateNode(ctx, schema.NodeTypeWord, layer)
	require.NoError(t, err)
	release()

	require.NoError(t, <-done)
	require.Len(t, peer.pushes, 1)
	assert.Equal(t, 2, schema.CountRows(peer.pushes[0]), "node type and node")
	assert.Equal(t, State{SyncLayer: 1, LastSyncLayer: 0}, s.State())
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := setupTestDB(t)
	dst := setupTestDB(t)

	srcSyncer := newTestSyncer(t, src, nil, nil)
	second := graph.NewSecondLayer(graph.NewFirstLayer(src.Store, srcSyncer))
	lex := graph.NewLexicon(second)

	en, err := lex.CreateLanguage(ctx, "en")
	require.NoError(t, err)
	cat, err := lex.CreateWord(ctx, "cat", en)
	require.NoError(t, err)
	_, err = second.UpdateNodeObject(ctx, cat, schema.Object{"count": schema.Number(3), "tags": schema.Array{schema.String("pet")}})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), snapshot.FileName)
	require.NoError(t, srcSyncer.ExportSnapshot(ctx, path))

	dstSyncer := newTestSyncer(t, dst, nil, nil)
	n, err := dstSyncer.SyncInFromFile(ctx, path)
	require.NoError(t, err)
	assert.Positive(t, n)

	want, err := src.ExportSnapshot(ctx, "")
	require.NoError(t, err)
	got, err := dst.ExportSnapshot(ctx, "")
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshot round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSyncInFromFile_Corrupt(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	s := newTestSyncer(t, database, nil, nil)

	path := filepath.Join(t.TempDir(), "bad.json.gz")
	require.NoError(t, os.WriteFile(path, []byte("not deflated"), 0o644))

	before := s.State()
	_, err := s.SyncInFromFile(ctx, path)
	require.Error(t, err)
	assert.True(t, cpgerr.IsTransportFailure(err))
	assert.Equal(t, before, s.State(), "bookmark must not move")
}

func TestSyncOutViaSnapshot(t *testing.T) {
	ctx := context.Background()

	// The peer answers with its own snapshot.
	remote := setupTestDB(t)
	remoteFirst := graph.NewFirstLayer(remote.Store, nil)
	remoteNode, err := remoteFirst.CreateNode(ctx, schema.NodeTypeDocument)
	require.NoError(t, err)
	remoteSnap, err := remote.ExportSnapshot(ctx, "2024-06-01T00:00:00.000000000Z")
	require.NoError(t, err)
	reply, err := snapshot.Encode(remoteSnap)
	require.NoError(t, err)

	database := setupTestDB(t)
	s := newTestSyncer(t, database, &fakePeer{snapshot: reply}, nil)
	_, err = graph.NewFirstLayer(database.Store, s).CreateNode(ctx, schema.NodeTypeWord)
	require.NoError(t, err)

	require.NoError(t, s.SyncOutViaSnapshot(ctx))

	st := s.State()
	assert.Equal(t, int64(0), st.LastSyncLayer)
	assert.Equal(t, int64(1), st.SyncLayer)
	assert.Equal(t, "2024-06-01T00:00:00.000000000Z", st.LastSyncFromServer)

	ok, err := database.NodeExists(ctx, remoteNode.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	sessions, err := s.Sessions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Empty(t, sessions[0].Error)
}

func TestSyncInViaSnapshot_CorruptReply(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t)
	s := newTestSyncer(t, database, &fakePeer{snapshot: []byte("garbage")}, nil)

	_, err := s.SyncInViaSnapshot(ctx)
	assert.True(t, cpgerr.IsTransportFailure(err))
	assert.Empty(t, s.State().LastSyncFromServer)
}

func TestNetworkOpsWithoutClient(t *testing.T) {
	ctx := context.Background()
	s := newTestSyncer(t, setupTestDB(t), nil, nil)

	_, err := s.SyncOut(ctx)
	assert.True(t, cpgerr.IsInvalidState(err))
	_, err = s.SyncIn(ctx)
	assert.True(t, cpgerr.IsInvalidState(err))
	assert.True(t, cpgerr.IsInvalidState(s.SyncOutViaSnapshot(ctx)))
	_, err = s.SyncInViaSnapshot(ctx)
	assert.True(t, cpgerr.IsInvalidState(err))

	assert.Equal(t, DefaultState(), s.State(), "no counter moves without a peer")
}

func TestClearAllSyncInfo(t *testing.T) {
	ctx := context.Background()
	states := NewMemoryStateStore()
	require.NoError(t, states.Save(ctx, State{SyncLayer: 7, LastSyncLayer: 6, LastSyncFromServer: "T"}))

	database := setupTestDB(t)
	s, err := New(ctx, database.Store, Options{State: states})
	require.NoError(t, err)
	assert.Equal(t, int64(7), s.CurrentLayer())

	require.NoError(t, s.ClearAllSyncInfo(ctx))
	assert.Equal(t, DefaultState(), s.State())

	loaded, err := states.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultState(), loaded)
}

func TestBadgerStateStore_Persists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := OpenBadgerStateStore(dir)
	require.NoError(t, err)

	st, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultState(), st)

	want := State{SyncLayer: 12, LastSyncLayer: 10, LastSyncFromServer: "2024-05-01T12:00:00.000000000Z"}
	require.NoError(t, store.Save(ctx, want))
	require.NoError(t, store.Close())

	store, err = OpenBadgerStateStore(dir)
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	require.NoError(t, store.Clear(ctx))
	got, err = store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultState(), got)
}
