package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/etenlab/core/internal/cpg/cpgerr"
	"github.com/etenlab/core/internal/cpg/db"
	"github.com/etenlab/core/internal/cpg/graph"
	"github.com/etenlab/core/internal/cpg/schema"
	cpgsync "github.com/etenlab/core/internal/cpg/sync"
	"github.com/etenlab/core/internal/cpg/transport"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

func setupTestDB(t *testing.T, name string) *db.DB {
	t.Helper()
	database, err := db.OpenWithOptions(filepath.Join(t.TempDir(), name), db.Options{MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	require.NoError(t, database.InitSchema())
	return database
}

func startServer(t *testing.T, cfg Config) (*db.DB, *httptest.Server) {
	t.Helper()
	database := setupTestDB(t, "server.db")
	srv := httptest.NewServer(New(database, cfg).Handler())
	t.Cleanup(srv.Close)
	return database, srv
}

func newClientSyncer(t *testing.T, url string) (*db.DB, cpgsync.Syncer) {
	t.Helper()
	database := setupTestDB(t, "client.db")
	client, err := transport.NewClient(url)
	require.NoError(t, err)
	s, err := cpgsync.New(context.Background(), database.Store, cpgsync.Options{Client: client})
	require.NoError(t, err)
	return database, s
}

func TestPushThenPull_BetweenClients(t *testing.T) {
	ctx := context.Background()
	_, srv := startServer(t, Config{})

	aDB, a := newClientSyncer(t, srv.URL)
	bDB, b := newClientSyncer(t, srv.URL)

	lex := graph.NewLexicon(graph.NewSecondLayer(graph.NewFirstLayer(aDB.Store, a)))
	en, err := lex.CreateLanguage(ctx, "en")
	require.NoError(t, err)
	cat, err := lex.CreateWord(ctx, "cat", en)
	require.NoError(t, err)

	entries, err := a.SyncOut(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	n, err := b.SyncIn(ctx)
	require.NoError(t, err)
	assert.Equal(t, schema.CountRows(entries), n)
	assert.NotEmpty(t, b.State().LastSyncFromServer)

	bLex := graph.NewLexicon(graph.NewSecondLayer(graph.NewFirstLayer(bDB.Store, b)))
	got, ok, err := bLex.GetWord(ctx, "cat", en)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, cat, got)

	// Nothing new since the bookmark.
	n, err = b.SyncIn(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSnapshotExchange(t *testing.T) {
	ctx := context.Background()
	serverDB, srv := startServer(t, Config{})

	_, err := graph.NewFirstLayer(serverDB.Store, nil).CreateNode(ctx, schema.NodeTypeDocument)
	require.NoError(t, err)

	clientDB, c := newClientSyncer(t, srv.URL)
	_, err = graph.NewFirstLayer(clientDB.Store, c).CreateNode(ctx, schema.NodeTypeWord)
	require.NoError(t, err)

	require.NoError(t, c.SyncOutViaSnapshot(ctx))

	serverCounts, err := serverDB.TableCounts()
	require.NoError(t, err)
	clientCounts, err := clientDB.TableCounts()
	require.NoError(t, err)
	assert.Equal(t, 2, serverCounts[schema.TableNodes])
	assert.Equal(t, serverCounts, clientCounts)

	_, other := newClientSyncer(t, srv.URL)
	n, err := other.SyncInViaSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n, "two node types and two nodes")
}

func TestPush_InvalidEntries(t *testing.T) {
	_, srv := startServer(t, Config{})

	resp, err := http.Post(srv.URL+transport.PathToServer, "application/json",
		strings.NewReader(`[{"table":"secrets","rows":[{"id":"x"}]}]`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, transport.ProtocolVersion, resp.Header.Get(transport.ProtocolHeader))
}

func TestPull_InvalidLastSync(t *testing.T) {
	_, srv := startServer(t, Config{})

	resp, err := http.Get(srv.URL + transport.PathFromServer + "?last-sync=yesterday")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPull_UpdatedWindow(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	database := setupTestDB(t, "server.db")
	srv := httptest.NewServer(New(database, Config{Clock: func() time.Time { return now }}).Handler())
	defer srv.Close()

	_, err := database.ReplayEntries(ctx, []schema.Entry{{Table: schema.TableNodes, Rows: []schema.Row{
		{"node_id": "old", "node_type": "word", "updated_at": "2024-05-01T10:00:00.000000000Z"},
		{"node_id": "new", "node_type": "word", "updated_at": "2024-05-01T11:30:00.000000000Z"},
		{"node_id": "future", "node_type": "word", "updated_at": "2024-05-01T13:00:00.000000000Z"},
	}}}, db.ReplayOptions{})
	require.NoError(t, err)

	client, err := transport.NewClient(srv.URL)
	require.NoError(t, err)
	resp, err := client.PullEntries(ctx, "2024-05-01T11:00:00Z")
	require.NoError(t, err)

	assert.Equal(t, schema.FormatTime(now), resp.LastSync)
	require.Len(t, resp.Entries, 1)
	require.Len(t, resp.Entries[0].Rows, 1)
	assert.Equal(t, "new", resp.Entries[0].Rows[0]["node_id"])
}

func TestPull_WaitsForInFlightPush(t *testing.T) {
	ctx := context.Background()
	database := setupTestDB(t, "server.db")
	s := New(database, Config{})

	started := make(chan struct{})
	release := make(chan struct{})
	s.replay = func(ctx context.Context, entries []schema.Entry, opts db.ReplayOptions) (int, error) {
		close(started)
		<-release
		return database.ReplayEntries(ctx, entries, opts)
	}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	client, err := transport.NewClient(srv.URL)
	require.NoError(t, err)

	pushDone := make(chan error, 1)
	go func() {
		pushDone <- client.PushEntries(ctx, []schema.Entry{{Table: schema.TableNodes, Rows: []schema.Row{
			{"node_id": "pushed", "node_type": "word"},
		}}})
	}()
	<-started

	type pullResult struct {
		resp *schema.PullResponse
		err  error
	}
	pullDone := make(chan pullResult, 1)
	go func() {
		resp, err := client.PullEntries(ctx, "")
		pullDone <- pullResult{resp, err}
	}()

	select {
	case <-pullDone:
		t.Fatal("pull answered while a push was being written")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-pushDone)

	got := <-pullDone
	require.NoError(t, got.err)
	require.Len(t, got.resp.Entries, 1)
	assert.Equal(t, "pushed", got.resp.Entries[0].Rows[0]["node_id"])

	// The pushed row is not behind the bookmark the pull handed out.
	next, err := client.PullEntries(ctx, got.resp.LastSync)
	require.NoError(t, err)
	assert.Empty(t, next.Entries)
}

func TestRateLimit(t *testing.T) {
	_, srv := startServer(t, Config{RateLimit: 0.001, Burst: 1})

	first, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	first.Body.Close()
	assert.Equal(t, http.StatusOK, first.StatusCode)

	second, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	second.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestProtocolMismatch(t *testing.T) {
	_, srv := startServer(t, Config{})

	req, err := http.NewRequest(http.MethodGet, srv.URL+transport.PathFromServer, nil)
	require.NoError(t, err)
	req.Header.Set(transport.ProtocolHeader, "v9.0.0")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	_, srv := startServer(t, Config{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Status string         `json:"status"`
		Tables map[string]int `json:"tables"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "ok", body.Status)
	assert.Contains(t, body.Tables, schema.TableNodes)
}

func TestServe_StopsOnCancel(t *testing.T) {
	database := setupTestDB(t, "server.db")
	s := New(database, Config{})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	client, err := transport.NewClient("http://" + ln.Addr().String())
	require.NoError(t, err)
	_, err = client.PullEntries(ctx, "")
	require.NoError(t, err)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}

	_, err = client.PullEntries(context.Background(), "")
	assert.True(t, cpgerr.IsTransportFailure(err))
}
