package sync

import (
	"context"
	"fmt"
	stdsync "sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/etenlab/core/internal/cpg/cpgerr"
	"github.com/etenlab/core/internal/cpg/db"
	"github.com/etenlab/core/internal/cpg/metrics"
	"github.com/etenlab/core/internal/cpg/schema"
	"github.com/etenlab/core/internal/cpg/snapshot"
	"github.com/etenlab/core/internal/cpg/transport"
)

// Options configures a Syncer.
type Options struct {
	// Client reaches the peer. Without one only the file operations work.
	Client *transport.Client
	// State persists the bookkeeping. Nil keeps it in memory.
	State    StateStore
	Logger   *zap.Logger
	Observer Observer
	Clock    func() time.Time
}

// syncer implements the Syncer interface.
type syncer struct {
	store    *db.Store
	client   *transport.Client
	states   StateStore
	logger   *zap.Logger
	observer Observer
	clock    func() time.Time

	// opMu serializes sync operations; mu guards state. writeMu is read
	// locked by writes in flight and write locked to freeze a layer.
	opMu    stdsync.Mutex
	mu      stdsync.RWMutex
	writeMu stdsync.RWMutex
	state   State
}

// New creates a Syncer over store and loads its state.
//
// The store must have its schema initialized.
func New(ctx context.Context, store *db.Store, opts Options) (Syncer, error) {
	s := &syncer{
		store:    store,
		client:   opts.Client,
		states:   opts.State,
		logger:   opts.Logger,
		observer: opts.Observer,
		clock:    opts.Clock,
	}
	if s.states == nil {
		s.states = NewMemoryStateStore()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("sync")
	if s.observer == nil {
		s.observer = ObserverFunc(func(Event) {})
	}
	if s.clock == nil {
		s.clock = time.Now
	}

	st, err := s.states.Load(ctx)
	if err != nil {
		return nil, err
	}
	s.state = st
	s.publishGauges(st)
	return s, nil
}

func (s *syncer) CurrentLayer() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.SyncLayer
}

func (s *syncer) HoldLayer() (int64, func()) {
	s.writeMu.RLock()
	return s.CurrentLayer(), s.writeMu.RUnlock
}

func (s *syncer) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SyncOut implements Syncer.SyncOut.
func (s *syncer) SyncOut(ctx context.Context) (_ []schema.Entry, err error) {
	if err := s.requireClient(); err != nil {
		return nil, err
	}
	ctx, span, done := s.begin(ctx, metrics.OpSyncOut)
	defer func() { done(err) }()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	from, to, err := s.freezeLayer(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("sync.from", from), attribute.Int64("sync.to", to))
	s.logger.Info("sync out", zap.Int64("from", from), zap.Int64("to", to))

	entries, err := s.store.ExportLayerRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		s.logger.Info("nothing to sync out")
		return nil, nil
	}

	rows := schema.CountRows(entries)
	err = s.inSession(ctx, metrics.OpSyncOut, from, to, rows, func() error {
		return s.client.PushEntries(ctx, entries)
	})
	if err != nil {
		return nil, err
	}

	if err := s.acknowledge(ctx, to); err != nil {
		return nil, err
	}
	metrics.SyncRowsTotal.WithLabelValues(metrics.OpSyncOut).Add(float64(rows))
	s.logger.Info("sync out completed", zap.Int("tables", len(entries)), zap.Int("rows", rows))
	return entries, nil
}

// SyncIn implements Syncer.SyncIn.
func (s *syncer) SyncIn(ctx context.Context) (_ int, err error) {
	if err := s.requireClient(); err != nil {
		return 0, err
	}
	ctx, _, done := s.begin(ctx, metrics.OpSyncIn)
	defer func() { done(err) }()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	since := s.State().LastSyncFromServer
	if since == "" {
		s.logger.Info("doing first sync in")
	} else {
		s.logger.Info("sync in", zap.String("since", since))
	}

	resp, err := s.client.PullEntries(ctx, since)
	if err != nil {
		return 0, err
	}
	if len(resp.Entries) == 0 {
		s.logger.Info("no new sync entries from server")
		return 0, nil
	}

	n, err := s.replay(ctx, resp.Entries)
	if err != nil {
		return 0, err
	}
	if resp.LastSync == "" {
		s.logger.Warn("peer sent no lastSync, keeping bookmark", zap.String("since", since))
	} else if err := s.setLastSyncFromServer(ctx, resp.LastSync); err != nil {
		return 0, err
	}
	s.applied(metrics.OpSyncIn, n)
	return n, nil
}

// SyncOutViaSnapshot implements Syncer.SyncOutViaSnapshot.
func (s *syncer) SyncOutViaSnapshot(ctx context.Context) (err error) {
	if err := s.requireClient(); err != nil {
		return err
	}
	ctx, _, done := s.begin(ctx, metrics.OpSnapshotOut)
	defer func() { done(err) }()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	from, to, err := s.freezeLayer(ctx)
	if err != nil {
		return err
	}
	s.logger.Info("sync out via snapshot", zap.Int64("from", from), zap.Int64("to", to))

	snap, err := s.store.ExportSnapshot(ctx, s.State().LastSyncFromServer)
	if err != nil {
		return err
	}
	data, err := snapshot.Encode(snap)
	if err != nil {
		return err
	}

	rows := countSnapshotRows(snap)
	err = s.inSession(ctx, metrics.OpSnapshotOut, from, to, rows, func() error {
		reply, err := s.client.PushSnapshot(ctx, data)
		if err != nil {
			return err
		}
		if len(reply) == 0 {
			return nil
		}
		_, err = s.applySnapshot(ctx, metrics.OpSnapshotOut, reply)
		return err
	})
	if err != nil {
		return err
	}
	return s.acknowledge(ctx, to)
}

// SyncInViaSnapshot implements Syncer.SyncInViaSnapshot.
func (s *syncer) SyncInViaSnapshot(ctx context.Context) (_ int, err error) {
	if err := s.requireClient(); err != nil {
		return 0, err
	}
	ctx, _, done := s.begin(ctx, metrics.OpSnapshotIn)
	defer func() { done(err) }()

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.logger.Info("sync in via snapshot")
	data, err := s.client.PullSnapshot(ctx)
	if err != nil {
		return 0, err
	}
	return s.applySnapshot(ctx, metrics.OpSnapshotIn, data)
}

// SyncInFromFile implements Syncer.SyncInFromFile.
func (s *syncer) SyncInFromFile(ctx context.Context, path string) (_ int, err error) {
	ctx, span, done := s.begin(ctx, metrics.OpSnapshotFile)
	defer func() { done(err) }()
	span.SetAttributes(attribute.String("sync.file", path))

	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.logger.Info("sync in from file", zap.String("path", path))
	snap, err := snapshot.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return s.replaySnapshot(ctx, metrics.OpSnapshotFile, snap)
}

// ExportSnapshot implements Syncer.ExportSnapshot.
func (s *syncer) ExportSnapshot(ctx context.Context, path string) error {
	snap, err := s.store.ExportSnapshot(ctx, s.State().LastSyncFromServer)
	if err != nil {
		return err
	}
	if err := snapshot.WriteFile(path, snap); err != nil {
		return err
	}
	s.logger.Info("snapshot exported", zap.String("path", path), zap.Int("rows", countSnapshotRows(snap)))
	return nil
}

// ClearAllSyncInfo implements Syncer.ClearAllSyncInfo.
func (s *syncer) ClearAllSyncInfo(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if err := s.states.Clear(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = DefaultState()
	st := s.state
	s.mu.Unlock()

	s.publishGauges(st)
	s.emit(Event{Kind: EventStateReset})
	s.logger.Info("sync state cleared")
	return nil
}

// Sessions implements Syncer.Sessions.
func (s *syncer) Sessions(ctx context.Context, limit int) ([]*schema.SyncSession, error) {
	return s.store.ListSyncSessions(ctx, limit)
}

func (s *syncer) requireClient() error {
	if s.client == nil {
		return cpgerr.InvalidState("no sync server URL configured")
	}
	return nil
}

// begin starts a span and a timer; the returned func records the outcome.
func (s *syncer) begin(ctx context.Context, op string) (context.Context, trace.Span, func(error)) {
	ctx, span := metrics.Tracer.Start(ctx, "sync."+op)
	start := time.Now()
	return ctx, span, func(err error) {
		metrics.SyncDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		result := metrics.ResultOK
		if err != nil {
			result = metrics.ResultError
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		metrics.SyncOperationsTotal.WithLabelValues(op, result).Inc()
		span.End()
	}
}

// freezeLayer returns the layer range to send and moves the counter on so
// writes made during the sync land in the next layer.
func (s *syncer) freezeLayer(ctx context.Context) (from, to int64, err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	next := s.state
	to = next.SyncLayer
	from = next.LastSyncLayer + 1
	next.SyncLayer++
	s.mu.Unlock()

	if err := s.commit(ctx, next); err != nil {
		return 0, 0, err
	}
	s.logger.Debug("sync layer advanced", zap.Int64("syncLayer", next.SyncLayer))
	return from, to, nil
}

func (s *syncer) acknowledge(ctx context.Context, to int64) error {
	s.mu.RLock()
	next := s.state
	s.mu.RUnlock()
	next.LastSyncLayer = to
	return s.commit(ctx, next)
}

func (s *syncer) setLastSyncFromServer(ctx context.Context, ts string) error {
	s.mu.RLock()
	next := s.state
	s.mu.RUnlock()
	next.LastSyncFromServer = ts
	return s.commit(ctx, next)
}

// commit persists st, then makes it current.
func (s *syncer) commit(ctx context.Context, st State) error {
	if err := s.states.Save(ctx, st); err != nil {
		return err
	}
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.publishGauges(st)
	return nil
}

func (s *syncer) publishGauges(st State) {
	metrics.SyncLayer.Set(float64(st.SyncLayer))
	metrics.LastSyncLayer.Set(float64(st.LastSyncLayer))
}

// inSession records send as one sync session. The session is completed
// whatever the outcome, carrying the error text on failure.
func (s *syncer) inSession(ctx context.Context, op string, from, to int64, rows int, send func() error) error {
	id, err := s.store.CreateSyncSession(ctx, from, to)
	if err != nil {
		return err
	}
	s.emit(Event{Kind: EventSessionOpened, Op: op, SessionID: id, From: from, To: to, Rows: rows})

	sendErr := send()

	// The session must be closed even when ctx was what failed the send.
	closeCtx := context.WithoutCancel(ctx)
	if err := s.store.CompleteSyncSession(closeCtx, id, sendErr); err != nil {
		if sendErr != nil {
			return fmt.Errorf("%w (and failed to record session: %v)", sendErr, err)
		}
		return err
	}

	if sendErr != nil {
		s.logger.Error("sync failed", zap.String("op", op), zap.Int64("session", id), zap.Error(sendErr))
		s.emit(Event{Kind: EventSessionFailed, Op: op, SessionID: id, From: from, To: to, Error: sendErr.Error()})
		return sendErr
	}
	s.emit(Event{Kind: EventSessionCompleted, Op: op, SessionID: id, From: from, To: to, Rows: rows})
	return nil
}

// applySnapshot inflates, replays and bookmarks a compressed snapshot.
// Nothing is applied when the document does not decode.
func (s *syncer) applySnapshot(ctx context.Context, op string, data []byte) (int, error) {
	snap, err := snapshot.Decode(data)
	if err != nil {
		s.logger.Error("inflate error", zap.String("op", op), zap.Error(err))
		return 0, err
	}
	return s.replaySnapshot(ctx, op, snap)
}

func (s *syncer) replaySnapshot(ctx context.Context, op string, snap *schema.Snapshot) (int, error) {
	entries, err := snap.Entries()
	if err != nil {
		return 0, cpgerr.Wrap(err, cpgerr.CodeValidation, "invalid snapshot")
	}
	n, err := s.replay(ctx, entries)
	if err != nil {
		return 0, err
	}
	if snap.LastSync != "" {
		if err := s.setLastSyncFromServer(ctx, snap.LastSync); err != nil {
			return 0, err
		}
	}
	s.applied(op, n)
	return n, nil
}

// replay applies peer rows. Local rows rewritten to follow them are
// stamped with the current layer so they reach the peer.
func (s *syncer) replay(ctx context.Context, entries []schema.Entry) (int, error) {
	layer, release := s.HoldLayer()
	defer release()
	return s.store.ReplayEntries(ctx, entries, db.ReplayOptions{Layer: layer})
}

func (s *syncer) applied(op string, n int) {
	metrics.SyncRowsTotal.WithLabelValues(op).Add(float64(n))
	s.emit(Event{Kind: EventRowsApplied, Op: op, Rows: n})
	s.logger.Info("sync entries saved", zap.String("op", op), zap.Int("rows", n))
}

func (s *syncer) emit(e Event) {
	e.Time = s.clock()
	s.observer.SyncEvent(e)
}

func countSnapshotRows(snap *schema.Snapshot) int {
	n := 0
	for _, rows := range snap.DB {
		n += len(rows)
	}
	return n
}
