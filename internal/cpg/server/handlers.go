package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/etenlab/core/internal/cpg/cpgerr"
	"github.com/etenlab/core/internal/cpg/db"
	"github.com/etenlab/core/internal/cpg/metrics"
	"github.com/etenlab/core/internal/cpg/schema"
	"github.com/etenlab/core/internal/cpg/snapshot"
	"github.com/etenlab/core/internal/cpg/transport"
)

// PushResponse is the body of a successful push.
type PushResponse struct {
	Applied int `json:"applied"`
}

// handlePush replays a pushed delta. Rows are restamped so other clients
// see them in their next pull.
func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	ctx, span := metrics.Tracer.Start(r.Context(), "server.push")
	defer span.End()
	start := time.Now()

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxUploadSize))
	dec.UseNumber()
	var entries []schema.Entry
	if err := dec.Decode(&entries); err != nil {
		writeError(w, http.StatusBadRequest, "invalid sync entries: "+err.Error())
		return
	}

	n, err := s.replayStamped(ctx, entries)
	if err != nil {
		s.fail(w, metrics.OpServerPush, err)
		return
	}

	s.done(metrics.OpServerPush, n, start)
	writeJSON(w, http.StatusCreated, PushResponse{Applied: n})
}

// handlePull returns the rows changed after last-sync, up to now.
func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	ctx, span := metrics.Tracer.Start(r.Context(), "server.pull")
	defer span.End()
	start := time.Now()

	since := r.URL.Query().Get(transport.LastSyncParam)
	if since != "" {
		t, err := schema.ParseTime(since)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		since = schema.FormatTime(t)
	}
	s.syncMu.RLock()
	now := schema.FormatTime(s.clock())
	entries, err := s.store.ExportUpdatedBetween(ctx, since, now)
	s.syncMu.RUnlock()
	if err != nil {
		s.fail(w, metrics.OpServerPull, err)
		return
	}
	if entries == nil {
		entries = []schema.Entry{}
	}

	s.done(metrics.OpServerPull, schema.CountRows(entries), start)
	writeJSON(w, http.StatusOK, schema.PullResponse{LastSync: now, Entries: entries})
}

// handlePushSnapshot applies an uploaded snapshot and answers with this
// store's own snapshot.
func (s *Server) handlePushSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx, span := metrics.Tracer.Start(r.Context(), "server.push_snapshot")
	defer span.End()
	start := time.Now()

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	file, _, err := r.FormFile(transport.SnapshotField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing snapshot file: "+err.Error())
		return
	}
	defer file.Close()

	snap, err := snapshot.Read(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, err := snap.Entries()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	n, err := s.replayStamped(ctx, entries)
	if err != nil {
		s.fail(w, metrics.OpServerSnapshot, err)
		return
	}
	s.logger.Info("snapshot applied", zap.Int("rows", n))

	s.writeSnapshot(w, r, start)
}

// replayStamped applies pushed rows stamped with the server clock. The
// stamp is taken and committed while pulls are held off, so every pull
// either sees the rows or answers with a lastSync before their stamp.
func (s *Server) replayStamped(ctx context.Context, entries []schema.Entry) (int, error) {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()
	stamp := schema.FormatTime(s.clock())
	return s.replay(ctx, entries, db.ReplayOptions{Restamp: true, Stamp: stamp})
}

func (s *Server) handlePullSnapshot(w http.ResponseWriter, r *http.Request) {
	s.writeSnapshot(w, r, time.Now())
}

func (s *Server) writeSnapshot(w http.ResponseWriter, r *http.Request, start time.Time) {
	ctx, span := metrics.Tracer.Start(r.Context(), "server.snapshot")
	defer span.End()

	s.syncMu.RLock()
	now := schema.FormatTime(s.clock())
	snap, err := s.store.ExportSnapshot(ctx, now)
	s.syncMu.RUnlock()
	if err != nil {
		s.fail(w, metrics.OpServerSnapshot, err)
		return
	}
	data, err := snapshot.Encode(snap)
	if err != nil {
		s.fail(w, metrics.OpServerSnapshot, err)
		return
	}

	rows := 0
	for _, t := range snap.DB {
		rows += len(t)
	}
	s.done(metrics.OpServerSnapshot, rows, start)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+snapshot.FileName+`"`)
	_, _ = w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.TableCountsContext(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "error", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"protocol": transport.ProtocolVersion,
		"tables":   counts,
	})
}

func (s *Server) done(op string, rows int, start time.Time) {
	metrics.SyncOperationsTotal.WithLabelValues(op, metrics.ResultOK).Inc()
	metrics.SyncRowsTotal.WithLabelValues(op).Add(float64(rows))
	metrics.SyncDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	metrics.SyncOperationsTotal.WithLabelValues(op, metrics.ResultError).Inc()

	status := http.StatusInternalServerError
	switch {
	case cpgerr.IsValidation(err):
		status = http.StatusBadRequest
	case cpgerr.IsNotFound(err):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("sync request failed", zap.String("op", op), zap.Error(err))
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
