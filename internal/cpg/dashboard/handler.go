package dashboard

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	cpgsync "github.com/etenlab/core/internal/cpg/sync"
)

// Handler turns sync events into dashboard messages. It implements
// cpgsync.Observer so it can be passed straight to cpgsync.Options.
type Handler struct {
	server *Server
	stats  StatsFunc
	logger *zap.Logger

	// refresh is a one-slot queue; SyncEvent never waits on the database.
	refresh chan struct{}

	mu         sync.RWMutex
	current    StatsData
	statsReady bool
}

var _ cpgsync.Observer = (*Handler)(nil)

// NewHandler creates a new event handler connected to a dashboard server
func NewHandler(server *Server, stats StatsFunc, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		server:  server,
		stats:   stats,
		logger:  logger.Named("dashboard"),
		refresh: make(chan struct{}, 1),
	}
}

// SyncEvent broadcasts e and schedules a statistics refresh when the event
// changed local data.
func (h *Handler) SyncEvent(e cpgsync.Event) {
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	msg, err := newMessage(MessageTypeSyncEvent, ts, e)
	if err != nil {
		h.logger.Error("failed to encode sync event", zap.Error(err))
		return
	}
	h.server.Broadcast(msg)

	switch e.Kind {
	case cpgsync.EventSessionCompleted, cpgsync.EventRowsApplied, cpgsync.EventStateReset:
		h.requestRefresh()
	}
}

func (h *Handler) requestRefresh() {
	select {
	case h.refresh <- struct{}{}:
	default:
	}
}

// Run refreshes statistics on demand and every interval until ctx is done.
// A non-positive interval disables the periodic refresh.
func (h *Handler) Run(ctx context.Context, interval time.Duration) error {
	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	h.UpdateStats(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.refresh:
			h.UpdateStats(ctx)
		case <-tick:
			h.UpdateStats(ctx)
		}
	}
}

// UpdateStats recomputes statistics and broadcasts them.
func (h *Handler) UpdateStats(ctx context.Context) {
	if h.stats == nil {
		return
	}
	stats, err := h.stats(ctx)
	if err != nil {
		if ctx.Err() == nil {
			h.logger.Warn("failed to compute stats", zap.Error(err))
		}
		return
	}

	h.mu.Lock()
	h.current = stats
	h.statsReady = true
	h.mu.Unlock()

	h.broadcastStats(stats)
}

func (h *Handler) broadcastStats(stats StatsData) {
	msg, err := newMessage(MessageTypeStats, time.Now(), stats)
	if err != nil {
		h.logger.Error("failed to encode stats", zap.Error(err))
		return
	}
	h.server.Broadcast(msg)
}

// GetStats returns the last computed statistics and whether any were
// computed yet.
func (h *Handler) GetStats() (StatsData, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current, h.statsReady
}
