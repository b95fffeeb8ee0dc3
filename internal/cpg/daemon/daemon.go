package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/etenlab/core/internal/cpg/cpgerr"
	"github.com/etenlab/core/internal/cpg/metrics"
	cpgsync "github.com/etenlab/core/internal/cpg/sync"
)

// AppliedSuffix is appended to inbox files once they have been applied.
const AppliedSuffix = ".applied"

// Config holds configuration for the daemon.
type Config struct {
	// Interval between sync rounds. Zero disables periodic sync.
	Interval time.Duration

	// DebounceInterval is how long an inbox file must stay quiet before it
	// is applied. This batches the writes of one copy together.
	DebounceInterval time.Duration

	// Inbox is the directory watched for snapshots. Empty disables it.
	Inbox string

	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:         time.Minute,
		DebounceInterval: 200 * time.Millisecond,
	}
}

// RoundResult summarizes one sync round.
type RoundResult struct {
	Sent     int
	Received int
}

// Daemon runs sync rounds and applies inbox snapshots.
type Daemon struct {
	syncer cpgsync.Syncer
	config Config
	logger *zap.Logger

	changeQueue   map[string]time.Time // path -> last event
	changeQueueMu sync.Mutex
}

// New creates a daemon driving syncer.
func New(syncer cpgsync.Syncer, config *Config) (*Daemon, error) {
	if syncer == nil {
		return nil, cpgerr.Validation("syncer cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = DefaultConfig().DebounceInterval
	}
	if cfg.Interval <= 0 && cfg.Inbox == "" {
		return nil, cpgerr.Validation("daemon needs a sync interval or an inbox")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Daemon{
		syncer:      syncer,
		config:      cfg,
		logger:      logger.Named("daemon"),
		changeQueue: make(map[string]time.Time),
	}, nil
}

// Run blocks until ctx is cancelled. It returns an error only when the
// inbox cannot be watched.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("starting daemon",
		zap.Duration("interval", d.config.Interval),
		zap.String("inbox", d.config.Inbox))

	g, ctx := errgroup.WithContext(ctx)

	if d.config.Inbox != "" {
		watcher, err := NewInboxWatcher()
		if err != nil {
			return err
		}
		if err := watcher.Start(d.config.Inbox); err != nil {
			_ = watcher.Stop()
			return err
		}
		g.Go(func() error {
			<-ctx.Done()
			return watcher.Stop()
		})
		g.Go(func() error {
			d.watchInbox(ctx, watcher)
			return nil
		})
		g.Go(func() error {
			d.processChangeQueue(ctx)
			return nil
		})

		// Files copied in while the daemon was down.
		if err := d.queueExisting(watcher.Dir()); err != nil {
			d.logger.Warn("failed to scan inbox", zap.Error(err))
		}
	}

	if d.config.Interval > 0 {
		g.Go(func() error {
			d.syncLoop(ctx)
			return nil
		})
	}

	err := g.Wait()
	d.logger.Info("daemon stopped")
	return err
}

// RunOnce performs one sync round: SyncOut followed by SyncIn.
func (d *Daemon) RunOnce(ctx context.Context) (RoundResult, error) {
	var res RoundResult

	sent, outErr := d.syncer.SyncOut(ctx)
	res.Sent = len(sent)
	if outErr != nil {
		outErr = fmt.Errorf("sync out: %w", outErr)
	}

	received, inErr := d.syncer.SyncIn(ctx)
	res.Received = received
	if inErr != nil {
		inErr = fmt.Errorf("sync in: %w", inErr)
	}

	return res, errors.Join(outErr, inErr)
}

// ApplyFile applies one inbox snapshot and marks it applied.
func (d *Daemon) ApplyFile(ctx context.Context, path string) (int, error) {
	n, err := d.syncer.SyncInFromFile(ctx, path)
	if err != nil {
		metrics.InboxFilesTotal.WithLabelValues(metrics.ResultError).Inc()
		return 0, err
	}
	metrics.InboxFilesTotal.WithLabelValues(metrics.ResultOK).Inc()

	if err := os.Rename(path, path+AppliedSuffix); err != nil {
		return n, fmt.Errorf("failed to mark %s applied: %w", path, err)
	}
	return n, nil
}

func (d *Daemon) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			res, err := d.RunOnce(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				d.logger.Warn("sync round failed", zap.Error(err))
			}
			if res.Sent > 0 || res.Received > 0 {
				d.logger.Info("sync round",
					zap.Int("sent", res.Sent),
					zap.Int("received", res.Received))
			}
		}
	}
}

func (d *Daemon) watchInbox(ctx context.Context, watcher *InboxWatcher) {
	events, errs := watcher.Events(), watcher.Errors()
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-events:
			if !ok {
				return
			}
			d.logger.Debug("inbox event", zap.Stringer("op", event.Op), zap.String("path", event.Path))
			d.queueChange(event.Path)

		case err, ok := <-errs:
			if !ok {
				return
			}
			d.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

func (d *Daemon) queueExisting(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+InboxSuffix))
	if err != nil {
		return err
	}
	for _, path := range matches {
		if IsInboxFile(path) {
			d.queueChange(path)
		}
	}
	return nil
}

// queueChange (re)starts the debounce window for path.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

func (d *Daemon) processChangeQueue(ctx context.Context) {
	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges(ctx)
		}
	}
}

// processPendingChanges applies the files that have been quiet for long
// enough, oldest first.
func (d *Daemon) processPendingChanges(ctx context.Context) {
	now := time.Now()

	d.changeQueueMu.Lock()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	sort.Strings(ready)
	for _, path := range ready {
		if ctx.Err() != nil {
			return
		}
		n, err := d.ApplyFile(ctx, path)
		if err != nil {
			d.logger.Warn("failed to apply inbox file", zap.String("path", path), zap.Error(err))
			continue
		}
		d.logger.Info("applied inbox file", zap.String("path", path), zap.Int("rows", n))
	}
}

// Pending returns the number of inbox files waiting out their debounce.
func (d *Daemon) Pending() int {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()
	return len(d.changeQueue)
}
