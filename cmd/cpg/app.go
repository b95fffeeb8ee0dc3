package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/etenlab/core/internal/cpg/config"
	"github.com/etenlab/core/internal/cpg/dashboard"
	"github.com/etenlab/core/internal/cpg/db"
	"github.com/etenlab/core/internal/cpg/graph"
	cpgsync "github.com/etenlab/core/internal/cpg/sync"
	"github.com/etenlab/core/internal/cpg/transport"
	"github.com/etenlab/core/internal/cpg/voting"
)

// app bundles everything a command needs. Close releases it.
type app struct {
	db      *db.DB
	states  cpgsync.StateStore
	syncer  cpgsync.Syncer
	first   *graph.FirstLayer
	second  *graph.SecondLayer
	lexicon *graph.Lexicon
	votes   *voting.Service
	logger  *zap.Logger

	closers []func() error
}

type appOptions struct {
	// Observer receives sync events (optional).
	Observer cpgsync.Observer
	// Since overrides the stored peer timestamp before the syncer loads it.
	Since string
}

// openApp opens the configured database and sync state.
func openApp(ctx context.Context, opts appOptions) (_ *app, err error) {
	a := &app{logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	a.db, err = db.OpenWithOptions(cfg.DB.Path, db.Options{Driver: cfg.DB.Driver})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.closers = append(a.closers, a.db.Close)
	if err := a.db.InitSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if cfg.State.Dir != config.StateMemory {
		badgerStore, err := cpgsync.OpenBadgerStateStore(cfg.State.Dir)
		if err != nil {
			return nil, err
		}
		a.states = badgerStore
		a.closers = append(a.closers, badgerStore.Close)
	} else {
		a.states = cpgsync.NewMemoryStateStore()
	}

	if opts.Since != "" {
		st, err := a.states.Load(ctx)
		if err != nil {
			return nil, err
		}
		st.LastSyncFromServer = opts.Since
		if err := a.states.Save(ctx, st); err != nil {
			return nil, err
		}
	}

	var client *transport.Client
	if cfg.Server.URL != "" {
		client, err = transport.NewClient(cfg.Server.URL, transport.WithLogger(logger))
		if err != nil {
			return nil, err
		}
	}

	a.syncer, err = cpgsync.New(ctx, a.db.Store, cpgsync.Options{
		Client:   client,
		State:    a.states,
		Logger:   logger,
		Observer: opts.Observer,
	})
	if err != nil {
		return nil, err
	}

	a.first = graph.NewFirstLayer(a.db.Store, a.syncer)
	a.second = graph.NewSecondLayer(a.first)
	a.lexicon = graph.NewLexicon(a.second)
	a.votes = voting.NewService(a.db.Store, a.syncer)
	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

// dashboardStats reports table counts and sync bookkeeping.
func (a *app) dashboardStats(ctx context.Context) (dashboard.StatsData, error) {
	counts, err := a.db.TableCountsContext(ctx)
	if err != nil {
		return dashboard.StatsData{}, err
	}
	st := a.syncer.State()
	return dashboard.StatsData{
		Tables:        counts,
		SyncLayer:     st.SyncLayer,
		LastSyncLayer: st.LastSyncLayer,
		LastSync:      st.LastSyncFromServer,
	}, nil
}

// withApp opens the app, runs fn and closes the app.
func withApp(ctx context.Context, opts appOptions, fn func(a *app) error) error {
	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	if err := fn(a); err != nil {
		_ = a.Close()
		return err
	}
	return a.Close()
}
