package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/etenlab/core/internal/cpg/dashboard"
)

// statsInterval is how often the dashboard refreshes table counts without a
// sync event.
const statsInterval = 30 * time.Second

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "advanced",
	Short:   "Start the real-time WebSocket dashboard",
	Long: `Start a WebSocket dashboard that reports table counts and sync state.

WebSocket messages include:
- stats: row counts per table and the sync layers
- sync_event: a sync session opened, completed or failed, rows applied,
  state reset (only when the dashboard runs inside "cpg daemon" or
  "cpg serve --dashboard")

Example usage:
  cpg dashboard                      # Start on the configured port (8080)
  cpg dashboard --dashboard-port 9000

Connect with a WebSocket client:
  ws://localhost:8080/ws`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		srv, handler := newDashboard(cfg.Dashboard.Port, a.dashboardStats)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		printDashboardAddr(srv)
		out.Muted("Press Ctrl+C to stop...")

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error { return handler.Run(gctx, statsInterval) })
		g.Go(func() error {
			<-gctx.Done()
			return srv.Stop()
		})
		if err := g.Wait(); err != nil {
			return err
		}
		out.Plain("Dashboard stopped")
		return nil
	},
}

func newDashboard(port int, stats dashboard.StatsFunc) (*dashboard.Server, *dashboard.Handler) {
	srv := dashboard.NewServer(&dashboard.Config{
		Addr:   fmt.Sprintf("127.0.0.1:%d", port),
		Stats:  stats,
		Logger: logger,
	})
	return srv, dashboard.NewHandler(srv, stats, logger)
}

// runDashboard serves the dashboard in g until ctx is done.
func runDashboard(ctx context.Context, g *errgroup.Group, srv *dashboard.Server, handler *dashboard.Handler) error {
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start dashboard: %w", err)
	}
	printDashboardAddr(srv)
	g.Go(func() error { return handler.Run(ctx, statsInterval) })
	g.Go(func() error {
		<-ctx.Done()
		return srv.Stop()
	})
	return nil
}

func printDashboardAddr(srv *dashboard.Server) {
	addr := srv.GetAddr()
	out.Success("Dashboard on http://%s", addr)
	out.Muted("WebSocket endpoint: ws://%s/ws", addr)
}

func init() {
	dashboardCmd.Flags().Int("dashboard-port", 8080, "Port to listen on")

	rootCmd.AddCommand(dashboardCmd)
}
