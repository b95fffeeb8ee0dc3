package main

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/etenlab/core/internal/cpg/server"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "advanced",
	Short:   "Run the sync peer server",
	Long: `Serve the sync endpoints over the local database so other clients can
push and pull deltas and snapshots.

Endpoints:
  POST /sync/to-server                  push a delta
  GET  /sync/from-server?lastSync=...   pull rows changed since lastSync
  POST /sync/to-server-via-json         exchange compressed snapshots
  GET  /sync/from-server-via-json       download the compressed snapshot
  GET  /health, GET /metrics`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		withDashboard, _ := cmd.Flags().GetBool("dashboard")

		ctx := cmd.Context()
		a, err := openApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		srv := server.New(a.db, server.Config{
			Listen:    cfg.Server.Listen,
			RateLimit: cfg.Server.RateLimit,
			Burst:     cfg.Server.Burst,
			Logger:    logger,
		})

		g, gctx := errgroup.WithContext(ctx)
		if withDashboard {
			dash, handler := newDashboard(cfg.Dashboard.Port, a.dashboardStats)
			if err := runDashboard(gctx, g, dash, handler); err != nil {
				return err
			}
		}
		g.Go(func() error { return srv.Run(gctx) })

		out.Success("Sync server on %s", srv.Addr())
		out.Muted("Press Ctrl+C to stop...")
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().String("listen", ":8090", "Address to listen on")
	serveCmd.Flags().Float64("rate-limit", 50, "Requests per second across all clients (0 disables)")
	serveCmd.Flags().Bool("dashboard", false, "Also run the WebSocket dashboard")
	serveCmd.Flags().Int("dashboard-port", 8080, "Dashboard port")

	rootCmd.AddCommand(serveCmd)
}
