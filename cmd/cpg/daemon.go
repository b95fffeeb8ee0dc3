package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/etenlab/core/internal/cpg/daemon"
	"github.com/etenlab/core/internal/cpg/dashboard"
	cpgsync "github.com/etenlab/core/internal/cpg/sync"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "sync",
	Short:   "Sync with the peer periodically and apply inbox snapshots",
	Long: `Run sync rounds in the background. Every interval the daemon pushes local
changes and pulls the peer's. When an inbox directory is configured, every
compressed snapshot (*.json.gz) copied into it is applied and renamed with
an .applied suffix. Files that fail to apply stay in place and are retried
when they change.

Example usage:
  cpg daemon --server https://peer.example.org
  cpg daemon --interval 0 --inbox ./inbox     # offline, files only
  cpg daemon --once                           # one round, then exit`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		once, _ := cmd.Flags().GetBool("once")
		withDashboard, _ := cmd.Flags().GetBool("dashboard")
		ctx := cmd.Context()

		var (
			a        *app
			dash     *dashboard.Server
			handler  *dashboard.Handler
			observer cpgsync.Observer
		)
		if withDashboard {
			stats := func(ctx context.Context) (dashboard.StatsData, error) {
				return a.dashboardStats(ctx)
			}
			dash, handler = newDashboard(cfg.Dashboard.Port, stats)
			observer = handler
		}

		a, err := openApp(ctx, appOptions{Observer: observer})
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		d, err := daemon.New(a.syncer, &daemon.Config{
			Interval:         cfg.Daemon.Interval,
			DebounceInterval: cfg.Daemon.Debounce,
			Inbox:            cfg.Daemon.Inbox,
			Logger:           logger,
		})
		if err != nil {
			return err
		}

		if once {
			res, err := d.RunOnce(ctx)
			if jsonOutput {
				if perr := printJSON(res); perr != nil {
					return perr
				}
			} else {
				out.Plain("Sent %d rows, received %d rows", res.Sent, res.Received)
			}
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		if withDashboard {
			if err := runDashboard(gctx, g, dash, handler); err != nil {
				return err
			}
		}
		g.Go(func() error { return d.Run(gctx) })

		out.Success("Daemon running (interval %s)", cfg.Daemon.Interval)
		if cfg.Daemon.Inbox != "" {
			out.Muted("Watching inbox %s", cfg.Daemon.Inbox)
		}
		out.Muted("Press Ctrl+C to stop...")
		return g.Wait()
	},
}

func init() {
	daemonCmd.Flags().Duration("interval", 0, "Time between sync rounds (0 disables; default from config)")
	daemonCmd.Flags().String("inbox", "", "Directory to watch for snapshot files")
	daemonCmd.Flags().Bool("once", false, "Run a single sync round and exit")
	daemonCmd.Flags().Bool("dashboard", false, "Also run the WebSocket dashboard")
	daemonCmd.Flags().Int("dashboard-port", 8080, "Dashboard port")

	rootCmd.AddCommand(daemonCmd)
}
