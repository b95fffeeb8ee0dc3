package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"

	"github.com/etenlab/core/internal/cpg/cpgerr"
	"github.com/etenlab/core/internal/cpg/schema"
	"github.com/etenlab/core/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Exchange changes with the peer server",
	Long: `Local writes are stamped with the current sync layer. "sync out" freezes
the layer, pushes every row written since the last acknowledged layer and
starts a new one. "sync in" pulls the rows the peer changed since the last
pull and replays them.

Snapshots move the whole database as one compressed document, either
through the peer or through a file.`,
}

var syncOutCmd = &cobra.Command{
	Use:   "out",
	Short: "Push local changes to the peer",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), appOptions{}, func(a *app) error {
			entries, err := a.syncer.SyncOut(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(map[string]int{"rows": schema.CountRows(entries)})
			}
			if len(entries) == 0 {
				out.Muted("Nothing to send")
				return nil
			}
			out.Success("Sent %d rows in %d tables", schema.CountRows(entries), len(entries))
			return nil
		})
	},
}

var syncInCmd = &cobra.Command{
	Use:   "in",
	Short: "Pull and apply the peer's changes",
	Example: `  cpg sync in
  cpg sync in --since "3 days ago"
  cpg sync in --since 2024-05-01T00:00:00Z`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sinceText, _ := cmd.Flags().GetString("since")
		var since string
		if sinceText != "" {
			t, err := parseSince(sinceText, time.Now())
			if err != nil {
				return err
			}
			since = schema.FormatTime(t)
		}
		return withApp(cmd.Context(), appOptions{Since: since}, func(a *app) error {
			n, err := a.syncer.SyncIn(cmd.Context())
			if err != nil {
				return err
			}
			return printApplied(n)
		})
	},
}

var syncPushSnapshotCmd = &cobra.Command{
	Use:   "push-snapshot",
	Short: "Push the whole database and apply the peer's snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), appOptions{}, func(a *app) error {
			if err := a.syncer.SyncOutViaSnapshot(cmd.Context()); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(a.syncer.State())
			}
			out.Success("Snapshot exchanged")
			return nil
		})
	},
}

var syncPullSnapshotCmd = &cobra.Command{
	Use:   "pull-snapshot",
	Short: "Download and apply the peer's snapshot",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), appOptions{}, func(a *app) error {
			n, err := a.syncer.SyncInViaSnapshot(cmd.Context())
			if err != nil {
				return err
			}
			return printApplied(n)
		})
	},
}

var syncExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Write the local snapshot to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), appOptions{}, func(a *app) error {
			if err := a.syncer.ExportSnapshot(cmd.Context(), args[0]); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(map[string]string{"path": args[0]})
			}
			out.Success("Exported snapshot to %s", args[0])
			return nil
		})
	},
}

var syncImportCmd = &cobra.Command{
	Use:     "import-file <file>",
	Aliases: []string{"import"},
	Short:   "Apply a snapshot file",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), appOptions{}, func(a *app) error {
			n, err := a.syncer.SyncInFromFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printApplied(n)
		})
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync state and recent sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withApp(cmd.Context(), appOptions{}, func(a *app) error {
			st := a.syncer.State()
			sessions, err := a.syncer.Sessions(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(map[string]any{"state": st, "sessions": sessions})
			}

			lastSync := st.LastSyncFromServer
			if lastSync == "" {
				lastSync = "never"
			}
			server := cfg.Server.URL
			if server == "" {
				server = "(none)"
			}
			out.Title("Sync state")
			out.KV(map[string]string{
				"server":          server,
				"sync_layer":      fmt.Sprint(st.SyncLayer),
				"last_sync_layer": fmt.Sprint(st.LastSyncLayer),
				"last_sync":       lastSync,
			})
			if len(sessions) == 0 {
				return nil
			}
			rows := make([][]string, 0, len(sessions))
			for _, s := range sessions {
				status := "ok"
				if !s.Completed {
					status = "failed: " + s.Error
				}
				rows = append(rows, []string{
					fmt.Sprint(s.ID),
					fmt.Sprintf("%d..%d", s.SyncFrom, s.SyncTo),
					s.CreatedAt.Local().Format(time.DateTime),
					status,
				})
			}
			out.Plain("")
			out.Title("Recent sessions")
			out.Table([]string{"ID", "LAYERS", "CREATED", "STATUS"}, rows)
			return nil
		})
	},
}

var syncResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget all sync bookkeeping",
	Long: `Reset the sync layer, the acknowledged layer and the peer timestamp to
their defaults. The next "sync out" resends everything and the next
"sync in" pulls the peer's full history.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			ok, err := confirm("Reset all sync state?")
			if err != nil {
				return err
			}
			if !ok {
				out.Muted("Aborted")
				return nil
			}
		}
		return withApp(cmd.Context(), appOptions{}, func(a *app) error {
			if err := a.syncer.ClearAllSyncInfo(cmd.Context()); err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(a.syncer.State())
			}
			out.Success("Sync state reset")
			return nil
		})
	},
}

// parseSince accepts an RFC 3339 timestamp or a natural language time such
// as "yesterday" or "2 hours ago".
func parseSince(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if t, err := time.Parse(time.RFC3339Nano, text); err == nil {
		return t, nil
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, cpgerr.Validation(fmt.Sprintf("cannot parse time %q: %v", text, err))
	}
	if r == nil {
		return time.Time{}, cpgerr.Validation(fmt.Sprintf("cannot parse time %q", text))
	}
	return r.Time, nil
}

// confirm asks a yes/no question. It refuses to guess when stdin is not a
// terminal.
func confirm(title string) (bool, error) {
	if !ui.IsTerminal(os.Stdin) {
		return false, cpgerr.InvalidState("refusing to prompt without a terminal, pass --yes")
	}
	var ok bool
	err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if errors.Is(err, huh.ErrUserAborted) {
		return false, nil
	}
	return ok, err
}

func printApplied(n int) error {
	if jsonOutput {
		return printJSON(map[string]int{"rows": n})
	}
	if n == 0 {
		out.Muted("Nothing to apply")
		return nil
	}
	out.Success("Applied %d rows", n)
	return nil
}

func init() {
	syncInCmd.Flags().String("since", "", "Pull changes since this time instead of the last pull")
	syncStatusCmd.Flags().Int("limit", 10, "Number of sessions to show")
	syncResetCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")

	syncCmd.AddCommand(syncOutCmd, syncInCmd, syncPushSnapshotCmd, syncPullSnapshotCmd,
		syncExportCmd, syncImportCmd, syncStatusCmd, syncResetCmd)
	rootCmd.AddCommand(syncCmd)
}
