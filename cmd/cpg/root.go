package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/etenlab/core/internal/cpg/config"
	"github.com/etenlab/core/internal/cpg/logging"
	"github.com/etenlab/core/internal/ui"
)

var (
	cfgFile    string
	jsonOutput bool

	v          *viper.Viper
	cfg        *config.Config
	logger     = zap.NewNop()
	logCleanup = func() {}
	out        *ui.Printer
)

// flagKeys maps flag names to config keys. A flag only overrides the
// config when it is set on the command line.
var flagKeys = map[string]string{
	"db":             "db.path",
	"driver":         "db.driver",
	"server":         "server.url",
	"state-dir":      "state.dir",
	"log-level":      "log.level",
	"log-file":       "log.file",
	"listen":         "server.listen",
	"rate-limit":     "server.rate_limit",
	"interval":       "daemon.interval",
	"inbox":          "daemon.inbox",
	"dashboard-port": "dashboard.port",
}

var rootCmd = &cobra.Command{
	Use:   "cpg",
	Short: "Crowd-sourced property graph with layered sync",
	Long: `cpg stores a property graph of nodes, relationships and versioned
properties in a local SQLite database, and exchanges changes with a peer
server in sync layers.

Configuration is read from cpg.toml or cpg.yaml in the current directory or
$HOME/.config/cpg, from CPG_* environment variables and from flags.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		v = config.NewViper(cfgFile)
		var bindErr error
		cmd.Flags().VisitAll(func(f *pflag.Flag) {
			if key, ok := flagKeys[f.Name]; ok && bindErr == nil {
				bindErr = v.BindPFlag(key, f)
			}
		})
		if bindErr != nil {
			return fmt.Errorf("failed to bind flags: %w", bindErr)
		}

		var err error
		cfg, err = config.Load(v)
		if err != nil {
			return err
		}

		logger, logCleanup, err = logging.New(logging.Config{
			Level: cfg.Log.Level,
			File:  cfg.Log.File,
		})
		if err != nil {
			return err
		}
		out = ui.NewPrinter(cmd.OutOrStdout())
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logCleanup()
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "graph", Title: "Graph Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "advanced", Title: "Services:"},
		&cobra.Group{ID: "maint", Title: "Maintenance:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default: ./cpg.toml or $HOME/.config/cpg/cpg.toml)")
	pf.String("db", "", "Database file")
	pf.String("driver", "", "SQL engine: sqlite3, sqlite or libsql")
	pf.String("server", "", "Peer server URL")
	pf.String("state-dir", "", "Directory holding sync state (default: <db>.state, \":memory:\" keeps it in memory)")
	pf.String("log-level", "", "Log level: debug, info, warn, error")
	pf.String("log-file", "", "Write logs to this file instead of stderr")
	pf.BoolVar(&jsonOutput, "json", false, "Output as JSON")
}
