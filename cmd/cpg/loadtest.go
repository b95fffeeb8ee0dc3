package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/etenlab/core/internal/cpg/loadtest"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "maint",
	Short:   "Measure concurrent read latency on a generated lexicon",
	Long: `Create a scratch database, fill it with generated words and look them up
from many goroutines at once. With --verify-writes it also checks that
readers never see a torn property while a writer updates nodes.

The scratch database is removed afterwards unless --keep is given.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		words, _ := cmd.Flags().GetInt("words")
		readers, _ := cmd.Flags().GetInt("readers")
		queries, _ := cmd.Flags().GetInt("queries")
		verify, _ := cmd.Flags().GetDuration("verify-writes")
		keep, _ := cmd.Flags().GetBool("keep")

		dir, err := os.MkdirTemp("", "cpg-loadtest-*")
		if err != nil {
			return fmt.Errorf("failed to create scratch dir: %w", err)
		}
		if !keep {
			defer func() { _ = os.RemoveAll(dir) }()
		}
		dbPath := filepath.Join(dir, "loadtest.db")

		ctx := cmd.Context()
		start := time.Now()
		td, err := loadtest.CreateTestDatabase(ctx, dbPath, words, readers)
		if err != nil {
			return err
		}
		defer func() { _ = td.Close() }()
		out.Muted("Populated %d words in %s", len(td.Words), time.Since(start).Round(time.Millisecond))

		stats, err := td.RunConcurrentQueries(ctx, readers, queries)
		if err != nil {
			return err
		}
		if jsonOutput {
			if err := printJSON(stats); err != nil {
				return err
			}
		} else {
			stats.PrintStats(cmd.OutOrStdout())
		}

		if verify > 0 {
			if err := td.VerifyConcurrentWrites(ctx, readers, verify); err != nil {
				return err
			}
			out.Success("Readers saw consistent values during %s of writes", verify)
		}
		if keep {
			out.Muted("Database kept at %s", dbPath)
		}
		return nil
	},
}

func init() {
	loadtestCmd.Flags().Int("words", 1000, "Number of words to generate")
	loadtestCmd.Flags().Int("readers", 16, "Concurrent readers")
	loadtestCmd.Flags().Int("queries", 100, "Lookups per reader")
	loadtestCmd.Flags().Duration("verify-writes", 0, "Also run a writer against readers for this long")
	loadtestCmd.Flags().Bool("keep", false, "Keep the scratch database")

	rootCmd.AddCommand(loadtestCmd)
}
