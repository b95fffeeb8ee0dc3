package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/etenlab/core/internal/cpg/cpgerr"
	"github.com/etenlab/core/internal/cpg/schema"
)

var voteCmd = &cobra.Command{
	Use:     "vote",
	GroupID: "graph",
	Short:   "Run crowd elections over graph entities",
}

var voteElectionCmd = &cobra.Command{
	Use:   "election <ref>",
	Short: "Create an election for a referenced row, or return the existing one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		electionType, _ := cmd.Flags().GetString("type")
		refTable, _ := cmd.Flags().GetString("ref-table")
		candidateTable, _ := cmd.Flags().GetString("candidate-table")
		return withApp(cmd.Context(), appOptions{}, func(a *app) error {
			e, err := a.votes.CreateElection(cmd.Context(), electionType, args[0], refTable, candidateTable)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(e)
			}
			out.Success("Election %s (%s on %s %s)", e.ID, e.Type, e.RefTableName, e.Ref)
			return nil
		})
	},
}

var voteCandidateCmd = &cobra.Command{
	Use:   "candidate <election-id> <ref>",
	Short: "Add a candidate to an election, or return the existing one",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), appOptions{}, func(a *app) error {
			c, err := a.votes.AddCandidate(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(c)
			}
			out.Success("Candidate %s for %s", c.ID, c.Ref)
			return nil
		})
	},
}

var voteCastCmd = &cobra.Command{
	Use:   "cast <candidate-id> <user-id> <up|down|clear>",
	Short: "Vote a candidate up or down, or withdraw a vote",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var vote *bool
		switch args[2] {
		case "up":
			v := true
			vote = &v
		case "down":
			v := false
			vote = &v
		case "clear":
		default:
			return cpgerr.Validation(fmt.Sprintf("vote must be up, down or clear, got %q", args[2]))
		}
		return withApp(cmd.Context(), appOptions{}, func(a *app) error {
			if err := a.votes.AddVote(cmd.Context(), args[0], args[1], vote); err != nil {
				return err
			}
			stats, err := a.votes.GetVotesStats(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(stats)
			}
			out.Success("Recorded: %d up, %d down", stats.UpVotes, stats.DownVotes)
			return nil
		})
	},
}

var voteStatsCmd = &cobra.Command{
	Use:   "stats <election-id>",
	Short: "Tally every candidate of an election",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), appOptions{}, func(a *app) error {
			ctx := cmd.Context()
			tally, err := a.votes.GetElectionFull(ctx, args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(tally)
			}
			candidates, err := a.votes.ListCandidates(ctx, args[0])
			if err != nil {
				return err
			}
			refs := make(map[string]string, len(candidates))
			for _, c := range candidates {
				refs[c.ID] = c.Ref
			}
			rows := make([][]string, 0, len(tally))
			for _, s := range tally {
				rows = append(rows, []string{
					s.CandidateID,
					refs[s.CandidateID],
					fmt.Sprint(s.UpVotes),
					fmt.Sprint(s.DownVotes),
				})
			}
			out.Table([]string{"CANDIDATE", "REF", "UP", "DOWN"}, rows)
			return nil
		})
	},
}

func init() {
	voteElectionCmd.Flags().String("type", schema.ElectionTypeTranslation, "Election type")
	voteElectionCmd.Flags().String("ref-table", schema.TableNodes, "Table of the referenced row")
	voteElectionCmd.Flags().String("candidate-table", schema.TableNodes, "Table candidates refer to")

	voteCmd.AddCommand(voteElectionCmd, voteCandidateCmd, voteCastCmd, voteStatsCmd)
	rootCmd.AddCommand(voteCmd)
}
