package main

import (
	"github.com/spf13/cobra"
)

var typeCmd = &cobra.Command{
	Use:     "type",
	GroupID: "graph",
	Short:   "Inspect type registries",
}

var typeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List node, relationship and election types",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), appOptions{}, func(a *app) error {
			ctx := cmd.Context()
			nodeTypes, err := a.first.ListNodeTypes(ctx)
			if err != nil {
				return err
			}
			relTypes, err := a.first.ListRelationshipTypes(ctx)
			if err != nil {
				return err
			}
			electionTypes, err := a.db.ListElectionTypes(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(map[string][]string{
					"node_types":         nodeTypes,
					"relationship_types": relTypes,
					"election_types":     electionTypes,
				})
			}
			rows := make([][]string, 0, len(nodeTypes)+len(relTypes)+len(electionTypes))
			for _, t := range nodeTypes {
				rows = append(rows, []string{"node", t})
			}
			for _, t := range relTypes {
				rows = append(rows, []string{"relationship", t})
			}
			for _, t := range electionTypes {
				rows = append(rows, []string{"election", t})
			}
			out.Table([]string{"KIND", "NAME"}, rows)
			return nil
		})
	},
}

func init() {
	typeCmd.AddCommand(typeListCmd)
	rootCmd.AddCommand(typeCmd)
}
