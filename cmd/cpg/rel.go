package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/etenlab/core/internal/cpg/cpgerr"
	"github.com/etenlab/core/internal/cpg/schema"
)

var relCmd = &cobra.Command{
	Use:     "rel",
	Aliases: []string{"relationship"},
	GroupID: "graph",
	Short:   "Create and query relationships",
}

var relCreateCmd = &cobra.Command{
	Use:   "create <type> <from-id> <to-id>",
	Short: "Create a directed relationship with properties",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		pairs, _ := cmd.Flags().GetStringArray("prop")
		obj, err := parseProps(pairs)
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), appOptions{}, func(a *app) error {
			rel, err := a.second.CreateRelationshipFromObject(cmd.Context(), args[0], obj, args[1], args[2])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(rel)
			}
			out.Success("Created %s relationship %s", rel.Type, rel.ID)
			return nil
		})
	},
}

var relFindCmd = &cobra.Command{
	Use:   "find <type> <from-id> <to-id>",
	Short: "Find the relationship of a type from one node to another",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), appOptions{}, func(a *app) error {
			rel, err := a.first.FindRelationship(cmd.Context(), args[1], args[2], args[0])
			if err != nil {
				return err
			}
			if rel == nil {
				return cpgerr.NotFound(args[0]+" relationship", fmt.Sprintf("%s -> %s", args[1], args[2]))
			}
			return printRelationships([]*schema.Relationship{rel})
		})
	},
}

var relShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a relationship with its properties",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), appOptions{}, func(a *app) error {
			rel, err := a.first.ReadRelationship(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printRelationships([]*schema.Relationship{rel})
		})
	},
}

var relListCmd = &cobra.Command{
	Use:   "list <type>",
	Short: "List every relationship of a type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), appOptions{}, func(a *app) error {
			rels, err := a.first.ListAllRelationshipsByType(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printRelationships(rels)
		})
	},
}

func init() {
	relCreateCmd.Flags().StringArrayP("prop", "p", nil, "Property as key=value (repeatable)")

	relCmd.AddCommand(relCreateCmd, relFindCmd, relShowCmd, relListCmd)
	rootCmd.AddCommand(relCmd)
}
