package main

import (
	"github.com/spf13/cobra"

	"github.com/etenlab/core/internal/cpg/cpgerr"
	"github.com/etenlab/core/internal/cpg/schema"
)

var nodeCmd = &cobra.Command{
	Use:     "node",
	GroupID: "graph",
	Short:   "Create and query nodes",
}

var nodeCreateCmd = &cobra.Command{
	Use:   "create <type>",
	Short: "Create a node with properties",
	Example: `  cpg node create word --prop name=hello
  cpg node create verse --prop number=3 --prop tags='["a","b"]'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pairs, _ := cmd.Flags().GetStringArray("prop")
		obj, err := parseProps(pairs)
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), appOptions{}, func(a *app) error {
			node, err := a.second.CreateNodeFromObject(cmd.Context(), args[0], obj)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(node)
			}
			out.Success("Created %s node %s", node.Type, node.ID)
			return nil
		})
	},
}

var nodeShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a node with its properties and relationships",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		noRels, _ := cmd.Flags().GetBool("no-rels")
		rel := schema.AllRelations
		if noRels {
			rel = schema.Relations{Properties: true}
		}
		return withApp(cmd.Context(), appOptions{}, func(a *app) error {
			node, err := a.first.ReadNode(cmd.Context(), args[0], rel)
			if err != nil {
				return err
			}
			return printNode(node)
		})
	},
}

var nodeListCmd = &cobra.Command{
	Use:   "list <type>",
	Short: "List every node of a type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), appOptions{}, func(a *app) error {
			nodes, err := a.first.ListAllNodesByType(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printNodes(nodes)
		})
	},
}

var nodeFindCmd = &cobra.Command{
	Use:   "find <type>",
	Short: "Find nodes of a type whose properties all match",
	Example: `  cpg node find word --prop name=hello
  cpg node find word --prop name=hello --to <language-id> --rel word-to-language`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pairs, _ := cmd.Flags().GetStringArray("prop")
		relType, _ := cmd.Flags().GetString("rel")
		from, _ := cmd.Flags().GetString("from")
		to, _ := cmd.Flags().GetString("to")
		obj, err := parseProps(pairs)
		if err != nil {
			return err
		}
		filter := schema.RelationFilter{Type: relType, FromNodeID: from, ToNodeID: to}
		if len(obj) == 0 && filter.IsZero() {
			return cpgerr.Validation("at least one --prop or relationship filter is required")
		}

		return withApp(cmd.Context(), appOptions{}, func(a *app) error {
			ctx := cmd.Context()
			switch {
			case filter.IsZero():
				nodes, err := a.first.GetNodesByProps(ctx, args[0], propsList(obj))
				if err != nil {
					return err
				}
				return printNodes(nodes)
			case len(obj) == 0:
				nodes, err := a.first.GetNodesByTypeAndRelatedNodes(ctx, args[0], filter)
				if err != nil {
					return err
				}
				return printNodes(nodes)
			case len(obj) == 1:
				props := propsList(obj)
				node, err := a.first.GetNodeByProp(ctx, args[0], props[0], filter)
				if err != nil {
					return err
				}
				if node == nil {
					return printNodes(nil)
				}
				return printNodes([]*schema.Node{node})
			default:
				return cpgerr.Validation("a relationship filter combines with exactly one --prop")
			}
		})
	},
}

func init() {
	nodeCreateCmd.Flags().StringArrayP("prop", "p", nil, "Property as key=value (repeatable)")
	nodeShowCmd.Flags().Bool("no-rels", false, "Skip relationships")
	nodeFindCmd.Flags().StringArrayP("prop", "p", nil, "Property as key=value (repeatable)")
	nodeFindCmd.Flags().String("rel", "", "Relationship type of the filter edge")
	nodeFindCmd.Flags().String("from", "", "Require an edge from this node")
	nodeFindCmd.Flags().String("to", "", "Require an edge to this node")

	nodeCmd.AddCommand(nodeCreateCmd, nodeShowCmd, nodeListCmd, nodeFindCmd)
	rootCmd.AddCommand(nodeCmd)
}
