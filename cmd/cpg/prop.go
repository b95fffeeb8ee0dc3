package main

import (
	"github.com/spf13/cobra"

	"github.com/etenlab/core/internal/cpg/cpgerr"
	"github.com/etenlab/core/internal/cpg/schema"
)

var propCmd = &cobra.Command{
	Use:     "prop",
	GroupID: "graph",
	Short:   "Read and append versioned properties",
	Long: `Properties are versioned: setting a property appends a new generation
and reads return the latest one. Earlier generations are kept.

The owner is "node" or "rel".`,
}

var propSetCmd = &cobra.Command{
	Use:     "set <node|rel> <id> <key> <value>",
	Short:   "Append a new generation of a property",
	Example: `  cpg prop set node 5f0c... name '"hello"'`,
	Args:    cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, id, key := args[0], args[1], args[2]
		value := parseValue(args[3])
		return withApp(cmd.Context(), appOptions{}, func(a *app) error {
			var (
				pk  *schema.PropertyKey
				err error
			)
			switch owner {
			case "node":
				pk, err = a.first.AppendNodeProperty(cmd.Context(), id, key, value)
			case "rel":
				pk, err = a.first.AppendRelationshipProperty(cmd.Context(), id, key, value)
			default:
				return cpgerr.Validation("owner must be node or rel, got " + owner)
			}
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(pk)
			}
			out.Success("Set %s on %s %s (generation %d)", key, owner, id, pk.Generation)
			return nil
		})
	},
}

var propGetCmd = &cobra.Command{
	Use:   "get <node|rel> <id> <key>",
	Short: "Print the latest value of a property",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, id, key := args[0], args[1], args[2]
		return withApp(cmd.Context(), appOptions{}, func(a *app) error {
			var (
				value schema.Value
				ok    bool
				err   error
			)
			switch owner {
			case "node":
				value, ok, err = a.first.GetNodePropertyValue(cmd.Context(), id, key)
			case "rel":
				value, ok, err = a.first.GetRelationshipPropertyValue(cmd.Context(), id, key)
			default:
				return cpgerr.Validation("owner must be node or rel, got " + owner)
			}
			if err != nil {
				return err
			}
			if !ok {
				return cpgerr.NotFound("property", key)
			}
			if jsonOutput {
				return printJSON(schema.ToAny(value))
			}
			out.Plain("%s", formatValue(value))
			return nil
		})
	},
}

func init() {
	propCmd.AddCommand(propSetCmd, propGetCmd)
	rootCmd.AddCommand(propCmd)
}
