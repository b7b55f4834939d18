package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

const rootSchemaLabel = "_root"

func newSchemasCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "schemas",
		Short: "List the schemas visible through the data service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := g.dial()
			if err != nil {
				return err
			}
			defer client.Close()

			names, err := client.ListSchemas(cmd.Context())
			if err != nil {
				return err
			}
			if g.output == "json" {
				return printJSON(cmd.OutOrStdout(), names)
			}
			rows := make([][]string, 0, len(names))
			for _, n := range names {
				if n == "" {
					n = rootSchemaLabel
				}
				rows = append(rows, []string{n})
			}
			return printTable(cmd.OutOrStdout(), []string{"schema"}, rows)
		},
	}
}

func newDescribeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "describe SCHEMA",
		Short: "Show the tables and columns of a schema",
		Long:  "Shows the tables and columns of SCHEMA. Use " + rootSchemaLabel + " for the root schema.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if name == rootSchemaLabel {
				name = ""
			}
			client, err := g.dial()
			if err != nil {
				return err
			}
			defer client.Close()

			s, err := client.GetSchema(cmd.Context(), name)
			if err != nil {
				return err
			}
			if g.output == "json" {
				return printJSON(cmd.OutOrStdout(), s)
			}
			var rows [][]string
			for _, t := range s.Tables {
				for _, c := range t.Columns {
					rows = append(rows, []string{t.Name, c.Name, c.Type.String(), strconv.FormatBool(c.Nullable)})
				}
			}
			return printTable(cmd.OutOrStdout(), []string{"table", "column", "type", "nullable"}, rows)
		},
	}
}

func newHandshakeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "handshake",
		Short: "Show the server capabilities and the caller's identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := g.dial()
			if err != nil {
				return err
			}
			defer client.Close()

			caps, err := client.Handshake(cmd.Context())
			if err != nil {
				return err
			}
			if g.output == "json" {
				return printJSON(cmd.OutOrStdout(), caps)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(),
				"server version:     %s\nprincipal:          %s\nsql:                %t\nmax rows per block: %d\n",
				caps.Version, caps.Principal, caps.SupportSQL, caps.MaxRowsPerBlock)
			return nil
		},
	}
}
