package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"vectorgate/internal/policy"
	"vectorgate/internal/policy/expr"
)

func newPolicyCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Work with policy documents",
	}
	cmd.AddCommand(newPolicyValidateCmd(g))
	cmd.AddCommand(newPolicyConvertCmd())
	cmd.AddCommand(newPolicyEvalCmd(g))
	return cmd
}

func readPolicyFile(path string) (*policy.Set, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	set, err := policy.Read(f, policy.FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

func newPolicyValidateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "validate FILE",
		Short: "Check that a policy document parses and is well formed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, err := readPolicyFile(args[0])
			if err != nil {
				return err
			}
			if g.output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]any{"valid": true, "policies": set.Len()})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d policies OK\n", args[0], set.Len())
			return nil
		},
	}
}

func newPolicyConvertCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "convert FILE",
		Short: "Re-encode a policy document as JSON or YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := policy.ParseFormat(to)
			if err != nil {
				return err
			}
			set, err := readPolicyFile(args[0])
			if err != nil {
				return err
			}
			return policy.Write(cmd.OutOrStdout(), set, format)
		},
	}
	cmd.Flags().StringVar(&to, "to", "json", "target format (json, yaml)")
	return cmd
}

func newPolicyEvalCmd(g *globals) *cobra.Command {
	var (
		table   string
		columns []string
	)
	cmd := &cobra.Command{
		Use:   "eval FILE",
		Short: "Show the access decision for a table under a policy document",
		Long: "Resolves the policies in FILE for the groups given with --groups and prints " +
			"the table decision, the row filters and a decision per column.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if table == "" {
				return fmt.Errorf("--table is required")
			}
			set, err := readPolicyFile(args[0])
			if err != nil {
				return err
			}
			res := set.Evaluate(g.groups, strings.Split(table, "."), columns)
			if g.output == "json" {
				return printJSON(cmd.OutOrStdout(), res)
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "table:  %s\naccess: %s\n", strings.Join(res.Table, "."), res.TableAccess)
			for _, f := range res.RowFilters {
				filter := f.RawExpression
				if filter == "" && f.Expression != nil {
					filter = expr.SQL(f.Expression)
				}
				_, _ = fmt.Fprintf(out, "filter: %s (policy %s)\n", filter, f.Policy)
			}
			if len(res.Columns) == 0 {
				return nil
			}
			rows := make([][]string, 0, len(res.Columns))
			for _, c := range res.Columns {
				rows = append(rows, []string{c.Column, string(c.Access), c.Policy})
			}
			return printTable(out, []string{"column", "access", "policy"}, rows)
		},
	}
	cmd.Flags().StringVar(&table, "table", "", "dotted table path, e.g. sales.orders")
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "columns to check")
	return cmd
}
