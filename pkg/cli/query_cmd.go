package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"vectorgate/internal/domain"
	"vectorgate/internal/plan"
	"vectorgate/internal/vector"
)

type queryOptions struct {
	maxRows  int
	stream   bool
	planFile string
	explain  bool
	timeout  time.Duration
}

func newQueryCmd(g *globals) *cobra.Command {
	opts := &queryOptions{}
	cmd := &cobra.Command{
		Use:   "query [SQL]",
		Short: "Run a query and print its rows",
		Long: "Runs SQL (or a serialized plan given with --plan) against the data service. " +
			"By default the result is paged with submit/fetch; --stream uses a single streamed call.",
		Example: `  vgctl query "SELECT * FROM sales.orders LIMIT 10"
  vgctl query --explain "SELECT region FROM sales.orders"
  vgctl query --plan orders.plan.json -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sql string
			if len(args) == 1 {
				sql = args[0]
			}
			if (sql == "") == (opts.planFile == "") {
				return fmt.Errorf("provide either SQL or --plan")
			}
			return runQuery(cmd, g, opts, sql)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.maxRows, "max-rows", 0, "rows per block (0 uses the server default)")
	f.BoolVar(&opts.stream, "stream", false, "stream blocks instead of paging")
	f.StringVar(&opts.planFile, "plan", "", "run a plan file (protobuf JSON) instead of SQL")
	f.BoolVar(&opts.explain, "explain", false, "print the plan compiled from SQL without running it")
	f.DurationVar(&opts.timeout, "timeout", 5*time.Minute, "overall deadline")
	return cmd
}

func runQuery(cmd *cobra.Command, g *globals, opts *queryOptions, sql string) error {
	client, err := g.dial()
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
	defer cancel()

	if opts.explain {
		if sql == "" {
			return fmt.Errorf("--explain needs SQL")
		}
		p, err := client.ParseSQL(ctx, sql)
		if err != nil {
			return err
		}
		data, err := p.JSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}

	req := domain.QueryRequest{SQL: sql, Config: domain.QueryConfig{MaxRowsPerBlock: opts.maxRows}}
	if opts.planFile != "" {
		data, err := os.ReadFile(opts.planFile)
		if err != nil {
			return err
		}
		if req.Plan, err = plan.DecodeJSON(data); err != nil {
			return fmt.Errorf("%s: %w", opts.planFile, err)
		}
	}

	var blocks []*vector.Block
	if opts.stream {
		collect := func(b *vector.Block) error {
			blocks = append(blocks, b)
			return nil
		}
		if req.Plan != nil {
			err = client.ExecPlan(ctx, req.Plan, req.Config, collect)
		} else {
			err = client.ExecSQL(ctx, req.SQL, req.Config, collect)
		}
	} else {
		blocks, err = client.Drain(ctx, req)
	}
	if err != nil {
		return err
	}
	return printBlocks(cmd, g.output, blocks)
}

// printBlocks prints every row of blocks. JSON output is an array of objects
// keyed by column name.
func printBlocks(cmd *cobra.Command, output string, blocks []*vector.Block) error {
	out := cmd.OutOrStdout()
	var headers []string
	if len(blocks) > 0 {
		for _, f := range blocks[0].Schema.Fields {
			headers = append(headers, f.Name)
		}
	}

	if output == "json" {
		objs := []map[string]any{}
		for _, b := range blocks {
			for _, row := range b.Rows() {
				obj := make(map[string]any, len(headers))
				for i, h := range headers {
					obj[h] = row[i]
				}
				objs = append(objs, obj)
			}
		}
		return printJSON(out, objs)
	}

	if len(blocks) == 0 {
		_, err := fmt.Fprintln(out, "(0 rows)")
		return err
	}
	var rows [][]string
	for _, b := range blocks {
		for _, row := range b.Rows() {
			cells := make([]string, len(row))
			for i, v := range row {
				cells[i] = formatValue(v)
			}
			rows = append(rows, cells)
		}
	}
	if err := printTable(out, headers, rows); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "(%d rows)\n", len(rows))
	return err
}
