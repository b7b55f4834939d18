package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vectorgate/internal/rpc"
)

func newAuditCmd(g *globals) *cobra.Command {
	var (
		req rpc.ListAuditRequest
		all bool
	)
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "List audit log entries, newest first",
		Long: `Lists audit log entries, newest first. Members of an admin group may
list any principal; everyone else sees their own entries.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := g.dial()
			if err != nil {
				return err
			}
			defer client.Close()

			req.Action = strings.ToUpper(req.Action)
			req.Status = strings.ToUpper(req.Status)
			page, err := client.ListAudit(cmd.Context(), req)
			if err != nil {
				return err
			}
			entries := page.Entries
			for all && page.NextPageToken != "" {
				req.PageToken = page.NextPageToken
				if page, err = client.ListAudit(cmd.Context(), req); err != nil {
					return err
				}
				entries = append(entries, page.Entries...)
			}

			if g.output == "json" {
				page.Entries = entries
				if all {
					page.NextPageToken = ""
				}
				return printJSON(cmd.OutOrStdout(), page)
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.CreatedAt.Format(time.RFC3339),
					e.PrincipalName,
					e.Action,
					e.Status,
					strings.Join(e.TablesAccessed, ","),
					optInt(e.RowsReturned),
					optInt(e.DurationMs),
				})
			}
			if err := printTable(cmd.OutOrStdout(), []string{"time", "principal", "action", "status", "tables", "rows", "ms"}, rows); err != nil {
				return err
			}
			if !all && page.NextPageToken != "" {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "(%d of %d, next page: --page-token %s)\n", len(entries), page.Total, page.NextPageToken)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&req.Principal, "for", "", "only entries of this principal")
	cmd.Flags().StringVar(&req.Action, "action", "", "only this action (SUBMIT, EXEC_SQL, EXEC_PLAN)")
	cmd.Flags().StringVar(&req.Status, "status", "", "only this status (ALLOWED, DENIED, ERROR)")
	cmd.Flags().IntVar(&req.MaxResults, "max-results", 0, "page size (server default when 0)")
	cmd.Flags().StringVar(&req.PageToken, "page-token", "", "continue from a previous page")
	cmd.Flags().BoolVar(&all, "all", false, "follow page tokens until the log is exhausted")
	return cmd
}

func optInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
