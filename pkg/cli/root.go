// Package cli implements vgctl, the command-line client for the vectorgate
// data service.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"vectorgate/internal/rpc"
)

var (
	version = "dev"
	commit  = "none"
)

// globals are the connection settings resolved before a command runs.
type globals struct {
	addr      string
	token     string
	principal string
	groups    []string
	output    string
	profile   string
}

// dial opens a data service client with the resolved identity.
func (g *globals) dial() (*rpc.Client, error) {
	return rpc.Dial(g.addr, rpc.ClientOptions{
		Token:     g.token,
		Principal: g.principal,
		Groups:    g.groups,
	})
}

// Execute runs the CLI.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		output, _ := rootCmd.PersistentFlags().GetString("output")
		if output == "json" {
			_ = printJSON(os.Stdout, map[string]string{"error": err.Error()})
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	rootCmd := &cobra.Command{
		Use:           "vgctl",
		Short:         "vectorgate CLI",
		Long:          "Command-line client for the vectorgate data service and its policy documents.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadUserConfig()
			if err != nil {
				// Config file is optional
				cfg = &UserConfig{Profiles: map[string]Profile{}}
			}
			p, err := cfg.ActiveProfile(g.profile)
			if err != nil {
				return err
			}

			// flag > env > profile > default
			resolve(cmd, "addr", &g.addr, "VECTORGATE_ADDR", p.Addr)
			resolve(cmd, "token", &g.token, "VECTORGATE_TOKEN", p.Token)
			resolve(cmd, "principal", &g.principal, "VECTORGATE_PRINCIPAL", p.Principal)
			resolve(cmd, "output", &g.output, "VECTORGATE_OUTPUT", p.Output)
			if !cmd.Flags().Changed("groups") {
				if v := os.Getenv("VECTORGATE_GROUPS"); v != "" {
					g.groups = strings.Split(v, ",")
				} else if len(p.Groups) > 0 {
					g.groups = p.Groups
				}
			}
			return validateOutputFormat(g.output)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&g.addr, "addr", "localhost:9090", "gRPC address of the data service")
	pf.StringVar(&g.token, "token", "", "JWT bearer token")
	pf.StringVar(&g.principal, "principal", "", "principal name (servers with trusted identity headers only)")
	pf.StringSliceVar(&g.groups, "groups", nil, "group memberships (servers with trusted identity headers only)")
	pf.StringVarP(&g.output, "output", "o", "table", "Output format (table, json)")
	pf.StringVarP(&g.profile, "profile", "p", "", "Config profile to use")

	rootCmd.AddCommand(newVersionCmd(g))
	rootCmd.AddCommand(newPolicyCmd(g))
	rootCmd.AddCommand(newQueryCmd(g))
	rootCmd.AddCommand(newSchemasCmd(g))
	rootCmd.AddCommand(newDescribeCmd(g))
	rootCmd.AddCommand(newHandshakeCmd(g))
	rootCmd.AddCommand(newAuditCmd(g))
	return rootCmd
}

func resolve(cmd *cobra.Command, flag string, dst *string, env, profile string) {
	if cmd.Flags().Changed(flag) {
		return
	}
	if v := os.Getenv(env); v != "" {
		*dst = v
	} else if profile != "" {
		*dst = profile
	}
}
