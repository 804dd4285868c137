package cli

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/yllada/anonvpn/config"
	"github.com/yllada/anonvpn/tui"
)

func newServersCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List available servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			servers, err := a.listServers(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(servers) == 0 {
				printf(out, "No servers available.\n")
				return nil
			}
			for _, s := range servers {
				marker := " "
				if s == a.cfg.Server {
					marker = "*"
				}
				printf(out, "%s %s\n", marker, s)
			}
			return nil
		},
	}
}

func newSelectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "select [server]",
		Short: "Choose the server to connect to",
		Long: `Choose the server used by connect. Without an argument an interactive list
is shown.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var choice string
			if len(args) == 1 {
				servers, err := a.listServers(ctx)
				if err != nil {
					return err
				}
				if !slices.Contains(servers, args[0]) {
					return fmt.Errorf("unknown server %q, see \"anonvpn servers\"", args[0])
				}
				choice = args[0]
			} else {
				var err error
				choice, err = tui.PickServer(ctx, func(ctx context.Context) ([]string, error) {
					return a.listServers(ctx)
				}, a.cfg.Server)
				if err != nil {
					return err
				}
			}

			path, err := a.configFile()
			if err != nil {
				return err
			}
			if err := config.Update(path, func(c *config.Config) { c.Server = choice }); err != nil {
				return err
			}
			a.cfg.Server = choice
			printf(cmd.OutOrStdout(), "Selected %s.\n", choice)
			return nil
		},
	}
}
