package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yllada/anonvpn/common"
)

// NewRootCmd returns the root command.
func NewRootCmd(info BuildInfo) *cobra.Command {
	return newRootCmd(newApp(info))
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "anonvpn",
		Short: "WireGuard VPN client with anonymous per-epoch credentials",
		Long: `anonvpn connects to WireGuard servers using anonymous credentials that are
renewed once per epoch, at a random moment before the epoch ends.

Start with "anonvpn login", pick a server with "anonvpn select" and bring the
tunnel up with "sudo anonvpn connect --up".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", a.configPath, "config file (default is $HOME/.config/anonvpn/config.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", a.verbose, "enable verbose logging")
	root.PersistentFlags().StringVar(&a.metricsFile, "metrics-file", a.metricsFile, "write operation metrics to this file on exit (Prometheus text format)")

	root.AddCommand(
		newLoginCmd(a),
		newLogoutCmd(a),
		newRefreshCmd(a),
		newServersCmd(a),
		newSelectCmd(a),
		newConnectCmd(a),
		newStatusCmd(a),
		newNextRefreshCmd(a),
		newDisconnectCmd(a),
		newResetCmd(a),
		newVersionCmd(a),
	)
	return root
}

// Execute runs the command line and returns the process exit code.
func Execute(ctx context.Context, info BuildInfo, args []string) int {
	a := newApp(info)
	root := newRootCmd(a)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if cerr := a.close(); cerr != nil {
		common.LogWarn("Shutdown: %v", cerr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			printf(out, "%s v%s\n", common.AppName, a.info.Version)
			if a.info.BuildTime != "" && a.info.BuildTime != "unknown" {
				printf(out, "  Build:  %s\n", a.info.BuildTime)
				printf(out, "  Commit: %s\n", a.info.Commit)
			}
			return nil
		},
	}
}
