package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/yllada/anonvpn/keyring"
	"github.com/yllada/anonvpn/tui"
	"github.com/yllada/anonvpn/vpn"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the tunnel status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := vpn.TunnelStatus{Interface: a.cfg.Tunnel.Interface, Status: vpn.StatusDisconnected}
			if tun, err := a.openTunnel(false); err != nil {
				a.log.Debug("Tunnel status unavailable: %v", err)
			} else {
				st = tun.Status()
				tun.Close()
			}

			view := tui.StatusView{Tunnel: st, Server: a.cfg.Server, Now: time.Now()}
			if st.Status == vpn.StatusConnected {
				cl, err := a.openClient()
				if err != nil {
					return err
				}
				view.NextRefresh = view.Now.Add(time.Duration(cl.TimeToNextRefresh()) * time.Second)
			}
			printf(cmd.OutOrStdout(), "%s\n", tui.RenderStatus(view))
			return nil
		},
	}
}

func newNextRefreshCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "next-refresh",
		Short: "Print the seconds until the credential should be refreshed",
		Long: `Print how many seconds to wait before the next credential refresh. A new
random moment inside the refresh window is drawn on every call.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := a.openClient()
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "%d\n", cl.TimeToNextRefresh())
			return nil
		},
	}
}

func newDisconnectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Remove the tunnel interface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireRoot("disconnect"); err != nil {
				return err
			}
			tun, err := a.openTunnel(false)
			if err != nil {
				return err
			}
			defer tun.Close()

			if tun.Status().Status == vpn.StatusDisconnected {
				printf(cmd.OutOrStdout(), "No active tunnel.\n")
				return nil
			}
			if err := tun.Down(cmd.Context()); err != nil {
				return fmt.Errorf("failed to disconnect: %w", err)
			}
			_ = a.notifications().Disconnected(a.cfg.Server)
			printf(cmd.OutOrStdout(), "Disconnected.\n")
			return nil
		},
	}
}

func newResetCmd(a *app) *cobra.Command {
	var (
		yes         bool
		credentials bool
	)

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete the stored client and servers state",
		Long: `Delete the stored engine state. The next command starts from a fresh state
and a new login is required.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes && !newPrompter(cmd).confirm("Delete the stored credential and server list?") {
				printf(cmd.OutOrStdout(), "Nothing changed.\n")
				return nil
			}
			if err := a.resetState(cmd.Context()); err != nil {
				return err
			}
			if credentials {
				if err := keyring.DeleteLogin(a.credentials()); err != nil {
					return err
				}
			}
			printf(cmd.OutOrStdout(), "State reset.\n")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")
	cmd.Flags().BoolVar(&credentials, "credentials", false, "also forget the saved login")
	return cmd
}

func (a *app) resetState(ctx context.Context) error {
	if _, err := a.openClient(); err != nil {
		return err
	}
	return a.store.Reset(ctx)
}
