package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	atomicFile "github.com/natefinch/atomic"
	"github.com/spf13/cobra"

	"github.com/yllada/anonvpn/common"
	"github.com/yllada/anonvpn/engine"
	"github.com/yllada/anonvpn/scheduler"
	"github.com/yllada/anonvpn/vpn"
)

func newConnectCmd(a *app) *cobra.Command {
	var (
		up          bool
		tunnelOnly  bool
		writeConfig string
	)

	cmd := &cobra.Command{
		Use:   "connect [server]",
		Short: "Negotiate a tunnel and optionally bring it up",
		Long: `Negotiate a WireGuard tunnel with the server (or the selected one).

Without --up the connection is only printed, or written as a wg-quick file with
--write-config. With --up the interface is created and kept running: the
credential is renewed once per epoch and the tunnel is switched to it. Stop
with Ctrl+C; the interface is removed on exit.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := a.server(args)
			if err != nil {
				return err
			}
			if up {
				if err := a.requireRoot("connect --up"); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			conn, err := a.connectWithReauth(ctx, newPrompter(cmd), server)
			if err != nil {
				return err
			}

			only := tunnelOnly || a.cfg.Tunnel.TunnelOnly
			if writeConfig != "" {
				cfg := vpn.RenderConfig(conn, only, a.cfg.Tunnel.DNS)
				if err := common.EnsurePrivateDir(filepath.Dir(writeConfig)); err != nil {
					return err
				}
				if err := atomicFile.WriteFile(writeConfig, strings.NewReader(cfg)); err != nil {
					return fmt.Errorf("writing %s: %w", writeConfig, err)
				}
				printf(out, "WireGuard configuration written to %s\n", writeConfig)
			}

			if !up {
				printf(out, "Connected to %s: %s\n", server, conn)
				return nil
			}
			return a.runTunnel(ctx, out, server, conn, only)
		},
	}

	cmd.Flags().BoolVar(&up, "up", false, "bring the tunnel up and keep it refreshed (requires root)")
	cmd.Flags().BoolVar(&tunnelOnly, "tunnel-only", false, "do not route all traffic through the tunnel")
	cmd.Flags().StringVar(&writeConfig, "write-config", "", "write a wg-quick configuration to this file")
	return cmd
}

// connectWithReauth negotiates a connection, logging in again once when
// the stored credential is no longer accepted.
func (a *app) connectWithReauth(ctx context.Context, p *prompter, server string) (engine.VpnConnection, error) {
	var conn engine.VpnConnection
	err := a.withReauth(ctx, p, func() error {
		var err error
		conn, err = a.connect(ctx, server)
		return err
	})
	return conn, err
}

var errTunnelClosing = errors.New("tunnel is shutting down")

// runTunnel brings the tunnel up and keeps it on a fresh credential until
// ctx is cancelled or a refresh fails.
func (a *app) runTunnel(ctx context.Context, out io.Writer, server string, conn engine.VpnConnection, tunnelOnly bool) error {
	tun, err := a.openTunnel(tunnelOnly)
	if err != nil {
		return err
	}
	defer tun.Close()

	// The refresher and the health checker both reconfigure the interface.
	// closing is set under tunMu once teardown starts; nothing may bring
	// the interface back after that.
	var (
		tunMu   sync.Mutex
		closing bool
	)

	if err := tun.Up(ctx, conn); err != nil {
		_ = a.notifications().Error(server, err.Error())
		return err
	}
	_ = a.notifications().Connected(server)
	printf(out, "Tunnel up on %s to %s\n", tun.Status().Interface, server)

	refresh := func(ctx context.Context) error {
		err := a.refreshCycle(ctx, server, func(ctx context.Context, conn engine.VpnConnection) error {
			tunMu.Lock()
			defer tunMu.Unlock()
			if closing {
				return errTunnelClosing
			}
			return tun.Refresh(ctx, conn)
		})
		if err == nil {
			_ = a.notifications().Refreshed(server)
		}
		return err
	}

	stopped := make(chan error, 1)
	refresher := scheduler.NewRefresher(a.sched, refresh, a.log)
	refresher.SetOnStopped(func(err error) { stopped <- err })
	refresher.Start(ctx)
	defer refresher.Stop()

	var hc *vpn.HealthChecker
	if a.cfg.Tunnel.HealthCheck {
		hc = vpn.NewHealthChecker(tun, func(ctx context.Context) error {
			conn, err := a.connectWithReauth(ctx, nil, server)
			if err != nil {
				return err
			}
			tunMu.Lock()
			defer tunMu.Unlock()
			if closing {
				return errTunnelClosing
			}
			return tun.Up(ctx, conn)
		}, a.health, a.log)
		hc.SetOnReconnectFailed(func(err error) {
			_ = a.notifications().Error(server, "reconnect failed: "+err.Error())
		})
		hc.Start()
		defer hc.Stop()
	}

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("Shutting down tunnel")
	case runErr = <-stopped:
		_ = a.notifications().Error(server, runErr.Error())
	}

	tunMu.Lock()
	closing = true
	tunMu.Unlock()
	if hc != nil {
		hc.Stop()
	}
	refresher.Stop()

	downCtx, cancel := context.WithTimeout(context.Background(), common.TunnelCommandTimeout)
	defer cancel()
	tunMu.Lock()
	derr := tun.Down(downCtx)
	tunMu.Unlock()
	if derr != nil {
		a.log.Warn("Tearing down tunnel: %v", derr)
	}
	_ = a.notifications().Disconnected(server)
	printf(out, "Tunnel down.\n")
	return runErr
}

// refreshCycle renews the credential, negotiates a connection with it and
// hands the connection to apply.
func (a *app) refreshCycle(ctx context.Context, server string, apply func(context.Context, engine.VpnConnection) error) error {
	err := a.withReauth(ctx, nil, func() error {
		status, err := a.refreshAuth(ctx)
		if err != nil {
			return err
		}
		return statusErr(status)
	})
	if err != nil {
		return fmt.Errorf("refreshing credential: %w", err)
	}

	conn, err := a.connectWithReauth(ctx, nil, server)
	if err != nil {
		return fmt.Errorf("reconnecting to %s: %w", server, err)
	}
	if err := apply(ctx, conn); err != nil {
		return fmt.Errorf("refreshing tunnel: %w", err)
	}

	if l, ok := a.log.(*common.AppLogger); ok {
		l.CheckRotation()
	}
	return nil
}
