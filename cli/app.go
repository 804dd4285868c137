// Package cli implements the anonvpn command line: login, server
// selection, connecting and keeping the tunnel's credential fresh.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yllada/anonvpn/client"
	"github.com/yllada/anonvpn/common"
	"github.com/yllada/anonvpn/config"
	"github.com/yllada/anonvpn/engine"
	"github.com/yllada/anonvpn/keyring"
	"github.com/yllada/anonvpn/notify"
	"github.com/yllada/anonvpn/scheduler"
	"github.com/yllada/anonvpn/store"
	"github.com/yllada/anonvpn/vpn"
)

// BuildInfo is injected at build time.
type BuildInfo struct {
	Version   string
	BuildTime string
	Commit    string
}

// tunnel is the part of *vpn.Manager the commands use.
type tunnel interface {
	Up(ctx context.Context, conn engine.VpnConnection) error
	Refresh(ctx context.Context, conn engine.VpnConnection) error
	Down(ctx context.Context) error
	Status() vpn.TunnelStatus
	Close() error
}

type notifier interface {
	common.Notifier
	Connected(server string) error
	Disconnected(server string) error
	Refreshed(server string) error
	Error(server, msg string) error
}

// app holds what the commands share. Collaborators are created lazily so
// commands that do not need the engine or the tunnel never start them.
type app struct {
	info        BuildInfo
	configPath  string
	verbose     bool
	metricsFile string

	cfg      *config.Config
	log      common.Logger
	registry *prometheus.Registry
	metrics  *client.Metrics

	newEngine   func(cfg *config.Config, log common.Logger) engine.Engine
	newTunnel   func(opts vpn.Options, log common.Logger) (tunnel, error)
	newNotifier func(cfg *config.Config, log common.Logger) notifier
	geteuid     func() int
	health      vpn.HealthConfig

	store *store.Store
	sched *scheduler.Scheduler
	cl    *client.Client
	creds common.CredentialStore
	notes notifier
}

func newApp(info BuildInfo) *app {
	return &app{
		info:      info,
		newEngine: defaultEngine,
		newTunnel: func(opts vpn.Options, log common.Logger) (tunnel, error) {
			m, err := vpn.NewManager(opts, log)
			if err != nil {
				return nil, err
			}
			return m, nil
		},
		newNotifier: func(cfg *config.Config, log common.Logger) notifier {
			return notify.New(cfg.Notifications, log)
		},
		geteuid: os.Geteuid,
		health:  vpn.DefaultHealthConfig(),
	}
}

func defaultEngine(cfg *config.Config, log common.Logger) engine.Engine {
	e := engine.NewProcessEngine(cfg.Engine.Command, cfg.Engine.Args...)
	e.Timeout = cfg.Engine.Timeout
	e.Logger = log
	return e
}

// init loads the configuration and sets up logging and metrics.
func (a *app) init() error {
	if a.cfg == nil {
		var (
			cfg *config.Config
			err error
		)
		if a.configPath != "" {
			cfg, err = config.LoadFrom(a.configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}
		a.cfg = cfg
	}
	if a.verbose {
		a.cfg.LogLevel = "debug"
	}

	if a.log == nil {
		if err := common.InitLogger(common.LogConfig{
			Level:      common.ParseLogLevel(a.cfg.LogLevel),
			EnableFile: true,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
		}
		a.log = common.GetLogger()
	}

	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
		a.metrics = client.NewMetrics(a.registry)
	}
	return nil
}

// close releases everything the commands opened and writes the metrics
// file if one was requested.
func (a *app) close() error {
	var errs []error
	if a.cl != nil {
		errs = append(errs, a.cl.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.metricsFile != "" && a.registry != nil {
		if err := prometheus.WriteToTextfile(a.metricsFile, a.registry); err != nil {
			errs = append(errs, fmt.Errorf("writing metrics: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *app) openClient() (*client.Client, error) {
	if a.cl != nil {
		return a.cl, nil
	}
	eng := a.newEngine(a.cfg, a.log)

	backend, err := store.Open(a.cfg.StoreBackend, a.cfg.StateDir)
	if err != nil {
		return nil, err
	}
	a.store = store.New(backend, eng, a.log)

	sched, err := scheduler.New(a.cfg.SchedulerEpoch())
	if err != nil {
		return nil, err
	}
	a.sched = sched

	cl, err := client.New(eng, a.store,
		client.WithLogger(a.log),
		client.WithMetrics(a.metrics),
		client.WithScheduler(sched),
		client.WithConnectRetry(a.cfg.Connect.MaxRetries, a.cfg.Connect.RetryDelay),
	)
	if err != nil {
		return nil, err
	}
	a.cl = cl
	return cl, nil
}

func (a *app) credentials() common.CredentialStore {
	if a.creds == nil {
		a.creds = keyring.New(keyring.Options{Dir: a.cfg.StateDir, Logger: a.log})
	}
	return a.creds
}

func (a *app) notifications() notifier {
	if a.notes == nil {
		a.notes = a.newNotifier(a.cfg, a.log)
	}
	return a.notes
}

func (a *app) openTunnel(tunnelOnly bool) (tunnel, error) {
	return a.newTunnel(vpn.Options{
		Interface:  a.cfg.Tunnel.Interface,
		TunnelOnly: tunnelOnly || a.cfg.Tunnel.TunnelOnly,
	}, a.log)
}

func (a *app) configFile() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return config.Path()
}

func (a *app) requireRoot(action string) error {
	if a.geteuid() != 0 {
		return fmt.Errorf("%w: %s changes network interfaces", common.ErrRootRequired, action)
	}
	return nil
}

// server picks the server from the command arguments or the saved choice.
func (a *app) server(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if a.cfg.Server != "" {
		return a.cfg.Server, nil
	}
	return "", fmt.Errorf("no server selected: pass one or run \"anonvpn select\"")
}

func printf(w io.Writer, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(w, format, args...)
}
