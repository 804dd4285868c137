package vpn

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/yllada/anonvpn/common"
	"github.com/yllada/anonvpn/engine"
)

// Routing constants for full-tunnel mode.
const (
	routingTable = 51820
	tunnelMTU    = 1420
)

// ConnectionStatus represents the current state of the tunnel.
type ConnectionStatus int

const (
	// StatusDisconnected indicates no active tunnel.
	StatusDisconnected ConnectionStatus = iota
	// StatusConnecting indicates the tunnel is being set up.
	StatusConnecting
	// StatusConnected indicates the tunnel is up.
	StatusConnected
	// StatusDisconnecting indicates the tunnel is being torn down.
	StatusDisconnecting
	// StatusError indicates setup or teardown failed.
	StatusError
)

// String returns a human-readable representation of the connection status.
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting..."
	case StatusConnected:
		return "Connected"
	case StatusDisconnecting:
		return "Disconnecting..."
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// Device configures WireGuard interfaces. *wgctrl.Client implements it.
type Device interface {
	Device(name string) (*wgtypes.Device, error)
	ConfigureDevice(name string, cfg wgtypes.Config) error
	Close() error
}

// Options controls how the tunnel is set up.
type Options struct {
	// Interface is the WireGuard interface name.
	Interface string
	// TunnelOnly leaves the system routes alone.
	TunnelOnly bool
}

// TunnelStatus is a snapshot of the interface.
type TunnelStatus struct {
	Interface     string
	Status        ConnectionStatus
	Endpoint      string
	PublicKey     string
	LastHandshake time.Time
	BytesSent     int64
	BytesRecv     int64
	StartTime     time.Time
	LastError     string
}

// Uptime returns how long the tunnel has been up.
func (s TunnelStatus) Uptime() time.Duration {
	if s.Status != StatusConnected || s.StartTime.IsZero() {
		return 0
	}
	return time.Since(s.StartTime)
}

// Manager owns one WireGuard interface.
type Manager struct {
	opts   Options
	runner Runner
	device Device
	log    common.Logger

	mu        sync.RWMutex
	status    ConnectionStatus
	startTime time.Time
	lastError string
	endpoint  string
}

// NewManager creates a manager using the kernel WireGuard API and ip(8).
func NewManager(opts Options, log common.Logger) (*Manager, error) {
	if !checkCommandExists("ip") {
		return nil, fmt.Errorf("ip command not found")
	}
	client, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("failed to open WireGuard control: %w", err)
	}
	return NewManagerWith(opts, ExecRunner{Logger: log}, client, log), nil
}

// NewManagerWith creates a manager with explicit collaborators.
func NewManagerWith(opts Options, runner Runner, device Device, log common.Logger) *Manager {
	if opts.Interface == "" {
		opts.Interface = common.DefaultInterface
	}
	if log == nil {
		log = common.NopLogger{}
	}
	return &Manager{opts: opts, runner: runner, device: device, log: log}
}

// Interface returns the managed interface name.
func (m *Manager) Interface() string {
	return m.opts.Interface
}

// Close releases the WireGuard control handle. The tunnel stays up.
func (m *Manager) Close() error {
	return m.device.Close()
}

// Up replaces any existing interface with a fresh tunnel for conn.
func (m *Manager) Up(ctx context.Context, conn engine.VpnConnection) error {
	m.setStatus(StatusConnecting, "")
	m.log.Info("Bringing up %s to %s", m.opts.Interface, conn.ServerEndpoint)

	if err := m.up(ctx, conn); err != nil {
		m.setStatus(StatusError, err.Error())
		return fmt.Errorf("%w: %w", common.ErrConnectionFailed, err)
	}

	m.mu.Lock()
	m.status = StatusConnected
	m.startTime = time.Now()
	m.endpoint = conn.ServerEndpoint
	m.lastError = ""
	m.mu.Unlock()
	m.log.Info("Tunnel %s is up", m.opts.Interface)
	return nil
}

func (m *Manager) up(ctx context.Context, conn engine.VpnConnection) error {
	m.teardown(ctx)

	iface := m.opts.Interface
	if _, err := m.runner.Run(ctx, "ip", "link", "add", "dev", iface, "type", "wireguard"); err != nil {
		return err
	}
	if err := m.assignAddresses(ctx, conn); err != nil {
		return err
	}
	cfg, err := deviceConfig(conn, !m.opts.TunnelOnly)
	if err != nil {
		return err
	}
	if err := m.device.ConfigureDevice(iface, cfg); err != nil {
		return fmt.Errorf("configure %s: %w", iface, err)
	}
	if _, err := m.runner.Run(ctx, "ip", "link", "set", "mtu", strconv.Itoa(tunnelMTU), "up", "dev", iface); err != nil {
		return err
	}
	if !m.opts.TunnelOnly {
		return m.configureRouting(ctx)
	}
	return nil
}

// Refresh swaps the keys, peer and addresses of the running tunnel.
func (m *Manager) Refresh(ctx context.Context, conn engine.VpnConnection) error {
	if m.Status().Status != StatusConnected {
		return common.ErrNotConnected
	}
	m.log.Info("Refreshing %s with endpoint %s", m.opts.Interface, conn.ServerEndpoint)

	cfg, err := deviceConfig(conn, !m.opts.TunnelOnly)
	if err != nil {
		return err
	}
	if err := m.device.ConfigureDevice(m.opts.Interface, cfg); err != nil {
		m.setStatus(StatusError, err.Error())
		return fmt.Errorf("configure %s: %w", m.opts.Interface, err)
	}
	if _, err := m.runner.Run(ctx, "ip", "address", "flush", "dev", m.opts.Interface); err != nil {
		m.setStatus(StatusError, err.Error())
		return err
	}
	if err := m.assignAddresses(ctx, conn); err != nil {
		m.setStatus(StatusError, err.Error())
		return err
	}

	m.mu.Lock()
	m.endpoint = conn.ServerEndpoint
	m.mu.Unlock()
	return nil
}

// Down removes the interface and its routing rules.
func (m *Manager) Down(ctx context.Context) error {
	m.setStatus(StatusDisconnecting, "")
	m.log.Info("Tearing down %s", m.opts.Interface)
	m.teardown(ctx)

	m.mu.Lock()
	m.status = StatusDisconnected
	m.startTime = time.Time{}
	m.endpoint = ""
	m.mu.Unlock()
	return nil
}

// teardown removes everything Up may have created. Missing pieces are
// not errors.
func (m *Manager) teardown(ctx context.Context) {
	table := strconv.Itoa(routingTable)
	for _, family := range []string{"-4", "-6"} {
		_, _ = m.runner.Run(ctx, "ip", family, "rule", "delete", "table", table)
		_, _ = m.runner.Run(ctx, "ip", family, "rule", "delete", "table", "main", "suppress_prefixlength", "0")
	}
	_, _ = m.runner.Run(ctx, "ip", "link", "delete", "dev", m.opts.Interface)
}

func (m *Manager) assignAddresses(ctx context.Context, conn engine.VpnConnection) error {
	for _, addr := range conn.InterfaceAddresses() {
		if _, err := m.runner.Run(ctx, "ip", "address", "add", addr, "dev", m.opts.Interface); err != nil {
			return err
		}
	}
	return nil
}

// configureRouting sends everything not marked by WireGuard itself
// through the tunnel.
func (m *Manager) configureRouting(ctx context.Context) error {
	table := strconv.Itoa(routingTable)
	for _, family := range []string{"-4", "-6"} {
		cmds := [][]string{
			{"ip", family, "route", "replace", "default", "dev", m.opts.Interface, "table", table},
			{"ip", family, "rule", "add", "not", "fwmark", table, "table", table},
			{"ip", family, "rule", "add", "table", "main", "suppress_prefixlength", "0"},
		}
		for _, c := range cmds {
			if _, err := m.runner.Run(ctx, c[0], c[1:]...); err != nil {
				return err
			}
		}
	}
	return nil
}

// Status returns the tunnel state, including live statistics when the
// interface exists.
func (m *Manager) Status() TunnelStatus {
	m.mu.RLock()
	st := TunnelStatus{
		Interface: m.opts.Interface,
		Status:    m.status,
		Endpoint:  m.endpoint,
		StartTime: m.startTime,
		LastError: m.lastError,
	}
	m.mu.RUnlock()

	dev, err := m.device.Device(m.opts.Interface)
	if err != nil {
		return st
	}
	if st.Status == StatusDisconnected {
		// Left up by an earlier process.
		st.Status = StatusConnected
	}
	for _, p := range dev.Peers {
		st.PublicKey = p.PublicKey.String()
		if p.Endpoint != nil {
			st.Endpoint = p.Endpoint.String()
		}
		st.LastHandshake = p.LastHandshakeTime
		st.BytesSent += p.TransmitBytes
		st.BytesRecv += p.ReceiveBytes
	}
	return st
}

func (m *Manager) setStatus(s ConnectionStatus, lastError string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = s
	m.lastError = lastError
}

// deviceConfig builds the WireGuard configuration for conn.
func deviceConfig(conn engine.VpnConnection, markPackets bool) (wgtypes.Config, error) {
	priv, err := wgtypes.ParseKey(conn.ClientPrivateKey)
	if err != nil {
		return wgtypes.Config{}, fmt.Errorf("%w: client private key: %v", common.ErrParse, err)
	}
	peerKey, err := wgtypes.ParseKey(conn.ServerPublicKey)
	if err != nil {
		return wgtypes.Config{}, fmt.Errorf("%w: server public key: %v", common.ErrParse, err)
	}
	endpoint, err := net.ResolveUDPAddr("udp", conn.ServerEndpoint)
	if err != nil {
		return wgtypes.Config{}, fmt.Errorf("resolve endpoint %s: %w", conn.ServerEndpoint, err)
	}
	keepalive := common.PersistentKeepalive * time.Second

	cfg := wgtypes.Config{
		PrivateKey:   &priv,
		ReplacePeers: true,
		Peers: []wgtypes.PeerConfig{{
			PublicKey:                   peerKey,
			Endpoint:                    endpoint,
			PersistentKeepaliveInterval: &keepalive,
			ReplaceAllowedIPs:           true,
			AllowedIPs:                  fullTunnel(),
		}},
	}
	if markPackets {
		mark := routingTable
		cfg.FirewallMark = &mark
	}
	return cfg, nil
}

func fullTunnel() []net.IPNet {
	return []net.IPNet{
		{IP: net.IPv4zero.To4(), Mask: net.CIDRMask(0, 32)},
		{IP: net.IPv6zero, Mask: net.CIDRMask(0, 128)},
	}
}
