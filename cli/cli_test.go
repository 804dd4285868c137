package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gokeyring "github.com/zalando/go-keyring"

	"github.com/yllada/anonvpn/common"
	"github.com/yllada/anonvpn/config"
	"github.com/yllada/anonvpn/engine"
	"github.com/yllada/anonvpn/engine/enginetest"
	"github.com/yllada/anonvpn/keyring"
	"github.com/yllada/anonvpn/vpn"
)

type fakeTunnel struct {
	mu        sync.Mutex
	opts      vpn.Options
	status    vpn.TunnelStatus
	up        []engine.VpnConnection
	refreshed []engine.VpnConnection
	downs     int
}

func (f *fakeTunnel) Up(_ context.Context, conn engine.VpnConnection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.up = append(f.up, conn)
	f.status.Status = vpn.StatusConnected
	return nil
}

func (f *fakeTunnel) Refresh(_ context.Context, conn engine.VpnConnection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, conn)
	return nil
}

func (f *fakeTunnel) Down(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downs++
	f.status.Status = vpn.StatusDisconnected
	return nil
}

func (f *fakeTunnel) Status() vpn.TunnelStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.status
	st.Interface = f.opts.Interface
	return st
}

func (f *fakeTunnel) Close() error { return nil }

func (f *fakeTunnel) upCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.up)
}

type fakeNotes struct {
	mu     sync.Mutex
	events []string
}

func (n *fakeNotes) add(s string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, s)
	return nil
}

func (n *fakeNotes) Notify(title, _ string) error   { return n.add(title) }
func (n *fakeNotes) Connected(s string) error       { return n.add("connected " + s) }
func (n *fakeNotes) Disconnected(s string) error    { return n.add("disconnected " + s) }
func (n *fakeNotes) Refreshed(s string) error       { return n.add("refreshed " + s) }
func (n *fakeNotes) Error(s string, _ string) error { return n.add("error " + s) }

func (n *fakeNotes) list() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.events...)
}

type testEnv struct {
	a     *app
	eng   *enginetest.Engine
	tun   *fakeTunnel
	notes *fakeNotes
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gokeyring.MockInit()

	cfg := config.DefaultConfig()
	cfg.StateDir = t.TempDir()
	cfg.Connect.RetryDelay = time.Millisecond
	cfg.Tunnel.HealthCheck = false
	cfg.Notifications = false

	env := &testEnv{
		eng:   enginetest.New(),
		tun:   &fakeTunnel{},
		notes: &fakeNotes{},
	}
	a := newApp(BuildInfo{Version: "1.2.3", BuildTime: "unknown"})
	a.cfg = cfg
	a.log = common.NopLogger{}
	a.configPath = filepath.Join(t.TempDir(), "config.yaml")
	a.newEngine = func(*config.Config, common.Logger) engine.Engine { return env.eng }
	a.newTunnel = func(opts vpn.Options, _ common.Logger) (tunnel, error) {
		env.tun.mu.Lock()
		env.tun.opts = opts
		env.tun.mu.Unlock()
		return env.tun, nil
	}
	a.newNotifier = func(*config.Config, common.Logger) notifier { return env.notes }
	a.geteuid = func() int { return 0 }
	env.a = a

	t.Cleanup(func() { _ = a.close() })
	return env
}

func (e *testEnv) run(ctx context.Context, stdin string, args ...string) (string, error) {
	root := newRootCmd(e.a)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	return out.String(), err
}

func connected() engine.Connected {
	return engine.Connected{Connection: enginetest.ValidConnection(), ClientState: "client-connected"}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(context.Background(), "alice\nsecret\n", "login", "--save")
	require.NoError(t, err)

	assert.Contains(t, out, "Logged in as alice.")
	assert.Contains(t, out, "Login saved.")
	assert.Equal(t, "alice", env.eng.LastUsername)
	assert.Equal(t, "secret", env.eng.LastPassword)

	user, password, err := keyring.LoadLogin(env.a.credentials())
	require.NoError(t, err)
	assert.Equal(t, "alice", user)
	assert.Equal(t, "secret", password)

	state, err := env.a.store.LoadClientState(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(state), "+auth"), "state %q", state)
}

func TestLogin_UsernameFlagWithoutSave(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(context.Background(), "secret\n", "login", "-u", "bob")
	require.NoError(t, err)
	assert.NotContains(t, out, "Login saved.")

	_, _, err = keyring.LoadLogin(env.a.credentials())
	assert.ErrorIs(t, err, common.ErrCredentialsNotFound)
}

func TestLogin_Outcomes(t *testing.T) {
	tests := []struct {
		name   string
		result engine.AuthResult
		want   error
	}{
		{"rejected", engine.AuthFailed{Reason: "bad password"}, common.ErrAuthenticationRequired},
		{"no subscription", engine.SubscriptionRequired{}, common.ErrSubscriptionRequired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.eng.AuthResults = []engine.AuthResult{tt.result}

			_, err := env.run(context.Background(), "alice\nsecret\n", "login")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLogin_EmptyPassword(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(context.Background(), "alice\n\n", "login")
	require.Error(t, err)
	assert.Equal(t, 0, env.eng.AuthCalls)
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, keyring.SaveLogin(env.a.credentials(), "alice", "secret"))

	out, err := env.run(context.Background(), "", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Saved login removed.")

	out, err = env.run(context.Background(), "", "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "No saved login.")
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(context.Background(), "", "refresh")
	require.NoError(t, err)
	assert.Contains(t, out, "Credential refreshed.")
	assert.Equal(t, 1, env.eng.RefreshCalls)
}

func TestRefresh_PromptsWhenLoginRequired(t *testing.T) {
	env := newTestEnv(t)
	env.eng.RefreshResults = []engine.AuthResult{engine.AuthFailed{Reason: "expired"}, engine.Authenticated{ClientState: "fresh"}}

	out, err := env.run(context.Background(), "alice\nsecret\n", "refresh")
	require.NoError(t, err)
	assert.Contains(t, out, "Your credential has expired")
	assert.Equal(t, 1, env.eng.AuthCalls)
	assert.Equal(t, 2, env.eng.RefreshCalls)
}

func TestServers(t *testing.T) {
	env := newTestEnv(t)
	env.a.cfg.Server = "se-sto-01"
	env.eng.ServersResults = []engine.ServersResult{{Servers: []string{"de-fra-01", "se-sto-01"}}}

	out, err := env.run(context.Background(), "", "servers")
	require.NoError(t, err)
	assert.Equal(t, "  de-fra-01\n* se-sto-01\n", out)
}

func TestServers_Empty(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(context.Background(), "", "servers")
	require.NoError(t, err)
	assert.Contains(t, out, "No servers available.")
}

func TestSelect(t *testing.T) {
	env := newTestEnv(t)
	env.eng.ServersResults = []engine.ServersResult{{Servers: []string{"de-fra-01", "se-sto-01"}}}

	out, err := env.run(context.Background(), "", "select", "de-fra-01")
	require.NoError(t, err)
	assert.Contains(t, out, "Selected de-fra-01.")

	saved, err := config.LoadFrom(env.a.configPath)
	require.NoError(t, err)
	assert.Equal(t, "de-fra-01", saved.Server)

	_, err = env.run(context.Background(), "", "select", "nl-ams-09")
	assert.ErrorContains(t, err, "unknown server")
}

func TestSelect_KeepsRuntimeSettingsOutOfConfig(t *testing.T) {
	env := newTestEnv(t)
	env.eng.ServersResults = []engine.ServersResult{{Servers: []string{"de-fra-01"}}}

	_, err := env.run(context.Background(), "", "-v", "select", "de-fra-01")
	require.NoError(t, err)
	assert.Equal(t, "de-fra-01", env.a.cfg.Server)

	data, err := os.ReadFile(env.a.configPath)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "server: de-fra-01")
	assert.Contains(t, text, "log_level: info")
	assert.NotContains(t, text, "debug")
	assert.NotContains(t, text, env.a.cfg.StateDir)
}

func TestConnect(t *testing.T) {
	env := newTestEnv(t)
	env.eng.ConnectResults = []engine.ConnectResult{connected()}
	path := filepath.Join(t.TempDir(), "wg", "avpn0.conf")

	out, err := env.run(context.Background(), "", "connect", "se-sto-01", "--write-config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Connected to se-sto-01: endpoint=198.51.100.7:51820")
	assert.NotContains(t, out, "PrivateKey")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[Peer]")
	assert.Contains(t, string(data), "Endpoint = 198.51.100.7:51820")

	require.Len(t, env.eng.ConnectCalls, 1)
	assert.Equal(t, "se-sto-01", env.eng.ConnectCalls[0].Server)
	assert.Empty(t, env.tun.up, "the tunnel is only touched with --up")
}

func TestConnect_NoServer(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(context.Background(), "", "connect")
	assert.ErrorContains(t, err, "no server selected")
}

func TestConnect_ReauthWithSavedLogin(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, keyring.SaveLogin(env.a.credentials(), "alice", "secret"))
	env.eng.ConnectResults = []engine.ConnectResult{engine.AuthRequired{}, connected()}

	_, err := env.run(context.Background(), "", "connect", "se-sto-01")
	require.NoError(t, err)

	assert.Equal(t, 1, env.eng.AuthCalls)
	assert.Equal(t, "alice", env.eng.LastUsername)
	assert.Len(t, env.eng.ConnectCalls, 2)
}

func TestConnect_ReauthPromptSavesLogin(t *testing.T) {
	env := newTestEnv(t)
	env.a.cfg.SaveCredentials = true
	env.eng.ConnectResults = []engine.ConnectResult{engine.AuthRequired{}, connected()}

	out, err := env.run(context.Background(), "bob\nhunter2\n", "connect", "se-sto-01")
	require.NoError(t, err)
	assert.Contains(t, out, "Your credential has expired")

	user, _, err := keyring.LoadLogin(env.a.credentials())
	require.NoError(t, err)
	assert.Equal(t, "bob", user)
}

func TestConnect_SubscriptionRequired(t *testing.T) {
	env := newTestEnv(t)
	env.eng.ConnectResults = []engine.ConnectResult{engine.SubscriptionRequired{}}

	_, err := env.run(context.Background(), "", "connect", "se-sto-01")
	assert.ErrorIs(t, err, common.ErrSubscriptionRequired)
	assert.Equal(t, 0, env.eng.AuthCalls)
}

func TestConnect_UpRequiresRoot(t *testing.T) {
	env := newTestEnv(t)
	env.a.geteuid = func() int { return 1000 }

	_, err := env.run(context.Background(), "", "connect", "se-sto-01", "--up")
	assert.ErrorIs(t, err, common.ErrRootRequired)
	assert.Empty(t, env.eng.ConnectCalls)
}

func TestConnect_Up(t *testing.T) {
	env := newTestEnv(t)
	env.eng.ConnectResults = []engine.ConnectResult{connected()}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		out string
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := env.run(ctx, "", "connect", "se-sto-01", "--up", "--tunnel-only")
		done <- result{out, err}
	}()

	require.Eventually(t, func() bool { return env.tun.upCount() == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Contains(t, r.out, "Tunnel up on avpn0 to se-sto-01")
		assert.Contains(t, r.out, "Tunnel down.")
	case <-time.After(5 * time.Second):
		t.Fatal("connect --up did not stop after cancellation")
	}

	env.tun.mu.Lock()
	defer env.tun.mu.Unlock()
	assert.Equal(t, 1, env.tun.downs)
	assert.True(t, env.tun.opts.TunnelOnly)
	assert.Equal(t, []string{"connected se-sto-01", "disconnected se-sto-01"}, env.notes.list())
}

func TestConnect_UpShutdownDuringReconnect(t *testing.T) {
	env := newTestEnv(t)
	env.a.cfg.Tunnel.HealthCheck = true
	// No test hosts: every health check fails, so the first one reconnects.
	env.a.health = vpn.HealthConfig{
		CheckInterval:    5 * time.Millisecond,
		FailureThreshold: 1,
		AutoReconnect:    true,
	}
	env.eng.ConnectResults = []engine.ConnectResult{connected()}

	// The reconnect is held inside the engine until after teardown, then
	// allowed to succeed.
	reconnecting := make(chan struct{})
	release := make(chan struct{})
	var once, releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	t.Cleanup(unblock)
	env.eng.ConnectHook = func(_ context.Context, attempt int) {
		if attempt == 0 {
			return
		}
		once.Do(func() { close(reconnecting) })
		<-release
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := env.run(ctx, "", "connect", "se-sto-01", "--up")
		done <- err
	}()

	select {
	case <-reconnecting:
	case <-time.After(5 * time.Second):
		t.Fatal("health checker never tried to reconnect")
	}
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("connect --up did not stop while a reconnect was pending")
	}
	require.Equal(t, 1, env.tun.upCount())

	unblock()
	require.Eventually(t, func() bool {
		return env.eng.ConnectAttempts() == 2
	}, 5*time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	env.tun.mu.Lock()
	defer env.tun.mu.Unlock()
	assert.Equal(t, 1, len(env.tun.up), "tunnel brought up again after shutdown")
	assert.Equal(t, 1, env.tun.downs)
	assert.Equal(t, vpn.StatusDisconnected, env.tun.status.Status)
}

func TestRefreshCycle(t *testing.T) {
	env := newTestEnv(t)
	conn := connected()
	env.eng.ConnectResults = []engine.ConnectResult{conn}

	var applied []engine.VpnConnection
	err := env.a.refreshCycle(context.Background(), "se-sto-01", func(_ context.Context, c engine.VpnConnection) error {
		applied = append(applied, c)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, 1, env.eng.RefreshCalls)
	require.Len(t, applied, 1)
	assert.Equal(t, conn.Connection, applied[0])
}

func TestRefreshCycle_LoginRequired(t *testing.T) {
	env := newTestEnv(t)
	env.eng.RefreshResults = []engine.AuthResult{engine.AuthFailed{Reason: "expired"}}

	err := env.a.refreshCycle(context.Background(), "se-sto-01", func(context.Context, engine.VpnConnection) error {
		t.Fatal("tunnel must not be refreshed")
		return nil
	})
	assert.ErrorIs(t, err, common.ErrAuthenticationRequired)
	assert.Contains(t, env.notes.list(), "Login required")
}

func TestRefreshCycle_ApplyError(t *testing.T) {
	env := newTestEnv(t)
	env.eng.ConnectResults = []engine.ConnectResult{connected()}

	err := env.a.refreshCycle(context.Background(), "se-sto-01", func(context.Context, engine.VpnConnection) error {
		return errors.New("device busy")
	})
	assert.ErrorContains(t, err, "refreshing tunnel: device busy")
}

func TestNextRefresh(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(context.Background(), "", "next-refresh")
	require.NoError(t, err)

	secs, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64)
	require.NoError(t, err)
	assert.Greater(t, secs, int64(0))
	assert.Less(t, secs, 2*common.EpochLength)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	env.a.cfg.Server = "se-sto-01"
	env.tun.status = vpn.TunnelStatus{Status: vpn.StatusConnected, Endpoint: "198.51.100.7:51820"}

	out, err := env.run(context.Background(), "", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "Connected")
	assert.Contains(t, out, "se-sto-01")
	assert.Contains(t, out, "Next refresh")
}

func TestDisconnect(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(context.Background(), "", "disconnect")
	require.NoError(t, err)
	assert.Contains(t, out, "No active tunnel.")

	env.tun.status.Status = vpn.StatusConnected
	out, err = env.run(context.Background(), "", "disconnect")
	require.NoError(t, err)
	assert.Contains(t, out, "Disconnected.")
	assert.Equal(t, 1, env.tun.downs)
}

func TestReset(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.run(context.Background(), "alice\nsecret\n", "login", "--save")
	require.NoError(t, err)
	statePath := filepath.Join(env.a.cfg.StateDir, common.ClientStateFileName)
	require.FileExists(t, statePath)

	out, err := env.run(context.Background(), "n\n", "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing changed.")
	assert.FileExists(t, statePath)

	out, err = env.run(context.Background(), "", "reset", "--yes", "--credentials")
	require.NoError(t, err)
	assert.Contains(t, out, "State reset.")
	assert.NoFileExists(t, statePath)

	_, _, err = keyring.LoadLogin(env.a.credentials())
	assert.ErrorIs(t, err, common.ErrCredentialsNotFound)
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(context.Background(), "", "version")
	require.NoError(t, err)
	assert.Equal(t, "AnonVPN v1.2.3\n", out)
}

func TestMetricsFile(t *testing.T) {
	env := newTestEnv(t)
	env.a.metricsFile = filepath.Join(t.TempDir(), "anonvpn.prom")

	_, err := env.run(context.Background(), "", "servers")
	require.NoError(t, err)
	require.NoError(t, env.a.close())
	env.a.cl = nil
	env.a.store = nil

	data, err := os.ReadFile(env.a.metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `anonvpn_client_operations_total{operation="get_servers",outcome="success"} 1`)
}
