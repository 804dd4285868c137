package vpn

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeStatus struct {
	mu     sync.Mutex
	status TunnelStatus
}

func (f *fakeStatus) Status() TunnelStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeStatus) set(s ConnectionStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status.Status = s
}

func newTestChecker(tunnel StatusSource, reconnect ReconnectFunc, dialErr *atomic.Value) *HealthChecker {
	cfg := DefaultHealthConfig()
	cfg.ReconnectDelay = 0
	cfg.FailureThreshold = 2
	hc := NewHealthChecker(tunnel, reconnect, cfg, nil)
	hc.dial = func(context.Context) (time.Duration, error) {
		if err, ok := dialErr.Load().(error); ok && err != nil {
			return 0, err
		}
		return 10 * time.Millisecond, nil
	}
	return hc
}

func TestHealthState_String(t *testing.T) {
	tests := []struct {
		state    HealthState
		expected string
	}{
		{HealthHealthy, "Healthy"},
		{HealthDegraded, "Degraded"},
		{HealthUnhealthy, "Unhealthy"},
		{HealthUnknown, "Unknown"},
		{HealthState(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("HealthState.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestConnectionStatus_String(t *testing.T) {
	tests := []struct {
		status   ConnectionStatus
		expected string
	}{
		{StatusDisconnected, "Disconnected"},
		{StatusConnecting, "Connecting..."},
		{StatusConnected, "Connected"},
		{StatusDisconnecting, "Disconnecting..."},
		{StatusError, "Error"},
		{ConnectionStatus(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.status.String(); got != tt.expected {
				t.Errorf("ConnectionStatus.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDefaultHealthConfig(t *testing.T) {
	config := DefaultHealthConfig()

	if config.CheckInterval != 30*time.Second {
		t.Errorf("CheckInterval = %v, want 30s", config.CheckInterval)
	}

	if config.FailureThreshold != 3 {
		t.Errorf("FailureThreshold = %v, want 3", config.FailureThreshold)
	}

	if !config.AutoReconnect {
		t.Error("AutoReconnect should be true by default")
	}

	if config.ReconnectDelay != 5*time.Second {
		t.Errorf("ReconnectDelay = %v, want 5s", config.ReconnectDelay)
	}

	if len(config.TestHosts) == 0 {
		t.Error("TestHosts should not be empty")
	}
}

func TestHealthChecker_StartStop(t *testing.T) {
	hc := NewHealthChecker(&fakeStatus{}, nil, DefaultHealthConfig(), nil)

	if hc.IsRunning() {
		t.Error("HealthChecker should not be running initially")
	}

	hc.Start()
	if !hc.IsRunning() {
		t.Error("HealthChecker should be running after Start()")
	}

	hc.Stop()
	if hc.IsRunning() {
		t.Error("HealthChecker should not be running after Stop()")
	}
	hc.Stop()
}

func TestHealthChecker_SkipsWhenDisconnected(t *testing.T) {
	var dialErr atomic.Value
	hc := newTestChecker(&fakeStatus{}, nil, &dialErr)

	if got := hc.Check(context.Background()); got != HealthUnknown {
		t.Errorf("Check() = %v, want %v", got, HealthUnknown)
	}
}

func TestHealthChecker_Transitions(t *testing.T) {
	var dialErr atomic.Value
	tunnel := &fakeStatus{status: TunnelStatus{Interface: "avpn0", Status: StatusConnected}}
	hc := newTestChecker(tunnel, nil, &dialErr)

	if got := hc.Check(context.Background()); got != HealthHealthy {
		t.Fatalf("Check() = %v, want Healthy", got)
	}
	if hc.GetHealth().Latency != 10*time.Millisecond {
		t.Errorf("Latency = %v, want 10ms", hc.GetHealth().Latency)
	}

	dialErr.Store(errors.New("unreachable"))
	if got := hc.Check(context.Background()); got != HealthDegraded {
		t.Errorf("first failure = %v, want Degraded", got)
	}
	if got := hc.Check(context.Background()); got != HealthUnhealthy {
		t.Errorf("second failure = %v, want Unhealthy", got)
	}
	if hc.GetHealth().ConsecutiveFails != 2 {
		t.Errorf("ConsecutiveFails = %d, want 2", hc.GetHealth().ConsecutiveFails)
	}
}

func TestHealthChecker_StaleHandshake(t *testing.T) {
	var dialErr atomic.Value
	now := time.Now()
	tunnel := &fakeStatus{status: TunnelStatus{
		Status:        StatusConnected,
		LastHandshake: now.Add(-10 * time.Minute),
	}}
	hc := newTestChecker(tunnel, nil, &dialErr)
	hc.now = func() time.Time { return now }

	if got := hc.Check(context.Background()); got != HealthDegraded {
		t.Errorf("Check() = %v, want Degraded", got)
	}
}

func TestHealthChecker_Reconnects(t *testing.T) {
	var dialErr atomic.Value
	dialErr.Store(errors.New("unreachable"))
	tunnel := &fakeStatus{status: TunnelStatus{Status: StatusConnected}}

	var calls atomic.Int32
	done := make(chan struct{})
	reconnect := func(context.Context) error {
		if calls.Add(1) < 2 {
			return errors.New("engine busy")
		}
		close(done)
		return nil
	}
	hc := newTestChecker(tunnel, reconnect, &dialErr)

	hc.Check(context.Background())
	hc.Check(context.Background())

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect was not attempted")
	}
	if calls.Load() != 2 {
		t.Errorf("reconnect calls = %d, want 2", calls.Load())
	}
}

func TestHealthChecker_ReconnectGivesUp(t *testing.T) {
	var dialErr atomic.Value
	dialErr.Store(errors.New("unreachable"))
	tunnel := &fakeStatus{status: TunnelStatus{Status: StatusConnected}}

	var calls atomic.Int32
	hc := newTestChecker(tunnel, func(context.Context) error {
		calls.Add(1)
		return errors.New("still down")
	}, &dialErr)
	hc.config.MaxReconnectAttempts = 3

	failed := make(chan error, 1)
	hc.SetOnReconnectFailed(func(err error) { failed <- err })

	hc.Check(context.Background())
	hc.Check(context.Background())

	select {
	case <-failed:
	case <-time.After(5 * time.Second):
		t.Fatal("reconnect did not give up")
	}
	if calls.Load() != 3 {
		t.Errorf("reconnect calls = %d, want 3", calls.Load())
	}
}

func TestHealthChecker_UpdateConfig(t *testing.T) {
	hc := NewHealthChecker(&fakeStatus{}, nil, DefaultHealthConfig(), nil)

	hc.UpdateConfig(HealthConfig{
		CheckInterval:    60 * time.Second,
		FailureThreshold: 5,
		AutoReconnect:    false,
	})

	if hc.config.CheckInterval != 60*time.Second {
		t.Error("UpdateConfig should update CheckInterval")
	}
	if hc.config.FailureThreshold != 5 {
		t.Error("UpdateConfig should update FailureThreshold")
	}
	if hc.config.AutoReconnect {
		t.Error("UpdateConfig should update AutoReconnect")
	}
}

func TestTunnelStatus_Uptime(t *testing.T) {
	st := TunnelStatus{
		Status:    StatusConnected,
		StartTime: time.Now().Add(-5 * time.Minute),
	}

	uptime := st.Uptime()
	if uptime < 4*time.Minute || uptime > 6*time.Minute {
		t.Errorf("Uptime() = %v, expected around 5 minutes", uptime)
	}

	st.Status = StatusDisconnected
	if st.Uptime() != 0 {
		t.Error("Uptime() should return 0 for disconnected tunnels")
	}
}
