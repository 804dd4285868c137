package vpn

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/yllada/anonvpn/common"
)

// staleHandshake is how old the last WireGuard handshake may get before the
// tunnel is considered dead. WireGuard rekeys every two minutes.
const staleHandshake = 3 * time.Minute

// HealthState represents the current health state of the tunnel.
type HealthState int

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthDegraded
	HealthUnhealthy
)

// String returns a human-readable representation of the health state.
func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "Healthy"
	case HealthDegraded:
		return "Degraded"
	case HealthUnhealthy:
		return "Unhealthy"
	default:
		return "Unknown"
	}
}

// HealthConfig holds configuration for the health checker.
type HealthConfig struct {
	// CheckInterval is how often to check tunnel health.
	CheckInterval time.Duration
	// FailureThreshold is how many consecutive failures before marking unhealthy.
	FailureThreshold int
	// AutoReconnect enables automatic reconnection on failure.
	AutoReconnect bool
	// ReconnectDelay is the delay before attempting to reconnect.
	ReconnectDelay time.Duration
	// MaxReconnectAttempts is the maximum number of reconnection attempts (0 = unlimited).
	MaxReconnectAttempts int
	// TestHosts are dialed through the tunnel to confirm it passes traffic.
	TestHosts []string
}

// DefaultHealthConfig returns sensible defaults for health checking.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		CheckInterval:        30 * time.Second,
		FailureThreshold:     3,
		AutoReconnect:        true,
		ReconnectDelay:       common.ReconnectDelay,
		MaxReconnectAttempts: 5,
		TestHosts: []string{
			"1.1.1.1:53",
			"9.9.9.9:53",
		},
	}
}

// TunnelHealth tracks the health of the tunnel.
type TunnelHealth struct {
	State             HealthState
	LastCheck         time.Time
	LastSuccess       time.Time
	ConsecutiveFails  int
	ReconnectAttempts int
	Latency           time.Duration
}

// ReconnectFunc negotiates a new connection and brings the tunnel back up.
type ReconnectFunc func(ctx context.Context) error

// StatusSource reports the tunnel state. *Manager implements it.
type StatusSource interface {
	Status() TunnelStatus
}

// HealthChecker monitors the tunnel and reconnects when it stops working.
type HealthChecker struct {
	mu                sync.RWMutex
	config            HealthConfig
	tunnel            StatusSource
	reconnect         ReconnectFunc
	log               common.Logger
	running           bool
	stopChan          chan struct{}
	health            TunnelHealth
	reconnecting      bool
	dial              func(ctx context.Context) (time.Duration, error)
	now               func() time.Time
	onHealthChange    func(oldState, newState HealthState)
	onReconnectFailed func(err error)
}

// NewHealthChecker creates a health checker for tunnel.
func NewHealthChecker(tunnel StatusSource, reconnect ReconnectFunc, config HealthConfig, log common.Logger) *HealthChecker {
	if log == nil {
		log = common.NopLogger{}
	}
	hc := &HealthChecker{
		config:    config,
		tunnel:    tunnel,
		reconnect: reconnect,
		log:       log,
		stopChan:  make(chan struct{}),
		now:       time.Now,
	}
	hc.dial = hc.testConnectivity
	return hc
}

// SetOnHealthChange sets a callback for health state changes.
func (hc *HealthChecker) SetOnHealthChange(callback func(oldState, newState HealthState)) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.onHealthChange = callback
}

// SetOnReconnectFailed sets a callback for when reconnecting gives up.
func (hc *HealthChecker) SetOnReconnectFailed(callback func(err error)) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.onReconnectFailed = callback
}

// Start begins the health checking loop.
func (hc *HealthChecker) Start() {
	hc.mu.Lock()
	if hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = true
	hc.stopChan = make(chan struct{})
	stop := hc.stopChan
	interval := hc.config.CheckInterval
	hc.mu.Unlock()

	hc.log.Info("Health checker started (interval: %v)", interval)

	go hc.runLoop(interval, stop)
}

// Stop stops the health checking loop.
func (hc *HealthChecker) Stop() {
	hc.mu.Lock()
	if !hc.running {
		hc.mu.Unlock()
		return
	}
	hc.running = false
	close(hc.stopChan)
	hc.mu.Unlock()

	hc.log.Info("Health checker stopped")
}

// IsRunning returns whether the health checker is currently running.
func (hc *HealthChecker) IsRunning() bool {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.running
}

// GetHealth returns a copy of the current tunnel health.
func (hc *HealthChecker) GetHealth() TunnelHealth {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.health
}

// UpdateConfig updates the health checker configuration.
func (hc *HealthChecker) UpdateConfig(config HealthConfig) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.config = config
}

func (hc *HealthChecker) runLoop(interval time.Duration, stop chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			hc.Check(ctx)
		}
	}
}

// Check runs one health check and starts a reconnect when the tunnel
// becomes unhealthy.
func (hc *HealthChecker) Check(ctx context.Context) HealthState {
	status := hc.tunnel.Status()
	if status.Status != StatusConnected {
		return HealthUnknown
	}

	latency, err := hc.dial(ctx)
	if err == nil && !status.LastHandshake.IsZero() && hc.now().Sub(status.LastHandshake) > staleHandshake {
		err = fmt.Errorf("last handshake %v ago", hc.now().Sub(status.LastHandshake).Round(time.Second))
	}

	hc.mu.Lock()
	hc.health.LastCheck = hc.now()
	oldState := hc.health.State

	if err != nil {
		hc.health.ConsecutiveFails++
		hc.health.Latency = 0
		hc.log.Warn("Health check failed for %s (attempt %d/%d): %v",
			status.Interface, hc.health.ConsecutiveFails, hc.config.FailureThreshold, err)

		if hc.health.ConsecutiveFails >= hc.config.FailureThreshold {
			hc.health.State = HealthUnhealthy
		} else {
			hc.health.State = HealthDegraded
		}
	} else {
		hc.health.ConsecutiveFails = 0
		hc.health.LastSuccess = hc.now()
		hc.health.Latency = latency
		hc.health.State = HealthHealthy
		hc.health.ReconnectAttempts = 0
	}

	newState := hc.health.State
	startReconnect := newState == HealthUnhealthy && oldState != HealthUnhealthy &&
		hc.config.AutoReconnect && hc.reconnect != nil && !hc.reconnecting
	if startReconnect {
		hc.reconnecting = true
	}
	onChange := hc.onHealthChange
	hc.mu.Unlock()

	if oldState != newState {
		hc.log.Info("Health state changed for %s: %s -> %s", status.Interface, oldState, newState)
		if onChange != nil {
			go onChange(oldState, newState)
		}
	}
	if startReconnect {
		go hc.attemptReconnect(ctx)
	}
	return newState
}

// testConnectivity tests network connectivity through the tunnel.
func (hc *HealthChecker) testConnectivity(ctx context.Context) (time.Duration, error) {
	hc.mu.RLock()
	hosts := hc.config.TestHosts
	hc.mu.RUnlock()

	dialer := net.Dialer{Timeout: 5 * time.Second}
	for _, host := range hosts {
		start := time.Now()
		conn, err := dialer.DialContext(ctx, "tcp", host)
		if err == nil {
			conn.Close()
			return time.Since(start), nil
		}
	}
	return 0, common.ErrConnectionFailed
}

// attemptReconnect retries the reconnect callback until it succeeds or the
// attempt limit is reached.
func (hc *HealthChecker) attemptReconnect(ctx context.Context) {
	defer func() {
		hc.mu.Lock()
		hc.reconnecting = false
		hc.mu.Unlock()
	}()

	for {
		hc.mu.Lock()
		limit := hc.config.MaxReconnectAttempts
		if limit > 0 && hc.health.ReconnectAttempts >= limit {
			callback := hc.onReconnectFailed
			hc.mu.Unlock()
			hc.log.Error("Max reconnect attempts reached")
			if callback != nil {
				callback(common.ErrConnectionFailed)
			}
			return
		}
		hc.health.ReconnectAttempts++
		attempt := hc.health.ReconnectAttempts
		delay := hc.config.ReconnectDelay
		hc.mu.Unlock()

		hc.log.Info("Attempting reconnect (attempt %d)", attempt)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if hc.tunnel.Status().Status == StatusDisconnected {
			hc.log.Info("Tunnel was disconnected, skipping reconnect")
			return
		}

		err := hc.reconnect(ctx)
		if err == nil {
			hc.mu.Lock()
			hc.health.State = HealthHealthy
			hc.health.ConsecutiveFails = 0
			hc.health.ReconnectAttempts = 0
			hc.mu.Unlock()
			hc.log.Info("Reconnect successful")
			return
		}
		hc.log.Error("Reconnect failed: %v", err)
	}
}
