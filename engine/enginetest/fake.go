// Package enginetest provides a scriptable in-memory credential engine
// for tests.
package enginetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/yllada/anonvpn/engine"
)

// ConnectCall records the arguments of one Connect invocation.
type ConnectCall struct {
	Server       string
	ClientState  engine.ClientState
	ServersState engine.ServersState
	At           time.Time
}

// Engine is a fake engine.Engine. Results are consumed from the scripted
// queues in order; when a queue is exhausted the last entry is repeated.
// Unscripted operations succeed with deterministic states.
type Engine struct {
	mu sync.Mutex

	AuthResults    []engine.AuthResult
	RefreshResults []engine.AuthResult
	ServersResults []engine.ServersResult
	ConnectResults []engine.ConnectResult

	// Err, when set, is returned by every call.
	Err error

	// ConnectHook, when set, runs at the start of every Connect call
	// before any result is picked. attempt counts from zero.
	ConnectHook func(ctx context.Context, attempt int)

	AuthCalls     int
	RefreshCalls  int
	ServersCalls  int
	ConnectCalls  []ConnectCall
	FactoryCalls  int
	LastUsername  string
	LastPassword  string
	LastAuthState engine.ClientState
}

var _ engine.Engine = (*Engine)(nil)

// New returns an empty fake engine.
func New() *Engine {
	return &Engine{}
}

// NewClientState implements engine.StateFactory.
func (e *Engine) NewClientState(context.Context) (engine.ClientState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return "", e.Err
	}
	e.FactoryCalls++
	return engine.ClientState(fmt.Sprintf("client-%d", e.FactoryCalls)), nil
}

// NewServersState implements engine.StateFactory.
func (e *Engine) NewServersState(context.Context) (engine.ServersState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return "", e.Err
	}
	e.FactoryCalls++
	return engine.ServersState(fmt.Sprintf("servers-%d", e.FactoryCalls)), nil
}

// Authenticate implements engine.Engine.
func (e *Engine) Authenticate(_ context.Context, username, password string, state engine.ClientState) (engine.AuthResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	idx := e.AuthCalls
	e.AuthCalls++
	e.LastUsername, e.LastPassword, e.LastAuthState = username, password, state
	if len(e.AuthResults) == 0 {
		return engine.Authenticated{ClientState: state + "+auth"}, nil
	}
	return pick(e.AuthResults, idx), nil
}

// Refresh implements engine.Engine.
func (e *Engine) Refresh(_ context.Context, state engine.ClientState) (engine.AuthResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	idx := e.RefreshCalls
	e.RefreshCalls++
	e.LastAuthState = state
	if len(e.RefreshResults) == 0 {
		return engine.Authenticated{ClientState: state + "+refresh"}, nil
	}
	return pick(e.RefreshResults, idx), nil
}

// GetServers implements engine.Engine.
func (e *Engine) GetServers(_ context.Context, _ engine.ServersState) (engine.ServersResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return engine.ServersResult{}, e.Err
	}
	idx := e.ServersCalls
	e.ServersCalls++
	if len(e.ServersResults) == 0 {
		return engine.ServersResult{Servers: []string{}}, nil
	}
	return pick(e.ServersResults, idx), nil
}

// Connect implements engine.Engine.
func (e *Engine) Connect(ctx context.Context, server string, state engine.ClientState, servers engine.ServersState) (engine.ConnectResult, error) {
	e.mu.Lock()
	hook, attempt := e.ConnectHook, len(e.ConnectCalls)
	e.mu.Unlock()
	if hook != nil {
		hook(ctx, attempt)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.Err != nil {
		return nil, e.Err
	}
	idx := len(e.ConnectCalls)
	e.ConnectCalls = append(e.ConnectCalls, ConnectCall{Server: server, ClientState: state, ServersState: servers, At: time.Now()})
	if len(e.ConnectResults) == 0 {
		return engine.ConnectFailed{Reason: "no result scripted"}, nil
	}
	return pick(e.ConnectResults, idx), nil
}

// ConnectAttempts returns how many times Connect was invoked.
func (e *Engine) ConnectAttempts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.ConnectCalls)
}

func pick[T any](results []T, idx int) T {
	if idx >= len(results) {
		idx = len(results) - 1
	}
	return results[idx]
}

// ValidConnection returns a well formed connection descriptor with fresh keys.
func ValidConnection() engine.VpnConnection {
	clientKey, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		panic(err)
	}
	serverKey, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		panic(err)
	}
	return engine.VpnConnection{
		ClientAddresses:  []string{"10.64.0.2", "fd00:64::2"},
		ServerPublicKey:  serverKey.PublicKey().String(),
		ServerEndpoint:   "198.51.100.7:51820",
		ClientPrivateKey: clientKey.String(),
		ClientPublicKey:  clientKey.PublicKey().String(),
	}
}
