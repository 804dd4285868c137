package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/yllada/anonvpn/common"
)

// Operation names understood by an engine executable.
const (
	OpNewClientState  = "new-client-state"
	OpNewServersState = "new-servers-state"
	OpAuthenticate    = "authenticate"
	OpRefresh         = "refresh"
	OpGetServers      = "get-servers"
	OpConnect         = "connect"
)

// ProcessEngine talks to an engine executable. Each call runs
// "<Command> [Args...] <operation>", writes a JSON request on stdin and
// reads a JSON response from stdout. Stderr is forwarded to the debug log.
type ProcessEngine struct {
	Command string
	Args    []string
	// Env is appended to the current process environment.
	Env     []string
	Timeout time.Duration
	Logger  common.Logger
}

var _ Engine = (*ProcessEngine)(nil)

// NewProcessEngine creates an engine adapter for the given executable.
func NewProcessEngine(command string, args ...string) *ProcessEngine {
	return &ProcessEngine{
		Command: command,
		Args:    args,
		Timeout: common.EngineTimeout,
		Logger:  common.GetLogger(),
	}
}

type stateResponse struct {
	State string `json:"state"`
}

type authRequest struct {
	Username    string `json:"username,omitempty"`
	Password    string `json:"password,omitempty"`
	ClientState string `json:"client_state"`
}

type authResponse struct {
	ClientState          string `json:"client_state"`
	SubscriptionRequired bool   `json:"subscription_required"`
	HasError             bool   `json:"has_error"`
	Error                string `json:"error"`
}

type serversRequest struct {
	ServersState string `json:"servers_state"`
}

type serversStateResponse struct {
	HasUpdate    bool   `json:"has_update"`
	ServersState string `json:"servers_state"`
}

type getServersResponse struct {
	Servers      []string             `json:"servers"`
	ServersState serversStateResponse `json:"servers_state"`
}

type connectRequest struct {
	Server       string `json:"server"`
	ClientState  string `json:"client_state"`
	ServersState string `json:"servers_state"`
}

type connectResponse struct {
	VpnConnection        json.RawMessage      `json:"vpn_connection"`
	HasError             bool                 `json:"has_error"`
	Error                string               `json:"error"`
	AuthRequired         bool                 `json:"auth_required"`
	SubscriptionRequired bool                 `json:"subscription_required"`
	ClientState          string               `json:"client_state"`
	ServersState         serversStateResponse `json:"servers_state"`
}

// NewClientState asks the engine for an empty client state.
func (e *ProcessEngine) NewClientState(ctx context.Context) (ClientState, error) {
	var resp stateResponse
	if err := e.call(ctx, OpNewClientState, nil, &resp); err != nil {
		return "", err
	}
	if resp.State == "" {
		return "", fmt.Errorf("%w: engine returned an empty client state", common.ErrParse)
	}
	return ClientState(resp.State), nil
}

// NewServersState asks the engine for an empty servers state.
func (e *ProcessEngine) NewServersState(ctx context.Context) (ServersState, error) {
	var resp stateResponse
	if err := e.call(ctx, OpNewServersState, nil, &resp); err != nil {
		return "", err
	}
	if resp.State == "" {
		return "", fmt.Errorf("%w: engine returned an empty servers state", common.ErrParse)
	}
	return ServersState(resp.State), nil
}

// Authenticate logs in with user credentials.
func (e *ProcessEngine) Authenticate(ctx context.Context, username, password string, state ClientState) (AuthResult, error) {
	var resp authResponse
	req := authRequest{Username: username, Password: password, ClientState: string(state)}
	if err := e.call(ctx, OpAuthenticate, req, &resp); err != nil {
		return nil, err
	}
	return resp.result()
}

// Refresh renews the credential held in state.
func (e *ProcessEngine) Refresh(ctx context.Context, state ClientState) (AuthResult, error) {
	var resp authResponse
	if err := e.call(ctx, OpRefresh, authRequest{ClientState: string(state)}, &resp); err != nil {
		return nil, err
	}
	return resp.result()
}

// GetServers lists the known servers.
func (e *ProcessEngine) GetServers(ctx context.Context, servers ServersState) (ServersResult, error) {
	var resp getServersResponse
	if err := e.call(ctx, OpGetServers, serversRequest{ServersState: string(servers)}, &resp); err != nil {
		return ServersResult{}, err
	}
	update, err := resp.ServersState.update()
	if err != nil {
		return ServersResult{}, err
	}
	return ServersResult{Servers: resp.Servers, Update: update}, nil
}

// Connect negotiates a tunnel with server.
func (e *ProcessEngine) Connect(ctx context.Context, server string, state ClientState, servers ServersState) (ConnectResult, error) {
	var resp connectResponse
	req := connectRequest{Server: server, ClientState: string(state), ServersState: string(servers)}
	if err := e.call(ctx, OpConnect, req, &resp); err != nil {
		return nil, err
	}
	return resp.result()
}

func (r authResponse) result() (AuthResult, error) {
	switch {
	case r.HasError && r.SubscriptionRequired:
		return nil, fmt.Errorf("%w: auth response has both error and subscription flags", common.ErrParse)
	case r.HasError:
		return AuthFailed{Reason: r.Error}, nil
	case r.SubscriptionRequired:
		return SubscriptionRequired{}, nil
	case r.ClientState == "":
		return nil, fmt.Errorf("%w: auth response has no client state", common.ErrParse)
	default:
		return Authenticated{ClientState: ClientState(r.ClientState)}, nil
	}
}

func (r serversStateResponse) update() (ServersUpdate, error) {
	if !r.HasUpdate {
		return ServersUpdate{}, nil
	}
	if r.ServersState == "" {
		return ServersUpdate{}, fmt.Errorf("%w: servers update without servers state", common.ErrParse)
	}
	return UpdatedServers(ServersState(r.ServersState)), nil
}

func (r connectResponse) result() (ConnectResult, error) {
	flags := 0
	for _, set := range []bool{r.HasError, r.AuthRequired, r.SubscriptionRequired} {
		if set {
			flags++
		}
	}
	if flags > 1 {
		return nil, fmt.Errorf("%w: connect response has conflicting status flags", common.ErrParse)
	}

	switch {
	case r.HasError:
		return ConnectFailed{Reason: r.Error}, nil
	case r.AuthRequired:
		return AuthRequired{}, nil
	case r.SubscriptionRequired:
		return SubscriptionRequired{}, nil
	}

	if r.ClientState == "" {
		return nil, fmt.Errorf("%w: connect response has no client state", common.ErrParse)
	}
	raw := bytes.TrimSpace(r.VpnConnection)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, fmt.Errorf("%w: connect response has no vpn connection", common.ErrParse)
	}
	// Some engines emit the descriptor as a JSON encoded string.
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("%w: vpn connection: %v", common.ErrParse, err)
		}
		raw = []byte(inner)
	}
	conn, err := ParseVpnConnection(raw)
	if err != nil {
		return nil, err
	}
	update, err := r.ServersState.update()
	if err != nil {
		return nil, err
	}
	return Connected{Connection: conn, ClientState: ClientState(r.ClientState), Servers: update}, nil
}

func (e *ProcessEngine) call(ctx context.Context, op string, req, resp interface{}) error {
	if e.Command == "" {
		return fmt.Errorf("%w: no engine command configured", common.ErrEngine)
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = common.EngineTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	input := []byte("{}")
	if req != nil {
		var err error
		if input, err = json.Marshal(req); err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
	}

	args := append(append([]string{}, e.Args...), op)
	cmd := exec.CommandContext(ctx, e.Command, args...)
	cmd.Env = append(os.Environ(), e.Env...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	e.logStderr(op, &stderr)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return fmt.Errorf("%w: %s: %w", common.ErrEngine, op, common.ErrTimeout)
			}
			return ctxErr
		}
		return fmt.Errorf("%w: %s: %v", common.ErrEngine, op, err)
	}
	e.logger().Debug("Engine %s finished in %v", op, time.Since(start).Round(time.Millisecond))

	if err := json.Unmarshal(stdout.Bytes(), resp); err != nil {
		return fmt.Errorf("%w: %s response: %v", common.ErrParse, op, err)
	}
	return nil
}

func (e *ProcessEngine) logStderr(op string, stderr *bytes.Buffer) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			e.logger().Debug("Engine %s: %s", op, line)
		}
	}
}

func (e *ProcessEngine) logger() common.Logger {
	if e.Logger == nil {
		return common.NopLogger{}
	}
	return e.Logger
}
