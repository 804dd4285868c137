package client

import (
	"context"
	"fmt"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"

	"github.com/yllada/anonvpn/common"
	"github.com/yllada/anonvpn/engine"
)

type credentials struct {
	username string
	password string
}

// authenticate runs a credentialed login when creds is set and a refresh
// otherwise.
func (c *Client) authenticate(ctx context.Context, log *taskLogger, creds *credentials) (AuthStatus, error) {
	state, err := c.store.LoadClientState(ctx)
	if err != nil {
		return 0, fmt.Errorf("load client state: %w", err)
	}

	var result engine.AuthResult
	if creds != nil {
		result, err = c.engine.Authenticate(ctx, creds.username, creds.password, state)
	} else {
		result, err = c.engine.Refresh(ctx, state)
	}
	if err != nil {
		return 0, err
	}

	switch r := result.(type) {
	case engine.Authenticated:
		if err := c.store.SaveClientState(ctx, r.ClientState); err != nil {
			return 0, fmt.Errorf("save client state: %w", err)
		}
		log.Info("credential renewed")
		return Authenticated, nil
	case engine.SubscriptionRequired:
		log.Info("subscription required")
		return SubscriptionRequired, nil
	case engine.AuthFailed:
		log.Debug("engine rejected credential: %s", r.Reason)
		return AuthenticationRequired, nil
	default:
		return 0, fmt.Errorf("%w: unexpected auth result %T", common.ErrIllegalState, result)
	}
}

func (c *Client) getServers(ctx context.Context, log *taskLogger) ([]string, error) {
	state, err := c.store.LoadServersState(ctx)
	if err != nil {
		return nil, fmt.Errorf("load servers state: %w", err)
	}

	result, err := c.engine.GetServers(ctx, state)
	if err != nil {
		return nil, err
	}
	if updated, ok := result.Update.State(); ok {
		if err := c.store.SaveServersState(ctx, updated); err != nil {
			return nil, fmt.Errorf("save servers state: %w", err)
		}
		log.Debug("servers state updated")
	}

	servers := result.Servers
	if servers == nil {
		servers = []string{}
	}
	return servers, nil
}

func (c *Client) connect(ctx context.Context, log *taskLogger, server string) (engine.VpnConnection, error) {
	clientState, err := c.store.LoadClientState(ctx)
	if err != nil {
		return engine.VpnConnection{}, fmt.Errorf("load client state: %w", err)
	}
	serversState, err := c.store.LoadServersState(ctx)
	if err != nil {
		return engine.VpnConnection{}, fmt.Errorf("load servers state: %w", err)
	}

	attempts := 0
	var last engine.ConnectResult
	policy := retrypolicy.NewBuilder[engine.ConnectResult]().
		HandleIf(func(r engine.ConnectResult, err error) bool {
			_, failed := r.(engine.ConnectFailed)
			return err == nil && failed
		}).
		WithMaxRetries(c.maxRetries).
		WithDelay(c.retryDelay).
		OnRetry(func(failsafe.ExecutionEvent[engine.ConnectResult]) {
			log.Info("retrying connect to %s (attempt %d of %d)", server, attempts+1, c.maxRetries+1)
		}).
		Build()

	_, err = failsafe.With[engine.ConnectResult](policy).WithContext(ctx).Get(func() (engine.ConnectResult, error) {
		attempts++
		c.metrics.connectAttempts.Inc()
		r, err := c.engine.Connect(ctx, server, clientState, serversState)
		last = nil
		if err == nil {
			last = r
			if f, ok := r.(engine.ConnectFailed); ok {
				log.Warn("connect attempt %d to %s failed: %s", attempts, server, f.Reason)
			}
		}
		return r, err
	})
	if ctxErr := ctx.Err(); ctxErr != nil {
		return engine.VpnConnection{}, ctxErr
	}
	if last == nil {
		// The engine call itself failed; such errors are not retried.
		if err == nil {
			err = fmt.Errorf("%w: engine returned no connect result", common.ErrIllegalState)
		}
		return engine.VpnConnection{}, err
	}

	switch r := last.(type) {
	case engine.Connected:
		if err := c.store.SaveClientState(ctx, r.ClientState); err != nil {
			return engine.VpnConnection{}, fmt.Errorf("save client state: %w", err)
		}
		if updated, ok := r.Servers.State(); ok {
			if err := c.store.SaveServersState(ctx, updated); err != nil {
				return engine.VpnConnection{}, fmt.Errorf("save servers state: %w", err)
			}
		}
		log.Info("connected to %s after %d attempt(s)", server, attempts)
		return r.Connection, nil
	case engine.ConnectFailed:
		return engine.VpnConnection{}, &common.ConnectionError{Server: server, Attempts: attempts, Reason: r.Reason}
	case engine.AuthRequired:
		return engine.VpnConnection{}, common.ErrAuthenticationRequired
	case engine.SubscriptionRequired:
		return engine.VpnConnection{}, common.ErrSubscriptionRequired
	default:
		return engine.VpnConnection{}, fmt.Errorf("%w: unexpected connect result %T", common.ErrIllegalState, last)
	}
}
