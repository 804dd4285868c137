// Package engine defines the boundary to the anonymous-credential engine.
//
// The engine performs the actual cryptography and network exchanges; this
// package only describes the calls the client makes and the outcomes it
// can observe. State blobs are opaque strings that are persisted and handed
// back unmodified.
package engine

import "context"

// ClientState is the serialized state the engine needs to authenticate,
// refresh and connect.
type ClientState string

// ServersState is the serialized knowledge of available VPN servers.
type ServersState string

// StateFactory creates empty state blobs for first-run bootstrap.
type StateFactory interface {
	NewClientState(ctx context.Context) (ClientState, error)
	NewServersState(ctx context.Context) (ServersState, error)
}

// Engine is the full credential engine capability.
//
// A non-nil error means the call itself could not be carried out or its
// output could not be understood (ErrParse). Outcomes the engine reports,
// such as a rejected login or a failed tunnel negotiation, are returned as
// result variants with a nil error.
type Engine interface {
	StateFactory

	// Authenticate logs in with user credentials.
	Authenticate(ctx context.Context, username, password string, state ClientState) (AuthResult, error)
	// Refresh renews the credential using only the stored state.
	Refresh(ctx context.Context, state ClientState) (AuthResult, error)
	// GetServers lists server identifiers, possibly updating the servers state.
	GetServers(ctx context.Context, servers ServersState) (ServersResult, error)
	// Connect negotiates a tunnel with the named server.
	Connect(ctx context.Context, server string, state ClientState, servers ServersState) (ConnectResult, error)
}
