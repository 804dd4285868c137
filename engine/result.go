package engine

// AuthResult is the outcome of Authenticate or Refresh. It is one of
// Authenticated, SubscriptionRequired or AuthFailed.
type AuthResult interface {
	isAuthResult()
}

// ConnectResult is the outcome of Connect. It is one of Connected,
// AuthRequired, SubscriptionRequired or ConnectFailed.
type ConnectResult interface {
	isConnectResult()
}

// Authenticated carries the updated client state.
type Authenticated struct {
	ClientState ClientState
}

// SubscriptionRequired means the account has no active subscription.
type SubscriptionRequired struct{}

// AuthFailed means the engine rejected the login or refresh.
type AuthFailed struct {
	Reason string
}

// Connected carries the negotiated tunnel and the state that produced it.
type Connected struct {
	Connection  VpnConnection
	ClientState ClientState
	Servers     ServersUpdate
}

// AuthRequired means the client state holds no usable credential.
type AuthRequired struct{}

// ConnectFailed is a transient negotiation failure.
type ConnectFailed struct {
	Reason string
}

func (Authenticated) isAuthResult()        {}
func (SubscriptionRequired) isAuthResult() {}
func (AuthFailed) isAuthResult()           {}

func (Connected) isConnectResult()            {}
func (AuthRequired) isConnectResult()         {}
func (SubscriptionRequired) isConnectResult() {}
func (ConnectFailed) isConnectResult()        {}

// ServersUpdate optionally carries a replacement servers state.
// The zero value means no update.
type ServersUpdate struct {
	state   ServersState
	updated bool
}

// UpdatedServers returns an update holding s.
func UpdatedServers(s ServersState) ServersUpdate {
	return ServersUpdate{state: s, updated: true}
}

// State returns the new servers state and whether there is one.
func (u ServersUpdate) State() (ServersState, bool) {
	return u.state, u.updated
}

// ServersResult is the outcome of GetServers.
type ServersResult struct {
	Servers []string
	Update  ServersUpdate
}
