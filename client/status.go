package client

// AuthStatus is the outcome of an authenticate or refresh operation.
type AuthStatus int

const (
	// Authenticated means a fresh credential was stored.
	Authenticated AuthStatus = iota
	// SubscriptionRequired means the account has no active subscription.
	SubscriptionRequired
	// AuthenticationRequired means the user must log in again.
	AuthenticationRequired
)

// String returns a human-readable representation of the status.
func (s AuthStatus) String() string {
	switch s {
	case Authenticated:
		return "Authenticated"
	case SubscriptionRequired:
		return "Subscription required"
	case AuthenticationRequired:
		return "Authentication required"
	default:
		return "Unknown"
	}
}
