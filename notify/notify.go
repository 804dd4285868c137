// Package notify sends desktop notifications for connection events over
// the freedesktop D-Bus notification service.
package notify

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"

	"github.com/yllada/anonvpn/common"
)

const (
	busName    = "org.freedesktop.Notifications"
	objectPath = "/org/freedesktop/Notifications"
	notifyCall = busName + ".Notify"
)

// Type selects the icon and urgency of a notification.
type Type int

const (
	TypeInfo Type = iota
	TypeSuccess
	TypeWarning
	TypeError
)

// Urgency hint values understood by notification daemons.
const (
	urgencyLow      byte = 0
	urgencyNormal   byte = 1
	urgencyCritical byte = 2
)

func (t Type) icon() string {
	switch t {
	case TypeSuccess:
		return "network-vpn"
	case TypeWarning:
		return "dialog-warning"
	case TypeError:
		return "network-vpn-error"
	default:
		return "network-vpn"
	}
}

func (t Type) urgency() byte {
	switch t {
	case TypeError:
		return urgencyCritical
	case TypeWarning:
		return urgencyNormal
	default:
		return urgencyLow
	}
}

// Caller is the subset of a D-Bus object used to deliver notifications.
type Caller interface {
	Call(method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Notifier posts notifications on the session bus. Failures are logged and
// never interrupt the caller.
type Notifier struct {
	mu      sync.Mutex
	obj     Caller
	enabled bool
	log     common.Logger
	// replaces keeps one notification on screen per title.
	replaces map[string]uint32
}

var _ common.Notifier = (*Notifier)(nil)

// New connects to the session bus. When the bus is unavailable the
// returned notifier only logs.
func New(enabled bool, log common.Logger) *Notifier {
	if log == nil {
		log = common.NopLogger{}
	}
	n := &Notifier{enabled: enabled, log: log, replaces: make(map[string]uint32)}
	if !enabled {
		return n
	}
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		log.Debug("Desktop notifications unavailable: %v", err)
		return n
	}
	n.obj = conn.Object(busName, dbus.ObjectPath(objectPath))
	return n
}

// NewWithCaller creates a notifier that delivers through obj.
func NewWithCaller(obj Caller, log common.Logger) *Notifier {
	if log == nil {
		log = common.NopLogger{}
	}
	return &Notifier{obj: obj, enabled: true, log: log, replaces: make(map[string]uint32)}
}

// Notify implements common.Notifier with an informational notification.
func (n *Notifier) Notify(title, message string) error {
	return n.Send(TypeInfo, title, message)
}

// Send posts a notification of the given type.
func (n *Notifier) Send(t Type, title, message string) error {
	if !n.enabled || n.obj == nil {
		n.log.Debug("Notification: %s: %s", title, message)
		return nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	hints := map[string]dbus.Variant{
		"urgency": dbus.MakeVariant(t.urgency()),
	}
	call := n.obj.Call(notifyCall, 0,
		common.AppName, n.replaces[title], t.icon(), title, message,
		[]string{}, hints, int32(-1))
	if call.Err != nil {
		n.log.Warn("Error showing notification: %v", call.Err)
		return fmt.Errorf("notify: %w", call.Err)
	}
	var id uint32
	if err := call.Store(&id); err == nil {
		n.replaces[title] = id
	}
	return nil
}

// Connected announces a new tunnel.
func (n *Notifier) Connected(server string) error {
	return n.Send(TypeSuccess, "VPN Connected", "Connected to "+server)
}

// Disconnected announces that the tunnel was removed.
func (n *Notifier) Disconnected(server string) error {
	return n.Send(TypeInfo, "VPN Disconnected", "Disconnected from "+server)
}

// Refreshed announces a credential rotation.
func (n *Notifier) Refreshed(server string) error {
	return n.Send(TypeInfo, "VPN Refreshed", "New credential for "+server)
}

// Error reports a failure.
func (n *Notifier) Error(server, msg string) error {
	return n.Send(TypeError, "Connection Error", server+": "+msg)
}
