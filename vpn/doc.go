// Package vpn manages the local WireGuard tunnel for a negotiated connection.
//
// The package covers:
//
//   - Tunnel setup: creating the interface, assigning the client addresses
//     and configuring the peer from an engine.VpnConnection
//   - Refresh: swapping keys and addresses in place when a new credential
//     epoch starts
//   - Routing: sending all traffic through the tunnel unless tunnel-only
//     mode is selected
//   - Monitoring: reporting handshake and transfer statistics and
//     reconnecting when the tunnel stops passing traffic
//
// # Architecture
//
//   - Manager: owns one WireGuard interface and its routing rules
//   - HealthChecker: checks connectivity and triggers reconnects
//   - Runner: executes ip(8) commands, replaceable in tests
//
// Device configuration goes through the kernel WireGuard API (wgctrl); no
// wg or wg-quick binary is needed. The ip commands require root privileges.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package vpn
