package common

import "time"

// Application metadata.
const (
	// AppName is the display name of the application.
	AppName = "AnonVPN"
	// ConfigDirName is the name of the configuration directory.
	ConfigDirName = "anonvpn"
)

// File names used by the application.
const (
	ConfigFileName       = "config.yaml"
	ClientStateFileName  = "client_state.json"
	ServersStateFileName = "servers.json"
	StateDBFileName      = "state.db"
	CredentialsFileName  = ".credentials"
	LogFileName          = "anonvpn.log"
	EnvFileName          = ".env"
)

// Environment variables that override the configuration file.
const (
	EnvStateDir = "ANONVPN_STATE_DIR"
	EnvEngine   = "ANONVPN_ENGINE"
	EnvStore    = "ANONVPN_STORE"
	EnvLogLevel = "ANONVPN_LOG_LEVEL"
)

// Epoch scheduling defaults, in seconds.
const (
	// EpochLength is the credential validity period.
	EpochLength int64 = 3600
	// EpochBuffer is the window before each epoch boundary in which the
	// credential for the next epoch is obtained.
	EpochBuffer int64 = 300
	// TimeSyncTolerance is absorbed at both ends of the refresh window.
	TimeSyncTolerance int64 = 10
)

// Default timeouts and intervals.
const (
	// ConnectMaxRetries is the number of connect attempts after the first one.
	ConnectMaxRetries = 5
	// ConnectRetryDelay is the fixed pause between connect attempts.
	ConnectRetryDelay = 1 * time.Second
	// EngineTimeout bounds a single credential engine invocation.
	EngineTimeout = 2 * time.Minute
	// TunnelCommandTimeout bounds ip(8) invocations.
	TunnelCommandTimeout = 30 * time.Second
	// ReconnectDelay is the delay before attempting to reconnect.
	ReconnectDelay = 5 * time.Second
)

// Tunnel defaults.
const (
	DefaultInterface = "avpn0"
	// FullTunnelAllowedIPs routes all traffic through the tunnel.
	FullTunnelAllowedIPs = "0.0.0.0/0, ::/0"
	PersistentKeepalive  = 25
)

// Store backends.
const (
	StoreBackendFile   = "file"
	StoreBackendSQLite = "sqlite"
)
