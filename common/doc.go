// Package common provides shared constants, types, utilities, and interfaces
// used throughout the anonvpn client.
//
// This package serves as the foundation for cross-cutting concerns:
//
//   - Constants: epoch scheduling defaults, retry policy, file names
//   - Errors: sentinel errors and ConnectionError for consistent handling
//   - Interfaces: abstractions for logging, notifications and credential storage
//   - Logger: logrus-backed logging with file output and rotation
//   - Utils: directory helpers and identifier generation
//
// # Usage
//
//	common.LogInfo("Connecting to %s", server)
//
//	if errors.Is(err, common.ErrAuthenticationRequired) {
//	    // prompt for credentials
//	}
package common
