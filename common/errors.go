package common

import (
	"errors"
	"fmt"
)

// Sentinel errors for client operations.
// These can be checked with errors.Is() for proper error handling.
var (
	// State errors.
	ErrIO           = errors.New("state i/o error")
	ErrParse        = errors.New("malformed state")
	ErrIllegalState = errors.New("illegal state")

	// Connection errors.
	ErrConnectionFailed = errors.New("connection failed")
	ErrNotConnected     = errors.New("no active connection")
	ErrTimeout          = errors.New("operation timed out")
	ErrClientClosed     = errors.New("client closed")
	ErrEngine           = errors.New("credential engine failure")

	// Authentication outcomes surfaced from connect.
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrSubscriptionRequired   = errors.New("subscription required")

	// Credential errors.
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrCredentialStorage   = errors.New("failed to store credentials")
	ErrEncryption          = errors.New("encryption error")
	ErrDecryption          = errors.New("decryption error")

	// Configuration errors.
	ErrConfigLoad    = errors.New("failed to load configuration")
	ErrConfigSave    = errors.New("failed to save configuration")
	ErrInvalidConfig = errors.New("invalid configuration")

	// Permission errors.
	ErrRootRequired = errors.New("root privileges required")
)

// ConnectionError is returned when every connect attempt failed.
// It carries the last reason reported by the credential engine.
type ConnectionError struct {
	Server   string
	Attempts int
	Reason   string
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connect to %s failed after %d attempts: %s", e.Server, e.Attempts, e.Reason)
}

func (e *ConnectionError) Unwrap() error {
	return ErrConnectionFailed
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return &wrappedError{
		msg: message,
		err: err,
	}
}

type wrappedError struct {
	msg string
	err error
}

func (e *wrappedError) Error() string {
	return e.msg + ": " + e.err.Error()
}

func (e *wrappedError) Unwrap() error {
	return e.err
}
