package mcpmgr

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable is returned by Backend operations when the handle
	// is not Connected.
	ErrBackendUnavailable = errors.New("mcpmgr: backend unavailable")
	// ErrChannelClosed records that a backend's channel ended without an
	// explicit Close.
	ErrChannelClosed = errors.New("mcpmgr: channel closed unexpectedly")
)

// BackendConnectError is recorded on a Failed handle whose connect attempt did
// not succeed. It is never returned as a fatal error.
type BackendConnectError struct {
	ID  string
	Err error
}

func (e *BackendConnectError) Error() string {
	return fmt.Sprintf("mcpmgr: connecting %q: %v", e.ID, e.Err)
}

func (e *BackendConnectError) Unwrap() error { return e.Err }

// BackendProtocolError carries a JSON-RPC error returned by a backend. Message
// is the backend's text, unmodified.
type BackendProtocolError struct {
	ID      string
	Code    int64
	Message string
	Err     error
}

func (e *BackendProtocolError) Error() string { return e.Message }

func (e *BackendProtocolError) Unwrap() error { return e.Err }
