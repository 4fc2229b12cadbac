package backend

import (
	"errors"
	"fmt"
)

// ConnectErrorKind classifies connect-time failures.
type ConnectErrorKind string

const (
	ConnectAuthFailed         ConnectErrorKind = "auth_failed"
	ConnectNetworkUnreachable ConnectErrorKind = "network_unreachable"
	ConnectTimeout            ConnectErrorKind = "timeout"
)

// ConnectError reports why a backend connection could not be established.
type ConnectError struct {
	Kind ConnectErrorKind
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("backend connect %s: %v", e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Retryable reports whether another connect attempt can possibly succeed.
// Auth failures cannot: the same credential would be rejected again.
func (e *ConnectError) Retryable() bool {
	return e.Kind != ConnectAuthFailed
}

// ErrConnectionClosed is returned by send operations once the underlying
// transport is gone.
var ErrConnectionClosed = errors.New("backend connection closed")
