package relay

import "errors"

var (
	// ErrConnectionClosed is returned for operations on a connection that has
	// already left the registry. Terminal state; callers treat it as a no-op.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrAlreadyRegistered is returned when a bound connection attempts to
	// register a different user id. A connection keeps its identity for its
	// lifetime; switching identities requires a new connection.
	ErrAlreadyRegistered = errors.New("already registered")
	// ErrNotRegistered is returned when an operation requiring a bound
	// identity is attempted before registration.
	ErrNotRegistered = errors.New("not registered")
)
