package connection

import "errors"

// Sentinel errors for connection operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when a non-override request is made while
	// the connection is not CONNECTED.
	ErrNotConnected = errors.New("connection: not connected")

	// ErrClosed is returned for requests made after the connection has been
	// torn down.
	ErrClosed = errors.New("connection: closed")

	// ErrAlreadyStarted is returned by Connect on a connection whose worker
	// is already running.
	ErrAlreadyStarted = errors.New("connection: already started")

	// ErrUnknownAction is returned when no handler exists for a request.
	ErrUnknownAction = errors.New("connection: unknown action")

	// ErrUnknownFactory is returned when a target asks for a connection
	// type nobody registered.
	ErrUnknownFactory = errors.New("connection: unknown connection type")

	// ErrUnexpectedResult is returned when a driver answers an action with
	// a value of the wrong type.
	ErrUnexpectedResult = errors.New("connection: unexpected result type")
)
