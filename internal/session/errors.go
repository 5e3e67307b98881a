package session

import "errors"

var (
	// ErrDuplicateRoute is returned when a dynamic feature would take a
	// (request type, channel, target) key another feature holds.
	ErrDuplicateRoute = errors.New("session: route already registered")

	// ErrClosed is returned by a Transport whose peer has gone.
	ErrClosed = errors.New("session: transport closed")
)
