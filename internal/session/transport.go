package session

import "context"

// Transport carries one client's frames. Recv is only called from the
// session's receive loop; Send may be called from any goroutine but the
// router serialises its calls.
type Transport interface {
	// Recv blocks for the next inbound frame. It returns ErrClosed (or
	// io.EOF) once the client has gone.
	Recv(ctx context.Context) ([]byte, error)

	Send(ctx context.Context, frame []byte) error
	Close() error
}
