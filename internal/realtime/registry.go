package realtime

import "errors"

var (
	// ErrConnectionClosed is returned when delivering to a handle that has gone away.
	ErrConnectionClosed = errors.New("realtime: connection closed")
	// ErrBackpressure is returned when a client cannot keep up; the connection is dropped.
	ErrBackpressure = errors.New("realtime: client buffer full")
	// ErrNotSubscribed is returned when the handle did not subscribe to the message stream.
	ErrNotSubscribed = errors.New("realtime: stream not subscribed")
)

// Registry tracks live connections per user. Snapshots returned by HandlesFor
// and ConnectedUserIDs are copies and remain valid after the registry changes.
type Registry interface {
	Register(userID string, conn *Connection)
	Unregister(conn *Connection)
	HandlesFor(userID string) []*Connection
	ConnectedUserIDs() []string
	Deliver(conn *Connection, msg Message) error
}

var _ Registry = (*Hub)(nil)
