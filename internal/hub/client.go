package hub

import "github.com/streamspace/streamspace/api/internal/socketpair"

// ClientConn is one attached client WebSocket, tracked by the Hub. It
// implements router.ClientSink.
type ClientConn struct {
	id            string
	pair          *socketpair.SocketPair
	authenticated bool
}

// NewClientConn wraps pair as a not-yet-authenticated client connection
// identified by id. Callers (the Gateway) create one per accepted WS
// upgrade and pass it to Hub.AttachClient.
func NewClientConn(id string, pair *socketpair.SocketPair) *ClientConn {
	return &ClientConn{id: id, pair: pair}
}

// ID returns the connection's unique identifier (not a user identity — a
// single user may have many ClientConns attached at once).
func (c *ClientConn) ID() string { return c.id }

// Authenticated reports whether this client has completed the auth
// handshake.
func (c *ClientConn) Authenticated() bool { return c.authenticated }
