package hub

import (
	"time"

	"github.com/streamspace/streamspace/api/internal/frame"
	"github.com/streamspace/streamspace/api/internal/router"
	"github.com/streamspace/streamspace/api/internal/socketpair"
)

// onPluginAttach registers pair as the plugin connection, closing any
// existing one with ClosePluginReplaced.
func (h *Hub) onPluginAttach(pair *socketpair.SocketPair) error {
	if h.plugin != nil && h.plugin != pair {
		_ = h.plugin.Close(frame.ClosePluginReplaced, "replaced by new plugin connection")
	}
	h.plugin = pair

	status := frame.ConnectionStatus{
		Type:              frame.TypeConnectionStatus,
		OpenclawConnected: true,
		DefaultModel:      h.defaultModel,
	}
	if raw, err := frame.Marshal(status); err == nil {
		h.lastConnectionStatus = raw
	}
	h.broadcastToClients(status)

	// A brand-new plugin connection means we don't know what it was mid-way
	// through; any in-flight streams from the old one can never complete
	// now. Emit synthetic terminals exactly like a disconnect would.
	h.emitSyntheticTerminalsFor(h.streams.ClearForDisconnect(), errMarkerDisconnected)

	return nil
}

func (h *Hub) onPluginDetach(pair *socketpair.SocketPair, err error) {
	if h.plugin != pair {
		return // already replaced; stale detach notification
	}
	h.plugin = nil

	h.broadcastToClients(frame.OpenclawDisconnected{Type: frame.TypeOpenclawDisconnected})
	h.emitSyntheticTerminalsFor(h.streams.ClearForDisconnect(), errMarkerDisconnected)

	if err != nil {
		h.log.Warn().Err(err).Msg("plugin connection closed")
	}
}

// onClientAttach runs the attach protocol for a newly connected client: it
// waits for auth (handled by ClientDispatcher.Auth once the first frame
// arrives), so at registration time the client is simply tracked.
func (h *Hub) onClientAttach(c *ClientConn) error {
	h.clients[c.id] = c
	time.AfterFunc(clientAuthTimeout, func() {
		_ = h.Post(clientAuthTimeoutEvent{client: c})
	})
	return nil
}

// onClientAuthTimeout force-closes a client that never sent a valid auth
// frame within clientAuthTimeout.
func (h *Hub) onClientAuthTimeout(c *ClientConn) {
	existing, ok := h.clients[c.id]
	if !ok || existing != c || c.authenticated {
		return
	}
	delete(h.clients, c.id)
	_ = c.pair.Close(frame.CloseAuthFailure, "auth timeout")
}

func (h *Hub) onClientDetach(c *ClientConn, err error) {
	if existing, ok := h.clients[c.id]; !ok || existing != c {
		return
	}
	delete(h.clients, c.id)
	if err != nil {
		h.log.Debug().Err(err).Str("clientId", c.id).Msg("client connection closed")
	}
}

func (h *Hub) onPluginFrame(raw []byte) {
	if err := router.RoutePluginFrame((*pluginAdapter)(h), raw); err != nil {
		h.log.Warn().Err(err).Msg("rejecting malformed plugin frame")
		if h.plugin != nil {
			_ = h.plugin.SendFrame(frame.NewError(err.Error(), ""))
		}
	}
}

func (h *Hub) onClientFrame(c *ClientConn, raw []byte) {
	err := router.RouteClientFrame((*clientAdapter)(h), c, raw)
	if err == nil {
		return
	}

	switch err {
	case router.ErrNotAuthenticated:
		_ = c.pair.Close(frame.CloseAuthFailure, "auth required")
	case router.ErrOversize:
		_ = c.pair.Close(frame.CloseProtocolError, "frame too large")
	default:
		_ = c.pair.SendFrame(frame.NewError(err.Error(), ""))
	}
}

func (h *Hub) onStreamSweep() {
	h.emitSyntheticTerminalsFor(h.streams.TimedOut(time.Now()), errMarkerTimeout)
}
