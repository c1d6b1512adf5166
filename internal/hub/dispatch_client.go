package hub

import (
	"time"

	"github.com/streamspace/streamspace/api/internal/frame"
	"github.com/streamspace/streamspace/api/internal/models"
	"github.com/streamspace/streamspace/api/internal/router"
)

// clientAdapter implements router.ClientDispatcher over *Hub. Like
// pluginAdapter, every method here runs exclusively on the Hub's executor
// goroutine (invoked from onClientFrame).
type clientAdapter Hub

func (h *clientAdapter) hub() *Hub { return (*Hub)(h) }

// conn resolves the router.ClientSink handed back by the router to the
// *ClientConn actually tracked by the Hub. The router only ever calls back
// with sinks obtained from onClientFrame's own *ClientConn, so this always
// succeeds unless the client detached in the same mailbox tick (in which
// case the event is simply stale and dropped).
func (h *clientAdapter) conn(sink router.ClientSink) (*ClientConn, bool) {
	c, ok := h.clients[sink.ID()]
	return c, ok
}

// Auth validates the bearer token carried by a client's first frame and, on
// success, runs the attach protocol: auth.ok, then connection.status, then
// models.list, then replay of any in-flight streams — in that order, as the
// first frames the client ever sees.
func (h *clientAdapter) Auth(sink router.ClientSink, token string) {
	hub := h.hub()
	c, ok := h.conn(sink)
	if !ok {
		return
	}
	if c.authenticated {
		// auth is only meaningful as the first frame; ignore repeats.
		return
	}

	if hub.auth == nil {
		hub.log.Error().Msg("no token validator configured, rejecting client auth")
		_ = c.pair.Close(frame.CloseAuthFailure, "auth unavailable")
		return
	}

	claims, err := hub.auth.ValidateToken(token)
	if err != nil || claims.UserID != hub.userID {
		hub.log.Warn().Err(err).Str("clientId", c.id).Msg("client auth rejected")
		_ = c.pair.Close(frame.CloseAuthFailure, "invalid token")
		return
	}

	c.authenticated = true
	hub.sendAuthSequence(c)
}

// sendAuthSequence sends the guaranteed first-four-frames sequence to a
// newly authenticated client: auth.ok, the last known connection.status,
// the last known models.list, then a replay of whatever streams are
// currently in flight so the client doesn't wait forever for a reply it
// missed the start of.
func (h *Hub) sendAuthSequence(c *ClientConn) {
	ok := frame.AuthOk{
		Type:        frame.TypeAuthOk,
		UserID:      h.userID,
		ConnectedAt: time.Now().UnixMilli(),
	}
	if err := c.pair.SendFrame(ok); err != nil {
		h.log.Debug().Err(err).Str("clientId", c.id).Msg("failed to send auth.ok")
		return
	}

	if h.lastConnectionStatus != nil {
		if err := c.pair.Send(h.lastConnectionStatus); err != nil {
			h.log.Debug().Err(err).Str("clientId", c.id).Msg("failed to send connection.status")
			return
		}
	}
	if h.lastModelsList != nil {
		if err := c.pair.Send(h.lastModelsList); err != nil {
			h.log.Debug().Err(err).Str("clientId", c.id).Msg("failed to send models.list")
			return
		}
	}

	for _, st := range h.streams.All() {
		replay := frame.AgentStreamChunk{
			Type:       frame.TypeAgentStreamChunk,
			RunID:      st.RunID,
			SessionKey: st.SessionKey,
			Text:       st.Buffer,
		}
		if err := c.pair.SendFrame(replay); err != nil {
			h.log.Debug().Err(err).Str("clientId", c.id).Msg("failed to replay in-flight stream")
			return
		}
	}
}

// UserMessage persists the user's chat message and forwards it to the
// plugin so the agent sees it. With no plugin attached, the sender first
// gets a plugin_disconnected error frame; the message is still persisted
// and fanned to clients.
func (h *clientAdapter) UserMessage(sink router.ClientSink, f frame.UserMessage) {
	hub := h.hub()
	c, ok := h.conn(sink)
	if !ok {
		return
	}

	if f.Model != "" {
		hub.defaultModel = f.Model
	}

	msg := models.Message{
		ID:         f.MessageID,
		SessionKey: f.SessionKey,
		Sender:     models.SenderUser,
		Text:       f.Text,
		MediaURL:   f.MediaURL,
		Encrypted:  f.Encrypted,
		Timestamp:  time.Now().UnixMilli(),
	}
	if hub.plugin == nil {
		_ = c.pair.SendFrame(frame.NewError("plugin not connected", "plugin_disconnected"))
		hub.persistAndFanMessage(msg, f)
		return
	}
	hub.persistAndFanMessage(msg, f)

	if err := hub.plugin.SendFrame(f); err != nil {
		hub.log.Warn().Err(err).Msg("failed to forward user.message to plugin")
		_ = c.pair.SendFrame(frame.NewError("plugin not connected", "plugin_disconnected"))
	}
}

// Stop forwards a /stop frame to the plugin verbatim.
func (h *clientAdapter) Stop(sink router.ClientSink, raw []byte) {
	hub := h.hub()
	c, ok := h.conn(sink)
	if !ok {
		return
	}
	if hub.plugin == nil {
		_ = c.pair.SendFrame(frame.NewError("plugin not connected", "plugin_disconnected"))
		return
	}
	if err := hub.plugin.Send(raw); err != nil {
		hub.log.Warn().Err(err).Msg("failed to forward /stop to plugin")
		_ = c.pair.SendFrame(frame.NewError("plugin not connected", "plugin_disconnected"))
	}
}

// SettingsDefaultModel forwards a client's default-model change to the
// plugin, which is the authority on what the default actually becomes (the
// plugin echoes it back as model.changed, handled in dispatch_plugin.go).
func (h *clientAdapter) SettingsDefaultModel(sink router.ClientSink, f frame.SettingsDefaultModel) {
	hub := h.hub()
	c, ok := h.conn(sink)
	if !ok {
		return
	}
	if hub.plugin == nil {
		_ = c.pair.SendFrame(frame.NewError("plugin not connected", "plugin_disconnected"))
		return
	}
	if err := hub.plugin.SendFrame(f); err != nil {
		hub.log.Warn().Err(err).Msg("failed to forward settings.defaultModel to plugin")
		_ = c.pair.SendFrame(frame.NewError("plugin not connected", "plugin_disconnected"))
	}
}

// Reject tells a client its frame could not be understood.
func (h *clientAdapter) Reject(sink router.ClientSink, message string) {
	c, ok := h.conn(sink)
	if !ok {
		return
	}
	_ = c.pair.SendFrame(frame.NewError(message, ""))
}
