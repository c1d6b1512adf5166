package hub

import (
	"context"

	"github.com/streamspace/streamspace/api/internal/models"
)

// Status is a snapshot of a Hub's live connection state, returned to the
// Gateway for the status RPC.
type Status struct {
	UserID          string `json:"userId"`
	PluginConnected bool   `json:"pluginConnected"`
	ClientCount     int    `json:"clientCount"`
	DefaultModel    string `json:"defaultModel,omitempty"`
}

type statusQueryEvent struct {
	reply chan Status
}

type sendFrameEvent struct {
	raw   []byte
	reply chan error
}

// Status returns a snapshot of this Hub's current connection state.
func (h *Hub) Status(ctx context.Context) (Status, error) {
	reply := make(chan Status, 1)
	if err := h.Post(statusQueryEvent{reply: reply}); err != nil {
		return Status{}, err
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// SendToPlugin forwards a pre-encoded frame to the plugin connection, if one
// is attached. Used by the Gateway's send RPC to inject frames on a user's
// behalf (e.g. server-initiated commands) outside the normal client path.
func (h *Hub) SendToPlugin(ctx context.Context, raw []byte) error {
	reply := make(chan error, 1)
	if err := h.Post(sendFrameEvent{raw: raw, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// History returns persisted messages for sessionKey (or its thread key, if
// threadID is set), with reply counts for base-session queries. This reads
// straight from the Store rather than routing through the single-writer
// executor: it is not a mutation of any Hub-owned state.
func (h *Hub) History(ctx context.Context, sessionKey, threadID string, limit int) ([]models.Message, map[string]int, error) {
	key := sessionKey
	if threadID != "" {
		key = models.ThreadKey(sessionKey, threadID)
	}
	return h.store.ListMessages(ctx, key, limit)
}

func (h *Hub) onStatusQuery(reply chan Status) {
	reply <- Status{
		UserID:          h.userID,
		PluginConnected: h.plugin != nil,
		ClientCount:     len(h.clients),
		DefaultModel:    h.defaultModel,
	}
}

func (h *Hub) onSendFrame(raw []byte, reply chan error) {
	if h.plugin == nil {
		reply <- ProtocolError("no plugin connected")
		return
	}
	reply <- h.plugin.Send(raw)
}
