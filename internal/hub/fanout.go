package hub

import "github.com/streamspace/streamspace/api/internal/frame"

// broadcastToClients marshals v and sends it to every attached client,
// dropping (not disconnecting) any client whose mailbox is full — a slow
// client must never be allowed to stall fan-out to the rest.
func (h *Hub) broadcastToClients(v interface{}) {
	raw, err := frame.Marshal(v)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to marshal frame for broadcast")
		return
	}
	h.broadcastRaw(raw)
}

func (h *Hub) broadcastRaw(raw []byte) {
	for id, c := range h.clients {
		if !c.Authenticated() {
			// not past the auth handshake yet; fan-out membership starts
			// only after auth.ok, never before.
			continue
		}
		if err := c.pair.Send(raw); err != nil {
			h.log.Debug().Err(err).Str("clientId", id).Msg("dropped broadcast frame")
		}
	}
}
