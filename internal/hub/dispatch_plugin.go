package hub

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/streamspace/streamspace/api/internal/frame"
	"github.com/streamspace/streamspace/api/internal/models"
	"github.com/streamspace/streamspace/api/internal/sanitize"
	"github.com/streamspace/streamspace/api/internal/streamstager"
)

// pluginAdapter implements router.PluginDispatcher over *Hub. Every method
// here runs exclusively on the Hub's executor goroutine (invoked from
// onPluginFrame), so it may touch Hub's unexported state directly without
// locking.
type pluginAdapter Hub

func (h *pluginAdapter) hub() *Hub { return (*Hub)(h) }

func (h *pluginAdapter) ConnectionStatus(f frame.ConnectionStatus) {
	hub := h.hub()
	if f.DefaultModel != "" {
		hub.defaultModel = f.DefaultModel
	}
	if raw, err := frame.Marshal(f); err == nil {
		hub.lastConnectionStatus = raw
		hub.broadcastRaw(raw)
	} else {
		hub.log.Error().Err(err).Msg("failed to marshal connection.status")
	}
}

func (h *pluginAdapter) StreamStart(f frame.AgentStreamStart) {
	hub := h.hub()
	if err := hub.streams.OnStreamStart(f.RunID, f.SessionKey, f.ThreadID); err != nil {
		if _, ok := err.(*streamstager.DuplicateRunError); ok {
			hub.log.Warn().Str("runId", f.RunID).Msg("duplicate stream start for different session/thread, ignoring")
			return
		}
	}
	hub.broadcastToClients(f)
}

func (h *pluginAdapter) StreamChunk(f frame.AgentStreamChunk) {
	hub := h.hub()
	hub.streams.OnStreamChunk(f.RunID, f.Text)
	hub.broadcastToClients(f)
}

func (h *pluginAdapter) StreamEnd(f frame.AgentStreamEnd) {
	hub := h.hub()
	if _, ok := hub.streams.Get(f.RunID); !ok {
		// Already cleared (by agent.text, a timeout or a disconnect): a late
		// stream.end is a silent no-op and is not fanned out.
		return
	}
	hub.streams.OnStreamEnd(f.RunID)
	hub.broadcastToClients(f)
}

func (h *pluginAdapter) AgentText(f frame.AgentText) {
	hub := h.hub()
	hub.streams.OnAgentText(f.RunID, f.SessionKey, f.ThreadID)
	hub.persistAndFanMessage(models.Message{
		ID:         f.MessageID,
		SessionKey: f.SessionKey,
		Sender:     models.SenderAgent,
		Text:       f.Text,
		ThreadID:   f.ThreadID,
		Encrypted:  f.Encrypted,
		Timestamp:  time.Now().UnixMilli(),
	}, f)
}

func (h *pluginAdapter) AgentMedia(f frame.AgentMedia) {
	hub := h.hub()
	msg := models.Message{
		ID:         f.MessageID,
		SessionKey: f.SessionKey,
		Sender:     models.SenderAgent,
		MediaURL:   f.MediaURL,
		Text:       f.Caption,
		Encrypted:  f.Encrypted,
		Timestamp:  time.Now().UnixMilli(),
	}
	hub.persistAndFanMessage(msg, f)
}

func (h *pluginAdapter) AgentA2UI(f frame.AgentA2UI) {
	hub := h.hub()
	msg := models.Message{
		ID:         f.MessageID,
		SessionKey: f.SessionKey,
		Sender:     models.SenderAgent,
		A2UI:       f.JSONL,
		Timestamp:  time.Now().UnixMilli(),
	}
	hub.persistAndFanMessage(msg, f)
}

func (h *pluginAdapter) JobUpdate(f frame.JobUpdate) {
	hub := h.hub()
	status := models.JobStatus(f.Status)
	job := models.Job{
		ID:         f.JobID,
		TaskID:     f.TaskID,
		UserID:     hub.userID,
		SessionKey: f.SessionKey,
		Status:     status,
		StartedAt:  f.StartedAt,
		FinishedAt: f.FinishedAt,
		DurationMs: f.DurationMs,
		Summary:    f.Summary,
	}

	if status.IsTerminal() {
		if !hub.jobs.OnTerminal(job) {
			hub.log.Debug().Str("jobId", f.JobID).Msg("dropping terminal job.update for already-terminal job")
			return
		}
	} else {
		hub.jobs.OnRunning(job)
	}

	if err := hub.store.UpsertJob(context.Background(), job); err != nil {
		hub.log.Error().Err(err).Str("jobId", f.JobID).Msg("failed to persist job update")
	}
	hub.broadcastToClients(f)
}

func (h *pluginAdapter) JobOutput(f frame.JobOutput) {
	hub := h.hub()
	if !hub.jobs.OnOutput(f.JobID, f.Text) {
		hub.log.Debug().Str("jobId", f.JobID).Msg("dropping job.output for unknown or terminal job")
		return
	}
	if err := hub.store.AppendJobOutput(context.Background(), f.JobID, f.Text); err != nil {
		hub.log.Warn().Err(err).Str("jobId", f.JobID).Msg("failed to persist job output")
	}
	hub.broadcastToClients(f)
}

func (h *pluginAdapter) TaskScanResult(f frame.TaskScanResult) {
	h.hub().broadcastToClients(f)
}

func (h *pluginAdapter) ModelChanged(f frame.ModelChanged) {
	hub := h.hub()
	if f.SessionKey == "" {
		hub.defaultModel = f.Model
	}
	hub.broadcastToClients(f)
}

func (h *pluginAdapter) FanOpaque(frameType string, raw []byte) {
	hub := h.hub()
	if frameType == frame.TypeModelsList {
		hub.lastModelsList = raw
	}
	hub.broadcastRaw(raw)
}

func (h *pluginAdapter) PluginError(raw []byte) {
	hub := h.hub()
	hub.log.Warn().Msg("plugin reported an error frame")
	hub.broadcastRaw(raw)
}

// persistAndFanMessage sanitizes non-encrypted text, persists msg, updates
// the session window/reply-count cache, and fans the original wire frame
// (fan, not the sanitized copy rebuilt from msg) to attached clients.
func (h *Hub) persistAndFanMessage(msg models.Message, wire interface{}) {
	if !msg.Encrypted {
		msg.Text = sanitize.Text(msg.Text)
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}

	if err := h.store.AppendMessage(context.Background(), msg); err != nil {
		h.log.Error().Err(err).Str("sessionKey", msg.SessionKey).Msg("failed to persist message")
		return
	}

	storageKey := msg.SessionKey
	if msg.ThreadID != "" {
		storageKey = models.ThreadKey(msg.SessionKey, msg.ThreadID)
	}
	h.sessions.RecordPersisted(msg.SessionKey, storageKey, msg)

	h.broadcastToClients(wire)
}

// errMarkerDisconnected and errMarkerTimeout are appended to the
// accumulated buffer when a stream is abandoned, per spec.md §4.4/§8(S6):
// the synthetic terminal must carry the partial text *plus an error
// marker* so clients can tell a cut-off reply from a genuinely short one.
const (
	errMarkerDisconnected = "\n\n[plugin disconnected before reply finished]"
	errMarkerTimeout      = "\n\n[reply timed out]"
)

// emitSyntheticTerminalsFor turns each abandoned in-flight stream into a
// terminal agent.text built from whatever text had accumulated plus
// errMarker, so clients never wait forever for a reply that will never
// arrive and can distinguish the cutoff from a normal short reply.
func (h *Hub) emitSyntheticTerminalsFor(states []streamstager.State, errMarker string) {
	for _, st := range states {
		f := frame.AgentText{
			Type:       frame.TypeAgentText,
			SessionKey: st.SessionKey,
			Text:       st.Buffer + errMarker,
			MessageID:  uuid.New().String(),
			ThreadID:   st.ThreadID,
			RunID:      st.RunID,
		}
		h.persistAndFanMessage(models.Message{
			ID:         f.MessageID,
			SessionKey: f.SessionKey,
			Sender:     models.SenderAgent,
			Text:       f.Text,
			ThreadID:   f.ThreadID,
			Timestamp:  time.Now().UnixMilli(),
		}, f)
	}
}
