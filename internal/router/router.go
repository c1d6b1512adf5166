// Package router classifies each inbound frame by "type" and dispatches it
// to the typed callback a Hub provides. It owns the protocol-level rules
// that apply before any business effect runs: oversize rejection,
// unknown-type rejection, and the client pre-auth gate ("Client frames
// before auth.ok other than auth are rejected with a 4001 close").
//
// Business effects (persistence, fan-out, state transitions) are NOT this
// package's concern — they live on the Hub, which implements the
// PluginDispatcher/ClientDispatcher interfaces below.
package router

import (
	"encoding/json"
	"fmt"

	"github.com/streamspace/streamspace/api/internal/frame"
)

// ClientSink is the minimal view of a client connection the router needs:
// an identity for logging and whether it has completed the auth handshake.
type ClientSink interface {
	ID() string
	Authenticated() bool
}

// PluginDispatcher receives the business effect for each plugin-origin
// frame type.
type PluginDispatcher interface {
	ConnectionStatus(frame.ConnectionStatus)
	StreamStart(frame.AgentStreamStart)
	StreamChunk(frame.AgentStreamChunk)
	StreamEnd(frame.AgentStreamEnd)
	AgentText(frame.AgentText)
	AgentMedia(frame.AgentMedia)
	AgentA2UI(frame.AgentA2UI)
	JobUpdate(frame.JobUpdate)
	JobOutput(frame.JobOutput)
	TaskScanResult(frame.TaskScanResult)
	ModelChanged(frame.ModelChanged)
	FanOpaque(frameType string, raw []byte) // task.schedule.ack, models.list, status
	PluginError(raw []byte)                 // error: log + fan as-is
}

// ClientDispatcher receives the business effect for each client-origin
// frame type.
type ClientDispatcher interface {
	Auth(client ClientSink, token string)
	UserMessage(client ClientSink, msg frame.UserMessage)
	Stop(client ClientSink, raw []byte)
	SettingsDefaultModel(client ClientSink, f frame.SettingsDefaultModel)
	Reject(client ClientSink, message string)
}

// ErrOversize is returned when a frame exceeds frame.MaxSize; the caller
// must reject without attempting to parse it.
var ErrOversize = fmt.Errorf("frame exceeds %d bytes", frame.MaxSize)

// RoutePluginFrame classifies and dispatches one frame received from the
// plugin connection.
func RoutePluginFrame(d PluginDispatcher, raw []byte) error {
	if len(raw) > frame.MaxSize {
		return ErrOversize
	}

	env, err := frame.Peek(raw)
	if err != nil {
		return fmt.Errorf("malformed frame: %w", err)
	}

	switch env.Type {
	case frame.TypeConnectionStatus:
		var f frame.ConnectionStatus
		if err := json.Unmarshal(raw, &f); err != nil {
			return err
		}
		d.ConnectionStatus(f)

	case frame.TypeAgentStreamStart:
		var f frame.AgentStreamStart
		if err := json.Unmarshal(raw, &f); err != nil {
			return err
		}
		d.StreamStart(f)

	case frame.TypeAgentStreamChunk:
		var f frame.AgentStreamChunk
		if err := json.Unmarshal(raw, &f); err != nil {
			return err
		}
		d.StreamChunk(f)

	case frame.TypeAgentStreamEnd:
		var f frame.AgentStreamEnd
		if err := json.Unmarshal(raw, &f); err != nil {
			return err
		}
		d.StreamEnd(f)

	case frame.TypeAgentText:
		var f frame.AgentText
		if err := json.Unmarshal(raw, &f); err != nil {
			return err
		}
		d.AgentText(f)

	case frame.TypeAgentMedia:
		var f frame.AgentMedia
		if err := json.Unmarshal(raw, &f); err != nil {
			return err
		}
		d.AgentMedia(f)

	case frame.TypeAgentA2UI:
		var f frame.AgentA2UI
		if err := json.Unmarshal(raw, &f); err != nil {
			return err
		}
		d.AgentA2UI(f)

	case frame.TypeJobUpdate:
		var f frame.JobUpdate
		if err := json.Unmarshal(raw, &f); err != nil {
			return err
		}
		d.JobUpdate(f)

	case frame.TypeJobOutput:
		var f frame.JobOutput
		if err := json.Unmarshal(raw, &f); err != nil {
			return err
		}
		d.JobOutput(f)

	case frame.TypeTaskScanResult:
		var f frame.TaskScanResult
		if err := json.Unmarshal(raw, &f); err != nil {
			return err
		}
		d.TaskScanResult(f)

	case frame.TypeModelChanged:
		var f frame.ModelChanged
		if err := json.Unmarshal(raw, &f); err != nil {
			return err
		}
		d.ModelChanged(f)

	case frame.TypeSettingsDefaultModel:
		// The plugin echoes this with no sessionKey: it is a global
		// default-model update, not a per-session one.
		var f frame.SettingsDefaultModel
		if err := json.Unmarshal(raw, &f); err != nil {
			return err
		}
		d.ModelChanged(frame.ModelChanged{Type: env.Type, Model: f.DefaultModel})

	case frame.TypeTaskScheduleAck, frame.TypeModelsList, frame.TypeStatus:
		d.FanOpaque(env.Type, raw)

	case frame.TypeError:
		d.PluginError(raw)

	default:
		// Unknown plugin frame types are forwarded opaquely rather than
		// dropped: the plugin is a separately-versioned component and a
		// new frame type it emits should degrade to opaque fan-out, not
		// silent loss.
		d.FanOpaque(env.Type, raw)
	}

	return nil
}

// RouteClientFrame classifies and dispatches one frame received from a
// client connection. Frames other than "auth" arriving before the client
// has completed auth are rejected (the Hub is expected to close the
// connection with 4001 when this happens).
var ErrNotAuthenticated = fmt.Errorf("client frame received before auth")

func RouteClientFrame(d ClientDispatcher, client ClientSink, raw []byte) error {
	if len(raw) > frame.MaxSize {
		return ErrOversize
	}

	env, err := frame.Peek(raw)
	if err != nil {
		return fmt.Errorf("malformed frame: %w", err)
	}

	if !client.Authenticated() && env.Type != frame.TypeAuth {
		return ErrNotAuthenticated
	}

	switch env.Type {
	case frame.TypeAuth:
		var f frame.Auth
		if err := json.Unmarshal(raw, &f); err != nil {
			return err
		}
		d.Auth(client, f.Token)

	case frame.TypeUserMessage:
		var f frame.UserMessage
		if err := json.Unmarshal(raw, &f); err != nil {
			return err
		}
		d.UserMessage(client, f)

	case frame.TypeStop:
		d.Stop(client, raw)

	case frame.TypeSettingsDefaultModel:
		var f frame.SettingsDefaultModel
		if err := json.Unmarshal(raw, &f); err != nil {
			return err
		}
		d.SettingsDefaultModel(client, f)

	default:
		d.Reject(client, "unknown type")
	}

	return nil
}
