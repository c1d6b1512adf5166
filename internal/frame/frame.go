// Package frame defines the WebSocket wire protocol exchanged between the
// hub and plugins/clients: one UTF-8 JSON object per message, every frame
// carries a required "type" field, max size 1 MiB.
//
// Frames are modeled as a tagged variant (Envelope.Type selects which typed
// payload to decode) rather than dynamic property dispatch on an untyped
// map, so each frame type decodes straight into its own struct and a
// dispatch table picks the handler.
package frame

import "encoding/json"

// MaxSize is the maximum permitted size, in bytes, of a single frame.
const MaxSize = 1 << 20 // 1 MiB

// Frame type tags. Values are wire-exact; they appear verbatim in the
// "type" field of every JSON frame.
const (
	TypeConnectionStatus    = "connection.status"
	TypeAgentStreamStart    = "agent.stream.start"
	TypeAgentStreamChunk    = "agent.stream.chunk"
	TypeAgentStreamEnd      = "agent.stream.end"
	TypeAgentText           = "agent.text"
	TypeAgentMedia          = "agent.media"
	TypeAgentA2UI           = "agent.a2ui"
	TypeJobUpdate           = "job.update"
	TypeJobOutput           = "job.output"
	TypeTaskScanResult      = "task.scan.result"
	TypeSettingsDefaultModel = "settings.defaultModel"
	TypeModelChanged        = "model.changed"
	TypeTaskScheduleAck     = "task.schedule.ack"
	TypeModelsList          = "models.list"
	TypeStatus              = "status"
	TypeError               = "error"
	TypeAuth                = "auth"
	TypeAuthOk              = "auth.ok"
	TypeUserMessage         = "user.message"
	TypeStop                = "/stop"
	TypeOpenclawDisconnected = "openclaw.disconnected"
)

// Envelope is the minimal shape every frame satisfies: a type tag and,
// commonly, a sessionKey used for routing. Routers peek at Envelope before
// unmarshaling the full typed payload.
type Envelope struct {
	Type       string `json:"type"`
	SessionKey string `json:"sessionKey,omitempty"`
}

// Peek extracts the envelope from a raw frame without validating the rest
// of the payload. Callers that need the typed payload unmarshal raw again
// into the specific struct below.
func Peek(raw []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// --- Plugin -> hub frames ---

type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ConnectionStatus struct {
	Type              string      `json:"type"`
	OpenclawConnected bool        `json:"openclawConnected"`
	DefaultModel      string      `json:"defaultModel,omitempty"`
	Models            []ModelInfo `json:"models,omitempty"`
}

type AgentStreamStart struct {
	Type       string `json:"type"`
	RunID      string `json:"runId"`
	SessionKey string `json:"sessionKey"`
	ThreadID   string `json:"threadId,omitempty"`
}

type AgentStreamChunk struct {
	Type       string `json:"type"`
	RunID      string `json:"runId"`
	SessionKey string `json:"sessionKey"`
	Text       string `json:"text"` // cumulative, not incremental
}

type AgentStreamEnd struct {
	Type  string `json:"type"`
	RunID string `json:"runId"`
}

type AgentText struct {
	Type       string `json:"type"`
	SessionKey string `json:"sessionKey"`
	Text       string `json:"text"`
	MessageID  string `json:"messageId"`
	ThreadID   string `json:"threadId,omitempty"`
	Encrypted  bool   `json:"encrypted,omitempty"`
	RunID      string `json:"runId,omitempty"`
}

type AgentMedia struct {
	Type       string `json:"type"`
	SessionKey string `json:"sessionKey"`
	MediaURL   string `json:"mediaUrl"`
	Caption    string `json:"caption,omitempty"`
	MessageID  string `json:"messageId"`
	Encrypted  bool   `json:"encrypted,omitempty"`
}

type AgentA2UI struct {
	Type       string `json:"type"`
	SessionKey string `json:"sessionKey"`
	JSONL      string `json:"jsonl"`
	MessageID  string `json:"messageId"`
}

type JobUpdate struct {
	Type       string `json:"type"`
	JobID      string `json:"jobId"`
	TaskID     string `json:"taskId"`
	SessionKey string `json:"sessionKey"`
	Status     string `json:"status"` // running|ok|error|skipped
	StartedAt  int64  `json:"startedAt"`
	FinishedAt *int64 `json:"finishedAt,omitempty"`
	DurationMs *int64 `json:"durationMs,omitempty"`
	Summary    string `json:"summary,omitempty"`
}

type JobOutput struct {
	Type  string `json:"type"`
	JobID string `json:"jobId"`
	Text  string `json:"text"` // cumulative
}

type ScannedTask struct {
	CronJobID    string `json:"cronJobId"`
	Name         string `json:"name"`
	Schedule     string `json:"schedule"`
	Instructions string `json:"instructions,omitempty"`
	Enabled      bool   `json:"enabled"`
	Model        string `json:"model,omitempty"`
}

type TaskScanResult struct {
	Type  string        `json:"type"`
	Tasks []ScannedTask `json:"tasks"`
}

type ModelChanged struct {
	Type       string `json:"type"`
	SessionKey string `json:"sessionKey"`
	Model      string `json:"model"`
}

// --- Client -> hub frames ---

type Auth struct {
	Type  string `json:"type"`
	Token string `json:"token"`
}

type UserMessage struct {
	Type       string `json:"type"`
	SessionKey string `json:"sessionKey"`
	Text       string `json:"text"`
	UserID     string `json:"userId"`
	MessageID  string `json:"messageId"`
	Model      string `json:"model,omitempty"`
	MediaURL   string `json:"mediaUrl,omitempty"`
	Encrypted  bool   `json:"encrypted,omitempty"`
}

type SettingsDefaultModel struct {
	Type         string `json:"type"`
	DefaultModel string `json:"defaultModel"`
}

// --- Hub -> client frames ---

type AuthOk struct {
	Type        string `json:"type"`
	UserID      string `json:"userId"`
	ConnectedAt int64  `json:"connectedAt"`
}

type OpenclawDisconnected struct {
	Type string `json:"type"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// NewError builds an error frame ready for marshaling.
func NewError(message, code string) Error {
	return Error{Type: TypeError, Message: message, Code: code}
}

// Marshal is a small convenience wrapper so callers don't sprinkle
// json.Marshal + panic-on-error across the codebase.
func Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// WS close codes.
const (
	CloseNormal         = 1000
	CloseAuthFailure    = 4001
	CloseOverloaded     = 4008
	CloseProtocolError  = 4009
	ClosePluginReplaced = 4010
)
