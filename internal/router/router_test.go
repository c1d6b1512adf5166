package router

import (
	"strings"
	"testing"

	"github.com/streamspace/streamspace/api/internal/frame"
)

// fakePluginDispatcher records which method was called and with what.
type fakePluginDispatcher struct {
	lastMethod string
	lastRaw    []byte
	agentText  frame.AgentText
	jobUpdate  frame.JobUpdate
}

func (f *fakePluginDispatcher) ConnectionStatus(v frame.ConnectionStatus) { f.lastMethod = "ConnectionStatus" }
func (f *fakePluginDispatcher) StreamStart(v frame.AgentStreamStart)      { f.lastMethod = "StreamStart" }
func (f *fakePluginDispatcher) StreamChunk(v frame.AgentStreamChunk)      { f.lastMethod = "StreamChunk" }
func (f *fakePluginDispatcher) StreamEnd(v frame.AgentStreamEnd)          { f.lastMethod = "StreamEnd" }
func (f *fakePluginDispatcher) AgentText(v frame.AgentText) {
	f.lastMethod = "AgentText"
	f.agentText = v
}
func (f *fakePluginDispatcher) AgentMedia(v frame.AgentMedia)         { f.lastMethod = "AgentMedia" }
func (f *fakePluginDispatcher) AgentA2UI(v frame.AgentA2UI)           { f.lastMethod = "AgentA2UI" }
func (f *fakePluginDispatcher) JobUpdate(v frame.JobUpdate) {
	f.lastMethod = "JobUpdate"
	f.jobUpdate = v
}
func (f *fakePluginDispatcher) JobOutput(v frame.JobOutput)               { f.lastMethod = "JobOutput" }
func (f *fakePluginDispatcher) TaskScanResult(v frame.TaskScanResult)     { f.lastMethod = "TaskScanResult" }
func (f *fakePluginDispatcher) ModelChanged(v frame.ModelChanged)         { f.lastMethod = "ModelChanged" }
func (f *fakePluginDispatcher) FanOpaque(frameType string, raw []byte) {
	f.lastMethod = "FanOpaque:" + frameType
	f.lastRaw = raw
}
func (f *fakePluginDispatcher) PluginError(raw []byte) {
	f.lastMethod = "PluginError"
	f.lastRaw = raw
}

func TestRoutePluginFrameDispatchesKnownTypes(t *testing.T) {
	d := &fakePluginDispatcher{}
	raw := []byte(`{"type":"agent.text","sessionKey":"s1","text":"hi","messageId":"m1"}`)

	if err := RoutePluginFrame(d, raw); err != nil {
		t.Fatalf("RoutePluginFrame returned error: %v", err)
	}
	if d.lastMethod != "AgentText" {
		t.Errorf("dispatched to %q, want AgentText", d.lastMethod)
	}
	if d.agentText.SessionKey != "s1" {
		t.Errorf("SessionKey = %q, want %q", d.agentText.SessionKey, "s1")
	}
}

func TestRoutePluginFrameFansUnknownTypesOpaquely(t *testing.T) {
	d := &fakePluginDispatcher{}
	raw := []byte(`{"type":"some.future.type","sessionKey":"s1"}`)

	if err := RoutePluginFrame(d, raw); err != nil {
		t.Fatalf("RoutePluginFrame returned error: %v", err)
	}
	if d.lastMethod != "FanOpaque:some.future.type" {
		t.Errorf("dispatched to %q, want FanOpaque for unknown types", d.lastMethod)
	}
}

func TestRoutePluginFrameRejectsOversizeFrame(t *testing.T) {
	d := &fakePluginDispatcher{}
	raw := []byte(`{"type":"agent.text","text":"` + strings.Repeat("x", frame.MaxSize) + `"}`)

	err := RoutePluginFrame(d, raw)
	if err != ErrOversize {
		t.Errorf("err = %v, want ErrOversize", err)
	}
}

func TestRoutePluginFrameSettingsDefaultModelBecomesModelChanged(t *testing.T) {
	d := &fakePluginDispatcher{}
	raw := []byte(`{"type":"settings.defaultModel","defaultModel":"gpt-5"}`)

	if err := RoutePluginFrame(d, raw); err != nil {
		t.Fatalf("RoutePluginFrame returned error: %v", err)
	}
	if d.lastMethod != "ModelChanged" {
		t.Errorf("dispatched to %q, want ModelChanged", d.lastMethod)
	}
}

// fakeClient is a minimal ClientSink.
type fakeClient struct {
	id   string
	auth bool
}

func (c *fakeClient) ID() string          { return c.id }
func (c *fakeClient) Authenticated() bool { return c.auth }

type fakeClientDispatcher struct {
	lastMethod string
	authToken  string
	rejectMsg  string
}

func (f *fakeClientDispatcher) Auth(client ClientSink, token string) {
	f.lastMethod = "Auth"
	f.authToken = token
}
func (f *fakeClientDispatcher) UserMessage(client ClientSink, msg frame.UserMessage) {
	f.lastMethod = "UserMessage"
}
func (f *fakeClientDispatcher) Stop(client ClientSink, raw []byte) { f.lastMethod = "Stop" }
func (f *fakeClientDispatcher) SettingsDefaultModel(client ClientSink, v frame.SettingsDefaultModel) {
	f.lastMethod = "SettingsDefaultModel"
}
func (f *fakeClientDispatcher) Reject(client ClientSink, message string) {
	f.lastMethod = "Reject"
	f.rejectMsg = message
}

func TestRouteClientFrameRejectsPreAuthNonAuthFrames(t *testing.T) {
	d := &fakeClientDispatcher{}
	client := &fakeClient{id: "c1", auth: false}
	raw := []byte(`{"type":"user.message","text":"hi"}`)

	err := RouteClientFrame(d, client, raw)
	if err != ErrNotAuthenticated {
		t.Errorf("err = %v, want ErrNotAuthenticated", err)
	}
}

func TestRouteClientFrameAllowsAuthFrameBeforeAuthenticated(t *testing.T) {
	d := &fakeClientDispatcher{}
	client := &fakeClient{id: "c1", auth: false}
	raw := []byte(`{"type":"auth","token":"tok-123"}`)

	if err := RouteClientFrame(d, client, raw); err != nil {
		t.Fatalf("RouteClientFrame returned error: %v", err)
	}
	if d.lastMethod != "Auth" || d.authToken != "tok-123" {
		t.Errorf("got method=%q token=%q, want Auth/tok-123", d.lastMethod, d.authToken)
	}
}

func TestRouteClientFrameRejectsUnknownTypeOnceAuthenticated(t *testing.T) {
	d := &fakeClientDispatcher{}
	client := &fakeClient{id: "c1", auth: true}
	raw := []byte(`{"type":"something.weird"}`)

	if err := RouteClientFrame(d, client, raw); err != nil {
		t.Fatalf("RouteClientFrame returned error: %v", err)
	}
	if d.lastMethod != "Reject" {
		t.Errorf("dispatched to %q, want Reject", d.lastMethod)
	}
}

func TestRouteClientFrameDispatchesUserMessageOnceAuthenticated(t *testing.T) {
	d := &fakeClientDispatcher{}
	client := &fakeClient{id: "c1", auth: true}
	raw := []byte(`{"type":"user.message","sessionKey":"s1","text":"hi","userId":"u1","messageId":"m1"}`)

	if err := RouteClientFrame(d, client, raw); err != nil {
		t.Fatalf("RouteClientFrame returned error: %v", err)
	}
	if d.lastMethod != "UserMessage" {
		t.Errorf("dispatched to %q, want UserMessage", d.lastMethod)
	}
}
