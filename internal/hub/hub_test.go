package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/websocket"

	"github.com/streamspace/streamspace/api/internal/auth"
	"github.com/streamspace/streamspace/api/internal/frame"
	"github.com/streamspace/streamspace/api/internal/socketpair"
	"github.com/streamspace/streamspace/api/internal/store"
)

// testPeer is one side of a real WS connection dialed against an
// httptest.Server, wrapped as a SocketPair exactly the way the Gateway wraps
// an accepted connection, plus the raw client-side *websocket.Conn used to
// drive/observe it from the test.
type testPeer struct {
	pair   *socketpair.SocketPair
	client *websocket.Conn
}

// dialPeer upgrades a fresh WS connection against srv and returns both the
// SocketPair (as Hub sees it) and the client Conn (as the test drives it).
func dialPeer(t *testing.T, srv *httptest.Server, attach func(pair *socketpair.SocketPair)) *testPeer {
	t.Helper()
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	ready := make(chan *socketpair.SocketPair, 1)
	mux, ok := srv.Config.Handler.(*muxRecorder)
	if !ok {
		t.Fatalf("test server must use a *muxRecorder handler")
	}
	mux.handler = func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("server-side upgrade failed: %v", err)
			return
		}
		pair := socketpair.New(conn)
		attach(pair)
		pair.Start()
		ready <- pair
	}

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("client dial failed: %v", err)
	}

	select {
	case pair := <-ready:
		return &testPeer{pair: pair, client: client}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server-side upgrade")
		return nil
	}
}

// muxRecorder lets dialPeer swap in a fresh per-call handler on a single
// long-lived httptest.Server.
type muxRecorder struct {
	handler http.HandlerFunc
}

func (m *muxRecorder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.handler(w, r)
}

func newTestServer() *httptest.Server {
	return httptest.NewServer(&muxRecorder{})
}

// readFrame reads and json-decodes the next message from the client side of
// a peer, failing the test if none arrives within the timeout.
func readFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]interface{} {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decoding frame %q: %v", data, err)
	}
	return out
}

func sendFrame(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

const testSecret = "test-secret-at-least-32-bytes-long!"

func newTestHub(t *testing.T, userID string) (*Hub, sqlmock.Sqlmock, *auth.JWTManager) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	st := store.NewForTesting(db)
	authMgr := auth.NewJWTManager(&auth.JWTConfig{SecretKey: testSecret})

	h := New(userID, Deps{Store: st, Auth: authMgr})
	t.Cleanup(h.Shutdown)
	return h, mock, authMgr
}

func clientToken(t *testing.T, mgr *auth.JWTManager, userID string) string {
	t.Helper()
	tok, err := mgr.GenerateToken(userID, "u", "u@example.com", "user", nil)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return tok
}

func TestPluginAttachReplacesExistingWithClose4010(t *testing.T) {
	h, _, _ := newTestHub(t, "user-1")
	srv := newTestServer()
	defer srv.Close()

	first := dialPeer(t, srv, func(pair *socketpair.SocketPair) {
		pair.OnClose = func(err error) { h.DetachPlugin(pair, err) }
	})
	if err := h.AttachPlugin(context.Background(), first.pair); err != nil {
		t.Fatalf("first AttachPlugin: %v", err)
	}

	second := dialPeer(t, srv, func(pair *socketpair.SocketPair) {
		pair.OnClose = func(err error) { h.DetachPlugin(pair, err) }
	})
	if err := h.AttachPlugin(context.Background(), second.pair); err != nil {
		t.Fatalf("second AttachPlugin: %v", err)
	}

	first.client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := first.client.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected a close error on the replaced plugin, got %v", err)
	}
	if closeErr.Code != frame.ClosePluginReplaced {
		t.Errorf("close code = %d, want %d (ClosePluginReplaced)", closeErr.Code, frame.ClosePluginReplaced)
	}

	status, err := h.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.PluginConnected {
		t.Error("expected the second plugin connection to be the live one")
	}
}

func TestClientAuthTimeoutClosesWithAuthFailure(t *testing.T) {
	h, _, _ := newTestHub(t, "user-timeout")
	srv := newTestServer()
	defer srv.Close()

	peer := dialPeer(t, srv, func(pair *socketpair.SocketPair) {
		client := NewClientConn("c1", pair)
		pair.OnMessage = func(raw []byte) { h.DispatchClientFrame(client, raw) }
		pair.OnClose = func(err error) { h.DetachClient(client, err) }
		_ = h.AttachClient(context.Background(), client)
	})

	peer.client.SetReadDeadline(time.Now().Add(clientAuthTimeout + 3*time.Second))
	_, _, err := peer.client.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected a close error after missed auth, got %v", err)
	}
	if closeErr.Code != frame.CloseAuthFailure {
		t.Errorf("close code = %d, want %d (CloseAuthFailure)", closeErr.Code, frame.CloseAuthFailure)
	}
}

func TestUserMessageWithoutPluginYieldsErrorFrame(t *testing.T) {
	h, mock, authMgr := newTestHub(t, "user-nomsg")
	srv := newTestServer()
	defer srv.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO messages").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	token := clientToken(t, authMgr, "user-nomsg")
	peer := attachClientDirect(t, h, srv, token)

	sendFrame(t, peer.client, frame.UserMessage{
		Type: frame.TypeUserMessage, SessionKey: "s1", Text: "hi",
		UserID: "user-nomsg", MessageID: "m1",
	})

	got := readFrame(t, peer.client, 2*time.Second)
	if got["type"] != frame.TypeError {
		t.Fatalf("expected error frame when no plugin attached, got %v", got)
	}
	if got["code"] != "plugin_disconnected" {
		t.Errorf("error code = %v, want plugin_disconnected", got["code"])
	}
}

// attachClientDirect dials a client, runs AttachClient with the real
// *ClientConn created in the server-side callback, completes the auth
// handshake and returns the peer positioned to read live frames next.
func attachClientDirect(t *testing.T, h *Hub, srv *httptest.Server, token string) *testPeer {
	t.Helper()
	peer := dialPeer(t, srv, func(pair *socketpair.SocketPair) {
		client := NewClientConn("direct-"+token[len(token)-8:], pair)
		pair.OnMessage = func(raw []byte) { h.DispatchClientFrame(client, raw) }
		pair.OnClose = func(err error) { h.DetachClient(client, err) }
		if err := h.AttachClient(context.Background(), client); err != nil {
			t.Errorf("AttachClient: %v", err)
		}
	})
	sendFrame(t, peer.client, frame.Auth{Type: frame.TypeAuth, Token: token})
	ok := readFrame(t, peer.client, 2*time.Second)
	if ok["type"] != frame.TypeAuthOk {
		t.Fatalf("expected auth.ok, got %v", ok)
	}
	return peer
}

func TestStreamCollapsesOnAgentTextBeforeStreamEnd(t *testing.T) {
	h, mock, authMgr := newTestHub(t, "user-stream")
	srv := newTestServer()
	defer srv.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO messages").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	var pluginPair *socketpair.SocketPair
	plugin := dialPeer(t, srv, func(pair *socketpair.SocketPair) {
		pluginPair = pair
		pair.OnMessage = func(raw []byte) { h.DispatchPluginFrame(raw) }
		pair.OnClose = func(err error) { h.DetachPlugin(pair, err) }
	})
	if err := h.AttachPlugin(context.Background(), pluginPair); err != nil {
		t.Fatalf("AttachPlugin: %v", err)
	}

	token := clientToken(t, authMgr, "user-stream")
	client := attachClientDirect(t, h, srv, token)

	sendFrame(t, plugin.client, frame.AgentStreamStart{Type: frame.TypeAgentStreamStart, RunID: "r1", SessionKey: "s1"})
	sendFrame(t, plugin.client, frame.AgentStreamChunk{Type: frame.TypeAgentStreamChunk, RunID: "r1", SessionKey: "s1", Text: "he"})
	sendFrame(t, plugin.client, frame.AgentStreamChunk{Type: frame.TypeAgentStreamChunk, RunID: "r1", SessionKey: "s1", Text: "hello"})
	sendFrame(t, plugin.client, frame.AgentText{Type: frame.TypeAgentText, SessionKey: "s1", Text: "hello!", MessageID: "m2", RunID: "r1"})

	var sawText bool
	for i := 0; i < 5; i++ {
		f := readFrame(t, client.client, 2*time.Second)
		if f["type"] == frame.TypeAgentText {
			if f["text"] != "hello!" {
				t.Errorf("final text = %v, want %q", f["text"], "hello!")
			}
			sawText = true
			break
		}
	}
	if !sawText {
		t.Fatal("never observed the terminal agent.text frame")
	}

	// A stream.end arriving after the terminal text is a silent no-op: it
	// must not be fanned to clients as a second agent.stream.end, and no
	// further frame should be waiting on the client side.
	sendFrame(t, plugin.client, frame.AgentStreamEnd{Type: frame.TypeAgentStreamEnd, RunID: "r1"})
	client.client.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	if _, _, err := client.client.ReadMessage(); err == nil {
		t.Error("expected no frame after the late stream.end no-op")
	}
}

func TestPluginDetachMidStreamEmitsDisconnectAndSyntheticTerminal(t *testing.T) {
	h, mock, authMgr := newTestHub(t, "user-detach")
	srv := newTestServer()
	defer srv.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO messages").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	var pluginPair *socketpair.SocketPair
	plugin := dialPeer(t, srv, func(pair *socketpair.SocketPair) {
		pluginPair = pair
		pair.OnMessage = func(raw []byte) { h.DispatchPluginFrame(raw) }
		pair.OnClose = func(err error) { h.DetachPlugin(pair, err) }
	})
	if err := h.AttachPlugin(context.Background(), pluginPair); err != nil {
		t.Fatalf("AttachPlugin: %v", err)
	}

	token := clientToken(t, authMgr, "user-detach")
	client := attachClientDirect(t, h, srv, token)

	sendFrame(t, plugin.client, frame.AgentStreamStart{Type: frame.TypeAgentStreamStart, RunID: "r2", SessionKey: "s1"})
	sendFrame(t, plugin.client, frame.AgentStreamChunk{Type: frame.TypeAgentStreamChunk, RunID: "r2", SessionKey: "s1", Text: "partial"})

	// Drain two frames (the cached connection.status sent after auth.ok,
	// then stream.start) before severing the plugin connection; the
	// stream.chunk is read by the loop below.
	_ = readFrame(t, client.client, 2*time.Second)
	_ = readFrame(t, client.client, 2*time.Second)

	plugin.client.Close()

	var sawDisconnect, sawTerminal bool
	for i := 0; i < 4; i++ {
		f := readFrame(t, client.client, 2*time.Second)
		switch f["type"] {
		case frame.TypeOpenclawDisconnected:
			sawDisconnect = true
		case frame.TypeAgentText:
			sawTerminal = true
			text, _ := f["text"].(string)
			if !strings.Contains(text, "partial") || !strings.Contains(text, "disconnected") {
				t.Errorf("synthetic terminal text = %q, want the accumulated buffer plus a disconnect marker", text)
			}
		}
		if sawDisconnect && sawTerminal {
			break
		}
	}
	if !sawDisconnect {
		t.Error("expected openclaw.disconnected to be fanned to clients")
	}
	if !sawTerminal {
		t.Error("expected a synthetic terminal agent.text for the abandoned stream")
	}
}
