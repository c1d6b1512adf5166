// Package socketpair wraps one duplex WebSocket connection with a
// send-serializer and a receive parser
//
// A writePump goroutine is the only path to the underlying socket
// (guarantees in-order delivery) and a readPump goroutine parses one frame
// per message and hands it to a callback. A SocketPair is not tied to any
// particular hub's register/unregister channels — callers (the per-user
// Hub) own that lifecycle and just supply callbacks.
package socketpair

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamspace/streamspace/api/internal/frame"
)

const (
	// writeBufferFrames is the default bounded mailbox size for outbound
	// frames.
	writeBufferFrames = 256

	pingInterval = 30 * time.Second
	pongWait     = 90 * time.Second
	writeWait    = 10 * time.Second
)

// Errors surfaced by Send and the read pump. The hub layer does not map
// these onto its own Kind values.
var (
	// ErrBackpressure means the outbound mailbox is full; the caller
	// (Hub/Router) decides whether to drop the frame or disconnect the
	// peer.
	ErrBackpressure = errors.New("socketpair: send buffer full")

	// ErrClosed means the pair has already been closed; it is terminal.
	ErrClosed = errors.New("socketpair: closed")

	// ErrProtocolError wraps a malformed frame or oversize message.
	ErrProtocolError = errors.New("socketpair: protocol error")
)

// SocketPair owns one websocket.Conn. OnMessage is invoked from the read
// goroutine for every inbound frame; OnClose is invoked at most once, when
// the read loop ends, and not at all if Close was called first.
type SocketPair struct {
	conn *websocket.Conn

	send chan []byte

	mu     sync.Mutex
	closed bool

	OnMessage func(raw []byte)
	OnClose   func(err error)
}

// New wraps conn. Call Start to begin the read/write pumps.
func New(conn *websocket.Conn) *SocketPair {
	conn.SetReadLimit(frame.MaxSize)
	return &SocketPair{
		conn: conn,
		send: make(chan []byte, writeBufferFrames),
	}
}

// Start launches the reader and writer goroutines. OnMessage/OnClose must
// be set before calling Start.
func (sp *SocketPair) Start() {
	go sp.writePump()
	go sp.readPump()
}

// Send enqueues a frame for delivery, preserving send order. Returns
// ErrBackpressure if the mailbox is full and ErrClosed if the pair has
// already terminated. Never blocks the caller.
func (sp *SocketPair) Send(payload []byte) error {
	sp.mu.Lock()
	if sp.closed {
		sp.mu.Unlock()
		return ErrClosed
	}
	sp.mu.Unlock()

	select {
	case sp.send <- payload:
		return nil
	default:
		return ErrBackpressure
	}
}

// SendFrame marshals v to JSON and calls Send.
func (sp *SocketPair) SendFrame(v interface{}) error {
	b, err := frame.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return sp.Send(b)
}

// Close closes the underlying connection with the given WS close code and
// reason. Subsequent Send calls fail with ErrClosed. Safe to call more than
// once.
func (sp *SocketPair) Close(code int, reason string) error {
	sp.mu.Lock()
	if sp.closed {
		sp.mu.Unlock()
		return nil
	}
	sp.closed = true
	sp.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = sp.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return sp.conn.Close()
}

func (sp *SocketPair) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		sp.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-sp.send:
			sp.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sp.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sp.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			sp.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sp.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (sp *SocketPair) readPump() {
	var closeErr error
	defer func() {
		sp.mu.Lock()
		wasClosed := sp.closed
		sp.closed = true
		sp.mu.Unlock()

		sp.conn.Close()
		if !wasClosed && sp.OnClose != nil {
			sp.OnClose(closeErr)
		}
	}()

	sp.conn.SetReadDeadline(time.Now().Add(pongWait))
	sp.conn.SetPongHandler(func(string) error {
		sp.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		msgType, data, err := sp.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				closeErr = err
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}

		sp.conn.SetReadDeadline(time.Now().Add(pongWait))

		if len(data) > frame.MaxSize {
			closeErr = fmt.Errorf("%w: frame exceeds %d bytes", ErrProtocolError, frame.MaxSize)
			return
		}

		if sp.OnMessage != nil {
			sp.OnMessage(data)
		}
	}
}
