// Package hub implements the per-user connection hub: one singleton
// coordinator multiplexing one plugin WebSocket and N client WebSockets for
// a single user.
//
// A single goroutine owns all mutable state and is the only writer to it,
// driven by a channel of typed events rather than a mutex per field: every
// event (attach, detach, inbound frame, sweep tick) funnels through one
// mailbox and is handled strictly in arrival order.
package hub

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamspace/streamspace/api/internal/auth"
	"github.com/streamspace/streamspace/api/internal/cache"
	"github.com/streamspace/streamspace/api/internal/events"
	"github.com/streamspace/streamspace/api/internal/frame"
	"github.com/streamspace/streamspace/api/internal/jobregistry"
	"github.com/streamspace/streamspace/api/internal/logger"
	"github.com/streamspace/streamspace/api/internal/sessionregistry"
	"github.com/streamspace/streamspace/api/internal/socketpair"
	"github.com/streamspace/streamspace/api/internal/store"
	"github.com/streamspace/streamspace/api/internal/streamstager"
)

// mailboxSize bounds the hub's event queue. A full mailbox means the
// executor cannot keep up; Post returns ErrOverloaded rather than blocking
// the caller.
const mailboxSize = 1024

// quiescenceCheckInterval is the period of the executor's idle ticker. The
// tick itself does no work: the Manager's sweep decides when an idle Hub is
// shut down.
const quiescenceCheckInterval = 30 * time.Second

// QuiescenceTimeout is how long a Hub with no plugin and no clients attached
// stays alive before the Manager's quiescence sweep shuts it down.
const QuiescenceTimeout = 5 * time.Minute

// clientAuthTimeout is how long a newly attached client has to send its
// first (and only valid) auth frame before the Hub closes the connection.
const clientAuthTimeout = 5 * time.Second

// Hub coordinates one user's plugin and client connections. All fields
// below this comment are owned exclusively by the run() goroutine and must
// never be touched from any other goroutine; everything else communicates
// with the Hub by posting to its mailbox.
type Hub struct {
	userID string
	nodeID string

	store     *store.Store
	sessions  *sessionregistry.Registry
	streams   *streamstager.Stager
	jobs      *jobregistry.Registry
	publisher *events.Publisher
	presence  *cache.HubLocationRegistry
	auth      *auth.JWTManager

	log *zerolog.Logger

	mailbox chan interface{}

	plugin       *socketpair.SocketPair
	clients      map[string]*ClientConn
	defaultModel string
	lastActivity time.Time

	// lastConnectionStatus and lastModelsList cache the most recent raw
	// plugin frames of those types, so a client that authenticates after
	// the plugin already reported them still gets the guaranteed
	// auth.ok -> connection.status -> models.list -> live frames sequence.
	lastConnectionStatus []byte
	lastModelsList       []byte
}

// Deps bundles the Hub's external collaborators.
type Deps struct {
	Store     *store.Store
	Publisher *events.Publisher
	Presence  *cache.HubLocationRegistry
	Auth      *auth.JWTManager
	NodeID    string
}

// New creates a Hub for userID and starts its executor goroutine.
func New(userID string, deps Deps) *Hub {
	h := &Hub{
		userID:       userID,
		nodeID:       deps.NodeID,
		store:        deps.Store,
		sessions:     sessionregistry.New(),
		streams:      streamstager.New(),
		jobs:         jobregistry.New(),
		publisher:    deps.Publisher,
		presence:     deps.Presence,
		auth:         deps.Auth,
		log:          logger.Hub(userID),
		mailbox:      make(chan interface{}, mailboxSize),
		clients:      make(map[string]*ClientConn),
		lastActivity: time.Now(),
	}
	go h.run()
	return h
}

// Post enqueues ev for processing by the executor goroutine. Returns
// ErrOverloaded if the mailbox is full.
func (h *Hub) Post(ev interface{}) error {
	select {
	case h.mailbox <- ev:
		return nil
	default:
		return ErrOverloaded
	}
}

// ErrOverloaded is returned by Post when the mailbox is full.
var ErrOverloaded = fmt.Errorf("hub: mailbox full")

// UserID returns the user this Hub serves.
func (h *Hub) UserID() string { return h.userID }

// --- mailbox event types ---

type pluginAttachEvent struct {
	pair  *socketpair.SocketPair
	reply chan error
}

type pluginDetachEvent struct {
	pair *socketpair.SocketPair
	err  error
}

type pluginFrameEvent struct {
	raw []byte
}

type clientAttachEvent struct {
	client *ClientConn
	reply  chan error
}

type clientDetachEvent struct {
	client *ClientConn
	err    error
}

type clientFrameEvent struct {
	client *ClientConn
	raw    []byte
}

type streamSweepEvent struct{}

type clientAuthTimeoutEvent struct {
	client *ClientConn
}

type shutdownEvent struct {
	reply chan struct{}
}

// AttachPlugin registers pair as this Hub's plugin connection, replacing
// and closing any existing one.
// Blocks until the executor has processed the attach.
func (h *Hub) AttachPlugin(ctx context.Context, pair *socketpair.SocketPair) error {
	reply := make(chan error, 1)
	if err := h.Post(pluginAttachEvent{pair: pair, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DetachPlugin notifies the Hub that pair's underlying connection closed.
// err is nil for a clean close. Non-blocking.
func (h *Hub) DetachPlugin(pair *socketpair.SocketPair, err error) {
	_ = h.Post(pluginDetachEvent{pair: pair, err: err})
}

// AttachClient registers a new client connection and blocks until the
// executor has processed the attach. The client is only tracked at that
// point: auth, auth.ok and the replay happen later, when its first frame
// arrives.
func (h *Hub) AttachClient(ctx context.Context, client *ClientConn) error {
	reply := make(chan error, 1)
	if err := h.Post(clientAttachEvent{client: client, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DetachClient notifies the Hub that a client connection closed.
func (h *Hub) DetachClient(client *ClientConn, err error) {
	_ = h.Post(clientDetachEvent{client: client, err: err})
}

// SweepStreams asks the Hub to check for timed-out streaming replies. Called
// by the housekeeping scheduler, not the connection layer.
func (h *Hub) SweepStreams() {
	_ = h.Post(streamSweepEvent{})
}

// DispatchPluginFrame hands one raw frame received on the plugin SocketPair
// to the executor. Non-blocking; a full mailbox drops the frame rather than
// stalling the SocketPair's read pump (the read pump is shared by every
// frame on the connection, so blocking it would also stall the plugin's
// other traffic).
func (h *Hub) DispatchPluginFrame(raw []byte) {
	if err := h.Post(pluginFrameEvent{raw: raw}); err != nil {
		h.log.Warn().Err(err).Msg("dropped plugin frame: hub overloaded")
	}
}

// DispatchClientFrame hands one raw frame received on a client SocketPair to
// the executor. Non-blocking, same rationale as DispatchPluginFrame.
func (h *Hub) DispatchClientFrame(c *ClientConn, raw []byte) {
	if err := h.Post(clientFrameEvent{client: c, raw: raw}); err != nil {
		h.log.Warn().Err(err).Str("clientId", c.id).Msg("dropped client frame: hub overloaded")
	}
}

// Idle reports whether the Hub currently has neither a plugin nor any
// client attached, and has been that way since lastActivity. Read without
// synchronization by the Manager's housekeeping sweep; a stale read only
// delays — never advances — a quiescence shutdown, so this is safe despite
// Hub's single-writer rule being otherwise strict.
func (h *Hub) Idle(now time.Time) bool {
	return h.plugin == nil && len(h.clients) == 0 && now.Sub(h.lastActivity) >= QuiescenceTimeout
}

// Shutdown stops the executor goroutine, closing any remaining connections.
func (h *Hub) Shutdown() {
	reply := make(chan struct{})
	select {
	case h.mailbox <- shutdownEvent{reply: reply}:
		<-reply
	case <-time.After(5 * time.Second):
		// Mailbox wedged; give up waiting rather than block a manager-wide
		// sweep forever.
	}
}

func (h *Hub) run() {
	ticker := time.NewTicker(quiescenceCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case ev := <-h.mailbox:
			if sd, ok := ev.(shutdownEvent); ok {
				h.handleShutdown()
				close(sd.reply)
				return
			}
			h.handle(ev)

		case <-ticker.C:
			// Quiescence is enforced by the Manager (it owns the
			// user->Hub map and must remove the entry atomically with
			// shutdown); this tick does no work. lastActivity is only
			// updated by handle().
		}
	}
}

func (h *Hub) handle(ev interface{}) {
	switch v := ev.(type) {
	case pluginAttachEvent:
		v.reply <- h.onPluginAttach(v.pair)
	case pluginDetachEvent:
		h.onPluginDetach(v.pair, v.err)
	case pluginFrameEvent:
		h.onPluginFrame(v.raw)
	case clientAttachEvent:
		v.reply <- h.onClientAttach(v.client)
	case clientDetachEvent:
		h.onClientDetach(v.client, v.err)
	case clientFrameEvent:
		h.onClientFrame(v.client, v.raw)
	case streamSweepEvent:
		h.onStreamSweep()
	case clientAuthTimeoutEvent:
		h.onClientAuthTimeout(v.client)
	case statusQueryEvent:
		h.onStatusQuery(v.reply)
	case sendFrameEvent:
		h.onSendFrame(v.raw, v.reply)
	default:
		h.log.Warn().Msgf("unknown hub event %T", ev)
	}
	h.lastActivity = time.Now()
}

func (h *Hub) handleShutdown() {
	if h.plugin != nil {
		_ = h.plugin.Close(frame.CloseNormal, "hub shutting down")
		h.plugin = nil
	}
	for _, c := range h.clients {
		_ = c.pair.Close(frame.CloseNormal, "hub shutting down")
	}
	h.clients = make(map[string]*ClientConn)
	if h.publisher != nil {
		_ = h.publisher.HubDestroyed(h.userID)
	}
}
