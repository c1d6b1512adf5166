package hub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/streamspace/streamspace/api/internal/auth"
	"github.com/streamspace/streamspace/api/internal/cache"
	"github.com/streamspace/streamspace/api/internal/events"
	"github.com/streamspace/streamspace/api/internal/logger"
	"github.com/streamspace/streamspace/api/internal/store"
)

// quiescenceSweepInterval is how often the Manager checks every live Hub
// for quiescence shutdown.
const quiescenceSweepInterval = 1 * time.Minute

// WrongNodeError is returned by GetOrCreate when another node in the
// cluster already owns userID's Hub. Callers (the gateway) map this to an
// HTTP redirect or proxy to OwnerNodeID.
type WrongNodeError struct {
	UserID      string
	OwnerNodeID string
}

func (e *WrongNodeError) Error() string {
	return fmt.Sprintf("hub for user %s is owned by node %s", e.UserID, e.OwnerNodeID)
}

// ManagerDeps bundles the collaborators every Hub the Manager creates will
// share.
type ManagerDeps struct {
	Store      *store.Store
	Publisher  *events.Publisher
	Subscriber *events.Subscriber
	Presence   *cache.HubLocationRegistry
	Auth       *auth.JWTManager
	NodeID     string
}

// Manager owns the process-wide userId->Hub map: it is the single place
// that decides whether this node may create a Hub for a user (consulting
// the cluster-wide location claim) and the only place Hubs are removed
// from the map, keeping "claim a location" and "register in the local map"
// atomic with each other.
type Manager struct {
	deps ManagerDeps
	log  *zerolog.Logger

	mu   sync.Mutex
	hubs map[string]*Hub

	stop chan struct{}
	done chan struct{}
}

// NewManager creates a Manager. Call Start to begin the quiescence sweep.
func NewManager(deps ManagerDeps) *Manager {
	return &Manager{
		deps: deps,
		log:  logger.Manager(),
		hubs: make(map[string]*Hub),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
}

// GetOrCreate returns the Hub for userID, creating it (and claiming
// cluster-wide ownership) if this is the first request for that user on
// this node. Returns a *WrongNodeError if another node already owns the
// user's Hub.
func (m *Manager) GetOrCreate(ctx context.Context, userID string) (*Hub, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.hubs[userID]; ok {
		return h, nil
	}

	claimed, owner, err := m.deps.Presence.Claim(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("claim hub location: %w", err)
	}
	if !claimed {
		return nil, &WrongNodeError{UserID: userID, OwnerNodeID: owner}
	}

	h := New(userID, Deps{
		Store:     m.deps.Store,
		Publisher: m.deps.Publisher,
		Presence:  m.deps.Presence,
		Auth:      m.deps.Auth,
		NodeID:    m.deps.NodeID,
	})
	m.hubs[userID] = h

	if m.deps.Publisher != nil {
		if err := m.deps.Publisher.HubCreated(userID); err != nil {
			m.log.Warn().Err(err).Str("userId", userID).Msg("failed to announce hub creation")
		}
	}
	if m.deps.Subscriber != nil && m.deps.Subscriber.IsEnabled() {
		m.watchPresence(userID)
	}

	return h, nil
}

// Lookup returns the Hub for userID if this node already owns it, without
// creating one or consulting the cluster-wide claim.
func (m *Manager) Lookup(userID string) (*Hub, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.hubs[userID]
	return h, ok
}

// Range calls fn once for every Hub this node currently owns. Used by the
// housekeeping scheduler to fan a sweep out to every live Hub; fn runs with
// no lock held so it must not call back into the Manager.
func (m *Manager) Range(fn func(h *Hub)) {
	m.mu.Lock()
	hubs := make([]*Hub, 0, len(m.hubs))
	for _, h := range m.hubs {
		hubs = append(hubs, h)
	}
	m.mu.Unlock()

	for _, h := range hubs {
		fn(h)
	}
}

// watchPresence subscribes to userID's presence subject so this node
// notices if another node claims the user's Hub while this one believes it
// still owns it (e.g. after this node lost its claim to a missed refresh).
// The subscription stays open for the life of the process: a hub.created
// event from a different node evicts the local Hub but does not unsubscribe.
func (m *Manager) watchPresence(userID string) {
	unsubscribe, err := m.deps.Subscriber.Subscribe(userID, func(ev events.PresenceEvent) {
		if ev.Kind != events.KindHubCreated || ev.NodeID == m.deps.NodeID {
			return
		}
		m.log.Warn().Str("userId", userID).Str("ownerNodeId", ev.NodeID).
			Msg("another node claimed this user's hub; shutting down local copy")
		m.evict(userID)
	})
	if err != nil {
		m.log.Warn().Err(err).Str("userId", userID).Msg("failed to subscribe to hub presence")
	}
	_ = unsubscribe // the subscription is process-lifetime; nothing currently calls it early
}

// Start launches the background quiescence sweep.
func (m *Manager) Start() {
	go m.sweepLoop()
}

// Stop halts the sweep loop and shuts down every Hub this node owns.
func (m *Manager) Stop() {
	close(m.stop)
	<-m.done

	m.mu.Lock()
	hubs := make([]*Hub, 0, len(m.hubs))
	for _, h := range m.hubs {
		hubs = append(hubs, h)
	}
	m.hubs = make(map[string]*Hub)
	m.mu.Unlock()

	for _, h := range hubs {
		h.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = m.deps.Presence.Release(ctx, h.UserID())
		cancel()
	}
}

func (m *Manager) sweepLoop() {
	defer close(m.done)
	ticker := time.NewTicker(quiescenceSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweepQuiescent()
		case <-m.stop:
			return
		}
	}
}

// sweepQuiescent shuts down and evicts every Hub that has had neither a
// plugin nor a client attached for QuiescenceTimeout, releasing its
// cluster-wide location claim so another node may take it over.
func (m *Manager) sweepQuiescent() {
	now := time.Now()

	m.mu.Lock()
	var idle []*Hub
	for userID, h := range m.hubs {
		if h.Idle(now) {
			idle = append(idle, h)
			delete(m.hubs, userID)
		}
	}
	m.mu.Unlock()

	for _, h := range idle {
		h.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.deps.Presence.Release(ctx, h.UserID()); err != nil {
			m.log.Warn().Err(err).Str("userId", h.UserID()).Msg("failed to release hub location claim")
		}
		cancel()
		m.log.Info().Str("userId", h.UserID()).Msg("hub quiesced and shut down")
	}
}

func (m *Manager) evict(userID string) {
	m.mu.Lock()
	h, ok := m.hubs[userID]
	if ok {
		delete(m.hubs, userID)
	}
	m.mu.Unlock()
	if ok {
		h.Shutdown()
	}
}
