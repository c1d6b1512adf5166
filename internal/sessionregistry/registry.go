// Package sessionregistry maintains an in-process index of
// (userId, sessionKey) -> recent message window, used as a fast read cache
// in front of the Store
package sessionregistry

import (
	"sync"

	"github.com/streamspace/streamspace/api/internal/models"
)

// windowSize is the bounded number of recent messages cached per session
// (e.g. last 500) so history reads don't always hit the Store.
const windowSize = 500

// SessionView is the cached state for one sessionKey: a ring of the most
// recent messages plus a cache of thread reply counts. The Store remains
// authoritative for both; this is a read-through cache updated on every
// write.
type SessionView struct {
	mu          sync.RWMutex
	recent      []models.Message
	replyCounts map[string]int
}

func newSessionView() *SessionView {
	return &SessionView{replyCounts: make(map[string]int)}
}

// append adds msg to the tail of the cached window, evicting the oldest
// entry once windowSize is exceeded.
func (v *SessionView) append(msg models.Message) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.recent = append(v.recent, msg)
	if len(v.recent) > windowSize {
		v.recent = v.recent[len(v.recent)-windowSize:]
	}
}

// incrementReplyCount bumps the cached reply count for a thread root
// message id, independent of the recent-message window.
func (v *SessionView) incrementReplyCount(msgID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.replyCounts[msgID]++
}

// Recent returns a copy of the cached message window.
func (v *SessionView) Recent() []models.Message {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]models.Message, len(v.recent))
	copy(out, v.recent)
	return out
}

// ReplyCount returns the cached reply count for a thread root message id.
func (v *SessionView) ReplyCount(msgID string) int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.replyCounts[msgID]
}

// Registry indexes SessionViews by sessionKey for a single user's Hub. One
// Registry instance belongs to one Hub (one user); it is not shared across
// users.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*SessionView
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*SessionView)}
}

// View returns (creating if necessary) the SessionView for sessionKey.
func (r *Registry) View(sessionKey string) *SessionView {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.sessions[sessionKey]
	if !ok {
		v = newSessionView()
		r.sessions[sessionKey] = v
	}
	return v
}

// RecordPersisted updates the in-memory tail for sessionKey after the
// caller has durably persisted msg via the Store. sessionKey is the
// synthetic storage key (base key, or "{base}:thread:{id}" for a reply);
// thread-root reply-count bookkeeping always happens on the BASE view.
func (r *Registry) RecordPersisted(baseSessionKey, storageSessionKey string, msg models.Message) {
	r.View(storageSessionKey).append(msg)
	if storageSessionKey != baseSessionKey && msg.ThreadID != "" {
		r.View(baseSessionKey).incrementReplyCount(msg.ThreadID)
	}
}
