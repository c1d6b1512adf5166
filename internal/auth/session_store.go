// Package auth provides authentication and authorization mechanisms for StreamSpace.
// This file implements server-side session tracking using Redis.
//
// SESSION TRACKING:
//
// StreamSpace uses server-side session tracking to provide:
// - Session invalidation on logout
// - Force re-login on application restart
// - Ability to revoke all sessions for a user
// - Session audit trail
//
// HOW IT WORKS:
//
// 1. Token Generation:
//    - Each JWT gets a unique session ID (jti claim)
//    - Session metadata stored in Redis: session:{jti}
//    - TTL matches token expiration
//
// 2. Token Validation:
//    - ValidateSession reports whether the session key exists in Redis
//    - Missing session = invalid token (expired, revoked, or cleared)
//    - The gateway's bearer middleware validates the JWT only; it does not
//      call ValidateSession
//
// 3. Logout:
//    - Delete session from Redis
//    - Token immediately becomes invalid
//
// 4. Clearing All Sessions:
//    - ClearAllSessions pattern-deletes every session key
//    - The server does not call it on startup
//
// SECURITY BENEFITS:
//
// - True logout: Sessions can be immediately invalidated
// - Compromise response: Revoke all user sessions on suspected breach
// - Multi-device management: Users can see and revoke active sessions
// - Forced re-authentication: Restart clears all sessions
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/streamspace/streamspace/api/internal/cache"
)

// SessionStore manages server-side session tracking in Redis
type SessionStore struct {
	cache *cache.Cache
}

// SessionData represents a stored session
type SessionData struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	OrgID     string    `json:"org_id"` // Organization ID for multi-tenancy
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
	IPAddress string    `json:"ip_address,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
}

// NewSessionStore creates a new session store
func NewSessionStore(cache *cache.Cache) *SessionStore {
	return &SessionStore{
		cache: cache,
	}
}

// GenerateSessionID creates a cryptographically random session ID
func GenerateSessionID() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate session ID: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// CreateSession stores a new session in Redis
func (s *SessionStore) CreateSession(ctx context.Context, session *SessionData, ttl time.Duration) error {
	if !s.cache.IsEnabled() {
		// If Redis is disabled, sessions won't be tracked
		// This is acceptable for development but not recommended for production
		return nil
	}

	key := s.sessionKey(session.SessionID)
	return s.cache.Set(ctx, key, session, ttl)
}

// GetSession retrieves a session from Redis
func (s *SessionStore) GetSession(ctx context.Context, sessionID string) (*SessionData, error) {
	if !s.cache.IsEnabled() {
		// If Redis is disabled, assume all sessions are valid
		return nil, nil
	}

	var session SessionData
	key := s.sessionKey(sessionID)
	err := s.cache.Get(ctx, key, &session)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// ValidateSession checks if a session exists and is valid
func (s *SessionStore) ValidateSession(ctx context.Context, sessionID string) (bool, error) {
	if !s.cache.IsEnabled() {
		// If Redis is disabled, assume all sessions are valid
		return true, nil
	}

	key := s.sessionKey(sessionID)
	return s.cache.Exists(ctx, key)
}

// DeleteSession removes a session from Redis (logout)
func (s *SessionStore) DeleteSession(ctx context.Context, sessionID string) error {
	if !s.cache.IsEnabled() {
		return nil
	}

	key := s.sessionKey(sessionID)
	return s.cache.Delete(ctx, key)
}

// DeleteUserSessions removes all sessions for a specific user
func (s *SessionStore) DeleteUserSessions(ctx context.Context, userID string) error {
	if !s.cache.IsEnabled() {
		return nil
	}

	// Delete all sessions matching user pattern
	// Note: This requires listing sessions and checking userID
	// For simplicity, we'll use a user-indexed key pattern
	pattern := fmt.Sprintf("session:user:%s:*", userID)
	return s.cache.DeletePattern(ctx, pattern)
}

// ClearAllSessions removes all sessions from Redis (force all users to re-login)
func (s *SessionStore) ClearAllSessions(ctx context.Context) error {
	if !s.cache.IsEnabled() {
		return nil
	}

	// Delete all session keys
	pattern := "session:*"
	return s.cache.DeletePattern(ctx, pattern)
}

// RefreshSession extends the TTL of an existing session
func (s *SessionStore) RefreshSession(ctx context.Context, sessionID string, newExpiresAt time.Time) error {
	if !s.cache.IsEnabled() {
		return nil
	}

	// Get existing session
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	// Update expiration
	session.ExpiresAt = newExpiresAt

	// Calculate new TTL
	ttl := time.Until(newExpiresAt)
	if ttl <= 0 {
		// Session has expired, delete it
		return s.DeleteSession(ctx, sessionID)
	}

	// Re-store with new TTL
	key := s.sessionKey(sessionID)
	return s.cache.Set(ctx, key, session, ttl)
}

// sessionKey generates the Redis key for a session
func (s *SessionStore) sessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s", sessionID)
}

// IsEnabled returns whether session tracking is enabled
func (s *SessionStore) IsEnabled() bool {
	return s.cache != nil && s.cache.IsEnabled()
}
