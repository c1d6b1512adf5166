// Package events publishes and subscribes to hub-presence notifications over
// NATS so every node in a cluster deployment agrees on which node currently
// owns the singleton Hub for a given user.
//
// Connections use the standard NATS reconnect/backoff handlers with
// optional username/password auth, and degrade to a disabled no-op client
// when NATS is unreachable rather than blocking hub startup.
package events

import "fmt"

// Format: streamspace.hub.presence.<userId>
const subjectPrefix = "streamspace.hub.presence."

// PresenceSubject returns the per-user NATS subject hub location events are
// published and subscribed on.
func PresenceSubject(userID string) string {
	return fmt.Sprintf("%s%s", subjectPrefix, userID)
}

// Presence event kinds.
const (
	KindHubCreated   = "hub.created"
	KindHubDestroyed = "hub.destroyed"
)
