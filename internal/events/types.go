package events

import "time"

// PresenceEvent announces that a Hub for UserID was created or destroyed on
// NodeID. Every node subscribes to its users' subjects so a gateway that
// receives a request for a user whose Hub lives elsewhere can return
// WrongNode instead of silently creating a second Hub.
type PresenceEvent struct {
	Kind      string    `json:"kind"`
	UserID    string    `json:"userId"`
	NodeID    string    `json:"nodeId"`
	Timestamp time.Time `json:"timestamp"`
}
