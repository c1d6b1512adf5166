package cache

import "fmt"

// Key prefixes for resources this Cache stores.
const (
	PrefixHubLocation = "hub:location"
)

// HubLocationKey is the key a node SETNXs to claim ownership of a user's
// Hub cluster-wide.
func HubLocationKey(userID string) string {
	return fmt.Sprintf("%s:%s", PrefixHubLocation, userID)
}
