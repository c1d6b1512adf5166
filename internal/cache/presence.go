package cache

import (
	"context"
	"time"
)

// locationTTL bounds how long a claimed hub-location entry survives without
// a refresh; a node that crashes without deregistering frees the claim
// within this window.
const locationTTL = 45 * time.Second

// refreshInterval is how often an owning node extends its claim. Kept well
// below locationTTL so a missed refresh or two doesn't lose ownership.
const refreshInterval = 15 * time.Second

// HubLocationRegistry tracks, cluster-wide, which node owns the singleton
// Hub for each user. It is a thin domain wrapper over Cache's SETNX/TTL
// primitives; when Cache is disabled (no Redis configured) every Claim
// succeeds locally, which is correct for a single-node deployment.
type HubLocationRegistry struct {
	cache  *Cache
	nodeID string
}

// NewHubLocationRegistry returns a registry that claims locations as nodeID.
func NewHubLocationRegistry(c *Cache, nodeID string) *HubLocationRegistry {
	return &HubLocationRegistry{cache: c, nodeID: nodeID}
}

// Claim attempts to register this node as the owner of userID's Hub.
// Returns true if the claim succeeded (no other node currently owns it, or
// Redis is disabled). Returns false, along with the owning node id, if
// another node already holds the claim.
func (r *HubLocationRegistry) Claim(ctx context.Context, userID string) (claimed bool, ownerNodeID string, err error) {
	if !r.cache.IsEnabled() {
		return true, r.nodeID, nil
	}

	ok, err := r.cache.SetNX(ctx, HubLocationKey(userID), r.nodeID, locationTTL)
	if err != nil {
		return false, "", err
	}
	if ok {
		return true, r.nodeID, nil
	}

	owner, err := r.Owner(ctx, userID)
	if err != nil {
		return false, "", err
	}
	return false, owner, nil
}

// Refresh extends this node's claim on userID's Hub. Call periodically
// (every refreshInterval) for as long as the Hub is alive.
func (r *HubLocationRegistry) Refresh(ctx context.Context, userID string) error {
	if !r.cache.IsEnabled() {
		return nil
	}
	return r.cache.Expire(ctx, HubLocationKey(userID), locationTTL)
}

// Release gives up this node's claim on userID's Hub, e.g. on hub
// quiescence shutdown.
func (r *HubLocationRegistry) Release(ctx context.Context, userID string) error {
	if !r.cache.IsEnabled() {
		return nil
	}
	return r.cache.Delete(ctx, HubLocationKey(userID))
}

// Owner returns the node id currently claiming userID's Hub, or "" if none.
func (r *HubLocationRegistry) Owner(ctx context.Context, userID string) (string, error) {
	if !r.cache.IsEnabled() {
		return r.nodeID, nil
	}

	var owner string
	if err := r.cache.Get(ctx, HubLocationKey(userID), &owner); err != nil {
		return "", nil // not found is not an error for callers
	}
	return owner, nil
}

// RefreshInterval is exported so the housekeeping scheduler can wire a
// ticker without duplicating the constant.
func RefreshInterval() time.Duration { return refreshInterval }
