package cache

import (
	"context"
	"time"
)

// eventClaimPrefix is the Redis key prefix for processed webhook events.
const eventClaimPrefix = "webhook:event:"

// ClaimEvent records a webhook event id before it is processed. Returns
// true if this delivery won the claim, false if the id was already
// claimed (a redelivery of an event that was handled, or is being
// handled right now). The claim expires after ttl.
func (c *Cache) ClaimEvent(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	return c.client.SetNX(ctx, eventClaimPrefix+eventID, 1, ttl).Result()
}

// ReleaseEvent drops a claim so the provider's redelivery can retry an
// event whose processing failed.
func (c *Cache) ReleaseEvent(ctx context.Context, eventID string) error {
	return c.client.Del(ctx, eventClaimPrefix+eventID).Err()
}
