package confirmation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const idempotencyTTL = 60 * time.Second

// idempotencyBucket quantizes time into 60s windows so retries of the same
// logical order within one bucket collide on the same key.
func idempotencyBucket(t time.Time) int64 {
	return t.Unix() / int64(idempotencyTTL.Seconds())
}

// Key computes the deterministic idempotency key H(token, side, price,
// size, time_bucket) described in the data model.
func Key(tokenID, side string, price, size decimal.Decimal, now time.Time) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d", tokenID, side, price.String(), size.String(), idempotencyBucket(now))
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// cacheEntry is one cached order result with its own expiry.
type cacheEntry struct {
	result    SubmitResult
	expiresAt time.Time
}

// idempotencyCache is an in-memory map of recently issued idempotency keys
// to their order results, consulted before every submit. Each Confirmer
// (one per account) owns its own cache; caches are not shared across
// accounts or users, and the key carries no credential identity.
type idempotencyCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
}

func newIdempotencyCache() *idempotencyCache {
	return &idempotencyCache{entries: make(map[string]cacheEntry)}
}

func (c *idempotencyCache) get(key string) (SubmitResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return SubmitResult{}, false
	}
	return entry.result, true
}

func (c *idempotencyCache) put(key string, result SubmitResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{result: result, expiresAt: time.Now().Add(idempotencyTTL)}
	c.sweepLocked()
}

// sweepLocked drops expired entries; called opportunistically on writes so
// the map doesn't grow unbounded across a long-running process.
func (c *idempotencyCache) sweepLocked() {
	now := time.Now()
	for k, v := range c.entries {
		if now.After(v.expiresAt) {
			delete(c.entries, k)
		}
	}
}
