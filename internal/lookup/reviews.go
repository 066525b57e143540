package lookup

import (
	"context"
	"errors"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/imrishuroy/go-guest-lookup/internal/collaborator"
)

// ReviewChecker answers whether the token's identity already reviewed a product.
type ReviewChecker interface {
	HasReviewed(ctx context.Context, token, productID string) (bool, error)
}

// ReviewCache maps product ids to whether the current identity reviewed them.
type ReviewCache struct {
	mu      sync.RWMutex
	entries map[string]bool
}

// NewReviewCache returns an empty cache.
func NewReviewCache() *ReviewCache {
	return &ReviewCache{entries: make(map[string]bool)}
}

// Reviewed reports the cached flag. Unknown products are not reviewed.
func (c *ReviewCache) Reviewed(productID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[productID]
}

// MarkReviewed records a review optimistically.
func (c *ReviewCache) MarkReviewed(productID string) { c.Set(productID, true) }

// Set overwrites the flag for productID.
func (c *ReviewCache) Set(productID string, reviewed bool) {
	c.mu.Lock()
	c.entries[productID] = reviewed
	c.mu.Unlock()
}

// Reset drops every entry.
func (c *ReviewCache) Reset() {
	c.mu.Lock()
	c.entries = make(map[string]bool)
	c.mu.Unlock()
}

// Entries returns a copy of the cache.
func (c *ReviewCache) Entries() map[string]bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]bool, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Apply merges a CheckBatch result for productIDs. Products whose check
// failed default to not reviewed unless a local review is already recorded:
// a product this session reviewed stays locked until the collaborator
// answers otherwise, so a failed check can never reopen a second review.
func (c *ReviewCache) Apply(productIDs []string, checked map[string]bool) map[string]bool {
	out := make(map[string]bool, len(productIDs))
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range productIDs {
		if v, ok := checked[id]; ok {
			c.entries[id] = v
		}
		out[id] = c.entries[id]
	}
	return out
}

// CheckBatch queries every product concurrently and waits for all of them to
// settle. The result holds only the products whose check succeeded. The error
// is non-nil only when the collaborator rejected the token.
func CheckBatch(ctx context.Context, checker ReviewChecker, token string, productIDs []string) (map[string]bool, error) {
	var (
		mu       sync.Mutex
		checked  = make(map[string]bool, len(productIDs))
		rejected error
	)

	var g errgroup.Group
	for _, id := range productIDs {
		g.Go(func() error {
			ok, err := checker.HasReviewed(ctx, token, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				checked[id] = ok
			case errors.Is(err, collaborator.ErrUnauthorized):
				rejected = err
			default:
				log.Printf("[lookup] review check for product %s failed: %v", id, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return checked, rejected
}
