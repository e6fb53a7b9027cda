// Package cache publishes invalidation events for cached read models after a
// mutation commits. It never caches anything itself.
package cache

import (
	"context"
	"slices"
	"strconv"
	"sync"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/owner"
)

// Invalidator drops the given keys from every cache layer.
type Invalidator interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// CartKey is the cache key of an owner's cart summary.
func CartKey(o owner.Owner) string { return "cart:" + o.String() }

// VariantKey is the cache key of a variant (price and stock).
func VariantKey(id int64) string { return "variant:" + strconv.FormatInt(id, 10) }

// CouponKey is the cache key of a coupon by normalised code.
func CouponKey(code string) string { return "coupon:" + code }

// OrderKey is the cache key of an order.
func OrderKey(id int64) string { return "order:" + strconv.FormatInt(id, 10) }

// InvalidateQuietly calls inv and logs failures. Invalidation happens after
// the transaction committed, so its failure must not fail the operation.
func InvalidateQuietly(ctx context.Context, inv Invalidator, keys ...string) {
	if len(keys) == 0 {
		return
	}
	if err := inv.Invalidate(ctx, keys...); err != nil {
		zctx.From(ctx).Warn("Cache invalidation failed",
			zap.Strings("keys", keys),
			zap.Error(err),
		)
	}
}

// Nop discards invalidations.
type Nop struct{}

// Invalidate implements Invalidator.
func (Nop) Invalidate(context.Context, ...string) error { return nil }

// Recorder keeps every invalidated key in memory. It backs tests and the
// in-memory storage driver.
type Recorder struct {
	mu   sync.Mutex
	keys []string
}

// Invalidate implements Invalidator.
func (r *Recorder) Invalidate(_ context.Context, keys ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, keys...)
	return nil
}

// Keys returns a copy of the recorded keys in call order.
func (r *Recorder) Keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.keys)
}

// Has reports whether key was invalidated at least once.
func (r *Recorder) Has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.keys, key)
}
