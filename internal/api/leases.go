package api

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/matheus3301/inbox/internal/cache"
)

// LeaseTTL is how long a unary read keeps its subscription open after the
// last call for the same key.
const LeaseTTL = 30 * time.Second

// leases keeps the subscriptions opened by unary reads alive for a while, so
// repeated reads reuse a live entry and its push channel instead of reloading.
type leases struct {
	held *ttlcache.Cache[cache.Key, *cache.Subscription]
}

func newLeases(ttl time.Duration) *leases {
	held := ttlcache.New[cache.Key, *cache.Subscription](
		ttlcache.WithTTL[cache.Key, *cache.Subscription](ttl),
	)
	// Closing only reaches the cache store, never this cache.
	held.OnEviction(func(_ context.Context, _ ttlcache.EvictionReason, item *ttlcache.Item[cache.Key, *cache.Subscription]) {
		item.Value().Close()
	})
	go held.Start()
	return &leases{held: held}
}

// hold keeps sub open until the lease expires. When the key is already
// leased the older subscription stays, its lease is extended and sub is closed.
func (l *leases) hold(sub *cache.Subscription) {
	if _, found := l.held.GetOrSet(sub.Key(), sub); found {
		l.held.Touch(sub.Key())
		sub.Close()
	}
}

func (l *leases) count() int { return l.held.Len() }

func (l *leases) close() {
	l.held.DeleteAll()
	l.held.Stop()
}
