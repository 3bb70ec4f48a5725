package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/pkg/errors"
)

// deletedVersion outranks any real order version, so a read that raced a delete cannot
// bring the order back. It stays exact as a Lua number.
const deletedVersion int64 = 1 << 53

// OrderCache keeps the latest committed state of orders, keyed by order id. Readers and
// writers both go through Put, and the version guard keeps a slow reader from
// overwriting a newer commit. Poller bookkeeping is not cached.
type OrderCache struct {
	c   VersionedCache
	ttl time.Duration
}

func NewOrderCache(c VersionedCache, ttl time.Duration) *OrderCache {
	return &OrderCache{c: c, ttl: ttl}
}

func OrderKey(orderID string) string {
	return fmt.Sprintf("shipping:order:%s:current", orderID)
}

// Get returns the cached order. A deleted marker reads as a miss.
func (oc *OrderCache) Get(ctx context.Context, orderID string) (*models.ShippingOrder, bool, error) {
	b, ok, err := oc.c.Get(ctx, OrderKey(orderID))
	if err != nil || !ok || len(b) == 0 {
		return nil, false, err
	}
	var o models.ShippingOrder
	if err := json.Unmarshal(b, &o); err != nil {
		return nil, false, errors.Wrap(err, "decode cached order")
	}
	return &o, true, nil
}

// Put stores o unless the cache already holds a newer version of it.
func (oc *OrderCache) Put(ctx context.Context, o *models.ShippingOrder) (bool, error) {
	b, err := json.Marshal(WithoutPollState(o))
	if err != nil {
		return false, errors.Wrap(err, "encode order")
	}
	return oc.c.SetIfNewer(ctx, OrderKey(o.OrderID), o.Version, b, oc.ttl)
}

// Refresh writes a freshly committed order. If the write fails the entry is dropped instead.
func (oc *OrderCache) Refresh(ctx context.Context, o *models.ShippingOrder) {
	if _, err := oc.Put(ctx, o); err != nil {
		slog.Warn("refresh order cache", "order_id", o.OrderID, "error", err.Error())
		oc.drop(ctx, o.OrderID)
	}
}

// Forget marks a deleted order so that no earlier read can refill it.
func (oc *OrderCache) Forget(ctx context.Context, orderID string) {
	if _, err := oc.c.SetIfNewer(ctx, OrderKey(orderID), deletedVersion, nil, oc.ttl); err != nil {
		slog.Warn("forget cached order", "order_id", orderID, "error", err.Error())
		oc.drop(ctx, orderID)
	}
}

func (oc *OrderCache) drop(ctx context.Context, orderID string) {
	if err := oc.c.Delete(ctx, OrderKey(orderID)); err != nil {
		slog.Warn("invalidate order cache", "order_id", orderID, "error", err.Error())
	}
}

// WithoutPollState returns a copy of o with the poller's scheduling fields cleared.
// The worker updates those outside the engine, so they are never served from a cache.
func WithoutPollState(o *models.ShippingOrder) *models.ShippingOrder {
	c := *o
	c.NextCheckAt = nil
	c.LastCheckedAt = nil
	c.CheckFailCount = 0
	c.LastError = nil
	return &c
}
