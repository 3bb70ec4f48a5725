// Package storage holds the transactional contract shared by the order/tracking stores.
package storage

import (
	"context"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
)

// Tx is a unit of work over one or more orders and their tracking history.
// Row locks taken by GetOrderForUpdate are held until the transaction ends;
// nothing written through Tx is visible to other readers before commit.
type Tx interface {
	// GetOrderForUpdate locks the order row. It fails with a conflict if another
	// transaction holds the lock and with not found if the order is absent.
	GetOrderForUpdate(ctx context.Context, orderID string) (*models.ShippingOrder, error)
	// LatestTrackingEvent returns nil when the order has no events.
	LatestTrackingEvent(ctx context.Context, orderID string) (*models.TrackingEvent, error)
	HasTrackingEvent(ctx context.Context, orderID string, status models.ShippingStatus, eventTime time.Time) (bool, error)
	CountTrackingEvents(ctx context.Context, orderID string) (int, error)
	// UpdateOrderStatus fails with a conflict when the stored version differs from ch.ExpectedVersion.
	UpdateOrderStatus(ctx context.Context, ch models.StatusChange) (*models.ShippingOrder, error)
	UpdateOrderDetails(ctx context.Context, orderID string, expectedVersion int64, in models.OrderUpdateInput) (*models.ShippingOrder, error)
	// InsertTrackingEvent reports inserted=false when (order, status, event time) already exists.
	InsertTrackingEvent(ctx context.Context, ev *models.TrackingEvent) (*models.TrackingEvent, bool, error)
	DeleteOrder(ctx context.Context, orderID string) error
}

// TxFunc runs inside a transaction. Returning an error rolls everything back.
type TxFunc func(ctx context.Context, tx Tx) error
