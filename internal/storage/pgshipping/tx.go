package pgshipping

import (
	"context"
	"time"

	"github.com/BearBump/ShipBox/internal/apperr"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/storage"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

type pgTx struct {
	q querier
}

var _ storage.Tx = (*pgTx)(nil)

func (t *pgTx) GetOrderForUpdate(ctx context.Context, orderID string) (*models.ShippingOrder, error) {
	o, err := scanOrder(t.q.QueryRow(ctx, `SELECT`+orderColumns+` FROM shipping_orders WHERE order_id = $1 FOR UPDATE NOWAIT`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("order %s not found", orderID)
	}
	if err != nil {
		return nil, classify(err, "lock order")
	}
	return o, nil
}

func (t *pgTx) LatestTrackingEvent(ctx context.Context, orderID string) (*models.TrackingEvent, error) {
	e, err := scanEvent(t.q.QueryRow(ctx, `
SELECT`+eventColumns+`
FROM shipment_tracking_events
WHERE order_id = $1
ORDER BY event_time DESC, id DESC
LIMIT 1
`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select latest event")
	}
	return e, nil
}

func (t *pgTx) HasTrackingEvent(ctx context.Context, orderID string, status models.ShippingStatus, eventTime time.Time) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx, `
SELECT EXISTS (
  SELECT 1 FROM shipment_tracking_events
  WHERE order_id = $1 AND status = $2 AND event_time = $3
)`, orderID, string(status), eventTime.UTC()).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "select event exists")
	}
	return exists, nil
}

func (t *pgTx) CountTrackingEvents(ctx context.Context, orderID string) (int, error) {
	var n int
	if err := t.q.QueryRow(ctx, `SELECT count(*) FROM shipment_tracking_events WHERE order_id = $1`, orderID).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count events")
	}
	return n, nil
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, ch models.StatusChange) (*models.ShippingOrder, error) {
	o, err := scanOrder(t.q.QueryRow(ctx, `
UPDATE shipping_orders
SET
  status = $4,
  carrier_code = COALESCE($5, carrier_code),
  tracking_number = COALESCE($6, tracking_number),
  package_details = COALESCE($7, package_details),
  next_check_at = $8,
  check_fail_count = 0,
  last_error = NULL,
  version = version + 1,
  updated_at = now()
WHERE order_id = $1 AND version = $2 AND status = $3
RETURNING`+orderColumns,
		ch.OrderID, ch.ExpectedVersion, string(ch.From), string(ch.To),
		ch.CarrierCode, ch.TrackingNumber, ch.PackageDetails, ch.NextCheckAt))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, t.missOrConflict(ctx, ch.OrderID)
	}
	if err != nil {
		return nil, classify(err, "update order status")
	}
	return o, nil
}

func (t *pgTx) UpdateOrderDetails(ctx context.Context, orderID string, expectedVersion int64, in models.OrderUpdateInput) (*models.ShippingOrder, error) {
	o, err := scanOrder(t.q.QueryRow(ctx, `
UPDATE shipping_orders
SET
  address = COALESCE($3, address),
  shipping_method = COALESCE($4, shipping_method),
  package_details = COALESCE($5, package_details),
  version = version + 1,
  updated_at = now()
WHERE order_id = $1 AND version = $2
RETURNING`+orderColumns,
		orderID, expectedVersion, in.Address, in.ShippingMethod, in.PackageDetails))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, t.missOrConflict(ctx, orderID)
	}
	if err != nil {
		return nil, classify(err, "update order details")
	}
	return o, nil
}

func (t *pgTx) missOrConflict(ctx context.Context, orderID string) error {
	var exists bool
	if err := t.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM shipping_orders WHERE order_id = $1)`, orderID).Scan(&exists); err != nil {
		return errors.Wrap(err, "select order exists")
	}
	if !exists {
		return apperr.NotFound("order %s not found", orderID)
	}
	return apperr.Conflict("order %s was modified concurrently", orderID)
}

func (t *pgTx) InsertTrackingEvent(ctx context.Context, ev *models.TrackingEvent) (*models.TrackingEvent, bool, error) {
	e, err := scanEvent(t.q.QueryRow(ctx, `
INSERT INTO shipment_tracking_events (
  order_id, status, status_label, location, estimated_delivery,
  tracking_number, event_time, advanced_status, source, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())
ON CONFLICT (order_id, status, event_time) DO NOTHING
RETURNING`+eventColumns,
		ev.OrderID, string(ev.Status), ev.StatusLabel, ev.Location, ev.EstimatedDelivery,
		ev.TrackingNumber, ev.EventTime.UTC(), ev.AdvancedStatus, ev.Source))
	if err == nil {
		return e, true, nil
	}
	if pgCode(err) == codeForeignKeyViolation {
		return nil, false, apperr.NotFound("order %s not found", ev.OrderID)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, classify(err, "insert tracking event")
	}

	existing, err := scanEvent(t.q.QueryRow(ctx, `
SELECT`+eventColumns+`
FROM shipment_tracking_events
WHERE order_id = $1 AND status = $2 AND event_time = $3
`, ev.OrderID, string(ev.Status), ev.EventTime.UTC()))
	if err != nil {
		return nil, false, errors.Wrap(err, "select duplicate event")
	}
	return existing, false, nil
}

// DeleteOrder refuses to drop an order that still has tracking history (FK restrict).
func (t *pgTx) DeleteOrder(ctx context.Context, orderID string) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM shipping_orders WHERE order_id = $1`, orderID)
	if pgCode(err) == codeForeignKeyViolation {
		return apperr.InvalidState("order %s has tracking history", orderID)
	}
	if err != nil {
		return classify(err, "delete order")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("order %s not found", orderID)
	}
	return nil
}
