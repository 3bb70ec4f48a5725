package pgshipping

import (
	"context"

	"github.com/BearBump/ShipBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const eventColumns = `
  id, order_id, status, status_label, location, estimated_delivery,
  tracking_number, event_time, advanced_status, source, created_at`

func scanEvent(row pgx.Row) (*models.TrackingEvent, error) {
	var e models.TrackingEvent
	var status string
	if err := row.Scan(
		&e.ID, &e.OrderID, &status, &e.StatusLabel, &e.Location, &e.EstimatedDelivery,
		&e.TrackingNumber, &e.EventTime, &e.AdvancedStatus, &e.Source, &e.CreatedAt,
	); err != nil {
		return nil, err
	}
	e.Status = models.ShippingStatus(status)
	e.EventTime = e.EventTime.UTC()
	return &e, nil
}

// ListTrackingEvents returns the order's history ordered by event time.
func (s *Storage) ListTrackingEvents(ctx context.Context, orderID string) ([]*models.TrackingEvent, error) {
	rows, err := s.db.Query(ctx, `
SELECT`+eventColumns+`
FROM shipment_tracking_events
WHERE order_id = $1
ORDER BY event_time ASC, id ASC
`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	out := []*models.TrackingEvent{}
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		out = append(out, e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
