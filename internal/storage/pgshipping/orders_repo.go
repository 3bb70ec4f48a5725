package pgshipping

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BearBump/ShipBox/internal/apperr"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const orderColumns = `
  id, order_id, address, shipping_method, package_details,
  status, carrier_code, tracking_number, version,
  next_check_at, last_checked_at, check_fail_count, last_error,
  created_at, updated_at`

func scanOrder(row pgx.Row) (*models.ShippingOrder, error) {
	var o models.ShippingOrder
	var status string
	if err := row.Scan(
		&o.ID, &o.OrderID, &o.Address, &o.ShippingMethod, &o.PackageDetails,
		&status, &o.CarrierCode, &o.TrackingNumber, &o.Version,
		&o.NextCheckAt, &o.LastCheckedAt, &o.CheckFailCount, &o.LastError,
		&o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	o.Status = models.ShippingStatus(status)
	return &o, nil
}

func (s *Storage) CreateOrder(ctx context.Context, o *models.ShippingOrder) (*models.ShippingOrder, error) {
	now := time.Now().UTC()
	out, err := scanOrder(s.db.QueryRow(ctx, `
INSERT INTO shipping_orders (
  order_id, address, shipping_method, package_details, status, version, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,1,$6,$6)
RETURNING`+orderColumns,
		o.OrderID, o.Address, o.ShippingMethod, o.PackageDetails, string(o.Status), now))
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return nil, apperr.Validation("order %s already exists", o.OrderID)
		}
		return nil, errors.Wrap(err, "insert order")
	}
	return out, nil
}

func (s *Storage) GetOrder(ctx context.Context, orderID string) (*models.ShippingOrder, error) {
	o, err := scanOrder(s.db.QueryRow(ctx, `SELECT`+orderColumns+` FROM shipping_orders WHERE order_id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("order %s not found", orderID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	return o, nil
}

func (s *Storage) ListOrders(ctx context.Context, f models.OrderFilter) ([]*models.ShippingOrder, error) {
	var where []string
	var args []any
	if f.Status != nil {
		args = append(args, string(*f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.ShippingMethod != "" {
		args = append(args, f.ShippingMethod)
		where = append(where, fmt.Sprintf("shipping_method = $%d", len(args)))
	}

	q := `SELECT` + orderColumns + ` FROM shipping_orders`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY id ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select orders")
	}
	defer rows.Close()

	out := []*models.ShippingOrder{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// ClaimDueShipments picks SHIPPED orders due for a carrier check and pushes their
// next_check_at forward by lease, so other workers skip them meanwhile.
func (s *Storage) ClaimDueShipments(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.ShippingOrder, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
SELECT`+orderColumns+`
FROM shipping_orders
WHERE status = $1
  AND next_check_at <= $2
ORDER BY next_check_at ASC
LIMIT $3
FOR UPDATE SKIP LOCKED
`, string(models.StatusShipped), now.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due shipments")
	}

	var picked []*models.ShippingOrder
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan due shipment")
		}
		picked = append(picked, o)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, o := range picked {
		if _, err := tx.Exec(ctx, `UPDATE shipping_orders SET next_check_at = $2 WHERE id = $1`, o.ID, leaseUntil); err != nil {
			return nil, errors.Wrap(err, "lease shipment")
		}
		next := leaseUntil
		o.NextCheckAt = &next
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}

// SchedulePoll records the outcome of a carrier check. Poll bookkeeping does not bump the order version.
func (s *Storage) SchedulePoll(ctx context.Context, orderID string, checkedAt, nextCheckAt time.Time, checkErr *string) error {
	var tag pgconn.CommandTag
	var err error
	if checkErr != nil {
		tag, err = s.db.Exec(ctx, `
UPDATE shipping_orders
SET
  last_checked_at = $2,
  next_check_at = CASE WHEN status = 'SHIPPED' THEN $3 ELSE next_check_at END,
  check_fail_count = check_fail_count + 1,
  last_error = $4
WHERE order_id = $1
`, orderID, checkedAt.UTC(), nextCheckAt.UTC(), *checkErr)
	} else {
		tag, err = s.db.Exec(ctx, `
UPDATE shipping_orders
SET
  last_checked_at = $2,
  next_check_at = CASE WHEN status = 'SHIPPED' THEN $3 ELSE next_check_at END,
  check_fail_count = 0,
  last_error = NULL
WHERE order_id = $1
`, orderID, checkedAt.UTC(), nextCheckAt.UTC())
	}
	if err != nil {
		return errors.Wrap(err, "schedule poll")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("order %s not found", orderID)
	}
	return nil
}
