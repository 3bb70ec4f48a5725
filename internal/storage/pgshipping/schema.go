package pgshipping

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS shipping_orders (
  id BIGSERIAL PRIMARY KEY,
  order_id TEXT NOT NULL UNIQUE,
  address TEXT NOT NULL,
  shipping_method TEXT NOT NULL,
  package_details TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL CHECK (status IN ('PENDING', 'SHIPPED', 'DELIVERED')),
  carrier_code TEXT NOT NULL DEFAULT '',
  tracking_number TEXT NOT NULL DEFAULT '',
  version BIGINT NOT NULL DEFAULT 1,
  next_check_at TIMESTAMPTZ NULL,
  last_checked_at TIMESTAMPTZ NULL,
  check_fail_count INT NOT NULL DEFAULT 0,
  last_error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipping_orders_due ON shipping_orders(next_check_at) WHERE status = 'SHIPPED'`,
		`CREATE INDEX IF NOT EXISTS idx_shipping_orders_status ON shipping_orders(status)`,
		`
CREATE TABLE IF NOT EXISTS shipment_tracking_events (
  id BIGSERIAL PRIMARY KEY,
  order_id TEXT NOT NULL REFERENCES shipping_orders(order_id),
  status TEXT NOT NULL CHECK (status IN ('PENDING', 'SHIPPED', 'DELIVERED')),
  status_label TEXT NOT NULL,
  location TEXT NULL,
  estimated_delivery TIMESTAMPTZ NULL,
  tracking_number TEXT NULL,
  event_time TIMESTAMPTZ NOT NULL,
  advanced_status BOOLEAN NOT NULL DEFAULT FALSE,
  source TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_events_order_event_time ON shipment_tracking_events(order_id, event_time)`,
		// One event per (order, status, event time): replays are no-ops.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_tracking_events_dedup ON shipment_tracking_events(order_id, status, event_time)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
