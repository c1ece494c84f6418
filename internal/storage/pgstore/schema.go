package pgstore

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS products (
  id TEXT PRIMARY KEY,
  sku TEXT NOT NULL DEFAULT '',
  stock BIGINT NOT NULL CHECK (stock >= 0),
  min_threshold BIGINT NOT NULL DEFAULT 0,
  max_threshold BIGINT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS inventory_movements (
  seq BIGSERIAL PRIMARY KEY,
  id TEXT NOT NULL UNIQUE,
  product_id TEXT NOT NULL REFERENCES products(id),
  kind TEXT NOT NULL,
  quantity BIGINT NOT NULL CHECK (quantity >= 0),
  stock_before BIGINT NOT NULL,
  stock_after BIGINT NOT NULL CHECK (stock_after >= 0),
  reason TEXT NOT NULL DEFAULT '',
  reference_id TEXT NOT NULL DEFAULT '',
  reference_type TEXT NOT NULL DEFAULT '',
  unit_cost NUMERIC(14,4) NULL,
  actor TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_inventory_movements_product ON inventory_movements(product_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_inventory_movements_reference ON inventory_movements(reference_type, reference_id)`,
		`
CREATE TABLE IF NOT EXISTS stock_alerts (
  id TEXT PRIMARY KEY,
  product_id TEXT NOT NULL REFERENCES products(id),
  kind TEXT NOT NULL,
  threshold BIGINT NOT NULL,
  quantity BIGINT NOT NULL,
  active BOOLEAN NOT NULL DEFAULT TRUE,
  triggered_at TIMESTAMPTZ NOT NULL,
  resolved_at TIMESTAMPTZ NULL
)`,
		// Не больше одного активного алерта на (product, kind).
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_stock_alerts_active ON stock_alerts(product_id, kind) WHERE active`,
		`
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  customer_id TEXT NOT NULL,
  status TEXT NOT NULL,
  total NUMERIC(14,2) NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS order_items (
  order_id TEXT NOT NULL REFERENCES orders(id),
  line_no INT NOT NULL,
  product_id TEXT NOT NULL,
  quantity BIGINT NOT NULL CHECK (quantity > 0),
  unit_price NUMERIC(14,2) NOT NULL,
  PRIMARY KEY (order_id, line_no)
)`,
		`
CREATE TABLE IF NOT EXISTS order_status_history (
  seq BIGSERIAL PRIMARY KEY,
  id TEXT NOT NULL UNIQUE,
  order_id TEXT NOT NULL REFERENCES orders(id),
  previous_status TEXT NOT NULL,
  new_status TEXT NOT NULL,
  note TEXT NOT NULL DEFAULT '',
  actor TEXT NOT NULL DEFAULT '',
  request_id TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_order_status_history_order ON order_status_history(order_id, seq)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_order_status_history_request ON order_status_history(order_id, request_id) WHERE request_id IS NOT NULL`,
		`
CREATE TABLE IF NOT EXISTS shipments (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL UNIQUE REFERENCES orders(id),
  carrier TEXT NOT NULL,
  service TEXT NOT NULL DEFAULT '',
  tracking_number TEXT NOT NULL,
  cost NUMERIC(14,2) NOT NULL DEFAULT 0,
  weight_kg NUMERIC(10,3) NOT NULL DEFAULT 0,
  status TEXT NOT NULL,
  estimated_delivery TIMESTAMPTZ NULL,
  actual_delivery TIMESTAMPTZ NULL,
  last_checked_at TIMESTAMPTZ NULL,
  next_check_at TIMESTAMPTZ NOT NULL,
  check_fail_count INT NOT NULL DEFAULT 0,
  last_error TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_shipments_next_check_at ON shipments(next_check_at)`,
		`
CREATE TABLE IF NOT EXISTS shipment_tracking_events (
  seq BIGSERIAL PRIMARY KEY,
  id TEXT NOT NULL UNIQUE,
  shipment_id TEXT NOT NULL REFERENCES shipments(id),
  status TEXT NOT NULL,
  status_raw TEXT NOT NULL DEFAULT '',
  location TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  event_time TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		// Enforce de-duplication of events for a shipment.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_shipment_tracking_events_dedup ON shipment_tracking_events(shipment_id, status, event_time, location, description)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
