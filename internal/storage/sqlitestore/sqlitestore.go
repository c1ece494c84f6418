// Package sqlitestore is the embedded single-node storage. One connection
// serializes every transaction, which stands in for row locks.
package sqlitestore

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

type Storage struct {
	db *sqlx.DB
}

// New opens (or creates) the database at path. ":memory:" is fine for tests.
func New(path string) (*Storage, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// Inside a transaction never touch s.db, only tx: with a single
	// connection that would block forever.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping sqlite")
	}

	s := &Storage{db: db}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewFromDB wraps an already opened handle without touching the schema.
func NewFromDB(db *sqlx.DB) *Storage {
	return &Storage{db: db}
}

func (s *Storage) Ping(ctx context.Context) error {
	return errors.Wrap(s.db.PingContext(ctx), "sqlite ping")
}

func (s *Storage) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

var timeNow = time.Now

// Время храним как unix nanos (INTEGER), чтобы сортировка была точной.
func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func toNullNanos(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	n := toNanos(*t)
	return &n
}

func fromNullNanos(n *int64) *time.Time {
	if n == nil {
		return nil
	}
	t := fromNanos(*n)
	return &t
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *Storage) initSchema(ctx context.Context) error {
	schema := `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS products(
  id TEXT PRIMARY KEY,
  sku TEXT NOT NULL DEFAULT '',
  stock INTEGER NOT NULL CHECK (stock >= 0),
  min_threshold INTEGER NOT NULL DEFAULT 0,
  max_threshold INTEGER NULL,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS inventory_movements(
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  product_id TEXT NOT NULL REFERENCES products(id),
  kind TEXT NOT NULL,
  quantity INTEGER NOT NULL CHECK (quantity >= 0),
  stock_before INTEGER NOT NULL,
  stock_after INTEGER NOT NULL CHECK (stock_after >= 0),
  reason TEXT NOT NULL DEFAULT '',
  reference_id TEXT NOT NULL DEFAULT '',
  reference_type TEXT NOT NULL DEFAULT '',
  unit_cost TEXT NULL,
  actor TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_inventory_movements_product ON inventory_movements(product_id, seq);
CREATE INDEX IF NOT EXISTS idx_inventory_movements_reference ON inventory_movements(reference_type, reference_id);

CREATE TABLE IF NOT EXISTS stock_alerts(
  id TEXT PRIMARY KEY,
  product_id TEXT NOT NULL REFERENCES products(id),
  kind TEXT NOT NULL,
  threshold INTEGER NOT NULL,
  quantity INTEGER NOT NULL,
  active INTEGER NOT NULL DEFAULT 1,
  triggered_at INTEGER NOT NULL,
  resolved_at INTEGER NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_stock_alerts_active ON stock_alerts(product_id, kind) WHERE active = 1;

CREATE TABLE IF NOT EXISTS orders(
  id TEXT PRIMARY KEY,
  customer_id TEXT NOT NULL,
  status TEXT NOT NULL,
  total TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS order_items(
  order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  line_no INTEGER NOT NULL,
  product_id TEXT NOT NULL,
  quantity INTEGER NOT NULL CHECK (quantity > 0),
  unit_price TEXT NOT NULL,
  PRIMARY KEY (order_id, line_no)
);

CREATE TABLE IF NOT EXISTS order_status_history(
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  order_id TEXT NOT NULL REFERENCES orders(id),
  previous_status TEXT NOT NULL,
  new_status TEXT NOT NULL,
  note TEXT NOT NULL DEFAULT '',
  actor TEXT NOT NULL DEFAULT '',
  request_id TEXT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_order_status_history_order ON order_status_history(order_id, seq);
CREATE UNIQUE INDEX IF NOT EXISTS uq_order_status_history_request ON order_status_history(order_id, request_id) WHERE request_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS shipments(
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL UNIQUE REFERENCES orders(id),
  carrier TEXT NOT NULL,
  service TEXT NOT NULL DEFAULT '',
  tracking_number TEXT NOT NULL,
  cost TEXT NOT NULL DEFAULT '0',
  weight_kg TEXT NOT NULL DEFAULT '0',
  status TEXT NOT NULL,
  estimated_delivery INTEGER NULL,
  actual_delivery INTEGER NULL,
  last_checked_at INTEGER NULL,
  next_check_at INTEGER NOT NULL,
  check_fail_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT NULL,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_shipments_next_check_at ON shipments(next_check_at);

CREATE TABLE IF NOT EXISTS shipment_tracking_events(
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  shipment_id TEXT NOT NULL REFERENCES shipments(id),
  status TEXT NOT NULL,
  status_raw TEXT NOT NULL DEFAULT '',
  location TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  event_time INTEGER NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_shipment_tracking_events_dedup
  ON shipment_tracking_events(shipment_id, status, event_time, location, description);
`
	_, err := s.db.ExecContext(ctx, schema)
	return errors.Wrap(err, "init schema")
}
