package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/OrderFlow/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) CreateOrder(ctx context.Context, o *models.Order) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
INSERT INTO orders (id, customer_id, status, total, created_at, updated_at)
VALUES ($1,$2,$3,$4::numeric,$5,$5)
`, o.ID, o.CustomerID, o.Status, decimalArg(o.Total), o.CreatedAt.UTC())
	if err != nil {
		return errors.Wrap(err, "insert order")
	}

	for i, it := range o.Items {
		_, err := tx.Exec(ctx, `
INSERT INTO order_items (order_id, line_no, product_id, quantity, unit_price)
VALUES ($1,$2,$3,$4,$5::numeric)
`, o.ID, i+1, it.ProductID, it.Quantity, decimalArg(it.UnitPrice))
		if err != nil {
			return errors.Wrap(err, "insert order item")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

func (s *Storage) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	var total string
	err := s.db.QueryRow(ctx, `
SELECT id, customer_id, status, total::text, created_at, updated_at
FROM orders
WHERE id = $1
`, id).Scan(&o.ID, &o.CustomerID, &o.Status, &total, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}
	if o.Total, err = parseDecimal(total); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
SELECT product_id, quantity, unit_price::text
FROM order_items
WHERE order_id = $1
ORDER BY line_no ASC
`, id)
	if err != nil {
		return nil, errors.Wrap(err, "select order items")
	}
	defer rows.Close()

	for rows.Next() {
		var it models.OrderItem
		var price string
		if err := rows.Scan(&it.ProductID, &it.Quantity, &price); err != nil {
			return nil, errors.Wrap(err, "scan order item")
		}
		if it.UnitPrice, err = parseDecimal(price); err != nil {
			return nil, err
		}
		o.Items = append(o.Items, it)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	o.CreatedAt, o.UpdatedAt = o.CreatedAt.UTC(), o.UpdatedAt.UTC()
	return &o, nil
}

const historyColumns = `id, order_id, previous_status, new_status, note, actor, COALESCE(request_id, ''), created_at`

func scanHistory(row pgx.Row) (*models.OrderStatusHistory, error) {
	var h models.OrderStatusHistory
	if err := row.Scan(&h.ID, &h.OrderID, &h.PreviousStatus, &h.NewStatus, &h.Note, &h.Actor, &h.RequestID, &h.CreatedAt); err != nil {
		return nil, err
	}
	h.CreatedAt = h.CreatedAt.UTC()
	return &h, nil
}

func (s *Storage) ListOrderHistory(ctx context.Context, orderID string) ([]*models.OrderStatusHistory, error) {
	rows, err := s.db.Query(ctx, `SELECT `+historyColumns+`
FROM order_status_history
WHERE order_id = $1
ORDER BY seq ASC
`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "select history")
	}
	defer rows.Close()

	var out []*models.OrderStatusHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan history")
		}
		out = append(out, h)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) GetHistoryByRequestID(ctx context.Context, orderID, requestID string) (*models.OrderStatusHistory, error) {
	h, err := scanHistory(s.db.QueryRow(ctx, `SELECT `+historyColumns+`
FROM order_status_history
WHERE order_id = $1 AND request_id = $2
`, orderID, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select history by request")
	}
	return h, nil
}

// CommitTransition moves the order from h.PreviousStatus to h.NewStatus
// (compare-and-set) and appends the history row. CreatedAt is bumped past
// the order's last history entry so history stays strictly monotonic.
func (s *Storage) CommitTransition(ctx context.Context, h *models.OrderStatusHistory) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	at := h.CreatedAt.UTC().Truncate(time.Microsecond)
	var last *time.Time
	if err := tx.QueryRow(ctx, `SELECT max(created_at) FROM order_status_history WHERE order_id = $1`, h.OrderID).Scan(&last); err != nil {
		return errors.Wrap(err, "select last history")
	}
	if last != nil && !at.After(*last) {
		at = last.UTC().Add(time.Microsecond)
	}

	tag, err := tx.Exec(ctx, `
UPDATE orders SET status = $3, updated_at = $4 WHERE id = $1 AND status = $2
`, h.OrderID, h.PreviousStatus, h.NewStatus, at)
	if err != nil {
		return errors.Wrap(err, "update order status")
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, h.OrderID).Scan(&exists); err != nil {
			return errors.Wrap(err, "check order")
		}
		if !exists {
			return models.ErrOrderNotFound
		}
		return models.ErrStaleOrder
	}

	_, err = tx.Exec(ctx, `
INSERT INTO order_status_history (id, order_id, previous_status, new_status, note, actor, request_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, h.ID, h.OrderID, h.PreviousStatus, h.NewStatus, h.Note, h.Actor, nullString(h.RequestID), at)
	if err != nil {
		return errors.Wrap(err, "insert history")
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	h.CreatedAt = at
	return nil
}
