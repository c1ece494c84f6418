package sqlitestore

import (
	"context"
	"database/sql"
	"time"

	"github.com/BearBump/OrderFlow/internal/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type orderRow struct {
	ID         string          `db:"id"`
	CustomerID string          `db:"customer_id"`
	Status     string          `db:"status"`
	Total      decimal.Decimal `db:"total"`
	CreatedAt  int64           `db:"created_at"`
	UpdatedAt  int64           `db:"updated_at"`
}

type orderItemRow struct {
	ProductID string          `db:"product_id"`
	Quantity  int64           `db:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price"`
}

type historyRow struct {
	ID             string  `db:"id"`
	OrderID        string  `db:"order_id"`
	PreviousStatus string  `db:"previous_status"`
	NewStatus      string  `db:"new_status"`
	Note           string  `db:"note"`
	Actor          string  `db:"actor"`
	RequestID      *string `db:"request_id"`
	CreatedAt      int64   `db:"created_at"`
}

func (r historyRow) model() *models.OrderStatusHistory {
	h := &models.OrderStatusHistory{
		ID:             r.ID,
		OrderID:        r.OrderID,
		PreviousStatus: models.OrderStatus(r.PreviousStatus),
		NewStatus:      models.OrderStatus(r.NewStatus),
		Note:           r.Note,
		Actor:          r.Actor,
		CreatedAt:      fromNanos(r.CreatedAt),
	}
	if r.RequestID != nil {
		h.RequestID = *r.RequestID
	}
	return h
}

func (s *Storage) CreateOrder(ctx context.Context, o *models.Order) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	at := toNanos(o.CreatedAt)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO orders(id, customer_id, status, total, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, o.ID, o.CustomerID, string(o.Status), o.Total, at, at); err != nil {
		return errors.Wrap(err, "insert order")
	}

	for i, it := range o.Items {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO order_items(order_id, line_no, product_id, quantity, unit_price)
			VALUES (?, ?, ?, ?, ?)
		`, o.ID, i+1, it.ProductID, it.Quantity, it.UnitPrice); err != nil {
			return errors.Wrap(err, "insert order item")
		}
	}

	return errors.Wrap(tx.Commit(), "commit tx")
}

func (s *Storage) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	var row orderRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, customer_id, status, total, created_at, updated_at FROM orders WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}

	var items []orderItemRow
	if err := s.db.SelectContext(ctx, &items, `
		SELECT product_id, quantity, unit_price FROM order_items WHERE order_id = ? ORDER BY line_no ASC
	`, id); err != nil {
		return nil, errors.Wrap(err, "select order items")
	}

	o := &models.Order{
		ID:         row.ID,
		CustomerID: row.CustomerID,
		Status:     models.OrderStatus(row.Status),
		Total:      row.Total,
		CreatedAt:  fromNanos(row.CreatedAt),
		UpdatedAt:  fromNanos(row.UpdatedAt),
	}
	for _, it := range items {
		o.Items = append(o.Items, models.OrderItem{ProductID: it.ProductID, Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}
	return o, nil
}

const historyColumns = `id, order_id, previous_status, new_status, note, actor, request_id, created_at`

func (s *Storage) ListOrderHistory(ctx context.Context, orderID string) ([]*models.OrderStatusHistory, error) {
	var rows []historyRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+historyColumns+`
		FROM order_status_history WHERE order_id = ? ORDER BY seq ASC`, orderID); err != nil {
		return nil, errors.Wrap(err, "select history")
	}
	out := make([]*models.OrderStatusHistory, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}

func (s *Storage) GetHistoryByRequestID(ctx context.Context, orderID, requestID string) (*models.OrderStatusHistory, error) {
	var row historyRow
	err := s.db.GetContext(ctx, &row, `SELECT `+historyColumns+`
		FROM order_status_history WHERE order_id = ? AND request_id = ?`, orderID, requestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select history by request")
	}
	return row.model(), nil
}

// CommitTransition is a compare-and-set on the order status plus a history
// insert. CreatedAt never goes backwards within one order.
func (s *Storage) CommitTransition(ctx context.Context, h *models.OrderStatusHistory) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	at := toNanos(h.CreatedAt.Truncate(time.Microsecond))
	var last sql.NullInt64
	if err := tx.GetContext(ctx, &last, `SELECT MAX(created_at) FROM order_status_history WHERE order_id = ?`, h.OrderID); err != nil {
		return errors.Wrap(err, "select last history")
	}
	if last.Valid && at <= last.Int64 {
		at = last.Int64 + int64(time.Microsecond)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, string(h.NewStatus), at, h.OrderID, string(h.PreviousStatus))
	if err != nil {
		return errors.Wrap(err, "update order status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var cnt int
		if err := tx.GetContext(ctx, &cnt, `SELECT COUNT(*) FROM orders WHERE id = ?`, h.OrderID); err != nil {
			return errors.Wrap(err, "check order")
		}
		if cnt == 0 {
			return models.ErrOrderNotFound
		}
		return models.ErrStaleOrder
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO order_status_history(id, order_id, previous_status, new_status, note, actor, request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, h.ID, h.OrderID, string(h.PreviousStatus), string(h.NewStatus), h.Note, h.Actor, nullString(h.RequestID), at); err != nil {
		return errors.Wrap(err, "insert history")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	h.CreatedAt = fromNanos(at)
	return nil
}
