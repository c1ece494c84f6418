package sqlitestore

import (
	"context"
	"database/sql"
	"time"

	"github.com/BearBump/OrderFlow/internal/models"
	"github.com/pkg/errors"
)

type alertRow struct {
	ID          string `db:"id"`
	ProductID   string `db:"product_id"`
	Kind        string `db:"kind"`
	Threshold   int64  `db:"threshold"`
	Quantity    int64  `db:"quantity"`
	Active      bool   `db:"active"`
	TriggeredAt int64  `db:"triggered_at"`
	ResolvedAt  *int64 `db:"resolved_at"`
}

func (r alertRow) model() *models.StockAlert {
	return &models.StockAlert{
		ID:          r.ID,
		ProductID:   r.ProductID,
		Kind:        models.AlertKind(r.Kind),
		Threshold:   r.Threshold,
		Quantity:    r.Quantity,
		Active:      r.Active,
		TriggeredAt: fromNanos(r.TriggeredAt),
		ResolvedAt:  fromNullNanos(r.ResolvedAt),
	}
}

const alertColumns = `id, product_id, kind, threshold, quantity, active, triggered_at, resolved_at`

func (s *Storage) GetActiveAlert(ctx context.Context, productID string, kind models.AlertKind) (*models.StockAlert, error) {
	var row alertRow
	err := s.db.GetContext(ctx, &row, `SELECT `+alertColumns+`
		FROM stock_alerts WHERE product_id = ? AND kind = ? AND active = 1`, productID, string(kind))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select active alert")
	}
	return row.model(), nil
}

// InsertAlert: the partial unique index decides; a lost race is
// ErrAlreadyActiveAlert.
func (s *Storage) InsertAlert(ctx context.Context, a *models.StockAlert) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_alerts(id, product_id, kind, threshold, quantity, active, triggered_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT DO NOTHING
	`, a.ID, a.ProductID, string(a.Kind), a.Threshold, a.Quantity, toNanos(a.TriggeredAt))
	if err != nil {
		return errors.Wrap(err, "insert alert")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrAlreadyActiveAlert
	}
	a.Active = true
	return nil
}

func (s *Storage) ResolveAlert(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stock_alerts SET active = 0, resolved_at = ? WHERE id = ? AND active = 1
	`, toNanos(at), id)
	if err != nil {
		return errors.Wrap(err, "resolve alert")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrAlertNotFound
	}
	return nil
}

func (s *Storage) ListActiveAlerts(ctx context.Context, productID string) ([]*models.StockAlert, error) {
	q := `SELECT ` + alertColumns + ` FROM stock_alerts WHERE active = 1`
	var args []any
	if productID != "" {
		q += ` AND product_id = ?`
		args = append(args, productID)
	}
	q += ` ORDER BY triggered_at ASC`

	var rows []alertRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "select active alerts")
	}
	out := make([]*models.StockAlert, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}
