package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/OrderFlow/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) GetActiveAlert(ctx context.Context, productID string, kind models.AlertKind) (*models.StockAlert, error) {
	var a models.StockAlert
	err := s.db.QueryRow(ctx, `
SELECT id, product_id, kind, threshold, quantity, active, triggered_at, resolved_at
FROM stock_alerts
WHERE product_id = $1 AND kind = $2 AND active
`, productID, kind).Scan(&a.ID, &a.ProductID, &a.Kind, &a.Threshold, &a.Quantity, &a.Active, &a.TriggeredAt, &a.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select active alert")
	}
	return &a, nil
}

// InsertAlert relies on the partial unique index; losing the race yields
// ErrAlreadyActiveAlert.
func (s *Storage) InsertAlert(ctx context.Context, a *models.StockAlert) error {
	tag, err := s.db.Exec(ctx, `
INSERT INTO stock_alerts (id, product_id, kind, threshold, quantity, active, triggered_at)
VALUES ($1,$2,$3,$4,$5,TRUE,$6)
ON CONFLICT (product_id, kind) WHERE active DO NOTHING
`, a.ID, a.ProductID, a.Kind, a.Threshold, a.Quantity, a.TriggeredAt.UTC())
	if err != nil {
		return errors.Wrap(err, "insert alert")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrAlreadyActiveAlert
	}
	a.Active = true
	return nil
}

func (s *Storage) ResolveAlert(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
UPDATE stock_alerts SET active = FALSE, resolved_at = $2 WHERE id = $1 AND active
`, id, at.UTC())
	if err != nil {
		return errors.Wrap(err, "resolve alert")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrAlertNotFound
	}
	return nil
}

// ListActiveAlerts returns active alerts of one product, or of all
// products when productID is empty.
func (s *Storage) ListActiveAlerts(ctx context.Context, productID string) ([]*models.StockAlert, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, product_id, kind, threshold, quantity, active, triggered_at, resolved_at
FROM stock_alerts
WHERE active AND ($1 = '' OR product_id = $1)
ORDER BY triggered_at ASC
`, productID)
	if err != nil {
		return nil, errors.Wrap(err, "select alerts")
	}
	defer rows.Close()

	var out []*models.StockAlert
	for rows.Next() {
		var a models.StockAlert
		if err := rows.Scan(&a.ID, &a.ProductID, &a.Kind, &a.Threshold, &a.Quantity, &a.Active, &a.TriggeredAt, &a.ResolvedAt); err != nil {
			return nil, errors.Wrap(err, "scan alert")
		}
		out = append(out, &a)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
