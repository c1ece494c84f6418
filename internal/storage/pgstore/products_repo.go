package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/OrderFlow/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// CreateProduct inserts the stock-bearing view with zero stock. Initial
// stock goes through the ledger as an "in" movement.
func (s *Storage) CreateProduct(ctx context.Context, p *models.Product) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO products (id, sku, stock, min_threshold, max_threshold, created_at, updated_at)
VALUES ($1,$2,0,$3,$4,$5,$5)
`, p.ID, p.SKU, p.MinThreshold, p.MaxThreshold, p.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return errors.Wrapf(models.ErrInvalidInput, "product %s already exists", p.ID)
	}
	return errors.Wrap(err, "insert product")
}

func (s *Storage) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var p models.Product
	err := s.db.QueryRow(ctx, `
SELECT id, sku, stock, min_threshold, max_threshold, created_at, updated_at
FROM products
WHERE id = $1
`, id).Scan(&p.ID, &p.SKU, &p.Stock, &p.MinThreshold, &p.MaxThreshold, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrProductNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select product")
	}
	return &p, nil
}

func (s *Storage) UpdateThresholds(ctx context.Context, id string, min int64, max *int64) error {
	tag, err := s.db.Exec(ctx, `
UPDATE products SET min_threshold = $2, max_threshold = $3, updated_at = now() WHERE id = $1
`, id, min, max)
	if err != nil {
		return errors.Wrap(err, "update thresholds")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrProductNotFound
	}
	return nil
}

// ApplyMovement locks the product row, computes the new stock from the
// locked value and writes stock plus ledger row in one transaction.
func (s *Storage) ApplyMovement(ctx context.Context, m *models.InventoryMovement) (models.MovementResult, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.MovementResult{}, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current int64
	err = tx.QueryRow(ctx, `SELECT stock FROM products WHERE id = $1 FOR UPDATE`, m.ProductID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.MovementResult{}, models.ErrProductNotFound
	}
	if err != nil {
		return models.MovementResult{}, errors.Wrap(err, "lock product")
	}

	next, err := models.CheckedNextStock(m.Kind, current, m.Quantity)
	if err != nil {
		return models.MovementResult{}, errors.Wrapf(err, "product %s", m.ProductID)
	}
	if next < 0 {
		return models.MovementResult{}, errors.Wrapf(models.ErrInsufficientStock,
			"product %s: stock %d, requested %d", m.ProductID, current, m.Quantity)
	}

	// Штамп времени берём под блокировкой строки: не раньше последнего движения.
	at := m.CreatedAt.UTC()
	var last *time.Time
	if err := tx.QueryRow(ctx, `SELECT max(created_at) FROM inventory_movements WHERE product_id = $1`, m.ProductID).Scan(&last); err != nil {
		return models.MovementResult{}, errors.Wrap(err, "select last movement")
	}
	if last != nil && at.Before(*last) {
		at = last.UTC()
	}
	m.CreatedAt = at

	if _, err := tx.Exec(ctx, `UPDATE products SET stock = $2, updated_at = $3 WHERE id = $1`, m.ProductID, next, at); err != nil {
		return models.MovementResult{}, errors.Wrap(err, "update stock")
	}

	err = tx.QueryRow(ctx, `
INSERT INTO inventory_movements (
  id, product_id, kind, quantity, stock_before, stock_after,
  reason, reference_id, reference_type, unit_cost, actor, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10::numeric,$11,$12)
RETURNING seq
`, m.ID, m.ProductID, m.Kind, m.Quantity, current, next,
		m.Reason, m.ReferenceID, m.ReferenceType, nullDecimalArg(m.UnitCost), m.Actor, at).Scan(&m.Seq)
	if err != nil {
		return models.MovementResult{}, errors.Wrap(err, "insert movement")
	}

	if err := tx.Commit(ctx); err != nil {
		return models.MovementResult{}, errors.Wrap(err, "commit tx")
	}

	m.StockBefore, m.StockAfter = current, next
	return models.MovementResult{PreviousStock: current, NewStock: next, MovementID: m.ID}, nil
}

const movementColumns = `
  seq, id, product_id, kind, quantity, stock_before, stock_after,
  reason, reference_id, reference_type, unit_cost::text, actor, created_at`

func (s *Storage) ListMovements(ctx context.Context, productID string) ([]*models.InventoryMovement, error) {
	return s.queryMovements(ctx, `SELECT `+movementColumns+`
FROM inventory_movements
WHERE product_id = $1
ORDER BY seq ASC
`, productID)
}

func (s *Storage) ListMovementsByReference(ctx context.Context, refType, refID string) ([]*models.InventoryMovement, error) {
	return s.queryMovements(ctx, `SELECT `+movementColumns+`
FROM inventory_movements
WHERE reference_type = $1 AND reference_id = $2
ORDER BY seq ASC
`, refType, refID)
}

func (s *Storage) queryMovements(ctx context.Context, q string, args ...any) ([]*models.InventoryMovement, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, "select movements")
	}
	defer rows.Close()

	var out []*models.InventoryMovement
	for rows.Next() {
		var m models.InventoryMovement
		var unitCost *string
		var createdAt time.Time
		if err := rows.Scan(
			&m.Seq, &m.ID, &m.ProductID, &m.Kind, &m.Quantity, &m.StockBefore, &m.StockAfter,
			&m.Reason, &m.ReferenceID, &m.ReferenceType, &unitCost, &m.Actor, &createdAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan movement")
		}
		if m.UnitCost, err = parseNullDecimal(unitCost); err != nil {
			return nil, err
		}
		m.CreatedAt = createdAt.UTC()
		out = append(out, &m)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
