package sqlitestore

import (
	"context"
	"database/sql"

	"github.com/BearBump/OrderFlow/internal/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type productRow struct {
	ID           string `db:"id"`
	SKU          string `db:"sku"`
	Stock        int64  `db:"stock"`
	MinThreshold int64  `db:"min_threshold"`
	MaxThreshold *int64 `db:"max_threshold"`
	CreatedAt    int64  `db:"created_at"`
	UpdatedAt    int64  `db:"updated_at"`
}

func (r productRow) model() *models.Product {
	return &models.Product{
		ID:           r.ID,
		SKU:          r.SKU,
		Stock:        r.Stock,
		MinThreshold: r.MinThreshold,
		MaxThreshold: r.MaxThreshold,
		CreatedAt:    fromNanos(r.CreatedAt),
		UpdatedAt:    fromNanos(r.UpdatedAt),
	}
}

type movementRow struct {
	Seq           int64               `db:"seq"`
	ID            string              `db:"id"`
	ProductID     string              `db:"product_id"`
	Kind          string              `db:"kind"`
	Quantity      int64               `db:"quantity"`
	StockBefore   int64               `db:"stock_before"`
	StockAfter    int64               `db:"stock_after"`
	Reason        string              `db:"reason"`
	ReferenceID   string              `db:"reference_id"`
	ReferenceType string              `db:"reference_type"`
	UnitCost      decimal.NullDecimal `db:"unit_cost"`
	Actor         string              `db:"actor"`
	CreatedAt     int64               `db:"created_at"`
}

func (r movementRow) model() *models.InventoryMovement {
	return &models.InventoryMovement{
		ID:            r.ID,
		Seq:           r.Seq,
		ProductID:     r.ProductID,
		Kind:          models.MovementKind(r.Kind),
		Quantity:      r.Quantity,
		StockBefore:   r.StockBefore,
		StockAfter:    r.StockAfter,
		Reason:        r.Reason,
		ReferenceID:   r.ReferenceID,
		ReferenceType: r.ReferenceType,
		UnitCost:      r.UnitCost,
		Actor:         r.Actor,
		CreatedAt:     fromNanos(r.CreatedAt),
	}
}

func (s *Storage) CreateProduct(ctx context.Context, p *models.Product) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM products WHERE id = ?`, p.ID); err != nil {
		return errors.Wrap(err, "check product")
	}
	if n > 0 {
		return errors.Wrapf(models.ErrInvalidInput, "product %s already exists", p.ID)
	}

	at := toNanos(p.CreatedAt)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO products(id, sku, stock, min_threshold, max_threshold, created_at, updated_at)
		VALUES (?, ?, 0, ?, ?, ?, ?)
	`, p.ID, p.SKU, p.MinThreshold, p.MaxThreshold, at, at); err != nil {
		return errors.Wrap(err, "insert product")
	}
	return errors.Wrap(tx.Commit(), "commit tx")
}

func (s *Storage) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var row productRow
	err := s.db.GetContext(ctx, &row, `
		SELECT id, sku, stock, min_threshold, max_threshold, created_at, updated_at
		FROM products WHERE id = ?
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrProductNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select product")
	}
	return row.model(), nil
}

func (s *Storage) UpdateThresholds(ctx context.Context, id string, min int64, max *int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products SET min_threshold = ?, max_threshold = ?, updated_at = ? WHERE id = ?
	`, min, max, toNanos(timeNow()), id)
	if err != nil {
		return errors.Wrap(err, "update thresholds")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrProductNotFound
	}
	return nil
}

// ApplyMovement reads the stock and writes stock plus ledger row in one
// transaction. The single connection keeps read-check-write atomic.
func (s *Storage) ApplyMovement(ctx context.Context, m *models.InventoryMovement) (models.MovementResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.MovementResult{}, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	var current int64
	err = tx.GetContext(ctx, &current, `SELECT stock FROM products WHERE id = ?`, m.ProductID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.MovementResult{}, models.ErrProductNotFound
	}
	if err != nil {
		return models.MovementResult{}, errors.Wrap(err, "select stock")
	}

	next, err := models.CheckedNextStock(m.Kind, current, m.Quantity)
	if err != nil {
		return models.MovementResult{}, errors.Wrapf(err, "product %s", m.ProductID)
	}
	if next < 0 {
		return models.MovementResult{}, errors.Wrapf(models.ErrInsufficientStock,
			"product %s: stock %d, requested %d", m.ProductID, current, m.Quantity)
	}

	at := toNanos(m.CreatedAt)
	var last sql.NullInt64
	if err := tx.GetContext(ctx, &last, `SELECT MAX(created_at) FROM inventory_movements WHERE product_id = ?`, m.ProductID); err != nil {
		return models.MovementResult{}, errors.Wrap(err, "select last movement")
	}
	if last.Valid && at < last.Int64 {
		at = last.Int64
	}
	m.CreatedAt = fromNanos(at)

	if _, err := tx.ExecContext(ctx, `UPDATE products SET stock = ?, updated_at = ? WHERE id = ?`, next, at, m.ProductID); err != nil {
		return models.MovementResult{}, errors.Wrap(err, "update stock")
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO inventory_movements(
		  id, product_id, kind, quantity, stock_before, stock_after,
		  reason, reference_id, reference_type, unit_cost, actor, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ID, m.ProductID, string(m.Kind), m.Quantity, current, next,
		m.Reason, m.ReferenceID, m.ReferenceType, m.UnitCost, m.Actor, at)
	if err != nil {
		return models.MovementResult{}, errors.Wrap(err, "insert movement")
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return models.MovementResult{}, errors.Wrap(err, "movement seq")
	}

	if err := tx.Commit(); err != nil {
		return models.MovementResult{}, errors.Wrap(err, "commit tx")
	}

	m.Seq, m.StockBefore, m.StockAfter = seq, current, next
	return models.MovementResult{PreviousStock: current, NewStock: next, MovementID: m.ID}, nil
}

const movementColumns = `seq, id, product_id, kind, quantity, stock_before, stock_after,
  reason, reference_id, reference_type, unit_cost, actor, created_at`

func (s *Storage) ListMovements(ctx context.Context, productID string) ([]*models.InventoryMovement, error) {
	return s.selectMovements(ctx, `SELECT `+movementColumns+`
		FROM inventory_movements WHERE product_id = ?
		ORDER BY seq ASC`, productID)
}

func (s *Storage) ListMovementsByReference(ctx context.Context, refType, refID string) ([]*models.InventoryMovement, error) {
	return s.selectMovements(ctx, `SELECT `+movementColumns+`
		FROM inventory_movements WHERE reference_type = ? AND reference_id = ?
		ORDER BY seq ASC`, refType, refID)
}

func (s *Storage) selectMovements(ctx context.Context, q string, args ...any) ([]*models.InventoryMovement, error) {
	var rows []movementRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, errors.Wrap(err, "select movements")
	}
	out := make([]*models.InventoryMovement, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}
	return out, nil
}
