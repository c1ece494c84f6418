package inventory

import (
	"context"
	"time"

	"github.com/BearBump/OrderFlow/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Repository interface {
	CreateProduct(ctx context.Context, p *models.Product) error
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	UpdateThresholds(ctx context.Context, id string, min int64, max *int64) error
	ApplyMovement(ctx context.Context, m *models.InventoryMovement) (models.MovementResult, error)
	ListMovements(ctx context.Context, productID string) ([]*models.InventoryMovement, error)
	ListMovementsByReference(ctx context.Context, refType, refID string) ([]*models.InventoryMovement, error)
}

// AlertEvaluator is run after every committed movement.
type AlertEvaluator interface {
	Evaluate(ctx context.Context, productID string, currentQty int64) error
}

// Ledger is the only writer of product stock. Every change is a movement.
type Ledger struct {
	repo   Repository
	alerts AlertEvaluator
	log    *zap.Logger
	now    func() time.Time
}

func New(repo Repository, alerts AlertEvaluator) *Ledger {
	return &Ledger{
		repo:   repo,
		alerts: alerts,
		log:    zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (l *Ledger) WithLogger(log *zap.Logger) *Ledger {
	if log != nil {
		l.log = log
	}
	return l
}

func validateMovement(in models.MovementInput) error {
	if in.ProductID == "" {
		return errors.Wrap(models.ErrInvalidInput, "productId is required")
	}
	if !in.Kind.Valid() {
		return errors.Wrapf(models.ErrInvalidInput, "unknown movement kind %q", in.Kind)
	}
	if in.Kind == models.MovementAdjustment {
		if in.Quantity < 0 {
			return errors.Wrap(models.ErrInvalidInput, "adjustment target must be >= 0")
		}
		return nil
	}
	if in.Quantity <= 0 {
		return errors.Wrap(models.ErrInvalidInput, "quantity must be positive")
	}
	return nil
}

// ApplyMovement records one movement and updates the stock atomically.
// InsufficientStock leaves both stock and ledger untouched.
func (l *Ledger) ApplyMovement(ctx context.Context, in models.MovementInput) (models.MovementResult, error) {
	if err := validateMovement(in); err != nil {
		return models.MovementResult{}, err
	}

	m := &models.InventoryMovement{
		ID:            uuid.NewString(),
		ProductID:     in.ProductID,
		Kind:          in.Kind,
		Quantity:      in.Quantity,
		Reason:        in.Reason,
		ReferenceID:   in.ReferenceID,
		ReferenceType: in.ReferenceType,
		UnitCost:      in.UnitCost,
		Actor:         in.Actor,
		CreatedAt:     l.now(),
	}
	res, err := l.repo.ApplyMovement(ctx, m)
	if err != nil {
		return models.MovementResult{}, err
	}

	l.log.Debug("movement applied",
		zap.String("product_id", in.ProductID),
		zap.String("kind", string(in.Kind)),
		zap.Int64("quantity", in.Quantity),
		zap.Int64("stock_before", res.PreviousStock),
		zap.Int64("stock_after", res.NewStock),
		zap.String("reference_id", in.ReferenceID),
	)

	// Алерты не должны откатывать уже записанное движение.
	if l.alerts != nil {
		if err := l.alerts.Evaluate(ctx, in.ProductID, res.NewStock); err != nil {
			l.log.Warn("alert evaluation failed", zap.String("product_id", in.ProductID), zap.Error(err))
		}
	}
	return res, nil
}

// QuerySufficiency is advisory: stock may change before the movement lands.
func (l *Ledger) QuerySufficiency(ctx context.Context, productID string, qty int64) (models.Sufficiency, error) {
	p, err := l.repo.GetProduct(ctx, productID)
	if err != nil {
		return models.Sufficiency{}, err
	}
	return models.Sufficiency{Sufficient: p.Stock >= qty, CurrentStock: p.Stock}, nil
}

func (l *Ledger) AdjustStock(ctx context.Context, productID string, newAbsolute int64, reason, actor string) (models.MovementResult, error) {
	return l.ApplyMovement(ctx, models.MovementInput{
		ProductID: productID,
		Quantity:  newAbsolute,
		Kind:      models.MovementAdjustment,
		Reason:    reason,
		Actor:     actor,
	})
}

// RegisterProduct creates the product with zero stock and books the initial
// stock as an "in" movement so the ledger replays to the stored value.
func (l *Ledger) RegisterProduct(ctx context.Context, in models.ProductCreateInput) (*models.Product, error) {
	if in.InitialStock < 0 || in.MinThreshold < 0 {
		return nil, errors.Wrap(models.ErrInvalidInput, "stock and thresholds must be >= 0")
	}
	if in.MaxThreshold != nil && *in.MaxThreshold < in.MinThreshold {
		return nil, errors.Wrap(models.ErrInvalidInput, "max threshold below min threshold")
	}
	if in.ID == "" {
		in.ID = uuid.NewString()
	}

	p := &models.Product{
		ID:           in.ID,
		SKU:          in.SKU,
		MinThreshold: in.MinThreshold,
		MaxThreshold: in.MaxThreshold,
		CreatedAt:    l.now(),
	}
	if err := l.repo.CreateProduct(ctx, p); err != nil {
		return nil, err
	}

	if in.InitialStock > 0 {
		if _, err := l.ApplyMovement(ctx, models.MovementInput{
			ProductID: in.ID,
			Quantity:  in.InitialStock,
			Kind:      models.MovementIn,
			Reason:    "initial stock",
			UnitCost:  in.UnitCost,
			Actor:     in.Actor,
		}); err != nil {
			return nil, errors.Wrap(err, "book initial stock")
		}
	} else if l.alerts != nil {
		if err := l.alerts.Evaluate(ctx, in.ID, 0); err != nil {
			l.log.Warn("alert evaluation failed", zap.String("product_id", in.ID), zap.Error(err))
		}
	}

	return l.repo.GetProduct(ctx, in.ID)
}

// UpdateThresholds changes the alert thresholds and re-evaluates alerts
// against the current stock.
func (l *Ledger) UpdateThresholds(ctx context.Context, productID string, min int64, max *int64) error {
	if min < 0 || (max != nil && *max < min) {
		return errors.Wrap(models.ErrInvalidInput, "invalid thresholds")
	}
	if err := l.repo.UpdateThresholds(ctx, productID, min, max); err != nil {
		return err
	}
	if l.alerts == nil {
		return nil
	}
	p, err := l.repo.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if err := l.alerts.Evaluate(ctx, productID, p.Stock); err != nil {
		l.log.Warn("alert evaluation failed", zap.String("product_id", productID), zap.Error(err))
	}
	return nil
}

func (l *Ledger) GetProduct(ctx context.Context, productID string) (*models.Product, error) {
	return l.repo.GetProduct(ctx, productID)
}

func (l *Ledger) ListMovements(ctx context.Context, productID string) ([]*models.InventoryMovement, error) {
	if _, err := l.repo.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return l.repo.ListMovements(ctx, productID)
}

// OrderMovements returns all movements caused by the order, oldest first.
func (l *Ledger) OrderMovements(ctx context.Context, orderID string) ([]*models.InventoryMovement, error) {
	return l.repo.ListMovementsByReference(ctx, models.ReferenceTypeOrder, orderID)
}

// VerifyLedger replays the product's movements and compares the result
// with the stored stock.
func (l *Ledger) VerifyLedger(ctx context.Context, productID string) (models.LedgerReport, error) {
	p, err := l.repo.GetProduct(ctx, productID)
	if err != nil {
		return models.LedgerReport{}, err
	}
	movs, err := l.repo.ListMovements(ctx, productID)
	if err != nil {
		return models.LedgerReport{}, err
	}
	replayed := models.ReplayStock(movs)
	rep := models.LedgerReport{
		ProductID:  productID,
		Stock:      p.Stock,
		Replayed:   replayed,
		Movements:  len(movs),
		Consistent: replayed == p.Stock,
	}
	if !rep.Consistent {
		l.log.Error("ledger drift detected",
			zap.String("product_id", productID),
			zap.Int64("stock", p.Stock),
			zap.Int64("replayed", replayed),
		)
	}
	return rep, nil
}
