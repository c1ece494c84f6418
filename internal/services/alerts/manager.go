package alerts

import (
	"context"
	"time"

	"github.com/BearBump/OrderFlow/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	DefaultRecipient = "inventory-managers"
	NotificationKind = "stock_alert"
)

type Repository interface {
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	// GetActiveAlert returns (nil, nil) when there is no active alert.
	GetActiveAlert(ctx context.Context, productID string, kind models.AlertKind) (*models.StockAlert, error)
	InsertAlert(ctx context.Context, a *models.StockAlert) error
	ResolveAlert(ctx context.Context, id string, at time.Time) error
	ListActiveAlerts(ctx context.Context, productID string) ([]*models.StockAlert, error)
}

type Notifier interface {
	Notify(ctx context.Context, recipientID, kind string, payload map[string]any) error
}

type Manager struct {
	repo        Repository
	notifier    Notifier
	recipient   string
	autoResolve bool
	log         *zap.Logger
	now         func() time.Time
}

func New(repo Repository, notifier Notifier) *Manager {
	return &Manager{
		repo:      repo,
		notifier:  notifier,
		recipient: DefaultRecipient,
		log:       zap.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *Manager) WithLogger(log *zap.Logger) *Manager {
	if log != nil {
		m.log = log
	}
	return m
}

func (m *Manager) WithRecipient(recipient string) *Manager {
	if recipient != "" {
		m.recipient = recipient
	}
	return m
}

// WithAutoResolve makes Evaluate resolve active alerts whose condition no
// longer holds.
func (m *Manager) WithAutoResolve(on bool) *Manager {
	m.autoResolve = on
	return m
}

type condition struct {
	kind      models.AlertKind
	threshold int64
}

func conditions(p *models.Product, qty int64) []condition {
	var out []condition
	switch {
	case qty == 0:
		out = append(out, condition{kind: models.AlertOutOfStock, threshold: 0})
	case qty <= p.MinThreshold:
		out = append(out, condition{kind: models.AlertLowStock, threshold: p.MinThreshold})
	}
	if p.MaxThreshold != nil && qty > *p.MaxThreshold {
		out = append(out, condition{kind: models.AlertOverstock, threshold: *p.MaxThreshold})
	}
	return out
}

// Evaluate raises at most one active alert per (product, kind) for the
// conditions that hold at currentQty.
func (m *Manager) Evaluate(ctx context.Context, productID string, currentQty int64) error {
	p, err := m.repo.GetProduct(ctx, productID)
	if err != nil {
		return err
	}

	holding := conditions(p, currentQty)
	for _, c := range holding {
		if err := m.raise(ctx, p, c, currentQty); err != nil {
			return err
		}
	}

	if m.autoResolve {
		return m.resolveStale(ctx, productID, holding)
	}
	return nil
}

func (m *Manager) raise(ctx context.Context, p *models.Product, c condition, qty int64) error {
	existing, err := m.repo.GetActiveAlert(ctx, p.ID, c.kind)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	a := &models.StockAlert{
		ID:          uuid.NewString(),
		ProductID:   p.ID,
		Kind:        c.kind,
		Threshold:   c.threshold,
		Quantity:    qty,
		TriggeredAt: m.now(),
	}
	err = m.repo.InsertAlert(ctx, a)
	if errors.Is(err, models.ErrAlreadyActiveAlert) {
		// проиграли гонку, алерт уже поднят другим
		return nil
	}
	if err != nil {
		return err
	}

	m.log.Info("stock alert raised",
		zap.String("alert_id", a.ID),
		zap.String("product_id", p.ID),
		zap.String("kind", string(c.kind)),
		zap.Int64("quantity", qty),
	)

	if m.notifier != nil {
		payload := map[string]any{
			"alert_id":   a.ID,
			"product_id": p.ID,
			"sku":        p.SKU,
			"kind":       string(c.kind),
			"severity":   string(c.kind.Severity()),
			"threshold":  c.threshold,
			"quantity":   qty,
		}
		if err := m.notifier.Notify(ctx, m.recipient, NotificationKind, payload); err != nil {
			m.log.Warn("stock alert notification failed", zap.String("alert_id", a.ID), zap.Error(err))
		}
	}
	return nil
}

func (m *Manager) resolveStale(ctx context.Context, productID string, holding []condition) error {
	active, err := m.repo.ListActiveAlerts(ctx, productID)
	if err != nil {
		return err
	}
	for _, a := range active {
		stillHolds := false
		for _, c := range holding {
			if c.kind == a.Kind {
				stillHolds = true
				break
			}
		}
		if stillHolds {
			continue
		}
		err := m.repo.ResolveAlert(ctx, a.ID, m.now())
		if err != nil && !errors.Is(err, models.ErrAlertNotFound) {
			return err
		}
		m.log.Info("stock alert auto-resolved", zap.String("alert_id", a.ID), zap.String("kind", string(a.Kind)))
	}
	return nil
}

// Resolve closes an active alert. Missing or already resolved alerts are
// ErrAlertNotFound.
func (m *Manager) Resolve(ctx context.Context, alertID string) error {
	if alertID == "" {
		return errors.Wrap(models.ErrInvalidInput, "alertId is required")
	}
	return m.repo.ResolveAlert(ctx, alertID, m.now())
}

// ListActive returns active alerts of a product, or of every product when
// productID is empty.
func (m *Manager) ListActive(ctx context.Context, productID string) ([]*models.StockAlert, error) {
	return m.repo.ListActiveAlerts(ctx, productID)
}
