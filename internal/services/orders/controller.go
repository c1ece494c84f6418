package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BearBump/OrderFlow/internal/cache"
	"github.com/BearBump/OrderFlow/internal/lock"
	"github.com/BearBump/OrderFlow/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Task kinds and their queue priorities.
const (
	TaskProcessOrder    = "process_order"
	TaskPrepareShipment = "prepare_shipment"
	TaskTrackDelivery   = "track_delivery"
	TaskFollowUp        = "follow_up"
)

var taskPriority = map[string]int{
	TaskProcessOrder:    2,
	TaskPrepareShipment: 2,
	TaskTrackDelivery:   1,
	TaskFollowUp:        0,
}

var DefaultAccrualRate = decimal.RequireFromString("0.01")

type Repository interface {
	CreateOrder(ctx context.Context, o *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	ListOrderHistory(ctx context.Context, orderID string) ([]*models.OrderStatusHistory, error)
	// GetHistoryByRequestID returns (nil, nil) when the request was not seen.
	GetHistoryByRequestID(ctx context.Context, orderID, requestID string) (*models.OrderStatusHistory, error)
	CommitTransition(ctx context.Context, h *models.OrderStatusHistory) error
}

type Ledger interface {
	QuerySufficiency(ctx context.Context, productID string, qty int64) (models.Sufficiency, error)
	ApplyMovement(ctx context.Context, in models.MovementInput) (models.MovementResult, error)
	OrderMovements(ctx context.Context, orderID string) ([]*models.InventoryMovement, error)
}

type Notifier interface {
	Notify(ctx context.Context, recipientID, kind string, payload map[string]any) error
}

type Loyalty interface {
	Award(ctx context.Context, customerID string, points int64, orderID string) error
}

type TaskQueue interface {
	Enqueue(ctx context.Context, kind, referenceID string, priority int) error
}

// Controller owns the order state machine. Transitions of one order are
// serialized by the locker; the status update itself is a compare-and-set.
type Controller struct {
	repo   Repository
	ledger Ledger
	locker lock.Locker

	notifier Notifier
	loyalty  Loyalty
	tasks    TaskQueue

	cache    cache.BytesCache
	cacheTTL time.Duration

	accrualRate decimal.Decimal
	redirect    bool

	log *zap.Logger
	now func() time.Time
}

func New(repo Repository, ledger Ledger, locker lock.Locker) *Controller {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	return &Controller{
		repo:        repo,
		ledger:      ledger,
		locker:      locker,
		accrualRate: DefaultAccrualRate,
		redirect:    true,
		log:         zap.NewNop(),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (c *Controller) WithLogger(log *zap.Logger) *Controller {
	if log != nil {
		c.log = log
	}
	return c
}

func (c *Controller) WithCollaborators(n Notifier, l Loyalty, q TaskQueue) *Controller {
	c.notifier, c.loyalty, c.tasks = n, l, q
	return c
}

func (c *Controller) WithCache(bc cache.BytesCache, ttl time.Duration) *Controller {
	c.cache, c.cacheTTL = bc, ttl
	return c
}

func (c *Controller) WithAccrualRate(rate decimal.Decimal) *Controller {
	if !rate.IsNegative() {
		c.accrualRate = rate
	}
	return c
}

// WithRedirectOnInsufficientStock switches between redirecting a failed
// processing request to cancelled (default) and returning ErrInsufficientStock.
func (c *Controller) WithRedirectOnInsufficientStock(on bool) *Controller {
	c.redirect = on
	return c
}

// CreateOrder stores a pending order. No history row is written: history
// records transitions only.
func (c *Controller) CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.Order, error) {
	if in.CustomerID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "customerId is required")
	}
	if len(in.Items) == 0 {
		return nil, errors.Wrap(models.ErrInvalidInput, "order has no items")
	}

	total := decimal.Zero
	for i, it := range in.Items {
		if it.ProductID == "" {
			return nil, errors.Wrapf(models.ErrInvalidInput, "item %d: productId is required", i)
		}
		if it.Quantity <= 0 {
			return nil, errors.Wrapf(models.ErrInvalidInput, "item %d: quantity must be positive", i)
		}
		if it.UnitPrice.IsNegative() {
			return nil, errors.Wrapf(models.ErrInvalidInput, "item %d: negative unit price", i)
		}
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(it.Quantity)))
	}

	now := c.now()
	o := &models.Order{
		ID:         uuid.NewString(),
		CustomerID: in.CustomerID,
		Status:     models.OrderStatusPending,
		Total:      total,
		Items:      in.Items,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := c.repo.CreateOrder(ctx, o); err != nil {
		return nil, err
	}
	c.cacheOrder(ctx, o)

	c.log.Info("order created", zap.String("order_id", o.ID), zap.String("total", total.String()))
	return o, nil
}

// GetOrder reads through the cache.
func (c *Controller) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	if c.cache != nil && c.cacheTTL > 0 {
		b, ok, err := c.cache.Get(ctx, currentKey(id))
		if err == nil && ok {
			var o models.Order
			if json.Unmarshal(b, &o) == nil {
				return &o, nil
			}
		}
	}
	o, err := c.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cacheOrder(ctx, o)
	return o, nil
}

// LoadOrder reads the stored order, bypassing the cache. Callers that
// decide on a transition by status use it.
func (c *Controller) LoadOrder(ctx context.Context, id string) (*models.Order, error) {
	o, err := c.repo.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cacheOrder(ctx, o)
	return o, nil
}

func (c *Controller) History(ctx context.Context, orderID string) ([]*models.OrderStatusHistory, error) {
	if _, err := c.repo.GetOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return c.repo.ListOrderHistory(ctx, orderID)
}

type appliedMovement struct {
	productID  string
	quantity   int64
	movementID string
}

// Transition moves the order along the state graph. The returned
// FinalStatus may differ from the requested target: processing is
// redirected to cancelled when stock cannot be committed.
func (c *Controller) Transition(ctx context.Context, req models.TransitionRequest) (models.TransitionResult, error) {
	if req.OrderID == "" {
		return models.TransitionResult{}, errors.Wrap(models.ErrInvalidInput, "orderId is required")
	}

	unlock, err := c.locker.Lock(ctx, "order:"+req.OrderID)
	if err != nil {
		return models.TransitionResult{}, errors.Wrap(err, "lock order")
	}
	defer unlock()

	if req.RequestID != "" {
		h, err := c.repo.GetHistoryByRequestID(ctx, req.OrderID, req.RequestID)
		if err != nil {
			return models.TransitionResult{}, err
		}
		if h != nil {
			c.log.Info("transition replayed",
				zap.String("order_id", req.OrderID),
				zap.String("request_id", req.RequestID),
				zap.String("status", string(h.NewStatus)),
			)
			return models.TransitionResult{FinalStatus: h.NewStatus, HistoryID: h.ID, Replayed: true}, nil
		}
	}

	o, err := c.repo.GetOrder(ctx, req.OrderID)
	if err != nil {
		return models.TransitionResult{}, err
	}
	if !models.CanTransition(o.Status, req.Target) {
		return models.TransitionResult{}, &models.InvalidTransitionError{From: o.Status, To: req.Target}
	}

	final, note := req.Target, req.Note
	var applied []appliedMovement

	switch req.Target {
	case models.OrderStatusProcessing:
		final, note, applied, err = c.commitStock(ctx, o, req)
		if err != nil {
			return models.TransitionResult{}, err
		}
	case models.OrderStatusCancelled, models.OrderStatusReturned:
		if err := c.restoreStock(ctx, o, req); err != nil {
			return models.TransitionResult{}, err
		}
	}

	h := &models.OrderStatusHistory{
		ID:             uuid.NewString(),
		OrderID:        o.ID,
		PreviousStatus: o.Status,
		NewStatus:      final,
		Note:           note,
		Actor:          req.Actor,
		RequestID:      req.RequestID,
		CreatedAt:      c.now(),
	}
	if err := c.repo.CommitTransition(ctx, h); err != nil {
		if len(applied) > 0 {
			if cerr := c.reverse(ctx, o.ID, applied, req.Actor); cerr != nil {
				return models.TransitionResult{}, cerr
			}
		}
		return models.TransitionResult{}, err
	}

	prev := o.Status
	o.Status, o.UpdatedAt = final, h.CreatedAt
	c.cacheOrder(ctx, o)

	c.log.Info("order transitioned",
		zap.String("order_id", o.ID),
		zap.String("from", string(prev)),
		zap.String("requested", string(req.Target)),
		zap.String("to", string(final)),
		zap.String("history_id", h.ID),
	)

	c.sideEffects(ctx, o, final)
	return models.TransitionResult{FinalStatus: final, HistoryID: h.ID}, nil
}

// commitStock books one "out" movement per line. On any failure the
// movements booked so far are reversed and the order goes to cancelled.
func (c *Controller) commitStock(ctx context.Context, o *models.Order, req models.TransitionRequest) (models.OrderStatus, string, []appliedMovement, error) {
	for _, it := range o.Items {
		s, err := c.ledger.QuerySufficiency(ctx, it.ProductID, it.Quantity)
		if err != nil {
			return "", "", nil, err
		}
		if !s.Sufficient {
			c.log.Warn("insufficient stock",
				zap.String("order_id", o.ID),
				zap.String("product_id", it.ProductID),
				zap.Int64("requested", it.Quantity),
				zap.Int64("available", s.CurrentStock),
			)
			return c.redirectToCancelled(models.NoteInsufficientStock,
				errors.Wrapf(models.ErrInsufficientStock, "product %s", it.ProductID))
		}
	}

	applied := make([]appliedMovement, 0, len(o.Items))
	for _, it := range o.Items {
		res, err := c.ledger.ApplyMovement(ctx, models.MovementInput{
			ProductID:     it.ProductID,
			Quantity:      it.Quantity,
			Kind:          models.MovementOut,
			Reason:        "order processing",
			ReferenceID:   o.ID,
			ReferenceType: models.ReferenceTypeOrder,
			Actor:         req.Actor,
		})
		if err != nil {
			if cerr := c.reverse(ctx, o.ID, applied, req.Actor); cerr != nil {
				return "", "", nil, cerr
			}
			note := models.NoteInsufficientStock
			if !errors.Is(err, models.ErrInsufficientStock) {
				note = fmt.Sprintf("stock commit failed: %v", err)
			}
			c.log.Warn("stock commit failed, reversed",
				zap.String("order_id", o.ID),
				zap.String("product_id", it.ProductID),
				zap.Int("reversed", len(applied)),
				zap.Error(err),
			)
			return c.redirectToCancelled(note, err)
		}
		applied = append(applied, appliedMovement{productID: it.ProductID, quantity: it.Quantity, movementID: res.MovementID})
	}
	return models.OrderStatusProcessing, req.Note, applied, nil
}

func (c *Controller) redirectToCancelled(note string, cause error) (models.OrderStatus, string, []appliedMovement, error) {
	if !c.redirect {
		return "", "", nil, cause
	}
	return models.OrderStatusCancelled, note, nil, nil
}

// reverse undoes applied movements newest first.
func (c *Controller) reverse(ctx context.Context, orderID string, applied []appliedMovement, actor string) error {
	for i := len(applied) - 1; i >= 0; i-- {
		a := applied[i]
		_, err := c.ledger.ApplyMovement(ctx, models.MovementInput{
			ProductID:     a.productID,
			Quantity:      a.quantity,
			Kind:          models.MovementReturn,
			Reason:        "compensation for " + a.movementID,
			ReferenceID:   orderID,
			ReferenceType: models.ReferenceTypeOrder,
			Actor:         actor,
		})
		if err != nil {
			ce := &models.CompensationError{OrderID: orderID, ProductID: a.productID, Quantity: a.quantity, Cause: err}
			c.log.Error("compensation failed", zap.String("order_id", orderID), zap.String("product_id", a.productID), zap.Int64("quantity", a.quantity), zap.Error(err))
			return ce
		}
	}
	return nil
}

// restoreStock returns whatever the order still holds: sum(out) - sum(return)
// per product over the order's movements. Already restored stock is not
// restored twice, so a retried cancel is safe.
func (c *Controller) restoreStock(ctx context.Context, o *models.Order, req models.TransitionRequest) error {
	movs, err := c.ledger.OrderMovements(ctx, o.ID)
	if err != nil {
		c.log.Error("load order movements failed", zap.String("order_id", o.ID), zap.Error(err))
		return &models.CompensationError{OrderID: o.ID, Cause: err}
	}

	outstanding := make(map[string]int64)
	var productOrder []string
	for _, m := range movs {
		if _, seen := outstanding[m.ProductID]; !seen {
			productOrder = append(productOrder, m.ProductID)
		}
		switch m.Kind {
		case models.MovementOut:
			outstanding[m.ProductID] += m.Quantity
		case models.MovementReturn:
			outstanding[m.ProductID] -= m.Quantity
		}
	}

	reason := "order " + string(req.Target)
	for _, pid := range productOrder {
		qty := outstanding[pid]
		if qty <= 0 {
			continue
		}
		_, err := c.ledger.ApplyMovement(ctx, models.MovementInput{
			ProductID:     pid,
			Quantity:      qty,
			Kind:          models.MovementReturn,
			Reason:        reason,
			ReferenceID:   o.ID,
			ReferenceType: models.ReferenceTypeOrder,
			Actor:         req.Actor,
		})
		if err != nil {
			c.log.Error("stock restore failed", zap.String("order_id", o.ID), zap.String("product_id", pid), zap.Int64("quantity", qty), zap.Error(err))
			return &models.CompensationError{OrderID: o.ID, ProductID: pid, Quantity: qty, Cause: err}
		}
	}
	return nil
}

// sideEffects never fail the transition; errors are only logged.
func (c *Controller) sideEffects(ctx context.Context, o *models.Order, status models.OrderStatus) {
	switch status {
	case models.OrderStatusConfirmed:
		c.enqueue(ctx, TaskProcessOrder, o.ID)
		c.notify(ctx, o, "order_confirmed")
	case models.OrderStatusProcessing:
		c.enqueue(ctx, TaskPrepareShipment, o.ID)
	case models.OrderStatusShipped:
		c.notify(ctx, o, "order_shipped")
		c.enqueue(ctx, TaskTrackDelivery, o.ID)
	case models.OrderStatusDelivered:
		c.notify(ctx, o, "order_delivered")
		c.award(ctx, o)
		c.enqueue(ctx, TaskFollowUp, o.ID)
	case models.OrderStatusCancelled:
		c.notify(ctx, o, "order_cancelled")
	case models.OrderStatusReturned:
		c.notify(ctx, o, "order_returned")
	}
}

func (c *Controller) notify(ctx context.Context, o *models.Order, kind string) {
	if c.notifier == nil {
		return
	}
	payload := map[string]any{
		"order_id": o.ID,
		"status":   string(o.Status),
		"total":    o.Total.String(),
	}
	if err := c.notifier.Notify(ctx, o.CustomerID, kind, payload); err != nil {
		c.log.Warn("notification failed", zap.String("order_id", o.ID), zap.String("kind", kind), zap.Error(err))
	}
}

func (c *Controller) enqueue(ctx context.Context, kind, orderID string) {
	if c.tasks == nil {
		return
	}
	if err := c.tasks.Enqueue(ctx, kind, orderID, taskPriority[kind]); err != nil {
		c.log.Warn("enqueue task failed", zap.String("order_id", orderID), zap.String("task", kind), zap.Error(err))
	}
}

// LoyaltyPoints is floor(total * rate).
func LoyaltyPoints(total, rate decimal.Decimal) int64 {
	return total.Mul(rate).Floor().IntPart()
}

func (c *Controller) award(ctx context.Context, o *models.Order) {
	if c.loyalty == nil {
		return
	}
	points := LoyaltyPoints(o.Total, c.accrualRate)
	if points <= 0 {
		return
	}
	if err := c.loyalty.Award(ctx, o.CustomerID, points, o.ID); err != nil {
		c.log.Warn("loyalty award failed", zap.String("order_id", o.ID), zap.Int64("points", points), zap.Error(err))
	}
}

func (c *Controller) cacheOrder(ctx context.Context, o *models.Order) {
	if c.cache == nil || c.cacheTTL <= 0 {
		return
	}
	b, err := json.Marshal(o)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, currentKey(o.ID), b, c.cacheTTL); err != nil {
		// старая копия не должна пережить неудачную запись
		if derr := c.cache.Delete(ctx, currentKey(o.ID)); derr != nil {
			c.log.Warn("order cache is stale", zap.String("order_id", o.ID), zap.Error(derr))
		}
	}
}

func currentKey(id string) string {
	return fmt.Sprintf("order:%s:current", id)
}
