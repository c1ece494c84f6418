package shipments

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BearBump/OrderFlow/internal/broker/messages"
	"github.com/BearBump/OrderFlow/internal/cache"
	"github.com/BearBump/OrderFlow/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type Repository interface {
	CreateShipment(ctx context.Context, sh *models.Shipment) error
	GetShipment(ctx context.Context, id string) (*models.Shipment, error)
	// AppendTrackingEvent returns false for an already stored event.
	AppendTrackingEvent(ctx context.Context, e *models.ShipmentTrackingEvent, deliveredAt *time.Time) (bool, error)
	ListTrackingEvents(ctx context.Context, shipmentID string) ([]*models.ShipmentTrackingEvent, error)
	RecordShipmentCheck(ctx context.Context, c models.ShipmentCheck) error
	RefreshShipment(ctx context.Context, id string, at time.Time) error
}

// Orders is the part of the order controller the tracker calls back into.
type Orders interface {
	// LoadOrder must return the stored order, not a cached copy.
	LoadOrder(ctx context.Context, id string) (*models.Order, error)
	Transition(ctx context.Context, req models.TransitionRequest) (models.TransitionResult, error)
}

type Tracker struct {
	repo   Repository
	orders Orders

	cache      cache.BytesCache
	currentTTL time.Duration

	log *zap.Logger
	now func() time.Time
}

func New(repo Repository, orders Orders) *Tracker {
	return &Tracker{
		repo:   repo,
		orders: orders,
		log:    zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (t *Tracker) WithLogger(log *zap.Logger) *Tracker {
	if log != nil {
		t.log = log
	}
	return t
}

func (t *Tracker) WithCache(c cache.BytesCache, currentTTL time.Duration) *Tracker {
	t.cache, t.currentTTL = c, currentTTL
	return t
}

// CreateShipment stores the shipment and moves a processing order to
// shipped. An order that is already shipped is left as is.
func (t *Tracker) CreateShipment(ctx context.Context, in models.ShipmentCreateInput) (*models.Shipment, error) {
	if in.OrderID == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "orderId is required")
	}
	if in.Carrier == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "carrier is required")
	}
	if in.TrackingNumber == "" {
		return nil, errors.Wrap(models.ErrInvalidInput, "trackingNumber is required")
	}
	if in.Cost.IsNegative() || in.WeightKg.IsNegative() {
		return nil, errors.Wrap(models.ErrInvalidInput, "cost and weight must be >= 0")
	}

	o, err := t.orders.LoadOrder(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if o.Status != models.OrderStatusProcessing && o.Status != models.OrderStatusShipped {
		return nil, errors.Wrapf(models.ErrOrderNotShippable, "order %s is %s", o.ID, o.Status)
	}

	now := t.now()
	sh := &models.Shipment{
		ID:                uuid.NewString(),
		OrderID:           in.OrderID,
		Carrier:           strings.ToUpper(in.Carrier),
		Service:           in.Service,
		TrackingNumber:    in.TrackingNumber,
		Cost:              in.Cost,
		WeightKg:          in.WeightKg,
		Status:            models.ShipmentStatusCreated,
		EstimatedDelivery: in.EstimatedDelivery,
		// первый опрос перевозчика сразу
		NextCheckAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.repo.CreateShipment(ctx, sh); err != nil {
		return nil, err
	}

	t.log.Info("shipment created",
		zap.String("shipment_id", sh.ID),
		zap.String("order_id", sh.OrderID),
		zap.String("carrier", sh.Carrier),
		zap.String("tracking_number", sh.TrackingNumber),
	)

	if o.Status == models.OrderStatusProcessing {
		_, err := t.orders.Transition(ctx, models.TransitionRequest{
			OrderID:   o.ID,
			Target:    models.OrderStatusShipped,
			Note:      fmt.Sprintf("shipment %s via %s", sh.TrackingNumber, sh.Carrier),
			Actor:     in.Actor,
			RequestID: "shipment:" + sh.ID,
		})
		if err != nil {
			return sh, errors.Wrap(err, "shipment stored, order transition failed")
		}
	}

	t.setCurrent(ctx, sh)
	return sh, nil
}

// GetShipment reads through the cache.
func (t *Tracker) GetShipment(ctx context.Context, id string) (*models.Shipment, error) {
	if t.cache != nil && t.currentTTL > 0 {
		b, ok, err := t.cache.Get(ctx, currentKey(id))
		if err == nil && ok {
			var sh models.Shipment
			if json.Unmarshal(b, &sh) == nil {
				return &sh, nil
			}
		}
	}
	sh, err := t.repo.GetShipment(ctx, id)
	if err != nil {
		return nil, err
	}
	t.setCurrent(ctx, sh)
	return sh, nil
}

func (t *Tracker) ListTrackingEvents(ctx context.Context, shipmentID string) ([]*models.ShipmentTrackingEvent, error) {
	if _, err := t.repo.GetShipment(ctx, shipmentID); err != nil {
		return nil, err
	}
	return t.repo.ListTrackingEvents(ctx, shipmentID)
}

// RefreshShipment asks the tracking worker to poll the carrier on its next cycle.
func (t *Tracker) RefreshShipment(ctx context.Context, shipmentID string) error {
	if shipmentID == "" {
		return errors.Wrap(models.ErrInvalidInput, "shipmentId is required")
	}
	return t.repo.RefreshShipment(ctx, shipmentID, t.now())
}

// RecordTrackingEvent appends an event and updates the shipment status.
// A delivered event also delivers the order if it is still shipped.
// Returns false when the same event was already recorded.
func (t *Tracker) RecordTrackingEvent(ctx context.Context, shipmentID string, in models.TrackingEventInput) (bool, error) {
	status := models.NormalizeShipmentStatus(in.Status)
	if status == "" {
		return false, errors.Wrap(models.ErrInvalidInput, "status is required")
	}
	if in.EventTime.IsZero() {
		in.EventTime = t.now()
	}

	sh, err := t.repo.GetShipment(ctx, shipmentID)
	if err != nil {
		return false, err
	}

	var deliveredAt *time.Time
	if status == models.ShipmentStatusDelivered {
		at := in.EventTime.UTC()
		deliveredAt = &at
	}

	e := &models.ShipmentTrackingEvent{
		ID:          uuid.NewString(),
		ShipmentID:  sh.ID,
		Status:      status,
		StatusRaw:   in.StatusRaw,
		Location:    in.Location,
		Description: in.Description,
		EventTime:   in.EventTime.UTC(),
		CreatedAt:   t.now(),
	}
	inserted, err := t.repo.AppendTrackingEvent(ctx, e, deliveredAt)
	if err != nil {
		return false, err
	}
	if inserted {
		t.refreshCurrent(ctx, sh.ID)
	}

	// Повтор того же события тоже доходит до заказа: прошлый вызов мог
	// упасть после записи события. RequestID делает переход идемпотентным.
	if status == models.ShipmentStatusDelivered {
		if err := t.deliverOrder(ctx, sh); err != nil {
			return inserted, err
		}
	}
	return inserted, nil
}

func (t *Tracker) deliverOrder(ctx context.Context, sh *models.Shipment) error {
	o, err := t.orders.LoadOrder(ctx, sh.OrderID)
	if err != nil {
		return err
	}
	if o.Status != models.OrderStatusShipped {
		t.log.Info("delivery event for order not in shipped, skipping transition",
			zap.String("order_id", o.ID),
			zap.String("status", string(o.Status)),
		)
		return nil
	}
	_, err = t.orders.Transition(ctx, models.TransitionRequest{
		OrderID:   o.ID,
		Target:    models.OrderStatusDelivered,
		Note:      "delivered by " + sh.Carrier,
		Actor:     "shipment-tracker",
		RequestID: "delivery:" + sh.ID,
	})
	if errors.Is(err, models.ErrInvalidTransition) {
		// заказ успел уйти дальше между чтением и переходом
		t.log.Info("order moved on before delivery transition", zap.String("order_id", o.ID), zap.Error(err))
		return nil
	}
	return err
}

// ApplyCarrierUpdate consumes one poll result from the tracking worker:
// records its events oldest first and reschedules the next poll.
func (t *Tracker) ApplyCarrierUpdate(ctx context.Context, msg messages.TrackingUpdated) error {
	if msg.ShipmentID == "" {
		return errors.Wrap(models.ErrInvalidInput, "shipment_id is required")
	}
	if msg.CheckedAt.IsZero() {
		msg.CheckedAt = t.now()
	}
	if msg.NextCheckAt.IsZero() {
		// fallback: если воркер не прислал next_check_at, ставим "через час"
		msg.NextCheckAt = msg.CheckedAt.Add(60 * time.Minute)
	}

	events := make([]messages.TrackingEvent, len(msg.Events))
	copy(events, msg.Events)
	if len(events) == 0 && msg.Error == nil && msg.Status != "" && msg.StatusAt != nil {
		events = append(events, messages.TrackingEvent{Status: msg.Status, StatusRaw: msg.StatusRaw, EventTime: *msg.StatusAt})
	}
	sort.SliceStable(events, func(i, j int) bool { return events[i].EventTime.Before(events[j].EventTime) })

	for _, e := range events {
		if _, err := t.RecordTrackingEvent(ctx, msg.ShipmentID, models.TrackingEventInput{
			Status:      e.Status,
			StatusRaw:   e.StatusRaw,
			Location:    e.Location,
			Description: e.Description,
			EventTime:   e.EventTime,
		}); err != nil {
			return err
		}
	}

	err := t.repo.RecordShipmentCheck(ctx, models.ShipmentCheck{
		ShipmentID:  msg.ShipmentID,
		CheckedAt:   msg.CheckedAt,
		NextCheckAt: msg.NextCheckAt,
		Error:       msg.Error,
	})
	if err != nil {
		return err
	}
	t.refreshCurrent(ctx, msg.ShipmentID)
	return nil
}

func (t *Tracker) refreshCurrent(ctx context.Context, id string) {
	if t.cache == nil || t.currentTTL <= 0 {
		return
	}
	sh, err := t.repo.GetShipment(ctx, id)
	if err != nil {
		return
	}
	t.setCurrent(ctx, sh)
}

func (t *Tracker) setCurrent(ctx context.Context, sh *models.Shipment) {
	if t.cache == nil || t.currentTTL <= 0 {
		return
	}
	b, err := json.Marshal(sh)
	if err != nil {
		return
	}
	if err := t.cache.Set(ctx, currentKey(sh.ID), b, t.currentTTL); err != nil {
		_ = t.cache.Delete(ctx, currentKey(sh.ID))
	}
}

func currentKey(id string) string {
	return fmt.Sprintf("shipment:%s:current", id)
}
