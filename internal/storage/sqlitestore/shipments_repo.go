package sqlitestore

import (
	"context"
	"database/sql"
	"time"

	"github.com/BearBump/OrderFlow/internal/models"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type shipmentRow struct {
	ID                string          `db:"id"`
	OrderID           string          `db:"order_id"`
	Carrier           string          `db:"carrier"`
	Service           string          `db:"service"`
	TrackingNumber    string          `db:"tracking_number"`
	Cost              decimal.Decimal `db:"cost"`
	WeightKg          decimal.Decimal `db:"weight_kg"`
	Status            string          `db:"status"`
	EstimatedDelivery *int64          `db:"estimated_delivery"`
	ActualDelivery    *int64          `db:"actual_delivery"`
	LastCheckedAt     *int64          `db:"last_checked_at"`
	NextCheckAt       int64           `db:"next_check_at"`
	CheckFailCount    int32           `db:"check_fail_count"`
	LastError         *string         `db:"last_error"`
	CreatedAt         int64           `db:"created_at"`
	UpdatedAt         int64           `db:"updated_at"`
}

func (r shipmentRow) model() *models.Shipment {
	return &models.Shipment{
		ID:                r.ID,
		OrderID:           r.OrderID,
		Carrier:           r.Carrier,
		Service:           r.Service,
		TrackingNumber:    r.TrackingNumber,
		Cost:              r.Cost,
		WeightKg:          r.WeightKg,
		Status:            r.Status,
		EstimatedDelivery: fromNullNanos(r.EstimatedDelivery),
		ActualDelivery:    fromNullNanos(r.ActualDelivery),
		LastCheckedAt:     fromNullNanos(r.LastCheckedAt),
		NextCheckAt:       fromNanos(r.NextCheckAt),
		CheckFailCount:    r.CheckFailCount,
		LastError:         r.LastError,
		CreatedAt:         fromNanos(r.CreatedAt),
		UpdatedAt:         fromNanos(r.UpdatedAt),
	}
}

type trackingEventRow struct {
	ID          string `db:"id"`
	ShipmentID  string `db:"shipment_id"`
	Status      string `db:"status"`
	StatusRaw   string `db:"status_raw"`
	Location    string `db:"location"`
	Description string `db:"description"`
	EventTime   int64  `db:"event_time"`
	CreatedAt   int64  `db:"created_at"`
}

const shipmentColumns = `id, order_id, carrier, service, tracking_number, cost, weight_kg, status,
  estimated_delivery, actual_delivery, last_checked_at, next_check_at, check_fail_count, last_error,
  created_at, updated_at`

func (s *Storage) CreateShipment(ctx context.Context, sh *models.Shipment) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	var n int
	if err := tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM shipments WHERE order_id = ?`, sh.OrderID); err != nil {
		return errors.Wrap(err, "check shipment")
	}
	if n > 0 {
		return models.ErrShipmentExists
	}

	at := toNanos(sh.CreatedAt)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO shipments(
		  id, order_id, carrier, service, tracking_number, cost, weight_kg, status,
		  estimated_delivery, next_check_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sh.ID, sh.OrderID, sh.Carrier, sh.Service, sh.TrackingNumber, sh.Cost, sh.WeightKg, sh.Status,
		toNullNanos(sh.EstimatedDelivery), toNanos(sh.NextCheckAt), at, at); err != nil {
		return errors.Wrap(err, "insert shipment")
	}
	return errors.Wrap(tx.Commit(), "commit tx")
}

func (s *Storage) GetShipment(ctx context.Context, id string) (*models.Shipment, error) {
	var row shipmentRow
	err := s.db.GetContext(ctx, &row, `SELECT `+shipmentColumns+` FROM shipments WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrShipmentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment")
	}
	return row.model(), nil
}

// AppendTrackingEvent returns false when the same event was already stored.
func (s *Storage) AppendTrackingEvent(ctx context.Context, e *models.ShipmentTrackingEvent, deliveredAt *time.Time) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO shipment_tracking_events(
		  id, shipment_id, status, status_raw, location, description, event_time, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, e.ID, e.ShipmentID, e.Status, e.StatusRaw, e.Location, e.Description, toNanos(e.EventTime), toNanos(e.CreatedAt))
	if err != nil {
		return false, errors.Wrap(err, "insert tracking event")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE shipments
		SET status = ?, actual_delivery = COALESCE(?, actual_delivery), updated_at = ?
		WHERE id = ?
	`, e.Status, toNullNanos(deliveredAt), toNanos(timeNow()), e.ShipmentID)
	if err != nil {
		return false, errors.Wrap(err, "update shipment status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, models.ErrShipmentNotFound
	}

	if err := tx.Commit(); err != nil {
		return false, errors.Wrap(err, "commit tx")
	}
	return true, nil
}

func (s *Storage) ListTrackingEvents(ctx context.Context, shipmentID string) ([]*models.ShipmentTrackingEvent, error) {
	var rows []trackingEventRow
	if err := s.db.SelectContext(ctx, &rows, `
		SELECT id, shipment_id, status, status_raw, location, description, event_time, created_at
		FROM shipment_tracking_events WHERE shipment_id = ?
		ORDER BY event_time ASC, seq ASC
	`, shipmentID); err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	out := make([]*models.ShipmentTrackingEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, &models.ShipmentTrackingEvent{
			ID:          r.ID,
			ShipmentID:  r.ShipmentID,
			Status:      r.Status,
			StatusRaw:   r.StatusRaw,
			Location:    r.Location,
			Description: r.Description,
			EventTime:   fromNanos(r.EventTime),
			CreatedAt:   fromNanos(r.CreatedAt),
		})
	}
	return out, nil
}

func (s *Storage) RecordShipmentCheck(ctx context.Context, c models.ShipmentCheck) error {
	var (
		res sql.Result
		err error
	)
	if c.Error != nil && *c.Error != "" {
		res, err = s.db.ExecContext(ctx, `
			UPDATE shipments
			SET last_checked_at = ?, check_fail_count = check_fail_count + 1, last_error = ?,
			    next_check_at = ?, updated_at = ?
			WHERE id = ?
		`, toNanos(c.CheckedAt), *c.Error, toNanos(c.NextCheckAt), toNanos(timeNow()), c.ShipmentID)
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE shipments
			SET last_checked_at = ?, check_fail_count = 0, last_error = NULL,
			    next_check_at = ?, updated_at = ?
			WHERE id = ?
		`, toNanos(c.CheckedAt), toNanos(c.NextCheckAt), toNanos(timeNow()), c.ShipmentID)
	}
	if err != nil {
		return errors.Wrap(err, "record shipment check")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrShipmentNotFound
	}
	return nil
}

func (s *Storage) RefreshShipment(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE shipments SET next_check_at = ?, updated_at = ? WHERE id = ?`,
		toNanos(at), toNanos(timeNow()), id)
	if err != nil {
		return errors.Wrap(err, "refresh shipment")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrShipmentNotFound
	}
	return nil
}

// ClaimDueShipments: без SKIP LOCKED, но транзакции и так идут по одной.
func (s *Storage) ClaimDueShipments(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Shipment, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	var rows []shipmentRow
	if err := tx.SelectContext(ctx, &rows, `SELECT `+shipmentColumns+`
		FROM shipments
		WHERE next_check_at <= ? AND status <> ?
		ORDER BY next_check_at ASC
		LIMIT ?
	`, toNanos(now), models.ShipmentStatusDelivered, limit); err != nil {
		return nil, errors.Wrap(err, "select due shipments")
	}

	leaseUntil := now.UTC().Add(lease)
	out := make([]*models.Shipment, 0, len(rows))
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, `UPDATE shipments SET next_check_at = ? WHERE id = ?`, toNanos(leaseUntil), r.ID); err != nil {
			return nil, errors.Wrap(err, "lease shipment")
		}
		sh := r.model()
		sh.NextCheckAt = leaseUntil
		out = append(out, sh)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return out, nil
}
