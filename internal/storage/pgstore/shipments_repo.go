package pgstore

import (
	"context"
	"time"

	"github.com/BearBump/OrderFlow/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

const shipmentColumns = `
  id, order_id, carrier, service, tracking_number,
  cost::text, weight_kg::text, status,
  estimated_delivery, actual_delivery,
  last_checked_at, next_check_at, check_fail_count, last_error,
  created_at, updated_at`

func scanShipment(row pgx.Row) (*models.Shipment, error) {
	var sh models.Shipment
	var cost, weight string
	if err := row.Scan(
		&sh.ID, &sh.OrderID, &sh.Carrier, &sh.Service, &sh.TrackingNumber,
		&cost, &weight, &sh.Status,
		&sh.EstimatedDelivery, &sh.ActualDelivery,
		&sh.LastCheckedAt, &sh.NextCheckAt, &sh.CheckFailCount, &sh.LastError,
		&sh.CreatedAt, &sh.UpdatedAt,
	); err != nil {
		return nil, err
	}
	var err error
	if sh.Cost, err = parseDecimal(cost); err != nil {
		return nil, err
	}
	if sh.WeightKg, err = parseDecimal(weight); err != nil {
		return nil, err
	}
	return &sh, nil
}

func (s *Storage) CreateShipment(ctx context.Context, sh *models.Shipment) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO shipments (
  id, order_id, carrier, service, tracking_number, cost, weight_kg, status,
  estimated_delivery, next_check_at, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6::numeric,$7::numeric,$8,$9,$10,$11,$11)
`, sh.ID, sh.OrderID, sh.Carrier, sh.Service, sh.TrackingNumber,
		decimalArg(sh.Cost), decimalArg(sh.WeightKg), sh.Status,
		sh.EstimatedDelivery, sh.NextCheckAt.UTC(), sh.CreatedAt.UTC())
	if isUniqueViolation(err) {
		return models.ErrShipmentExists
	}
	return errors.Wrap(err, "insert shipment")
}

func (s *Storage) GetShipment(ctx context.Context, id string) (*models.Shipment, error) {
	sh, err := scanShipment(s.db.QueryRow(ctx, `SELECT `+shipmentColumns+` FROM shipments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrShipmentNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment")
	}
	return sh, nil
}

// AppendTrackingEvent stores the event (duplicates are ignored) and moves
// the shipment to the event status. Returns false for a duplicate.
func (s *Storage) AppendTrackingEvent(ctx context.Context, e *models.ShipmentTrackingEvent, deliveredAt *time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
INSERT INTO shipment_tracking_events (
  id, shipment_id, status, status_raw, location, description, event_time, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (shipment_id, status, event_time, location, description) DO NOTHING
`, e.ID, e.ShipmentID, e.Status, e.StatusRaw, e.Location, e.Description, e.EventTime.UTC(), e.CreatedAt.UTC())
	if err != nil {
		return false, errors.Wrap(err, "insert tracking event")
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	tag, err = tx.Exec(ctx, `
UPDATE shipments
SET status = $2, actual_delivery = COALESCE($3, actual_delivery), updated_at = now()
WHERE id = $1
`, e.ShipmentID, e.Status, deliveredAt)
	if err != nil {
		return false, errors.Wrap(err, "update shipment status")
	}
	if tag.RowsAffected() == 0 {
		return false, models.ErrShipmentNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return false, errors.Wrap(err, "commit tx")
	}
	return true, nil
}

func (s *Storage) ListTrackingEvents(ctx context.Context, shipmentID string) ([]*models.ShipmentTrackingEvent, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, shipment_id, status, status_raw, location, description, event_time, created_at
FROM shipment_tracking_events
WHERE shipment_id = $1
ORDER BY event_time ASC, seq ASC
`, shipmentID)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	var out []*models.ShipmentTrackingEvent
	for rows.Next() {
		var e models.ShipmentTrackingEvent
		if err := rows.Scan(&e.ID, &e.ShipmentID, &e.Status, &e.StatusRaw, &e.Location, &e.Description, &e.EventTime, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) RecordShipmentCheck(ctx context.Context, c models.ShipmentCheck) error {
	var (
		ct  pgconn.CommandTag
		err error
	)
	if c.Error != nil && *c.Error != "" {
		ct, err = s.db.Exec(ctx, `
UPDATE shipments
SET last_checked_at = $2, check_fail_count = check_fail_count + 1, last_error = $3,
    next_check_at = $4, updated_at = now()
WHERE id = $1
`, c.ShipmentID, c.CheckedAt.UTC(), *c.Error, c.NextCheckAt.UTC())
	} else {
		ct, err = s.db.Exec(ctx, `
UPDATE shipments
SET last_checked_at = $2, check_fail_count = 0, last_error = NULL,
    next_check_at = $3, updated_at = now()
WHERE id = $1
`, c.ShipmentID, c.CheckedAt.UTC(), c.NextCheckAt.UTC())
	}
	if err != nil {
		return errors.Wrap(err, "record shipment check")
	}
	if ct.RowsAffected() == 0 {
		return models.ErrShipmentNotFound
	}
	return nil
}

// RefreshShipment переносит next_check_at на at, чтобы воркер опросил перевозчика пораньше.
func (s *Storage) RefreshShipment(ctx context.Context, id string, at time.Time) error {
	ct, err := s.db.Exec(ctx, `UPDATE shipments SET next_check_at = $2, updated_at = now() WHERE id = $1`, id, at.UTC())
	if err != nil {
		return errors.Wrap(err, "refresh shipment")
	}
	if ct.RowsAffected() == 0 {
		return models.ErrShipmentNotFound
	}
	return nil
}

// ClaimDueShipments выбирает пачку отправлений, готовых к опросу перевозчика,
// и "бронирует" их на lease, чтобы параллельные воркеры их не взяли.
// Использует SELECT ... FOR UPDATE SKIP LOCKED.
func (s *Storage) ClaimDueShipments(ctx context.Context, now time.Time, limit int, lease time.Duration) ([]*models.Shipment, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `SELECT `+shipmentColumns+`
FROM shipments
WHERE next_check_at <= $1
  AND status <> $2
ORDER BY next_check_at ASC
LIMIT $3
FOR UPDATE SKIP LOCKED
`, now.UTC(), models.ShipmentStatusDelivered, limit)
	if err != nil {
		return nil, errors.Wrap(err, "select due shipments")
	}

	var picked []*models.Shipment
	for rows.Next() {
		sh, err := scanShipment(rows)
		if err != nil {
			rows.Close()
			return nil, errors.Wrap(err, "scan due shipment")
		}
		picked = append(picked, sh)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	leaseUntil := now.UTC().Add(lease)
	for _, sh := range picked {
		if _, err := tx.Exec(ctx, `UPDATE shipments SET next_check_at = $2, updated_at = now() WHERE id = $1`, sh.ID, leaseUntil); err != nil {
			return nil, errors.Wrap(err, "lease shipment")
		}
		sh.NextCheckAt = leaseUntil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return picked, nil
}
