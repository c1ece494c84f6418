package mocks

import (
	"context"
	"time"

	"github.com/BearBump/OrderFlow/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateShipment(ctx context.Context, sh *models.Shipment) error {
	args := m.Called(ctx, sh)
	return args.Error(0)
}

func (m *MockRepository) GetShipment(ctx context.Context, id string) (*models.Shipment, error) {
	args := m.Called(ctx, id)
	var sh *models.Shipment
	if v := args.Get(0); v != nil {
		sh = v.(*models.Shipment)
	}
	return sh, args.Error(1)
}

func (m *MockRepository) AppendTrackingEvent(ctx context.Context, e *models.ShipmentTrackingEvent, deliveredAt *time.Time) (bool, error) {
	args := m.Called(ctx, e, deliveredAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) ListTrackingEvents(ctx context.Context, shipmentID string) ([]*models.ShipmentTrackingEvent, error) {
	args := m.Called(ctx, shipmentID)
	var out []*models.ShipmentTrackingEvent
	if v := args.Get(0); v != nil {
		out = v.([]*models.ShipmentTrackingEvent)
	}
	return out, args.Error(1)
}

func (m *MockRepository) RecordShipmentCheck(ctx context.Context, c models.ShipmentCheck) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockRepository) RefreshShipment(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}
