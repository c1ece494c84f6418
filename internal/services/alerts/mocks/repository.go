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

func (m *MockRepository) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	args := m.Called(ctx, id)
	var p *models.Product
	if v := args.Get(0); v != nil {
		p = v.(*models.Product)
	}
	return p, args.Error(1)
}

func (m *MockRepository) GetActiveAlert(ctx context.Context, productID string, kind models.AlertKind) (*models.StockAlert, error) {
	args := m.Called(ctx, productID, kind)
	var a *models.StockAlert
	if v := args.Get(0); v != nil {
		a = v.(*models.StockAlert)
	}
	return a, args.Error(1)
}

func (m *MockRepository) InsertAlert(ctx context.Context, a *models.StockAlert) error {
	args := m.Called(ctx, a)
	return args.Error(0)
}

func (m *MockRepository) ResolveAlert(ctx context.Context, id string, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockRepository) ListActiveAlerts(ctx context.Context, productID string) ([]*models.StockAlert, error) {
	args := m.Called(ctx, productID)
	var out []*models.StockAlert
	if v := args.Get(0); v != nil {
		out = v.([]*models.StockAlert)
	}
	return out, args.Error(1)
}
