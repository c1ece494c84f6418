package mocks

import (
	"context"

	"github.com/BearBump/OrderFlow/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockOrders struct {
	mock.Mock
}

func (m *MockOrders) LoadOrder(ctx context.Context, id string) (*models.Order, error) {
	args := m.Called(ctx, id)
	var o *models.Order
	if v := args.Get(0); v != nil {
		o = v.(*models.Order)
	}
	return o, args.Error(1)
}

func (m *MockOrders) Transition(ctx context.Context, req models.TransitionRequest) (models.TransitionResult, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(models.TransitionResult), args.Error(1)
}
