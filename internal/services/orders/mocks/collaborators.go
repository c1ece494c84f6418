package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) Notify(ctx context.Context, recipientID, kind string, payload map[string]any) error {
	args := m.Called(ctx, recipientID, kind, payload)
	return args.Error(0)
}

type MockLoyalty struct {
	mock.Mock
}

func (m *MockLoyalty) Award(ctx context.Context, customerID string, points int64, orderID string) error {
	args := m.Called(ctx, customerID, points, orderID)
	return args.Error(0)
}

type MockTaskQueue struct {
	mock.Mock
}

func (m *MockTaskQueue) Enqueue(ctx context.Context, kind, referenceID string, priority int) error {
	args := m.Called(ctx, kind, referenceID, priority)
	return args.Error(0)
}
