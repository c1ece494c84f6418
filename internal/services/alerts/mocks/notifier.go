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
