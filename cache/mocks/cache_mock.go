package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockCache struct {
	mock.Mock
}

func (m *MockCache) Publish(ctx context.Context, channel string, message []byte) error {
	args := m.Called(ctx, channel, message)
	return args.Error(0)
}

func (m *MockCache) Subscribe(ctx context.Context, channel string, handler func(message []byte)) error {
	args := m.Called(ctx, channel, handler)
	return args.Error(0)
}

func (m *MockCache) SetShapeDoc(ctx context.Context, canvasId string, doc []byte) error {
	args := m.Called(ctx, canvasId, doc)
	return args.Error(0)
}

func (m *MockCache) GetShapeDoc(ctx context.Context, canvasId string) ([]byte, error) {
	args := m.Called(ctx, canvasId)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockCache) InvalidateCanvases(ctx context.Context, canvasIds []string) error {
	args := m.Called(ctx, canvasIds)
	return args.Error(0)
}

func (m *MockCache) SetPresence(ctx context.Context, canvasId string, userId string, lastSeen int64, data []byte) error {
	args := m.Called(ctx, canvasId, userId, lastSeen, data)
	return args.Error(0)
}

func (m *MockCache) MergeCursor(ctx context.Context, canvasId string, userId string, x float64, y float64, lastSeen int64) error {
	args := m.Called(ctx, canvasId, userId, x, y, lastSeen)
	return args.Error(0)
}

func (m *MockCache) RemovePresence(ctx context.Context, canvasId string, userId string) error {
	args := m.Called(ctx, canvasId, userId)
	return args.Error(0)
}

func (m *MockCache) ListPresence(ctx context.Context, canvasId string) ([][]byte, error) {
	args := m.Called(ctx, canvasId)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([][]byte), args.Error(1)
}

func (m *MockCache) ReapStalePresence(ctx context.Context, canvasId string, olderThan int64) ([]string, error) {
	args := m.Called(ctx, canvasId, olderThan)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}
