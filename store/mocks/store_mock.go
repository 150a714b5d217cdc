package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/kishor-kashid/collabcanvas/models"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateUser(ctx context.Context, user models.User) (models.User, error) {
	args := m.Called(ctx, user)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockStore) GetUser(ctx context.Context, provider string, providerId string) (models.User, error) {
	args := m.Called(ctx, provider, providerId)
	return args.Get(0).(models.User), args.Error(1)
}

func (m *MockStore) GetShapeDocument(ctx context.Context, canvasId string) ([]models.Shape, error) {
	args := m.Called(ctx, canvasId)
	return args.Get(0).([]models.Shape), args.Error(1)
}

func (m *MockStore) ReplaceShapeDocument(ctx context.Context, canvasId string, shapes []models.Shape) error {
	args := m.Called(ctx, canvasId, shapes)
	return args.Error(0)
}

func (m *MockStore) DeleteShapeDocument(ctx context.Context, canvasId string) error {
	args := m.Called(ctx, canvasId)
	return args.Error(0)
}

func (m *MockStore) CreateCanvas(ctx context.Context, canvas models.Canvas) (models.Canvas, error) {
	args := m.Called(ctx, canvas)
	return args.Get(0).(models.Canvas), args.Error(1)
}

func (m *MockStore) GetCanvas(ctx context.Context, canvasId string) (models.Canvas, error) {
	args := m.Called(ctx, canvasId)
	return args.Get(0).(models.Canvas), args.Error(1)
}

func (m *MockStore) UpdateCanvasMeta(ctx context.Context, canvas models.Canvas) (models.Canvas, error) {
	args := m.Called(ctx, canvas)
	return args.Get(0).(models.Canvas), args.Error(1)
}

func (m *MockStore) DeleteCanvas(ctx context.Context, canvasId string) error {
	args := m.Called(ctx, canvasId)
	return args.Error(0)
}

func (m *MockStore) TouchCanvas(ctx context.Context, canvasId string, lastActive int64, shapeCountDelta int) error {
	args := m.Called(ctx, canvasId, lastActive, shapeCountDelta)
	return args.Error(0)
}

func (m *MockStore) PutShareCode(ctx context.Context, code string, canvasId string) error {
	args := m.Called(ctx, code, canvasId)
	return args.Error(0)
}

func (m *MockStore) GetCanvasIdByShareCode(ctx context.Context, code string) (string, error) {
	args := m.Called(ctx, code)
	return args.String(0), args.Error(1)
}

func (m *MockStore) DeleteShareCode(ctx context.Context, code string) error {
	args := m.Called(ctx, code)
	return args.Error(0)
}

func (m *MockStore) AddCanvasMember(ctx context.Context, member models.CanvasMember) error {
	args := m.Called(ctx, member)
	return args.Error(0)
}

func (m *MockStore) GetCanvasMember(ctx context.Context, canvasId string, userId string) (models.CanvasMember, error) {
	args := m.Called(ctx, canvasId, userId)
	return args.Get(0).(models.CanvasMember), args.Error(1)
}

func (m *MockStore) RemoveCanvasMember(ctx context.Context, canvasId string, userId string) error {
	args := m.Called(ctx, canvasId, userId)
	return args.Error(0)
}

func (m *MockStore) GetCanvasMembers(ctx context.Context, canvasId string) ([]models.CanvasMember, error) {
	args := m.Called(ctx, canvasId)
	return args.Get(0).([]models.CanvasMember), args.Error(1)
}

func (m *MockStore) GetUserCanvases(ctx context.Context, userId string) ([]models.CanvasMember, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).([]models.CanvasMember), args.Error(1)
}

func (m *MockStore) DeleteCanvasMembers(ctx context.Context, canvasId string) error {
	args := m.Called(ctx, canvasId)
	return args.Error(0)
}
