package store

import (
	"context"
	"errors"

	"github.com/kishor-kashid/collabcanvas/models"
)

// CanvasStore is the persistence gateway. The shape list of a canvas is one
// document read and replaced whole; no multi-item transaction is assumed.
type CanvasStore interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	GetUser(ctx context.Context, provider string, providerId string) (models.User, error)

	GetShapeDocument(ctx context.Context, canvasId string) ([]models.Shape, error)
	ReplaceShapeDocument(ctx context.Context, canvasId string, shapes []models.Shape) error
	DeleteShapeDocument(ctx context.Context, canvasId string) error

	CreateCanvas(ctx context.Context, canvas models.Canvas) (models.Canvas, error)
	GetCanvas(ctx context.Context, canvasId string) (models.Canvas, error)
	UpdateCanvasMeta(ctx context.Context, canvas models.Canvas) (models.Canvas, error)
	DeleteCanvas(ctx context.Context, canvasId string) error
	TouchCanvas(ctx context.Context, canvasId string, lastActive int64, shapeCountDelta int) error

	PutShareCode(ctx context.Context, code string, canvasId string) error
	GetCanvasIdByShareCode(ctx context.Context, code string) (string, error)
	DeleteShareCode(ctx context.Context, code string) error

	AddCanvasMember(ctx context.Context, member models.CanvasMember) error
	GetCanvasMember(ctx context.Context, canvasId string, userId string) (models.CanvasMember, error)
	RemoveCanvasMember(ctx context.Context, canvasId string, userId string) error
	GetCanvasMembers(ctx context.Context, canvasId string) ([]models.CanvasMember, error)
	GetUserCanvases(ctx context.Context, userId string) ([]models.CanvasMember, error)
	DeleteCanvasMembers(ctx context.Context, canvasId string) error
}

// Custom error types for clarity
var (
	ErrItemNotFound    = errors.New("item does not exist")
	ErrConditionFailed = errors.New("condition not met")
)
