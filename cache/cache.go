package cache

import "context"

// CanvasCache is the ephemeral channel: pub/sub fan-out between instances,
// the shape-document read cache, and presence state. Nothing here is
// durable; every key expires or is reaped.
type CanvasCache interface {
	Publish(ctx context.Context, channel string, message []byte) error
	Subscribe(ctx context.Context, channel string, handler func(message []byte)) error

	SetShapeDoc(ctx context.Context, canvasId string, doc []byte) error
	GetShapeDoc(ctx context.Context, canvasId string) ([]byte, error)
	InvalidateCanvases(ctx context.Context, canvasIds []string) error

	SetPresence(ctx context.Context, canvasId string, userId string, lastSeen int64, data []byte) error
	MergeCursor(ctx context.Context, canvasId string, userId string, x float64, y float64, lastSeen int64) error
	RemovePresence(ctx context.Context, canvasId string, userId string) error
	ListPresence(ctx context.Context, canvasId string) ([][]byte, error)
	ReapStalePresence(ctx context.Context, canvasId string, olderThan int64) ([]string, error)
}
