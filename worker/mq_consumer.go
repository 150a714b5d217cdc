package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/kishor-kashid/collabcanvas/cache"
	"github.com/kishor-kashid/collabcanvas/mq"
	"github.com/kishor-kashid/collabcanvas/store"
)

// PurgeCanvasMessage asks a consumer to remove everything a deleted canvas
// left behind. The metadata item is already gone when this is queued; the
// purge cleans up the shape document, memberships, share code and cache.
type PurgeCanvasMessage struct {
	CanvasId  string `json:"canvasId"`
	ShareCode string `json:"shareCode"`
}

type MQConsumer struct {
	purgeCanvasQueue mq.MessageQueue
	canvasStore      store.CanvasStore
	canvasCache      cache.CanvasCache
}

func NewMQConsumer(purgeCanvasQueue mq.MessageQueue, canvasStore store.CanvasStore, canvasCache cache.CanvasCache) *MQConsumer {
	return &MQConsumer{
		purgeCanvasQueue: purgeCanvasQueue,
		canvasStore:      canvasStore,
		canvasCache:      canvasCache,
	}
}

// Allow up to 5 minutes for the throttled batch deletion of all memberships
const visibilityTimeout = 300

func (mqConsumer MQConsumer) Run(shutdownCtx context.Context) {
	for {
		msg, err := mqConsumer.purgeCanvasQueue.Receive(shutdownCtx, visibilityTimeout)

		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			log.Printf("mqConsumer receive error: %v", err)
			continue
		}

		if msg == nil {
			continue
		}

		var purgeMsg PurgeCanvasMessage
		if err := json.Unmarshal([]byte(msg.Body), &purgeMsg); err != nil {
			continue
		}

		// timeout should be a little less than queue visibility timeout
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(visibilityTimeout-1)*time.Second)

		err = mqConsumer.purgeCanvas(ctx, purgeMsg)
		cancel()
		if err != nil {
			log.Printf("canvas purge error: %v", err)
			continue
		}

		err = mqConsumer.purgeCanvasQueue.Delete(context.Background(), msg)
		if err != nil {
			log.Printf("mqConsumer delete error: %v", err)
			continue
		}
	}
}

// purgeCanvas removes the remnants of a deleted canvas. Every step is
// idempotent, so a message redelivered after a partial failure just redoes
// the surviving steps.
func (mqConsumer MQConsumer) purgeCanvas(ctx context.Context, purgeMsg PurgeCanvasMessage) error {
	if err := mqConsumer.canvasStore.DeleteCanvasMembers(ctx, purgeMsg.CanvasId); err != nil {
		return err
	}

	if purgeMsg.ShareCode != "" {
		if err := mqConsumer.canvasStore.DeleteShareCode(ctx, purgeMsg.ShareCode); err != nil {
			return err
		}
	}

	if err := mqConsumer.canvasStore.DeleteShapeDocument(ctx, purgeMsg.CanvasId); err != nil {
		return err
	}

	if err := mqConsumer.canvasCache.InvalidateCanvases(ctx, []string{purgeMsg.CanvasId}); err != nil {
		log.Printf("Failed to invalidate canvas %s: %v", purgeMsg.CanvasId, err)
	}

	return nil
}
