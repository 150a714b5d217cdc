package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/kishor-kashid/collabcanvas/store"
)

type ActivityUpdate struct {
	CanvasId   string
	ShapeDelta int
	At         int64
}

// ActivityBatcher coalesces per-canvas activity stamps and shape-count
// deltas in memory and flushes them as one conditional update per canvas.
// Every shape mutation reports here, so flushing per mutation would double
// the write load on the metadata item.
type ActivityBatcher struct {
	UpdateCh           chan ActivityUpdate
	canvasStore        store.CanvasStore
	tickerMilliseconds int
}

func NewActivityBatcher(canvasStore store.CanvasStore, tickerMilliseconds int) *ActivityBatcher {
	return &ActivityBatcher{
		UpdateCh:           make(chan ActivityUpdate, 1024),
		canvasStore:        canvasStore,
		tickerMilliseconds: tickerMilliseconds,
	}
}

func (b *ActivityBatcher) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(time.Duration(b.tickerMilliseconds) * time.Millisecond)
	defer ticker.Stop()

	type pending struct {
		delta      int
		lastActive int64
	}
	canvases := make(map[string]pending)

	flush := func() {
		for canvasId, p := range canvases {
			go func(canvasId string, lastActive int64, delta int) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := b.canvasStore.TouchCanvas(ctx, canvasId, lastActive, delta); err != nil {
					// ErrItemNotFound here just means the canvas was purged
					// between the mutation and the flush
					if !errors.Is(err, store.ErrItemNotFound) {
						log.Printf("Failed to touch canvas %s: %v", canvasId, err)
					}
				}
			}(canvasId, p.lastActive, p.delta)
		}
		canvases = make(map[string]pending)
	}

	for {
		select {
		case update := <-b.UpdateCh:
			if update.CanvasId == "" {
				continue
			}
			p := canvases[update.CanvasId]
			p.delta += update.ShapeDelta
			if update.At > p.lastActive {
				p.lastActive = update.At
			}
			canvases[update.CanvasId] = p

			if len(canvases) >= 100 {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-shutdownCtx.Done():
			flush()
			return
		}
	}
}
