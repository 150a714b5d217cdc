package worker

import (
	"context"
	"log"
	"time"
)

// PresenceSweeper is the slice of the service the reaper needs.
type PresenceSweeper interface {
	ReapStalePresence(ctx context.Context, canvasId string) (int, error)
}

// PresenceReaper removes presence sessions whose owners stopped heartbeating.
// A clean websocket close removes the session immediately; the reaper covers
// crashed clients and severed connections.
type PresenceReaper struct {
	WatchCh   chan string
	UnwatchCh chan string

	sweeper         PresenceSweeper
	intervalSeconds int
}

func NewPresenceReaper(sweeper PresenceSweeper, intervalSeconds int) *PresenceReaper {
	return &PresenceReaper{
		WatchCh:         make(chan string, 64),
		UnwatchCh:       make(chan string, 64),
		sweeper:         sweeper,
		intervalSeconds: intervalSeconds,
	}
}

func (r *PresenceReaper) Run(shutdownCtx context.Context) {
	ticker := time.NewTicker(time.Duration(r.intervalSeconds) * time.Second)
	defer ticker.Stop()

	watched := make(map[string]int)

	for {
		select {
		case canvasId := <-r.WatchCh:
			watched[canvasId]++

		case canvasId := <-r.UnwatchCh:
			watched[canvasId]--
			if watched[canvasId] <= 0 {
				delete(watched, canvasId)
			}

		case <-ticker.C:
			for canvasId := range watched {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				removed, err := r.sweeper.ReapStalePresence(ctx, canvasId)
				cancel()
				if err != nil {
					log.Printf("Presence reap failed for canvas %s: %v", canvasId, err)
					continue
				}
				if removed > 0 {
					log.Printf("Reaped %d stale presence sessions on canvas %s", removed, canvasId)
				}
			}

		case <-shutdownCtx.Done():
			return
		}
	}
}
