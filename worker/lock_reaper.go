package worker

import (
	"context"
	"log"
	"time"
)

// LockSweeper is the slice of the service the reaper needs. Defined here so
// the worker package never depends on the service package.
type LockSweeper interface {
	ReapExpiredLocks(ctx context.Context, canvasId string) (int, error)
}

// LockReaper sweeps the canvases that currently have connected clients and
// releases edit leases whose holders went silent past the lease timeout.
// Canvases nobody is watching need no sweeping: their stale leases are
// stealable on the next acquire anyway.
type LockReaper struct {
	WatchCh   chan string
	UnwatchCh chan string

	sweeper         LockSweeper
	intervalSeconds int
}

func NewLockReaper(sweeper LockSweeper, intervalSeconds int) *LockReaper {
	return &LockReaper{
		WatchCh:         make(chan string, 64),
		UnwatchCh:       make(chan string, 64),
		sweeper:         sweeper,
		intervalSeconds: intervalSeconds,
	}
}

func (r *LockReaper) Run(shutdownCtx context.Context) {
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
				released, err := r.sweeper.ReapExpiredLocks(ctx, canvasId)
				cancel()
				if err != nil {
					log.Printf("Lock reap failed for canvas %s: %v", canvasId, err)
					continue
				}
				if released > 0 {
					log.Printf("Released %d expired locks on canvas %s", released, canvasId)
				}
			}

		case <-shutdownCtx.Done():
			return
		}
	}
}
