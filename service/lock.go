package service

import (
	"context"
	"time"

	"github.com/kishor-kashid/collabcanvas/models"
)

// lockTimeout is how long an edit lease survives without being released.
// After that any other user may steal it.
const lockTimeout = 30 * time.Second

// leasedByOther reports whether a shape carries someone else's unexpired
// edit lease. An expired lease does not count; it is stealable anyway.
func leasedByOther(shape models.Shape, userId string, now int64) bool {
	if !shape.IsLocked || shape.LockedBy == userId {
		return false
	}
	return time.Duration(now-shape.LockStartTime)*time.Millisecond < lockTimeout
}

// AcquireLock takes the advisory edit lease on a shape. It returns false
// when another user holds an unexpired lease; nothing is written in that
// case. Re-acquiring a lease you already hold refreshes its start time,
// and an expired lease is stolen in place.
func (s *Service) AcquireLock(ctx context.Context, canvasId string, userId string, shapeId string) (bool, error) {
	shapes, err := s.LoadShapes(ctx, canvasId)
	if err != nil {
		return false, err
	}

	idx := indexOfShape(shapes, shapeId)
	if idx < 0 {
		return false, ErrShapeNotFound
	}

	now := time.Now().UnixMilli()
	shape := &shapes[idx]

	if leasedByOther(*shape, userId, now) {
		return false, nil
	}
	// Not leased, own lease being refreshed, or expired and stolen in place

	shape.IsLocked = true
	shape.LockedBy = userId
	shape.LockStartTime = now

	if err := s.storeShapes(ctx, canvasId, shapes, userId); err != nil {
		return false, err
	}

	return true, nil
}

// ReleaseLock drops the lease if the caller holds it. Releasing a lease
// held by someone else, or not held at all, is a no-op rather than an
// error: release messages race with reaping and steals all the time.
func (s *Service) ReleaseLock(ctx context.Context, canvasId string, userId string, shapeId string) error {
	shapes, err := s.LoadShapes(ctx, canvasId)
	if err != nil {
		return err
	}

	idx := indexOfShape(shapes, shapeId)
	if idx < 0 {
		return ErrShapeNotFound
	}

	if !shapes[idx].IsLocked || shapes[idx].LockedBy != userId {
		return nil
	}

	shapes[idx].IsLocked = false
	shapes[idx].LockedBy = ""
	shapes[idx].LockStartTime = 0

	return s.storeShapes(ctx, canvasId, shapes, userId)
}

// ReleaseUserLocks drops every lease a user holds on a canvas. Called when
// their connection goes away so shapes are not left leased until the
// timeout.
func (s *Service) ReleaseUserLocks(ctx context.Context, canvasId string, userId string) (int, error) {
	shapes, err := s.LoadShapes(ctx, canvasId)
	if err != nil {
		return 0, err
	}

	released := 0
	for i := range shapes {
		if shapes[i].IsLocked && shapes[i].LockedBy == userId {
			shapes[i].IsLocked = false
			shapes[i].LockedBy = ""
			shapes[i].LockStartTime = 0
			released++
		}
	}

	if released == 0 {
		return 0, nil
	}

	if err := s.storeShapes(ctx, canvasId, shapes, userId); err != nil {
		return 0, err
	}
	return released, nil
}

// ReapExpiredLocks releases every lease older than the lock timeout and
// returns how many it released.
func (s *Service) ReapExpiredLocks(ctx context.Context, canvasId string) (int, error) {
	shapes, err := s.LoadShapes(ctx, canvasId)
	if err != nil {
		return 0, err
	}

	now := time.Now().UnixMilli()
	released := 0
	for i := range shapes {
		if !shapes[i].IsLocked {
			continue
		}
		heldFor := time.Duration(now-shapes[i].LockStartTime) * time.Millisecond
		if heldFor < lockTimeout {
			continue
		}
		shapes[i].IsLocked = false
		shapes[i].LockedBy = ""
		shapes[i].LockStartTime = 0
		released++
	}

	if released == 0 {
		return 0, nil
	}

	if err := s.storeShapes(ctx, canvasId, shapes, ""); err != nil {
		return 0, err
	}
	return released, nil
}

// HeldLocks lists shapeId -> holder for every live lease on the canvas.
func (s *Service) HeldLocks(ctx context.Context, canvasId string) (map[string]string, error) {
	shapes, err := s.LoadShapes(ctx, canvasId)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	held := make(map[string]string)
	for _, shape := range shapes {
		if !shape.IsLocked {
			continue
		}
		if time.Duration(now-shape.LockStartTime)*time.Millisecond >= lockTimeout {
			continue
		}
		held[shape.Id] = shape.LockedBy
	}
	return held, nil
}
