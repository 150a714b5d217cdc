package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/kishor-kashid/collabcanvas/models"
	"github.com/kishor-kashid/collabcanvas/service"
)

func leasedShape(id string, holder string, heldFor time.Duration) models.Shape {
	shape := rectShape(id)
	shape.IsLocked = true
	shape.LockedBy = holder
	shape.LockStartTime = time.Now().Add(-heldFor).UnixMilli()
	return shape
}

func TestAcquireLock_Granted(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{rectShape("a")}), nil)

	var storedShapes []models.Shape
	mockStore.On("ReplaceShapeDocument", ctx, canvasId, mock.Anything).Run(func(args mock.Arguments) {
		storedShapes = args.Get(2).([]models.Shape)
	}).Return(nil)
	mockCache.On("SetShapeDoc", mock.Anything, canvasId, mock.Anything).Return(nil)
	publishDone := wrapMockWithSignal(mockCache.On("Publish", mock.Anything, "canvas:"+canvasId, mock.Anything).Return(nil))

	granted, err := svc.AcquireLock(ctx, canvasId, "user1", "a")

	assert.NoError(t, err)
	assert.True(t, granted)
	assert.Len(t, storedShapes, 1)
	assert.True(t, storedShapes[0].IsLocked)
	assert.Equal(t, "user1", storedShapes[0].LockedBy)
	assert.NotZero(t, storedShapes[0].LockStartTime)

	select {
	case <-publishDone:
	case <-time.After(1 * time.Second):
		assert.Fail(t, "timed out waiting for Publish")
	}
}

func TestAcquireLock_DeniedWhileHeld(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	held := leasedShape("a", "user2", 5*time.Second)
	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{held}), nil)

	granted, err := svc.AcquireLock(ctx, canvasId, "user1", "a")

	// Denial writes nothing
	assert.NoError(t, err)
	assert.False(t, granted)
	mockStore.AssertNotCalled(t, "ReplaceShapeDocument", mock.Anything, mock.Anything, mock.Anything)
}

func TestAcquireLock_StealsExpiredLease(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	expired := leasedShape("a", "user2", 45*time.Second)
	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{expired}), nil)

	var storedShapes []models.Shape
	mockStore.On("ReplaceShapeDocument", ctx, canvasId, mock.Anything).Run(func(args mock.Arguments) {
		storedShapes = args.Get(2).([]models.Shape)
	}).Return(nil)
	mockCache.On("SetShapeDoc", mock.Anything, canvasId, mock.Anything).Return(nil)
	mockCache.On("Publish", mock.Anything, "canvas:"+canvasId, mock.Anything).Return(nil)

	granted, err := svc.AcquireLock(ctx, canvasId, "user1", "a")

	assert.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, "user1", storedShapes[0].LockedBy)
}

func TestAcquireLock_RefreshOwnLease(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	own := leasedShape("a", "user1", 20*time.Second)
	oldStart := own.LockStartTime
	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{own}), nil)

	var storedShapes []models.Shape
	mockStore.On("ReplaceShapeDocument", ctx, canvasId, mock.Anything).Run(func(args mock.Arguments) {
		storedShapes = args.Get(2).([]models.Shape)
	}).Return(nil)
	mockCache.On("SetShapeDoc", mock.Anything, canvasId, mock.Anything).Return(nil)
	mockCache.On("Publish", mock.Anything, "canvas:"+canvasId, mock.Anything).Return(nil)

	granted, err := svc.AcquireLock(ctx, canvasId, "user1", "a")

	assert.NoError(t, err)
	assert.True(t, granted)
	assert.Equal(t, "user1", storedShapes[0].LockedBy)
	assert.Greater(t, storedShapes[0].LockStartTime, oldStart)
}

func TestAcquireLock_ShapeNotFound(t *testing.T) {
	svc, _, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{}), nil)

	_, err := svc.AcquireLock(ctx, canvasId, "user1", "ghost")

	assert.ErrorIs(t, err, service.ErrShapeNotFound)
}

func TestReleaseLock_NonHolderIsNoOp(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	held := leasedShape("a", "user2", 5*time.Second)
	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{held}), nil)

	err := svc.ReleaseLock(ctx, canvasId, "user1", "a")

	// Releases race with reaping and steals, so this is not an error
	assert.NoError(t, err)
	mockStore.AssertNotCalled(t, "ReplaceShapeDocument", mock.Anything, mock.Anything, mock.Anything)
}

func TestReleaseLock_Holder(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	held := leasedShape("a", "user1", 5*time.Second)
	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{held}), nil)

	var storedShapes []models.Shape
	mockStore.On("ReplaceShapeDocument", ctx, canvasId, mock.Anything).Run(func(args mock.Arguments) {
		storedShapes = args.Get(2).([]models.Shape)
	}).Return(nil)
	mockCache.On("SetShapeDoc", mock.Anything, canvasId, mock.Anything).Return(nil)
	mockCache.On("Publish", mock.Anything, "canvas:"+canvasId, mock.Anything).Return(nil)

	err := svc.ReleaseLock(ctx, canvasId, "user1", "a")

	assert.NoError(t, err)
	assert.False(t, storedShapes[0].IsLocked)
	assert.Empty(t, storedShapes[0].LockedBy)
	assert.Zero(t, storedShapes[0].LockStartTime)
}

func TestReleaseUserLocks(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	shapes := []models.Shape{
		leasedShape("a", "user1", 5*time.Second),
		leasedShape("b", "user2", 5*time.Second),
		leasedShape("c", "user1", 5*time.Second),
	}
	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, shapes), nil)

	var storedShapes []models.Shape
	mockStore.On("ReplaceShapeDocument", ctx, canvasId, mock.Anything).Run(func(args mock.Arguments) {
		storedShapes = args.Get(2).([]models.Shape)
	}).Return(nil)
	mockCache.On("SetShapeDoc", mock.Anything, canvasId, mock.Anything).Return(nil)
	mockCache.On("Publish", mock.Anything, "canvas:"+canvasId, mock.Anything).Return(nil)

	released, err := svc.ReleaseUserLocks(ctx, canvasId, "user1")

	assert.NoError(t, err)
	assert.Equal(t, 2, released)
	assert.False(t, storedShapes[0].IsLocked)
	assert.True(t, storedShapes[1].IsLocked) // user2's lease untouched
	assert.False(t, storedShapes[2].IsLocked)
}

func TestReleaseUserLocks_NothingHeld(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{rectShape("a")}), nil)

	released, err := svc.ReleaseUserLocks(ctx, canvasId, "user1")

	assert.NoError(t, err)
	assert.Zero(t, released)
	mockStore.AssertNotCalled(t, "ReplaceShapeDocument", mock.Anything, mock.Anything, mock.Anything)
}

func TestReapExpiredLocks(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	shapes := []models.Shape{
		leasedShape("a", "user1", 45*time.Second), // expired
		leasedShape("b", "user2", 5*time.Second),  // live
		rectShape("c"),
	}
	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, shapes), nil)

	var storedShapes []models.Shape
	mockStore.On("ReplaceShapeDocument", ctx, canvasId, mock.Anything).Run(func(args mock.Arguments) {
		storedShapes = args.Get(2).([]models.Shape)
	}).Return(nil)
	mockCache.On("SetShapeDoc", mock.Anything, canvasId, mock.Anything).Return(nil)
	mockCache.On("Publish", mock.Anything, "canvas:"+canvasId, mock.Anything).Return(nil)

	released, err := svc.ReapExpiredLocks(ctx, canvasId)

	assert.NoError(t, err)
	assert.Equal(t, 1, released)
	assert.False(t, storedShapes[0].IsLocked)
	assert.True(t, storedShapes[1].IsLocked)
}

func TestReapExpiredLocks_NothingExpired(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{leasedShape("a", "user1", 5*time.Second)}), nil)

	released, err := svc.ReapExpiredLocks(ctx, canvasId)

	assert.NoError(t, err)
	assert.Zero(t, released)
	mockStore.AssertNotCalled(t, "ReplaceShapeDocument", mock.Anything, mock.Anything, mock.Anything)
}

func TestHeldLocks_ExcludesExpired(t *testing.T) {
	svc, _, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	shapes := []models.Shape{
		leasedShape("a", "user1", 5*time.Second),
		leasedShape("b", "user2", 45*time.Second),
		rectShape("c"),
	}
	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, shapes), nil)

	held, err := svc.HeldLocks(ctx, canvasId)

	assert.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "user1"}, held)
}
