package service_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	cachemocks "github.com/kishor-kashid/collabcanvas/cache/mocks"
	"github.com/kishor-kashid/collabcanvas/models"
	mqmocks "github.com/kishor-kashid/collabcanvas/mq/mocks"
	"github.com/kishor-kashid/collabcanvas/service"
	storemocks "github.com/kishor-kashid/collabcanvas/store/mocks"
	"github.com/kishor-kashid/collabcanvas/worker"
)

// Helper to setup the service with mocks
func setupService(t *testing.T) (*service.Service, *storemocks.MockStore, *cachemocks.MockCache, *mqmocks.MockQueue, *worker.ActivityBatcher) {
	mockStore := new(storemocks.MockStore)
	mockCache := new(cachemocks.MockCache)
	mockMQ := new(mqmocks.MockQueue)

	// Real batcher is used; tests verify items are pushed to its channel
	activityBatcher := worker.NewActivityBatcher(mockStore, 1000)

	svc, err := service.NewService(
		mockStore,
		mockCache,
		mockMQ,
		activityBatcher,
		nil,
		[]byte("secret"),
	)
	assert.NoError(t, err)

	return svc, mockStore, mockCache, mockMQ, activityBatcher
}

// Helper that creates a channel and wraps a mock call to signal when it's called
func wrapMockWithSignal(call *mock.Call) chan struct{} {
	done := make(chan struct{})
	call.Run(func(args mock.Arguments) {
		close(done)
	})
	return done
}

func rectShape(id string) models.Shape {
	return models.Shape{
		Id:      id,
		Type:    models.ShapeRectangle,
		Rect:    &models.RectGeometry{Width: 100, Height: 50},
		Fill:    "#FF0000",
		Opacity: 1,
		Visible: true,
		ScaleX:  1,
		ScaleY:  1,
	}
}

func cacheDoc(t *testing.T, shapes []models.Shape) []byte {
	docBytes, err := json.Marshal(shapes)
	assert.NoError(t, err)
	return docBytes
}

func TestCreateShapes_Success(t *testing.T) {
	svc, mockStore, mockCache, _, activityBatcher := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{}), nil)
	mockStore.On("ReplaceShapeDocument", ctx, canvasId, mock.Anything).Return(nil)

	// Async side effects - use channels for synchronization
	setDocDone := wrapMockWithSignal(mockCache.On("SetShapeDoc", mock.Anything, canvasId, mock.Anything).Return(nil))
	publishDone := wrapMockWithSignal(mockCache.On("Publish", mock.Anything, "canvas:"+canvasId, mock.Anything).Return(nil))

	newShape := rectShape("")
	created, action, err := svc.CreateShapes(ctx, canvasId, "user1", []models.Shape{newShape})

	assert.NoError(t, err)
	assert.Len(t, created, 1)
	assert.NotEmpty(t, created[0].Id)
	assert.Equal(t, "user1", created[0].CreatedBy)
	assert.Equal(t, "user1", created[0].LastModifiedBy)
	assert.False(t, created[0].IsLocked)

	assert.Equal(t, models.ActionCreate, action.Type)
	assert.Len(t, action.Shapes, 1)
	assert.Equal(t, created[0].Id, action.Shapes[0].Id)

	// Verify activity batcher received the shape count delta
	select {
	case update := <-activityBatcher.UpdateCh:
		assert.Equal(t, canvasId, update.CanvasId)
		assert.Equal(t, 1, update.ShapeDelta)
	case <-time.After(100 * time.Millisecond):
		assert.Fail(t, "timed out waiting for activity batcher")
	}

	select {
	case <-setDocDone:
	case <-time.After(1 * time.Second):
		assert.Fail(t, "timed out waiting for SetShapeDoc")
	}

	select {
	case <-publishDone:
	case <-time.After(1 * time.Second):
		assert.Fail(t, "timed out waiting for Publish")
	}
}

func TestCreateShapes_QuotaExceeded(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	full := make([]models.Shape, 1000)
	for i := range full {
		full[i] = rectShape("existing")
	}
	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, full), nil)

	_, _, err := svc.CreateShapes(ctx, canvasId, "user1", []models.Shape{rectShape("")})

	assert.ErrorIs(t, err, service.ErrCanvasFull)
	mockStore.AssertNotCalled(t, "ReplaceShapeDocument", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateShapes_InvalidShape(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()

	// Type says circle, geometry says rect
	bad := models.Shape{
		Type: models.ShapeCircle,
		Rect: &models.RectGeometry{Width: 10, Height: 10},
	}

	_, _, err := svc.CreateShapes(ctx, "canvas1", "user1", []models.Shape{bad})

	assert.Error(t, err)
	mockCache.AssertNotCalled(t, "GetShapeDoc", mock.Anything, mock.Anything)
	mockStore.AssertNotCalled(t, "ReplaceShapeDocument", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateShapes_CacheMissFallsBackToStore(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	mockCache.On("GetShapeDoc", ctx, canvasId).Return(nil, nil)
	mockStore.On("GetShapeDocument", ctx, canvasId).Return([]models.Shape{}, nil)
	mockStore.On("ReplaceShapeDocument", ctx, canvasId, mock.Anything).Return(nil)
	mockCache.On("SetShapeDoc", mock.Anything, canvasId, mock.Anything).Return(nil)
	mockCache.On("Publish", mock.Anything, "canvas:"+canvasId, mock.Anything).Return(nil)

	created, _, err := svc.CreateShapes(ctx, canvasId, "user1", []models.Shape{rectShape("")})

	assert.NoError(t, err)
	assert.Len(t, created, 1)
	mockStore.AssertCalled(t, "GetShapeDocument", ctx, canvasId)
}

func TestUpdateShape_Success(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	existing := rectShape("shape1")
	existing.X = 10
	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{existing}), nil)
	mockStore.On("ReplaceShapeDocument", ctx, canvasId, mock.Anything).Return(nil)
	mockCache.On("SetShapeDoc", mock.Anything, canvasId, mock.Anything).Return(nil)
	publishDone := wrapMockWithSignal(mockCache.On("Publish", mock.Anything, "canvas:"+canvasId, mock.Anything).Return(nil))

	newX := 42.0
	updated, action, err := svc.UpdateShape(ctx, canvasId, "user2", "shape1", models.ShapePatch{X: &newX})

	assert.NoError(t, err)
	assert.Equal(t, 42.0, updated.X)
	assert.Equal(t, "user2", updated.LastModifiedBy)

	// The action must capture old and new values of exactly the patched field
	assert.Equal(t, models.ActionUpdate, action.Type)
	assert.Equal(t, "shape1", action.ShapeId)
	assert.NotNil(t, action.Old.X)
	assert.Equal(t, 10.0, *action.Old.X)
	assert.NotNil(t, action.New.X)
	assert.Equal(t, 42.0, *action.New.X)
	assert.Nil(t, action.Old.Y)

	select {
	case <-publishDone:
	case <-time.After(1 * time.Second):
		assert.Fail(t, "timed out waiting for Publish")
	}
}

func TestUpdateShape_NotFound(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{}), nil)

	newX := 1.0
	_, _, err := svc.UpdateShape(ctx, canvasId, "user1", "ghost", models.ShapePatch{X: &newX})

	assert.ErrorIs(t, err, service.ErrShapeNotFound)
	mockStore.AssertNotCalled(t, "ReplaceShapeDocument", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateShape_LayerLockedRejected(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	locked := rectShape("shape1")
	locked.LayerLocked = true
	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{locked}), nil)

	newX := 1.0
	_, _, err := svc.UpdateShape(ctx, canvasId, "user1", "shape1", models.ShapePatch{X: &newX})

	assert.ErrorIs(t, err, service.ErrLayerLocked)
	mockStore.AssertNotCalled(t, "ReplaceShapeDocument", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateShape_LayerLockedAllowsUnlocking(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	locked := rectShape("shape1")
	locked.LayerLocked = true
	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{locked}), nil)

	mockStore.On("ReplaceShapeDocument", ctx, canvasId, mock.Anything).Return(nil)
	mockCache.On("SetShapeDoc", mock.Anything, canvasId, mock.Anything).Return(nil)
	mockCache.On("Publish", mock.Anything, "canvas:"+canvasId, mock.Anything).Return(nil)

	unlock := false
	updated, _, err := svc.UpdateShape(ctx, canvasId, "user1", "shape1", models.ShapePatch{LayerLocked: &unlock})

	assert.NoError(t, err)
	assert.False(t, updated.LayerLocked)
}

func TestUpdateShape_ForeignLeaseRejected(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	held := leasedShape("shape1", "user2", 5*time.Second)
	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{held}), nil)

	newX := 1.0
	_, _, err := svc.UpdateShape(ctx, canvasId, "user1", "shape1", models.ShapePatch{X: &newX})

	assert.ErrorIs(t, err, service.ErrShapeLocked)
	mockStore.AssertNotCalled(t, "ReplaceShapeDocument", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateShape_HolderMayMutate(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	held := leasedShape("shape1", "user1", 5*time.Second)
	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{held}), nil)

	mockStore.On("ReplaceShapeDocument", ctx, canvasId, mock.Anything).Return(nil)
	mockCache.On("SetShapeDoc", mock.Anything, canvasId, mock.Anything).Return(nil)
	mockCache.On("Publish", mock.Anything, "canvas:"+canvasId, mock.Anything).Return(nil)

	newX := 1.0
	updated, _, err := svc.UpdateShape(ctx, canvasId, "user1", "shape1", models.ShapePatch{X: &newX})

	assert.NoError(t, err)
	assert.Equal(t, 1.0, updated.X)
}

func TestUpdateShape_ExpiredLeaseDoesNotBlock(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	held := leasedShape("shape1", "user2", 45*time.Second)
	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{held}), nil)

	mockStore.On("ReplaceShapeDocument", ctx, canvasId, mock.Anything).Return(nil)
	mockCache.On("SetShapeDoc", mock.Anything, canvasId, mock.Anything).Return(nil)
	mockCache.On("Publish", mock.Anything, "canvas:"+canvasId, mock.Anything).Return(nil)

	newX := 1.0
	_, _, err := svc.UpdateShape(ctx, canvasId, "user1", "shape1", models.ShapePatch{X: &newX})

	assert.NoError(t, err)
}

func TestDeleteShapes_ForeignLeaseRejected(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	held := leasedShape("shape1", "user2", 5*time.Second)
	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{rectShape("a"), held}), nil)

	_, err := svc.DeleteShapes(ctx, canvasId, "user1", []string{"a", "shape1"})

	assert.ErrorIs(t, err, service.ErrShapeLocked)
	mockStore.AssertNotCalled(t, "ReplaceShapeDocument", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateShapes_ForeignLeaseRejectsBatch(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	a := rectShape("a")
	held := leasedShape("b", "user2", 5*time.Second)
	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{a, held}), nil)

	newX := 5.0
	_, _, err := svc.UpdateShapes(ctx, canvasId, "user1", []service.ShapeUpdate{
		{ShapeId: "a", Patch: models.ShapePatch{X: &newX}},
		{ShapeId: "b", Patch: models.ShapePatch{X: &newX}},
	})

	assert.ErrorIs(t, err, service.ErrShapeLocked)
	mockStore.AssertNotCalled(t, "ReplaceShapeDocument", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateShapes_AtomicBatchRejection(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	a := rectShape("a")
	b := rectShape("b")
	b.LayerLocked = true
	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{a, b}), nil)

	newX := 5.0
	_, _, err := svc.UpdateShapes(ctx, canvasId, "user1", []service.ShapeUpdate{
		{ShapeId: "a", Patch: models.ShapePatch{X: &newX}},
		{ShapeId: "b", Patch: models.ShapePatch{X: &newX}},
	})

	// One locked target rejects the whole batch; "a" must be untouched
	assert.ErrorIs(t, err, service.ErrLayerLocked)
	mockStore.AssertNotCalled(t, "ReplaceShapeDocument", mock.Anything, mock.Anything, mock.Anything)
}

func TestUpdateShapes_BatchAction(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	a := rectShape("a")
	b := rectShape("b")
	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{a, b}), nil)
	mockStore.On("ReplaceShapeDocument", ctx, canvasId, mock.Anything).Return(nil)
	mockCache.On("SetShapeDoc", mock.Anything, canvasId, mock.Anything).Return(nil)
	mockCache.On("Publish", mock.Anything, "canvas:"+canvasId, mock.Anything).Return(nil)

	newX := 5.0
	newY := 7.0
	updated, action, err := svc.UpdateShapes(ctx, canvasId, "user1", []service.ShapeUpdate{
		{ShapeId: "a", Patch: models.ShapePatch{X: &newX}},
		{ShapeId: "b", Patch: models.ShapePatch{Y: &newY}},
	})

	assert.NoError(t, err)
	assert.Len(t, updated, 2)
	assert.Equal(t, models.ActionBatch, action.Type)
	assert.Len(t, action.Sub, 2)
	assert.Equal(t, "a", action.Sub[0].ShapeId)
	assert.Equal(t, "b", action.Sub[1].ShapeId)
}

func TestDeleteShapes_Success(t *testing.T) {
	svc, mockStore, mockCache, _, activityBatcher := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	a := rectShape("a")
	b := rectShape("b")
	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{a, b}), nil)

	var storedShapes []models.Shape
	mockStore.On("ReplaceShapeDocument", ctx, canvasId, mock.Anything).Run(func(args mock.Arguments) {
		storedShapes = args.Get(2).([]models.Shape)
	}).Return(nil)
	mockCache.On("SetShapeDoc", mock.Anything, canvasId, mock.Anything).Return(nil)
	mockCache.On("Publish", mock.Anything, "canvas:"+canvasId, mock.Anything).Return(nil)

	action, err := svc.DeleteShapes(ctx, canvasId, "user1", []string{"a"})

	assert.NoError(t, err)
	assert.Equal(t, models.ActionDelete, action.Type)
	assert.Len(t, action.Shapes, 1)
	assert.Equal(t, "a", action.Shapes[0].Id)

	assert.Len(t, storedShapes, 1)
	assert.Equal(t, "b", storedShapes[0].Id)

	select {
	case update := <-activityBatcher.UpdateCh:
		assert.Equal(t, -1, update.ShapeDelta)
	case <-time.After(100 * time.Millisecond):
		assert.Fail(t, "timed out waiting for activity batcher")
	}
}

func TestDeleteShapes_AbsentIdIsNoOp(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{rectShape("a")}), nil)

	action, err := svc.DeleteShapes(ctx, canvasId, "user1", []string{"ghost"})

	// Deleting a shape that is already gone succeeds silently
	assert.NoError(t, err)
	assert.True(t, action.IsEmpty())
	mockStore.AssertNotCalled(t, "ReplaceShapeDocument", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteShapes_LayerLockedRejected(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	locked := rectShape("a")
	locked.LayerLocked = true
	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{locked}), nil)

	_, err := svc.DeleteShapes(ctx, canvasId, "user1", []string{"a"})

	assert.ErrorIs(t, err, service.ErrLayerLocked)
	mockStore.AssertNotCalled(t, "ReplaceShapeDocument", mock.Anything, mock.Anything, mock.Anything)
}

func TestRestoreShapes_SkipsExistingIds(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	existing := rectShape("a")
	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{existing}), nil)

	// Both snapshots target the doc but "a" is already present
	err := svc.RestoreShapes(ctx, canvasId, "user1", []models.Shape{existing})

	assert.NoError(t, err)
	mockStore.AssertNotCalled(t, "ReplaceShapeDocument", mock.Anything, mock.Anything, mock.Anything)
}

func TestRestoreShapes_KeepsSnapshotStamps(t *testing.T) {
	svc, mockStore, mockCache, _, _ := setupService(t)
	ctx := context.Background()
	canvasId := "canvas1"

	mockCache.On("GetShapeDoc", ctx, canvasId).Return(cacheDoc(t, []models.Shape{}), nil)

	var storedShapes []models.Shape
	mockStore.On("ReplaceShapeDocument", ctx, canvasId, mock.Anything).Run(func(args mock.Arguments) {
		storedShapes = args.Get(2).([]models.Shape)
	}).Return(nil)
	mockCache.On("SetShapeDoc", mock.Anything, canvasId, mock.Anything).Return(nil)
	mockCache.On("Publish", mock.Anything, "canvas:"+canvasId, mock.Anything).Return(nil)

	snapshot := rectShape("a")
	snapshot.CreatedBy = "original-author"
	snapshot.CreatedAt = 12345
	snapshot.IsLocked = true
	snapshot.LockedBy = "someone"

	err := svc.RestoreShapes(ctx, canvasId, "user1", []models.Shape{snapshot})

	assert.NoError(t, err)
	assert.Len(t, storedShapes, 1)
	assert.Equal(t, "original-author", storedShapes[0].CreatedBy)
	assert.Equal(t, int64(12345), storedShapes[0].CreatedAt)
	// Leases never survive the undo log
	assert.False(t, storedShapes[0].IsLocked)
}
