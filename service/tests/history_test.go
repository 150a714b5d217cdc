package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	cachemocks "github.com/kishor-kashid/collabcanvas/cache/mocks"
	"github.com/kishor-kashid/collabcanvas/models"
	mqmocks "github.com/kishor-kashid/collabcanvas/mq/mocks"
	"github.com/kishor-kashid/collabcanvas/service"
	storemocks "github.com/kishor-kashid/collabcanvas/store/mocks"
	"github.com/kishor-kashid/collabcanvas/worker"
)

// fakeDocStore keeps shape documents in memory so undo/redo round trips see
// their own writes. Everything else falls through to the embedded mock.
type fakeDocStore struct {
	storemocks.MockStore
	mu     sync.Mutex
	docs   map[string][]models.Shape
	writes [][]string

	// When set, every document read parks until all expected readers have
	// arrived, forcing read-modify-write cycles to overlap
	readBarrier *sync.WaitGroup
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{docs: make(map[string][]models.Shape)}
}

func (f *fakeDocStore) GetShapeDocument(ctx context.Context, canvasId string) ([]models.Shape, error) {
	if f.readBarrier != nil {
		f.readBarrier.Done()
		f.readBarrier.Wait()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Shape(nil), f.docs[canvasId]...), nil
}

func (f *fakeDocStore) ReplaceShapeDocument(ctx context.Context, canvasId string, shapes []models.Shape) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docs[canvasId] = append([]models.Shape(nil), shapes...)

	ids := make([]string, 0, len(shapes))
	for _, shape := range shapes {
		ids = append(ids, shape.Id)
	}
	f.writes = append(f.writes, ids)
	return nil
}

// writeLog returns the id list of every document write so far, in order.
func (f *fakeDocStore) writeLog() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.writes...)
}

func (f *fakeDocStore) clearWriteLog() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = nil
}

func (f *fakeDocStore) shapeIds(canvasId string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.docs[canvasId]))
	for _, shape := range f.docs[canvasId] {
		ids = append(ids, shape.Id)
	}
	return ids
}

func setupHistory(t *testing.T) (*service.Service, *fakeDocStore, *service.History) {
	fakeStore := newFakeDocStore()
	mockCache := new(cachemocks.MockCache)
	mockMQ := new(mqmocks.MockQueue)

	// Cache always misses so the service reads and writes the fake store
	mockCache.On("GetShapeDoc", mock.Anything, mock.Anything).Return(nil, nil)
	mockCache.On("SetShapeDoc", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	mockCache.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	activityBatcher := worker.NewActivityBatcher(fakeStore, 1000)

	svc, err := service.NewService(fakeStore, mockCache, mockMQ, activityBatcher, nil, []byte("secret"))
	assert.NoError(t, err)

	history := service.NewHistory(svc, "canvas1", "user1")
	return svc, fakeStore, history
}

func TestHistory_UndoRedoCreate(t *testing.T) {
	svc, fakeStore, history := setupHistory(t)
	ctx := context.Background()

	created, action, err := svc.CreateShapes(ctx, "canvas1", "user1", []models.Shape{rectShape("")})
	assert.NoError(t, err)
	history.Record(action)
	assert.True(t, history.CanUndo())

	err = history.Undo(ctx)
	assert.NoError(t, err)
	assert.Empty(t, fakeStore.shapeIds("canvas1"))
	assert.False(t, history.CanUndo())
	assert.True(t, history.CanRedo())

	// Redo restores the snapshot, keeping the original id
	err = history.Redo(ctx)
	assert.NoError(t, err)
	assert.Equal(t, []string{created[0].Id}, fakeStore.shapeIds("canvas1"))
	assert.True(t, history.CanUndo())
	assert.False(t, history.CanRedo())
}

func TestHistory_UndoRedoUpdate(t *testing.T) {
	svc, fakeStore, history := setupHistory(t)
	ctx := context.Background()

	created, _, err := svc.CreateShapes(ctx, "canvas1", "user1", []models.Shape{rectShape("")})
	assert.NoError(t, err)
	shapeId := created[0].Id

	newX := 99.0
	_, action, err := svc.UpdateShape(ctx, "canvas1", "user1", shapeId, models.ShapePatch{X: &newX})
	assert.NoError(t, err)
	history.Record(action)

	err = history.Undo(ctx)
	assert.NoError(t, err)
	doc, _ := fakeStore.GetShapeDocument(ctx, "canvas1")
	assert.Equal(t, 0.0, doc[0].X)

	err = history.Redo(ctx)
	assert.NoError(t, err)
	doc, _ = fakeStore.GetShapeDocument(ctx, "canvas1")
	assert.Equal(t, 99.0, doc[0].X)
}

func TestHistory_UndoDeleteRestoresStamps(t *testing.T) {
	svc, fakeStore, history := setupHistory(t)
	ctx := context.Background()

	created, _, err := svc.CreateShapes(ctx, "canvas1", "user1", []models.Shape{rectShape("")})
	assert.NoError(t, err)
	original := created[0]

	action, err := svc.DeleteShapes(ctx, "canvas1", "user1", []string{original.Id})
	assert.NoError(t, err)
	history.Record(action)
	assert.Empty(t, fakeStore.shapeIds("canvas1"))

	err = history.Undo(ctx)
	assert.NoError(t, err)

	doc, _ := fakeStore.GetShapeDocument(ctx, "canvas1")
	assert.Len(t, doc, 1)
	assert.Equal(t, original.Id, doc[0].Id)
	assert.Equal(t, original.CreatedAt, doc[0].CreatedAt)
	assert.Equal(t, original.CreatedBy, doc[0].CreatedBy)
}

func TestHistory_BatchUndoneAsOne(t *testing.T) {
	svc, fakeStore, history := setupHistory(t)
	ctx := context.Background()

	created, _, err := svc.CreateShapes(ctx, "canvas1", "user1", []models.Shape{rectShape(""), rectShape("")})
	assert.NoError(t, err)

	assert.NoError(t, history.BeginBatch())
	for _, shape := range created {
		newX := 50.0
		_, action, err := svc.UpdateShape(ctx, "canvas1", "user1", shape.Id, models.ShapePatch{X: &newX})
		assert.NoError(t, err)
		history.Record(action)
	}
	assert.NoError(t, history.EndBatch())

	// Two updates, one undo entry
	err = history.Undo(ctx)
	assert.NoError(t, err)
	assert.False(t, history.CanUndo())

	doc, _ := fakeStore.GetShapeDocument(ctx, "canvas1")
	assert.Equal(t, 0.0, doc[0].X)
	assert.Equal(t, 0.0, doc[1].X)
}

func TestHistory_BatchUndoReversesRedoReplays(t *testing.T) {
	svc, fakeStore, history := setupHistory(t)
	ctx := context.Background()

	assert.NoError(t, history.BeginBatch())
	createdA, action, err := svc.CreateShapes(ctx, "canvas1", "user1", []models.Shape{rectShape("")})
	assert.NoError(t, err)
	history.Record(action)
	createdB, action, err := svc.CreateShapes(ctx, "canvas1", "user1", []models.Shape{rectShape("")})
	assert.NoError(t, err)
	history.Record(action)
	assert.NoError(t, history.EndBatch())

	idA, idB := createdA[0].Id, createdB[0].Id

	// Undo removes B first, then A
	fakeStore.clearWriteLog()
	assert.NoError(t, history.Undo(ctx))
	assert.Equal(t, [][]string{{idA}, {}}, fakeStore.writeLog())

	// Redo re-creates A first, then B
	fakeStore.clearWriteLog()
	assert.NoError(t, history.Redo(ctx))
	assert.Equal(t, [][]string{{idA}, {idA, idB}}, fakeStore.writeLog())
}

func TestConcurrentCreates_OverlappingReadsLoseAtMostOne(t *testing.T) {
	svc, fakeStore, _ := setupHistory(t)
	ctx := context.Background()

	// Both writers read the empty document before either writes, so the
	// second write lands on a list that never saw the first. Last writer
	// wins at document granularity; at least one creation must survive.
	barrier := &sync.WaitGroup{}
	barrier.Add(2)
	fakeStore.readBarrier = barrier

	var wg sync.WaitGroup
	for _, userId := range []string{"user1", "user2"} {
		wg.Add(1)
		go func(userId string) {
			defer wg.Done()
			_, _, err := svc.CreateShapes(ctx, "canvas1", userId, []models.Shape{rectShape("")})
			assert.NoError(t, err)
		}(userId)
	}
	wg.Wait()
	fakeStore.readBarrier = nil

	survivors := fakeStore.shapeIds("canvas1")
	assert.GreaterOrEqual(t, len(survivors), 1)
	assert.LessOrEqual(t, len(survivors), 2)
}

func TestHistory_BatchOfOneUnwraps(t *testing.T) {
	svc, fakeStore, history := setupHistory(t)
	ctx := context.Background()

	created, _, err := svc.CreateShapes(ctx, "canvas1", "user1", []models.Shape{rectShape("")})
	assert.NoError(t, err)

	assert.NoError(t, history.BeginBatch())
	newX := 50.0
	_, action, err := svc.UpdateShape(ctx, "canvas1", "user1", created[0].Id, models.ShapePatch{X: &newX})
	assert.NoError(t, err)
	history.Record(action)
	assert.NoError(t, history.EndBatch())

	assert.NoError(t, history.Undo(ctx))
	doc, _ := fakeStore.GetShapeDocument(ctx, "canvas1")
	assert.Equal(t, 0.0, doc[0].X)
}

func TestHistory_EmptyBatchRecordsNothing(t *testing.T) {
	_, _, history := setupHistory(t)

	assert.NoError(t, history.BeginBatch())
	assert.NoError(t, history.EndBatch())
	assert.False(t, history.CanUndo())
}

func TestHistory_BatchStateErrors(t *testing.T) {
	_, _, history := setupHistory(t)
	ctx := context.Background()

	assert.ErrorIs(t, history.EndBatch(), service.ErrNoBatchOpen)

	assert.NoError(t, history.BeginBatch())
	assert.ErrorIs(t, history.BeginBatch(), service.ErrBatchOpen)

	// Undo and redo are blocked while a batch is open
	assert.ErrorIs(t, history.Undo(ctx), service.ErrBatchOpen)
	assert.ErrorIs(t, history.Redo(ctx), service.ErrBatchOpen)
}

func TestHistory_EmptyStacks(t *testing.T) {
	_, _, history := setupHistory(t)
	ctx := context.Background()

	assert.ErrorIs(t, history.Undo(ctx), service.ErrNothingToUndo)
	assert.ErrorIs(t, history.Redo(ctx), service.ErrNothingToRedo)
}

func TestHistory_NewEditClearsRedo(t *testing.T) {
	svc, _, history := setupHistory(t)
	ctx := context.Background()

	_, action, err := svc.CreateShapes(ctx, "canvas1", "user1", []models.Shape{rectShape("")})
	assert.NoError(t, err)
	history.Record(action)

	assert.NoError(t, history.Undo(ctx))
	assert.True(t, history.CanRedo())

	// A fresh edit makes the undone branch unreachable
	_, action, err = svc.CreateShapes(ctx, "canvas1", "user1", []models.Shape{rectShape("")})
	assert.NoError(t, err)
	history.Record(action)

	assert.False(t, history.CanRedo())
}

func TestHistory_UndoUpdateOfDeletedShapeDegradesToNoOp(t *testing.T) {
	svc, _, history := setupHistory(t)
	ctx := context.Background()

	created, _, err := svc.CreateShapes(ctx, "canvas1", "user1", []models.Shape{rectShape("")})
	assert.NoError(t, err)

	newX := 99.0
	_, action, err := svc.UpdateShape(ctx, "canvas1", "user1", created[0].Id, models.ShapePatch{X: &newX})
	assert.NoError(t, err)
	history.Record(action)

	// Someone else deletes the shape out from under the log
	_, err = svc.DeleteShapes(ctx, "canvas1", "user2", []string{created[0].Id})
	assert.NoError(t, err)

	err = history.Undo(ctx)
	assert.NoError(t, err)
	assert.True(t, history.CanRedo())
}

func TestHistory_EmptyActionNotRecorded(t *testing.T) {
	_, _, history := setupHistory(t)

	history.Record(models.Action{Type: models.ActionDelete})
	assert.False(t, history.CanUndo())
}
