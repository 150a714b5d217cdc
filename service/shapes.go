package service

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/kishor-kashid/collabcanvas/models"
	"github.com/kishor-kashid/collabcanvas/worker"
)

const maxCanvasShapes = 1000

type ShapesChangedMessage struct {
	Type string            `json:"type"`
	Data ShapesChangedData `json:"data"`
}

// ShapesChangedData fans out the whole document. The document is capped at
// maxCanvasShapes, so the full list stays small enough that clients can
// replace their local state wholesale instead of patching it.
type ShapesChangedData struct {
	CanvasId string         `json:"canvasId"`
	Shapes   []models.Shape `json:"shapes"`
	ActorId  string         `json:"actorId"`
}

// LoadShapes returns the full shape document of a canvas, cache-first.
func (s *Service) LoadShapes(ctx context.Context, canvasId string) ([]models.Shape, error) {
	raw, err := s.Cache.GetShapeDoc(ctx, canvasId)
	if err == nil && raw != nil {
		var shapes []models.Shape
		if err := json.Unmarshal(raw, &shapes); err == nil {
			return shapes, nil
		}
		// Corrupt cache entry: fall through to the store
	}

	shapes, err := s.Store.GetShapeDocument(ctx, canvasId)
	if err != nil {
		return nil, err
	}

	if docBytes, err := json.Marshal(shapes); err == nil {
		s.Cache.SetShapeDoc(ctx, canvasId, docBytes)
	}

	return shapes, nil
}

// storeShapes is the commit point of every document mutation: the store
// replace is synchronous, cache refresh and broadcast are async side-effects.
func (s *Service) storeShapes(ctx context.Context, canvasId string, shapes []models.Shape, actorId string) error {
	if err := s.Store.ReplaceShapeDocument(ctx, canvasId, shapes); err != nil {
		return err
	}

	// Async side-effects - return to caller as soon as the store write is done
	go func() {
		docBytes, err := json.Marshal(shapes)
		if err != nil {
			log.Printf("Failed to marshal shape document for canvas %s: %v", canvasId, err)
			return
		}
		s.Cache.SetShapeDoc(context.Background(), canvasId, docBytes)

		msg := ShapesChangedMessage{
			Type: "shapes_changed",
			Data: ShapesChangedData{
				CanvasId: canvasId,
				Shapes:   shapes,
				ActorId:  actorId,
			},
		}
		msgBytes, _ := json.Marshal(msg)
		s.Cache.Publish(context.Background(), "canvas:"+canvasId, msgBytes)
	}()

	return nil
}

func (s *Service) noteActivity(canvasId string, shapeDelta int) {
	select {
	case s.ActivityBatcher.UpdateCh <- worker.ActivityUpdate{
		CanvasId:   canvasId,
		ShapeDelta: shapeDelta,
		At:         time.Now().Unix(),
	}:
	default:
		// Batcher backlogged: dropping an activity stamp is harmless
	}
}

// CreateShapes inserts new shapes into a canvas document and returns them
// with server-assigned ids and stamps, plus the undo-log action.
func (s *Service) CreateShapes(ctx context.Context, canvasId string, userId string, newShapes []models.Shape) ([]models.Shape, models.Action, error) {
	for _, shape := range newShapes {
		if err := ValidateShape(shape); err != nil {
			return nil, models.Action{}, err
		}
	}
	if len(newShapes) == 0 {
		return nil, models.Action{}, nil
	}

	shapes, err := s.LoadShapes(ctx, canvasId)
	if err != nil {
		return nil, models.Action{}, err
	}

	if len(shapes)+len(newShapes) > maxCanvasShapes {
		log.Printf("Canvas %s exceeded shape quota (%d)", canvasId, len(shapes))
		return nil, models.Action{}, ErrCanvasFull
	}

	now := time.Now().UnixMilli()
	created := make([]models.Shape, 0, len(newShapes))
	for _, shape := range newShapes {
		shapeUUID, err := uuid.NewV7()
		if err != nil {
			return nil, models.Action{}, err
		}
		shape.Id = shapeUUID.String()

		// Server-owned fields: clients cannot pre-lock or back-date shapes
		shape.IsLocked = false
		shape.LockedBy = ""
		shape.LockStartTime = 0
		shape.Visible = true
		if shape.ScaleX == 0 {
			shape.ScaleX = 1
		}
		if shape.ScaleY == 0 {
			shape.ScaleY = 1
		}
		if shape.Opacity == 0 {
			shape.Opacity = 1
		}
		shape.CreatedBy = userId
		shape.CreatedAt = now
		shape.LastModifiedBy = userId
		shape.LastModifiedAt = now

		created = append(created, shape)
	}

	shapes = append(shapes, created...)

	if err := s.storeShapes(ctx, canvasId, shapes, userId); err != nil {
		return nil, models.Action{}, err
	}
	s.noteActivity(canvasId, len(created))

	action := models.Action{
		Type:      models.ActionCreate,
		CanvasId:  canvasId,
		Timestamp: now,
		Shapes:    created,
	}
	return created, action, nil
}

// UpdateShape applies a partial update to one shape. The returned action
// carries the old and new values of exactly the patched fields.
func (s *Service) UpdateShape(ctx context.Context, canvasId string, userId string, shapeId string, patch models.ShapePatch) (models.Shape, models.Action, error) {
	if err := ValidatePatch(patch); err != nil {
		return models.Shape{}, models.Action{}, err
	}

	shapes, err := s.LoadShapes(ctx, canvasId)
	if err != nil {
		return models.Shape{}, models.Action{}, err
	}

	idx := indexOfShape(shapes, shapeId)
	if idx < 0 {
		return models.Shape{}, models.Action{}, ErrShapeNotFound
	}

	now := time.Now().UnixMilli()
	if shapes[idx].LayerLocked && !patch.OnlyLayerLocked() {
		return models.Shape{}, models.Action{}, ErrLayerLocked
	}
	if leasedByOther(shapes[idx], userId, now) {
		return models.Shape{}, models.Action{}, ErrShapeLocked
	}

	old := shapes[idx].Apply(patch)
	shapes[idx].LastModifiedBy = userId
	shapes[idx].LastModifiedAt = now

	if err := s.storeShapes(ctx, canvasId, shapes, userId); err != nil {
		return models.Shape{}, models.Action{}, err
	}
	s.noteActivity(canvasId, 0)

	action := models.Action{
		Type:      models.ActionUpdate,
		CanvasId:  canvasId,
		Timestamp: now,
		ShapeId:   shapeId,
		Old:       old,
		New:       patch,
	}
	return shapes[idx], action, nil
}

// UpdateShapes applies patches to several shapes in one document write.
// Updates are ordered to keep the resulting batch action replayable.
type ShapeUpdate struct {
	ShapeId string            `json:"shapeId"`
	Patch   models.ShapePatch `json:"patch"`
}

func (s *Service) UpdateShapes(ctx context.Context, canvasId string, userId string, updates []ShapeUpdate) ([]models.Shape, models.Action, error) {
	for _, u := range updates {
		if err := ValidatePatch(u.Patch); err != nil {
			return nil, models.Action{}, err
		}
	}
	if len(updates) == 0 {
		return nil, models.Action{}, nil
	}

	shapes, err := s.LoadShapes(ctx, canvasId)
	if err != nil {
		return nil, models.Action{}, err
	}

	now := time.Now().UnixMilli()

	// Check all targets before mutating any; a batch applies whole or not
	// at all
	for _, u := range updates {
		idx := indexOfShape(shapes, u.ShapeId)
		if idx < 0 {
			return nil, models.Action{}, ErrShapeNotFound
		}
		if shapes[idx].LayerLocked && !u.Patch.OnlyLayerLocked() {
			return nil, models.Action{}, ErrLayerLocked
		}
		if leasedByOther(shapes[idx], userId, now) {
			return nil, models.Action{}, ErrShapeLocked
		}
	}
	sub := make([]models.Action, 0, len(updates))
	updated := make([]models.Shape, 0, len(updates))
	for _, u := range updates {
		idx := indexOfShape(shapes, u.ShapeId)
		old := shapes[idx].Apply(u.Patch)
		shapes[idx].LastModifiedBy = userId
		shapes[idx].LastModifiedAt = now
		updated = append(updated, shapes[idx])

		sub = append(sub, models.Action{
			Type:      models.ActionUpdate,
			CanvasId:  canvasId,
			Timestamp: now,
			ShapeId:   u.ShapeId,
			Old:       old,
			New:       u.Patch,
		})
	}

	if err := s.storeShapes(ctx, canvasId, shapes, userId); err != nil {
		return nil, models.Action{}, err
	}
	s.noteActivity(canvasId, 0)

	action := models.Action{
		Type:      models.ActionBatch,
		CanvasId:  canvasId,
		Timestamp: now,
		Sub:       sub,
	}
	return updated, action, nil
}

// DeleteShapes removes shapes by id. Ids that no longer exist are skipped
// silently so a delete raced by another client's delete still succeeds.
// A layer-locked target, or one under someone else's live edit lease,
// rejects the whole delete.
func (s *Service) DeleteShapes(ctx context.Context, canvasId string, userId string, shapeIds []string) (models.Action, error) {
	if len(shapeIds) == 0 {
		return models.Action{}, nil
	}

	shapes, err := s.LoadShapes(ctx, canvasId)
	if err != nil {
		return models.Action{}, err
	}

	targets := make(map[string]struct{}, len(shapeIds))
	for _, id := range shapeIds {
		targets[id] = struct{}{}
	}

	now := time.Now().UnixMilli()
	removed := make([]models.Shape, 0, len(shapeIds))
	kept := make([]models.Shape, 0, len(shapes))
	for _, shape := range shapes {
		if _, ok := targets[shape.Id]; ok {
			if shape.LayerLocked {
				return models.Action{}, ErrLayerLocked
			}
			if leasedByOther(shape, userId, now) {
				return models.Action{}, ErrShapeLocked
			}
			removed = append(removed, shape)
			continue
		}
		kept = append(kept, shape)
	}

	if len(removed) == 0 {
		return models.Action{}, nil
	}

	if err := s.storeShapes(ctx, canvasId, kept, userId); err != nil {
		return models.Action{}, err
	}
	s.noteActivity(canvasId, -len(removed))

	action := models.Action{
		Type:      models.ActionDelete,
		CanvasId:  canvasId,
		Timestamp: now,
		Shapes:    removed,
	}
	return action, nil
}

// RestoreShapes re-inserts exact snapshots, keeping their original ids and
// stamps. This is how undo-delete and redo-create put shapes back without
// them reappearing as freshly created objects.
func (s *Service) RestoreShapes(ctx context.Context, canvasId string, userId string, snapshots []models.Shape) error {
	if len(snapshots) == 0 {
		return nil
	}

	shapes, err := s.LoadShapes(ctx, canvasId)
	if err != nil {
		return err
	}

	if len(shapes)+len(snapshots) > maxCanvasShapes {
		return ErrCanvasFull
	}

	existing := make(map[string]struct{}, len(shapes))
	for _, shape := range shapes {
		existing[shape.Id] = struct{}{}
	}

	restored := 0
	for _, snapshot := range snapshots {
		if _, ok := existing[snapshot.Id]; ok {
			continue // already back, e.g. restored by a concurrent redo
		}
		// Leases do not survive a round trip through the undo log
		snapshot.IsLocked = false
		snapshot.LockedBy = ""
		snapshot.LockStartTime = 0
		shapes = append(shapes, snapshot)
		restored++
	}

	if restored == 0 {
		return nil
	}

	if err := s.storeShapes(ctx, canvasId, shapes, userId); err != nil {
		return err
	}
	s.noteActivity(canvasId, restored)

	return nil
}

func indexOfShape(shapes []models.Shape, shapeId string) int {
	for i := range shapes {
		if shapes[i].Id == shapeId {
			return i
		}
	}
	return -1
}
