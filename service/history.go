package service

import (
	"context"
	"errors"

	"github.com/kishor-kashid/collabcanvas/models"
)

const maxHistoryEntries = 100

var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
	ErrBatchOpen     = errors.New("a batch is already open")
	ErrNoBatchOpen   = errors.New("no batch is open")
)

// History is one client's undo/redo log for one canvas. Each websocket
// client owns its histories and drives them from its single read loop, so
// no locking is needed here. Undo and redo replay inverse operations
// through the service, which means they go through the same validation,
// fan-out and activity accounting as direct edits.
type History struct {
	svc      *Service
	canvasId string
	userId   string

	undo  []models.Action
	redo  []models.Action
	batch *models.Action
}

func NewHistory(svc *Service, canvasId string, userId string) *History {
	return &History{
		svc:      svc,
		canvasId: canvasId,
		userId:   userId,
	}
}

// Record appends a completed action. A new edit makes every redo entry
// unreachable, so the redo stack is cleared. While a batch is open the
// action is folded into it instead.
func (h *History) Record(action models.Action) {
	if action.IsEmpty() {
		return
	}

	if h.batch != nil {
		h.batch.Sub = append(h.batch.Sub, action)
		return
	}

	h.undo = append(h.undo, action)
	if len(h.undo) > maxHistoryEntries {
		// Drop the oldest entry; it becomes permanently un-undoable
		h.undo = h.undo[1:]
	}
	h.redo = nil
}

// BeginBatch starts folding subsequent actions into one undo entry, e.g.
// a multi-select drag that updates many shapes as the user moves.
func (h *History) BeginBatch() error {
	if h.batch != nil {
		return ErrBatchOpen
	}
	h.batch = &models.Action{
		Type:     models.ActionBatch,
		CanvasId: h.canvasId,
	}
	return nil
}

// EndBatch closes the open batch and records it. An empty batch records
// nothing.
func (h *History) EndBatch() error {
	if h.batch == nil {
		return ErrNoBatchOpen
	}
	batch := *h.batch
	h.batch = nil

	if len(batch.Sub) == 1 {
		// A batch of one is just that action
		h.Record(batch.Sub[0])
		return nil
	}
	h.Record(batch)
	return nil
}

// Undo reverts the most recent recorded action. On failure the entry is
// pushed back so the user can retry once the condition clears.
func (h *History) Undo(ctx context.Context) error {
	if h.batch != nil {
		return ErrBatchOpen
	}
	if len(h.undo) == 0 {
		return ErrNothingToUndo
	}

	action := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]

	if err := h.applyInverse(ctx, action); err != nil {
		h.undo = append(h.undo, action)
		return err
	}

	h.redo = append(h.redo, action)
	return nil
}

// Redo re-applies the most recently undone action.
func (h *History) Redo(ctx context.Context) error {
	if h.batch != nil {
		return ErrBatchOpen
	}
	if len(h.redo) == 0 {
		return ErrNothingToRedo
	}

	action := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]

	if err := h.applyForward(ctx, action); err != nil {
		h.redo = append(h.redo, action)
		return err
	}

	h.undo = append(h.undo, action)
	return nil
}

func (h *History) CanUndo() bool { return len(h.undo) > 0 }
func (h *History) CanRedo() bool { return len(h.redo) > 0 }

func (h *History) applyInverse(ctx context.Context, action models.Action) error {
	switch action.Type {
	case models.ActionCreate:
		ids := make([]string, 0, len(action.Shapes))
		for _, shape := range action.Shapes {
			ids = append(ids, shape.Id)
		}
		_, err := h.svc.DeleteShapes(ctx, h.canvasId, h.userId, ids)
		return err

	case models.ActionDelete:
		return h.svc.RestoreShapes(ctx, h.canvasId, h.userId, action.Shapes)

	case models.ActionUpdate:
		_, _, err := h.svc.UpdateShape(ctx, h.canvasId, h.userId, action.ShapeId, action.Old)
		if errors.Is(err, ErrShapeNotFound) {
			// Target was deleted by someone else; the undo degrades to a
			// no-op
			return nil
		}
		return err

	case models.ActionBatch:
		// Sub-actions revert in reverse order
		for i := len(action.Sub) - 1; i >= 0; i-- {
			if err := h.applyInverse(ctx, action.Sub[i]); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}

func (h *History) applyForward(ctx context.Context, action models.Action) error {
	switch action.Type {
	case models.ActionCreate:
		// Restore the exact snapshots rather than re-creating, so the
		// shapes come back with their original ids
		return h.svc.RestoreShapes(ctx, h.canvasId, h.userId, action.Shapes)

	case models.ActionDelete:
		ids := make([]string, 0, len(action.Shapes))
		for _, shape := range action.Shapes {
			ids = append(ids, shape.Id)
		}
		_, err := h.svc.DeleteShapes(ctx, h.canvasId, h.userId, ids)
		return err

	case models.ActionUpdate:
		_, _, err := h.svc.UpdateShape(ctx, h.canvasId, h.userId, action.ShapeId, action.New)
		if errors.Is(err, ErrShapeNotFound) {
			return nil
		}
		return err

	case models.ActionBatch:
		for _, sub := range action.Sub {
			if err := h.applyForward(ctx, sub); err != nil {
				return err
			}
		}
		return nil
	}
	return nil
}
