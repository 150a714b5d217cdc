package service

import (
	"context"
	"errors"

	"github.com/kishor-kashid/collabcanvas/models"
)

// Z-order is the position of a shape within the document list: index 0
// renders first (back), the last index renders on top. Reordering moves
// list entries; it never touches shape contents, so these operations do
// not enter the undo log.

// BringToFront moves a shape to the end of the document list.
func (s *Service) BringToFront(ctx context.Context, canvasId string, userId string, shapeId string) error {
	return s.moveShape(ctx, canvasId, userId, shapeId, func(idx int, n int) int {
		return n - 1
	})
}

// SendToBack moves a shape to the start of the document list.
func (s *Service) SendToBack(ctx context.Context, canvasId string, userId string, shapeId string) error {
	return s.moveShape(ctx, canvasId, userId, shapeId, func(idx int, n int) int {
		return 0
	})
}

// BringForward swaps a shape one step toward the top. Already on top is a
// no-op.
func (s *Service) BringForward(ctx context.Context, canvasId string, userId string, shapeId string) error {
	return s.moveShape(ctx, canvasId, userId, shapeId, func(idx int, n int) int {
		if idx+1 < n {
			return idx + 1
		}
		return idx
	})
}

// SendBackward swaps a shape one step toward the back. Already at the back
// is a no-op.
func (s *Service) SendBackward(ctx context.Context, canvasId string, userId string, shapeId string) error {
	return s.moveShape(ctx, canvasId, userId, shapeId, func(idx int, n int) int {
		if idx > 0 {
			return idx - 1
		}
		return idx
	})
}

func (s *Service) moveShape(ctx context.Context, canvasId string, userId string, shapeId string, target func(idx int, n int) int) error {
	shapes, err := s.LoadShapes(ctx, canvasId)
	if err != nil {
		return err
	}

	idx := indexOfShape(shapes, shapeId)
	if idx < 0 {
		return ErrShapeNotFound
	}

	to := target(idx, len(shapes))
	if to == idx {
		return nil
	}

	shape := shapes[idx]
	shapes = append(shapes[:idx], shapes[idx+1:]...)
	// Removal shifts everything after idx down by one, so inserting at to
	// lands the shape at final index to
	shapes = append(shapes[:to], append([]models.Shape{shape}, shapes[to:]...)...)

	return s.storeShapes(ctx, canvasId, shapes, userId)
}

// Reorder replaces the whole z-order with an explicit id list. The list
// must be an exact permutation of the current document; anything else is
// rejected so a stale client cannot silently drop shapes.
func (s *Service) Reorder(ctx context.Context, canvasId string, userId string, order []string) error {
	shapes, err := s.LoadShapes(ctx, canvasId)
	if err != nil {
		return err
	}

	if len(order) != len(shapes) {
		return errors.New("reorder list does not match document")
	}

	byId := make(map[string]int, len(shapes))
	for i, shape := range shapes {
		byId[shape.Id] = i
	}

	reordered := make([]models.Shape, 0, len(shapes))
	seen := make(map[string]struct{}, len(order))
	for _, id := range order {
		if _, dup := seen[id]; dup {
			return errors.New("reorder list contains duplicate ids")
		}
		seen[id] = struct{}{}

		idx, ok := byId[id]
		if !ok {
			return errors.New("reorder list does not match document")
		}
		reordered = append(reordered, shapes[idx])
	}

	return s.storeShapes(ctx, canvasId, reordered, userId)
}
