package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"log"

	"github.com/kishor-kashid/collabcanvas/models"
	"github.com/kishor-kashid/collabcanvas/store"
	"github.com/kishor-kashid/collabcanvas/worker"
)

// No 0/O/1/I/L so codes survive being read aloud
const shareCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
const shareCodeLength = 10

type CanvasDeletedMessage struct {
	Type string            `json:"type"`
	Data CanvasDeletedData `json:"data"`
}

type CanvasDeletedData struct {
	CanvasId string `json:"canvasId"`
}

func newShareCode() (string, error) {
	buf := make([]byte, shareCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := make([]byte, shareCodeLength)
	for i, b := range buf {
		code[i] = shareCodeAlphabet[int(b)%len(shareCodeAlphabet)]
	}
	return string(code), nil
}

// CreateCanvas makes a new canvas owned by the user, with a fresh share
// code and an owner membership record.
func (s *Service) CreateCanvas(ctx context.Context, owner models.User, name string, width int, height int) (models.Canvas, error) {
	if err := ValidateCanvasName(name); err != nil {
		return models.Canvas{}, err
	}
	if err := ValidateCanvasDims(width, height); err != nil {
		return models.Canvas{}, err
	}

	code, err := newShareCode()
	if err != nil {
		return models.Canvas{}, err
	}

	canvas, err := s.Store.CreateCanvas(ctx, models.Canvas{
		Name:      name,
		OwnerId:   owner.Id,
		Width:     width,
		Height:    height,
		ShareCode: code,
	})
	if err != nil {
		return models.Canvas{}, err
	}

	// Share code collisions are astronomically unlikely but cheap to retry
	for attempt := 0; ; attempt++ {
		err = s.Store.PutShareCode(ctx, code, canvas.Id)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrConditionFailed) || attempt >= 2 {
			return models.Canvas{}, err
		}
		code, err = newShareCode()
		if err != nil {
			return models.Canvas{}, err
		}
		canvas.ShareCode = code
		if canvas, err = s.Store.UpdateCanvasMeta(ctx, canvas); err != nil {
			return models.Canvas{}, err
		}
	}

	err = s.Store.AddCanvasMember(ctx, models.CanvasMember{
		CanvasId: canvas.Id,
		UserId:   owner.Id,
		Role:     models.RoleOwner,
	})
	if err != nil {
		return models.Canvas{}, err
	}

	return canvas, nil
}

// AuthorizeMember resolves the caller's membership on a canvas.
func (s *Service) AuthorizeMember(ctx context.Context, canvasId string, userId string) (models.CanvasMember, error) {
	member, err := s.Store.GetCanvasMember(ctx, canvasId, userId)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return models.CanvasMember{}, ErrNotMember
		}
		return models.CanvasMember{}, err
	}
	return member, nil
}

// GetCanvasForUser returns canvas metadata, members only. The share code is
// stripped for collaborators; only the owner may hand it out.
func (s *Service) GetCanvasForUser(ctx context.Context, canvasId string, userId string) (models.Canvas, error) {
	member, err := s.AuthorizeMember(ctx, canvasId, userId)
	if err != nil {
		return models.Canvas{}, err
	}

	canvas, err := s.Store.GetCanvas(ctx, canvasId)
	if err != nil {
		return models.Canvas{}, err
	}

	if member.Role != models.RoleOwner {
		canvas.ShareCode = ""
	}
	return canvas, nil
}

// UpdateCanvas renames a canvas. Owner only.
func (s *Service) UpdateCanvas(ctx context.Context, canvasId string, userId string, name string) (models.Canvas, error) {
	if err := ValidateCanvasName(name); err != nil {
		return models.Canvas{}, err
	}

	if err := s.requireOwner(ctx, canvasId, userId); err != nil {
		return models.Canvas{}, err
	}

	canvas, err := s.Store.GetCanvas(ctx, canvasId)
	if err != nil {
		return models.Canvas{}, err
	}
	canvas.Name = name

	return s.Store.UpdateCanvasMeta(ctx, canvas)
}

// DeleteCanvas removes the metadata item synchronously, then defers the
// cascade (memberships, share code, shape document, cache) to the purge
// queue. Connected clients learn about it through the canvas-deleted
// broadcast.
func (s *Service) DeleteCanvas(ctx context.Context, canvasId string, userId string) error {
	if err := s.requireOwner(ctx, canvasId, userId); err != nil {
		return err
	}

	canvas, err := s.Store.GetCanvas(ctx, canvasId)
	if err != nil {
		return err
	}

	if err := s.Store.DeleteCanvas(ctx, canvasId); err != nil {
		return err
	}

	// Async side-effects - return to caller as soon as the store operation is done
	go func() {
		deletedMsg := CanvasDeletedMessage{
			Type: "canvas_deleted",
			Data: CanvasDeletedData{CanvasId: canvasId},
		}
		if deletedMsgBytes, err := json.Marshal(deletedMsg); err == nil {
			s.Cache.Publish(context.Background(), "canvas:"+canvasId, deletedMsgBytes)
			s.Cache.Publish(context.Background(), "canvas-deleted", deletedMsgBytes)
		}

		purgeMsg := worker.PurgeCanvasMessage{
			CanvasId:  canvasId,
			ShareCode: canvas.ShareCode,
		}
		if msgBytes, err := json.Marshal(purgeMsg); err == nil {
			if err := s.MQ.Send(context.Background(), string(msgBytes)); err != nil {
				log.Printf("Failed to queue purge for canvas %s: %v", canvasId, err)
			}
		}
	}()

	return nil
}

// ListCanvases returns every canvas the user is a member of.
func (s *Service) ListCanvases(ctx context.Context, userId string) ([]models.Canvas, error) {
	memberships, err := s.Store.GetUserCanvases(ctx, userId)
	if err != nil {
		return nil, err
	}

	canvases := make([]models.Canvas, 0, len(memberships))
	for _, m := range memberships {
		canvas, err := s.Store.GetCanvas(ctx, m.CanvasId)
		if err != nil {
			if errors.Is(err, store.ErrItemNotFound) {
				// Canvas deleted but this membership not yet purged
				continue
			}
			return nil, err
		}
		if m.Role != models.RoleOwner {
			canvas.ShareCode = ""
		}
		canvases = append(canvases, canvas)
	}

	return canvases, nil
}

// JoinByShareCode adds the user as a collaborator on the canvas behind the
// code. Joining a canvas you already belong to just returns it.
func (s *Service) JoinByShareCode(ctx context.Context, code string, userId string) (models.Canvas, error) {
	if err := ValidateShareCode(code); err != nil {
		return models.Canvas{}, err
	}

	canvasId, err := s.Store.GetCanvasIdByShareCode(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrItemNotFound) {
			return models.Canvas{}, errors.New("unknown share code")
		}
		return models.Canvas{}, err
	}

	canvas, err := s.Store.GetCanvas(ctx, canvasId)
	if err != nil {
		return models.Canvas{}, err
	}

	if _, err := s.AuthorizeMember(ctx, canvasId, userId); err == nil {
		canvas.ShareCode = ""
		if canvas.OwnerId == userId {
			canvas.ShareCode = code
		}
		return canvas, nil
	}

	err = s.Store.AddCanvasMember(ctx, models.CanvasMember{
		CanvasId: canvasId,
		UserId:   userId,
		Role:     models.RoleCollaborator,
	})
	if err != nil {
		return models.Canvas{}, err
	}

	canvas.ShareCode = ""
	return canvas, nil
}

// RegenerateShareCode invalidates the old code and issues a new one. Owner
// only. Existing collaborators keep their access.
func (s *Service) RegenerateShareCode(ctx context.Context, canvasId string, userId string) (string, error) {
	if err := s.requireOwner(ctx, canvasId, userId); err != nil {
		return "", err
	}

	canvas, err := s.Store.GetCanvas(ctx, canvasId)
	if err != nil {
		return "", err
	}

	code, err := newShareCode()
	if err != nil {
		return "", err
	}
	if err := s.Store.PutShareCode(ctx, code, canvasId); err != nil {
		return "", err
	}

	oldCode := canvas.ShareCode
	canvas.ShareCode = code
	if _, err := s.Store.UpdateCanvasMeta(ctx, canvas); err != nil {
		return "", err
	}

	if oldCode != "" {
		if err := s.Store.DeleteShareCode(ctx, oldCode); err != nil {
			log.Printf("Failed to delete old share code for canvas %s: %v", canvasId, err)
		}
	}

	return code, nil
}

// RemoveCollaborator kicks a collaborator off a canvas. Owner only; the
// owner's own membership cannot be removed.
func (s *Service) RemoveCollaborator(ctx context.Context, canvasId string, ownerId string, userId string) error {
	if err := s.requireOwner(ctx, canvasId, ownerId); err != nil {
		return err
	}
	if userId == ownerId {
		return errors.New("cannot remove the canvas owner")
	}

	return s.Store.RemoveCanvasMember(ctx, canvasId, userId)
}

func (s *Service) requireOwner(ctx context.Context, canvasId string, userId string) error {
	member, err := s.AuthorizeMember(ctx, canvasId, userId)
	if err != nil {
		return err
	}
	if member.Role != models.RoleOwner {
		return ErrNotOwner
	}
	return nil
}
