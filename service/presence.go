package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kishor-kashid/collabcanvas/models"
)

// presenceMaxAge is how long a session survives without any message from
// its owner before the reaper removes it.
const presenceMaxAge = 60 * time.Second

type PresenceChangedMessage struct {
	Type string              `json:"type"`
	Data PresenceChangedData `json:"data"`
}

type PresenceChangedData struct {
	CanvasId string                   `json:"canvasId"`
	Sessions []models.PresenceSession `json:"sessions"`
}

type CursorMovedMessage struct {
	Type string          `json:"type"`
	Data CursorMovedData `json:"data"`
}

type CursorMovedData struct {
	CanvasId string  `json:"canvasId"`
	UserId   string  `json:"userId"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

// JoinPresence registers a session and fans the new roster out.
func (s *Service) JoinPresence(ctx context.Context, canvasId string, session models.PresenceSession) error {
	if session.CursorColor != "" {
		if err := ValidateCursorColor(session.CursorColor); err != nil {
			return err
		}
	}

	session.LastSeen = time.Now().UnixMilli()
	data, err := json.Marshal(session)
	if err != nil {
		return err
	}

	if err := s.Cache.SetPresence(ctx, canvasId, session.UserId, session.LastSeen, data); err != nil {
		return err
	}

	go s.broadcastPresence(context.Background(), canvasId)
	return nil
}

// UpdateCursor moves a cursor. Cursor positions fan out as their own small
// message; the full roster is only rebroadcast on membership changes.
// A cursor move also counts as a heartbeat.
func (s *Service) UpdateCursor(ctx context.Context, canvasId string, userId string, x float64, y float64) error {
	now := time.Now().UnixMilli()
	if err := s.Cache.MergeCursor(ctx, canvasId, userId, x, y, now); err != nil {
		return err
	}

	msg := CursorMovedMessage{
		Type: "cursor_moved",
		Data: CursorMovedData{
			CanvasId: canvasId,
			UserId:   userId,
			X:        x,
			Y:        y,
		},
	}
	msgBytes, _ := json.Marshal(msg)
	return s.Cache.Publish(ctx, "canvas:"+canvasId, msgBytes)
}

// LeavePresence removes a session and fans the shrunken roster out.
func (s *Service) LeavePresence(ctx context.Context, canvasId string, userId string) error {
	if err := s.Cache.RemovePresence(ctx, canvasId, userId); err != nil {
		return err
	}

	go s.broadcastPresence(context.Background(), canvasId)
	return nil
}

// ListPresence returns the sessions currently on a canvas.
func (s *Service) ListPresence(ctx context.Context, canvasId string) ([]models.PresenceSession, error) {
	raw, err := s.Cache.ListPresence(ctx, canvasId)
	if err != nil {
		return nil, err
	}

	sessions := make([]models.PresenceSession, 0, len(raw))
	for _, b := range raw {
		var session models.PresenceSession
		if err := json.Unmarshal(b, &session); err == nil {
			sessions = append(sessions, session)
		}
	}
	return sessions, nil
}

// ReapStalePresence removes sessions that have not heartbeated within
// presenceMaxAge and broadcasts the new roster if any were removed.
func (s *Service) ReapStalePresence(ctx context.Context, canvasId string) (int, error) {
	cutoff := time.Now().Add(-presenceMaxAge).UnixMilli()
	removed, err := s.Cache.ReapStalePresence(ctx, canvasId, cutoff)
	if err != nil {
		return 0, err
	}
	if len(removed) == 0 {
		return 0, nil
	}

	s.broadcastPresence(ctx, canvasId)
	return len(removed), nil
}

func (s *Service) broadcastPresence(ctx context.Context, canvasId string) {
	sessions, err := s.ListPresence(ctx, canvasId)
	if err != nil {
		return
	}

	msg := PresenceChangedMessage{
		Type: "presence_changed",
		Data: PresenceChangedData{
			CanvasId: canvasId,
			Sessions: sessions,
		},
	}
	msgBytes, _ := json.Marshal(msg)
	s.Cache.Publish(ctx, "canvas:"+canvasId, msgBytes)
}
