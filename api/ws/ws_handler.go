package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/kishor-kashid/collabcanvas/models"
	"github.com/kishor-kashid/collabcanvas/service"
)

type Handler struct {
	Service *service.Service
	Hub     *Hub
}

func NewHandler(svc *service.Service, hub *Hub) *Handler {
	return &Handler{
		Service: svc,
		Hub:     hub,
	}
}

func (h *Handler) NewWsUpgrader(requiredOrigin string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == requiredOrigin
		},
		Subprotocols: []string{"collabcanvas-v1"},
	}
}

// ServeWS handles websocket requests from the peer.
func (h *Handler) ServeWS(wsUpgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request, shutdownCtx context.Context) {
	protocols := r.Header.Get("Sec-WebSocket-Protocol")
	protocolsSplit := strings.Split(protocols, ",")

	if len(protocolsSplit) != 2 {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	token := strings.TrimSpace(protocolsSplit[1])

	user, authErr := h.Service.AuthenticateToken(r.Context(), token)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade ws connection: %v", err)
		return
	}

	// Must upgrade the connection in order to be able to send custom close message
	if authErr != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Unauthenticated"),
		)
		conn.Close()
		return
	}

	client := NewClient(h.Hub, conn, user, h.HandleWsMessage)

	h.Hub.OpenCh <- client

	// Start pumps
	go client.ReadPump()
	go client.WritePump(shutdownCtx)
}

// Websocket message structs
type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type joinMessage struct {
	CanvasId    string `json:"canvasId"`
	DisplayName string `json:"displayName"`
	CursorColor string `json:"cursorColor"`
}

type canvasMessage struct {
	CanvasId string `json:"canvasId"`
}

type createShapesMessage struct {
	CanvasId string         `json:"canvasId"`
	Shapes   []models.Shape `json:"shapes"`
}

type createShapeMessage struct {
	CanvasId string       `json:"canvasId"`
	Shape    models.Shape `json:"shape"`
}

type updateShapeMessage struct {
	CanvasId string            `json:"canvasId"`
	ShapeId  string            `json:"shapeId"`
	Patch    models.ShapePatch `json:"patch"`
}

type updateShapesMessage struct {
	CanvasId string                `json:"canvasId"`
	Updates  []service.ShapeUpdate `json:"updates"`
}

type deleteShapesMessage struct {
	CanvasId string   `json:"canvasId"`
	ShapeIds []string `json:"shapeIds"`
}

type shapeRefMessage struct {
	CanvasId string `json:"canvasId"`
	ShapeId  string `json:"shapeId"`
}

type reorderMessage struct {
	CanvasId string   `json:"canvasId"`
	Order    []string `json:"order"`
}

type cursorMessage struct {
	CanvasId string  `json:"canvasId"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

type responseMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func (h *Handler) HandleWsMessage(client *Client, messageType int, messageBytes []byte) {
	var msg message
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		log.Printf("Invalid JSON: %v", err)
		return
	}

	var resp responseMessage

	switch msg.Type {
	case "join_canvas":
		var joinMsg joinMessage
		if err := json.Unmarshal(msg.Data, &joinMsg); err != nil {
			log.Printf("Invalid join_canvas data: %v", err)
			return
		}
		resp = h.handleJoin(client, joinMsg)

	case "leave_canvas":
		var canvasMsg canvasMessage
		if err := json.Unmarshal(msg.Data, &canvasMsg); err != nil {
			log.Printf("Invalid leave_canvas data: %v", err)
			return
		}
		resp = h.handleLeave(client, canvasMsg)

	case "load":
		var canvasMsg canvasMessage
		if err := json.Unmarshal(msg.Data, &canvasMsg); err != nil {
			log.Printf("Invalid load data: %v", err)
			return
		}
		resp = h.handleLoad(client, canvasMsg)

	case "create_shape":
		var createMsg createShapeMessage
		if err := json.Unmarshal(msg.Data, &createMsg); err != nil {
			log.Printf("Invalid create_shape data: %v", err)
			return
		}
		resp = h.handleCreateShapes(client, createShapesMessage{
			CanvasId: createMsg.CanvasId,
			Shapes:   []models.Shape{createMsg.Shape},
		})

	case "create_shapes":
		var createMsg createShapesMessage
		if err := json.Unmarshal(msg.Data, &createMsg); err != nil {
			log.Printf("Invalid create_shapes data: %v", err)
			return
		}
		resp = h.handleCreateShapes(client, createMsg)

	case "update_shape":
		var updateMsg updateShapeMessage
		if err := json.Unmarshal(msg.Data, &updateMsg); err != nil {
			log.Printf("Invalid update_shape data: %v", err)
			return
		}
		resp = h.handleUpdateShape(client, updateMsg)

	case "update_shapes":
		var updatesMsg updateShapesMessage
		if err := json.Unmarshal(msg.Data, &updatesMsg); err != nil {
			log.Printf("Invalid update_shapes data: %v", err)
			return
		}
		resp = h.handleUpdateShapes(client, updatesMsg)

	case "delete_shape":
		var refMsg shapeRefMessage
		if err := json.Unmarshal(msg.Data, &refMsg); err != nil {
			log.Printf("Invalid delete_shape data: %v", err)
			return
		}
		resp = h.handleDeleteShapes(client, deleteShapesMessage{
			CanvasId: refMsg.CanvasId,
			ShapeIds: []string{refMsg.ShapeId},
		})

	case "delete_shapes":
		var deleteMsg deleteShapesMessage
		if err := json.Unmarshal(msg.Data, &deleteMsg); err != nil {
			log.Printf("Invalid delete_shapes data: %v", err)
			return
		}
		resp = h.handleDeleteShapes(client, deleteMsg)

	case "acquire_lock", "release_lock":
		var refMsg shapeRefMessage
		if err := json.Unmarshal(msg.Data, &refMsg); err != nil {
			log.Printf("Invalid %s data: %v", msg.Type, err)
			return
		}
		resp = h.handleLock(client, refMsg, msg.Type == "acquire_lock")

	case "bring_to_front", "send_to_back", "bring_forward", "send_backward":
		var refMsg shapeRefMessage
		if err := json.Unmarshal(msg.Data, &refMsg); err != nil {
			log.Printf("Invalid %s data: %v", msg.Type, err)
			return
		}
		resp = h.handleZOrder(client, refMsg, msg.Type)

	case "reorder":
		var reorderMsg reorderMessage
		if err := json.Unmarshal(msg.Data, &reorderMsg); err != nil {
			log.Printf("Invalid reorder data: %v", err)
			return
		}
		resp = h.handleReorder(client, reorderMsg)

	case "begin_batch", "end_batch":
		var canvasMsg canvasMessage
		if err := json.Unmarshal(msg.Data, &canvasMsg); err != nil {
			log.Printf("Invalid %s data: %v", msg.Type, err)
			return
		}
		resp = h.handleBatch(client, canvasMsg, msg.Type == "begin_batch")

	case "undo", "redo":
		var canvasMsg canvasMessage
		if err := json.Unmarshal(msg.Data, &canvasMsg); err != nil {
			log.Printf("Invalid %s data: %v", msg.Type, err)
			return
		}
		resp = h.handleUndoRedo(client, canvasMsg, msg.Type == "undo")

	case "cursor":
		var curMsg cursorMessage
		if err := json.Unmarshal(msg.Data, &curMsg); err != nil {
			log.Printf("Invalid cursor data: %v", err)
			return
		}
		h.handleCursor(client, curMsg)
		// Cursor moves are fire-and-forget; no response

	default:
		log.Printf("Unknown message type: %v", msg.Type)
	}

	// Every handled message answers as "<type>_response"
	if resp.Data != nil {
		resp.Type = msg.Type + "_response"
		respBytes, err := json.Marshal(resp)
		if err != nil {
			log.Printf("Error marshaling response JSON: %v", err)
			return
		}
		client.Send <- respBytes
	}
}

func failData(canvasId string, err error) map[string]any {
	return map[string]any{"success": false, "canvasId": canvasId, "error": err.Error()}
}

func (h *Handler) handleJoin(client *Client, joinMsg joinMessage) responseMessage {
	resp := responseMessage{}
	ctx := context.Background()

	if _, err := h.Service.AuthorizeMember(ctx, joinMsg.CanvasId, client.user.Id); err != nil {
		log.Printf("Join rejected for user %s on canvas %s: %v", client.user.Id, joinMsg.CanvasId, err)
		resp.Data = failData(joinMsg.CanvasId, err)
		return resp
	}

	displayName := joinMsg.DisplayName
	if displayName == "" {
		displayName = client.user.Username
	}

	err := h.Service.JoinPresence(ctx, joinMsg.CanvasId, models.PresenceSession{
		UserId:      client.user.Id,
		DisplayName: displayName,
		CursorColor: joinMsg.CursorColor,
	})
	if err != nil {
		log.Printf("JoinPresence failed: %v", err)
		resp.Data = failData(joinMsg.CanvasId, err)
		return resp
	}

	h.Hub.JoinCh <- subscription{client: client, canvasId: joinMsg.CanvasId}

	if _, ok := client.histories[joinMsg.CanvasId]; !ok {
		client.histories[joinMsg.CanvasId] = service.NewHistory(h.Service, joinMsg.CanvasId, client.user.Id)
	}

	locks, err := h.Service.HeldLocks(ctx, joinMsg.CanvasId)
	if err != nil {
		locks = map[string]string{}
	}

	resp.Data = map[string]any{"success": true, "canvasId": joinMsg.CanvasId, "locks": locks}
	return resp
}

func (h *Handler) handleLeave(client *Client, canvasMsg canvasMessage) responseMessage {
	resp := responseMessage{}
	ctx := context.Background()

	delete(client.histories, canvasMsg.CanvasId)
	h.Hub.LeaveCh <- subscription{client: client, canvasId: canvasMsg.CanvasId}

	h.Service.LeavePresence(ctx, canvasMsg.CanvasId, client.user.Id)
	h.Service.ReleaseUserLocks(ctx, canvasMsg.CanvasId, client.user.Id)

	resp.Data = map[string]any{"success": true, "canvasId": canvasMsg.CanvasId}
	return resp
}

func (h *Handler) handleLoad(client *Client, canvasMsg canvasMessage) responseMessage {
	resp := responseMessage{}

	if client.history(canvasMsg.CanvasId) == nil {
		resp.Data = failData(canvasMsg.CanvasId, service.ErrNotMember)
		return resp
	}

	shapes, err := h.Service.LoadShapes(context.Background(), canvasMsg.CanvasId)
	if err != nil {
		log.Printf("LoadShapes failed: %v", err)
		resp.Data = failData(canvasMsg.CanvasId, err)
		return resp
	}

	resp.Data = map[string]any{"success": true, "canvasId": canvasMsg.CanvasId, "shapes": shapes}
	return resp
}

func (h *Handler) handleCreateShapes(client *Client, createMsg createShapesMessage) responseMessage {
	resp := responseMessage{}

	history := client.history(createMsg.CanvasId)
	if history == nil {
		resp.Data = failData(createMsg.CanvasId, service.ErrNotMember)
		return resp
	}

	created, action, err := h.Service.CreateShapes(context.Background(), createMsg.CanvasId, client.user.Id, createMsg.Shapes)
	if err != nil {
		log.Printf("CreateShapes failed: %v", err)
		resp.Data = failData(createMsg.CanvasId, err)
		return resp
	}
	history.Record(action)

	resp.Data = map[string]any{"success": true, "canvasId": createMsg.CanvasId, "shapes": created}
	return resp
}

func (h *Handler) handleUpdateShape(client *Client, updateMsg updateShapeMessage) responseMessage {
	resp := responseMessage{}

	history := client.history(updateMsg.CanvasId)
	if history == nil {
		resp.Data = failData(updateMsg.CanvasId, service.ErrNotMember)
		return resp
	}

	updated, action, err := h.Service.UpdateShape(context.Background(), updateMsg.CanvasId, client.user.Id, updateMsg.ShapeId, updateMsg.Patch)
	if err != nil {
		log.Printf("UpdateShape failed: %v", err)
		resp.Data = failData(updateMsg.CanvasId, err)
		return resp
	}
	history.Record(action)

	resp.Data = map[string]any{"success": true, "canvasId": updateMsg.CanvasId, "shape": updated}
	return resp
}

func (h *Handler) handleUpdateShapes(client *Client, updatesMsg updateShapesMessage) responseMessage {
	resp := responseMessage{}

	history := client.history(updatesMsg.CanvasId)
	if history == nil {
		resp.Data = failData(updatesMsg.CanvasId, service.ErrNotMember)
		return resp
	}

	updated, action, err := h.Service.UpdateShapes(context.Background(), updatesMsg.CanvasId, client.user.Id, updatesMsg.Updates)
	if err != nil {
		log.Printf("UpdateShapes failed: %v", err)
		resp.Data = failData(updatesMsg.CanvasId, err)
		return resp
	}
	history.Record(action)

	resp.Data = map[string]any{"success": true, "canvasId": updatesMsg.CanvasId, "shapes": updated}
	return resp
}

func (h *Handler) handleDeleteShapes(client *Client, deleteMsg deleteShapesMessage) responseMessage {
	resp := responseMessage{}

	history := client.history(deleteMsg.CanvasId)
	if history == nil {
		resp.Data = failData(deleteMsg.CanvasId, service.ErrNotMember)
		return resp
	}

	action, err := h.Service.DeleteShapes(context.Background(), deleteMsg.CanvasId, client.user.Id, deleteMsg.ShapeIds)
	if err != nil {
		log.Printf("DeleteShapes failed: %v", err)
		resp.Data = failData(deleteMsg.CanvasId, err)
		return resp
	}
	history.Record(action)

	resp.Data = map[string]any{"success": true, "canvasId": deleteMsg.CanvasId, "shapeIds": deleteMsg.ShapeIds}
	return resp
}

func (h *Handler) handleLock(client *Client, refMsg shapeRefMessage, acquire bool) responseMessage {
	resp := responseMessage{}

	if client.history(refMsg.CanvasId) == nil {
		resp.Data = failData(refMsg.CanvasId, service.ErrNotMember)
		return resp
	}

	ctx := context.Background()
	if acquire {
		granted, err := h.Service.AcquireLock(ctx, refMsg.CanvasId, client.user.Id, refMsg.ShapeId)
		if err != nil {
			log.Printf("AcquireLock failed: %v", err)
			resp.Data = failData(refMsg.CanvasId, err)
			return resp
		}
		resp.Data = map[string]any{"success": true, "canvasId": refMsg.CanvasId, "shapeId": refMsg.ShapeId, "granted": granted}
		return resp
	}

	if err := h.Service.ReleaseLock(ctx, refMsg.CanvasId, client.user.Id, refMsg.ShapeId); err != nil {
		log.Printf("ReleaseLock failed: %v", err)
		resp.Data = failData(refMsg.CanvasId, err)
		return resp
	}
	resp.Data = map[string]any{"success": true, "canvasId": refMsg.CanvasId, "shapeId": refMsg.ShapeId}
	return resp
}

func (h *Handler) handleZOrder(client *Client, refMsg shapeRefMessage, op string) responseMessage {
	resp := responseMessage{}

	if client.history(refMsg.CanvasId) == nil {
		resp.Data = failData(refMsg.CanvasId, service.ErrNotMember)
		return resp
	}

	ctx := context.Background()
	var err error
	switch op {
	case "bring_to_front":
		err = h.Service.BringToFront(ctx, refMsg.CanvasId, client.user.Id, refMsg.ShapeId)
	case "send_to_back":
		err = h.Service.SendToBack(ctx, refMsg.CanvasId, client.user.Id, refMsg.ShapeId)
	case "bring_forward":
		err = h.Service.BringForward(ctx, refMsg.CanvasId, client.user.Id, refMsg.ShapeId)
	case "send_backward":
		err = h.Service.SendBackward(ctx, refMsg.CanvasId, client.user.Id, refMsg.ShapeId)
	}
	if err != nil {
		log.Printf("%s failed: %v", op, err)
		resp.Data = failData(refMsg.CanvasId, err)
		return resp
	}

	resp.Data = map[string]any{"success": true, "canvasId": refMsg.CanvasId, "shapeId": refMsg.ShapeId}
	return resp
}

func (h *Handler) handleReorder(client *Client, reorderMsg reorderMessage) responseMessage {
	resp := responseMessage{}

	if client.history(reorderMsg.CanvasId) == nil {
		resp.Data = failData(reorderMsg.CanvasId, service.ErrNotMember)
		return resp
	}

	if err := h.Service.Reorder(context.Background(), reorderMsg.CanvasId, client.user.Id, reorderMsg.Order); err != nil {
		log.Printf("Reorder failed: %v", err)
		resp.Data = failData(reorderMsg.CanvasId, err)
		return resp
	}

	resp.Data = map[string]any{"success": true, "canvasId": reorderMsg.CanvasId}
	return resp
}

func (h *Handler) handleBatch(client *Client, canvasMsg canvasMessage, begin bool) responseMessage {
	resp := responseMessage{}

	history := client.history(canvasMsg.CanvasId)
	if history == nil {
		resp.Data = failData(canvasMsg.CanvasId, service.ErrNotMember)
		return resp
	}

	var err error
	if begin {
		err = history.BeginBatch()
	} else {
		err = history.EndBatch()
	}
	if err != nil {
		resp.Data = failData(canvasMsg.CanvasId, err)
		return resp
	}

	resp.Data = map[string]any{"success": true, "canvasId": canvasMsg.CanvasId}
	return resp
}

func (h *Handler) handleUndoRedo(client *Client, canvasMsg canvasMessage, undo bool) responseMessage {
	resp := responseMessage{}

	history := client.history(canvasMsg.CanvasId)
	if history == nil {
		resp.Data = failData(canvasMsg.CanvasId, service.ErrNotMember)
		return resp
	}

	ctx := context.Background()
	var err error
	if undo {
		err = history.Undo(ctx)
	} else {
		err = history.Redo(ctx)
	}
	if err != nil {
		resp.Data = failData(canvasMsg.CanvasId, err)
		resp.Data.(map[string]any)["canUndo"] = history.CanUndo()
		resp.Data.(map[string]any)["canRedo"] = history.CanRedo()
		return resp
	}

	resp.Data = map[string]any{
		"success":  true,
		"canvasId": canvasMsg.CanvasId,
		"canUndo":  history.CanUndo(),
		"canRedo":  history.CanRedo(),
	}
	return resp
}

func (h *Handler) handleCursor(client *Client, curMsg cursorMessage) {
	if client.history(curMsg.CanvasId) == nil {
		return
	}

	if err := h.Service.UpdateCursor(context.Background(), curMsg.CanvasId, client.user.Id, curMsg.X, curMsg.Y); err != nil {
		log.Printf("UpdateCursor failed: %v", err)
	}
}
