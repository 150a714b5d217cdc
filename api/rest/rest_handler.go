package rest

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/kishor-kashid/collabcanvas/models"
	"github.com/kishor-kashid/collabcanvas/service"
	"github.com/kishor-kashid/collabcanvas/store"
)

type Handler struct {
	Service *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{Service: svc}
}

type loginRequest struct {
	Provider string `json:"provider"`
	Code     string `json:"code"`
}

type loginResponse struct {
	Username string `json:"username"`
	Id       string `json:"id"`
	Provider string `json:"provider"`
	Token    string `json:"token"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	user, token, err := h.Service.Login(r.Context(), req.Provider, req.Code)
	if err != nil {
		log.Printf("Login failed: %v", err)
		http.Error(w, "login failed", http.StatusInternalServerError)
		return
	}

	resp := loginResponse{
		Username: user.Username,
		Id:       user.Id,
		Provider: user.Provider,
		Token:    token,
	}
	h.sendResponse(w, resp)
}

type getUserResponse struct {
	Username string `json:"username"`
	Id       string `json:"id"`
	Provider string `json:"provider"`
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	resp := getUserResponse{
		Username: user.Username,
		Id:       user.Id,
		Provider: user.Provider,
	}
	h.sendResponse(w, resp)
}

func (h *Handler) HandleListCanvases(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	canvases, err := h.Service.ListCanvases(r.Context(), user.Id)
	if err != nil {
		log.Printf("ListCanvases failed: %v", err)
		http.Error(w, "failed to list canvases", http.StatusInternalServerError)
		return
	}

	h.sendResponse(w, map[string]any{"canvases": canvases})
}

type createCanvasRequest struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

func (h *Handler) HandleCreateCanvas(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req createCanvasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	canvas, err := h.Service.CreateCanvas(r.Context(), user, req.Name, req.Width, req.Height)
	if err != nil {
		log.Printf("CreateCanvas failed: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.sendResponse(w, canvas)
}

func (h *Handler) HandleGetCanvas(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	canvas, err := h.Service.GetCanvasForUser(r.Context(), r.PathValue("canvasId"), user.Id)
	if err != nil {
		h.sendCanvasError(w, err)
		return
	}

	h.sendResponse(w, canvas)
}

type renameCanvasRequest struct {
	Name string `json:"name"`
}

func (h *Handler) HandleRenameCanvas(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req renameCanvasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	canvas, err := h.Service.UpdateCanvas(r.Context(), r.PathValue("canvasId"), user.Id, req.Name)
	if err != nil {
		h.sendCanvasError(w, err)
		return
	}

	h.sendResponse(w, canvas)
}

func (h *Handler) HandleDeleteCanvas(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	if err := h.Service.DeleteCanvas(r.Context(), r.PathValue("canvasId"), user.Id); err != nil {
		h.sendCanvasError(w, err)
		return
	}

	h.sendResponse(w, map[string]any{"success": true})
}

type joinRequest struct {
	Code string `json:"code"`
}

func (h *Handler) HandleJoinByShareCode(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	canvas, err := h.Service.JoinByShareCode(r.Context(), req.Code, user.Id)
	if err != nil {
		log.Printf("JoinByShareCode failed: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.sendResponse(w, canvas)
}

func (h *Handler) HandleRegenerateShareCode(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	code, err := h.Service.RegenerateShareCode(r.Context(), r.PathValue("canvasId"), user.Id)
	if err != nil {
		h.sendCanvasError(w, err)
		return
	}

	h.sendResponse(w, map[string]any{"shareCode": code})
}

func (h *Handler) HandleRemoveCollaborator(w http.ResponseWriter, r *http.Request) {
	user, ok := h.authenticate(w, r)
	if !ok {
		return
	}

	err := h.Service.RemoveCollaborator(r.Context(), r.PathValue("canvasId"), user.Id, r.PathValue("userId"))
	if err != nil {
		h.sendCanvasError(w, err)
		return
	}

	h.sendResponse(w, map[string]any{"success": true})
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	token := h.getTokenFromAuthHeader(r)
	user, err := h.Service.AuthenticateToken(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return models.User{}, false
	}
	return user, true
}

func (h *Handler) sendCanvasError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotMember):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, service.ErrNotOwner):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, store.ErrItemNotFound):
		http.Error(w, "canvas not found", http.StatusNotFound)
	default:
		log.Printf("Canvas request failed: %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}

func (h *Handler) sendResponse(w http.ResponseWriter, resp any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func (h *Handler) getTokenFromAuthHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	return strings.TrimPrefix(authHeader, "Bearer ")
}
