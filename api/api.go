package api

import (
	"context"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"golang.org/x/oauth2"

	"github.com/kishor-kashid/collabcanvas/api/rest"
	"github.com/kishor-kashid/collabcanvas/api/ws"
	"github.com/kishor-kashid/collabcanvas/cache"
	"github.com/kishor-kashid/collabcanvas/mq"
	"github.com/kishor-kashid/collabcanvas/service"
	"github.com/kishor-kashid/collabcanvas/store"
	"github.com/kishor-kashid/collabcanvas/worker"
)

type CanvasAPI struct {
	restHandler *rest.Handler
	wsHandler   *ws.Handler
	shutdownCtx context.Context
}

func NewCanvasAPI(
	canvasStore store.CanvasStore,
	purgeCanvasQueue mq.MessageQueue,
	canvasCache cache.CanvasCache,
	oauthConfigs map[string]*oauth2.Config,
	jwtSecret []byte,
	shutdownCtx context.Context,
) (*CanvasAPI, error) {
	activityBatcher := worker.NewActivityBatcher(canvasStore, 5000)
	go activityBatcher.Run(shutdownCtx)

	mqConsumer := worker.NewMQConsumer(purgeCanvasQueue, canvasStore, canvasCache)
	go mqConsumer.Run(shutdownCtx)

	svc, err := service.NewService(
		canvasStore,
		canvasCache,
		purgeCanvasQueue,
		activityBatcher,
		oauthConfigs,
		jwtSecret,
	)
	if err != nil {
		log.Printf("Failed to create service: %v", err)
		return &CanvasAPI{}, err
	}

	lockReaper := worker.NewLockReaper(svc, 15)
	go lockReaper.Run(shutdownCtx)

	presenceReaper := worker.NewPresenceReaper(svc, 30)
	go presenceReaper.Run(shutdownCtx)

	wsHub := ws.NewHub(canvasCache, svc, lockReaper, presenceReaper)
	err = wsHub.InitSubscriptions(shutdownCtx)
	if err != nil {
		log.Printf("Failed to start WS Hub subscriptions service: %v", err)
		return &CanvasAPI{}, err
	}
	go wsHub.Run()

	restHandler := rest.NewHandler(svc)
	wsHandler := ws.NewHandler(svc, wsHub)

	return &CanvasAPI{
		restHandler: restHandler,
		wsHandler:   wsHandler,
		shutdownCtx: shutdownCtx,
	}, nil
}

func (canvasAPI *CanvasAPI) RegisterRoutes(mux *http.ServeMux, requiredOrigin string) {
	// Health check endpoint (no auth required)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("POST /login", canvasAPI.restHandler.HandleLogin)
	mux.HandleFunc("GET /me", canvasAPI.restHandler.HandleMe)

	mux.HandleFunc("GET /canvases", canvasAPI.restHandler.HandleListCanvases)
	mux.HandleFunc("POST /canvases", canvasAPI.restHandler.HandleCreateCanvas)
	mux.HandleFunc("GET /canvases/{canvasId}", canvasAPI.restHandler.HandleGetCanvas)
	mux.HandleFunc("PATCH /canvases/{canvasId}", canvasAPI.restHandler.HandleRenameCanvas)
	mux.HandleFunc("DELETE /canvases/{canvasId}", canvasAPI.restHandler.HandleDeleteCanvas)
	mux.HandleFunc("POST /canvases/{canvasId}/share-code", canvasAPI.restHandler.HandleRegenerateShareCode)
	mux.HandleFunc("DELETE /canvases/{canvasId}/members/{userId}", canvasAPI.restHandler.HandleRemoveCollaborator)
	mux.HandleFunc("POST /canvases/join", canvasAPI.restHandler.HandleJoinByShareCode)

	var wsUpgrader websocket.Upgrader = canvasAPI.wsHandler.NewWsUpgrader(requiredOrigin)
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		canvasAPI.wsHandler.ServeWS(wsUpgrader, w, r, canvasAPI.shutdownCtx)
	})
}
