package ws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/kishor-kashid/collabcanvas/cache"
	"github.com/kishor-kashid/collabcanvas/service"
	"github.com/kishor-kashid/collabcanvas/worker"
)

type subscription struct {
	client   *Client
	canvasId string
}

type canvasBroadcast struct {
	canvasId string
	message  []byte
}

// Hub maintains the set of active clients and fans canvas broadcasts out
// to them. Each canvas with at least one local client gets one Redis
// subscriber; the reapers are told which canvases currently have watchers.
type Hub struct {
	canvasCache              cache.CanvasCache
	svc                      *service.Service
	lockReaper               *worker.LockReaper
	presenceReaper           *worker.PresenceReaper
	OpenCh                   chan *Client
	CloseCh                  chan *Client
	JoinCh                   chan subscription
	LeaveCh                  chan subscription
	CanvasDeletedCh          chan string
	broadcastCh              chan canvasBroadcast
	userToClients            map[string]map[*Client]struct{}
	canvasToClients          map[string]map[*Client]struct{}
	canvasToSubscriberCancel map[string]context.CancelFunc
}

func NewHub(canvasCache cache.CanvasCache, svc *service.Service, lockReaper *worker.LockReaper, presenceReaper *worker.PresenceReaper) *Hub {
	return &Hub{
		canvasCache:              canvasCache,
		svc:                      svc,
		lockReaper:               lockReaper,
		presenceReaper:           presenceReaper,
		OpenCh:                   make(chan *Client, 256),
		CloseCh:                  make(chan *Client, 256),
		JoinCh:                   make(chan subscription, 1024),
		LeaveCh:                  make(chan subscription, 1024),
		CanvasDeletedCh:          make(chan string, 64),
		broadcastCh:              make(chan canvasBroadcast, 1024),
		userToClients:            make(map[string]map[*Client]struct{}),
		canvasToClients:          make(map[string]map[*Client]struct{}),
		canvasToSubscriberCancel: make(map[string]context.CancelFunc),
	}
}

const (
	maxConnectionsPerUser    = 3
	maxCanvasesPerConnection = 20
)

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.OpenCh:
			if _, ok := h.userToClients[client.user.Id]; !ok {
				h.userToClients[client.user.Id] = make(map[*Client]struct{})
			}

			if len(h.userToClients[client.user.Id]) >= maxConnectionsPerUser {
				log.Printf("User %s reached max connections (%d)", client.user.Id, maxConnectionsPerUser)
				close(client.Send)
				continue
			}

			h.userToClients[client.user.Id][client] = struct{}{}

		case client := <-h.CloseCh:
			for canvasId := range client.joinedCanvases {
				h.removeFromCanvas(client, canvasId)

				// No leave_canvas was seen: clean up the session and any
				// leases the user still holds
				go func(canvasId string, userId string) {
					h.svc.LeavePresence(context.Background(), canvasId, userId)
					h.svc.ReleaseUserLocks(context.Background(), canvasId, userId)
				}(canvasId, client.user.Id)
			}
			delete(h.userToClients[client.user.Id], client)
			if len(h.userToClients[client.user.Id]) == 0 {
				delete(h.userToClients, client.user.Id)
			}

		case sub := <-h.JoinCh:
			if len(sub.client.joinedCanvases) >= maxCanvasesPerConnection {
				log.Printf("Connection by user %s reached max canvases (%d)", sub.client.user.Id, maxCanvasesPerConnection)
				continue
			}
			if h.canvasToClients[sub.canvasId] == nil {
				log.Printf("Subscriber does not exist, creating for canvas: %s", sub.canvasId)

				ctx, cancel := context.WithCancel(context.Background())
				canvasId := sub.canvasId
				channel := "canvas:" + canvasId

				// The subscriber goroutine only forwards; canvasToClients is
				// touched on the hub loop alone
				err := h.canvasCache.Subscribe(ctx, channel, func(messageBytes []byte) {
					h.broadcastCh <- canvasBroadcast{canvasId: canvasId, message: messageBytes}
				})
				if err != nil {
					log.Printf("Failed to create redis sub for channel %s: %v", channel, err)
					cancel()
					continue
				}

				h.canvasToClients[sub.canvasId] = make(map[*Client]struct{})
				h.canvasToSubscriberCancel[sub.canvasId] = cancel

				h.lockReaper.WatchCh <- sub.canvasId
				h.presenceReaper.WatchCh <- sub.canvasId
			}
			h.canvasToClients[sub.canvasId][sub.client] = struct{}{}
			sub.client.joinedCanvases[sub.canvasId] = struct{}{}

		case unsub := <-h.LeaveCh:
			h.removeFromCanvas(unsub.client, unsub.canvasId)

		case b := <-h.broadcastCh:
			for client := range h.canvasToClients[b.canvasId] {
				select {
				case client.Send <- b.message:
				default:
					// Client's write buffer is full; drop the broadcast
					// rather than stall the hub
				}
			}

		case canvasId := <-h.CanvasDeletedCh:
			// The canvas_deleted broadcast already reached the clients over
			// the canvas channel; here we just drop the local subscription
			// state
			for client := range h.canvasToClients[canvasId] {
				delete(client.joinedCanvases, canvasId)
			}
			if _, ok := h.canvasToClients[canvasId]; ok {
				h.dropCanvas(canvasId)
			}
		}
	}
}

func (h *Hub) removeFromCanvas(client *Client, canvasId string) {
	delete(h.canvasToClients[canvasId], client)
	delete(client.joinedCanvases, canvasId)
	if len(h.canvasToClients[canvasId]) == 0 {
		h.dropCanvas(canvasId)
	}
}

func (h *Hub) dropCanvas(canvasId string) {
	if cancel, ok := h.canvasToSubscriberCancel[canvasId]; ok {
		cancel()
		delete(h.canvasToSubscriberCancel, canvasId)
	}
	delete(h.canvasToClients, canvasId)

	h.lockReaper.UnwatchCh <- canvasId
	h.presenceReaper.UnwatchCh <- canvasId
}

func (h *Hub) InitSubscriptions(shutdownCtx context.Context) error {
	err := h.canvasCache.Subscribe(shutdownCtx, "canvas-deleted", func(message []byte) {
		var deletedMsg service.CanvasDeletedMessage
		if err := json.Unmarshal(message, &deletedMsg); err == nil {
			h.CanvasDeletedCh <- deletedMsg.Data.CanvasId
		}
	})
	if err != nil {
		log.Printf("WS hub failed to subscribe to canvas-deleted: %v", err)
		return err
	}

	return nil
}
