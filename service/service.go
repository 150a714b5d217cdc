package service

import (
	"errors"

	"golang.org/x/oauth2"

	"github.com/kishor-kashid/collabcanvas/cache"
	"github.com/kishor-kashid/collabcanvas/mq"
	"github.com/kishor-kashid/collabcanvas/store"
	"github.com/kishor-kashid/collabcanvas/worker"
)

type Service struct {
	Store           store.CanvasStore
	Cache           cache.CanvasCache
	MQ              mq.MessageQueue
	ActivityBatcher *worker.ActivityBatcher
	OAuthConfigs    map[string]*oauth2.Config
	JWTSecret       []byte
}

func NewService(
	store store.CanvasStore,
	cache cache.CanvasCache,
	mq mq.MessageQueue,
	activityBatcher *worker.ActivityBatcher,
	oauthConfigs map[string]*oauth2.Config,
	jwtSecret []byte,
) (*Service, error) {
	oauthConfigs, err := applyProviderDefaults(oauthConfigs)
	if err != nil {
		return nil, err
	}

	return &Service{
		Store:           store,
		Cache:           cache,
		MQ:              mq,
		ActivityBatcher: activityBatcher,
		OAuthConfigs:    oauthConfigs,
		JWTSecret:       jwtSecret,
	}, nil
}

// Custom error types for clarity
var (
	ErrShapeNotFound = errors.New("shape does not exist")
	ErrLayerLocked   = errors.New("shape is layer-locked")
	ErrShapeLocked   = errors.New("shape is locked by another user")
	ErrNotMember     = errors.New("user is not a member of this canvas")
	ErrNotOwner      = errors.New("only the canvas owner may do this")
	ErrCanvasFull    = errors.New("canvas shape quota exceeded")
)
