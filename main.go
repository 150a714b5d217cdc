package main

import (
	"context"
	"encoding/base64"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/oauth2"

	"github.com/kishor-kashid/collabcanvas/api"
	"github.com/kishor-kashid/collabcanvas/cache/redis"
	"github.com/kishor-kashid/collabcanvas/mq/sqsmq"
	"github.com/kishor-kashid/collabcanvas/store/dynamo"
)

const (
	DynamoDBTable       = "CollabCanvas"
	SQSPurgeCanvasQueue = "PurgeCanvasQueue"
)

func main() {
	ctx := context.Background()
	devMode := os.Getenv("DEV_MODE") == "true"

	canvasStore, err := dynamo.NewDynamoCanvasStore(ctx, devMode, os.Getenv("DYNAMODB_ENDPOINT"), DynamoDBTable)
	if err != nil {
		log.Fatalf("Failed to create dynamodb store: %v", err)
	}

	purgeCanvasQueue, err := sqsmq.NewSQSMessageQueue(ctx, devMode, os.Getenv("SQS_ENDPOINT"), SQSPurgeCanvasQueue)
	if err != nil {
		log.Fatalf("Failed to create SQS MQ: %v", err)
	}

	canvasCache, err := redis.NewRedisCanvasCache(ctx, devMode, os.Getenv("REDIS_ENDPOINT"))
	if err != nil {
		log.Fatalf("Failed to create redis cache: %v", err)
	}

	frontendOrigin := os.Getenv("FRONTEND_ORIGIN")

	var oauthConfigs = map[string]*oauth2.Config{
		"github": {
			ClientID:     os.Getenv("GITHUB_CLIENT_ID"),
			ClientSecret: os.Getenv("GITHUB_CLIENT_SECRET"),
			RedirectURL:  frontendOrigin + "/auth/callback",
		},
		"google": {
			ClientID:     os.Getenv("GOOGLE_CLIENT_ID"),
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			RedirectURL:  frontendOrigin + "/auth/callback",
		},
	}

	jwtSecret, err := base64.StdEncoding.DecodeString(os.Getenv("JWT_SECRET"))
	if err != nil {
		log.Fatalf("Failed to decode base64 jwtSecret: %v", err)
	}

	shutdownCtx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	canvasApi, err := api.NewCanvasAPI(canvasStore, purgeCanvasQueue, canvasCache, oauthConfigs, jwtSecret, shutdownCtx)
	if err != nil {
		log.Fatalf("Failed to create canvas api: %v", err)
	}

	mux := http.NewServeMux()
	canvasApi.RegisterRoutes(mux, frontendOrigin)

	hostPort := "8080"
	if p := os.Getenv("HOST_PORT"); p != "" {
		hostPort = p
	}
	log.Printf("Starting server on host port: %s\n", hostPort)
	log.Fatal(http.ListenAndServe(":"+hostPort, mux))
}
