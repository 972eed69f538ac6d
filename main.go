package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chat-client/internal/backend"
	"chat-client/internal/cache"
	"chat-client/internal/config"
	"chat-client/internal/db"
	"chat-client/internal/feed"
	"chat-client/internal/handlers"
	"chat-client/internal/middleware"
	"chat-client/internal/observability"
	"chat-client/internal/rabbitmq"
	"chat-client/internal/session"
	"chat-client/internal/store"
	"chat-client/internal/telemetry"
	"chat-client/internal/upload"
	"chat-client/internal/ws"
)

func main() {
	cfg := config.Load()

	shutdownTracing := observability.SetupTracing("chat-client")
	defer shutdownTracing()

	database, err := db.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	defer database.Close()

	convCache, err := cache.Open(cfg.CachePath, cfg.CacheTTL)
	if err != nil {
		log.Fatalf("failed to open cache: %v", err)
	}
	defer convCache.Close()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.EventExchange)
	defer publisher.Close()
	emitter := telemetry.NewEmitter(publisher, "sync_events.client", "chat-client", cfg.Environment)

	if cfg.AMQPURL != "" {
		if diag, err := observability.NewAMQPPublisher(cfg.AMQPURL, cfg.EventExchange); err != nil {
			log.Printf("diagnostics publisher disabled: %v", err)
		} else {
			observability.SetPublisher(diag)
			defer diag.Close()
		}
	}

	var eventFeed feed.Feed
	switch cfg.FeedMode {
	case "amqp":
		eventFeed = feed.NewAMQPFeed(cfg.AMQPURL, cfg.FeedExchange)
	default:
		eventFeed = feed.NewWebsocketFeed(feed.WebsocketOptions{
			BaseURL: cfg.FeedURL,
			Token:   cfg.FeedToken,
			Emitter: emitter,
		})
	}

	uploads := upload.NewClient(upload.Options{
		Endpoint:  cfg.StorageEndpoint,
		Bucket:    cfg.StorageBucket,
		Token:     cfg.StorageToken,
		ChunkSize: cfg.ChunkSize,
		SignTTL:   cfg.SignedURLTTL,
	})

	svc := backend.NewPostgresService(database)
	sessions := session.NewManager(session.Options{
		Service:      svc,
		Feed:         eventFeed,
		Cache:        convCache,
		Uploads:      uploads,
		Registry:     store.NewRegistry(30 * time.Second),
		Emitter:      emitter,
		UserID:       cfg.UserID,
		WriteTimeout: cfg.WriteTimeout,
	})

	hub := ws.NewHub()
	sessions.SetOnChange(hub.Broadcast)

	convHandler := handlers.NewConversationHandler(sessions, uploads)
	uiWS := ws.NewUIHandler(hub, sessions, cfg.GatewayToken, cfg.UserID)

	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(observability.HTTPMetricsMiddleware())

	auth := middleware.Auth(cfg.GatewayToken)

	router.POST("/conversations/:conversation_id/open", auth, convHandler.Open)
	router.POST("/conversations/:conversation_id/close", auth, convHandler.Close)
	router.GET("/conversations/:conversation_id/messages", auth, convHandler.ListMessages)
	router.POST("/conversations/:conversation_id/messages", auth, convHandler.PostMessage)
	router.POST("/conversations/:conversation_id/attachments", auth, convHandler.PostAttachment)
	router.POST("/conversations/:conversation_id/messages/:message_id/retry", auth, convHandler.Retry)
	router.DELETE("/conversations/:conversation_id/messages/:message_id", auth, convHandler.DeleteMessage)
	router.GET("/conversations/:conversation_id/uploads/:message_id", auth, convHandler.UploadProgress)

	router.GET("/ws/conversations/:conversation_id", uiWS.Handle)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "publisher": rabbitmq.PublisherMode(publisher)})
	})

	srv := &http.Server{Addr: cfg.GatewayAddr, Handler: router}
	go func() {
		log.Printf("gateway listening on %s", cfg.GatewayAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Printf("shutting down")
	sessions.CloseAll()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
}
