package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"ephemeral_chat/internal/config"
	"ephemeral_chat/internal/handler"
	"ephemeral_chat/internal/identity"
	"ephemeral_chat/internal/middleware"
	"ephemeral_chat/internal/service"
	"ephemeral_chat/internal/transport"
	"ephemeral_chat/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.New(cfg.Log.Level)

	tr, rdb, cleanup := buildTransport(cfg, appLogger)
	defer cleanup()

	ident := identity.NewProvider(cfg.Chat.StateDir, appLogger)
	localHandle := ident.Handle()
	appLogger.Info("participant identity ready", "handle", localHandle, "mode", cfg.Mode())

	chatService := service.NewChatService(tr, localHandle, appLogger)
	defer chatService.Close()

	handlers := handler.NewHandlers(chatService, cfg, appLogger)
	rateLimit := middleware.NewRateLimitMiddleware(rdb, cfg.Chat.RateLimit, cfg.Chat.RateLimitWindow, appLogger)

	router := setupRouter(handlers, rateLimit, cfg, appLogger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLogger.Info("Starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", "error", err)
	}

	appLogger.Info("Server exited")
}

// buildTransport selects the provider from configuration. Missing
// credentials mean degraded mode by design; an unreachable backend
// also degrades instead of refusing to start.
func buildTransport(cfg *config.Config, appLogger logger.Logger) (transport.Adapter, *redis.Client, func()) {
	switch cfg.Mode() {
	case config.ModePostgres:
		pool, err := pgxpool.New(context.Background(), cfg.Database.DSN)
		if err == nil {
			err = pool.Ping(context.Background())
		}
		if err != nil {
			appLogger.Error("Postgres unreachable, falling back to degraded mode", "error", err)
			break
		}
		pg := transport.NewPostgres(pool, appLogger)
		if err := pg.EnsureSchema(context.Background()); err != nil {
			appLogger.Error("Postgres schema setup failed, falling back to degraded mode", "error", err)
			pool.Close()
			break
		}
		appLogger.Info("Database connection established")
		return pg, nil, pool.Close

	case config.ModeRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			appLogger.Error("Redis unreachable, falling back to degraded mode", "error", err)
			_ = rdb.Close()
			break
		}
		appLogger.Info("Redis connection established")
		return transport.NewRedis(rdb, cfg.Chat.HistoryTTL, appLogger), rdb, func() { _ = rdb.Close() }
	}

	store := transport.NewDegradedStore(cfg.Chat.StateDir, appLogger)
	return transport.NewDegraded(store), nil, func() {}
}

func setupRouter(
	handlers *handler.Handlers,
	rateLimit *middleware.RateLimitMiddleware,
	cfg *config.Config,
	appLogger logger.Logger,
) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.RequestLogger(appLogger))

	router.GET("/health", handlers.Health.Check)

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Participant())
	{
		rooms := v1.Group("/rooms/:id")
		{
			rooms.GET("/chat/messages", handlers.Chat.GetMessages)
			rooms.POST("/chat/messages", rateLimit.Limit(), handlers.Chat.SendMessage)
			rooms.GET("/chat/handles", handlers.Chat.GetHandles)
			rooms.GET("/reactions", handlers.Chat.GetReactions)
			rooms.POST("/reactions", rateLimit.Limit(), handlers.Chat.AddReaction)
			rooms.GET("/chat/message-reactions", handlers.Chat.GetMessageReactions)
			rooms.POST("/chat/messages/:messageId/reactions", rateLimit.Limit(), handlers.Chat.AddMessageReaction)
		}
	}

	wsGroup := router.Group("/ws")
	wsGroup.Use(middleware.Participant())
	wsGroup.GET("/chat/:id", handlers.WebSocket.HandleChat)

	return router
}
