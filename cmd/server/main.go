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

	"github.com/GoPolymarket/reqlog/internal/config"
	"github.com/GoPolymarket/reqlog/internal/pkg/logger"
	"github.com/GoPolymarket/reqlog/internal/reqctx"
	"github.com/GoPolymarket/reqlog/internal/repository"
	"github.com/GoPolymarket/reqlog/internal/server"
	"github.com/GoPolymarket/reqlog/internal/service"
	"github.com/GoPolymarket/reqlog/internal/stream"
	"github.com/gin-gonic/gin"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. Initialize Logger
	logger.Init(cfg.Log.Level)
	gin.SetMode(gin.ReleaseMode)

	// 3. Record shipping (Redis > memory only)
	opts := service.RequestLogOptions{
		BufferSize: cfg.RequestLog.BufferSize,
		QueueSize:  cfg.RequestLog.QueueSize,
	}
	var redisClient *repository.RedisClient
	if cfg.Redis.Addr != "" {
		redisClient, err = repository.NewRedisClient(cfg)
		if err == nil {
			logger.Info("✅ Connected to Redis", "addr", cfg.Redis.Addr)
			opts.Repo = repository.NewRedisRequestLogRepo(redisClient.Client, cfg.Redis.ListPrefix, cfg.Redis.ListMax)
		} else {
			logger.Error("⚠️ Failed to connect to Redis, request logs stay in memory", "error", err)
		}
	}

	var hub *stream.Hub
	if cfg.Stream.Enabled {
		hub = stream.NewHub(cfg.Stream.ClientBuffer)
		opts.Publisher = hub
	}

	logsSvc := service.NewRequestLogService(opts)
	store := reqctx.NewStore(reqctx.Options{
		Header:       cfg.RequestID.Header,
		TrustInbound: cfg.RequestID.TrustInbound,
		Echo:         cfg.RequestID.Echo,
	})

	// 4. Setup Router
	r := server.NewRouter(server.Deps{
		Config: cfg,
		Store:  store,
		Logs:   logsSvc,
		Hub:    hub,
	})

	// 5. Start Server with Graceful Shutdown
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("🚀 reqlog started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if hub != nil {
		hub.Close()
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	// in-flight requests are done, flush what is still queued
	logsSvc.Close()
	if redisClient != nil {
		_ = redisClient.Close()
	}

	logger.Info("Server exiting")
}
