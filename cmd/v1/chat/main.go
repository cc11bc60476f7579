// Command chat runs a room-based chat server on top of the fan-out engine.
// Clients connect over WebSocket, create or join rooms, and exchange
// set_name / send_message / delete_message actions.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/syncroom/syncroom/internal/v1/config"
	"github.com/syncroom/syncroom/internal/v1/health"
	"github.com/syncroom/syncroom/internal/v1/middleware"
	"github.com/syncroom/syncroom/internal/v1/ratelimit"
	"github.com/syncroom/syncroom/pkg/v1/joint"
	"github.com/syncroom/syncroom/pkg/v1/logging"
	"github.com/syncroom/syncroom/pkg/v1/transport"
)

func main() {
	// Load .env for local development; in deployment the environment is set
	// by the orchestrator.
	if err := godotenv.Load(); err == nil {
		logging.GetLogger().Info("loaded environment from .env")
	}

	cfg, err := config.Load()
	if err != nil {
		logging.GetLogger().Fatal("environment validation failed", zap.Error(err))
	}
	if err := logging.Initialize(cfg.Development()); err != nil {
		logging.GetLogger().Fatal("failed to initialize logger", zap.Error(err))
	}
	ctx := context.Background()

	j := joint.New(newChatReducer())

	opts := []transport.Option{
		transport.WithSendBuffer(cfg.SendBuffer),
		transport.WithWriteTimeout(cfg.WriteTimeout),
	}
	if cfg.MessageRate > 0 {
		opts = append(opts, transport.WithMessageRate(rate.Limit(cfg.MessageRate), cfg.MessageBurst))
	}
	wj := transport.NewWebsocketJoint(j, opts...)

	limiter, err := ratelimit.NewRateLimiter(cfg.RateLimitWsIP)
	if err != nil {
		logging.Fatal(ctx, "failed to build rate limiter", zap.Error(err))
	}

	if !cfg.Development() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	if origins := cfg.Origins(); len(origins) == 1 && origins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
	}
	router.Use(cors.New(corsConfig))

	router.GET("/ws", func(c *gin.Context) {
		if !limiter.CheckWebSocket(c) {
			return
		}
		wj.ServeWs(c)
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := health.NewHandler(j.Broadcaster())
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "chat server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "server failed", zap.Error(err))
			_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()

	if err := wj.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, "websocket shutdown failed", zap.Error(err))
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(shutdownCtx, "server forced to shutdown", zap.Error(err))
	}

	logging.Info(ctx, "server exiting")
}
