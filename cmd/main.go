// Command api starts the connection-hub control plane: the Gateway's
// HTTP/WebSocket front door, backed by one hub.Manager per process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/streamspace/streamspace/api/internal/auth"
	"github.com/streamspace/streamspace/api/internal/cache"
	"github.com/streamspace/streamspace/api/internal/events"
	"github.com/streamspace/streamspace/api/internal/gateway"
	"github.com/streamspace/streamspace/api/internal/hub"
	"github.com/streamspace/streamspace/api/internal/logger"
	"github.com/streamspace/streamspace/api/internal/middleware"
	"github.com/streamspace/streamspace/api/internal/scheduler"
	"github.com/streamspace/streamspace/api/internal/store"
)

func main() {
	logger.Initialize(getEnv("LOG_LEVEL", "info"), getEnv("LOG_PRETTY", "false") == "true")
	log := logger.GetLogger()

	nodeID := getEnv("NODE_ID", mustHostname())

	log.Info().Str("nodeId", nodeID).Msg("starting connection-hub API server")

	st, err := store.New(store.Config{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnv("DB_PORT", "5432"),
		User:     getEnv("DB_USER", "streamspace"),
		Password: getEnv("DB_PASSWORD", "streamspace"),
		DBName:   getEnv("DB_NAME", "streamspace"),
		SSLMode:  getEnv("DB_SSL_MODE", "disable"),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to store")
	}
	defer st.Close()

	if err := st.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate store schema")
	}

	redisCache, err := cache.NewCache(cache.Config{
		Host:     getEnv("REDIS_HOST", "localhost"),
		Port:     getEnv("REDIS_PORT", "6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       0,
		Enabled:  getEnv("CACHE_ENABLED", "false") == "true",
	})
	if err != nil {
		log.Warn().Err(err).Msg("redis cache unavailable, continuing without cluster presence locking")
		redisCache, _ = cache.NewCache(cache.Config{Enabled: false})
	}
	defer redisCache.Close()

	presence := cache.NewHubLocationRegistry(redisCache, nodeID)

	eventsCfg := events.Config{
		URL:      getEnv("NATS_URL", ""),
		User:     getEnv("NATS_USER", ""),
		Password: getEnv("NATS_PASSWORD", ""),
		NodeID:   nodeID,
	}
	publisher, err := events.NewPublisher(eventsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize presence publisher")
	}
	defer publisher.Close()

	subscriber, err := events.NewSubscriber(eventsCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize presence subscriber")
	}
	defer subscriber.Close()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal().Msg("JWT_SECRET environment variable must be set")
	}
	if len(jwtSecret) < 32 {
		log.Fatal().Msg("JWT_SECRET must be at least 32 characters long")
	}
	authMgr := auth.NewJWTManagerWithSessions(&auth.JWTConfig{
		SecretKey:     jwtSecret,
		Issuer:        getEnv("JWT_ISSUER", "connection-hub"),
		TokenDuration: 24 * time.Hour,
	}, redisCache)

	manager := hub.NewManager(hub.ManagerDeps{
		Store:      st,
		Publisher:  publisher,
		Subscriber: subscriber,
		Presence:   presence,
		Auth:       authMgr,
		NodeID:     nodeID,
	})
	manager.Start()

	sched := scheduler.New()
	if err := sched.Every("@every 30s", "stream-sweep", func() {
		manager.Range(func(h *hub.Hub) { h.SweepStreams() })
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to register stream-sweep job")
	}
	if redisCache.IsEnabled() {
		refreshSpec := fmt.Sprintf("@every %s", cache.RefreshInterval())
		if err := sched.Every(refreshSpec, "presence-refresh", func() {
			manager.Range(func(h *hub.Hub) {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := presence.Refresh(ctx, h.UserID()); err != nil {
					log.Warn().Err(err).Str("userId", h.UserID()).Msg("failed to refresh hub presence claim")
				}
				cancel()
			})
		}); err != nil {
			log.Fatal().Err(err).Msg("failed to register presence-refresh job")
		}
	}
	sched.Start()
	defer sched.Stop()

	allowedOrigins := strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"), ",")
	gw := gateway.New(manager, st, authMgr, gateway.Config{AllowedOrigins: allowedOrigins})

	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.StructuredLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.AllowedHTTPMethods())
	router.Use(middleware.DefaultSizeLimiter())
	router.Use(middleware.Timeout(middleware.DefaultTimeoutConfig()))
	router.Use(gw.CORSMiddleware())
	gw.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", getEnv("API_PORT", "8000")),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http server forced to shutdown")
	}

	manager.Stop()
	log.Info().Msg("shutdown complete")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "node-unknown"
	}
	return h
}
