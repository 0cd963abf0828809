package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/ludostacked/backend/internal/v1/auth"
	"github.com/ludostacked/backend/internal/v1/cache"
	"github.com/ludostacked/backend/internal/v1/config"
	"github.com/ludostacked/backend/internal/v1/game"
	"github.com/ludostacked/backend/internal/v1/health"
	"github.com/ludostacked/backend/internal/v1/httpapi"
	"github.com/ludostacked/backend/internal/v1/logging"
	"github.com/ludostacked/backend/internal/v1/middleware"
	"github.com/ludostacked/backend/internal/v1/ratelimit"
	"github.com/ludostacked/backend/internal/v1/room"
	"github.com/ludostacked/backend/internal/v1/store"
	"github.com/ludostacked/backend/internal/v1/tracing"
	"github.com/ludostacked/backend/internal/v1/ws"
)

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.Debug); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	ctx := context.Background()

	// --- Tracing (Optional) ---
	if cfg.OTLPEndpoint != "" {
		tp, err := tracing.InitTracer(ctx, "ludo-realtime", cfg.OTLPEndpoint)
		if err != nil {
			logging.Error(ctx, "Failed to initialize tracing, continuing without it", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	// --- Token Verifier ---
	// Debug mode swaps in the mock verifier so local clients can connect
	// without real Supabase tokens.
	var verifier auth.TokenVerifier
	if cfg.Debug {
		logging.Warn(ctx, "⚠️ Authentication MOCKED for development - DO NOT USE IN PRODUCTION")
		verifier = &auth.MockVerifier{}
	} else {
		v, err := auth.NewVerifier(ctx, cfg.SupabaseJWKSURL)
		if err != nil {
			logging.Fatal(ctx, "Failed to create token verifier", zap.Error(err))
		}
		verifier = v
		logging.Info(ctx, "✅ JWKS verifier initialized", zap.String("jwks_url", cfg.SupabaseJWKSURL))
	}

	// --- Redis Cache (Optional) ---
	var cacheSvc *cache.Service
	if cfg.RedisEnabled {
		cacheSvc, err = cache.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Fatal(ctx, "Failed to connect to Redis", zap.Error(err))
		}
		logging.Info(ctx, "✅ Redis cache initialized", zap.String("addr", cfg.RedisAddr))
	} else {
		logging.Fatal(ctx, "REDIS_ENABLED=false is not supported: live rooms need the cache")
	}

	// --- Durable Store ---
	storeClient := store.New(cfg.SupabaseURL, cfg.SupabaseAPIKey)

	// --- Core Services ---
	engine := game.NewEngine()
	rooms := room.NewService(storeClient, cacheSvc, engine)

	manager := ws.NewManager(cacheSvc, rooms,
		time.Duration(cfg.WSHeartbeatInterval)*time.Second,
		time.Duration(cfg.WSConnectionTimeout)*time.Second)
	manager.StartReaper()

	// --- Rate Limiting ---
	rl, err := ratelimit.NewRateLimiter(cfg, cacheSvc.Client())
	if err != nil {
		logging.Fatal(ctx, "Failed to create rate limiter", zap.Error(err))
	}

	allowedOrigins := auth.GetAllowedOriginsFromEnv("CORS_ORIGINS", []string{"http://localhost:3000"})
	endpoint := ws.NewEndpoint(manager, ws.DefaultRegistry(verifier), rooms, engine,
		rl, allowedOrigins, time.Duration(cfg.WSAuthTimeoutSeconds)*time.Second)

	// --- Set up Server ---
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(otelgin.Middleware("ludo-realtime"))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", middleware.HeaderXCorrelationID)
	router.Use(cors.New(corsConfig))

	// WebSocket entry point
	router.GET("/ws", endpoint.ServeWs)

	// Authenticated REST surface
	api := httpapi.NewHandler(rooms, storeClient)
	api.RegisterRoutes(router, auth.Middleware(verifier), rl.RoomsMiddleware())

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	healthHandler := health.NewHandler(cacheSvc, storeClient)
	router.GET("/healthz", healthHandler.Liveness)
	router.GET("/readyz", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		logging.Info(ctx, "API server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(ctx, "Failed to run server", zap.Error(err))
			_ = syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "Shutting down server...")

	// The context gives in-flight requests and sockets 30 seconds to finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Close all live WebSocket connections first so presence and seat state
	// get written back before the process exits.
	manager.Shutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "Server forced to shutdown", zap.Error(err))
	}

	if err := cacheSvc.Close(); err != nil {
		logging.Error(ctx, "Failed to close Redis connection", zap.Error(err))
	}

	logging.Info(ctx, "Server exiting")
}
