package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sunwoo-k/parcelnote/internal/config"
	"github.com/sunwoo-k/parcelnote/internal/database"
	"github.com/sunwoo-k/parcelnote/internal/governor"
	"github.com/sunwoo-k/parcelnote/internal/handlers"
	"github.com/sunwoo-k/parcelnote/internal/logger"
	"github.com/sunwoo-k/parcelnote/internal/lookup"
	"github.com/sunwoo-k/parcelnote/internal/middleware"
	"github.com/sunwoo-k/parcelnote/internal/persistence"
	"github.com/sunwoo-k/parcelnote/internal/projector"
	"github.com/sunwoo-k/parcelnote/internal/registry"
	"github.com/sunwoo-k/parcelnote/internal/restore"
	"github.com/sunwoo-k/parcelnote/internal/services"
	"github.com/sunwoo-k/parcelnote/internal/sessioncache"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize structured logger
	log := logger.New(cfg.Server.Env)
	log.Info("Starting parcelnote", map[string]interface{}{
		"version":     handlers.APIVersion,
		"environment": cfg.Server.Env,
		"port":        cfg.Server.Port,
		"store":       cfg.Store.Backend,
	})

	ctx := context.Background()

	// Open the durable store backend
	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to open durable store", err, map[string]interface{}{
			"backend": cfg.Store.Backend,
		})
	}

	// Optional remote replication target
	var remote *persistence.RemoteStore
	if cfg.Remote.URL != "" {
		remote = persistence.NewRemoteStore(cfg.Remote.URL, cfg.Remote.APIKey)
	}

	adapter := persistence.NewAdapter(store, remote, log)
	defer adapter.Close()

	adapter.Subscribe(func(state persistence.ConnState) {
		log.Info("Remote sync state changed", map[string]interface{}{
			"state": string(state),
		})
	})

	// Session cache: redis when configured, in-memory otherwise
	var cache sessioncache.Cache
	if client := sessioncache.OpenRedis(cfg.Redis); client != nil {
		cache = sessioncache.NewRedis(client, cfg.Redis.TTL)
		log.Info("Session cache backed by redis", map[string]interface{}{
			"addr": cfg.Redis.Host + ":" + cfg.Redis.Port,
		})
	} else {
		cache = sessioncache.NewMemory()
		log.Info("Session cache in memory (REDIS_HOST not set)", nil)
	}

	// Rate governor and lookup clients
	gov := governor.New(map[string]int{
		lookup.ProviderVWorld: cfg.Governor.VWorldLimit,
		lookup.ProviderNaver:  cfg.Governor.NaverLimit,
	}, cfg.Governor.Window, cfg.Governor.HistorySize, prometheus.DefaultRegisterer)

	vworld := lookup.NewVWorld(cfg.VWorld, gov, log)
	naver := lookup.NewNaver(cfg.Naver, gov, log)

	// Core: registry, surface, projector
	reg := registry.New(log)
	surface := projector.NewMemorySurface()
	proj := projector.New(reg, surface, log)

	// Restore persisted state before serving any request
	pipeline := restore.New(cache, adapter, reg, proj, log)
	if err := pipeline.Run(ctx); err != nil {
		log.Fatal("Restoration failed", err, nil)
	}

	service := services.NewAnnotationService(reg, proj, adapter, cache, vworld, naver, log)

	// Setup Gin router
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware in order: RequestID -> Logger -> Recovery -> CORS
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.CORS.Origins))

	// Health and metrics
	healthHandler := handlers.NewHealthHandler(adapter, cfg.Server.Env)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/ready", healthHandler.Ready)
	router.GET("/api/v1/info", healthHandler.Info)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public config echo and provider proxies
	configHandler := handlers.NewConfigHandler(cfg, adapter)
	proxyHandler := handlers.NewProxyHandler(vworld, naver)
	router.GET("/api/config", configHandler.Get)
	router.GET("/api/vworld", proxyHandler.VWorld)
	router.GET("/api/naver/geocode", proxyHandler.Geocode)

	// Annotation API
	parcelHandler := handlers.NewParcelHandler(service, surface)
	v1 := router.Group("/api/v1")
	{
		parcels := v1.Group("/parcels")
		{
			parcels.POST("/click", parcelHandler.Click)
			parcels.POST("/search", parcelHandler.Search)
			parcels.PUT("/:id/color", parcelHandler.SetColor)
			parcels.PUT("/:id/owner", parcelHandler.SaveOwner)
			parcels.DELETE("/:id", parcelHandler.Remove)
			parcels.DELETE("", parcelHandler.Clear)
		}
		v1.PUT("/mode", parcelHandler.SetMode)
		v1.GET("/view", parcelHandler.View)
	}

	// Bind the listener, walking forward from the configured port when it
	// is already taken.
	listener, port, err := listenWithFallback(cfg.Server.Port, cfg.Server.PortFallbackAttempts)
	if err != nil {
		log.Fatal("Failed to bind listener", err, map[string]interface{}{
			"port":     cfg.Server.Port,
			"attempts": cfg.Server.PortFallbackAttempts,
		})
	}

	srv := &http.Server{Handler: router}

	go func() {
		log.Info("Server listening", map[string]interface{}{
			"port": port,
		})
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", err, nil)
		}
	}()

	// Wait for interrupt signal (SIGINT or SIGTERM)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", err, map[string]interface{}{
			"timeout": shutdownTimeout.String(),
		})
	}

	log.Info("Server exited", nil)
}

// openStore builds the configured durable store backend.
func openStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (persistence.Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		db, err := database.NewPostgresPool(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		log.Info("Database connection established", map[string]interface{}{
			"host":     cfg.Database.Host,
			"database": cfg.Database.Name,
		})
		return persistence.NewPostgresStore(ctx, db)
	default:
		return persistence.NewSQLiteStore(cfg.Store.SQLitePath)
	}
}

// listenWithFallback binds the configured port, trying up to attempts
// successive ports when the address is in use.
func listenWithFallback(port string, attempts int) (net.Listener, string, error) {
	base, err := strconv.Atoi(port)
	if err != nil {
		return nil, "", fmt.Errorf("invalid port %q: %w", port, err)
	}

	var lastErr error
	for i := 0; i <= attempts; i++ {
		candidate := strconv.Itoa(base + i)
		listener, err := net.Listen("tcp", ":"+candidate)
		if err == nil {
			return listener, candidate, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, "", err
		}
		lastErr = err
	}

	return nil, "", fmt.Errorf("no free port in range %d-%d: %w", base, base+attempts, lastErr)
}
