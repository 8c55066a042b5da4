package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/kvizko/backend/internal/api"
	"github.com/kvizko/backend/internal/config"
	"github.com/kvizko/backend/internal/database"
	"github.com/kvizko/backend/internal/game"
	"github.com/kvizko/backend/internal/migrations"
	"github.com/kvizko/backend/internal/redis"
	"github.com/kvizko/backend/internal/store"
	"github.com/kvizko/backend/internal/ws"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Initialize configuration
	cfg := config.Load()

	// Initialize database
	db, err := database.Connect(cfg.DatabaseURL, cfg.DBMaxOpenConns, cfg.DBMaxIdleConns)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations on start if requested
	if cfg.MigrateOnStart {
		log.Println("↗ Running DB migrations on startup...")
		if err := migrations.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	// Redis backs game snapshots and the daily reap lock. The server
	// runs without it, minus the crash-restart path.
	rdb, err := redis.Connect(cfg.RedisURL)
	if err != nil {
		log.Printf("[REDIS] unavailable (%v), game snapshots disabled", err)
		rdb = nil
	} else {
		defer rdb.Close()
	}

	// Persistence store and the write-batching queue in front of it
	st, err := store.New(db)
	if err != nil {
		log.Fatalf("Failed to prepare store: %v", err)
	}
	batcher := store.NewBatcher(cfg.WriteBatchSize, time.Duration(cfg.WriteBatchTimeoutMs)*time.Millisecond, st.ExecuteBatch)
	batcher.Start()

	// Game registry, socket hub and the event protocol on top of them
	registry := game.NewRegistry(st, rdb, cfg)
	hub := ws.NewHub(cfg.MaxConnections)
	protocol := ws.NewProtocol(st, batcher, registry, hub, cfg)

	// Background lifecycle: latency pings, TTL sweeps, daily store reap
	ctx, cancel := context.WithCancel(context.Background())
	reaper := game.NewReaper(registry, st, rdb, protocol, cfg)
	reaper.Start(ctx)

	// Set up Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Initialize API handlers
	api.SetupRoutes(router, registry, hub, st, cfg)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("Starting Kvízko server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Shutdown order: stop the periodic work and question timers, close
	// the listener, then flush whatever the write queue still holds.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down...")

	cancel()
	protocol.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}

	batcher.Close()
	log.Println("Server stopped")
}
