package main

// @title           PictText Realtime API
// @version         1.0
// @description     Messaging API with websocket presence and fan-out
// @host            localhost:8080
// @BasePath        /api/v1
// @schemes         http https

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/EvaLM99/PictText/internal/adapters/kafka"
	"github.com/EvaLM99/PictText/internal/api/routes"
	"github.com/EvaLM99/PictText/internal/config"
	"github.com/EvaLM99/PictText/internal/database"
	"github.com/EvaLM99/PictText/internal/realtime"
	"github.com/EvaLM99/PictText/internal/services"
	"github.com/EvaLM99/PictText/internal/store"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	slog.Info("Starting PictText server")

	redisClient, err := database.NewRedisConnection(cfg.Redis.URL)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	db, err := database.NewMongoConnection(cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		slog.Error("Failed to connect to MongoDB", "error", err)
		os.Exit(1)
	}
	defer db.Client().Disconnect(context.Background())

	st := store.NewMongoStore(db)
	presenceService := services.NewPresenceService(redisClient)

	// Background work (bridge, journal, sweeper) stops when this is cancelled.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Real-time core.
	registry := realtime.NewRegistry()
	rooms := realtime.NewRoomIndex(st)
	dispatcher := realtime.NewDispatcher(rooms, registry, logger)
	presence := realtime.NewPresenceTracker(st, dispatcher, registry, cfg.Realtime.OfflineGrace, logger)
	presence.SetMirror(presenceService)
	reconciler := realtime.NewReconciler(st, dispatcher, logger)
	rt := realtime.NewRouter(registry, rooms, presence, reconciler, dispatcher, cfg.Realtime.HeartbeatInterval, logger)

	// Cross-process fan-out over Redis pub/sub.
	bridge := realtime.NewBridge(redisClient, dispatcher, logger)
	dispatcher.SetSink(bridge)
	go bridge.Run(ctx)

	// Mutation-event journal, only when brokers are configured.
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(cfg.Kafka.Brokers)
		if err != nil {
			slog.Error("Failed to connect to Kafka", "error", err)
			os.Exit(1)
		}
		journal := kafka.NewJournal(producer, cfg.Kafka.Topic, logger)
		rt.SetJournal(journal)
		go journal.Run(ctx)
		defer journal.Close()
	}

	go rt.RunSweeper(ctx)

	router := routes.NewRouter(cfg, st, rt, presenceService, redisClient)
	router.SetupRoutes()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Server shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	cancel()
	presence.Stop()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped")
}
