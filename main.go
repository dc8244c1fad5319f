package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"calendar-service/internal/auth"
	"calendar-service/internal/calendar"
	"calendar-service/internal/common/logging"
	"calendar-service/internal/config"
	"calendar-service/internal/google"
	"calendar-service/internal/handlers"
	"calendar-service/internal/locks"
	"calendar-service/internal/ratelimit"
	"calendar-service/internal/redis"
	"calendar-service/internal/refresher"
	"calendar-service/internal/server"
	"calendar-service/internal/state"
	"calendar-service/internal/storage"
	"calendar-service/internal/storage/postgres"
	"calendar-service/internal/storage/sqlite"
	"calendar-service/internal/tokens"
	"calendar-service/internal/vault"
)

func main() {
	_ = godotenv.Load()

	logging.InitGlobalLogger()
	logger := logging.GetGlobalLogger()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	store, err := storage.Create(cfg.DatabaseType, storageConfig(cfg))
	if err != nil {
		log.Fatalf("Failed to initialize storage: %v", err)
	}
	defer store.Close()

	var redisClient *redis.Client
	if cfg.RedisAddress != "" {
		redisDB, _ := strconv.Atoi(cfg.RedisDB)
		redisClient, err = redis.NewClient(&redis.Config{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       redisDB,
		})
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		defer redisClient.Close()
	}

	lockManager, err := locks.NewLockManager(redisClient)
	if err != nil {
		log.Fatalf("Failed to initialize lock manager: %v", err)
	}
	defer lockManager.Close()

	v, err := vault.New(cfg.TokenEncryptionKey)
	if err != nil {
		log.Fatalf("Failed to initialize credential vault: %v", err)
	}
	states, err := state.NewService(cfg.StateSecret, cfg.StateTTL)
	if err != nil {
		log.Fatalf("Failed to initialize state service: %v", err)
	}

	oauthClient := google.NewOAuthClient(cfg, logger)
	calendarClient := google.NewCalendarClient(cfg, logger)

	tokenManager := tokens.NewManager(store, v, states, oauthClient, lockManager, logger)
	calendarService := calendar.NewService(calendarClient, tokenManager, store, logger)

	sweeper, err := refresher.NewSweeper(store, tokenManager, cfg.RefreshSweepSchedule, logger)
	if err != nil {
		log.Fatalf("Failed to initialize refresh sweeper: %v", err)
	}
	if err := sweeper.Start(); err != nil {
		log.Fatalf("Failed to start refresh sweeper: %v", err)
	}
	defer sweeper.Stop()

	authService, err := auth.New(cfg.JWTSecret, cfg.InternalAPIKey)
	if err != nil {
		log.Fatalf("Failed to initialize auth: %v", err)
	}

	limiter := ratelimit.NewLimiter(redisClient, nil)

	h := handlers.New(tokenManager, calendarService, store, cfg, logger)
	router := mux.NewRouter()
	server.SetupRoutes(router, h, authService, limiter)

	srv := server.New(router, cfg.Port, "", "")
	errCh := srv.Start()
	logger.Info("server started", logging.String("port", cfg.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		log.Fatalf("Server failed: %v", err)
	case sig := <-quit:
		logger.Info("shutting down", logging.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}
	logger.Info("server exited")
}

func storageConfig(cfg *config.Config) storage.StorageConfig {
	switch cfg.DatabaseType {
	case "postgres":
		port, err := strconv.Atoi(cfg.PostgresPort)
		if err != nil {
			port = 5432
		}
		return &postgres.Config{
			Host:     cfg.PostgresHost,
			Port:     port,
			Database: cfg.PostgresDB,
			Username: cfg.PostgresUser,
			Password: cfg.PostgresPassword,
			SSLMode:  cfg.PostgresSSLMode,
		}
	default:
		return &sqlite.Config{DatabasePath: cfg.DatabasePath}
	}
}
