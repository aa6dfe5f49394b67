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

	"github.com/joho/godotenv"

	"github.com/prudhvinik1/flashsync/internal/config"
	"github.com/prudhvinik1/flashsync/internal/database"
	"github.com/prudhvinik1/flashsync/internal/handlers"
	"github.com/prudhvinik1/flashsync/internal/logging"
	"github.com/prudhvinik1/flashsync/internal/repositories"
	"github.com/prudhvinik1/flashsync/internal/services"
)

type stores struct {
	accounts repositories.AccountRepository
	devices  repositories.DeviceRepository
	flashes  repositories.FlashRepository
	sessions repositories.SessionRepository
	limiter  repositories.RateLimiter
	close    func()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		return &stores{
			accounts: repositories.NewMemoryAccountRepository(),
			devices:  repositories.NewMemoryDeviceRepository(),
			flashes:  repositories.NewMemoryFlashRepository(),
			sessions: repositories.NewMemorySessionRepository(),
			limiter:  repositories.NewMemoryRateLimiter(),
			close:    func() {},
		}, nil
	}

	if err := database.Migrate(ctx, cfg.DatabaseURL); err != nil {
		return nil, err
	}

	postgresPool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	redisClient, err := database.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		postgresPool.Close()
		return nil, fmt.Errorf("failed to create redis client: %w", err)
	}

	return &stores{
		accounts: repositories.NewPostgresAccountRepository(postgresPool),
		devices:  repositories.NewPostgresDeviceRepository(postgresPool),
		flashes:  repositories.NewPostgresFlashRepository(postgresPool),
		sessions: repositories.NewRedisSessionRepository(redisClient),
		limiter:  repositories.NewRedisRateLimiter(redisClient),
		close: func() {
			redisClient.Close()
			postgresPool.Close()
		},
	}, nil
}

func main() {
	ctx := context.Background()

	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(os.Stdout, cfg.LogLevel, true)

	st, err := openStores(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open storage: %v", err)
	}
	defer st.close()

	authService := services.NewAuthService(st.accounts, st.devices, st.sessions, cfg.JWTSecret, cfg.JWTExpiry)
	flashService := services.NewFlashService(st.flashes, st.devices, st.sessions)
	h := handlers.NewHandler(authService, flashService, st.limiter, cfg.RateLimitPerMinute, logger)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:           handlers.NewRouter(h, cfg.TrustProxy),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info(ctx, "shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	logger.Info(ctx, "starting server", "port", cfg.ServerPort, "storage", cfg.StorageDriver)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}

	logger.Info(ctx, "server stopped gracefully")
}
