package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-relay/internal/config"
	"chat-relay/internal/database"
	"chat-relay/internal/handlers"
	"chat-relay/internal/logger"
	"chat-relay/internal/middleware"
	"chat-relay/internal/repository"
	"chat-relay/internal/router"
	"chat-relay/internal/services"
	"chat-relay/migrations"
)

func main() {
	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()

	logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Pretty:      cfg.IsDevelopment(),
		ServiceName: "chat-relay",
	})
	log := logger.L()

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	log.Info().Str("env", cfg.Env).Msg("environment variables loaded")

	// ──── Step 2: Open Conversation Store ────
	store, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("conversation store unavailable")
	}
	defer closeStore()
	log.Info().Str("driver", cfg.StoreDriver).Msg("conversation store ready")

	// ──── Step 3: Initialize Gemini Client ────
	var generator services.Generator
	geminiService, err := services.NewGeminiService(cfg.GeminiAPIKey, services.GeminiOptions{
		Model:           cfg.GeminiModel,
		MaxOutputTokens: cfg.GeminiMaxOutputTokens,
		Temperature:     cfg.GeminiTemperature,
		ConcurrentReqs:  cfg.GeminiConcurrentReqs,
	})
	switch {
	case errors.Is(err, services.ErrNotConfigured):
		log.Warn().Msg("GEMINI_API_KEY not set. Server will still run but chat requests will fail.")
		generator = services.UnavailableGenerator{Err: err}
	case err != nil:
		log.Fatal().Err(err).Msg("Gemini client initialization failed")
	default:
		defer geminiService.Close()
		generator = geminiService
		log.Info().Str("model", cfg.GeminiModel).Msg("Gemini client initialized")
	}

	// ──── Step 4: Rate Limiting ────
	limiter, closeLimiter, err := newLimiter(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("rate limiter initialization failed")
	}
	defer closeLimiter()

	// ──── Step 5: Start HTTP Server ────
	chatService := services.NewChatService(store, generator, cfg.MaxMessageChars, cfg.GeminiTimeout)
	chatHandler := handlers.NewChatHandler(chatService)

	r := router.New(chatHandler, limiter, router.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		TrustProxy:     cfg.TrustProxy,
	}, log)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GeminiTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	log.Info().Str("addr", server.Addr).Strs("allowed_origins", cfg.AllowedOrigins).Msgf("chat relay ready on http://localhost:%s", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server error")
	}
}

func openStore(cfg *config.Config) (repository.MessageStore, func(), error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := database.NewPostgresPool(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := database.RunMigrations(context.Background(), pool, migrations.FS); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return repository.NewPostgresMessageRepo(pool), pool.Close, nil
	case config.StoreSQLite:
		db, err := database.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewSQLiteMessageRepo(db), func() { db.Close() }, nil
	default:
		return repository.NewMemoryMessageRepo(), func() {}, nil
	}
}

// newLimiter shares counters through Redis when REDIS_URL is set.
func newLimiter(cfg *config.Config) (middleware.Limiter, func(), error) {
	if cfg.RedisURL == "" {
		rl := middleware.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute)
		return rl, rl.Stop, nil
	}

	client, err := database.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	rl := middleware.NewRedisRateLimiter(client, "ratelimit:chat", cfg.RateLimitPerMinute, time.Minute)
	return rl, func() { client.Close() }, nil
}
