package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/sellerworks/band-crawler/internal/api"
	"github.com/sellerworks/band-crawler/internal/browser"
	"github.com/sellerworks/band-crawler/internal/config"
	"github.com/sellerworks/band-crawler/internal/crawl"
	"github.com/sellerworks/band-crawler/internal/database"
	"github.com/sellerworks/band-crawler/internal/events"
	"github.com/sellerworks/band-crawler/internal/extract"
	"github.com/sellerworks/band-crawler/internal/queue"
	"github.com/sellerworks/band-crawler/internal/ratelimit"
	"github.com/sellerworks/band-crawler/internal/scheduler"
	"github.com/sellerworks/band-crawler/internal/session"
	"github.com/sellerworks/band-crawler/internal/storage"
)

const registryRefreshInterval = time.Minute

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(ctx, database.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.MaxConns,
	})
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	relay := database.NewRelay(db, redisClient, logger, database.RelayConfig{
		PollInterval: 5 * time.Second,
		BatchSize:    100,
	})
	go func() {
		if err := relay.Start(ctx); err != nil && err != context.Canceled {
			logger.Error("relay stopped with error", "error", err)
		}
	}()

	sessionStore, err := newSessionStore(cfg.Session, db)
	if err != nil {
		logger.Error("failed to open session store", "error", err)
		os.Exit(1)
	}

	sessions := session.NewManager(sessionStore, cfg.Session.TTL, logger)
	pacer := ratelimit.NewPacer(cfg.Crawler.RateLimitMin, cfg.Crawler.RateLimitMax)
	pipeline := extract.NewPipeline(pacer, logger)
	publisher := events.NewPublisher(db, logger)
	accounts := database.NewAccountRepository(db)

	crawler := crawl.New(
		crawl.Config{
			FeedURL:     cfg.Crawler.FeedURL,
			TargetPosts: cfg.Crawler.TargetPosts,
			NavRetries:  cfg.Crawler.MaxRetries,
		},
		&browser.Options{
			Headless:       cfg.Browser.Headless,
			Timeout:        cfg.Browser.Timeout,
			UserAgent:      cfg.Browser.UserAgent,
			ViewportWidth:  cfg.Browser.ViewportWidth,
			ViewportHeight: cfg.Browser.ViewportHeight,
			AcceptLanguage: cfg.Browser.AcceptLanguage,
			TimezoneID:     cfg.Browser.TimezoneID,
			Locale:         cfg.Browser.Locale,
			ProxyServer:    cfg.Browser.ProxyServer,
		},
		sessions,
		pipeline,
		database.NewCatalogRepository(db),
		database.NewResultRepository(db),
		publisher,
		logger,
	)

	sched := scheduler.New(crawler, accounts, publisher,
		int64(cfg.Crawler.MaxConcurrentSessions), cfg.Crawler.RunTimeout, logger)
	if err := sched.Refresh(ctx); err != nil {
		logger.Error("initial registry refresh failed", "error", err)
	}
	sched.Start()
	defer sched.Shutdown()

	// Pick up automation toggles made directly in the registry.
	go func() {
		ticker := time.NewTicker(registryRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sched.Refresh(ctx); err != nil {
					logger.Error("registry refresh failed", "error", err)
				}
			}
		}
	}()

	taskQueue := queue.NewInMemoryQueue()
	defer taskQueue.Close()
	worker := crawl.NewWorker(taskQueue, crawler, accounts, cfg.Crawler.RunTimeout, logger)
	go worker.Start(ctx)

	handlers := api.NewHandlers(sched, accounts, taskQueue, relay, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", handlers.Health)
	r.Route("/api/v1", handlers.Routes)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", "error", err)
		}
	}()

	logger.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func newSessionStore(cfg config.SessionConfig, db *database.DB) (session.Store, error) {
	if cfg.StoreMode == "file" {
		return storage.NewFileStore(cfg.FilePath)
	}
	return database.NewSessionRepository(db), nil
}
