package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"backlog/api/internal/ai"
	"backlog/api/internal/app"
	"backlog/api/internal/authpw"
	"backlog/api/internal/blob"
	"backlog/api/internal/config"
	"backlog/api/internal/email"
	"backlog/api/internal/export"
	"backlog/api/internal/ratelimit"
	"backlog/api/internal/search"
	"backlog/api/internal/session"
	"backlog/api/internal/store"
)

// noLimit is the rate limiter used when Redis is not configured.
type noLimit struct{}

func (noLimit) Allow(ctx context.Context, key string) (bool, int, error) {
	return true, 0, nil
}

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	searchService.ReindexAllFromPG(ctx)

	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Printf("WARNING: redis unreachable, falling back to PostgreSQL: %v", err)
			_ = redisClient.Close()
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	var refreshStore interface {
		SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
		LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
		RevokeRefreshSession(ctx context.Context, tokenHash string) error
	}
	if redisClient != nil {
		log.Printf("Using Redis for refresh token storage")
		refreshStore = session.NewRedisStoreWithClient(redisClient)
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
		refreshStore = dataStore
	}

	var aiLimiter ai.Limiter = noLimit{}
	if redisClient != nil {
		aiLimiter = ratelimit.NewLimiter(redisClient, "ai", cfg.AIRequestLimit, cfg.AIRequestWindow)
	}
	aiService := ai.NewService(ai.NewHTTPProvider(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel), dataStore, aiLimiter)

	var blobService *blob.Service
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		blobService, err = blob.NewService(ctx, blob.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatalf("object storage init failed: %v", err)
		}
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		log.Printf("WARNING: SMTP not configured, verification and invite tokens are returned in API responses")
	}

	passwords := authpw.NewService(dataStore)
	exporter := export.NewService()

	service := app.NewService(cfg, dataStore, refreshStore, passwords, mailer, searchService, exporter, blobService, aiService)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, cfg.CronSecret)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Backlog API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
