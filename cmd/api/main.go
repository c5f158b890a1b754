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

	"quill/api/internal/ai"
	"quill/api/internal/app"
	"quill/api/internal/archive"
	"quill/api/internal/collab"
	"quill/api/internal/config"
	"quill/api/internal/draft"
	"quill/api/internal/search"
	"quill/api/internal/store"
)

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
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)

	var archiveService *archive.Service
	if strings.TrimSpace(cfg.ArchiveDir) != "" {
		if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
			log.Fatalf("failed to create archive dir: %v", err)
		}
		archiveService = archive.New(cfg.ArchiveDir)
	}

	var draftCache *draft.Cache
	if strings.TrimSpace(cfg.DraftsDir) != "" {
		if err := os.MkdirAll(cfg.DraftsDir, 0o755); err != nil {
			log.Fatalf("failed to create drafts dir: %v", err)
		}
		dc, err := draft.Open(cfg.DraftsDir, cfg.DraftDebounce)
		if err != nil {
			log.Fatalf("draft cache failed: %v", err)
		}
		draftCache = dc
		defer draftCache.Close()
	}

	var rdb *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("WARNING: redis unreachable, collaboration stays single-instance: %v", err)
			rdb = nil
		} else {
			defer rdb.Close()
		}
	}
	hub := collab.NewHub(rdb)
	defer hub.Close()

	var generator ai.Generator
	if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
		client, err := ai.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel)
		if err != nil {
			log.Fatalf("openai client failed: %v", err)
		}
		generator = client
	} else {
		log.Printf("OPENAI_API_KEY not set, AI editing disabled")
	}

	service := app.New(cfg, dataStore, searchService, archiveService, hub, generator, draftCache)
	defer service.CloseAllSessions()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Quill API listening on %s", cfg.Addr)
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
