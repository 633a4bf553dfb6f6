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

	"github.com/visualize-admin/visualization-tool-sub010/internal/app"
	"github.com/visualize-admin/visualization-tool-sub010/internal/archive"
	"github.com/visualize-admin/visualization-tool-sub010/internal/cache"
	"github.com/visualize-admin/visualization-tool-sub010/internal/config"
	"github.com/visualize-admin/visualization-tool-sub010/internal/history"
	"github.com/visualize-admin/visualization-tool-sub010/internal/resolver"
	"github.com/visualize-admin/visualization-tool-sub010/internal/search"
	"github.com/visualize-admin/visualization-tool-sub010/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config failed: %v", err)
	}
	ctx := context.Background()

	db, dialect, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, dialect, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	if err := os.MkdirAll(cfg.ReposDir, 0o755); err != nil {
		log.Fatalf("failed to create repos dir: %v", err)
	}

	configs := store.NewSQLStore(db, dialect)
	deps := app.Dependencies{History: history.New(cfg.ReposDir)}

	fallback := search.NewSQL(configs)
	var searchService *search.Service
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		searchService = search.NewService(meiliClient, fallback)
		go searchService.ReindexAll(ctx)
	} else {
		searchService = search.NewService(nil, fallback)
	}
	deps.Search = searchService

	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for migrated document cache")
		redisCache, err := cache.NewRedis(cfg.RedisURL, cfg.CacheTTL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisCache.Close()
		deps.Cache = redisCache
	}

	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		archiveStore, err := archive.New(ctx, archive.Options{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Secure:    cfg.MinioSecure,
		})
		if err != nil {
			log.Fatalf("archive connection failed: %v", err)
		}
		deps.Archive = archiveStore
	} else {
		log.Printf("WARNING: no archive configured, originals replaced by upgrades are only kept in git history")
	}

	if strings.TrimSpace(cfg.ResolverURL) != "" {
		deps.Resolver = resolver.NewHTTP(cfg.ResolverURL, cfg.ResolverCacheTTL, cfg.LookupTimeout)
	}

	service := app.New(cfg, configs, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Chart config API listening on %s", cfg.Addr)
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
