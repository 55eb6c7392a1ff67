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

	"planhub/internal/app"
	"planhub/internal/authpw"
	"planhub/internal/blob"
	"planhub/internal/cache"
	"planhub/internal/config"
	"planhub/internal/quota"
	"planhub/internal/repo"
	"planhub/internal/search"
	"planhub/internal/stats"
	"planhub/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("schema setup failed: %v", err)
	}
	docs := store.NewDocumentStore(db)

	cacheClient, err := cache.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer cacheClient.Close()

	ttl := repo.TTLs{Entity: cfg.EntityTTL, List: cfg.ListTTL, Stats: cfg.StatsTTL}
	cascade := repo.NewCascade(cacheClient)
	planners := repo.NewPlannerRepo(docs, cacheClient, cascade, ttl)
	sections := repo.NewSectionRepo(docs, cacheClient, cascade, ttl)
	activities := repo.NewActivityRepo(docs, cacheClient, cascade, ttl)
	timeEntries := repo.NewTimeEntryRepo(docs)
	coordinator := repo.NewCoordinator(docs, cascade)

	enforcer := quota.New(docs, quota.Limits{
		PlannersPerUser:      cfg.MaxPlannersPerUser,
		SectionsPerPlanner:   cfg.MaxSectionsPerPlanner,
		ActivitiesPerSection: cfg.MaxActivitiesPerSection,
	})
	aggregator := stats.NewAggregator(docs)
	users := authpw.NewService(docs, nil)

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, search.NewStoreScan(docs))

	var blobStore *blob.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		blobStore, err = blob.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("attachment storage setup failed: %v", err)
		}
		log.Printf("Attachment storage enabled (bucket %s)", cfg.MinioBucket)
	} else {
		log.Printf("Attachment storage disabled; set MINIO_ENDPOINT to enable")
	}

	service := app.NewService(app.Deps{
		Docs:        docs,
		Cache:       cacheClient,
		Planners:    planners,
		Sections:    sections,
		Activities:  activities,
		TimeEntries: timeEntries,
		Coordinator: coordinator,
		Cascade:     cascade,
		Quota:       enforcer,
		Stats:       aggregator,
		Users:       users,
		Search:      searchService,
		Blob:        blobStore,
		TTL:         ttl,
	})

	httpServer := app.NewHTTPServer(service, []byte(cfg.JWTSecret), cfg.AccessTTL, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("PlanHub API listening on %s", cfg.Addr)
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
