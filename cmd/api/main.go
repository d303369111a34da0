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

	"datasetstudio/api/internal/app"
	"datasetstudio/api/internal/archive"
	"datasetstudio/api/internal/authpw"
	"datasetstudio/api/internal/config"
	"datasetstudio/api/internal/dataset"
	"datasetstudio/api/internal/email"
	"datasetstudio/api/internal/gitsync"
	"datasetstudio/api/internal/search"
	"datasetstudio/api/internal/session"
	"datasetstudio/api/internal/store"
	"datasetstudio/api/internal/workflow"
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

	if err := os.MkdirAll(cfg.DatasetDir, 0o755); err != nil {
		log.Fatalf("failed to create dataset dir: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	data := dataset.New(cfg.DatasetDir)
	reviews := workflow.New(dataStore, data)

	gitService := gitsync.New(cfg.DatasetDir, cfg.GitCommitterName, cfg.GitCommitterEmail, cfg.GitTimeout)
	if err := gitService.EnsureInitialized(); err != nil {
		log.Fatalf("git init failed: %v", err)
	}

	diskSearch := search.NewDisk(data)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, diskSearch)
	if meiliClient != nil {
		defer meiliClient.Close()
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() {
		log.Printf("SMTP configured, outgoing email enabled")
	}

	var snapshots *archive.Service
	if strings.TrimSpace(cfg.SnapshotEndpoint) != "" {
		snapshots, err = archive.NewService(ctx, archive.Config{
			Endpoint:  cfg.SnapshotEndpoint,
			AccessKey: cfg.SnapshotAccessKey,
			SecretKey: cfg.SnapshotSecretKey,
			Bucket:    cfg.SnapshotBucket,
			UseSSL:    cfg.SnapshotUseSSL,
		})
		if err != nil {
			log.Fatalf("snapshot storage connection failed: %v", err)
		}
		log.Printf("Canonical snapshots enabled (bucket %s)", cfg.SnapshotBucket)
	}

	passwords := authpw.NewService(dataStore)

	var sessions app.SessionStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for refresh token storage")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		sessions = redisStore
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
		sessions = dataStore
	}

	var snapshotStore app.SnapshotStore
	if snapshots != nil {
		snapshotStore = snapshots
	}
	service := app.New(cfg, dataStore, sessions, data, reviews, gitService, passwords, mailer, searchService, snapshotStore)
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

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
		log.Printf("Dataset Studio API listening on %s", cfg.Addr)
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
