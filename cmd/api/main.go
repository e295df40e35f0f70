package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tasklane/api/internal/app"
	"tasklane/api/internal/config"
	"tasklane/api/internal/search"
	"tasklane/api/internal/session"
	"tasklane/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	var db *sql.DB
	var dataStore *store.Store
	var err error
	if cfg.UseSQLite() {
		log.Printf("Using embedded sqlite backend at %s", cfg.SQLitePath)
		db, err = store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			log.Fatalf("sqlite open failed: %v", err)
		}
		if err := store.ApplySQLiteSchema(ctx, db); err != nil {
			log.Fatalf("sqlite schema failed: %v", err)
		}
		dataStore = store.NewSQLite(db)
	} else {
		db, err = store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		dataStore = store.NewPostgres(db)
	}
	defer db.Close()

	fallback := search.NewDBFallback(db, !cfg.UseSQLite())
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, fallback)
	searchService.ReindexAll(ctx)

	var sessions *session.RedisStore
	if strings.TrimSpace(cfg.RedisURL) != "" {
		sessions, err = session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer sessions.Close()
	} else {
		log.Printf("REDIS_URL empty, refresh tokens disabled")
	}

	service := app.New(cfg, dataStore, sessions, searchService)
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
		log.Printf("Tasklane API listening on %s", cfg.Addr)
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
