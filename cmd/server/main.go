package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"picshare/internal/config"
	"picshare/internal/db"
	"picshare/internal/models"
	"picshare/internal/server"
	"picshare/internal/session"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	setupLogger(cfg.Log.Level)

	database, err := db.Open(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	defer func() {
		if err := db.Close(database); err != nil {
			slog.Error("close database", "error", err)
		}
	}()

	if cfg.Admin.AccountName != "" {
		if _, err := models.EnsureAdmin(context.Background(), database, cfg.Admin.AccountName, cfg.Admin.Password); err != nil {
			log.Fatalf("create admin: %v", err)
		}
		slog.Info("admin account ready", "account_name", cfg.Admin.AccountName)
	}

	store, closeStore, err := newSessionStore(cfg.Session, database)
	if err != nil {
		log.Fatalf("init session store: %v", err)
	}
	defer closeStore()
	sessions := session.NewManager(store, cfg.Session.CookieName, time.Duration(cfg.Session.TTLHours)*time.Hour)

	srv, err := server.New(database, sessions, server.Options{
		Mode:              cfg.Server.Mode,
		PostsPerPage:      cfg.App.PostsPerPage,
		InitializeEnabled: cfg.App.InitializeEnabled,
	})
	if err != nil {
		log.Fatalf("init server: %v", err)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Server.Address, cfg.Server.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	slog.Info("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}
}

func newSessionStore(cfg config.SessionConfig, database *gorm.DB) (session.Store, func(), error) {
	switch cfg.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return session.NewRedisStore(client), func() { _ = client.Close() }, nil
	case "memory":
		return session.NewMemoryStore(), func() {}, nil
	default:
		store := session.NewGormStore(database)
		if n, err := store.PurgeExpired(context.Background()); err != nil {
			slog.Warn("purge expired sessions", "error", err)
		} else if n > 0 {
			slog.Info("purged expired sessions", "count", n)
		}
		return store, func() {}, nil
	}
}

func setupLogger(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
