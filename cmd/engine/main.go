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

	"cowrite/engine/internal/app"
	"cowrite/engine/internal/audit"
	"cowrite/engine/internal/broadcast"
	"cowrite/engine/internal/config"
)

func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var broadcaster broadcast.Broadcaster
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis pub/sub for event fan-out")
		redisBroadcaster, err := broadcast.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		broadcaster = redisBroadcaster
	} else {
		log.Printf("No REDIS_URL set; events stay in-process")
		broadcaster = broadcast.NewLocal()
	}
	defer broadcaster.Close()

	var service *app.Service
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		db, err := audit.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("audit database connection failed: %v", err)
		}
		defer db.Close()

		if err := audit.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatalf("audit migrations failed: %v", err)
		}

		log.Printf("Operation audit log enabled")
		service = app.NewWithAuditLog(cfg, broadcaster, audit.NewLog(db))
	} else {
		log.Printf("No AUDIT_DATABASE_URL set; operation audit log disabled")
		service = app.New(cfg, broadcaster)
	}

	go service.Run(ctx)

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
		log.Printf("Cowrite engine listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
