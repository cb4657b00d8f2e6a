package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/nudge/internal/config"
	"github.com/dukerupert/nudge/internal/database"
	"github.com/dukerupert/nudge/internal/logging"
	"github.com/dukerupert/nudge/internal/obs"
	"github.com/dukerupert/nudge/internal/server"

	"github.com/redis/go-redis/v9"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otel, err := obs.SetupOTel(ctx, obs.OTELConfig{
		Enable:      cfg.OTEL.Enable,
		Endpoint:    cfg.OTEL.Endpoint,
		ServiceName: cfg.OTEL.ServiceName,
		SampleRatio: cfg.OTEL.SampleRatio,
	})
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}

	db, err := database.Open(cfg.DB.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.DB.Path, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if v, err := database.SchemaVersion(db); err == nil {
		logger.Info("database ready", "path", cfg.DB.Path, "schema_version", v)
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, dispatch guard will fail open", "addr", cfg.Redis.Addr, "error", err)
		}
	}

	srv, err := server.New(db, cfg, rdb, logger)
	if err != nil {
		logger.Error("failed to build server", "error", err)
		os.Exit(1)
	}

	if n, err := srv.Registry().CurrentKeyCount(); err == nil {
		logger.Info("subscriptions on current VAPID key", "count", n)
	}

	if sched := srv.PushScheduler(); sched != nil {
		sched.Start(ctx)
		defer sched.Stop()
		logger.Info("scheduler started", "tick", cfg.Schedule.Tick, "utc_offset", cfg.Schedule.UTCOffset)
	}

	go srv.RateLimiter().RunCleanup(ctx, 5*time.Minute)

	if cfg.Push.CampaignLedger && cfg.Push.LedgerRetain > 0 {
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if err := srv.PushStore().CleanupSent(time.Now().Add(-cfg.Push.LedgerRetain)); err != nil {
						logger.Error("ledger cleanup", "error", err)
					}
				}
			}
		}()
	}

	// No WriteTimeout: diagnostics websockets stay open.
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("nudge listening", "addr", cfg.HTTP.Addr, "push_mode", cfg.Push.Mode)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	if err := otel.Shutdown(shutdownCtx); err != nil {
		logger.Error("tracer shutdown", "error", err)
	}
}
