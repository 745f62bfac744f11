package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/fraud"
	"rollcall/internal/logger"
	"rollcall/internal/queue"
	"rollcall/internal/settings"
	"rollcall/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	slogger := logger.New(cfg.LogLevel, cfg.LogFormat)
	defaults := settings.DefaultsFromConfig(cfg)

	var (
		db       *store.DB
		st       attendance.Store
		sigStore fraud.Store
		provider settings.Provider
	)
	memBacked := cfg.StoreBackend == "memory"
	if memBacked {
		mem := attendance.NewMemStore()
		st, sigStore = mem, mem
		provider = settings.Fixed{S: defaults}
		slogger.Warn("using in-memory store, data is not persisted")
	} else {
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if db == nil {
			return err
		}
		if err != nil {
			slogger.Warn("db not reachable", "error", err)
		}
		pg := attendance.NewPGStore(db.Client)
		st, sigStore = pg, pg
		provider = settings.NewDBProvider(db.Client, defaults, cfg.SettingsTTL, slogger)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:signals")
	}

	recorder := fraud.NewRecorder(sigStore, q, slogger)
	registry := attendance.NewRegistry(st, provider, cfg.FrontendBaseURL, slogger)
	gate := attendance.NewGatekeeper(st, provider, recorder, slogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// With the in-memory store no other process can see the sessions, so
	// the sweep scheduler runs in-process instead of in cmd/sweeper.
	if memBacked {
		sched := attendance.NewScheduler(attendance.NewSweeper(st, slogger), cfg.SweepInterval, slogger)
		go sched.Run(ctx)
	}

	r := newRouter(cfg, registry, gate, db, redisClient, slogger)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slogger.Info("server starting", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slogger.Info("shutting down")
	cancel()

	// Give outstanding requests 10 seconds to complete.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slogger.Error("forced shutdown", "error", err)
	}
	slogger.Info("server exited")
	return nil
}
