package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/fraud"
	"rollcall/internal/logger"
	"rollcall/internal/queue"
	"rollcall/internal/store"
)

// Sweeper closes sessions past their hard deadline on a fixed interval and
// tails the fraud-signal queue so anomalies show up in the operator log as
// they happen. It is advisory: the API re-checks expiry on every request.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	slogger := logger.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slogger.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:signals")
	}

	sweeper := attendance.NewSweeper(attendance.NewPGStore(db.Client), slogger)
	sched := attendance.NewScheduler(sweeper, cfg.SweepInterval, slogger)

	// One pass up front so a backlog of expired sessions converges without
	// waiting a full interval.
	if n, err := sweeper.Sweep(ctx); err != nil {
		slogger.Error("initial sweep failed", "error", err)
	} else if n > 0 {
		slogger.Info("initial sweep converged backlog", "count", n)
	}

	go sched.Run(ctx)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	slogger.Info("sweeper started, tailing fraud signals")
	for msg := range messages {
		if msg.Type != fraud.MessageType {
			continue
		}
		var sig attendance.Signal
		if err := json.Unmarshal(msg.Body, &sig); err != nil {
			slogger.Warn("malformed fraud signal message", "error", err)
			continue
		}
		slogger.Warn("fraud signal",
			"type", sig.Type,
			"session_id", sig.SessionID,
			"student_id", sig.StudentID,
			"ip", sig.ClientIP,
			"details", sig.Details)
	}

	slogger.Info("sweeper stopped")
}
