package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"presence/internal/config"
	"presence/internal/logging"
	"presence/internal/queue"
	"presence/internal/store"
)

const consumers = 4

// Worker consumes check-in events and maintains the per-session live
// counters the teacher dashboard polls. The ledger in Postgres stays
// authoritative; this is display plumbing only.
func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Env)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "presence:checkins")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		logger.Fatal("queue consume init failed", zap.Error(err))
	}

	logger.Info("worker started", zap.Int("consumers", consumers))

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < consumers; i++ {
		g.Go(func() error {
			for msg := range messages {
				handle(ctx, logger, redisClient, msg)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error("worker group failed", zap.Error(err))
	}
	logger.Info("worker stopped")
}

func handle(ctx context.Context, logger *zap.Logger, redisClient *store.Redis, msg queue.Message) {
	if msg.Type != queue.TypeCheckIn {
		return
	}
	var evt queue.CheckInEvent
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		logger.Warn("undecodable check-in event", zap.Error(err))
		return
	}
	if err := redisClient.IncrLiveCount(ctx, evt.SessionID); err != nil {
		logger.Error("live counter update failed",
			zap.String("session_id", evt.SessionID),
			zap.Error(err))
		return
	}
	logger.Debug("check-in counted",
		zap.String("session_id", evt.SessionID),
		zap.String("student_id", evt.StudentID))
}
