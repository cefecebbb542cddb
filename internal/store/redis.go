package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps redis client.
type Redis struct {
	Client *redis.Client
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

const liveCounterTTL = 6 * time.Hour

func liveKey(sessionID string) string {
	return "presence:live:" + sessionID
}

// IncrLiveCount bumps the live check-in counter for a session. Counters are
// advisory (the ledger is authoritative) and expire on their own.
func (r *Redis) IncrLiveCount(ctx context.Context, sessionID string) error {
	pipe := r.Client.TxPipeline()
	pipe.Incr(ctx, liveKey(sessionID))
	pipe.Expire(ctx, liveKey(sessionID), liveCounterTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// LiveCount reads the live check-in counter for a session; missing key is zero.
func (r *Redis) LiveCount(ctx context.Context, sessionID string) (int64, error) {
	n, err := r.Client.Get(ctx, liveKey(sessionID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}
