package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrLockHeld indicates another dispatch run currently holds the lock.
var ErrLockHeld = errors.New("dispatch lock already held")

// releaseScript deletes the lock only when the caller still owns it, so a
// run that outlives its TTL cannot release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// JobLock serializes dispatch runs across processes using SET NX.
type JobLock struct {
	client *Client
	logger *zap.Logger
	key    string
	ttl    time.Duration
}

// NewJobLock creates a lock for the named job.
func NewJobLock(client *Client, logger *zap.Logger, name string, ttl time.Duration) *JobLock {
	return &JobLock{
		client: client,
		logger: logger,
		key:    fmt.Sprintf("joblock:%s", name),
		ttl:    ttl,
	}
}

// Acquire takes the lock and returns a release token. Returns ErrLockHeld
// when another run holds it.
func (l *JobLock) Acquire(ctx context.Context) (string, error) {
	token := uuid.NewString()

	set, err := l.client.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redis setnx failed: %w", err)
	}
	if !set {
		return "", ErrLockHeld
	}

	return token, nil
}

// Release frees the lock if token still owns it. Releasing an expired or
// stolen lock is a no-op.
func (l *JobLock) Release(ctx context.Context, token string) error {
	n, err := releaseScript.Run(ctx, l.client.rdb, []string{l.key}, token).Int()
	if err != nil {
		return fmt.Errorf("redis release failed: %w", err)
	}
	if n == 0 {
		l.logger.Warn("dispatch lock expired before release", zap.String("key", l.key))
	}
	return nil
}
