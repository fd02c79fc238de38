package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the lock shared by every pipeline process
const DefaultKey = "pbem:pipeline-lock"

// ErrNotHeld is returned when releasing a lock this holder does not own
var ErrNotHeld = errors.New("lock not held")

// releaseScript deletes the key only if the caller still owns it
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLock is a cross-process single-flight lock. The TTL bounds how long
// a crashed holder can keep other processes out.
type RedisLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisLock(client *redis.Client, key string, ttl time.Duration, logger *slog.Logger) *RedisLock {
	if key == "" {
		key = DefaultKey
	}
	return &RedisLock{
		client: client,
		key:    key,
		ttl:    ttl,
		logger: logger,
	}
}

// Acquire attempts to take the lock without waiting. The returned token
// must be passed to Release.
func (l *RedisLock) Acquire(ctx context.Context) (string, bool, error) {
	token := uuid.New().String()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if !ok {
		l.logger.Debug("Lock held elsewhere", "key", l.key)
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the lock if token still owns it
func (l *RedisLock) Release(ctx context.Context, token string) error {
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
