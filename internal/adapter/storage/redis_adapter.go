package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	idempotencyKeyPrefix = "idem:"
	idempotencyKeyTTL    = 24 * time.Hour
	lockRetryInterval    = 50 * time.Millisecond
	unlockTimeout        = 2 * time.Second
)

var ErrLockNotHeld = errors.New("lock not held")

// releaseLockScript deletes the lock only if it still carries our token.
var releaseLockScript = redis.NewScript(`
local key = KEYS[1]
local token = ARGV[1]

if redis.call('GET', key) == token then
	return redis.call('DEL', key)
end

return 0
`)

type RedisAdapter struct {
	client  *redis.Client
	lockKey string
	lockTTL time.Duration
	logger  *zap.Logger
}

func NewRedisAdapter(client *redis.Client, lockKey string, lockTTL time.Duration, logger *zap.Logger) *RedisAdapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisAdapter{
		client:  client,
		lockKey: lockKey,
		lockTTL: lockTTL,
		logger:  logger,
	}
}

// Lock spins on SET NX PX until it wins or ctx is done. The TTL frees the lock if the holder dies.
func (r *RedisAdapter) Lock(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ticker := time.NewTicker(lockRetryInterval)
	defer ticker.Stop()

	for {
		ok, err := r.client.SetNX(ctx, r.lockKey, token, r.lockTTL).Result()
		if err != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("acquire lock: %w", err)
		}
		if ok {
			return func() { r.unlock(token) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *RedisAdapter) unlock(token string) {
	ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
	defer cancel()

	released, err := releaseLockScript.Run(ctx, r.client, []string{r.lockKey}, token).Int()
	if err != nil {
		r.logger.Error("release lock failed", zap.String("key", r.lockKey), zap.Error(err))
		return
	}
	if released == 0 {
		r.logger.Warn("lock expired before release", zap.String("key", r.lockKey), zap.Error(ErrLockNotHeld))
	}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}
