package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/easybet/internal/domain"
)

// unlockLua deletes the lock only while it still carries the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua refreshes the TTL only while the caller still owns the lock.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager with SET NX and token-checked
// release. The server mode uses it to guarantee a single ledger writer.
type LockManager struct {
	rdb      *redis.Client
	unlockSc *redis.Script
	extendSc *redis.Script
	logger   *slog.Logger
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client, logger *slog.Logger) *LockManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &LockManager{
		rdb:      c.Underlying(),
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
		logger:   logger.With(slog.String("component", "redis_lock")),
	}
}

func lockKey(key string) string {
	return "lock:" + key
}

// Acquire takes the lock for ttl. It returns domain.ErrLockHeld when another
// holder owns it. The returned unlock is idempotent.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token, err := lm.take(ctx, key, ttl)
	if err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { lm.release(key, token) }) }, nil
}

// Hold takes the lock and refreshes it every ttl/3 until ctx ends or release
// is called. lost is closed if a refresh finds the lock gone or fails past
// the TTL.
func (lm *LockManager) Hold(ctx context.Context, key string, ttl time.Duration) (func(), <-chan struct{}, error) {
	token, err := lm.take(ctx, key, ttl)
	if err != nil {
		return nil, nil, err
	}

	hctx, cancel := context.WithCancel(ctx)
	lost := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		lastOK := time.Now()
		for {
			select {
			case <-hctx.Done():
				return
			case <-ticker.C:
			}
			n, err := lm.extendSc.Run(hctx, lm.rdb, []string{lockKey(key)}, token, ttl.Milliseconds()).Int64()
			switch {
			case err != nil && hctx.Err() != nil:
				return
			case err != nil:
				lm.logger.WarnContext(hctx, "redis: lock refresh failed",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				if time.Since(lastOK) < ttl {
					continue
				}
			case n == 1:
				lastOK = time.Now()
				continue
			}
			lm.logger.ErrorContext(hctx, "redis: lock lost", slog.String("key", key))
			close(lost)
			return
		}
	}()

	var once sync.Once
	release := func() {
		once.Do(func() {
			cancel()
			<-done
			lm.release(key, token)
		})
	}
	return release, lost, nil
}

func (lm *LockManager) take(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	ok, err := lm.rdb.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return "", fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return "", domain.ErrLockHeld
	}
	return token, nil
}

// release runs on a fresh context so it succeeds after the caller's context
// is cancelled.
func (lm *LockManager) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := lm.unlockSc.Run(ctx, lm.rdb, []string{lockKey(key)}, token).Err(); err != nil {
		lm.logger.Warn("redis: unlock failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

var _ domain.LockManager = (*LockManager)(nil)
