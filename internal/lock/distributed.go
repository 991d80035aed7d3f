// Package lock provides a Redis-backed distributed lock used by the
// orchestrator to guarantee that at most one process is actively running
// a given worker configuration at a time, even across orchestrator
// restarts or multiple orchestrator instances sharing a Redis endpoint.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistributedLock is a Redis-backed mutual exclusion lock identified by key.
type DistributedLock struct {
	redis    *redis.Client
	key      string
	value    string
	ttl      time.Duration
	logger   *slog.Logger
	acquired bool
}

// LockConfig configures a DistributedLock.
type LockConfig struct {
	// TTL after which the lock is automatically released if never extended.
	TTL time.Duration `env:"LOCK_TTL" default:"30s"`

	MaxRetries    int           `env:"LOCK_MAX_RETRIES" default:"3"`
	RetryInterval time.Duration `env:"LOCK_RETRY_INTERVAL" default:"100ms"`

	AcquireTimeout time.Duration `env:"LOCK_ACQUIRE_TIMEOUT" default:"5s"`
	ReleaseTimeout time.Duration `env:"LOCK_RELEASE_TIMEOUT" default:"2s"`

	// ValuePrefix is prepended to the random lock value, useful for
	// identifying which orchestrator instance holds a lock from redis-cli.
	ValuePrefix string `env:"LOCK_VALUE_PREFIX" default:"backup-orchestrator"`
}

func defaultLockConfig() *LockConfig {
	return &LockConfig{
		TTL:            30 * time.Second,
		MaxRetries:     3,
		RetryInterval:  100 * time.Millisecond,
		AcquireTimeout: 5 * time.Second,
		ReleaseTimeout: 2 * time.Second,
		ValuePrefix:    "backup-orchestrator",
	}
}

// NewDistributedLock creates a lock bound to key. The lock is not acquired
// until Acquire or AcquireWithRetry is called.
func NewDistributedLock(redis *redis.Client, key string, config *LockConfig, logger *slog.Logger) *DistributedLock {
	if config == nil {
		config = defaultLockConfig()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &DistributedLock{
		redis:  redis,
		key:    key,
		value:  generateLockValue(config.ValuePrefix),
		ttl:    config.TTL,
		logger: logger,
	}
}

func generateLockValue(prefix string) string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%s_%d_%d", prefix, time.Now().UnixNano(), time.Now().Unix())
	}
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(bytes))
}

// Acquire attempts to acquire the lock with AcquireWithRetry's default
// budget of 3 retries (up to 4 attempts).
func (l *DistributedLock) Acquire(ctx context.Context) (bool, error) {
	return l.AcquireWithRetry(ctx, 0)
}

// AcquireWithRetry attempts to acquire the lock, retrying up to maxRetries
// times (0 falls back to a default of 3) with a jittered backoff between
// attempts.
func (l *DistributedLock) AcquireWithRetry(ctx context.Context, maxRetries int) (bool, error) {
	if maxRetries <= 0 {
		maxRetries = 3
	}

	l.logger.Debug("attempting to acquire lock", "key", l.key, "value", l.value, "ttl", l.ttl)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		acquireCtx, cancel := context.WithTimeout(ctx, l.ttl)

		result, err := l.redis.SetNX(acquireCtx, l.key, l.value, l.ttl).Result()
		cancel()
		if err != nil {
			l.logger.Error("failed to acquire lock", "key", l.key, "attempt", attempt+1, "error", err)
			if attempt == maxRetries {
				return false, fmt.Errorf("failed to acquire lock after %d attempts: %w", maxRetries+1, err)
			}
			time.Sleep(l.retryInterval(attempt))
			continue
		}

		if result {
			l.acquired = true
			l.logger.Info("lock acquired", "key", l.key, "value", l.value, "ttl", l.ttl)
			return true, nil
		}

		l.logger.Debug("lock already held by another process", "key", l.key, "attempt", attempt+1)
		if attempt == maxRetries {
			return false, nil
		}

		time.Sleep(l.retryInterval(attempt))
	}

	return false, nil
}

// Release releases the lock, verifying via the lock's unique value that
// this instance still holds it, using a Lua script for atomicity.
func (l *DistributedLock) Release(ctx context.Context) error {
	if !l.acquired {
		l.logger.Warn("attempting to release lock that was not acquired", "key", l.key)
		return nil
	}

	l.logger.Debug("releasing lock", "key", l.key, "value", l.value)

	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`

	releaseCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result, err := l.redis.Eval(releaseCtx, script, []string{l.key}, l.value).Result()
	if err != nil {
		l.logger.Error("failed to release lock", "key", l.key, "error", err)
		return fmt.Errorf("failed to release lock: %w", err)
	}

	if result.(int64) == 1 {
		l.acquired = false
		l.logger.Info("lock released", "key", l.key)
		return nil
	}

	l.logger.Warn("lock was not released (already expired or held by another process)", "key", l.key)
	return nil
}

// Extend pushes out the lock's expiry to newTTL, failing if the caller no
// longer holds it. Nothing in the orchestrator or the backup manager calls
// it; the lock keeps the TTL it was acquired with unless a caller does.
func (l *DistributedLock) Extend(ctx context.Context, newTTL time.Duration) error {
	if !l.acquired {
		return fmt.Errorf("cannot extend lock that was not acquired")
	}

	l.logger.Debug("extending lock", "key", l.key, "new_ttl", newTTL)

	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("expire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`

	extendCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result, err := l.redis.Eval(extendCtx, script, []string{l.key}, l.value, int(newTTL.Seconds())).Result()
	if err != nil {
		l.logger.Error("failed to extend lock", "key", l.key, "error", err)
		return fmt.Errorf("failed to extend lock: %w", err)
	}

	if result.(int64) == 1 {
		l.ttl = newTTL
		l.logger.Info("lock extended", "key", l.key, "new_ttl", newTTL)
		return nil
	}

	return fmt.Errorf("failed to extend lock (already expired or held by another process)")
}

// IsAcquired reports whether this instance currently holds the lock.
func (l *DistributedLock) IsAcquired() bool {
	return l.acquired
}

// GetKey returns the lock's key.
func (l *DistributedLock) GetKey() string {
	return l.key
}

// GetValue returns the lock's unique holder value.
func (l *DistributedLock) GetValue() string {
	return l.value
}

// GetTTL returns the lock's current TTL.
func (l *DistributedLock) GetTTL() time.Duration {
	return l.ttl
}

func (l *DistributedLock) retryInterval(attempt int) time.Duration {
	baseInterval := 100 * time.Millisecond
	interval := time.Duration(attempt+1) * baseInterval

	jitter := time.Duration(float64(interval) * 0.25 * (2*float64(time.Now().UnixNano()%1000)/1000 - 1))
	return interval + jitter
}

// LockManager tracks the set of locks acquired by the current process, so
// the orchestrator can release all of them on shutdown without threading
// individual DistributedLock references through its own bookkeeping.
type LockManager struct {
	redis  *redis.Client
	config *LockConfig
	logger *slog.Logger

	mu    sync.Mutex
	locks map[string]*DistributedLock
}

// NewLockManager creates a LockManager sharing config and logger across
// every lock it acquires.
func NewLockManager(redis *redis.Client, config *LockConfig, logger *slog.Logger) *LockManager {
	if config == nil {
		config = defaultLockConfig()
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &LockManager{
		redis:  redis,
		config: config,
		logger: logger,
		locks:  make(map[string]*DistributedLock),
	}
}

// AcquireLock creates and acquires a new lock for key, registering it for
// later release via ReleaseLock or ReleaseAll.
func (lm *LockManager) AcquireLock(ctx context.Context, key string) (*DistributedLock, error) {
	lock := NewDistributedLock(lm.redis, key, lm.config, lm.logger)

	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	if !acquired {
		return nil, fmt.Errorf("failed to acquire lock for key: %s", key)
	}

	lm.mu.Lock()
	lm.locks[key] = lock
	lm.mu.Unlock()
	return lock, nil
}

// ReleaseLock releases and unregisters the lock for key, if managed.
func (lm *LockManager) ReleaseLock(ctx context.Context, key string) error {
	lm.mu.Lock()
	lock, exists := lm.locks[key]
	lm.mu.Unlock()
	if !exists {
		lm.logger.Warn("attempting to release lock that was not managed", "key", key)
		return nil
	}

	err := lock.Release(ctx)
	if err != nil {
		return err
	}

	lm.mu.Lock()
	delete(lm.locks, key)
	lm.mu.Unlock()
	return nil
}

// ReleaseAll releases every lock currently managed by this LockManager.
func (lm *LockManager) ReleaseAll(ctx context.Context) error {
	lm.mu.Lock()
	locks := lm.locks
	lm.locks = make(map[string]*DistributedLock)
	lm.mu.Unlock()

	var lastErr error
	for key, lock := range locks {
		if err := lock.Release(ctx); err != nil {
			lm.logger.Error("failed to release lock", "key", key, "error", err)
			lastErr = err
		}
	}

	return lastErr
}

// GetLock returns the managed lock for key, if any.
func (lm *LockManager) GetLock(key string) (*DistributedLock, bool) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	lock, exists := lm.locks[key]
	return lock, exists
}

// ListLocks returns the keys of every currently managed lock.
func (lm *LockManager) ListLocks() []string {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	keys := make([]string, 0, len(lm.locks))
	for key := range lm.locks {
		keys = append(keys, key)
	}
	return keys
}

// Close releases every managed lock. Safe to call during shutdown.
func (lm *LockManager) Close(ctx context.Context) error {
	return lm.ReleaseAll(ctx)
}
