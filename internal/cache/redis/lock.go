package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/awachter/soltrader/internal/domain"
)

// unlockLua deletes a lock key only if its value matches the caller's unique
// token, so one holder cannot release another holder's lock.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// refreshLua extends a lock's TTL only while the caller still owns it.
const refreshLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager using Redis SETNX with a TTL and
// a Lua-based conditional unlock. It is used to ensure a single trader
// instance mutates a wallet's positions at a time.
type LockManager struct {
	c         *Client
	unlockSc  *redis.Script
	refreshSc *redis.Script

	mu     sync.Mutex
	tokens map[string]string
}

var _ domain.LockManager = (*LockManager)(nil)

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:         c,
		unlockSc:  redis.NewScript(unlockLua),
		refreshSc: redis.NewScript(refreshLua),
		tokens:    make(map[string]string),
	}
}

func (lm *LockManager) lockKey(key string) string {
	return lm.c.key("lock", key)
}

// Acquire attempts to obtain a distributed lock with the given TTL. It
// returns false when another holder already owns the lock.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := uuid.New().String()

	ok, err := lm.c.rdb.SetNX(ctx, lm.lockKey(key), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}

	lm.mu.Lock()
	lm.tokens[key] = token
	lm.mu.Unlock()
	return true, nil
}

// Refresh extends the TTL of a lock this manager holds. It returns false when
// the lock expired or was taken over by another holder.
func (lm *LockManager) Refresh(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	lm.mu.Lock()
	token, ok := lm.tokens[key]
	lm.mu.Unlock()
	if !ok {
		return false, nil
	}

	res, err := lm.refreshSc.Run(ctx, lm.c.rdb, []string{lm.lockKey(key)}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis: refresh lock %s: %w", key, err)
	}
	return res == 1, nil
}

// Release drops a lock previously acquired by this manager. Releasing a
// lock this manager does not hold is a no-op.
func (lm *LockManager) Release(ctx context.Context, key string) error {
	lm.mu.Lock()
	token, ok := lm.tokens[key]
	delete(lm.tokens, key)
	lm.mu.Unlock()
	if !ok {
		return nil
	}

	if err := lm.unlockSc.Run(ctx, lm.c.rdb, []string{lm.lockKey(key)}, token).Err(); err != nil {
		return fmt.Errorf("redis: release lock %s: %w", key, err)
	}
	return nil
}
