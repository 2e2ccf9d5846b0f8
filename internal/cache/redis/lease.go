package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/creatormarket/internal/domain"
)

// releaseLua deletes the lock only while it still holds the caller's token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// renewLua extends the TTL only while the lock still holds the caller's
// token.
const renewLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// LockManager implements domain.LockManager with SET NX PX and token-checked
// Lua renew and release.
type LockManager struct {
	c       *Client
	release *redis.Script
	renew   *redis.Script
}

var _ domain.LockManager = (*LockManager)(nil)

// NewLockManager creates a LockManager.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:       c,
		release: redis.NewScript(releaseLua),
		renew:   redis.NewScript(renewLua),
	}
}

// AcquireLease takes the lock for key or returns domain.ErrLockHeld.
func (lm *LockManager) AcquireLease(ctx context.Context, key string, ttl time.Duration) (domain.Lease, error) {
	if ttl < 3*time.Millisecond {
		return nil, fmt.Errorf("redis: acquire lease %s: ttl %s too short", key, ttl)
	}
	token := uuid.NewString()
	lk := lm.c.key("lock", key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lease %s: %w", key, domain.ErrLockHeld)
	}
	return &lease{lm: lm, key: lk, token: token, ttl: ttl}, nil
}

type lease struct {
	lm    *LockManager
	key   string
	token string
	ttl   time.Duration
	once  sync.Once
}

// Keep renews the lease every third of its TTL. It returns nil when ctx is
// done and domain.ErrLockLost when the key expired or was taken over.
func (l *lease) Keep(ctx context.Context) error {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := l.lm.renew.Run(ctx, l.lm.c.rdb, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("redis: renew lease %s: %w", l.key, err)
			}
			if n == 0 {
				return fmt.Errorf("redis: renew lease %s: %w", l.key, domain.ErrLockLost)
			}
		}
	}
}

// Release deletes the lock if this lease still owns it. It is safe to call
// more than once.
func (l *lease) Release() {
	l.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.lm.release.Run(ctx, l.lm.c.rdb, []string{l.key}, l.token).Err()
	})
}
