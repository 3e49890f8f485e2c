package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polysniper/internal/domain"
)

// releaseLua deletes the lock only while it still holds the caller's token.
const releaseLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua refreshes the TTL only while the lock still holds the caller's
// token.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// Locker hands out single-holder leases. Paper trading takes one so that two
// engines never write to the same journal and bus.
type Locker struct {
	rdb     *redis.Client
	release *redis.Script
	extend  *redis.Script
}

// NewLocker creates a Locker backed by the given Client.
func NewLocker(c *Client) *Locker {
	return &Locker{
		rdb:     c.Underlying(),
		release: redis.NewScript(releaseLua),
		extend:  redis.NewScript(extendLua),
	}
}

func lockKey(key string) string { return "lock:" + key }

// Lease is a held lock.
type Lease struct {
	l     *Locker
	key   string
	token string
	ttl   time.Duration
}

// Acquire takes the lock for key with the given TTL. It returns
// domain.ErrLockHeld when another holder owns it.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, lockKey(key), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, domain.ErrLockHeld)
	}
	return &Lease{l: l, key: lockKey(key), token: token, ttl: ttl}, nil
}

// Extend pushes the expiry out by the lease TTL. It returns
// domain.ErrLockHeld when the lease was lost.
func (ls *Lease) Extend(ctx context.Context) error {
	n, err := ls.l.extend.Run(ctx, ls.l.rdb, []string{ls.key}, ls.token, ls.ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis: extend lock %s: %w", ls.key, err)
	}
	if n == 0 {
		return fmt.Errorf("redis: extend lock %s: %w", ls.key, domain.ErrLockHeld)
	}
	return nil
}

// Keep extends the lease every third of its TTL until ctx is cancelled or
// the lease is lost, then returns the reason.
func (ls *Lease) Keep(ctx context.Context) error {
	ticker := time.NewTicker(ls.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := ls.Extend(ctx); err != nil {
				return err
			}
		}
	}
}

// Release drops the lease if it is still held. It uses its own timeout so
// that it works after the caller's context is cancelled.
func (ls *Lease) Release() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ls.l.release.Run(ctx, ls.l.rdb, []string{ls.key}, ls.token).Err(); err != nil {
		return fmt.Errorf("redis: release lock %s: %w", ls.key, err)
	}
	return nil
}
