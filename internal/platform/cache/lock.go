package cache

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLocked is returned when another holder owns the lock.
var ErrLocked = errors.New("platform/cache: lock held")

// releaseScript deletes the key only when it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short-lived exclusive locks backed by Redis SET NX.
type Locker struct {
	client *redis.Client
}

// NewLocker wraps client. A nil client yields a Locker that always succeeds.
func NewLocker(client *redis.Client) *Locker {
	return &Locker{client: client}
}

// RunApplyLockKey builds the lock key guarding apply of a single run.
func RunApplyLockKey(runID int64) string {
	return fmt.Sprintf("catalogsync:run:%d:apply", runID)
}

// Acquire takes key for ttl. The returned release func is safe to call once
// the work is done; it never deletes a lock taken over by someone else.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	if l == nil || l.client == nil {
		return func(context.Context) error { return nil }, nil
	}
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("platform/cache: acquire %s: %w", key, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return func(ctx context.Context) error {
		return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
	}, nil
}

func newToken() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
