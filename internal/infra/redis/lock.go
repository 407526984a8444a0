// File: internal/infra/redis/lock.go
package redis

import (
	"context"
	"errors"
	"time"

	"billing-gateway/internal/domain"
	"billing-gateway/internal/domain/ports/adapter"

	"github.com/google/uuid"
)

var ErrLockLost = errors.New("lock expired or taken over before unlock")

var _ adapter.Locker = (*RedisLocker)(nil)

// RedisLocker is a SetNX lock released by compare-and-delete on its token.
type RedisLocker struct {
	cli     RedisClient
	retries int
	backoff time.Duration
}

func NewLocker(c RedisClient) *RedisLocker {
	return &RedisLocker{cli: c, retries: 3, backoff: 50 * time.Millisecond}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	var lastErr error
	for i := 0; i < l.retries; i++ {
		ok, err := l.cli.SetNX(ctx, key, token, ttl)
		if err == nil && ok {
			return token, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(l.backoff):
		}
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", domain.ErrLockNotAcquired
}

func (l *RedisLocker) Unlock(ctx context.Context, key, token string) error {
	ok, err := l.cli.CompareAndDelete(ctx, key, token)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLockLost
	}
	return nil
}
