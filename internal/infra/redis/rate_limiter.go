package redis

import (
	"context"
	"fmt"
	"time"
)

// RateLimiter is a fixed-window counter per key. The window is opened with
// SET NX EX before counting, so every counter carries its expiry.
type RateLimiter struct {
	client RedisClient
}

func NewRateLimiter(client RedisClient) *RateLimiter {
	return &RateLimiter{client: client}
}

func (r *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if _, err := r.client.SetNX(ctx, key, 0, window); err != nil {
		return false, err
	}
	count, err := r.client.Incr(ctx, key)
	if err != nil {
		return false, err
	}

	if count > int64(limit) {
		return false, nil
	}

	return true, nil
}

// CallbackKey buckets inbound gateway callbacks by gateway and source address.
func CallbackKey(gatewayID, remoteIP string) string {
	return fmt.Sprintf("rate_limit:ipn:%s:%s", gatewayID, remoteIP)
}
