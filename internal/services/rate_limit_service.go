package services

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimitService implements a fixed-window counter in Redis so limits hold
// across server processes.
type RateLimitService struct {
	client *redis.Client
}

func NewRateLimitService(client *redis.Client) *RateLimitService {
	return &RateLimitService{client: client}
}

// Allow increments the window counter for the key and reports whether the
// request is within the limit.
func (s *RateLimitService) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= int64(limit), nil
}
