package services

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	presenceKeyPrefix = "presence:"

	// Online entries outlive the heartbeat sweep that refreshes them.
	onlineTTL = 5 * time.Minute

	// Offline entries expire quickly so flicker from crashed processes
	// self-heals.
	offlineTTL = 1 * time.Minute
)

// PresenceService mirrors confirmed liveness transitions into Redis so any
// process (and the HTTP API) can answer "who is online" without owning the
// connection.
type PresenceService struct {
	client *redis.Client
}

func NewPresenceService(client *redis.Client) *PresenceService {
	return &PresenceService{client: client}
}

func (s *PresenceService) SetOnline(ctx context.Context, userID string) error {
	return s.client.Set(ctx, presenceKeyPrefix+userID, "online", onlineTTL).Err()
}

func (s *PresenceService) SetOffline(ctx context.Context, userID string) error {
	return s.client.Set(ctx, presenceKeyPrefix+userID, "offline", offlineTTL).Err()
}

func (s *PresenceService) IsOnline(ctx context.Context, userID string) (bool, error) {
	val, err := s.client.Get(ctx, presenceKeyPrefix+userID).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return val == "online", nil
}

// GetOnlineUsers filters the given user ids down to those currently online,
// with one pipelined round trip.
func (s *PresenceService) GetOnlineUsers(ctx context.Context, userIDs []string) ([]string, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	cmds, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range userIDs {
			pipe.Get(ctx, presenceKeyPrefix+id)
		}
		return nil
	})
	if err != nil && err != redis.Nil {
		return nil, err
	}

	online := make([]string, 0, len(userIDs))
	for i, cmd := range cmds {
		if val, _ := cmd.(*redis.StringCmd).Result(); val == "online" {
			online = append(online, userIDs[i])
		}
	}
	return online, nil
}
