package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Cache key pattern:
// - group:{group_id}:members - TTL, JSON list of member user IDs

type CacheConfig struct {
	RosterTTL time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{RosterTTL: 5 * time.Minute}
}

// CacheStore caches group rosters so fan-out does not hit the database per message.
type CacheStore struct {
	client *goredis.Client
	config CacheConfig
}

func NewCacheStore(client *goredis.Client, config CacheConfig) *CacheStore {
	return &CacheStore{
		client: client,
		config: config,
	}
}

func rosterKey(groupID string) string {
	return fmt.Sprintf("group:%s:members", groupID)
}

// GetRoster returns the cached member IDs. A miss returns nil, false.
func (c *CacheStore) GetRoster(ctx context.Context, groupID string) ([]string, bool, error) {
	data, err := c.client.Get(ctx, rosterKey(groupID)).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var members []string
	if err := json.Unmarshal([]byte(data), &members); err != nil {
		return nil, false, err
	}
	return members, true, nil
}

func (c *CacheStore) SetRoster(ctx context.Context, groupID string, members []string) error {
	data, err := json.Marshal(members)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, rosterKey(groupID), data, c.config.RosterTTL).Err()
}

func (c *CacheStore) InvalidateRoster(ctx context.Context, groupID string) error {
	return c.client.Del(ctx, rosterKey(groupID)).Err()
}
