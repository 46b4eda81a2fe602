package redis

import (
	"context"
	"errors"
	"strconv"

	goredis "github.com/redis/go-redis/v9"
)

// UnreadStore keeps per-user unread counters, one hash field per chat key:
// unread:{user_id} -> {chat_key: count}
type UnreadStore struct {
	client *goredis.Client
}

const unreadKeyPrefix = "unread:"

func NewUnreadStore(client *goredis.Client) *UnreadStore {
	return &UnreadStore{client: client}
}

func (u *UnreadStore) Increment(ctx context.Context, userID, chatKey string) (int64, error) {
	return u.client.HIncrBy(ctx, unreadKeyPrefix+userID, chatKey, 1).Result()
}

var decrementScript = goredis.NewScript(`
	local v = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
	if v <= 0 then
		redis.call('HDEL', KEYS[1], ARGV[1])
		return 0
	end
	return v
`)

// Decrement lowers the counter by one, never below zero.
func (u *UnreadStore) Decrement(ctx context.Context, userID, chatKey string) (int64, error) {
	return decrementScript.Run(ctx, u.client, []string{unreadKeyPrefix + userID}, chatKey).Int64()
}

func (u *UnreadStore) Reset(ctx context.Context, userID, chatKey string) error {
	return u.client.HDel(ctx, unreadKeyPrefix+userID, chatKey).Err()
}

func (u *UnreadStore) Get(ctx context.Context, userID, chatKey string) (int64, error) {
	n, err := u.client.HGet(ctx, unreadKeyPrefix+userID, chatKey).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	return n, err
}

// All returns every non-zero counter of userID keyed by chat key.
func (u *UnreadStore) All(ctx context.Context, userID string) (map[string]int64, error) {
	raw, err := u.client.HGetAll(ctx, unreadKeyPrefix+userID).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(raw))
	for k, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		if n > 0 {
			out[k] = n
		}
	}
	return out, nil
}
