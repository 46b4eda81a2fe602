package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// PresenceStatus is the mirrored presence of a user.
type PresenceStatus struct {
	UserID   string    `json:"userId"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen,omitempty"`
}

// PresenceStore mirrors the in-process registry into Redis so presence survives restarts
// and can be read by other processes.
type PresenceStore struct {
	client    *goredis.Client
	publisher *Publisher
	ttl       time.Duration
}

const (
	presenceKeyPrefix = "presence:"        // JSON PresenceStatus per user
	presenceOnlineSet = "presence:online"  // set of online user IDs
	PresenceChannel   = "presence:changes" // pub/sub channel of PresenceStatus JSON
)

func NewPresenceStore(client *goredis.Client, publisher *Publisher, ttl time.Duration) *PresenceStore {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &PresenceStore{
		client:    client,
		publisher: publisher,
		ttl:       ttl,
	}
}

func (p *PresenceStore) SetOnline(ctx context.Context, userID string) error {
	return p.write(ctx, PresenceStatus{UserID: userID, IsOnline: true})
}

func (p *PresenceStore) SetOffline(ctx context.Context, userID string, lastSeen time.Time) error {
	return p.write(ctx, PresenceStatus{UserID: userID, LastSeen: lastSeen})
}

func (p *PresenceStore) write(ctx context.Context, status PresenceStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}

	pipe := p.client.TxPipeline()
	if status.IsOnline {
		// keep the last known lastSeen while online
		pipe.SAdd(ctx, presenceOnlineSet, status.UserID)
	} else {
		pipe.Set(ctx, presenceKeyPrefix+status.UserID, data, p.ttl)
		pipe.SRem(ctx, presenceOnlineSet, status.UserID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}

	if p.publisher == nil {
		return nil
	}
	return p.publisher.Publish(ctx, PresenceChannel, data)
}

// GetPresence returns the mirrored presence of userID. Unknown users are offline with a
// zero lastSeen.
func (p *PresenceStore) GetPresence(ctx context.Context, userID string) (PresenceStatus, error) {
	pipe := p.client.Pipeline()
	online := pipe.SIsMember(ctx, presenceOnlineSet, userID)
	stored := pipe.Get(ctx, presenceKeyPrefix+userID)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, goredis.Nil) {
		return PresenceStatus{}, err
	}

	status := PresenceStatus{UserID: userID}
	if data, err := stored.Result(); err == nil {
		if err := json.Unmarshal([]byte(data), &status); err != nil {
			return PresenceStatus{}, err
		}
	}
	status.IsOnline = online.Val()
	return status, nil
}

func (p *PresenceStore) GetOnlineCount(ctx context.Context) (int64, error) {
	return p.client.SCard(ctx, presenceOnlineSet).Result()
}

// ResetOnline clears the online set. A single node calls it on startup since no
// connection survives a restart.
func (p *PresenceStore) ResetOnline(ctx context.Context) error {
	return p.client.Del(ctx, presenceOnlineSet).Err()
}
