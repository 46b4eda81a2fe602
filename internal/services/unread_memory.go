package services

import (
	"context"
	"sync"
)

// MemoryUnread keeps unread counters in process. It backs single-node deployments that
// run without Redis; counters do not survive a restart.
type MemoryUnread struct {
	mu     sync.Mutex
	counts map[string]map[string]int64
}

var _ UnreadCounter = (*MemoryUnread)(nil)

func NewMemoryUnread() *MemoryUnread {
	return &MemoryUnread{counts: make(map[string]map[string]int64)}
}

func (u *MemoryUnread) Increment(ctx context.Context, userID, chatKey string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	chats, ok := u.counts[userID]
	if !ok {
		chats = make(map[string]int64)
		u.counts[userID] = chats
	}
	chats[chatKey]++
	return chats[chatKey], nil
}

// Decrement lowers the counter by one, never below zero.
func (u *MemoryUnread) Decrement(ctx context.Context, userID, chatKey string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	chats := u.counts[userID]
	n := chats[chatKey] - 1
	if n <= 0 {
		u.drop(userID, chatKey)
		return 0, nil
	}
	chats[chatKey] = n
	return n, nil
}

func (u *MemoryUnread) Reset(ctx context.Context, userID, chatKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u.mu.Lock()
	u.drop(userID, chatKey)
	u.mu.Unlock()
	return nil
}

func (u *MemoryUnread) Get(ctx context.Context, userID, chatKey string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.counts[userID][chatKey], nil
}

// All returns every non-zero counter of userID keyed by chat key.
func (u *MemoryUnread) All(ctx context.Context, userID string) (map[string]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make(map[string]int64, len(u.counts[userID]))
	for k, n := range u.counts[userID] {
		out[k] = n
	}
	return out, nil
}

func (u *MemoryUnread) drop(userID, chatKey string) {
	chats, ok := u.counts[userID]
	if !ok {
		return
	}
	delete(chats, chatKey)
	if len(chats) == 0 {
		delete(u.counts, userID)
	}
}
