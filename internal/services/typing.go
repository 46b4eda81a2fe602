package services

import (
	"context"
	"sync"
	"time"

	"corpchat/internal/domain/chat"
	corpchat_errors "corpchat/pkg/errors"
	"corpchat/pkg/events"

	"go.uber.org/zap"
)

const DefaultTypingTTL = 3 * time.Second

type typingKey struct {
	chatKey string
	userID  string
}

type typingEntry struct {
	ref          chat.Ref
	participants []string
	deadline     time.Time
}

// TypingService owns the typing state of every (user, chat). Entries expire on their own
// when the typer goes quiet.
type TypingService struct {
	*Core
	ttl time.Duration

	mu      sync.Mutex
	entries map[typingKey]typingEntry
}

func NewTypingService(core *Core, ttl time.Duration) *TypingService {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	return &TypingService{Core: core, ttl: ttl, entries: make(map[typingKey]typingEntry)}
}

func (s *TypingService) TTL() time.Duration {
	return s.ttl
}

// SetTyping marks userID as typing in ref until now+TTL and relays userTyping to the
// other participants.
func (s *TypingService) SetTyping(ctx context.Context, userID string, ref chat.Ref) error {
	const op = "typing"
	return s.fail(userID, op, "", s.update(ctx, op, userID, ref, true))
}

// ClearTyping removes the entry at once and relays userStoppedTyping. Clearing a user who
// is not typing does nothing.
func (s *TypingService) ClearTyping(ctx context.Context, userID string, ref chat.Ref) error {
	const op = "stopTyping"
	return s.fail(userID, op, "", s.update(ctx, op, userID, ref, false))
}

func (s *TypingService) update(ctx context.Context, op, userID string, ref chat.Ref, typing bool) error {
	if !ref.Valid() {
		return corpchat_errors.Validation(op, "chatId is required")
	}
	participants, err := s.Access.ChatParticipants(ctx, userID, ref)
	if err != nil {
		return err
	}

	key := typingKey{chatKey: ref.Key(userID), userID: userID}
	unlock, err := s.lock(ctx, op, key.chatKey)
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.Lock()
	_, existed := s.entries[key]
	if typing {
		s.entries[key] = typingEntry{ref: ref, participants: participants, deadline: s.Now().Add(s.ttl)}
	} else {
		delete(s.entries, key)
	}
	s.mu.Unlock()

	if typing {
		s.relay(userID, ref, participants, true)
	} else if existed {
		s.relay(userID, ref, participants, false)
	}
	return nil
}

// IsTyping reports whether userID currently types in the chat with the given key.
func (s *TypingService) IsTyping(userID, chatKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[typingKey{chatKey: chatKey, userID: userID}]
	return ok && s.Now().Before(e.deadline)
}

// Sweep expires every entry whose deadline is not after now and relays a synthetic
// userStoppedTyping for each. It returns how many entries expired.
func (s *TypingService) Sweep(ctx context.Context, now time.Time) int {
	var due []typingKey
	s.mu.Lock()
	for k, e := range s.entries {
		if !now.Before(e.deadline) {
			due = append(due, k)
		}
	}
	s.mu.Unlock()

	expired := 0
	for _, k := range due {
		if s.expire(ctx, k, now) {
			expired++
		}
	}
	return expired
}

// expire drops one entry under its chat lock. The deadline is checked again there, so a
// typing event that refreshed the entry after the scan keeps it alive.
func (s *TypingService) expire(ctx context.Context, k typingKey, now time.Time) bool {
	unlock, err := s.lock(ctx, "typing_expire", k.chatKey)
	if err != nil {
		s.Logger.Warn("typing expiry skipped", zap.String("chat_key", k.chatKey), zap.Error(err))
		return false
	}
	defer unlock()

	s.mu.Lock()
	e, ok := s.entries[k]
	if ok && !now.Before(e.deadline) {
		delete(s.entries, k)
	} else {
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	s.Metrics.TypingExpiredInc()
	s.relay(k.userID, e.ref, e.participants, false)
	return true
}

// ClearUser drops every typing entry of userID, used when their last connection closes.
func (s *TypingService) ClearUser(userID string) {
	var cleared []typingEntry
	s.mu.Lock()
	for k, e := range s.entries {
		if k.userID == userID {
			delete(s.entries, k)
			cleared = append(cleared, e)
		}
	}
	s.mu.Unlock()

	for _, e := range cleared {
		s.relay(userID, e.ref, e.participants, false)
	}
}

// Run sweeps expired entries until ctx ends.
func (s *TypingService) Run(ctx context.Context) {
	interval := s.ttl / 3
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(ctx, s.Now()); n > 0 {
				s.Logger.Debug("typing entries expired", zap.Int("count", n))
			}
		}
	}
}

// relay sends the typing signal to every participant but the typer. Direct chats are
// named by the typer's ID, which is how the recipient sees the chat.
func (s *TypingService) relay(userID string, ref chat.Ref, participants []string, typing bool) {
	signal := events.TypingSignal{UserID: userID, ChatID: ref.ID, IsGroup: ref.IsGroup}
	if !ref.IsGroup {
		signal.ChatID = userID
	}
	var ev events.Event = events.UserStoppedTyping{TypingSignal: signal}
	if typing {
		ev = events.UserTyping{TypingSignal: signal}
	}
	s.Emitter.ToUsers(participants, userID, ev)
}
