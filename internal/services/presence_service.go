package services

import (
	"context"
	"time"

	"corpchat/internal/presence"
	redisstore "corpchat/internal/redis"
	"corpchat/pkg/events"

	"go.uber.org/zap"
)

// PresenceReader reads mirrored presence, used for users this process has never seen.
type PresenceReader interface {
	GetPresence(ctx context.Context, userID string) (redisstore.PresenceStatus, error)
}

// PresenceStatus is the presence of a user as answered over REST.
type PresenceStatus struct {
	UserID   string     `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen"`
}

// PresenceService reacts to registry transitions: it mirrors them, tells contacts, and
// clears typing of users that went away.
type PresenceService struct {
	*Core
	registry *presence.Registry
	typing   *TypingService
	mirror   PresenceMirror
	reader   PresenceReader
}

var _ presence.Listener = (*PresenceService)(nil)

// NewPresenceService registers itself as a listener of registry. typing, mirror and
// reader may be nil.
func NewPresenceService(core *Core, registry *presence.Registry, typing *TypingService, mirror PresenceMirror, reader PresenceReader) *PresenceService {
	s := &PresenceService{
		Core:     core,
		registry: registry,
		typing:   typing,
		mirror:   mirror,
		reader:   reader,
	}
	registry.AddListener(s)
	return s
}

func (s *PresenceService) UserOnline(userID string) {
	s.Metrics.SetOnlineUsers(s.registry.OnlineCount())

	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	if s.mirror != nil {
		if err := s.mirror.SetOnline(ctx, userID); err != nil {
			s.Logger.Warn("presence mirror online failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	s.Emitter.ToUsers(s.contacts(ctx, userID), userID, events.UserOnline{UserID: userID})
}

func (s *PresenceService) UserOffline(userID string, lastSeen time.Time) {
	s.Metrics.SetOnlineUsers(s.registry.OnlineCount())
	if s.typing != nil {
		s.typing.ClearUser(userID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	if s.mirror != nil {
		if err := s.mirror.SetOffline(ctx, userID, lastSeen); err != nil {
			s.Logger.Warn("presence mirror offline failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	s.Emitter.ToUsers(s.contacts(ctx, userID), userID, events.UserOffline{UserID: userID, LastSeen: lastSeen})
}

func (s *PresenceService) contacts(ctx context.Context, userID string) []string {
	var ids []string
	err := s.persist(ctx, "contacts", func(ctx context.Context) error {
		var err error
		ids, err = s.Gateway.Contacts(ctx, userID)
		return err
	})
	if err != nil {
		s.Logger.Warn("contacts lookup failed", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	return ids
}

// Status answers from the local registry first and the mirror otherwise.
func (s *PresenceService) Status(ctx context.Context, userID string) (PresenceStatus, error) {
	status := PresenceStatus{UserID: userID, IsOnline: s.registry.IsOnline(userID)}
	if seen, ok := s.registry.LastSeen(userID); ok {
		status.LastSeen = &seen
	}
	if status.IsOnline || status.LastSeen != nil || s.reader == nil {
		return status, nil
	}

	mirrored, err := s.reader.GetPresence(ctx, userID)
	if err != nil {
		return status, err
	}
	status.IsOnline = mirrored.IsOnline
	if !mirrored.LastSeen.IsZero() {
		seen := mirrored.LastSeen
		status.LastSeen = &seen
	}
	return status, nil
}
