// Package proxy answers who may see and act on a chat or message.
package proxy

import (
	"context"
	"errors"

	"corpchat/internal/domain/chat"
	"corpchat/internal/domain/message"
	"corpchat/internal/repository"
	corpchat_errors "corpchat/pkg/errors"

	"go.uber.org/zap"
)

// RosterCache caches group member IDs. Implemented by the Redis cache store.
type RosterCache interface {
	GetRoster(ctx context.Context, groupID string) ([]string, bool, error)
	SetRoster(ctx context.Context, groupID string, members []string) error
	InvalidateRoster(ctx context.Context, groupID string) error
}

type AccessControl struct {
	groups repository.GroupRepository
	cache  RosterCache
	logger *zap.Logger
}

// NewAccessControl builds an access checker. cache may be nil.
func NewAccessControl(groups repository.GroupRepository, cache RosterCache, logger *zap.Logger) *AccessControl {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccessControl{groups: groups, cache: cache, logger: logger}
}

// Roster returns the member IDs of a group. A missing group is a stale target.
func (a *AccessControl) Roster(ctx context.Context, groupID string) ([]string, error) {
	if a.cache != nil {
		members, hit, err := a.cache.GetRoster(ctx, groupID)
		if err != nil {
			a.logger.Warn("roster cache read failed", zap.String("group_id", groupID), zap.Error(err))
		} else if hit {
			return members, nil
		}
	}

	members, err := a.groups.GroupMembers(ctx, groupID)
	if err != nil {
		if errors.Is(err, corpchat_errors.ErrNotFound) {
			return nil, corpchat_errors.Stale("roster", "group "+groupID+" does not exist")
		}
		return nil, err
	}
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}

	if a.cache != nil {
		if err := a.cache.SetRoster(ctx, groupID, ids); err != nil {
			a.logger.Warn("roster cache write failed", zap.String("group_id", groupID), zap.Error(err))
		}
	}
	return ids, nil
}

func (a *AccessControl) InvalidateRoster(ctx context.Context, groupID string) {
	if a.cache == nil {
		return
	}
	if err := a.cache.InvalidateRoster(ctx, groupID); err != nil {
		a.logger.Warn("roster cache invalidate failed", zap.String("group_id", groupID), zap.Error(err))
	}
}

// ChatParticipants returns every participant of the chat ref as seen by actorID, after
// checking that actorID belongs to it.
func (a *AccessControl) ChatParticipants(ctx context.Context, actorID string, ref chat.Ref) ([]string, error) {
	if !ref.IsGroup {
		if ref.ID == actorID {
			return []string{actorID}, nil
		}
		return []string{actorID, ref.ID}, nil
	}
	roster, err := a.Roster(ctx, ref.ID)
	if err != nil {
		return nil, err
	}
	if !contains(roster, actorID) {
		return nil, corpchat_errors.Stale("participants", "not a member of group "+ref.ID)
	}
	return roster, nil
}

// MessageParticipants returns every participant of m's chat, checking actorID is one.
func (a *AccessControl) MessageParticipants(ctx context.Context, actorID string, m message.Message) ([]string, error) {
	if m.IsGroup() {
		return a.ChatParticipants(ctx, actorID, chat.GroupRef(m.GroupID))
	}
	if actorID != m.SenderID && actorID != m.ReceiverID {
		return nil, corpchat_errors.Permission("participants", "not a participant of this chat")
	}
	if m.SenderID == m.ReceiverID {
		return []string{m.SenderID}, nil
	}
	return []string{m.SenderID, m.ReceiverID}, nil
}

// CanAcknowledge checks that userID is a recipient of m, i.e. a participant other than
// the sender.
func (a *AccessControl) CanAcknowledge(ctx context.Context, userID string, m message.Message) error {
	if userID == m.SenderID {
		return corpchat_errors.Permission("acknowledge", "senders do not acknowledge their own messages")
	}
	_, err := a.MessageParticipants(ctx, userID, m)
	return err
}

func (a *AccessControl) CanDeleteForEveryone(userID string, m message.Message) error {
	if userID != m.SenderID {
		return corpchat_errors.Permission("deleteMessage", "only the sender may delete for everyone")
	}
	return nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
