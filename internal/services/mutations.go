package services

import (
	"context"
	"strings"

	"corpchat/internal/domain/message"
	corpchat_errors "corpchat/pkg/errors"
	"corpchat/pkg/events"
)

const MaxEmojiLength = 32

// PinRequest names the message to pin and, optionally, the chat the client believes it
// belongs to.
type PinRequest struct {
	MessageID string
	IsPinned  bool
	ChatID    string
	GroupID   string
}

// MutationService applies reactions, pins and deletions to existing messages.
type MutationService struct {
	*Core
}

func NewMutationService(core *Core) *MutationService {
	return &MutationService{Core: core}
}

// target loads a live message, checks actorID participates in its chat and takes the
// chat lock. The caller must release the returned unlock.
func (s *MutationService) target(ctx context.Context, op, actorID, messageID string, allowDeleted bool) (message.Message, []string, func(), error) {
	m, err := s.loadMessage(ctx, op, messageID)
	if err != nil {
		return m, nil, nil, err
	}
	participants, err := s.Access.MessageParticipants(ctx, actorID, m)
	if err != nil {
		return m, nil, nil, err
	}
	unlock, err := s.lock(ctx, op, m.Key())
	if err != nil {
		return m, nil, nil, err
	}
	if !allowDeleted {
		current, err := s.loadMessage(ctx, op, messageID)
		if err != nil {
			unlock()
			return m, nil, nil, err
		}
		if current.IsDeleted {
			unlock()
			return m, nil, nil, corpchat_errors.Stale(op, "message was deleted")
		}
		m = current
	}
	return m, participants, unlock, nil
}

func validEmoji(op, emoji string) error {
	if strings.TrimSpace(emoji) == "" {
		return corpchat_errors.Validation(op, "emoji is required")
	}
	if len(emoji) > MaxEmojiLength {
		return corpchat_errors.Validation(op, "emoji is too long")
	}
	return nil
}

// AddReaction records the reaction and broadcasts it. Repeating an existing reaction is a
// silent success.
func (s *MutationService) AddReaction(ctx context.Context, userID, messageID, emoji string) error {
	const op = "addReaction"
	return s.fail(userID, op, messageID, s.addReaction(ctx, op, userID, messageID, emoji))
}

func (s *MutationService) addReaction(ctx context.Context, op, userID, messageID, emoji string) error {
	if err := validEmoji(op, emoji); err != nil {
		return err
	}
	_, participants, unlock, err := s.target(ctx, op, userID, messageID, false)
	if err != nil {
		return err
	}
	defer unlock()

	r := message.Reaction{MessageID: messageID, UserID: userID, Emoji: emoji, CreatedAt: s.Now()}
	var added bool
	err = s.persist(ctx, "add_reaction", func(ctx context.Context) error {
		var err error
		added, err = s.Gateway.AddReaction(ctx, r)
		return err
	})
	if err != nil || !added {
		return err
	}
	s.Emitter.ToUsers(participants, "", events.ReactionAdded{
		MessageID: messageID,
		Reaction:  events.Reaction{UserID: userID, Emoji: emoji, CreatedAt: r.CreatedAt},
	})
	return nil
}

func (s *MutationService) RemoveReaction(ctx context.Context, userID, messageID, emoji string) error {
	const op = "removeReaction"
	return s.fail(userID, op, messageID, s.removeReaction(ctx, op, userID, messageID, emoji))
}

func (s *MutationService) removeReaction(ctx context.Context, op, userID, messageID, emoji string) error {
	if err := validEmoji(op, emoji); err != nil {
		return err
	}
	_, participants, unlock, err := s.target(ctx, op, userID, messageID, true)
	if err != nil {
		return err
	}
	defer unlock()

	var removed bool
	err = s.persist(ctx, "remove_reaction", func(ctx context.Context) error {
		var err error
		removed, err = s.Gateway.RemoveReaction(ctx, messageID, userID, emoji)
		return err
	})
	if err != nil || !removed {
		return err
	}
	s.Emitter.ToUsers(participants, "", events.ReactionRemoved{
		MessageID: messageID,
		Reaction:  events.Reaction{UserID: userID, Emoji: emoji, CreatedAt: s.Now()},
	})
	return nil
}

// SetPinned pins or unpins a message for the whole chat.
func (s *MutationService) SetPinned(ctx context.Context, userID string, req PinRequest) error {
	const op = "pinMessage"
	return s.fail(userID, op, req.MessageID, s.setPinned(ctx, op, userID, req))
}

func (s *MutationService) setPinned(ctx context.Context, op, userID string, req PinRequest) error {
	m, participants, unlock, err := s.target(ctx, op, userID, req.MessageID, false)
	if err != nil {
		return err
	}
	defer unlock()

	if req.GroupID != "" && req.GroupID != m.GroupID {
		return corpchat_errors.Validation(op, "groupId does not match the message")
	}
	if req.ChatID != "" && req.ChatID != m.ChatFor(userID).ID {
		return corpchat_errors.Validation(op, "chatId does not match the message")
	}

	var changed bool
	err = s.persist(ctx, "set_pinned", func(ctx context.Context) error {
		var err error
		changed, err = s.Gateway.SetPinned(ctx, req.MessageID, req.IsPinned)
		return err
	})
	if err != nil || !changed {
		return err
	}
	for _, p := range participants {
		ref := m.ChatFor(p)
		s.Emitter.ToUser(p, events.MessagePinned{
			MessageID: req.MessageID,
			IsPinned:  req.IsPinned,
			ChatID:    ref.ID,
			IsGroup:   ref.IsGroup,
		})
	}
	return nil
}

// DeleteMessage hides a message for the actor, or for everyone when the actor sent it and
// forEveryone is set.
func (s *MutationService) DeleteMessage(ctx context.Context, userID, messageID string, forEveryone bool) error {
	const op = "deleteMessage"
	return s.fail(userID, op, messageID, s.deleteMessage(ctx, op, userID, messageID, forEveryone))
}

func (s *MutationService) deleteMessage(ctx context.Context, op, userID, messageID string, forEveryone bool) error {
	m, participants, unlock, err := s.target(ctx, op, userID, messageID, true)
	if err != nil {
		return err
	}
	defer unlock()

	if !forEveryone {
		var changed bool
		err = s.persist(ctx, "delete_for_user", func(ctx context.Context) error {
			var err error
			changed, err = s.Gateway.DeleteForUser(ctx, messageID, userID)
			return err
		})
		if err != nil || !changed {
			return err
		}
		s.Emitter.ToUser(userID, events.MessageDeleted{MessageID: messageID})
		return nil
	}

	if err := s.Access.CanDeleteForEveryone(userID, m); err != nil {
		return err
	}
	var changed bool
	err = s.persist(ctx, "delete_for_everyone", func(ctx context.Context) error {
		var err error
		changed, err = s.Gateway.DeleteForEveryone(ctx, messageID)
		return err
	})
	if err != nil || !changed {
		return err
	}
	s.Emitter.ToUsers(participants, "", events.MessageDeleted{MessageID: messageID, ForEveryone: true})
	return nil
}
