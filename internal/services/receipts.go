package services

import (
	"context"

	"corpchat/internal/domain/chat"
	"corpchat/internal/domain/message"
	"corpchat/internal/repository"
	corpchat_errors "corpchat/pkg/errors"
	"corpchat/pkg/events"

	"go.uber.org/zap"
)

// ReceiptService tracks per-recipient delivery state and reports every forward move to
// the sender.
type ReceiptService struct {
	*Core
	unread UnreadCounter
}

// NewReceiptService builds the tracker. unread may be nil.
func NewReceiptService(core *Core, unread UnreadCounter) *ReceiptService {
	return &ReceiptService{Core: core, unread: unread}
}

func (s *ReceiptService) MarkDelivered(ctx context.Context, userID, messageID string) error {
	return s.fail(userID, "messageDelivered", messageID, s.mark(ctx, "messageDelivered", userID, messageID, message.StatusDelivered))
}

func (s *ReceiptService) MarkSeen(ctx context.Context, userID, messageID string) error {
	return s.fail(userID, "messageSeen", messageID, s.mark(ctx, "messageSeen", userID, messageID, message.StatusSeen))
}

func (s *ReceiptService) mark(ctx context.Context, op, userID, messageID string, status message.Status) error {
	m, err := s.loadMessage(ctx, op, messageID)
	if err != nil {
		return err
	}
	if err := s.Access.CanAcknowledge(ctx, userID, m); err != nil {
		return err
	}

	unlock, err := s.lock(ctx, op, m.Key())
	if err != nil {
		return err
	}
	defer unlock()

	res, err := s.apply(ctx, op, userID, messageID, status)
	if err != nil || !res.Changed {
		return err
	}
	s.notifySender(res)

	if res.Receipt.Status == message.StatusSeen && s.unread != nil {
		n, err := s.unread.Decrement(ctx, userID, m.Key())
		if err != nil {
			s.Logger.Warn("unread decrement failed", zap.String("user_id", userID), zap.Error(err))
			return nil
		}
		ref := m.ChatFor(userID)
		s.Emitter.ToUser(userID, events.UnreadCountUpdate{ChatID: ref.ID, IsGroup: ref.IsGroup, UnreadCount: n})
	}
	return nil
}

// MarkChatAsRead moves every unseen message addressed to userID in the chat to SEEN and
// resets the user's unread counter. It returns how many messages transitioned.
func (s *ReceiptService) MarkChatAsRead(ctx context.Context, userID string, ref chat.Ref) (int, error) {
	const op = "markChatAsRead"
	n, err := s.markChatAsRead(ctx, op, userID, ref)
	return n, s.fail(userID, op, "", err)
}

func (s *ReceiptService) markChatAsRead(ctx context.Context, op, userID string, ref chat.Ref) (int, error) {
	if !ref.Valid() {
		return 0, corpchat_errors.Validation(op, "chatId is required")
	}
	if _, err := s.Access.ChatParticipants(ctx, userID, ref); err != nil {
		return 0, err
	}

	chatKey := ref.Key(userID)
	unlock, err := s.lock(ctx, op, chatKey)
	if err != nil {
		return 0, err
	}
	defer unlock()

	var unseen []message.Message
	err = s.persist(ctx, "unseen_for", func(ctx context.Context) error {
		var err error
		unseen, err = s.Gateway.UnseenFor(ctx, chatKey, userID)
		return err
	})
	if err != nil {
		return 0, err
	}

	transitioned := 0
	for _, m := range unseen {
		res, err := s.apply(ctx, op, userID, m.ID, message.StatusSeen)
		if err != nil {
			return transitioned, err
		}
		if res.Changed {
			transitioned++
			s.notifySender(res)
		}
	}

	if s.unread != nil {
		if err := s.unread.Reset(ctx, userID, chatKey); err != nil {
			s.Logger.Warn("unread reset failed", zap.String("user_id", userID), zap.Error(err))
		}
	}
	s.Emitter.ToUser(userID, events.UnreadCountUpdate{ChatID: ref.ID, IsGroup: ref.IsGroup, UnreadCount: 0})
	return transitioned, nil
}

func (s *ReceiptService) apply(ctx context.Context, op, userID, messageID string, status message.Status) (repository.ReceiptResult, error) {
	var res repository.ReceiptResult
	err := s.persist(ctx, "apply_receipt", func(ctx context.Context) error {
		var err error
		res, err = s.Gateway.ApplyReceipt(ctx, messageID, userID, status, s.Now())
		return err
	})
	if err != nil {
		if corpchat_errors.KindOf(err) == corpchat_errors.KindStaleTarget {
			return res, corpchat_errors.Stale(op, "message "+messageID+" does not exist")
		}
		return res, err
	}
	if res.Changed {
		s.Metrics.ReceiptTransition(string(res.Receipt.Status))
	}
	return res, nil
}

// notifySender reports a receipt transition to every connection of the message's sender.
// The chat is named from the sender's side.
func (s *ReceiptService) notifySender(res repository.ReceiptResult) {
	m := res.Message
	ref := m.ChatFor(m.SenderID)
	s.Emitter.ToUser(m.SenderID, events.MessageStatusUpdate{
		MessageID: m.ID,
		Status:    res.Receipt.Status.Wire(),
		UserID:    res.Receipt.UserID,
		ChatID:    ref.ID,
		IsGroup:   ref.IsGroup,
	})
}
