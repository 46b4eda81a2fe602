package services

import (
	"context"

	"corpchat/internal/domain/chat"
	"corpchat/internal/domain/message"
	"corpchat/internal/repository"
	corpchat_errors "corpchat/pkg/errors"
	"corpchat/pkg/events"
)

// HistoryService serves chat backlog to participants.
type HistoryService struct {
	*Core
}

func NewHistoryService(core *Core) *HistoryService {
	return &HistoryService{Core: core}
}

// Backlog returns the most recent limit messages of the chat in createdAt order, as seen
// by viewerID.
func (s *HistoryService) Backlog(ctx context.Context, viewerID string, ref chat.Ref, limit int) ([]events.Message, error) {
	const op = "history"
	if !ref.Valid() {
		return nil, corpchat_errors.Validation(op, "chat id is required")
	}
	if limit < 0 {
		return nil, corpchat_errors.Validation(op, "limit must not be negative")
	}
	if _, err := s.Access.ChatParticipants(ctx, viewerID, ref); err != nil {
		return nil, err
	}

	var stored []message.Message
	err := s.persist(ctx, "list_messages", func(ctx context.Context) error {
		var err error
		stored, err = s.Gateway.ListMessages(ctx, ref.Key(viewerID), viewerID, repository.ClampLimit(limit))
		return err
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(stored))
	for _, m := range stored {
		if !m.IsDeleted {
			ids = append(ids, m.ID)
		}
	}
	var reactions map[string][]message.Reaction
	err = s.persist(ctx, "list_reactions", func(ctx context.Context) error {
		var err error
		reactions, err = s.Gateway.ReactionsFor(ctx, ids)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]events.Message, len(stored))
	for i, m := range stored {
		out[i] = m.Wire()
		out[i].Reactions = make([]events.Reaction, 0, len(reactions[m.ID]))
		for _, r := range reactions[m.ID] {
			out[i].Reactions = append(out[i].Reactions, r.Wire())
		}
	}
	return out, nil
}
