package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"corpchat/internal/domain/chat"
	"corpchat/internal/domain/message"
	corpchat_errors "corpchat/pkg/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormGateway implements Gateway on top of gorm (Postgres in production).
type GormGateway struct {
	db *gorm.DB
}

func NewGormGateway(db *gorm.DB) *GormGateway {
	return &GormGateway{db: db}
}

func (r *GormGateway) CreateMessage(ctx context.Context, m message.Message) (message.Message, bool, error) {
	if existing, err := r.byClientTempID(ctx, m.SenderID, m.ClientTempID); err == nil {
		return existing, true, nil
	} else if !errors.Is(err, corpchat_errors.ErrNotFound) {
		return message.Message{}, false, err
	}

	m.ChatKey = m.Key()
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := r.byClientTempID(ctx, m.SenderID, m.ClientTempID)
			if lookupErr != nil {
				return message.Message{}, false, lookupErr
			}
			return existing, true, nil
		}
		return message.Message{}, false, err
	}
	return m, false, nil
}

func (r *GormGateway) byClientTempID(ctx context.Context, senderID, clientTempID string) (message.Message, error) {
	var m message.Message
	err := r.db.WithContext(ctx).
		Where("sender_id = ? AND client_temp_id = ?", senderID, clientTempID).
		First(&m).Error
	if err != nil {
		return message.Message{}, notFound(err)
	}
	return m, nil
}

func (r *GormGateway) GetMessage(ctx context.Context, id string) (message.Message, error) {
	var m message.Message
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return message.Message{}, notFound(err)
	}
	return m, nil
}

func (r *GormGateway) ListMessages(ctx context.Context, chatKey, viewerID string, limit int) ([]message.Message, error) {
	hidden := r.db.Model(&message.Deletion{}).
		Select("message_id").
		Where("user_id = ?", viewerID)

	var messages []message.Message
	err := r.db.WithContext(ctx).
		Where("chat_key = ? AND id NOT IN (?)", chatKey, hidden).
		Order("created_at DESC, id DESC").
		Limit(ClampLimit(limit)).
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *GormGateway) SetPinned(ctx context.Context, messageID string, pinned bool) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("id = ? AND is_pinned = ?", messageID, !pinned).
		Update("is_pinned", pinned)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, r.exists(ctx, messageID)
	}
	return true, nil
}

func (r *GormGateway) DeleteForEveryone(ctx context.Context, messageID string) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Where("id = ? AND is_deleted = ?", messageID, false).
		Updates(map[string]interface{}{
			"is_deleted":  true,
			"content":     "",
			"attachments": message.Attachments(nil),
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, r.exists(ctx, messageID)
	}
	return true, nil
}

func (r *GormGateway) DeleteForUser(ctx context.Context, messageID, userID string) (bool, error) {
	if err := r.exists(ctx, messageID); err != nil {
		return false, err
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&message.Deletion{MessageID: messageID, UserID: userID, DeletedAt: time.Now()})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormGateway) exists(ctx context.Context, messageID string) error {
	var n int64
	if err := r.db.WithContext(ctx).Model(&message.Message{}).Where("id = ?", messageID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return corpchat_errors.ErrNotFound
	}
	return nil
}

func (r *GormGateway) Contacts(ctx context.Context, userID string) ([]string, error) {
	seen := make(map[string]struct{})

	var peers []string
	err := r.db.WithContext(ctx).
		Model(&message.Message{}).
		Distinct("receiver_id").
		Where("sender_id = ? AND group_id = ''", userID).
		Pluck("receiver_id", &peers).Error
	if err != nil {
		return nil, err
	}
	var senders []string
	err = r.db.WithContext(ctx).
		Model(&message.Message{}).
		Distinct("sender_id").
		Where("receiver_id = ? AND group_id = ''", userID).
		Pluck("sender_id", &senders).Error
	if err != nil {
		return nil, err
	}

	groups := r.db.Model(&chat.Member{}).Select("group_id").Where("user_id = ?", userID)
	var coMembers []string
	err = r.db.WithContext(ctx).
		Model(&chat.Member{}).
		Distinct("user_id").
		Where("group_id IN (?)", groups).
		Pluck("user_id", &coMembers).Error
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(peers)+len(senders)+len(coMembers))
	for _, list := range [][]string{peers, senders, coMembers} {
		for _, id := range list {
			if id == "" || id == userID {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (r *GormGateway) AddReaction(ctx context.Context, reaction message.Reaction) (bool, error) {
	if err := r.exists(ctx, reaction.MessageID); err != nil {
		return false, err
	}
	if reaction.CreatedAt.IsZero() {
		reaction.CreatedAt = time.Now()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&reaction)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormGateway) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ? AND emoji = ?", messageID, userID, emoji).
		Delete(&message.Reaction{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormGateway) ReactionsFor(ctx context.Context, messageIDs []string) (map[string][]message.Reaction, error) {
	out := make(map[string][]message.Reaction)
	if len(messageIDs) == 0 {
		return out, nil
	}
	var reactions []message.Reaction
	err := r.db.WithContext(ctx).
		Where("message_id IN ?", messageIDs).
		Order("created_at ASC, user_id ASC").
		Find(&reactions).Error
	if err != nil {
		return nil, err
	}
	for _, reaction := range reactions {
		out[reaction.MessageID] = append(out[reaction.MessageID], reaction)
	}
	return out, nil
}

func (r *GormGateway) ListReactions(ctx context.Context, messageID string) ([]message.Reaction, error) {
	var reactions []message.Reaction
	err := r.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("created_at ASC, user_id ASC").
		Find(&reactions).Error
	if err != nil {
		return nil, err
	}
	return reactions, nil
}
