package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"corpchat/internal/domain/message"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *GormGateway) ApplyReceipt(ctx context.Context, messageID, userID string, status message.Status, at time.Time) (ReceiptResult, error) {
	var out ReceiptResult
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m message.Message
		if err := tx.Where("id = ?", messageID).First(&m).Error; err != nil {
			return notFound(err)
		}
		at = notBefore(at, m.CreatedAt)

		current := message.Receipt{MessageID: messageID, UserID: userID, Status: message.StatusSent}
		var stored message.Receipt
		err := tx.Where("message_id = ? AND user_id = ?", messageID, userID).First(&stored).Error
		switch {
		case err == nil:
			current = stored
		case !errors.Is(err, gorm.ErrRecordNotFound):
			return err
		}

		next, changed := advance(current, status, at)
		out.Receipt = next
		if !changed {
			out.Message = m
			return nil
		}

		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "delivered_at", "seen_at", "updated_at"}),
		}).Create(&next).Error
		if err != nil {
			return err
		}

		if next.DeliveredAt.Valid {
			if err := tx.Model(&message.Message{}).
				Where("id = ? AND delivered_at IS NULL", messageID).
				Update("delivered_at", next.DeliveredAt.Time).Error; err != nil {
				return err
			}
		}
		if next.SeenAt.Valid {
			if err := tx.Model(&message.Message{}).
				Where("id = ? AND seen_at IS NULL", messageID).
				Update("seen_at", next.SeenAt.Time).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("id = ?", messageID).First(&m).Error; err != nil {
			return err
		}
		out.Message = m
		out.Changed = true
		return nil
	})
	return out, err
}

// advance applies a receipt transition. Only forward moves change state.
func advance(current message.Receipt, status message.Status, at time.Time) (message.Receipt, bool) {
	if !current.Status.Advances(status) {
		return current, false
	}
	next := current
	next.Status = status
	next.UpdatedAt = at
	if !next.DeliveredAt.Valid {
		next.DeliveredAt = sql.NullTime{Time: at, Valid: true}
	}
	if status == message.StatusSeen {
		next.SeenAt = sql.NullTime{Time: at, Valid: true}
	}
	return next, true
}

func (r *GormGateway) UnseenFor(ctx context.Context, chatKey, userID string) ([]message.Message, error) {
	seen := r.db.Model(&message.Receipt{}).
		Select("message_id").
		Where("user_id = ? AND status = ?", userID, message.StatusSeen)

	hidden := r.db.Model(&message.Deletion{}).
		Select("message_id").
		Where("user_id = ?", userID)

	q := r.db.WithContext(ctx).
		Where("chat_key = ? AND sender_id <> ? AND is_deleted = ?", chatKey, userID, false).
		Where("id NOT IN (?) AND id NOT IN (?)", seen, hidden)

	var messages []message.Message
	if err := q.Order("created_at ASC, id ASC").Find(&messages).Error; err != nil {
		return nil, err
	}

	// direct chats only address the counterpart
	out := messages[:0]
	for _, m := range messages {
		if m.IsGroup() || m.ReceiverID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}
