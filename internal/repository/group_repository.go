package repository

import (
	"context"
	"time"

	"corpchat/internal/domain/chat"
	corpchat_errors "corpchat/pkg/errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (r *GormGateway) CreateGroup(ctx context.Context, g chat.Group, members []chat.Member) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&g).Error; err != nil {
			if isUniqueViolation(err) {
				return corpchat_errors.ErrAlreadyExists
			}
			return err
		}
		for _, m := range members {
			m.GroupID = g.ID
			if m.Role == "" {
				m.Role = chat.RoleMember
			}
			if m.JoinedAt.IsZero() {
				m.JoinedAt = g.CreatedAt
			}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *GormGateway) GetGroup(ctx context.Context, groupID string) (chat.Group, error) {
	var g chat.Group
	if err := r.db.WithContext(ctx).Where("id = ?", groupID).First(&g).Error; err != nil {
		return chat.Group{}, notFound(err)
	}
	return g, nil
}

func (r *GormGateway) GroupMembers(ctx context.Context, groupID string) ([]chat.Member, error) {
	if _, err := r.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	var members []chat.Member
	err := r.db.WithContext(ctx).
		Where("group_id = ?", groupID).
		Order("joined_at ASC, user_id ASC").
		Find(&members).Error
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (r *GormGateway) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&chat.Member{}).
		Where("group_id = ? AND user_id = ?", groupID, userID).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *GormGateway) AddGroupMember(ctx context.Context, m chat.Member) error {
	if _, err := r.GetGroup(ctx, m.GroupID); err != nil {
		return err
	}
	if m.Role == "" {
		m.Role = chat.RoleMember
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now()
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&m).Error
}
