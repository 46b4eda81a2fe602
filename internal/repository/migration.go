package repository

import (
	"fmt"

	"corpchat/internal/domain/chat"
	"corpchat/internal/domain/message"

	"gorm.io/gorm"
)

// InitSchema creates or updates every table the gateway uses.
func InitSchema(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&chat.Group{},
		&chat.Member{},
		&message.Message{},
		&message.Receipt{},
		&message.Reaction{},
		&message.Deletion{},
	); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}
	return nil
}

// Tables lists the gateway's tables in dependency order.
func Tables() []string {
	return []string{"message_deletions", "message_reactions", "message_receipts", "messages", "group_members", "groups"}
}
