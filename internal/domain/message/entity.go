package message

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"corpchat/internal/domain/chat"
	"corpchat/pkg/events"
)

// Message represents the messages table
type Message struct {
	ID              string `gorm:"primaryKey;type:varchar(36)"`
	ClientTempID    string `gorm:"type:varchar(128);not null;uniqueIndex:idx_messages_sender_temp"`
	SenderID        string `gorm:"type:varchar(64);not null;uniqueIndex:idx_messages_sender_temp"`
	ReceiverID      string `gorm:"type:varchar(64)"`
	GroupID         string `gorm:"type:varchar(64)"`
	ChatKey         string `gorm:"type:varchar(160);not null;index:idx_messages_chat_created"`
	Content         string
	Attachments     Attachments `gorm:"type:text"`
	ReplyToID       string      `gorm:"type:varchar(36)"`
	ForwardedFromID string      `gorm:"type:varchar(36)"`
	IsPinned        bool        `gorm:"default:false"`
	IsDeleted       bool        `gorm:"default:false"`
	CreatedAt       time.Time   `gorm:"index:idx_messages_chat_created"`
	DeliveredAt     sql.NullTime
	SeenAt          sql.NullTime
}

// Reaction represents message_reactions
type Reaction struct {
	MessageID string `gorm:"primaryKey;type:varchar(36)"`
	UserID    string `gorm:"primaryKey;type:varchar(64)"`
	Emoji     string `gorm:"primaryKey;type:varchar(32)"`
	CreatedAt time.Time
}

// Receipt represents message_receipts, one row per (message, recipient).
type Receipt struct {
	MessageID   string `gorm:"primaryKey;type:varchar(36)"`
	UserID      string `gorm:"primaryKey;type:varchar(64);index"`
	Status      Status `gorm:"type:varchar(16)"`
	DeliveredAt sql.NullTime
	SeenAt      sql.NullTime
	UpdatedAt   time.Time
}

// Deletion represents message_deletions, the per-user deleted-for set.
type Deletion struct {
	MessageID string `gorm:"primaryKey;type:varchar(36)"`
	UserID    string `gorm:"primaryKey;type:varchar(64)"`
	DeletedAt time.Time
}

func (r Reaction) Wire() events.Reaction {
	return events.Reaction{UserID: r.UserID, Emoji: r.Emoji, CreatedAt: r.CreatedAt}
}

func (Message) TableName() string {
	return "messages"
}

func (Reaction) TableName() string {
	return "message_reactions"
}

func (Receipt) TableName() string {
	return "message_receipts"
}

func (Deletion) TableName() string {
	return "message_deletions"
}

func (m Message) IsGroup() bool {
	return m.GroupID != ""
}

// Key returns the canonical chat key the message belongs to.
func (m Message) Key() string {
	if m.IsGroup() {
		return chat.GroupKey(m.GroupID)
	}
	return chat.DirectKey(m.SenderID, m.ReceiverID)
}

// ChatFor returns the chat reference as seen by viewerID.
func (m Message) ChatFor(viewerID string) chat.Ref {
	if m.IsGroup() {
		return chat.GroupRef(m.GroupID)
	}
	if viewerID == m.SenderID {
		return chat.Direct(m.ReceiverID)
	}
	return chat.Direct(m.SenderID)
}

// Status derives the aggregate message status from its timestamps.
func (m Message) Status() Status {
	switch {
	case m.SeenAt.Valid:
		return StatusSeen
	case m.DeliveredAt.Valid:
		return StatusDelivered
	}
	return StatusSent
}

// Wire converts the stored row to the protocol representation. Content and attachments of
// messages deleted for everyone are never sent.
func (m Message) Wire() events.Message {
	out := events.Message{
		ID:                     m.ID,
		SenderID:               m.SenderID,
		ReceiverID:             m.ReceiverID,
		GroupID:                m.GroupID,
		Content:                m.Content,
		Attachments:            []string(m.Attachments),
		ReplyToID:              m.ReplyToID,
		ForwardedFromMessageID: m.ForwardedFromID,
		IsPinned:               m.IsPinned,
		IsDeleted:              m.IsDeleted,
		CreatedAt:              m.CreatedAt,
	}
	if m.DeliveredAt.Valid {
		t := m.DeliveredAt.Time
		out.DeliveredAt = &t
	}
	if m.SeenAt.Valid {
		t := m.SeenAt.Time
		out.SeenAt = &t
	}
	if m.IsDeleted {
		out.Content = ""
		out.Attachments = nil
	}
	return out
}

// Attachments is a list of externally resolved attachment references stored as JSON text.
type Attachments []string

func (a Attachments) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal([]string(a))
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (a *Attachments) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*a = nil
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return errors.New("attachments: unsupported scan type")
	}
	if len(data) == 0 {
		*a = nil
		return nil
	}
	var out []string
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	if len(out) == 0 {
		out = nil
	}
	*a = out
	return nil
}
