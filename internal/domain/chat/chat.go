package chat

import (
	"strings"
	"time"
)

// Ref identifies a chat from one participant's point of view. For a direct chat the ID is
// the counterpart's user ID; for a group chat it is the group's own ID.
type Ref struct {
	ID      string `json:"chatId"`
	IsGroup bool   `json:"isGroup"`
}

func Direct(peerID string) Ref {
	return Ref{ID: peerID}
}

func GroupRef(groupID string) Ref {
	return Ref{ID: groupID, IsGroup: true}
}

// Key returns the canonical, perspective-free key of the chat. viewerID is only consulted
// for direct chats.
func (r Ref) Key(viewerID string) string {
	if r.IsGroup {
		return GroupKey(r.ID)
	}
	return DirectKey(viewerID, r.ID)
}

func (r Ref) Valid() bool {
	return strings.TrimSpace(r.ID) != ""
}

// DirectKey is symmetric: DirectKey(a, b) == DirectKey(b, a).
func DirectKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return "direct:" + a + ":" + b
}

func GroupKey(groupID string) string {
	return "group:" + groupID
}

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Group represents the groups table
type Group struct {
	ID        string `gorm:"primaryKey;type:varchar(64)"`
	Name      string
	CreatedAt time.Time
}

// Member represents group_members
type Member struct {
	GroupID  string `gorm:"primaryKey;type:varchar(64)"`
	UserID   string `gorm:"primaryKey;type:varchar(64);index"`
	Role     Role   `gorm:"type:varchar(16);default:member"`
	JoinedAt time.Time
}

func (Group) TableName() string {
	return "groups"
}

func (Member) TableName() string {
	return "group_members"
}
