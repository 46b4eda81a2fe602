package repository

import (
	"context"
	"time"

	"corpchat/internal/domain/chat"
	"corpchat/internal/domain/message"
)

// MessageRepository stores canonical messages. Lookups of unknown IDs return
// corpchat_errors.ErrNotFound.
type MessageRepository interface {
	// CreateMessage stores m. When a message with the same (SenderID, ClientTempID)
	// already exists, the stored copy is returned with replay set and m is discarded.
	CreateMessage(ctx context.Context, m message.Message) (stored message.Message, replay bool, err error)
	GetMessage(ctx context.Context, id string) (message.Message, error)
	// ListMessages returns the most recent limit messages of a chat in createdAt
	// ascending order, omitting those viewerID deleted for themselves.
	ListMessages(ctx context.Context, chatKey, viewerID string, limit int) ([]message.Message, error)
	SetPinned(ctx context.Context, messageID string, pinned bool) (changed bool, err error)
	DeleteForEveryone(ctx context.Context, messageID string) (changed bool, err error)
	DeleteForUser(ctx context.Context, messageID, userID string) (changed bool, err error)
	// Contacts returns counterparts of the user's direct chats and co-members of their groups.
	Contacts(ctx context.Context, userID string) ([]string, error)
}

// ReceiptRepository tracks per-recipient delivery state.
type ReceiptRepository interface {
	// ApplyReceipt advances the (message, user) receipt to status if that moves it forward.
	// A SEEN update on a receipt that was never DELIVERED fills both timestamps. The
	// message-level timestamps are set by the first recipient to reach each state.
	ApplyReceipt(ctx context.Context, messageID, userID string, status message.Status, at time.Time) (ReceiptResult, error)
	// UnseenFor returns messages of the chat addressed to userID that userID has not seen.
	UnseenFor(ctx context.Context, chatKey, userID string) ([]message.Message, error)
}

type ReceiptResult struct {
	Receipt message.Receipt
	Message message.Message
	Changed bool
}

type ReactionRepository interface {
	// AddReaction reports false when the (message, user, emoji) reaction already existed.
	AddReaction(ctx context.Context, r message.Reaction) (added bool, err error)
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) (removed bool, err error)
	ListReactions(ctx context.Context, messageID string) ([]message.Reaction, error)
	// ReactionsFor loads the reactions of a page of messages in one query, keyed by message ID.
	ReactionsFor(ctx context.Context, messageIDs []string) (map[string][]message.Reaction, error)
}

type GroupRepository interface {
	CreateGroup(ctx context.Context, g chat.Group, members []chat.Member) error
	GetGroup(ctx context.Context, groupID string) (chat.Group, error)
	GroupMembers(ctx context.Context, groupID string) ([]chat.Member, error)
	IsGroupMember(ctx context.Context, groupID, userID string) (bool, error)
	AddGroupMember(ctx context.Context, m chat.Member) error
}

// Gateway is the durable store the messaging core writes through.
type Gateway interface {
	MessageRepository
	ReceiptRepository
	ReactionRepository
	GroupRepository
}

var (
	_ Gateway = (*GormGateway)(nil)
	_ Gateway = (*MemoryGateway)(nil)
)
