package services

import (
	"context"
	"time"

	"corpchat/pkg/events"
)

// AttachmentResolver checks attachment references against external storage and returns
// them in canonical form. Unknown references fail with a validation error.
type AttachmentResolver interface {
	Resolve(ctx context.Context, refs []string) ([]string, error)
}

// OfflineNotifier hands a message to the push pipeline for a recipient with no live
// connection.
type OfflineNotifier interface {
	NotifyOffline(ctx context.Context, recipientID string, m events.Message) error
}

// UnreadCounter keeps per (user, chat key) unread counts.
type UnreadCounter interface {
	Increment(ctx context.Context, userID, chatKey string) (int64, error)
	Decrement(ctx context.Context, userID, chatKey string) (int64, error)
	Reset(ctx context.Context, userID, chatKey string) error
	Get(ctx context.Context, userID, chatKey string) (int64, error)
}

// SendLimiter caps how fast a user may compose messages.
type SendLimiter interface {
	Allow(ctx context.Context, userID string) (bool, error)
}

// PresenceMirror persists presence transitions outside the process.
type PresenceMirror interface {
	SetOnline(ctx context.Context, userID string) error
	SetOffline(ctx context.Context, userID string, lastSeen time.Time) error
}
