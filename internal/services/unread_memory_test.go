package services

import (
	"context"
	"testing"

	"corpchat/internal/domain/chat"
	"corpchat/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryUnreadCounts(t *testing.T) {
	ctx := context.Background()
	u := NewMemoryUnread()

	for i := 0; i < 3; i++ {
		_, err := u.Increment(ctx, "bob", "direct:alice:bob")
		require.NoError(t, err)
	}
	_, err := u.Increment(ctx, "bob", "group:eng")
	require.NoError(t, err)

	n, err := u.Decrement(ctx, "bob", "direct:alice:bob")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	all, err := u.All(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"direct:alice:bob": 2, "group:eng": 1}, all)

	require.NoError(t, u.Reset(ctx, "bob", "direct:alice:bob"))
	n, err = u.Get(ctx, "bob", "direct:alice:bob")
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = u.Decrement(ctx, "bob", "group:eng")
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = u.Decrement(ctx, "bob", "group:eng")
	require.NoError(t, err)
	assert.Zero(t, n, "never below zero")

	all, err = u.All(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestUnreadWithoutRedis(t *testing.T) {
	h := newHarness(t)
	local := NewMemoryUnread()
	ingest := NewIngestService(h.core, WithUnreadCounter(local))
	receipts := NewReceiptService(h.core, local)
	bob := h.connect("bob")

	m, err := ingest.Ingest(h.ctx, SendRequest{ClientTempID: "t1", SenderID: "alice", ReceiverID: "bob", Content: "one"})
	require.NoError(t, err)
	_, err = ingest.Ingest(h.ctx, SendRequest{ClientTempID: "t2", SenderID: "alice", ReceiverID: "bob", Content: "two"})
	require.NoError(t, err)

	counts := ofType[events.UnreadCountUpdate](bob)
	require.Len(t, counts, 2)
	assert.Equal(t, events.UnreadCountUpdate{ChatID: "alice", UnreadCount: 2}, counts[1])

	require.NoError(t, receipts.MarkSeen(h.ctx, "bob", m.ID))
	n, err := local.Get(h.ctx, "bob", chat.DirectKey("alice", "bob"))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = receipts.MarkChatAsRead(h.ctx, "bob", chat.Direct("alice"))
	require.NoError(t, err)
	all, err := local.All(h.ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, all)
}
