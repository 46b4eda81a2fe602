package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"corpchat/internal/domain/chat"
	"corpchat/internal/domain/message"
	corpchat_errors "corpchat/pkg/errors"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newSQLiteGateway(t *testing.T) *GormGateway {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, InitSchema(db))
	return NewGormGateway(db)
}

// forEachGateway runs fn against every Gateway implementation.
func forEachGateway(t *testing.T, fn func(t *testing.T, g Gateway)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryGateway()) })
	t.Run("sqlite", func(t *testing.T) { fn(t, newSQLiteGateway(t)) })
}

var base = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

func direct(id, temp, from, to string, offset time.Duration) message.Message {
	return message.Message{
		ID:           id,
		ClientTempID: temp,
		SenderID:     from,
		ReceiverID:   to,
		Content:      "msg " + id,
		CreatedAt:    base.Add(offset),
	}
}

func TestCreateMessageReplay(t *testing.T) {
	forEachGateway(t, func(t *testing.T, g Gateway) {
		ctx := context.Background()

		first, replay, err := g.CreateMessage(ctx, direct("m1", "tmp-1", "alice", "bob", 0))
		require.NoError(t, err)
		assert.False(t, replay)
		assert.Equal(t, "direct:alice:bob", first.ChatKey)

		again, replay, err := g.CreateMessage(ctx, direct("m2", "tmp-1", "alice", "bob", time.Second))
		require.NoError(t, err)
		assert.True(t, replay)
		assert.Equal(t, "m1", again.ID)

		// the same temp ID from another sender is a different message
		_, replay, err = g.CreateMessage(ctx, direct("m3", "tmp-1", "bob", "alice", 2*time.Second))
		require.NoError(t, err)
		assert.False(t, replay)

		history, err := g.ListMessages(ctx, chat.DirectKey("alice", "bob"), "alice", 0)
		require.NoError(t, err)
		assert.Len(t, history, 2)
	})
}

func TestListMessagesOrderAndVisibility(t *testing.T) {
	forEachGateway(t, func(t *testing.T, g Gateway) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			_, _, err := g.CreateMessage(ctx, direct(fmt.Sprintf("m%d", i), fmt.Sprintf("t%d", i), "alice", "bob", time.Duration(i)*time.Minute))
			require.NoError(t, err)
		}

		changed, err := g.DeleteForUser(ctx, "m1", "alice")
		require.NoError(t, err)
		assert.True(t, changed)
		changed, err = g.DeleteForUser(ctx, "m1", "alice")
		require.NoError(t, err)
		assert.False(t, changed)

		changed, err = g.DeleteForEveryone(ctx, "m2")
		require.NoError(t, err)
		assert.True(t, changed)

		key := chat.DirectKey("bob", "alice")

		forAlice, err := g.ListMessages(ctx, key, "alice", 3)
		require.NoError(t, err)
		require.Len(t, forAlice, 3)
		assert.Equal(t, []string{"m2", "m3", "m4"}, ids(forAlice))
		assert.True(t, forAlice[0].IsDeleted)
		assert.Empty(t, forAlice[0].Wire().Content)

		forBob, err := g.ListMessages(ctx, key, "bob", 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"m0", "m1", "m2", "m3", "m4"}, ids(forBob))
	})
}

func TestApplyReceiptIsMonotonic(t *testing.T) {
	forEachGateway(t, func(t *testing.T, g Gateway) {
		ctx := context.Background()
		_, _, err := g.CreateMessage(ctx, direct("m1", "t1", "alice", "bob", 0))
		require.NoError(t, err)

		seenAt := base.Add(time.Minute)
		res, err := g.ApplyReceipt(ctx, "m1", "bob", message.StatusSeen, seenAt)
		require.NoError(t, err)
		assert.True(t, res.Changed)
		assert.Equal(t, message.StatusSeen, res.Receipt.Status)
		assert.True(t, res.Receipt.DeliveredAt.Valid, "seen implies delivered")
		assert.Equal(t, message.StatusSeen, res.Message.Status())

		res, err = g.ApplyReceipt(ctx, "m1", "bob", message.StatusDelivered, seenAt.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, res.Changed)
		assert.Equal(t, message.StatusSeen, res.Receipt.Status)

		res, err = g.ApplyReceipt(ctx, "m1", "bob", message.StatusSeen, seenAt.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, res.Changed)

		stored, err := g.GetMessage(ctx, "m1")
		require.NoError(t, err)
		assert.True(t, stored.SeenAt.Time.Equal(seenAt))
		assert.False(t, stored.DeliveredAt.Time.After(stored.SeenAt.Time))
	})
}

func TestApplyReceiptUnknownMessage(t *testing.T) {
	forEachGateway(t, func(t *testing.T, g Gateway) {
		_, err := g.ApplyReceipt(context.Background(), "missing", "bob", message.StatusDelivered, base)
		assert.ErrorIs(t, err, corpchat_errors.ErrNotFound)
	})
}

func TestUnseenFor(t *testing.T) {
	forEachGateway(t, func(t *testing.T, g Gateway) {
		ctx := context.Background()
		_, _, _ = g.CreateMessage(ctx, direct("m1", "t1", "alice", "bob", 0))
		_, _, _ = g.CreateMessage(ctx, direct("m2", "t2", "alice", "bob", time.Second))
		_, _, _ = g.CreateMessage(ctx, direct("m3", "t3", "bob", "alice", 2*time.Second))

		_, err := g.ApplyReceipt(ctx, "m1", "bob", message.StatusSeen, base.Add(time.Minute))
		require.NoError(t, err)

		unseen, err := g.UnseenFor(ctx, chat.DirectKey("alice", "bob"), "bob")
		require.NoError(t, err)
		assert.Equal(t, []string{"m2"}, ids(unseen))
	})
}

func TestUnseenForSkipsDeletedMessages(t *testing.T) {
	forEachGateway(t, func(t *testing.T, g Gateway) {
		ctx := context.Background()
		for i, id := range []string{"m1", "m2", "m3"} {
			_, _, err := g.CreateMessage(ctx, direct(id, "t"+id, "alice", "bob", time.Duration(i)*time.Second))
			require.NoError(t, err)
		}

		_, err := g.DeleteForEveryone(ctx, "m1")
		require.NoError(t, err)
		_, err = g.DeleteForUser(ctx, "m2", "bob")
		require.NoError(t, err)

		unseen, err := g.UnseenFor(ctx, chat.DirectKey("alice", "bob"), "bob")
		require.NoError(t, err)
		assert.Equal(t, []string{"m3"}, ids(unseen))
	})
}

func TestReactionsForBatch(t *testing.T) {
	forEachGateway(t, func(t *testing.T, g Gateway) {
		ctx := context.Background()
		_, _, err := g.CreateMessage(ctx, direct("m1", "t1", "alice", "bob", 0))
		require.NoError(t, err)
		_, _, err = g.CreateMessage(ctx, direct("m2", "t2", "alice", "bob", time.Second))
		require.NoError(t, err)
		_, _, err = g.CreateMessage(ctx, direct("m3", "t3", "alice", "bob", 2*time.Second))
		require.NoError(t, err)

		for _, r := range []message.Reaction{
			{MessageID: "m1", UserID: "bob", Emoji: "👍", CreatedAt: base},
			{MessageID: "m1", UserID: "alice", Emoji: "🎉", CreatedAt: base.Add(time.Second)},
			{MessageID: "m3", UserID: "bob", Emoji: "👀", CreatedAt: base},
		} {
			_, err := g.AddReaction(ctx, r)
			require.NoError(t, err)
		}

		got, err := g.ReactionsFor(ctx, []string{"m1", "m2"})
		require.NoError(t, err)
		require.Len(t, got["m1"], 2)
		assert.Equal(t, "bob", got["m1"][0].UserID)
		assert.Empty(t, got["m2"])
		assert.NotContains(t, got, "m3")

		none, err := g.ReactionsFor(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestReactionIdempotence(t *testing.T) {
	forEachGateway(t, func(t *testing.T, g Gateway) {
		ctx := context.Background()
		_, _, err := g.CreateMessage(ctx, direct("m1", "t1", "alice", "bob", 0))
		require.NoError(t, err)

		r := message.Reaction{MessageID: "m1", UserID: "bob", Emoji: "👍"}
		added, err := g.AddReaction(ctx, r)
		require.NoError(t, err)
		assert.True(t, added)
		added, err = g.AddReaction(ctx, r)
		require.NoError(t, err)
		assert.False(t, added)

		list, err := g.ListReactions(ctx, "m1")
		require.NoError(t, err)
		assert.Len(t, list, 1)

		removed, err := g.RemoveReaction(ctx, "m1", "bob", "👍")
		require.NoError(t, err)
		assert.True(t, removed)
		removed, err = g.RemoveReaction(ctx, "m1", "bob", "👍")
		require.NoError(t, err)
		assert.False(t, removed)

		_, err = g.AddReaction(ctx, message.Reaction{MessageID: "nope", UserID: "bob", Emoji: "👍"})
		assert.ErrorIs(t, err, corpchat_errors.ErrNotFound)
	})
}

func TestPinToggle(t *testing.T) {
	forEachGateway(t, func(t *testing.T, g Gateway) {
		ctx := context.Background()
		_, _, err := g.CreateMessage(ctx, direct("m1", "t1", "alice", "bob", 0))
		require.NoError(t, err)

		changed, err := g.SetPinned(ctx, "m1", true)
		require.NoError(t, err)
		assert.True(t, changed)
		changed, err = g.SetPinned(ctx, "m1", true)
		require.NoError(t, err)
		assert.False(t, changed)

		_, err = g.SetPinned(ctx, "missing", true)
		assert.ErrorIs(t, err, corpchat_errors.ErrNotFound)
	})
}

func TestGroupsAndContacts(t *testing.T) {
	forEachGateway(t, func(t *testing.T, g Gateway) {
		ctx := context.Background()
		err := g.CreateGroup(ctx, chat.Group{ID: "eng", Name: "Engineering", CreatedAt: base}, []chat.Member{
			{UserID: "alice", Role: chat.RoleAdmin},
			{UserID: "carol"},
		})
		require.NoError(t, err)
		assert.ErrorIs(t, g.CreateGroup(ctx, chat.Group{ID: "eng"}, nil), corpchat_errors.ErrAlreadyExists)

		require.NoError(t, g.AddGroupMember(ctx, chat.Member{GroupID: "eng", UserID: "dave", JoinedAt: base.Add(time.Hour)}))

		members, err := g.GroupMembers(ctx, "eng")
		require.NoError(t, err)
		require.Len(t, members, 3)
		assert.Equal(t, chat.RoleAdmin, members[0].Role)
		assert.Equal(t, chat.RoleMember, members[1].Role)

		ok, err := g.IsGroupMember(ctx, "eng", "bob")
		require.NoError(t, err)
		assert.False(t, ok)

		_, err = g.GroupMembers(ctx, "sales")
		assert.ErrorIs(t, err, corpchat_errors.ErrNotFound)

		_, _, err = g.CreateMessage(ctx, direct("m1", "t1", "bob", "alice", 0))
		require.NoError(t, err)

		contacts, err := g.Contacts(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, []string{"bob", "carol", "dave"}, contacts)
	})
}

func ids(ms []message.Message) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}
