package reconcile

import (
	"testing"
	"time"

	"corpchat/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func direct(id, from, to string, at time.Time) events.Message {
	return events.Message{ID: id, SenderID: from, ReceiverID: to, Content: "hi " + id, CreatedAt: at}
}

func TestStoreConfirmSwapsOptimisticEntry(t *testing.T) {
	s := NewStore("alice")
	ref := s.InsertOptimistic("tmp-1", events.Message{SenderID: "alice", ReceiverID: "bob", Content: "hello"})
	assert.Equal(t, ChatRef{ID: "bob"}, ref)

	entries := s.Messages(ref)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Pending)
	assert.Equal(t, "tmp-1", entries[0].Message.ID)

	canonical := direct("m1", "alice", "bob", t0)
	require.True(t, s.Confirm("tmp-1", canonical))
	assert.False(t, s.Confirm("tmp-1", canonical), "a temp ID confirms once")

	entries = s.Messages(ref)
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Pending)
	assert.Equal(t, "m1", entries[0].Message.ID)
	_, ok := s.Lookup("m1")
	assert.True(t, ok)
}

func TestStoreConfirmAfterCanonicalArrivedKeepsOneCopy(t *testing.T) {
	s := NewStore("alice")
	ref := s.InsertOptimistic("tmp-1", events.Message{SenderID: "alice", ReceiverID: "bob", Content: "hello"})
	require.True(t, s.Upsert(direct("m1", "alice", "bob", t0)))

	require.True(t, s.Confirm("tmp-1", direct("m1", "alice", "bob", t0)))
	entries := s.Messages(ref)
	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].Message.ID)
}

func TestStoreRollbackRemovesOnlyThePendingEntry(t *testing.T) {
	s := NewStore("alice")
	s.Upsert(direct("m1", "bob", "alice", t0))
	ref := s.InsertOptimistic("tmp-1", events.Message{SenderID: "alice", ReceiverID: "bob"})

	assert.True(t, s.Rollback("tmp-1"))
	assert.False(t, s.Rollback("tmp-1"))
	entries := s.Messages(ref)
	require.Len(t, entries, 1)
	assert.Equal(t, "m1", entries[0].Message.ID)
}

func TestStoreOrdersPendingLast(t *testing.T) {
	s := NewStore("alice")
	ref := ChatRef{ID: "bob"}
	s.InsertOptimistic("tmp-1", events.Message{SenderID: "alice", ReceiverID: "bob", CreatedAt: t0})
	s.Upsert(direct("m2", "bob", "alice", t0.Add(2*time.Second)))
	s.Upsert(direct("m1", "bob", "alice", t0.Add(time.Second)))

	var ids []string
	for _, e := range s.Messages(ref) {
		ids = append(ids, e.Message.ID)
	}
	assert.Equal(t, []string{"m1", "m2", "tmp-1"}, ids)
}

func TestStoreUpsertReportsDuplicates(t *testing.T) {
	s := NewStore("bob")
	assert.True(t, s.Upsert(direct("m1", "alice", "bob", t0)))
	assert.False(t, s.Upsert(direct("m1", "alice", "bob", t0)))
	assert.Len(t, s.Messages(ChatRef{ID: "alice"}), 1)
}

func TestStoreStatusNeverRegresses(t *testing.T) {
	s := NewStore("alice")
	s.Upsert(direct("m1", "alice", "bob", t0))

	assert.True(t, s.ApplyStatus("m1", events.StatusSeen, t0.Add(time.Minute)))
	assert.False(t, s.ApplyStatus("m1", events.StatusDelivered, t0.Add(2*time.Minute)))

	m, _ := s.Lookup("m1")
	assert.Equal(t, events.StatusSeen, m.Status())
	require.NotNil(t, m.DeliveredAt, "seen implies delivered")

	// A stale copy without timestamps does not undo them.
	s.Upsert(direct("m1", "alice", "bob", t0))
	m, _ = s.Lookup("m1")
	assert.Equal(t, events.StatusSeen, m.Status())

	assert.False(t, s.ApplyStatus("missing", events.StatusSeen, t0))
}

func TestStoreDeleteForEveryoneSticks(t *testing.T) {
	s := NewStore("alice")
	ref := ChatRef{ID: "bob"}

	// Tombstone arrives before the message itself.
	s.ApplyDeleted("m1", true)
	s.Upsert(direct("m1", "bob", "alice", t0))

	entries := s.Messages(ref)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Message.IsDeleted)
	assert.Empty(t, entries[0].Message.Content)

	s.Upsert(direct("m1", "bob", "alice", t0))
	m, _ := s.Lookup("m1")
	assert.True(t, m.IsDeleted)
	assert.Empty(t, m.Content)
}

func TestStoreDeleteForMeHides(t *testing.T) {
	s := NewStore("alice")
	s.Upsert(direct("m1", "bob", "alice", t0))
	s.Upsert(direct("m2", "bob", "alice", t0.Add(time.Second)))

	s.ApplyDeleted("m1", false)
	entries := s.Messages(ChatRef{ID: "bob"})
	require.Len(t, entries, 1)
	assert.Equal(t, "m2", entries[0].Message.ID)
}

func TestStoreReactionsAndPins(t *testing.T) {
	s := NewStore("alice")
	s.Upsert(events.Message{ID: "g1", SenderID: "bob", GroupID: "eng", CreatedAt: t0})
	ref := ChatRef{ID: "eng", IsGroup: true}
	like := events.Reaction{UserID: "carol", Emoji: "👍"}

	assert.True(t, s.ApplyReaction("g1", like, true))
	assert.False(t, s.ApplyReaction("g1", like, true))
	assert.Len(t, s.Messages(ref)[0].Reactions, 1)
	assert.True(t, s.ApplyReaction("g1", like, false))
	assert.False(t, s.ApplyReaction("g1", like, false))
	assert.Empty(t, s.Messages(ref)[0].Reactions)

	assert.True(t, s.ApplyPinned("g1", true))
	assert.False(t, s.ApplyPinned("g1", true))
	assert.True(t, s.Messages(ref)[0].Message.IsPinned)
}

func TestStoreCanonicalCopyReplacesReactions(t *testing.T) {
	s := NewStore("alice")
	m := direct("m1", "bob", "alice", t0)
	m.Reactions = []events.Reaction{{UserID: "bob", Emoji: "🔥"}}
	require.True(t, s.Upsert(m))
	ref := ChatRef{ID: "bob"}

	entries := s.Messages(ref)
	require.Len(t, entries, 1)
	assert.Equal(t, m.Reactions, entries[0].Reactions)
	assert.Nil(t, entries[0].Message.Reactions)

	live := direct("m1", "bob", "alice", t0)
	assert.False(t, s.Upsert(live))
	assert.Len(t, s.Messages(ref)[0].Reactions, 1, "a copy without reactions keeps the cached list")

	page := direct("m1", "bob", "alice", t0)
	page.Reactions = []events.Reaction{{UserID: "alice", Emoji: "👍"}, {UserID: "carol", Emoji: "👍"}}
	s.Upsert(page)
	got := s.Messages(ref)[0].Reactions
	require.Len(t, got, 2)
	assert.Equal(t, "alice", got[0].UserID)

	cleared := direct("m1", "bob", "alice", t0)
	cleared.Reactions = []events.Reaction{}
	s.Upsert(cleared)
	assert.Empty(t, s.Messages(ref)[0].Reactions)
}

func TestStoreConfirmTakesCanonicalReactions(t *testing.T) {
	s := NewStore("alice")
	ref := s.InsertOptimistic("tmp-1", events.Message{SenderID: "alice", ReceiverID: "bob", Content: "hello"})
	canonical := direct("m1", "alice", "bob", t0)
	canonical.Reactions = []events.Reaction{{UserID: "bob", Emoji: "👀"}}

	require.True(t, s.Confirm("tmp-1", canonical))
	entries := s.Messages(ref)
	require.Len(t, entries, 1)
	assert.Equal(t, canonical.Reactions, entries[0].Reactions)
}

func TestStoreMessagesReturnsCopies(t *testing.T) {
	s := NewStore("alice")
	s.Upsert(direct("m1", "bob", "alice", t0))
	s.ApplyReaction("m1", events.Reaction{UserID: "bob", Emoji: "🔥"}, true)

	entries := s.Messages(ChatRef{ID: "bob"})
	entries[0].Message.Content = "changed"
	entries[0].Reactions[0].Emoji = "x"

	m, _ := s.Lookup("m1")
	assert.Equal(t, "hi m1", m.Content)
	assert.Equal(t, "🔥", s.Messages(ChatRef{ID: "bob"})[0].Reactions[0].Emoji)
}
