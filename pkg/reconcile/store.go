// Package reconcile is the client side of the chat protocol: an optimistic local message
// cache reconciled against server events, an offline queue, typing debounce and a session
// actor that owns them.
package reconcile

import (
	"sort"
	"time"

	"corpchat/pkg/events"
)

// ChatRef names a chat from the local user's perspective: the peer's user ID for a direct
// chat, the group ID otherwise.
type ChatRef struct {
	ID      string
	IsGroup bool
}

// refOf returns the chat m belongs to as seen by selfID.
func refOf(selfID string, m events.Message) ChatRef {
	if m.GroupID != "" {
		return ChatRef{ID: m.GroupID, IsGroup: true}
	}
	if m.SenderID == selfID {
		return ChatRef{ID: m.ReceiverID}
	}
	return ChatRef{ID: m.SenderID}
}

// Entry is one locally known message. Pending entries are optimistic copies keyed by
// their temp ID and carry that ID in Message.ID until confirmed.
type Entry struct {
	TempID    string
	Pending   bool
	Message   events.Message
	Reactions []events.Reaction
}

// Store is the local message cache. It is not safe for concurrent use; a Session owns it.
type Store struct {
	selfID string
	chats  map[ChatRef][]*Entry
	byID   map[string]*Entry
	byTemp map[string]*Entry
	hidden map[string]bool
	// erased remembers delete-for-everyone so stale copies arriving later stay erased.
	erased map[string]bool
	unread map[ChatRef]int64
}

func NewStore(selfID string) *Store {
	return &Store{
		selfID: selfID,
		chats:  make(map[ChatRef][]*Entry),
		byID:   make(map[string]*Entry),
		byTemp: make(map[string]*Entry),
		hidden: make(map[string]bool),
		erased: make(map[string]bool),
		unread: make(map[ChatRef]int64),
	}
}

// InsertOptimistic adds a not yet confirmed message under tempID.
func (s *Store) InsertOptimistic(tempID string, m events.Message) ChatRef {
	m.ID = tempID
	e := &Entry{TempID: tempID, Pending: true, Message: m}
	ref := refOf(s.selfID, m)
	s.byTemp[tempID] = e
	s.chats[ref] = append(s.chats[ref], e)
	return ref
}

// Confirm swaps the optimistic entry for tempID with the canonical copy. It reports false
// when no such entry exists.
func (s *Store) Confirm(tempID string, canonical events.Message) bool {
	e, ok := s.byTemp[tempID]
	if !ok {
		return false
	}
	delete(s.byTemp, tempID)
	ref := refOf(s.selfID, e.Message)

	if existing, dup := s.byID[canonical.ID]; dup {
		// The canonical copy already arrived by another path.
		s.remove(ref, e)
		s.merge(existing, canonical)
		return true
	}

	e.Pending = false
	e.TempID = ""
	e.Message = canonical
	s.takeReactions(e, canonical)
	s.applyErasure(e)
	s.byID[canonical.ID] = e
	s.sortChat(ref)
	return true
}

// Rollback removes the optimistic entry for tempID.
func (s *Store) Rollback(tempID string) bool {
	e, ok := s.byTemp[tempID]
	if !ok {
		return false
	}
	delete(s.byTemp, tempID)
	s.remove(refOf(s.selfID, e.Message), e)
	return true
}

// Upsert records a canonical message. It reports true when the message was not known
// before; known messages are merged without regressing their state.
func (s *Store) Upsert(m events.Message) bool {
	if existing, ok := s.byID[m.ID]; ok {
		s.merge(existing, m)
		return false
	}
	e := &Entry{Message: m}
	s.takeReactions(e, m)
	s.applyErasure(e)
	s.byID[m.ID] = e
	ref := refOf(s.selfID, m)
	s.chats[ref] = append(s.chats[ref], e)
	s.sortChat(ref)
	return true
}

func (s *Store) merge(e *Entry, m events.Message) {
	if e.Message.DeliveredAt == nil {
		e.Message.DeliveredAt = m.DeliveredAt
	}
	if e.Message.SeenAt == nil {
		e.Message.SeenAt = m.SeenAt
	}
	e.Message.IsPinned = m.IsPinned
	s.takeReactions(e, m)
	if m.IsDeleted {
		s.erased[m.ID] = true
	}
	s.applyErasure(e)
}

// takeReactions adopts the reaction list of a canonical copy when it carries one. Entry
// keeps reactions outside Message so live reaction events have one place to edit.
func (s *Store) takeReactions(e *Entry, m events.Message) {
	e.Message.Reactions = nil
	if m.Reactions != nil {
		e.Reactions = append([]events.Reaction(nil), m.Reactions...)
	}
}

func (s *Store) applyErasure(e *Entry) {
	if s.erased[e.Message.ID] || e.Message.IsDeleted {
		s.erased[e.Message.ID] = true
		e.Message.IsDeleted = true
		e.Message.Content = ""
		e.Message.Attachments = nil
	}
}

// ApplyStatus advances a message's status. Status never moves backwards; seen implies
// delivered.
func (s *Store) ApplyStatus(messageID string, status events.Status, at time.Time) bool {
	e, ok := s.byID[messageID]
	if !ok || status.Rank() <= e.Message.Status().Rank() {
		return false
	}
	if e.Message.DeliveredAt == nil {
		e.Message.DeliveredAt = &at
	}
	if status == events.StatusSeen && e.Message.SeenAt == nil {
		e.Message.SeenAt = &at
	}
	return true
}

// ApplyDeleted honors a deletion. Delete-for-everyone is remembered even for messages not
// cached yet.
func (s *Store) ApplyDeleted(messageID string, forEveryone bool) {
	if !forEveryone {
		s.hidden[messageID] = true
		return
	}
	s.erased[messageID] = true
	if e, ok := s.byID[messageID]; ok {
		s.applyErasure(e)
	}
}

func (s *Store) ApplyReaction(messageID string, r events.Reaction, added bool) bool {
	e, ok := s.byID[messageID]
	if !ok {
		return false
	}
	for i, have := range e.Reactions {
		if have.UserID == r.UserID && have.Emoji == r.Emoji {
			if added {
				return false
			}
			e.Reactions = append(e.Reactions[:i], e.Reactions[i+1:]...)
			return true
		}
	}
	if !added {
		return false
	}
	e.Reactions = append(e.Reactions, r)
	return true
}

func (s *Store) ApplyPinned(messageID string, pinned bool) bool {
	e, ok := s.byID[messageID]
	if !ok || e.Message.IsPinned == pinned {
		return false
	}
	e.Message.IsPinned = pinned
	return true
}

func (s *Store) SetUnread(ref ChatRef, n int64) { s.unread[ref] = n }

func (s *Store) Unread(ref ChatRef) int64 { return s.unread[ref] }

// Lookup returns the canonical message with id.
func (s *Store) Lookup(id string) (events.Message, bool) {
	e, ok := s.byID[id]
	if !ok {
		return events.Message{}, false
	}
	return e.Message, true
}

// Messages returns copies of the visible entries of a chat in display order.
func (s *Store) Messages(ref ChatRef) []Entry {
	out := make([]Entry, 0, len(s.chats[ref]))
	for _, e := range s.chats[ref] {
		if !e.Pending && s.hidden[e.Message.ID] {
			continue
		}
		cp := *e
		cp.Reactions = append([]events.Reaction(nil), e.Reactions...)
		out = append(out, cp)
	}
	return out
}

func (s *Store) remove(ref ChatRef, target *Entry) {
	entries := s.chats[ref]
	for i, e := range entries {
		if e == target {
			s.chats[ref] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// sortChat orders confirmed messages by createdAt then ID, with pending entries after
// them in insertion order.
func (s *Store) sortChat(ref ChatRef) {
	entries := s.chats[ref]
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Pending != b.Pending {
			return !a.Pending
		}
		if a.Pending {
			return false
		}
		if !a.Message.CreatedAt.Equal(b.Message.CreatedAt) {
			return a.Message.CreatedAt.Before(b.Message.CreatedAt)
		}
		return a.Message.ID < b.Message.ID
	})
}
