package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"corpchat/internal/domain/chat"
	"corpchat/internal/domain/message"
	corpchat_errors "corpchat/pkg/errors"
)

type receiptKey struct{ messageID, userID string }

type reactionKey struct{ messageID, userID, emoji string }

// MemoryGateway is a process-local Gateway used for single-node development and tests.
type MemoryGateway struct {
	mu        sync.RWMutex
	messages  map[string]message.Message
	byTemp    map[[2]string]string
	receipts  map[receiptKey]message.Receipt
	reactions map[reactionKey]message.Reaction
	deletions map[receiptKey]time.Time
	groups    map[string]chat.Group
	members   map[string]map[string]chat.Member
}

func NewMemoryGateway() *MemoryGateway {
	return &MemoryGateway{
		messages:  make(map[string]message.Message),
		byTemp:    make(map[[2]string]string),
		receipts:  make(map[receiptKey]message.Receipt),
		reactions: make(map[reactionKey]message.Reaction),
		deletions: make(map[receiptKey]time.Time),
		groups:    make(map[string]chat.Group),
		members:   make(map[string]map[string]chat.Member),
	}
}

func (g *MemoryGateway) CreateMessage(ctx context.Context, m message.Message) (message.Message, bool, error) {
	if err := ctx.Err(); err != nil {
		return message.Message{}, false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	tk := [2]string{m.SenderID, m.ClientTempID}
	if id, ok := g.byTemp[tk]; ok {
		return g.messages[id], true, nil
	}
	if _, dup := g.messages[m.ID]; dup {
		return message.Message{}, false, corpchat_errors.ErrAlreadyExists
	}
	m.ChatKey = m.Key()
	m.Attachments = append(message.Attachments(nil), m.Attachments...)
	g.messages[m.ID] = m
	g.byTemp[tk] = m.ID
	return m, false, nil
}

func (g *MemoryGateway) GetMessage(ctx context.Context, id string) (message.Message, error) {
	if err := ctx.Err(); err != nil {
		return message.Message{}, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	m, ok := g.messages[id]
	if !ok {
		return message.Message{}, corpchat_errors.ErrNotFound
	}
	return m, nil
}

func (g *MemoryGateway) ListMessages(ctx context.Context, chatKey, viewerID string, limit int) ([]message.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	var out []message.Message
	for _, m := range g.messages {
		if m.ChatKey != chatKey {
			continue
		}
		if _, hidden := g.deletions[receiptKey{m.ID, viewerID}]; hidden {
			continue
		}
		out = append(out, m)
	}
	g.mu.RUnlock()

	sortAscending(out)
	if n := ClampLimit(limit); len(out) > n {
		out = out[len(out)-n:]
	}
	return out, nil
}

func (g *MemoryGateway) SetPinned(ctx context.Context, messageID string, pinned bool) (bool, error) {
	return g.mutate(ctx, messageID, func(m *message.Message) bool {
		if m.IsPinned == pinned {
			return false
		}
		m.IsPinned = pinned
		return true
	})
}

func (g *MemoryGateway) DeleteForEveryone(ctx context.Context, messageID string) (bool, error) {
	return g.mutate(ctx, messageID, func(m *message.Message) bool {
		if m.IsDeleted {
			return false
		}
		m.IsDeleted = true
		m.Content = ""
		m.Attachments = nil
		return true
	})
}

func (g *MemoryGateway) mutate(ctx context.Context, messageID string, fn func(*message.Message) bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.messages[messageID]
	if !ok {
		return false, corpchat_errors.ErrNotFound
	}
	if !fn(&m) {
		return false, nil
	}
	g.messages[messageID] = m
	return true, nil
}

func (g *MemoryGateway) DeleteForUser(ctx context.Context, messageID, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.messages[messageID]; !ok {
		return false, corpchat_errors.ErrNotFound
	}
	k := receiptKey{messageID, userID}
	if _, ok := g.deletions[k]; ok {
		return false, nil
	}
	g.deletions[k] = time.Now()
	return true, nil
}

func (g *MemoryGateway) Contacts(ctx context.Context, userID string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	set := make(map[string]struct{})
	for _, m := range g.messages {
		if m.IsGroup() {
			continue
		}
		switch userID {
		case m.SenderID:
			set[m.ReceiverID] = struct{}{}
		case m.ReceiverID:
			set[m.SenderID] = struct{}{}
		}
	}
	for _, roster := range g.members {
		if _, in := roster[userID]; !in {
			continue
		}
		for id := range roster {
			set[id] = struct{}{}
		}
	}
	delete(set, userID)
	delete(set, "")

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (g *MemoryGateway) ApplyReceipt(ctx context.Context, messageID, userID string, status message.Status, at time.Time) (ReceiptResult, error) {
	if err := ctx.Err(); err != nil {
		return ReceiptResult{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	m, ok := g.messages[messageID]
	if !ok {
		return ReceiptResult{}, corpchat_errors.ErrNotFound
	}
	at = notBefore(at, m.CreatedAt)

	k := receiptKey{messageID, userID}
	current, ok := g.receipts[k]
	if !ok {
		current = message.Receipt{MessageID: messageID, UserID: userID, Status: message.StatusSent}
	}
	next, changed := advance(current, status, at)
	if !changed {
		return ReceiptResult{Receipt: current, Message: m}, nil
	}
	g.receipts[k] = next

	if next.DeliveredAt.Valid && !m.DeliveredAt.Valid {
		m.DeliveredAt = next.DeliveredAt
	}
	if next.SeenAt.Valid && !m.SeenAt.Valid {
		m.SeenAt = next.SeenAt
	}
	g.messages[messageID] = m
	return ReceiptResult{Receipt: next, Message: m, Changed: true}, nil
}

func (g *MemoryGateway) UnseenFor(ctx context.Context, chatKey, userID string) ([]message.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	var out []message.Message
	for _, m := range g.messages {
		if m.ChatKey != chatKey || m.SenderID == userID || m.IsDeleted {
			continue
		}
		if !m.IsGroup() && m.ReceiverID != userID {
			continue
		}
		if _, hidden := g.deletions[receiptKey{m.ID, userID}]; hidden {
			continue
		}
		if r, ok := g.receipts[receiptKey{m.ID, userID}]; ok && r.Status == message.StatusSeen {
			continue
		}
		out = append(out, m)
	}
	g.mu.RUnlock()
	sortAscending(out)
	return out, nil
}

func (g *MemoryGateway) AddReaction(ctx context.Context, r message.Reaction) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.messages[r.MessageID]; !ok {
		return false, corpchat_errors.ErrNotFound
	}
	k := reactionKey{r.MessageID, r.UserID, r.Emoji}
	if _, ok := g.reactions[k]; ok {
		return false, nil
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	g.reactions[k] = r
	return true, nil
}

func (g *MemoryGateway) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	k := reactionKey{messageID, userID, emoji}
	if _, ok := g.reactions[k]; !ok {
		return false, nil
	}
	delete(g.reactions, k)
	return true, nil
}

func (g *MemoryGateway) ListReactions(ctx context.Context, messageID string) ([]message.Reaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	var out []message.Reaction
	for k, r := range g.reactions {
		if k.messageID == messageID {
			out = append(out, r)
		}
	}
	g.mu.RUnlock()
	sortReactions(out)
	return out, nil
}

func (g *MemoryGateway) ReactionsFor(ctx context.Context, messageIDs []string) (map[string][]message.Reaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wanted := make(map[string]bool, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = true
	}
	out := make(map[string][]message.Reaction)
	g.mu.RLock()
	for k, r := range g.reactions {
		if wanted[k.messageID] {
			out[k.messageID] = append(out[k.messageID], r)
		}
	}
	g.mu.RUnlock()
	for _, rs := range out {
		sortReactions(rs)
	}
	return out, nil
}

func sortReactions(rs []message.Reaction) {
	sort.Slice(rs, func(i, j int) bool {
		if !rs[i].CreatedAt.Equal(rs[j].CreatedAt) {
			return rs[i].CreatedAt.Before(rs[j].CreatedAt)
		}
		return rs[i].UserID < rs[j].UserID
	})
}

func (g *MemoryGateway) CreateGroup(ctx context.Context, grp chat.Group, members []chat.Member) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.groups[grp.ID]; ok {
		return corpchat_errors.ErrAlreadyExists
	}
	if grp.CreatedAt.IsZero() {
		grp.CreatedAt = time.Now()
	}
	g.groups[grp.ID] = grp
	roster := make(map[string]chat.Member, len(members))
	for _, m := range members {
		m.GroupID = grp.ID
		if m.Role == "" {
			m.Role = chat.RoleMember
		}
		if m.JoinedAt.IsZero() {
			m.JoinedAt = grp.CreatedAt
		}
		roster[m.UserID] = m
	}
	g.members[grp.ID] = roster
	return nil
}

func (g *MemoryGateway) GetGroup(ctx context.Context, groupID string) (chat.Group, error) {
	if err := ctx.Err(); err != nil {
		return chat.Group{}, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	grp, ok := g.groups[groupID]
	if !ok {
		return chat.Group{}, corpchat_errors.ErrNotFound
	}
	return grp, nil
}

func (g *MemoryGateway) GroupMembers(ctx context.Context, groupID string) ([]chat.Member, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if _, ok := g.groups[groupID]; !ok {
		return nil, corpchat_errors.ErrNotFound
	}
	out := make([]chat.Member, 0, len(g.members[groupID]))
	for _, m := range g.members[groupID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (g *MemoryGateway) IsGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.members[groupID][userID]
	return ok, nil
}

func (g *MemoryGateway) AddGroupMember(ctx context.Context, m chat.Member) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.groups[m.GroupID]; !ok {
		return corpchat_errors.ErrNotFound
	}
	if _, ok := g.members[m.GroupID][m.UserID]; ok {
		return nil
	}
	if m.Role == "" {
		m.Role = chat.RoleMember
	}
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now()
	}
	g.members[m.GroupID][m.UserID] = m
	return nil
}

func sortAscending(ms []message.Message) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.Before(ms[j].CreatedAt)
		}
		return ms[i].ID < ms[j].ID
	})
}
