package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"corpchat/pkg/events"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultConfirmTimeout = 15 * time.Second
	DefaultTypingTTL      = 3 * time.Second
	DefaultReconnectMin   = 500 * time.Millisecond
	DefaultReconnectMax   = 30 * time.Second

	tickInterval = 250 * time.Millisecond
)

var (
	ErrClosed     = errors.New("session closed")
	ErrTimeout    = errors.New("no confirmation from server")
	ErrOffline    = errors.New("not connected")
	ErrNoOpenChat = errors.New("no chat is open")
)

// ServerError is an error event the server sent for one of this session's requests.
type ServerError struct {
	Op      string
	Kind    string
	Details string
}

func (e *ServerError) Error() string {
	if e.Details == "" {
		return e.Op + ": " + e.Kind
	}
	return e.Op + ": " + e.Kind + ": " + e.Details
}

type UpdateKind int

const (
	UpdateMessages UpdateKind = iota
	UpdateConfirmed
	UpdateFailed
	UpdateTyping
	UpdateUnread
	UpdatePresence
	UpdateConnection
)

// Update tells the UI what changed. Failures always carry Err.
type Update struct {
	Kind      UpdateKind
	Chat      ChatRef
	TempID    string
	MessageID string
	UserID    string
	Online    bool
	Err       error
}

type Config struct {
	UserID         string
	Transport      Transport
	ConfirmTimeout time.Duration
	TypingTTL      time.Duration
	ReconnectMin   time.Duration
	ReconnectMax   time.Duration
	QueueCapacity  int
	// OnUpdate runs on the session goroutine. It must not block or call Session methods.
	OnUpdate  func(Update)
	Logger    *zap.Logger
	Now       func() time.Time
	NewTempID func() string
}

// Draft is a message the user composed.
type Draft struct {
	To                     ChatRef
	Content                string
	Attachments            []string
	ReplyToID              string
	ForwardedFromMessageID string
}

// Pending is a submitted compose waiting for the server's verdict.
type Pending struct {
	TempID string
	Chat   ChatRef

	done chan struct{}
	msg  events.Message
	err  error
}

// Wait blocks until the message is confirmed or rolled back.
func (p *Pending) Wait(ctx context.Context) (events.Message, error) {
	select {
	case <-p.done:
		return p.msg, p.err
	case <-ctx.Done():
		return events.Message{}, ctx.Err()
	}
}

func (p *Pending) resolve(m events.Message, err error) {
	p.msg, p.err = m, err
	close(p.done)
}

type compose struct {
	pending *Pending
	frame   events.SendMessage
	seq     uint64
	// attempt invalidates timers armed for earlier sends of the same frame.
	attempt int
	timer   *time.Timer
}

// Session owns one user's client state. All state lives on the goroutine running Run;
// public methods hand closures to it.
type Session struct {
	cfg    Config
	logger *zap.Logger
	ops    chan func()
	done   chan struct{}

	store    *Store
	queue    *OfflineQueue
	debounce *Debouncer
	typing   *Indicators
	composes map[string]*compose
	seq      uint64
	conn     Conn
	open     *ChatRef
	online   map[string]bool
}

func NewSession(cfg Config) *Session {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = DefaultTypingTTL
	}
	if cfg.ReconnectMin <= 0 {
		cfg.ReconnectMin = DefaultReconnectMin
	}
	if cfg.ReconnectMax < cfg.ReconnectMin {
		cfg.ReconnectMax = DefaultReconnectMax
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewTempID == nil {
		cfg.NewTempID = uuid.NewString
	}
	return &Session{
		cfg:      cfg,
		logger:   cfg.Logger.With(zap.String("component", "reconcile"), zap.String("user_id", cfg.UserID)),
		ops:      make(chan func(), 64),
		done:     make(chan struct{}),
		store:    NewStore(cfg.UserID),
		queue:    NewOfflineQueue(cfg.QueueCapacity),
		debounce: NewDebouncer(DefaultTypingInterval, DefaultTypingIdle),
		typing:   NewIndicators(cfg.TypingTTL),
		composes: make(map[string]*compose),
		online:   make(map[string]bool),
	}
}

// Run keeps a connection up and processes events until ctx ends. A Session runs once.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.connectLoop(ctx)
	}()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.shutdown()
			close(s.done)
			wg.Wait()
			return ctx.Err()
		case fn := <-s.ops:
			fn()
		case <-ticker.C:
			s.tick(s.cfg.Now())
		}
	}
}

func (s *Session) connectLoop(ctx context.Context) {
	backoff := s.cfg.ReconnectMin
	for ctx.Err() == nil {
		conn, err := s.cfg.Transport.Dial(ctx)
		if err != nil {
			s.logger.Debug("dial failed", zap.Duration("retry_in", backoff), zap.Error(err))
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, s.cfg.ReconnectMax)
			continue
		}
		backoff = s.cfg.ReconnectMin

		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		if s.post(func() { s.attach(conn) }) {
			for {
				ev, err := conn.Recv()
				if err != nil {
					s.post(func() { s.detach(conn, err) })
					break
				}
				if !s.post(func() { s.handle(ev) }) {
					break
				}
			}
		}
		stop()
		_ = conn.Close()

		if !sleep(ctx, s.cfg.ReconnectMin) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// post hands fn to the session goroutine. It reports false once Run has returned.
func (s *Session) post(fn func()) bool {
	select {
	case s.ops <- fn:
		return true
	case <-s.done:
		return false
	}
}

// call runs fn on the session goroutine and waits for it.
func (s *Session) call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case s.ops <- func() { fn(); close(finished) }:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) notify(u Update) {
	if s.cfg.OnUpdate != nil {
		s.cfg.OnUpdate(u)
	}
}

// --- connection lifecycle, session goroutine only ---

func (s *Session) attach(conn Conn) {
	s.conn = conn
	s.logger.Info("connected", zap.Int("queued", s.queue.Len()))
	s.notify(Update{Kind: UpdateConnection, Online: true})

	n, err := s.queue.Flush(func(ev events.Event) error {
		if err := conn.Send(ev); err != nil {
			return err
		}
		s.sent(ev)
		return nil
	})
	if err != nil {
		s.logger.Warn("flush interrupted", zap.Int("sent", n), zap.Error(err))
		s.detach(conn, err)
	}
}

// detach forgets conn. Composes that were sent but not confirmed go back to the front of
// the queue; the server drops duplicates by clientTempId.
func (s *Session) detach(conn Conn, cause error) {
	if s.conn != conn {
		return
	}
	s.conn = nil
	_ = conn.Close()
	s.logger.Info("disconnected", zap.Error(cause))

	var inflight []*compose
	for _, c := range s.composes {
		if c.timer != nil {
			c.timer.Stop()
			c.timer = nil
			c.attempt++
			inflight = append(inflight, c)
		}
	}
	sort.Slice(inflight, func(i, j int) bool { return inflight[i].seq < inflight[j].seq })
	requeue := NewOfflineQueue(s.queue.capacity + len(inflight))
	for _, c := range inflight {
		_ = requeue.Push(c.frame)
	}
	for _, ev := range s.queue.items {
		_ = requeue.Push(ev)
	}
	requeue.capacity = s.queue.capacity
	s.queue = requeue

	s.notify(Update{Kind: UpdateConnection, Online: false, Err: cause})
}

func (s *Session) shutdown() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
	for id, c := range s.composes {
		if c.timer != nil {
			c.timer.Stop()
		}
		c.pending.resolve(events.Message{}, ErrClosed)
		delete(s.composes, id)
	}
}

// transmit sends ev now or, when offline and queueable, queues it.
func (s *Session) transmit(ev events.Event, queueable bool) error {
	if s.conn != nil {
		err := s.conn.Send(ev)
		if err == nil {
			s.sent(ev)
			return nil
		}
		s.detach(s.conn, err)
	}
	if !queueable {
		return ErrOffline
	}
	return s.queue.Push(ev)
}

// sent arms the confirmation timeout once a compose is on the wire.
func (s *Session) sent(ev events.Event) {
	frame, ok := ev.(events.SendMessage)
	if !ok {
		return
	}
	c, ok := s.composes[frame.ClientTempID]
	if !ok {
		return
	}
	c.attempt++
	attempt, tempID := c.attempt, frame.ClientTempID
	c.timer = time.AfterFunc(s.cfg.ConfirmTimeout, func() {
		s.post(func() { s.expire(tempID, attempt) })
	})
}

func (s *Session) expire(tempID string, attempt int) {
	c, ok := s.composes[tempID]
	if !ok || c.attempt != attempt {
		return
	}
	s.fail(tempID, ErrTimeout)
}

// fail rolls back the optimistic copy and surfaces err.
func (s *Session) fail(tempID string, err error) {
	c, ok := s.composes[tempID]
	if !ok {
		return
	}
	delete(s.composes, tempID)
	if c.timer != nil {
		c.timer.Stop()
	}
	s.store.Rollback(tempID)
	c.pending.resolve(events.Message{}, err)
	s.logger.Warn("compose rolled back", zap.String("client_temp_id", tempID), zap.Error(err))
	s.notify(Update{Kind: UpdateFailed, Chat: c.pending.Chat, TempID: tempID, Err: err})
}

func (s *Session) tick(now time.Time) {
	if t, ok := s.debounce.Tick(now); ok && s.open != nil {
		_ = s.transmit(s.typingFrame(t, *s.open), false)
	}
	for _, ref := range s.typing.Expire(now) {
		s.notify(Update{Kind: UpdateTyping, Chat: ref})
	}
}

// --- inbound events ---

func (s *Session) handle(ev events.Event) {
	switch e := ev.(type) {
	case events.MessageSaved:
		c, ok := s.composes[e.ClientTempID]
		if !ok {
			// Sent from another device, or confirmed after the local timeout.
			if s.store.Upsert(e.Message) {
				s.notify(Update{Kind: UpdateMessages, Chat: refOf(s.cfg.UserID, e.Message), MessageID: e.Message.ID})
			}
			return
		}
		delete(s.composes, e.ClientTempID)
		if c.timer != nil {
			c.timer.Stop()
		}
		s.store.Confirm(e.ClientTempID, e.Message)
		c.pending.resolve(e.Message, nil)
		s.notify(Update{Kind: UpdateConfirmed, Chat: c.pending.Chat, TempID: e.ClientTempID, MessageID: e.Message.ID})

	case events.MessageError:
		s.fail(e.ClientTempID, &ServerError{Op: string(events.TypeSendMessage), Kind: e.Error, Details: e.Details})

	case events.NewMessage:
		ref := refOf(s.cfg.UserID, e.Message)
		if !s.store.Upsert(e.Message) {
			return
		}
		s.typing.Clear(ref, e.Message.SenderID)
		if e.Message.SenderID != s.cfg.UserID {
			_ = s.transmit(events.MessageDelivered{MessageID: e.Message.ID}, true)
			if s.open != nil && *s.open == ref {
				_ = s.transmit(events.MessageSeen{MessageID: e.Message.ID}, true)
			}
		}
		s.notify(Update{Kind: UpdateMessages, Chat: ref, MessageID: e.Message.ID})

	case events.MessageStatusUpdate:
		if s.store.ApplyStatus(e.MessageID, e.Status, s.cfg.Now()) {
			s.notifyMessage(e.MessageID)
		}

	case events.ReactionAdded:
		if s.store.ApplyReaction(e.MessageID, e.Reaction, true) {
			s.notifyMessage(e.MessageID)
		}

	case events.ReactionRemoved:
		if s.store.ApplyReaction(e.MessageID, e.Reaction, false) {
			s.notifyMessage(e.MessageID)
		}

	case events.MessageDeleted:
		s.store.ApplyDeleted(e.MessageID, e.ForEveryone)
		s.notifyMessage(e.MessageID)

	case events.MessagePinned:
		if s.store.ApplyPinned(e.MessageID, e.IsPinned) {
			s.notifyMessage(e.MessageID)
		}

	case events.UserTyping:
		ref := ChatRef{ID: e.ChatID, IsGroup: e.IsGroup}
		s.typing.Set(ref, e.UserID, s.cfg.Now())
		s.notify(Update{Kind: UpdateTyping, Chat: ref, UserID: e.UserID})

	case events.UserStoppedTyping:
		ref := ChatRef{ID: e.ChatID, IsGroup: e.IsGroup}
		if s.typing.Clear(ref, e.UserID) {
			s.notify(Update{Kind: UpdateTyping, Chat: ref, UserID: e.UserID})
		}

	case events.UnreadCountUpdate:
		ref := ChatRef{ID: e.ChatID, IsGroup: e.IsGroup}
		s.store.SetUnread(ref, e.UnreadCount)
		s.notify(Update{Kind: UpdateUnread, Chat: ref})

	case events.UserOnline:
		s.online[e.UserID] = true
		s.notify(Update{Kind: UpdatePresence, UserID: e.UserID, Online: true})

	case events.UserOffline:
		delete(s.online, e.UserID)
		s.notify(Update{Kind: UpdatePresence, UserID: e.UserID, Online: false})

	case events.ActionError:
		err := &ServerError{Op: e.Op, Kind: e.Error, Details: e.Details}
		s.logger.Warn("server rejected action", zap.String("op", e.Op), zap.String("message_id", e.MessageID), zap.Error(err))
		s.notify(Update{Kind: UpdateFailed, MessageID: e.MessageID, Err: err})

	case events.Pong:

	default:
		s.logger.Debug("ignored event", zap.String("type", string(ev.Type())))
	}
}

func (s *Session) notifyMessage(messageID string) {
	m, ok := s.store.Lookup(messageID)
	if !ok {
		return
	}
	s.notify(Update{Kind: UpdateMessages, Chat: refOf(s.cfg.UserID, m), MessageID: messageID})
}

func (s *Session) typingFrame(t events.Type, ref ChatRef) events.Event {
	sig := events.TypingSignal{UserID: s.cfg.UserID, ChatID: ref.ID, IsGroup: ref.IsGroup}
	if t == events.TypeStopTyping {
		return events.StopTyping{TypingSignal: sig}
	}
	return events.Typing{TypingSignal: sig}
}

// --- public API ---

// Send inserts an optimistic copy of d and submits it, queueing it while offline. The
// returned Pending resolves with the canonical message or the reason it was rolled back.
func (s *Session) Send(ctx context.Context, d Draft) (*Pending, error) {
	content := strings.TrimSpace(d.Content)
	if d.To.ID == "" {
		return nil, errors.New("draft has no recipient")
	}
	if content == "" && len(d.Attachments) == 0 {
		return nil, errors.New("draft is empty")
	}

	var p *Pending
	var sendErr error
	err := s.call(ctx, func() {
		tempID := s.cfg.NewTempID()
		frame := events.SendMessage{
			ClientTempID:           tempID,
			SenderID:               s.cfg.UserID,
			Content:                content,
			Attachments:            d.Attachments,
			ReplyToID:              d.ReplyToID,
			ForwardedFromMessageID: d.ForwardedFromMessageID,
		}
		optimistic := events.Message{
			SenderID:               s.cfg.UserID,
			Content:                content,
			Attachments:            d.Attachments,
			ReplyToID:              d.ReplyToID,
			ForwardedFromMessageID: d.ForwardedFromMessageID,
			CreatedAt:              s.cfg.Now(),
		}
		if d.To.IsGroup {
			frame.GroupID, optimistic.GroupID = d.To.ID, d.To.ID
		} else {
			frame.ReceiverID, optimistic.ReceiverID = d.To.ID, d.To.ID
		}

		ref := s.store.InsertOptimistic(tempID, optimistic)
		p = &Pending{TempID: tempID, Chat: ref, done: make(chan struct{})}
		s.seq++
		s.composes[tempID] = &compose{pending: p, frame: frame, seq: s.seq}
		s.notify(Update{Kind: UpdateMessages, Chat: ref, TempID: tempID})

		if s.open != nil && *s.open == ref {
			if t, ok := s.debounce.Reset(); ok {
				_ = s.transmit(s.typingFrame(t, ref), false)
			}
		}
		if err := s.transmit(frame, true); err != nil {
			s.fail(tempID, fmt.Errorf("queue compose: %w", err))
			sendErr = err
		}
	})
	if err != nil {
		return nil, err
	}
	return p, sendErr
}

// OpenChat merges a fetched backlog, marks the chat read and makes it the chat whose
// incoming messages are acknowledged as seen.
func (s *Session) OpenChat(ctx context.Context, ref ChatRef, backlog []events.Message) error {
	return s.call(ctx, func() {
		if s.open != nil && *s.open != ref {
			if t, ok := s.debounce.Reset(); ok {
				_ = s.transmit(s.typingFrame(t, *s.open), false)
			}
		}
		for _, m := range backlog {
			s.store.Upsert(m)
		}
		s.open = &ref
		s.store.SetUnread(ref, 0)
		_ = s.transmit(events.MarkChatAsRead{ChatID: ref.ID, UserID: s.cfg.UserID, IsGroup: ref.IsGroup}, true)
		s.notify(Update{Kind: UpdateMessages, Chat: ref})
	})
}

func (s *Session) CloseChat(ctx context.Context) error {
	return s.call(ctx, func() {
		if s.open == nil {
			return
		}
		if t, ok := s.debounce.Reset(); ok {
			_ = s.transmit(s.typingFrame(t, *s.open), false)
		}
		s.open = nil
	})
}

// Input reports the composer text of the open chat. Typing signals are debounced and
// never queued.
func (s *Session) Input(ctx context.Context, text string) error {
	var inputErr error
	err := s.call(ctx, func() {
		if s.open == nil {
			inputErr = ErrNoOpenChat
			return
		}
		if t, ok := s.debounce.Input(s.cfg.Now(), text); ok {
			_ = s.transmit(s.typingFrame(t, *s.open), false)
		}
	})
	if err != nil {
		return err
	}
	return inputErr
}

func (s *Session) React(ctx context.Context, messageID, emoji string) error {
	return s.action(ctx, events.AddReaction{MessageID: messageID, UserID: s.cfg.UserID, Emoji: emoji})
}

func (s *Session) Unreact(ctx context.Context, messageID, emoji string) error {
	return s.action(ctx, events.RemoveReaction{MessageID: messageID, UserID: s.cfg.UserID, Emoji: emoji})
}

func (s *Session) Delete(ctx context.Context, messageID string, forEveryone bool) error {
	return s.action(ctx, events.DeleteMessage{MessageID: messageID, UserID: s.cfg.UserID, DeleteForEveryone: forEveryone})
}

func (s *Session) Pin(ctx context.Context, messageID string, pinned bool) error {
	var actionErr error
	err := s.call(ctx, func() {
		m, ok := s.store.Lookup(messageID)
		if !ok {
			actionErr = fmt.Errorf("pin %s: message not cached", messageID)
			return
		}
		frame := events.PinMessage{MessageID: messageID, IsPinned: pinned}
		if ref := refOf(s.cfg.UserID, m); ref.IsGroup {
			frame.GroupID = ref.ID
		} else {
			frame.ChatID = ref.ID
		}
		actionErr = s.transmit(frame, true)
	})
	if err != nil {
		return err
	}
	return actionErr
}

func (s *Session) action(ctx context.Context, ev events.Event) error {
	var actionErr error
	err := s.call(ctx, func() { actionErr = s.transmit(ev, true) })
	if err != nil {
		return err
	}
	return actionErr
}

// Messages returns the visible messages of a chat, pending ones last.
func (s *Session) Messages(ctx context.Context, ref ChatRef) ([]Entry, error) {
	var out []Entry
	err := s.call(ctx, func() { out = s.store.Messages(ref) })
	return out, err
}

func (s *Session) TypingIn(ctx context.Context, ref ChatRef) ([]string, error) {
	var out []string
	err := s.call(ctx, func() { out = s.typing.Typing(ref) })
	return out, err
}

func (s *Session) Unread(ctx context.Context, ref ChatRef) (int64, error) {
	var n int64
	err := s.call(ctx, func() { n = s.store.Unread(ref) })
	return n, err
}

func (s *Session) Connected(ctx context.Context) (bool, error) {
	var up bool
	err := s.call(ctx, func() { up = s.conn != nil })
	return up, err
}

func (s *Session) Queued(ctx context.Context) (int, error) {
	var n int
	err := s.call(ctx, func() { n = s.queue.Len() })
	return n, err
}
