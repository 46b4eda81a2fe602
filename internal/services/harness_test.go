package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"corpchat/internal/domain/chat"
	"corpchat/internal/metrics"
	"corpchat/internal/presence"
	"corpchat/internal/proxy"
	redisstore "corpchat/internal/redis"
	"corpchat/internal/repository"
	"corpchat/pkg/events"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeConn struct {
	id     string
	userID string

	mu     sync.Mutex
	frames []events.Event
	full   bool
	closed bool
}

func (c *fakeConn) ID() string     { return c.id }
func (c *fakeConn) UserID() string { return c.userID }

func (c *fakeConn) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full || c.closed {
		return false
	}
	ev, err := events.Decode(data)
	if err != nil {
		panic(err)
	}
	c.frames = append(c.frames, ev)
	return true
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) Events() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.frames...)
}

func (c *fakeConn) Reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

// ofType filters the events a connection received by their concrete type.
func ofType[T events.Event](c *fakeConn) []T {
	var out []T
	for _, ev := range c.Events() {
		if v, ok := ev.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls map[string][]events.Message
}

func (n *recordingNotifier) NotifyOffline(_ context.Context, recipientID string, m events.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.calls == nil {
		n.calls = make(map[string][]events.Message)
	}
	n.calls[recipientID] = append(n.calls[recipientID], m)
	return nil
}

func (n *recordingNotifier) For(userID string) []events.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]events.Message(nil), n.calls[userID]...)
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	clock     *fakeClock
	gateway   *repository.MemoryGateway
	registry  *presence.Registry
	redis     *goredis.Client
	unread    *redisstore.UnreadStore
	notifier  *recordingNotifier
	core      *Core
	ingest    *IngestService
	receipts  *ReceiptService
	typing    *TypingService
	mutations *MutationService
	history   *HistoryService
	presence  *PresenceService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := zaptest.NewLogger(t)
	clock := &fakeClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	gateway := repository.NewMemoryGateway()
	registry := presence.NewRegistry(presence.WithClock(clock.Now), presence.WithLogger(logger))
	m := metrics.New(prometheus.NewRegistry())
	access := proxy.NewAccessControl(gateway, redisstore.NewCacheStore(client, redisstore.CacheConfig{RosterTTL: time.Minute}), logger)

	core := NewCore(gateway, access, NewEmitter(registry, m, logger), m, logger, time.Second)
	core.Now = clock.Now

	h := &harness{
		t:        t,
		ctx:      context.Background(),
		clock:    clock,
		gateway:  gateway,
		registry: registry,
		redis:    client,
		unread:   redisstore.NewUnreadStore(client),
		notifier: &recordingNotifier{},
		core:     core,
	}
	h.ingest = NewIngestService(core,
		WithUnreadCounter(h.unread),
		WithOfflineNotifier(h.notifier),
		WithSendLimiter(redisstore.NewRateLimiter(client, redisstore.RateLimitConfig{MessageLimit: 100, MessageWindow: time.Minute})))
	h.receipts = NewReceiptService(core, h.unread)
	h.typing = NewTypingService(core, 3*time.Second)
	h.mutations = NewMutationService(core)
	h.history = NewHistoryService(core)
	h.presence = NewPresenceService(core, registry, h.typing,
		redisstore.NewPresenceStore(client, redisstore.NewPublisher(client), time.Hour),
		redisstore.NewPresenceStore(client, nil, time.Hour))
	return h
}

func (h *harness) connect(userID string) *fakeConn {
	c := &fakeConn{id: uuid.NewString(), userID: userID}
	h.registry.Connect(userID, c)
	return c
}

func (h *harness) group(id string, members ...string) {
	h.t.Helper()
	roster := make([]chat.Member, len(members))
	for i, m := range members {
		roster[i] = chat.Member{UserID: m}
	}
	require.NoError(h.t, h.gateway.CreateGroup(h.ctx, chat.Group{ID: id, Name: id}, roster))
}

// send composes a direct message and advances the clock so createdAt values differ.
func (h *harness) send(from, to, temp, content string) events.Message {
	h.t.Helper()
	m, err := h.ingest.Ingest(h.ctx, SendRequest{ClientTempID: temp, SenderID: from, ReceiverID: to, Content: content})
	require.NoError(h.t, err)
	h.clock.Advance(time.Second)
	return m
}
