package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"corpchat/config"
	"corpchat/internal/handler"
	"corpchat/internal/metrics"
	"corpchat/internal/presence"
	"corpchat/internal/proxy"
	redisstore "corpchat/internal/redis"
	"corpchat/internal/repository"
	"corpchat/internal/services"
	"corpchat/pkg/events"
	"corpchat/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type testServer struct {
	t        *testing.T
	http     *httptest.Server
	auth     *services.AuthService
	registry *presence.Registry
	hub      *Hub
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	zl := zaptest.NewLogger(t)
	m := metrics.New(prometheus.NewRegistry())
	gateway := repository.NewMemoryGateway()
	registry := presence.NewRegistry(presence.WithLogger(zl))
	access := proxy.NewAccessControl(gateway, redisstore.NewCacheStore(client, redisstore.DefaultCacheConfig()), zl)
	emitter := services.NewEmitter(registry, m, zl)
	core := services.NewCore(gateway, access, emitter, m, zl, time.Second)

	unread := redisstore.NewUnreadStore(client)
	limiter := redisstore.NewRateLimiter(client, redisstore.DefaultRateLimitConfig())
	ingest := services.NewIngestService(core, services.WithUnreadCounter(unread), services.WithSendLimiter(limiter))
	receipts := services.NewReceiptService(core, unread)
	typing := services.NewTypingService(core, services.DefaultTypingTTL)
	mutations := services.NewMutationService(core)
	history := services.NewHistoryService(core)
	store := redisstore.NewPresenceStore(client, nil, time.Hour)
	presenceSvc := services.NewPresenceService(core, registry, typing, store, store)
	auth := services.NewAuthService("test-secret", time.Hour)

	hub := NewHub(registry, NewDispatcher(ingest, receipts, typing, mutations, emitter), emitter, m, zl)

	srv := New(&config.Config{AppPort: "0", AppMode: TestMode, CORSOrigins: "*"}, &logger.Logger{Logger: zl})
	srv.SetupRoutes(&Handlers{
		Auth:      handler.NewAuthHandler(auth),
		History:   handler.NewHistoryHandler(history, unread),
		Presence:  handler.NewPresenceHandler(presenceSvc),
		Upload:    handler.NewUploadHandler(nil),
		WebSocket: NewWebSocketHandler(hub, auth),
	}, Deps{Auth: auth, Limiter: limiter, Metrics: m})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		ts.Close()
	})
	return &testServer{t: t, http: ts, auth: auth, registry: registry, hub: hub}
}

func (s *testServer) token(userID string) string {
	s.t.Helper()
	res, err := s.auth.Issue(userID)
	require.NoError(s.t, err)
	return res.AccessToken
}

func (s *testServer) dial(userID string) *websocket.Conn {
	s.t.Helper()
	url := "ws" + strings.TrimPrefix(s.http.URL, "http") + "/ws?token=" + s.token(userID)
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(s.t, err)
	require.Equal(s.t, http.StatusSwitchingProtocols, resp.StatusCode)
	s.t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(s.t, func() bool { return s.registry.IsOnline(userID) }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func write(t *testing.T, conn *websocket.Conn, ev events.Event) {
	t.Helper()
	data, err := events.Encode(ev)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// next reads frames until one of type T arrives.
func next[T events.Event](t *testing.T, conn *websocket.Conn) T {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		ev, err := events.Decode(data)
		require.NoError(t, err)
		if v, ok := ev.(T); ok {
			return v
		}
	}
}

func TestWebSocketRejectsMissingAndBadTokens(t *testing.T) {
	s := newTestServer(t)
	url := "ws" + strings.TrimPrefix(s.http.URL, "http") + "/ws"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?token=garbage", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDirectMessageRoundTrip(t *testing.T) {
	s := newTestServer(t)
	alice := s.dial("alice")
	bob := s.dial("bob")

	write(t, alice, events.SendMessage{ClientTempID: "t1", ReceiverID: "bob", Content: "hello"})

	saved := next[events.MessageSaved](t, alice)
	assert.Equal(t, "t1", saved.ClientTempID)
	assert.Equal(t, "alice", saved.Message.SenderID)

	got := next[events.NewMessage](t, bob)
	assert.Equal(t, saved.Message.ID, got.Message.ID)
	unread := next[events.UnreadCountUpdate](t, bob)
	assert.Equal(t, "alice", unread.ChatID)
	assert.EqualValues(t, 1, unread.UnreadCount)

	write(t, bob, events.MessageSeen{MessageID: got.Message.ID})
	status := next[events.MessageStatusUpdate](t, alice)
	assert.Equal(t, events.StatusSeen, status.Status)
	assert.Equal(t, "bob", status.UserID)
	assert.Equal(t, "bob", status.ChatID)
}

func TestSpoofedIdentityIsRejected(t *testing.T) {
	s := newTestServer(t)
	alice := s.dial("alice")
	s.dial("bob")

	write(t, alice, events.SendMessage{ClientTempID: "t1", SenderID: "bob", ReceiverID: "carol", Content: "hi"})
	failed := next[events.MessageError](t, alice)
	assert.Equal(t, "t1", failed.ClientTempID)
	assert.Equal(t, "PERMISSION_ERROR", failed.Error)

	write(t, alice, events.AddReaction{MessageID: "m1", UserID: "bob", Emoji: "👍"})
	actionErr := next[events.ActionError](t, alice)
	assert.Equal(t, "addReaction", actionErr.Op)
	assert.Equal(t, "PERMISSION_ERROR", actionErr.Error)
}

func TestPingAndServerOnlyEvents(t *testing.T) {
	s := newTestServer(t)
	alice := s.dial("alice")

	write(t, alice, events.Ping{})
	next[events.Pong](t, alice)

	write(t, alice, events.NewMessage{})
	actionErr := next[events.ActionError](t, alice)
	assert.Equal(t, "VALIDATION_ERROR", actionErr.Error)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte(`{"type":"nope"}`)))
	actionErr = next[events.ActionError](t, alice)
	assert.Equal(t, "decode", actionErr.Op)
}

func TestHistoryOverREST(t *testing.T) {
	s := newTestServer(t)
	alice := s.dial("alice")
	write(t, alice, events.SendMessage{ClientTempID: "t1", ReceiverID: "bob", Content: "one"})
	next[events.MessageSaved](t, alice)

	req, err := http.NewRequest(http.MethodGet, s.http.URL+"/v1/chats/direct/alice/messages?limit=10", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+s.token("bob"))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Success bool `json:"success"`
		Data    struct {
			Messages []events.Message `json:"messages"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Data.Messages, 1)
	assert.Equal(t, "one", body.Data.Messages[0].Content)

	resp2, err := http.Get(s.http.URL + "/v1/chats/direct/alice/messages")
	require.NoError(t, err)
	resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)
}

func TestSessionEndpoint(t *testing.T) {
	s := newTestServer(t)

	resp, err := http.Post(s.http.URL+"/v1/session", "application/json", strings.NewReader(`{"user_id":"alice"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Data struct {
			AccessToken string `json:"access_token"`
			UserID      string `json:"user_id"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "alice", body.Data.UserID)

	claims, err := s.auth.ParseAccessToken(body.Data.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)

	bad, err := http.Post(s.http.URL+"/v1/session", "application/json", strings.NewReader(`{"user_id":"no spaces"}`))
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestShutdownClosesClients(t *testing.T) {
	s := newTestServer(t)
	alice := s.dial("alice")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.hub.Shutdown(ctx))

	require.NoError(t, alice.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := alice.ReadMessage()
	assert.Error(t, err)
	assert.False(t, s.registry.IsOnline("alice"))
}

func TestDialAfterShutdownIsRejected(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.hub.Shutdown(ctx))

	url := "ws" + strings.TrimPrefix(s.http.URL, "http") + "/ws?token=" + s.token("bob")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.False(t, s.registry.IsOnline("bob"))
	assert.NoError(t, s.hub.Shutdown(ctx), "shutdown is idempotent")
}

func TestShutdownRacingDialsLeavesNobodyOnline(t *testing.T) {
	s := newTestServer(t)
	url := "ws" + strings.TrimPrefix(s.http.URL, "http") + "/ws?token=" + s.token("carol")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, _, err := websocket.DefaultDialer.Dial(url, nil)
			if err == nil {
				t.Cleanup(func() { _ = conn.Close() })
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.hub.Shutdown(ctx))
	wg.Wait()

	assert.Eventually(t, func() bool { return !s.registry.IsOnline("carol") }, 2*time.Second, 10*time.Millisecond)
}
