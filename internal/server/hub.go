package server

import (
	"context"
	"sync"
	"time"

	"corpchat/internal/metrics"
	"corpchat/internal/presence"
	"corpchat/internal/services"

	"go.uber.org/zap"
)

const DefaultSendBuffer = 256

// Hub owns the live websocket clients of this process. Membership itself lives in the
// presence registry; the hub starts and stops the pumps around it.
type Hub struct {
	registry    *presence.Registry
	dispatcher  *Dispatcher
	emitter     *services.Emitter
	metrics     *metrics.Metrics
	rateLimiter *WebSocketRateLimiter
	logger      *WebSocketLogger
	sendBuffer  int
	limits      RateLimits

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type HubOption func(*Hub)

func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

func WithRateLimits(l RateLimits) HubOption {
	return func(h *Hub) { h.limits = l }
}

func NewHub(registry *presence.Registry, dispatcher *Dispatcher, emitter *services.Emitter, m *metrics.Metrics, logger *zap.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		registry:    registry,
		dispatcher:  dispatcher,
		emitter:     emitter,
		metrics:     m,
		rateLimiter: NewWebSocketRateLimiter(10, time.Minute),
		logger:      NewWebSocketLogger(logger),
		sendBuffer:  DefaultSendBuffer,
		limits:      DefaultRateLimits,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run sweeps the connection rate limiter until ctx ends.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.rateLimiter.Cleanup()
		}
	}
}

// register starts the pumps of client. Once the hub is shut down it closes the client
// instead and reports false.
func (h *Hub) register(client *Client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		client.Close()
		h.logger.Info("client rejected during shutdown", client.userID, client.clientID)
		return false
	}
	// Shutdown flips closed under mu, so every client it has to close is registered by then.
	h.wg.Add(2)
	h.registry.Connect(client.userID, client)
	h.mu.Unlock()

	h.metrics.ConnectionOpened()
	h.logger.Info("client connected", client.userID, client.clientID)

	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
	return true
}

func (h *Hub) unregister(client *Client) {
	h.registry.Disconnect(client)
	client.Close()
	h.metrics.ConnectionClosed()
	h.logger.Info("client disconnected", client.userID, client.clientID,
		zap.Duration("connected_for", time.Since(client.connectedAt)))
}

// Shutdown closes every client and waits for their pumps to exit or ctx to end.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.registry.CloseAll()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WebSocketRateLimiter caps how often one user may open connections.
type WebSocketRateLimiter struct {
	limit              int
	window             time.Duration
	connectionsPerUser map[string][]time.Time
	mu                 sync.Mutex
}

func NewWebSocketRateLimiter(limit int, window time.Duration) *WebSocketRateLimiter {
	return &WebSocketRateLimiter{
		limit:              limit,
		window:             window,
		connectionsPerUser: make(map[string][]time.Time),
	}
}

func (w *WebSocketRateLimiter) AllowConnection(userID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-w.window)

	valid := w.connectionsPerUser[userID][:0]
	for _, t := range w.connectionsPerUser[userID] {
		if t.After(windowStart) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= w.limit {
		w.connectionsPerUser[userID] = valid
		return false
	}

	w.connectionsPerUser[userID] = append(valid, now)
	return true
}

func (w *WebSocketRateLimiter) Cleanup() {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := time.Now().Add(-w.window)
	for userID, times := range w.connectionsPerUser {
		valid := times[:0]
		for _, t := range times {
			if t.After(cutoff) {
				valid = append(valid, t)
			}
		}
		if len(valid) == 0 {
			delete(w.connectionsPerUser, userID)
		} else {
			w.connectionsPerUser[userID] = valid
		}
	}
}
