// Package presence tracks which users hold live connections. A user may be connected from
// several devices at once; they are online while at least one connection is registered.
package presence

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Conn is a live connection handle as seen by the registry.
type Conn interface {
	ID() string
	UserID() string
	// Send queues data without blocking. It reports false when the connection cannot
	// accept more data.
	Send(data []byte) bool
	Close()
}

// Listener is notified on a user's first connect and last disconnect. Callbacks run on
// the goroutine that caused the transition, after the registry lock is released.
type Listener interface {
	UserOnline(userID string)
	UserOffline(userID string, lastSeen time.Time)
}

type entry struct {
	conn Conn
	seq  uint64
}

type Registry struct {
	mu         sync.RWMutex
	users      map[string]map[string]entry
	lastSeen   map[string]time.Time
	listeners  []Listener
	seq        uint64
	maxPerUser int
	now        func() time.Time
	logger     *zap.Logger
}

type Option func(*Registry)

// WithMaxConnectionsPerUser caps simultaneous connections; the oldest is evicted when a
// new one would exceed the cap. Zero disables the cap.
func WithMaxConnectionsPerUser(n int) Option {
	return func(r *Registry) { r.maxPerUser = n }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		users:    make(map[string]map[string]entry),
		lastSeen: make(map[string]time.Time),
		now:      time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddListener registers l. Not safe to call concurrently with Connect/Disconnect.
func (r *Registry) AddListener(l Listener) {
	r.listeners = append(r.listeners, l)
}

// Connect registers c for userID. Registering the same handle twice is a no-op.
func (r *Registry) Connect(userID string, c Conn) {
	r.mu.Lock()
	conns, ok := r.users[userID]
	if !ok {
		conns = make(map[string]entry)
		r.users[userID] = conns
	}
	if _, dup := conns[c.ID()]; dup {
		r.mu.Unlock()
		return
	}

	var evicted Conn
	if r.maxPerUser > 0 && len(conns) >= r.maxPerUser {
		evicted = oldest(conns)
		delete(conns, evicted.ID())
	}

	first := len(conns) == 0
	r.seq++
	conns[c.ID()] = entry{conn: c, seq: r.seq}
	r.mu.Unlock()

	if evicted != nil {
		r.logger.Warn("max connections per user reached, evicting oldest",
			zap.String("user_id", userID),
			zap.String("client_id", evicted.ID()))
		evicted.Close()
	}
	if first {
		for _, l := range r.listeners {
			l.UserOnline(userID)
		}
	}
}

// Disconnect removes c. Unknown handles are ignored.
func (r *Registry) Disconnect(c Conn) {
	userID := c.UserID()

	r.mu.Lock()
	conns, ok := r.users[userID]
	if !ok {
		r.mu.Unlock()
		return
	}
	if _, ok := conns[c.ID()]; !ok {
		r.mu.Unlock()
		return
	}
	delete(conns, c.ID())

	last := len(conns) == 0
	var seen time.Time
	if last {
		delete(r.users, userID)
		seen = r.now()
		r.lastSeen[userID] = seen
	}
	r.mu.Unlock()

	if last {
		for _, l := range r.listeners {
			l.UserOffline(userID, seen)
		}
	}
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[userID]) > 0
}

// ConnectionsFor returns a snapshot of userID's connections, oldest first.
func (r *Registry) ConnectionsFor(userID string) []Conn {
	r.mu.RLock()
	conns := r.users[userID]
	entries := make([]entry, 0, len(conns))
	for _, e := range conns {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].seq < entries[j].seq
	})
	out := make([]Conn, len(entries))
	for i, e := range entries {
		out[i] = e.conn
	}
	return out
}

// LastSeen returns when userID's last connection closed. The second value is false if
// the user has not disconnected since the registry started.
func (r *Registry) LastSeen(userID string) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.lastSeen[userID]
	return t, ok
}

func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}

func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, conns := range r.users {
		n += len(conns)
	}
	return n
}

// CloseAll closes every registered connection. Used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	var all []Conn
	for _, conns := range r.users {
		for _, e := range conns {
			all = append(all, e.conn)
		}
	}
	r.mu.RUnlock()

	for _, c := range all {
		c.Close()
	}
}

func oldest(conns map[string]entry) Conn {
	var (
		found entry
		set   bool
	)
	for _, e := range conns {
		if !set || e.seq < found.seq {
			found, set = e, true
		}
	}
	return found.conn
}
