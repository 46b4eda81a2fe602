package presence

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	id, user string
	mu       sync.Mutex
	closed   bool
}

func (c *fakeConn) ID() string            { return c.id }
func (c *fakeConn) UserID() string        { return c.user }
func (c *fakeConn) Send(data []byte) bool { return true }
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

type recorder struct {
	mu      sync.Mutex
	online  []string
	offline []string
}

func (r *recorder) UserOnline(userID string) {
	r.mu.Lock()
	r.online = append(r.online, userID)
	r.mu.Unlock()
}

func (r *recorder) UserOffline(userID string, lastSeen time.Time) {
	r.mu.Lock()
	r.offline = append(r.offline, userID)
	r.mu.Unlock()
}

func TestMultiDevicePresence(t *testing.T) {
	at := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	reg := NewRegistry(WithClock(func() time.Time { return at }))
	rec := &recorder{}
	reg.AddListener(rec)

	phone := &fakeConn{id: "c1", user: "alice"}
	laptop := &fakeConn{id: "c2", user: "alice"}

	reg.Connect("alice", phone)
	reg.Connect("alice", laptop)
	assert.True(t, reg.IsOnline("alice"))
	assert.Equal(t, []Conn{phone, laptop}, reg.ConnectionsFor("alice"))
	assert.Equal(t, []string{"alice"}, rec.online, "online fires once for the first device")

	reg.Disconnect(phone)
	assert.True(t, reg.IsOnline("alice"))
	assert.Empty(t, rec.offline)

	reg.Disconnect(laptop)
	assert.False(t, reg.IsOnline("alice"))
	assert.Equal(t, []string{"alice"}, rec.offline)

	seen, ok := reg.LastSeen("alice")
	require.True(t, ok)
	assert.Equal(t, at, seen)
}

func TestDisconnectUnknownIsNoop(t *testing.T) {
	reg := NewRegistry()
	rec := &recorder{}
	reg.AddListener(rec)

	c := &fakeConn{id: "c1", user: "bob"}
	reg.Disconnect(c)
	reg.Connect("bob", c)
	reg.Disconnect(c)
	reg.Disconnect(c)

	assert.Len(t, rec.offline, 1)
	assert.Empty(t, reg.ConnectionsFor("bob"))
}

func TestMaxConnectionsEvictsOldest(t *testing.T) {
	reg := NewRegistry(WithMaxConnectionsPerUser(2))
	conns := make([]*fakeConn, 3)
	for i := range conns {
		conns[i] = &fakeConn{id: fmt.Sprintf("c%d", i), user: "carol"}
		reg.Connect("carol", conns[i])
	}

	assert.True(t, conns[0].isClosed())
	assert.Equal(t, []Conn{conns[1], conns[2]}, reg.ConnectionsFor("carol"))

	// the evicted connection's own disconnect must not take the user offline
	reg.Disconnect(conns[0])
	assert.True(t, reg.IsOnline("carol"))
}

func TestConcurrentConnectDisconnect(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for u := 0; u < 20; u++ {
		for d := 0; d < 5; d++ {
			wg.Add(1)
			go func(u, d int) {
				defer wg.Done()
				user := fmt.Sprintf("user-%d", u)
				c := &fakeConn{id: fmt.Sprintf("%s-%d", user, d), user: user}
				reg.Connect(user, c)
				_ = reg.ConnectionsFor(user)
				if d%2 == 0 {
					reg.Disconnect(c)
				}
			}(u, d)
		}
	}
	wg.Wait()

	assert.Equal(t, 20, reg.OnlineCount())
	assert.Equal(t, 40, reg.ConnectionCount())
}
