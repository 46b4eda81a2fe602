package services

import (
	"corpchat/internal/metrics"
	"corpchat/internal/presence"
	"corpchat/pkg/events"

	"go.uber.org/zap"
)

// Emitter delivers events to every live connection of a user. Sends never block: a
// connection whose buffer is full is dropped from the registry and closed.
type Emitter struct {
	registry *presence.Registry
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

func NewEmitter(registry *presence.Registry, m *metrics.Metrics, logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{registry: registry, metrics: m, logger: logger}
}

// ToUser sends ev to all of userID's connections and reports how many accepted it.
func (e *Emitter) ToUser(userID string, ev events.Event) int {
	conns := e.registry.ConnectionsFor(userID)
	if len(conns) == 0 {
		return 0
	}
	data, err := events.Encode(ev)
	if err != nil {
		e.logger.Error("encode event failed", zap.String("type", string(ev.Type())), zap.Error(err))
		return 0
	}
	delivered := 0
	for _, c := range conns {
		if e.send(c, ev.Type(), data) {
			delivered++
		}
	}
	return delivered
}

// ToUsers sends ev to every listed user except skip.
func (e *Emitter) ToUsers(userIDs []string, skip string, ev events.Event) {
	for _, id := range userIDs {
		if id == skip {
			continue
		}
		e.ToUser(id, ev)
	}
}

// ToConn sends ev to one connection.
func (e *Emitter) ToConn(c presence.Conn, ev events.Event) bool {
	data, err := events.Encode(ev)
	if err != nil {
		e.logger.Error("encode event failed", zap.String("type", string(ev.Type())), zap.Error(err))
		return false
	}
	return e.send(c, ev.Type(), data)
}

func (e *Emitter) send(c presence.Conn, t events.Type, data []byte) bool {
	if c.Send(data) {
		e.metrics.EventSent(string(t))
		return true
	}
	e.logger.Warn("client send buffer full, dropping connection",
		zap.String("event", string(t)),
		zap.String("user_id", c.UserID()),
		zap.String("client_id", c.ID()))
	e.metrics.ConnectionDropped()
	e.registry.Disconnect(c)
	c.Close()
	return false
}

// Online reports whether userID has any live connection.
func (e *Emitter) Online(userID string) bool {
	return e.registry.IsOnline(userID)
}
