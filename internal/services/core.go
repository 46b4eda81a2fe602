package services

import (
	"context"
	"time"

	"corpchat/internal/domain/message"
	"corpchat/internal/metrics"
	"corpchat/internal/proxy"
	"corpchat/internal/repository"
	corpchat_errors "corpchat/pkg/errors"
	"corpchat/pkg/events"

	"go.uber.org/zap"
)

const DefaultPersistTimeout = 10 * time.Second

// Core bundles what every messaging service needs. One Core is shared by all services
// of a process so they sequence on the same per-chat locks.
type Core struct {
	Gateway   repository.Gateway
	Access    *proxy.AccessControl
	Emitter   *Emitter
	Sequencer *Sequencer
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Timeout   time.Duration
	Now       func() time.Time
}

// NewCore fills defaults for optional fields.
func NewCore(gateway repository.Gateway, access *proxy.AccessControl, emitter *Emitter, m *metrics.Metrics, logger *zap.Logger, timeout time.Duration) *Core {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = DefaultPersistTimeout
	}
	return &Core{
		Gateway:   gateway,
		Access:    access,
		Emitter:   emitter,
		Sequencer: NewSequencer(),
		Metrics:   m,
		Logger:    logger,
		Timeout:   timeout,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// persist runs a gateway call under the persistence budget and maps its failure onto the
// error taxonomy.
func (c *Core) persist(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	c.Metrics.ObserveGateway(op, start)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return corpchat_errors.Persistence(op, context.DeadlineExceeded)
	}
	return corpchat_errors.Persistence(op, err)
}

// lock takes the per-chat lock, bounded by the persistence budget.
func (c *Core) lock(ctx context.Context, op, chatKey string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()
	unlock, err := c.Sequencer.Lock(ctx, chatKey)
	if err != nil {
		return nil, corpchat_errors.Persistence(op, err)
	}
	return unlock, nil
}

// loadMessage fetches a message by ID. Unknown IDs are stale targets.
func (c *Core) loadMessage(ctx context.Context, op, messageID string) (message.Message, error) {
	if messageID == "" {
		return message.Message{}, corpchat_errors.Validation(op, "messageId is required")
	}
	var m message.Message
	err := c.persist(ctx, op, func(ctx context.Context) error {
		var err error
		m, err = c.Gateway.GetMessage(ctx, messageID)
		return err
	})
	if err != nil {
		if corpchat_errors.KindOf(err) == corpchat_errors.KindStaleTarget {
			return message.Message{}, corpchat_errors.Stale(op, "message "+messageID+" does not exist")
		}
		return message.Message{}, err
	}
	return m, nil
}

// fail reports err to the actor's connections as an error event and returns it.
func (c *Core) fail(actorID, op, messageID string, err error) error {
	if err == nil {
		return nil
	}
	kind := corpchat_errors.KindOf(err)
	c.Logger.Warn("action failed",
		zap.String("op", op),
		zap.String("user_id", actorID),
		zap.String("message_id", messageID),
		zap.String("kind", string(kind)),
		zap.Error(err))
	c.Emitter.ToUser(actorID, events.ActionError{
		Op:        op,
		Error:     string(kind),
		Details:   err.Error(),
		MessageID: messageID,
	})
	return err
}
