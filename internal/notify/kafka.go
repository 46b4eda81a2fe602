// Package notify hands messages for offline recipients to the push pipeline.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"corpchat/pkg/events"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

var ErrUnavailable = errors.New("offline notifications unavailable")

// Writer is the part of *kafka.Writer the notifier uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Config struct {
	Brokers     []string
	Topic       string
	Timeout     time.Duration
	MaxFailures uint32
	OpenTimeout time.Duration
}

// OfflineNotification is the record published per offline recipient.
type OfflineNotification struct {
	RecipientID string         `json:"recipientId"`
	Message     events.Message `json:"message"`
	QueuedAt    time.Time      `json:"queuedAt"`
}

// KafkaNotifier publishes offline notifications keyed by recipient. Publishing runs behind
// a circuit breaker so a dead broker costs one fast failure per message.
type KafkaNotifier struct {
	writer  Writer
	cb      *gobreaker.CircuitBreaker
	timeout time.Duration
	logger  *zap.Logger
	now     func() time.Time
}

func NewWriter(cfg Config) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

func NewKafkaNotifier(w Writer, cfg Config, logger *zap.Logger) *KafkaNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 30 * time.Second
	}

	st := gobreaker.Settings{
		Name:        "offline-notify",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	}
	return &KafkaNotifier{
		writer:  w,
		cb:      gobreaker.NewCircuitBreaker(st),
		timeout: cfg.Timeout,
		logger:  logger,
		now:     time.Now,
	}
}

func (n *KafkaNotifier) NotifyOffline(ctx context.Context, recipientID string, m events.Message) error {
	b, err := json.Marshal(OfflineNotification{RecipientID: recipientID, Message: m, QueuedAt: n.now().UTC()})
	if err != nil {
		return err
	}

	_, err = n.cb.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()
		return nil, n.writer.WriteMessages(ctx, kafka.Message{
			Key:   []byte(recipientID),
			Value: b,
			Time:  n.now(),
		})
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

func (n *KafkaNotifier) State() gobreaker.State {
	return n.cb.State()
}

func (n *KafkaNotifier) Close() error {
	if n.writer == nil {
		return nil
	}
	return n.writer.Close()
}
