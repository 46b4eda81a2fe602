package reconcile

import (
	"errors"

	"corpchat/pkg/events"
)

var ErrQueueFull = errors.New("offline queue is full")

const DefaultQueueCapacity = 500

// OfflineQueue holds outbound frames while no connection is up. Frames leave in the
// order they were queued.
type OfflineQueue struct {
	capacity int
	items    []events.Event
}

func NewOfflineQueue(capacity int) *OfflineQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &OfflineQueue{capacity: capacity}
}

func (q *OfflineQueue) Push(ev events.Event) error {
	if len(q.items) >= q.capacity {
		return ErrQueueFull
	}
	q.items = append(q.items, ev)
	return nil
}

// Flush sends queued frames in order until send fails. The failed frame and everything
// after it stay queued. It returns how many frames were sent.
func (q *OfflineQueue) Flush(send func(events.Event) error) (int, error) {
	for i, ev := range q.items {
		if err := send(ev); err != nil {
			q.items = q.items[i:]
			return i, err
		}
	}
	n := len(q.items)
	q.items = nil
	return n, nil
}

func (q *OfflineQueue) Len() int { return len(q.items) }
