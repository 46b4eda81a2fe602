package message

import "corpchat/pkg/events"

// Status is the delivery state of a message for one recipient.
// Transitions only move forward: sent -> delivered -> seen.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusSeen      Status = "seen"
)

func (s Status) Rank() int {
	switch s {
	case StatusDelivered:
		return 1
	case StatusSeen:
		return 2
	}
	return 0
}

// Advances reports whether moving from s to next is a forward transition.
func (s Status) Advances(next Status) bool {
	return next.Rank() > s.Rank()
}

func (s Status) Wire() events.Status {
	switch s {
	case StatusDelivered:
		return events.StatusDelivered
	case StatusSeen:
		return events.StatusSeen
	}
	return events.StatusSent
}
