package reconcile

import (
	"sort"
	"time"

	"corpchat/pkg/events"
)

const (
	DefaultTypingInterval = time.Second
	DefaultTypingIdle     = 3 * time.Second
)

// Debouncer turns keystrokes into typing signals: at most one typing per interval while
// input keeps changing, and one stopTyping when input empties or goes idle.
type Debouncer struct {
	interval  time.Duration
	idle      time.Duration
	active    bool
	lastSent  time.Time
	lastInput time.Time
}

func NewDebouncer(interval, idle time.Duration) *Debouncer {
	return &Debouncer{interval: interval, idle: idle}
}

// Input records the current composer text and returns the signal to send, if any.
func (d *Debouncer) Input(now time.Time, text string) (events.Type, bool) {
	if text == "" {
		return d.stop()
	}
	d.lastInput = now
	if d.active && now.Sub(d.lastSent) < d.interval {
		return "", false
	}
	d.active = true
	d.lastSent = now
	return events.TypeTyping, true
}

// Tick reports a stop once input has been idle long enough.
func (d *Debouncer) Tick(now time.Time) (events.Type, bool) {
	if d.active && now.Sub(d.lastInput) >= d.idle {
		return d.stop()
	}
	return "", false
}

// Reset stops tracking and reports whether a stop should be sent.
func (d *Debouncer) Reset() (events.Type, bool) {
	return d.stop()
}

func (d *Debouncer) stop() (events.Type, bool) {
	if !d.active {
		return "", false
	}
	d.active = false
	return events.TypeStopTyping, true
}

// Indicators tracks who is typing in each chat. Entries expire on their own after ttl
// so a lost stop signal cannot leave an indicator stuck.
type Indicators struct {
	ttl     time.Duration
	entries map[ChatRef]map[string]time.Time
}

func NewIndicators(ttl time.Duration) *Indicators {
	return &Indicators{ttl: ttl, entries: make(map[ChatRef]map[string]time.Time)}
}

func (in *Indicators) Set(ref ChatRef, userID string, now time.Time) {
	users, ok := in.entries[ref]
	if !ok {
		users = make(map[string]time.Time)
		in.entries[ref] = users
	}
	users[userID] = now.Add(in.ttl)
}

func (in *Indicators) Clear(ref ChatRef, userID string) bool {
	users := in.entries[ref]
	if _, ok := users[userID]; !ok {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(in.entries, ref)
	}
	return true
}

// Expire drops entries whose deadline passed and returns the chats that changed.
func (in *Indicators) Expire(now time.Time) []ChatRef {
	var changed []ChatRef
	for ref, users := range in.entries {
		before := len(users)
		for id, deadline := range users {
			if !now.Before(deadline) {
				delete(users, id)
			}
		}
		if len(users) != before {
			changed = append(changed, ref)
		}
		if len(users) == 0 {
			delete(in.entries, ref)
		}
	}
	return changed
}

func (in *Indicators) Typing(ref ChatRef) []string {
	out := make([]string, 0, len(in.entries[ref]))
	for id := range in.entries[ref] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
