package reconcile

import (
	"errors"
	"testing"
	"time"

	"corpchat/pkg/events"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncerLimitsTypingSignals(t *testing.T) {
	d := NewDebouncer(time.Second, 3*time.Second)

	typ, ok := d.Input(t0, "h")
	require.True(t, ok)
	assert.Equal(t, events.TypeTyping, typ)

	_, ok = d.Input(t0.Add(300*time.Millisecond), "he")
	assert.False(t, ok, "within the interval")

	typ, ok = d.Input(t0.Add(1100*time.Millisecond), "hel")
	require.True(t, ok)
	assert.Equal(t, events.TypeTyping, typ)

	typ, ok = d.Input(t0.Add(1200*time.Millisecond), "")
	require.True(t, ok)
	assert.Equal(t, events.TypeStopTyping, typ)

	_, ok = d.Input(t0.Add(1300*time.Millisecond), "")
	assert.False(t, ok, "stop is sent once")
}

func TestDebouncerStopsWhenIdle(t *testing.T) {
	d := NewDebouncer(time.Second, 3*time.Second)
	d.Input(t0, "h")

	_, ok := d.Tick(t0.Add(2 * time.Second))
	assert.False(t, ok)

	typ, ok := d.Tick(t0.Add(3 * time.Second))
	require.True(t, ok)
	assert.Equal(t, events.TypeStopTyping, typ)

	_, ok = d.Reset()
	assert.False(t, ok)
}

func TestIndicatorsExpire(t *testing.T) {
	in := NewIndicators(3 * time.Second)
	eng := ChatRef{ID: "eng", IsGroup: true}

	in.Set(eng, "carol", t0)
	in.Set(eng, "bob", t0.Add(2*time.Second))
	assert.Equal(t, []string{"bob", "carol"}, in.Typing(eng))

	assert.Equal(t, []ChatRef{eng}, in.Expire(t0.Add(3*time.Second)))
	assert.Equal(t, []string{"bob"}, in.Typing(eng))

	assert.True(t, in.Clear(eng, "bob"))
	assert.False(t, in.Clear(eng, "bob"))
	assert.Empty(t, in.Typing(eng))
	assert.Empty(t, in.Expire(t0.Add(time.Hour)))
}

func TestOfflineQueueFlushKeepsRemainderOnFailure(t *testing.T) {
	q := NewOfflineQueue(3)
	require.NoError(t, q.Push(events.MessageDelivered{MessageID: "a"}))
	require.NoError(t, q.Push(events.MessageDelivered{MessageID: "b"}))
	require.NoError(t, q.Push(events.MessageDelivered{MessageID: "c"}))
	assert.ErrorIs(t, q.Push(events.MessageDelivered{MessageID: "d"}), ErrQueueFull)

	var sent []string
	boom := errors.New("boom")
	n, err := q.Flush(func(ev events.Event) error {
		id := ev.(events.MessageDelivered).MessageID
		if id == "b" {
			return boom
		}
		sent = append(sent, id)
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, q.Len())

	n, err = q.Flush(func(ev events.Event) error {
		sent = append(sent, ev.(events.MessageDelivered).MessageID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a", "b", "c"}, sent)
	assert.Zero(t, q.Len())
}
