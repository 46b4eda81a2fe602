package events

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeKeepsConcreteType(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cases := []Event{
		SendMessage{ClientTempID: "tmp-1", SenderID: "a", ReceiverID: "b", Content: "hi"},
		Typing{TypingSignal{UserID: "a", ChatID: "g1", IsGroup: true}},
		MessageSaved{ClientTempID: "tmp-1", Message: Message{ID: "m1", SenderID: "a", ReceiverID: "b", Content: "hi", CreatedAt: now}},
		MessageStatusUpdate{MessageID: "m1", Status: StatusSeen, UserID: "b", ChatID: "b"},
		ReactionRemoved{MessageID: "m1", Reaction: Reaction{UserID: "b", Emoji: "👍"}},
		UserOffline{UserID: "a", LastSeen: now},
		Pong{},
	}

	for _, in := range cases {
		t.Run(string(in.Type()), func(t *testing.T) {
			data, err := Encode(in)
			require.NoError(t, err)

			out, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, in, out)
		})
	}
}

func TestEnvelopeShape(t *testing.T) {
	data, err := Encode(MessageDelivered{MessageID: "m1"})
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.JSONEq(t, `"messageDelivered"`, string(raw["type"]))
	assert.JSONEq(t, `{"messageId":"m1"}`, string(raw["payload"]))
}

func TestTypingSignalIsFlattened(t *testing.T) {
	data, err := Encode(UserTyping{TypingSignal{UserID: "a", ChatID: "a"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"userTyping","payload":{"userId":"a","chatId":"a","isGroup":false}}`, string(data))
}

func TestMessageReactionsNilAndEmptyStayDistinct(t *testing.T) {
	live, err := Encode(NewMessage{Message: Message{ID: "m1"}})
	require.NoError(t, err)
	assert.Contains(t, string(live), `"reactions":null`)

	page, err := Encode(NewMessage{Message: Message{ID: "m1", Reactions: []Reaction{}}})
	require.NoError(t, err)
	assert.Contains(t, string(page), `"reactions":[]`)

	out, err := Decode(page)
	require.NoError(t, err)
	got := out.(NewMessage).Message.Reactions
	assert.NotNil(t, got)
	assert.Empty(t, got)

	out, err = Decode(live)
	require.NoError(t, err)
	assert.Nil(t, out.(NewMessage).Message.Reactions)
}

func TestDecodeWithoutPayload(t *testing.T) {
	ev, err := Decode([]byte(`{"type":"ping"}`))
	require.NoError(t, err)
	assert.Equal(t, Ping{}, ev)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode([]byte(`{"type":"callOffer","payload":{}}`))
	assert.True(t, errors.Is(err, ErrUnknownType))

	_, err = Decode([]byte(`not json`))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"type":"sendMessage","payload":{"content":42}}`))
	assert.Error(t, err)
}

func TestMessageStatus(t *testing.T) {
	now := time.Now()
	m := Message{ID: "m1"}
	assert.Equal(t, StatusSent, m.Status())

	m.DeliveredAt = &now
	assert.Equal(t, StatusDelivered, m.Status())

	m.SeenAt = &now
	assert.Equal(t, StatusSeen, m.Status())
	assert.Greater(t, StatusSeen.Rank(), StatusDelivered.Rank())
}
