package events

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownType = errors.New("unknown event type")

type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps e in an envelope and marshals it.
func Encode(e Event) ([]byte, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", e.Type(), err)
	}
	return json.Marshal(Envelope{Type: e.Type(), Payload: payload})
}

// Decode parses a frame into its concrete event type.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	e, err := newEvent(env.Type)
	if err != nil {
		return nil, err
	}
	if len(env.Payload) > 0 && string(env.Payload) != "null" {
		if err := json.Unmarshal(env.Payload, e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
	}
	return deref(e), nil
}

func newEvent(t Type) (Event, error) {
	switch t {
	case TypeSendMessage:
		return &SendMessage{}, nil
	case TypeTyping:
		return &Typing{}, nil
	case TypeStopTyping:
		return &StopTyping{}, nil
	case TypeMessageDelivered:
		return &MessageDelivered{}, nil
	case TypeMessageSeen:
		return &MessageSeen{}, nil
	case TypeAddReaction:
		return &AddReaction{}, nil
	case TypeRemoveReaction:
		return &RemoveReaction{}, nil
	case TypeDeleteMessage:
		return &DeleteMessage{}, nil
	case TypePinMessage:
		return &PinMessage{}, nil
	case TypeMarkChatAsRead:
		return &MarkChatAsRead{}, nil
	case TypePing:
		return &Ping{}, nil
	case TypeMessageSaved:
		return &MessageSaved{}, nil
	case TypeMessageError:
		return &MessageError{}, nil
	case TypeNewMessage:
		return &NewMessage{}, nil
	case TypeUserTyping:
		return &UserTyping{}, nil
	case TypeUserStoppedTyping:
		return &UserStoppedTyping{}, nil
	case TypeMessageStatusUpdate:
		return &MessageStatusUpdate{}, nil
	case TypeReactionAdded:
		return &ReactionAdded{}, nil
	case TypeReactionRemoved:
		return &ReactionRemoved{}, nil
	case TypeMessageDeleted:
		return &MessageDeleted{}, nil
	case TypeMessagePinned:
		return &MessagePinned{}, nil
	case TypeUnreadCountUpdate:
		return &UnreadCountUpdate{}, nil
	case TypeUserOnline:
		return &UserOnline{}, nil
	case TypeUserOffline:
		return &UserOffline{}, nil
	case TypeActionError:
		return &ActionError{}, nil
	case TypePong:
		return &Pong{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
}

// deref hands out values, never pointers, so type switches in consumers match on the
// plain struct types.
func deref(e Event) Event {
	switch v := e.(type) {
	case *SendMessage:
		return *v
	case *Typing:
		return *v
	case *StopTyping:
		return *v
	case *MessageDelivered:
		return *v
	case *MessageSeen:
		return *v
	case *AddReaction:
		return *v
	case *RemoveReaction:
		return *v
	case *DeleteMessage:
		return *v
	case *PinMessage:
		return *v
	case *MarkChatAsRead:
		return *v
	case *Ping:
		return *v
	case *MessageSaved:
		return *v
	case *MessageError:
		return *v
	case *NewMessage:
		return *v
	case *UserTyping:
		return *v
	case *UserStoppedTyping:
		return *v
	case *MessageStatusUpdate:
		return *v
	case *ReactionAdded:
		return *v
	case *ReactionRemoved:
		return *v
	case *MessageDeleted:
		return *v
	case *MessagePinned:
		return *v
	case *UnreadCountUpdate:
		return *v
	case *UserOnline:
		return *v
	case *UserOffline:
		return *v
	case *ActionError:
		return *v
	case *Pong:
		return *v
	}
	return e
}
