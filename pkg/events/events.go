// Package events defines the bidirectional websocket protocol. Every frame is an Envelope
// whose payload decodes into exactly one concrete type implementing Event.
package events

import "time"

type Type string

// Client to server
const (
	TypeSendMessage      Type = "sendMessage"
	TypeTyping           Type = "typing"
	TypeStopTyping       Type = "stopTyping"
	TypeMessageDelivered Type = "messageDelivered"
	TypeMessageSeen      Type = "messageSeen"
	TypeAddReaction      Type = "addReaction"
	TypeRemoveReaction   Type = "removeReaction"
	TypeDeleteMessage    Type = "deleteMessage"
	TypePinMessage       Type = "pinMessage"
	TypeMarkChatAsRead   Type = "markChatAsRead"
	TypePing             Type = "ping"
)

// Server to client
const (
	TypeMessageSaved        Type = "messageSaved"
	TypeMessageError        Type = "messageError"
	TypeNewMessage          Type = "newMessage"
	TypeUserTyping          Type = "userTyping"
	TypeUserStoppedTyping   Type = "userStoppedTyping"
	TypeMessageStatusUpdate Type = "messageStatusUpdate"
	TypeReactionAdded       Type = "reactionAdded"
	TypeReactionRemoved     Type = "reactionRemoved"
	TypeMessageDeleted      Type = "messageDeleted"
	TypeMessagePinned       Type = "messagePinned"
	TypeUnreadCountUpdate   Type = "unreadCountUpdate"
	TypeUserOnline          Type = "userOnline"
	TypeUserOffline         Type = "userOffline"
	TypeActionError         Type = "error"
	TypePong                Type = "pong"
)

// Event is implemented only by the payload types of this package.
type Event interface {
	Type() Type
	isEvent()
}

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

// Message is the canonical message as sent over the wire.
type Message struct {
	ID                     string     `json:"id"`
	SenderID               string     `json:"senderId"`
	ReceiverID             string     `json:"receiverId,omitempty"`
	GroupID                string     `json:"groupId,omitempty"`
	Content                string     `json:"content,omitempty"`
	Attachments            []string   `json:"attachments,omitempty"`
	ReplyToID              string     `json:"replyToId,omitempty"`
	ForwardedFromMessageID string     `json:"forwardedFromMessageId,omitempty"`
	IsPinned               bool       `json:"isPinned"`
	IsDeleted              bool       `json:"isDeleted"`
	CreatedAt              time.Time  `json:"createdAt"`
	DeliveredAt            *time.Time `json:"deliveredAt"`
	SeenAt                 *time.Time `json:"seenAt"`
	// Reactions is nil when the event does not carry them; backlog pages always send a
	// list, possibly empty.
	Reactions []Reaction `json:"reactions"`
}

// Status derives the aggregate delivery status of m.
func (m Message) Status() Status {
	switch {
	case m.SeenAt != nil:
		return StatusSeen
	case m.DeliveredAt != nil:
		return StatusDelivered
	}
	return StatusSent
}

type Reaction struct {
	UserID    string    `json:"userId"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// --- client to server ---

type SendMessage struct {
	ClientTempID           string   `json:"clientTempId"`
	SenderID               string   `json:"senderId"`
	ReceiverID             string   `json:"receiverId,omitempty"`
	GroupID                string   `json:"groupId,omitempty"`
	Content                string   `json:"content,omitempty"`
	Attachments            []string `json:"attachments,omitempty"`
	ReplyToID              string   `json:"replyToId,omitempty"`
	ForwardedFromMessageID string   `json:"forwardedFromMessageId,omitempty"`
}

// TypingSignal is shared by the four typing event types.
type TypingSignal struct {
	UserID  string `json:"userId"`
	ChatID  string `json:"chatId"`
	IsGroup bool   `json:"isGroup"`
}

type Typing struct{ TypingSignal }

type StopTyping struct{ TypingSignal }

type MessageDelivered struct {
	MessageID string `json:"messageId"`
}

type MessageSeen struct {
	MessageID string `json:"messageId"`
}

type AddReaction struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
}

type RemoveReaction struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	Emoji     string `json:"emoji"`
}

type DeleteMessage struct {
	MessageID         string `json:"messageId"`
	UserID            string `json:"userId"`
	DeleteForEveryone bool   `json:"deleteForEveryone"`
}

type PinMessage struct {
	MessageID string `json:"messageId"`
	IsPinned  bool   `json:"isPinned"`
	ChatID    string `json:"chatId,omitempty"`
	GroupID   string `json:"groupId,omitempty"`
}

type MarkChatAsRead struct {
	ChatID  string `json:"chatId"`
	UserID  string `json:"userId"`
	IsGroup bool   `json:"isGroup"`
}

type Ping struct{}

// --- server to client ---

type MessageSaved struct {
	ClientTempID string  `json:"clientTempId"`
	Message      Message `json:"message"`
}

type MessageError struct {
	ClientTempID string `json:"clientTempId"`
	Error        string `json:"error"`
	Details      string `json:"details,omitempty"`
}

type NewMessage struct {
	Message Message `json:"message"`
}

type UserTyping struct{ TypingSignal }

type UserStoppedTyping struct{ TypingSignal }

type MessageStatusUpdate struct {
	MessageID string `json:"messageId"`
	Status    Status `json:"status"`
	UserID    string `json:"userId,omitempty"`
	ChatID    string `json:"chatId,omitempty"`
	IsGroup   bool   `json:"isGroup,omitempty"`
}

type ReactionAdded struct {
	MessageID string   `json:"messageId"`
	Reaction  Reaction `json:"reaction"`
}

type ReactionRemoved struct {
	MessageID string   `json:"messageId"`
	Reaction  Reaction `json:"reaction"`
}

type MessageDeleted struct {
	MessageID   string `json:"messageId"`
	ForEveryone bool   `json:"forEveryone"`
}

type MessagePinned struct {
	MessageID string `json:"messageId"`
	IsPinned  bool   `json:"isPinned"`
	ChatID    string `json:"chatId"`
	IsGroup   bool   `json:"isGroup"`
}

type UnreadCountUpdate struct {
	ChatID      string `json:"chatId"`
	IsGroup     bool   `json:"isGroup"`
	UnreadCount int64  `json:"unreadCount"`
}

type UserOnline struct {
	UserID string `json:"userId"`
}

type UserOffline struct {
	UserID   string    `json:"userId"`
	LastSeen time.Time `json:"lastSeen"`
}

// ActionError reports a failed non-compose request to the actor only.
type ActionError struct {
	Op        string `json:"op"`
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	MessageID string `json:"messageId,omitempty"`
}

type Pong struct{}

func (SendMessage) Type() Type      { return TypeSendMessage }
func (Typing) Type() Type           { return TypeTyping }
func (StopTyping) Type() Type       { return TypeStopTyping }
func (MessageDelivered) Type() Type { return TypeMessageDelivered }
func (MessageSeen) Type() Type      { return TypeMessageSeen }
func (AddReaction) Type() Type      { return TypeAddReaction }
func (RemoveReaction) Type() Type   { return TypeRemoveReaction }
func (DeleteMessage) Type() Type    { return TypeDeleteMessage }
func (PinMessage) Type() Type       { return TypePinMessage }
func (MarkChatAsRead) Type() Type   { return TypeMarkChatAsRead }
func (Ping) Type() Type             { return TypePing }

func (MessageSaved) Type() Type        { return TypeMessageSaved }
func (MessageError) Type() Type        { return TypeMessageError }
func (NewMessage) Type() Type          { return TypeNewMessage }
func (UserTyping) Type() Type          { return TypeUserTyping }
func (UserStoppedTyping) Type() Type   { return TypeUserStoppedTyping }
func (MessageStatusUpdate) Type() Type { return TypeMessageStatusUpdate }
func (ReactionAdded) Type() Type       { return TypeReactionAdded }
func (ReactionRemoved) Type() Type     { return TypeReactionRemoved }
func (MessageDeleted) Type() Type      { return TypeMessageDeleted }
func (MessagePinned) Type() Type       { return TypeMessagePinned }
func (UnreadCountUpdate) Type() Type   { return TypeUnreadCountUpdate }
func (UserOnline) Type() Type          { return TypeUserOnline }
func (UserOffline) Type() Type         { return TypeUserOffline }
func (ActionError) Type() Type         { return TypeActionError }
func (Pong) Type() Type                { return TypePong }

func (SendMessage) isEvent()      {}
func (Typing) isEvent()           {}
func (StopTyping) isEvent()       {}
func (MessageDelivered) isEvent() {}
func (MessageSeen) isEvent()      {}
func (AddReaction) isEvent()      {}
func (RemoveReaction) isEvent()   {}
func (DeleteMessage) isEvent()    {}
func (PinMessage) isEvent()       {}
func (MarkChatAsRead) isEvent()   {}
func (Ping) isEvent()             {}

func (MessageSaved) isEvent()        {}
func (MessageError) isEvent()        {}
func (NewMessage) isEvent()          {}
func (UserTyping) isEvent()          {}
func (UserStoppedTyping) isEvent()   {}
func (MessageStatusUpdate) isEvent() {}
func (ReactionAdded) isEvent()       {}
func (ReactionRemoved) isEvent()     {}
func (MessageDeleted) isEvent()      {}
func (MessagePinned) isEvent()       {}
func (UnreadCountUpdate) isEvent()   {}
func (UserOnline) isEvent()          {}
func (UserOffline) isEvent()         {}
func (ActionError) isEvent()         {}
func (Pong) isEvent()                {}
