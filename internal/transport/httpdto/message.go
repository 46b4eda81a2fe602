package httpdto

import "corpchat/pkg/events"

// HistoryResponse carries a chat backlog oldest first, in the same shape the websocket
// protocol uses for messages.
type HistoryResponse struct {
	ChatID   string           `json:"chat_id"`
	IsGroup  bool             `json:"is_group"`
	Messages []events.Message `json:"messages"`
}

type UnreadResponse struct {
	Counts map[string]int64 `json:"counts"`
}
