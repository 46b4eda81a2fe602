package server

import (
	"context"
	"strings"

	"corpchat/internal/domain/chat"
	"corpchat/internal/services"
	corpchat_errors "corpchat/pkg/errors"
	"corpchat/pkg/events"
)

// Dispatcher routes decoded client events to the services. Services report their own
// failures to the actor; the dispatcher only rejects frames it cannot attribute.
type Dispatcher struct {
	ingest    *services.IngestService
	receipts  *services.ReceiptService
	typing    *services.TypingService
	mutations *services.MutationService
	emitter   *services.Emitter
}

func NewDispatcher(ingest *services.IngestService, receipts *services.ReceiptService, typing *services.TypingService, mutations *services.MutationService, emitter *services.Emitter) *Dispatcher {
	return &Dispatcher{
		ingest:    ingest,
		receipts:  receipts,
		typing:    typing,
		mutations: mutations,
		emitter:   emitter,
	}
}

// Dispatch handles one event from conn and returns an outcome label for metrics.
func (d *Dispatcher) Dispatch(ctx context.Context, conn *Client, ev events.Event) string {
	userID := conn.UserID()

	var err error
	switch e := ev.(type) {
	case events.SendMessage:
		if e.SenderID, err = d.claim(conn, e.Type(), e.SenderID); err != nil {
			d.emitter.ToConn(conn, events.MessageError{
				ClientTempID: e.ClientTempID,
				Error:        string(corpchat_errors.KindOf(err)),
				Details:      err.Error(),
			})
			return outcome(err)
		}
		_, err = d.ingest.Ingest(ctx, services.SendRequestFromEvent(e))

	case events.Typing:
		if _, err = d.claim(conn, e.Type(), e.UserID); err == nil {
			err = d.typing.SetTyping(ctx, userID, chat.Ref{ID: e.ChatID, IsGroup: e.IsGroup})
		}

	case events.StopTyping:
		if _, err = d.claim(conn, e.Type(), e.UserID); err == nil {
			err = d.typing.ClearTyping(ctx, userID, chat.Ref{ID: e.ChatID, IsGroup: e.IsGroup})
		}

	case events.MessageDelivered:
		err = d.receipts.MarkDelivered(ctx, userID, e.MessageID)

	case events.MessageSeen:
		err = d.receipts.MarkSeen(ctx, userID, e.MessageID)

	case events.MarkChatAsRead:
		if _, err = d.claim(conn, e.Type(), e.UserID); err == nil {
			_, err = d.receipts.MarkChatAsRead(ctx, userID, chat.Ref{ID: e.ChatID, IsGroup: e.IsGroup})
		}

	case events.AddReaction:
		if _, err = d.claim(conn, e.Type(), e.UserID); err == nil {
			err = d.mutations.AddReaction(ctx, userID, e.MessageID, e.Emoji)
		}

	case events.RemoveReaction:
		if _, err = d.claim(conn, e.Type(), e.UserID); err == nil {
			err = d.mutations.RemoveReaction(ctx, userID, e.MessageID, e.Emoji)
		}

	case events.DeleteMessage:
		if _, err = d.claim(conn, e.Type(), e.UserID); err == nil {
			err = d.mutations.DeleteMessage(ctx, userID, e.MessageID, e.DeleteForEveryone)
		}

	case events.PinMessage:
		err = d.mutations.SetPinned(ctx, userID, services.PinRequest{
			MessageID: e.MessageID,
			IsPinned:  e.IsPinned,
			ChatID:    e.ChatID,
			GroupID:   e.GroupID,
		})

	case events.Ping:
		d.emitter.ToConn(conn, events.Pong{})

	default:
		err = corpchat_errors.Validation(string(ev.Type()), "not accepted from clients")
		d.emitter.ToConn(conn, events.ActionError{Op: string(ev.Type()), Error: string(corpchat_errors.KindOf(err)), Details: err.Error()})
	}
	return outcome(err)
}

// claim checks that an identity field in the payload names the connection's user. An
// empty field is filled with it. Mismatches are reported to conn only.
func (d *Dispatcher) claim(conn *Client, t events.Type, claimed string) (string, error) {
	if claimed == "" || claimed == conn.UserID() {
		return conn.UserID(), nil
	}
	err := corpchat_errors.Permission(string(t), "payload user does not match the session")
	if t != events.TypeSendMessage {
		d.emitter.ToConn(conn, events.ActionError{Op: string(t), Error: string(corpchat_errors.KindOf(err)), Details: err.Error()})
	}
	return "", err
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return strings.ToLower(string(corpchat_errors.KindOf(err)))
}
