package services

import (
	"context"
	"strings"
	"unicode/utf8"

	"corpchat/internal/domain/chat"
	"corpchat/internal/domain/message"
	corpchat_errors "corpchat/pkg/errors"
	"corpchat/pkg/events"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	MaxContentLength     = 10000
	MaxAttachmentsPerMsg = 10
)

// SendRequest is a compose request from a sender connection.
type SendRequest struct {
	ClientTempID           string
	SenderID               string
	ReceiverID             string
	GroupID                string
	Content                string
	Attachments            []string
	ReplyToID              string
	ForwardedFromMessageID string
}

func SendRequestFromEvent(ev events.SendMessage) SendRequest {
	return SendRequest{
		ClientTempID:           ev.ClientTempID,
		SenderID:               ev.SenderID,
		ReceiverID:             ev.ReceiverID,
		GroupID:                ev.GroupID,
		Content:                ev.Content,
		Attachments:            ev.Attachments,
		ReplyToID:              ev.ReplyToID,
		ForwardedFromMessageID: ev.ForwardedFromMessageID,
	}
}

func (r SendRequest) chatRef() chat.Ref {
	if r.GroupID != "" {
		return chat.GroupRef(r.GroupID)
	}
	return chat.Direct(r.ReceiverID)
}

// IngestService turns compose requests into canonical messages and fans them out.
type IngestService struct {
	*Core
	attachments AttachmentResolver
	limiter     SendLimiter
	unread      UnreadCounter
	offline     OfflineNotifier
	newID       func() string
}

type IngestOption func(*IngestService)

func WithAttachmentResolver(r AttachmentResolver) IngestOption {
	return func(s *IngestService) { s.attachments = r }
}

func WithSendLimiter(l SendLimiter) IngestOption {
	return func(s *IngestService) { s.limiter = l }
}

func WithUnreadCounter(u UnreadCounter) IngestOption {
	return func(s *IngestService) { s.unread = u }
}

func WithOfflineNotifier(n OfflineNotifier) IngestOption {
	return func(s *IngestService) { s.offline = n }
}

func NewIngestService(core *Core, opts ...IngestOption) *IngestService {
	s := &IngestService{
		Core: core,
		newID: func() string {
			return uuid.Must(uuid.NewV7()).String()
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ingest validates, persists and fans out one compose request. Every failure is reported
// to the sender's connections as messageError and returned.
func (s *IngestService) Ingest(ctx context.Context, req SendRequest) (events.Message, error) {
	stored, replay, offline, err := s.ingest(ctx, req)
	if err != nil {
		kind := corpchat_errors.KindOf(err)
		s.Metrics.MessageIngested(strings.ToLower(string(kind)))
		s.Logger.Warn("ingest failed",
			zap.String("user_id", req.SenderID),
			zap.String("client_temp_id", req.ClientTempID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		s.Emitter.ToUser(req.SenderID, events.MessageError{
			ClientTempID: req.ClientTempID,
			Error:        string(kind),
			Details:      err.Error(),
		})
		return events.Message{}, err
	}

	if replay {
		s.Metrics.MessageIngested("replay")
	} else {
		s.Metrics.MessageIngested("saved")
	}

	wire := stored.Wire()
	s.handOff(ctx, offline, wire)
	return wire, nil
}

func (s *IngestService) ingest(ctx context.Context, req SendRequest) (message.Message, bool, []string, error) {
	const op = "sendMessage"

	req, err := s.validate(req)
	if err != nil {
		return message.Message{}, false, nil, err
	}

	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, req.SenderID)
		if err != nil {
			s.Logger.Warn("send limiter unavailable", zap.String("user_id", req.SenderID), zap.Error(err))
		} else if !ok {
			return message.Message{}, false, nil, corpchat_errors.RateLimited(op)
		}
	}

	ref := req.chatRef()
	participants, err := s.Access.ChatParticipants(ctx, req.SenderID, ref)
	if err != nil {
		return message.Message{}, false, nil, err
	}

	if s.attachments != nil && len(req.Attachments) > 0 {
		resolved, err := s.attachments.Resolve(ctx, req.Attachments)
		if err != nil {
			return message.Message{}, false, nil, err
		}
		req.Attachments = resolved
	}

	chatKey := ref.Key(req.SenderID)
	unlock, err := s.lock(ctx, op, chatKey)
	if err != nil {
		return message.Message{}, false, nil, err
	}
	defer unlock()

	if err := s.checkReferences(ctx, req, chatKey); err != nil {
		return message.Message{}, false, nil, err
	}

	m := message.Message{
		ID:              s.newID(),
		ClientTempID:    req.ClientTempID,
		SenderID:        req.SenderID,
		ReceiverID:      req.ReceiverID,
		GroupID:         req.GroupID,
		Content:         req.Content,
		Attachments:     message.Attachments(req.Attachments),
		ReplyToID:       req.ReplyToID,
		ForwardedFromID: req.ForwardedFromMessageID,
		CreatedAt:       s.Now(),
	}

	var (
		stored message.Message
		replay bool
	)
	err = s.persist(ctx, "create_message", func(ctx context.Context) error {
		var err error
		stored, replay, err = s.Gateway.CreateMessage(ctx, m)
		return err
	})
	if err != nil {
		return message.Message{}, false, nil, err
	}

	wire := stored.Wire()
	s.Emitter.ToUser(req.SenderID, events.MessageSaved{ClientTempID: req.ClientTempID, Message: wire})
	if replay {
		return stored, true, nil, nil
	}

	var offline []string
	for _, recipient := range participants {
		if recipient == req.SenderID {
			continue
		}
		delivered := s.Emitter.ToUser(recipient, events.NewMessage{Message: wire})
		s.bumpUnread(ctx, recipient, stored)
		if delivered == 0 {
			offline = append(offline, recipient)
		}
	}
	return stored, false, offline, nil
}

func (s *IngestService) validate(req SendRequest) (SendRequest, error) {
	const op = "sendMessage"

	req.ClientTempID = strings.TrimSpace(req.ClientTempID)
	req.ReceiverID = strings.TrimSpace(req.ReceiverID)
	req.GroupID = strings.TrimSpace(req.GroupID)
	req.ReplyToID = strings.TrimSpace(req.ReplyToID)
	req.ForwardedFromMessageID = strings.TrimSpace(req.ForwardedFromMessageID)

	if req.ClientTempID == "" {
		return req, corpchat_errors.Validation(op, "clientTempId is required")
	}
	if req.SenderID == "" {
		return req, corpchat_errors.Validation(op, "senderId is required")
	}
	if (req.ReceiverID == "") == (req.GroupID == "") {
		return req, corpchat_errors.Validation(op, "exactly one of receiverId or groupId is required")
	}

	var refs []string
	for _, a := range req.Attachments {
		if a = strings.TrimSpace(a); a != "" {
			refs = append(refs, a)
		}
	}
	req.Attachments = refs

	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		return req, corpchat_errors.Validation(op, "content or at least one attachment is required")
	}
	if utf8.RuneCountInString(req.Content) > MaxContentLength {
		return req, corpchat_errors.Validation(op, "content is too long")
	}
	if len(req.Attachments) > MaxAttachmentsPerMsg {
		return req, corpchat_errors.Validation(op, "too many attachments")
	}
	return req, nil
}

// checkReferences requires a reply target in the same chat and a forward source the
// sender can see.
func (s *IngestService) checkReferences(ctx context.Context, req SendRequest, chatKey string) error {
	const op = "sendMessage"
	if req.ReplyToID != "" {
		target, err := s.loadMessage(ctx, op, req.ReplyToID)
		if err != nil {
			return err
		}
		if target.Key() != chatKey {
			return corpchat_errors.Validation(op, "replyToId belongs to another chat")
		}
	}
	if req.ForwardedFromMessageID != "" {
		source, err := s.loadMessage(ctx, op, req.ForwardedFromMessageID)
		if err != nil {
			return err
		}
		if _, err := s.Access.MessageParticipants(ctx, req.SenderID, source); err != nil {
			return err
		}
		if source.IsDeleted {
			return corpchat_errors.Stale(op, "forwarded message was deleted")
		}
	}
	return nil
}

func (s *IngestService) bumpUnread(ctx context.Context, recipient string, m message.Message) {
	if s.unread == nil {
		return
	}
	n, err := s.unread.Increment(ctx, recipient, m.Key())
	if err != nil {
		s.Logger.Warn("unread increment failed", zap.String("user_id", recipient), zap.Error(err))
		return
	}
	ref := m.ChatFor(recipient)
	s.Emitter.ToUser(recipient, events.UnreadCountUpdate{ChatID: ref.ID, IsGroup: ref.IsGroup, UnreadCount: n})
}

// handOff passes messages for recipients without live connections to the push pipeline.
func (s *IngestService) handOff(ctx context.Context, recipients []string, m events.Message) {
	if s.offline == nil {
		return
	}
	for _, id := range recipients {
		if err := s.offline.NotifyOffline(ctx, id, m); err != nil {
			s.Metrics.OfflineHandoff("failed")
			s.Logger.Warn("offline hand-off failed", zap.String("user_id", id), zap.String("message_id", m.ID), zap.Error(err))
			continue
		}
		s.Metrics.OfflineHandoff("queued")
	}
}
