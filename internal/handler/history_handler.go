package handler

import (
	"context"
	"net/http"
	"strconv"

	"corpchat/internal/domain/chat"
	"corpchat/internal/services"
	"corpchat/internal/transport/httpdto"
	corpchat_errors "corpchat/pkg/errors"

	"github.com/gin-gonic/gin"
)

// UnreadReader lists a user's unread counters keyed by chat key.
type UnreadReader interface {
	All(ctx context.Context, userID string) (map[string]int64, error)
}

type HistoryHandler struct {
	service *services.HistoryService
	unread  UnreadReader
}

// NewHistoryHandler builds the handler. unread may be nil when no counter store runs.
func NewHistoryHandler(service *services.HistoryService, unread UnreadReader) *HistoryHandler {
	return &HistoryHandler{service: service, unread: unread}
}

// Direct handles GET /v1/chats/direct/:peerId/messages.
func (h *HistoryHandler) Direct(c *gin.Context) {
	h.backlog(c, chat.Ref{ID: c.Param("peerId")})
}

// Group handles GET /v1/chats/groups/:groupId/messages.
func (h *HistoryHandler) Group(c *gin.Context) {
	h.backlog(c, chat.Ref{ID: c.Param("groupId"), IsGroup: true})
}

func (h *HistoryHandler) backlog(c *gin.Context, ref chat.Ref) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("limit must be a number", string(corpchat_errors.KindValidation)))
			return
		}
		limit = n
	}

	msgs, err := h.service.Backlog(c.Request.Context(), userID, ref, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.HistoryResponse{
		ChatID:   ref.ID,
		IsGroup:  ref.IsGroup,
		Messages: msgs,
	}))
}

// Unread handles GET /v1/unread.
func (h *HistoryHandler) Unread(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	counts := map[string]int64{}
	if h.unread != nil {
		all, err := h.unread.All(c.Request.Context(), userID)
		if err != nil {
			writeError(c, err)
			return
		}
		counts = all
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.UnreadResponse{Counts: counts}))
}
