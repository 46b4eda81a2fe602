package handler

import (
	"net/http"

	"corpchat/internal/services"
	"corpchat/internal/transport/httpdto"
	corpchat_errors "corpchat/pkg/errors"

	"github.com/gin-gonic/gin"
)

type PresenceHandler struct {
	service *services.PresenceService
}

func NewPresenceHandler(service *services.PresenceService) *PresenceHandler {
	return &PresenceHandler{service: service}
}

// Get handles GET /v1/presence/:userId.
func (h *PresenceHandler) Get(c *gin.Context) {
	if _, ok := currentUser(c); !ok {
		return
	}
	userID := c.Param("userId")
	if !services.ValidUserID(userID) {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid user id", string(corpchat_errors.KindValidation)))
		return
	}

	status, err := h.service.Status(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.PresenceResponse{
		UserID:   status.UserID,
		IsOnline: status.IsOnline,
		LastSeen: status.LastSeen,
	}))
}
