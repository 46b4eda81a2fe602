// Package handler provides HTTP handlers for API endpoints.
package handler

import (
	"net/http"

	"corpchat/internal/services"
	"corpchat/internal/transport/httpdto"
	corpchat_errors "corpchat/pkg/errors"

	"github.com/gin-gonic/gin"
)

// AuthHandler issues session tokens. Identity is asserted by the caller; an upstream SSO
// proxy is expected to guard this route.
type AuthHandler struct {
	service *services.AuthService
}

func NewAuthHandler(service *services.AuthService) *AuthHandler {
	return &AuthHandler{service: service}
}

// Session handles POST /v1/session.
func (h *AuthHandler) Session(c *gin.Context) {
	var req httpdto.SessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", string(corpchat_errors.KindValidation)))
		return
	}
	if !services.ValidUserID(req.UserID) {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid user id", string(corpchat_errors.KindValidation)))
		return
	}

	res, err := h.service.Issue(req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.SessionResponse{
		AccessToken: res.AccessToken,
		ExpiresIn:   res.ExpiresIn,
		SessionID:   res.SessionID,
		UserID:      res.UserID,
	}))
}

func writeError(c *gin.Context, err error) {
	status := services.HTTPStatus(err)
	code := string(corpchat_errors.KindOf(err))
	if status == http.StatusUnauthorized {
		code = "UNAUTHORIZED"
	}
	c.JSON(status, httpdto.NewErrorResponse(err.Error(), code))
}

func currentUser(c *gin.Context) (string, bool) {
	userID, ok := services.UserIDFromContext(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("unauthorized", "UNAUTHORIZED"))
	}
	return userID, ok
}
