package handler

import (
	"context"
	"net/http"
	"strings"

	"corpchat/internal/storage"
	"corpchat/internal/transport/httpdto"
	corpchat_errors "corpchat/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const MaxUploadBytes = 100 << 20

// Presigner hands out direct upload URLs for the attachment store.
type Presigner interface {
	PresignPut(ctx context.Context, key, contentType string, sizeBytes int64) (string, map[string]string, error)
	Reference(key string) string
}

type UploadHandler struct {
	store Presigner
}

// NewUploadHandler builds the handler. A nil store answers 503.
func NewUploadHandler(store Presigner) *UploadHandler {
	return &UploadHandler{store: store}
}

// Presign handles POST /v1/attachments.
func (h *UploadHandler) Presign(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse("attachment store not configured", "UNAVAILABLE"))
		return
	}

	var req httpdto.PresignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", string(corpchat_errors.KindValidation)))
		return
	}
	if req.SizeBytes < 0 || req.SizeBytes > MaxUploadBytes {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("size_bytes out of range", string(corpchat_errors.KindValidation)))
		return
	}
	if !strings.Contains(req.ContentType, "/") {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid content_type", string(corpchat_errors.KindValidation)))
		return
	}

	key := storage.UploadKey(userID, uuid.NewString(), req.FileName)
	url, headers, err := h.store.PresignPut(c.Request.Context(), key, req.ContentType, req.SizeBytes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.PresignResponse{
		UploadURL:  url,
		Headers:    headers,
		Key:        key,
		Attachment: h.store.Reference(key),
	}))
}
