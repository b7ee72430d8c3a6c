package handlers

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/yungbote/storychain-backend/internal/apierr"
	"github.com/yungbote/storychain-backend/internal/middleware"
	"github.com/yungbote/storychain-backend/internal/services"
)

type UploadHandler struct {
	bucket services.BucketService
}

func NewUploadHandler(bucket services.BucketService) *UploadHandler {
	return &UploadHandler{bucket: bucket}
}

// SignUpload mints a key under the caller's prefix and returns a signed
// PUT URL for it. The client uploads directly to the bucket.
func (uh *UploadHandler) SignUpload(c *gin.Context) {
	callerID, ok := middleware.CallerID(c)
	if !ok {
		RespondError(c, apierr.Unauthorized("not authenticated"))
		return
	}
	var req struct {
		ContentType string `json:"content_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, apierr.Validation("invalid request body"))
		return
	}
	if !strings.HasPrefix(req.ContentType, "image/") && !strings.HasPrefix(req.ContentType, "video/") {
		RespondError(c, apierr.Validation("content_type must be an image or video type"))
		return
	}
	key := fmt.Sprintf("entries/%s/%s", callerID, uuid.New())
	url, err := uh.bucket.SignUpload(c.Request.Context(), key, req.ContentType)
	if err != nil {
		RespondError(c, apierr.Unavailable("could not sign upload: %v", err))
		return
	}
	RespondOK(c, gin.H{"media_key": key, "upload_url": url})
}
