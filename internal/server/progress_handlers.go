package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/Hakan2211/course-platform/internal/progress"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type upsertProgressRequestPayload struct {
	ModuleSlug string `json:"moduleSlug"`
	LessonSlug string `json:"lessonSlug"`
	Status     string `json:"status"`
}

type progressEventPayload struct {
	ModuleSlug string `json:"moduleSlug"`
	LessonSlug string `json:"lessonSlug"`
	Status     string `json:"status"`
	Timestamp  string `json:"timestamp"`
}

func (h *httpHandler) handleListProgress(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errorUnauthorized})
		return
	}
	records, err := h.progress.List(c.Request.Context(), userID)
	if err != nil {
		h.respondInternalError(c, "failed to list progress", err, zap.String("user_id", userID))
		return
	}
	c.JSON(http.StatusOK, gin.H{"progress": records})
}

func (h *httpHandler) handleUpsertProgress(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errorUnauthorized})
		return
	}
	var request upsertProgressRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidBody})
		return
	}
	// Status is validated first: a bad status answers "Invalid status value" even when slugs are blank.
	status, err := progress.ParseStatus(request.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidStatus})
		return
	}
	if isBlank(request.ModuleSlug, request.LessonSlug) {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorMissingFields})
		return
	}
	if progress.ValidateSlug(request.ModuleSlug) != nil || progress.ValidateSlug(request.LessonSlug) != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidSlug})
		return
	}

	record, err := h.progress.Upsert(c.Request.Context(), userID, progress.UpsertRequest{
		ModuleSlug: request.ModuleSlug,
		LessonSlug: request.LessonSlug,
		Status:     status,
	})
	if err != nil {
		switch {
		case errors.Is(err, progress.ErrInvalidStatus):
			c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidStatus})
		case errors.Is(err, progress.ErrInvalidSlug):
			c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidSlug})
		default:
			h.respondInternalError(c, "failed to upsert progress", err,
				zap.String("user_id", userID),
				zap.String("module_slug", request.ModuleSlug),
				zap.String("lesson_slug", request.LessonSlug))
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"progress": record})
}

// handleProgressStream pushes progress-change events to the caller's other tabs and devices.
func (h *httpHandler) handleProgressStream(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errorUnauthorized})
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx, userID)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	heartbeat := time.NewTicker(realtimeHeartbeatInterval)
	defer heartbeat.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case message, ok := <-stream:
			if !ok {
				return false
			}
			c.SSEvent(message.EventType, progressEventPayload{
				ModuleSlug: message.ModuleSlug,
				LessonSlug: message.LessonSlug,
				Status:     string(message.Status),
				Timestamp:  message.Timestamp.Format(time.RFC3339Nano),
			})
			return true
		case tick := <-heartbeat.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": tick.UTC().Format(time.RFC3339)})
			return true
		}
	})
}
