package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/Hakan2211/course-platform/internal/notes"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type createNoteRequestPayload struct {
	ModuleSlug   string `json:"moduleSlug"`
	LessonSlug   string `json:"lessonSlug"`
	SelectedText string `json:"selectedText"`
	NoteText     string `json:"noteText"`
}

type updateNoteRequestPayload struct {
	ID       string `json:"id"`
	NoteText string `json:"noteText"`
}

func (h *httpHandler) handleListNotes(c *gin.Context) {
	userID, ok := h.requireNotesUser(c)
	if !ok {
		return
	}
	items, err := h.notes.List(c.Request.Context(), userID)
	if err != nil {
		h.respondInternalError(c, "failed to list notes", err, zap.String("user_id", userID.String()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"notes": items})
}

func (h *httpHandler) handleCreateNote(c *gin.Context) {
	userID, ok := h.requireNotesUser(c)
	if !ok {
		return
	}
	var request createNoteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidBody})
		return
	}
	if isBlank(request.ModuleSlug, request.LessonSlug, request.SelectedText, request.NoteText) {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorMissingFields})
		return
	}

	note, err := h.notes.Create(c.Request.Context(), userID, notes.CreateRequest{
		ModuleSlug:   request.ModuleSlug,
		LessonSlug:   request.LessonSlug,
		SelectedText: request.SelectedText,
		NoteText:     request.NoteText,
	})
	if err != nil {
		switch {
		case errors.Is(err, notes.ErrInvalidSlug):
			c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidSlug})
		case errors.Is(err, notes.ErrMissingText):
			c.JSON(http.StatusBadRequest, gin.H{"error": errorMissingFields})
		default:
			h.respondInternalError(c, "failed to create note", err, zap.String("user_id", userID.String()))
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"note": note})
}

func (h *httpHandler) handleUpdateNote(c *gin.Context) {
	userID, ok := h.requireNotesUser(c)
	if !ok {
		return
	}
	var request updateNoteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidBody})
		return
	}
	if isBlank(request.ID, request.NoteText) {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorMissingFields})
		return
	}
	noteID, err := notes.NewNoteID(request.ID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorMissingFields})
		return
	}

	note, err := h.notes.Update(c.Request.Context(), userID, noteID, request.NoteText)
	if err != nil {
		if errors.Is(err, notes.ErrNoteNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errorNoteNotFound})
			return
		}
		h.respondInternalError(c, "failed to update note", err,
			zap.String("user_id", userID.String()),
			zap.String("note_id", noteID.String()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"note": note})
}

func (h *httpHandler) handleDeleteNote(c *gin.Context) {
	userID, ok := h.requireNotesUser(c)
	if !ok {
		return
	}
	noteID, err := notes.NewNoteID(c.Query("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorMissingNoteID})
		return
	}

	if err := h.notes.Delete(c.Request.Context(), userID, noteID); err != nil {
		if errors.Is(err, notes.ErrNoteNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errorNoteNotFound})
			return
		}
		h.respondInternalError(c, "failed to delete note", err,
			zap.String("user_id", userID.String()),
			zap.String("note_id", noteID.String()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) requireNotesUser(c *gin.Context) (notes.UserID, bool) {
	userID, err := notes.NewUserID(c.GetString(userIDContextKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": errorUnauthorized})
		return "", false
	}
	return userID, true
}

func isBlank(values ...string) bool {
	for _, value := range values {
		if strings.TrimSpace(value) == "" {
			return true
		}
	}
	return false
}
