package server

import (
	"errors"
	"net/http"

	"github.com/Hakan2211/course-platform/internal/content"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func (h *httpHandler) handleCourseModules(c *gin.Context) {
	modules, err := h.catalog.Modules()
	if err != nil {
		h.respondInternalError(c, "failed to read course catalog", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"modules": modules})
}

func (h *httpHandler) handleCourseLesson(c *gin.Context) {
	moduleSlug := c.Param("module")
	lessonSlug := c.Param("lesson")
	lesson, err := h.catalog.Lesson(moduleSlug, lessonSlug)
	if err != nil {
		if errors.Is(err, content.ErrLessonNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": errorLessonNotFound})
			return
		}
		h.respondInternalError(c, "failed to load lesson", err,
			zap.String("module_slug", moduleSlug),
			zap.String("lesson_slug", lessonSlug))
		return
	}
	c.JSON(http.StatusOK, gin.H{"lesson": lesson})
}
