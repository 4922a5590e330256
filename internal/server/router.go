package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Hakan2211/course-platform/internal/auth"
	"github.com/Hakan2211/course-platform/internal/content"
	"github.com/Hakan2211/course-platform/internal/metrics"
	"github.com/Hakan2211/course-platform/internal/notes"
	"github.com/Hakan2211/course-platform/internal/progress"
	"github.com/Hakan2211/course-platform/internal/ratelimit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const userIDContextKey = "course_user_id"

const (
	errorUnauthorized    = "Unauthorized"
	errorInternal        = "Internal Server Error"
	errorMissingFields   = "Missing required fields"
	errorMissingNoteID   = "Missing note id"
	errorNoteNotFound    = "Note not found"
	errorInvalidStatus   = "Invalid status value"
	errorInvalidSlug     = "Invalid slug"
	errorInvalidBody     = "Invalid request body"
	errorLessonNotFound  = "Lesson not found"
	errorTooManyRequests = "Too many requests"
	loginPath            = "/login"
	landingPath          = "/course"
)

var (
	errMissingSessionManager = errors.New("session manager dependency required")
	errMissingMagicLinks     = errors.New("magic link exchanger dependency required")
	errMissingNotesService   = errors.New("notes service dependency required")
	errMissingProgress       = errors.New("progress service dependency required")
	errMissingBaseURL        = errors.New("base url dependency required")
)

// MagicLinkExchanger trades a magic-link token for a session.
type MagicLinkExchanger interface {
	Exchange(ctx context.Context, token string) (auth.ExchangeResult, error)
}

// NotesStore is the notes persistence used by the handlers.
type NotesStore interface {
	Create(ctx context.Context, userID notes.UserID, request notes.CreateRequest) (notes.Note, error)
	List(ctx context.Context, userID notes.UserID) ([]notes.Note, error)
	Update(ctx context.Context, userID notes.UserID, noteID notes.NoteID, noteText string) (notes.Note, error)
	Delete(ctx context.Context, userID notes.UserID, noteID notes.NoteID) error
}

// ProgressStore is the lesson progress persistence used by the handlers.
type ProgressStore interface {
	List(ctx context.Context, userID string) ([]progress.LessonProgress, error)
	Upsert(ctx context.Context, userID string, request progress.UpsertRequest) (progress.LessonProgress, error)
}

// RateLimiter decides whether a keyed request may proceed.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (ratelimit.Decision, error)
}

type Dependencies struct {
	Sessions       *auth.SessionManager
	MagicLinks     MagicLinkExchanger
	Notes          NotesStore
	Progress       ProgressStore
	Catalog        *content.Catalog
	Realtime       *RealtimeDispatcher
	VerifyLimiter  RateLimiter
	Metrics        *metrics.Recorder
	BaseURL        string
	SecureCookies  bool
	AllowedOrigins []string
	// TrustedProxies lists the proxy addresses or CIDRs whose forwarding headers
	// are honoured. Empty means the client IP is always the peer address.
	TrustedProxies []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionManager
	}
	if deps.MagicLinks == nil {
		return nil, errMissingMagicLinks
	}
	if deps.Notes == nil {
		return nil, errMissingNotesService
	}
	if deps.Progress == nil {
		return nil, errMissingProgress
	}
	if strings.TrimSpace(deps.BaseURL) == "" {
		return nil, errMissingBaseURL
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	if err := router.SetTrustedProxies(deps.TrustedProxies); err != nil {
		return nil, fmt.Errorf("invalid trusted proxies: %w", err)
	}
	router.Use(gin.Recovery())
	if deps.Metrics != nil {
		router.Use(deps.Metrics.Middleware())
	}
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		sessions:      deps.Sessions,
		magicLinks:    deps.MagicLinks,
		notes:         deps.Notes,
		progress:      deps.Progress,
		catalog:       deps.Catalog,
		realtime:      deps.Realtime,
		metrics:       deps.Metrics,
		baseURL:       strings.TrimRight(deps.BaseURL, "/"),
		secureCookies: deps.SecureCookies,
		logger:        logger,
	}

	api := router.Group("/api")
	api.GET("/session", handler.handleSession)
	api.POST("/logout", handler.handleLogout)
	if deps.VerifyLimiter != nil {
		api.GET("/verify", rateLimitMiddleware(deps.VerifyLimiter, handler.rateLimitExceeded, logger), handler.handleVerify)
	} else {
		api.GET("/verify", handler.handleVerify)
	}
	if deps.Catalog != nil {
		api.GET("/course", handler.handleCourseModules)
		api.GET("/course/:module/:lesson", handler.handleCourseLesson)
	}

	protected := api.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/notes", handler.handleListNotes)
	protected.POST("/notes", handler.handleCreateNote)
	protected.PUT("/notes", handler.handleUpdateNote)
	protected.DELETE("/notes", handler.handleDeleteNote)
	protected.GET("/progress", handler.handleListProgress)
	protected.POST("/progress", handler.handleUpsertProgress)
	if deps.Realtime != nil {
		protected.GET("/progress/stream", handler.handleProgressStream)
	}

	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	return router, nil
}

type httpHandler struct {
	sessions      *auth.SessionManager
	magicLinks    MagicLinkExchanger
	notes         NotesStore
	progress      ProgressStore
	catalog       *content.Catalog
	realtime      *RealtimeDispatcher
	metrics       *metrics.Recorder
	baseURL       string
	secureCookies bool
	logger        *zap.Logger
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	config := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		config.AllowOriginFunc = func(string) bool { return false }
	} else {
		config.AllowOrigins = allowedOrigins
	}
	return cors.New(config)
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingSessionToken):
			h.logger.Debug("session cookie missing", zap.String("path", c.FullPath()))
		case errors.Is(err, auth.ErrExpiredSessionToken):
			h.logger.Info("session validation failed", zap.Error(err))
		default:
			h.logger.Warn("session validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errorUnauthorized})
		return
	}
	c.Set(userIDContextKey, claims.UserID)
	c.Next()
}

func (h *httpHandler) respondInternalError(c *gin.Context, message string, err error, fields ...zap.Field) {
	attrs := append([]zap.Field{zap.String("path", c.FullPath()), zap.Error(err)}, fields...)
	h.logger.Error(message, attrs...)
	c.JSON(http.StatusInternalServerError, gin.H{"error": errorInternal})
}
