package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/Hakan2211/course-platform/internal/auth"
	"github.com/Hakan2211/course-platform/internal/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type sessionResponsePayload struct {
	User *auth.Session `json:"user"`
}

// handleSession never fails: an absent or invalid cookie reports a null user.
func (h *httpHandler) handleSession(c *gin.Context) {
	var session *auth.Session
	if cookie, err := c.Request.Cookie(h.sessions.CookieName()); err == nil {
		session = h.sessions.VerifySession(cookie.Value)
	}
	c.JSON(http.StatusOK, sessionResponsePayload{User: session})
}

func (h *httpHandler) handleVerify(c *gin.Context) {
	result, err := h.magicLinks.Exchange(c.Request.Context(), c.Query("token"))
	if err != nil {
		if !isExpectedExchangeFailure(err) {
			h.logger.Error("magic link exchange failed", zap.Error(err))
		}
		h.recordExchange(metrics.ExchangeRejected)
		c.Redirect(http.StatusFound, h.baseURL+loginPath)
		return
	}

	h.setSessionCookie(c, result.Token, result.ExpiresAt)
	h.recordExchange(metrics.ExchangeAccepted)
	c.Redirect(http.StatusFound, h.baseURL+landingPath)
}

func (h *httpHandler) handleLogout(c *gin.Context) {
	h.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *httpHandler) rateLimitExceeded(c *gin.Context) {
	h.recordExchange(metrics.ExchangeLimited)
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": errorTooManyRequests})
}

func (h *httpHandler) recordExchange(result string) {
	if h.metrics != nil {
		h.metrics.MagicLinkExchanged(result)
	}
}

func (h *httpHandler) setSessionCookie(c *gin.Context, token string, expiresAt time.Time) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.sessions.CookieName(),
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessions.TTL() / time.Second),
		Expires:  expiresAt.UTC(),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *httpHandler) clearSessionCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     h.sessions.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0).UTC(),
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func isExpectedExchangeFailure(err error) bool {
	return errors.Is(err, auth.ErrMagicLinkMissing) ||
		errors.Is(err, auth.ErrMagicLinkNotFound) ||
		errors.Is(err, auth.ErrMagicLinkExpired)
}
