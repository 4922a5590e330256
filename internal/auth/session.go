package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// DefaultSessionTTL is the lifetime of a session token minted by a magic link.
	DefaultSessionTTL = 365 * 24 * time.Hour
	// DefaultSessionIssuer is stamped into every session token.
	DefaultSessionIssuer = "course-platform"
)

var (
	ErrMissingSessionSigningKey = errors.New("session manager: signing key required")
	ErrMissingSessionCookieName = errors.New("session manager: cookie name required")
	ErrMissingSessionToken      = errors.New("session manager: token required")
	ErrInvalidSessionToken      = errors.New("session manager: invalid token")
	ErrExpiredSessionToken      = errors.New("session manager: token expired")
	ErrMissingSessionSubject    = errors.New("session manager: user id and email required")
)

// Session is the identity carried by a valid session token.
type Session struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

// SessionClaims is the JWT payload of a session token.
type SessionClaims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// SessionManagerConfig describes how session tokens are signed and validated.
type SessionManagerConfig struct {
	SigningSecret []byte
	Issuer        string
	CookieName    string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// SessionManager issues and validates HS256 session tokens.
type SessionManager struct {
	signingSecret []byte
	issuer        string
	cookieName    string
	ttl           time.Duration
	clock         func() time.Time
}

// NewSessionManager constructs a manager with the provided configuration.
func NewSessionManager(cfg SessionManagerConfig) (*SessionManager, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSessionSigningKey
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		return nil, ErrMissingSessionCookieName
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		issuer = DefaultSessionIssuer
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionManager{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		cookieName:    cookieName,
		ttl:           ttl,
		clock:         clock,
	}, nil
}

// CookieName returns the cookie name configured for session lookups.
func (m *SessionManager) CookieName() string {
	return m.cookieName
}

// TTL returns the lifetime of issued tokens.
func (m *SessionManager) TTL() time.Duration {
	return m.ttl
}

// IssueToken signs a session token for the identity and returns it with its expiry.
func (m *SessionManager) IssueToken(session Session) (string, time.Time, error) {
	if strings.TrimSpace(session.UserID) == "" || strings.TrimSpace(session.Email) == "" {
		return "", time.Time{}, ErrMissingSessionSubject
	}
	now := m.clock().UTC()
	expiresAt := now.Add(m.ttl)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, SessionClaims{
		UserID: session.UserID,
		Email:  session.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   session.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	})
	signed, err := token.SignedString(m.signingSecret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// ValidateToken validates the supplied JWT string and returns the parsed claims.
func (m *SessionManager) ValidateToken(tokenString string) (SessionClaims, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return SessionClaims{}, ErrMissingSessionToken
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidSessionToken, t.Method.Alg())
			}
			return m.signingSecret, nil
		},
		jwt.WithTimeFunc(m.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(m.issuer),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return SessionClaims{}, ErrExpiredSessionToken
		}
		return SessionClaims{}, fmt.Errorf("%w: %v", ErrInvalidSessionToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return SessionClaims{}, ErrInvalidSessionToken
	}
	if strings.TrimSpace(claims.UserID) == "" || strings.TrimSpace(claims.Email) == "" {
		return SessionClaims{}, ErrMissingSessionSubject
	}
	return *claims, nil
}

// VerifySession returns the identity encoded in the raw cookie value, or nil
// when the value is absent, tampered with, malformed or expired.
func (m *SessionManager) VerifySession(rawCookieValue string) *Session {
	claims, err := m.ValidateToken(rawCookieValue)
	if err != nil {
		return nil
	}
	return &Session{UserID: claims.UserID, Email: claims.Email}
}

// ValidateRequest extracts the configured cookie from the request and validates it.
func (m *SessionManager) ValidateRequest(r *http.Request) (SessionClaims, error) {
	if r == nil {
		return SessionClaims{}, ErrMissingSessionToken
	}
	cookie, err := r.Cookie(m.cookieName)
	if err != nil || cookie == nil {
		return SessionClaims{}, ErrMissingSessionToken
	}
	return m.ValidateToken(cookie.Value)
}
