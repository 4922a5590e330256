package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Hakan2211/course-platform/internal/users"
	"go.uber.org/zap"
)

var (
	ErrMagicLinkMissing  = errors.New("magic link: token missing")
	ErrMagicLinkNotFound = errors.New("magic link: token not found")
	ErrMagicLinkExpired  = errors.New("magic link: token expired")
	ErrMagicLinkIssue    = errors.New("magic link: session issue failed")

	errMissingUserStore      = errors.New("magic link: user store required")
	errMissingSessionManager = errors.New("magic link: session manager required")
)

// MagicLinkUserStore is the user persistence needed by the exchange.
type MagicLinkUserStore interface {
	FindByMagicLinkToken(ctx context.Context, token string) (users.User, error)
	ConsumeMagicLink(ctx context.Context, userID string) error
}

// MagicLinkExchangerConfig wires the exchange dependencies.
type MagicLinkExchangerConfig struct {
	Users    MagicLinkUserStore
	Sessions *SessionManager
	Clock    func() time.Time
	Logger   *zap.Logger
}

// MagicLinkExchanger trades a single-use magic-link token for a session token.
type MagicLinkExchanger struct {
	users    MagicLinkUserStore
	sessions *SessionManager
	clock    func() time.Time
	logger   *zap.Logger
}

// ExchangeResult is the session minted by a successful exchange.
type ExchangeResult struct {
	Session   Session
	Token     string
	ExpiresAt time.Time
}

// NewMagicLinkExchanger validates the configuration and builds an exchanger.
func NewMagicLinkExchanger(cfg MagicLinkExchangerConfig) (*MagicLinkExchanger, error) {
	if cfg.Users == nil {
		return nil, errMissingUserStore
	}
	if cfg.Sessions == nil {
		return nil, errMissingSessionManager
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MagicLinkExchanger{
		users:    cfg.Users,
		sessions: cfg.Sessions,
		clock:    clock,
		logger:   logger,
	}, nil
}

// Exchange verifies the token and mints a session. The returned errors let callers
// log the failure reason; all of them must be answered identically to the client.
//
// Lookup and clearing are two statements, so two concurrent exchanges of the same
// token can both succeed.
func (e *MagicLinkExchanger) Exchange(ctx context.Context, token string) (ExchangeResult, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		e.logger.Info("magic link rejected", zap.String("reason", "missing"))
		return ExchangeResult{}, ErrMagicLinkMissing
	}

	user, err := e.users.FindByMagicLinkToken(ctx, token)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			e.logger.Info("magic link rejected", zap.String("reason", "not_found"))
		} else {
			e.logger.Error("magic link lookup failed", zap.Error(err))
		}
		return ExchangeResult{}, ErrMagicLinkNotFound
	}

	if user.MagicLinkExpired(e.clock()) {
		e.logger.Info("magic link rejected",
			zap.String("reason", "expired"),
			zap.String("user_id", user.ID))
		return ExchangeResult{}, ErrMagicLinkExpired
	}

	session := Session{UserID: user.ID, Email: user.Email}
	signed, expiresAt, err := e.sessions.IssueToken(session)
	if err != nil {
		e.logger.Error("session token issue failed", zap.String("user_id", user.ID), zap.Error(err))
		return ExchangeResult{}, ErrMagicLinkIssue
	}

	if err := e.users.ConsumeMagicLink(ctx, user.ID); err != nil {
		e.logger.Warn("magic link token not cleared",
			zap.String("user_id", user.ID),
			zap.Error(err))
	}

	e.logger.Info("magic link exchanged", zap.String("user_id", user.ID))
	return ExchangeResult{Session: session, Token: signed, ExpiresAt: expiresAt}, nil
}
