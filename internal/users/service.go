package users

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Hakan2211/course-platform/internal/ids"
	"github.com/Hakan2211/course-platform/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrUserNotFound indicates no user matched the lookup.
	ErrUserNotFound = errors.New("users: user not found")
	// ErrInvalidEmail indicates an empty or malformed email address.
	ErrInvalidEmail = errors.New("users: invalid email")
	// ErrEmptyToken indicates a lookup with an empty magic-link token.
	ErrEmptyToken = errors.New("users: empty magic link token")

	errMissingDatabase = errors.New("database handle is required")
)

const (
	opFindByMagicLink = "users.find_by_magic_link"
	opConsumeLink     = "users.consume_magic_link"
	opIssueLink       = "users.issue_magic_link"

	magicLinkTokenBytes = 32
)

// ServiceConfig describes the dependencies required for user lookups.
type ServiceConfig struct {
	Database    *gorm.DB
	Clock       func() time.Time
	IDProvider  ids.Provider
	TokenSource func() (string, error)
	Logger      *zap.Logger
}

// Service reads and mutates user rows for the magic-link flow.
type Service struct {
	db          *gorm.DB
	now         func() time.Time
	idProvider  ids.Provider
	tokenSource func() (string, error)
	logger      *zap.Logger
}

// NewService constructs the user service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}
	tokenSource := cfg.TokenSource
	if tokenSource == nil {
		tokenSource = NewMagicLinkToken
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:          cfg.Database,
		now:         clock,
		idProvider:  idProvider,
		tokenSource: tokenSource,
		logger:      logger,
	}, nil
}

// FindByMagicLinkToken returns the user holding the token. Expiry is not checked here.
func (s *Service) FindByMagicLinkToken(ctx context.Context, token string) (User, error) {
	if s == nil || s.db == nil {
		return User{}, serviceerr.New(opFindByMagicLink, "missing_database", errMissingDatabase)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return User{}, ErrEmptyToken
	}

	var user User
	err := s.db.WithContext(ctx).Where("magic_link_token = ?", token).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, serviceerr.New(opFindByMagicLink, "query_failed", err)
	}
	return user, nil
}

// ConsumeMagicLink clears the user's magic-link token and expiry and stamps last_login.
func (s *Service) ConsumeMagicLink(ctx context.Context, userID string) error {
	if s == nil || s.db == nil {
		return serviceerr.New(opConsumeLink, "missing_database", errMissingDatabase)
	}
	result := s.db.WithContext(ctx).
		Model(&User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"magic_link_token":      nil,
			"magic_link_expires_at": nil,
			"last_login":            s.now().UTC(),
		})
	if result.Error != nil {
		return serviceerr.New(opConsumeLink, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// IssueMagicLink finds or creates the user for email and stores a fresh single-use token.
func (s *Service) IssueMagicLink(ctx context.Context, email string, ttl time.Duration) (User, string, error) {
	if s == nil || s.db == nil {
		return User{}, "", serviceerr.New(opIssueLink, "missing_database", errMissingDatabase)
	}
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return User{}, "", ErrInvalidEmail
	}

	token, err := s.tokenSource()
	if err != nil {
		return User{}, "", serviceerr.New(opIssueLink, "token_generation_failed", err)
	}
	expiresAt := s.now().UTC().Add(ttl)

	var user User
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("email = ?", email).Take(&user).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			userID, idErr := s.idProvider.NewID()
			if idErr != nil {
				return serviceerr.New(opIssueLink, "id_generation_failed", idErr)
			}
			user = User{ID: userID, Email: email}
			if err := tx.Create(&user).Error; err != nil {
				return serviceerr.New(opIssueLink, "insert_failed", err)
			}
			s.logger.Info("user created for magic link", zap.String("user_id", user.ID))
		} else if err != nil {
			return serviceerr.New(opIssueLink, "query_failed", err)
		}

		user.MagicLinkToken = &token
		user.MagicLinkExpiresAt = &expiresAt
		if err := tx.Model(&User{}).
			Where("id = ?", user.ID).
			Updates(map[string]interface{}{
				"magic_link_token":      token,
				"magic_link_expires_at": expiresAt,
			}).Error; err != nil {
			return serviceerr.New(opIssueLink, "update_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return User{}, "", txErr
	}
	return user, token, nil
}

// NewMagicLinkToken returns a random URL-safe token.
func NewMagicLinkToken() (string, error) {
	buffer := make([]byte, magicLinkTokenBytes)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}
