package progress

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Hakan2211/course-platform/internal/ids"
	"github.com/Hakan2211/course-platform/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
)

const (
	opServiceNew = "progress.service.new"
	opList       = "progress.list"
	opUpsert     = "progress.upsert"
)

// Notifier is told about every stored status change.
type Notifier interface {
	ProgressChanged(ctx context.Context, record LessonProgress)
}

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Notifier   Notifier
	Logger     *zap.Logger
}

// Service stores lesson progress. Concurrent upserts for the same lesson
// resolve last-write-wins.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
	notifier   Notifier
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerr.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, serviceerr.New(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		notifier:   cfg.Notifier,
		logger:     logger,
	}, nil
}

// List returns every progress row of userID.
func (s *Service) List(ctx context.Context, userID string) ([]LessonProgress, error) {
	if s == nil || s.db == nil {
		return nil, serviceerr.New(opList, "missing_database", errMissingDatabase)
	}
	if strings.TrimSpace(userID) == "" {
		return nil, ErrInvalidUserID
	}

	records := make([]LessonProgress, 0)
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("module_slug ASC").
		Order("lesson_slug ASC").
		Find(&records).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("user_id", userID))
		return nil, serviceerr.New(opList, "query_failed", err)
	}
	return records, nil
}

// Upsert writes the status for the caller's lesson, replacing any previous row.
// completed_at is derived from the status: now when completed, NULL otherwise.
func (s *Service) Upsert(ctx context.Context, userID string, request UpsertRequest) (LessonProgress, error) {
	if s == nil || s.db == nil {
		return LessonProgress{}, serviceerr.New(opUpsert, "missing_database", errMissingDatabase)
	}
	if strings.TrimSpace(userID) == "" {
		return LessonProgress{}, ErrInvalidUserID
	}
	if err := request.validate(); err != nil {
		return LessonProgress{}, err
	}

	rowID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opUpsert, "id_generation_failed", err, zap.String("user_id", userID))
		return LessonProgress{}, serviceerr.New(opUpsert, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	record := LessonProgress{
		ID:          rowID,
		UserID:      userID,
		ModuleSlug:  request.ModuleSlug,
		LessonSlug:  request.LessonSlug,
		Status:      request.Status,
		CompletedAt: CompletedAtFor(request.Status, now),
		UpdatedAt:   now,
	}

	var stored LessonProgress
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "module_slug"}, {Name: "lesson_slug"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "completed_at", "updated_at"}),
		}).Create(&record).Error; err != nil {
			s.logError(opUpsert, "upsert_failed", err,
				zap.String("user_id", userID),
				zap.String("module_slug", request.ModuleSlug),
				zap.String("lesson_slug", request.LessonSlug))
			return serviceerr.New(opUpsert, "upsert_failed", err)
		}
		if err := tx.Where("user_id = ? AND module_slug = ? AND lesson_slug = ?",
			userID, request.ModuleSlug, request.LessonSlug).
			Take(&stored).Error; err != nil {
			s.logError(opUpsert, "reload_failed", err, zap.String("user_id", userID))
			return serviceerr.New(opUpsert, "reload_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return LessonProgress{}, txErr
	}

	if s.notifier != nil {
		s.notifier.ProgressChanged(ctx, stored)
	}
	return stored, nil
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("progress service error", attrs...)
}
