package notes

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Hakan2211/course-platform/internal/ids"
	"github.com/Hakan2211/course-platform/internal/serviceerr"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew = "notes.service.new"
	opCreate     = "notes.create"
	opList       = "notes.list"
	opUpdate     = "notes.update"
	opDelete     = "notes.delete"
)

type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Service persists notes. Every statement is scoped by the caller's user id.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider ids.Provider
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
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
	}, nil
}

// Create stores a new note owned by userID.
func (s *Service) Create(ctx context.Context, userID UserID, request CreateRequest) (Note, error) {
	if err := s.ready(opCreate); err != nil {
		return Note{}, err
	}
	if err := request.validate(); err != nil {
		return Note{}, err
	}

	noteID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreate, "id_generation_failed", err, zap.String("user_id", userID.String()))
		return Note{}, serviceerr.New(opCreate, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	note := Note{
		ID:           noteID,
		UserID:       userID.String(),
		ModuleSlug:   request.ModuleSlug,
		LessonSlug:   request.LessonSlug,
		SelectedText: request.SelectedText,
		NoteText:     request.NoteText,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(&note).Error; err != nil {
		s.logError(opCreate, "insert_failed", err,
			zap.String("user_id", userID.String()),
			zap.String("module_slug", request.ModuleSlug),
			zap.String("lesson_slug", request.LessonSlug))
		return Note{}, serviceerr.New(opCreate, "insert_failed", err)
	}
	return note, nil
}

// List returns all notes owned by userID in insertion order.
func (s *Service) List(ctx context.Context, userID UserID) ([]Note, error) {
	if err := s.ready(opList); err != nil {
		return nil, err
	}

	notes := make([]Note, 0)
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Order("created_at ASC").
		Order("id ASC").
		Find(&notes).Error; err != nil {
		s.logError(opList, "query_failed", err, zap.String("user_id", userID.String()))
		return nil, serviceerr.New(opList, "query_failed", err)
	}
	return notes, nil
}

// Update replaces the text of a note owned by userID. A note owned by someone
// else is reported as ErrNoteNotFound.
func (s *Service) Update(ctx context.Context, userID UserID, noteID NoteID, noteText string) (Note, error) {
	if err := s.ready(opUpdate); err != nil {
		return Note{}, err
	}
	if strings.TrimSpace(noteText) == "" {
		return Note{}, ErrMissingText
	}

	var updated Note
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Note{}).
			Where("id = ? AND user_id = ?", noteID.String(), userID.String()).
			Updates(map[string]interface{}{
				"note_text":  noteText,
				"updated_at": s.clock().UTC(),
			})
		if result.Error != nil {
			s.logError(opUpdate, "update_failed", result.Error,
				zap.String("user_id", userID.String()),
				zap.String("note_id", noteID.String()))
			return serviceerr.New(opUpdate, "update_failed", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNoteNotFound
		}
		if err := tx.Where("id = ? AND user_id = ?", noteID.String(), userID.String()).Take(&updated).Error; err != nil {
			s.logError(opUpdate, "reload_failed", err,
				zap.String("user_id", userID.String()),
				zap.String("note_id", noteID.String()))
			return serviceerr.New(opUpdate, "reload_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return Note{}, txErr
	}
	return updated, nil
}

// Delete removes a note owned by userID. A note owned by someone else is
// reported as ErrNoteNotFound and left untouched.
func (s *Service) Delete(ctx context.Context, userID UserID, noteID NoteID) error {
	if err := s.ready(opDelete); err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", noteID.String(), userID.String()).
		Delete(&Note{})
	if result.Error != nil {
		s.logError(opDelete, "delete_failed", result.Error,
			zap.String("user_id", userID.String()),
			zap.String("note_id", noteID.String()))
		return serviceerr.New(opDelete, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNoteNotFound
	}
	return nil
}

func (s *Service) ready(operation string) error {
	if s == nil || s.db == nil {
		s.logError(operation, "missing_database", errMissingDatabase)
		return serviceerr.New(operation, "missing_database", errMissingDatabase)
	}
	if s.idProvider == nil && operation == opCreate {
		s.logError(operation, "missing_id_provider", errMissingIDProvider)
		return serviceerr.New(operation, "missing_id_provider", errMissingIDProvider)
	}
	return nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("notes service error", attrs...)
}
