package progress

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Status is the completion state of a lesson for a user.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
)

var (
	// ErrInvalidStatus indicates a status outside the three known values.
	ErrInvalidStatus = errors.New("progress: invalid status")
	// ErrInvalidSlug indicates an empty or malformed module or lesson slug.
	ErrInvalidSlug = errors.New("progress: invalid slug")
	// ErrInvalidUserID indicates an empty user identifier.
	ErrInvalidUserID = errors.New("progress: invalid user id")
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

const maxSlugLength = 190

// ParseStatus validates a raw status value. Matching is exact.
func ParseStatus(raw string) (Status, error) {
	switch Status(raw) {
	case StatusNotStarted, StatusInProgress, StatusCompleted:
		return Status(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// LessonProgress is the per-user state of one lesson, unique by
// (user_id, module_slug, lesson_slug). CompletedAt is non-nil iff Status is completed.
type LessonProgress struct {
	ID          string     `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	UserID      string     `gorm:"column:user_id;size:190;not null;uniqueIndex:idx_progress_user_lesson,priority:1" json:"user_id"`
	ModuleSlug  string     `gorm:"column:module_slug;size:190;not null;uniqueIndex:idx_progress_user_lesson,priority:2" json:"module_slug"`
	LessonSlug  string     `gorm:"column:lesson_slug;size:190;not null;uniqueIndex:idx_progress_user_lesson,priority:3" json:"lesson_slug"`
	Status      Status     `gorm:"column:status;size:32;not null;default:'not_started'" json:"status"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (LessonProgress) TableName() string {
	return "lesson_progress"
}

// UpsertRequest describes a status write for the caller's lesson.
type UpsertRequest struct {
	ModuleSlug string
	LessonSlug string
	Status     Status
}

func (r UpsertRequest) validate() error {
	if err := ValidateSlug(r.ModuleSlug); err != nil {
		return err
	}
	if err := ValidateSlug(r.LessonSlug); err != nil {
		return err
	}
	_, err := ParseStatus(string(r.Status))
	return err
}

// ValidateSlug checks a module or lesson slug against the lowercase, hyphen separated form.
func ValidateSlug(value string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSlug)
	}
	if len(value) > maxSlugLength || !slugPattern.MatchString(value) {
		return fmt.Errorf("%w: %q", ErrInvalidSlug, value)
	}
	return nil
}

// CompletedAtFor returns the completion timestamp a row with status must carry.
func CompletedAtFor(status Status, now time.Time) *time.Time {
	if status != StatusCompleted {
		return nil
	}
	stamp := now.UTC()
	return &stamp
}
