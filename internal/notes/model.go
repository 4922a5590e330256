package notes

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("notes: invalid note id")
	// ErrInvalidUserID indicates that a user identifier is empty or exceeds storage bounds.
	ErrInvalidUserID = errors.New("notes: invalid user id")
	// ErrInvalidSlug indicates a module or lesson slug outside [a-z0-9-].
	ErrInvalidSlug = errors.New("notes: invalid slug")
	// ErrMissingText indicates an empty selected or note text.
	ErrMissingText = errors.New("notes: text required")
	// ErrNoteNotFound indicates no note with the id exists for the caller.
	ErrNoteNotFound = errors.New("notes: note not found")
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// NoteID represents a validated note identifier.
type NoteID string

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(rawInput string) (NoteID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNoteID, maxIdentifierLength)
	}
	return NoteID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NoteID) String() string {
	return string(id)
}

// UserID represents a validated user identifier.
type UserID string

// NewUserID validates raw input and returns a UserID.
func NewUserID(rawInput string) (UserID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidUserID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidUserID, maxIdentifierLength)
	}
	return UserID(trimmed), nil
}

// String returns the underlying string identifier.
func (id UserID) String() string {
	return string(id)
}

// ValidateSlug checks a module or lesson slug.
func ValidateSlug(value string) error {
	if len(value) > maxIdentifierLength || !slugPattern.MatchString(value) {
		return fmt.Errorf("%w: %q", ErrInvalidSlug, value)
	}
	return nil
}

// Note is a user annotation anchored to a passage of a lesson.
type Note struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null" json:"id"`
	UserID       string    `gorm:"column:user_id;size:190;not null;index:idx_notes_user_lesson,priority:1" json:"user_id"`
	ModuleSlug   string    `gorm:"column:module_slug;size:190;not null;index:idx_notes_user_lesson,priority:2" json:"module_slug"`
	LessonSlug   string    `gorm:"column:lesson_slug;size:190;not null;index:idx_notes_user_lesson,priority:3" json:"lesson_slug"`
	SelectedText string    `gorm:"column:selected_text;type:text;not null" json:"selected_text"`
	NoteText     string    `gorm:"column:note_text;type:text;not null" json:"note_text"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// CreateRequest describes a new note. The owner always comes from the session.
type CreateRequest struct {
	ModuleSlug   string
	LessonSlug   string
	SelectedText string
	NoteText     string
}

func (r CreateRequest) validate() error {
	if err := ValidateSlug(r.ModuleSlug); err != nil {
		return err
	}
	if err := ValidateSlug(r.LessonSlug); err != nil {
		return err
	}
	if strings.TrimSpace(r.SelectedText) == "" || strings.TrimSpace(r.NoteText) == "" {
		return ErrMissingText
	}
	return nil
}
