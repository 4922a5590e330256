// Package events fans stored progress changes out to in-process and broker subscribers.
package events

import (
	"context"
	"time"

	"github.com/Hakan2211/course-platform/internal/progress"
)

// ProgressUpdatedEvent is the broker payload emitted after every successful upsert.
type ProgressUpdatedEvent struct {
	UserID      string     `json:"user_id"`
	ModuleSlug  string     `json:"module_slug"`
	LessonSlug  string     `json:"lesson_slug"`
	Status      string     `json:"status"`
	CompletedAt *time.Time `json:"completed_at"`
	OccurredAt  time.Time  `json:"occurred_at"`
}

// NewProgressUpdatedEvent converts a stored record into its broker payload.
func NewProgressUpdatedEvent(record progress.LessonProgress) ProgressUpdatedEvent {
	return ProgressUpdatedEvent{
		UserID:      record.UserID,
		ModuleSlug:  record.ModuleSlug,
		LessonSlug:  record.LessonSlug,
		Status:      string(record.Status),
		CompletedAt: record.CompletedAt,
		OccurredAt:  record.UpdatedAt.UTC(),
	}
}

// Fanout forwards every change to each non-nil notifier in order.
type Fanout []progress.Notifier

// NewFanout drops nil entries.
func NewFanout(notifiers ...progress.Notifier) Fanout {
	fanout := make(Fanout, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			fanout = append(fanout, notifier)
		}
	}
	return fanout
}

func (f Fanout) ProgressChanged(ctx context.Context, record progress.LessonProgress) {
	for _, notifier := range f {
		notifier.ProgressChanged(ctx, record)
	}
}
