package progress

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/Hakan2211/course-platform/internal/serviceerr"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("progress-%03d", p.next), nil
}

type steppingClock struct {
	current time.Time
}

func (c *steppingClock) Now() time.Time {
	c.current = c.current.Add(time.Minute)
	return c.current
}

type recordingNotifier struct {
	mu      sync.Mutex
	records []LessonProgress
}

func (n *recordingNotifier) ProgressChanged(_ context.Context, record LessonProgress) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.records = append(n.records, record)
}

func newTestService(t *testing.T, notifier Notifier) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "progress.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&LessonProgress{}); err != nil {
		t.Fatalf("failed to migrate progress schema: %v", err)
	}
	clock := &steppingClock{current: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequenceIDProvider{},
		Notifier:   notifier,
	})
	if err != nil {
		t.Fatalf("failed to build progress service: %v", err)
	}
	return service, db
}

func positionSizing(status Status) UpsertRequest {
	return UpsertRequest{ModuleSlug: "risk-management", LessonSlug: "position-sizing", Status: status}
}

func TestUpsertCompletedSetsCompletedAt(t *testing.T) {
	service, _ := newTestService(t, nil)
	ctx := context.Background()

	record, err := service.Upsert(ctx, "user-u", positionSizing(StatusCompleted))
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if record.Status != StatusCompleted {
		t.Fatalf("expected completed status, got %s", record.Status)
	}
	if record.CompletedAt == nil {
		t.Fatalf("expected completed_at to be set")
	}

	listed, err := service.List(ctx, "user-u")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected one record, got %d", len(listed))
	}
	if listed[0].ID != record.ID || listed[0].Status != StatusCompleted || listed[0].CompletedAt == nil {
		t.Fatalf("listed record differs from upserted record: %#v", listed[0])
	}
	if !listed[0].CompletedAt.Equal(*record.CompletedAt) {
		t.Fatalf("expected completed_at %v, got %v", record.CompletedAt, listed[0].CompletedAt)
	}
}

func TestUpsertIsIdempotentForRepeatedCalls(t *testing.T) {
	service, db := newTestService(t, nil)
	ctx := context.Background()

	first, err := service.Upsert(ctx, "user-u", positionSizing(StatusInProgress))
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	second, err := service.Upsert(ctx, "user-u", positionSizing(StatusInProgress))
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same row to be reused, got %s and %s", first.ID, second.ID)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Fatalf("expected updated_at to advance, got %v then %v", first.UpdatedAt, second.UpdatedAt)
	}

	var count int64
	if err := db.Model(&LessonProgress{}).
		Where("user_id = ? AND module_slug = ? AND lesson_slug = ?", "user-u", "risk-management", "position-sizing").
		Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one row, got %d", count)
	}
}

func TestCompletedAtTracksStatusAcrossTransitions(t *testing.T) {
	service, db := newTestService(t, nil)
	ctx := context.Background()

	transitions := []Status{
		StatusInProgress,
		StatusCompleted,
		StatusNotStarted,
		StatusCompleted,
		StatusInProgress,
	}
	for _, status := range transitions {
		record, err := service.Upsert(ctx, "user-u", positionSizing(status))
		if err != nil {
			t.Fatalf("upsert %s failed: %v", status, err)
		}
		if (record.Status == StatusCompleted) != (record.CompletedAt != nil) {
			t.Fatalf("invariant violated after %s: %#v", status, record)
		}

		var stored LessonProgress
		if err := db.Where("user_id = ?", "user-u").Take(&stored).Error; err != nil {
			t.Fatalf("reload failed: %v", err)
		}
		if (stored.Status == StatusCompleted) != (stored.CompletedAt != nil) {
			t.Fatalf("stored invariant violated after %s: %#v", status, stored)
		}
	}
}

func TestUpsertRejectsInvalidStatusWithoutWriting(t *testing.T) {
	service, db := newTestService(t, nil)
	ctx := context.Background()

	if _, err := service.Upsert(ctx, "user-u", positionSizing(StatusCompleted)); err != nil {
		t.Fatalf("seed upsert failed: %v", err)
	}

	_, err := service.Upsert(ctx, "user-u", positionSizing(Status("bogus")))
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}

	var stored LessonProgress
	if err := db.Where("user_id = ?", "user-u").Take(&stored).Error; err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if stored.Status != StatusCompleted {
		t.Fatalf("expected row to stay completed, got %s", stored.Status)
	}
}

func TestUpsertValidatesInput(t *testing.T) {
	service, _ := newTestService(t, nil)
	ctx := context.Background()

	if _, err := service.Upsert(ctx, " ", positionSizing(StatusCompleted)); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
	if _, err := service.Upsert(ctx, "user-u", UpsertRequest{LessonSlug: "x", Status: StatusCompleted}); !errors.Is(err, ErrInvalidSlug) {
		t.Fatalf("expected ErrInvalidSlug, got %v", err)
	}
	for _, slug := range []string{"../secrets", "Risk-Management", "risk_management", "risk--management", "-risk"} {
		if _, err := service.Upsert(ctx, "user-u", UpsertRequest{ModuleSlug: slug, LessonSlug: "position-sizing", Status: StatusCompleted}); !errors.Is(err, ErrInvalidSlug) {
			t.Fatalf("expected ErrInvalidSlug for module %q, got %v", slug, err)
		}
		if _, err := service.Upsert(ctx, "user-u", UpsertRequest{ModuleSlug: "risk-management", LessonSlug: slug, Status: StatusCompleted}); !errors.Is(err, ErrInvalidSlug) {
			t.Fatalf("expected ErrInvalidSlug for lesson %q, got %v", slug, err)
		}
	}
	if _, err := service.List(ctx, ""); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("expected ErrInvalidUserID from list, got %v", err)
	}
}

func TestListScopedToUser(t *testing.T) {
	service, _ := newTestService(t, nil)
	ctx := context.Background()

	if _, err := service.Upsert(ctx, "user-a", positionSizing(StatusCompleted)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if _, err := service.Upsert(ctx, "user-b", positionSizing(StatusInProgress)); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	records, err := service.List(ctx, "user-b")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(records) != 1 || records[0].UserID != "user-b" || records[0].Status != StatusInProgress {
		t.Fatalf("unexpected records %#v", records)
	}

	empty, err := service.List(ctx, "user-c")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", empty)
	}
}

func TestUpsertNotifiesStoredRecord(t *testing.T) {
	notifier := &recordingNotifier{}
	service, _ := newTestService(t, notifier)

	stored, err := service.Upsert(context.Background(), "user-u", positionSizing(StatusCompleted))
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	if len(notifier.records) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.records))
	}
	if notifier.records[0].ID != stored.ID || notifier.records[0].Status != StatusCompleted {
		t.Fatalf("unexpected notification %#v", notifier.records[0])
	}

	if _, err := service.Upsert(context.Background(), "user-u", positionSizing(Status("bogus"))); err == nil {
		t.Fatalf("expected invalid status error")
	}
	if len(notifier.records) != 1 {
		t.Fatalf("expected rejected upsert to skip notification")
	}
}

func TestZeroServiceReportsMissingDatabase(t *testing.T) {
	var service *Service
	_, err := service.List(context.Background(), "user-u")
	if serviceerr.CodeOf(err) != "progress.list.missing_database" {
		t.Fatalf("unexpected code %q", serviceerr.CodeOf(err))
	}
	_, err = service.Upsert(context.Background(), "user-u", positionSizing(StatusCompleted))
	if serviceerr.CodeOf(err) != "progress.upsert.missing_database" {
		t.Fatalf("unexpected code %q", serviceerr.CodeOf(err))
	}
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	if _, err := NewService(ServiceConfig{}); serviceerr.CodeOf(err) != "progress.service.new.missing_database" {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestParseStatus(t *testing.T) {
	for _, raw := range []string{"not_started", "in_progress", "completed"} {
		if status, err := ParseStatus(raw); err != nil || string(status) != raw {
			t.Fatalf("expected %s to parse, got %q %v", raw, status, err)
		}
	}
	for _, raw := range []string{"", "Completed", "done", "bogus"} {
		if _, err := ParseStatus(raw); !errors.Is(err, ErrInvalidStatus) {
			t.Fatalf("expected %q to be rejected, got %v", raw, err)
		}
	}
}
