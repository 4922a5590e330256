package notes

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type sequenceIDProvider struct {
	next int
}

func (p *sequenceIDProvider) NewID() (string, error) {
	p.next++
	return fmt.Sprintf("note-%03d", p.next), nil
}

type steppingClock struct {
	current time.Time
}

func (c *steppingClock) Now() time.Time {
	c.current = c.current.Add(time.Second)
	return c.current
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "notes.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Note{}); err != nil {
		t.Fatalf("failed to migrate notes schema: %v", err)
	}
	clock := &steppingClock{current: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &sequenceIDProvider{},
	})
	if err != nil {
		t.Fatalf("failed to build notes service: %v", err)
	}
	return service, db
}

func mustUserID(t *testing.T, value string) UserID {
	t.Helper()
	id, err := NewUserID(value)
	if err != nil {
		t.Fatalf("unexpected user id error: %v", err)
	}
	return id
}

func mustNoteID(t *testing.T, value string) NoteID {
	t.Helper()
	id, err := NewNoteID(value)
	if err != nil {
		t.Fatalf("unexpected note id error: %v", err)
	}
	return id
}

func sampleCreateRequest() CreateRequest {
	return CreateRequest{
		ModuleSlug:   "risk-management",
		LessonSlug:   "position-sizing",
		SelectedText: "never risk more than 1%",
		NoteText:     "apply to swing trades too",
	}
}
