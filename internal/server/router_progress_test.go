package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Hakan2211/course-platform/internal/progress"
)

type progressResponse struct {
	Progress progress.LessonProgress `json:"progress"`
}

type progressListResponse struct {
	Progress []progress.LessonProgress `json:"progress"`
}

func TestProgressUpsertAndList(t *testing.T) {
	server := newTestServer(t, testServerOptions{})
	cookie := server.sessionCookie(t, "user-u", "u@example.com")

	response := server.do(http.MethodPost, "/api/progress",
		`{"moduleSlug":"risk-management","lessonSlug":"position-sizing","status":"completed"}`, cookie)
	if response.Code != http.StatusOK {
		t.Fatalf("upsert failed: %d %s", response.Code, response.Body.String())
	}
	var raw map[string]map[string]any
	if err := json.Unmarshal(response.Body.Bytes(), &raw); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	completedAt, ok := raw["progress"]["completed_at"].(string)
	if !ok {
		t.Fatalf("expected completed_at timestamp, got %#v", raw["progress"]["completed_at"])
	}
	if _, err := time.Parse(time.RFC3339Nano, completedAt); err != nil {
		t.Fatalf("completed_at is not ISO8601: %v", err)
	}
	var upserted progressResponse
	if err := json.Unmarshal(response.Body.Bytes(), &upserted); err != nil {
		t.Fatalf("invalid response: %v", err)
	}

	listResponse := server.do(http.MethodGet, "/api/progress", "", cookie)
	var listed progressListResponse
	if err := json.Unmarshal(listResponse.Body.Bytes(), &listed); err != nil {
		t.Fatalf("invalid list response: %v", err)
	}
	if len(listed.Progress) != 1 {
		t.Fatalf("expected one record, got %d", len(listed.Progress))
	}
	record := listed.Progress[0]
	if record.ID != upserted.Progress.ID || record.Status != progress.StatusCompleted || record.CompletedAt == nil {
		t.Fatalf("listed record differs: %#v", record)
	}

	reset := server.do(http.MethodPost, "/api/progress",
		`{"moduleSlug":"risk-management","lessonSlug":"position-sizing","status":"in_progress"}`, cookie)
	if reset.Code != http.StatusOK {
		t.Fatalf("reset failed: %d", reset.Code)
	}
	if !strings.Contains(reset.Body.String(), `"completed_at":null`) {
		t.Fatalf("expected completed_at to be cleared, got %s", reset.Body.String())
	}
}

func TestProgressRejectsInvalidStatusWithoutWriting(t *testing.T) {
	server := newTestServer(t, testServerOptions{})
	cookie := server.sessionCookie(t, "user-u", "u@example.com")

	response := server.do(http.MethodPost, "/api/progress",
		`{"moduleSlug":"risk-management","lessonSlug":"position-sizing","status":"bogus"}`, cookie)
	if response.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", response.Code)
	}
	if response.Body.String() != `{"error":"Invalid status value"}` {
		t.Fatalf("unexpected body %s", response.Body.String())
	}

	var count int64
	if err := server.db.Model(&progress.LessonProgress{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no rows, got %d", count)
	}

	missing := server.do(http.MethodPost, "/api/progress", `{"lessonSlug":"x","status":"completed"}`, cookie)
	if missing.Code != http.StatusBadRequest || missing.Body.String() != `{"error":"Missing required fields"}` {
		t.Fatalf("unexpected response for missing slug: %d %s", missing.Code, missing.Body.String())
	}
}

func TestProgressValidationOrder(t *testing.T) {
	server := newTestServer(t, testServerOptions{})
	cookie := server.sessionCookie(t, "user-u", "u@example.com")

	testCases := []struct {
		name  string
		body  string
		error string
	}{
		{"bogus status wins over blank slugs", `{"moduleSlug":"","lessonSlug":"","status":"bogus"}`, "Invalid status value"},
		{"blank slug", `{"moduleSlug":"risk-management","lessonSlug":" ","status":"completed"}`, "Missing required fields"},
		{"malformed module slug", `{"moduleSlug":"../risk","lessonSlug":"position-sizing","status":"completed"}`, "Invalid slug"},
		{"malformed lesson slug", `{"moduleSlug":"risk-management","lessonSlug":"Position_Sizing","status":"completed"}`, "Invalid slug"},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			response := server.do(http.MethodPost, "/api/progress", testCase.body, cookie)
			if response.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", response.Code)
			}
			expected := `{"error":"` + testCase.error + `"}`
			if response.Body.String() != expected {
				t.Fatalf("expected body %s, got %s", expected, response.Body.String())
			}
		})
	}

	var count int64
	if err := server.db.Model(&progress.LessonProgress{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no rows, got %d", count)
	}
}

func TestProgressStreamEmitsChangeEvents(t *testing.T) {
	server := newTestServer(t, testServerOptions{})
	cookie := server.sessionCookie(t, "user-u", "u@example.com")

	httpServer := httptest.NewServer(server.handler)
	t.Cleanup(httpServer.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	streamRequest, err := http.NewRequestWithContext(ctx, http.MethodGet, httpServer.URL+"/api/progress/stream", http.NoBody)
	if err != nil {
		t.Fatalf("failed to build stream request: %v", err)
	}
	streamRequest.AddCookie(cookie)
	streamResponse, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResponse.Body.Close()
	})
	if streamResponse.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResponse.StatusCode)
	}

	deadline := time.Now().Add(time.Second)
	for server.dispatcher.subscriberCount("user-u") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	upsertRequest, err := http.NewRequest(http.MethodPost, httpServer.URL+"/api/progress",
		strings.NewReader(`{"moduleSlug":"risk-management","lessonSlug":"stop-losses","status":"completed"}`))
	if err != nil {
		t.Fatalf("failed to build upsert request: %v", err)
	}
	upsertRequest.Header.Set("Content-Type", "application/json")
	upsertRequest.AddCookie(cookie)
	upsertResponse, err := http.DefaultClient.Do(upsertRequest)
	if err != nil {
		t.Fatalf("upsert failed: %v", err)
	}
	_ = upsertResponse.Body.Close()
	if upsertResponse.StatusCode != http.StatusOK {
		t.Fatalf("unexpected upsert status %d", upsertResponse.StatusCode)
	}

	type readResult struct {
		line string
		err  error
	}
	reader := bufio.NewReader(streamResponse.Body)
	currentEvent := ""
	timeout := time.After(5 * time.Second)
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := reader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-timeout:
			t.Fatal("timed out waiting for progress event")
		case result := <-resultCh:
			if result.err != nil {
				t.Fatalf("failed to read stream: %v", result.err)
			}
			line := strings.TrimSpace(result.line)
			if strings.HasPrefix(line, "event:") {
				currentEvent = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") || currentEvent != RealtimeEventProgressChanged {
				continue
			}
			var payload progressEventPayload
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &payload); err != nil {
				t.Fatalf("invalid event payload: %v", err)
			}
			if payload.LessonSlug != "stop-losses" || payload.Status != "completed" {
				t.Fatalf("unexpected event %#v", payload)
			}
			return
		}
	}
}
