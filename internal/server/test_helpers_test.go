package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/Hakan2211/course-platform/internal/auth"
	"github.com/Hakan2211/course-platform/internal/content"
	"github.com/Hakan2211/course-platform/internal/events"
	"github.com/Hakan2211/course-platform/internal/ids"
	"github.com/Hakan2211/course-platform/internal/metrics"
	"github.com/Hakan2211/course-platform/internal/notes"
	"github.com/Hakan2211/course-platform/internal/progress"
	"github.com/Hakan2211/course-platform/internal/users"
	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

const (
	testBaseURL       = "https://course.example.com"
	testAllowedOrigin = "https://course.example.com"
	testSigningSecret = "test-signing-secret"
)

type testServerOptions struct {
	secureCookies  bool
	limiter        RateLimiter
	trustedProxies []string
}

type testServer struct {
	handler    http.Handler
	deps       Dependencies
	db         *gorm.DB
	sessions   *auth.SessionManager
	users      *users.Service
	dispatcher *RealtimeDispatcher
	metrics    *metrics.Recorder
	logs       *observer.ObservedLogs
}

func newTestServer(t *testing.T, options testServerOptions) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "server.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&users.User{}, &notes.Note{}, &progress.LessonProgress{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	sessions, err := auth.NewSessionManager(auth.SessionManagerConfig{
		SigningSecret: []byte(testSigningSecret),
		CookieName:    "session",
	})
	if err != nil {
		t.Fatalf("failed to build session manager: %v", err)
	}
	userService, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		t.Fatalf("failed to build user service: %v", err)
	}
	exchanger, err := auth.NewMagicLinkExchanger(auth.MagicLinkExchangerConfig{
		Users:    userService,
		Sessions: sessions,
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("failed to build exchanger: %v", err)
	}
	notesService, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		IDProvider: ids.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to build notes service: %v", err)
	}
	dispatcher := NewRealtimeDispatcher()
	recorder := metrics.NewRecorder()
	progressService, err := progress.NewService(progress.ServiceConfig{
		Database:   db,
		IDProvider: ids.NewUUIDProvider(),
		Notifier:   events.NewFanout(dispatcher, recorder),
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to build progress service: %v", err)
	}

	deps := Dependencies{
		Sessions:       sessions,
		MagicLinks:     exchanger,
		Notes:          notesService,
		Progress:       progressService,
		Catalog:        content.NewCatalogFS(testContent(), logger),
		Realtime:       dispatcher,
		VerifyLimiter:  options.limiter,
		Metrics:        recorder,
		BaseURL:        testBaseURL + "/",
		SecureCookies:  options.secureCookies,
		AllowedOrigins: []string{testAllowedOrigin},
		TrustedProxies: options.trustedProxies,
		Logger:         logger,
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to build http handler: %v", err)
	}

	return &testServer{
		handler:    handler,
		deps:       deps,
		db:         db,
		sessions:   sessions,
		users:      userService,
		dispatcher: dispatcher,
		metrics:    recorder,
		logs:       logs,
	}
}

func testContent() fstest.MapFS {
	return fstest.MapFS{
		"risk-management/position-sizing.mdx": &fstest.MapFile{Data: []byte("---\ntitle: Position Sizing\norder: 1\nmoduleBadge: Module 3\n---\n# Position Sizing\n")},
		"risk-management/stop-losses.mdx":     &fstest.MapFile{Data: []byte("---\ntitle: Stop Losses\norder: 2\n---\n# Stop Losses\n")},
	}
}

func (s *testServer) sessionCookie(t *testing.T, userID, email string) *http.Cookie {
	t.Helper()
	token, _, err := s.sessions.IssueToken(auth.Session{UserID: userID, Email: email})
	if err != nil {
		t.Fatalf("failed to issue session token: %v", err)
	}
	return &http.Cookie{Name: "session", Value: token}
}

func (s *testServer) do(method, target, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, target, http.NoBody)
	} else {
		request = httptest.NewRequest(method, target, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	return recorder
}

func (s *testServer) issueLink(t *testing.T, email string, ttl time.Duration) (users.User, string) {
	t.Helper()
	user, token, err := s.users.IssueMagicLink(context.Background(), email, ttl)
	if err != nil {
		t.Fatalf("failed to issue magic link: %v", err)
	}
	return user, token
}

func findCookie(response *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range response.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}
