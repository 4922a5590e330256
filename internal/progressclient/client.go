// Package progressclient talks to the progress HTTP API and keeps a per-session cache of the results.
package progressclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/Hakan2211/course-platform/internal/progress"
	"go.uber.org/zap"
)

const (
	defaultCookieName  = "session"
	defaultHTTPTimeout = 10 * time.Second
	maxErrorBodyBytes  = 4 << 10
)

var (
	// ErrUnauthorized reports a 401 from the API; the session must be refreshed before retrying.
	ErrUnauthorized = errors.New("progressclient: unauthorized")

	errMissingBaseURL = errors.New("progressclient: base url is required")
)

// StatusError is returned for non-2xx responses other than 401.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("progressclient: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("progressclient: unexpected status %d: %s", e.StatusCode, e.Message)
}

// Record mirrors one lesson_progress row as served by the API.
type Record struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	ModuleSlug  string          `json:"module_slug"`
	LessonSlug  string          `json:"lesson_slug"`
	Status      progress.Status `json:"status"`
	CompletedAt *time.Time      `json:"completed_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Identity is the signed-in user reported by /api/session.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
}

type ClientConfig struct {
	BaseURL      string
	HTTPClient   *http.Client
	CookieName   string
	SessionToken string
	Logger       *zap.Logger
}

// Client issues cookie-authenticated requests against the course API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	cookieName string
	logger     *zap.Logger

	mu    sync.RWMutex
	token string
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errMissingBaseURL
	}
	baseURL, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("progressclient: invalid base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	cookieName := cfg.CookieName
	if cookieName == "" {
		cookieName = defaultCookieName
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		cookieName: cookieName,
		logger:     logger,
		token:      cfg.SessionToken,
	}, nil
}

// SetSessionToken replaces the cookie value sent with each request.
func (c *Client) SetSessionToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Session returns the current identity, or nil when the server reports no session.
func (c *Client) Session(ctx context.Context) (*Identity, error) {
	var payload struct {
		User *Identity `json:"user"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/session", nil, &payload); err != nil {
		return nil, err
	}
	return payload.User, nil
}

// List fetches every progress record of the signed-in user.
func (c *Client) List(ctx context.Context) ([]Record, error) {
	var payload struct {
		Progress []Record `json:"progress"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/progress", nil, &payload); err != nil {
		return nil, err
	}
	if payload.Progress == nil {
		return []Record{}, nil
	}
	return payload.Progress, nil
}

// Upsert writes one lesson status and returns the stored record.
func (c *Client) Upsert(ctx context.Context, moduleSlug, lessonSlug string, status progress.Status) (Record, error) {
	request := struct {
		ModuleSlug string          `json:"moduleSlug"`
		LessonSlug string          `json:"lessonSlug"`
		Status     progress.Status `json:"status"`
	}{ModuleSlug: moduleSlug, LessonSlug: lessonSlug, Status: status}

	var payload struct {
		Progress Record `json:"progress"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/progress", request, &payload); err != nil {
		return Record{}, err
	}
	return payload.Progress, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, target any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	endpoint := c.baseURL.JoinPath(path)
	request, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	request.Header.Set("Accept", "application/json")
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		request.AddCookie(&http.Cookie{Name: c.cookieName, Value: token})
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()

	switch {
	case response.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	case response.StatusCode < 200 || response.StatusCode > 299:
		return readStatusError(response)
	}

	if err := json.NewDecoder(response.Body).Decode(target); err != nil {
		c.logger.Debug("progress api returned malformed json",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		return fmt.Errorf("progressclient: decode %s %s: %w", method, path, err)
	}
	return nil
}

func readStatusError(response *http.Response) error {
	statusErr := &StatusError{StatusCode: response.StatusCode}
	raw, err := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
	if err != nil {
		return statusErr
	}
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &payload) == nil {
		statusErr.Message = payload.Error
	}
	return statusErr
}
