package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cmlabs-hris/attendance-dashboard/internal/domain/dashboard"
	"github.com/google/uuid"
)

// Backend paths. These must match the recognition service exactly.
const (
	PathAttendance   = "/api/attendance"
	PathAnalytics    = "/api/analytics"
	PathUnauthorized = "/api/unauthorized"
	PathStart        = "/api/start"
	PathStop         = "/api/stop"
	PathExport       = "/api/export"
)

// ErrDecode wraps JSON parse failures of backend responses
var ErrDecode = errors.New("decode backend response")

// maxErrorBody bounds how much of a failed response is kept in APIError
const maxErrorBody = 512

// APIError represents a non-2xx backend response
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend %s %s: status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("backend %s %s: status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Config configures the backend client
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	StatusPath string // empty disables Status
}

// Client talks to the recognition backend over HTTP
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	statusPath string
}

var _ dashboard.BackendClient = (*Client)(nil)

// NewClient creates a backend client. httpClient may be nil.
func NewClient(cfg Config, httpClient *http.Client) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid backend base url: %q", cfg.BaseURL)
	}

	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		baseURL:    base,
		httpClient: httpClient,
		statusPath: cfg.StatusPath,
	}, nil
}

// StatusEnabled reports whether a status endpoint is configured
func (c *Client) StatusEnabled() bool {
	return c.statusPath != ""
}

func (c *Client) GetAttendance(ctx context.Context, date string) ([]dashboard.AttendanceEntry, error) {
	q := "date=" + url.QueryEscape(date)

	var out []dashboard.AttendanceEntry
	if err := c.getJSON(ctx, PathAttendance, q, &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

func (c *Client) GetAnalytics(ctx context.Context) ([]dashboard.AnalyticsPoint, error) {
	var out []dashboard.AnalyticsPoint
	if err := c.getJSON(ctx, PathAnalytics, "", &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

func (c *Client) GetUnauthorized(ctx context.Context) ([]dashboard.UnauthorizedEntry, error) {
	var out []dashboard.UnauthorizedEntry
	if err := c.getJSON(ctx, PathUnauthorized, "", &out); err != nil {
		return nil, err
	}
	return nonNil(out), nil
}

func (c *Client) Start(ctx context.Context) error {
	return c.command(ctx, PathStart)
}

func (c *Client) Stop(ctx context.Context) error {
	return c.command(ctx, PathStop)
}

func (c *Client) Export(ctx context.Context, format dashboard.ExportFormat, date string) (*dashboard.ExportPayload, error) {
	// format before date
	q := "format=" + url.QueryEscape(string(format)) + "&date=" + url.QueryEscape(date)

	resp, err := c.do(ctx, http.MethodGet, PathExport, q, "*/*")
	if err != nil {
		return nil, err
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &dashboard.ExportPayload{Body: resp.Body, ContentType: contentType}, nil
}

// statusBody accepts either {"status":"started"} or {"running":true}
type statusBody struct {
	Status  string `json:"status"`
	Running *bool  `json:"running"`
}

func (c *Client) Status(ctx context.Context) (dashboard.BackendStatus, error) {
	if c.statusPath == "" {
		return dashboard.BackendStatus{}, errors.New("backend status path not configured")
	}

	var body statusBody
	if err := c.getJSON(ctx, c.statusPath, "", &body); err != nil {
		return dashboard.BackendStatus{}, err
	}

	if body.Running != nil {
		return dashboard.BackendStatus{Running: *body.Running}, nil
	}
	switch strings.ToLower(body.Status) {
	case "started", "running":
		return dashboard.BackendStatus{Running: true}, nil
	default:
		return dashboard.BackendStatus{Running: false}, nil
	}
}

// command POSTs to a control endpoint. The body only has to be JSON.
func (c *Client) command(ctx context.Context, path string) error {
	resp, err := c.do(ctx, http.MethodPost, path, "", "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var ignored json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&ignored); err != nil {
		return fmt.Errorf("%w: POST %s: %v", ErrDecode, path, err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path, rawQuery string, out any) error {
	resp, err := c.do(ctx, http.MethodGet, path, rawQuery, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: GET %s: %v", ErrDecode, path, err)
	}
	return nil
}

// do sends a request and returns the response only for 2xx statuses
func (c *Client) do(ctx context.Context, method, path, rawQuery, accept string) (*http.Response, error) {
	u := c.baseURL.JoinPath(path)
	u.RawQuery = rawQuery

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}
	return resp, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
