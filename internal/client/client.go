// Package client talks to a taskpulse server: REST calls plus a reconnecting
// websocket stream that keeps a reconcile.Store current.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/taskpulse/taskpulse/internal/api"
	"github.com/taskpulse/taskpulse/internal/models"
	"github.com/taskpulse/taskpulse/internal/recurring"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// ErrUnauthorized is returned when the server rejects the token.
var ErrUnauthorized = errors.New("unauthorized; run 'taskpulse login'")

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

// Client wraps HTTP calls to the taskpulse API.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client for baseURL authenticating with token.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// BaseURL returns the server address.
func (c *Client) BaseURL() string { return c.baseURL }

// Token returns the bearer token.
func (c *Client) Token() string { return c.token }

// TaskQuery filters ListTasks. A zero Limit asks for every matching task.
type TaskQuery struct {
	Status     string
	Priority   string
	AssignedTo string
	CreatedBy  string
	Search     string
	Limit      int
	Offset     int
}

func (q TaskQuery) values() url.Values {
	v := url.Values{}
	for k, s := range map[string]string{
		"status": q.Status, "priority": q.Priority, "assignedTo": q.AssignedTo,
		"createdBy": q.CreatedBy, "search": q.Search,
	} {
		if s != "" {
			v.Set(k, s)
		}
	}
	if q.Limit > 0 {
		v.Set("limit", strconv.Itoa(q.Limit))
		v.Set("offset", strconv.Itoa(q.Offset))
	}
	return v
}

// ListTasks fetches tasks, most recently updated first.
func (c *Client) ListTasks(ctx context.Context, q TaskQuery) ([]models.Task, error) {
	path := "/api/tasks"
	if v := q.values(); len(v) > 0 {
		path += "?" + v.Encode()
	}
	var tasks []models.Task
	return tasks, c.do(ctx, http.MethodGet, path, nil, &tasks)
}

// GetTask fetches a single task.
func (c *Client) GetTask(ctx context.Context, id string) (*models.Task, error) {
	var t models.Task
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, in api.TaskInput) (*models.Task, error) {
	var t models.Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks", in, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTask applies the non-nil fields of in.
func (c *Client) UpdateTask(ctx context.Context, id string, in api.TaskInput) (*models.Task, error) {
	var t models.Task
	if err := c.do(ctx, http.MethodPut, "/api/tasks/"+url.PathEscape(id), in, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// SetStatus changes a task's status.
func (c *Client) SetStatus(ctx context.Context, id string, status models.TaskStatus) (*models.Task, error) {
	var t models.Task
	body := map[string]models.TaskStatus{"status": status}
	if err := c.do(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id), body, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// DeleteTask deletes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil)
}

// ListNotifications fetches the caller's newest notifications.
func (c *Client) ListNotifications(ctx context.Context) ([]models.Notification, error) {
	var list []models.Notification
	return list, c.do(ctx, http.MethodGet, "/api/notifications", nil, &list)
}

// MarkNotificationRead marks one notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) (*models.Notification, error) {
	var n models.Notification
	if err := c.do(ctx, http.MethodPut, "/api/notifications/"+url.PathEscape(id)+"/read", nil, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// ClearNotifications deletes all of the caller's notifications.
func (c *Client) ClearNotifications(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/notifications/clear", nil, nil)
}

// TestNotification asks the server to push a system notification to the caller.
func (c *Client) TestNotification(ctx context.Context, title, message string) (*models.Notification, error) {
	var n models.Notification
	body := map[string]string{"title": title, "message": message}
	if err := c.do(ctx, http.MethodPost, "/api/notifications/test", body, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// GetPreferences returns the caller's preferences.
func (c *Client) GetPreferences(ctx context.Context) (*models.Preferences, error) {
	var p models.Preferences
	if err := c.do(ctx, http.MethodGet, "/api/preferences", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePreferences merges patch, a partial preferences document, into the
// caller's preferences.
func (c *Client) UpdatePreferences(ctx context.Context, patch any) (*models.Preferences, error) {
	var p models.Preferences
	if err := c.do(ctx, http.MethodPut, "/api/preferences", patch, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ResetPreferences restores the caller's default preferences.
func (c *Client) ResetPreferences(ctx context.Context) (*models.Preferences, error) {
	var p models.Preferences
	if err := c.do(ctx, http.MethodPost, "/api/preferences/reset", nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListAuditLogs fetches the newest audit entries.
func (c *Client) ListAuditLogs(ctx context.Context, limit int) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	return logs, c.do(ctx, http.MethodGet, "/api/audit-logs?limit="+strconv.Itoa(limit), nil, &logs)
}

// RunRecurring triggers the recurring generator on the server.
func (c *Client) RunRecurring(ctx context.Context) (*recurring.Result, error) {
	var res recurring.Result
	if err := c.do(ctx, http.MethodPost, "/api/recurring/run", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Me returns the authenticated user.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var u models.User
	if err := c.do(ctx, http.MethodGet, "/api/me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// Health returns the server health. The parsed body is returned alongside the
// error on non-200 responses.
func (c *Client) Health(ctx context.Context) (*api.HealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	var health api.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("decode health: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &health, &APIError{Status: resp.StatusCode, Message: health.DB}
	}
	return &health, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrUnauthorized
	}
	if resp.StatusCode >= 400 {
		var e struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &e) != nil || e.Message == "" {
			e.Message = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Message: e.Message}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
