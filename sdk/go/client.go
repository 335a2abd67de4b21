package taskdecksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Taskdeck HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// User represents the API user model.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
	IsAdmin  bool   `json:"is_admin"`
}

// Task represents the API task model (partial).
type Task struct {
	ID       string   `json:"id"`
	Title    string   `json:"title"`
	Date     string   `json:"date"`
	Priority string   `json:"priority"`
	Stage    string   `json:"stage"`
	Team     []string `json:"team"`
}

// Notification represents an entry in a user's feed.
type Notification struct {
	ID           string         `json:"id"`
	Recipients   []string       `json:"recipients"`
	Text         string         `json:"text"`
	RelatedTask  *string        `json:"related_task,omitempty"`
	Kind         string         `json:"kind"`
	CreatedBy    string         `json:"created_by"`
	ReadBy       []string       `json:"read_by"`
	Priority     string         `json:"priority"`
	IsSystemWide bool           `json:"is_system_wide"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    string         `json:"created_at"`
}

// LoginResult is returned by Login and Register.
type LoginResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Login authenticates and stores the bearer token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (LoginResult, error) {
	body := map[string]any{"email": email, "password": password}
	var resp LoginResult
	if err := c.do(ctx, http.MethodPost, "users/login", body, &resp); err != nil {
		return resp, err
	}
	c.BearerToken = resp.Token
	return resp, nil
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, title string, team []string, priority string) (Task, error) {
	body := map[string]any{
		"title":    title,
		"team":     team,
		"priority": priority,
	}
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

// Tasks lists tasks, optionally filtered by stage.
func (c *Client) Tasks(ctx context.Context, stage string) ([]Task, error) {
	endpoint := "tasks"
	if stage != "" {
		endpoint = fmt.Sprintf("tasks?stage=%s", url.QueryEscape(stage))
	}
	var resp []Task
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Notifications returns the authenticated user's feed, newest first.
func (c *Client) Notifications(ctx context.Context) ([]Notification, error) {
	var resp []Notification
	err := c.do(ctx, http.MethodGet, "notifications", nil, &resp)
	return resp, err
}

// MarkRead marks one notification as read.
func (c *Client) MarkRead(ctx context.Context, id string) (Notification, error) {
	var resp Notification
	endpoint := fmt.Sprintf("notifications/read/%s", url.PathEscape(id))
	err := c.do(ctx, http.MethodPut, endpoint, nil, &resp)
	return resp, err
}

// MarkAllRead marks everything in the feed as read and returns the count.
func (c *Client) MarkAllRead(ctx context.Context) (int64, error) {
	var resp struct {
		Marked int64 `json:"marked"`
	}
	err := c.do(ctx, http.MethodPut, "notifications/read-all", nil, &resp)
	return resp.Marked, err
}

// DeleteNotification removes a notification for every recipient.
func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	endpoint := fmt.Sprintf("notifications/%s", url.PathEscape(id))
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v1/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
