// Package taskpulse is a typed Go client for the TaskPulse REST API.
package taskpulse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync"
	"time"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// ErrNoToken is returned by authenticated calls made before Register, Login or
// SetAccessToken.
var ErrNoToken = errors.New("taskpulse: access token is not set")

// Client wraps the HTTP interactions with the TaskPulse REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client

	mu          sync.RWMutex
	accessToken string
}

// Credentials is the email/password pair used to register or log in.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// User identifies the account a session belongs to.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is returned by Register and Login.
type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      User      `json:"user"`
}

// Task mirrors the task representation returned by the API.
type Task struct {
	ID        string    `json:"_id"`
	Title     string    `json:"title"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Priority  int       `json:"priority"`
	Status    string    `json:"status"`
	User      string    `json:"user"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewTask is the payload for CreateTask. An empty Status means pending.
type NewTask struct {
	Title     string    `json:"title"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
	Priority  int       `json:"priority"`
	Status    string    `json:"status,omitempty"`
}

// TaskUpdate carries a partial update; nil fields are left untouched.
type TaskUpdate struct {
	Title     *string    `json:"title,omitempty"`
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Priority  *int       `json:"priority,omitempty"`
	Status    *string    `json:"status,omitempty"`
}

// ListOptions filters and pages ListTasks. Zero values are omitted.
type ListOptions struct {
	Page     int
	Limit    int
	Priority int
	Status   string
	SortBy   string
}

func (o ListOptions) query() url.Values {
	q := url.Values{}
	if o.Page > 0 {
		q.Set("page", strconv.Itoa(o.Page))
	}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	if o.Priority > 0 {
		q.Set("priority", strconv.Itoa(o.Priority))
	}
	if o.Status != "" {
		q.Set("status", o.Status)
	}
	if o.SortBy != "" {
		q.Set("sortBy", o.SortBy)
	}
	return q
}

// TaskPage is one page of ListTasks results.
type TaskPage struct {
	Tasks       []Task `json:"tasks"`
	TotalPages  int64  `json:"totalPages"`
	CurrentPage int    `json:"currentPage"`
}

// StatusShare is the count and percentage of tasks in one status.
type StatusShare struct {
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

// PriorityBucket aggregates pending hours for one priority.
type PriorityBucket struct {
	Priority    int     `json:"_id"`
	TimeLapsed  float64 `json:"timeLapsed"`
	BalanceTime float64 `json:"balanceTime"`
}

// Stats is the dashboard summary returned by Stats.
type Stats struct {
	TotalTasks int64 `json:"totalTasks"`
	TaskStatus struct {
		Completed StatusShare `json:"completed"`
		Pending   StatusShare `json:"pending"`
	} `json:"taskStatus"`
	PendingTasksByPriority []PriorityBucket `json:"pendingTasksByPriority"`
	AverageCompletionTime  float64          `json:"averageCompletionTime"`
}

// APIError represents server side validation or internal errors.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("taskpulse api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("taskpulse api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the TaskPulse API. When httpClient is
// nil, a default client with a sensible timeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Register creates an account and stores the issued token.
func (c *Client) Register(ctx context.Context, creds Credentials) (Session, error) {
	return c.authenticate(ctx, "/users/register", creds)
}

// Login exchanges credentials for a token and stores it.
func (c *Client) Login(ctx context.Context, creds Credentials) (Session, error) {
	return c.authenticate(ctx, "/users/login", creds)
}

func (c *Client) authenticate(ctx context.Context, endpoint string, creds Credentials) (Session, error) {
	var session Session
	if err := c.send(ctx, http.MethodPost, endpoint, nil, creds, &session, false); err != nil {
		return Session{}, err
	}
	c.SetAccessToken(session.Token)
	return session, nil
}

// CreateTask creates a task owned by the authenticated user.
func (c *Client) CreateTask(ctx context.Context, task NewTask) (Task, error) {
	var created Task
	if err := c.send(ctx, http.MethodPost, "/tasks", nil, task, &created, true); err != nil {
		return Task{}, err
	}
	return created, nil
}

// ListTasks returns one page of the user's tasks.
func (c *Client) ListTasks(ctx context.Context, opts ListOptions) (TaskPage, error) {
	var page TaskPage
	if err := c.send(ctx, http.MethodGet, "/tasks", opts.query(), nil, &page, true); err != nil {
		return TaskPage{}, err
	}
	return page, nil
}

// Stats fetches the dashboard statistics.
func (c *Client) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := c.send(ctx, http.MethodGet, "/tasks/stats", nil, nil, &stats, true); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// UpdateTask applies a partial update.
func (c *Client) UpdateTask(ctx context.Context, id string, update TaskUpdate) (Task, error) {
	var updated Task
	if err := c.send(ctx, http.MethodPatch, "/tasks/"+id, nil, update, &updated, true); err != nil {
		return Task{}, err
	}
	return updated, nil
}

// DeleteTask removes a task.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.send(ctx, http.MethodDelete, "/tasks/"+id, nil, nil, nil, true)
}

// AccessToken returns the currently stored token string.
func (c *Client) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// SetAccessToken overrides the stored access token.
func (c *Client) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = token
}

func (c *Client) send(ctx context.Context, method, endpoint string, query url.Values, payload, out any, withAuth bool) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, method, endpoint, query, body, withAuth)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader, withAuth bool) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if withAuth {
		token := c.AccessToken()
		if token == "" {
			return nil, ErrNoToken
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
