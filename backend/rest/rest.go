// Package rest implements backend.Gateway over the task management REST API.
package rest

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
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskdash/backend"
	"taskdash/internal/ratelimit"
	"taskdash/internal/utils"
)

const (
	// DefaultTimeout bounds a single HTTP exchange.
	DefaultTimeout = 10 * time.Second

	// LoginPath is the view-layer entry point announced after a 401.
	LoginPath = "/auth/login"

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 10 << 20
)

// Config holds gateway connection settings
type Config struct {
	BaseURL string
	Timeout time.Duration

	// Tokens supplies the bearer token and receives tokens issued by login.
	Tokens backend.TokenStore

	// Retry is applied to GET requests only. Nil uses the defaults.
	Retry *ratelimit.Policy

	// Breaker fails requests fast while the API is unreachable. Optional.
	Breaker *ratelimit.CircuitBreaker

	HTTPClient *http.Client
	Logger     *zap.Logger

	// Now is the clock used for overdue derivation. Defaults to time.Now.
	Now func() time.Time
}

// Client implements backend.Gateway
type Client struct {
	baseURL *url.URL
	client  *http.Client
	tokens  backend.TokenStore
	retry   *ratelimit.Policy
	breaker *ratelimit.CircuitBreaker
	log     *zap.Logger
	now     func() time.Time

	mu             sync.RWMutex
	onUnauthorized func(loginPath string)
}

var _ backend.Gateway = (*Client)(nil)

// New creates a new REST gateway
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("API base URL is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL %q: %w", cfg.BaseURL, err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid API base URL %q: scheme must be http or https", cfg.BaseURL)
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	retry := cfg.Retry
	if retry == nil {
		retry = ratelimit.NewPolicy(ratelimit.Config{})
	}

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		baseURL: base,
		client:  httpClient,
		tokens:  cfg.Tokens,
		retry:   retry,
		breaker: cfg.Breaker,
		log:     log,
		now:     now,
	}, nil
}

// SetUnauthorizedHandler registers the callback run after a 401 has cleared
// the stored credentials. It receives the login entry point.
func (c *Client) SetUnauthorizedHandler(fn func(loginPath string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

// Close releases idle connections
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// requestOptions tunes a single call
type requestOptions struct {
	query url.Values
	body  interface{}
	out   interface{}

	// public calls neither send a token nor trigger the 401 side effect
	public bool
}

// errorBody is the error payload returned by the API
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// do performs a request. Reads are retried by the policy; writes run once.
func (c *Client) do(ctx context.Context, method, path string, opts requestOptions) error {
	var payload []byte
	if opts.body != nil {
		var err error
		payload, err = json.Marshal(opts.body)
		if err != nil {
			return utils.NewValidationError("encode request: %v", err)
		}
	}

	var err error
	if method == http.MethodGet {
		attempt := 0
		err = c.retry.Retry(ctx, func(ctx context.Context) error {
			attempt++
			return c.attempt(ctx, method, path, payload, opts, attempt)
		})
	} else {
		err = c.attempt(ctx, method, path, payload, opts, 1)
	}

	if err == nil {
		return nil
	}
	if _, ok := utils.AsAPIError(err); ok {
		return err
	}
	// Cancellation while backing off or waiting on the limiter
	return utils.NewNetworkError(err)
}

// attempt performs one HTTP exchange and normalizes every failure.
func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, opts requestOptions, attempt int) error {
	if c.breaker != nil && !c.breaker.Allow() {
		return utils.NewNetworkError(ratelimit.ErrCircuitOpen)
	}
	admitted := c.breaker != nil

	if err := c.retry.Wait(ctx); err != nil {
		if admitted {
			c.breaker.Release()
		}
		return utils.NewNetworkError(err)
	}

	endpoint := c.baseURL.String() + path
	if len(opts.query) > 0 {
		endpoint += "?" + opts.query.Encode()
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		if admitted {
			c.breaker.Release()
		}
		return utils.NewNetworkError(err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if !opts.public {
		if token := c.accessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		if admitted {
			if ctx.Err() != nil {
				c.breaker.Release()
			} else {
				c.breaker.RecordFailure()
			}
		}
		c.log.Debug("request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return utils.NewNetworkError(err)
	}
	defer func() { _ = resp.Body.Close() }()
	if admitted {
		c.breaker.RecordSuccess()
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.log.Debug("request",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Int("attempt", attempt),
		zap.Duration("duration", time.Since(start)))
	if err != nil {
		return utils.NewNetworkError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := decodeError(resp.StatusCode, data)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable {
			apiErr.RetryAfter = ratelimit.ParseRetryAfter(resp.Header.Get("Retry-After"))
		}
		if resp.StatusCode == http.StatusUnauthorized && !opts.public {
			c.handleUnauthorized()
		}
		return apiErr
	}

	if opts.out == nil {
		return nil
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return utils.NewMalformedResponseError(resp.StatusCode, errors.New("empty response body"))
	}
	if err := json.Unmarshal(data, opts.out); err != nil {
		return utils.NewMalformedResponseError(resp.StatusCode, err)
	}
	return nil
}

// decodeError builds the normalized error for a non-2xx response.
// The parsed body is kept as details.
func decodeError(status int, data []byte) *utils.APIError {
	var details interface{}
	message := ""
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 {
		var body errorBody
		if json.Unmarshal(trimmed, &body) == nil {
			message = body.Message
			if message == "" {
				message = body.Error
			}
		}
		if json.Unmarshal(trimmed, &details) != nil {
			details = string(trimmed)
		}
	}
	return utils.NewStatusError(status, message, details)
}

// accessToken reads the current bearer token from the store.
func (c *Client) accessToken() string {
	tokens, err := c.tokens.Load()
	if err != nil {
		c.log.Warn("failed to load access token", zap.Error(err))
		return ""
	}
	if tokens == nil {
		return ""
	}
	return tokens.AccessToken
}

// handleUnauthorized clears credentials and signals the view layer.
func (c *Client) handleUnauthorized() {
	if err := c.tokens.Clear(); err != nil {
		c.log.Warn("failed to clear credentials after 401", zap.Error(err))
	}
	c.mu.RLock()
	fn := c.onUnauthorized
	c.mu.RUnlock()
	if fn != nil {
		fn(LoginPath)
	}
}

func taskPath(id string) string {
	return "/tasks/" + url.PathEscape(id)
}

func todoPath(id int64) string {
	return "/todos/" + strconv.FormatInt(id, 10)
}

func requireID(id string) error {
	if strings.TrimSpace(id) == "" {
		return utils.NewValidationError("task id is required")
	}
	return nil
}

// =============================================================================
// Task Operations
// =============================================================================

// ListTasks returns the tasks matching query
func (c *Client) ListTasks(ctx context.Context, query backend.TaskQuery) (*backend.TaskList, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}
	var list backend.TaskList
	if err := c.do(ctx, http.MethodGet, "/tasks", requestOptions{query: query.Values(), out: &list}); err != nil {
		return nil, err
	}
	if list.Tasks == nil {
		list.Tasks = []backend.Task{}
	}
	backend.NormalizeTasks(list.Tasks, c.now())
	return &list, nil
}

// GetTask returns a single task
func (c *Client) GetTask(ctx context.Context, id string) (*backend.Task, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	var task backend.Task
	if err := c.do(ctx, http.MethodGet, taskPath(id), requestOptions{out: &task}); err != nil {
		return nil, err
	}
	task = backend.Normalize(task, c.now())
	return &task, nil
}

// CreateTask creates a new task
func (c *Client) CreateTask(ctx context.Context, req backend.CreateTaskRequest) (*backend.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var task backend.Task
	if err := c.do(ctx, http.MethodPost, "/tasks", requestOptions{body: req, out: &task}); err != nil {
		return nil, err
	}
	task = backend.Normalize(task, c.now())
	return &task, nil
}

// UpdateTask applies a partial update to a task
func (c *Client) UpdateTask(ctx context.Context, id string, req backend.UpdateTaskRequest) (*backend.Task, error) {
	if err := requireID(id); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var task backend.Task
	if err := c.do(ctx, http.MethodPatch, taskPath(id), requestOptions{body: req, out: &task}); err != nil {
		return nil, err
	}
	task = backend.Normalize(task, c.now())
	return &task, nil
}

// DeleteTask deletes a task
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	if err := requireID(id); err != nil {
		return err
	}
	return c.do(ctx, http.MethodDelete, taskPath(id), requestOptions{})
}

// ListCompletedTasks returns completed tasks
func (c *Client) ListCompletedTasks(ctx context.Context) (*backend.TaskList, error) {
	var list backend.TaskList
	if err := c.do(ctx, http.MethodGet, "/tasks/completed", requestOptions{out: &list}); err != nil {
		return nil, err
	}
	if list.Tasks == nil {
		list.Tasks = []backend.Task{}
	}
	backend.NormalizeTasks(list.Tasks, c.now())
	return &list, nil
}

// CalendarView returns the tasks shown on the calendar
func (c *Client) CalendarView(ctx context.Context) (*backend.CalendarView, error) {
	var view backend.CalendarView
	if err := c.do(ctx, http.MethodGet, "/tasks/calendar", requestOptions{out: &view}); err != nil {
		return nil, err
	}
	if view.Events == nil {
		view.Events = []backend.Task{}
	}
	backend.NormalizeTasks(view.Events, c.now())
	return &view, nil
}

// TaskReport returns the progress report for a period
func (c *Client) TaskReport(ctx context.Context, period backend.ReportPeriod) (*backend.TaskReport, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	query := url.Values{}
	if period != "" {
		query.Set("period", string(period))
	}
	var report backend.TaskReport
	if err := c.do(ctx, http.MethodGet, "/tasks/report", requestOptions{query: query, out: &report}); err != nil {
		return nil, err
	}
	return &report, nil
}

// =============================================================================
// Auth Operations
// =============================================================================

// Login authenticates and persists the issued tokens
func (c *Client) Login(ctx context.Context, creds backend.Credentials) (*backend.AuthTokens, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	var tokens backend.AuthTokens
	if err := c.do(ctx, http.MethodPost, "/auth/login", requestOptions{body: creds, out: &tokens, public: true}); err != nil {
		return nil, err
	}
	if tokens.AccessToken == "" {
		return nil, utils.NewMalformedResponseError(http.StatusOK, errors.New("login response has no access token"))
	}
	if err := c.tokens.Save(tokens); err != nil {
		return nil, fmt.Errorf("failed to store credentials: %w", err)
	}
	return &tokens, nil
}

// Register creates an account. No tokens are issued.
func (c *Client) Register(ctx context.Context, creds backend.Credentials) error {
	if err := creds.Validate(); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/auth/register", requestOptions{body: creds, public: true})
}

// Logout forgets the stored tokens. The API has no logout endpoint.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.tokens.Clear(); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	return nil
}

// =============================================================================
// User Operations
// =============================================================================

// GetPreferences returns the user's preferences
func (c *Client) GetPreferences(ctx context.Context) (*backend.Preferences, error) {
	var prefs backend.Preferences
	if err := c.do(ctx, http.MethodGet, "/user/preferences", requestOptions{out: &prefs}); err != nil {
		return nil, err
	}
	return &prefs, nil
}

// UpdatePreferences applies a partial preferences update
func (c *Client) UpdatePreferences(ctx context.Context, req backend.UpdatePreferencesRequest) (*backend.Preferences, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	var prefs backend.Preferences
	if err := c.do(ctx, http.MethodPatch, "/user/preferences", requestOptions{body: req, out: &prefs}); err != nil {
		return nil, err
	}
	return &prefs, nil
}

// ExportTasks downloads every task of the user
func (c *Client) ExportTasks(ctx context.Context) (*backend.TaskExport, error) {
	var export backend.TaskExport
	if err := c.do(ctx, http.MethodGet, "/user/export", requestOptions{out: &export}); err != nil {
		return nil, err
	}
	if export.Tasks == nil {
		export.Tasks = []backend.Task{}
	}
	backend.NormalizeTasks(export.Tasks, c.now())
	return &export, nil
}

// ImportTasks uploads tasks and returns the resulting list
func (c *Client) ImportTasks(ctx context.Context, data backend.TaskExport) (*backend.TaskList, error) {
	if err := data.Validate(); err != nil {
		return nil, err
	}
	var list backend.TaskList
	if err := c.do(ctx, http.MethodPost, "/user/import", requestOptions{body: data, out: &list}); err != nil {
		return nil, err
	}
	if list.Tasks == nil {
		list.Tasks = []backend.Task{}
	}
	backend.NormalizeTasks(list.Tasks, c.now())
	return &list, nil
}

// =============================================================================
// Todo Operations
// =============================================================================

// ListTodos returns all todos
func (c *Client) ListTodos(ctx context.Context) (backend.TodoList, error) {
	var todos backend.TodoList
	if err := c.do(ctx, http.MethodGet, "/todos", requestOptions{out: &todos}); err != nil {
		return nil, err
	}
	if todos == nil {
		todos = backend.TodoList{}
	}
	return todos, nil
}

// GetTodo returns a single todo
func (c *Client) GetTodo(ctx context.Context, id int64) (*backend.Todo, error) {
	var todo backend.Todo
	if err := c.do(ctx, http.MethodGet, todoPath(id), requestOptions{out: &todo}); err != nil {
		return nil, err
	}
	return &todo, nil
}

// CreateTodo creates a todo
func (c *Client) CreateTodo(ctx context.Context, input backend.TodoInput) (*backend.Todo, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	var todo backend.Todo
	if err := c.do(ctx, http.MethodPost, "/todos", requestOptions{body: input, out: &todo}); err != nil {
		return nil, err
	}
	return &todo, nil
}

// UpdateTodo replaces a todo
func (c *Client) UpdateTodo(ctx context.Context, id int64, input backend.TodoInput) (*backend.Todo, error) {
	if err := input.Validate(); err != nil {
		return nil, err
	}
	var todo backend.Todo
	if err := c.do(ctx, http.MethodPut, todoPath(id), requestOptions{body: input, out: &todo}); err != nil {
		return nil, err
	}
	return &todo, nil
}

// DeleteTodo deletes a todo
func (c *Client) DeleteTodo(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, todoPath(id), requestOptions{})
}
