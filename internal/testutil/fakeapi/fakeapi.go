// Package fakeapi provides an in-process task API server for tests.
package fakeapi

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"taskdash/backend"
)

// Failure is an injected error response.
type Failure struct {
	Status  int
	Message string
	// Times is how many requests fail before the route recovers. Zero means always.
	Times int
	// RetryAfter, when set, is sent as the Retry-After header.
	RetryAfter string
}

// Server is a fake task API backed by in-memory state.
type Server struct {
	e   *echo.Echo
	srv *httptest.Server
	now func() time.Time

	mu        sync.Mutex
	users     map[string]string // email -> password
	tokens    map[string]string // access token -> email
	tasks     map[string]backend.Task
	prefs     backend.Preferences
	todos     map[int64]backend.Todo
	nextTodo  int64
	requests  map[string]int
	lastAuth  map[string]string
	requestID map[string]string
	failures  map[string]*Failure
	gates     map[string]chan struct{}
	offline   bool
	delay     time.Duration
}

// New starts a fake API server. It is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		now:       time.Now,
		users:     make(map[string]string),
		tokens:    make(map[string]string),
		tasks:     make(map[string]backend.Task),
		prefs:     backend.Preferences{Theme: backend.ThemeLight, TaskViewLayout: backend.LayoutList},
		todos:     make(map[int64]backend.Todo),
		requests:  make(map[string]int),
		lastAuth:  make(map[string]string),
		requestID: make(map[string]string),
		failures:  make(map[string]*Failure),
		gates:     make(map[string]chan struct{}),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(s.record, s.inject)

	e.POST("/auth/login", s.login)
	e.POST("/auth/register", s.register)

	api := e.Group("", s.authenticate)
	api.GET("/tasks", s.listTasks)
	api.POST("/tasks", s.createTask)
	api.GET("/tasks/completed", s.completedTasks)
	api.GET("/tasks/calendar", s.calendar)
	api.GET("/tasks/report", s.report)
	api.GET("/tasks/:id", s.getTask)
	api.PATCH("/tasks/:id", s.updateTask)
	api.DELETE("/tasks/:id", s.deleteTask)
	api.GET("/user/preferences", s.getPreferences)
	api.PATCH("/user/preferences", s.updatePreferences)
	api.GET("/user/export", s.export)
	api.POST("/user/import", s.importTasks)
	api.GET("/todos", s.listTodos)
	api.POST("/todos", s.createTodo)
	api.GET("/todos/:id", s.getTodo)
	api.PUT("/todos/:id", s.updateTodo)
	api.DELETE("/todos/:id", s.deleteTodo)

	s.e = e
	s.srv = httptest.NewServer(e)
	t.Cleanup(s.Close)
	return s
}

// URL returns the base URL of the server.
func (s *Server) URL() string {
	return s.srv.URL
}

// Close stops the server and releases any held requests.
func (s *Server) Close() {
	s.mu.Lock()
	for route, gate := range s.gates {
		close(gate)
		delete(s.gates, route)
	}
	s.mu.Unlock()
	s.srv.Close()
}

// =============================================================================
// Setup helpers
// =============================================================================

// AddUser registers an account.
func (s *Server) AddUser(email, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[email] = password
}

// IssueToken returns a valid access token for email without a login call.
func (s *Server) IssueToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	token := "access-" + backend.GenerateID()
	s.tokens[token] = email
	return token
}

// ExpireTokens invalidates every issued token.
func (s *Server) ExpireTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]string)
}

// AddTask stores a task as-is.
func (s *Server) AddTask(task backend.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task.ID == "" {
		task.ID = backend.GenerateID()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = s.now()
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = task.CreatedAt
	}
	s.tasks[task.ID] = task
}

// Task returns the stored task with id.
func (s *Server) Task(id string) (backend.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	return t, ok
}

// TaskCount returns the number of stored tasks.
func (s *Server) TaskCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// SetPreferences replaces the stored preferences.
func (s *Server) SetPreferences(p backend.Preferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs = p
}

// AddTodo stores a todo and returns its id.
func (s *Server) AddTodo(title string, completed bool) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTodo++
	created := s.now()
	s.todos[s.nextTodo] = backend.Todo{ID: s.nextTodo, Title: title, Completed: completed, CreatedAt: &created}
	return s.nextTodo
}

// SetClock replaces the server clock used for timestamps and overdue checks.
func (s *Server) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// =============================================================================
// Failure injection and inspection
// =============================================================================

// Fail makes requests to route ("PATCH /tasks/t1") answer with f.
func (s *Server) Fail(route string, f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = &f
}

// ClearFailures removes every injected failure.
func (s *Server) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = make(map[string]*Failure)
}

// SetOffline makes every request fail at the transport level.
func (s *Server) SetOffline(offline bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offline = offline
}

// SetDelay delays every response.
func (s *Server) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

// Hold blocks requests to route until the returned release func is called.
func (s *Server) Hold(route string) (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gates[route] = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			if s.gates[route] == gate {
				delete(s.gates, route)
				close(gate)
			}
			s.mu.Unlock()
		})
	}
}

// Requests returns how many requests reached route ("GET /tasks").
func (s *Server) Requests(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[route]
}

// LastAuthorization returns the Authorization header of the last request to route.
func (s *Server) LastAuthorization(route string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAuth[route]
}

// LastRequestID returns the X-Request-ID header of the last request to route.
func (s *Server) LastRequestID(route string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requestID[route]
}

// =============================================================================
// Middleware
// =============================================================================

func routeOf(c echo.Context) string {
	return c.Request().Method + " " + c.Request().URL.Path
}

func errorJSON(c echo.Context, status int, message string) error {
	return c.JSON(status, map[string]string{"message": message})
}

// record counts requests and keeps the last headers per route.
func (s *Server) record(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		route := routeOf(c)
		s.mu.Lock()
		s.requests[route]++
		s.lastAuth[route] = c.Request().Header.Get(echo.HeaderAuthorization)
		s.requestID[route] = c.Request().Header.Get(echo.HeaderXRequestID)
		gate := s.gates[route]
		delay := s.delay
		s.mu.Unlock()

		ctx := c.Request().Context()
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return next(c)
	}
}

// inject applies offline mode and injected failures.
func (s *Server) inject(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		route := routeOf(c)
		s.mu.Lock()
		offline := s.offline
		f := s.failures[route]
		var failure Failure
		if f != nil {
			failure = *f
			if f.Times > 0 {
				f.Times--
				if f.Times == 0 {
					delete(s.failures, route)
				}
			}
		}
		s.mu.Unlock()

		if offline {
			return dropConnection(c)
		}
		if f != nil {
			if failure.RetryAfter != "" {
				c.Response().Header().Set("Retry-After", failure.RetryAfter)
			}
			msg := failure.Message
			if msg == "" {
				msg = http.StatusText(failure.Status)
			}
			return errorJSON(c, failure.Status, msg)
		}
		return next(c)
	}
}

// dropConnection closes the TCP connection without a response.
func dropConnection(c echo.Context) error {
	conn, _, err := c.Response().Hijack()
	if err != nil {
		return err
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetLinger(0)
	}
	return conn.Close()
}

// authenticate rejects requests without a valid bearer token.
func (s *Server) authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		auth := c.Request().Header.Get(echo.HeaderAuthorization)
		token := strings.TrimPrefix(auth, "Bearer ")
		s.mu.Lock()
		_, ok := s.tokens[token]
		s.mu.Unlock()
		if auth == "" || !ok {
			return errorJSON(c, http.StatusUnauthorized, "Unauthorized")
		}
		return next(c)
	}
}

func bindBody(c echo.Context, v interface{}) error {
	return (&echo.DefaultBinder{}).BindBody(c, v)
}

// =============================================================================
// Auth handlers
// =============================================================================

func (s *Server) login(c echo.Context) error {
	var creds backend.Credentials
	if err := bindBody(c, &creds); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request body")
	}
	s.mu.Lock()
	password, ok := s.users[creds.Email]
	s.mu.Unlock()
	if !ok || password != creds.Password {
		return errorJSON(c, http.StatusUnauthorized, "Invalid credentials")
	}
	access := s.IssueToken(creds.Email)
	return c.JSON(http.StatusOK, backend.AuthTokens{
		AccessToken:  access,
		RefreshToken: "refresh-" + backend.GenerateID(),
	})
}

func (s *Server) register(c echo.Context) error {
	var creds backend.Credentials
	if err := bindBody(c, &creds); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request body")
	}
	if creds.Email == "" || creds.Password == "" {
		return errorJSON(c, http.StatusBadRequest, "Email and password are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[creds.Email]; exists {
		return errorJSON(c, http.StatusConflict, "User already exists")
	}
	s.users[creds.Email] = creds.Password
	return c.JSON(http.StatusCreated, map[string]string{"message": "User registered successfully"})
}

// =============================================================================
// Task handlers
// =============================================================================

// sortedTasks returns normalized tasks ordered by creation time, oldest first.
func (s *Server) sortedTasks() []backend.Task {
	now := s.now()
	tasks := make([]backend.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, backend.Normalize(t, now))
	}
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].ID < tasks[j].ID
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks
}

func (s *Server) listTasks(c echo.Context) error {
	query := backend.TaskQuery{
		Status: backend.TaskStatus(c.QueryParam("status")),
		SortBy: backend.SortKey(c.QueryParam("sortBy")),
		Search: c.QueryParam("search"),
	}
	if err := query.Validate(); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	s.mu.Lock()
	tasks := query.Filter(s.sortedTasks())
	s.mu.Unlock()
	query.Sort(tasks)
	return c.JSON(http.StatusOK, backend.TaskList{Tasks: tasks, TotalCount: len(tasks)})
}

func (s *Server) completedTasks(c echo.Context) error {
	s.mu.Lock()
	tasks := backend.TaskQuery{Status: backend.StatusCompleted}.Filter(s.sortedTasks())
	s.mu.Unlock()
	return c.JSON(http.StatusOK, backend.TaskList{Tasks: tasks, TotalCount: len(tasks)})
}

func (s *Server) calendar(c echo.Context) error {
	s.mu.Lock()
	tasks := s.sortedTasks()
	s.mu.Unlock()
	events := make([]backend.Task, 0, len(tasks))
	for _, t := range tasks {
		if !t.DueDate.IsZero() {
			events = append(events, t)
		}
	}
	backend.TaskQuery{SortBy: backend.SortByDueDate}.Sort(events)
	return c.JSON(http.StatusOK, backend.CalendarView{Events: events})
}

func (s *Server) report(c echo.Context) error {
	period := backend.ReportPeriod(c.QueryParam("period"))
	if err := period.Validate(); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	s.mu.Lock()
	tasks := s.sortedTasks()
	now := s.now()
	s.mu.Unlock()

	since := now.AddDate(0, 0, -7)
	if period == backend.PeriodMonthly {
		since = now.AddDate(0, -1, 0)
	}
	var report backend.TaskReport
	inPeriod := 0
	for _, t := range tasks {
		if t.CreatedAt.Before(since) && t.UpdatedAt.Before(since) {
			continue
		}
		inPeriod++
		switch t.Status {
		case backend.StatusCompleted:
			report.CompletedTasks++
		case backend.StatusOverdue:
			report.OverdueTasks++
		}
	}
	if inPeriod > 0 {
		report.TaskProgress = float64(report.CompletedTasks) / float64(inPeriod)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) getTask(c echo.Context) error {
	s.mu.Lock()
	task, ok := s.tasks[c.Param("id")]
	now := s.now()
	s.mu.Unlock()
	if !ok {
		return errorJSON(c, http.StatusNotFound, "Task not found")
	}
	return c.JSON(http.StatusOK, backend.Normalize(task, now))
}

func (s *Server) createTask(c echo.Context) error {
	var req backend.CreateTaskRequest
	if err := bindBody(c, &req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := req.Validate(); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	s.mu.Lock()
	now := s.now()
	task := backend.Task{
		ID:          backend.GenerateID(),
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate,
		Priority:    req.Priority,
		Status:      backend.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.tasks[task.ID] = task
	s.mu.Unlock()
	return c.JSON(http.StatusCreated, backend.Normalize(task, now))
}

func (s *Server) updateTask(c echo.Context) error {
	var req backend.UpdateTaskRequest
	if err := bindBody(c, &req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := req.Validate(); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[c.Param("id")]
	if !ok {
		return errorJSON(c, http.StatusNotFound, "Task not found")
	}
	task = req.Apply(task)
	task.UpdatedAt = s.now()
	s.tasks[task.ID] = task
	return c.JSON(http.StatusOK, backend.Normalize(task, s.now()))
}

func (s *Server) deleteTask(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := c.Param("id")
	if _, ok := s.tasks[id]; !ok {
		return errorJSON(c, http.StatusNotFound, "Task not found")
	}
	delete(s.tasks, id)
	return c.NoContent(http.StatusNoContent)
}

// =============================================================================
// User handlers
// =============================================================================

func (s *Server) getPreferences(c echo.Context) error {
	s.mu.Lock()
	prefs := s.prefs
	s.mu.Unlock()
	return c.JSON(http.StatusOK, prefs)
}

func (s *Server) updatePreferences(c echo.Context) error {
	var req backend.UpdatePreferencesRequest
	if err := bindBody(c, &req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := req.Validate(); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	s.mu.Lock()
	s.prefs = req.Apply(s.prefs)
	prefs := s.prefs
	s.mu.Unlock()
	return c.JSON(http.StatusOK, prefs)
}

func (s *Server) export(c echo.Context) error {
	s.mu.Lock()
	tasks := s.sortedTasks()
	s.mu.Unlock()
	return c.JSON(http.StatusOK, backend.TaskExport{Tasks: tasks})
}

func (s *Server) importTasks(c echo.Context) error {
	var data backend.TaskExport
	if err := bindBody(c, &data); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := data.Validate(); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	s.mu.Lock()
	now := s.now()
	for _, t := range data.Tasks {
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		t.UpdatedAt = now
		s.tasks[t.ID] = t
	}
	tasks := s.sortedTasks()
	s.mu.Unlock()
	return c.JSON(http.StatusOK, backend.TaskList{Tasks: tasks, TotalCount: len(tasks)})
}

// =============================================================================
// Todo handlers
// =============================================================================

func todoID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid todo id %q", c.Param("id"))
	}
	return id, nil
}

func (s *Server) listTodos(c echo.Context) error {
	s.mu.Lock()
	todos := make(backend.TodoList, 0, len(s.todos))
	for _, t := range s.todos {
		todos = append(todos, t)
	}
	s.mu.Unlock()
	sort.Slice(todos, func(i, j int) bool { return todos[i].ID < todos[j].ID })
	return c.JSON(http.StatusOK, todos)
}

func (s *Server) createTodo(c echo.Context) error {
	var in backend.TodoInput
	if err := bindBody(c, &in); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request body")
	}
	if err := in.Validate(); err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	id := s.AddTodo(in.Title, in.Completed)
	s.mu.Lock()
	todo := s.todos[id]
	s.mu.Unlock()
	return c.JSON(http.StatusCreated, todo)
}

func (s *Server) getTodo(c echo.Context) error {
	id, err := todoID(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	s.mu.Lock()
	todo, ok := s.todos[id]
	s.mu.Unlock()
	if !ok {
		return errorJSON(c, http.StatusNotFound, "Todo not found")
	}
	return c.JSON(http.StatusOK, todo)
}

func (s *Server) updateTodo(c echo.Context) error {
	id, err := todoID(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	var in backend.TodoInput
	if err := bindBody(c, &in); err != nil {
		return errorJSON(c, http.StatusBadRequest, "Invalid request body")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	todo, ok := s.todos[id]
	if !ok {
		return errorJSON(c, http.StatusNotFound, "Todo not found")
	}
	todo = in.Apply(todo)
	s.todos[id] = todo
	return c.JSON(http.StatusOK, todo)
}

func (s *Server) deleteTodo(c echo.Context) error {
	id, err := todoID(c)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.todos[id]; !ok {
		return errorJSON(c, http.StatusNotFound, "Todo not found")
	}
	delete(s.todos, id)
	return c.NoContent(http.StatusNoContent)
}
