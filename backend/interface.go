package backend

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Task represents a task as returned by the API
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	DueDate     time.Time  `json:"dueDate"`
	Priority    Priority   `json:"priority"`
	Status      TaskStatus `json:"status"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Priority is the task priority: 1 (high), 2 (medium), 3 (low)
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityMedium Priority = 2
	PriorityLow    Priority = 3
)

// TaskStatus represents the state of a task
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusCompleted TaskStatus = "completed"
	StatusOverdue   TaskStatus = "overdue"
)

// TaskList is a page of tasks with the server-side total
type TaskList struct {
	Tasks      []Task `json:"tasks"`
	TotalCount int    `json:"totalCount"`
}

// CalendarView holds the tasks shown on the calendar
type CalendarView struct {
	Events []Task `json:"events"`
}

// TaskReport summarizes progress for a reporting period
type TaskReport struct {
	CompletedTasks int     `json:"completedTasks"`
	OverdueTasks   int     `json:"overdueTasks"`
	TaskProgress   float64 `json:"taskProgress"`
}

// ReportPeriod selects the reporting window
type ReportPeriod string

const (
	PeriodWeekly  ReportPeriod = "weekly"
	PeriodMonthly ReportPeriod = "monthly"
)

// CreateTaskRequest is the body of POST /tasks
type CreateTaskRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	DueDate     time.Time `json:"dueDate"`
	Priority    Priority  `json:"priority"`
}

// UpdateTaskRequest is the body of PATCH /tasks/{id}. Nil fields are left unchanged.
type UpdateTaskRequest struct {
	Title       *string     `json:"title,omitempty"`
	Description *string     `json:"description,omitempty"`
	DueDate     *time.Time  `json:"dueDate,omitempty"`
	Priority    *Priority   `json:"priority,omitempty"`
	Status      *TaskStatus `json:"status,omitempty"`
}

// Theme is the dashboard color theme
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Layout is the task view layout
type Layout string

const (
	LayoutList  Layout = "list"
	LayoutBoard Layout = "board"
)

// Preferences holds the user's dashboard settings
type Preferences struct {
	Theme          Theme  `json:"theme"`
	TaskViewLayout Layout `json:"taskViewLayout"`
}

// UpdatePreferencesRequest is the body of PATCH /user/preferences
type UpdatePreferencesRequest struct {
	Theme          *Theme  `json:"theme,omitempty"`
	TaskViewLayout *Layout `json:"taskViewLayout,omitempty"`
}

// Credentials are used for both login and registration
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthTokens are issued by a successful login
type AuthTokens struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// TaskExport is the payload of GET /user/export and POST /user/import
type TaskExport struct {
	Tasks []Task `json:"tasks"`
}

// Todo is an item of the simple todo resource
type Todo struct {
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	Completed bool       `json:"completed"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// TodoList is the response of GET /todos
type TodoList []Todo

// TodoInput is the body of POST /todos and PUT /todos/{id}
type TodoInput struct {
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// Gateway defines the remote operations of the task API.
// Implementations return *utils.APIError for every failure.
type Gateway interface {
	// Task operations
	ListTasks(ctx context.Context, query TaskQuery) (*TaskList, error)
	GetTask(ctx context.Context, id string) (*Task, error)
	CreateTask(ctx context.Context, req CreateTaskRequest) (*Task, error)
	UpdateTask(ctx context.Context, id string, req UpdateTaskRequest) (*Task, error)
	DeleteTask(ctx context.Context, id string) error
	ListCompletedTasks(ctx context.Context) (*TaskList, error)
	CalendarView(ctx context.Context) (*CalendarView, error)
	TaskReport(ctx context.Context, period ReportPeriod) (*TaskReport, error)

	// Auth operations
	Login(ctx context.Context, creds Credentials) (*AuthTokens, error)
	Register(ctx context.Context, creds Credentials) error
	Logout(ctx context.Context) error

	// User operations
	GetPreferences(ctx context.Context) (*Preferences, error)
	UpdatePreferences(ctx context.Context, req UpdatePreferencesRequest) (*Preferences, error)
	ExportTasks(ctx context.Context) (*TaskExport, error)
	ImportTasks(ctx context.Context, data TaskExport) (*TaskList, error)

	// Todo operations
	ListTodos(ctx context.Context) (TodoList, error)
	GetTodo(ctx context.Context, id int64) (*Todo, error)
	CreateTodo(ctx context.Context, input TodoInput) (*Todo, error)
	UpdateTodo(ctx context.Context, id int64, input TodoInput) (*Todo, error)
	DeleteTodo(ctx context.Context, id int64) error

	// Connection management
	Close() error
}

// TokenStore persists the tokens issued by login.
// Load returns nil, nil when no tokens are stored.
type TokenStore interface {
	Load() (*AuthTokens, error)
	Save(tokens AuthTokens) error
	Clear() error
}

// GenerateID generates a unique identifier using UUID v4.
func GenerateID() string {
	return uuid.New().String()
}
