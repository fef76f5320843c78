package backend

import (
	"time"
)

// startOfDay returns midnight of t's day in t's location.
func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// EffectiveStatus derives the status shown for a task at time now.
// A task is overdue when it is not completed and its due date falls before
// the start of today in now's location; a task due today is never overdue.
// The stored status "overdue" is ignored in favor of this derivation.
func EffectiveStatus(task Task, now time.Time) TaskStatus {
	if task.Status == StatusCompleted {
		return StatusCompleted
	}
	if !task.DueDate.IsZero() && task.DueDate.In(now.Location()).Before(startOfDay(now)) {
		return StatusOverdue
	}
	return StatusPending
}

// Normalize returns task with its status replaced by EffectiveStatus.
func Normalize(task Task, now time.Time) Task {
	task.Status = EffectiveStatus(task, now)
	return task
}

// NormalizeTasks normalizes every task in place.
func NormalizeTasks(tasks []Task, now time.Time) {
	for i := range tasks {
		tasks[i] = Normalize(tasks[i], now)
	}
}

// IsOverdue reports whether the task is overdue at time now.
func IsOverdue(task Task, now time.Time) bool {
	return EffectiveStatus(task, now) == StatusOverdue
}

// Apply returns a copy of task with the non-nil fields of req applied.
// It does not touch UpdatedAt; the server owns timestamps.
func (req UpdateTaskRequest) Apply(task Task) Task {
	if req.Title != nil {
		task.Title = *req.Title
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.DueDate != nil {
		task.DueDate = *req.DueDate
	}
	if req.Priority != nil {
		task.Priority = *req.Priority
	}
	if req.Status != nil {
		task.Status = *req.Status
	}
	return task
}

// IsEmpty reports whether the request changes nothing.
func (req UpdateTaskRequest) IsEmpty() bool {
	return req.Title == nil && req.Description == nil && req.DueDate == nil &&
		req.Priority == nil && req.Status == nil
}

// Find returns the task with the given id.
func (l TaskList) Find(id string) (Task, bool) {
	for _, t := range l.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}

// Clone returns a deep copy of the list.
func (l TaskList) Clone() TaskList {
	out := TaskList{TotalCount: l.TotalCount}
	if l.Tasks != nil {
		out.Tasks = make([]Task, len(l.Tasks))
		copy(out.Tasks, l.Tasks)
	}
	return out
}

// CloneValue implements cache.Cloner.
func (l TaskList) CloneValue() any { return l.Clone() }

// ReplaceTask returns a copy of the list with the task of the same id
// replaced by task. Tasks rejected by keep are dropped and TotalCount
// is adjusted; a nil keep keeps every task.
func (l TaskList) ReplaceTask(task Task, keep func(Task) bool) TaskList {
	out := TaskList{TotalCount: l.TotalCount, Tasks: make([]Task, 0, len(l.Tasks))}
	for _, t := range l.Tasks {
		if t.ID == task.ID {
			t = task
			if keep != nil && !keep(t) {
				out.TotalCount--
				continue
			}
		}
		out.Tasks = append(out.Tasks, t)
	}
	if out.TotalCount < 0 {
		out.TotalCount = 0
	}
	return out
}

// WithoutTask returns a copy of the list without the task with id.
// TotalCount is decremented only when the task was present.
func (l TaskList) WithoutTask(id string) TaskList {
	out := TaskList{TotalCount: l.TotalCount, Tasks: make([]Task, 0, len(l.Tasks))}
	for _, t := range l.Tasks {
		if t.ID == id {
			out.TotalCount--
			continue
		}
		out.Tasks = append(out.Tasks, t)
	}
	if out.TotalCount < 0 {
		out.TotalCount = 0
	}
	return out
}

// CloneValue implements cache.Cloner.
func (c CalendarView) CloneValue() any {
	out := CalendarView{}
	if c.Events != nil {
		out.Events = make([]Task, len(c.Events))
		copy(out.Events, c.Events)
	}
	return out
}

// CloneValue implements cache.Cloner.
func (t Todo) CloneValue() any {
	if t.CreatedAt != nil {
		created := *t.CreatedAt
		t.CreatedAt = &created
	}
	return t
}

// CloneValue implements cache.Cloner.
func (l TodoList) CloneValue() any {
	if l == nil {
		return TodoList(nil)
	}
	out := make(TodoList, len(l))
	for i, t := range l {
		out[i] = t.CloneValue().(Todo)
	}
	return out
}

// ReplaceTodo returns a copy of the list with the todo of the same id replaced.
func (l TodoList) ReplaceTodo(todo Todo) TodoList {
	out := l.CloneValue().(TodoList)
	for i := range out {
		if out[i].ID == todo.ID {
			out[i] = todo
		}
	}
	return out
}

// WithoutTodo returns a copy of the list without the todo with id.
func (l TodoList) WithoutTodo(id int64) TodoList {
	out := make(TodoList, 0, len(l))
	for _, t := range l {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}

// Apply returns prefs with the non-nil fields of req applied.
func (req UpdatePreferencesRequest) Apply(prefs Preferences) Preferences {
	if req.Theme != nil {
		prefs.Theme = *req.Theme
	}
	if req.TaskViewLayout != nil {
		prefs.TaskViewLayout = *req.TaskViewLayout
	}
	return prefs
}

// Apply returns a copy of todo with the input applied.
func (in TodoInput) Apply(todo Todo) Todo {
	todo = todo.CloneValue().(Todo)
	todo.Title = in.Title
	todo.Completed = in.Completed
	return todo
}

// String returns a human-readable priority name.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}
