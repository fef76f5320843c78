package session

import (
	"strconv"

	"taskdash/backend"
	"taskdash/internal/cache"
)

// Query keys. Every task query lives under TasksRoot so one invalidation
// covers lists, details, the calendar and reports.
var (
	TasksRoot         = cache.Key("tasks")
	TaskListsRoot     = cache.Key("tasks", "list")
	TaskDetailsRoot   = cache.Key("tasks", "detail")
	CompletedTasksKey = cache.Key("tasks", "completed")
	CalendarKey       = cache.Key("tasks", "calendar")
	ReportsRoot       = cache.Key("tasks", "report")
	PreferencesKey    = cache.Key("user", "preferences")
	TodosRoot         = cache.Key("todos")
	TodosKey          = cache.Key("todos", "list")
)

// TasksKey identifies one filtered task list.
func TasksKey(q backend.TaskQuery) cache.QueryKey {
	return TaskListsRoot.Append(q.Key())
}

// TaskKey identifies a single task.
func TaskKey(id string) cache.QueryKey {
	return TaskDetailsRoot.Append(id)
}

// ReportKey identifies the report for period.
func ReportKey(period backend.ReportPeriod) cache.QueryKey {
	return ReportsRoot.Append(string(period))
}

// TodoKey identifies a single todo.
func TodoKey(id int64) cache.QueryKey {
	return cache.Key("todos", "detail", strconv.FormatInt(id, 10))
}

// queryOf recovers the filter of a task list key.
func queryOf(key cache.QueryKey) backend.TaskQuery {
	if len(key) < 3 {
		return backend.TaskQuery{}
	}
	q, err := backend.ParseTaskQuery(key[2])
	if err != nil {
		return backend.TaskQuery{}
	}
	return q
}
