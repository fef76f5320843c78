package backend

import (
	"net/url"
	"sort"
	"strings"

	"taskdash/internal/utils"
)

// SortKey selects the ordering of a task list
type SortKey string

const (
	SortByDueDate   SortKey = "dueDate"
	SortByPriority  SortKey = "priority"
	SortByCreatedAt SortKey = "createdAt"
)

// TaskQuery holds the filter parameters of GET /tasks
type TaskQuery struct {
	Status TaskStatus
	SortBy SortKey
	Search string
}

// ValidTaskStatuses lists the statuses accepted as a list filter.
var ValidTaskStatuses = []string{string(StatusPending), string(StatusCompleted), string(StatusOverdue)}

// ValidSortKeys lists the accepted sort keys.
var ValidSortKeys = []string{string(SortByDueDate), string(SortByPriority), string(SortByCreatedAt)}

// Values returns the query string parameters. Empty fields are omitted.
func (q TaskQuery) Values() url.Values {
	v := url.Values{}
	if q.Status != "" {
		v.Set("status", string(q.Status))
	}
	if q.SortBy != "" {
		v.Set("sortBy", string(q.SortBy))
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	return v
}

// Key returns a canonical encoding of the query. Queries with the same
// parameters always produce the same key; the empty query encodes to "".
func (q TaskQuery) Key() string {
	return q.Values().Encode()
}

// IsZero reports whether no filter parameter is set.
func (q TaskQuery) IsZero() bool {
	return q == TaskQuery{}
}

// ParseTaskQuery decodes a key produced by TaskQuery.Key.
func ParseTaskQuery(key string) (TaskQuery, error) {
	v, err := url.ParseQuery(key)
	if err != nil {
		return TaskQuery{}, err
	}
	return TaskQuery{
		Status: TaskStatus(v.Get("status")),
		SortBy: SortKey(v.Get("sortBy")),
		Search: v.Get("search"),
	}, nil
}

// Validate checks the filter parameters.
func (q TaskQuery) Validate() error {
	switch q.Status {
	case "", StatusPending, StatusCompleted, StatusOverdue:
	default:
		return utils.NewValidationError("invalid status %q (valid: %s)", q.Status, strings.Join(ValidTaskStatuses, ", "))
	}
	switch q.SortBy {
	case "", SortByDueDate, SortByPriority, SortByCreatedAt:
	default:
		return utils.NewValidationError("invalid sort key %q (valid: %s)", q.SortBy, strings.Join(ValidSortKeys, ", "))
	}
	return nil
}

// Matches reports whether a normalized task passes the query's filter.
// Search is a case-insensitive substring match on title and description.
func (q TaskQuery) Matches(task Task) bool {
	if q.Status != "" && task.Status != q.Status {
		return false
	}
	if q.Search != "" {
		needle := strings.ToLower(q.Search)
		if !strings.Contains(strings.ToLower(task.Title), needle) &&
			!strings.Contains(strings.ToLower(task.Description), needle) {
			return false
		}
	}
	return true
}

// Filter returns the tasks that match the query, in order.
func (q TaskQuery) Filter(tasks []Task) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		if q.Matches(t) {
			out = append(out, t)
		}
	}
	return out
}

// Sort orders tasks in place by the query's sort key. Due dates and
// priorities sort ascending, creation time newest first. Ties keep
// their input order.
func (q TaskQuery) Sort(tasks []Task) {
	var less func(a, b Task) bool
	switch q.SortBy {
	case SortByDueDate:
		less = func(a, b Task) bool { return a.DueDate.Before(b.DueDate) }
	case SortByPriority:
		less = func(a, b Task) bool { return a.Priority < b.Priority }
	case SortByCreatedAt:
		less = func(a, b Task) bool { return a.CreatedAt.After(b.CreatedAt) }
	default:
		return
	}
	sort.SliceStable(tasks, func(i, j int) bool { return less(tasks[i], tasks[j]) })
}

// Validate checks the report period. The empty period uses the server default.
func (p ReportPeriod) Validate() error {
	switch p {
	case "", PeriodWeekly, PeriodMonthly:
		return nil
	}
	return utils.NewValidationError("invalid report period %q (valid: weekly, monthly)", p)
}
