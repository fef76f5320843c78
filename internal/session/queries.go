package session

import (
	"context"

	"taskdash/backend"
	"taskdash/internal/cache"
)

// Tasks returns the task list for q.
func (s *Session) Tasks(ctx context.Context, q backend.TaskQuery) (backend.TaskList, error) {
	if err := q.Validate(); err != nil {
		return backend.TaskList{}, err
	}
	return cache.FetchAs(ctx, s.cache, TasksKey(q), s.taskPolicy, func(ctx context.Context) (backend.TaskList, error) {
		list, err := s.gateway.ListTasks(ctx, q)
		if err != nil {
			return backend.TaskList{}, err
		}
		return *list, nil
	})
}

// Task returns a single task.
func (s *Session) Task(ctx context.Context, id string) (backend.Task, error) {
	return cache.FetchAs(ctx, s.cache, TaskKey(id), s.taskPolicy, func(ctx context.Context) (backend.Task, error) {
		task, err := s.gateway.GetTask(ctx, id)
		if err != nil {
			return backend.Task{}, err
		}
		return *task, nil
	})
}

// CompletedTasks returns the completed tasks.
func (s *Session) CompletedTasks(ctx context.Context) (backend.TaskList, error) {
	return cache.FetchAs(ctx, s.cache, CompletedTasksKey, s.taskPolicy, func(ctx context.Context) (backend.TaskList, error) {
		list, err := s.gateway.ListCompletedTasks(ctx)
		if err != nil {
			return backend.TaskList{}, err
		}
		return *list, nil
	})
}

// Calendar returns the calendar view.
func (s *Session) Calendar(ctx context.Context) (backend.CalendarView, error) {
	return cache.FetchAs(ctx, s.cache, CalendarKey, s.taskPolicy, func(ctx context.Context) (backend.CalendarView, error) {
		view, err := s.gateway.CalendarView(ctx)
		if err != nil {
			return backend.CalendarView{}, err
		}
		return *view, nil
	})
}

// Report returns the task report for period.
func (s *Session) Report(ctx context.Context, period backend.ReportPeriod) (backend.TaskReport, error) {
	if err := period.Validate(); err != nil {
		return backend.TaskReport{}, err
	}
	return cache.FetchAs(ctx, s.cache, ReportKey(period), s.taskPolicy, func(ctx context.Context) (backend.TaskReport, error) {
		report, err := s.gateway.TaskReport(ctx, period)
		if err != nil {
			return backend.TaskReport{}, err
		}
		return *report, nil
	})
}

// Preferences returns the user's preferences.
func (s *Session) Preferences(ctx context.Context) (backend.Preferences, error) {
	return cache.FetchAs(ctx, s.cache, PreferencesKey, s.prefsPolicy, func(ctx context.Context) (backend.Preferences, error) {
		prefs, err := s.gateway.GetPreferences(ctx)
		if err != nil {
			return backend.Preferences{}, err
		}
		return *prefs, nil
	})
}

// Todos returns all todos.
func (s *Session) Todos(ctx context.Context) (backend.TodoList, error) {
	return cache.FetchAs(ctx, s.cache, TodosKey, s.taskPolicy, func(ctx context.Context) (backend.TodoList, error) {
		todos, err := s.gateway.ListTodos(ctx)
		if err != nil {
			return nil, err
		}
		if todos == nil {
			todos = backend.TodoList{}
		}
		return todos, nil
	})
}

// Todo returns a single todo.
func (s *Session) Todo(ctx context.Context, id int64) (backend.Todo, error) {
	return cache.FetchAs(ctx, s.cache, TodoKey(id), s.taskPolicy, func(ctx context.Context) (backend.Todo, error) {
		todo, err := s.gateway.GetTodo(ctx, id)
		if err != nil {
			return backend.Todo{}, err
		}
		return *todo, nil
	})
}
