package session

import (
	"context"
	"strconv"

	"taskdash/backend"
	"taskdash/internal/cache"
	"taskdash/internal/mutation"
	"taskdash/internal/utils"
)

// Notification texts shown after each mutation settles.
const (
	MsgTaskCreated        = "Task created successfully!"
	MsgTaskUpdated        = "Task updated successfully!"
	MsgTaskDeleted        = "Task deleted successfully!"
	MsgLoggedIn           = "Login successful!"
	MsgRegistered         = "Registration successful! Please log in."
	MsgLoggedOut          = "Logout successful!"
	MsgPreferencesUpdated = "Preferences updated successfully!"
	MsgTasksExported      = "Tasks exported successfully!"
	MsgTasksImported      = "Tasks imported successfully!"
	MsgTodoCreated        = "Todo created successfully!"
	MsgTodoUpdated        = "Todo updated successfully!"
	MsgTodoDeleted        = "Todo deleted successfully!"

	MsgCreateTaskFailed        = "Failed to create task"
	MsgUpdateTaskFailed        = "Failed to update task"
	MsgDeleteTaskFailed        = "Failed to delete task"
	MsgLoginFailed             = "Login failed"
	MsgRegisterFailed          = "Registration failed"
	MsgLogoutFailed            = "Logout failed"
	MsgUpdatePreferencesFailed = "Failed to update preferences"
	MsgExportFailed            = "Failed to export tasks"
	MsgImportFailed            = "Failed to import tasks"
	MsgCreateTodoFailed        = "Failed to create todo"
	MsgUpdateTodoFailed        = "Failed to update todo"
	MsgDeleteTodoFailed        = "Failed to delete todo"
)

// Lock names. All writes to one collection run one at a time so a
// rollback never discards another mutation's patch.
const (
	resourceTasks       = "tasks"
	resourceTodos       = "todos"
	resourcePreferences = "preferences"
	resourceAuth        = "auth"
)

type empty struct{}

// execute runs spec and drops cached data if the API rejected the session,
// since a rollback may have restored entries after the 401 cleared them.
func execute[T any](ctx context.Context, s *Session, spec mutation.Spec[T]) (T, error) {
	result, err := mutation.Execute(ctx, s.coord, spec)
	if err != nil && utils.IsUnauthorized(err) {
		s.cache.Clear()
	}
	return result, err
}

// =============================================================================
// Task Mutations
// =============================================================================

// taskPatches rewrites task id with change in every cached view that holds
// it. Lists drop the task when it no longer matches their filter.
func (s *Session) taskPatches(id string, change func(backend.Task) backend.Task) []mutation.Patch {
	now := s.now()
	replace := func(t backend.Task) backend.Task {
		return backend.Normalize(change(t), now)
	}

	return []mutation.Patch{
		{
			Prefix: TaskListsRoot,
			Apply: func(key cache.QueryKey, data any) any {
				list, ok := data.(backend.TaskList)
				if !ok {
					return nil
				}
				task, found := list.Find(id)
				if !found {
					return nil
				}
				q := queryOf(key)
				out := list.ReplaceTask(replace(task), q.Matches)
				q.Sort(out.Tasks)
				return out
			},
		},
		{
			Prefix: CompletedTasksKey,
			Apply: func(key cache.QueryKey, data any) any {
				list, ok := data.(backend.TaskList)
				if !ok {
					return nil
				}
				task, found := list.Find(id)
				if !found {
					return nil
				}
				return list.ReplaceTask(replace(task), func(t backend.Task) bool {
					return t.Status == backend.StatusCompleted
				})
			},
		},
		{
			Prefix: CalendarKey,
			Apply: func(key cache.QueryKey, data any) any {
				view, ok := data.(backend.CalendarView)
				if !ok {
					return nil
				}
				changed := false
				for i, t := range view.Events {
					if t.ID == id {
						view.Events[i] = replace(t)
						changed = true
					}
				}
				if !changed {
					return nil
				}
				return view
			},
		},
		{
			Prefix: TaskKey(id),
			Apply: func(key cache.QueryKey, data any) any {
				task, ok := data.(backend.Task)
				if !ok {
					return nil
				}
				return replace(task)
			},
		},
	}
}

// removalPatches drop task id from every cached collection.
func (s *Session) removalPatches(id string) []mutation.Patch {
	withoutTask := func(key cache.QueryKey, data any) any {
		list, ok := data.(backend.TaskList)
		if !ok {
			return nil
		}
		if _, found := list.Find(id); !found {
			return nil
		}
		return list.WithoutTask(id)
	}

	return []mutation.Patch{
		{Prefix: TaskListsRoot, Apply: withoutTask},
		{Prefix: CompletedTasksKey, Apply: withoutTask},
		{
			Prefix: CalendarKey,
			Apply: func(key cache.QueryKey, data any) any {
				view, ok := data.(backend.CalendarView)
				if !ok {
					return nil
				}
				events := make([]backend.Task, 0, len(view.Events))
				for _, t := range view.Events {
					if t.ID != id {
						events = append(events, t)
					}
				}
				if len(events) == len(view.Events) {
					return nil
				}
				return backend.CalendarView{Events: events}
			},
		},
	}
}

func applyPatches(c *cache.Cache, patches []mutation.Patch) {
	for _, p := range patches {
		c.ApplyPatch(p.Prefix, p.Apply)
	}
}

// CreateTask creates a task. Task lists are refetched on next read.
func (s *Session) CreateTask(ctx context.Context, req backend.CreateTaskRequest) (backend.Task, error) {
	return execute(ctx, s, mutation.Spec[backend.Task]{
		Name:      "Create task",
		Resources: []string{resourceTasks},
		Run: func(ctx context.Context) (backend.Task, error) {
			task, err := s.gateway.CreateTask(ctx, req)
			if err != nil {
				return backend.Task{}, err
			}
			return *task, nil
		},
		Reconcile: func(c *cache.Cache, task backend.Task) {
			c.Set(TaskKey(task.ID), task)
		},
		Invalidate:     []cache.QueryKey{TaskListsRoot, CompletedTasksKey, CalendarKey, ReportsRoot},
		SuccessMessage: MsgTaskCreated,
		FailureMessage: MsgCreateTaskFailed,
	})
}

// UpdateTask applies req optimistically to every cached view of the task,
// then sends it. The cached views are restored if the request fails.
func (s *Session) UpdateTask(ctx context.Context, id string, req backend.UpdateTaskRequest) (backend.Task, error) {
	return execute(ctx, s, mutation.Spec[backend.Task]{
		Name:      "Update task",
		Resources: []string{resourceTasks},
		Patches:   s.taskPatches(id, req.Apply),
		Run: func(ctx context.Context) (backend.Task, error) {
			task, err := s.gateway.UpdateTask(ctx, id, req)
			if err != nil {
				return backend.Task{}, err
			}
			return *task, nil
		},
		Reconcile: func(c *cache.Cache, task backend.Task) {
			applyPatches(c, s.taskPatches(id, func(backend.Task) backend.Task { return task }))
		},
		Invalidate:     []cache.QueryKey{TasksRoot},
		SuccessMessage: MsgTaskUpdated,
		FailureMessage: MsgUpdateTaskFailed,
	})
}

// CompleteTask marks a task completed.
func (s *Session) CompleteTask(ctx context.Context, id string) (backend.Task, error) {
	status := backend.StatusCompleted
	return s.UpdateTask(ctx, id, backend.UpdateTaskRequest{Status: &status})
}

// DeleteTask removes the task from every cached collection, then deletes it.
// The collections are restored if the request fails.
func (s *Session) DeleteTask(ctx context.Context, id string) error {
	_, err := execute(ctx, s, mutation.Spec[empty]{
		Name:      "Delete task",
		Resources: []string{resourceTasks},
		Patches:   s.removalPatches(id),
		Run: func(ctx context.Context) (empty, error) {
			return empty{}, s.gateway.DeleteTask(ctx, id)
		},
		Remove:         []cache.QueryKey{TaskKey(id)},
		Invalidate:     []cache.QueryKey{TasksRoot},
		SuccessMessage: MsgTaskDeleted,
		FailureMessage: MsgDeleteTaskFailed,
	})
	return err
}

// ExportTasks downloads every task.
func (s *Session) ExportTasks(ctx context.Context) (backend.TaskExport, error) {
	return execute(ctx, s, mutation.Spec[backend.TaskExport]{
		Name: "Export tasks",
		Run: func(ctx context.Context) (backend.TaskExport, error) {
			export, err := s.gateway.ExportTasks(ctx)
			if err != nil {
				return backend.TaskExport{}, err
			}
			return *export, nil
		},
		SuccessMessage: MsgTasksExported,
		FailureMessage: MsgExportFailed,
	})
}

// ImportTasks uploads tasks.
func (s *Session) ImportTasks(ctx context.Context, data backend.TaskExport) (backend.TaskList, error) {
	return execute(ctx, s, mutation.Spec[backend.TaskList]{
		Name:      "Import tasks",
		Resources: []string{resourceTasks},
		Run: func(ctx context.Context) (backend.TaskList, error) {
			list, err := s.gateway.ImportTasks(ctx, data)
			if err != nil {
				return backend.TaskList{}, err
			}
			return *list, nil
		},
		Invalidate:     []cache.QueryKey{TasksRoot},
		SuccessMessage: MsgTasksImported,
		FailureMessage: MsgImportFailed,
	})
}

// ImportTasksJSON decodes an export document and uploads it. Malformed
// documents fail locally without a request.
func (s *Session) ImportTasksJSON(ctx context.Context, raw []byte) (backend.TaskList, error) {
	return execute(ctx, s, mutation.Spec[backend.TaskList]{
		Name:      "Import tasks",
		Resources: []string{resourceTasks},
		Run: func(ctx context.Context) (backend.TaskList, error) {
			data, err := backend.DecodeTaskExport(raw)
			if err != nil {
				return backend.TaskList{}, err
			}
			list, err := s.gateway.ImportTasks(ctx, data)
			if err != nil {
				return backend.TaskList{}, err
			}
			return *list, nil
		},
		Invalidate:     []cache.QueryKey{TasksRoot},
		SuccessMessage: MsgTasksImported,
		FailureMessage: MsgImportFailed,
	})
}

// =============================================================================
// User Mutations
// =============================================================================

// UpdatePreferences sends req and stores the response.
func (s *Session) UpdatePreferences(ctx context.Context, req backend.UpdatePreferencesRequest) (backend.Preferences, error) {
	return execute(ctx, s, mutation.Spec[backend.Preferences]{
		Name:      "Update preferences",
		Resources: []string{resourcePreferences},
		Run: func(ctx context.Context) (backend.Preferences, error) {
			prefs, err := s.gateway.UpdatePreferences(ctx, req)
			if err != nil {
				return backend.Preferences{}, err
			}
			return *prefs, nil
		},
		Reconcile: func(c *cache.Cache, prefs backend.Preferences) {
			c.Set(PreferencesKey, prefs)
		},
		SuccessMessage: MsgPreferencesUpdated,
		FailureMessage: MsgUpdatePreferencesFailed,
	})
}

// Login authenticates. Every cached query is marked stale since it may
// belong to another account.
func (s *Session) Login(ctx context.Context, creds backend.Credentials) error {
	_, err := execute(ctx, s, mutation.Spec[*backend.AuthTokens]{
		Name:      "Login",
		Resources: []string{resourceAuth},
		Run: func(ctx context.Context) (*backend.AuthTokens, error) {
			return s.gateway.Login(ctx, creds)
		},
		Invalidate:     []cache.QueryKey{nil},
		SuccessMessage: MsgLoggedIn,
		FailureMessage: MsgLoginFailed,
	})
	return err
}

// Register creates an account. The user still has to log in.
func (s *Session) Register(ctx context.Context, creds backend.Credentials) error {
	_, err := execute(ctx, s, mutation.Spec[empty]{
		Name:      "Register",
		Resources: []string{resourceAuth},
		Run: func(ctx context.Context) (empty, error) {
			return empty{}, s.gateway.Register(ctx, creds)
		},
		SuccessMessage: MsgRegistered,
		FailureMessage: MsgRegisterFailed,
	})
	return err
}

// Logout forgets the tokens and every cached query.
func (s *Session) Logout(ctx context.Context) error {
	_, err := execute(ctx, s, mutation.Spec[empty]{
		Name:      "Logout",
		Resources: []string{resourceAuth},
		Run: func(ctx context.Context) (empty, error) {
			return empty{}, s.gateway.Logout(ctx)
		},
		Remove:         []cache.QueryKey{nil},
		SuccessMessage: MsgLoggedOut,
		FailureMessage: MsgLogoutFailed,
	})
	return err
}

// =============================================================================
// Todo Mutations
// =============================================================================

func todoPatches(id int64, change func(backend.Todo) backend.Todo) []mutation.Patch {
	return []mutation.Patch{
		{
			Prefix: TodosKey,
			Apply: func(key cache.QueryKey, data any) any {
				todos, ok := data.(backend.TodoList)
				if !ok {
					return nil
				}
				for _, t := range todos {
					if t.ID == id {
						return todos.ReplaceTodo(change(t))
					}
				}
				return nil
			},
		},
		{
			Prefix: TodoKey(id),
			Apply: func(key cache.QueryKey, data any) any {
				todo, ok := data.(backend.Todo)
				if !ok {
					return nil
				}
				return change(todo)
			},
		},
	}
}

// CreateTodo creates a todo.
func (s *Session) CreateTodo(ctx context.Context, input backend.TodoInput) (backend.Todo, error) {
	return execute(ctx, s, mutation.Spec[backend.Todo]{
		Name:      "Create todo",
		Resources: []string{resourceTodos},
		Run: func(ctx context.Context) (backend.Todo, error) {
			todo, err := s.gateway.CreateTodo(ctx, input)
			if err != nil {
				return backend.Todo{}, err
			}
			return *todo, nil
		},
		Reconcile: func(c *cache.Cache, todo backend.Todo) {
			c.Set(TodoKey(todo.ID), todo)
		},
		Invalidate:     []cache.QueryKey{TodosKey},
		SuccessMessage: MsgTodoCreated,
		FailureMessage: MsgCreateTodoFailed,
	})
}

// UpdateTodo applies input optimistically and restores on failure.
func (s *Session) UpdateTodo(ctx context.Context, id int64, input backend.TodoInput) (backend.Todo, error) {
	return execute(ctx, s, mutation.Spec[backend.Todo]{
		Name:      "Update todo",
		Resources: []string{resourceTodos},
		Patches:   todoPatches(id, input.Apply),
		Run: func(ctx context.Context) (backend.Todo, error) {
			todo, err := s.gateway.UpdateTodo(ctx, id, input)
			if err != nil {
				return backend.Todo{}, err
			}
			return *todo, nil
		},
		Reconcile: func(c *cache.Cache, todo backend.Todo) {
			applyPatches(c, todoPatches(id, func(backend.Todo) backend.Todo { return todo }))
		},
		Invalidate:     []cache.QueryKey{TodosRoot},
		SuccessMessage: MsgTodoUpdated,
		FailureMessage: MsgUpdateTodoFailed,
	})
}

// DeleteTodo removes the todo optimistically and restores on failure.
func (s *Session) DeleteTodo(ctx context.Context, id int64) error {
	_, err := execute(ctx, s, mutation.Spec[empty]{
		Name:      "Delete todo",
		Resources: []string{resourceTodos},
		Patches: []mutation.Patch{{
			Prefix: TodosKey,
			Apply: func(key cache.QueryKey, data any) any {
				todos, ok := data.(backend.TodoList)
				if !ok {
					return nil
				}
				out := todos.WithoutTodo(id)
				if len(out) == len(todos) {
					return nil
				}
				return out
			},
		}},
		Run: func(ctx context.Context) (empty, error) {
			return empty{}, s.gateway.DeleteTodo(ctx, id)
		},
		Remove:         []cache.QueryKey{TodoKey(id)},
		Invalidate:     []cache.QueryKey{TodosKey},
		SuccessMessage: MsgTodoDeleted,
		FailureMessage: MsgDeleteTodoFailed,
	})
	return err
}

// parseTodoID converts a CLI argument to a todo id.
func ParseTodoID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, utils.NewValidationError("invalid todo id %q", s)
	}
	return id, nil
}
