package session_test

import (
	"context"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"taskdash/backend"
	"taskdash/backend/rest"
	"taskdash/internal/cache"
	"taskdash/internal/credentials"
	"taskdash/internal/notification"
	"taskdash/internal/ratelimit"
	"taskdash/internal/session"
	"taskdash/internal/testutil/fakeapi"
	"taskdash/internal/utils"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	api    *fakeapi.Server
	s      *session.Session
	tokens *credentials.Manager
	rec    *notification.Recorder
	clock  *fakeClock
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func noEnv(string) string { return "" }

// newHarness starts a session against a fake API. When loggedIn is set the
// token store already holds a valid access token.
func newHarness(t *testing.T, loggedIn bool, store *cache.Store) *harness {
	t.Helper()
	api := fakeapi.New(t)
	return attach(t, api, loggedIn, store)
}

func attach(t *testing.T, api *fakeapi.Server, loggedIn bool, store *cache.Store) *harness {
	t.Helper()
	log := zaptest.NewLogger(t)
	clock := &fakeClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}

	tokens := credentials.NewManager(
		credentials.WithKeyring(credentials.NewMemoryKeyring()),
		credentials.WithEnv(noEnv),
	)
	if loggedIn {
		require.NoError(t, tokens.Save(backend.AuthTokens{AccessToken: api.IssueToken("ada@example.com")}))
	}

	gateway, err := rest.New(rest.Config{
		BaseURL: api.URL(),
		Tokens:  tokens,
		Retry:   ratelimit.NewPolicy(ratelimit.Config{Sleep: noSleep}),
		Logger:  log,
		Now:     clock.Now,
	})
	require.NoError(t, err)

	c := cache.New(context.Background(), cache.WithClock(clock.Now), cache.WithLogger(log))
	t.Cleanup(func() { _ = c.Close() })

	rec := notification.NewRecorder()
	s, err := session.New(session.Config{
		Gateway:  gateway,
		Tokens:   tokens,
		Cache:    c,
		Store:    store,
		Notifier: rec,
		Logger:   log,
		Now:      clock.Now,
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	return &harness{api: api, s: s, tokens: tokens, rec: rec, clock: clock}
}

func (h *harness) seedTasks() {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	h.api.AddTask(backend.Task{ID: "t1", Title: "Write report", Priority: backend.PriorityHigh, Status: backend.StatusPending, CreatedAt: created})
	h.api.AddTask(backend.Task{ID: "t2", Title: "Review PR", Priority: backend.PriorityLow, Status: backend.StatusPending, CreatedAt: created.Add(time.Hour)})
}

var pending = backend.TaskQuery{Status: backend.StatusPending}

func taskIDs(list backend.TaskList) []string {
	ids := make([]string, 0, len(list.Tasks))
	for _, t := range list.Tasks {
		ids = append(ids, t.ID)
	}
	return ids
}

func lastMessage(t *testing.T, rec *notification.Recorder) notification.Notification {
	t.Helper()
	last, ok := rec.Last()
	require.True(t, ok, "expected a notification")
	return last
}

// =============================================================================
// Query Tests
// =============================================================================

func TestConcurrentReadsShareOneRequest(t *testing.T) {
	h := newHarness(t, true, nil)
	h.seedTasks()
	release := h.api.Hold("GET /tasks")

	const readers = 5
	results := make(chan backend.TaskList, readers)
	errs := make(chan error, readers)
	for i := 0; i < readers; i++ {
		go func() {
			list, err := h.s.Tasks(context.Background(), backend.TaskQuery{})
			errs <- err
			results <- list
		}()
	}

	require.Eventually(t, func() bool { return h.api.Requests("GET /tasks") == 1 }, time.Second, 5*time.Millisecond)
	release()

	for i := 0; i < readers; i++ {
		require.NoError(t, <-errs)
		assert.Equal(t, []string{"t1", "t2"}, taskIDs(<-results))
	}
	assert.Equal(t, 1, h.api.Requests("GET /tasks"))
}

func TestStaleTasksRefreshInBackground(t *testing.T) {
	h := newHarness(t, true, nil)
	h.seedTasks()
	ctx := context.Background()

	_, err := h.s.Tasks(ctx, pending)
	require.NoError(t, err)

	h.clock.Advance(4 * time.Minute)
	_, err = h.s.Tasks(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, 1, h.api.Requests("GET /tasks"), "fresh data is served from cache")

	h.api.AddTask(backend.Task{ID: "t3", Title: "Plan sprint", Priority: backend.PriorityMedium, Status: backend.StatusPending})
	h.clock.Advance(2 * time.Minute)
	list, err := h.s.Tasks(ctx, pending)
	require.NoError(t, err)
	assert.Len(t, list.Tasks, 2, "stale data is returned immediately")

	h.s.Cache().WaitIdle()
	assert.Equal(t, 2, h.api.Requests("GET /tasks"))
	list, err = h.s.Tasks(ctx, pending)
	require.NoError(t, err)
	assert.Len(t, list.Tasks, 3)
}

func TestPreferencesStayFreshForAnHour(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()

	_, err := h.s.Preferences(ctx)
	require.NoError(t, err)
	h.clock.Advance(30 * time.Minute)
	prefs, err := h.s.Preferences(ctx)
	require.NoError(t, err)

	assert.Equal(t, backend.ThemeLight, prefs.Theme)
	assert.Equal(t, 1, h.api.Requests("GET /user/preferences"))
}

func TestInvalidQueryFailsWithoutRequest(t *testing.T) {
	h := newHarness(t, true, nil)

	_, err := h.s.Tasks(context.Background(), backend.TaskQuery{Status: "archived"})
	assert.True(t, utils.IsValidation(err))
	_, err = h.s.Report(context.Background(), "yearly")
	assert.True(t, utils.IsValidation(err))
	assert.Equal(t, 0, h.api.Requests("GET /tasks"))
	assert.Equal(t, 0, h.api.Requests("GET /tasks/report"))
}

// =============================================================================
// Task Mutation Tests
// =============================================================================

func TestOptimisticCompleteTask(t *testing.T) {
	h := newHarness(t, true, nil)
	h.seedTasks()
	ctx := context.Background()

	_, err := h.s.Tasks(ctx, backend.TaskQuery{})
	require.NoError(t, err)
	_, err = h.s.Tasks(ctx, pending)
	require.NoError(t, err)

	release := h.api.Hold("PATCH /tasks/t1")
	done := make(chan error, 1)
	go func() {
		_, err := h.s.CompleteTask(ctx, "t1")
		done <- err
	}()

	require.Eventually(t, func() bool {
		list, ok := cache.GetAs[backend.TaskList](h.s.Cache(), session.TasksKey(pending))
		return ok && len(list.Tasks) == 1
	}, time.Second, 5*time.Millisecond, "t1 leaves the pending list before the server answers")

	all, _ := cache.GetAs[backend.TaskList](h.s.Cache(), session.TasksKey(backend.TaskQuery{}))
	task, _ := all.Find("t1")
	assert.Equal(t, backend.StatusCompleted, task.Status)
	pendingList, _ := cache.GetAs[backend.TaskList](h.s.Cache(), session.TasksKey(pending))
	assert.Equal(t, 1, pendingList.TotalCount)

	release()
	require.NoError(t, <-done)

	assert.Equal(t, session.MsgTaskUpdated, lastMessage(t, h.rec).Message)
	assert.True(t, h.s.Cache().Peek(session.TasksKey(pending)).Stale, "task queries are invalidated after success")
	stored, _ := h.api.Task("t1")
	assert.Equal(t, backend.StatusCompleted, stored.Status)
}

func TestOfflineUpdateRollsBack(t *testing.T) {
	h := newHarness(t, true, nil)
	h.seedTasks()
	ctx := context.Background()

	_, err := h.s.Tasks(ctx, backend.TaskQuery{})
	require.NoError(t, err)
	_, err = h.s.Tasks(ctx, pending)
	require.NoError(t, err)
	_, err = h.s.Task(ctx, "t1")
	require.NoError(t, err)
	before := h.s.Cache().Dump()

	h.api.SetOffline(true)
	_, err = h.s.CompleteTask(ctx, "t1")
	require.Error(t, err)
	apiErr, ok := utils.AsAPIError(err)
	require.True(t, ok)
	assert.Equal(t, utils.KindNetwork, apiErr.Kind)

	assert.Equal(t, before, h.s.Cache().Dump(), "every cached view is restored")
	last := lastMessage(t, h.rec)
	assert.Equal(t, notification.NotifyError, last.Type)
	assert.Equal(t, session.MsgUpdateTaskFailed, last.Message)
}

func TestDeleteFailureShowsServerMessage(t *testing.T) {
	h := newHarness(t, true, nil)
	h.seedTasks()
	ctx := context.Background()

	_, err := h.s.Tasks(ctx, backend.TaskQuery{})
	require.NoError(t, err)

	h.api.Fail("DELETE /tasks/t1", fakeapi.Failure{Status: http.StatusConflict, Message: "Task is locked"})
	err = h.s.DeleteTask(ctx, "t1")
	require.Error(t, err)

	list, _ := cache.GetAs[backend.TaskList](h.s.Cache(), session.TasksKey(backend.TaskQuery{}))
	assert.Equal(t, []string{"t1", "t2"}, taskIDs(list))
	assert.Equal(t, "Task is locked", lastMessage(t, h.rec).Message)
}

func TestDeleteTaskRemovesCachedViews(t *testing.T) {
	h := newHarness(t, true, nil)
	h.seedTasks()
	ctx := context.Background()

	_, err := h.s.Tasks(ctx, backend.TaskQuery{})
	require.NoError(t, err)
	_, err = h.s.Task(ctx, "t2")
	require.NoError(t, err)

	require.NoError(t, h.s.DeleteTask(ctx, "t2"))

	list, _ := cache.GetAs[backend.TaskList](h.s.Cache(), session.TasksKey(backend.TaskQuery{}))
	assert.Equal(t, []string{"t1"}, taskIDs(list))
	assert.Equal(t, 1, list.TotalCount)
	assert.False(t, h.s.Cache().Peek(session.TaskKey("t2")).Present)
	assert.Equal(t, session.MsgTaskDeleted, lastMessage(t, h.rec).Message)
	assert.Equal(t, 1, h.api.TaskCount())
}

func TestCreateTaskInvalidatesLists(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()

	_, err := h.s.Tasks(ctx, backend.TaskQuery{})
	require.NoError(t, err)

	task, err := h.s.CreateTask(ctx, backend.CreateTaskRequest{
		Title:    "Ship release",
		DueDate:  time.Date(2026, 3, 12, 0, 0, 0, 0, time.UTC),
		Priority: backend.PriorityHigh,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)

	assert.True(t, h.s.Cache().Peek(session.TasksKey(backend.TaskQuery{})).Stale)
	detail, ok := cache.GetAs[backend.Task](h.s.Cache(), session.TaskKey(task.ID))
	require.True(t, ok)
	assert.Equal(t, "Ship release", detail.Title)
	assert.Equal(t, session.MsgTaskCreated, lastMessage(t, h.rec).Message)
}

func TestCreateTaskValidationFailsLocally(t *testing.T) {
	h := newHarness(t, true, nil)

	_, err := h.s.CreateTask(context.Background(), backend.CreateTaskRequest{Priority: backend.PriorityHigh})
	require.Error(t, err)
	assert.Equal(t, 0, h.api.Requests("POST /tasks"))
	assert.Equal(t, "title is required", lastMessage(t, h.rec).Message)
}

func TestImportAndExport(t *testing.T) {
	h := newHarness(t, true, nil)
	h.seedTasks()
	ctx := context.Background()

	export, err := h.s.ExportTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, export.Tasks, 2)
	assert.Equal(t, session.MsgTasksExported, lastMessage(t, h.rec).Message)

	_, err = h.s.ImportTasksJSON(ctx, []byte(`{"items": []}`))
	require.Error(t, err)
	assert.True(t, utils.IsValidation(err))
	assert.Equal(t, 0, h.api.Requests("POST /user/import"))

	list, err := h.s.ImportTasksJSON(ctx, []byte(`{"tasks":[{"id":"t9","title":"Imported","priority":2,"status":"pending"}]}`))
	require.NoError(t, err)
	assert.Equal(t, 3, list.TotalCount)
	assert.Equal(t, session.MsgTasksImported, lastMessage(t, h.rec).Message)
}

// =============================================================================
// Auth Tests
// =============================================================================

func TestLoginThenUnauthorizedRedirects(t *testing.T) {
	h := newHarness(t, false, nil)
	h.seedTasks()
	h.api.AddUser("ada@example.com", "secret")
	ctx := context.Background()

	require.False(t, h.s.IsLoggedIn())
	require.NoError(t, h.s.Login(ctx, backend.Credentials{Email: "ada@example.com", Password: "secret"}))
	assert.True(t, h.s.IsLoggedIn())
	assert.Equal(t, session.MsgLoggedIn, lastMessage(t, h.rec).Message)

	_, err := h.s.Tasks(ctx, backend.TaskQuery{})
	require.NoError(t, err)
	assert.Contains(t, h.api.LastAuthorization("GET /tasks"), "Bearer ")

	h.api.ExpireTokens()
	_, err = h.s.Preferences(ctx)
	require.True(t, utils.IsUnauthorized(err))

	assert.False(t, h.s.IsLoggedIn())
	assert.Equal(t, 0, h.s.Cache().Len(), "cached data is dropped with the session")
	select {
	case path := <-h.s.Redirects():
		assert.Equal(t, rest.LoginPath, path)
	default:
		t.Fatal("expected a login redirect")
	}
}

func TestLoginFailureShowsServerMessage(t *testing.T) {
	h := newHarness(t, false, nil)
	h.api.AddUser("ada@example.com", "secret")

	err := h.s.Login(context.Background(), backend.Credentials{Email: "ada@example.com", Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, "Invalid credentials", lastMessage(t, h.rec).Message)
	assert.False(t, h.s.IsLoggedIn())
}

func TestUnauthorizedMutationLeavesCacheEmpty(t *testing.T) {
	h := newHarness(t, true, nil)
	h.seedTasks()
	ctx := context.Background()

	_, err := h.s.Tasks(ctx, backend.TaskQuery{})
	require.NoError(t, err)

	h.api.ExpireTokens()
	_, err = h.s.CompleteTask(ctx, "t1")
	require.True(t, utils.IsUnauthorized(err))
	assert.Equal(t, 0, h.s.Cache().Len())
}

func TestRegisterAndLogout(t *testing.T) {
	h := newHarness(t, true, nil)
	h.seedTasks()
	ctx := context.Background()

	require.NoError(t, h.s.Register(ctx, backend.Credentials{Email: "grace@example.com", Password: "hopper"}))
	assert.Equal(t, session.MsgRegistered, lastMessage(t, h.rec).Message)
	assert.True(t, h.s.IsLoggedIn(), "registering does not replace the current session")

	_, err := h.s.Tasks(ctx, backend.TaskQuery{})
	require.NoError(t, err)
	require.NoError(t, h.s.Logout(ctx))
	assert.False(t, h.s.IsLoggedIn())
	assert.Equal(t, 0, h.s.Cache().Len())
	assert.Equal(t, session.MsgLoggedOut, lastMessage(t, h.rec).Message)
}

// =============================================================================
// Preferences and Todo Tests
// =============================================================================

func TestUpdatePreferencesWritesResponse(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()

	_, err := h.s.Preferences(ctx)
	require.NoError(t, err)

	dark := backend.ThemeDark
	_, err = h.s.UpdatePreferences(ctx, backend.UpdatePreferencesRequest{Theme: &dark})
	require.NoError(t, err)

	prefs, err := h.s.Preferences(ctx)
	require.NoError(t, err)
	assert.Equal(t, backend.ThemeDark, prefs.Theme)
	assert.Equal(t, 1, h.api.Requests("GET /user/preferences"))
	assert.Equal(t, session.MsgPreferencesUpdated, lastMessage(t, h.rec).Message)
}

func TestTodoMutations(t *testing.T) {
	h := newHarness(t, true, nil)
	ctx := context.Background()
	id := h.api.AddTodo("buy milk", false)

	todos, err := h.s.Todos(ctx)
	require.NoError(t, err)
	require.Len(t, todos, 1)

	updated, err := h.s.UpdateTodo(ctx, id, backend.TodoInput{Title: "buy oat milk", Completed: true})
	require.NoError(t, err)
	assert.True(t, updated.Completed)
	cached, _ := cache.GetAs[backend.TodoList](h.s.Cache(), session.TodosKey)
	assert.Equal(t, "buy oat milk", cached[0].Title)

	h.api.SetOffline(true)
	err = h.s.DeleteTodo(ctx, id)
	require.Error(t, err)
	cached, _ = cache.GetAs[backend.TodoList](h.s.Cache(), session.TodosKey)
	assert.Len(t, cached, 1, "failed delete is rolled back")
	assert.Equal(t, session.MsgDeleteTodoFailed, lastMessage(t, h.rec).Message)

	h.api.SetOffline(false)
	created, err := h.s.CreateTodo(ctx, backend.TodoInput{Title: "call mom"})
	require.NoError(t, err)
	require.NoError(t, h.s.DeleteTodo(ctx, id))
	assert.Equal(t, session.MsgTodoDeleted, lastMessage(t, h.rec).Message)

	todo, err := h.s.Todo(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "call mom", todo.Title)
}

func TestParseTodoID(t *testing.T) {
	id, err := session.ParseTodoID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "abc", "0", "-3"} {
		_, err := session.ParseTodoID(bad)
		assert.True(t, utils.IsValidation(err), "input %q", bad)
	}
}

// =============================================================================
// Persistence Tests
// =============================================================================

func TestCachePersistsAcrossSessions(t *testing.T) {
	store, err := cache.OpenStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer store.Close()

	first := newHarness(t, true, store)
	first.seedTasks()
	ctx := context.Background()
	_, err = first.s.Tasks(ctx, pending)
	require.NoError(t, err)
	require.NoError(t, first.s.Close(ctx))

	second := attach(t, first.api, true, store)
	snap := second.s.Cache().Peek(session.TasksKey(pending))
	require.True(t, snap.Present, "tasks are restored from the store")
	assert.True(t, snap.Stale)

	list, err := second.s.Tasks(ctx, pending)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1", "t2"}, taskIDs(list))
	second.s.Cache().WaitIdle()
	assert.Equal(t, 2, first.api.Requests("GET /tasks"), "restored entries refresh in the background")
}
