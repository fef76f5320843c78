package cache_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdash/internal/cache"
)

type storedTask struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	DueDate time.Time `json:"dueDate"`
}

type storedList struct {
	Tasks      []storedTask `json:"tasks"`
	TotalCount int          `json:"totalCount"`
}

func TestStoreRoundTrip(t *testing.T) {
	store, err := cache.OpenStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer store.Close()
	store.Register(storedList{})

	fetched := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	list := storedList{
		Tasks:      []storedTask{{ID: "t1", Title: "Write report", DueDate: fetched.Add(24 * time.Hour)}},
		TotalCount: 1,
	}
	snaps := []cache.EntrySnapshot{
		{Key: cache.Key("tasks", "list", "status=pending"), Present: true, Data: list, FetchedAt: fetched},
		{Key: cache.Key("unregistered"), Present: true, Data: "skipped", FetchedAt: fetched},
		{Key: cache.Key("absent")},
	}
	require.NoError(t, store.Save(context.Background(), snaps))

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	got := loaded[0]
	assert.True(t, got.Key.Equal(snaps[0].Key))
	assert.True(t, got.Stale)
	assert.True(t, got.FetchedAt.Equal(fetched))
	restored, ok := got.Data.(storedList)
	require.True(t, ok, "expected storedList, got %T", got.Data)
	assert.Equal(t, 1, restored.TotalCount)
	assert.Equal(t, "Write report", restored.Tasks[0].Title)
	assert.True(t, restored.Tasks[0].DueDate.Equal(list.Tasks[0].DueDate))
}

func TestStoreSaveReplacesPreviousSnapshot(t *testing.T) {
	store, err := cache.OpenStore("")
	require.NoError(t, err)
	defer store.Close()
	store.Register(storedList{})

	first := []cache.EntrySnapshot{{Key: cache.Key("a"), Present: true, Data: storedList{TotalCount: 1}}}
	second := []cache.EntrySnapshot{{Key: cache.Key("b"), Present: true, Data: storedList{TotalCount: 2}}}
	require.NoError(t, store.Save(context.Background(), first))
	require.NoError(t, store.Save(context.Background(), second))

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "b", loaded[0].Key.String())
}

func TestStoreHydratesCache(t *testing.T) {
	store, err := cache.OpenStore("")
	require.NoError(t, err)
	defer store.Close()
	store.Register(storedList{})

	key := cache.Key("tasks", "list", "")
	require.NoError(t, store.Save(context.Background(), []cache.EntrySnapshot{
		{Key: key, Present: true, Data: storedList{TotalCount: 3}, FetchedAt: time.Now()},
	}))

	c, _, _ := newTestCache(t)
	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, c.Hydrate(loaded))

	got, ok := cache.GetAs[storedList](c, key)
	require.True(t, ok)
	assert.Equal(t, 3, got.TotalCount)
}

func TestStoreKeepsPolicy(t *testing.T) {
	store, err := cache.OpenStore("")
	require.NoError(t, err)
	defer store.Close()
	store.Register(storedList{})

	policy := cache.Policy{StaleTime: time.Hour, GCTime: 2 * time.Hour}
	require.NoError(t, store.Save(context.Background(), []cache.EntrySnapshot{
		{Key: cache.Key("user", "preferences"), Present: true, Data: storedList{}, FetchedAt: time.Now(), Policy: policy},
	}))

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, policy, loaded[0].Policy)
}
