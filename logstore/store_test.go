package logstore

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, capacity int) *Store {
	t.Helper()
	store, err := New(capacity, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func messages(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Message
	}
	return out
}

func TestAppendPreservesArrivalOrder(t *testing.T) {
	store := newStore(t, 10)
	for i := 0; i < 5; i++ {
		store.Append(Entry{Message: fmt.Sprintf("entry-%d", i)})
	}

	got := store.Query(Filter{})
	assert.Equal(t, []string{"entry-0", "entry-1", "entry-2", "entry-3", "entry-4"}, messages(got))
}

func TestOverflowEvictsOldest(t *testing.T) {
	store := newStore(t, 3)
	for _, msg := range []string{"A", "B", "C", "D"} {
		store.Append(Entry{Message: msg})
	}

	got := store.Query(Filter{Count: 10})
	assert.Equal(t, []string{"B", "C", "D"}, messages(got))
	assert.Equal(t, 3, store.Size())
}

func TestOverflowRetainsMostRecentCapacityEntries(t *testing.T) {
	const capacity = 5
	store := newStore(t, capacity)
	for i := 0; i < capacity+7; i++ {
		store.Append(Entry{Message: fmt.Sprintf("entry-%d", i)})
	}

	got := store.Query(Filter{Count: capacity + 7})
	require.Len(t, got, capacity)
	assert.Equal(t, "entry-7", got[0].Message)
	assert.Equal(t, "entry-11", got[capacity-1].Message)
}

func TestQueryLevelFilter(t *testing.T) {
	store := newStore(t, 10)
	store.Append(Entry{Message: "info one", Level: LevelInfo})
	store.Append(Entry{Message: "compile error", Level: LevelError})
	store.Append(Entry{Message: "info two", Level: LevelInfo})
	store.Append(Entry{Message: "warn one", Level: LevelWarn})

	got := store.Query(Filter{Levels: []Level{LevelError, LevelWarn}})
	assert.Equal(t, []string{"compile error", "warn one"}, messages(got))
}

func TestQueryConjunction(t *testing.T) {
	store := newStore(t, 10)
	store.Append(Entry{Message: "shader compile failed", Level: LevelError, Stack: "ShaderCompiler.cs:42"})
	store.Append(Entry{Message: "shader compile ok", Level: LevelInfo})
	store.Append(Entry{Message: "scene load failed", Level: LevelError, Stack: "SceneLoader.cs:10"})

	got := store.Query(Filter{
		Levels:          []Level{LevelError},
		MessageContains: "shader",
		StackContains:   "ShaderCompiler",
	})
	require.Len(t, got, 1)
	assert.Equal(t, "shader compile failed", got[0].Message)
}

func TestQueryTimeWindow(t *testing.T) {
	store := newStore(t, 10)
	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		store.Append(Entry{
			Message:   fmt.Sprintf("entry-%d", i),
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
	}

	got := store.Query(Filter{
		After:  base.Add(30 * time.Second),
		Before: base.Add(3*time.Minute + 30*time.Second),
	})
	assert.Equal(t, []string{"entry-1", "entry-2", "entry-3"}, messages(got))
}

func TestQueryCountKeepsLastMatches(t *testing.T) {
	store := newStore(t, 10)
	for i := 0; i < 8; i++ {
		store.Append(Entry{Message: fmt.Sprintf("entry-%d", i)})
	}

	got := store.Query(Filter{Count: 3})
	assert.Equal(t, []string{"entry-5", "entry-6", "entry-7"}, messages(got))
}

func TestQueryDefaultCount(t *testing.T) {
	store := newStore(t, 150)
	for i := 0; i < 150; i++ {
		store.Append(Entry{Message: fmt.Sprintf("entry-%d", i)})
	}

	got := store.Query(Filter{})
	require.Len(t, got, DefaultQueryCount)
	assert.Equal(t, "entry-50", got[0].Message)
}

func TestAppendStampsArrivalTimeAndLevel(t *testing.T) {
	store := newStore(t, 10)
	before := time.Now()
	store.Append(Entry{Message: "bare"})

	got := store.Query(Filter{})
	require.Len(t, got, 1)
	assert.Equal(t, LevelInfo, got[0].Level)
	assert.False(t, got[0].Timestamp.Before(before))
}

func TestProject(t *testing.T) {
	ts := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	entries := []Entry{
		{Message: "boom", Stack: "trace", Level: LevelError, Timestamp: ts},
	}

	got := Project(entries, []string{"message", "level", "bogus"})
	want := []map[string]any{
		{"message": "boom", "level": LevelError},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("projection mismatch (-want +got):\n%s", diff)
	}

	full := Project(entries, nil)
	require.Len(t, full, 1)
	assert.Equal(t, "trace", full[0]["stack"])
	assert.Equal(t, ts, full[0]["timestamp"])
}
