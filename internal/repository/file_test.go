package repository

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"english-tutor/internal/domain"
)

func newTestFileStore(t *testing.T, path string, opts ...Option) *MemoryStore {
	t.Helper()
	clock := newStepClock()
	store, err := NewFileStore(path, append([]Option{WithClock(clock.Now)}, opts...)...)
	require.NoError(t, err)
	return store
}

func TestNewFileStore_EmptyPath(t *testing.T) {
	_, err := NewFileStore("  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}

func TestFileStore_MissingFileStartsEmpty(t *testing.T) {
	store := newTestFileStore(t, filepath.Join(t.TempDir(), "nested", "sessions.json"))
	all, err := store.ListRecent(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestFileStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "sessions.json")
	ctx := context.Background()
	store := newTestFileStore(t, path)

	_, err := store.Create(ctx, domain.Session{
		ID:       "s1",
		UserID:   "u1",
		Level:    domain.LevelAdvanced,
		Focus:    domain.FocusGrammar,
		Metadata: map[string]any{"source": "web"},
	})
	require.NoError(t, err)
	_, err = store.Create(ctx, domain.Session{ID: "s2"})
	require.NoError(t, err)
	for _, text := range []string{"first", "second", "third"} {
		_, err = store.AppendMessage(ctx, "s1", domain.Message{
			Role:      domain.RoleUser,
			Content:   text,
			Timestamp: time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC),
			Metadata:  map[string]any{"n": text},
		})
		require.NoError(t, err)
	}
	before, err := store.ListRecent(ctx, 0)
	require.NoError(t, err)

	reloaded := newTestFileStore(t, path)
	after, err := reloaded.ListRecent(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, before, after)

	s1, err := reloaded.Get(ctx, "s1")
	require.NoError(t, err)
	require.Equal(t, "u1", s1.UserID)
	require.Equal(t, []string{"first", "second", "third"}, contents(s1.Messages))
	require.Equal(t, 123456789, s1.Messages[0].Timestamp.Nanosecond())
}

func TestFileStore_PersistsMappingKeyedByID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	store := newTestFileStore(t, path)
	_, err := store.Create(context.Background(), domain.Session{ID: "abc", Title: "Travel talk"})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var onDisk map[string]map[string]any
	require.NoError(t, json.Unmarshal(raw, &onDisk))
	require.Contains(t, onDisk, "abc")
	require.Equal(t, "Travel talk", onDisk["abc"]["title"])
	require.Equal(t, "intermediate", onDisk["abc"]["level"])
	require.Nil(t, onDisk["abc"]["user_id"])

	_, err = time.Parse(time.RFC3339Nano, onDisk["abc"]["created_at"].(string))
	require.NoError(t, err)
}

func TestFileStore_DeleteIsPersisted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	ctx := context.Background()
	store := newTestFileStore(t, path)
	_, err := store.Create(ctx, domain.Session{ID: "s1"})
	require.NoError(t, err)
	removed, err := store.Delete(ctx, "s1")
	require.NoError(t, err)
	require.True(t, removed)

	reloaded := newTestFileStore(t, path)
	_, err = reloaded.Get(ctx, "s1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"s1": {"created_at": "not-a-time"`), 0o644))

	store := newTestFileStore(t, path)
	all, err := store.ListRecent(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, all)

	_, err = store.Create(context.Background(), domain.Session{ID: "s2"})
	require.NoError(t, err)
	reloaded := newTestFileStore(t, path)
	_, err = reloaded.Get(context.Background(), "s2")
	require.NoError(t, err)
}

func TestFileStore_BadTimestampStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	body := `{"s1":{"title":"x","created_at":"yesterday","updated_at":"2026-03-01T09:00:00Z","messages":[],"level":"beginner","focus":"grammar"}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	store := newTestFileStore(t, path)
	_, err := store.Get(context.Background(), "s1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_LoadsOffsetlessISOTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	body := `{"abc":{"user_id":null,"title":"Travel talk","created_at":"2025-04-01T10:00:00.123456","updated_at":"2025-04-01T10:05:00","messages":[{"id":"m1","content":"Hello","role":"user","timestamp":"2025-04-01T10:00:01.5","metadata":null}],"level":"beginner","focus":"vocabulary","metadata":null}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	ctx := context.Background()

	store := newTestFileStore(t, path)
	abc, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, 4, 1, 10, 0, 0, 123456000, time.UTC), abc.CreatedAt)
	require.Equal(t, time.Date(2025, 4, 1, 10, 5, 0, 0, time.UTC), abc.UpdatedAt)
	require.Equal(t, time.Date(2025, 4, 1, 10, 0, 1, 500000000, time.UTC), abc.Messages[0].Timestamp)
	require.Empty(t, abc.UserID)

	// The next save must keep the loaded session.
	_, err = store.Create(ctx, domain.Session{ID: "fresh"})
	require.NoError(t, err)
	reloaded := newTestFileStore(t, path)
	abc, err = reloaded.Get(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, []string{"Hello"}, contents(abc.Messages))
}

func TestParseTime(t *testing.T) {
	want := time.Date(2025, 4, 1, 10, 0, 0, 123456000, time.UTC)
	cases := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{in: "2025-04-01T10:00:00.123456Z", want: want},
		{in: "2025-04-01T10:00:00.123456+00:00", want: want},
		{in: "2025-04-01T12:00:00.123456+02:00", want: want},
		{in: "2025-04-01T10:00:00.123456", want: want},
		{in: "2025-04-01T10:00:00", want: want.Truncate(time.Second)},
		{in: "yesterday", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parseTime(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.True(t, tc.want.Equal(got), "got %s", got)
			require.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestFileStore_LoadDefaultsUnknownEnums(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	body := `{"s1":{"user_id":null,"title":"","created_at":"2026-03-01T09:00:00Z","updated_at":"2026-03-01T09:00:00Z","messages":[],"level":"expert","focus":"","metadata":null}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	store := newTestFileStore(t, path)
	s1, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, domain.LevelIntermediate, s1.Level)
	require.Equal(t, domain.FocusConversation, s1.Focus)
	require.Equal(t, domain.DefaultTitle, s1.Title)
}

func TestFileStore_LoadDropsExpiredSessions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	body := `{
		"old":{"title":"a","created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z","messages":[],"level":"beginner","focus":"grammar"},
		"new":{"title":"b","created_at":"2026-03-01T08:30:00Z","updated_at":"2026-03-01T08:30:00Z","messages":[],"level":"beginner","focus":"grammar"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	store := newTestFileStore(t, path, WithRetention(24*time.Hour))
	_, err := store.Get(context.Background(), "old")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(context.Background(), "new")
	require.NoError(t, err)
}

func TestFileStore_SaveFailureSurfacesPersistenceError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	// The parent "directory" is a regular file, so every save fails.
	store := newTestFileStore(t, filepath.Join(blocker, "sessions.json"))

	_, err := store.Create(context.Background(), domain.Session{ID: "s1"})
	var perr *PersistenceError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, "create", perr.Op)

	// The in-memory index still serves the session.
	got, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, "s1", got.ID)
}

func contents(msgs []domain.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Content)
	}
	return out
}
