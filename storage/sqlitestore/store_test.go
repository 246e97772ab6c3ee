package sqlitestore_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/go-dashboard-session/storage"
	"github.com/jrsteele09/go-dashboard-session/storage/sqlitestore"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, path string, options ...sqlitestore.Option) *sqlitestore.Store {
	t.Helper()
	s, err := sqlitestore.Open(path, options...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSetGetDelete(t *testing.T) {
	s := openStore(t, filepath.Join(t.TempDir(), "sessions.db"))

	_, ok, err := s.Get(storage.KeyUserSession)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(storage.KeyUserSession, `{"email":"a@example.com"}`))
	require.NoError(t, s.Set(storage.KeyUserSession, `{"email":"b@example.com"}`))

	v, ok, err := s.Get(storage.KeyUserSession)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"email":"b@example.com"}`, v)

	require.NoError(t, s.Delete(storage.KeyUserSession))
	_, ok, err = s.Get(storage.KeyUserSession)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestValuesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.db")
	written := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first, err := sqlitestore.Open(path, sqlitestore.WithNowFunc(func() time.Time { return written }))
	require.NoError(t, err)
	require.NoError(t, first.Set(storage.KeyUserSession, "persisted"))
	require.NoError(t, first.Close())

	second := openStore(t, path)
	v, ok, err := second.Get(storage.KeyUserSession)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "persisted", v)

	at, ok, err := second.UpdatedAt(storage.KeyUserSession)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, written.Equal(at))
}
