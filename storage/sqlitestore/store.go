// Package sqlitestore is durable session storage backed by a sqlite file. Values
// survive process restarts, the equivalent of a browser's local storage.
package sqlitestore

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/jrsteele09/go-dashboard-session/storage"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

type Store struct {
	db      *sql.DB
	nowFunc func() time.Time
}

var _ storage.Storage = (*Store)(nil)

type Option func(*Store)

func WithNowFunc(nowFunc func() time.Time) Option {
	return func(s *Store) {
		s.nowFunc = nowFunc
	}
}

// Open creates the database file and its directory when missing.
func Open(path string, options ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "[sqlitestore.Open] create directory")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "[sqlitestore.Open] sql.Open")
	}

	// One writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "[sqlitestore.Open] %s", pragma)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "[sqlitestore.Open] create schema")
	}

	s := &Store{db: db, nowFunc: time.Now}
	for _, opt := range options {
		opt(s)
	}
	return s, nil
}

func (s *Store) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "[Store.Get] %s", key)
	}
	return value, true, nil
}

func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.nowFunc().UnixMilli(),
	)
	if err != nil {
		return errors.Wrapf(err, "[Store.Set] %s", key)
	}
	return nil
}

func (s *Store) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM kv WHERE key = ?", key); err != nil {
		return errors.Wrapf(err, "[Store.Delete] %s", key)
	}
	return nil
}

// UpdatedAt returns when the key was last written.
func (s *Store) UpdatedAt(key string) (time.Time, bool, error) {
	var ms int64
	err := s.db.QueryRow("SELECT updated_at FROM kv WHERE key = ?", key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, errors.Wrapf(err, "[Store.UpdatedAt] %s", key)
	}
	return time.UnixMilli(ms), true, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
