// Package storage persists session tokens between reloads of a dashboard session.
package storage

import (
	"sync"
)

// Keys written by the session stores.
const (
	KeyAdminAccessToken  = "admin_access_token"
	KeyAdminRefreshToken = "admin_refresh_token"
	KeyUserSession       = "user_session"
)

// Storage is a string key/value store. Get reports false for a missing key.
type Storage interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
	Delete(key string) error
	Close() error
}

// Memory lives only as long as the process, the equivalent of a browser tab's
// session storage.
type Memory struct {
	lock   sync.RWMutex
	values map[string]string
}

var _ Storage = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, bool, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *Memory) Set(key, value string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.values[key] = value
	return nil
}

func (m *Memory) Delete(key string) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	delete(m.values, key)
	return nil
}

// Close drops every value.
func (m *Memory) Close() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.values = make(map[string]string)
	return nil
}
