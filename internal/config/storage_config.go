package config

import "path/filepath"

type StorageConfig interface {
	GetDurableStorePath() string
}

type Storage struct{}

var _ StorageConfig = Storage{}

// GetDurableStorePath is the sqlite file backing the user session store
func (Storage) GetDurableStorePath() string {
	return GetEnv("DURABLE_STORE_PATH", filepath.Join(EnvVars{}.GetDataFolder(), "sessions.db"))
}
