package config

import "path/filepath"

type RelayConfig interface {
	GetRelayChannel() string
	GetRelayDir() string
}

type Relay struct{}

var _ RelayConfig = Relay{}

func (Relay) GetRelayChannel() string {
	return GetEnv("RELAY_CHANNEL", "admin-activity")
}

// GetRelayDir is the directory shared by every process taking part in activity relaying
func (Relay) GetRelayDir() string {
	return GetEnv("RELAY_DIR", filepath.Join(EnvVars{}.GetDataFolder(), "relay"))
}
