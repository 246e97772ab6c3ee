package config

import "time"

type APIConfig interface {
	GetAPIBaseURL() string
	GetAPITimeout() time.Duration
	GetAdminToken() string
}

type API struct{}

var _ APIConfig = API{}

// GetAPIBaseURL returns the base URL of the remote Auth API (e.g., "https://api.example.com")
func (API) GetAPIBaseURL() string {
	return GetEnv("API_BASE_URL", "http://localhost:8080")
}

func (API) GetAPITimeout() time.Duration {
	return GetEnvDuration("API_TIMEOUT", 15*time.Second)
}

// GetAdminToken returns the admin credential exchanged at login by the headless agent
func (API) GetAdminToken() string {
	return GetEnv("ADMIN_TOKEN", "")
}
