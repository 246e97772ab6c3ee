package config

import (
	"github.com/pkg/errors"
)

const sessionConfigFileVar = "SESSION_CONFIG_FILE"

type Config interface {
	EnvConfig
	APIConfig
	CorsConfig
	TokenConfig
	IdleConfig
	ExpiryConfig
	RelayConfig
	StorageConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetDataFolder() string
	GetEnv() string
	GetLogFile() string
	GetMetricsAddr() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	API
	Cors
	Token
	Session
	Relay
	Storage
}

// New builds the configuration from environment variables. Session timings may
// additionally be overridden by a TOML file named in SESSION_CONFIG_FILE.
func New() (Config, error) {
	timings := DefaultTimings()
	if path := GetEnv(sessionConfigFileVar, ""); path != "" {
		fileTimings, err := LoadTimingsFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "[config.New] LoadTimingsFile")
		}
		timings = timings.Merge(fileTimings)
	}
	timings = timings.Merge(timingsFromEnv())
	if err := timings.Validate(); err != nil {
		return nil, errors.Wrap(err, "[config.New] invalid session timings")
	}
	return mainConfig{Session: Session{timings: timings}}, nil
}
