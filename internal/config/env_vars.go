package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	portEnvVar        = "PORT"
	appNameVar        = "APP_NAME"
	folderEnvVar      = "FOLDER"
	logFileEnvVar     = "LOG_FILE"
	metricsAddrEnvVar = "METRICS_ADDR"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8080")
	if !strings.HasPrefix(port, ":") {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Dashboard Session")
}

func (EnvVars) GetDataFolder() string {
	return GetEnv(folderEnvVar, "./data")
}

// GetLogFile returns the path of the rotating log file, empty when logging to the console only
func (EnvVars) GetLogFile() string {
	return GetEnv(logFileEnvVar, "")
}

// GetMetricsAddr returns the listen address for the prometheus endpoint, empty to disable it
func (EnvVars) GetMetricsAddr() string {
	return GetEnv(metricsAddrEnvVar, "")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetEnvDuration parses a Go duration string ("90s", "15m") from the environment,
// returning defaultValue when the variable is unset or malformed.
func GetEnvDuration(envVar string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}
