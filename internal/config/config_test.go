package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jrsteele09/go-dashboard-session/internal/config"
	"github.com/stretchr/testify/require"
)

func TestDefaultTimings(t *testing.T) {
	c, err := config.New()
	require.NoError(t, err)

	require.Equal(t, 14*time.Minute, c.GetIdleWarningAfter())
	require.Equal(t, 15*time.Minute, c.GetIdleLogoutAfter())
	require.Equal(t, 60*time.Second, c.GetIdleCountdown())
	require.Equal(t, 5*time.Second, c.GetExpirySafetyMargin())
	require.Equal(t, 60*time.Second, c.GetExpiryWarningLead())
	require.Equal(t, 120*time.Second, c.GetExpiryRefreshLead())
	require.Equal(t, 15*time.Minute, c.GetRefreshActivityWindow())
	require.Equal(t, 2*time.Minute, c.GetNearExpiryRefreshThreshold())
	require.Equal(t, "admin-activity", c.GetRelayChannel())
}

func TestEnvOverridesTimings(t *testing.T) {
	t.Setenv("IDLE_WARNING_AFTER", "4m")
	t.Setenv("IDLE_LOGOUT_AFTER", "5m")

	c, err := config.New()
	require.NoError(t, err)
	require.Equal(t, 4*time.Minute, c.GetIdleWarningAfter())
	require.Equal(t, 5*time.Minute, c.GetIdleLogoutAfter())
}

func TestTimingsFileOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[idle]
warning_after = "9m"
logout_after = "10m"

[expiry]
fallback_token_lifetime = "30m"
`), 0o600))
	t.Setenv("SESSION_CONFIG_FILE", path)

	c, err := config.New()
	require.NoError(t, err)
	require.Equal(t, 9*time.Minute, c.GetIdleWarningAfter())
	require.Equal(t, 10*time.Minute, c.GetIdleLogoutAfter())
	require.Equal(t, 30*time.Minute, c.GetFallbackTokenLifetime())
	require.Equal(t, 60*time.Second, c.GetIdleCountdown())
}

func TestInvalidTimingsRejected(t *testing.T) {
	t.Setenv("IDLE_WARNING_AFTER", "20m")
	_, err := config.New()
	require.Error(t, err)
}

func TestParseTimingsBadDuration(t *testing.T) {
	_, err := config.ParseTimings(`
[idle]
countdown = "sixty"
`)
	require.ErrorContains(t, err, "idle.countdown")
}

func TestGetPortPrefix(t *testing.T) {
	t.Setenv("PORT", "9090")
	require.Equal(t, ":9090", config.EnvVars{}.GetPort())
}

func TestAllowedOrigins(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test")
	origins := config.Cors{}.GetAllowedOrigins()
	require.True(t, origins.IsAllowedOrigin("http://a.test"))
	require.True(t, origins.IsAllowedOrigin("http://b.test"))
	require.False(t, origins.IsAllowedOrigin("http://c.test"))
	require.Equal(t, "http://a.test, http://b.test", origins.String())
}
