package token_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/go-dashboard-session/token"
	"github.com/stretchr/testify/require"
)

func TestRevokedTokenCache(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	cache := token.NewInMemoryRevokedTokenCache(func() time.Time { return now })

	require.NoError(t, cache.Add("jti-1", now.Add(time.Minute)))
	require.NoError(t, cache.Add("jti-2", now.Add(time.Hour)))
	require.True(t, cache.IsRevoked("jti-1"))
	require.False(t, cache.IsRevoked("jti-3"))

	now = now.Add(2 * time.Minute)
	cache.Cleanup()
	require.False(t, cache.IsRevoked("jti-1"))
	require.True(t, cache.IsRevoked("jti-2"))
}
