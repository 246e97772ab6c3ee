package users_test

import (
	"testing"
	"time"

	sessionerrors "github.com/jrsteele09/go-dashboard-session/internal/errors"
	"github.com/jrsteele09/go-dashboard-session/users"
	fakeuserrepo "github.com/jrsteele09/go-dashboard-session/users/repofake"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionKeyIsHashed(t *testing.T) {
	u, err := users.NewUser(" Ada@Example.com ", "sub-key-123", time.Now())
	require.NoError(t, err)
	require.Equal(t, "ada@example.com", u.Email)
	require.NotEqual(t, "sub-key-123", u.SubscriptionKeyHash)
	require.True(t, u.CheckSubscriptionKey("sub-key-123"))
	require.False(t, u.CheckSubscriptionKey("sub-key-124"))
}

func TestFakeRepoLooksUpByNormalisedEmail(t *testing.T) {
	repo := fakeuserrepo.NewFakeUserRepo()
	u, err := users.NewUser("ada@example.com", "key", time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Upsert(u))
	require.NotEmpty(t, u.ID)

	got, err := repo.GetByEmail("ADA@example.com")
	require.NoError(t, err)
	require.Equal(t, u.ID, got.ID)

	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SetLastLogin("ada@example.com", at))
	require.NoError(t, repo.SetBlocked("ada@example.com", true))
	got, err = repo.GetByID(u.ID)
	require.NoError(t, err)
	require.Equal(t, at, got.LastLogin)
	require.True(t, got.Blocked)

	require.NoError(t, repo.Delete("ada@example.com"))
	_, err = repo.GetByEmail("ada@example.com")
	require.ErrorIs(t, err, sessionerrors.ErrNotFound)
}
