package session_test

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-dashboard-session/authapi"
	"github.com/jrsteele09/go-dashboard-session/expiry"
	"github.com/jrsteele09/go-dashboard-session/idle"
	"github.com/jrsteele09/go-dashboard-session/internal/clock/clockfake"
	"github.com/jrsteele09/go-dashboard-session/internal/config"
	sessionerrors "github.com/jrsteele09/go-dashboard-session/internal/errors"
	"github.com/jrsteele09/go-dashboard-session/relay"
	"github.com/jrsteele09/go-dashboard-session/session"
	"github.com/jrsteele09/go-dashboard-session/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type adminFixture struct {
	clock   *clockfake.Clock
	api     *fakeAdminAPI
	storage *storage.Memory
	events  *logoutRecorder
	store   *session.AdminStore
}

func setupAdmin(t *testing.T, lifetime time.Duration, timings config.Timings, opts ...session.Option) *adminFixture {
	t.Helper()
	return setupAdminOn(t, clockfake.New(epoch), lifetime, timings, opts...)
}

func setupAdminOn(t *testing.T, c *clockfake.Clock, lifetime time.Duration, timings config.Timings, opts ...session.Option) *adminFixture {
	t.Helper()

	f := &adminFixture{
		clock:   c,
		api:     newFakeAdminAPI(c, lifetime),
		storage: storage.NewMemory(),
		events:  &logoutRecorder{},
	}
	opts = append([]session.Option{
		session.WithClock(f.clock),
		session.WithStorage(f.storage),
		session.WithHooks(f.events.hooks()),
	}, opts...)
	f.store = session.NewAdminStore(f.api, config.NewSession(timings), opts...)
	t.Cleanup(f.store.Dispose)
	return f
}

func (f *adminFixture) login(t *testing.T) {
	t.Helper()
	require.NoError(t, f.store.Login(helperContext(t), "admin-token"))
}

func (f *adminFixture) stored(t *testing.T, key string) (string, bool) {
	t.Helper()
	v, ok, err := f.storage.Get(key)
	require.NoError(t, err)
	return v, ok
}

func TestAdminLoginArmsTimersAndPersistsTokens(t *testing.T) {
	f := setupAdmin(t, time.Hour, config.Timings{})
	f.login(t)

	snap := f.store.Snapshot()
	require.True(t, snap.Authenticated)
	require.True(t, epoch.Add(time.Hour).Equal(snap.ExpiresAt))
	require.Equal(t, expiry.StateArmed, snap.Expiry)
	require.Equal(t, idle.StateActive, snap.Idle.State)

	access, ok := f.stored(t, storage.KeyAdminAccessToken)
	require.True(t, ok)
	require.NotEmpty(t, access)
	refresh, ok := f.stored(t, storage.KeyAdminRefreshToken)
	require.True(t, ok)
	require.Equal(t, "refresh-1", refresh)

	token, err := f.store.Token()
	require.NoError(t, err)
	require.Equal(t, access, token.AccessToken)
	require.Equal(t, "Bearer", token.TokenType)
}

func TestAdminLoginFailureLeavesSessionUntouched(t *testing.T) {
	f := setupAdmin(t, time.Hour, config.Timings{})
	f.login(t)
	before, _ := f.store.Token()

	f.api.lock.Lock()
	f.api.loginErr = sessionerrors.ErrInvalidCredentials
	f.api.lock.Unlock()

	err := f.store.Login(helperContext(t), "wrong")
	require.ErrorIs(t, err, sessionerrors.ErrInvalidCredentials)

	after, err := f.store.Token()
	require.NoError(t, err)
	require.Equal(t, before.AccessToken, after.AccessToken)
	require.True(t, f.store.IsAuthenticated())
}

func TestAdminLoginFailureFromLoggedOut(t *testing.T) {
	f := setupAdmin(t, time.Hour, config.Timings{})
	f.api.loginErr = sessionerrors.ErrInvalidCredentials

	require.Error(t, f.store.Login(helperContext(t), "wrong"))
	require.False(t, f.store.IsAuthenticated())
	_, ok := f.stored(t, storage.KeyAdminAccessToken)
	require.False(t, ok)
	_, err := f.store.Token()
	require.ErrorIs(t, err, sessionerrors.ErrNotAuthenticated)
}

func TestConcurrentLoginsShareOneExchange(t *testing.T) {
	f := setupAdmin(t, time.Hour, config.Timings{})
	f.api.entered = make(chan struct{}, 2)
	f.api.release = make(chan struct{})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = f.store.Login(helperContext(t), "admin-token")
	}()
	<-f.api.entered

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[1] = f.store.Login(helperContext(t), "admin-token")
	}()
	time.Sleep(50 * time.Millisecond)
	close(f.api.release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	logins, _, _ := f.api.counts()
	require.Equal(t, 1, logins)
}

func TestProactiveRefreshWhileActive(t *testing.T) {
	f := setupAdmin(t, time.Hour, config.Timings{})
	f.login(t)
	first, _ := f.store.Token()

	for i := 0; i < 5; i++ {
		f.clock.Advance(10 * time.Minute)
		f.store.Observe(idle.Click)
	}
	f.clock.Advance(7*time.Minute + 55*time.Second)

	_, refreshes, _ := f.api.counts()
	require.Equal(t, 1, refreshes)

	second, err := f.store.Token()
	require.NoError(t, err)
	require.NotEqual(t, first.AccessToken, second.AccessToken)
	require.Equal(t, "refresh-2", second.RefreshToken)
	require.True(t, f.clock.Now().Add(time.Hour).Equal(second.Expiry))

	stored, _ := f.stored(t, storage.KeyAdminAccessToken)
	require.Equal(t, second.AccessToken, stored)

	// the old deadline has been discarded
	f.clock.Advance(5 * time.Minute)
	require.True(t, f.store.IsAuthenticated())
	require.Empty(t, f.events.logouts())
}

func TestProactiveRefreshSkippedWhenInactive(t *testing.T) {
	f := setupAdmin(t, 10*time.Minute, config.Timings{RefreshActivityWindow: 5 * time.Minute})
	f.login(t)

	f.clock.Advance(7*time.Minute + 55*time.Second)
	_, refreshes, _ := f.api.counts()
	require.Zero(t, refreshes)

	f.clock.Advance(2 * time.Minute)
	require.Equal(t, []session.Reason{session.ReasonExpired}, f.events.logouts())
}

func TestRefreshFailureKeepsSession(t *testing.T) {
	f := setupAdmin(t, time.Hour, config.Timings{})
	f.login(t)
	before, _ := f.store.Token()
	f.api.setRefreshErr(sessionerrors.ErrInvalidRefreshToken)

	err := f.store.Refresh(helperContext(t))
	require.ErrorIs(t, err, sessionerrors.ErrInvalidRefreshToken)

	after, err := f.store.Token()
	require.NoError(t, err)
	require.Equal(t, before.AccessToken, after.AccessToken)
	require.Equal(t, expiry.StateArmed, f.store.Snapshot().Expiry)
}

func TestRefreshRequiresCachedRefreshToken(t *testing.T) {
	f := setupAdmin(t, time.Hour, config.Timings{})
	f.api.noRefresh = true
	f.login(t)

	require.ErrorIs(t, f.store.Refresh(helperContext(t)), sessionerrors.ErrNoRefreshToken)
}

func TestRefreshWhenLoggedOut(t *testing.T) {
	f := setupAdmin(t, time.Hour, config.Timings{})
	require.ErrorIs(t, f.store.Refresh(helperContext(t)), sessionerrors.ErrNotAuthenticated)
}

func TestFailedSilentRefreshDegradesToExpiry(t *testing.T) {
	f := setupAdmin(t, 10*time.Minute, config.Timings{})
	f.login(t)
	access, _ := f.store.Token()
	f.api.setRefreshErr(requestFailed())

	f.clock.Advance(7*time.Minute + 55*time.Second)
	require.True(t, f.store.IsAuthenticated())

	f.clock.Advance(2 * time.Minute)
	require.Equal(t, []session.Reason{session.ReasonExpired}, f.events.logouts())
	require.Equal(t, []int{60}, f.events.expiry)
	require.False(t, f.store.IsAuthenticated())

	_, ok := f.stored(t, storage.KeyAdminAccessToken)
	require.False(t, ok)
	_, ok = f.stored(t, storage.KeyAdminRefreshToken)
	require.False(t, ok)

	f.store.Wait()
	_, _, revoked := f.api.counts()
	require.Equal(t, []string{access.AccessToken}, revoked)
}

func TestIdleLogoutClearsEveryTimer(t *testing.T) {
	f := setupAdmin(t, time.Hour, config.Timings{})
	f.login(t)

	f.clock.Advance(14 * time.Minute)
	require.Equal(t, []int{60}, f.events.idle)
	require.True(t, f.store.Snapshot().Idle.WarningVisible)

	f.clock.Advance(time.Minute)
	require.Equal(t, []session.Reason{session.ReasonIdle}, f.events.logouts())
	require.Zero(t, f.clock.Pending())

	snap := f.store.Snapshot()
	require.False(t, snap.Authenticated)
	require.Equal(t, idle.StateLoggedOut, snap.Idle.State)
	require.NotEqual(t, expiry.StateArmed, snap.Expiry)
}

func TestLogOutFromWarning(t *testing.T) {
	f := setupAdmin(t, time.Hour, config.Timings{})
	f.login(t)

	f.clock.Advance(14 * time.Minute)
	f.store.LogOutFromWarning()
	require.Equal(t, []session.Reason{session.ReasonUser}, f.events.logouts())
	require.Zero(t, f.clock.Pending())
}

func TestStaySignedInRefreshesNearExpiry(t *testing.T) {
	f := setupAdmin(t, 15*time.Minute, config.Timings{})
	f.login(t)
	f.api.setRefreshErr(requestFailed())

	// proactive refresh at 12:55 fails, leaving the token one minute from expiry
	f.clock.Advance(14 * time.Minute)
	require.True(t, f.store.Snapshot().Idle.WarningVisible)

	f.api.setRefreshErr(nil)
	f.store.StaySignedIn()
	f.store.Wait()

	_, refreshes, _ := f.api.counts()
	require.Equal(t, 2, refreshes)
	require.False(t, f.store.Snapshot().Idle.WarningVisible)

	f.clock.Advance(2 * time.Minute)
	require.True(t, f.store.IsAuthenticated())
	require.Empty(t, f.events.logouts())
}

func TestStaySignedInFarFromExpiryDoesNotRefresh(t *testing.T) {
	f := setupAdmin(t, time.Hour, config.Timings{})
	f.login(t)

	f.clock.Advance(14*time.Minute + 30*time.Second)
	f.store.StaySignedIn()
	f.store.Wait()

	_, refreshes, _ := f.api.counts()
	require.Zero(t, refreshes)
	require.Equal(t, idle.StateActive, f.store.Snapshot().Idle.State)
}

func TestUnauthorizedEventLogsOut(t *testing.T) {
	notifier := authapi.NewUnauthorizedNotifier()
	f := setupAdmin(t, time.Hour, config.Timings{}, session.WithUnauthorizedNotifier(notifier))
	f.login(t)

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer api.Close()

	client := authapi.New(api.URL, authapi.WithNotifier(notifier)).Authenticated(f.store)
	resp, err := client.Get(api.URL + "/api/stats")
	require.NoError(t, err)
	resp.Body.Close()

	require.Equal(t, []session.Reason{session.ReasonUnauthorized}, f.events.logouts())
	require.False(t, f.store.IsAuthenticated())
	require.Zero(t, f.clock.Pending())
}

func TestLogoutNotifiesOnce(t *testing.T) {
	f := setupAdmin(t, time.Hour, config.Timings{})
	f.login(t)

	f.store.Logout(session.ReasonUser)
	f.store.Logout(session.ReasonUser)
	f.store.Wait()

	require.Equal(t, []session.Reason{session.ReasonUser}, f.events.logouts())
	_, _, revoked := f.api.counts()
	require.Len(t, revoked, 1)
}

func TestFreshLoginAfterLogoutReentersActive(t *testing.T) {
	f := setupAdmin(t, time.Hour, config.Timings{})
	f.login(t)
	f.clock.Advance(15 * time.Minute)
	require.False(t, f.store.IsAuthenticated())

	f.login(t)
	snap := f.store.Snapshot()
	require.True(t, snap.Authenticated)
	require.Equal(t, idle.StateActive, snap.Idle.State)
	require.Equal(t, expiry.StateArmed, snap.Expiry)
}

func TestInitRestoresFromSessionStorage(t *testing.T) {
	f := setupAdmin(t, time.Hour, config.Timings{})
	f.login(t)
	token, _ := f.store.Token()
	f.store.Dispose()

	f.clock.Advance(10 * time.Minute)
	reloaded := session.NewAdminStore(f.api, config.NewSession(config.Timings{}),
		session.WithClock(f.clock), session.WithStorage(f.storage))
	t.Cleanup(reloaded.Dispose)
	require.NoError(t, reloaded.Init())

	snap := reloaded.Snapshot()
	require.True(t, snap.Authenticated)
	require.True(t, token.Expiry.Equal(snap.ExpiresAt))
	require.Equal(t, expiry.StateArmed, snap.Expiry)
	require.Equal(t, idle.StateActive, snap.Idle.State)
}

func TestInitDiscardsUnreadableToken(t *testing.T) {
	f := setupAdmin(t, time.Hour, config.Timings{})
	require.NoError(t, f.storage.Set(storage.KeyAdminAccessToken, "not-a-jwt"))
	require.NoError(t, f.storage.Set(storage.KeyAdminRefreshToken, "refresh"))

	require.NoError(t, f.store.Init())
	require.False(t, f.store.IsAuthenticated())
	_, ok := f.stored(t, storage.KeyAdminAccessToken)
	require.False(t, ok)
	_, ok = f.stored(t, storage.KeyAdminRefreshToken)
	require.False(t, ok)
}

func TestInitWithEmptyStorage(t *testing.T) {
	f := setupAdmin(t, time.Hour, config.Timings{})
	require.NoError(t, f.store.Init())
	require.False(t, f.store.IsAuthenticated())
	require.Zero(t, f.clock.Pending())
}

func TestCrossTabActivityKeepsSiblingAlive(t *testing.T) {
	c := clockfake.New(epoch)
	hub := relay.NewHub()
	recorderB := newCountingRecorder()
	tabA := setupAdminOn(t, c, time.Hour, config.Timings{},
		session.WithRelay(hub.Channel("admin-activity")), session.WithTabID("tab-a"))
	tabB := setupAdminOn(t, c, time.Hour, config.Timings{},
		session.WithRelay(hub.Channel("admin-activity")), session.WithTabID("tab-b"), session.WithMetrics(recorderB))

	tabA.login(t)
	tabB.login(t)

	c.Advance(10 * time.Minute)
	tabA.store.Observe(idle.KeyPress)
	require.Equal(t, 1, recorderB.relayed)
	require.True(t, tabA.store.Snapshot().Idle.LastActivity.Equal(tabB.store.Snapshot().Idle.LastActivity))

	c.Advance(10 * time.Minute)
	require.True(t, tabB.store.IsAuthenticated())
	require.Empty(t, tabB.events.logouts())

	c.Advance(5 * time.Minute)
	require.Equal(t, []session.Reason{session.ReasonIdle}, tabA.events.logouts())
	require.Equal(t, []session.Reason{session.ReasonIdle}, tabB.events.logouts())
}

func TestConcurrentLoginsWithDifferentTokensDoNotJoin(t *testing.T) {
	f := setupAdmin(t, time.Hour, config.Timings{})
	f.api.validToken = "admin-token"
	f.api.entered = make(chan struct{}, 2)
	f.api.release = make(chan struct{})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, token := range []string{"admin-token", "guess"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = f.store.Login(helperContext(t), token)
		}()
		<-f.api.entered
	}
	close(f.api.release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.ErrorIs(t, errs[1], sessionerrors.ErrInvalidCredentials)
	logins, _, _ := f.api.counts()
	require.Equal(t, 2, logins)
	require.True(t, f.store.IsAuthenticated())
}

// failingStorage rejects writes to one key and otherwise behaves as Memory.
type failingStorage struct {
	*storage.Memory

	lock    sync.Mutex
	failKey string
}

func (s *failingStorage) Set(key, value string) error {
	s.lock.Lock()
	failKey := s.failKey
	s.lock.Unlock()
	if key == failKey {
		return errors.New("disk full")
	}
	return s.Memory.Set(key, value)
}

func (s *failingStorage) failWritesTo(key string) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.failKey = key
}

func TestLoginStorageFailureKeepsStoredSession(t *testing.T) {
	store := &failingStorage{Memory: storage.NewMemory()}
	f := setupAdmin(t, time.Hour, config.Timings{}, session.WithStorage(store))
	f.login(t)

	before, ok, err := store.Get(storage.KeyAdminAccessToken)
	require.NoError(t, err)
	require.True(t, ok)

	store.failWritesTo(storage.KeyAdminRefreshToken)
	err = f.store.Login(helperContext(t), "admin-token")
	require.Error(t, err)

	after, ok, err := store.Get(storage.KeyAdminAccessToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, before, after)
	require.True(t, f.store.IsAuthenticated())
	tok, err := f.store.Token()
	require.NoError(t, err)
	require.Equal(t, before, tok.AccessToken)
}

func TestLoginStorageFailureWithNothingStored(t *testing.T) {
	store := &failingStorage{Memory: storage.NewMemory()}
	store.failWritesTo(storage.KeyAdminRefreshToken)
	f := setupAdmin(t, time.Hour, config.Timings{}, session.WithStorage(store))

	require.Error(t, f.store.Login(helperContext(t), "admin-token"))
	_, ok, err := store.Get(storage.KeyAdminAccessToken)
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, f.store.IsAuthenticated())
}
