package session

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/go-dashboard-session/authapi"
	"github.com/jrsteele09/go-dashboard-session/expiry"
	"github.com/jrsteele09/go-dashboard-session/idle"
	sessionerrors "github.com/jrsteele09/go-dashboard-session/internal/errors"
	"github.com/jrsteele09/go-dashboard-session/relay"
	"github.com/jrsteele09/go-dashboard-session/storage"
	"github.com/jrsteele09/go-dashboard-session/timers"
	"github.com/jrsteele09/go-dashboard-session/token/jwt"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

type AdminSnapshot struct {
	Authenticated bool
	ExpiresAt     time.Time
	Expiry        expiry.State
	Idle          idle.Snapshot
}

// AdminStore is the admin session: an access/refresh pair kept in session
// scoped storage, refreshed ahead of expiry while the admin is active.
type AdminStore struct {
	api    AdminAPI
	config Config
	opts   options
	timers *timers.Scheduler
	expiry *expiry.Scheduler
	idle   *idle.Monitor
	flight singleflight.Group

	background sync.WaitGroup
	teardown   []func()

	lock          sync.Mutex
	authenticated bool
	accessToken   string
	refreshToken  string
	expiresAt     time.Time
	generation    uint64
}

var _ oauth2.TokenSource = (*AdminStore)(nil)

func NewAdminStore(api AdminAPI, cfg Config, opts ...Option) *AdminStore {
	s := &AdminStore{
		api:    api,
		config: cfg,
		opts:   newOptions(opts),
	}
	s.timers = timers.New(s.opts.clock)
	s.expiry = expiry.New(s.timers, cfg, expiry.Hooks{
		OnWarning:    s.onExpiryWarning,
		OnRefreshDue: s.onRefreshDue,
		OnExpired:    func() { s.Logout(ReasonExpired) },
	})
	s.idle = idle.New(s.timers, cfg, idle.Hooks{
		OnWarning:      s.onIdleWarning,
		OnCountdown:    s.opts.hooks.OnCountdown,
		OnStaySignedIn: s.onStaySignedIn,
		OnLogout:       s.onIdleLogout,
	}, idle.WithRelay(s.opts.relay), idle.WithTabID(s.opts.tabID))

	if s.opts.notifier != nil {
		s.teardown = append(s.teardown, s.opts.notifier.Subscribe(s.onUnauthorized))
	}
	s.teardown = append(s.teardown, s.opts.relay.Subscribe(func(m relay.Message) {
		if m.Type == relay.TypeActivity && m.Source != s.opts.tabID {
			s.opts.metrics.RecordRelayedActivity()
		}
	}))
	return s
}

func (s *AdminStore) TabID() string {
	return s.opts.tabID
}

// Init restores a session left in storage by an earlier store, the equivalent
// of reloading the page. Unreadable or expired tokens are discarded and the
// store stays logged out.
func (s *AdminStore) Init() error {
	access, ok, err := s.opts.storage.Get(storage.KeyAdminAccessToken)
	if err != nil {
		return errors.Wrap(err, "[AdminStore.Init] read access token")
	}
	if !ok || access == "" {
		return nil
	}
	refresh, _, err := s.opts.storage.Get(storage.KeyAdminRefreshToken)
	if err != nil {
		return errors.Wrap(err, "[AdminStore.Init] read refresh token")
	}

	now := s.opts.clock.Now()
	expiresAt, ok := jwt.ExpiresAt(access)
	if !ok || !expiresAt.After(now.Add(s.config.GetExpirySafetyMargin())) {
		log.Info().Str("tab", s.opts.tabID).Msg("Discarding stored admin session")
		s.clearStorage()
		return nil
	}

	s.lock.Lock()
	s.authenticated = true
	s.accessToken = access
	s.refreshToken = refresh
	s.expiresAt = expiresAt
	s.generation++
	s.lock.Unlock()

	s.idle.Start()
	_ = s.expiry.Schedule(access, 0)
	log.Info().Str("tab", s.opts.tabID).Time("expires_at", expiresAt).Msg("Admin session restored")
	return nil
}

// Login exchanges the admin token for a token pair. On failure the current
// state is left untouched. Concurrent calls with the same admin token share one
// exchange.
func (s *AdminStore) Login(ctx context.Context, adminToken string) error {
	_, err, _ := s.flight.Do(flightKey("login", adminToken), func() (interface{}, error) {
		return nil, s.login(ctx, adminToken)
	})
	return err
}

func (s *AdminStore) login(ctx context.Context, adminToken string) error {
	resp, err := s.api.AdminLogin(ctx, adminToken)
	if err != nil {
		s.opts.metrics.RecordLogin(variantAdmin, false)
		return errors.Wrap(err, "[AdminStore.Login]")
	}

	if err := s.persist(resp.AccessToken, resp.RefreshToken); err != nil {
		s.opts.metrics.RecordLogin(variantAdmin, false)
		return errors.Wrap(err, "[AdminStore.Login]")
	}

	s.lock.Lock()
	s.authenticated = true
	s.accessToken = resp.AccessToken
	s.refreshToken = resp.RefreshToken
	s.expiresAt = s.tokenExpiry(resp)
	s.generation++
	gen := s.generation
	s.lock.Unlock()

	s.idle.Start()
	_ = s.expiry.Schedule(resp.AccessToken, resp.Lifetime())
	s.opts.metrics.RecordLogin(variantAdmin, true)

	if !s.isGeneration(gen) {
		return errors.Wrap(sessionerrors.ErrTokenExpired, "[AdminStore.Login]")
	}
	log.Info().Str("tab", s.opts.tabID).Msg("Admin logged in")
	return nil
}

// Refresh swaps the cached refresh token for a new pair and re-arms the expiry
// timers. Idle tracking is unaffected. A failure leaves the session as it was.
func (s *AdminStore) Refresh(ctx context.Context) error {
	_, err, _ := s.flight.Do("refresh", func() (interface{}, error) {
		return nil, s.refresh(ctx)
	})
	return err
}

func (s *AdminStore) refresh(ctx context.Context) error {
	s.lock.Lock()
	if !s.authenticated {
		s.lock.Unlock()
		return errors.Wrap(sessionerrors.ErrNotAuthenticated, "[AdminStore.Refresh]")
	}
	refreshToken := s.refreshToken
	gen := s.generation
	s.lock.Unlock()

	if refreshToken == "" {
		return errors.Wrap(sessionerrors.ErrNoRefreshToken, "[AdminStore.Refresh]")
	}

	resp, err := s.api.Refresh(ctx, refreshToken)
	if err != nil {
		s.opts.metrics.RecordRefresh(false)
		return errors.Wrap(err, "[AdminStore.Refresh]")
	}
	if resp.RefreshToken == "" {
		resp.RefreshToken = refreshToken
	}

	s.lock.Lock()
	if !s.authenticated || s.generation != gen {
		s.lock.Unlock()
		return errors.Wrap(sessionerrors.ErrNotAuthenticated, "[AdminStore.Refresh] session ended during refresh")
	}
	s.accessToken = resp.AccessToken
	s.refreshToken = resp.RefreshToken
	s.expiresAt = s.tokenExpiry(resp)
	s.lock.Unlock()

	if err := s.persist(resp.AccessToken, resp.RefreshToken); err != nil {
		log.Err(err).Str("tab", s.opts.tabID).Msg("Failed to store refreshed tokens")
	}
	_ = s.expiry.Schedule(resp.AccessToken, resp.Lifetime())
	s.opts.metrics.RecordRefresh(true)
	log.Debug().Str("tab", s.opts.tabID).Msg("Admin token refreshed")
	return nil
}

// Logout ends the session: storage is cleared, every timer is cancelled and
// the tokens are revoked in the background. Only the first call for a session
// has any effect.
func (s *AdminStore) Logout(reason Reason) {
	s.end(reason, "")
}

// onUnauthorized logs out only when the rejected token is the session's
// current access token. 401s for other sessions or for tokens this store has
// already replaced are ignored.
func (s *AdminStore) onUnauthorized(token string) {
	s.end(ReasonUnauthorized, token)
}

// end tears the session down. A non-empty token restricts it to the session
// holding that access token.
func (s *AdminStore) end(reason Reason, token string) {
	s.lock.Lock()
	if !s.authenticated || (token != "" && token != s.accessToken) {
		s.lock.Unlock()
		return
	}
	access, refresh := s.accessToken, s.refreshToken
	s.authenticated = false
	s.accessToken = ""
	s.refreshToken = ""
	s.expiresAt = time.Time{}
	s.generation++
	s.lock.Unlock()

	s.clearStorage()
	s.expiry.Cancel()
	s.idle.Stop()
	s.timers.CancelAll()
	s.revoke(access, refresh)

	s.opts.metrics.RecordLogout(variantAdmin, string(reason))
	log.Info().Str("tab", s.opts.tabID).Str("reason", string(reason)).Msg("Admin logged out")
	if s.opts.hooks.OnLogout != nil {
		s.opts.hooks.OnLogout(reason)
	}
}

// Dispose releases the store without logging out; stored tokens stay for a
// later Init.
func (s *AdminStore) Dispose() {
	s.lock.Lock()
	s.authenticated = false
	s.generation++
	teardown := s.teardown
	s.teardown = nil
	s.lock.Unlock()

	s.expiry.Cancel()
	s.idle.Stop()
	s.timers.CancelAll()
	for _, fn := range teardown {
		fn()
	}
	s.background.Wait()
}

// Wait blocks until background refreshes and revocations have finished.
func (s *AdminStore) Wait() {
	s.background.Wait()
}

// Observe records a user interaction with this dashboard.
func (s *AdminStore) Observe(event idle.Event) {
	s.idle.Observe(event)
}

// StaySignedIn answers the idle warning. A token close to expiry is refreshed
// in the background.
func (s *AdminStore) StaySignedIn() {
	s.idle.StaySignedIn()
}

// LogOutFromWarning answers the idle warning with "log out".
func (s *AdminStore) LogOutFromWarning() {
	s.idle.LogOut()
}

func (s *AdminStore) IsAuthenticated() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.authenticated
}

func (s *AdminStore) Snapshot() AdminSnapshot {
	s.lock.Lock()
	snap := AdminSnapshot{
		Authenticated: s.authenticated,
		ExpiresAt:     s.expiresAt,
	}
	s.lock.Unlock()

	snap.Expiry = s.expiry.State()
	snap.Idle = s.idle.Snapshot()
	return snap
}

// Token returns the current access token for use as a bearer credential.
func (s *AdminStore) Token() (*oauth2.Token, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.authenticated {
		return nil, sessionerrors.ErrNotAuthenticated
	}
	return &oauth2.Token{
		AccessToken:  s.accessToken,
		TokenType:    "Bearer",
		RefreshToken: s.refreshToken,
		Expiry:       s.expiresAt,
	}, nil
}

func (s *AdminStore) onExpiryWarning(seconds int) {
	s.opts.metrics.RecordExpiryWarning()
	if s.opts.hooks.OnExpiryWarning != nil {
		s.opts.hooks.OnExpiryWarning(seconds)
	}
}

// onRefreshDue refreshes silently only for an admin who has been active
// recently; an absent admin is left to expire.
func (s *AdminStore) onRefreshDue() {
	if !s.idle.ActiveWithin(s.config.GetRefreshActivityWindow()) {
		log.Debug().Str("tab", s.opts.tabID).Msg("Skipping proactive refresh, admin inactive")
		return
	}
	s.lock.Lock()
	hasRefresh := s.authenticated && s.refreshToken != ""
	s.lock.Unlock()
	if !hasRefresh {
		return
	}
	s.refreshQuietly()
}

func (s *AdminStore) onIdleWarning(seconds int) {
	s.opts.metrics.RecordIdleWarning()
	if s.opts.hooks.OnIdleWarning != nil {
		s.opts.hooks.OnIdleWarning(seconds)
	}
}

func (s *AdminStore) onStaySignedIn() {
	s.lock.Lock()
	nearExpiry := s.authenticated && s.refreshToken != "" &&
		s.expiresAt.Sub(s.opts.clock.Now()) <= s.config.GetNearExpiryRefreshThreshold()
	s.lock.Unlock()
	if !nearExpiry {
		return
	}

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		s.refreshQuietly()
	}()
}

func (s *AdminStore) onIdleLogout(reason idle.LogoutReason) {
	if reason == idle.LogoutUserChoice {
		s.Logout(ReasonUser)
		return
	}
	s.Logout(ReasonIdle)
}

func (s *AdminStore) refreshQuietly() {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.requestTimeout)
	defer cancel()
	if err := s.Refresh(ctx); err != nil {
		log.Warn().Err(err).Str("tab", s.opts.tabID).Msg("Background token refresh failed")
	}
}

func (s *AdminStore) revoke(access, refresh string) {
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.requestTimeout)
		defer cancel()
		if err := s.api.RevokeAdmin(ctx, access, refresh); err != nil {
			log.Warn().Err(err).Str("tab", s.opts.tabID).Msg("Token revocation failed")
		}
	}()
}

// persist writes the token pair. When the second write fails the access token
// is put back to what was stored before, so storage never holds a mixed pair
// from two sessions.
func (s *AdminStore) persist(access, refresh string) error {
	prior, hadPrior, err := s.opts.storage.Get(storage.KeyAdminAccessToken)
	if err != nil {
		return errors.Wrap(err, "read stored access token")
	}
	if err := s.opts.storage.Set(storage.KeyAdminAccessToken, access); err != nil {
		return errors.Wrap(err, "store access token")
	}
	if err := s.opts.storage.Set(storage.KeyAdminRefreshToken, refresh); err != nil {
		if hadPrior {
			_ = s.opts.storage.Set(storage.KeyAdminAccessToken, prior)
		} else {
			_ = s.opts.storage.Delete(storage.KeyAdminAccessToken)
		}
		return errors.Wrap(err, "store refresh token")
	}
	return nil
}

func (s *AdminStore) clearStorage() {
	for _, key := range []string{storage.KeyAdminAccessToken, storage.KeyAdminRefreshToken} {
		if err := s.opts.storage.Delete(key); err != nil {
			log.Err(err).Str("key", key).Msg("Failed to clear stored token")
		}
	}
}

func (s *AdminStore) isGeneration(gen uint64) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.authenticated && s.generation == gen
}

// tokenExpiry prefers the exp claim over the declared lifetime.
func (s *AdminStore) tokenExpiry(resp *authapi.TokenResponse) time.Time {
	if at, ok := jwt.ExpiresAt(resp.AccessToken); ok {
		return at
	}
	now := s.opts.clock.Now()
	if resp.ExpiresIn > 0 {
		return now.Add(resp.Lifetime())
	}
	return now.Add(s.config.GetFallbackTokenLifetime())
}
