package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	sessionerrors "github.com/jrsteele09/go-dashboard-session/internal/errors"
	"github.com/jrsteele09/go-dashboard-session/storage"
	"github.com/jrsteele09/go-dashboard-session/timers"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// UserSession is the persisted form of an end-user session.
type UserSession struct {
	Email           string    `json:"email"`
	SubscriptionKey string    `json:"subscription_key"`
	AccessToken     string    `json:"access_token"`
	ExpiresAt       time.Time `json:"expires_at"`
}

func (u UserSession) valid() bool {
	return u.Email != "" && u.AccessToken != "" && !u.ExpiresAt.IsZero()
}

type UserSnapshot struct {
	Authenticated bool
	Email         string
	ExpiresAt     time.Time
}

// UserStore is the end-user session. It has a single token with a server
// declared lifetime, survives restarts through durable storage and is never
// refreshed.
type UserStore struct {
	api    UserAPI
	config Config
	opts   options
	timers *timers.Scheduler
	flight singleflight.Group

	background sync.WaitGroup
	teardown   []func()

	lock          sync.Mutex
	authenticated bool
	session       UserSession
}

var _ oauth2.TokenSource = (*UserStore)(nil)

func NewUserStore(api UserAPI, cfg Config, opts ...Option) *UserStore {
	s := &UserStore{
		api:    api,
		config: cfg,
		opts:   newOptions(opts),
	}
	s.timers = timers.New(s.opts.clock)
	if s.opts.notifier != nil {
		s.teardown = append(s.teardown, s.opts.notifier.Subscribe(s.onUnauthorized))
	}
	return s
}

// Login exchanges email and subscription key for a session and persists it.
// Concurrent calls with the same credentials share one exchange.
func (s *UserStore) Login(ctx context.Context, email, subscriptionKey string) (UserSession, error) {
	v, err, _ := s.flight.Do(flightKey("login", email, subscriptionKey), func() (interface{}, error) {
		return s.login(ctx, email, subscriptionKey)
	})
	if err != nil {
		return UserSession{}, err
	}
	return v.(UserSession), nil
}

func (s *UserStore) login(ctx context.Context, email, subscriptionKey string) (UserSession, error) {
	resp, err := s.api.UserLogin(ctx, email, subscriptionKey)
	if err != nil {
		s.opts.metrics.RecordLogin(variantUser, false)
		return UserSession{}, errors.Wrap(err, "[UserStore.Login]")
	}

	lifetime := resp.Lifetime()
	if lifetime <= 0 {
		lifetime = s.config.GetFallbackTokenLifetime()
		log.Error().Dur("fallback", lifetime).Msg("Login response carried no expires_in, using fallback lifetime")
	}
	sess := UserSession{
		Email:           email,
		SubscriptionKey: subscriptionKey,
		AccessToken:     resp.AccessToken,
		ExpiresAt:       s.opts.clock.Now().Add(lifetime).UTC(),
	}
	if resp.UserInfo != nil {
		if resp.UserInfo.Email != "" {
			sess.Email = resp.UserInfo.Email
		}
		if resp.UserInfo.SubscriptionKey != "" {
			sess.SubscriptionKey = resp.UserInfo.SubscriptionKey
		}
	}

	raw, err := json.Marshal(sess)
	if err != nil {
		s.opts.metrics.RecordLogin(variantUser, false)
		return UserSession{}, errors.Wrap(err, "[UserStore.Login] marshal session")
	}
	if err := s.opts.storage.Set(storage.KeyUserSession, string(raw)); err != nil {
		s.opts.metrics.RecordLogin(variantUser, false)
		return UserSession{}, errors.Wrap(err, "[UserStore.Login] store session")
	}

	s.activate(sess)
	s.opts.metrics.RecordLogin(variantUser, true)
	log.Info().Str("email", sess.Email).Time("expires_at", sess.ExpiresAt).Msg("User logged in")
	return sess, nil
}

// RestoreFromStorage brings back a persisted session after the server confirms
// its token. Corrupt, expired or rejected sessions are discarded and reported
// as not restored. When the server cannot be reached the stored session is
// kept for a later attempt and the error is returned.
func (s *UserStore) RestoreFromStorage(ctx context.Context) (bool, error) {
	v, err, _ := s.flight.Do("restore", func() (interface{}, error) {
		return s.restore(ctx)
	})
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

func (s *UserStore) restore(ctx context.Context) (bool, error) {
	if s.IsAuthenticated() {
		return true, nil
	}

	raw, ok, err := s.opts.storage.Get(storage.KeyUserSession)
	if err != nil {
		return false, errors.Wrap(err, "[UserStore.RestoreFromStorage] read session")
	}
	if !ok {
		return false, nil
	}

	var sess UserSession
	if err := json.Unmarshal([]byte(raw), &sess); err != nil || !sess.valid() {
		log.Warn().AnErr("cause", err).Err(sessionerrors.ErrSessionCorrupt).Msg("Discarding stored user session")
		s.discardStored()
		return false, nil
	}
	if !sess.ExpiresAt.After(s.opts.clock.Now()) {
		log.Info().Str("email", sess.Email).Msg("Stored user session expired")
		s.discardStored()
		return false, nil
	}

	if err := s.api.VerifyUserToken(ctx, sess.AccessToken); err != nil {
		if errors.Is(err, sessionerrors.ErrUnauthorized) {
			log.Info().Str("email", sess.Email).Msg("Stored user session rejected by server")
			s.discardStored()
			return false, nil
		}
		return false, errors.Wrap(err, "[UserStore.RestoreFromStorage]")
	}

	s.lock.Lock()
	if s.authenticated {
		s.lock.Unlock()
		return true, nil
	}
	s.lock.Unlock()

	s.activate(sess)
	log.Info().Str("email", sess.Email).Msg("User session restored")
	return true, nil
}

// Logout ends the session and tells the server in the background.
func (s *UserStore) Logout(reason Reason) {
	s.end(reason, "")
}

// onUnauthorized ends the session only when the rejected token is its own.
func (s *UserStore) onUnauthorized(token string) {
	s.end(ReasonUnauthorized, token)
}

func (s *UserStore) end(reason Reason, token string) {
	s.lock.Lock()
	if !s.authenticated || (token != "" && token != s.session.AccessToken) {
		s.lock.Unlock()
		return
	}
	access := s.session.AccessToken
	s.authenticated = false
	s.session = UserSession{}
	s.lock.Unlock()

	s.discardStored()
	s.timers.CancelAll()

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.requestTimeout)
		defer cancel()
		if err := s.api.UserLogout(ctx, access); err != nil {
			log.Warn().Err(err).Msg("User logout notification failed")
		}
	}()

	s.opts.metrics.RecordLogout(variantUser, string(reason))
	log.Info().Str("reason", string(reason)).Msg("User logged out")
	if s.opts.hooks.OnLogout != nil {
		s.opts.hooks.OnLogout(reason)
	}
}

// Dispose releases the store without logging out.
func (s *UserStore) Dispose() {
	s.lock.Lock()
	s.authenticated = false
	teardown := s.teardown
	s.teardown = nil
	s.lock.Unlock()

	s.timers.CancelAll()
	for _, fn := range teardown {
		fn()
	}
	s.background.Wait()
}

func (s *UserStore) Wait() {
	s.background.Wait()
}

func (s *UserStore) IsAuthenticated() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.authenticated
}

func (s *UserStore) Snapshot() UserSnapshot {
	s.lock.Lock()
	defer s.lock.Unlock()
	return UserSnapshot{
		Authenticated: s.authenticated,
		Email:         s.session.Email,
		ExpiresAt:     s.session.ExpiresAt,
	}
}

func (s *UserStore) Token() (*oauth2.Token, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.authenticated {
		return nil, sessionerrors.ErrNotAuthenticated
	}
	return &oauth2.Token{
		AccessToken: s.session.AccessToken,
		TokenType:   "Bearer",
		Expiry:      s.session.ExpiresAt,
	}, nil
}

// activate installs the session and arms the logout at its declared expiry.
func (s *UserStore) activate(sess UserSession) {
	s.lock.Lock()
	s.authenticated = true
	s.session = sess
	s.lock.Unlock()

	s.timers.Arm(timers.ExpiryLogout, sess.ExpiresAt.Sub(s.opts.clock.Now()), func() {
		s.Logout(ReasonExpired)
	})
}

func (s *UserStore) discardStored() {
	if err := s.opts.storage.Delete(storage.KeyUserSession); err != nil {
		log.Err(err).Msg("Failed to clear stored user session")
	}
}
