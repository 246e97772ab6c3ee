// Package expiry arms the warning, proactive-refresh and hard-logout timers that
// run ahead of an access token's expiry.
package expiry

import (
	"math"
	"sync"
	"time"

	"github.com/jrsteele09/go-dashboard-session/internal/config"
	sessionerrors "github.com/jrsteele09/go-dashboard-session/internal/errors"
	"github.com/jrsteele09/go-dashboard-session/timers"
	"github.com/jrsteele09/go-dashboard-session/token/jwt"
	"github.com/rs/zerolog/log"
)

type State int

const (
	// StateIdle means nothing is scheduled.
	StateIdle State = iota
	// StateArmed means warning, refresh and logout timers are pending.
	StateArmed
	// StateFired means the hard-logout deadline has passed.
	StateFired
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateArmed:
		return "ARMED"
	case StateFired:
		return "FIRED"
	default:
		return "UNKNOWN"
	}
}

// Hooks are called from timer goroutines, never with the scheduler lock held.
type Hooks struct {
	OnWarning    func(secondsRemaining int)
	OnRefreshDue func()
	OnExpired    func()
}

type Scheduler struct {
	timers *timers.Scheduler
	config config.ExpiryConfig
	hooks  Hooks

	lock     sync.Mutex
	state    State
	deadline time.Time
}

func New(ts *timers.Scheduler, cfg config.ExpiryConfig, hooks Hooks) *Scheduler {
	return &Scheduler{
		timers: ts,
		config: cfg,
		hooks:  hooks,
	}
}

// Schedule cancels any pending expiry timers and arms new ones for accessToken.
// The token's exp claim wins; expiresIn is the fallback when the claim cannot be
// read. When neither is available the configured fallback lifetime is used and
// ErrNoTokenExpiry is returned, with the timers still armed.
func (s *Scheduler) Schedule(accessToken string, expiresIn time.Duration) error {
	s.Cancel()

	now := s.timers.Clock().Now()
	var scheduleErr error

	expiresAt, ok := jwt.ExpiresAt(accessToken)
	if !ok {
		switch {
		case expiresIn > 0:
			expiresAt = now.Add(expiresIn)
		default:
			fallback := s.config.GetFallbackTokenLifetime()
			log.Error().Dur("fallback", fallback).Msg("Token expiry unknown: no readable exp claim and no expires_in, using fallback lifetime")
			expiresAt = now.Add(fallback)
			scheduleErr = sessionerrors.ErrNoTokenExpiry
		}
	}

	delay := expiresAt.Sub(now) - s.config.GetExpirySafetyMargin()
	if delay <= 0 {
		s.lock.Lock()
		s.state = StateFired
		s.deadline = now
		s.lock.Unlock()

		log.Info().Time("expires_at", expiresAt).Msg("Token already expired, logging out")
		if s.hooks.OnExpired != nil {
			s.hooks.OnExpired()
		}
		return scheduleErr
	}

	s.lock.Lock()
	s.state = StateArmed
	s.deadline = now.Add(delay)
	s.lock.Unlock()

	s.timers.Arm(timers.ExpiryWarning, clampZero(delay-s.config.GetExpiryWarningLead()), s.fireWarning)
	s.timers.Arm(timers.ExpiryRefresh, clampZero(delay-s.config.GetExpiryRefreshLead()), s.fireRefresh)
	s.timers.Arm(timers.ExpiryLogout, delay, s.fireLogout)

	log.Debug().Time("logout_at", now.Add(delay)).Msg("Expiry timers armed")
	return scheduleErr
}

// Cancel clears all expiry timers. Safe to call repeatedly.
func (s *Scheduler) Cancel() {
	s.timers.CancelAll(timers.ExpiryCategories...)

	s.lock.Lock()
	defer s.lock.Unlock()
	if s.state == StateArmed {
		s.state = StateIdle
	}
	s.deadline = time.Time{}
}

func (s *Scheduler) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// Deadline is when the hard-logout timer fires; zero when nothing is armed.
func (s *Scheduler) Deadline() time.Time {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.deadline
}

// Remaining is the time left before the hard-logout deadline.
func (s *Scheduler) Remaining() time.Duration {
	deadline := s.Deadline()
	if deadline.IsZero() {
		return 0
	}
	return clampZero(deadline.Sub(s.timers.Clock().Now()))
}

func (s *Scheduler) fireWarning() {
	seconds := int(math.Ceil(s.Remaining().Seconds()))
	if lead := int(s.config.GetExpiryWarningLead().Seconds()); seconds > lead {
		seconds = lead
	}
	log.Info().Int("seconds_remaining", seconds).Msg("Session expiry warning")
	if s.hooks.OnWarning != nil {
		s.hooks.OnWarning(seconds)
	}
}

func (s *Scheduler) fireRefresh() {
	if s.hooks.OnRefreshDue != nil {
		s.hooks.OnRefreshDue()
	}
}

func (s *Scheduler) fireLogout() {
	s.lock.Lock()
	s.state = StateFired
	s.lock.Unlock()

	log.Info().Msg("Session token expired")
	if s.hooks.OnExpired != nil {
		s.hooks.OnExpired()
	}
}

func clampZero(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
