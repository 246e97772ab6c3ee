// Package idle logs a session out after a period without user interaction,
// showing a countdown warning shortly before it does.
package idle

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jrsteele09/go-dashboard-session/internal/config"
	"github.com/jrsteele09/go-dashboard-session/relay"
	"github.com/jrsteele09/go-dashboard-session/timers"
	"github.com/rs/zerolog/log"
)

// CountdownTick is how often the visible countdown decrements.
const CountdownTick = time.Second

type State int

const (
	StateActive State = iota
	StateWarning
	StateLoggedOut
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StateWarning:
		return "WARNING"
	case StateLoggedOut:
		return "LOGGED_OUT"
	default:
		return "UNKNOWN"
	}
}

// Event is a user interaction that counts as activity.
type Event string

const (
	PointerMove      Event = "pointermove"
	KeyPress         Event = "keypress"
	Click            Event = "click"
	Scroll           Event = "scroll"
	TouchStart       Event = "touchstart"
	VisibilityChange Event = "visibilitychange"
)

// Qualifies reports whether the event resets the idle timers.
func (e Event) Qualifies() bool {
	switch e {
	case PointerMove, KeyPress, Click, Scroll, TouchStart, VisibilityChange:
		return true
	}
	return false
}

type LogoutReason int

const (
	// LogoutTimeout means nothing happened for the full idle period.
	LogoutTimeout LogoutReason = iota
	// LogoutUserChoice means the user picked "log out" on the warning.
	LogoutUserChoice
)

// Hooks run on timer goroutines or the caller's goroutine, never with the
// monitor lock held.
type Hooks struct {
	OnWarning      func(secondsRemaining int)
	OnCountdown    func(secondsRemaining int)
	OnStaySignedIn func()
	OnLogout       func(reason LogoutReason)
}

type Snapshot struct {
	State            State
	LastActivity     time.Time
	WarningVisible   bool
	SecondsRemaining int
}

type Option func(*Monitor)

// WithTabID sets the source ID stamped on broadcasts. Messages carrying the
// same ID are treated as echoes and dropped.
func WithTabID(id string) Option {
	return func(m *Monitor) {
		m.tabID = id
	}
}

// WithRelay shares activity with sibling sessions.
func WithRelay(r relay.ActivityRelay) Option {
	return func(m *Monitor) {
		m.relay = r
	}
}

type Monitor struct {
	timers *timers.Scheduler
	config config.IdleConfig
	hooks  Hooks
	relay  relay.ActivityRelay
	tabID  string

	lock             sync.Mutex
	state            State
	running          bool
	lastActivity     time.Time
	warningVisible   bool
	secondsRemaining int
	unsubscribe      func()
}

func New(ts *timers.Scheduler, cfg config.IdleConfig, hooks Hooks, options ...Option) *Monitor {
	m := &Monitor{
		timers: ts,
		config: cfg,
		hooks:  hooks,
		relay:  relay.Noop(),
		tabID:  uuid.NewString(),
		state:  StateLoggedOut,
	}
	for _, opt := range options {
		opt(m)
	}
	return m
}

func (m *Monitor) TabID() string {
	return m.tabID
}

// Start begins monitoring from a fresh Active state. Calling it on a running
// monitor restarts the idle period.
func (m *Monitor) Start() {
	now := m.now()

	m.lock.Lock()
	m.state = StateActive
	m.lastActivity = now
	m.warningVisible = false
	m.secondsRemaining = 0
	m.timers.Cancel(timers.IdleCountdown)
	m.armLocked(now)
	if !m.running {
		m.running = true
		m.unsubscribe = m.relay.Subscribe(m.onRelayMessage)
	}
	m.lock.Unlock()

	log.Debug().Str("tab", m.tabID).Msg("idle monitor started")
}

// Observe records a local interaction and shares it with sibling sessions.
func (m *Monitor) Observe(event Event) {
	if !event.Qualifies() {
		return
	}
	at := m.now()
	if !m.Touch(at) {
		return
	}
	m.broadcast(at)
}

// Touch records activity that happened at the given time, locally or in a
// sibling session. The most recent timestamp wins; older ones are ignored.
// Timers are re-armed relative to at so every session computes the same
// deadline. Activity during a warning dismisses it.
func (m *Monitor) Touch(at time.Time) bool {
	now := m.now()
	if at.After(now) {
		at = now
	}

	m.lock.Lock()
	if m.state == StateLoggedOut || !at.After(m.lastActivity) {
		m.lock.Unlock()
		return false
	}
	m.lastActivity = at
	m.dismissWarningLocked()
	m.armLocked(at)
	m.lock.Unlock()
	return true
}

// StaySignedIn is the explicit "stay signed in" choice on the warning.
func (m *Monitor) StaySignedIn() bool {
	now := m.now()

	m.lock.Lock()
	if m.state == StateLoggedOut {
		m.lock.Unlock()
		return false
	}
	if now.After(m.lastActivity) {
		m.lastActivity = now
	}
	m.dismissWarningLocked()
	m.armLocked(m.lastActivity)
	at := m.lastActivity
	m.lock.Unlock()

	m.broadcast(at)
	if m.hooks.OnStaySignedIn != nil {
		m.hooks.OnStaySignedIn()
	}
	return true
}

// LogOut is the explicit "log out" choice on the warning.
func (m *Monitor) LogOut() {
	if !m.stop() {
		return
	}
	if m.hooks.OnLogout != nil {
		m.hooks.OnLogout(LogoutUserChoice)
	}
}

// Stop tears the monitor down without calling OnLogout. It is idempotent.
func (m *Monitor) Stop() {
	m.stop()
}

func (m *Monitor) Snapshot() Snapshot {
	m.lock.Lock()
	defer m.lock.Unlock()
	return Snapshot{
		State:            m.state,
		LastActivity:     m.lastActivity,
		WarningVisible:   m.warningVisible,
		SecondsRemaining: m.secondsRemaining,
	}
}

// ActiveWithin reports whether activity was seen within the window.
func (m *Monitor) ActiveWithin(window time.Duration) bool {
	now := m.now()
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.state == StateLoggedOut {
		return false
	}
	return now.Sub(m.lastActivity) < window
}

func (m *Monitor) stop() bool {
	m.lock.Lock()
	unsubscribe, stopped := m.stopLocked()
	m.lock.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	return stopped
}

func (m *Monitor) stopLocked() (func(), bool) {
	if m.state == StateLoggedOut && !m.running {
		return nil, false
	}
	m.state = StateLoggedOut
	m.warningVisible = false
	m.secondsRemaining = 0
	m.timers.CancelAll(timers.IdleCategories...)
	unsubscribe := m.unsubscribe
	m.unsubscribe = nil
	m.running = false
	return unsubscribe, true
}

func (m *Monitor) armLocked(from time.Time) {
	now := m.now()
	m.timers.Arm(timers.IdleWarning, from.Add(m.config.GetIdleWarningAfter()).Sub(now), m.fireWarning)
	m.timers.Arm(timers.IdleLogout, from.Add(m.config.GetIdleLogoutAfter()).Sub(now), m.fireLogout)
}

func (m *Monitor) dismissWarningLocked() {
	if m.state == StateWarning {
		m.state = StateActive
	}
	m.warningVisible = false
	m.secondsRemaining = 0
	m.timers.Cancel(timers.IdleCountdown)
}

func (m *Monitor) fireWarning() {
	now := m.now()

	m.lock.Lock()
	if m.state != StateActive {
		m.lock.Unlock()
		return
	}
	if remaining := m.lastActivity.Add(m.config.GetIdleWarningAfter()).Sub(now); remaining > 0 {
		m.timers.Arm(timers.IdleWarning, remaining, m.fireWarning)
		m.lock.Unlock()
		return
	}
	seconds := int(math.Ceil(m.config.GetIdleCountdown().Seconds()))
	m.state = StateWarning
	m.warningVisible = true
	m.secondsRemaining = seconds
	m.timers.Arm(timers.IdleCountdown, CountdownTick, m.tick)
	m.lock.Unlock()

	log.Info().Str("tab", m.tabID).Int("seconds_remaining", seconds).Msg("idle warning shown")
	if m.hooks.OnWarning != nil {
		m.hooks.OnWarning(seconds)
	}
}

func (m *Monitor) tick() {
	m.lock.Lock()
	if m.state != StateWarning {
		m.lock.Unlock()
		return
	}
	if m.secondsRemaining > 0 {
		m.secondsRemaining--
	}
	seconds := m.secondsRemaining
	if seconds > 0 {
		m.timers.Arm(timers.IdleCountdown, CountdownTick, m.tick)
	}
	m.lock.Unlock()

	if m.hooks.OnCountdown != nil {
		m.hooks.OnCountdown(seconds)
	}
}

func (m *Monitor) fireLogout() {
	now := m.now()

	m.lock.Lock()
	if m.state == StateLoggedOut {
		m.lock.Unlock()
		return
	}
	if remaining := m.lastActivity.Add(m.config.GetIdleLogoutAfter()).Sub(now); remaining > 0 {
		m.timers.Arm(timers.IdleLogout, remaining, m.fireLogout)
		m.lock.Unlock()
		return
	}
	idleFor := now.Sub(m.lastActivity)
	unsubscribe, _ := m.stopLocked()
	m.lock.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	log.Info().Str("tab", m.tabID).Dur("idle_for", idleFor).Msg("idle timeout, logging out")
	if m.hooks.OnLogout != nil {
		m.hooks.OnLogout(LogoutTimeout)
	}
}

func (m *Monitor) onRelayMessage(msg relay.Message) {
	if msg.Type != relay.TypeActivity || msg.Source == m.tabID {
		return
	}
	m.Touch(msg.Time())
}

func (m *Monitor) broadcast(at time.Time) {
	if err := m.relay.Broadcast(relay.ActivityMessage(at, m.tabID)); err != nil {
		log.Debug().Err(err).Str("tab", m.tabID).Msg("activity broadcast failed")
	}
}

// now is truncated to milliseconds, the resolution activity crosses the relay at.
func (m *Monitor) now() time.Time {
	return time.UnixMilli(m.timers.Clock().Now().UnixMilli())
}
