// Package timers owns every session timer. A Scheduler keeps at most one pending
// timer per Category: arming a category cancels whatever was pending for it.
package timers

import (
	"sync"
	"time"

	"github.com/jrsteele09/go-dashboard-session/internal/clock"
)

type Category string

const (
	ExpiryWarning Category = "expiry_warning"
	ExpiryRefresh Category = "expiry_refresh"
	ExpiryLogout  Category = "expiry_logout"
	IdleWarning   Category = "idle_warning"
	IdleLogout    Category = "idle_logout"
	IdleCountdown Category = "idle_countdown"
)

// ExpiryCategories are the timers armed from a token's expiry.
var ExpiryCategories = []Category{ExpiryWarning, ExpiryRefresh, ExpiryLogout}

// IdleCategories are the timers armed from user inactivity.
var IdleCategories = []Category{IdleWarning, IdleLogout, IdleCountdown}

type slot struct {
	timer clock.Timer
	gen   uint64
	due   time.Time
}

// Scheduler is safe for concurrent use. Callbacks run without the scheduler lock
// held, so they may re-arm or cancel freely.
type Scheduler struct {
	clock clock.Clock
	lock  sync.Mutex
	slots map[Category]*slot
	gen   uint64
}

func New(c clock.Clock) *Scheduler {
	if c == nil {
		c = clock.Real()
	}
	return &Scheduler{
		clock: c,
		slots: make(map[Category]*slot),
	}
}

// Clock returns the clock the scheduler arms timers on.
func (s *Scheduler) Clock() clock.Clock {
	return s.clock
}

// Arm cancels any pending timer of the category and schedules fn after d.
// Negative durations fire immediately.
func (s *Scheduler) Arm(cat Category, d time.Duration, fn func()) {
	if d < 0 {
		d = 0
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	s.stopLocked(cat)
	s.gen++
	gen := s.gen
	due := s.clock.Now().Add(d)
	timer := s.clock.AfterFunc(d, func() { s.fire(cat, gen, fn) })
	s.slots[cat] = &slot{timer: timer, gen: gen, due: due}
}

// Cancel stops the pending timer of the category, reporting whether one was pending.
func (s *Scheduler) Cancel(cat Category) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.stopLocked(cat)
}

// CancelAll stops the given categories, or every category when none are named.
func (s *Scheduler) CancelAll(cats ...Category) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if len(cats) == 0 {
		for cat := range s.slots {
			s.stopLocked(cat)
		}
		return
	}
	for _, cat := range cats {
		s.stopLocked(cat)
	}
}

func (s *Scheduler) Pending(cat Category) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	_, ok := s.slots[cat]
	return ok
}

func (s *Scheduler) PendingCount() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.slots)
}

// Due returns when the pending timer of the category fires.
func (s *Scheduler) Due(cat Category) (time.Time, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	sl, ok := s.slots[cat]
	if !ok {
		return time.Time{}, false
	}
	return sl.due, true
}

func (s *Scheduler) stopLocked(cat Category) bool {
	sl, ok := s.slots[cat]
	if !ok {
		return false
	}
	sl.timer.Stop()
	delete(s.slots, cat)
	return true
}

// fire drops callbacks whose generation has been superseded; a real timer can
// already be running when Stop is called.
func (s *Scheduler) fire(cat Category, gen uint64, fn func()) {
	s.lock.Lock()
	current, ok := s.slots[cat]
	if !ok || current.gen != gen {
		s.lock.Unlock()
		return
	}
	delete(s.slots, cat)
	s.lock.Unlock()

	fn()
}
