package clockfake

import (
	"sort"
	"sync"
	"time"

	"github.com/jrsteele09/go-dashboard-session/internal/clock"
)

var _ clock.Clock = (*Clock)(nil)

// Clock is a manually advanced clock. Callbacks run synchronously on the
// goroutine calling Advance, in deadline order.
type Clock struct {
	lock   sync.Mutex
	now    time.Time
	seq    int
	timers map[int]*fakeTimer
}

type fakeTimer struct {
	clock *Clock
	id    int
	at    time.Time
	fn    func()
}

func New(start time.Time) *Clock {
	return &Clock{
		now:    start,
		timers: make(map[int]*fakeTimer),
	}
}

func (c *Clock) Now() time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.now
}

func (c *Clock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.lock.Lock()
	defer c.lock.Unlock()

	if d < 0 {
		d = 0
	}
	c.seq++
	t := &fakeTimer{clock: c, id: c.seq, at: c.now.Add(d), fn: f}
	c.timers[t.id] = t
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.lock.Lock()
	defer t.clock.lock.Unlock()

	if _, ok := t.clock.timers[t.id]; !ok {
		return false
	}
	delete(t.clock.timers, t.id)
	return true
}

// Advance moves the clock forward by d, firing every timer that falls due on the
// way, including timers armed by callbacks during this advance.
func (c *Clock) Advance(d time.Duration) {
	c.lock.Lock()
	target := c.now.Add(d)
	c.lock.Unlock()

	for {
		c.lock.Lock()
		next := c.nextDue(target)
		if next == nil {
			c.now = target
			c.lock.Unlock()
			return
		}
		delete(c.timers, next.id)
		if next.at.After(c.now) {
			c.now = next.at
		}
		c.lock.Unlock()

		next.fn()
	}
}

// Set moves the clock to an absolute time without going backwards.
func (c *Clock) Set(t time.Time) {
	c.Advance(t.Sub(c.Now()))
}

// Pending returns the number of armed timers.
func (c *Clock) Pending() int {
	c.lock.Lock()
	defer c.lock.Unlock()
	return len(c.timers)
}

// Deadlines returns the fire times of armed timers in ascending order.
func (c *Clock) Deadlines() []time.Time {
	c.lock.Lock()
	defer c.lock.Unlock()

	deadlines := make([]time.Time, 0, len(c.timers))
	for _, t := range c.timers {
		deadlines = append(deadlines, t.at)
	}
	sort.Slice(deadlines, func(i, j int) bool { return deadlines[i].Before(deadlines[j]) })
	return deadlines
}

// nextDue must be called with the lock held. Ties are broken by arm order.
func (c *Clock) nextDue(target time.Time) *fakeTimer {
	var next *fakeTimer
	for _, t := range c.timers {
		if t.at.After(target) {
			continue
		}
		if next == nil || t.at.Before(next.at) || (t.at.Equal(next.at) && t.id < next.id) {
			next = t
		}
	}
	return next
}
