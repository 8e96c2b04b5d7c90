// Package fake provides a manually driven [clock.Clock] for tests.
//
// Timers fire only when the test calls [Clock.Advance]; tickers deliver a tick
// only when the test calls [Ticker.Tick]. Both make the order of time-driven
// events fully deterministic.
package fake

import (
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/speakwell/internal/clock"
)

// Clock is a manually advanced clock. The zero value starts at the Unix epoch.
type Clock struct {
	mu      sync.Mutex
	now     time.Time
	timers  []*timer
	tickers chan *Ticker
	once    sync.Once
}

var _ clock.Clock = (*Clock)(nil)

// New returns a fake clock starting at start.
func New(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now implements [clock.Clock].
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc implements [clock.Clock].
func (c *Clock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &timer{c: c, when: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// NewTicker implements [clock.Clock]. The created ticker is also published to
// [Clock.Tickers] so tests can drive it.
func (c *Clock) NewTicker(time.Duration) clock.Ticker {
	t := &Ticker{ch: make(chan time.Time), stopped: make(chan struct{})}
	c.tickerCh() <- t
	return t
}

// Tickers returns a channel that receives every ticker created by this clock.
// It buffers up to 16 tickers.
func (c *Clock) Tickers() <-chan *Ticker {
	return c.tickerCh()
}

func (c *Clock) tickerCh() chan *Ticker {
	c.once.Do(func() { c.tickers = make(chan *Ticker, 16) })
	return c.tickers
}

// Advance moves the clock forward by d and synchronously runs every timer
// that became due, in deadline order.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	var due, pending []*timer
	for _, t := range c.timers {
		if !t.when.After(now) {
			due = append(due, t)
		} else {
			pending = append(pending, t)
		}
	}
	c.timers = pending
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].when.Before(due[j].when) })
	for _, t := range due {
		t.f()
	}
}

// Pending returns the number of armed timers.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

type timer struct {
	c    *Clock
	when time.Time
	f    func()
}

func (t *timer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	for i, other := range t.c.timers {
		if other == t {
			t.c.timers = append(t.c.timers[:i], t.c.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Ticker is a manually driven [clock.Ticker].
type Ticker struct {
	ch       chan time.Time
	stopped  chan struct{}
	stopOnce sync.Once
}

var _ clock.Ticker = (*Ticker)(nil)

// C implements [clock.Ticker].
func (t *Ticker) C() <-chan time.Time { return t.ch }

// Stop implements [clock.Ticker].
func (t *Ticker) Stop() { t.stopOnce.Do(func() { close(t.stopped) }) }

// Tick delivers one tick and blocks until it is received or the ticker is
// stopped. It reports whether the tick was received.
func (t *Ticker) Tick() bool {
	select {
	case <-t.stopped:
		return false
	default:
	}
	select {
	case t.ch <- time.Time{}:
		return true
	case <-t.stopped:
		return false
	}
}

// Stopped reports whether Stop has been called.
func (t *Ticker) Stopped() bool {
	select {
	case <-t.stopped:
		return true
	default:
		return false
	}
}
