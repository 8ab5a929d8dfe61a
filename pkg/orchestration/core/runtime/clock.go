package runtime

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts time so orchestration loops can be fast-forwarded
// deterministically in tests. Sleep is the loop's sole blocking suspension
// point; cancellation takes effect at the next wake.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the production Clock backed by the real time package.
type SystemClock struct{}

// NewSystemClock returns the production clock.
func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

// Now returns the current wall-clock time.
func (c *SystemClock) Now() time.Time {
	return time.Now()
}

// Sleep blocks for d or until the context is cancelled, whichever comes first.
func (c *SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// After returns a channel that fires after d.
func (c *SystemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

var _ Clock = (*SystemClock)(nil)

// FakeClock is a manually advanced Clock for tests. Sleep returns immediately
// after advancing the fake time, and After fires on the next Advance that
// reaches the deadline.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	ch       chan time.Time
}

// NewFakeClock creates a FakeClock starting at the given time.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Sleep advances the fake time by d and returns immediately, unless the
// context is already cancelled.
func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	return nil
}

// After registers a waiter that fires once Advance reaches the deadline.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan time.Time, 1)
	deadline := c.now.Add(d)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.waiters = append(c.waiters, fakeWaiter{deadline: deadline, ch: ch})
	return ch
}

// Advance moves the fake time forward and fires any waiters whose deadline
// has been reached.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	remaining := c.waiters[:0]
	var fired []chan time.Time
	for _, w := range c.waiters {
		if !w.deadline.After(now) {
			fired = append(fired, w.ch)
		} else {
			remaining = append(remaining, w)
		}
	}
	c.waiters = remaining
	c.mu.Unlock()

	for _, ch := range fired {
		ch <- now
	}
}

var _ Clock = (*FakeClock)(nil)
