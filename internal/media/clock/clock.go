// Package clock paces media timestamps against the wall clock.
package clock

import (
	"sync/atomic"
	"time"
)

type anchor struct {
	wall  time.Time
	media int64
}

// Clock maps media time onto wall-clock time. The anchor pairs a wall instant
// with the media timestamp released at that instant; until one is set the
// next timestamp queried becomes the anchor.
type Clock struct {
	now    func() time.Time
	anchor atomic.Pointer[anchor]
	start  atomic.Pointer[time.Time]
}

type Option func(*Clock)

// WithNow replaces the wall-clock source.
func WithNow(now func() time.Time) Option {
	return func(c *Clock) {
		c.now = now
	}
}

func New(opts ...Option) *Clock {
	c := &Clock{now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start marks the wall-clock reference instant.
func (c *Clock) Start() {
	t := c.now()
	c.start.Store(&t)
	c.anchor.Store(nil)
}

// Reset drops the anchor so that latency accumulated while paused or
// seeking is not caught up on.
func (c *Clock) Reset() {
	c.Start()
}

// SynchronizationDelay returns how long to wait before releasing the unit
// stamped ts (microseconds). A result <= 0 means the unit is late.
func (c *Clock) SynchronizationDelay(ts int64) time.Duration {
	now := c.now()

	a := c.anchor.Load()
	if a == nil {
		a = &anchor{wall: now, media: ts}
		if !c.anchor.CompareAndSwap(nil, a) {
			a = c.anchor.Load()
		}
	}

	mediaElapsed := time.Duration(ts-a.media) * time.Microsecond
	wallElapsed := now.Sub(a.wall)
	return mediaElapsed - wallElapsed
}

// Elapsed reports the wall time since Start, or zero if never started.
func (c *Clock) Elapsed() time.Duration {
	s := c.start.Load()
	if s == nil {
		return 0
	}
	return c.now().Sub(*s)
}
