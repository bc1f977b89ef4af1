// ABOUTME: Master playback clock shared by the dispatch loop and the renderer
// ABOUTME: Tracks speed, pause, discontinuities and error adjustments under one lock
package clock

import (
	"log/slog"
	"sync"
	"time"
)

// ErrorAdjust ignores corrections below this while a speed adjust is active;
// the resampler absorbs them.
const minAdjustWhileResampling = 100 * time.Millisecond

// Stats is a snapshot of clock state.
type Stats struct {
	Clock          time.Duration
	Speed          float64
	Paused         bool
	MaxSpeedAdjust float64
	SpeedAdjust    float64
	Corrections    int
	LastCorrection time.Duration
}

// Option configures a Clock.
type Option func(*Clock)

// WithTimeSource replaces time.Now, mainly for tests.
func WithTimeSource(now func() time.Time) Option {
	return func(c *Clock) { c.now = now }
}

// WithLogger sets the logger used for adjustments.
func WithLogger(l *slog.Logger) Option {
	return func(c *Clock) { c.logger = l }
}

// Clock is the master playback clock. The value advances with system time
// scaled by speed and speed adjust, and freezes while paused.
type Clock struct {
	mu     sync.RWMutex
	now    func() time.Time
	logger *slog.Logger

	refTime  time.Time
	refClock time.Duration

	speed          float64
	paused         bool
	maxSpeedAdjust float64 // percent
	speedAdjust    float64 // fraction, 0.001 = +0.1%

	corrections    int
	lastCorrection time.Duration
}

// New creates a clock at zero running at normal speed.
func New(opts ...Option) *Clock {
	c := &Clock{
		now:    time.Now,
		logger: slog.Default(),
		speed:  1.0,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.refTime = c.now()
	return c
}

// GetClock returns the current clock value.
func (c *Clock) GetClock() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.clockLocked(c.now())
}

func (c *Clock) clockLocked(now time.Time) time.Duration {
	if c.paused {
		return c.refClock
	}
	elapsed := float64(now.Sub(c.refTime))
	return c.refClock + time.Duration(elapsed*c.speed*(1+c.speedAdjust))
}

// rebaseLocked folds elapsed time into the reference so rate changes only
// apply from now on.
func (c *Clock) rebaseLocked() time.Time {
	now := c.now()
	c.refClock = c.clockLocked(now)
	c.refTime = now
	return now
}

// Discontinuity sets the clock to pts.
func (c *Clock) Discontinuity(pts time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refClock = pts
	c.refTime = c.now()
}

// SetSpeed changes the playback speed multiplier.
func (c *Clock) SetSpeed(speed float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebaseLocked()
	c.speed = speed
}

// Speed returns the playback speed multiplier.
func (c *Clock) Speed() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.speed
}

// Pause freezes or resumes the clock.
func (c *Clock) Pause(paused bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused == paused {
		return
	}
	c.rebaseLocked()
	c.paused = paused
}

// IsPaused reports whether the clock is frozen.
func (c *Clock) IsPaused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.paused
}

// SetMaxSpeedAdjust sets how far, in percent, a resampling renderer may bend
// the playback rate. Zero means clock feedback only.
func (c *Clock) SetMaxSpeedAdjust(percent float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSpeedAdjust = percent
}

// MaxSpeedAdjust returns the allowed rate deviation in percent.
func (c *Clock) MaxSpeedAdjust() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxSpeedAdjust
}

// SetSpeedAdjust bends the clock rate by a fraction of normal speed.
func (c *Clock) SetSpeedAdjust(adjust float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rebaseLocked()
	c.speedAdjust = adjust
}

// SpeedAdjust returns the current rate bend.
func (c *Clock) SpeedAdjust() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.speedAdjust
}

// ErrorAdjust moves the clock by syncErr so it meets the reporting stream and
// returns the applied adjustment. Small errors are left alone while a speed
// adjust is running.
func (c *Clock) ErrorAdjust(syncErr time.Duration, source string) time.Duration {
	c.mu.Lock()
	if c.speedAdjust != 0 && abs(syncErr) < minAdjustWhileResampling {
		c.mu.Unlock()
		return 0
	}
	c.rebaseLocked()
	c.refClock += syncErr
	c.corrections++
	c.lastCorrection = syncErr
	value := c.refClock
	c.mu.Unlock()

	// Logged outside the lock; the handler has its own.
	c.logger.Debug("clock error adjust",
		slog.String("source", source),
		slog.Duration("adjustment", syncErr),
		slog.Duration("clock", value))
	return syncErr
}

// Stats returns a snapshot of the clock.
func (c *Clock) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Clock:          c.clockLocked(c.now()),
		Speed:          c.speed,
		Paused:         c.paused,
		MaxSpeedAdjust: c.maxSpeedAdjust,
		SpeedAdjust:    c.speedAdjust,
		Corrections:    c.corrections,
		LastCorrection: c.lastCorrection,
	}
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
