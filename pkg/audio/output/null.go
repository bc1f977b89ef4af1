// ABOUTME: Null output device that plays into a virtual real-time buffer
// ABOUTME: Used for tests, file capture pacing and clock drift simulation
package output

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
)

const defaultNullBuffer = 200 * time.Millisecond

// NullOption configures a Null device.
type NullOption func(*Null)

// WithNullBuffer sets the virtual device cache size.
func WithNullBuffer(d time.Duration) NullOption {
	return func(n *Null) { n.size = d }
}

// WithRateSkew makes the virtual device consume audio faster (positive) or
// slower (negative) than real time by the given fraction.
func WithRateSkew(skew float64) NullOption {
	return func(n *Null) { n.skew = skew }
}

// WithFormatFilter lets the device accept a different format than requested.
func WithFormatFilter(fn func(audio.Format) audio.Format) NullOption {
	return func(n *Null) { n.filter = fn }
}

// WithOpenError makes Open fail.
func WithOpenError(err error) NullOption {
	return func(n *Null) { n.openErr = err }
}

// WithRecorder receives a copy of every write.
func WithRecorder(fn func([]byte)) NullOption {
	return func(n *Null) { n.record = fn }
}

// WithTimeSource replaces time.Now.
func WithTimeSource(now func() time.Time) NullOption {
	return func(n *Null) { n.now = now }
}

// Null is a device without hardware. Written audio drains at the format's
// rate, so Delay and Write back-pressure behave like a real sink.
type Null struct {
	mu      sync.Mutex
	now     func() time.Time
	size    time.Duration
	skew    float64
	filter  func(audio.Format) audio.Format
	openErr error
	record  func([]byte)

	format  audio.Format
	open    bool
	end     time.Time // when everything written so far has played
	wake    chan struct{}
	written int64
	opens   int
}

// NewNull creates a null device.
func NewNull(opts ...NullOption) *Null {
	n := &Null{
		now:  time.Now,
		size: defaultNullBuffer,
		wake: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Name returns the device id.
func (n *Null) Name() string {
	return "null"
}

// Open accepts any valid format unless a filter says otherwise.
func (n *Null) Open(format audio.Format) (audio.Format, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.openErr != nil {
		return audio.Format{}, n.openErr
	}
	if !format.Valid() {
		return audio.Format{}, fmt.Errorf("null device: invalid format %s", format)
	}
	accepted := pcmCarrier(format)
	if format.Passthrough() {
		accepted.DataFormat = audio.FormatS16LE
	}
	if n.filter != nil {
		accepted = n.filter(accepted)
	}

	n.format = accepted
	n.open = true
	n.end = n.now()
	n.opens++
	slog.Debug("null device opened", "format", accepted.String(), "buffer", n.size)
	return accepted, nil
}

// Write blocks while the virtual buffer is full.
func (n *Null) Write(data []byte) (int, error) {
	n.mu.Lock()
	if !n.open {
		n.mu.Unlock()
		return 0, ErrDeviceClosed
	}
	frameSize := n.format.FrameSize()
	frames := len(data) / frameSize
	d := n.scaled(n.format.FramesToDuration(frames))

	for {
		now := n.now()
		if n.end.Before(now) {
			n.end = now
		}
		delay := n.end.Sub(now)
		wait := delay + d - n.size
		if wait > delay {
			wait = delay
		}
		if wait <= 0 {
			break
		}
		if !n.sleepLocked(wait) {
			n.mu.Unlock()
			return 0, ErrDeviceClosed
		}
	}

	n.end = n.end.Add(d)
	n.written += int64(frames)
	record := n.record
	n.mu.Unlock()

	if record != nil {
		record(append([]byte(nil), data[:frames*frameSize]...))
	}
	return frames, nil
}

// sleepLocked waits with the lock released. It returns false when the device
// was closed meanwhile.
func (n *Null) sleepLocked(d time.Duration) bool {
	wake := n.wake
	n.mu.Unlock()
	timer := time.NewTimer(d)
	select {
	case <-timer.C:
	case <-wake:
		timer.Stop()
	}
	n.mu.Lock()
	return n.open
}

// scaled converts audio time to wall time for a skewed device.
func (n *Null) scaled(d time.Duration) time.Duration {
	if n.skew == 0 {
		return d
	}
	return time.Duration(float64(d) / (1 + n.skew))
}

// Delay returns the audio not yet consumed.
func (n *Null) Delay() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.delayLocked()
}

func (n *Null) delayLocked() time.Duration {
	if !n.open {
		return 0
	}
	d := n.end.Sub(n.now())
	if d < 0 {
		return 0
	}
	return d
}

// BufferSize returns the virtual cache size.
func (n *Null) BufferSize() time.Duration {
	return n.size
}

// Drain waits until the virtual buffer is empty.
func (n *Null) Drain() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	for n.open {
		d := n.delayLocked()
		if d <= 0 {
			return nil
		}
		n.sleepLocked(d)
	}
	return nil
}

// Flush drops the virtual buffer and wakes blocked writers.
func (n *Null) Flush() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.end = n.now()
	n.wakeLocked()
}

func (n *Null) wakeLocked() {
	close(n.wake)
	n.wake = make(chan struct{})
}

// Close stops the device.
func (n *Null) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.open = false
	n.wakeLocked()
	return nil
}

// Format returns the accepted format.
func (n *Null) Format() audio.Format {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.format
}

// Written returns the number of frames written since creation.
func (n *Null) Written() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.written
}

// Opens returns how many times the device was opened.
func (n *Null) Opens() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.opens
}

// IsOpen reports whether the device is open.
func (n *Null) IsOpen() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.open
}
