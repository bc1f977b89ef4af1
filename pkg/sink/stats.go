// ABOUTME: Engine statistics shared between the renderer and the sink
// ABOUTME: Tracks queued audio, interpolated device delay and counters
package sink

import (
	"sync"
	"time"
)

// Stats is written by the sink after every device write and by the renderer
// when it queues buffers. Delay readings are interpolated between writes.
type Stats struct {
	mu  sync.Mutex
	now func() time.Time

	queued     time.Duration
	sinkDelay  time.Duration
	delayAt    time.Time
	playing    bool
	cacheTotal time.Duration
	latency    time.Duration

	written   uint64
	dropped   uint64
	underruns uint64
	silence   time.Duration
}

// Snapshot is a copy of the statistics.
type Snapshot struct {
	Queued     time.Duration
	SinkDelay  time.Duration
	CacheTime  time.Duration
	CacheTotal time.Duration
	Latency    time.Duration
	Written    uint64
	Dropped    uint64
	Underruns  uint64
	Silence    time.Duration
}

// NewStats creates empty statistics.
func NewStats() *Stats {
	return &Stats{now: time.Now}
}

// NewStatsWithClock creates statistics that read time from now.
func NewStatsWithClock(now func() time.Time) *Stats {
	return &Stats{now: now}
}

// AddQueued records audio handed to the sink but not yet written.
func (s *Stats) AddQueued(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued += d
}

// SubQueued records audio that left the sink queue.
func (s *Stats) SubQueued(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued -= d
	if s.queued < 0 {
		s.queued = 0
	}
}

// ResetQueued forgets queued audio after a flush.
func (s *Stats) ResetQueued() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = 0
	s.sinkDelay = 0
	s.delayAt = s.now()
}

// SetSinkDelay records the device delay measured right after a write.
// While playing, the delay is assumed to fall in real time until the next
// measurement.
func (s *Stats) SetSinkDelay(d time.Duration, playing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinkDelay = d
	s.delayAt = s.now()
	s.playing = playing
}

// SetCacheTotal sets the device cache size and extra output latency.
func (s *Stats) SetCacheTotal(total, latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheTotal = total
	s.latency = latency
}

// AddWritten counts a device write.
func (s *Stats) AddWritten() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written++
}

// AddSilence counts silence written while no data was available.
func (s *Stats) AddSilence(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silence += d
}

// AddDropped counts a buffer that could not be played.
func (s *Stats) AddDropped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropped++
}

// SetUnderruns records the device underrun counter.
func (s *Stats) SetUnderruns(n uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.underruns = n
}

func (s *Stats) sinkDelayLocked() time.Duration {
	if !s.playing {
		return s.sinkDelay
	}
	d := s.sinkDelay - s.now().Sub(s.delayAt)
	if d < 0 {
		return 0
	}
	return d
}

// CacheTime returns queued audio plus device delay.
func (s *Stats) CacheTime() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued + s.sinkDelayLocked()
}

// CacheTotal returns the device cache size.
func (s *Stats) CacheTotal() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cacheTotal
}

// Delay returns how long until audio queued now is heard.
func (s *Stats) Delay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queued + s.sinkDelayLocked() + s.latency
}

// Snapshot returns a copy of the statistics.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	delay := s.sinkDelayLocked()
	return Snapshot{
		Queued:     s.queued,
		SinkDelay:  delay,
		CacheTime:  s.queued + delay,
		CacheTotal: s.cacheTotal,
		Latency:    s.latency,
		Written:    s.written,
		Dropped:    s.dropped,
		Underruns:  s.underruns,
		Silence:    s.silence,
	}
}
