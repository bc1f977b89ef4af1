// ABOUTME: Renderer hands decoded frames to the sink actor as pooled buffers
// ABOUTME: Measures sync error and bends the rate when resampling
package player

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/actor"
	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
	"github.com/Resonate-Protocol/audiopipe/pkg/audio/resample"
	"github.com/Resonate-Protocol/audiopipe/pkg/clock"
	"github.com/Resonate-Protocol/audiopipe/pkg/engine"
	"github.com/Resonate-Protocol/audiopipe/pkg/sink"
)

const (
	configureTimeout = 2 * time.Second
	controlTimeout   = time.Second
	drainMargin      = time.Second

	// How long AddPackets waits for room before returning a partial count.
	pausedWait  = 10 * time.Millisecond
	playingWait = 100 * time.Millisecond
	pollWait    = 2 * time.Millisecond
	minChunk    = 5 * time.Millisecond

	// Rate controller gains, error in seconds.
	syncKp = 0.5
	syncKi = 0.05
)

// Renderer is the player's side of the sink. All methods except
// AbortAddPackets are called from the dispatch goroutine.
type Renderer struct {
	proto    *actor.Protocol
	stats    *sink.Stats
	clock    *clock.Clock
	logger   *slog.Logger
	settings engine.Settings
	pool     *sink.BufferPool

	valid  bool
	format audio.Format
	reply  sink.ConfigReply
	paused bool

	resampleMode bool
	resampler    *resample.Resampler
	resampled    []int32
	gained       []int32
	gain         float64

	nextID  uint64
	abort   atomic.Bool
	lastPTS time.Duration

	syncErr    time.Duration
	correction time.Duration
	integral   float64
	measured   bool
}

// NewRenderer creates a renderer talking to the engine's sink.
func NewRenderer(eng *engine.Engine) *Renderer {
	return &Renderer{
		proto:    eng.Sink.Protocol(),
		stats:    eng.Stats,
		clock:    eng.Clock,
		logger:   eng.Logger.With(slog.String("component", "renderer")),
		settings: eng.Settings,
		pool:     sink.NewBufferPool(),
		gain:     1,
		lastPTS:  audio.NoPTS,
	}
}

// Create configures the sink for frame's format. The renderer starts
// paused.
func (r *Renderer) Create(frame *audio.Frame, resampleMode bool) bool {
	r.collect()
	format := frame.Format
	reply, err := r.control(sink.SigConfigure, sink.Config{
		Format: format,
		Device: r.settings.Device,
		Stats:  r.stats,
	}, configureTimeout)
	if err != nil {
		r.logger.Error("failed to create audio renderer", "format", format.String(), "error", err)
		r.valid = false
		return false
	}
	r.reply, _ = reply.Payload.(sink.ConfigReply)
	r.format = format
	r.valid = true

	r.Pause()
	r.resampler = nil
	if !format.Passthrough() {
		r.resampler = resample.New(format.SampleRate, format.SampleRate, format.Channels)
	}
	r.resampleMode = resampleMode
	r.resetSync()

	r.logger.Info("audio renderer created",
		"format", format.String(),
		"device_format", r.reply.Format.String(),
		"cache_total", r.reply.CacheTotal)
	return true
}

// control sends a synchronous control message and unwraps error replies.
func (r *Renderer) control(sig actor.Signal, payload any, timeout time.Duration) (*actor.Message, error) {
	reply, err := r.proto.SendControlSync(context.Background(), sig, payload, timeout)
	if err != nil {
		return nil, err
	}
	if reply.Signal != sink.SigAcc {
		if e, ok := reply.Payload.(error); ok {
			return nil, e
		}
		return nil, fmt.Errorf("sink replied %d", reply.Signal)
	}
	return reply, nil
}

// Destroy releases the sink. With finish set queued audio plays out first.
func (r *Renderer) Destroy(finish bool) {
	if !r.valid {
		return
	}
	if finish {
		r.Drain()
	} else {
		r.Flush()
	}
	if _, err := r.control(sink.SigUnconfigure, nil, controlTimeout); err != nil {
		r.logger.Warn("unconfigure failed", "error", err)
	}
	r.collect()
	r.valid = false
	r.logger.Debug("audio renderer destroyed", "finish", finish)
}

// IsValidFormat reports whether frames in frame's format can be added
// without recreating the renderer.
func (r *Renderer) IsValidFormat(frame *audio.Frame) bool {
	return r.valid && r.format.Equal(frame.Format)
}

// AddPackets queues frame starting at offset and returns the frames taken.
// It waits a bounded time for room, so the count may be partial.
func (r *Renderer) AddPackets(frame *audio.Frame, offset int) int {
	remaining := frame.Frames - offset
	if remaining <= 0 {
		return 0
	}
	if !r.valid {
		// No sink: the frame is consumed as muted playback.
		return remaining
	}
	if frame.Format.Passthrough() {
		return r.addEncoded(frame)
	}

	wait := playingWait
	if r.paused {
		wait = pausedWait
	}
	deadline := time.Now().Add(wait)
	minFrames := max(frame.Format.DurationToFrames(minChunk), 1)

	added := 0
	for added < remaining && !r.abort.Load() {
		r.collect()
		left := remaining - added
		n := min(left, frame.Format.DurationToFrames(r.reply.CacheTotal-r.stats.CacheTime()))
		if n >= minFrames || (n > 0 && n == left) {
			r.queue(frame, offset+added, n)
			added += n
			continue
		}
		if !time.Now().Before(deadline) {
			break
		}
		time.Sleep(pollWait)
	}
	return added
}

// addEncoded queues one encoded frame as a single buffer.
func (r *Renderer) addEncoded(frame *audio.Frame) int {
	deadline := time.Now().Add(playingWait)
	if r.paused {
		deadline = time.Now().Add(pausedWait)
	}
	for !r.abort.Load() {
		r.collect()
		cache := r.stats.CacheTime()
		if cache == 0 || cache+frame.Duration <= r.reply.CacheTotal {
			buf := r.pool.Get(len(frame.Data))
			buf.Data = append(buf.Data, frame.Data...)
			buf.Frames = frame.Frames
			r.send(buf, frame.PTS, frame.Duration)
			return frame.Frames
		}
		if !time.Now().Before(deadline) {
			break
		}
		time.Sleep(pollWait)
	}
	return 0
}

// queue packs frames [start, start+n) of a PCM frame and sends them.
func (r *Renderer) queue(frame *audio.Frame, start, n int) {
	ch := frame.Format.Channels
	samples := frame.Samples[start*ch : (start+n)*ch]

	if r.gain != 1 {
		r.gained = r.gained[:0]
		for _, s := range samples {
			r.gained = append(r.gained, audio.ClampSample(int64(float64(s)*r.gain)))
		}
		samples = r.gained
	}
	if r.resampleMode && r.resampler != nil {
		r.resampled = r.resampler.Resample(r.resampled[:0], samples)
		samples = r.resampled
	}
	if len(samples) < ch {
		return
	}

	buf := r.pool.Get(len(samples) * r.format.DataFormat.BytesPerSample())
	buf.Data = audio.PackSamples(buf.Data, samples, r.format.DataFormat)
	buf.Frames = len(samples) / ch

	pts := audio.NoPTS
	if frame.HasTimestamp() {
		pts = frame.PTS + frame.Format.FramesToDuration(start)
	}
	r.send(buf, pts, frame.Format.FramesToDuration(n))
}

// send hands a filled buffer to the sink. media is the stream time it
// covers, which differs from its duration while resampling.
func (r *Renderer) send(buf *sink.SampleBuffer, pts, media time.Duration) {
	r.nextID++
	buf.FrameID = r.nextID
	buf.PTS = pts
	buf.Format = r.format

	r.stats.AddQueued(buf.Duration())
	if err := r.proto.SendData(sink.SigSample, buf); err != nil {
		r.stats.SubQueued(buf.Duration())
		buf.Release()
		r.logger.Warn("sink refused buffer", "frame", buf.FrameID, "error", err)
		return
	}
	if pts != audio.NoPTS {
		r.lastPTS = pts + media
		r.measure(media)
	}
}

// measure updates the sync error after queueing audio ending at lastPTS.
func (r *Renderer) measure(media time.Duration) {
	if r.paused || r.clock.IsPaused() {
		return
	}
	r.syncErr = r.lastPTS - r.stats.Delay() - r.clock.GetClock()
	r.correction = 0
	r.measured = true

	if !r.resampleMode || r.resampler == nil {
		return
	}
	limit := r.clock.MaxSpeedAdjust() / 100
	if limit <= 0 {
		r.resampler.SetRatio(1)
		return
	}
	e := r.syncErr.Seconds()
	r.integral += e * media.Seconds()
	if bound := limit / syncKi; r.integral > bound {
		r.integral = bound
	} else if r.integral < -bound {
		r.integral = -bound
	}
	adjust := min(max(syncKp*e+syncKi*r.integral, -limit), limit)
	// Audio ahead of the clock plays slower: more output per input frame.
	r.resampler.SetRatio(1 - adjust)
}

func (r *Renderer) resetSync() {
	r.syncErr = 0
	r.correction = 0
	r.integral = 0
	r.measured = false
	r.lastPTS = audio.NoPTS
	if r.resampler != nil {
		r.resampler.Reset()
		r.resampler.SetRatio(1)
	}
}

// collect releases buffers the sink has finished with.
func (r *Renderer) collect() {
	for _, m := range r.proto.Replies() {
		if m.Signal != sink.SigReturnSample {
			continue
		}
		if buf, ok := m.Payload.(*sink.SampleBuffer); ok {
			if err := buf.Release(); err != nil {
				r.logger.Error("buffer release", "frame", buf.FrameID, "error", err)
			}
		}
	}
}

// AbortAddPackets makes a blocked AddPackets return. It stays set until
// the next Flush.
func (r *Renderer) AbortAddPackets() {
	r.abort.Store(true)
}

// Drain waits until queued audio has played. Skipped while paused.
func (r *Renderer) Drain() {
	if !r.valid || r.paused {
		return
	}
	timeout := r.stats.CacheTime() + r.reply.CacheTotal + drainMargin
	reply, err := r.proto.SendDataSync(context.Background(), sink.SigDrain, nil, timeout)
	if err != nil {
		r.logger.Warn("drain failed", "error", err)
	} else if reply.Signal != sink.SigAcc {
		r.logger.Warn("drain refused", "signal", reply.Signal)
	}
	r.collect()
}

// Flush drops queued audio and returns every buffer.
func (r *Renderer) Flush() {
	if r.valid {
		if _, err := r.control(sink.SigFlush, nil, controlTimeout); err != nil {
			r.logger.Warn("flush failed", "error", err)
		}
	}
	r.collect()
	r.stats.ResetQueued()
	r.resetSync()
	r.abort.Store(false)
}

// Pause stops the sink from consuming buffers.
func (r *Renderer) Pause() {
	r.setPaused(true)
}

// Resume lets the sink consume buffers again.
func (r *Renderer) Resume() {
	r.setPaused(false)
}

func (r *Renderer) setPaused(on bool) {
	r.paused = on
	if !r.valid {
		return
	}
	if _, err := r.control(sink.SigPause, on, controlTimeout); err != nil {
		r.logger.Warn("pause failed", "pause", on, "error", err)
	}
}

// IsPaused reports whether the renderer holds playback.
func (r *Renderer) IsPaused() bool {
	return r.paused
}

// GetDelay returns how long until audio added now is heard.
func (r *Renderer) GetDelay() time.Duration {
	return r.stats.Delay()
}

// GetCacheTime returns queued plus device-buffered audio.
func (r *Renderer) GetCacheTime() time.Duration {
	return r.stats.CacheTime()
}

// GetCacheTotal returns the device cache size.
func (r *Renderer) GetCacheTotal() time.Duration {
	if !r.valid {
		return 0
	}
	return r.reply.CacheTotal
}

// GetMaxDelay returns the longest possible delay.
func (r *Renderer) GetMaxDelay() time.Duration {
	return r.GetCacheTotal() + r.reply.Latency
}

// GetPlayingPts returns the stream time being heard now.
func (r *Renderer) GetPlayingPts() time.Duration {
	if r.lastPTS == audio.NoPTS {
		return audio.NoPTS
	}
	return r.lastPTS - r.GetDelay()
}

// GetSyncError returns heard time minus clock time plus any correction
// applied since the last measurement.
func (r *Renderer) GetSyncError() time.Duration {
	return r.syncErr + r.correction
}

// SetSyncErrorCorrection accounts for a clock adjustment until the next
// measurement.
func (r *Renderer) SetSyncErrorCorrection(c time.Duration) {
	r.correction += c
}

// SetResampleMode switches rate bending on or off.
func (r *Renderer) SetResampleMode(on bool) {
	if r.resampleMode == on {
		return
	}
	r.resampleMode = on
	r.integral = 0
	if r.resampler != nil {
		r.resampler.SetRatio(1)
	}
}

// GetResampleRatio returns input frames per output frame.
func (r *Renderer) GetResampleRatio() float64 {
	if !r.resampleMode || r.resampler == nil {
		return 1
	}
	return r.resampler.Ratio()
}

// GetPassthroughStreamType returns the stream type codec would be sent as,
// or StreamNone when it must be decoded.
func (r *Renderer) GetPassthroughStreamType(codec string, sampleRate int) audio.StreamType {
	var st audio.StreamType
	switch codec {
	case "ac3":
		st = audio.StreamAC3
	case "eac3":
		st = audio.StreamEAC3
	case "dts":
		st = audio.StreamDTS512
		for _, t := range []audio.StreamType{audio.StreamDTS512, audio.StreamDTS1024, audio.StreamDTS2048} {
			if r.settings.PassthroughAllowed(t) {
				st = t
				break
			}
		}
	default:
		return audio.StreamNone
	}
	if sampleRate <= 0 || !r.settings.PassthroughAllowed(st) {
		return audio.StreamNone
	}
	return st
}

// SetDynamicRangeCompression sets a linear gain applied to PCM, 1..4.
func (r *Renderer) SetDynamicRangeCompression(amp float64) {
	r.gain = min(max(amp, 1), 4)
}

// Outstanding returns buffers not yet returned by the sink.
func (r *Renderer) Outstanding() int {
	r.collect()
	return r.pool.Outstanding()
}

// Stats returns the engine statistics.
func (r *Renderer) Stats() sink.Snapshot {
	return r.stats.Snapshot()
}
