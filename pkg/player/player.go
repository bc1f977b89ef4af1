// ABOUTME: Audio player dispatch loop: decode, sync and hand-off to the renderer
// ABOUTME: Serves control messages first and gates data on the sync state
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
	"github.com/Resonate-Protocol/audiopipe/pkg/audio/decode"
	"github.com/Resonate-Protocol/audiopipe/pkg/clock"
	"github.com/Resonate-Protocol/audiopipe/pkg/engine"
	"github.com/Resonate-Protocol/audiopipe/pkg/msgqueue"
)

const (
	// Queue limits for demuxed packets.
	maxQueueData = 6 * 1024 * 1024
	maxQueueTime = 8 * time.Second

	// Speeds with special meaning.
	SpeedPause  = 0.0
	SpeedNormal = 1.0

	startThreshold  = 0.75
	maxSpeedAdjust  = 5.0
	disconThreshold = 10 * time.Millisecond
	resyncJump      = 500 * time.Millisecond
	stallGrace      = 3 * time.Second
	syncWait        = 100 * time.Millisecond
	idlePoll        = 10 * time.Millisecond
	closeWait       = 5 * time.Second
)

// AudioPlayer owns one audio stream from demuxed packets to the sink.
type AudioPlayer struct {
	eng      *engine.Engine
	clock    *clock.Clock
	logger   *slog.Logger
	listener Listener
	queue    *msgqueue.Queue[*Message]
	renderer *Renderer

	// Owned by the dispatch goroutine once it runs.
	decoder      decode.Decoder
	hints        decode.Hints
	frame        *audio.Frame
	framesOut    int
	frameHasTS   bool
	lastTS       time.Duration
	lastDuration time.Duration
	audioClock   time.Duration
	paused       bool
	silence      bool
	stalled      bool
	displayReset bool
	syncType     SyncType
	prevSync     SyncType
	hasPrevSync  bool
	syncTimer    time.Time
	bytes        int64
	bitrateFrom  time.Time
	kbps         float64

	syncState atomic.Int32
	speed     atomic.Uint64 // float64 bits
	done      chan struct{}

	infoMu sync.Mutex
	info   Info
}

// New creates a player. listener may be nil.
func New(eng *engine.Engine, listener Listener) *AudioPlayer {
	if listener == nil {
		listener = func(Event) {}
	}
	p := &AudioPlayer{
		eng:      eng,
		clock:    eng.Clock,
		logger:   eng.Logger.With(slog.String("component", "audioplayer")),
		listener: listener,
		renderer: NewRenderer(eng),
	}
	p.storeSpeed(SpeedNormal)
	p.queue = msgqueue.New("audio",
		msgqueue.WithMaxDataSize[*Message](maxQueueData),
		msgqueue.WithMaxTimeSize[*Message](maxQueueTime),
		msgqueue.WithDiscard(p.discard))
	return p
}

// discard closes decoders carried by messages dropped in a flush.
func (p *AudioPlayer) discard(m *Message) {
	if m.Kind == MsgGeneralStreamChange && m.Decoder != nil {
		m.Decoder.Close()
	}
}

// OpenStream starts playback of a stream, or queues a stream change when
// one is already open.
func (p *AudioPlayer) OpenStream(h decode.Hints) error {
	dec, err := p.eng.NewDecoder(h, p.decoderOptions(h))
	if err != nil {
		p.logger.Warn("unsupported audio codec", "codec", h.Codec, "error", err)
		return fmt.Errorf("open stream: %w", err)
	}

	if p.queue.IsInited() {
		return p.queue.Put(&Message{Kind: MsgGeneralStreamChange, Hints: h, Decoder: dec}, 0)
	}
	p.openStream(h, dec)
	p.queue.Init()
	p.done = make(chan struct{})
	go p.run()
	return nil
}

func (p *AudioPlayer) decoderOptions(h decode.Hints) decode.Options {
	s := p.eng.Settings
	allow := s.Passthrough && !s.UseDisplayAsClock && !s.Realtime && !h.Realtime
	st := p.renderer.GetPassthroughStreamType(h.Codec, h.SampleRate)
	if !allow || st == audio.StreamNone {
		return decode.Options{}
	}
	return decode.Options{AllowPassthrough: true, PassthroughTypes: s.PassthroughTypes}
}

func (p *AudioPlayer) openStream(h decode.Hints, dec decode.Decoder) {
	if p.decoder != nil && p.decoder != dec {
		p.decoder.Close()
	}
	p.decoder = dec
	p.hints = h
	p.frame = nil
	p.framesOut = 0
	p.audioClock = 0
	p.stalled = p.queue.Count(isPacket) == 0
	p.hasPrevSync = false
	p.syncType = SyncDiscon
	if p.eng.Settings.UseDisplayAsClock || p.eng.Settings.Realtime || h.Realtime {
		p.syncType = SyncResample
	}
	p.bytes = 0
	p.bitrateFrom = time.Now()
	p.setSyncState(SyncStarting)

	p.logger.Info("audio stream opened",
		"codec", h.Codec,
		"decoder", dec.Name(),
		"rate", h.SampleRate,
		"channels", h.Channels,
		"sync", p.syncType.String())
	p.listener(AVChange{Info: p.updateInfo()})
}

// CloseStream stops the loop. With wait set, queued packets and buffered
// audio play out first.
func (p *AudioPlayer) CloseStream(wait bool) {
	if !p.queue.IsInited() {
		return
	}
	if wait && p.Speed() > SpeedPause {
		ctx, cancel := context.WithTimeout(context.Background(), closeWait)
		if err := p.queue.WaitUntilEmpty(ctx); err != nil {
			p.logger.Warn("closing with packets left", "error", err)
		}
		cancel()
	}
	p.queue.Abort()
	<-p.done

	p.renderer.Destroy(wait)
	p.queue.End()
	if p.decoder != nil {
		p.decoder.Close()
		p.decoder = nil
	}
	p.frame = nil
	p.logger.Info("audio stream closed", "wait", wait)
}

// SendMessage queues m. Control messages use priority 1.
func (p *AudioPlayer) SendMessage(m *Message, priority int) error {
	return p.queue.Put(m, priority)
}

// Flush drops queued packets and buffered audio. With sync set the flush
// is followed by a resync barrier on the caller's side.
func (p *AudioPlayer) Flush(sync bool) {
	p.queue.Flush()
	p.renderer.AbortAddPackets()
	p.queue.Put(&Message{Kind: MsgGeneralFlush, Bool: sync}, 1)
}

// SetSpeed changes playback speed.
func (p *AudioPlayer) SetSpeed(speed float64) {
	if p.queue.IsInited() {
		p.queue.Put(NewSetSpeed(speed), 1)
		return
	}
	p.storeSpeed(speed)
}

// Speed returns the playback speed last applied by the player.
func (p *AudioPlayer) Speed() float64 {
	return math.Float64frombits(p.speed.Load())
}

func (p *AudioPlayer) storeSpeed(speed float64) {
	p.speed.Store(math.Float64bits(speed))
}

// RequestState asks for a StateReport event.
func (p *AudioPlayer) RequestState() {
	p.queue.Put(NewSignal(MsgPlayerRequestState), 1)
}

// AcceptsData reports whether the packet queue has room.
func (p *AudioPlayer) AcceptsData() bool {
	return !p.queue.IsFull()
}

// IsInited reports whether a stream is open.
func (p *AudioPlayer) IsInited() bool {
	return p.queue.IsInited()
}

// Level returns the packet queue fill in percent.
func (p *AudioPlayer) Level() int {
	return p.queue.Level()
}

// SyncState returns the last published sync state.
func (p *AudioPlayer) SyncState() SyncState {
	return SyncState(p.syncState.Load())
}

// Info returns the last display snapshot.
func (p *AudioPlayer) Info() Info {
	p.infoMu.Lock()
	defer p.infoMu.Unlock()
	return p.info
}

// IsPassthrough reports whether the stream goes to the device encoded.
func (p *AudioPlayer) IsPassthrough() bool {
	return p.Info().Passthrough
}

// Renderer exposes the renderer for statistics.
func (p *AudioPlayer) Renderer() *Renderer {
	return p.renderer
}

func (p *AudioPlayer) setSyncState(s SyncState) {
	p.syncState.Store(int32(s))
}

func (p *AudioPlayer) run() {
	defer close(p.done)
	p.logger.Debug("audio player running")

	onlyPrio := false
	for {
		timeout := p.renderer.GetCacheTime()
		speed := p.Speed()
		priority := 1
		if p.SyncState() == SyncStarting ||
			p.eng.Settings.TempoAllowed(speed) ||
			speed < SpeedPause ||
			(speed > SpeedNormal && p.audioClock < p.clock.GetClock()) {
			priority = 0
		}
		if p.SyncState() == SyncWaitSync || p.paused {
			priority = 1
		}
		if onlyPrio {
			priority = 1
			timeout = 0
		}

		msg, _, err := p.queue.Get(timeout, priority)
		polled := onlyPrio
		onlyPrio = false
		switch {
		case errors.Is(err, msgqueue.ErrAborted):
			p.logger.Debug("audio player stopped")
			return
		case errors.Is(err, msgqueue.ErrTimeout):
			if p.processDecoderOutput() {
				p.updateInfo()
				onlyPrio = true
				continue
			}
			if priority == 0 {
				p.checkStall()
			}
			if timeout == 0 && !polled {
				time.Sleep(idlePoll)
			}
			continue
		case err != nil:
			p.logger.Error("audio queue failed", "error", err)
			return
		}

		onlyPrio = p.handle(msg)
		p.updateInfo()
	}
}

func (p *AudioPlayer) checkStall() {
	if p.stalled || p.SyncState() != SyncInSync || !p.eng.Settings.TempoAllowed(p.Speed()) {
		return
	}
	if time.Now().Before(p.syncTimer) {
		return
	}
	p.stalled = true
	p.logger.Info("audio stream stalled")
	p.listener(Stalled{})
}

// handle processes one message and reports whether only control messages
// should be read next.
func (p *AudioPlayer) handle(m *Message) bool {
	switch m.Kind {
	case MsgGeneralSynchronize:
		if !m.Sync.Wait(syncWait, "audio") {
			p.queue.Put(m, 1)
		}

	case MsgGeneralResync:
		delay := p.renderer.GetDelay()
		if m.PTS > p.audioClock-delay+resyncJump {
			p.renderer.Flush()
		}
		p.audioClock = m.PTS + delay
		p.setSyncState(SyncInSync)
		p.syncTimer = time.Now().Add(stallGrace)
		if p.Speed() != SpeedPause {
			p.renderer.Resume()
		}
		p.logger.Debug("audio resync", "pts", m.PTS, "clock", p.audioClock)

	case MsgGeneralReset:
		if p.decoder != nil {
			p.decoder.Reset()
		}
		p.renderer.Flush()
		p.frame = nil
		p.framesOut = 0
		p.audioClock = 0
		p.stalled = true
		p.setSyncState(SyncStarting)

	case MsgGeneralFlush:
		p.renderer.Flush()
		p.stalled = true
		p.audioClock = 0
		if p.decoder != nil {
			p.decoder.Reset()
		}
		p.frame = nil
		p.framesOut = 0
		if m.Bool {
			p.setSyncState(SyncStarting)
			p.renderer.Pause()
		}

	case MsgGeneralEOF:
		for p.SyncState() == SyncStarting && p.processDecoderOutput() {
		}
		// A stream shorter than the start threshold starts on what it has.
		if p.SyncState() == SyncStarting && p.renderer.GetCacheTime() > 0 {
			p.signalStarted()
		}
		p.renderer.Drain()

	case MsgGeneralPause:
		p.paused = m.Bool
		if p.paused {
			p.renderer.Pause()
		} else if p.SyncState() == SyncInSync && p.Speed() != SpeedPause {
			p.renderer.Resume()
		}

	case MsgPlayerSetSpeed:
		changed := m.Speed != p.Speed()
		p.storeSpeed(m.Speed)
		if p.eng.Settings.TempoAllowed(m.Speed) {
			if changed && p.SyncState() == SyncInSync && !p.paused {
				p.renderer.Resume()
				p.stalled = false
			}
		} else {
			// Pause, or a speed the tempo range cannot play: packets are
			// discarded in sync until a playable speed returns.
			p.renderer.Pause()
		}

	case MsgAudioSilence:
		p.silence = m.Bool

	case MsgGeneralStreamChange:
		if p.Speed() != SpeedPause {
			p.renderer.Drain()
		}
		p.openStream(m.Hints, m.Decoder)

	case MsgPlayerDisplayReset:
		p.displayReset = true

	case MsgPlayerRequestState:
		pts := p.renderer.GetPlayingPts()
		p.listener(StateReport{State: p.SyncState(), PTS: pts})

	case MsgDemuxerPacket:
		return p.packet(m)
	}
	return false
}

// packet feeds the decoder. A refused packet goes back to the front of the
// queue and the loop drains decoder output first.
func (p *AudioPlayer) packet(m *Message) bool {
	if p.decoder == nil {
		return false
	}
	if m.Drop {
		// The stream jumped: whatever is buffered no longer lines up.
		if p.SyncState() != SyncStarting {
			p.renderer.Drain()
			p.renderer.Flush()
			p.frame = nil
			p.framesOut = 0
		}
		p.setSyncState(SyncStarting)
		return false
	}
	if p.stalled && p.SyncState() == SyncInSync {
		p.stalled = false
		p.syncTimer = time.Now().Add(stallGrace)
	}
	// Fast-forward and rewind show video only.
	if speed := p.Speed(); speed != SpeedPause && !p.eng.Settings.TempoAllowed(speed) && p.SyncState() == SyncInSync {
		return false
	}

	err := p.decoder.AddData(m.Packet)
	switch {
	case errors.Is(err, decode.ErrBufferFull):
		p.queue.PutBack(m, 0)
		p.processDecoderOutput()
		return true
	case err != nil:
		p.logger.Warn("decode failed, dropping packet", "error", err, "pts", m.Packet.PTS)
		return false
	}
	p.bytes += int64(len(m.Packet.Data))
	return p.processDecoderOutput()
}

// processDecoderOutput hands decoded audio to the renderer. It returns true
// when a frame is in progress.
func (p *AudioPlayer) processDecoderOutput() bool {
	if p.decoder == nil {
		return false
	}
	if p.frame == nil || p.framesOut >= p.frame.Frames {
		p.frame = nil
		p.framesOut = 0
		f, err := p.decoder.GetData()
		if err != nil {
			p.logger.Warn("decoder output failed", "error", err)
			return false
		}
		if f == nil || f.Frames == 0 {
			return false
		}
		if !p.prepare(f) {
			return false
		}
	}
	f := p.frame

	p.correctSync()

	var out int
	if p.silence && f.Format.Passthrough() {
		// Encoded audio cannot be zeroed; it counts as played unheard.
		out = f.Frames - p.framesOut
	} else {
		out = p.renderer.AddPackets(f, p.framesOut)
	}
	p.audioClock += f.Duration * time.Duration(out) / time.Duration(f.Frames)
	p.framesOut += out

	p.lastTS = audio.NoPTS
	if p.frameHasTS {
		p.lastTS = f.PTS
	}
	p.lastDuration = f.Duration

	if p.SyncState() == SyncStarting {
		total := p.renderer.GetCacheTotal()
		if p.renderer.GetCacheTime() >= time.Duration(float64(total)*startThreshold) {
			p.signalStarted()
		}
	}
	return true
}

// correctSync moves the master clock onto the audio when a DISCON stream
// drifts past the threshold.
func (p *AudioPlayer) correctSync() {
	if p.syncType != SyncDiscon {
		return
	}
	err := p.renderer.GetSyncError()
	if err <= disconThreshold && err >= -disconThreshold {
		return
	}
	if adj := p.clock.ErrorAdjust(err, "audio"); adj != 0 {
		p.renderer.SetSyncErrorCorrection(-adj)
	}
}

// signalStarted moves to WaitSync and tells the listener where the buffered
// audio begins.
func (p *AudioPlayer) signalStarted() {
	p.setSyncState(SyncWaitSync)
	p.stalled = false
	p.logger.Debug("audio started", "cache", p.renderer.GetCacheTime(), "total", p.renderer.GetCacheTotal())
	p.listener(Started{
		CacheTotal: p.renderer.GetMaxDelay(),
		CacheTime:  p.renderer.GetDelay(),
		Timestamp:  p.lastTS,
		Duration:   p.lastDuration,
	})
	p.listener(AVChange{Info: p.updateInfo()})
}

// prepare adopts a new decoder frame, recreating the renderer when the
// format changed. It returns false when the frame was dropped for a codec
// switch.
func (p *AudioPlayer) prepare(f *audio.Frame) bool {
	p.frameHasTS = f.HasTimestamp()
	if p.frameHasTS {
		p.audioClock = f.PTS
	} else {
		f.PTS = p.audioClock
	}

	if rate := f.Format.SampleRate; rate != 0 && !f.Format.Passthrough() && rate != p.hints.SampleRate {
		p.hints.SampleRate = rate
		if p.switchCodecIfNeeded() {
			return false
		}
	}
	if (p.eng.Settings.Realtime || p.hints.Realtime) && p.syncType != SyncResample {
		p.syncType = SyncResample
		if p.switchCodecIfNeeded() {
			return false
		}
	}
	if p.displayReset && p.switchCodecIfNeeded() {
		return false
	}

	if p.silence && !f.Format.Passthrough() {
		clear(f.Samples)
	}

	if !p.renderer.IsValidFormat(f) {
		if p.Speed() != SpeedPause {
			p.renderer.Drain()
		}
		p.renderer.Destroy(false)
		if p.renderer.Create(f, p.syncType == SyncResample) && p.SyncState() == SyncInSync && !p.paused {
			p.renderer.Resume()
		}
	}
	p.renderer.SetDynamicRangeCompression(p.eng.Settings.VolumeAmplification)
	p.setSyncType(f.Format.Passthrough())
	p.frame = f
	return true
}

// setSyncType falls back to DISCON for encoded output, which cannot be
// resampled.
func (p *AudioPlayer) setSyncType(passthrough bool) {
	if passthrough && p.syncType == SyncResample {
		p.syncType = SyncDiscon
	}
	adjust := 0.0
	if p.syncType == SyncResample {
		adjust = maxSpeedAdjust
	}
	p.clock.SetMaxSpeedAdjust(adjust)

	if !p.hasPrevSync || p.syncType != p.prevSync {
		p.logger.Info("audio sync type", "type", p.syncType.String())
		p.prevSync = p.syncType
		p.hasPrevSync = true
		p.renderer.SetResampleMode(p.syncType == SyncResample)
	}
}

// switchCodecIfNeeded reopens the decoder when passthrough eligibility
// changed. It reports whether the decoder was replaced.
func (p *AudioPlayer) switchCodecIfNeeded() bool {
	p.displayReset = false
	opts := decode.Options{}
	if p.syncType != SyncResample {
		opts = p.decoderOptions(p.hints)
	}
	dec, err := p.eng.NewDecoder(p.hints, opts)
	if err != nil {
		return false
	}
	if dec.NeedPassthrough() == p.decoder.NeedPassthrough() {
		dec.Close()
		return false
	}
	p.logger.Info("switching audio decoder", "from", p.decoder.Name(), "to", dec.Name())
	p.decoder.Close()
	p.decoder = dec
	p.frame = nil
	p.framesOut = 0
	return true
}

// updateInfo refreshes the display snapshot.
func (p *AudioPlayer) updateInfo() Info {
	now := time.Now()
	if elapsed := now.Sub(p.bitrateFrom); elapsed >= time.Second {
		p.kbps = float64(p.bytes*8) / elapsed.Seconds() / 1000
		p.bytes = 0
		p.bitrateFrom = now
	}

	var format audio.Format
	if p.decoder != nil {
		format = p.decoder.Format()
	}
	level := p.queue.Level()
	ratio := p.renderer.GetResampleRatio()
	info := Info{
		Text:          fmt.Sprintf("aq:%d%%, Kb/s:%.2f, rr:%.5f", level, p.kbps, 1/ratio),
		Codec:         p.hints.Codec,
		SampleRate:    format.SampleRate,
		Channels:      format.Channels,
		Passthrough:   p.decoder != nil && p.decoder.NeedPassthrough(),
		StreamType:    format.StreamType,
		QueueLevel:    level,
		Kbps:          p.kbps,
		ResampleRatio: ratio,
		AudioClock:    p.audioClock,
		PlayingPTS:    p.renderer.GetPlayingPts(),
		SyncError:     p.renderer.GetSyncError(),
		Paused:        p.renderer.IsPaused(),
		SyncState:     p.SyncState(),
	}
	p.infoMu.Lock()
	p.info = info
	p.infoMu.Unlock()
	return info
}
