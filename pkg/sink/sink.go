// ABOUTME: Audio sink actor owning the output device
// ABOUTME: Timeout-driven state machine serving control before data
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/actor"
	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
	"github.com/Resonate-Protocol/audiopipe/pkg/audio/iec"
	"github.com/Resonate-Protocol/audiopipe/pkg/audio/output"
	"github.com/Resonate-Protocol/audiopipe/pkg/msgqueue"
)

const (
	// lowWater is how much audio the device keeps when the sink wakes up to
	// write silence.
	lowWater     = 40 * time.Millisecond
	silenceChunk = 20 * time.Millisecond

	defaultIdleTimeout = 30 * time.Second
)

// Options configure a Sink.
type Options struct {
	// Factory opens devices by id. Defaults to output.New.
	Factory output.Factory
	// Stats is used until a Configure message carries its own.
	Stats  *Stats
	Logger *slog.Logger

	// IdleTimeout is how long an unfocused, idle sink keeps its device.
	IdleTimeout time.Duration
	// SilenceTimeout is how long silence follows the last sample; negative
	// keeps silence flowing forever.
	SilenceTimeout time.Duration
	StreamSilence  bool
	NoiseType      NoiseType
	// Latency is output latency past the device, e.g. an external receiver.
	Latency time.Duration

	// OnOutput observes every device write.
	OnOutput func(OutputReport)
	Now      func() time.Time
}

// underrunCounter is implemented by devices that count underruns.
type underrunCounter interface {
	Underruns() uint64
}

// Sink is the audio sink actor.
type Sink struct {
	proto  *actor.Protocol
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	state     State
	published atomic.Int32

	config    Config
	stats     *Stats
	device    output.Device
	devFormat audio.Format
	open      bool

	paused         bool
	streaming      bool
	appFocused     bool
	volume         float64
	silenceTimeout time.Duration
	noise          NoiseType
	lastData       time.Time
	idleSince      time.Time

	swap    swapper
	packer  iec.Packer
	silence *silencer

	done chan struct{}
}

// New creates a sink. Call Start to run it.
func New(opts Options) *Sink {
	if opts.Factory == nil {
		opts.Factory = output.New
	}
	if opts.Stats == nil {
		opts.Stats = NewStats()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.IdleTimeout == 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Sink{
		proto:          actor.NewProtocol("sink"),
		opts:           opts,
		logger:         opts.Logger.With(slog.String("component", "sink")),
		now:            opts.Now,
		stats:          opts.Stats,
		appFocused:     true,
		volume:         1,
		streaming:      opts.StreamSilence,
		silenceTimeout: opts.SilenceTimeout,
		noise:          opts.NoiseType,
		silence:        newSilencer(),
	}
}

// Protocol returns the sink's ports.
func (s *Sink) Protocol() *actor.Protocol {
	return s.proto
}

// State returns the current state as last published by the actor.
func (s *Sink) State() State {
	return State(s.published.Load())
}

// Start runs the actor goroutine until ctx is done or Stop is called.
func (s *Sink) Start(ctx context.Context) {
	s.proto.Init()
	s.done = make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			s.proto.Abort()
		case <-s.done:
		}
	}()
	go s.run()
}

// Stop aborts the ports and waits for the actor to exit.
func (s *Sink) Stop() {
	if s.done == nil {
		return
	}
	s.proto.Abort()
	<-s.done
}

func (s *Sink) run() {
	defer close(s.done)
	defer s.shutdown()

	s.logger.Debug("sink started")
	for {
		timeout := s.nextTimeout()
		msg, err := s.proto.Receive(timeout, s.state != StatePaused)
		switch {
		case errors.Is(err, msgqueue.ErrAborted):
			s.logger.Debug("sink stopped")
			return
		case errors.Is(err, msgqueue.ErrTimeout):
			s.handleTimeout()
		case err != nil:
			s.logger.Error("sink receive failed", "error", err)
			return
		default:
			s.handle(msg)
		}
	}
}

// nextTimeout derives the poll timeout from the buffering state. A negative
// value waits for the next message.
func (s *Sink) nextTimeout() time.Duration {
	switch s.state {
	case StateStreaming:
		if d := s.device.Delay() - lowWater; d > 0 {
			return d
		}
		return 0
	case StateConfigured, StatePaused:
		if s.open && !s.appFocused {
			if d := s.idleSince.Add(s.opts.IdleTimeout).Sub(s.now()); d > 0 {
				return d
			}
			return 0
		}
	}
	return -1
}

func (s *Sink) setState(st State) {
	if s.state == st {
		return
	}
	defer s.published.Store(int32(st))
	s.logger.Debug("sink state", "from", s.state.String(), "to", st.String())
	if st == StateConfigured || st == StatePaused {
		s.idleSince = s.now()
	}
	s.state = st
}

func (s *Sink) handle(m *actor.Message) {
	switch m.Signal {
	case SigConfigure:
		s.configure(m)
	case SigUnconfigure:
		s.returnBuffers()
		s.closeDevice()
		s.setState(StateUnconfigured)
		m.Reply(SigAcc, nil)
	case SigStreaming:
		s.streaming, _ = m.Payload.(bool)
		m.Reply(SigAcc, nil)
	case SigAppFocused:
		s.appFocused, _ = m.Payload.(bool)
		m.Reply(SigAcc, nil)
	case SigVolume:
		v, _ := m.Payload.(float64)
		s.volume = min(max(v, 0), 1)
		s.swap.reset()
		m.Reply(SigAcc, nil)
	case SigFlush:
		s.flush()
		m.Reply(SigAcc, nil)
	case SigTimeout:
		s.handleTimeout()
		m.Reply(SigAcc, nil)
	case SigSetSilenceTimeout:
		s.silenceTimeout, _ = m.Payload.(time.Duration)
		m.Reply(SigAcc, nil)
	case SigSetNoiseType:
		s.noise, _ = m.Payload.(NoiseType)
		m.Reply(SigAcc, nil)
	case SigPause:
		on, _ := m.Payload.(bool)
		s.pause(on)
		m.Reply(SigAcc, nil)
	case SigGetStats:
		m.Reply(SigStats, s.stats.Snapshot())
	case SigSample:
		s.sample(m)
	case SigDrain:
		s.drain()
		m.Reply(SigAcc, nil)
	default:
		s.logger.Warn("sink: unknown signal", "signal", m.Signal, "channel", m.Channel().String())
		m.Reply(SigErr, fmt.Errorf("unknown signal %d", m.Signal))
	}
}

func (s *Sink) configure(m *actor.Message) {
	cfg, ok := m.Payload.(Config)
	if !ok {
		m.Reply(SigErr, fmt.Errorf("configure without config"))
		return
	}
	if cfg.Stats == nil {
		cfg.Stats = s.opts.Stats
	}

	if s.device != nil {
		if cfg.Device == s.config.Device && cfg.Format.Equal(s.config.Format) && s.state != StateError {
			s.config = cfg
			s.stats = cfg.Stats
			s.swap.reset()
			s.stats.SetCacheTotal(s.device.BufferSize(), s.opts.Latency)
			if !s.open {
				if err := s.reopen(); err != nil {
					s.fail(m, err)
					return
				}
			}
			m.Reply(SigAcc, s.configReply())
			return
		}
		s.logger.Info("sink: reconfiguring", "from", s.config.Format.String(), "to", cfg.Format.String())
		s.returnBuffers()
		s.closeDevice()
		s.setState(StateUnconfigured)
		s.configure(m)
		return
	}

	dev, err := s.opts.Factory(cfg.Device)
	if err != nil {
		s.fail(m, err)
		return
	}
	accepted, err := dev.Open(cfg.Format)
	if err != nil {
		s.fail(m, fmt.Errorf("open %s: %w", dev.Name(), err))
		return
	}

	s.device = dev
	s.devFormat = accepted
	s.open = true
	s.config = cfg
	s.stats = cfg.Stats
	s.swap.reset()
	s.packer.Reset()
	s.silence.reset()
	s.stats.SetCacheTotal(dev.BufferSize(), s.opts.Latency)
	s.stats.SetSinkDelay(0, false)
	if s.paused {
		s.setState(StatePaused)
	} else {
		s.setState(StateConfigured)
	}

	s.logger.Info("sink configured",
		"device", dev.Name(),
		"requested", cfg.Format.String(),
		"accepted", accepted.String())
	m.Reply(SigAcc, s.configReply())
}

func (s *Sink) fail(m *actor.Message, err error) {
	s.logger.Error("sink: configure failed", "error", err)
	s.device = nil
	s.open = false
	s.setState(StateError)
	m.Reply(SigErr, err)
}

func (s *Sink) configReply() ConfigReply {
	return ConfigReply{
		Format:     s.devFormat,
		CacheTotal: s.device.BufferSize(),
		Latency:    s.opts.Latency,
		HasVolume:  !s.config.Format.Passthrough(),
	}
}

// reopen brings a suspended device back with the configured format.
func (s *Sink) reopen() error {
	accepted, err := s.device.Open(s.config.Format)
	if err != nil {
		return fmt.Errorf("reopen %s: %w", s.device.Name(), err)
	}
	if !accepted.Equal(s.devFormat) {
		s.swap.reset()
	}
	s.devFormat = accepted
	s.open = true
	s.logger.Info("sink: device resumed", "device", s.device.Name())
	return nil
}

func (s *Sink) pause(on bool) {
	s.paused = on
	switch {
	case on && (s.state == StateConfigured || s.state == StateStreaming):
		s.setState(StatePaused)
	case !on && s.state == StatePaused:
		s.setState(StateConfigured)
	}
}

func (s *Sink) sample(m *actor.Message) {
	buf, ok := m.Payload.(*SampleBuffer)
	if !ok {
		m.Reply(SigErr, fmt.Errorf("sample without buffer"))
		return
	}
	defer m.Reply(SigReturnSample, buf)
	s.stats.SubQueued(buf.Duration())

	if s.state == StateUnconfigured || s.state == StateError {
		s.stats.AddDropped()
		return
	}
	if !s.open {
		if err := s.reopen(); err != nil {
			s.logger.Error("sink: device lost", "error", err)
			s.stats.AddDropped()
			s.setState(StateError)
			return
		}
	}

	data, err := s.render(buf)
	if err != nil {
		s.logger.Warn("sink: dropping buffer", "frame", buf.FrameID, "error", err)
		s.stats.AddDropped()
		return
	}
	if err := s.write(data, buf.FrameID, false); err != nil {
		s.stats.AddDropped()
		return
	}
	s.lastData = s.now()
	s.setState(StateStreaming)
}

// render turns a buffer into bytes in the device format.
func (s *Sink) render(buf *SampleBuffer) ([]byte, error) {
	if buf.Format.Passthrough() != s.config.Format.Passthrough() {
		return nil, fmt.Errorf("buffer format %s on sink configured for %s", buf.Format, s.config.Format)
	}
	if buf.Format.Passthrough() {
		return s.packer.Pack(buf.Format.StreamType, buf.Data)
	}
	if _, err := s.swap.check(buf.Format, s.devFormat, s.volume); err != nil {
		return nil, err
	}
	return s.swap.process(buf.Data)
}

func (s *Sink) write(data []byte, frameID uint64, silence bool) error {
	frames, err := s.device.Write(data)
	if err != nil {
		s.logger.Error("sink: device write failed", "error", err)
		s.closeDevice()
		s.setState(StateError)
		return err
	}
	s.stats.SetSinkDelay(s.device.Delay(), true)
	s.stats.AddWritten()
	if uc, ok := s.device.(underrunCounter); ok {
		s.stats.SetUnderruns(uc.Underruns())
	}
	if silence {
		s.stats.AddSilence(s.devFormat.FramesToDuration(frames))
	}
	if s.opts.OnOutput != nil {
		s.opts.OnOutput(OutputReport{FrameID: frameID, Frames: frames, Silence: silence})
	}
	return nil
}

func (s *Sink) silenceActive() bool {
	return s.streaming || s.silenceTimeout < 0 || s.now().Before(s.lastData.Add(s.silenceTimeout))
}

func (s *Sink) handleTimeout() {
	switch s.state {
	case StateStreaming:
		if s.silenceActive() {
			data, _ := s.silence.generate(s.config.Format, s.devFormat, silenceChunk, s.noise)
			s.write(data, 0, true)
			return
		}
		s.drain()
	case StateConfigured, StatePaused:
		if s.open && !s.appFocused && !s.now().Before(s.idleSince.Add(s.opts.IdleTimeout)) {
			s.logger.Info("sink: idle, releasing device", "device", s.device.Name())
			s.device.Close()
			s.open = false
			s.stats.SetSinkDelay(0, false)
		}
	}
}

func (s *Sink) drain() {
	if s.open {
		if err := s.device.Drain(); err != nil {
			s.logger.Warn("sink: drain failed", "error", err)
		}
		s.stats.SetSinkDelay(0, false)
	}
	if s.state == StateStreaming {
		s.setState(StateConfigured)
	}
}

func (s *Sink) flush() {
	s.returnBuffers()
	if s.open {
		s.device.Flush()
	}
	s.swap.reset()
	s.packer.Reset()
	s.silence.reset()
	s.lastData = time.Time{}
	s.stats.ResetQueued()
	if s.state == StateStreaming {
		s.setState(StateConfigured)
	}
}

// returnBuffers answers every pending data message without playing it.
func (s *Sink) returnBuffers() {
	for _, m := range s.proto.Purge(actor.ChannelData, nil) {
		if buf, ok := m.Payload.(*SampleBuffer); ok {
			s.stats.SubQueued(buf.Duration())
			m.Reply(SigReturnSample, buf)
			continue
		}
		m.Reply(SigAcc, nil)
	}
}

func (s *Sink) closeDevice() {
	if s.device == nil {
		return
	}
	if s.open {
		if err := s.device.Close(); err != nil {
			s.logger.Warn("sink: close failed", "error", err)
		}
	}
	s.device = nil
	s.open = false
	s.swap.reset()
	s.stats.SetSinkDelay(0, false)
}

func (s *Sink) shutdown() {
	s.returnBuffers()
	for _, m := range s.proto.Purge(actor.ChannelControl, nil) {
		m.Reply(SigErr, msgqueue.ErrAborted)
	}
	s.closeDevice()
	s.state = StateUnconfigured
	s.published.Store(int32(s.state))
}
