// ABOUTME: Engine context wiring clock, stats, factories and the sink actor
// ABOUTME: Replaces process-wide singletons with one explicitly owned value
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
	"github.com/Resonate-Protocol/audiopipe/pkg/audio/decode"
	"github.com/Resonate-Protocol/audiopipe/pkg/audio/output"
	"github.com/Resonate-Protocol/audiopipe/pkg/clock"
	"github.com/Resonate-Protocol/audiopipe/pkg/sink"
)

// Settings are the user-facing knobs of the pipeline.
type Settings struct {
	Device            string
	UseDisplayAsClock bool
	Passthrough       bool
	PassthroughTypes  []audio.StreamType // nil allows every type
	MinTempo          float64
	MaxTempo          float64

	SilenceTimeout time.Duration // negative keeps silence flowing forever
	NoiseType      sink.NoiseType
	StreamSilence  bool
	Realtime       bool
	IdleTimeout    time.Duration

	VolumeAmplification float64 // linear gain, 1 is unchanged
	OutputLatency       time.Duration
}

// DefaultSettings returns settings for local playback.
func DefaultSettings() Settings {
	return Settings{
		Device:              "malgo",
		MinTempo:            0.75,
		MaxTempo:            1.55,
		SilenceTimeout:      time.Minute,
		IdleTimeout:         30 * time.Second,
		VolumeAmplification: 1,
	}
}

// Validate checks settings for values the pipeline cannot run with.
func (s Settings) Validate() error {
	if s.MinTempo <= 0 || s.MaxTempo < s.MinTempo {
		return fmt.Errorf("invalid tempo range %.2f..%.2f", s.MinTempo, s.MaxTempo)
	}
	if s.VolumeAmplification < 1 || s.VolumeAmplification > 4 {
		return fmt.Errorf("volume amplification %.2f outside 1..4", s.VolumeAmplification)
	}
	if s.IdleTimeout < 0 {
		return fmt.Errorf("negative idle timeout %v", s.IdleTimeout)
	}
	return nil
}

// TempoAllowed reports whether speed can be played with pitch-kept tempo
// change rather than skipping.
func (s Settings) TempoAllowed(speed float64) bool {
	return speed == 1 || (speed >= s.MinTempo && speed <= s.MaxTempo)
}

// PassthroughAllowed reports whether st may be sent to the device encoded.
func (s Settings) PassthroughAllowed(st audio.StreamType) bool {
	if !s.Passthrough || st == audio.StreamNone {
		return false
	}
	return s.PassthroughTypes == nil || slices.Contains(s.PassthroughTypes, st)
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.Logger = l }
}

// WithDeviceFactory replaces output.New.
func WithDeviceFactory(f output.Factory) Option {
	return func(e *Engine) { e.Devices = f }
}

// WithDecoderFactory replaces decode.NewForStream.
func WithDecoderFactory(f decode.Factory) Option {
	return func(e *Engine) { e.Decoders = f }
}

// WithClock replaces the master clock.
func WithClock(c *clock.Clock) Option {
	return func(e *Engine) { e.Clock = c }
}

// WithOutputObserver receives every device write.
func WithOutputObserver(fn func(sink.OutputReport)) Option {
	return func(e *Engine) { e.onOutput = fn }
}

// Engine is the context shared by one pipeline.
type Engine struct {
	Settings Settings
	Logger   *slog.Logger
	Clock    *clock.Clock
	Stats    *sink.Stats
	Devices  output.Factory
	Decoders decode.Factory
	Sink     *sink.Sink

	onOutput func(sink.OutputReport)
	cancel   context.CancelFunc
}

// New builds an engine. Call Start before opening streams.
func New(settings Settings, opts ...Option) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("engine settings: %w", err)
	}
	e := &Engine{
		Settings: settings,
		Logger:   slog.Default(),
		Stats:    sink.NewStats(),
		Devices:  output.New,
		Decoders: decode.NewForStream,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.Clock == nil {
		e.Clock = clock.New(clock.WithLogger(e.Logger))
	}

	e.Sink = sink.New(sink.Options{
		Factory:        e.Devices,
		Stats:          e.Stats,
		Logger:         e.Logger,
		IdleTimeout:    settings.IdleTimeout,
		SilenceTimeout: settings.SilenceTimeout,
		StreamSilence:  settings.StreamSilence,
		NoiseType:      settings.NoiseType,
		Latency:        settings.OutputLatency,
		OnOutput:       e.onOutput,
	})
	return e, nil
}

// Start runs the sink actor.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.Sink.Start(ctx)
	e.Logger.Info("audio engine started", "device", e.Settings.Device)
}

// Close stops the sink and releases the device.
func (e *Engine) Close() error {
	if e.cancel == nil {
		return nil
	}
	e.Sink.Stop()
	e.cancel()
	e.cancel = nil
	e.Logger.Info("audio engine stopped")
	return nil
}

// NewDecoder builds a decoder through the configured factory.
func (e *Engine) NewDecoder(h decode.Hints, opts decode.Options) (decode.Decoder, error) {
	return e.Decoders(h, opts)
}

// SetVolume sets the sink volume in 0..1; muted plays silence at the same
// pace.
func (e *Engine) SetVolume(volume float64, muted bool) error {
	if muted {
		volume = 0
	}
	if err := e.Sink.Protocol().SendControl(sink.SigVolume, volume); err != nil {
		return fmt.Errorf("set volume: %w", err)
	}
	return nil
}
