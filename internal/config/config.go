// ABOUTME: YAML configuration for the CLI
// ABOUTME: Defaults, loading, validation and mapping to engine.Settings
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Resonate-Protocol/audiopipe/internal/logging"
	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
	"github.com/Resonate-Protocol/audiopipe/pkg/engine"
	"github.com/Resonate-Protocol/audiopipe/pkg/sink"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Output   OutputConfig   `yaml:"output"`
	Playback PlaybackConfig `yaml:"playback"`
	Monitor  MonitorConfig  `yaml:"monitor"`
}

// LogConfig selects the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file,omitempty"`
}

// OutputConfig describes the audio device.
type OutputConfig struct {
	Device           string        `yaml:"device"`
	Latency          time.Duration `yaml:"latency"`
	Passthrough      bool          `yaml:"passthrough"`
	PassthroughTypes []string      `yaml:"passthrough_types,omitempty"`
	Amplification    float64       `yaml:"amplification"`
}

// PlaybackConfig holds sync and idle behaviour.
type PlaybackConfig struct {
	UseDisplayAsClock bool          `yaml:"use_display_as_clock"`
	Realtime          bool          `yaml:"realtime"`
	MinTempo          float64       `yaml:"min_tempo"`
	MaxTempo          float64       `yaml:"max_tempo"`
	SilenceTimeout    time.Duration `yaml:"silence_timeout"`
	StreamSilence     bool          `yaml:"stream_silence"`
	Noise             string        `yaml:"noise"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
}

// MonitorConfig controls the websocket monitor and its mDNS record.
type MonitorConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Advertise bool   `yaml:"advertise"`
	Name      string `yaml:"name,omitempty"`
}

// DefaultConfig returns default configuration
func DefaultConfig() *Config {
	s := engine.DefaultSettings()
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Output: OutputConfig{
			Device:        s.Device,
			Amplification: s.VolumeAmplification,
		},
		Playback: PlaybackConfig{
			MinTempo:       s.MinTempo,
			MaxTempo:       s.MaxTempo,
			SilenceTimeout: s.SilenceTimeout,
			Noise:          s.NoiseType.String(),
			IdleTimeout:    s.IdleTimeout,
		},
		Monitor: MonitorConfig{Addr: "127.0.0.1:8927"},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if c.Output.Latency < 0 {
		return fmt.Errorf("negative output latency %v", c.Output.Latency)
	}
	if _, err := c.Engine(); err != nil {
		return err
	}
	return nil
}

// Engine maps the configuration onto engine settings.
func (c *Config) Engine() (engine.Settings, error) {
	noise, err := ParseNoise(c.Playback.Noise)
	if err != nil {
		return engine.Settings{}, err
	}
	var types []audio.StreamType
	for _, name := range c.Output.PassthroughTypes {
		st, err := ParseStreamType(name)
		if err != nil {
			return engine.Settings{}, err
		}
		types = append(types, st)
	}

	s := engine.Settings{
		Device:              c.Output.Device,
		UseDisplayAsClock:   c.Playback.UseDisplayAsClock,
		Passthrough:         c.Output.Passthrough,
		PassthroughTypes:    types,
		MinTempo:            c.Playback.MinTempo,
		MaxTempo:            c.Playback.MaxTempo,
		SilenceTimeout:      c.Playback.SilenceTimeout,
		NoiseType:           noise,
		StreamSilence:       c.Playback.StreamSilence,
		Realtime:            c.Playback.Realtime,
		IdleTimeout:         c.Playback.IdleTimeout,
		VolumeAmplification: c.Output.Amplification,
		OutputLatency:       c.Output.Latency,
	}
	if err := s.Validate(); err != nil {
		return engine.Settings{}, err
	}
	return s, nil
}

// ParseNoise maps "none" or "white".
func ParseNoise(name string) (sink.NoiseType, error) {
	for _, n := range []sink.NoiseType{sink.NoiseNone, sink.NoiseWhite} {
		if n.String() == name {
			return n, nil
		}
	}
	if name == "" {
		return sink.NoiseNone, nil
	}
	return sink.NoiseNone, fmt.Errorf("unknown noise type %q", name)
}

// ParseStreamType maps a passthrough stream name such as "ac3" or "dts-1024".
func ParseStreamType(name string) (audio.StreamType, error) {
	for st := audio.StreamAC3; st <= audio.StreamDTS2048; st++ {
		if st.String() == name {
			return st, nil
		}
	}
	return audio.StreamNone, fmt.Errorf("unknown passthrough stream type %q", name)
}
