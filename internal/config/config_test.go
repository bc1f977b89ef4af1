package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
	"github.com/Resonate-Protocol/audiopipe/pkg/engine"
	"github.com/Resonate-Protocol/audiopipe/pkg/sink"
)

func TestDefaultConfigMatchesEngine(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	got, err := cfg.Engine()
	if err != nil {
		t.Fatalf("Engine: %v", err)
	}
	if want := engine.DefaultSettings(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Output.Device != engine.DefaultSettings().Device {
		t.Errorf("expected default device, got %q", cfg.Output.Device)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audiopipe.yaml")
	data := `
log:
  level: debug
output:
  device: "null"
  latency: 40ms
  passthrough: true
  passthrough_types: [ac3, dts-1024]
playback:
  realtime: true
  noise: white
  idle_timeout: 5s
monitor:
  enabled: true
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s, err := cfg.Engine()
	if err != nil {
		t.Fatalf("Engine: %v", err)
	}

	if s.Device != "null" {
		t.Errorf("expected device null, got %q", s.Device)
	}
	if s.OutputLatency != 40*time.Millisecond {
		t.Errorf("expected latency 40ms, got %v", s.OutputLatency)
	}
	if want := []audio.StreamType{audio.StreamAC3, audio.StreamDTS1024}; !reflect.DeepEqual(s.PassthroughTypes, want) {
		t.Errorf("expected %v, got %v", want, s.PassthroughTypes)
	}
	if !s.Realtime || s.NoiseType != sink.NoiseWhite || s.IdleTimeout != 5*time.Second {
		t.Errorf("unexpected playback settings %+v", s)
	}
	// Untouched keys keep their defaults.
	if s.MinTempo != 0.75 || cfg.Monitor.Addr == "" {
		t.Errorf("expected defaults to survive, got tempo %.2f addr %q", s.MinTempo, cfg.Monitor.Addr)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad yaml", "output: [unterminated"},
		{"log level", "log:\n  level: loud\n"},
		{"noise", "playback:\n  noise: pink\n"},
		{"stream type", "output:\n  passthrough_types: [mp3]\n"},
		{"tempo", "playback:\n  min_tempo: 2\n  max_tempo: 1\n"},
		{"amplification", "output:\n  amplification: 9\n"},
		{"latency", "output:\n  latency: -5ms\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "audiopipe.yaml")
			if err := os.WriteFile(path, []byte(tt.data), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audiopipe.yaml")
	cfg := DefaultConfig()
	cfg.Output.Device = "oto"
	cfg.Playback.SilenceTimeout = -1 * time.Second

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(got, cfg) {
		t.Errorf("expected %+v, got %+v", cfg, got)
	}
}
