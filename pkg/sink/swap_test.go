// ABOUTME: Tests for the per-format swap decision and conversion helpers
// ABOUTME: Covers memoization, invalidation and channel mapping
package sink

import (
	"testing"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
)

func TestSwapDecision(t *testing.T) {
	be := stereo16
	be.DataFormat = audio.FormatS16BE
	s24 := stereo16
	s24.DataFormat = audio.FormatS24LE3
	s24.BitDepth = 24
	mono := stereo16
	mono.Channels = 1
	rate := stereo16
	rate.SampleRate = 44100

	tests := []struct {
		name   string
		from   audio.Format
		volume float64
		want   SwapState
	}{
		{"same format", stereo16, 1, SwapSkip},
		{"opposite endianness", be, 1, SwapByteswap},
		{"wider samples", s24, 1, SwapConvert},
		{"channel count", mono, 1, SwapConvert},
		{"sample rate", rate, 1, SwapConvert},
		{"volume", stereo16, 0.5, SwapConvert},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s swapper
			defer s.reset()
			got, err := s.check(tt.from, stereo16, tt.volume)
			if err != nil {
				t.Fatalf("check failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestSwapInvalidatesOnAnyFieldChange(t *testing.T) {
	var s swapper
	if st, _ := s.check(stereo16, stereo16, 1); st != SwapSkip {
		t.Fatalf("expected skip, got %s", st)
	}

	be := stereo16
	be.DataFormat = audio.FormatS16BE
	if st, _ := s.check(be, stereo16, 1); st != SwapByteswap {
		t.Errorf("expected byteswap after endianness change, got %s", st)
	}
	if st, _ := s.check(stereo16, stereo16, 1); st != SwapSkip {
		t.Errorf("expected skip again, got %s", st)
	}

	s.reset()
	if s.state != SwapCheck {
		t.Errorf("expected check state after reset, got %s", s.state)
	}
}

func TestSwapRejectsPassthrough(t *testing.T) {
	var s swapper
	raw := stereo16
	raw.DataFormat = audio.FormatRAW
	if _, err := s.check(raw, stereo16, 1); err == nil {
		t.Error("expected error converting an encoded stream")
	}
}

func TestConvertUpmixesMono(t *testing.T) {
	mono := stereo16
	mono.Channels = 1
	var s swapper
	if _, err := s.check(mono, stereo16, 1); err != nil {
		t.Fatalf("check failed: %v", err)
	}
	in := audio.PackSamples(nil, []int32{audio.SampleFromInt16(10), audio.SampleFromInt16(-20)}, audio.FormatS16LE)
	out, err := s.process(in)
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	got := audio.UnpackSamples(nil, out, audio.FormatS16LE)
	want := []int32{10 << 8, 10 << 8, -20 << 8, -20 << 8}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: expected %d, got %d", i, want[i], got[i])
		}
	}
}

func TestMapChannels(t *testing.T) {
	tests := []struct {
		name     string
		src      []int32
		from, to int
		want     []int32
	}{
		{"stereo to mono", []int32{10, 20, -4, 4}, 2, 1, []int32{15, 0}},
		{"stereo to quad", []int32{1, 2}, 2, 4, []int32{1, 2, 0, 0}},
		{"quad to stereo", []int32{1, 2, 3, 4}, 4, 2, []int32{1, 2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapChannels(nil, tt.src, tt.from, tt.to)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("expected %v, got %v", tt.want, got)
					break
				}
			}
		})
	}
}

func TestSilenceGeneration(t *testing.T) {
	s := newSilencer()
	data, frames := s.generate(stereo16, stereo16, silenceChunk, NoiseNone)
	if frames != 960 || len(data) != 960*4 {
		t.Fatalf("expected 960 frames, got %d (%d bytes)", frames, len(data))
	}
	for _, b := range data {
		if b != 0 {
			t.Fatal("expected digital silence")
		}
	}

	data, _ = s.generate(stereo16, stereo16, silenceChunk, NoiseWhite)
	for _, v := range audio.UnpackSamples(nil, data, audio.FormatS16LE) {
		if v > noiseAmplitude || v < -noiseAmplitude {
			t.Fatalf("noise sample %d above %d", v, noiseAmplitude)
		}
	}

	ac3 := audio.Format{Codec: "ac3", SampleRate: 48000, Channels: 2, DataFormat: audio.FormatRAW, StreamType: audio.StreamAC3}
	burst, frames := s.generate(ac3, stereo16, silenceChunk, NoiseWhite)
	if frames != 960 || burst[4] != 3 {
		t.Errorf("expected a 20ms pause burst, got %d frames type %d", frames, burst[4])
	}
}
