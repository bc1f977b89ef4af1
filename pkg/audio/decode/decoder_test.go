// ABOUTME: Tests for decoder selection and the shared pending-frame logic
// ABOUTME: Covers the factory, passthrough gating and timestamp continuation
package decode

import (
	"errors"
	"testing"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
)

func TestNewForStream(t *testing.T) {
	allowAll := Options{AllowPassthrough: true}
	tests := []struct {
		name    string
		hints   Hints
		opts    Options
		want    string
		wantErr error
	}{
		{"pcm", Hints{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16}, Options{}, "pcm", nil},
		{"opus", Hints{Codec: "opus", SampleRate: 48000, Channels: 2}, Options{}, "opus", nil},
		{"mp3", Hints{Codec: "mp3"}, Options{}, "mp3", nil},
		{"ac3 passthrough", Hints{Codec: "ac3", SampleRate: 48000}, allowAll, "passthrough-ac3", nil},
		{"ac3 without passthrough", Hints{Codec: "ac3"}, Options{}, "", ErrUnsupportedCodec},
		{"dts not in allowed types", Hints{Codec: "dts"},
			Options{AllowPassthrough: true, PassthroughTypes: []audio.StreamType{audio.StreamAC3}}, "", ErrUnsupportedCodec},
		{"flac without header", Hints{Codec: "flac"}, Options{}, "", ErrUnsupportedCodec},
		{"unknown", Hints{Codec: "vorbis"}, Options{}, "", ErrUnsupportedCodec},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := NewForStream(tt.hints, tt.opts)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewForStream failed: %v", err)
			}
			if dec.Name() != tt.want {
				t.Errorf("expected decoder %s, got %s", tt.want, dec.Name())
			}
		})
	}
}

func TestPendingStampsMissingPTS(t *testing.T) {
	p := newPending()
	first := &audio.Frame{PTS: time.Second, Duration: 20 * time.Millisecond}
	p.stamp(first)

	second := &audio.Frame{PTS: audio.NoPTS, Duration: 20 * time.Millisecond}
	p.stamp(second)
	if second.PTS != 1020*time.Millisecond {
		t.Errorf("expected continued pts 1.02s, got %v", second.PTS)
	}

	p.reset()
	third := &audio.Frame{PTS: audio.NoPTS}
	p.stamp(third)
	if third.HasTimestamp() {
		t.Error("expected no pts after reset")
	}
}

func TestTo24Bit(t *testing.T) {
	tests := []struct {
		in   int32
		bits int
		want int32
	}{
		{256, 16, 65536},
		{-1, 16, -256},
		{1000, 24, 1000},
		{1 << 12, 32, 16},
	}
	for _, tt := range tests {
		if got := to24Bit(tt.in, tt.bits); got != tt.want {
			t.Errorf("to24Bit(%d, %d): expected %d, got %d", tt.in, tt.bits, tt.want, got)
		}
	}
}

func TestFeed(t *testing.T) {
	var f feed
	buf := make([]byte, 4)
	if _, err := f.Read(buf); err == nil {
		t.Error("expected EOF on empty feed")
	}
	f.Write([]byte{1, 2, 3})
	n, err := f.Read(buf)
	if err != nil || n != 3 {
		t.Fatalf("expected 3 bytes, got %d (%v)", n, err)
	}
	f.Write([]byte{4})
	if n, _ := f.Read(buf); n != 1 || buf[0] != 4 {
		t.Error("feed must be readable again after running dry")
	}
}
