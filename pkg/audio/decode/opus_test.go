// ABOUTME: Tests for Opus decoder
// ABOUTME: Round-trips an encoded packet through the decoder
package decode

import (
	"math"
	"testing"
	"time"

	"gopkg.in/hraban/opus.v2"
)

func TestOpusDecode(t *testing.T) {
	enc, err := opus.NewEncoder(48000, 2, opus.AppAudio)
	if err != nil {
		t.Fatalf("failed to create encoder: %v", err)
	}
	pcm := make([]int16, 960*2)
	for i := 0; i < 960; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/48000))
		pcm[i*2] = v
		pcm[i*2+1] = v
	}
	data := make([]byte, 4000)
	n, err := enc.Encode(pcm, data)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	d, err := NewOpus(Hints{Codec: "opus", SampleRate: 48000, Channels: 2})
	if err != nil {
		t.Fatalf("failed to create decoder: %v", err)
	}
	if err := d.AddData(Packet{Data: data[:n], PTS: 40 * time.Millisecond}); err != nil {
		t.Fatalf("AddData failed: %v", err)
	}
	f, err := d.GetData()
	if err != nil || f == nil {
		t.Fatalf("expected a frame, got %v (%v)", f, err)
	}
	if f.Frames != 960 {
		t.Errorf("expected 960 frames, got %d", f.Frames)
	}
	if len(f.Samples) != 960*2 {
		t.Errorf("expected %d samples, got %d", 960*2, len(f.Samples))
	}
	if f.Duration != 20*time.Millisecond || f.PTS != 40*time.Millisecond {
		t.Errorf("unexpected timing pts=%v duration=%v", f.PTS, f.Duration)
	}
}

func TestNewOpusInvalidCodec(t *testing.T) {
	if _, err := NewOpus(Hints{Codec: "pcm", SampleRate: 48000, Channels: 2}); err == nil {
		t.Fatal("expected error for invalid codec, got nil")
	}
}
