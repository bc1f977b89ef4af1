// ABOUTME: Tests for PCM decoder
// ABOUTME: Tests sample layouts, pending output and timestamps
package decode

import (
	"errors"
	"testing"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
)

func TestPCMDecodeLayouts(t *testing.T) {
	tests := []struct {
		name   string
		hints  Hints
		input  []byte
		expect []int32
	}{
		{
			name:   "16-bit little-endian",
			hints:  Hints{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16},
			input:  []byte{0x00, 0x01, 0x02, 0x03},
			expect: []int32{256 << 8, 770 << 8},
		},
		{
			name:   "16-bit big-endian",
			hints:  Hints{Codec: "pcm", SampleRate: 48000, Channels: 2, DataFormat: audio.FormatS16BE},
			input:  []byte{0x01, 0x00, 0x03, 0x02},
			expect: []int32{256 << 8, 770 << 8},
		},
		{
			name:   "24-bit",
			hints:  Hints{Codec: "pcm", SampleRate: 96000, Channels: 1, BitDepth: 24},
			input:  []byte{0x01, 0x00, 0x00, 0xFF, 0xFF, 0xFF},
			expect: []int32{1, -1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewPCM(tt.hints)
			if err != nil {
				t.Fatalf("failed to create decoder: %v", err)
			}
			if err := d.AddData(Packet{Data: tt.input, PTS: time.Second}); err != nil {
				t.Fatalf("AddData failed: %v", err)
			}
			f, err := d.GetData()
			if err != nil || f == nil {
				t.Fatalf("expected a frame, got %v (%v)", f, err)
			}
			if len(f.Samples) != len(tt.expect) {
				t.Fatalf("expected %d samples, got %d", len(tt.expect), len(f.Samples))
			}
			for i := range tt.expect {
				if f.Samples[i] != tt.expect[i] {
					t.Errorf("sample %d: expected %d, got %d", i, tt.expect[i], f.Samples[i])
				}
			}
			if f.PTS != time.Second {
				t.Errorf("expected pts 1s, got %v", f.PTS)
			}
		})
	}
}

func TestPCMBufferFull(t *testing.T) {
	d, _ := NewPCM(Hints{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16})
	pkt := Packet{Data: make([]byte, 960*4), PTS: 0}

	if err := d.AddData(pkt); err != nil {
		t.Fatalf("AddData failed: %v", err)
	}
	if err := d.AddData(pkt); !errors.Is(err, ErrBufferFull) {
		t.Fatalf("expected ErrBufferFull while a frame is pending, got %v", err)
	}

	f, _ := d.GetData()
	if f.Frames != 960 || f.Duration != 20*time.Millisecond {
		t.Errorf("expected 960 frames of 20ms, got %d frames of %v", f.Frames, f.Duration)
	}
	if f, _ := d.GetData(); f != nil {
		t.Error("expected no further output")
	}

	pkt.PTS = audio.NoPTS
	if err := d.AddData(pkt); err != nil {
		t.Fatalf("AddData after GetData failed: %v", err)
	}
	f, _ = d.GetData()
	if f.PTS != 20*time.Millisecond {
		t.Errorf("expected continued pts 20ms, got %v", f.PTS)
	}
}

func TestPCMRejects(t *testing.T) {
	if _, err := NewPCM(Hints{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 12}); !errors.Is(err, ErrUnsupportedCodec) {
		t.Errorf("expected ErrUnsupportedCodec for 12-bit, got %v", err)
	}
	if _, err := NewPCM(Hints{Codec: "opus"}); err == nil {
		t.Error("expected error for invalid codec")
	}

	d, _ := NewPCM(Hints{Codec: "pcm", SampleRate: 48000, Channels: 2, BitDepth: 16})
	if err := d.AddData(Packet{Data: []byte{1, 2}}); !errors.Is(err, ErrNeedMoreData) {
		t.Errorf("expected ErrNeedMoreData, got %v", err)
	}
}
