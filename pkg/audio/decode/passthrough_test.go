// ABOUTME: Tests for the passthrough decoder
// ABOUTME: Checks carrier formats and DTS burst type detection
package decode

import (
	"errors"
	"testing"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
)

func dtsFrame(samples int) []byte {
	nblks := samples/32 - 1
	b := []byte{0x7F, 0xFE, 0x80, 0x01, 0, 0, 0, 0}
	b[4] = byte(nblks >> 6)
	b[5] = byte(nblks&0x3F) << 2
	return b
}

func TestPassthroughAC3(t *testing.T) {
	d, err := NewPassthrough(Hints{Codec: "ac3", SampleRate: 48000})
	if err != nil {
		t.Fatalf("NewPassthrough failed: %v", err)
	}
	if !d.NeedPassthrough() {
		t.Error("expected passthrough")
	}

	payload := []byte{0x0B, 0x77, 1, 2, 3}
	if err := d.AddData(Packet{Data: payload, PTS: time.Second}); err != nil {
		t.Fatalf("AddData failed: %v", err)
	}
	f, _ := d.GetData()
	if f == nil {
		t.Fatal("expected a frame")
	}
	if f.Format.DataFormat != audio.FormatRAW || f.Format.StreamType != audio.StreamAC3 {
		t.Errorf("unexpected format %s", f.Format)
	}
	if f.Frames != 1536 || f.Duration != 32*time.Millisecond {
		t.Errorf("expected 1536 frames of 32ms, got %d frames of %v", f.Frames, f.Duration)
	}
	payload[0] = 0
	if f.Data[0] != 0x0B {
		t.Error("frame must own its payload")
	}
}

func TestPassthroughEAC3Carrier(t *testing.T) {
	d, _ := NewPassthrough(Hints{Codec: "eac3", SampleRate: 48000})
	if d.Format().SampleRate != 192000 {
		t.Errorf("expected 192kHz carrier, got %d", d.Format().SampleRate)
	}
}

func TestPassthroughDTSTypes(t *testing.T) {
	tests := []struct {
		samples int
		want    audio.StreamType
	}{
		{512, audio.StreamDTS512},
		{1024, audio.StreamDTS1024},
		{2048, audio.StreamDTS2048},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			d, _ := NewPassthrough(Hints{Codec: "dts", SampleRate: 48000})
			if err := d.AddData(Packet{Data: dtsFrame(tt.samples)}); err != nil {
				t.Fatalf("AddData failed: %v", err)
			}
			f, _ := d.GetData()
			if f.Format.StreamType != tt.want {
				t.Errorf("expected %s, got %s", tt.want, f.Format.StreamType)
			}
			if f.Frames != tt.samples {
				t.Errorf("expected %d frames, got %d", tt.samples, f.Frames)
			}
		})
	}

	d, _ := NewPassthrough(Hints{Codec: "dts"})
	if err := d.AddData(Packet{Data: []byte{1, 2, 3, 4, 5, 6}}); !errors.Is(err, ErrUnsupportedCodec) {
		t.Errorf("expected ErrUnsupportedCodec for missing sync, got %v", err)
	}
}
