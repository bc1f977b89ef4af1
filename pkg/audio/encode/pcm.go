// ABOUTME: PCM audio encoder
// ABOUTME: Packs samples in any integer or float PCM layout
package encode

import (
	"fmt"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
)

// PCMEncoder encodes PCM audio
type PCMEncoder struct {
	format audio.Format
}

// NewPCM creates a new PCM encoder. The layout comes from DataFormat, or
// from BitDepth when DataFormat is unset.
func NewPCM(format audio.Format) (*PCMEncoder, error) {
	if format.Codec != "pcm" {
		return nil, fmt.Errorf("invalid codec for PCM encoder: %s", format.Codec)
	}
	if format.DataFormat == audio.FormatInvalid {
		format.DataFormat = audio.SampleFormatForDepth(format.BitDepth)
	}
	if !format.DataFormat.IsPCM() {
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16, 24, 32)", format.BitDepth)
	}
	if format.BitDepth == 0 {
		format.BitDepth = format.DataFormat.BytesPerSample() * 8
	}
	return &PCMEncoder{format: format}, nil
}

// Encode converts int32 samples to PCM bytes
func (e *PCMEncoder) Encode(samples []int32) ([]byte, error) {
	if len(samples)%e.format.Channels != 0 {
		return nil, fmt.Errorf("pcm encode: %d samples is not a whole number of %d-channel frames",
			len(samples), e.format.Channels)
	}
	return audio.PackSamples(nil, samples, e.format.DataFormat), nil
}

// PacketFrames is 0; PCM packets can be any length.
func (e *PCMEncoder) PacketFrames() int { return 0 }

// Format returns the packet format.
func (e *PCMEncoder) Format() audio.Format { return e.format }

// Close releases resources
func (e *PCMEncoder) Close() error { return nil }
