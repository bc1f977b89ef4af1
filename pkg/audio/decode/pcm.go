// ABOUTME: PCM audio decoder
// ABOUTME: Unpacks 16/24/32-bit and float PCM packets to 24-bit int32 samples
package decode

import (
	"fmt"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
)

// PCMDecoder decodes PCM audio
type PCMDecoder struct {
	format audio.Format
	out    pending
}

// NewPCM creates a new PCM decoder
func NewPCM(h Hints) (*PCMDecoder, error) {
	if h.Codec != "pcm" {
		return nil, fmt.Errorf("invalid codec for PCM decoder: %s", h.Codec)
	}
	format := h.Format()
	if !format.DataFormat.IsPCM() {
		return nil, fmt.Errorf("unsupported bit depth %d: %w", h.BitDepth, ErrUnsupportedCodec)
	}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("pcm stream needs rate and channels: %w", ErrUnsupportedCodec)
	}
	if format.BitDepth == 0 {
		format.BitDepth = format.DataFormat.BytesPerSample() * 8
	}
	return &PCMDecoder{format: format, out: newPending()}, nil
}

// Name returns the decoder name.
func (d *PCMDecoder) Name() string { return "pcm" }

// AddData unpacks a packet into the pending frame.
func (d *PCMDecoder) AddData(pkt Packet) error {
	if d.out.full() {
		return ErrBufferFull
	}
	frameBytes := d.format.FrameSize()
	if len(pkt.Data) < frameBytes {
		return fmt.Errorf("pcm packet of %d bytes: %w", len(pkt.Data), ErrNeedMoreData)
	}

	samples := audio.UnpackSamples(nil, pkt.Data[:len(pkt.Data)/frameBytes*frameBytes], d.format.DataFormat)
	frames := len(samples) / d.format.Channels
	f := &audio.Frame{
		PTS:      pkt.PTS,
		Duration: d.format.FramesToDuration(frames),
		Format:   d.format,
		Samples:  samples,
		Frames:   frames,
	}
	d.out.stamp(f)
	d.out.frame = f
	return nil
}

// GetData returns the pending frame.
func (d *PCMDecoder) GetData() (*audio.Frame, error) {
	return d.out.take(), nil
}

// Reset drops pending output.
func (d *PCMDecoder) Reset() { d.out.reset() }

// Format returns the stream format.
func (d *PCMDecoder) Format() audio.Format { return d.format }

// NeedPassthrough is false for PCM.
func (d *PCMDecoder) NeedPassthrough() bool { return false }

// Close releases resources
func (d *PCMDecoder) Close() error { return nil }
