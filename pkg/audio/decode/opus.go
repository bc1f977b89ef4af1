// ABOUTME: Opus audio decoder
// ABOUTME: Decodes one Opus packet per call to 24-bit int32 samples
package decode

import (
	"fmt"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
	"gopkg.in/hraban/opus.v2"
)

// maxOpusFrame is 120ms at 48kHz, the longest Opus packet.
const maxOpusFrame = 5760

// OpusDecoder decodes Opus audio
type OpusDecoder struct {
	decoder *opus.Decoder
	format  audio.Format
	pcm16   []int16
	out     pending
}

// NewOpus creates a new Opus decoder
func NewOpus(h Hints) (*OpusDecoder, error) {
	if h.Codec != "opus" {
		return nil, fmt.Errorf("invalid codec for Opus decoder: %s", h.Codec)
	}

	dec, err := opus.NewDecoder(h.SampleRate, h.Channels)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	format := audio.Format{
		Codec:      "opus",
		SampleRate: h.SampleRate,
		Channels:   h.Channels,
		BitDepth:   16,
		DataFormat: audio.FormatS16LE,
	}
	return &OpusDecoder{
		decoder: dec,
		format:  format,
		pcm16:   make([]int16, maxOpusFrame*h.Channels),
		out:     newPending(),
	}, nil
}

// Name returns the decoder name.
func (d *OpusDecoder) Name() string { return "opus" }

// AddData decodes one Opus packet
func (d *OpusDecoder) AddData(pkt Packet) error {
	if d.out.full() {
		return ErrBufferFull
	}
	if len(pkt.Data) == 0 {
		return ErrNeedMoreData
	}

	n, err := d.decoder.Decode(pkt.Data, d.pcm16)
	if err != nil {
		return fmt.Errorf("opus decode failed: %w", err)
	}

	// Opus is always 16-bit
	samples := make([]int32, n*d.format.Channels)
	for i := range samples {
		samples[i] = audio.SampleFromInt16(d.pcm16[i])
	}
	f := &audio.Frame{
		PTS:      pkt.PTS,
		Duration: d.format.FramesToDuration(n),
		Format:   d.format,
		Samples:  samples,
		Frames:   n,
	}
	d.out.stamp(f)
	d.out.frame = f
	return nil
}

// GetData returns the pending frame.
func (d *OpusDecoder) GetData() (*audio.Frame, error) {
	return d.out.take(), nil
}

// Reset drops pending output and decoder state.
func (d *OpusDecoder) Reset() {
	d.out.reset()
	if dec, err := opus.NewDecoder(d.format.SampleRate, d.format.Channels); err == nil {
		d.decoder = dec
	}
}

// Format returns the decoded format.
func (d *OpusDecoder) Format() audio.Format { return d.format }

// NeedPassthrough is false for Opus.
func (d *OpusDecoder) NeedPassthrough() bool { return false }

// Close releases decoder resources
func (d *OpusDecoder) Close() error { return nil }
