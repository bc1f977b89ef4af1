// ABOUTME: FLAC audio decoder
// ABOUTME: Parses whole FLAC frames from packets with mewkiz/flac
package decode

import (
	"bytes"
	"fmt"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
	"github.com/mewkiz/flac"
)

// FLACDecoder decodes FLAC audio. Packets carry whole frames; the stream
// header (fLaC marker and metadata) comes from the codec header.
type FLACDecoder struct {
	header  []byte
	stream  *flac.Stream
	feed    feed
	queued  int // complete frames fed but not parsed
	pts     []time.Duration
	format  audio.Format
	bitsPer int
	out     pending
}

// NewFLAC creates a new FLAC decoder
func NewFLAC(h Hints) (*FLACDecoder, error) {
	if h.Codec != "flac" {
		return nil, fmt.Errorf("invalid codec for FLAC decoder: %s", h.Codec)
	}
	if !bytes.HasPrefix(h.CodecHeader, []byte("fLaC")) {
		return nil, fmt.Errorf("flac stream without stream header: %w", ErrUnsupportedCodec)
	}

	d := &FLACDecoder{header: h.CodecHeader, out: newPending()}
	if err := d.open(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *FLACDecoder) open() error {
	d.feed.Reset()
	d.feed.Write(d.header)
	stream, err := flac.New(&d.feed)
	if err != nil {
		return fmt.Errorf("failed to parse FLAC header: %w", err)
	}
	d.stream = stream
	d.bitsPer = int(stream.Info.BitsPerSample)
	d.format = audio.Format{
		Codec:      "flac",
		SampleRate: int(stream.Info.SampleRate),
		Channels:   int(stream.Info.NChannels),
		BitDepth:   24,
		DataFormat: audio.FormatS24LE3,
	}
	return nil
}

// Name returns the decoder name.
func (d *FLACDecoder) Name() string { return "flac" }

// AddData appends one complete frame.
func (d *FLACDecoder) AddData(pkt Packet) error {
	if d.queued > 0 {
		return ErrBufferFull
	}
	if len(pkt.Data) == 0 {
		return ErrNeedMoreData
	}
	if d.stream == nil {
		if err := d.open(); err != nil {
			return err
		}
	}
	d.feed.Write(pkt.Data)
	d.queued++
	d.pts = append(d.pts, pkt.PTS)
	return nil
}

// GetData parses the queued frame.
func (d *FLACDecoder) GetData() (*audio.Frame, error) {
	if d.queued == 0 {
		return nil, nil
	}
	d.queued--
	pts := d.pts[0]
	d.pts = d.pts[1:]

	fr, err := d.stream.ParseNext()
	if err != nil {
		d.Reset()
		return nil, fmt.Errorf("flac decode error: %w", err)
	}

	// Convert frame samples to int32 24-bit range
	n := int(fr.BlockSize)
	channels := len(fr.Subframes)
	samples := make([]int32, 0, n*channels)
	for i := 0; i < n; i++ {
		for ch := 0; ch < channels; ch++ {
			samples = append(samples, to24Bit(fr.Subframes[ch].Samples[i], d.bitsPer))
		}
	}

	f := &audio.Frame{
		PTS:      pts,
		Duration: d.format.FramesToDuration(n),
		Format:   d.format,
		Samples:  samples,
		Frames:   n,
	}
	d.out.stamp(f)
	return f, nil
}

// Reset restarts parsing from the stream header.
func (d *FLACDecoder) Reset() {
	d.queued = 0
	d.pts = d.pts[:0]
	d.out.reset()
	if err := d.open(); err != nil {
		d.stream = nil
	}
}

// Format returns the decoded format.
func (d *FLACDecoder) Format() audio.Format { return d.format }

// NeedPassthrough is false for FLAC.
func (d *FLACDecoder) NeedPassthrough() bool { return false }

// Close releases decoder resources
func (d *FLACDecoder) Close() error { return nil }
