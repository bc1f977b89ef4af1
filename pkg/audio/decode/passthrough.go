// ABOUTME: Passthrough decoder for AC3, E-AC3 and DTS bitstreams
// ABOUTME: Forwards encoded frames untouched for IEC 61937 packing in the sink
package decode

import (
	"encoding/binary"
	"fmt"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
	"github.com/Resonate-Protocol/audiopipe/pkg/audio/iec"
)

const dtsSync = 0x7FFE8001

// PassthroughDecoder hands encoded frames to the sink unchanged.
type PassthroughDecoder struct {
	codec      string
	streamRate int
	streamType audio.StreamType
	format     audio.Format
	out        pending
}

// NewPassthrough creates a passthrough decoder. DTS streams settle their
// burst type on the first frame.
func NewPassthrough(h Hints) (*PassthroughDecoder, error) {
	st := streamTypeForCodec(h.Codec)
	if st == audio.StreamNone {
		return nil, fmt.Errorf("%q passthrough: %w", h.Codec, ErrUnsupportedCodec)
	}
	rate := h.SampleRate
	if rate == 0 {
		rate = 48000
	}
	d := &PassthroughDecoder{codec: h.Codec, streamRate: rate, out: newPending()}
	d.setStreamType(st)
	return d, nil
}

func (d *PassthroughDecoder) setStreamType(st audio.StreamType) {
	d.streamType = st
	d.format = audio.Format{
		Codec:      d.codec,
		SampleRate: iec.CarrierRate(st, d.streamRate),
		Channels:   2,
		BitDepth:   16,
		DataFormat: audio.FormatRAW,
		StreamType: st,
	}
}

// Name returns the decoder name.
func (d *PassthroughDecoder) Name() string { return "passthrough-" + d.codec }

// AddData wraps one encoded frame.
func (d *PassthroughDecoder) AddData(pkt Packet) error {
	if d.out.full() {
		return ErrBufferFull
	}
	if len(pkt.Data) == 0 {
		return ErrNeedMoreData
	}
	if d.codec == "dts" {
		st, err := dtsStreamType(pkt.Data)
		if err != nil {
			return err
		}
		if st != d.streamType {
			d.setStreamType(st)
		}
	}

	frames := d.streamType.FramesPerBurst()
	f := &audio.Frame{
		PTS:      pkt.PTS,
		Duration: d.format.FramesToDuration(frames),
		Format:   d.format,
		Data:     append([]byte(nil), pkt.Data...),
		Frames:   frames,
	}
	d.out.stamp(f)
	d.out.frame = f
	return nil
}

// GetData returns the pending frame.
func (d *PassthroughDecoder) GetData() (*audio.Frame, error) {
	return d.out.take(), nil
}

// Reset drops pending output.
func (d *PassthroughDecoder) Reset() { d.out.reset() }

// Format returns the carrier format.
func (d *PassthroughDecoder) Format() audio.Format { return d.format }

// StreamType returns the current burst type.
func (d *PassthroughDecoder) StreamType() audio.StreamType { return d.streamType }

// NeedPassthrough is always true.
func (d *PassthroughDecoder) NeedPassthrough() bool { return true }

// Close releases resources
func (d *PassthroughDecoder) Close() error { return nil }

func streamTypeForCodec(codec string) audio.StreamType {
	switch codec {
	case "ac3":
		return audio.StreamAC3
	case "eac3":
		return audio.StreamEAC3
	case "dts":
		return audio.StreamDTS512
	}
	return audio.StreamNone
}

// dtsStreamType reads the block count from a core DTS frame header.
func dtsStreamType(b []byte) (audio.StreamType, error) {
	if len(b) < 6 {
		return audio.StreamNone, ErrNeedMoreData
	}
	if binary.BigEndian.Uint32(b) != dtsSync {
		return audio.StreamNone, fmt.Errorf("dts frame without core sync: %w", ErrUnsupportedCodec)
	}
	nblks := int(b[4]&0x01)<<6 | int(b[5]>>2)
	switch (nblks + 1) * 32 {
	case 512:
		return audio.StreamDTS512, nil
	case 1024:
		return audio.StreamDTS1024, nil
	case 2048:
		return audio.StreamDTS2048, nil
	}
	return audio.StreamNone, fmt.Errorf("dts frame of %d samples: %w", (nblks+1)*32, ErrUnsupportedCodec)
}
