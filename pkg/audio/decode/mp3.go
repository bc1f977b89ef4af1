// ABOUTME: MP3 audio decoder
// ABOUTME: Streams packets through go-mp3, one complete frame at a time
package decode

import (
	"fmt"
	"io"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
	"github.com/hajimehoshi/go-mp3"
)

const (
	maxMP3Feed = 64 * 1024
	// go-mp3 always produces 16-bit stereo
	mp3PCMFrame = 1152 * 2 * 2
)

// MP3Decoder decodes MP3 audio. go-mp3 pulls from a feed and is only asked
// for more output when the next frame is complete in the feed, so it never
// sees a short read.
type MP3Decoder struct {
	decoder *mp3.Decoder
	feed    feed
	ahead   bool // go-mp3 holds a decoded frame not yet read
	pts     []time.Duration
	format  audio.Format
	pcm     []byte
	out     pending
}

// NewMP3 creates a new MP3 decoder
func NewMP3(h Hints) (*MP3Decoder, error) {
	if h.Codec != "mp3" {
		return nil, fmt.Errorf("invalid codec for MP3 decoder: %s", h.Codec)
	}
	return &MP3Decoder{
		format: audio.Format{
			Codec:      "mp3",
			SampleRate: h.SampleRate,
			Channels:   2,
			BitDepth:   16,
			DataFormat: audio.FormatS16LE,
		},
		pcm: make([]byte, mp3PCMFrame),
		out: newPending(),
	}, nil
}

// Name returns the decoder name.
func (d *MP3Decoder) Name() string { return "mp3" }

// AddData appends a packet of whole frames to the feed.
func (d *MP3Decoder) AddData(pkt Packet) error {
	if d.feed.Len()+len(pkt.Data) > maxMP3Feed {
		return ErrBufferFull
	}
	if len(pkt.Data) == 0 {
		return ErrNeedMoreData
	}

	// One timestamp per frame; frames after the first continue from it.
	pts := pkt.PTS
	for b := pkt.Data; len(b) >= 4; {
		hdr, ok := ParseMP3Header(b)
		if !ok {
			break
		}
		d.pts = append(d.pts, pts)
		pts = audio.NoPTS
		if hdr.FrameSize > len(b) {
			break
		}
		b = b[hdr.FrameSize:]
	}
	d.feed.Write(pkt.Data)
	return nil
}

// frameReady reports whether a complete frame sits at the front of the feed,
// dropping junk before it.
func (d *MP3Decoder) frameReady() bool {
	b := d.feed.Bytes()
	off := SyncMP3(b)
	if off < 0 {
		if len(b) > 3 {
			d.feed.Skip(len(b) - 3)
		}
		return false
	}
	d.feed.Skip(off)
	hdr, _ := ParseMP3Header(d.feed.Bytes())
	return d.feed.Len() >= hdr.FrameSize
}

// GetData decodes one frame when its input is complete.
func (d *MP3Decoder) GetData() (*audio.Frame, error) {
	if d.decoder == nil {
		if !d.frameReady() {
			return nil, nil
		}
		dec, err := mp3.NewDecoder(&d.feed)
		if err != nil {
			d.Reset()
			return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
		}
		d.decoder = dec
		d.ahead = true
		d.format.SampleRate = dec.SampleRate()
	}

	if !d.ahead && !d.frameReady() {
		return nil, nil
	}
	n, err := io.ReadFull(d.decoder, d.pcm)
	if err != nil && err != io.ErrUnexpectedEOF {
		d.Reset()
		return nil, fmt.Errorf("mp3 decode error: %w", err)
	}
	d.ahead = false

	samples := audio.UnpackSamples(nil, d.pcm[:n], audio.FormatS16LE)
	frames := len(samples) / 2
	pts := audio.NoPTS
	if len(d.pts) > 0 {
		pts = d.pts[0]
		d.pts = d.pts[1:]
	}
	f := &audio.Frame{
		PTS:      pts,
		Duration: d.format.FramesToDuration(frames),
		Format:   d.format,
		Samples:  samples,
		Frames:   frames,
	}
	d.out.stamp(f)
	return f, nil
}

// Reset drops buffered input and decoder state.
func (d *MP3Decoder) Reset() {
	d.decoder = nil
	d.ahead = false
	d.feed.Reset()
	d.pts = d.pts[:0]
	d.out.reset()
}

// Format returns the decoded format.
func (d *MP3Decoder) Format() audio.Format { return d.format }

// NeedPassthrough is false for MP3.
func (d *MP3Decoder) NeedPassthrough() bool { return false }

// Close releases decoder resources
func (d *MP3Decoder) Close() error {
	d.Reset()
	return nil
}
