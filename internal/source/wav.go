// ABOUTME: WAV file source
// ABOUTME: Reads PCM with go-wav and cuts it into fixed-length packets
package source

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
	"github.com/Resonate-Protocol/audiopipe/pkg/audio/decode"
	"github.com/youpy/go-wav"
)

// WAV reads a mono or stereo PCM WAV file.
type WAV struct {
	file    *os.File
	reader  *wav.Reader
	hints   decode.Hints
	title   string
	bits    int
	frames  int
	pts     time.Duration
	samples []int32
}

// NewWAV opens path.
func NewWAV(path string) (*WAV, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file: %w", err)
	}
	reader := wav.NewReader(f)
	format, err := reader.Format()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read WAV format: %w", err)
	}
	if format.AudioFormat != wav.AudioFormatPCM {
		f.Close()
		return nil, fmt.Errorf("unsupported WAV format: %d (only PCM supported)", format.AudioFormat)
	}
	if format.NumChannels < 1 || format.NumChannels > 2 {
		f.Close()
		return nil, fmt.Errorf("unsupported WAV channel count %d", format.NumChannels)
	}
	bits := int(format.BitsPerSample)
	if bits != 16 && bits != 24 && bits != 32 {
		f.Close()
		return nil, fmt.Errorf("unsupported WAV bit depth %d", bits)
	}

	hints := decode.Hints{
		Codec:      "pcm",
		SampleRate: int(format.SampleRate),
		Channels:   int(format.NumChannels),
		BitDepth:   min(bits, 24),
	}
	s := &WAV{
		file:   f,
		reader: reader,
		hints:  hints,
		title:  titleOf(path),
		bits:   bits,
		frames: hints.Format().DurationToFrames(packetTime),
	}
	slog.Info("loaded WAV", "title", s.title, "rate", format.SampleRate,
		"channels", format.NumChannels, "bits", bits)
	return s, nil
}

// Hints describes the stream.
func (s *WAV) Hints() decode.Hints { return s.hints }

// Next returns the next packet.
func (s *WAV) Next() (decode.Packet, error) {
	frames, err := s.reader.ReadSamples(uint32(s.frames))
	if len(frames) == 0 {
		if err == nil || errors.Is(err, io.EOF) {
			return decode.Packet{}, io.EOF
		}
		return decode.Packet{}, fmt.Errorf("wav read: %w", err)
	}

	format := s.hints.Format()
	s.samples = s.samples[:0]
	for _, fr := range frames {
		for c := 0; c < format.Channels; c++ {
			s.samples = append(s.samples, wavTo24(fr.Values[c], s.bits))
		}
	}
	pkt := decode.Packet{
		Data:     audio.PackSamples(nil, s.samples, format.DataFormat),
		PTS:      s.pts,
		Duration: format.FramesToDuration(len(frames)),
	}
	s.pts += pkt.Duration
	return pkt, nil
}

// wavTo24 scales a sample of the file's width to the 24-bit range.
func wavTo24(v int, bits int) int32 {
	switch bits {
	case 16:
		return int32(v) << 8
	case 32:
		return int32(v >> 8)
	default:
		return int32(v)
	}
}

// Metadata returns the file name as title.
func (s *WAV) Metadata() (string, string, string) {
	return s.title, "Unknown Artist", "Unknown Album"
}

// Close closes the file.
func (s *WAV) Close() error {
	return s.file.Close()
}
