// ABOUTME: FLAC file source
// ABOUTME: Decodes frames with mewkiz/flac and emits them as PCM packets
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
	"github.com/mewkiz/flac"
)

// FLAC reads a FLAC file. mewkiz/flac does not expose raw frame bytes, so
// frames are decoded here and travel as PCM.
type FLAC struct {
	file    *os.File
	stream  *flac.Stream
	hints   decode.Hints
	bits    int
	title   string
	samples []int32
	pts     time.Duration
}

// NewFLAC opens path.
func NewFLAC(path string) (*FLAC, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open FLAC file: %w", err)
	}
	stream, err := flac.New(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode FLAC: %w", err)
	}

	info := stream.Info
	bits := int(info.BitsPerSample)
	depth := 24
	if bits <= 16 {
		depth = 16
	}
	s := &FLAC{
		file:   f,
		stream: stream,
		bits:   bits,
		title:  titleOf(path),
		hints: decode.Hints{
			Codec:      "pcm",
			SampleRate: int(info.SampleRate),
			Channels:   int(info.NChannels),
			BitDepth:   depth,
		},
	}
	slog.Info("loaded FLAC", "title", s.title, "rate", info.SampleRate,
		"channels", info.NChannels, "bits", bits)
	return s, nil
}

// Hints describes the PCM packets.
func (s *FLAC) Hints() decode.Hints { return s.hints }

// Next decodes one FLAC frame into a packet.
func (s *FLAC) Next() (decode.Packet, error) {
	frame, err := s.stream.ParseNext()
	if errors.Is(err, io.EOF) {
		return decode.Packet{}, io.EOF
	}
	if err != nil {
		return decode.Packet{}, fmt.Errorf("flac frame: %w", err)
	}

	n := int(frame.BlockSize)
	ch := s.hints.Channels
	s.samples = s.samples[:0]
	for i := 0; i < n; i++ {
		for c := 0; c < ch; c++ {
			s.samples = append(s.samples, scaleTo24(frame.Subframes[c].Samples[i], s.bits))
		}
	}

	format := s.hints.Format()
	pkt := decode.Packet{
		Data:     audio.PackSamples(nil, s.samples, format.DataFormat),
		PTS:      s.pts,
		Duration: format.FramesToDuration(n),
	}
	s.pts += pkt.Duration
	return pkt, nil
}

func scaleTo24(v int32, bits int) int32 {
	if bits <= 24 {
		return v << (24 - bits)
	}
	return v >> (bits - 24)
}

// Metadata returns the file name as title.
func (s *FLAC) Metadata() (string, string, string) {
	return s.title, "Unknown Artist", "Unknown Album"
}

// Close closes the file.
func (s *FLAC) Close() error {
	return s.file.Close()
}
