// ABOUTME: MP3 file demuxer
// ABOUTME: Cuts the stream into single frames with their timestamps
package source

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio/decode"
)

// MP3 reads MPEG-1 Layer III frames from a file.
type MP3 struct {
	file   *os.File
	r      *bufio.Reader
	hints  decode.Hints
	title  string
	frames int64
}

// NewMP3 opens path and reads the first frame header.
func NewMP3(path string) (*MP3, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 file: %w", err)
	}
	s := &MP3{file: f, r: bufio.NewReaderSize(f, 64*1024), title: titleOf(path)}
	if err := s.skipID3(); err != nil {
		f.Close()
		return nil, err
	}
	hdr, err := s.sync()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("no MP3 frame found: %w", err)
	}
	s.hints = decode.Hints{
		Codec:      "mp3",
		SampleRate: hdr.SampleRate,
		Channels:   hdr.Channels,
		BitDepth:   16,
		Bitrate:    hdr.Bitrate * 1000,
	}
	slog.Info("loaded MP3", "title", s.title, "rate", hdr.SampleRate, "bitrate", hdr.Bitrate)
	return s, nil
}

// skipID3 steps over an ID3v2 tag.
func (s *MP3) skipID3() error {
	head, err := s.r.Peek(10)
	if err != nil || string(head[:3]) != "ID3" {
		return nil
	}
	size := int(head[6])<<21 | int(head[7])<<14 | int(head[8])<<7 | int(head[9])
	if _, err := s.r.Discard(10 + size); err != nil {
		return fmt.Errorf("truncated ID3 tag: %w", err)
	}
	return nil
}

// sync discards bytes up to the next frame header.
func (s *MP3) sync() (decode.MP3Header, error) {
	for {
		head, err := s.r.Peek(4)
		if err != nil {
			return decode.MP3Header{}, err
		}
		if hdr, ok := decode.ParseMP3Header(head); ok {
			return hdr, nil
		}
		if _, err := s.r.Discard(1); err != nil {
			return decode.MP3Header{}, err
		}
	}
}

// Hints describes the stream.
func (s *MP3) Hints() decode.Hints { return s.hints }

// Next returns one frame.
func (s *MP3) Next() (decode.Packet, error) {
	hdr, err := s.sync()
	if err != nil {
		return decode.Packet{}, io.EOF
	}
	data := make([]byte, hdr.FrameSize)
	if _, err := io.ReadFull(s.r, data); err != nil {
		return decode.Packet{}, io.EOF
	}
	frameTime := time.Duration(hdr.Samples) * time.Second / time.Duration(hdr.SampleRate)
	pkt := decode.Packet{
		Data:     data,
		PTS:      time.Duration(s.frames*int64(hdr.Samples)) * time.Second / time.Duration(hdr.SampleRate),
		Duration: frameTime,
	}
	s.frames++
	return pkt, nil
}

// Metadata returns the file name as title.
func (s *MP3) Metadata() (string, string, string) {
	return s.title, "Unknown Artist", "Unknown Album"
}

// Close closes the file.
func (s *MP3) Close() error {
	return s.file.Close()
}
