// ABOUTME: Source interface and selection by path
// ABOUTME: Picks a file demuxer by extension or the tone generator
package source

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio/decode"
)

// packetTime is the length of packets cut from uncompressed audio.
const packetTime = 20 * time.Millisecond

// Source produces demuxed packets. Next returns io.EOF after the last
// packet.
type Source interface {
	Hints() decode.Hints
	Next() (decode.Packet, error)
	Metadata() (title, artist, album string)
	Close() error
}

// Open selects a source for path by extension.
func Open(path string) (Source, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("audio file: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		return NewMP3(path)
	case ".flac":
		return NewFLAC(path)
	case ".wav":
		return NewWAV(path)
	default:
		return nil, fmt.Errorf("unsupported audio format: %s (supported: .mp3, .flac, .wav)", ext)
	}
}

func titleOf(path string) string {
	name := filepath.Base(path)
	return strings.TrimSuffix(name, filepath.Ext(name))
}
