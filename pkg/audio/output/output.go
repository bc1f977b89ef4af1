// ABOUTME: Audio output device interface and device factory
// ABOUTME: Devices take packed frames in the format they accepted at Open
package output

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
)

var (
	// ErrDeviceClosed is returned by Write on a device that is not open.
	ErrDeviceClosed = errors.New("output: device closed")

	// ErrUnknownDevice is returned by New for an unrecognised device id.
	ErrUnknownDevice = errors.New("output: unknown device")
)

// Device is an audio output backend.
type Device interface {
	// Name returns the device id.
	Name() string

	// Open configures the device for the requested format and returns the
	// format it actually accepted. Callers must convert to that format.
	Open(format audio.Format) (audio.Format, error)

	// Write plays packed frames in the accepted format. It blocks until
	// every frame has been accepted and returns the frame count.
	Write(data []byte) (int, error)

	// Delay returns the audio that was written but is not yet audible.
	Delay() time.Duration

	// BufferSize returns the device cache size.
	BufferSize() time.Duration

	// Drain blocks until buffered audio has played.
	Drain() error

	// Flush drops buffered audio.
	Flush()

	// Close releases the device. A closed device may be opened again.
	Close() error
}

// Factory opens devices by id.
type Factory func(id string) (Device, error)

// Known returns the device ids New understands.
func Known() []string {
	return []string{"null", "malgo", "oto", "portaudio[:index]", "wav:<path>"}
}

// New creates a device from an id such as "malgo", "portaudio:2" or
// "wav:/tmp/out.wav". An empty id selects malgo.
func New(id string) (Device, error) {
	kind, arg, _ := strings.Cut(id, ":")
	switch kind {
	case "", "default", "malgo":
		return NewMalgo(), nil
	case "null":
		return NewNull(), nil
	case "oto":
		return NewOto(), nil
	case "portaudio":
		index := 0
		if arg != "" {
			n, err := strconv.Atoi(arg)
			if err != nil {
				return nil, fmt.Errorf("portaudio device index %q: %w", arg, err)
			}
			index = n
		}
		return NewPortAudio(index), nil
	case "wav":
		if arg == "" {
			return nil, fmt.Errorf("wav device needs a path: %w", ErrUnknownDevice)
		}
		return NewWAV(arg), nil
	}
	return nil, fmt.Errorf("%q: %w", id, ErrUnknownDevice)
}

// pcmCarrier returns the PCM format an encoded stream is carried in.
func pcmCarrier(f audio.Format) audio.Format {
	if !f.Passthrough() {
		return f
	}
	return audio.Format{
		Codec:      "pcm",
		SampleRate: f.SampleRate,
		Channels:   2,
		BitDepth:   16,
		DataFormat: audio.FormatS16LE,
	}
}

// integerPCM maps a format to the closest little-endian integer layout.
func integerPCM(f audio.Format) audio.Format {
	f = pcmCarrier(f)
	switch f.DataFormat {
	case audio.FormatS16BE:
		f.DataFormat = audio.FormatS16LE
	case audio.FormatF32LE:
		f.DataFormat = audio.FormatS32LE
		f.BitDepth = 32
	}
	return f
}
