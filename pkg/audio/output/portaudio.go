//go:build portaudio

// ABOUTME: PortAudio output implementation
// ABOUTME: Blocking-write stream on a selectable device via go-portaudio
package output

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
	"github.com/drgolem/go-portaudio/portaudio"
)

const (
	portAudioFramesPerBuffer = 512
	portAudioBuffers         = 4
)

// PortAudio output implementation
type PortAudio struct {
	mu          sync.Mutex
	deviceIndex int
	stream      *portaudio.PaStream
	format      audio.Format
	initialized bool
	lastWrite   time.Time
}

// NewPortAudio creates a new PortAudio output on the given device index
func NewPortAudio(deviceIndex int) *PortAudio {
	return &PortAudio{deviceIndex: deviceIndex}
}

// Name returns the device id.
func (p *PortAudio) Name() string {
	return fmt.Sprintf("portaudio:%d", p.deviceIndex)
}

// Open initializes PortAudio and opens a blocking stream
func (p *PortAudio) Open(format audio.Format) (audio.Format, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	accepted := integerPCM(format)
	var sampleFormat portaudio.PaSampleFormat
	switch accepted.DataFormat {
	case audio.FormatS16LE:
		sampleFormat = portaudio.SampleFmtInt16
	case audio.FormatS24LE3:
		sampleFormat = portaudio.SampleFmtInt24
	case audio.FormatS32LE:
		sampleFormat = portaudio.SampleFmtInt32
	default:
		return audio.Format{}, fmt.Errorf("portaudio: unsupported sample format %s", accepted.DataFormat)
	}

	p.closeStream()
	if !p.initialized {
		if err := portaudio.Initialize(); err != nil {
			return audio.Format{}, fmt.Errorf("failed to initialize portaudio: %w", err)
		}
		p.initialized = true
		slog.Info("PortAudio initialized", "version", portaudio.GetVersion())
	}

	outParams := portaudio.PaStreamParameters{
		DeviceIndex:  p.deviceIndex,
		ChannelCount: accepted.Channels,
		SampleFormat: sampleFormat,
	}
	stream, err := portaudio.NewStream(outParams, float64(accepted.SampleRate))
	if err != nil {
		return audio.Format{}, fmt.Errorf("failed to create stream: %w", err)
	}
	if err := stream.Open(portAudioFramesPerBuffer); err != nil {
		return audio.Format{}, fmt.Errorf("failed to open stream: %w", err)
	}
	if err := stream.StartStream(); err != nil {
		stream.Close()
		return audio.Format{}, fmt.Errorf("failed to start stream: %w", err)
	}

	p.stream = stream
	p.format = accepted
	slog.Info("audio output initialized", "backend", "portaudio",
		"device", p.deviceIndex, "format", accepted.String())
	return accepted, nil
}

// Write outputs packed frames in chunks of one host buffer
func (p *PortAudio) Write(data []byte) (int, error) {
	p.mu.Lock()
	stream := p.stream
	frameSize := p.format.FrameSize()
	p.mu.Unlock()
	if stream == nil || frameSize == 0 {
		return 0, ErrDeviceClosed
	}

	frames := len(data) / frameSize
	chunk := portAudioFramesPerBuffer * frameSize
	for off := 0; off < frames*frameSize; off += chunk {
		end := min(off+chunk, frames*frameSize)
		if err := stream.Write((end-off)/frameSize, data[off:end]); err != nil {
			return off / frameSize, fmt.Errorf("portaudio write: %w", err)
		}
	}

	p.mu.Lock()
	p.lastWrite = time.Now()
	p.mu.Unlock()
	return frames, nil
}

// Delay estimates the host buffering, which the blocking API does not report.
func (p *PortAudio) Delay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return 0
	}
	full := p.format.FramesToDuration(portAudioFramesPerBuffer * portAudioBuffers)
	left := full - time.Since(p.lastWrite)
	if left < 0 {
		return 0
	}
	return left
}

// BufferSize returns the host buffering.
func (p *PortAudio) BufferSize() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.format.FramesToDuration(portAudioFramesPerBuffer * portAudioBuffers)
}

// Drain waits for the estimated host buffer to play out.
func (p *PortAudio) Drain() error {
	time.Sleep(p.Delay())
	return nil
}

// Flush restarts the stream, dropping queued host buffers.
func (p *PortAudio) Flush() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return
	}
	if err := p.stream.StopStream(); err != nil {
		slog.Warn("portaudio: stop stream", "error", err)
	}
	if err := p.stream.StartStream(); err != nil {
		slog.Warn("portaudio: restart stream", "error", err)
	}
}

// Close releases resources
func (p *PortAudio) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeStream()
	if p.initialized {
		p.initialized = false
		if err := portaudio.Terminate(); err != nil {
			return fmt.Errorf("portaudio terminate: %w", err)
		}
	}
	return nil
}

func (p *PortAudio) closeStream() {
	if p.stream == nil {
		return
	}
	if err := p.stream.StopStream(); err != nil {
		slog.Warn("portaudio: stop stream", "error", err)
	}
	if err := p.stream.Close(); err != nil {
		slog.Warn("portaudio: close stream", "error", err)
	}
	p.stream = nil
}
