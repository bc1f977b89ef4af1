// ABOUTME: Malgo-based audio output with a lock-free ring buffer
// ABOUTME: Uses miniaudio via malgo for hi-res playback in the device callback
package output

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
	"github.com/drgolem/ringbuffer"
	"github.com/gen2brain/malgo"
)

const (
	malgoBuffer   = 500 * time.Millisecond
	malgoPeriod   = 10 * time.Millisecond
	malgoPollWait = 2 * time.Millisecond
)

// Malgo output implementation using malgo/miniaudio library
type Malgo struct {
	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device
	format   audio.Format
	ready    atomic.Bool

	// Single producer (Write) and single consumer (data callback).
	ring *ringbuffer.RingBuffer

	flushReq  atomic.Bool
	underruns atomic.Uint64
}

// NewMalgo creates a new Malgo output
func NewMalgo() *Malgo {
	return &Malgo{}
}

// Name returns the device id.
func (m *Malgo) Name() string {
	return "malgo"
}

// Open initializes the playback device with the requested format
func (m *Malgo) Open(format audio.Format) (audio.Format, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	accepted := pcmCarrier(format)
	var devFormat malgo.FormatType
	switch accepted.DataFormat {
	case audio.FormatS16LE:
		devFormat = malgo.FormatS16
	case audio.FormatS16BE:
		accepted.DataFormat = audio.FormatS16LE
		devFormat = malgo.FormatS16
	case audio.FormatS24LE3:
		devFormat = malgo.FormatS24
	case audio.FormatS32LE:
		devFormat = malgo.FormatS32
	case audio.FormatF32LE:
		devFormat = malgo.FormatF32
	default:
		return audio.Format{}, fmt.Errorf("malgo: unsupported sample format %s", accepted.DataFormat)
	}

	if m.device != nil && m.format.Equal(accepted) {
		slog.Debug("malgo: reusing device with same format")
		return accepted, nil
	}
	if m.device != nil {
		slog.Info("malgo: format change, reinitializing device",
			"from", m.format.String(), "to", accepted.String())
		m.closeDevice()
	}

	if m.malgoCtx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return audio.Format{}, fmt.Errorf("failed to initialize malgo context: %w", err)
		}
		m.malgoCtx = ctx
	}

	bufferBytes := uint64(accepted.DurationToFrames(malgoBuffer) * accepted.FrameSize())
	m.ring = ringbuffer.New(bufferBytes)
	m.format = accepted

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = devFormat
	deviceConfig.Playback.Channels = uint32(accepted.Channels)
	deviceConfig.SampleRate = uint32(accepted.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = uint32(malgoPeriod / time.Millisecond)
	deviceConfig.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			m.dataCallback(out, frameCount)
		},
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		return audio.Format{}, fmt.Errorf("failed to initialize playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return audio.Format{}, fmt.Errorf("failed to start device: %w", err)
	}

	m.device = device
	m.ready.Store(true)

	slog.Info("audio output initialized",
		"backend", "malgo",
		"format", accepted.String(),
		"malgo_format", formatName(devFormat),
		"buffer", malgoBuffer)
	return accepted, nil
}

// Write copies frames into the ring buffer, waiting for the callback to make
// room when it is full.
func (m *Malgo) Write(data []byte) (int, error) {
	frameSize := m.format.FrameSize()
	if !m.ready.Load() || frameSize == 0 {
		return 0, ErrDeviceClosed
	}
	frames := len(data) / frameSize
	data = data[:frames*frameSize]

	for len(data) > 0 {
		if !m.ready.Load() {
			return 0, ErrDeviceClosed
		}
		space := int(m.ring.AvailableWrite()) / frameSize * frameSize
		if space == 0 || m.flushReq.Load() {
			time.Sleep(malgoPollWait)
			continue
		}
		n := min(space, len(data))
		if _, err := m.ring.Write(data[:n]); err != nil {
			if errors.Is(err, ringbuffer.ErrInsufficientSpace) {
				continue
			}
			return 0, fmt.Errorf("malgo: %w", err)
		}
		data = data[n:]
	}
	return frames, nil
}

// dataCallback is called by malgo to fill the device buffer
func (m *Malgo) dataCallback(out []byte, frameCount uint32) {
	need := int(frameCount) * m.format.FrameSize()
	if need > len(out) {
		need = len(out)
	}
	if m.flushReq.Load() {
		m.discard()
		m.flushReq.Store(false)
	}
	n, _ := m.ring.Read(out[:need])
	if n < need {
		clear(out[n:need])
		if n > 0 {
			m.underruns.Add(1)
		}
	}
}

// discard drops everything buffered; consumer side only.
func (m *Malgo) discard() {
	scratch := make([]byte, 4096)
	for m.ring.AvailableRead() > 0 {
		if _, err := m.ring.Read(scratch); err != nil {
			return
		}
	}
}

// Delay returns buffered audio plus one device period.
func (m *Malgo) Delay() time.Duration {
	if !m.ready.Load() {
		return 0
	}
	frames := int(m.ring.AvailableRead()) / m.format.FrameSize()
	return m.format.FramesToDuration(frames) + malgoPeriod
}

// BufferSize returns the ring buffer size.
func (m *Malgo) BufferSize() time.Duration {
	return malgoBuffer
}

// Drain waits for the ring buffer to empty.
func (m *Malgo) Drain() error {
	for m.ready.Load() && m.ring.AvailableRead() > 0 {
		time.Sleep(malgoPollWait)
	}
	time.Sleep(malgoPeriod)
	return nil
}

// Flush asks the callback to drop buffered audio and waits until it has.
func (m *Malgo) Flush() {
	if !m.ready.Load() {
		return
	}
	m.flushReq.Store(true)
	deadline := time.Now().Add(4 * malgoPeriod)
	for m.flushReq.Load() && time.Now().Before(deadline) {
		time.Sleep(malgoPollWait)
	}
}

// Underruns returns how often the callback ran out of data mid-period.
func (m *Malgo) Underruns() uint64 {
	return m.underruns.Load()
}

// Close releases output resources
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeDevice()
	if m.malgoCtx != nil {
		if err := m.malgoCtx.Uninit(); err != nil {
			slog.Warn("malgo: context uninit error", "error", err)
		}
		m.malgoCtx.Free()
		m.malgoCtx = nil
	}
	return nil
}

// closeDevice stops and uninitializes the device (must hold m.mu)
func (m *Malgo) closeDevice() {
	m.ready.Store(false)
	if m.device != nil {
		if err := m.device.Stop(); err != nil {
			slog.Warn("malgo: device stop error", "error", err)
		}
		m.device.Uninit()
		m.device = nil
	}
}

// formatName returns human-readable format name
func formatName(format malgo.FormatType) string {
	switch format {
	case malgo.FormatS16:
		return "S16"
	case malgo.FormatS24:
		return "S24"
	case malgo.FormatS32:
		return "S32"
	case malgo.FormatF32:
		return "F32"
	default:
		return fmt.Sprintf("Unknown(%d)", format)
	}
}
