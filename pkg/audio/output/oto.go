// ABOUTME: Oto-based audio output implementation
// ABOUTME: Streams packed PCM through a pipe into one persistent oto player
package output

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
	"github.com/ebitengine/oto/v3"
)

const otoBuffer = 200 * time.Millisecond

// oto allows a single context per process; it is shared by every Oto device
// and keeps the format it was first created with.
var (
	otoMu     sync.Mutex
	otoCtx    *oto.Context
	otoFormat audio.Format
)

// Oto output implementation using oto library
type Oto struct {
	mu         sync.Mutex
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	format     audio.Format
	ready      bool
}

// NewOto creates a new Oto output
func NewOto() *Oto {
	return &Oto{}
}

// Name returns the device id.
func (o *Oto) Name() string {
	return "oto"
}

// Open starts a player. Once the shared context exists its rate and channel
// count win, and the caller converts.
func (o *Oto) Open(format audio.Format) (audio.Format, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	accepted := pcmCarrier(format)
	if accepted.DataFormat != audio.FormatF32LE {
		accepted.DataFormat = audio.FormatS16LE
		accepted.BitDepth = 16
	}

	otoMu.Lock()
	if otoCtx == nil {
		sampleFormat := oto.FormatSignedInt16LE
		if accepted.DataFormat == audio.FormatF32LE {
			sampleFormat = oto.FormatFloat32LE
		}
		op := &oto.NewContextOptions{
			SampleRate:   accepted.SampleRate,
			ChannelCount: accepted.Channels,
			Format:       sampleFormat,
			BufferSize:   otoBuffer,
		}
		ctx, readyChan, err := oto.NewContext(op)
		if err != nil {
			otoMu.Unlock()
			return audio.Format{}, fmt.Errorf("failed to create oto context: %w", err)
		}
		<-readyChan
		otoCtx = ctx
		otoFormat = accepted
	} else if !otoFormat.Equal(accepted) {
		slog.Warn("oto: context cannot be reinitialized, converting to its format",
			"requested", accepted.String(), "context", otoFormat.String())
	}
	accepted = otoFormat
	ctx := otoCtx
	otoMu.Unlock()

	if err := ctx.Resume(); err != nil {
		return audio.Format{}, fmt.Errorf("oto: resume: %w", err)
	}

	o.closePlayer()
	o.pipeReader, o.pipeWriter = io.Pipe()
	o.player = ctx.NewPlayer(o.pipeReader)
	o.player.Play()
	o.format = accepted
	o.ready = true

	slog.Info("audio output initialized", "backend", "oto", "format", accepted.String())
	return accepted, nil
}

// Write outputs packed frames (blocks until the player has taken them)
func (o *Oto) Write(data []byte) (int, error) {
	o.mu.Lock()
	w := o.pipeWriter
	frameSize := o.format.FrameSize()
	ready := o.ready
	o.mu.Unlock()
	if !ready || frameSize == 0 {
		return 0, ErrDeviceClosed
	}

	frames := len(data) / frameSize
	if _, err := w.Write(data[:frames*frameSize]); err != nil {
		return 0, fmt.Errorf("pipe write failed: %w", err)
	}
	return frames, nil
}

// Delay returns what the player has buffered.
func (o *Oto) Delay() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player == nil || o.format.FrameSize() == 0 {
		return 0
	}
	frames := o.player.BufferedSize() / o.format.FrameSize()
	return o.format.FramesToDuration(frames)
}

// BufferSize returns the context buffer size.
func (o *Oto) BufferSize() time.Duration {
	return otoBuffer
}

// Drain waits until the player has nothing buffered.
func (o *Oto) Drain() error {
	for o.Delay() > 0 {
		time.Sleep(5 * time.Millisecond)
	}
	return nil
}

// Flush drops what the player has buffered.
func (o *Oto) Flush() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player != nil {
		o.player.Pause()
		o.player.Reset()
		o.player.Play()
	}
}

// Close releases the player and suspends the shared context.
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closePlayer()

	otoMu.Lock()
	defer otoMu.Unlock()
	if otoCtx != nil {
		if err := otoCtx.Suspend(); err != nil {
			return fmt.Errorf("oto: suspend: %w", err)
		}
	}
	return nil
}

func (o *Oto) closePlayer() {
	o.ready = false
	if o.pipeWriter != nil {
		o.pipeWriter.Close()
		o.pipeWriter = nil
	}
	if o.player != nil {
		o.player.Close()
		o.player = nil
	}
	if o.pipeReader != nil {
		o.pipeReader.Close()
		o.pipeReader = nil
	}
}
