// ABOUTME: Sink states, message signals and payload types
// ABOUTME: Shared by the sink actor and its clients
package sink

import (
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/actor"
	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
)

// State is the sink's device lifecycle state.
type State int

const (
	StateUnconfigured State = iota
	StateConfigured
	StateStreaming
	StatePaused
	StateError
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateConfigured:
		return "configured"
	case StateStreaming:
		return "streaming"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Control signals.
const (
	SigConfigure actor.Signal = iota + 1
	SigUnconfigure
	SigStreaming
	SigAppFocused
	SigVolume
	SigFlush
	SigTimeout
	SigSetSilenceTimeout
	SigSetNoiseType
	SigPause
	SigGetStats
)

// Data signals.
const (
	SigSample actor.Signal = iota + 100
	SigDrain
)

// Replies.
const (
	SigAcc actor.Signal = iota + 200
	SigErr
	SigStats
	SigReturnSample
)

// NoiseType selects what the sink plays while idle-streaming.
type NoiseType int

const (
	NoiseNone NoiseType = iota
	NoiseWhite
)

func (n NoiseType) String() string {
	if n == NoiseWhite {
		return "white"
	}
	return "none"
}

// Config is the payload of SigConfigure. It is not modified after it is
// sent.
type Config struct {
	Format audio.Format
	Device string
	Stats  *Stats
}

// ConfigReply is the payload of the SigAcc answering SigConfigure.
type ConfigReply struct {
	Format     audio.Format // accepted by the device
	CacheTotal time.Duration
	Latency    time.Duration
	HasVolume  bool
}

// OutputReport describes one device write.
type OutputReport struct {
	FrameID uint64
	Frames  int
	Silence bool
}
