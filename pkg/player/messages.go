// ABOUTME: Messages and events exchanged with the audio player
// ABOUTME: Queue items, the synchronize barrier, sync states and listener events
package player

import (
	"sync"
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
	"github.com/Resonate-Protocol/audiopipe/pkg/audio/decode"
)

// Kind identifies a queued message.
type Kind int

const (
	MsgDemuxerPacket Kind = iota
	MsgGeneralSynchronize
	MsgGeneralResync
	MsgGeneralReset
	MsgGeneralFlush
	MsgGeneralEOF
	MsgGeneralStreamChange
	MsgGeneralPause
	MsgPlayerSetSpeed
	MsgPlayerDisplayReset
	MsgPlayerRequestState
	MsgAudioSilence
)

var kindNames = [...]string{
	MsgDemuxerPacket:       "packet",
	MsgGeneralSynchronize:  "synchronize",
	MsgGeneralResync:       "resync",
	MsgGeneralReset:        "reset",
	MsgGeneralFlush:        "flush",
	MsgGeneralEOF:          "eof",
	MsgGeneralStreamChange: "stream-change",
	MsgGeneralPause:        "pause",
	MsgPlayerSetSpeed:      "set-speed",
	MsgPlayerDisplayReset:  "display-reset",
	MsgPlayerRequestState:  "request-state",
	MsgAudioSilence:        "silence",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Message is one item of the player queue. Only the fields of its Kind are
// set.
type Message struct {
	Kind Kind

	Packet decode.Packet
	Drop   bool

	PTS     time.Duration
	Bool    bool
	Speed   float64
	Hints   decode.Hints
	Decoder decode.Decoder
	Sync    *Synchronize
}

// NewPacket wraps a demuxed packet. A drop marker discards the packet,
// flushes buffered audio and restarts sync.
func NewPacket(pkt decode.Packet, drop bool) *Message {
	return &Message{Kind: MsgDemuxerPacket, Packet: pkt, Drop: drop}
}

// NewResync releases a waiting stream at pts.
func NewResync(pts time.Duration) *Message {
	return &Message{Kind: MsgGeneralResync, PTS: pts}
}

// NewSynchronize waits at barrier s.
func NewSynchronize(s *Synchronize) *Message {
	return &Message{Kind: MsgGeneralSynchronize, Sync: s}
}

// NewPause pauses or resumes playback.
func NewPause(on bool) *Message {
	return &Message{Kind: MsgGeneralPause, Bool: on}
}

// NewSetSpeed changes the playback speed.
func NewSetSpeed(speed float64) *Message {
	return &Message{Kind: MsgPlayerSetSpeed, Speed: speed}
}

// NewSilence mutes (true) or unmutes decoded audio. Muted PCM is played as
// zeros so timing and sync continue.
func NewSilence(on bool) *Message {
	return &Message{Kind: MsgAudioSilence, Bool: on}
}

// NewSignal builds a message without payload.
func NewSignal(k Kind) *Message {
	return &Message{Kind: k}
}

// DataSize returns the packet size for queue accounting.
func (m *Message) DataSize() int {
	if m.Kind != MsgDemuxerPacket {
		return 0
	}
	return len(m.Packet.Data)
}

// Duration returns the packet duration for queue accounting.
func (m *Message) Duration() time.Duration {
	if m.Kind != MsgDemuxerPacket {
		return 0
	}
	return m.Packet.Duration
}

func isPacket(m *Message) bool {
	return m.Kind == MsgDemuxerPacket
}

// Synchronize is a barrier several players meet at before continuing.
type Synchronize struct {
	mu      sync.Mutex
	need    int
	arrived map[string]bool
	done    chan struct{}
}

// NewBarrier creates a barrier for participants sources.
func NewBarrier(participants int) *Synchronize {
	return &Synchronize{
		need:    participants,
		arrived: make(map[string]bool),
		done:    make(chan struct{}),
	}
}

// Wait marks source as arrived and waits up to timeout for the others.
func (s *Synchronize) Wait(timeout time.Duration, source string) bool {
	s.mu.Lock()
	if !s.arrived[source] {
		s.arrived[source] = true
		if len(s.arrived) == s.need {
			close(s.done)
		}
	}
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.done:
		return true
	case <-timer.C:
		return false
	}
}

// SyncState is the player's synchronisation state.
type SyncState int

const (
	SyncStarting SyncState = iota
	SyncWaitSync
	SyncInSync
)

func (s SyncState) String() string {
	switch s {
	case SyncStarting:
		return "starting"
	case SyncWaitSync:
		return "waitsync"
	case SyncInSync:
		return "insync"
	default:
		return "unknown"
	}
}

// SyncType is the method used to keep audio on the clock.
type SyncType int

const (
	// SyncDiscon moves the clock to the audio on large errors.
	SyncDiscon SyncType = iota
	// SyncResample bends the audio rate towards the clock.
	SyncResample
)

func (s SyncType) String() string {
	if s == SyncResample {
		return "resample"
	}
	return "discon"
}

// Event is sent to the player's listener.
type Event interface {
	event()
}

// Started reports that enough audio is buffered to start playback.
type Started struct {
	CacheTotal time.Duration
	CacheTime  time.Duration
	Timestamp  time.Duration // audio.NoPTS when the first frame had none
	Duration   time.Duration // of the frame at Timestamp
}

// FirstPTS returns the stream time of the oldest buffered audio, the
// position to resync the clock to.
func (s Started) FirstPTS() time.Duration {
	if s.Timestamp == audio.NoPTS {
		return audio.NoPTS
	}
	return s.Timestamp + s.Duration - s.CacheTime
}

// AVChange reports new stream parameters.
type AVChange struct {
	Info Info
}

// StateReport answers a state request.
type StateReport struct {
	State SyncState
	PTS   time.Duration
}

// Stalled reports that no audio arrived in time while playing.
type Stalled struct{}

func (Started) event()     {}
func (AVChange) event()    {}
func (StateReport) event() {}
func (Stalled) event()     {}

// Listener receives player events. It is called from the dispatch
// goroutine and must not block.
type Listener func(Event)

// Info is a snapshot for display.
type Info struct {
	Text          string
	Codec         string
	SampleRate    int
	Channels      int
	Passthrough   bool
	StreamType    audio.StreamType
	QueueLevel    int
	Kbps          float64
	ResampleRatio float64
	AudioClock    time.Duration
	PlayingPTS    time.Duration
	SyncError     time.Duration
	Paused        bool
	SyncState     SyncState
}
