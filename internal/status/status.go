// ABOUTME: Point-in-time pipeline status shared by the monitor and the TUI
// ABOUTME: Collected from the player, its renderer and the engine clock
package status

import (
	"time"

	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
	"github.com/Resonate-Protocol/audiopipe/pkg/engine"
	"github.com/Resonate-Protocol/audiopipe/pkg/player"
)

// Status is one snapshot. Durations are milliseconds on the wire.
type Status struct {
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`

	State       string  `json:"state"`
	SyncState   string  `json:"sync_state"`
	Codec       string  `json:"codec"`
	SampleRate  int     `json:"sample_rate"`
	Channels    int     `json:"channels"`
	Passthrough bool    `json:"passthrough"`
	StreamType  string  `json:"stream_type,omitempty"`
	QueueLevel  int     `json:"queue_level"`
	Kbps        float64 `json:"kbps"`

	ResampleRatio float64 `json:"resample_ratio"`
	SyncErrorMs   float64 `json:"sync_error_ms"`
	ClockMs       float64 `json:"clock_ms"`
	PlayingMs     float64 `json:"playing_ms"`
	CacheMs       float64 `json:"cache_ms"`
	CacheTotalMs  float64 `json:"cache_total_ms"`

	Written   uint64  `json:"written"`
	Dropped   uint64  `json:"dropped"`
	Underruns uint64  `json:"underruns"`
	SilenceMs float64 `json:"silence_ms"`

	Volume int  `json:"volume"`
	Muted  bool `json:"muted"`
}

// Collect reads the player and engine. p may be nil before a stream opens.
func Collect(eng *engine.Engine, p *player.AudioPlayer) Status {
	snap := eng.Stats.Snapshot()
	s := Status{
		State:        "idle",
		SyncState:    player.SyncStarting.String(),
		ClockMs:      ms(eng.Clock.GetClock()),
		CacheMs:      ms(snap.CacheTime),
		CacheTotalMs: ms(snap.CacheTotal),
		Written:      snap.Written,
		Dropped:      snap.Dropped,
		Underruns:    snap.Underruns,
		SilenceMs:    ms(snap.Silence),
	}
	if p == nil || !p.IsInited() {
		return s
	}

	info := p.Info()
	s.State = "playing"
	if info.Paused {
		s.State = "paused"
	}
	s.SyncState = p.SyncState().String()
	s.Codec = info.Codec
	s.SampleRate = info.SampleRate
	s.Channels = info.Channels
	s.Passthrough = info.Passthrough
	if info.Passthrough {
		s.StreamType = info.StreamType.String()
	}
	s.QueueLevel = info.QueueLevel
	s.Kbps = info.Kbps
	s.ResampleRatio = info.ResampleRatio
	if info.PlayingPTS != audio.NoPTS {
		s.PlayingMs = ms(info.PlayingPTS)
	}
	s.SyncErrorMs = ms(info.SyncError)
	return s
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
