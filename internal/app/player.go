// ABOUTME: Player application orchestration
// ABOUTME: Feeds a source into the pipeline and wires status, monitor and UI
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Resonate-Protocol/audiopipe/internal/monitor"
	"github.com/Resonate-Protocol/audiopipe/internal/source"
	"github.com/Resonate-Protocol/audiopipe/internal/status"
	"github.com/Resonate-Protocol/audiopipe/internal/ui"
	"github.com/Resonate-Protocol/audiopipe/pkg/audio"
	"github.com/Resonate-Protocol/audiopipe/pkg/engine"
	"github.com/Resonate-Protocol/audiopipe/pkg/player"
	"golang.org/x/sync/errgroup"
)

const (
	defaultStatusInterval = 250 * time.Millisecond
	feedPoll              = 10 * time.Millisecond
	syncWait              = 2 * time.Second
)

// Config holds player configuration
type Config struct {
	Settings      engine.Settings
	EngineOptions []engine.Option
	Logger        *slog.Logger

	// StatusInterval paces status snapshots; zero uses 250ms.
	StatusInterval time.Duration
	// OnStatus receives every snapshot, e.g. to feed the TUI.
	OnStatus func(status.Status)
	// Monitor, when set, receives status and events and its commands are
	// applied.
	Monitor *monitor.Monitor
	// Controls, when set, carries TUI key actions.
	Controls *ui.Controls
}

// Player plays sources through one engine.
type Player struct {
	config Config
	logger *slog.Logger
	eng    *engine.Engine

	commands  chan monitor.Command
	startOnce sync.Once

	mu       sync.Mutex
	ap       *player.AudioPlayer
	meta     [3]string
	volume   int
	muted    bool
	started  int
	finished bool
}

// New creates a player and its engine.
func New(config Config) (*Player, error) {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.StatusInterval <= 0 {
		config.StatusInterval = defaultStatusInterval
	}
	opts := append([]engine.Option{engine.WithLogger(config.Logger)}, config.EngineOptions...)
	eng, err := engine.New(config.Settings, opts...)
	if err != nil {
		return nil, err
	}
	return &Player{
		config:   config,
		logger:   config.Logger.With(slog.String("component", "app")),
		eng:      eng,
		commands: make(chan monitor.Command, 8),
		volume:   100,
	}, nil
}

// Engine returns the pipeline engine.
func (p *Player) Engine() *engine.Engine {
	return p.eng
}

// HandleCommand queues a monitor command; it is the monitor's OnCommand.
func (p *Player) HandleCommand(cmd monitor.Command) {
	select {
	case p.commands <- cmd:
	default:
		p.logger.Warn("dropping command", "action", cmd.Action)
	}
}

// Status returns a snapshot of the pipeline.
func (p *Player) Status() status.Status {
	p.mu.Lock()
	ap := p.ap
	meta := p.meta
	volume, muted := p.volume, p.muted
	p.mu.Unlock()

	s := status.Collect(p.eng, ap)
	s.Title, s.Artist, s.Album = meta[0], meta[1], meta[2]
	s.Volume, s.Muted = volume, muted
	return s
}

// Play plays src to the end or until ctx is done. The source is closed.
func (p *Player) Play(ctx context.Context, src source.Source) error {
	defer src.Close()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.startOnce.Do(func() { p.eng.Start(context.Background()) })
	ap := player.New(p.eng, p.onEvent)
	hints := src.Hints()
	if err := ap.OpenStream(hints); err != nil {
		return fmt.Errorf("open stream: %w", err)
	}

	title, artist, album := src.Metadata()
	p.mu.Lock()
	p.ap = ap
	p.meta = [3]string{title, artist, album}
	p.finished = false
	muted := p.muted
	p.mu.Unlock()
	if muted {
		if err := ap.SendMessage(player.NewSilence(true), 1); err != nil {
			p.logger.Warn("mute", "error", err)
		}
	}

	p.logger.Info("playing", "title", title, "codec", hints.Codec,
		"rate", hints.SampleRate, "channels", hints.Channels)
	if m := p.config.Monitor; m != nil {
		session := m.NewSession()
		p.publish("stream", map[string]any{
			"title": title, "codec": hints.Codec, "rate": hints.SampleRate,
			"channels": hints.Channels, "session": session,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return p.feed(gctx, ap, src)
	})
	g.Go(func() error {
		return p.statusLoop(gctx)
	})
	g.Go(func() error {
		return p.controlLoop(gctx, ap, cancel)
	})
	err := g.Wait()

	p.mu.Lock()
	finished := p.finished
	p.ap = nil
	p.meta = [3]string{}
	p.mu.Unlock()

	ap.CloseStream(finished)
	p.publish("closed", map[string]any{"finished": finished})
	p.logger.Info("stream closed", "finished", finished)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close releases the engine.
func (p *Player) Close() error {
	return p.eng.Close()
}

// feed sends packets while the player accepts them.
func (p *Player) feed(ctx context.Context, ap *player.AudioPlayer, src source.Source) error {
	for {
		pkt, err := src.Next()
		if errors.Is(err, io.EOF) {
			if err := ap.SendMessage(player.NewSignal(player.MsgGeneralEOF), 0); err != nil {
				return fmt.Errorf("send eof: %w", err)
			}
			p.mu.Lock()
			p.finished = true
			p.mu.Unlock()
			// The EOF starts short streams; wait for the resync so the
			// close drains instead of dropping.
			deadline := time.Now().Add(syncWait)
			for ap.SyncState() != player.SyncInSync && time.Now().Before(deadline) {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(feedPoll):
				}
			}
			for ap.Level() > 0 {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(feedPoll):
				}
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("read source: %w", err)
		}

		for !ap.AcceptsData() {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(feedPoll):
			}
		}
		if err := ap.SendMessage(player.NewPacket(pkt, false), 0); err != nil {
			return fmt.Errorf("send packet: %w", err)
		}
	}
}

// statusLoop publishes snapshots until ctx is done.
func (p *Player) statusLoop(ctx context.Context) error {
	ticker := time.NewTicker(p.config.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s := p.Status()
			if p.config.OnStatus != nil {
				p.config.OnStatus(s)
			}
			if m := p.config.Monitor; m != nil {
				if err := m.PublishStatus(s); err != nil {
					p.logger.Warn("publish status", "error", err)
				}
			}
		}
	}
}

// controlLoop applies TUI and monitor actions.
func (p *Player) controlLoop(ctx context.Context, ap *player.AudioPlayer, quit context.CancelFunc) error {
	var changes <-chan ui.VolumeChangeMsg
	var pauses <-chan ui.PauseMsg
	var quits <-chan ui.QuitMsg
	if c := p.config.Controls; c != nil {
		changes, pauses, quits = c.Changes, c.Pause, c.Quit
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-changes:
			p.setVolume(v.Volume, v.Muted)
		case msg := <-pauses:
			p.pause(ap, msg.Pause)
		case <-quits:
			p.logger.Info("quit requested")
			quit()
			return nil
		case cmd := <-p.commands:
			p.apply(ap, cmd)
		}
	}
}

func (p *Player) apply(ap *player.AudioPlayer, cmd monitor.Command) {
	switch cmd.Action {
	case "pause":
		p.pause(ap, true)
	case "resume":
		p.pause(ap, false)
	case "flush":
		ap.Flush(true)
		p.publish("flushed", nil)
	case "volume":
		p.mu.Lock()
		muted := p.muted
		p.mu.Unlock()
		p.setVolume(int(cmd.Value*100), muted)
	case "mute":
		p.mu.Lock()
		volume := p.volume
		p.mu.Unlock()
		p.setVolume(volume, cmd.Value != 0)
	case "speed":
		ap.SetSpeed(cmd.Value)
		p.eng.Clock.SetSpeed(cmd.Value)
	default:
		p.logger.Warn("unknown command", "action", cmd.Action)
	}
}

func (p *Player) pause(ap *player.AudioPlayer, on bool) {
	p.eng.Clock.Pause(on)
	if err := ap.SendMessage(player.NewPause(on), 1); err != nil {
		p.logger.Warn("pause", "error", err)
		return
	}
	p.publish("pause", map[string]any{"paused": on})
}

// setVolume sets the sink gain. Mute silences the stream in the player so
// the sink keeps its gain and the stream keeps its timing.
func (p *Player) setVolume(volume int, muted bool) {
	volume = min(max(volume, 0), 100)
	p.mu.Lock()
	p.volume, p.muted = volume, muted
	ap := p.ap
	p.mu.Unlock()
	if ap != nil {
		if err := ap.SendMessage(player.NewSilence(muted), 1); err != nil {
			p.logger.Warn("mute", "error", err)
		}
	}
	if err := p.eng.SetVolume(float64(volume)/100, false); err != nil {
		p.logger.Warn("volume", "error", err)
		return
	}
	p.logger.Info("volume change", "volume", volume, "muted", muted)
}

// onEvent runs on the dispatch goroutine.
func (p *Player) onEvent(ev player.Event) {
	switch e := ev.(type) {
	case player.Started:
		ts := e.FirstPTS()
		if ts == audio.NoPTS {
			ts = 0
		}
		p.mu.Lock()
		p.started++
		ap := p.ap
		p.mu.Unlock()

		p.eng.Clock.Discontinuity(ts)
		if ap != nil {
			if err := ap.SendMessage(player.NewResync(ts), 1); err != nil {
				p.logger.Warn("resync", "error", err)
			}
		}
		p.logger.Info("audio started", "pts", ts, "cache", e.CacheTime, "total", e.CacheTotal)
		p.publish("started", map[string]any{"pts_ms": ms(ts), "cache_ms": ms(e.CacheTime)})
	case player.AVChange:
		p.publish("av_change", map[string]any{"text": e.Info.Text, "codec": e.Info.Codec,
			"passthrough": e.Info.Passthrough})
	case player.StateReport:
		p.publish("state", map[string]any{"sync_state": e.State.String(), "pts_ms": ms(e.PTS)})
	case player.Stalled:
		p.logger.Warn("audio stalled")
		p.publish("stalled", nil)
	}
}

func (p *Player) publish(name string, fields map[string]any) {
	if m := p.config.Monitor; m != nil {
		if err := m.PublishEvent(name, fields); err != nil {
			p.logger.Warn("publish event", "event", name, "error", err)
		}
	}
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
