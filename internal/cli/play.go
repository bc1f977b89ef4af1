// ABOUTME: play and tone commands
// ABOUTME: Runs a source through the pipeline with TUI, monitor and mDNS
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Resonate-Protocol/audiopipe/internal/app"
	"github.com/Resonate-Protocol/audiopipe/internal/config"
	"github.com/Resonate-Protocol/audiopipe/internal/discovery"
	"github.com/Resonate-Protocol/audiopipe/internal/monitor"
	"github.com/Resonate-Protocol/audiopipe/internal/source"
	"github.com/Resonate-Protocol/audiopipe/internal/status"
	"github.com/Resonate-Protocol/audiopipe/internal/ui"
	"github.com/Resonate-Protocol/audiopipe/internal/version"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// playOptions are shared by play and tone.
type playOptions struct {
	noTUI       bool
	monitor     bool
	monitorAddr string
	advertise   bool
	name        string
	realtime    bool
	passthrough bool
	latency     time.Duration
}

func (o *playOptions) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.BoolVar(&o.noTUI, "no-tui", false, "Disable the TUI and stream logs to stderr")
	f.BoolVar(&o.monitor, "monitor", false, "Serve the websocket monitor")
	f.StringVar(&o.monitorAddr, "monitor-addr", "", "Monitor listen address")
	f.BoolVar(&o.advertise, "advertise", false, "Advertise the monitor over mDNS")
	f.StringVar(&o.name, "name", "", "mDNS instance name (default: hostname-audiopipe)")
	f.BoolVar(&o.realtime, "realtime", false, "Live source: drop audio instead of waiting")
	f.BoolVar(&o.passthrough, "passthrough", false, "Pass encoded streams to the device")
	f.DurationVar(&o.latency, "latency", 0, "Extra output latency to compensate")
}

// apply copies flags that were set over the configuration.
func (o *playOptions) apply(cmd *cobra.Command, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("monitor") {
		cfg.Monitor.Enabled = o.monitor
	}
	if f.Changed("monitor-addr") {
		cfg.Monitor.Addr = o.monitorAddr
		cfg.Monitor.Enabled = true
	}
	if f.Changed("advertise") {
		cfg.Monitor.Advertise = o.advertise
		if o.advertise {
			cfg.Monitor.Enabled = true
		}
	}
	if f.Changed("name") {
		cfg.Monitor.Name = o.name
	}
	if f.Changed("realtime") {
		cfg.Playback.Realtime = o.realtime
	}
	if f.Changed("passthrough") {
		cfg.Output.Passthrough = o.passthrough
	}
	if f.Changed("latency") {
		cfg.Output.Latency = o.latency
	}
	return cfg.Validate()
}

func newPlayCmd(root *rootOptions) *cobra.Command {
	opts := &playOptions{}
	cmd := &cobra.Command{
		Use:   "play <audio_file>",
		Short: "Play an audio file (MP3, FLAC, WAV)",
		Long: `Play an audio file through the pipeline.

Examples:
  # Play with the terminal UI on the default device
  audiopipe play music.flac

  # Stream logs instead and write the output to a file
  audiopipe play --no-tui -d wav:/tmp/out.wav music.mp3

  # Let other machines watch the pipeline
  audiopipe play --monitor-addr 0.0.0.0:8927 --advertise music.wav`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, root, opts, func() (source.Source, error) {
				return source.Open(args[0])
			})
		},
	}
	opts.register(cmd)
	return cmd
}

func newToneCmd(root *rootOptions) *cobra.Command {
	opts := &playOptions{}
	var (
		codec    string
		freq     float64
		duration time.Duration
	)
	cmd := &cobra.Command{
		Use:   "tone",
		Short: "Play a generated sine tone",
		Long: `Play a sine tone, encoded with the chosen codec and decoded again by the
pipeline. A zero duration plays until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, root, opts, func() (source.Source, error) {
				return source.NewTone(codec, freq, duration)
			})
		},
	}
	cmd.Flags().StringVar(&codec, "codec", "pcm", "Codec: pcm or opus")
	cmd.Flags().Float64Var(&freq, "freq", 440, "Tone frequency in Hz")
	cmd.Flags().DurationVar(&duration, "duration", 5*time.Second, "Tone length")
	opts.register(cmd)
	return cmd
}

// run plays one source and returns when it has finished or on interrupt.
func run(cmd *cobra.Command, root *rootOptions, opts *playOptions, open func() (source.Source, error)) error {
	cfg, err := root.load(cmd)
	if err != nil {
		return err
	}
	if err := opts.apply(cmd, cfg); err != nil {
		return err
	}
	useTUI := !opts.noTUI
	log, closer, err := logger(cmd, cfg, useTUI)
	if err != nil {
		return err
	}
	defer closer.Close()

	settings, err := cfg.Engine()
	if err != nil {
		return err
	}
	src, err := open()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	appCfg := app.Config{Settings: settings, Logger: log}

	var prog *tea.Program
	if useTUI {
		appCfg.Controls = ui.NewControls()
		prog = ui.New(appCfg.Controls)
		appCfg.OnStatus = func(s status.Status) {
			prog.Send(ui.StatusMsg{Status: s})
		}
	}

	var (
		p   *app.Player
		mon *monitor.Monitor
		ln  net.Listener
	)
	if cfg.Monitor.Enabled {
		ln, err = net.Listen("tcp", cfg.Monitor.Addr)
		if err != nil {
			src.Close()
			return fmt.Errorf("monitor listen: %w", err)
		}
		mon = monitor.New(monitor.Config{
			Product: version.Product,
			Version: version.Version,
			Logger:  log,

			// Serve starts only once p is set.
			OnCommand: func(c monitor.Command) { p.HandleCommand(c) },
		})
		appCfg.Monitor = mon
	}

	p, err = app.New(appCfg)
	if err != nil {
		src.Close()
		if ln != nil {
			ln.Close()
		}
		return err
	}
	defer p.Close()

	g, gctx := errgroup.WithContext(ctx)
	playCtx, cancelPlay := context.WithCancel(gctx)
	defer cancelPlay()

	if mon != nil {
		g.Go(func() error {
			return mon.Serve(playCtx, ln)
		})
		if cfg.Monitor.Advertise {
			disc := advertise(cfg, ln, log)
			if disc != nil {
				defer disc.Stop()
			}
		}
	}

	uiDone := make(chan struct{})
	if prog != nil {
		go func() {
			defer close(uiDone)
			if _, err := prog.Run(); err != nil {
				log.Error("tui failed", "error", err)
			}
			// Closing the UI by other means than q still ends playback.
			cancelPlay()
		}()
	} else {
		close(uiDone)
	}

	g.Go(func() error {
		defer cancelPlay()
		return p.Play(playCtx, src)
	})
	err = g.Wait()

	if prog != nil {
		prog.Quit()
	}
	<-uiDone
	return err
}

// advertise publishes the monitor over mDNS; failures are logged and
// playback goes on.
func advertise(cfg *config.Config, ln net.Listener, log *slog.Logger) *discovery.Manager {
	name := cfg.Monitor.Name
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			hostname = "unknown"
		}
		name = hostname + "-audiopipe"
	}
	addr, ok := ln.Addr().(*net.TCPAddr)
	if !ok {
		return nil
	}
	disc := discovery.NewManager(discovery.Config{
		ServiceName: name,
		Port:        addr.Port,
		TXT:         []string{"version=" + version.Version, "product=" + version.Product},
		Logger:      log,
	})
	if err := disc.Advertise(); err != nil {
		log.Warn("mdns advertisement failed", "error", err)
		return nil
	}
	return disc
}
