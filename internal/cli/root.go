// ABOUTME: Root cobra command and shared flags
// ABOUTME: Loads configuration and builds the process logger
package cli

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/Resonate-Protocol/audiopipe/internal/config"
	"github.com/Resonate-Protocol/audiopipe/internal/logging"
	"github.com/spf13/cobra"
)

const defaultLogFile = "audiopipe.log"

// rootOptions are the persistent flags.
type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	logFile    string
	device     string
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "audiopipe",
		Short: "Synchronized audio output pipeline",
		Long: `audiopipe - plays audio through a priority-queued sink with A/V clock
synchronization.

Features:
  - Decode MP3, FLAC, WAV, PCM and Opus streams
  - Keep output in sync with a reference clock by dropping, inserting or
    resampling audio
  - Pass AC3/EAC3/DTS through to capable outputs
  - Watch the pipeline from a terminal UI or over a websocket monitor

Commands:
  - play: Play an audio file
  - tone: Play a generated test tone
  - devices: List output devices
  - discover: Find monitors on the local network
  - version: Show version information`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "Configuration file (YAML)")
	pf.StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json")
	pf.StringVar(&opts.logFile, "log-file", "", "Append logs to this file")
	pf.StringVarP(&opts.device, "device", "d", "", "Output device (see 'audiopipe devices')")

	rootCmd.AddCommand(
		newPlayCmd(opts),
		newToneCmd(opts),
		newDevicesCmd(),
		newDiscoverCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command line and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

// load reads the configuration and applies the persistent flags that were
// set on the command line.
func (o *rootOptions) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = o.logFormat
	}
	if flags.Changed("log-file") {
		cfg.Log.File = o.logFile
	}
	if flags.Changed("device") {
		cfg.Output.Device = o.device
	}
	return cfg, cfg.Validate()
}

// logger builds the process logger. With the TUI on the terminal belongs to
// the UI and logs only go to a file.
func logger(cmd *cobra.Command, cfg *config.Config, tui bool) (*slog.Logger, io.Closer, error) {
	opts := logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
		Output: cmd.ErrOrStderr(),
	}
	if tui {
		opts.Output = io.Discard
		if opts.File == "" {
			opts.File = defaultLogFile
		}
	}
	return logging.Setup(opts)
}
