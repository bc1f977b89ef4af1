// Package cli implements the audiopipe command line.
//
// The root command loads the YAML configuration and sets up logging; play
// and tone run a source through the pipeline with an optional TUI,
// websocket monitor and mDNS advertisement.
package cli
