// Package app runs one audiopipe player: it feeds a source into the
// pipeline, resyncs the clock when audio starts and wires the monitor and
// the terminal UI to the running stream.
package app
