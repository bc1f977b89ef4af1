// Package status snapshots the running pipeline for the monitor and the
// terminal UI.
package status
