// ABOUTME: Packet sources for the command line tools
// ABOUTME: Demuxes files and generates tones as timestamped packets
// Package source turns files and generated signals into the demuxed packets
// the audio player consumes.
package source
