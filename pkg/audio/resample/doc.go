// ABOUTME: Sample rate conversion package
// ABOUTME: Linear resampler for speed bending and a soxr device rate converter
// Package resample converts between sample rates.
//
// Resampler is a cheap streaming linear interpolator whose ratio can change
// on every call; the renderer uses it to follow the master clock. Converter
// wraps libsoxr for fixed conversions when a device refuses the stream rate.
package resample
