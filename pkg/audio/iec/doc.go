// ABOUTME: IEC 61937 packing package
// ABOUTME: Wraps encoded audio frames into PCM-carried bursts for passthrough
// Package iec packs AC3, E-AC3 and DTS frames into IEC 61937 data bursts so
// an external decoder can receive them over a PCM link, and builds pause
// bursts used as passthrough silence.
package iec
