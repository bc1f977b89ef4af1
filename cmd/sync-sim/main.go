// ABOUTME: Sync simulation against a drifting virtual device
// ABOUTME: Plays a tone on a skewed null output and reports the sync error per mode
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"sync"
	"time"

	"github.com/Resonate-Protocol/audiopipe/internal/app"
	"github.com/Resonate-Protocol/audiopipe/internal/logging"
	"github.com/Resonate-Protocol/audiopipe/internal/source"
	"github.com/Resonate-Protocol/audiopipe/internal/status"
	"github.com/Resonate-Protocol/audiopipe/pkg/audio/output"
	"github.com/Resonate-Protocol/audiopipe/pkg/engine"
)

var (
	skew     = flag.Float64("skew", 0.002, "Device rate error (0.002 = 0.2% fast)")
	duration = flag.Duration("duration", 10*time.Second, "Run time per mode")
	mode     = flag.String("mode", "both", "Sync mode: discon, resample or both")
	settle   = flag.Duration("settle", 2*time.Second, "Ignore errors during this warm-up")
	verbose  = flag.Bool("v", false, "Log pipeline events")
)

type result struct {
	mode    string
	samples int
	maxErr  float64
	meanErr float64
	ratio   float64
	state   string
}

func main() {
	flag.Parse()
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	var modes []string
	switch *mode {
	case "both":
		modes = []string{"discon", "resample"}
	case "discon", "resample":
		modes = []string{*mode}
	default:
		log.Fatalf("unknown mode %q", *mode)
	}

	fmt.Println("=== Sync Simulation ===")
	fmt.Printf("Device skew %+.3f%%, %v per mode\n\n", *skew*100, *duration)

	for _, m := range modes {
		r, err := simulate(m)
		if err != nil {
			log.Fatalf("%s: %v", m, err)
		}
		fmt.Printf("%-9s state=%-9s samples=%-4d max=%6.2fms mean=%6.2fms ratio=%.5f\n",
			r.mode, r.state, r.samples, r.maxErr, r.meanErr, r.ratio)
	}
}

func simulate(name string) (result, error) {
	logger := logging.Discard()
	if *verbose {
		l, _, err := logging.New(logging.Options{Level: "debug", Output: os.Stderr})
		if err != nil {
			return result{}, err
		}
		logger = l
	}

	settings := engine.DefaultSettings()
	settings.Device = "null"
	settings.UseDisplayAsClock = name == "resample"

	start := time.Now()
	var (
		mu  sync.Mutex
		res = result{mode: name}
		sum float64
	)
	p, err := app.New(app.Config{
		Settings: settings,
		Logger:   logger,
		EngineOptions: []engine.Option{
			engine.WithDeviceFactory(func(string) (output.Device, error) {
				return output.NewNull(output.WithRateSkew(*skew)), nil
			}),
		},
		StatusInterval: 100 * time.Millisecond,
		OnStatus: func(s status.Status) {
			if s.State == "idle" || time.Since(start) < *settle {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			e := math.Abs(s.SyncErrorMs)
			res.samples++
			sum += e
			res.maxErr = math.Max(res.maxErr, e)
			res.ratio = s.ResampleRatio
			res.state = s.SyncState
		},
	})
	if err != nil {
		return result{}, err
	}
	defer p.Close()

	tone, err := source.NewTone("pcm", 440, 0)
	if err != nil {
		return result{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()
	if err := p.Play(ctx, tone); err != nil {
		return result{}, err
	}

	mu.Lock()
	defer mu.Unlock()
	if res.samples > 0 {
		res.meanErr = sum / float64(res.samples)
	}
	return res, nil
}
