// ABOUTME: Build and product identification
// ABOUTME: Version is overridden at link time with -ldflags -X
package version

import (
	"fmt"
	"runtime"
)

// Version is the release; set with -ldflags "-X .../internal/version.Version=1.2.3".
var Version = "0.3.0"

const (
	// Product is reported by the CLI, mDNS records and the monitor.
	Product = "audiopipe"
	// Manufacturer is reported alongside Product.
	Manufacturer = "Resonate"
)

// String returns a one-line description for version output.
func String() string {
	return fmt.Sprintf("%s %s (%s, %s/%s)", Product, Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
