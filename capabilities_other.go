//go:build !linux

package niocoro

import (
	"fmt"
	"runtime"
)

// Capabilities reports host OS/kernel features niocoro can exploit. The
// EPOLLEXCLUSIVE edge-triggered probe only applies on Linux; other
// platforms report it unsupported rather than guessing.
type CapabilityReport struct {
	KernelVersion               string
	EdgeTriggeredEPollExclusive bool
}

func probeCapabilities() (CapabilityReport, error) {
	return CapabilityReport{KernelVersion: fmt.Sprintf("%s (non-linux)", runtime.GOOS)}, nil
}
