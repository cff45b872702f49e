//go:build linux

package niocoro

import (
	"bytes"
	"fmt"

	"golang.org/x/sys/unix"
)

// Capabilities reports host OS/kernel features niocoro can exploit, rather
// than silently degrading when one is missing. Grounded on
// open-coroutine-core/src/version.rs's current_kernel_version/support: that
// code probes for kernel >= 5.6 via a cgo linux_version_code() call; this
// probes the same threshold with golang.org/x/sys/unix.Uname, no cgo shim
// required.
type CapabilityReport struct {
	// KernelVersion is "major.patchlevel.sublevel", e.g. "5.15.0".
	KernelVersion string
	// EdgeTriggeredEPollExclusive is true if the kernel is new enough
	// (>=5.6, matching version.rs's support() threshold) for
	// EPOLLEXCLUSIVE with edge-triggered registration to behave
	// correctly. ioloop's Linux poller registers edge-triggered but does
	// not request EPOLLEXCLUSIVE, so the flag is informational only.
	EdgeTriggeredEPollExclusive bool
}

func probeCapabilities() (CapabilityReport, error) {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return CapabilityReport{}, fmt.Errorf("niocoro: uname: %w", err)
	}

	release := uts.Release[:bytes.IndexByte(uts.Release[:], 0)]
	var major, patch, sub int
	if _, err := fmt.Sscanf(string(release), "%d.%d.%d", &major, &patch, &sub); err != nil {
		// Non-numeric release string (unusual, but not fatal): report the
		// raw string and assume the feature is unsupported.
		return CapabilityReport{KernelVersion: string(release)}, nil
	}

	supported := kernelVersionCode(major, patch, sub) >= kernelVersionCode(5, 6, 0)
	return CapabilityReport{
		KernelVersion:               fmt.Sprintf("%d.%d.%d", major, patch, sub),
		EdgeTriggeredEPollExclusive: supported,
	}, nil
}

// kernelVersionCode mirrors version.rs's kernel_version(major, patchlevel,
// sublevel) packing, clamping sublevel to 255.
func kernelVersionCode(major, patchlevel, sublevel int) int {
	if sublevel > 255 {
		sublevel = 255
	}
	return (major << 16) + (patchlevel << 8) + sublevel
}
