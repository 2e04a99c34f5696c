//go:build !linux

package procrun

import (
	"errors"
	"syscall"
)

// SIGXCPU is 24 on every unix that defines it; this value is never produced
// on platforms without rlimits.
const sigXCPU = syscall.Signal(24)

// PlatformLimiter returns NopLimiter: no per-process limits are available.
func PlatformLimiter() ResourceLimiter { return NopLimiter{} }

func execLimited(string, []string, []string, Limits) error {
	return errors.New("rlimits are not supported on this platform")
}
