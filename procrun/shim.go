package procrun

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
)

// Environment handed from the runner to its re-executed shim.
const (
	envLimits = "PROCRUN_LIMITS" // "<memory bytes>,<cpu seconds>"
	envTarget = "PROCRUN_TARGET" // resolved path of the real binary
)

// shimExitCode is returned by a shim that could not set the limits or exec
// the target; the target never ran.
const shimExitCode = 126

// ErrLimits is returned when limits are enabled but cannot be put in place
// before the child executes. The child is not started.
var ErrLimits = errors.New("procrun: resource limits unavailable")

var shimReady atomic.Bool

// Init must be the first call in main of any binary that runs commands with
// resource limits. In the parent it enables the limiter. In a child started
// by the limiter it sets the rlimits and execs the real binary; it does not
// return there.
func Init() {
	spec, ok := os.LookupEnv(envLimits)
	if !ok {
		shimReady.Store(true)
		return
	}
	target := os.Getenv(envTarget)
	os.Unsetenv(envLimits)
	os.Unsetenv(envTarget)
	lim, err := parseLimits(spec)
	if err == nil {
		err = execLimited(target, os.Args, os.Environ(), lim)
	}
	fmt.Fprintf(os.Stderr, "procrun: limited exec of %s: %v\n", target, err)
	os.Exit(shimExitCode)
}

func formatLimits(lim Limits) string {
	return strconv.FormatInt(lim.MemoryBytes, 10) + "," + strconv.FormatInt(lim.CPUSeconds, 10)
}

func parseLimits(spec string) (Limits, error) {
	mem, cpu, ok := strings.Cut(spec, ",")
	if !ok {
		return Limits{}, fmt.Errorf("malformed limits %q", spec)
	}
	var lim Limits
	var err error
	if lim.MemoryBytes, err = strconv.ParseInt(mem, 10, 64); err != nil {
		return Limits{}, fmt.Errorf("memory limit: %w", err)
	}
	if lim.CPUSeconds, err = strconv.ParseInt(cpu, 10, 64); err != nil {
		return Limits{}, fmt.Errorf("cpu limit: %w", err)
	}
	return lim, nil
}
