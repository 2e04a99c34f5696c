//go:build linux

package procrun

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

const sigXCPU = syscall.SIGXCPU

// RlimitLimiter starts the child as a re-exec of the current binary which
// sets RLIMIT_AS, RLIMIT_DATA and RLIMIT_CPU on itself and then execs the
// target, so the ceilings hold from the target's first instruction. The
// binary must call Init at the top of main.
type RlimitLimiter struct{}

func (RlimitLimiter) Prepare(cmd *exec.Cmd, lim Limits) error {
	if lim.MemoryBytes <= 0 {
		return nil
	}
	if !shimReady.Load() {
		return fmt.Errorf("%w: procrun.Init was not called", ErrLimits)
	}
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLimits, err)
	}
	env := cmd.Env
	if env == nil {
		env = os.Environ()
	}
	cmd.Env = append(env, envLimits+"="+formatLimits(lim), envTarget+"="+cmd.Path)
	cmd.Path = self
	return nil
}

// execLimited runs in the shim. Memory is lowered last and exec follows at
// once, so the shim itself allocates nothing under the new ceiling.
func execLimited(target string, argv, env []string, lim Limits) error {
	if target == "" {
		return fmt.Errorf("no target binary")
	}
	if lim.CPUSeconds > 0 {
		cpu := &unix.Rlimit{Cur: uint64(lim.CPUSeconds), Max: uint64(lim.CPUSeconds)}
		if err := unix.Setrlimit(unix.RLIMIT_CPU, cpu); err != nil {
			return fmt.Errorf("setrlimit cpu: %w", err)
		}
	}
	if lim.MemoryBytes > 0 {
		mem := &unix.Rlimit{Cur: uint64(lim.MemoryBytes), Max: uint64(lim.MemoryBytes)}
		for _, res := range []int{unix.RLIMIT_DATA, unix.RLIMIT_AS} {
			if err := unix.Setrlimit(res, mem); err != nil {
				return fmt.Errorf("setrlimit memory: %w", err)
			}
		}
	}
	return unix.Exec(target, argv, env)
}

// PlatformLimiter returns the rlimit-based limiter.
func PlatformLimiter() ResourceLimiter { return RlimitLimiter{} }
