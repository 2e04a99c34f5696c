package procrun

import "os/exec"

// Limits are the ceilings applied to one child process.
type Limits struct {
	MemoryBytes int64 // address space and data segment
	CPUSeconds  int64
}

// ResourceLimiter arranges for Limits to be in force when the target binary
// of cmd starts executing. Prepare runs before cmd.Start.
type ResourceLimiter interface {
	Prepare(cmd *exec.Cmd, lim Limits) error
}

// NopLimiter applies nothing. Used where the platform has no per-process
// limits and when limiting is disabled.
type NopLimiter struct{}

func (NopLimiter) Prepare(*exec.Cmd, Limits) error { return nil }
