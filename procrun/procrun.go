// CLAUDE:SUMMARY Runs external converters/OCR binaries under wall-clock, CPU-time and address-space limits.
// Package procrun executes external tools (office suite, OCR engine, page
// rasterizer) with bounded resources and classifies how they ended.
//
// The wall-clock timeout is always enforced. CPU-time and memory ceilings are
// applied through a ResourceLimiter, which is a no-op where the platform has
// no per-process limits or when limiting is disabled. On Linux the limits are
// set by a re-exec of the current binary before the target runs, so main
// must call Init first.
//
// Usage:
//
//	procrun.Init() // first line of main
//	r := procrun.New(procrun.Config{})
//	res, err := r.Run(ctx, procrun.Command{
//		Name: "tesseract", Args: []string{in, "stdout"},
//		Timeout: 30 * time.Second, MemoryLimit: 512 << 20,
//	})
package procrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

var (
	// ErrTimeout is returned when the wall-clock or CPU-time budget ran out.
	ErrTimeout = errors.New("procrun: process timed out")

	// ErrMemoryExceeded is returned when the process was killed for memory.
	ErrMemoryExceeded = errors.New("procrun: process exceeded its memory limit")

	// ErrProcess is wrapped by every ProcessError.
	ErrProcess = errors.New("procrun: process failed")
)

// oomExitCode is the shell convention for a SIGKILLed child (128+9).
const oomExitCode = 137

// ProcessError carries the exit status and captured stderr of a failed run.
type ProcessError struct {
	Name     string
	ExitCode int
	Stderr   string
}

func (e *ProcessError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if len(msg) > 512 {
		msg = msg[:512]
	}
	return fmt.Sprintf("procrun: %s exited with code %d: %s", e.Name, e.ExitCode, msg)
}

func (e *ProcessError) Unwrap() error { return ErrProcess }

// Command describes one invocation.
type Command struct {
	Name        string
	Args        []string
	Dir         string
	Timeout     time.Duration
	MemoryLimit int64 // bytes; 0 = no memory ceiling
}

// Result is the captured output of a successful run.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Duration time.Duration
}

// Runner runs commands. Implemented by *Exec; tests substitute fakes.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// Config configures an Exec runner.
type Config struct {
	// Limiter applies CPU and memory ceilings. Default: PlatformLimiter().
	Limiter ResourceLimiter

	// DisableLimits skips CPU and memory ceilings; the timeout still applies.
	DisableLimits bool

	// DefaultTimeout is used when Command.Timeout is zero. Default: 30s.
	DefaultTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Limiter == nil {
		c.Limiter = PlatformLimiter()
	}
	if c.DisableLimits {
		c.Limiter = NopLimiter{}
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Exec is the os/exec backed Runner.
type Exec struct {
	cfg Config
}

// New creates an Exec runner.
func New(cfg Config) *Exec {
	cfg.defaults()
	return &Exec{cfg: cfg}
}

// Run prepares the resource limits, starts cmd and waits for it. When
// limits are enabled and cannot be prepared the command is not started.
func (e *Exec) Run(ctx context.Context, c Command) (*Result, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = e.cfg.DefaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	// Give the child a chance to flush on cancel before SIGKILL.
	cmd.WaitDelay = 2 * time.Second

	log := e.cfg.Logger.With("cmd", c.Name)

	if c.MemoryLimit > 0 && cmd.Err == nil {
		lim := Limits{
			MemoryBytes: c.MemoryLimit,
			CPUSeconds:  int64(2 * timeout / time.Second),
		}
		if err := e.cfg.Limiter.Prepare(cmd, lim); err != nil {
			log.Error("procrun: resource limits not applied", "error", err)
			if !errors.Is(err, ErrLimits) {
				err = fmt.Errorf("%w: %v", ErrLimits, err)
			}
			return nil, err
		}
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("procrun: start %s: %w", c.Name, err)
	}

	waitErr := cmd.Wait()
	res := &Result{
		Stdout:   stdout.Bytes(),
		Stderr:   stderr.Bytes(),
		Duration: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	err := classify(runCtx, ctx, c.Name, cmd.ProcessState, waitErr, stderr.String())
	var pe *ProcessError
	if errors.As(err, &pe) && pe.ExitCode == shimExitCode && strings.HasPrefix(pe.Stderr, "procrun: limited exec") {
		err = fmt.Errorf("%w: %s", ErrLimits, strings.TrimSpace(pe.Stderr))
	}
	if err != nil {
		log.Warn("procrun: run failed", "duration", res.Duration, "error", err)
		return res, err
	}
	log.Debug("procrun: run ok", "duration", res.Duration)
	return res, nil
}

// classify maps how the process ended onto the package errors.
// A deadline on our own context always wins over the exit status, since the
// deadline kill is indistinguishable from an OOM kill by signal alone.
func classify(runCtx, parent context.Context, name string, st processState, waitErr error, stderr string) error {
	if waitErr == nil {
		return nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", ErrTimeout, name)
	}
	if err := parent.Err(); err != nil {
		return fmt.Errorf("procrun: %s: %w", name, err)
	}
	if st == nil {
		return fmt.Errorf("procrun: wait %s: %w", name, waitErr)
	}

	if sig, ok := signalOf(st); ok {
		switch sig {
		case syscall.SIGKILL:
			return fmt.Errorf("%w: %s killed", ErrMemoryExceeded, name)
		case sigXCPU:
			return fmt.Errorf("%w: %s cpu limit", ErrTimeout, name)
		}
	}
	if st.ExitCode() == oomExitCode {
		return fmt.Errorf("%w: %s exit %d", ErrMemoryExceeded, name, oomExitCode)
	}
	return &ProcessError{Name: name, ExitCode: st.ExitCode(), Stderr: stderr}
}

// processState is the subset of *os.ProcessState used by classify.
type processState interface {
	ExitCode() int
	Sys() any
}

func signalOf(st processState) (syscall.Signal, bool) {
	ws, ok := st.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return 0, false
	}
	return ws.Signal(), true
}

// Available reports whether name resolves on PATH.
func Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
