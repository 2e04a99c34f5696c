package procrun

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestMain(m *testing.M) {
	Init()
	os.Exit(m.Run())
}

func needShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not on PATH")
	}
}

func sh(script string, timeout time.Duration) Command {
	return Command{Name: "sh", Args: []string{"-c", script}, Timeout: timeout}
}

type recordingLimiter struct {
	mu    sync.Mutex
	calls []Limits
}

func (r *recordingLimiter) Prepare(_ *exec.Cmd, lim Limits) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, lim)
	return nil
}

type failingLimiter struct{}

func (failingLimiter) Prepare(*exec.Cmd, Limits) error { return errors.New("limits unsupported") }

func TestRun_Success(t *testing.T) {
	needShell(t)
	r := New(Config{DisableLimits: true})
	res, err := r.Run(context.Background(), sh("echo hello; echo oops >&2", 5*time.Second))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(string(res.Stdout)) != "hello" {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(string(res.Stderr)) != "oops" {
		t.Errorf("stderr = %q", res.Stderr)
	}
	if res.ExitCode != 0 {
		t.Errorf("exit = %d", res.ExitCode)
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	needShell(t)
	r := New(Config{DisableLimits: true})
	_, err := r.Run(context.Background(), sh("echo broken input >&2; exit 3", 5*time.Second))
	var pe *ProcessError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ProcessError", err)
	}
	if pe.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", pe.ExitCode)
	}
	if !strings.Contains(pe.Stderr, "broken input") {
		t.Errorf("Stderr = %q", pe.Stderr)
	}
	if !errors.Is(err, ErrProcess) {
		t.Error("ProcessError does not wrap ErrProcess")
	}
}

func TestRun_Exit137IsMemory(t *testing.T) {
	needShell(t)
	r := New(Config{DisableLimits: true})
	_, err := r.Run(context.Background(), sh("exit 137", 5*time.Second))
	if !errors.Is(err, ErrMemoryExceeded) {
		t.Fatalf("err = %v, want ErrMemoryExceeded", err)
	}
}

func TestRun_SIGKILLIsMemory(t *testing.T) {
	// WHAT: A child killed by SIGKILL that we did not send is a memory kill.
	// WHY: The kernel OOM killer and the address-space limit both end in SIGKILL.
	needShell(t)
	r := New(Config{DisableLimits: true})
	_, err := r.Run(context.Background(), sh("kill -9 $$", 5*time.Second))
	if !errors.Is(err, ErrMemoryExceeded) {
		t.Fatalf("err = %v, want ErrMemoryExceeded", err)
	}
}

func TestRun_SIGXCPUIsTimeout(t *testing.T) {
	needShell(t)
	if runtime.GOOS != "linux" {
		t.Skip("SIGXCPU classification is linux-only")
	}
	r := New(Config{DisableLimits: true})
	_, err := r.Run(context.Background(), sh("kill -XCPU $$", 5*time.Second))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestRun_Timeout(t *testing.T) {
	// WHAT: Our own deadline kill is reported as a timeout, not a memory kill.
	// WHY: exec.CommandContext kills with SIGKILL, which would otherwise look like OOM.
	needShell(t)
	r := New(Config{DisableLimits: true})
	start := time.Now()
	_, err := r.Run(context.Background(), sh("sleep 10", 200*time.Millisecond))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if errors.Is(err, ErrMemoryExceeded) {
		t.Error("timeout also classified as memory")
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("took %v, deadline not enforced", time.Since(start))
	}
}

func TestRun_ParentCancel(t *testing.T) {
	needShell(t)
	r := New(Config{DisableLimits: true})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	_, err := r.Run(ctx, sh("sleep 10", 10*time.Second))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestRun_StartFailure(t *testing.T) {
	r := New(Config{DisableLimits: true})
	_, err := r.Run(context.Background(), Command{Name: "definitely-not-a-real-binary-xyz"})
	if err == nil {
		t.Fatal("expected error")
	}
	var pe *ProcessError
	if errors.As(err, &pe) {
		t.Error("start failure reported as ProcessError")
	}
}

func TestRun_LimiterReceivesCPUTwiceTimeout(t *testing.T) {
	needShell(t)
	lim := &recordingLimiter{}
	r := New(Config{Limiter: lim})
	cmd := sh("true", 4*time.Second)
	cmd.MemoryLimit = 256 << 20
	if _, err := r.Run(context.Background(), cmd); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(lim.calls) != 1 {
		t.Fatalf("limiter calls = %d, want 1", len(lim.calls))
	}
	got := lim.calls[0]
	if got.MemoryBytes != 256<<20 || got.CPUSeconds != 8 {
		t.Errorf("limits = %+v, want mem=%d cpu=8", got, 256<<20)
	}
}

func TestRun_DisableLimitsSkipsLimiter(t *testing.T) {
	needShell(t)
	lim := &recordingLimiter{}
	r := New(Config{Limiter: lim, DisableLimits: true})
	cmd := sh("true", time.Second)
	cmd.MemoryLimit = 1 << 30
	if _, err := r.Run(context.Background(), cmd); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(lim.calls) != 0 {
		t.Errorf("limiter called %d times with limits disabled", len(lim.calls))
	}
}

func TestProcessError_TruncatesStderr(t *testing.T) {
	pe := &ProcessError{Name: "x", ExitCode: 1, Stderr: strings.Repeat("e", 2000)}
	if len(pe.Error()) > 600 {
		t.Errorf("error message length %d", len(pe.Error()))
	}
}

func TestRun_LimitsInPlaceAtExec(t *testing.T) {
	// WHAT: The child sees its memory and CPU ceilings from its first instruction.
	// WHY: Limits set after Start leave a window where the tool runs unbounded.
	needShell(t)
	if runtime.GOOS != "linux" {
		t.Skip("rlimits are linux-only")
	}
	r := New(Config{})
	cmd := sh("ulimit -v; ulimit -t", 3*time.Second)
	cmd.MemoryLimit = 256 << 20
	res, err := r.Run(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	lines := strings.Fields(string(res.Stdout))
	if len(lines) != 2 {
		t.Fatalf("stdout = %q", res.Stdout)
	}
	if lines[0] != "262144" {
		t.Errorf("virtual memory limit = %s KiB, want 262144", lines[0])
	}
	if lines[1] != "6" {
		t.Errorf("cpu limit = %s s, want 6", lines[1])
	}
}

func TestRun_LimitFailureDoesNotStart(t *testing.T) {
	// WHAT: A limiter that cannot prepare the limits keeps the command from running.
	needShell(t)
	marker := t.TempDir() + "/ran"
	r := New(Config{Limiter: failingLimiter{}})
	cmd := sh("touch "+marker, time.Second)
	cmd.MemoryLimit = 64 << 20
	_, err := r.Run(context.Background(), cmd)
	if !errors.Is(err, ErrLimits) {
		t.Fatalf("err = %v, want ErrLimits", err)
	}
	if _, statErr := os.Stat(marker); statErr == nil {
		t.Error("command ran without its limits")
	}
}

func TestParseLimits(t *testing.T) {
	lim := Limits{MemoryBytes: 512 << 20, CPUSeconds: 60}
	got, err := parseLimits(formatLimits(lim))
	if err != nil || got != lim {
		t.Fatalf("round trip = %+v, %v", got, err)
	}
	for _, bad := range []string{"", "12", "x,1", "1,y"} {
		if _, err := parseLimits(bad); err == nil {
			t.Errorf("parseLimits(%q) accepted", bad)
		}
	}
}
