package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"nextgen/internal/sandbox/result"
	"nextgen/internal/sandbox/spec"
	"nextgen/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultStdoutStderrMaxBytes int64 = 64 * 1024
	defaultWaitDelay                  = 500 * time.Millisecond
)

// Engine executes a RunSpec as a direct child process.
type Engine interface {
	Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error)
}

type processEngine struct {
	cfg Config
	// cgroupRoot is empty when per-run cgroups are unusable on this host.
	cgroupRoot   string
	pidNamespace atomic.Bool
}

// NewEngine creates a process engine.
func NewEngine(cfg Config) (Engine, error) {
	if cfg.DefaultMaxOutputBytes <= 0 {
		cfg.DefaultMaxOutputBytes = defaultStdoutStderrMaxBytes
	}
	if cfg.WaitDelay <= 0 {
		cfg.WaitDelay = defaultWaitDelay
	}
	e := &processEngine{cfg: cfg}
	e.cgroupRoot = prepareCgroupRoot(cfg.CgroupRoot)
	e.pidNamespace.Store(cfg.PIDNamespace)
	return e, nil
}

func (e *processEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return result.RunResult{}, err
	}

	outputLimit := runSpec.Limits.MaxOutputBytes
	if outputLimit <= 0 {
		outputLimit = e.cfg.DefaultMaxOutputBytes
	}

	limitHit := make(chan struct{})
	var limitOnce sync.Once
	onLimit := func() {
		limitOnce.Do(func() { close(limitHit) })
	}
	if !e.cfg.KillOnOutputLimit || runSpec.KeepOnOutputLimit {
		onLimit = nil
	}
	stdout := newCappedBuffer(outputLimit, onLimit)
	stderr := newCappedBuffer(outputLimit, onLimit)

	build := func(attr *syscall.SysProcAttr) *exec.Cmd {
		cmd := exec.Command(runSpec.Cmd[0], runSpec.Cmd[1:]...)
		cmd.Dir = runSpec.WorkDir
		// A non-nil empty Env keeps the service environment out of the child.
		cmd.Env = append([]string{}, runSpec.Env...)
		if len(runSpec.Stdin) > 0 {
			cmd.Stdin = bytes.NewReader(runSpec.Stdin)
		}
		cmd.Stdout = stdout
		cmd.Stderr = stderr
		cmd.SysProcAttr = attr
		cmd.WaitDelay = e.cfg.WaitDelay
		return cmd
	}

	start := time.Now()
	tree, cmd, err := e.start(ctx, runSpec, build)
	if err != nil {
		return result.RunResult{}, fmt.Errorf("start %s process: %w", runSpec.Phase, err)
	}
	defer tree.release(ctx)

	if e.cfg.EnableRlimits {
		if err := applyRlimits(cmd.Process.Pid, runSpec.Limits); err != nil {
			logger.Warn(ctx, "apply rlimits failed", zap.String("phase", runSpec.Phase), zap.Error(err))
		}
	}

	var timedOut, outputLimited, canceled atomic.Bool
	done := make(chan struct{})
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		var wallTimer <-chan time.Time
		if runSpec.Limits.WallTime > 0 {
			timer := time.NewTimer(runSpec.Limits.WallTime)
			defer timer.Stop()
			wallTimer = timer.C
		}
		select {
		case <-ctx.Done():
			canceled.Store(true)
			tree.kill()
		case <-wallTimer:
			timedOut.Store(true)
			tree.kill()
		case <-limitHit:
			outputLimited.Store(true)
			tree.kill()
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)
	<-watchDone
	// Sweep stragglers that outlived the direct child.
	tree.kill()

	runResult := result.RunResult{
		ExitCode:        exitCodeFromErr(waitErr, cmd.ProcessState),
		TimeMs:          cpuTimeMs(cmd.ProcessState),
		WallTimeMs:      time.Since(start).Milliseconds(),
		MemoryKB:        tree.peakMemoryKB(cmd.ProcessState),
		Stdout:          stdout.String(),
		Stderr:          stderr.String(),
		StdoutTruncated: stdout.Truncated(),
		StderrTruncated: stderr.Truncated(),
		TimedOut:        timedOut.Load(),
		OutputLimited:   outputLimited.Load(),
		Canceled:        canceled.Load(),
		Isolation:       tree.isolation(),
	}
	if runResult.TimedOut && runResult.ExitCode == 0 {
		runResult.ExitCode = -1
	}
	if waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay) {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return runResult, fmt.Errorf("wait %s process: %w", runSpec.Phase, waitErr)
		}
	}
	return runResult, nil
}

func exitCodeFromErr(err error, state *os.ProcessState) int {
	if state != nil {
		return state.ExitCode()
	}
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func cpuTimeMs(state *os.ProcessState) int64 {
	if state == nil {
		return 0
	}
	return (state.UserTime() + state.SystemTime()).Milliseconds()
}

func validateRunSpec(runSpec spec.RunSpec) error {
	if runSpec.JobID == "" {
		return fmt.Errorf("job id is required")
	}
	if runSpec.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if len(runSpec.Cmd) == 0 || runSpec.Cmd[0] == "" {
		return fmt.Errorf("command is required")
	}
	return nil
}
